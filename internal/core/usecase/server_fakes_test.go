package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/kirillkom/qc-inspection/internal/core/domain"
)

type sessionRepoFake struct {
	mu       sync.Mutex
	sessions map[string]*domain.UploadSession
	chunks   map[string]map[int]domain.ChunkCounters
	stages   []domain.Stage
	stageErr error
	// beforeRecord runs ahead of RecordChunk taking the lock.
	beforeRecord func(id string)
}

func newSessionRepoFake() *sessionRepoFake {
	return &sessionRepoFake{
		sessions: make(map[string]*domain.UploadSession),
		chunks:   make(map[string]map[int]domain.ChunkCounters),
	}
}

func (f *sessionRepoFake) Create(_ context.Context, session *domain.UploadSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *session
	f.sessions[session.ID] = &cp
	return nil
}

func (f *sessionRepoFake) GetByID(_ context.Context, id string) (*domain.UploadSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrSessionNotFound, "get session", fmt.Errorf("id=%s", id))
	}
	cp := *s
	return &cp, nil
}

func (f *sessionRepoFake) RecordChunk(_ context.Context, id string, chunkIndex int, counters domain.ChunkCounters) (*domain.UploadSession, bool, error) {
	if f.beforeRecord != nil {
		f.beforeRecord(id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, false, domain.ErrSessionNotFound
	}
	if s.Status.Terminal() {
		return nil, false, domain.WrapError(domain.ErrSessionClosed, "record chunk", fmt.Errorf("session %s is %s", id, s.Status))
	}
	if f.chunks[id] == nil {
		f.chunks[id] = make(map[int]domain.ChunkCounters)
	}
	_, seen := f.chunks[id][chunkIndex]
	recorded := !seen
	if recorded {
		f.chunks[id][chunkIndex] = counters
		s.CompletedChunks++
		s.Results = s.Results.Add(counters)
	}
	cp := *s
	return &cp, recorded, nil
}

func (f *sessionRepoFake) RecordedChunk(_ context.Context, id string, chunkIndex int) (domain.ChunkCounters, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chunks[id][chunkIndex]
	return c, ok, nil
}

func (f *sessionRepoFake) UpdateStage(_ context.Context, id string, status domain.SessionStatus, stage domain.Stage, progress int, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stageErr != nil {
		return f.stageErr
	}
	s, ok := f.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if s.Status.Terminal() {
		return domain.WrapError(domain.ErrSessionClosed, "update stage", fmt.Errorf("session %s is %s", id, s.Status))
	}
	s.Status, s.Stage, s.Progress, s.Message = status, stage, progress, message
	f.stages = append(f.stages, stage)
	return nil
}

func (f *sessionRepoFake) SaveResults(_ context.Context, id string, counters domain.ChunkCounters) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	s.Results = counters
	return nil
}

func (f *sessionRepoFake) ExpireStale(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, s := range f.sessions {
		if !s.Status.Terminal() && s.UpdatedAt.Before(before) {
			s.Status = domain.SessionExpired
			n++
		}
	}
	return n, nil
}

func (f *sessionRepoFake) snapshot(id string) domain.UploadSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.sessions[id]
}

// orderRepoFake treats a known final order number as unchanged.
type orderRepoFake struct {
	mu    sync.Mutex
	known map[string]bool
	saved []domain.OrderRow
	err   error
}

func newOrderRepoFake() *orderRepoFake {
	return &orderRepoFake{known: make(map[string]bool)}
}

func (f *orderRepoFake) UpsertOrders(_ context.Context, rows []domain.OrderRow) (domain.ChunkCounters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.ChunkCounters{}, f.err
	}
	var c domain.ChunkCounters
	for _, row := range rows {
		f.saved = append(f.saved, row)
		key := ""
		if row.FinalOrderNumber != nil {
			key = *row.FinalOrderNumber
		}
		if key != "" && f.known[key] {
			c.Skipped++
		} else {
			c.Created++
			f.known[key] = true
		}
		c.Success++
	}
	return c, nil
}

type progressFake struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
}

func (f *progressFake) PublishProgress(_ context.Context, event domain.ProgressEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *progressFake) last() domain.ProgressEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[len(f.events)-1]
}

type storageFake struct {
	files map[string][]byte
	err   error
}

func newStorageFake() *storageFake {
	return &storageFake{files: make(map[string][]byte)}
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.err != nil {
		return f.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.files[key] = raw
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	raw, ok := f.files[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

type queueFake struct {
	published []string
	err       error
}

func (f *queueFake) PublishImportRequested(_ context.Context, uploadID string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, uploadID)
	return nil
}

func (f *queueFake) SubscribeImportRequested(context.Context, func(context.Context, string) error) error {
	return errors.New("not implemented")
}

func strPtr(s string) *string { return &s }
