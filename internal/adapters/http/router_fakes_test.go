package httpadapter

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"testing"

	"github.com/kirillkom/qc-inspection/internal/config"
	"github.com/kirillkom/qc-inspection/internal/core/domain"
	"github.com/kirillkom/qc-inspection/internal/core/ports"
	"github.com/kirillkom/qc-inspection/internal/observability/metrics"
)

type uploadsFake struct {
	mu        sync.Mutex
	session   *domain.UploadSession
	err       error
	chunks    []domain.ChunkUploadRequest
	cancelled []string
}

func (f *uploadsFake) Init(_ context.Context, req domain.InitUploadRequest) (*domain.UploadSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.UploadSession{ID: "up-1", FileName: req.FileName, TotalChunks: req.TotalChunks, Status: domain.SessionActive}, nil
}

func (f *uploadsFake) AcceptChunk(_ context.Context, req domain.ChunkUploadRequest) (domain.ChunkCounters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.ChunkCounters{}, f.err
	}
	f.chunks = append(f.chunks, req)
	n := len(req.ChunkData)
	return domain.ChunkCounters{Success: n, Created: n}, nil
}

func (f *uploadsFake) UploadAll(_ context.Context, req domain.SingleUploadRequest) (domain.ChunkCounters, error) {
	if f.err != nil {
		return domain.ChunkCounters{}, f.err
	}
	n := len(req.Rows)
	return domain.ChunkCounters{Success: n, Updated: n}, nil
}

func (f *uploadsFake) Cancel(_ context.Context, uploadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.cancelled = append(f.cancelled, uploadID)
	return nil
}

func (f *uploadsFake) Get(_ context.Context, uploadID string) (*domain.UploadSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.session == nil || f.session.ID != uploadID {
		return nil, domain.WrapError(domain.ErrSessionNotFound, "get session", errors.New("id="+uploadID))
	}
	copied := *f.session
	return &copied, nil
}

type filesFake struct {
	err      error
	lastMode domain.ImportMode
	lastBody []byte
}

func (f *filesFake) Submit(_ context.Context, mode domain.ImportMode, fileName string, body io.Reader) (*domain.UploadSession, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	f.lastMode, f.lastBody = mode, raw
	if f.err != nil {
		return nil, f.err
	}
	return &domain.UploadSession{
		ID:       "imp-1",
		FileName: fileName,
		FileSize: int64(len(raw)),
		Status:   domain.SessionQueued,
		Stage:    domain.StageQueued,
	}, nil
}

func (f *filesFake) Inspect(_ context.Context, mode domain.ImportMode, _ string, body io.Reader) (domain.ValidationResult, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return domain.ValidationResult{}, err
	}
	f.lastMode, f.lastBody = mode, raw
	if f.err != nil {
		return domain.ValidationResult{}, f.err
	}
	return domain.ValidationResult{IsValid: true, RowCount: 3}, nil
}

type progressFake struct {
	events  []domain.ProgressEvent
	mu      sync.Mutex
	stopped int
}

func (f *progressFake) SubscribeProgress(_ context.Context, _ string) (<-chan domain.ProgressEvent, func(), error) {
	ch := make(chan domain.ProgressEvent, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	return ch, func() {
		f.mu.Lock()
		f.stopped++
		f.mu.Unlock()
	}, nil
}

func newTestRouter(cfg config.Config, uploads *uploadsFake, files *filesFake, progress *progressFake) http.Handler {
	if uploads == nil {
		uploads = &uploadsFake{}
	}
	if files == nil {
		files = &filesFake{}
	}
	var subscriber ports.ProgressSubscriber
	if progress != nil {
		subscriber = progress
	}
	return NewRouter(cfg, uploads, files, subscriber, metrics.NewHTTPServerMetrics(serviceName)).Handler()
}

func multipartBody(t *testing.T, field, fileName string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("note", "ignored"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	part, err := writer.CreateFormFile(field, fileName)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}
