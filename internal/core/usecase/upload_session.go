package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/qc-inspection/internal/core/domain"
	"github.com/kirillkom/qc-inspection/internal/core/ports"
)

// MaxChunkRows bounds the rows accepted in one chunk or single-shot request.
const MaxChunkRows = 10000

type UploadSessionService struct {
	sessions ports.UploadSessionRepository
	orders   ports.OrderRepository
	progress ports.ProgressPublisher
	now      func() time.Time
}

func NewUploadSessionService(
	sessions ports.UploadSessionRepository,
	orders ports.OrderRepository,
	progress ports.ProgressPublisher,
) *UploadSessionService {
	return &UploadSessionService{
		sessions: sessions,
		orders:   orders,
		progress: progress,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (uc *UploadSessionService) Init(ctx context.Context, req domain.InitUploadRequest) (*domain.UploadSession, error) {
	fileName := strings.TrimSpace(req.FileName)
	switch {
	case fileName == "":
		return nil, domain.WrapError(domain.ErrInvalidInput, "init upload", errors.New("fileName is required"))
	case req.TotalChunks <= 0:
		return nil, domain.WrapError(domain.ErrInvalidInput, "init upload", errors.New("totalChunks must be positive"))
	case req.ChunkSize <= 0 || req.ChunkSize > MaxChunkRows:
		return nil, domain.WrapError(domain.ErrInvalidInput, "init upload", fmt.Errorf("chunkSize must be between 1 and %d", MaxChunkRows))
	}

	now := uc.now()
	session := &domain.UploadSession{
		ID:          uuid.NewString(),
		FileName:    fileName,
		FileSize:    req.FileSize,
		TotalChunks: req.TotalChunks,
		ChunkSize:   req.ChunkSize,
		Status:      domain.SessionActive,
		Stage:       domain.StageUploading,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := uc.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create upload session: %w", err)
	}

	slog.Info("upload_session_started",
		"upload_id", session.ID,
		"file_name", session.FileName,
		"total_chunks", session.TotalChunks,
		"chunk_size", session.ChunkSize,
	)
	uc.publish(ctx, domain.ProgressEvent{
		UploadID: session.ID,
		Stage:    domain.StageUploading,
		Message:  fmt.Sprintf("waiting for %d chunks", session.TotalChunks),
	})
	return session, nil
}

// AcceptChunk persists one chunk. A chunk index that was already recorded
// is upserted again but does not change the session counters. Once the
// session is completed, a recorded chunk is answered with its stored
// counters and nothing is written.
func (uc *UploadSessionService) AcceptChunk(ctx context.Context, req domain.ChunkUploadRequest) (domain.ChunkCounters, error) {
	if strings.TrimSpace(req.UploadID) == "" {
		return domain.ChunkCounters{}, domain.WrapError(domain.ErrInvalidInput, "accept chunk", errors.New("uploadId is required"))
	}
	if len(req.ChunkData) > MaxChunkRows {
		return domain.ChunkCounters{}, domain.WrapError(domain.ErrInvalidInput, "accept chunk", fmt.Errorf("chunk exceeds %d rows", MaxChunkRows))
	}

	session, err := uc.sessions.GetByID(ctx, req.UploadID)
	if err != nil {
		return domain.ChunkCounters{}, fmt.Errorf("load upload session: %w", err)
	}
	if req.ChunkIndex < 0 || req.ChunkIndex >= session.TotalChunks {
		return domain.ChunkCounters{}, domain.WrapError(domain.ErrInvalidInput, "accept chunk",
			fmt.Errorf("chunkIndex %d out of range [0,%d)", req.ChunkIndex, session.TotalChunks))
	}
	if req.TotalChunks != 0 && req.TotalChunks != session.TotalChunks {
		return domain.ChunkCounters{}, domain.WrapError(domain.ErrInvalidInput, "accept chunk",
			fmt.Errorf("totalChunks %d does not match session (%d)", req.TotalChunks, session.TotalChunks))
	}
	if session.Status.Terminal() {
		return uc.replayClosed(ctx, session, req.ChunkIndex)
	}

	counters, err := uc.persistRows(ctx, req.ChunkData)
	if err != nil {
		return domain.ChunkCounters{}, err
	}

	updated, recorded, err := uc.sessions.RecordChunk(ctx, session.ID, req.ChunkIndex, counters)
	if err != nil {
		if domain.IsKind(err, domain.ErrSessionClosed) {
			return uc.reloadAndReplay(ctx, session.ID, req.ChunkIndex)
		}
		return domain.ChunkCounters{}, fmt.Errorf("record chunk: %w", err)
	}
	if !recorded {
		slog.Warn("chunk_replayed", "upload_id", session.ID, "chunk_index", req.ChunkIndex)
	}

	slog.Info("chunk_accepted",
		"upload_id", session.ID,
		"chunk_index", req.ChunkIndex,
		"rows", len(req.ChunkData),
		"created", counters.Created,
		"updated", counters.Updated,
		"skipped", counters.Skipped,
		"fail", counters.Fail,
	)

	progress := updated.CompletedChunks * 100 / updated.TotalChunks
	if updated.CompletedChunks >= updated.TotalChunks {
		if err := uc.complete(ctx, updated); err != nil {
			// A replay can lose the completion race to the chunk it repeats.
			if !recorded && domain.IsKind(err, domain.ErrSessionClosed) {
				return uc.reloadAndReplay(ctx, session.ID, req.ChunkIndex)
			}
			return domain.ChunkCounters{}, err
		}
		return counters, nil
	}
	uc.publish(ctx, domain.ProgressEvent{
		UploadID: updated.ID,
		Stage:    domain.StageUploading,
		Progress: progress,
		Message:  fmt.Sprintf("%d/%d chunks received", updated.CompletedChunks, updated.TotalChunks),
	})
	return counters, nil
}

// replayClosed answers a chunk sent to a closed session. Only a completed
// session replays, and only for chunk indexes it recorded.
func (uc *UploadSessionService) replayClosed(ctx context.Context, session *domain.UploadSession, chunkIndex int) (domain.ChunkCounters, error) {
	closed := domain.WrapError(domain.ErrSessionClosed, "accept chunk", fmt.Errorf("session %s is %s", session.ID, session.Status))
	if session.Status != domain.SessionCompleted {
		return domain.ChunkCounters{}, closed
	}
	counters, found, err := uc.sessions.RecordedChunk(ctx, session.ID, chunkIndex)
	if err != nil {
		return domain.ChunkCounters{}, fmt.Errorf("load recorded chunk: %w", err)
	}
	if !found {
		return domain.ChunkCounters{}, closed
	}
	slog.Warn("chunk_replayed", "upload_id", session.ID, "chunk_index", chunkIndex, "status", session.Status)
	return counters, nil
}

func (uc *UploadSessionService) reloadAndReplay(ctx context.Context, uploadID string, chunkIndex int) (domain.ChunkCounters, error) {
	session, err := uc.sessions.GetByID(ctx, uploadID)
	if err != nil {
		return domain.ChunkCounters{}, fmt.Errorf("load upload session: %w", err)
	}
	return uc.replayClosed(ctx, session, chunkIndex)
}

func (uc *UploadSessionService) complete(ctx context.Context, session *domain.UploadSession) error {
	message := fmt.Sprintf("%d rows saved: %d created, %d updated, %d unchanged, %d failed",
		session.Results.Rows(), session.Results.Created, session.Results.Updated, session.Results.Skipped, session.Results.Fail)
	if err := uc.sessions.UpdateStage(ctx, session.ID, domain.SessionCompleted, domain.StageCompleted, 100, message); err != nil {
		return fmt.Errorf("complete upload session: %w", err)
	}
	slog.Info("upload_session_completed", "upload_id", session.ID, "rows", session.Results.Rows())
	uc.publish(ctx, domain.ProgressEvent{
		UploadID: session.ID,
		Stage:    domain.StageCompleted,
		Progress: 100,
		Message:  message,
		Details:  countersDetails(session.Results),
	})
	return nil
}

// UploadAll persists a small dataset sent in one request.
func (uc *UploadSessionService) UploadAll(ctx context.Context, req domain.SingleUploadRequest) (domain.ChunkCounters, error) {
	if len(req.Rows) == 0 {
		return domain.ChunkCounters{}, domain.WrapError(domain.ErrInvalidInput, "upload all", errors.New("rows are required"))
	}
	if len(req.Rows) > MaxChunkRows {
		return domain.ChunkCounters{}, domain.WrapError(domain.ErrInvalidInput, "upload all", fmt.Errorf("request exceeds %d rows, use chunked upload", MaxChunkRows))
	}

	counters, err := uc.persistRows(ctx, req.Rows)
	if err != nil {
		return domain.ChunkCounters{}, err
	}
	slog.Info("single_upload_saved",
		"file_name", req.FileName,
		"rows", len(req.Rows),
		"created", counters.Created,
		"updated", counters.Updated,
		"skipped", counters.Skipped,
		"fail", counters.Fail,
	)
	return counters, nil
}

// Cancel closes an active session. Rows from chunks already accepted stay.
func (uc *UploadSessionService) Cancel(ctx context.Context, uploadID string) error {
	session, err := uc.sessions.GetByID(ctx, uploadID)
	if err != nil {
		return fmt.Errorf("load upload session: %w", err)
	}
	if session.Status == domain.SessionCancelled {
		return nil
	}
	if session.Status.Terminal() {
		return domain.WrapError(domain.ErrSessionClosed, "cancel upload", fmt.Errorf("session %s is %s", session.ID, session.Status))
	}

	message := fmt.Sprintf("cancelled after %d/%d chunks", session.CompletedChunks, session.TotalChunks)
	progress := 0
	if session.TotalChunks > 0 {
		progress = session.CompletedChunks * 100 / session.TotalChunks
	}
	if err := uc.sessions.UpdateStage(ctx, session.ID, domain.SessionCancelled, domain.StageCancelled, progress, message); err != nil {
		return fmt.Errorf("cancel upload session: %w", err)
	}
	slog.Info("upload_session_cancelled", "upload_id", session.ID, "completed_chunks", session.CompletedChunks)
	uc.publish(ctx, domain.ProgressEvent{
		UploadID: session.ID,
		Stage:    domain.StageCancelled,
		Progress: progress,
		Message:  message,
	})
	return nil
}

func (uc *UploadSessionService) Get(ctx context.Context, uploadID string) (*domain.UploadSession, error) {
	if strings.TrimSpace(uploadID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get upload", errors.New("uploadId is required"))
	}
	return uc.sessions.GetByID(ctx, uploadID)
}

// persistRows re-checks rows and upserts those that still qualify. Rows
// rejected here count as failures.
func (uc *UploadSessionService) persistRows(ctx context.Context, rows []domain.OrderRow) (domain.ChunkCounters, error) {
	return saveOrders(ctx, uc.orders, rows)
}

func saveOrders(ctx context.Context, orders ports.OrderRepository, rows []domain.OrderRow) (domain.ChunkCounters, error) {
	valid := make([]domain.OrderRow, 0, len(rows))
	rejected := 0
	for _, row := range rows {
		normalizeRow(&row)
		if !row.HasIdentity() {
			rejected++
			continue
		}
		valid = append(valid, row)
	}

	var counters domain.ChunkCounters
	if len(valid) > 0 {
		var err error
		counters, err = orders.UpsertOrders(ctx, valid)
		if err != nil {
			return domain.ChunkCounters{}, fmt.Errorf("upsert orders: %w", err)
		}
	}
	counters.Fail += rejected
	return counters, nil
}

func (uc *UploadSessionService) publish(ctx context.Context, event domain.ProgressEvent) {
	publishProgress(ctx, uc.progress, event)
}

// publishProgress logs publish failures instead of returning them.
func publishProgress(ctx context.Context, publisher ports.ProgressPublisher, event domain.ProgressEvent) {
	if publisher == nil {
		return
	}
	if err := publisher.PublishProgress(ctx, event); err != nil {
		slog.Warn("progress_publish_failed", "upload_id", event.UploadID, "stage", event.Stage, "error", err)
	}
}

func countersDetails(c domain.ChunkCounters) map[string]any {
	return map[string]any{
		"success": c.Success,
		"fail":    c.Fail,
		"created": c.Created,
		"updated": c.Updated,
		"skipped": c.Skipped,
	}
}
