package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/qc-inspection/internal/core/domain"
	"github.com/kirillkom/qc-inspection/internal/core/ports"
	"github.com/kirillkom/qc-inspection/internal/infrastructure/chunking"
	"github.com/kirillkom/qc-inspection/internal/infrastructure/resilience"
)

type UploadConfig struct {
	// SingleShotThreshold is the largest row count sent in one request.
	SingleShotThreshold int
	// MaxRetries is the number of attempts per chunk, including the first.
	MaxRetries     int
	RetryBaseDelay time.Duration
	Plan           chunking.Plan
	CancelTimeout  time.Duration
}

func DefaultUploadConfig() UploadConfig {
	return UploadConfig{
		SingleShotThreshold: 1000,
		MaxRetries:          3,
		RetryBaseDelay:      time.Second,
		Plan:                chunking.DefaultPlan(),
		CancelTimeout:       5 * time.Second,
	}
}

func (c UploadConfig) normalize() UploadConfig {
	def := DefaultUploadConfig()
	if c.SingleShotThreshold < 0 {
		c.SingleShotThreshold = def.SingleShotThreshold
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = def.RetryBaseDelay
	}
	if c.Plan.MaxChunkSize <= 0 || c.Plan.MaxConcurrency <= 0 {
		c.Plan = def.Plan
	}
	if c.CancelTimeout <= 0 {
		c.CancelTimeout = def.CancelTimeout
	}
	return c
}

// UploadCoordinator pushes parsed rows to the upload endpoints. Large
// datasets are split into chunks that upload in sequential batches of
// concurrent requests. A chunk that exhausts its retries fails the whole
// upload; chunks already accepted by the server stay persisted.
type UploadCoordinator struct {
	transport ports.UploadTransport
	cfg       UploadConfig
	executor  *resilience.Executor
}

func NewUploadCoordinator(transport ports.UploadTransport, cfg UploadConfig) *UploadCoordinator {
	cfg = cfg.normalize()
	return &UploadCoordinator{
		transport: transport,
		cfg:       cfg,
		executor:  resilience.NewExecutor(resilience.LinearRetryConfig(cfg.MaxRetries, cfg.RetryBaseDelay)),
	}
}

// Import sends small datasets in a single request and everything else
// through UploadChunks.
func (c *UploadCoordinator) Import(
	ctx context.Context,
	rows []domain.OrderRow,
	fileName string,
	fileSize int64,
	onProgress domain.UploadProgressFunc,
) (*domain.ChunkUploadResult, error) {
	if len(rows) <= c.cfg.SingleShotThreshold {
		return c.uploadSingle(ctx, rows, fileName, fileSize, onProgress)
	}
	return c.UploadChunks(ctx, rows, fileName, fileSize, onProgress)
}

func (c *UploadCoordinator) uploadSingle(
	ctx context.Context,
	rows []domain.OrderRow,
	fileName string,
	fileSize int64,
	onProgress domain.UploadProgressFunc,
) (*domain.ChunkUploadResult, error) {
	notify := uploadProgressOrNoop(onProgress)
	result := &domain.ChunkUploadResult{TotalChunks: 1}

	var counters domain.ChunkCounters
	err := c.executor.Execute(ctx, "upload.single", func(ctx context.Context) error {
		var err error
		counters, err = c.transport.UploadAll(ctx, domain.SingleUploadRequest{
			FileName: fileName,
			FileSize: fileSize,
			Rows:     rows,
		})
		return err
	}, classifyUploadError)
	if err != nil {
		result.Error = err.Error()
		return result, fmt.Errorf("single upload: %w", err)
	}

	result.Success = true
	result.CompletedChunks = 1
	result.Results = counters
	notify(domain.UploadProgress{CompletedChunks: 1, TotalChunks: 1, Progress: 100, Message: fmt.Sprintf("uploaded %d rows", len(rows))})
	return result, nil
}

// UploadChunks runs the chunked protocol: init session, upload batches,
// aggregate per-chunk counters.
func (c *UploadCoordinator) UploadChunks(
	ctx context.Context,
	rows []domain.OrderRow,
	fileName string,
	fileSize int64,
	onProgress domain.UploadProgressFunc,
) (*domain.ChunkUploadResult, error) {
	if len(rows) == 0 {
		return &domain.ChunkUploadResult{Error: "no rows to upload"},
			domain.WrapError(domain.ErrInvalidInput, "upload chunks", errors.New("no rows to upload"))
	}
	notify := uploadProgressOrNoop(onProgress)

	chunkSize := c.cfg.Plan.ChunkSize(len(rows))
	chunks := chunking.Partition(rows, chunkSize)
	session := &domain.ChunkUploadSession{
		TotalChunks: len(chunks),
		ChunkSize:   chunkSize,
		Retries:     make(map[int]int, len(chunks)),
	}

	var initResp domain.InitUploadResponse
	err := c.executor.Execute(ctx, "upload.init", func(ctx context.Context) error {
		var err error
		initResp, err = c.transport.InitUpload(ctx, domain.InitUploadRequest{
			FileName:    fileName,
			FileSize:    fileSize,
			TotalChunks: len(chunks),
			ChunkSize:   chunkSize,
		})
		return err
	}, classifyUploadError)
	if err != nil {
		if ctx.Err() != nil {
			return c.abort(session, ctx.Err())
		}
		return c.fail(session, fmt.Errorf("init upload: %w", err))
	}
	session.UploadID = initResp.UploadID

	width := c.cfg.Plan.Concurrency(len(chunks))
	batches := chunking.Count(len(chunks), width)
	slog.Info("upload_started",
		"upload_id", session.UploadID,
		"rows", len(rows),
		"chunks", len(chunks),
		"chunk_size", chunkSize,
		"concurrency", width,
	)
	notify(c.snapshot(session, fmt.Sprintf("uploading %d rows in %d chunks", len(rows), len(chunks))))

	var mu sync.Mutex
	for batch := 0; batch < batches; batch++ {
		if err := ctx.Err(); err != nil {
			return c.abort(session, err)
		}

		group, groupCtx := errgroup.WithContext(ctx)
		first := batch * width
		for idx := first; idx < min(first+width, len(chunks)); idx++ {
			group.Go(func() error {
				counters, attempts, err := c.uploadChunk(groupCtx, session.UploadID, idx, chunks)

				mu.Lock()
				defer mu.Unlock()
				if attempts > 1 {
					session.Retries[idx] = attempts - 1
				}
				if err != nil {
					return fmt.Errorf("chunk %d: %w", idx, err)
				}
				session.CompletedChunks++
				session.Results = session.Results.Add(counters)
				notify(c.snapshot(session, fmt.Sprintf("chunk %d uploaded", idx+1)))
				return nil
			})
		}

		if err := group.Wait(); err != nil {
			if ctx.Err() != nil {
				return c.abort(session, ctx.Err())
			}
			return c.fail(session, err)
		}

		mu.Lock()
		notify(c.snapshot(session, fmt.Sprintf("batch %d/%d complete: %d/%d chunks", batch+1, batches, session.CompletedChunks, session.TotalChunks)))
		mu.Unlock()
	}

	slog.Info("upload_completed",
		"upload_id", session.UploadID,
		"chunks", session.TotalChunks,
		"created", session.Results.Created,
		"updated", session.Results.Updated,
		"skipped", session.Results.Skipped,
		"fail", session.Results.Fail,
	)
	return &domain.ChunkUploadResult{
		Success:         true,
		UploadID:        session.UploadID,
		TotalChunks:     session.TotalChunks,
		CompletedChunks: session.CompletedChunks,
		Results:         session.Results,
	}, nil
}

func (c *UploadCoordinator) uploadChunk(ctx context.Context, uploadID string, idx int, chunks [][]domain.OrderRow) (domain.ChunkCounters, int, error) {
	attempts := 0
	var counters domain.ChunkCounters
	err := c.executor.Execute(ctx, "upload.chunk", func(ctx context.Context) error {
		attempts++
		var err error
		counters, err = c.transport.UploadChunk(ctx, domain.ChunkUploadRequest{
			UploadID:    uploadID,
			ChunkIndex:  idx,
			TotalChunks: len(chunks),
			ChunkData:   chunks[idx],
			IsLastChunk: idx == len(chunks)-1,
		})
		return err
	}, classifyUploadError)
	return counters, attempts, err
}

func (c *UploadCoordinator) snapshot(session *domain.ChunkUploadSession, message string) domain.UploadProgress {
	progress := 0
	if session.TotalChunks > 0 {
		progress = session.CompletedChunks * 100 / session.TotalChunks
	}
	return domain.UploadProgress{
		UploadID:        session.UploadID,
		CompletedChunks: session.CompletedChunks,
		TotalChunks:     session.TotalChunks,
		Progress:        progress,
		Message:         message,
	}
}

// fail ends the session after an unrecoverable chunk. Counters of chunks
// that already succeeded are reported, but the upload is not a success.
func (c *UploadCoordinator) fail(session *domain.ChunkUploadSession, err error) (*domain.ChunkUploadResult, error) {
	slog.Error("upload_failed",
		"upload_id", session.UploadID,
		"completed_chunks", session.CompletedChunks,
		"total_chunks", session.TotalChunks,
		"error", err,
	)
	return &domain.ChunkUploadResult{
		Success:         false,
		UploadID:        session.UploadID,
		TotalChunks:     session.TotalChunks,
		CompletedChunks: session.CompletedChunks,
		Results:         session.Results,
		Error:           err.Error(),
	}, domain.WrapError(domain.ErrUploadIncomplete, "upload chunks", err)
}

// abort handles caller cancellation. The server is told to close the
// session; rows from completed chunks are not rolled back.
func (c *UploadCoordinator) abort(session *domain.ChunkUploadSession, cause error) (*domain.ChunkUploadResult, error) {
	session.Cancelled = true
	if session.UploadID != "" {
		cancelCtx, cancel := context.WithTimeout(context.Background(), c.cfg.CancelTimeout)
		if err := c.transport.CancelUpload(cancelCtx, session.UploadID); err != nil {
			slog.Warn("upload_cancel_notify_failed", "upload_id", session.UploadID, "error", err)
		}
		cancel()
	}
	slog.Warn("upload_cancelled",
		"upload_id", session.UploadID,
		"completed_chunks", session.CompletedChunks,
		"total_chunks", session.TotalChunks,
	)
	return &domain.ChunkUploadResult{
		Success:         false,
		UploadID:        session.UploadID,
		TotalChunks:     session.TotalChunks,
		CompletedChunks: session.CompletedChunks,
		Results:         session.Results,
		Error:           "upload cancelled",
	}, domain.WrapError(domain.ErrCancelled, "upload chunks", cause)
}

func classifyUploadError(err error) resilience.ErrorClassification {
	if errors.Is(err, context.Canceled) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
}

func uploadProgressOrNoop(fn domain.UploadProgressFunc) domain.UploadProgressFunc {
	if fn == nil {
		return func(domain.UploadProgress) {}
	}
	return fn
}
