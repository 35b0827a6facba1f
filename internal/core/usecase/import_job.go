package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/kirillkom/qc-inspection/internal/core/domain"
	"github.com/kirillkom/qc-inspection/internal/core/ports"
	"github.com/kirillkom/qc-inspection/internal/infrastructure/chunking"
)

const (
	parseProgressEnd = 40
	saveProgressEnd  = 99
)

// ImportJobProcessor runs queued file imports: parse the stored workbook,
// then upsert its rows in batches.
type ImportJobProcessor struct {
	sessions ports.UploadSessionRepository
	storage  ports.ObjectStorage
	parser   ports.OrderParser
	orders   ports.OrderRepository
	progress ports.ProgressPublisher
	plan     chunking.Plan
}

func NewImportJobProcessor(
	sessions ports.UploadSessionRepository,
	storage ports.ObjectStorage,
	parser ports.OrderParser,
	orders ports.OrderRepository,
	progress ports.ProgressPublisher,
	plan chunking.Plan,
) *ImportJobProcessor {
	return &ImportJobProcessor{
		sessions: sessions,
		storage:  storage,
		parser:   parser,
		orders:   orders,
		progress: progress,
		plan:     plan,
	}
}

func (uc *ImportJobProcessor) ProcessByID(ctx context.Context, uploadID string) error {
	session, err := uc.sessions.GetByID(ctx, uploadID)
	if err != nil {
		return fmt.Errorf("fetch upload session: %w", err)
	}
	if session.Status.Terminal() {
		slog.Info("import_job_skipped", "upload_id", uploadID, "status", session.Status)
		return nil
	}

	if err := uc.markStage(ctx, session.ID, domain.SessionActive, domain.StageParsing, 0, "parsing workbook"); err != nil {
		return fmt.Errorf("set stage=parsing: %w", err)
	}

	result, counters, err := uc.processPipeline(ctx, session)
	if err != nil {
		if failErr := uc.markFailed(ctx, session.ID, err); failErr != nil {
			return fmt.Errorf("%w; mark failed stage: %v", err, failErr)
		}
		return err
	}

	if err := uc.sessions.SaveResults(ctx, session.ID, counters); err != nil {
		if failErr := uc.markFailed(ctx, session.ID, err); failErr != nil {
			return fmt.Errorf("%w; mark failed stage: %v", err, failErr)
		}
		return fmt.Errorf("save import results: %w", err)
	}

	message := fmt.Sprintf("%d rows imported: %d created, %d updated, %d unchanged, %d failed, %d invalid",
		result.Summary.Total, counters.Created, counters.Updated, counters.Skipped, counters.Fail, result.Summary.Invalid)
	if err := uc.sessions.UpdateStage(ctx, session.ID, domain.SessionCompleted, domain.StageCompleted, 100, message); err != nil {
		return fmt.Errorf("set stage=completed: %w", err)
	}
	publishProgress(ctx, uc.progress, domain.ProgressEvent{
		UploadID: session.ID,
		Stage:    domain.StageCompleted,
		Progress: 100,
		Message:  message,
		Details: map[string]any{
			"results": countersDetails(counters),
			"summary": result.Summary,
		},
	})
	slog.Info("import_job_completed",
		"upload_id", session.ID,
		"total", result.Summary.Total,
		"valid", result.Summary.Valid,
		"invalid", result.Summary.Invalid,
		"created", counters.Created,
		"updated", counters.Updated,
		"skipped", counters.Skipped,
		"fail", counters.Fail,
	)
	return nil
}

func (uc *ImportJobProcessor) processPipeline(ctx context.Context, session *domain.UploadSession) (*domain.ParseResult, domain.ChunkCounters, error) {
	content, err := uc.loadFile(ctx, session)
	if err != nil {
		return nil, domain.ChunkCounters{}, err
	}

	result, err := uc.parse(ctx, session, content)
	if err != nil {
		return nil, domain.ChunkCounters{}, err
	}

	if err := uc.markStage(ctx, session.ID, domain.SessionActive, domain.StageSaving, parseProgressEnd,
		fmt.Sprintf("saving %d rows", len(result.Data))); err != nil {
		return nil, domain.ChunkCounters{}, fmt.Errorf("set stage=saving: %w", err)
	}

	counters, err := uc.save(ctx, session.ID, result.Data)
	if err != nil {
		return nil, domain.ChunkCounters{}, err
	}
	return result, counters, nil
}

func (uc *ImportJobProcessor) loadFile(ctx context.Context, session *domain.UploadSession) ([]byte, error) {
	rc, err := uc.storage.Open(ctx, session.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open stored workbook: %w", err)
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read stored workbook: %w", err)
	}
	return content, nil
}

func (uc *ImportJobProcessor) parse(ctx context.Context, session *domain.UploadSession, content []byte) (*domain.ParseResult, error) {
	file := domain.SpreadsheetFile{Name: session.FileName, Size: int64(len(content)), Content: content}
	result, err := uc.parser.Parse(ctx, file, func(percent int, message string) {
		publishProgress(ctx, uc.progress, domain.ProgressEvent{
			UploadID: session.ID,
			Stage:    domain.StageParsing,
			Progress: percent * parseProgressEnd / 100,
			Message:  message,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("parse workbook: %w", err)
	}
	return result, nil
}

func (uc *ImportJobProcessor) save(ctx context.Context, uploadID string, rows []domain.OrderRow) (domain.ChunkCounters, error) {
	var total domain.ChunkCounters
	totalRows := len(rows)
	processed := 0

	for _, batch := range chunking.Partition(rows, uc.plan.ChunkSize(totalRows)) {
		if err := ctx.Err(); err != nil {
			return domain.ChunkCounters{}, domain.WrapError(domain.ErrCancelled, "save orders", err)
		}
		counters, err := saveOrders(ctx, uc.orders, batch)
		if err != nil {
			return domain.ChunkCounters{}, err
		}
		total = total.Add(counters)
		processed += len(batch)

		done := processed
		publishProgress(ctx, uc.progress, domain.ProgressEvent{
			UploadID:      uploadID,
			Stage:         domain.StageSaving,
			Progress:      parseProgressEnd + processed*(saveProgressEnd-parseProgressEnd)/totalRows,
			Message:       fmt.Sprintf("saved %d/%d rows", processed, totalRows),
			ProcessedRows: &done,
			TotalRows:     &totalRows,
		})
	}
	return total, nil
}

func (uc *ImportJobProcessor) markStage(ctx context.Context, uploadID string, status domain.SessionStatus, stage domain.Stage, progress int, message string) error {
	if err := uc.sessions.UpdateStage(ctx, uploadID, status, stage, progress, message); err != nil {
		return err
	}
	publishProgress(ctx, uc.progress, domain.ProgressEvent{
		UploadID: uploadID,
		Stage:    stage,
		Progress: progress,
		Message:  message,
	})
	return nil
}

func (uc *ImportJobProcessor) markFailed(ctx context.Context, uploadID string, processErr error) error {
	if processErr == nil {
		return nil
	}
	slog.Error("import_job_failed", "upload_id", uploadID, "error", processErr)
	return uc.markStage(ctx, uploadID, domain.SessionFailed, domain.StageError, 0, processErr.Error())
}
