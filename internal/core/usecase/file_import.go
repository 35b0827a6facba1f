package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/qc-inspection/internal/core/domain"
	"github.com/kirillkom/qc-inspection/internal/core/ports"
)

// FileImportService accepts whole workbooks and queues them for parsing by
// the worker.
type FileImportService struct {
	validators map[domain.ImportMode]*FileValidator
	sessions   ports.UploadSessionRepository
	storage    ports.ObjectStorage
	queue      ports.ImportQueue
	progress   ports.ProgressPublisher
}

func NewFileImportService(
	standard, compact *FileValidator,
	sessions ports.UploadSessionRepository,
	storage ports.ObjectStorage,
	queue ports.ImportQueue,
	progress ports.ProgressPublisher,
) *FileImportService {
	return &FileImportService{
		validators: map[domain.ImportMode]*FileValidator{
			domain.ImportModeStandard: standard,
			domain.ImportModeCompact:  compact,
		},
		sessions: sessions,
		storage:  storage,
		queue:    queue,
		progress: progress,
	}
}

func (uc *FileImportService) Submit(
	ctx context.Context,
	mode domain.ImportMode,
	fileName string,
	body io.Reader,
) (*domain.UploadSession, error) {
	validator, err := uc.validator(mode)
	if err != nil {
		return nil, err
	}
	limits := validator.Limits()
	if ext, ok := allowedExtension(fileName, limits.AllowedExtensions); !ok {
		return nil, domain.WrapError(domain.ErrUnsupportedFile, "submit import", fmt.Errorf("extension %q not allowed", ext))
	}

	content, err := readLimited(body, limits.MaxFileSize)
	if err != nil {
		return nil, err
	}

	file := domain.SpreadsheetFile{Name: fileName, Size: int64(len(content)), Content: content}
	result := validator.Validate(ctx, file, nil)
	if !result.IsValid {
		return nil, domain.WrapError(domain.ErrInvalidInput, "validate workbook", errors.New(strings.Join(result.Errors, "; ")))
	}

	id := uuid.NewString()
	storageKey := fmt.Sprintf("%s_%s", id, sanitizeFilename(fileName))
	if err := uc.storage.Save(ctx, storageKey, bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	now := time.Now().UTC()
	session := &domain.UploadSession{
		ID:          id,
		FileName:    fileName,
		FileSize:    file.Size,
		StoragePath: storageKey,
		Status:      domain.SessionQueued,
		Stage:       domain.StageQueued,
		Message:     fmt.Sprintf("%d rows queued for import", result.RowCount),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := uc.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create upload session: %w", err)
	}

	if err := uc.queue.PublishImportRequested(ctx, session.ID); err != nil {
		return nil, fmt.Errorf("publish import job: %w", err)
	}

	slog.Info("import_queued",
		"upload_id", session.ID,
		"mode", mode,
		"file_name", fileName,
		"size_bytes", file.Size,
		"rows", result.RowCount,
	)
	publishProgress(ctx, uc.progress, domain.ProgressEvent{
		UploadID:  session.ID,
		Stage:     domain.StageQueued,
		Message:   session.Message,
		TotalRows: &result.RowCount,
	})
	return session, nil
}

// Inspect validates a workbook without storing it.
func (uc *FileImportService) Inspect(
	ctx context.Context,
	mode domain.ImportMode,
	fileName string,
	body io.Reader,
) (domain.ValidationResult, error) {
	validator, err := uc.validator(mode)
	if err != nil {
		return domain.ValidationResult{}, err
	}
	limits := validator.Limits()

	content, err := readLimited(body, limits.MaxFileSize)
	if err != nil {
		if domain.IsKind(err, domain.ErrFileTooLarge) {
			return domain.ValidationResult{
				Errors:      []string{fmt.Sprintf("file exceeds the %s limit", formatBytes(limits.MaxFileSize))},
				Warnings:    []string{},
				PreviewData: []domain.RawRow{},
			}, nil
		}
		return domain.ValidationResult{}, err
	}
	return validator.Validate(ctx, domain.SpreadsheetFile{Name: fileName, Size: int64(len(content)), Content: content}, nil), nil
}

func (uc *FileImportService) validator(mode domain.ImportMode) (*FileValidator, error) {
	if mode == "" {
		mode = domain.ImportModeStandard
	}
	v, ok := uc.validators[mode]
	if !ok || v == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "select validator", fmt.Errorf("unknown import mode %q", mode))
	}
	return v, nil
}

// readLimited reads at most limit bytes and fails if body holds more.
func readLimited(body io.Reader, limit int64) ([]byte, error) {
	content, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read upload body: %w", err)
	}
	if int64(len(content)) > limit {
		return nil, domain.WrapError(domain.ErrFileTooLarge, "read upload body", fmt.Errorf("body exceeds %s", formatBytes(limit)))
	}
	return content, nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "workbook.xlsx"
	}
	return base
}
