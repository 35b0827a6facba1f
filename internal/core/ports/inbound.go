package ports

import (
	"context"
	"io"

	"github.com/kirillkom/qc-inspection/internal/core/domain"
)

// FileValidator inspects a workbook before any heavy parsing.
type FileValidator interface {
	Validate(ctx context.Context, file domain.SpreadsheetFile, progress domain.ProgressFunc) domain.ValidationResult
}

// OrderParser converts the data sheet of a workbook into typed order rows.
type OrderParser interface {
	Parse(ctx context.Context, file domain.SpreadsheetFile, progress domain.ProgressFunc) (*domain.ParseResult, error)
}

// OrderImporter is the client-side contract for pushing parsed rows to the server.
type OrderImporter interface {
	Import(ctx context.Context, rows []domain.OrderRow, fileName string, fileSize int64, onProgress domain.UploadProgressFunc) (*domain.ChunkUploadResult, error)
}

// UploadSessionManager is the server-side contract behind the upload endpoints.
type UploadSessionManager interface {
	Init(ctx context.Context, req domain.InitUploadRequest) (*domain.UploadSession, error)
	AcceptChunk(ctx context.Context, req domain.ChunkUploadRequest) (domain.ChunkCounters, error)
	UploadAll(ctx context.Context, req domain.SingleUploadRequest) (domain.ChunkCounters, error)
	Cancel(ctx context.Context, uploadID string) error
	Get(ctx context.Context, uploadID string) (*domain.UploadSession, error)
}

// FileImporter accepts a whole workbook for asynchronous server-side import.
type FileImporter interface {
	Submit(ctx context.Context, mode domain.ImportMode, fileName string, body io.Reader) (*domain.UploadSession, error)
	Inspect(ctx context.Context, mode domain.ImportMode, fileName string, body io.Reader) (domain.ValidationResult, error)
}

// ImportJobProcessor is the inbound contract of the queue worker.
type ImportJobProcessor interface {
	ProcessByID(ctx context.Context, uploadID string) error
}
