package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/qc-inspection/internal/core/domain"
)

// WorkbookOpener decodes workbook bytes.
type WorkbookOpener interface {
	Open(content []byte) (Workbook, error)
}

// Workbook is a decoded spreadsheet.
type Workbook interface {
	SheetCount() int
	// Records skips headerOffset rows, takes the next row as header and
	// returns every following non-blank row keyed by header.
	Records(sheetIndex, headerOffset int) ([]domain.RawRow, error)
	Close() error
}

// UploadTransport talks to the upload endpoints.
type UploadTransport interface {
	InitUpload(ctx context.Context, req domain.InitUploadRequest) (domain.InitUploadResponse, error)
	UploadChunk(ctx context.Context, req domain.ChunkUploadRequest) (domain.ChunkCounters, error)
	UploadAll(ctx context.Context, req domain.SingleUploadRequest) (domain.ChunkCounters, error)
	CancelUpload(ctx context.Context, uploadID string) error
}

// OrderRepository persists order rows.
type OrderRepository interface {
	UpsertOrders(ctx context.Context, rows []domain.OrderRow) (domain.ChunkCounters, error)
}

// UploadSessionRepository persists upload session state.
type UploadSessionRepository interface {
	Create(ctx context.Context, session *domain.UploadSession) error
	GetByID(ctx context.Context, id string) (*domain.UploadSession, error)
	// RecordChunk stores the counters of one chunk. recorded is false when
	// the chunk index was already stored for the session.
	RecordChunk(ctx context.Context, id string, chunkIndex int, counters domain.ChunkCounters) (session *domain.UploadSession, recorded bool, err error)
	// RecordedChunk returns the counters stored for a chunk index.
	RecordedChunk(ctx context.Context, id string, chunkIndex int) (counters domain.ChunkCounters, found bool, err error)
	UpdateStage(ctx context.Context, id string, status domain.SessionStatus, stage domain.Stage, progress int, message string) error
	SaveResults(ctx context.Context, id string, counters domain.ChunkCounters) error
	ExpireStale(ctx context.Context, before time.Time) (int64, error)
}

// ObjectStorage stores source workbooks.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// ImportQueue publishes and consumes file-import jobs.
type ImportQueue interface {
	PublishImportRequested(ctx context.Context, uploadID string) error
	SubscribeImportRequested(ctx context.Context, handler func(context.Context, string) error) error
}

// ProgressPublisher emits progress events for an upload.
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, event domain.ProgressEvent) error
}

// ProgressSubscriber streams progress events of one upload until the
// returned stop function is called or ctx ends.
type ProgressSubscriber interface {
	SubscribeProgress(ctx context.Context, uploadID string) (<-chan domain.ProgressEvent, func(), error)
}
