package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kirillkom/qc-inspection/internal/config"
	"github.com/kirillkom/qc-inspection/internal/core/ports"
	"github.com/kirillkom/qc-inspection/internal/core/usecase"
	"github.com/kirillkom/qc-inspection/internal/infrastructure/chunking"
	"github.com/kirillkom/qc-inspection/internal/infrastructure/queue/nats"
	"github.com/kirillkom/qc-inspection/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/qc-inspection/internal/infrastructure/resilience"
	"github.com/kirillkom/qc-inspection/internal/infrastructure/spreadsheet"
	"github.com/kirillkom/qc-inspection/internal/infrastructure/storage/localfs"
)

type App struct {
	Config config.Config

	Queue    *nats.Queue
	Sessions ports.UploadSessionRepository

	Uploads ports.UploadSessionManager
	Files   ports.FileImporter
	Jobs    ports.ImportJobProcessor

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	app, err := wire(cfg, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return app, nil
}

func wire(cfg config.Config, db *sql.DB) (*App, error) {
	sessions := postgres.NewUploadSessionRepository(db)
	orders := postgres.NewOrderRepository(db)

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ProgressPrefix:     cfg.NATSProgressPrefix,
		QueueGroup:         cfg.NATSQueueGroup,
		ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig()),
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	opener := spreadsheet.NewOpener()
	standard := usecase.NewFileValidator(opener, validatorLimits(usecase.StandardLimits(), cfg.ImportMaxFileMB, cfg))
	compact := usecase.NewFileValidator(opener, validatorLimits(usecase.CompactLimits(), cfg.ImportCompactMaxFileMB, cfg))
	parser := usecase.NewOrderParser(opener)

	return &App{
		Config:   cfg,
		Queue:    queue,
		Sessions: sessions,

		Uploads: usecase.NewUploadSessionService(sessions, orders, queue),
		Files:   usecase.NewFileImportService(standard, compact, sessions, storage, queue, queue),
		Jobs:    usecase.NewImportJobProcessor(sessions, storage, parser, orders, queue, chunking.DefaultPlan()),

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func validatorLimits(base usecase.ValidatorLimits, maxFileMB int, cfg config.Config) usecase.ValidatorLimits {
	if maxFileMB > 0 {
		base.MaxFileSize = int64(maxFileMB) << 20
	}
	if cfg.ImportWarnRows > 0 {
		base.WarnRowCount = cfg.ImportWarnRows
	}
	if cfg.ImportPreviewRows >= 0 {
		base.PreviewRows = cfg.ImportPreviewRows
	}
	return base
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
