package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/qc-inspection/internal/core/domain"
)

const sessionColumns = `id, file_name, file_size, storage_path, total_chunks, chunk_size, completed_chunks,
	status, stage, progress, message,
	success_count, fail_count, created_count, updated_count, skipped_count,
	created_at, updated_at`

type UploadSessionRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewUploadSessionRepository(db *sql.DB) *UploadSessionRepository {
	return &UploadSessionRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *UploadSessionRepository) Create(ctx context.Context, s *domain.UploadSession) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO upload_sessions (`+sessionColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
`,
		s.ID, s.FileName, s.FileSize, s.StoragePath, s.TotalChunks, s.ChunkSize, s.CompletedChunks,
		string(s.Status), string(s.Stage), s.Progress, s.Message,
		s.Results.Success, s.Results.Fail, s.Results.Created, s.Results.Updated, s.Results.Skipped,
		s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert upload session: %w", err)
	}
	return nil
}

func (r *UploadSessionRepository) GetByID(ctx context.Context, id string) (*domain.UploadSession, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM upload_sessions WHERE id = $1`, id)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrSessionNotFound, "get upload session", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan upload session: %w", err)
	}
	return session, nil
}

// RecordChunk stores chunk counters once per (session, chunk index) and
// folds them into the session totals. The session row is locked for the
// duration so concurrent chunks serialize on it.
func (r *UploadSessionRepository) RecordChunk(
	ctx context.Context,
	id string,
	chunkIndex int,
	counters domain.ChunkCounters,
) (*domain.UploadSession, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin record chunk tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM upload_sessions WHERE id = $1 FOR UPDATE`, id)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, domain.WrapError(domain.ErrSessionNotFound, "record chunk", fmt.Errorf("id=%s", id))
		}
		return nil, false, fmt.Errorf("lock upload session: %w", err)
	}
	if session.Status.Terminal() {
		return nil, false, domain.WrapError(domain.ErrSessionClosed, "record chunk", fmt.Errorf("session %s is %s", id, session.Status))
	}

	now := r.now()
	res, err := tx.ExecContext(ctx, `
INSERT INTO upload_chunks (upload_id, chunk_index, success_count, fail_count, created_count, updated_count, skipped_count, recorded_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (upload_id, chunk_index) DO NOTHING
`, id, chunkIndex, counters.Success, counters.Fail, counters.Created, counters.Updated, counters.Skipped, now)
	if err != nil {
		return nil, false, fmt.Errorf("insert upload chunk: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("upload chunk rows affected: %w", err)
	}
	recorded := affected > 0

	if recorded {
		session.CompletedChunks++
		session.Results = session.Results.Add(counters)
		if session.TotalChunks > 0 {
			session.Progress = session.CompletedChunks * 100 / session.TotalChunks
		}
		session.UpdatedAt = now
		if _, err := tx.ExecContext(ctx, `
UPDATE upload_sessions
SET completed_chunks = $2, progress = $3,
	success_count = $4, fail_count = $5, created_count = $6, updated_count = $7, skipped_count = $8,
	updated_at = $9
WHERE id = $1
`,
			id, session.CompletedChunks, session.Progress,
			session.Results.Success, session.Results.Fail, session.Results.Created, session.Results.Updated, session.Results.Skipped,
			now,
		); err != nil {
			return nil, false, fmt.Errorf("update upload session counters: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit record chunk tx: %w", err)
	}
	return session, recorded, nil
}

func (r *UploadSessionRepository) RecordedChunk(ctx context.Context, id string, chunkIndex int) (domain.ChunkCounters, bool, error) {
	var c domain.ChunkCounters
	err := r.db.QueryRowContext(ctx, `
SELECT success_count, fail_count, created_count, updated_count, skipped_count
FROM upload_chunks
WHERE upload_id = $1 AND chunk_index = $2
`, id, chunkIndex).Scan(&c.Success, &c.Fail, &c.Created, &c.Updated, &c.Skipped)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ChunkCounters{}, false, nil
		}
		return domain.ChunkCounters{}, false, fmt.Errorf("load upload chunk: %w", err)
	}
	return c, true, nil
}

// UpdateStage moves an open session to the given status. A session that is
// already closed is left as is and reported as ErrSessionClosed.
func (r *UploadSessionRepository) UpdateStage(
	ctx context.Context,
	id string,
	status domain.SessionStatus,
	stage domain.Stage,
	progress int,
	message string,
) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE upload_sessions
SET status = $2, stage = $3, progress = $4, message = $5, updated_at = $6
WHERE id = $1 AND status IN ($7, $8)
`, id, string(status), string(stage), progress, message, r.now(),
		string(domain.SessionActive), string(domain.SessionQueued),
	)
	if err != nil {
		return fmt.Errorf("update upload session stage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update upload session stage rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var current string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM upload_sessions WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WrapError(domain.ErrSessionNotFound, "update upload session stage", fmt.Errorf("id=%s", id))
		}
		return fmt.Errorf("load upload session status: %w", err)
	}
	return domain.WrapError(domain.ErrSessionClosed, "update upload session stage", fmt.Errorf("session %s is %s", id, current))
}

func (r *UploadSessionRepository) SaveResults(ctx context.Context, id string, c domain.ChunkCounters) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE upload_sessions
SET success_count = $2, fail_count = $3, created_count = $4, updated_count = $5, skipped_count = $6, updated_at = $7
WHERE id = $1
`, id, c.Success, c.Fail, c.Created, c.Updated, c.Skipped, r.now())
	if err != nil {
		return fmt.Errorf("save upload session results: %w", err)
	}
	return requireAffected(res, "save upload session results", id)
}

// ExpireStale closes sessions that are still open but untouched since before.
func (r *UploadSessionRepository) ExpireStale(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE upload_sessions
SET status = $1, stage = $2, message = 'session expired', updated_at = $3
WHERE status IN ($4, $5) AND updated_at < $6
`,
		string(domain.SessionExpired), string(domain.StageError), r.now(),
		string(domain.SessionActive), string(domain.SessionQueued), before,
	)
	if err != nil {
		return 0, fmt.Errorf("expire stale upload sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired sessions rows affected: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.UploadSession, error) {
	var s domain.UploadSession
	var status, stage string
	err := row.Scan(
		&s.ID, &s.FileName, &s.FileSize, &s.StoragePath, &s.TotalChunks, &s.ChunkSize, &s.CompletedChunks,
		&status, &stage, &s.Progress, &s.Message,
		&s.Results.Success, &s.Results.Fail, &s.Results.Created, &s.Results.Updated, &s.Results.Skipped,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Status = domain.SessionStatus(status)
	s.Stage = domain.Stage(stage)
	return &s, nil
}

func requireAffected(res sql.Result, operation, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if n == 0 {
		return domain.WrapError(domain.ErrSessionNotFound, operation, fmt.Errorf("id=%s", id))
	}
	return nil
}
