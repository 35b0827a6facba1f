package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/qc-inspection/internal/core/domain"
)

var sessionColumnNames = []string{
	"id", "file_name", "file_size", "storage_path", "total_chunks", "chunk_size", "completed_chunks",
	"status", "stage", "progress", "message",
	"success_count", "fail_count", "created_count", "updated_count", "skipped_count",
	"created_at", "updated_at",
}

func newSessionRepoWithMock(t *testing.T) (*UploadSessionRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return NewUploadSessionRepository(db), mock, func() { _ = db.Close() }
}

func activeSessionRows(completed int, success int) *sqlmock.Rows {
	return sessionRowsWithStatus(domain.SessionActive, domain.StageUploading, completed, success)
}

func sessionRowsWithStatus(status domain.SessionStatus, stage domain.Stage, completed int, success int) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(sessionColumnNames).AddRow(
		"u-1", "orders.xlsx", int64(4096), "", 4, 500, completed,
		string(status), string(stage), completed*25, "",
		success, 0, success, 0, 0,
		now, now,
	)
}

func TestSessionGetByIDReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newSessionRepoWithMock(t)
	defer done()

	mock.ExpectQuery("FROM upload_sessions WHERE id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordChunkFoldsCountersOnce(t *testing.T) {
	repo, mock, done := newSessionRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM upload_sessions WHERE id = \\$1 FOR UPDATE").
		WithArgs("u-1").
		WillReturnRows(activeSessionRows(1, 500))
	mock.ExpectExec("INSERT INTO upload_chunks").
		WithArgs("u-1", 1, 500, 0, 480, 20, 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE upload_sessions").
		WithArgs("u-1", 2, 50, 1000, 0, 980, 20, 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	session, recorded, err := repo.RecordChunk(context.Background(), "u-1", 1,
		domain.ChunkCounters{Success: 500, Created: 480, Updated: 20})
	if err != nil {
		t.Fatalf("RecordChunk() error = %v", err)
	}
	if !recorded {
		t.Fatalf("expected chunk to be recorded")
	}
	if session.CompletedChunks != 2 || session.Results.Success != 1000 || session.Progress != 50 {
		t.Fatalf("unexpected session: %+v", session)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordChunkReplayLeavesSessionUnchanged(t *testing.T) {
	repo, mock, done := newSessionRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("u-1").
		WillReturnRows(activeSessionRows(2, 1000))
	mock.ExpectExec("INSERT INTO upload_chunks").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	session, recorded, err := repo.RecordChunk(context.Background(), "u-1", 1, domain.ChunkCounters{Success: 500, Created: 500})
	if err != nil {
		t.Fatalf("RecordChunk() error = %v", err)
	}
	if recorded {
		t.Fatalf("expected replayed chunk to be ignored")
	}
	if session.CompletedChunks != 2 || session.Results.Success != 1000 {
		t.Fatalf("replay changed session: %+v", session)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordChunkUnknownSession(t *testing.T) {
	repo, mock, done := newSessionRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("missing").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, _, err := repo.RecordChunk(context.Background(), "missing", 0, domain.ChunkCounters{})
	if !domain.IsKind(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordChunkRejectsClosedSessionUnderLock(t *testing.T) {
	repo, mock, done := newSessionRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("u-1").
		WillReturnRows(sessionRowsWithStatus(domain.SessionCancelled, domain.StageCancelled, 1, 500))
	mock.ExpectRollback()

	_, recorded, err := repo.RecordChunk(context.Background(), "u-1", 2, domain.ChunkCounters{Success: 500, Created: 500})
	if !domain.IsKind(err, domain.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if recorded {
		t.Fatalf("chunk must not be recorded on a cancelled session")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordedChunkReturnsStoredCounters(t *testing.T) {
	repo, mock, done := newSessionRepoWithMock(t)
	defer done()

	mock.ExpectQuery("FROM upload_chunks").
		WithArgs("u-1", 3).
		WillReturnRows(sqlmock.NewRows([]string{"success_count", "fail_count", "created_count", "updated_count", "skipped_count"}).
			AddRow(500, 0, 480, 20, 0))
	mock.ExpectQuery("FROM upload_chunks").
		WithArgs("u-1", 4).
		WillReturnError(sql.ErrNoRows)

	counters, found, err := repo.RecordedChunk(context.Background(), "u-1", 3)
	if err != nil {
		t.Fatalf("RecordedChunk() error = %v", err)
	}
	if !found || counters != (domain.ChunkCounters{Success: 500, Created: 480, Updated: 20}) {
		t.Fatalf("unexpected recorded chunk: found=%v counters=%+v", found, counters)
	}
	if _, found, err := repo.RecordedChunk(context.Background(), "u-1", 4); err != nil || found {
		t.Fatalf("expected missing chunk, found=%v err=%v", found, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateStageLeavesClosedSessionAlone(t *testing.T) {
	repo, mock, done := newSessionRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE upload_sessions").
		WithArgs("u-1", string(domain.SessionCompleted), string(domain.StageCompleted), 100, "done", sqlmock.AnyArg(),
			string(domain.SessionActive), string(domain.SessionQueued)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM upload_sessions").
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(domain.SessionCancelled)))

	err := repo.UpdateStage(context.Background(), "u-1", domain.SessionCompleted, domain.StageCompleted, 100, "done")
	if !domain.IsKind(err, domain.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateStageReturnsDomainNotFoundWhenNoRowsAffected(t *testing.T) {
	repo, mock, done := newSessionRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE upload_sessions").
		WithArgs("missing", string(domain.SessionCancelled), string(domain.StageCancelled), 0, "", sqlmock.AnyArg(),
			string(domain.SessionActive), string(domain.SessionQueued)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM upload_sessions").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	err := repo.UpdateStage(context.Background(), "missing", domain.SessionCancelled, domain.StageCancelled, 0, "")
	if !domain.IsKind(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestExpireStaleReportsCount(t *testing.T) {
	repo, mock, done := newSessionRepoWithMock(t)
	defer done()

	cutoff := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE upload_sessions").
		WithArgs(string(domain.SessionExpired), string(domain.StageError), sqlmock.AnyArg(),
			string(domain.SessionActive), string(domain.SessionQueued), cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.ExpireStale(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ExpireStale() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 expired sessions, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnsureSchemaTakesAdvisoryLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs(schemaLockID).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS orders").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
