package loader

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/syncdock/syncdock-server/internal/model"
)

func TestSyncLogsAppend(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO "forecast".sync_logs`).
		WithArgs(model.AuditEventSync, model.AuditStatusSuccess, "Successfully synced projects with 3 records", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewSyncLogs(db, "forecast", WithNow(func() time.Time { return now }))
	err := repo.Append(context.Background(), model.SyncAuditRecord{
		EventType: model.AuditEventSync,
		Status:    model.AuditStatusSuccess,
		Message:   "Successfully synced projects with 3 records",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncLogsAppendKeepsExplicitTimestamp(t *testing.T) {
	db, mock := newMockDB(t)
	createdAt := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO "forecast".sync_logs`).
		WithArgs(model.AuditEventSync, model.AuditStatusError, "boom", createdAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewSyncLogs(db, "forecast")
	err := repo.Append(context.Background(), model.SyncAuditRecord{
		EventType: model.AuditEventSync,
		Status:    model.AuditStatusError,
		Message:   "boom",
		CreatedAt: createdAt,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMetadataMarkSyncStatus(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO "intect".metadata`).
		WithArgs(now, model.AuditStatusSuccess).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewMetadata(db, "intect", WithNow(func() time.Time { return now }))
	err := repo.MarkSyncStatus(context.Background(), model.AuditStatusSuccess)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
