package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/syncdock/syncdock-server/internal/model"
	"github.com/syncdock/syncdock-server/internal/sqlmw"
)

const (
	metadataTable = "metadata"
	syncLogsTable = "sync_logs"
)

type repo struct {
	db         *sqlmw.DB
	schemaName string
	now        func() time.Time
}

type RepoOpt func(*repo)

func WithNow(now func() time.Time) RepoOpt {
	return func(r *repo) {
		r.now = now
	}
}

// SyncLogs appends audit records to the target's sync_logs table. Records are
// never updated or deleted here.
type SyncLogs repo

func NewSyncLogs(db *sqlmw.DB, schemaName string, opts ...RepoOpt) *SyncLogs {
	r := &SyncLogs{
		db:         db,
		schemaName: schemaName,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt((*repo)(r))
	}
	return r
}

func (s *SyncLogs) Append(ctx context.Context, record model.SyncAuditRecord) error {
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO `+pq.QuoteIdentifier(s.schemaName)+`.`+syncLogsTable+` (
		  event_type, status, message, created_at
		)
		VALUES
		  ($1, $2, $3, $4);
	`,
		record.EventType,
		record.Status,
		record.Message,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("appending sync log: %w", err)
	}
	return nil
}

// Metadata keeps the target's single last-sync row current.
type Metadata repo

func NewMetadata(db *sqlmw.DB, schemaName string, opts ...RepoOpt) *Metadata {
	r := &Metadata{
		db:         db,
		schemaName: schemaName,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt((*repo)(r))
	}
	return r
}

func (m *Metadata) MarkSyncStatus(ctx context.Context, status string) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO `+pq.QuoteIdentifier(m.schemaName)+`.`+metadataTable+` (
		  id, last_sync_at, sync_status, updated_at
		)
		VALUES
		  (1, $1, $2, $1)
		ON CONFLICT (id) DO UPDATE
		SET
		  last_sync_at = EXCLUDED.last_sync_at,
		  sync_status = EXCLUDED.sync_status,
		  updated_at = EXCLUDED.updated_at;
	`,
		m.now(),
		status,
	)
	if err != nil {
		return fmt.Errorf("marking sync status: %w", err)
	}
	return nil
}
