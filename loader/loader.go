// Package loader writes record batches into the target schema with chunked,
// bounded-concurrency upserts. A chunk is one transaction; a failed chunk
// aborts its table's load and leaves an audit trail entry behind.
package loader

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/syncdock/syncdock-server/internal/coerce"
	"github.com/syncdock/syncdock-server/internal/model"
	"github.com/syncdock/syncdock-server/internal/sqlmw"
	"github.com/syncdock/syncdock-server/logfield"
)

const primaryKeyColumn = "id"

type progressReporter interface {
	Add(records int)
}

type Loader struct {
	db           *sqlmw.DB
	schemaName   string
	introspector *Introspector
	syncLogs     *SyncLogs
	metadata     *Metadata
	log          logger.Logger
	statsFactory stats.Stats
	progress     progressReporter

	config struct {
		chunkSize           int
		maxConcurrentChunks int
	}
}

type Option func(*Loader)

// WithProgress lets the loader report processed records to the run's
// progress accumulator.
func WithProgress(p progressReporter) Option {
	return func(l *Loader) {
		l.progress = p
	}
}

func New(db *sqlmw.DB, schemaName string, conf *config.Config, log logger.Logger, statsFactory stats.Stats, opts ...Option) *Loader {
	l := &Loader{
		db:           db,
		schemaName:   schemaName,
		introspector: NewIntrospector(db, schemaName, log),
		syncLogs:     NewSyncLogs(db, schemaName),
		metadata:     NewMetadata(db, schemaName),
		log:          log.Child("loader"),
		statsFactory: statsFactory,
	}
	l.config.chunkSize = conf.GetInt("Loader.chunkSize", 3000)
	l.config.maxConcurrentChunks = conf.GetInt("Loader.maxConcurrentChunks", 10)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// column binds a record key to its destination column and type. Keys match
// case-insensitively; the destination name is what gets quoted into SQL.
type column struct {
	recordKey string
	name      string
	dataType  model.LogicalType
}

// Load upserts records into tableName. Chunks of records are written inside
// individual transactions, at most maxConcurrentChunks in flight, and a
// window of chunks fully settles before the next one starts. Any chunk
// failure aborts the table's load; committed chunks stay committed.
func (l *Loader) Load(ctx context.Context, tableName string, records []model.Record) (model.LoadResult, error) {
	if len(records) == 0 {
		return model.LoadResult{TableName: tableName}, nil
	}

	start := time.Now()
	tags := stats.Tags{"schema": l.schemaName, "tableName": tableName}

	schema, err := l.introspector.Introspect(ctx, tableName)
	if err != nil {
		l.appendAudit(ctx, model.AuditStatusError, err.Error())
		return model.LoadResult{}, fmt.Errorf("introspecting %s: %w", tableName, err)
	}

	columns := l.projectColumns(tableName, records[0], schema)
	if len(columns) == 0 {
		err := fmt.Errorf("no record field matches a column of %s.%s", l.schemaName, tableName)
		l.appendAudit(ctx, model.AuditStatusError, err.Error())
		return model.LoadResult{}, err
	}

	chunks := lo.Chunk(records, l.config.chunkSize)

	l.log.Infow("started loading",
		logfield.Schema, l.schemaName,
		logfield.TableName, tableName,
		logfield.Records, len(records),
		logfield.Chunk, len(chunks),
	)

	err = runChunks(ctx, chunks, l.config.maxConcurrentChunks, func(ctx context.Context, idx int, chunk []model.Record) error {
		if err := l.loadChunk(ctx, tableName, columns, chunk); err != nil {
			return &model.LoadChunkError{TableName: tableName, Chunk: idx, Err: err}
		}
		if l.progress != nil {
			l.progress.Add(len(chunk))
		}
		return nil
	})
	if err != nil {
		l.statsFactory.NewTaggedStat("loader_table_load_failures", stats.CountType, tags).Increment()
		l.appendAudit(ctx, model.AuditStatusError, err.Error())
		return model.LoadResult{}, err
	}

	l.appendAudit(ctx, model.AuditStatusSuccess,
		fmt.Sprintf("Successfully synced %s with %d records", tableName, len(records)),
	)
	if err := l.metadata.MarkSyncStatus(ctx, model.AuditStatusSuccess); err != nil {
		l.log.Warnw("updating sync metadata",
			logfield.Schema, l.schemaName,
			logfield.TableName, tableName,
			logfield.Error, err.Error(),
		)
	}

	l.statsFactory.NewTaggedStat("loader_records_loaded", stats.CountType, tags).Count(len(records))
	l.statsFactory.NewTaggedStat("loader_table_load_duration_seconds", stats.TimerType, tags).Since(start)

	l.log.Infow("completed loading",
		logfield.Schema, l.schemaName,
		logfield.TableName, tableName,
		logfield.Records, len(records),
	)

	return model.LoadResult{
		TableName: tableName,
		Records:   len(records),
		Chunks:    len(chunks),
	}, nil
}

// projectColumns intersects the first record's keys with the introspected
// column set. Fields without a destination column are dropped for the whole
// batch. The projection is ordered: primary key first, rest alphabetical, so
// generated SQL is deterministic.
func (l *Loader) projectColumns(tableName string, first model.Record, schema model.TableSchema) []column {
	var columns []column
	for key := range first {
		name := strings.ToLower(key)
		dataType, ok := schema[name]
		if !ok {
			l.log.Debugw("dropping field without destination column",
				logfield.Schema, l.schemaName,
				logfield.TableName, tableName,
				"field", key,
			)
			continue
		}
		columns = append(columns, column{recordKey: key, name: name, dataType: dataType})
	}
	sort.Slice(columns, func(i, j int) bool {
		if columns[i].name == primaryKeyColumn {
			return true
		}
		if columns[j].name == primaryKeyColumn {
			return false
		}
		return columns[i].name < columns[j].name
	})
	return columns
}

// runChunks executes chunks in sliding windows of at most windowSize
// concurrent runs. A window fully settles, success or failure, before the
// next one is started; the first error stops the advance.
func runChunks(ctx context.Context, chunks [][]model.Record, windowSize int, run func(ctx context.Context, idx int, chunk []model.Record) error) error {
	for start := 0; start < len(chunks); start += windowSize {
		end := min(start+windowSize, len(chunks))

		g, gCtx := errgroup.WithContext(ctx)
		for idx := start; idx < end; idx++ {
			g.Go(func() error {
				return run(gCtx, idx, chunks[idx])
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) loadChunk(ctx context.Context, tableName string, columns []column, chunk []model.Record) error {
	query, args := buildUpsert(l.schemaName, tableName, columns, chunk)

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			l.log.Errorw("rolling back chunk transaction",
				logfield.Schema, l.schemaName,
				logfield.TableName, tableName,
				logfield.Error, rbErr.Error(),
			)
		}
		return fmt.Errorf("executing upsert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// buildUpsert renders one multi-row INSERT ... ON CONFLICT statement for the
// chunk. Conflicting rows get every non-key column overwritten with the
// incoming value.
func buildUpsert(schemaName, tableName string, columns []column, chunk []model.Record) (string, []any) {
	quoted := lo.Map(columns, func(c column, _ int) string {
		return pq.QuoteIdentifier(c.name)
	})

	var (
		placeholders = make([]string, 0, len(chunk))
		args         = make([]any, 0, len(chunk)*len(columns))
	)
	for rowIdx, record := range chunk {
		marks := make([]string, 0, len(columns))
		for colIdx, col := range columns {
			marks = append(marks, fmt.Sprintf("$%d", rowIdx*len(columns)+colIdx+1))

			value := coerce.Value(record[col.recordKey], col.dataType)
			if col.dataType == model.ArrayType && value != nil {
				value = pq.Array(value)
			}
			args = append(args, value)
		}
		placeholders = append(placeholders, "("+strings.Join(marks, ",")+")")
	}

	conflictAction := "DO NOTHING"
	updates := lo.FilterMap(columns, func(c column, _ int) (string, bool) {
		if c.name == primaryKeyColumn {
			return "", false
		}
		q := pq.QuoteIdentifier(c.name)
		return q + " = EXCLUDED." + q, true
	})
	if len(updates) > 0 {
		conflictAction = "DO UPDATE SET " + strings.Join(updates, ", ")
	}

	query := fmt.Sprintf(
		`INSERT INTO %s.%s (%s) VALUES %s ON CONFLICT (%s) %s;`,
		pq.QuoteIdentifier(schemaName),
		pq.QuoteIdentifier(tableName),
		strings.Join(quoted, ","),
		strings.Join(placeholders, ","),
		primaryKeyColumn,
		conflictAction,
	)
	return query, args
}

func (l *Loader) appendAudit(ctx context.Context, status, message string) {
	err := l.syncLogs.Append(ctx, model.SyncAuditRecord{
		EventType: model.AuditEventSync,
		Status:    status,
		Message:   message,
	})
	if err != nil {
		l.log.Warnw("appending sync audit record",
			logfield.Schema, l.schemaName,
			logfield.Status, status,
			logfield.Error, err.Error(),
		)
	}
}
