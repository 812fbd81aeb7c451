// Package syncer orchestrates one sync or export run for a connection:
// select the provider's connector, fetch, then either load every batch into
// the target schema or hand the batches to an export sink.
package syncer

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/syncdock/syncdock-server/connector"
	"github.com/syncdock/syncdock-server/export"
	"github.com/syncdock/syncdock-server/internal/model"
	"github.com/syncdock/syncdock-server/internal/sqlmw"
	"github.com/syncdock/syncdock-server/loader"
	"github.com/syncdock/syncdock-server/logfield"
)

// progress weighting: in a fetch-then-load run the first 30 percent belongs
// to the fetch and the remaining 70 to the load; a fetch-only export run
// uses the connector's 0-95 reporting directly.
const (
	fetchWeight = 30.0
	loadWeight  = 70.0

	connectorProgressCap = 95.0
)

type Manager struct {
	conf         *config.Config
	log          logger.Logger
	statsFactory stats.Stats

	newConnector func(model.Connection, *config.Config, logger.Logger, stats.Stats) (connector.Connector, error)
	openDB       func(ctx context.Context, conn model.Connection) (*sqlmw.DB, error)

	config struct {
		maxOpenConns    int
		connMaxIdleTime time.Duration
	}
}

func New(conf *config.Config, log logger.Logger, statsFactory stats.Stats) *Manager {
	m := &Manager{
		conf:         conf,
		log:          log.Child("syncer"),
		statsFactory: statsFactory,
		newConnector: connector.New,
	}
	m.openDB = m.openPostgres
	m.config.maxOpenConns = conf.GetInt("Syncer.maxOpenConns", 20)
	m.config.connMaxIdleTime = conf.GetDuration("Syncer.connMaxIdleTime", 10, time.Minute)
	return m
}

// Sync fetches every batch of the connection's provider and loads each one
// into the target schema. One table's failure does not stop the others; the
// result carries per-table outcomes with the first error caller-visible.
func (m *Manager) Sync(ctx context.Context, conn model.Connection, onProgress model.ProgressFunc) (model.SyncResult, error) {
	progress := NewProgress(onProgress)
	progress.Reset()
	defer progress.Reset()

	src, err := m.newConnector(conn, m.conf, m.log, m.statsFactory)
	if err != nil {
		return model.SyncResult{}, err
	}

	m.log.Infow("starting sync",
		logfield.ConnectionID, conn.ID,
		logfield.Provider, conn.Provider,
	)

	batches, err := src.Fetch(ctx, func(percent float64) {
		progress.Report(percent / connectorProgressCap * fetchWeight)
	})
	if err != nil {
		return model.SyncResult{}, fmt.Errorf("fetching %s data: %w", conn.Provider, err)
	}
	progress.Report(fetchWeight)

	db, err := m.openDB(ctx, conn)
	if err != nil {
		return model.SyncResult{}, err
	}
	defer func() { _ = db.Close() }()

	totalRecords := 0
	for _, batch := range batches {
		totalRecords += len(batch.Records)
	}
	loadPhase := progress.LoadPhase(totalRecords, fetchWeight, loadWeight)

	ldr := loader.New(db, conn.SchemaName(), m.conf, m.log, m.statsFactory, loader.WithProgress(loadPhase))

	result := model.SyncResult{ConnectionID: conn.ID}
	for _, batch := range batches {
		loaded, err := ldr.Load(ctx, batch.TableName, batch.Records)
		if err != nil {
			m.log.Errorw("table load failed",
				logfield.ConnectionID, conn.ID,
				logfield.TableName, batch.TableName,
				logfield.Error, err.Error(),
			)
			result.Outcomes = append(result.Outcomes, model.TableOutcome{
				TableName: batch.TableName,
				Err:       err,
			})
			continue
		}
		result.Outcomes = append(result.Outcomes, model.TableOutcome{
			TableName: batch.TableName,
			Records:   loaded.Records,
		})
	}
	progress.Report(100)

	m.log.Infow("finished sync",
		logfield.ConnectionID, conn.ID,
		logfield.Records, totalRecords,
	)
	return result, nil
}

// ExportArchive fetches the connection's data and stores it as a CSV/ZIP
// archive in object storage. A fresh cached archive short-circuits the
// fetch entirely.
func (m *Manager) ExportArchive(ctx context.Context, conn model.Connection, store *export.ArchiveStore, opts export.CSVOptions, onProgress model.ProgressFunc) (string, error) {
	progress := NewProgress(onProgress)
	progress.Reset()
	defer progress.Reset()

	key := store.ObjectKey(conn)
	if fresh, err := store.Fresh(ctx, key); err != nil {
		return "", err
	} else if fresh {
		progress.Report(100)
		return key, nil
	}

	batches, err := m.fetchForExport(ctx, conn, progress)
	if err != nil {
		return "", err
	}

	key, _, err = store.Export(ctx, conn, batches, opts)
	if err != nil {
		return "", err
	}
	progress.Report(100)
	return key, nil
}

// ExportSheets fetches the connection's data and writes it to a new
// spreadsheet, one sheet per table.
func (m *Manager) ExportSheets(ctx context.Context, conn model.Connection, writer *export.SheetsWriter, onProgress model.ProgressFunc) (string, error) {
	progress := NewProgress(onProgress)
	progress.Reset()
	defer progress.Reset()

	batches, err := m.fetchForExport(ctx, conn, progress)
	if err != nil {
		return "", err
	}

	title := fmt.Sprintf("%s - %s export", conn.Name, conn.Provider)
	spreadsheetID, err := writer.Export(ctx, title, batches)
	if err != nil {
		return "", err
	}
	progress.Report(100)
	return spreadsheetID, nil
}

// fetchForExport runs the connector with the export weighting: the fetch
// owns the bar up to the connector cap, the sink the rest.
func (m *Manager) fetchForExport(ctx context.Context, conn model.Connection, progress *Progress) ([]model.RecordBatch, error) {
	src, err := m.newConnector(conn, m.conf, m.log, m.statsFactory)
	if err != nil {
		return nil, err
	}
	batches, err := src.Fetch(ctx, progress.Report)
	if err != nil {
		return nil, fmt.Errorf("fetching %s data: %w", conn.Provider, err)
	}
	return batches, nil
}

// openPostgres opens the run's pool against the connection's target. One
// pool per run, bounded, and closed by the caller regardless of outcome.
func (m *Manager) openPostgres(ctx context.Context, conn model.Connection) (*sqlmw.DB, error) {
	db, err := sql.Open("postgres", conn.TargetURI)
	if err != nil {
		return nil, fmt.Errorf("opening target database: %w", err)
	}
	db.SetMaxOpenConns(m.config.maxOpenConns)
	db.SetConnMaxIdleTime(m.config.connMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging target database: %w", err)
	}

	return sqlmw.New(db,
		sqlmw.WithLogger(m.log.Child("db")),
		sqlmw.WithKeysAndValues(
			logfield.ConnectionID, conn.ID,
			logfield.Schema, conn.SchemaName(),
		),
	), nil
}
