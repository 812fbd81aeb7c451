package model

import (
	"errors"
	"fmt"
	"time"
)

type Provider string

const (
	Forecast Provider = "forecast"
	Intect   Provider = "intect"
	Shopify  Provider = "shopify"
)

func (p Provider) String() string { return string(p) }

// Credential carries whichever secret material a provider needs. Connections
// arrive from the management surface as loose maps; decode with mapstructure.
type Credential struct {
	APIKey      string `mapstructure:"apiKey"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	AccessToken string `mapstructure:"accessToken"`
	ShopDomain  string `mapstructure:"shopDomain"`
}

// Connection is a configured link between an organization and one provider
// account. It is created and edited elsewhere; the sync core only reads it.
type Connection struct {
	ID             string
	OrganizationID string
	Provider       Provider
	Name           string
	Credential     Credential
	TargetURI      string
	SyncInterval   string
}

// SchemaName is the target schema a connection loads into, one per provider.
func (c Connection) SchemaName() string { return string(c.Provider) }

// Endpoint describes one remote resource a connector fetches and the logical
// table its records map to.
type Endpoint struct {
	Path       string
	APIVersion string
	Name       string
}

type Record map[string]any

// ProgressFunc receives an absolute completion percentage in [0, 100].
// Reported values never move backwards within one run.
type ProgressFunc func(percent float64)

// RecordBatch is the unit a connector yields and a loader or sink consumes.
// Order of records within a batch carries no meaning.
type RecordBatch struct {
	TableName string
	Records   []Record
}

type LogicalType string

const (
	DateType      LogicalType = "date"
	TimestampType LogicalType = "timestamp"
	BooleanType   LogicalType = "boolean"
	IntegerType   LogicalType = "integer"
	DoubleType    LogicalType = "double"
	ArrayType     LogicalType = "array"
	JSONType      LogicalType = "json"
	TextType      LogicalType = "text"
)

// TableSchema maps lower-cased column names to their logical types, as
// reported by the target catalog. The key set is authoritative: record fields
// outside it are dropped, never inserted.
type TableSchema map[string]LogicalType

type BulkStatus string

const (
	BulkStatusRunning   BulkStatus = "RUNNING"
	BulkStatusCompleted BulkStatus = "COMPLETED"
	BulkStatusFailed    BulkStatus = "FAILED"
	BulkStatusCanceled  BulkStatus = "CANCELED"
)

func (s BulkStatus) Terminal() bool {
	return s == BulkStatusCompleted || s == BulkStatusFailed || s == BulkStatusCanceled
}

// BulkOperation is the provider-side asynchronous export job. At most one may
// be active per provider account.
type BulkOperation struct {
	ID          string
	Status      BulkStatus
	URL         string
	CreatedAt   time.Time
	ObjectCount int64
}

const (
	AuditEventSync = "sync"

	AuditStatusSuccess = "success"
	AuditStatusError   = "error"
)

// SyncAuditRecord is appended to the target's sync_logs table once per
// table-load attempt. Append-only.
type SyncAuditRecord struct {
	EventType string
	Status    string
	Message   string
	CreatedAt time.Time
}

// LoadResult reports a single table's completed load.
type LoadResult struct {
	TableName string
	Records   int
	Chunks    int
}

// TableOutcome is one table's result within a sync run.
type TableOutcome struct {
	TableName string
	Records   int
	Err       error
}

// SyncResult aggregates per-table outcomes so partial success stays visible.
type SyncResult struct {
	ConnectionID string
	Outcomes     []TableOutcome
}

// Err returns the first table error of the run, or nil if every table loaded.
func (r SyncResult) Err() error {
	for _, o := range r.Outcomes {
		if o.Err != nil {
			return o.Err
		}
	}
	return nil
}

var (
	// ErrInvalidCredential means the remote rejected our auth. Fatal, no retry.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrSchemaNotFound means the target table has no columns in the catalog:
	// it was never provisioned. Fatal for that table, not retryable.
	ErrSchemaNotFound = errors.New("schema not found")
	// ErrOperationAlreadyRunning means a bulk export is already active for the
	// provider account.
	ErrOperationAlreadyRunning = errors.New("bulk operation already running")
	// ErrOperationTimeout means the bulk export did not finish within the
	// bounded polling window.
	ErrOperationTimeout = errors.New("bulk operation timed out")
)

// LoadChunkError marks a failed chunk transaction. It aborts the owning
// table's load but leaves other tables' work untouched.
type LoadChunkError struct {
	TableName string
	Chunk     int
	Err       error
}

func (e *LoadChunkError) Error() string {
	return fmt.Sprintf("loading chunk %d of table %s: %v", e.Chunk, e.TableName, e.Err)
}

func (e *LoadChunkError) Unwrap() error { return e.Err }
