package loader

import (
	"context"
	"fmt"
	"strings"

	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/syncdock/syncdock-server/internal/model"
	"github.com/syncdock/syncdock-server/internal/sqlmw"
	"github.com/syncdock/syncdock-server/logfield"
)

// Introspector reads a table's column set from the target catalog. The set it
// returns is authoritative for what the loader may write.
type Introspector struct {
	db         *sqlmw.DB
	schemaName string
	log        logger.Logger
}

func NewIntrospector(db *sqlmw.DB, schemaName string, log logger.Logger) *Introspector {
	return &Introspector{
		db:         db,
		schemaName: schemaName,
		log:        log.Child("introspector"),
	}
}

// Introspect returns the table's columns keyed by lower-cased name. A table
// with zero columns was never provisioned; that is model.ErrSchemaNotFound
// and the caller must not retry.
func (in *Introspector) Introspect(ctx context.Context, tableName string) (model.TableSchema, error) {
	rows, err := in.db.QueryContext(ctx, `
		SELECT
		  column_name,
		  data_type,
		  udt_name
		FROM
		  information_schema.columns
		WHERE
		  table_schema = $1
		  AND table_name = $2;
	`,
		in.schemaName,
		tableName,
	)
	if err != nil {
		return nil, fmt.Errorf("querying catalog for %s.%s: %w", in.schemaName, tableName, err)
	}
	defer func() { _ = rows.Close() }()

	schema := make(model.TableSchema)
	for rows.Next() {
		var columnName, dataType, udtName string
		if err := rows.Scan(&columnName, &dataType, &udtName); err != nil {
			return nil, fmt.Errorf("scanning catalog row: %w", err)
		}
		schema[strings.ToLower(columnName)] = logicalType(dataType)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating catalog rows: %w", err)
	}

	if len(schema) == 0 {
		in.log.Warnw("table has no columns in catalog",
			logfield.Schema, in.schemaName,
			logfield.TableName, tableName,
		)
		return nil, fmt.Errorf("table %s.%s: %w", in.schemaName, tableName, model.ErrSchemaNotFound)
	}
	return schema, nil
}

func logicalType(dataType string) model.LogicalType {
	switch dataType {
	case "date":
		return model.DateType
	case "timestamp with time zone", "timestamp without time zone":
		return model.TimestampType
	case "boolean":
		return model.BooleanType
	case "integer", "smallint", "bigint":
		return model.IntegerType
	case "double precision", "numeric", "real":
		return model.DoubleType
	case "ARRAY":
		return model.ArrayType
	case "jsonb", "json":
		return model.JSONType
	default:
		return model.TextType
	}
}
