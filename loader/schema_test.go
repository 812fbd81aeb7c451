package loader

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/syncdock/syncdock-server/internal/model"
	"github.com/syncdock/syncdock-server/internal/sqlmw"
)

func newMockDB(t *testing.T) (*sqlmw.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return sqlmw.New(db), mock
}

func TestIntrospect(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("information_schema.columns").
		WithArgs("forecast", "projects").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "udt_name"}).
			AddRow("ID", "text", "text").
			AddRow("start_date", "date", "date").
			AddRow("created_at", "timestamp with time zone", "timestamptz").
			AddRow("updated_at", "timestamp without time zone", "timestamp").
			AddRow("billable", "boolean", "bool").
			AddRow("client", "integer", "int4").
			AddRow("budget", "double precision", "float8").
			AddRow("labels", "ARRAY", "_text").
			AddRow("settings", "jsonb", "jsonb").
			AddRow("notes", "character varying", "varchar"),
		)

	in := NewIntrospector(db, "forecast", logger.NOP)
	schema, err := in.Introspect(context.Background(), "projects")
	require.NoError(t, err)
	require.Equal(t, model.TableSchema{
		"id":         model.TextType,
		"start_date": model.DateType,
		"created_at": model.TimestampType,
		"updated_at": model.TimestampType,
		"billable":   model.BooleanType,
		"client":     model.IntegerType,
		"budget":     model.DoubleType,
		"labels":     model.ArrayType,
		"settings":   model.JSONType,
		"notes":      model.TextType,
	}, schema)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIntrospectSchemaNotFound(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("information_schema.columns").
		WithArgs("forecast", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "udt_name"}))

	in := NewIntrospector(db, "forecast", logger.NOP)
	_, err := in.Introspect(context.Background(), "missing")
	require.ErrorIs(t, err, model.ErrSchemaNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
