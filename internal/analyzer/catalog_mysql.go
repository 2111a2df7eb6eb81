package analyzer

import (
	"context"
	"strings"

	"github.com/vitebski/db-autofill/internal/connector"
	"github.com/vitebski/db-autofill/pkg/models"
)

// mysqlCatalog reads information_schema of a MySQL or MariaDB server
type mysqlCatalog struct {
	db *connector.DatabaseConnector
}

func (c *mysqlCatalog) ListTables(ctx context.Context) ([]string, error) {
	tablesQuery := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = ?
		AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`
	tablesResult, err := c.db.ExecuteQuery(ctx, tablesQuery, c.db.SchemaName())
	if err != nil {
		return nil, err
	}

	var tables []string
	for _, row := range tablesResult {
		tables = append(tables, connector.AsString(row["table_name"]))
	}
	return tables, nil
}

func (c *mysqlCatalog) ReadTable(ctx context.Context, table string) (*models.TableSchema, []string, error) {
	schema := c.db.SchemaName()
	ts := &models.TableSchema{Name: table}

	columnsQuery := `
		SELECT
			column_name,
			data_type,
			column_type,
			character_maximum_length,
			numeric_precision,
			numeric_scale,
			is_nullable,
			column_default,
			extra
		FROM information_schema.columns
		WHERE table_schema = ?
		AND table_name = ?
		ORDER BY ordinal_position
	`
	columnsResult, err := c.db.ExecuteQuery(ctx, columnsQuery, schema, table)
	if err != nil {
		return nil, nil, err
	}

	for _, row := range columnsResult {
		extra := strings.ToUpper(connector.AsString(row["extra"]))
		computed := strings.Contains(extra, "VIRTUAL GENERATED") || strings.Contains(extra, "STORED GENERATED")
		ts.Columns = append(ts.Columns, models.Column{
			Name:             connector.AsString(row["column_name"]),
			DataType:         connector.AsString(row["data_type"]),
			ColumnType:       connector.AsString(row["column_type"]),
			CharMaxLength:    optionalInt(row["character_maximum_length"]),
			NumericPrecision: optionalInt(row["numeric_precision"]),
			NumericScale:     optionalInt(row["numeric_scale"]),
			IsNullable:       connector.AsString(row["is_nullable"]) == "YES",
			HasDefault:       row["column_default"] != nil,
			IsAutoGenerated:  strings.Contains(extra, "AUTO_INCREMENT") || computed,
			IsComputed:       computed,
		})
	}

	keysQuery := `
		SELECT
			tc.constraint_name,
			tc.constraint_type,
			kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		ON kcu.constraint_schema = tc.constraint_schema
		AND kcu.constraint_name = tc.constraint_name
		AND kcu.table_name = tc.table_name
		WHERE tc.table_schema = ?
		AND tc.table_name = ?
		AND tc.constraint_type IN ('PRIMARY KEY', 'UNIQUE')
		ORDER BY tc.constraint_name, kcu.ordinal_position
	`
	keysResult, err := c.db.ExecuteQuery(ctx, keysQuery, schema, table)
	if err != nil {
		return nil, nil, err
	}
	applyKeyRows(ts, keysResult)

	fkQuery := `
		SELECT
			constraint_name,
			column_name,
			referenced_table_name,
			referenced_column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = ?
		AND table_name = ?
		AND referenced_table_name IS NOT NULL
		ORDER BY constraint_name, ordinal_position
	`
	fkResult, err := c.db.ExecuteQuery(ctx, fkQuery, schema, table)
	if err != nil {
		return nil, nil, err
	}
	applyForeignKeyRows(ts, fkResult)

	// Check constraints are only exposed by MySQL 8.0.16 and later
	checkQuery := `
		SELECT cc.check_clause
		FROM information_schema.check_constraints cc
		JOIN information_schema.table_constraints tc
		ON tc.constraint_schema = cc.constraint_schema
		AND tc.constraint_name = cc.constraint_name
		WHERE tc.table_schema = ?
		AND tc.table_name = ?
		AND tc.constraint_type = 'CHECK'
	`
	checkResult, err := c.db.ExecuteQuery(ctx, checkQuery, schema, table)
	if err != nil {
		c.db.Logger.Warningf("Error getting check constraints of %s (this is expected for MySQL < 8.0.16): %v", table, err)
		return ts, nil, nil
	}

	var checks []string
	for _, row := range checkResult {
		checks = append(checks, connector.AsString(row["check_clause"]))
	}
	return ts, checks, nil
}
