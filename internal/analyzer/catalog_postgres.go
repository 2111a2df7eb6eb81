package analyzer

import (
	"context"
	"strings"

	"github.com/lib/pq"
	"github.com/vitebski/db-autofill/internal/connector"
	"github.com/vitebski/db-autofill/pkg/models"
)

// postgresCatalog reads information_schema and pg_catalog of a PostgreSQL server
type postgresCatalog struct {
	db    *connector.DatabaseConnector
	enums map[string][]string
}

func (c *postgresCatalog) ListTables(ctx context.Context) ([]string, error) {
	tablesQuery := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1
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

// enumLabels loads the labels of every enum type once per analyzer
func (c *postgresCatalog) enumLabels(ctx context.Context) (map[string][]string, error) {
	if c.enums != nil {
		return c.enums, nil
	}

	rows, err := c.db.DB.QueryContext(ctx, `
		SELECT t.typname, array_agg(e.enumlabel ORDER BY e.enumsortorder)
		FROM pg_type t
		JOIN pg_enum e ON e.enumtypid = t.oid
		GROUP BY t.typname
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	enums := make(map[string][]string)
	for rows.Next() {
		var name string
		var labels []string
		if err := rows.Scan(&name, pq.Array(&labels)); err != nil {
			return nil, err
		}
		enums[name] = labels
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	c.enums = enums
	return enums, nil
}

func (c *postgresCatalog) ReadTable(ctx context.Context, table string) (*models.TableSchema, []string, error) {
	schema := c.db.SchemaName()
	ts := &models.TableSchema{Name: table}

	enums, err := c.enumLabels(ctx)
	if err != nil {
		return nil, nil, err
	}

	columnsQuery := `
		SELECT
			column_name,
			data_type,
			udt_name,
			character_maximum_length,
			numeric_precision,
			numeric_scale,
			is_nullable,
			column_default,
			is_identity,
			identity_generation,
			is_generated
		FROM information_schema.columns
		WHERE table_schema = $1
		AND table_name = $2
		ORDER BY ordinal_position
	`
	columnsResult, err := c.db.ExecuteQuery(ctx, columnsQuery, schema, table)
	if err != nil {
		return nil, nil, err
	}

	for _, row := range columnsResult {
		dataType := connector.AsString(row["data_type"])
		udtName := connector.AsString(row["udt_name"])
		columnDefault := connector.AsString(row["column_default"])
		computed := connector.AsString(row["is_generated"]) == "ALWAYS" ||
			connector.AsString(row["identity_generation"]) == "ALWAYS"

		col := models.Column{
			Name:             connector.AsString(row["column_name"]),
			DataType:         dataType,
			ColumnType:       udtName,
			CharMaxLength:    optionalInt(row["character_maximum_length"]),
			NumericPrecision: optionalInt(row["numeric_precision"]),
			NumericScale:     optionalInt(row["numeric_scale"]),
			IsNullable:       connector.AsString(row["is_nullable"]) == "YES",
			HasDefault:       row["column_default"] != nil,
			IsAutoGenerated: connector.AsString(row["is_identity"]) == "YES" || computed ||
				strings.HasPrefix(columnDefault, "nextval("),
			IsComputed: computed,
		}
		if dataType == "USER-DEFINED" {
			col.EnumValues = enums[udtName]
		}
		ts.Columns = append(ts.Columns, col)
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
		WHERE tc.table_schema = $1
		AND tc.table_name = $2
		AND tc.constraint_type IN ('PRIMARY KEY', 'UNIQUE')
		ORDER BY tc.constraint_name, kcu.ordinal_position
	`
	keysResult, err := c.db.ExecuteQuery(ctx, keysQuery, schema, table)
	if err != nil {
		return nil, nil, err
	}
	applyKeyRows(ts, keysResult)

	// Target columns are matched to source columns through their position in the referenced key
	fkQuery := `
		SELECT
			kcu.constraint_name,
			kcu.column_name,
			rk.table_name AS referenced_table_name,
			rk.column_name AS referenced_column_name
		FROM information_schema.key_column_usage kcu
		JOIN information_schema.referential_constraints rc
		ON rc.constraint_schema = kcu.constraint_schema
		AND rc.constraint_name = kcu.constraint_name
		JOIN information_schema.key_column_usage rk
		ON rk.constraint_schema = rc.unique_constraint_schema
		AND rk.constraint_name = rc.unique_constraint_name
		AND rk.ordinal_position = kcu.position_in_unique_constraint
		WHERE kcu.table_schema = $1
		AND kcu.table_name = $2
		ORDER BY kcu.constraint_name, kcu.ordinal_position
	`
	fkResult, err := c.db.ExecuteQuery(ctx, fkQuery, schema, table)
	if err != nil {
		return nil, nil, err
	}
	applyForeignKeyRows(ts, fkResult)

	checkQuery := `
		SELECT pg_get_constraintdef(con.oid) AS check_clause
		FROM pg_constraint con
		JOIN pg_class cls ON cls.oid = con.conrelid
		JOIN pg_namespace ns ON ns.oid = cls.relnamespace
		WHERE con.contype = 'c'
		AND ns.nspname = $1
		AND cls.relname = $2
		ORDER BY con.conname
	`
	checkResult, err := c.db.ExecuteQuery(ctx, checkQuery, schema, table)
	if err != nil {
		return nil, nil, err
	}

	var checks []string
	for _, row := range checkResult {
		checks = append(checks, connector.AsString(row["check_clause"]))
	}
	return ts, checks, nil
}
