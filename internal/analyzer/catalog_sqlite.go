package analyzer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vitebski/db-autofill/internal/connector"
	"github.com/vitebski/db-autofill/pkg/models"
)

// sqliteCatalog reads sqlite_master and the table pragmas. CHECK constraints are not read.
type sqliteCatalog struct {
	db *connector.DatabaseConnector
}

func (c *sqliteCatalog) ListTables(ctx context.Context) ([]string, error) {
	tablesQuery := `
		SELECT name
		FROM sqlite_master
		WHERE type = 'table'
		AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`
	tablesResult, err := c.db.ExecuteQuery(ctx, tablesQuery)
	if err != nil {
		return nil, err
	}

	var tables []string
	for _, row := range tablesResult {
		tables = append(tables, connector.AsString(row["name"]))
	}
	return tables, nil
}

func (c *sqliteCatalog) ReadTable(ctx context.Context, table string) (*models.TableSchema, []string, error) {
	ts := &models.TableSchema{Name: table}

	// hidden: 1 = virtual table column, 2 and 3 = generated columns
	columnsResult, err := c.db.ExecuteQuery(ctx, `
		SELECT name, type, "notnull", dflt_value, pk, hidden
		FROM pragma_table_xinfo(?)
		ORDER BY cid
	`, table)
	if err != nil {
		return nil, nil, err
	}

	type pkColumn struct {
		name     string
		position int64
	}
	var pkColumns []pkColumn

	for _, row := range columnsResult {
		hidden, _ := connector.AsInt64(row["hidden"])
		if hidden == 1 {
			continue
		}
		notNull, _ := connector.AsInt64(row["notnull"])
		pk, _ := connector.AsInt64(row["pk"])
		declared := connector.AsString(row["type"])

		col := models.Column{
			Name:            connector.AsString(row["name"]),
			DataType:        declared,
			ColumnType:      declared,
			IsNullable:      notNull == 0,
			HasDefault:      row["dflt_value"] != nil,
			IsAutoGenerated: hidden == 2 || hidden == 3,
			IsComputed:      hidden == 2 || hidden == 3,
		}
		ts.Columns = append(ts.Columns, col)

		if pk > 0 {
			pkColumns = append(pkColumns, pkColumn{name: col.Name, position: pk})
		}
	}

	sort.Slice(pkColumns, func(i, j int) bool { return pkColumns[i].position < pkColumns[j].position })
	for _, pk := range pkColumns {
		ts.PrimaryKey = append(ts.PrimaryKey, pk.name)
	}

	// A lone INTEGER PRIMARY KEY is an alias of the rowid and assigned on insert
	if len(ts.PrimaryKey) == 1 {
		col, _ := ts.Column(ts.PrimaryKey[0])
		if strings.EqualFold(strings.TrimSpace(col.DataType), "INTEGER") {
			col.IsAutoGenerated = true
		}
	}

	fkResult, err := c.db.ExecuteQuery(ctx, `
		SELECT id, seq, "table", "from", "to"
		FROM pragma_foreign_key_list(?)
		ORDER BY id, seq
	`, table)
	if err != nil {
		return nil, nil, err
	}

	index := make(map[int64]int)
	implicitTarget := make(map[int64]bool)
	for _, row := range fkResult {
		id, _ := connector.AsInt64(row["id"])
		i, ok := index[id]
		if !ok {
			i = len(ts.ForeignKeys)
			index[id] = i
			ts.ForeignKeys = append(ts.ForeignKeys, models.ForeignKey{
				Name:            fmt.Sprintf("%s_fk_%d", table, id),
				Table:           table,
				ReferencedTable: connector.AsString(row["table"]),
			})
		}
		fk := &ts.ForeignKeys[i]
		fk.Columns = append(fk.Columns, connector.AsString(row["from"]))
		if row["to"] == nil {
			implicitTarget[id] = true
		} else {
			fk.ReferencedColumns = append(fk.ReferencedColumns, connector.AsString(row["to"]))
		}
	}
	for id := range implicitTarget {
		// Resolved to the parent's primary key once the parent is read
		ts.ForeignKeys[index[id]].ReferencedColumns = nil
	}

	indexResult, err := c.db.ExecuteQuery(ctx, `
		SELECT name, "unique", origin, partial
		FROM pragma_index_list(?)
		ORDER BY name
	`, table)
	if err != nil {
		return nil, nil, err
	}

	for _, row := range indexResult {
		unique, _ := connector.AsInt64(row["unique"])
		partial, _ := connector.AsInt64(row["partial"])
		if unique != 1 || partial == 1 || connector.AsString(row["origin"]) == "pk" {
			continue
		}

		name := connector.AsString(row["name"])
		infoResult, err := c.db.ExecuteQuery(ctx, `
			SELECT name
			FROM pragma_index_info(?)
			ORDER BY seqno
		`, name)
		if err != nil {
			return nil, nil, err
		}

		uc := models.UniqueConstraint{Name: name}
		for _, info := range infoResult {
			if info["name"] == nil {
				// Expression index
				uc.Columns = nil
				break
			}
			uc.Columns = append(uc.Columns, connector.AsString(info["name"]))
		}
		if len(uc.Columns) > 0 {
			ts.UniqueConstraints = append(ts.UniqueConstraints, uc)
		}
	}

	return ts, nil, nil
}
