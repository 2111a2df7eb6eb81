package analyzer

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/db-autofill/internal/connector"
	"github.com/vitebski/db-autofill/pkg/models"
)

// catalog reads raw table definitions from one database engine
type catalog interface {
	// ListTables returns every base table of the configured schema
	ListTables(ctx context.Context) ([]string, error)
	// ReadTable returns the table definition and its CHECK clauses
	ReadTable(ctx context.Context, table string) (*models.TableSchema, []string, error)
}

// SchemaAnalyzer introspects the database schema and the foreign key closure of the requested tables
type SchemaAnalyzer struct {
	DB     *connector.DatabaseConnector
	Tables []string
	Schema *models.SchemaInfo
	Logger *logrus.Logger

	catalog catalog
}

// NewSchemaAnalyzer creates a new schema analyzer for the connector's dialect
func NewSchemaAnalyzer(db *connector.DatabaseConnector, logger *logrus.Logger) *SchemaAnalyzer {
	sa := &SchemaAnalyzer{
		DB:     db,
		Logger: logger,
	}

	switch db.Driver {
	case connector.DriverMySQL:
		sa.catalog = &mysqlCatalog{db: db}
	case connector.DriverPostgres:
		sa.catalog = &postgresCatalog{db: db}
	default:
		sa.catalog = &sqliteCatalog{db: db}
	}
	return sa
}

// ListTables returns every base table of the database
func (sa *SchemaAnalyzer) ListTables(ctx context.Context) ([]string, error) {
	if sa.Tables != nil {
		return sa.Tables, nil
	}
	tables, err := sa.catalog.ListTables(ctx)
	if err != nil {
		sa.Logger.Errorf("Error getting tables: %v", err)
		return nil, err
	}
	if tables == nil {
		tables = []string{}
	}
	sa.Tables = tables
	return tables, nil
}

// Introspect reads the requested tables and every table they transitively reference
func (sa *SchemaAnalyzer) Introspect(ctx context.Context, requested []string) (*models.SchemaInfo, error) {
	tables, err := sa.ListTables(ctx)
	if err != nil {
		return nil, err
	}

	exists := make(map[string]bool, len(tables))
	for _, table := range tables {
		exists[table] = true
	}
	for _, table := range requested {
		if !exists[table] {
			return nil, &models.SchemaError{Table: table, Reason: "table does not exist"}
		}
	}

	info := &models.SchemaInfo{
		Tables:    make(map[string]*models.TableSchema),
		Requested: requested,
	}

	// Breadth-first over foreign keys: requested tables first, then their parents in discovery order
	queue := append([]string(nil), requested...)
	queued := make(map[string]bool)
	for _, table := range requested {
		queued[table] = true
	}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		ts, checks, err := sa.catalog.ReadTable(ctx, name)
		if err != nil {
			sa.Logger.Errorf("Failed to read table %s: %v", name, err)
			return nil, fmt.Errorf("failed to read table %s: %w", name, err)
		}

		if err := sa.prepareColumns(ts, checks); err != nil {
			return nil, err
		}

		info.Tables[name] = ts
		info.Closure = append(info.Closure, name)

		for _, fk := range ts.ForeignKeys {
			if !exists[fk.ReferencedTable] {
				return nil, &models.SchemaError{
					Table:  name,
					Reason: fmt.Sprintf("foreign key %s references missing table %s", fk.Name, fk.ReferencedTable),
				}
			}
			if !queued[fk.ReferencedTable] {
				queued[fk.ReferencedTable] = true
				queue = append(queue, fk.ReferencedTable)
				sa.Logger.Debugf("Table %s pulled in as parent of %s", fk.ReferencedTable, name)
			}
		}
	}

	for _, name := range info.Closure {
		if err := resolveForeignKeys(info, info.Tables[name]); err != nil {
			return nil, err
		}
	}

	sa.Schema = info
	sa.Logger.Infof("Introspected %d table(s), %d requested", len(info.Closure), len(requested))
	return info, nil
}

// prepareColumns classifies every column, applies CHECK clauses and rejects columns no value can be written to
func (sa *SchemaAnalyzer) prepareColumns(ts *models.TableSchema, checks []string) error {
	for i := range ts.Columns {
		classifyColumn(sa.DB.Driver, &ts.Columns[i])
	}

	for _, clause := range checks {
		if applyCheck(ts, clause) {
			continue
		}
		if col := checkColumn(ts, clause); col != nil {
			col.UnsupportedChecks = append(col.UnsupportedChecks, clause)
		}
		sa.Logger.Warningf("Table %s: CHECK %s is not understood, generated values may violate it", ts.Name, clause)
	}

	for _, pk := range ts.PrimaryKey {
		if col, ok := ts.Column(pk); ok {
			col.IsNullable = false
		}
	}

	// Foreign key values come from the parent, so sequences and rowid aliases get explicit values
	for i := range ts.Columns {
		col := &ts.Columns[i]
		if !col.IsAutoGenerated || col.IsComputed {
			continue
		}
		if _, ok := ts.ForeignKeyFor(col.Name); ok {
			col.IsAutoGenerated = false
			sa.Logger.Debugf("Table %s: key column %s is a foreign key and receives parent values", ts.Name, col.Name)
		}
	}
	for _, set := range ts.UniqueSets() {
		if len(set) != 1 {
			continue
		}
		if col, ok := ts.Column(set[0]); ok {
			col.IsUnique = true
		}
	}

	for i := range ts.Columns {
		col := &ts.Columns[i]
		if col.SemanticType == models.Enum && len(col.EnumValues) == 0 {
			col.SemanticType = models.Unsupported
		}
		if col.SemanticType != models.Unsupported || col.IsAutoGenerated {
			continue
		}
		if !col.IsNullable && !col.HasDefault {
			return &models.SchemaError{
				Table:  ts.Name,
				Column: col.Name,
				Reason: fmt.Sprintf("NOT NULL column of unsupported type %s has no default", col.ColumnType),
			}
		}
		sa.Logger.Warningf("Table %s: column %s of unsupported type %s is left to the database", ts.Name, col.Name, col.ColumnType)
	}
	return nil
}

// resolveForeignKeys fills in implicit target columns and checks that every target is a key of its table
func resolveForeignKeys(info *models.SchemaInfo, ts *models.TableSchema) error {
	for i := range ts.ForeignKeys {
		fk := &ts.ForeignKeys[i]
		parent := info.Tables[fk.ReferencedTable]

		if len(fk.ReferencedColumns) == 0 {
			fk.ReferencedColumns = parent.PrimaryKey
		}
		if len(fk.ReferencedColumns) != len(fk.Columns) {
			return &models.SchemaError{
				Table:  ts.Name,
				Reason: fmt.Sprintf("foreign key %s has %d column(s) but references %d", fk.Name, len(fk.Columns), len(fk.ReferencedColumns)),
			}
		}

		for _, col := range fk.ReferencedColumns {
			if _, ok := parent.Column(col); !ok {
				return &models.SchemaError{
					Table:  ts.Name,
					Reason: fmt.Sprintf("foreign key %s references missing column %s.%s", fk.Name, parent.Name, col),
				}
			}
		}
		if !isKey(parent, fk.ReferencedColumns) {
			return &models.SchemaError{
				Table: ts.Name,
				Reason: fmt.Sprintf("foreign key %s references %s(%s), which is neither a primary key nor unique",
					fk.Name, parent.Name, strings.Join(fk.ReferencedColumns, ", ")),
			}
		}

		fk.Table = ts.Name
		fk.IsNullable = true
		for _, name := range fk.Columns {
			col, ok := ts.Column(name)
			if !ok {
				return &models.SchemaError{Table: ts.Name, Column: name, Reason: fmt.Sprintf("foreign key %s uses a missing column", fk.Name)}
			}
			if !col.IsNullable {
				fk.IsNullable = false
			}
		}
	}
	return nil
}

// isKey reports whether columns, in any order, form the primary key or a unique constraint
func isKey(ts *models.TableSchema, columns []string) bool {
	for _, set := range ts.UniqueSets() {
		if sameColumns(set, columns) {
			return true
		}
	}
	return false
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]bool, len(a))
	for _, c := range a {
		seen[c] = true
	}
	for _, c := range b {
		if !seen[c] {
			return false
		}
	}
	return true
}

// applyKeyRows collects primary key and unique constraint rows ordered by constraint and position
func applyKeyRows(ts *models.TableSchema, rows []map[string]interface{}) {
	index := make(map[string]int)
	for _, row := range rows {
		name := connector.AsString(row["constraint_name"])
		column := connector.AsString(row["column_name"])

		if connector.AsString(row["constraint_type"]) == "PRIMARY KEY" {
			ts.PrimaryKey = append(ts.PrimaryKey, column)
			continue
		}
		i, ok := index[name]
		if !ok {
			i = len(ts.UniqueConstraints)
			index[name] = i
			ts.UniqueConstraints = append(ts.UniqueConstraints, models.UniqueConstraint{Name: name})
		}
		ts.UniqueConstraints[i].Columns = append(ts.UniqueConstraints[i].Columns, column)
	}
}

// applyForeignKeyRows groups foreign key column rows into constraints
func applyForeignKeyRows(ts *models.TableSchema, rows []map[string]interface{}) {
	index := make(map[string]int)
	for _, row := range rows {
		name := connector.AsString(row["constraint_name"])
		i, ok := index[name]
		if !ok {
			i = len(ts.ForeignKeys)
			index[name] = i
			ts.ForeignKeys = append(ts.ForeignKeys, models.ForeignKey{
				Name:            name,
				Table:           ts.Name,
				ReferencedTable: connector.AsString(row["referenced_table_name"]),
			})
		}
		fk := &ts.ForeignKeys[i]
		fk.Columns = append(fk.Columns, connector.AsString(row["column_name"]))
		fk.ReferencedColumns = append(fk.ReferencedColumns, connector.AsString(row["referenced_column_name"]))
	}
}

func optionalInt(val interface{}) *int64 {
	if v, ok := connector.AsInt64(val); ok {
		return &v
	}
	return nil
}
