package analyzer

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/db-autofill/internal/connector"
	"github.com/vitebski/db-autofill/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress log output during tests
	return logger
}

func fk(table, column, referenced string) models.ForeignKey {
	return models.ForeignKey{
		Name:              table + "_" + column + "_fk",
		Table:             table,
		Columns:           []string{column},
		ReferencedTable:   referenced,
		ReferencedColumns: []string{"id"},
	}
}

func schemaOf(closure []string, fks ...models.ForeignKey) *models.SchemaInfo {
	info := &models.SchemaInfo{Tables: make(map[string]*models.TableSchema), Requested: closure, Closure: closure}
	for _, name := range closure {
		info.Tables[name] = &models.TableSchema{
			Name:       name,
			Columns:    []models.Column{{Name: "id", SemanticType: models.Integer}},
			PrimaryKey: []string{"id"},
		}
	}
	for _, k := range fks {
		ts := info.Tables[k.Table]
		ts.ForeignKeys = append(ts.ForeignKeys, k)
	}
	return info
}

func position(order []string) map[string]int {
	pos := make(map[string]int, len(order))
	for i, t := range order {
		pos[t] = i
	}
	return pos
}

func TestResolveFillOrder(t *testing.T) {
	schema := schemaOf(
		[]string{"user_posts", "comments", "posts", "users"},
		fk("user_posts", "user_id", "users"),
		fk("user_posts", "post_id", "posts"),
		fk("comments", "post_id", "posts"),
		fk("comments", "user_id", "users"),
		fk("posts", "user_id", "users"),
	)

	order, err := ResolveFillOrder(schema)
	if err != nil {
		t.Fatalf("ResolveFillOrder returned error: %v", err)
	}

	if len(order) != 4 {
		t.Fatalf("Expected 4 tables, got %v", order)
	}

	// Every table comes after every table it references
	pos := position(order)
	for _, name := range schema.Closure {
		for _, parent := range schema.Tables[name].ReferencedTables() {
			if pos[parent] >= pos[name] {
				t.Errorf("Expected %s before %s in %v", parent, name, order)
			}
		}
	}

	// Roots are visited in closure order, parents in index order
	expected := []string{"users", "posts", "user_posts", "comments"}
	if !reflect.DeepEqual(order, expected) {
		t.Errorf("Expected order %v, got %v", expected, order)
	}

	again, _ := ResolveFillOrder(schema)
	if !reflect.DeepEqual(order, again) {
		t.Errorf("Expected a deterministic order, got %v then %v", order, again)
	}
}

func TestResolveFillOrderSelfReference(t *testing.T) {
	schema := schemaOf([]string{"employees", "departments"},
		fk("employees", "manager_id", "employees"),
		fk("employees", "department_id", "departments"),
	)

	order, err := ResolveFillOrder(schema)
	if err != nil {
		t.Fatalf("Self references must not be reported as cycles: %v", err)
	}
	if !reflect.DeepEqual(order, []string{"departments", "employees"}) {
		t.Errorf("unexpected order %v", order)
	}
}

func TestResolveFillOrderCycle(t *testing.T) {
	schema := schemaOf([]string{"b", "a", "c"},
		fk("a", "b_id", "b"),
		fk("b", "a_id", "a"),
		fk("c", "a_id", "a"),
	)

	_, err := ResolveFillOrder(schema)

	var cycleErr *models.CyclicDependencyError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Expected CyclicDependencyError, got %v", err)
	}
	if !reflect.DeepEqual(cycleErr.Tables, []string{"a", "b"}) {
		t.Errorf("Expected cycle [a b], got %v", cycleErr.Tables)
	}
	if !models.IsConfigurationFatal(err) {
		t.Error("Expected a cycle to be configuration-fatal")
	}
}

func TestFillLevels(t *testing.T) {
	schema := schemaOf(
		[]string{"comments", "posts", "users", "tags"},
		fk("comments", "post_id", "posts"),
		fk("posts", "user_id", "users"),
	)

	order, err := ResolveFillOrder(schema)
	if err != nil {
		t.Fatalf("ResolveFillOrder returned error: %v", err)
	}

	levels := FillLevels(schema, order)
	expected := [][]string{{"users", "tags"}, {"posts"}, {"comments"}}
	if !reflect.DeepEqual(levels, expected) {
		t.Errorf("Expected levels %v, got %v", expected, levels)
	}
}

func TestClassifyColumn(t *testing.T) {
	int64p := func(v int64) *int64 { return &v }

	tests := []struct {
		name     string
		driver   string
		column   models.Column
		semantic models.SemanticType
		min, max float64
	}{
		{"mysql int", connector.DriverMySQL, models.Column{DataType: "int", ColumnType: "int"}, models.Integer, -2147483648, 2147483647},
		{"mysql unsigned tinyint", connector.DriverMySQL, models.Column{DataType: "tinyint", ColumnType: "tinyint unsigned"}, models.Integer, 0, 255},
		{"mysql bool", connector.DriverMySQL, models.Column{DataType: "tinyint", ColumnType: "tinyint(1)"}, models.Boolean, 0, 0},
		{"mysql decimal", connector.DriverMySQL, models.Column{DataType: "decimal", ColumnType: "decimal(5,2)", NumericPrecision: int64p(5), NumericScale: int64p(2)}, models.Decimal, -999.99, 999.99},
		{"mysql varchar", connector.DriverMySQL, models.Column{DataType: "varchar", ColumnType: "varchar(20)"}, models.Text, 0, 0},
		{"mysql datetime", connector.DriverMySQL, models.Column{DataType: "datetime"}, models.Timestamp, 0, 0},
		{"mysql json", connector.DriverMySQL, models.Column{DataType: "json"}, models.JSON, 0, 0},
		{"mysql geometry", connector.DriverMySQL, models.Column{DataType: "geometry"}, models.Unsupported, 0, 0},
		{"postgres smallint", connector.DriverPostgres, models.Column{DataType: "smallint"}, models.Integer, -32768, 32767},
		{"postgres uuid", connector.DriverPostgres, models.Column{DataType: "uuid"}, models.UUID, 0, 0},
		{"postgres timestamptz", connector.DriverPostgres, models.Column{DataType: "timestamp with time zone"}, models.Timestamp, 0, 0},
		{"postgres time", connector.DriverPostgres, models.Column{DataType: "time without time zone"}, models.Time, 0, 0},
		{"postgres jsonb", connector.DriverPostgres, models.Column{DataType: "jsonb"}, models.JSON, 0, 0},
		{"postgres bytea", connector.DriverPostgres, models.Column{DataType: "bytea"}, models.Binary, 0, 0},
		{"postgres enum", connector.DriverPostgres, models.Column{DataType: "USER-DEFINED", EnumValues: []string{"a"}}, models.Enum, 0, 0},
		{"postgres inet", connector.DriverPostgres, models.Column{DataType: "inet"}, models.Unsupported, 0, 0},
		{"sqlite integer", connector.DriverSQLite, models.Column{DataType: "INTEGER"}, models.Integer, -9223372036854775808, 9223372036854775807},
		{"sqlite varchar", connector.DriverSQLite, models.Column{DataType: "VARCHAR(40)"}, models.Text, 0, 0},
		{"sqlite boolean", connector.DriverSQLite, models.Column{DataType: "BOOLEAN"}, models.Boolean, 0, 0},
		{"sqlite datetime", connector.DriverSQLite, models.Column{DataType: "DATETIME"}, models.Timestamp, 0, 0},
		{"sqlite date", connector.DriverSQLite, models.Column{DataType: "DATE"}, models.Date, 0, 0},
		{"sqlite blob", connector.DriverSQLite, models.Column{DataType: "BLOB"}, models.Binary, 0, 0},
		{"sqlite real", connector.DriverSQLite, models.Column{DataType: "REAL"}, models.Decimal, 0, 0},
		{"sqlite untyped", connector.DriverSQLite, models.Column{DataType: ""}, models.Text, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			col := tt.column
			classifyColumn(tt.driver, &col)
			if col.SemanticType != tt.semantic {
				t.Errorf("Expected %s, got %s", tt.semantic, col.SemanticType)
			}
			if tt.min != 0 || tt.max != 0 {
				if col.MinValue == nil || col.MaxValue == nil {
					t.Fatalf("Expected bounds [%v, %v], got none", tt.min, tt.max)
				}
				if *col.MinValue != tt.min || *col.MaxValue != tt.max {
					t.Errorf("Expected bounds [%v, %v], got [%v, %v]", tt.min, tt.max, *col.MinValue, *col.MaxValue)
				}
			}
		})
	}
}

func TestParseEnumValues(t *testing.T) {
	got := parseEnumValues("enum('draft','it''s live','archived')")
	expected := []string{"draft", "it's live", "archived"}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected %v, got %v", expected, got)
	}

	col := models.Column{DataType: "varchar", ColumnType: "varchar(36)"}
	classifyColumn(connector.DriverSQLite, &col)
	if col.CharMaxLength != nil {
		t.Errorf("Expected no length for a SQLite VARCHAR without size, got %v", *col.CharMaxLength)
	}
}

func checkTable() *models.TableSchema {
	return &models.TableSchema{
		Name: "products",
		Columns: []models.Column{
			{Name: "price", SemanticType: models.Decimal},
			{Name: "stock", SemanticType: models.Integer},
			{Name: "name", SemanticType: models.Text},
			{Name: "status", SemanticType: models.Text},
		},
	}
}

func TestApplyCheck(t *testing.T) {
	tests := []struct {
		clause  string
		column  string
		applied bool
		verify  func(c *models.Column) bool
	}{
		{"(`stock` >= 0)", "stock", true, func(c *models.Column) bool { return *c.MinValue == 0 }},
		{"CHECK ((stock > (0)::integer))", "stock", true, func(c *models.Column) bool { return *c.MinValue == 1 }},
		{"CHECK ((price < (100)::numeric))", "price", true, func(c *models.Column) bool { return *c.MaxValue == 99.99 }},
		{"(0 < stock)", "stock", true, func(c *models.Column) bool { return *c.MinValue == 1 }},
		{"stock BETWEEN 5 AND 10", "stock", true, func(c *models.Column) bool { return *c.MinValue == 5 && *c.MaxValue == 10 }},
		{"(char_length(`name`) <= 30)", "name", true, func(c *models.Column) bool { return *c.CharMaxLength == 30 }},
		{"CHECK ((length((name)::text) < 10))", "name", true, func(c *models.Column) bool { return *c.CharMaxLength == 9 }},
		{"(char_length(`name`) >= 3)", "name", true, func(c *models.Column) bool { return *c.CharMinLength == 3 && c.CharMaxLength == nil }},
		{"CHECK ((length((name)::text) > 2))", "name", true, func(c *models.Column) bool { return *c.CharMinLength == 3 }},
		{"(length(name) >= 2 AND length(name) <= 8)", "name", true, func(c *models.Column) bool {
			return *c.CharMinLength == 2 && *c.CharMaxLength == 8
		}},
		{"(`status` in (_utf8mb4'new',_utf8mb4'done'))", "status", true, func(c *models.Column) bool {
			return c.SemanticType == models.Enum && reflect.DeepEqual(c.EnumValues, []string{"new", "done"})
		}},
		{"CHECK (((status)::text = ANY ((ARRAY['new'::character varying, 'done'::character varying])::text[])))", "status", true, func(c *models.Column) bool {
			return c.SemanticType == models.Enum && reflect.DeepEqual(c.EnumValues, []string{"new", "done"})
		}},
		{"(stock >= 1 AND price <= 50)", "stock", true, func(c *models.Column) bool { return *c.MinValue == 1 }},
		{"(price > stock)", "price", false, nil},
		{"(lower(name) <> name)", "name", false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.clause, func(t *testing.T) {
			table := checkTable()
			applied := applyCheck(table, tt.clause)
			if applied != tt.applied {
				t.Fatalf("applyCheck(%q) = %v, want %v (normalized %q)", tt.clause, applied, tt.applied, normalizeCheck(tt.clause))
			}
			if !applied {
				return
			}
			col, _ := table.Column(tt.column)
			if !tt.verify(col) {
				t.Errorf("unexpected column after %q: %+v", tt.clause, col)
			}
		})
	}
}

func openSQLite(t *testing.T, ddl ...string) *connector.DatabaseConnector {
	t.Helper()
	db := connector.NewDatabaseConnector("sqlite", "", "", "", filepath.Join(t.TempDir(), "test.db"), "", testLogger())
	if err := db.Connect(); err != nil {
		t.Fatalf("Failed to open SQLite database: %v", err)
	}
	t.Cleanup(db.Disconnect)

	for _, stmt := range ddl {
		if _, err := db.DB.Exec(stmt); err != nil {
			t.Fatalf("Failed to execute %q: %v", stmt, err)
		}
	}
	return db
}

func TestIntrospectSQLite(t *testing.T) {
	db := openSQLite(t,
		`CREATE TABLE authors (
			id INTEGER PRIMARY KEY,
			email VARCHAR(120) NOT NULL UNIQUE,
			name TEXT NOT NULL,
			born DATE
		)`,
		`CREATE TABLE books (
			id INTEGER PRIMARY KEY,
			author_id INTEGER NOT NULL REFERENCES authors,
			isbn TEXT NOT NULL,
			edition INTEGER NOT NULL DEFAULT 1,
			price DECIMAL(8,2),
			UNIQUE (isbn, edition)
		)`,
		`CREATE TABLE unrelated (id INTEGER PRIMARY KEY)`,
	)

	sa := NewSchemaAnalyzer(db, testLogger())
	schema, err := sa.Introspect(context.Background(), []string{"books"})
	if err != nil {
		t.Fatalf("Introspect returned error: %v", err)
	}

	if !reflect.DeepEqual(schema.Closure, []string{"books", "authors"}) {
		t.Errorf("Expected closure [books authors], got %v", schema.Closure)
	}
	if !schema.IsRequested("books") || schema.IsRequested("authors") {
		t.Errorf("unexpected requested tables %v", schema.Requested)
	}

	books := schema.Tables["books"]
	if len(books.ForeignKeys) != 1 {
		t.Fatalf("Expected one foreign key on books, got %d", len(books.ForeignKeys))
	}
	ref := books.ForeignKeys[0]
	if ref.ReferencedTable != "authors" || !reflect.DeepEqual(ref.ReferencedColumns, []string{"id"}) || ref.IsNullable {
		t.Errorf("unexpected foreign key %+v", ref)
	}
	if len(books.UniqueConstraints) != 1 || !reflect.DeepEqual(books.UniqueConstraints[0].Columns, []string{"isbn", "edition"}) {
		t.Errorf("unexpected unique constraints %+v", books.UniqueConstraints)
	}

	id, _ := books.Column("id")
	if !id.IsAutoGenerated || id.Insertable() {
		t.Error("Expected INTEGER PRIMARY KEY to be generated by the database")
	}
	price, _ := books.Column("price")
	if price.SemanticType != models.Decimal || *price.MaxValue != 999999.99 {
		t.Errorf("unexpected price column %+v", price)
	}
	edition, _ := books.Column("edition")
	if !edition.HasDefault || edition.IsNullable {
		t.Errorf("unexpected edition column %+v", edition)
	}

	authors := schema.Tables["authors"]
	email, _ := authors.Column("email")
	if !email.IsUnique || email.SemanticType != models.Text || *email.CharMaxLength != 120 {
		t.Errorf("unexpected email column %+v", email)
	}
	born, _ := authors.Column("born")
	if born.SemanticType != models.Date || !born.IsNullable {
		t.Errorf("unexpected born column %+v", born)
	}
}

func TestIntrospectSharedPrimaryKey(t *testing.T) {
	db := openSQLite(t,
		`CREATE TABLE users (id INTEGER PRIMARY KEY)`,
		`CREATE TABLE profiles (user_id INTEGER PRIMARY KEY REFERENCES users(id), bio TEXT)`,
	)

	schema, err := NewSchemaAnalyzer(db, testLogger()).Introspect(context.Background(), []string{"profiles"})
	if err != nil {
		t.Fatalf("Introspect returned error: %v", err)
	}

	userID, _ := schema.Tables["profiles"].Column("user_id")
	if userID.IsAutoGenerated || !userID.Insertable() || !userID.IsUnique {
		t.Errorf("Expected a foreign key primary key to receive parent values, got %+v", userID)
	}
	id, _ := schema.Tables["users"].Column("id")
	if !id.IsAutoGenerated {
		t.Error("Expected the parent's INTEGER PRIMARY KEY to stay generated by the database")
	}
}

func TestIntrospectSchemaErrors(t *testing.T) {
	db := openSQLite(t,
		`CREATE TABLE parents (id INTEGER PRIMARY KEY, code TEXT)`,
		`CREATE TABLE children (id INTEGER PRIMARY KEY, parent_code TEXT REFERENCES parents(code))`,
	)

	sa := NewSchemaAnalyzer(db, testLogger())

	var schemaErr *models.SchemaError
	if _, err := sa.Introspect(context.Background(), []string{"missing"}); !errors.As(err, &schemaErr) {
		t.Errorf("Expected SchemaError for a missing table, got %v", err)
	}
	if _, err := sa.Introspect(context.Background(), []string{"children"}); !errors.As(err, &schemaErr) {
		t.Errorf("Expected SchemaError for a foreign key to a non-key column, got %v", err)
	}

	tables, err := sa.ListTables(context.Background())
	if err != nil || !reflect.DeepEqual(tables, []string{"children", "parents"}) {
		t.Errorf("ListTables = %v, %v", tables, err)
	}
}
