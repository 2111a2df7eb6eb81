package connector

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

func createTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress log output during tests
	return logger
}

func TestNewDatabaseConnector(t *testing.T) {
	// Set environment variables for testing
	t.Setenv("DB_DRIVER", "mysql")
	t.Setenv("DB_HOST", "test-host")
	t.Setenv("DB_USER", "test-user")
	t.Setenv("DB_PASSWORD", "test-password")
	t.Setenv("DB_NAME", "test-database")
	t.Setenv("DB_PORT", "3307")

	logger := createTestLogger()

	db := NewDatabaseConnector("", "", "", "", "", "", logger)

	// Check that environment variables were used
	if db.Driver != "mysql" {
		t.Errorf("Expected driver to be 'mysql', got '%s'", db.Driver)
	}
	if db.Host != "test-host" {
		t.Errorf("Expected host to be 'test-host', got '%s'", db.Host)
	}
	if db.User != "test-user" {
		t.Errorf("Expected user to be 'test-user', got '%s'", db.User)
	}
	if db.Password != "test-password" {
		t.Errorf("Expected password to be 'test-password', got '%s'", db.Password)
	}
	if db.Database != "test-database" {
		t.Errorf("Expected database to be 'test-database', got '%s'", db.Database)
	}
	if db.Port != "3307" {
		t.Errorf("Expected port to be '3307', got '%s'", db.Port)
	}

	// Test with explicit parameters
	db = NewDatabaseConnector("postgres", "explicit-host", "explicit-user", "explicit-password", "explicit-database", "5433", logger)

	if db.Driver != "postgres" {
		t.Errorf("Expected driver to be 'postgres', got '%s'", db.Driver)
	}
	if db.Host != "explicit-host" {
		t.Errorf("Expected host to be 'explicit-host', got '%s'", db.Host)
	}
	if db.Database != "explicit-database" {
		t.Errorf("Expected database to be 'explicit-database', got '%s'", db.Database)
	}
	if db.Port != "5433" {
		t.Errorf("Expected port to be '5433', got '%s'", db.Port)
	}
}

func TestDialectFor(t *testing.T) {
	tests := []struct {
		driver string
		want   string
	}{
		{"mysql", DriverMySQL},
		{"MariaDB", DriverMySQL},
		{"postgresql", DriverPostgres},
		{"pg", DriverPostgres},
		{"sqlite3", DriverSQLite},
	}
	for _, tt := range tests {
		dialect, err := DialectFor(tt.driver)
		if err != nil {
			t.Errorf("DialectFor(%q) returned error: %v", tt.driver, err)
			continue
		}
		if dialect.Name() != tt.want {
			t.Errorf("DialectFor(%q) = %s, want %s", tt.driver, dialect.Name(), tt.want)
		}
	}

	if _, err := DialectFor("oracle"); err == nil {
		t.Error("Expected an error for an unsupported driver")
	}
}

func TestDSN(t *testing.T) {
	dc := &DatabaseConnector{Host: "db", User: "app", Password: "p@ss", Database: "shop", Port: "3306"}

	mysqlDSN := mysqlDialect{}.DSN(dc)
	if !strings.HasPrefix(mysqlDSN, "app:p@ss@tcp(db:3306)/shop") || !strings.Contains(mysqlDSN, "parseTime=true") {
		t.Errorf("unexpected MySQL DSN %q", mysqlDSN)
	}

	dc.Port = "5432"
	pgDSN := postgresDialect{}.DSN(dc)
	if !strings.HasPrefix(pgDSN, "postgres://app:p%40ss@db:5432/shop") || !strings.Contains(pgDSN, "sslmode=disable") {
		t.Errorf("unexpected PostgreSQL DSN %q", pgDSN)
	}

	dc.Database = "/tmp/test.db"
	if got := (sqliteDialect{}).DSN(dc); got != "file:/tmp/test.db?_foreign_keys=on" {
		t.Errorf("unexpected SQLite DSN %q", got)
	}
}

func TestQuoteIdent(t *testing.T) {
	if got := (mysqlDialect{}).QuoteIdent("order"); got != "`order`" {
		t.Errorf("MySQL quoting: got %s", got)
	}
	if got := (postgresDialect{}).QuoteIdent(`we"ird`); got != `"we""ird"` {
		t.Errorf("PostgreSQL quoting: got %s", got)
	}
	if got := (sqliteDialect{}).QuoteIdent("user"); got != `"user"` {
		t.Errorf("SQLite quoting: got %s", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		err     error
		want    ErrorClass
	}{
		{"mysql deadlock", mysqlDialect{}, &mysql.MySQLError{Number: 1213}, ErrorTransient},
		{"mysql duplicate", mysqlDialect{}, &mysql.MySQLError{Number: 1062}, ErrorPermanent},
		{"mysql other", mysqlDialect{}, &mysql.MySQLError{Number: 1045}, ErrorUnknown},
		{"postgres serialization", postgresDialect{}, &pq.Error{Code: "40001"}, ErrorTransient},
		{"postgres unique violation", postgresDialect{}, &pq.Error{Code: "23505"}, ErrorPermanent},
		{"postgres invalid text", postgresDialect{}, &pq.Error{Code: "22P02"}, ErrorPermanent},
		{"sqlite busy", sqliteDialect{}, sqlite3.Error{Code: sqlite3.ErrBusy}, ErrorTransient},
		{"sqlite constraint", sqliteDialect{}, sqlite3.Error{Code: sqlite3.ErrConstraint}, ErrorPermanent},
		{"wrapped", postgresDialect{}, &RowError{Row: 3, Err: &pq.Error{Code: "40P01"}}, ErrorTransient},
		{"plain", sqliteDialect{}, errors.New("boom"), ErrorUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.dialect.Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func newMockConnector(t *testing.T, driver string) (*DatabaseConnector, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	dc, err := NewFromDB(driver, db, createTestLogger())
	if err != nil {
		t.Fatalf("NewFromDB returned error: %v", err)
	}
	return dc, mock
}

func TestInsertBatchLastInsertID(t *testing.T) {
	dc, mock := newMockConnector(t, "mysql")

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO `authors` \\(`name`,`email`\\) VALUES \\(\\?,\\?\\)")
	mock.ExpectExec("INSERT INTO `authors`").WithArgs("Ann", "ann@example.com").WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectExec("INSERT INTO `authors`").WithArgs("Bob", nil).WillReturnResult(sqlmock.NewResult(8, 1))
	mock.ExpectCommit()

	rows := [][]interface{}{{"Ann", "ann@example.com"}, {"Bob", nil}}
	ids, err := dc.InsertBatch(context.Background(), dc.DB, "authors", []string{"name", "email"}, rows, []string{"id"})
	if err != nil {
		t.Fatalf("InsertBatch returned error: %v", err)
	}
	if len(ids) != 2 || ids[0]["id"] != int64(7) || ids[1]["id"] != int64(8) {
		t.Errorf("unexpected generated keys %v", ids)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("There were unfulfilled expectations: %s", err)
	}
}

func TestInsertBatchReturning(t *testing.T) {
	dc, mock := newMockConnector(t, "postgres")

	mock.ExpectBegin()
	mock.ExpectPrepare(`INSERT INTO "books" \("title"\) VALUES \(\$1\) RETURNING "id"`)
	mock.ExpectQuery(`INSERT INTO "books"`).WithArgs("Dune").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(41)))
	mock.ExpectCommit()

	ids, err := dc.InsertBatch(context.Background(), dc.DB, "books", []string{"title"}, [][]interface{}{{"Dune"}}, []string{"id"})
	if err != nil {
		t.Fatalf("InsertBatch returned error: %v", err)
	}
	if len(ids) != 1 || ids[0]["id"] != int64(41) {
		t.Errorf("unexpected generated keys %v", ids)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("There were unfulfilled expectations: %s", err)
	}
}

func TestInsertBatchRollsBackOnFailure(t *testing.T) {
	dc, mock := newMockConnector(t, "sqlite")

	mock.ExpectBegin()
	mock.ExpectPrepare(`INSERT INTO "tags"`)
	mock.ExpectExec(`INSERT INTO "tags"`).WithArgs("a").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO "tags"`).WithArgs("a").WillReturnError(sqlite3.Error{Code: sqlite3.ErrConstraint})
	mock.ExpectRollback()

	_, err := dc.InsertBatch(context.Background(), dc.DB, "tags", []string{"label"}, [][]interface{}{{"a"}, {"a"}}, nil)

	var rowErr *RowError
	if !errors.As(err, &rowErr) {
		t.Fatalf("Expected RowError, got %v", err)
	}
	if rowErr.Row != 1 {
		t.Errorf("Expected failure on row 1, got %d", rowErr.Row)
	}
	if dc.Dialect.Classify(err) != ErrorPermanent {
		t.Errorf("Expected a constraint failure to be permanent")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("There were unfulfilled expectations: %s", err)
	}
}

func TestInsertBatchDefaultValues(t *testing.T) {
	dc, mock := newMockConnector(t, "mysql")

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO `counters` \\(\\) VALUES \\(\\)")
	mock.ExpectExec("INSERT INTO `counters`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if _, err := dc.InsertBatch(context.Background(), dc.DB, "counters", nil, [][]interface{}{{}}, []string{"id"}); err != nil {
		t.Fatalf("InsertBatch returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("There were unfulfilled expectations: %s", err)
	}
}

func TestUpdateRows(t *testing.T) {
	dc, mock := newMockConnector(t, "postgres")

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "employees" SET "manager_id" = \$1 WHERE "id" = \$2`).WithArgs(int64(1), int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "employees" SET "manager_id" = \$1 WHERE "id" = \$2`).WithArgs(int64(2), int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	updates := []RowUpdate{
		{Values: []interface{}{int64(1)}, Key: []interface{}{int64(2)}},
		{Values: []interface{}{int64(2)}, Key: []interface{}{int64(1)}},
	}
	if err := dc.UpdateRows(context.Background(), dc.DB, "employees", []string{"manager_id"}, []string{"id"}, updates); err != nil {
		t.Fatalf("UpdateRows returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("There were unfulfilled expectations: %s", err)
	}
}

func TestCountMaxAndKeys(t *testing.T) {
	dc, mock := newMockConnector(t, "mysql")
	ctx := context.Background()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM `authors`").WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(int64(12)))
	mock.ExpectQuery("SELECT MAX\\(`id`\\) FROM `authors`").WillReturnRows(sqlmock.NewRows([]string{"MAX(id)"}).AddRow(nil))
	mock.ExpectQuery("SELECT `id` FROM `authors` ORDER BY `id` LIMIT 2").
		WillReturnRows(sqlmock.NewRows([]string{"ID"}).AddRow(int64(1)).AddRow(int64(2)))

	count, err := dc.CountRows(ctx, dc.DB, "authors")
	if err != nil || count != 12 {
		t.Errorf("CountRows = %d, %v; want 12", count, err)
	}

	max, err := dc.MaxInt(ctx, dc.DB, "authors", "id")
	if err != nil || max != 0 {
		t.Errorf("MaxInt = %d, %v; want 0 for an empty table", max, err)
	}

	keys, err := dc.FetchKeys(ctx, dc.DB, "authors", []string{"id"}, 2)
	if err != nil {
		t.Fatalf("FetchKeys returned error: %v", err)
	}
	if len(keys) != 2 || keys[0][0] != int64(1) || keys[1][0] != int64(2) {
		t.Errorf("unexpected keys %v", keys)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("There were unfulfilled expectations: %s", err)
	}
}

func TestAsInt64(t *testing.T) {
	tests := []struct {
		in   interface{}
		want int64
		ok   bool
	}{
		{int64(5), 5, true},
		{"42", 42, true},
		{float64(3), 3, true},
		{nil, 0, false},
		{"abc", 0, false},
	}
	for _, tt := range tests {
		got, ok := AsInt64(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("AsInt64(%v) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
