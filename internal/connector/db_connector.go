package connector

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Masterminds/squirrel"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// TxQuerier is a Querier that can open transactions (*sql.DB and *sql.Conn)
type TxQuerier interface {
	Querier
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// DatabaseConnector handles database connection and query execution
type DatabaseConnector struct {
	Driver   string
	Host     string
	User     string
	Password string
	Database string
	Port     string
	Schema   string
	SSLMode  string
	DB       *sql.DB
	Dialect  Dialect
	Logger   *logrus.Logger
}

// NewDatabaseConnector creates a new database connector; empty parameters fall back to DB_* environment variables
func NewDatabaseConnector(driver, host, user, password, database, port string, logger *logrus.Logger) *DatabaseConnector {
	if driver == "" {
		driver = getEnvOrDefault("DB_DRIVER", DriverPostgres)
	}
	if host == "" {
		host = getEnvOrDefault("DB_HOST", "localhost")
	}
	if user == "" {
		user = getEnvOrDefault("DB_USER", "")
	}
	if password == "" {
		password = getEnvOrDefault("DB_PASSWORD", "")
	}
	if database == "" {
		database = getEnvOrDefault("DB_NAME", "")
	}
	if port == "" {
		port = getEnvOrDefault("DB_PORT", "")
	}

	return &DatabaseConnector{
		Driver:   driver,
		Host:     host,
		User:     user,
		Password: password,
		Database: database,
		Port:     port,
		Logger:   logger,
	}
}

// NewFromDB wraps an already opened handle
func NewFromDB(driver string, db *sql.DB, logger *logrus.Logger) (*DatabaseConnector, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	return &DatabaseConnector{
		Driver:  dialect.Name(),
		DB:      db,
		Dialect: dialect,
		Logger:  logger,
	}, nil
}

// Connect establishes a connection to the configured database
func (dc *DatabaseConnector) Connect() error {
	dialect, err := DialectFor(dc.Driver)
	if err != nil {
		return err
	}
	dc.Dialect = dialect
	dc.Driver = dialect.Name()

	if dc.Database == "" {
		return fmt.Errorf("database name must be provided either in the config, as an argument or as DB_NAME environment variable")
	}
	if dc.Port == "" {
		dc.Port = dialect.DefaultPort()
	}

	db, err := sql.Open(dialect.DriverName(), dialect.DSN(dc))
	if err != nil {
		dc.Logger.Errorf("Error opening %s database: %v", dialect.Name(), err)
		return err
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		dc.Logger.Errorf("Error pinging %s database: %v", dialect.Name(), err)
		db.Close()
		return err
	}

	dc.DB = db
	dc.Logger.Infof("Connected to %s database: %s", dialect.Name(), dc.Database)
	return nil
}

// Disconnect closes the database connection
func (dc *DatabaseConnector) Disconnect() {
	if dc.DB != nil {
		err := dc.DB.Close()
		if err != nil {
			dc.Logger.Errorf("Error closing database connection: %v", err)
		} else {
			dc.Logger.Infof("%s connection closed", dc.Driver)
		}
	}
}

// SchemaName returns the namespace catalog queries are restricted to
func (dc *DatabaseConnector) SchemaName() string {
	if dc.Schema != "" {
		return dc.Schema
	}
	switch dc.Driver {
	case DriverPostgres:
		return "public"
	case DriverMySQL:
		return dc.Database
	default:
		return "main"
	}
}

// Table returns the quoted, schema-qualified name of a table
func (dc *DatabaseConnector) Table(name string) string {
	if dc.Driver == DriverPostgres && dc.Schema != "" {
		return dc.Dialect.QuoteIdent(dc.Schema) + "." + dc.Dialect.QuoteIdent(name)
	}
	return dc.Dialect.QuoteIdent(name)
}

func (dc *DatabaseConnector) quoteAll(names []string) []string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = dc.Dialect.QuoteIdent(name)
	}
	return quoted
}

func (dc *DatabaseConnector) builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(dc.Dialect.Placeholder())
}

// ExecuteQuery executes a SQL query on the shared handle and returns the results
func (dc *DatabaseConnector) ExecuteQuery(ctx context.Context, query string, params ...interface{}) ([]map[string]interface{}, error) {
	if dc.DB == nil {
		if err := dc.Connect(); err != nil {
			return nil, err
		}
	}
	results, err := QueryMaps(ctx, dc.DB, query, params...)
	if err != nil {
		dc.Logger.Debugf("Error executing query: %v", err)
		return nil, err
	}
	return results, nil
}

// ExecuteStatement executes a SQL statement and returns the number of affected rows
func (dc *DatabaseConnector) ExecuteStatement(ctx context.Context, query string, params ...interface{}) (int64, error) {
	if dc.DB == nil {
		if err := dc.Connect(); err != nil {
			return 0, err
		}
	}

	result, err := dc.DB.ExecContext(ctx, query, params...)
	if err != nil {
		dc.Logger.Errorf("Error executing statement: %v", err)
		return 0, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		dc.Logger.Errorf("Error getting affected rows: %v", err)
		return 0, err
	}

	return affected, nil
}

// QueryMaps executes a query and returns every row as a map keyed by lower-cased column name
func QueryMaps(ctx context.Context, q Querier, query string, params ...interface{}) ([]map[string]interface{}, error) {
	rows, err := q.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}

	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range columns {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[strings.ToLower(col)] = normalizeValue(values[i])
		}

		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// normalizeValue converts driver byte slices to strings
func normalizeValue(val interface{}) interface{} {
	if b, ok := val.([]byte); ok {
		return string(b)
	}
	return val
}

// getEnvOrDefault gets an environment variable or returns a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// AsString renders a catalog value as a string
func AsString(val interface{}) string {
	if val == nil {
		return ""
	}
	if s, ok := val.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", val)
}

// AsInt64 renders a catalog value as an integer
func AsInt64(val interface{}) (int64, bool) {
	switch v := val.(type) {
	case nil:
		return 0, false
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int:
		return int64(v), true
	case uint64:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		parsed, err := strconv.ParseInt(AsString(v), 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	}
}
