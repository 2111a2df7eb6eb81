package connector

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Supported drivers
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ErrorClass tells the retry loop what to do with a failed statement
type ErrorClass int

const (
	// ErrorUnknown is retried like a transient error
	ErrorUnknown ErrorClass = iota
	ErrorTransient
	// ErrorPermanent will fail again with the same rows
	ErrorPermanent
)

// Dialect captures what differs between the supported database engines
type Dialect interface {
	Name() string
	DriverName() string
	DefaultPort() string
	DSN(dc *DatabaseConnector) string
	Placeholder() squirrel.PlaceholderFormat
	QuoteIdent(name string) string
	SupportsReturning() bool
	Classify(err error) ErrorClass
}

// DialectFor returns the dialect registered for a driver name or alias
func DialectFor(driverName string) (Dialect, error) {
	switch strings.ToLower(driverName) {
	case "mysql", "mariadb":
		return mysqlDialect{}, nil
	case "postgres", "postgresql", "pg":
		return postgresDialect{}, nil
	case "sqlite", "sqlite3":
		return sqliteDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q (expected mysql, postgres or sqlite)", driverName)
	}
}

func isBadConn(err error) bool {
	return errors.Is(err, driver.ErrBadConn)
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string        { return DriverMySQL }
func (mysqlDialect) DriverName() string  { return "mysql" }
func (mysqlDialect) DefaultPort() string { return "3306" }

func (mysqlDialect) DSN(dc *DatabaseConnector) string {
	cfg := mysql.NewConfig()
	cfg.User = dc.User
	cfg.Passwd = dc.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(dc.Host, dc.Port)
	cfg.DBName = dc.Database
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

func (mysqlDialect) Placeholder() squirrel.PlaceholderFormat { return squirrel.Question }

func (mysqlDialect) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (mysqlDialect) SupportsReturning() bool { return false }

func (mysqlDialect) Classify(err error) ErrorClass {
	if isBadConn(err) || errors.Is(err, mysql.ErrInvalidConn) {
		return ErrorTransient
	}
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return ErrorUnknown
	}
	switch myErr.Number {
	case 1205, 1213: // lock wait timeout, deadlock
		return ErrorTransient
	case 1048, 1062, 1264, 1292, 1364, 1366, 1406, 1451, 1452, 3819:
		return ErrorPermanent
	default:
		return ErrorUnknown
	}
}

type postgresDialect struct{}

func (postgresDialect) Name() string        { return DriverPostgres }
func (postgresDialect) DriverName() string  { return "postgres" }
func (postgresDialect) DefaultPort() string { return "5432" }

func (postgresDialect) DSN(dc *DatabaseConnector) string {
	sslMode := dc.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(dc.User, dc.Password),
		Host:     net.JoinHostPort(dc.Host, dc.Port),
		Path:     "/" + dc.Database,
		RawQuery: url.Values{"sslmode": []string{sslMode}}.Encode(),
	}
	return u.String()
}

func (postgresDialect) Placeholder() squirrel.PlaceholderFormat { return squirrel.Dollar }

func (postgresDialect) QuoteIdent(name string) string { return pq.QuoteIdentifier(name) }

func (postgresDialect) SupportsReturning() bool { return true }

func (postgresDialect) Classify(err error) ErrorClass {
	if isBadConn(err) {
		return ErrorTransient
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return ErrorUnknown
	}
	switch pqErr.Code {
	case "40001", "40P01", "55P03": // serialization failure, deadlock, lock not available
		return ErrorTransient
	}
	switch pqErr.Code.Class() {
	case "22", "23": // data exception, integrity constraint violation
		return ErrorPermanent
	}
	return ErrorUnknown
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string        { return DriverSQLite }
func (sqliteDialect) DriverName() string  { return "sqlite3" }
func (sqliteDialect) DefaultPort() string { return "" }

// DSN treats the database name as a file path and always enables foreign key enforcement
func (sqliteDialect) DSN(dc *DatabaseConnector) string {
	dsn := dc.Database
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	if !strings.Contains(dsn, "_foreign_keys") && !strings.Contains(dsn, "_fk") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_foreign_keys=on"
	}
	return dsn
}

func (sqliteDialect) Placeholder() squirrel.PlaceholderFormat { return squirrel.Question }

func (sqliteDialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// SupportsReturning is false so that the same LastInsertId path serves every SQLite version
func (sqliteDialect) SupportsReturning() bool { return false }

func (sqliteDialect) Classify(err error) ErrorClass {
	if isBadConn(err) {
		return ErrorTransient
	}
	var liteErr sqlite3.Error
	if !errors.As(err, &liteErr) {
		return ErrorUnknown
	}
	switch liteErr.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return ErrorTransient
	case sqlite3.ErrConstraint, sqlite3.ErrMismatch, sqlite3.ErrTooBig:
		return ErrorPermanent
	default:
		return ErrorUnknown
	}
}
