package connector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
)

// RowError carries the position of the row a batch statement failed on
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// RowUpdate assigns Values to the columns being updated on the row identified by Key
type RowUpdate struct {
	Values []interface{}
	Key    []interface{}
}

// insertStatement builds the parameterized INSERT used for every row of a batch
func (dc *DatabaseConnector) insertStatement(table string, columns []string, sample []interface{}, returning []string) (string, error) {
	if len(columns) == 0 {
		// Only database defaults are written
		var query string
		if dc.Driver == DriverMySQL {
			query = fmt.Sprintf("INSERT INTO %s () VALUES ()", dc.Table(table))
		} else {
			query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", dc.Table(table))
		}
		if dc.Dialect.SupportsReturning() && len(returning) > 0 {
			query += " RETURNING " + strings.Join(dc.quoteAll(returning), ", ")
		}
		return query, nil
	}

	insert := dc.builder().
		Insert(dc.Table(table)).
		Columns(dc.quoteAll(columns)...).
		Values(sample...)
	if dc.Dialect.SupportsReturning() && len(returning) > 0 {
		insert = insert.Suffix("RETURNING " + strings.Join(dc.quoteAll(returning), ", "))
	}

	query, _, err := insert.ToSql()
	return query, err
}

// InsertBatch inserts rows inside one transaction on conn. The whole batch is rolled back on the
// first failing row. For every inserted row the values of the returning columns are reported:
// through RETURNING where the dialect supports it, otherwise returning[0] receives LastInsertId.
func (dc *DatabaseConnector) InsertBatch(ctx context.Context, conn TxQuerier, table string, columns []string, rows [][]interface{}, returning []string) ([]map[string]interface{}, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	query, err := dc.insertStatement(table, columns, rows[0], returning)
	if err != nil {
		return nil, fmt.Errorf("failed to build insert for %s: %w", table, err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	defer stmt.Close()

	useReturning := dc.Dialect.SupportsReturning() && len(returning) > 0
	generated := make([]map[string]interface{}, 0, len(rows))

	for i, row := range rows {
		values := make(map[string]interface{}, len(returning))

		if useReturning {
			scanned := make([]interface{}, len(returning))
			ptrs := make([]interface{}, len(returning))
			for j := range scanned {
				ptrs[j] = &scanned[j]
			}
			if err := stmt.QueryRowContext(ctx, row...).Scan(ptrs...); err != nil {
				tx.Rollback()
				return nil, &RowError{Row: i, Err: err}
			}
			for j, col := range returning {
				values[col] = normalizeValue(scanned[j])
			}
		} else {
			result, err := stmt.ExecContext(ctx, row...)
			if err != nil {
				tx.Rollback()
				return nil, &RowError{Row: i, Err: err}
			}
			if len(returning) > 0 {
				id, err := result.LastInsertId()
				if err != nil {
					tx.Rollback()
					return nil, &RowError{Row: i, Err: err}
				}
				values[returning[0]] = id
			}
		}

		generated = append(generated, values)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return generated, nil
}

// UpdateRows applies updates to rows identified by their key columns, in one transaction
func (dc *DatabaseConnector) UpdateRows(ctx context.Context, conn TxQuerier, table string, columns []string, keyColumns []string, updates []RowUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	for i, upd := range updates {
		update := dc.builder().Update(dc.Table(table))
		for j, col := range columns {
			update = update.Set(dc.Dialect.QuoteIdent(col), upd.Values[j])
		}
		where := squirrel.Eq{}
		for j, col := range keyColumns {
			where[dc.Dialect.QuoteIdent(col)] = upd.Key[j]
		}

		query, args, err := update.Where(where).ToSql()
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to build update for %s: %w", table, err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			tx.Rollback()
			return &RowError{Row: i, Err: err}
		}
	}

	return tx.Commit()
}

// CountRows returns the number of rows in a table
func (dc *DatabaseConnector) CountRows(ctx context.Context, q Querier, table string) (int64, error) {
	query, args, err := dc.builder().Select("COUNT(*)").From(dc.Table(table)).ToSql()
	if err != nil {
		return 0, err
	}

	var count int64
	if err := q.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rows of %s: %w", table, err)
	}
	return count, nil
}

// MaxInt returns the largest value of an integer column, zero for an empty table
func (dc *DatabaseConnector) MaxInt(ctx context.Context, q Querier, table, column string) (int64, error) {
	col := dc.Dialect.QuoteIdent(column)
	query, args, err := dc.builder().Select("MAX(" + col + ")").From(dc.Table(table)).ToSql()
	if err != nil {
		return 0, err
	}

	var max sql.NullInt64
	if err := q.QueryRowContext(ctx, query, args...).Scan(&max); err != nil {
		return 0, fmt.Errorf("failed to read max(%s) of %s: %w", column, table, err)
	}
	return max.Int64, nil
}

// FetchKeys returns up to limit tuples of the given columns from existing rows; limit <= 0 means all
func (dc *DatabaseConnector) FetchKeys(ctx context.Context, q Querier, table string, columns []string, limit int) ([][]interface{}, error) {
	if len(columns) == 0 {
		return nil, nil
	}

	quoted := dc.quoteAll(columns)
	sel := dc.builder().Select(quoted...).From(dc.Table(table)).OrderBy(quoted...)
	if limit > 0 {
		sel = sel.Limit(uint64(limit))
	}

	query, args, err := sel.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := QueryMaps(ctx, q, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch keys of %s: %w", table, err)
	}

	tuples := make([][]interface{}, 0, len(rows))
	for _, row := range rows {
		tuple := make([]interface{}, len(columns))
		for i, col := range columns {
			tuple[i] = row[strings.ToLower(col)]
		}
		tuples = append(tuples, tuple)
	}
	return tuples, nil
}
