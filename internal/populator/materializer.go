package populator

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/db-autofill/internal/config"
	"github.com/vitebski/db-autofill/internal/connector"
	"github.com/vitebski/db-autofill/internal/generator"
	"github.com/vitebski/db-autofill/pkg/models"
	"go.uber.org/multierr"
)

const maxRowAttempts = 10000

// TableMaterializer generates and inserts the rows of one table on its own connection
type TableMaterializer struct {
	DB       *connector.DatabaseConnector
	Conn     connector.TxQuerier
	Registry *generator.Registry
	Config   *config.Config
	Table    *models.TableSchema
	Pools    map[string]*KeyPool
	Index    int
	Logger   *logrus.Logger

	state     *generator.TableState
	result    *models.GenerationResult
	columns   []string
	ordered   []*models.Column
	returning []string
	multiSets [][]string
	deferred  []deferredRow
}

// deferredRow is a committed row whose nullable self reference still has to be set
type deferredRow struct {
	values map[string]interface{}
	fks    []*models.ForeignKey
}

// NewTableMaterializer creates the materializer of a table; pools must hold a pool for the table
// and for every table it references
func NewTableMaterializer(db *connector.DatabaseConnector, conn connector.TxQuerier, registry *generator.Registry,
	cfg *config.Config, table *models.TableSchema, pools map[string]*KeyPool, index int, logger *logrus.Logger) *TableMaterializer {
	return &TableMaterializer{
		DB:       db,
		Conn:     conn,
		Registry: registry,
		Config:   cfg,
		Table:    table,
		Pools:    pools,
		Index:    index,
		Logger:   logger,
	}
}

// Run fills the table with rowCount rows. failedParent names a referenced table that failed, in
// which case nothing is generated. Errors are reported through the returned result.
func (m *TableMaterializer) Run(ctx context.Context, rowCount int, failedParent string) *models.GenerationResult {
	start := time.Now()
	m.result = &models.GenerationResult{
		Table:         m.Table.Name,
		RowsRequested: rowCount,
		Status:        models.Pending,
	}
	defer func() { m.result.Elapsed = time.Since(start) }()

	if failedParent != "" {
		m.fail(&models.DependencyFailedError{Table: m.Table.Name, Parent: failedParent})
		return m.result
	}

	if err := m.prepare(ctx); err != nil {
		m.fail(err)
		return m.result
	}

	if rowCount > 0 {
		m.Logger.Infof("Populating table %s with %d rows", m.Table.Name, rowCount)
	}

	var skipped error
	batchSize := m.Config.Defaults.BatchSize
	for batch, done := 0, 0; done < rowCount; batch, done = batch+1, done+batchSize {
		size := batchSize
		if rowCount-done < size {
			size = rowCount - done
		}

		m.result.Status = models.Generating
		rows, err := m.generateBatch(size)
		if err != nil {
			m.fail(err)
			return m.result
		}

		m.result.Status = models.Inserting
		if err := m.insertBatch(ctx, batch, rows); err != nil {
			if m.Config.Defaults.PartialSuccessRatio >= 1 || ctx.Err() != nil {
				m.fail(err)
				return m.result
			}
			m.Logger.Warnf("Skipping batch %d of %s: %v", batch, m.Table.Name, err)
			skipped = multierr.Append(skipped, err)
		}
	}

	if err := m.applyDeferred(ctx); err != nil {
		m.Logger.Warnf("Could not set deferred self references of %s: %v", m.Table.Name, err)
		m.result.Errors = append(m.result.Errors, models.RowError{Batch: -1, Row: -1, Err: err})
	}

	if skipped != nil && rowCount > 0 {
		ratio := float64(m.result.RowsInserted) / float64(rowCount)
		if ratio < m.Config.Defaults.PartialSuccessRatio {
			m.fail(skipped)
			return m.result
		}
	}

	m.result.Status = models.Completed
	m.Logger.Infof("Table %s: %d/%d rows inserted", m.Table.Name, m.result.RowsInserted, rowCount)
	return m.result
}

func (m *TableMaterializer) fail(err error) {
	m.result.Status = models.Failed
	m.result.Err = err
	m.Logger.Errorf("Table %s failed: %v", m.Table.Name, err)
}

// prepare loads the row count, the existing keys and the sequence start and sets up generation
func (m *TableMaterializer) prepare(ctx context.Context) error {
	sources := make(map[string]generator.KeySource, len(m.Pools))
	for name, pool := range m.Pools {
		sources[name] = pool
	}

	state, err := generator.NewTableState(m.Table, m.Config, m.Index, sources)
	if err != nil {
		return err
	}
	m.state = state

	m.result.RowsBefore, err = m.DB.CountRows(ctx, m.Conn, m.Table.Name)
	if err != nil {
		return err
	}

	pool := m.Pools[m.Table.Name]
	if m.result.RowsBefore > 0 && len(pool.Columns) > 0 {
		tuples, err := m.DB.FetchKeys(ctx, m.Conn, m.Table.Name, pool.Columns, m.Config.Defaults.ExistingKeyLimit)
		if err != nil {
			return err
		}
		for _, tuple := range tuples {
			pool.Append(tuple)
			m.markExisting(pool, len(pool.tuples)-1)
		}
		m.Logger.Debugf("Loaded %d existing keys of %s", len(tuples), m.Table.Name)
	}

	if len(m.Table.PrimaryKey) == 1 {
		col, ok := m.Table.Column(m.Table.PrimaryKey[0])
		if ok && col.Insertable() && col.SemanticType == models.Integer {
			start, err := m.DB.MaxInt(ctx, m.Conn, m.Table.Name, col.Name)
			if err != nil {
				return err
			}
			m.state.SetSequenceStart(col.Name, start)
		}
	}

	var foreign []*models.Column
	for _, col := range m.Table.InsertableColumns() {
		m.columns = append(m.columns, col.Name)
		if _, ok := m.Table.ForeignKeyFor(col.Name); ok {
			foreign = append(foreign, col)
		} else {
			m.ordered = append(m.ordered, col)
		}
	}
	// Non-key columns first so a self reference can point at the row's own key
	m.ordered = append(m.ordered, foreign...)

	for _, col := range pool.Columns {
		if c, ok := m.Table.Column(col); ok && !c.Insertable() {
			m.returning = append(m.returning, col)
		}
	}

	for _, set := range m.Table.UniqueSets() {
		if len(set) > 1 {
			m.multiSets = append(m.multiSets, set)
		}
	}
	return nil
}

// markExisting records the unique values of pool tuple i as used
func (m *TableMaterializer) markExisting(pool *KeyPool, i int) {
	for _, set := range m.Table.UniqueSets() {
		values := make([]interface{}, len(set))
		for j, col := range set {
			values[j] = pool.tuples[i][pool.index[col]]
		}
		if len(set) == 1 {
			m.state.MarkUsed(set[0], values[0])
		} else {
			m.state.MarkTupleUsed(set, values)
		}
	}
}

func (m *TableMaterializer) generateBatch(size int) ([]*generator.Row, error) {
	rows := make([]*generator.Row, 0, size)
	for i := 0; i < size; i++ {
		row, err := m.generateRow()
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// generateRow assembles one row, regenerating it while it collides on a multi-column unique set
func (m *TableMaterializer) generateRow() (*generator.Row, error) {
	attempts := m.rowAttempts()

	for attempt := 0; attempt < attempts; attempt++ {
		row := generator.NewRow()
		for _, col := range m.ordered {
			value, err := m.Registry.Generate(m.state, col, row)
			if err != nil {
				m.state.Release(row)
				return nil, err
			}
			row.Values[col.Name] = value
		}

		if len(m.multiSets) == 0 || m.state.ClaimTuples(m.multiSets, row) {
			return row, nil
		}
		m.state.Release(row)
	}

	var columns []string
	for _, set := range m.multiSets {
		columns = append(columns, set...)
	}
	return nil, &models.UniquenessExhaustedError{Table: m.Table.Name, Columns: columns, Attempts: attempts}
}

// rowAttempts bounds how often a row colliding on a multi-column unique set is regenerated. A set
// made only of foreign key columns allows as many combinations as the product of its parent pools,
// and the bound grows with it so sparse leftovers are still found.
func (m *TableMaterializer) rowAttempts() int {
	attempts := m.Config.Defaults.UniqueAttempts
	if attempts < 1 {
		attempts = 1
	}

	for _, set := range m.multiSets {
		combinations := 1
		counted := make(map[string]bool)
		for _, col := range set {
			fk, ok := m.Table.ForeignKeyFor(col)
			if !ok {
				combinations = 0
				break
			}
			if counted[fk.Name] {
				continue
			}
			counted[fk.Name] = true
			pool := m.Pools[fk.ReferencedTable]
			if pool == nil {
				combinations = 0
				break
			}
			combinations *= pool.Len()
			if combinations > maxRowAttempts {
				break
			}
		}
		if 4*combinations > attempts {
			attempts = 4 * combinations
		}
	}

	limit := maxRowAttempts
	if m.Config.Defaults.UniqueAttempts > limit {
		limit = m.Config.Defaults.UniqueAttempts
	}
	if attempts > limit {
		attempts = limit
	}
	return attempts
}

// insertBatch commits the rows in one transaction, retrying transient failures
func (m *TableMaterializer) insertBatch(ctx context.Context, batch int, rows []*generator.Row) error {
	values := make([][]interface{}, len(rows))
	for i, row := range rows {
		values[i] = make([]interface{}, len(m.columns))
		for j, col := range m.columns {
			values[i][j] = row.Values[col]
		}
	}

	attempts := m.Config.Defaults.MaxRetries + 1
	var errs error
	for attempt := 1; attempt <= attempts; attempt++ {
		generated, err := m.DB.InsertBatch(ctx, m.Conn, m.Table.Name, m.columns, values, m.returning)
		if err == nil {
			m.commit(rows, generated)
			return nil
		}
		errs = multierr.Append(errs, err)

		class := m.DB.Dialect.Classify(err)
		if class == connector.ErrorPermanent || attempt == attempts || ctx.Err() != nil {
			m.result.Errors = append(m.result.Errors, models.RowError{Batch: batch, Row: failedRow(err), Err: err})
			return &models.BatchInsertError{Table: m.Table.Name, Batch: batch, Attempts: attempt, Err: errs}
		}

		m.result.Retries++
		backoff := m.Config.Defaults.RetryBackoff * time.Duration(attempt)
		m.Logger.Warnf("Batch %d of %s failed (attempt %d/%d), retrying in %s: %v",
			batch, m.Table.Name, attempt, attempts, backoff, err)

		select {
		case <-ctx.Done():
			return &models.BatchInsertError{Table: m.Table.Name, Batch: batch, Attempts: attempt, Err: multierr.Append(errs, ctx.Err())}
		case <-time.After(backoff):
		}
	}
	return nil
}

func failedRow(err error) int {
	var rowErr *connector.RowError
	if errors.As(err, &rowErr) {
		return rowErr.Row
	}
	return -1
}

// commit publishes the keys of inserted rows and queues deferred self references
func (m *TableMaterializer) commit(rows []*generator.Row, generated []map[string]interface{}) {
	pool := m.Pools[m.Table.Name]
	for i, row := range rows {
		values := make(map[string]interface{}, len(row.Values)+len(m.returning))
		for col, v := range row.Values {
			values[col] = v
		}
		if i < len(generated) {
			for col, v := range generated[i] {
				values[col] = v
			}
		}

		pool.AppendRow(values)
		if len(row.Deferred) > 0 {
			m.deferred = append(m.deferred, deferredRow{values: values, fks: row.Deferred})
		}
	}
	m.result.RowsInserted += len(rows)
}

// applyDeferred points nullable self references left NULL on an empty table at committed rows
func (m *TableMaterializer) applyDeferred(ctx context.Context) error {
	if len(m.deferred) == 0 {
		return nil
	}

	keyColumns := m.Table.PrimaryKey
	if len(keyColumns) == 0 && len(m.Table.UniqueConstraints) > 0 {
		keyColumns = m.Table.UniqueConstraints[0].Columns
	}
	if len(keyColumns) == 0 {
		m.Logger.Warnf("Table %s has no key; %d self references stay NULL", m.Table.Name, len(m.deferred))
		return nil
	}

	pool := m.Pools[m.Table.Name]
	var errs error
	for _, fk := range m.Table.ForeignKeys {
		if !fk.IsSelfReference() {
			continue
		}
		if len(fk.Columns) == 1 {
			if col, ok := m.Table.Column(fk.Columns[0]); ok && col.IsUnique {
				m.Logger.Debugf("Leaving unique self reference %s of %s NULL", fk.Name, m.Table.Name)
				continue
			}
		}

		var updates []connector.RowUpdate
		for _, d := range m.deferred {
			if !d.has(fk.Name) {
				continue
			}
			key, ok := project(d.values, keyColumns)
			if !ok {
				continue
			}
			target, ok := m.pickParent(pool, fk, d.values)
			if !ok {
				continue
			}
			updates = append(updates, connector.RowUpdate{Values: target, Key: key})
		}

		for start := 0; start < len(updates); start += m.Config.Defaults.BatchSize {
			end := start + m.Config.Defaults.BatchSize
			if end > len(updates) {
				end = len(updates)
			}
			if err := m.DB.UpdateRows(ctx, m.Conn, m.Table.Name, fk.Columns, keyColumns, updates[start:end]); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
		m.Logger.Debugf("Set %d deferred references of %s.%s", len(updates), m.Table.Name, fk.Name)
	}
	return errs
}

func (d deferredRow) has(fkName string) bool {
	for _, fk := range d.fks {
		if fk.Name == fkName {
			return true
		}
	}
	return false
}

// pickParent draws a referenced tuple, avoiding the row itself while another candidate exists
func (m *TableMaterializer) pickParent(pool *KeyPool, fk models.ForeignKey, own map[string]interface{}) ([]interface{}, bool) {
	self, _ := project(own, fk.ReferencedColumns)
	attempts := m.Config.Defaults.UniqueAttempts
	if attempts < 1 {
		attempts = 1
	}

	var fallback []interface{}
	for attempt := 0; attempt < attempts && pool.Len() > 0; attempt++ {
		tuple, ok := pool.Values(m.state.Rand.Intn(pool.Len()), fk.ReferencedColumns)
		if !ok {
			continue
		}
		if self != nil && sameTuple(tuple, self) {
			fallback = tuple
			continue
		}
		return tuple, true
	}
	return fallback, fallback != nil
}

func project(values map[string]interface{}, columns []string) ([]interface{}, bool) {
	tuple := make([]interface{}, len(columns))
	for i, col := range columns {
		tuple[i] = values[col]
		if tuple[i] == nil {
			return nil, false
		}
	}
	return tuple, true
}

func sameTuple(a, b []interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if connector.AsString(a[i]) != connector.AsString(b[i]) {
			return false
		}
	}
	return true
}
