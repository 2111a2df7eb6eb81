package populator

import (
	"github.com/vitebski/db-autofill/pkg/models"
)

// KeyPool holds the key tuples of rows known to exist in a table: rows found before the run and
// rows committed by it. Every tuple covers the columns of all of the table's unique sets, so any
// foreign key pointing at the table can be projected from it.
type KeyPool struct {
	Table   string
	Columns []string

	index  map[string]int
	tuples [][]interface{}
}

// NewKeyPool creates an empty pool over the columns of every unique set of the table
func NewKeyPool(table *models.TableSchema) *KeyPool {
	pool := &KeyPool{Table: table.Name, index: make(map[string]int)}
	for _, set := range table.UniqueSets() {
		for _, col := range set {
			if _, ok := pool.index[col]; !ok {
				pool.index[col] = len(pool.Columns)
				pool.Columns = append(pool.Columns, col)
			}
		}
	}
	return pool
}

// Len returns the number of tuples in the pool
func (p *KeyPool) Len() int {
	return len(p.tuples)
}

// Values projects tuple i onto columns; false when one of them is NULL or not tracked
func (p *KeyPool) Values(i int, columns []string) ([]interface{}, bool) {
	if i < 0 || i >= len(p.tuples) {
		return nil, false
	}

	values := make([]interface{}, len(columns))
	for j, col := range columns {
		pos, ok := p.index[col]
		if !ok {
			return nil, false
		}
		values[j] = p.tuples[i][pos]
		if values[j] == nil {
			return nil, false
		}
	}
	return values, true
}

// Append adds the tuple of a committed row, ordered like Columns
func (p *KeyPool) Append(tuple []interface{}) {
	p.tuples = append(p.tuples, tuple)
}

// AppendRow adds a committed row given as column values
func (p *KeyPool) AppendRow(values map[string]interface{}) {
	tuple := make([]interface{}, len(p.Columns))
	for i, col := range p.Columns {
		tuple[i] = values[col]
	}
	p.Append(tuple)
}
