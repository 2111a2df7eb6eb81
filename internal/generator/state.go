package generator

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/jaswdr/faker"
	"github.com/vitebski/db-autofill/internal/config"
	"github.com/vitebski/db-autofill/pkg/models"
)

// KeySource gives random access to the key tuples of rows known to exist in a table
type KeySource interface {
	Len() int
	// Values projects tuple i onto columns; false when one of them is NULL
	Values(i int, columns []string) ([]interface{}, bool)
}

// TableState is the run state of one table: random source, faker, sequences and used values.
// It is owned by the table's materializer and never shared between goroutines.
type TableState struct {
	Table     *models.TableSchema
	Defaults  config.Defaults
	Overrides map[string]Override
	Pools     map[string]KeySource
	Rand      *rand.Rand
	Faker     faker.Faker

	DateFrom time.Time
	DateTo   time.Time

	sequences map[string]int64
	used      map[string]map[string]bool
	tuples    map[string]map[string]bool
}

// NewTableState prepares the generation state of a table. index is the table's position in the
// fill order; with a non-zero seed it makes every table's random stream reproducible.
func NewTableState(table *models.TableSchema, cfg *config.Config, index int, pools map[string]KeySource) (*TableState, error) {
	seed := cfg.Defaults.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	seed += int64(index)

	from, to, err := cfg.Defaults.DateRange(time.Now())
	if err != nil {
		return nil, err
	}

	var columns []config.ColumnConfig
	if tc, ok := cfg.Table(table.Name); ok {
		columns = tc.Columns
	}
	overrides, err := buildOverrides(table, columns)
	if err != nil {
		return nil, err
	}

	return &TableState{
		Table:     table,
		Defaults:  cfg.Defaults,
		Overrides: overrides,
		Pools:     pools,
		Rand:      rand.New(rand.NewSource(seed)),
		Faker:     faker.NewWithSeed(rand.NewSource(seed)),
		DateFrom:  from,
		DateTo:    to,
		sequences: make(map[string]int64),
		used:      make(map[string]map[string]bool),
		tuples:    make(map[string]map[string]bool),
	}, nil
}

// SetSequenceStart makes the next sequence value of column start + 1
func (s *TableState) SetSequenceStart(column string, start int64) {
	s.sequences[column] = start
}

func (s *TableState) nextSequence(column string) int64 {
	s.sequences[column]++
	return s.sequences[column]
}

func valueKey(v interface{}) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}

func tupleKey(values []interface{}) string {
	key := ""
	for i, v := range values {
		if i > 0 {
			key += "\x1f"
		}
		key += valueKey(v)
	}
	return key
}

// MarkUsed records a value already present in a unique column
func (s *TableState) MarkUsed(column string, v interface{}) {
	if v == nil {
		return
	}
	set, ok := s.used[column]
	if !ok {
		set = make(map[string]bool)
		s.used[column] = set
	}
	set[valueKey(v)] = true
}

// claim marks v used in column; false when it already was
func (s *TableState) claim(column string, v interface{}) bool {
	key := valueKey(v)
	if s.used[column][key] {
		return false
	}
	s.MarkUsed(column, v)
	return true
}

// Release forgets the values of a discarded row in the single-column used sets
func (s *TableState) Release(row *Row) {
	for _, col := range row.claimed {
		delete(s.used[col], valueKey(row.Values[col]))
	}
	row.claimed = nil
}

// ClaimTuples marks the row's combinations of every multi-column unique set used. When one of them
// already exists nothing is marked and false is returned. Combinations containing NULL never collide.
func (s *TableState) ClaimTuples(sets [][]string, row *Row) bool {
	names := make([]string, len(sets))
	keys := make([]string, len(sets))

	for i, columns := range sets {
		values := make([]interface{}, len(columns))
		for j, col := range columns {
			values[j] = row.Values[col]
			if values[j] == nil {
				values = nil
				break
			}
		}
		if values == nil {
			continue
		}
		names[i] = tupleKey(toInterfaces(columns))
		keys[i] = tupleKey(values)
		if s.tuples[names[i]][keys[i]] {
			return false
		}
	}

	for i := range sets {
		if names[i] == "" {
			continue
		}
		set, ok := s.tuples[names[i]]
		if !ok {
			set = make(map[string]bool)
			s.tuples[names[i]] = set
		}
		set[keys[i]] = true
	}
	return true
}

// MarkTupleUsed records a combination already present in a multi-column unique set
func (s *TableState) MarkTupleUsed(columns []string, values []interface{}) {
	for _, v := range values {
		if v == nil {
			return
		}
	}
	name := tupleKey(toInterfaces(columns))
	set, ok := s.tuples[name]
	if !ok {
		set = make(map[string]bool)
		s.tuples[name] = set
	}
	set[tupleKey(values)] = true
}

func toInterfaces(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// Row collects the values of the row being generated
type Row struct {
	Values map[string]interface{}
	// Deferred lists nullable self references left NULL because the table had no rows yet
	Deferred []*models.ForeignKey

	parents map[string][]interface{}
	claimed []string
}

// NewRow creates an empty row
func NewRow() *Row {
	return &Row{
		Values:  make(map[string]interface{}),
		parents: make(map[string][]interface{}),
	}
}
