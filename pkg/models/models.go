package models

import (
	"time"
)

// SemanticType is the abstract value category a column is classified into
type SemanticType string

const (
	Integer   SemanticType = "integer"
	Decimal   SemanticType = "decimal"
	Text      SemanticType = "text"
	Boolean   SemanticType = "boolean"
	Timestamp SemanticType = "timestamp"
	Date      SemanticType = "date"
	Time      SemanticType = "time"
	Enum      SemanticType = "enum"
	UUID      SemanticType = "uuid"
	JSON      SemanticType = "json"
	Binary    SemanticType = "binary"

	// Unsupported marks a column whose storage type has no generation strategy.
	// Such a column is only legal when the database can fill it on its own.
	Unsupported SemanticType = "unsupported"
)

// SemanticTypes lists every type that has a generation strategy
var SemanticTypes = []SemanticType{
	Integer, Decimal, Text, Boolean, Timestamp, Date, Time, Enum, UUID, JSON, Binary,
}

// Column represents a database column with its properties
type Column struct {
	Name             string
	DataType         string
	ColumnType       string
	SemanticType     SemanticType
	CharMaxLength    *int64
	CharMinLength    *int64
	NumericPrecision *int64
	NumericScale     *int64
	IsNullable       bool
	HasDefault       bool
	IsAutoGenerated  bool
	// IsComputed marks an auto-generated column that refuses explicit values
	IsComputed bool
	IsUnsigned       bool
	IsUnique         bool
	EnumValues       []string

	// Bounds derived from the storage type and simple CHECK constraints
	MinValue *float64
	MaxValue *float64

	UnsupportedChecks []string
}

// Insertable reports whether the column gets an explicit value on INSERT
func (c *Column) Insertable() bool {
	return !c.IsAutoGenerated && c.SemanticType != Unsupported
}

// ForeignKey represents a foreign key relationship
type ForeignKey struct {
	Name              string
	Table             string
	Columns           []string
	ReferencedTable   string
	ReferencedColumns []string
	IsNullable        bool
}

// IsSelfReference reports whether the key points back at its own table
func (fk ForeignKey) IsSelfReference() bool {
	return fk.Table == fk.ReferencedTable
}

// UniqueConstraint is a set of columns whose combined values must be distinct
type UniqueConstraint struct {
	Name    string
	Columns []string
}

// TableSchema represents everything the engine knows about one table
type TableSchema struct {
	Name              string
	Columns           []Column
	PrimaryKey        []string
	ForeignKeys       []ForeignKey
	UniqueConstraints []UniqueConstraint
}

// Column returns the named column
func (t *TableSchema) Column(name string) (*Column, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// InsertableColumns returns the columns that receive generated values, in table order
func (t *TableSchema) InsertableColumns() []*Column {
	var columns []*Column
	for i := range t.Columns {
		if t.Columns[i].Insertable() {
			columns = append(columns, &t.Columns[i])
		}
	}
	return columns
}

// ForeignKeyFor returns the foreign key a column belongs to
func (t *TableSchema) ForeignKeyFor(column string) (*ForeignKey, bool) {
	for i := range t.ForeignKeys {
		for _, c := range t.ForeignKeys[i].Columns {
			if c == column {
				return &t.ForeignKeys[i], true
			}
		}
	}
	return nil, false
}

// UniqueSets returns the primary key followed by every unique constraint
func (t *TableSchema) UniqueSets() [][]string {
	var sets [][]string
	if len(t.PrimaryKey) > 0 {
		sets = append(sets, t.PrimaryKey)
	}
	for _, uc := range t.UniqueConstraints {
		sets = append(sets, uc.Columns)
	}
	return sets
}

// ReferencedTables returns the distinct tables this table references, self excluded
func (t *TableSchema) ReferencedTables() []string {
	seen := make(map[string]bool)
	var tables []string
	for _, fk := range t.ForeignKeys {
		if fk.IsSelfReference() || seen[fk.ReferencedTable] {
			continue
		}
		seen[fk.ReferencedTable] = true
		tables = append(tables, fk.ReferencedTable)
	}
	return tables
}

// SchemaInfo represents the introspected part of the database a run works on
type SchemaInfo struct {
	Tables    map[string]*TableSchema
	Requested []string
	Closure   []string
}

// IsRequested reports whether the table was named in the configuration
func (s *SchemaInfo) IsRequested(table string) bool {
	for _, t := range s.Requested {
		if t == table {
			return true
		}
	}
	return false
}

// TableStatus is the state of one table's materialization
type TableStatus int

const (
	Pending TableStatus = iota
	Generating
	Inserting
	Completed
	Failed
)

func (s TableStatus) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Generating:
		return "Generating"
	case Inserting:
		return "Inserting"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// RowError attributes a row or batch level failure to its position in the fill
type RowError struct {
	Batch int
	Row   int
	Err   error
}

// GenerationResult represents the outcome of filling one table
type GenerationResult struct {
	Table         string
	RowsRequested int
	RowsInserted  int
	RowsBefore    int64
	Status        TableStatus
	Err           error
	Errors        []RowError
	Retries       int
	Elapsed       time.Duration
}

// RunReport represents the result of the whole population process
type RunReport struct {
	Order     []string
	Results   []*GenerationResult
	StartedAt time.Time
	Elapsed   time.Duration
}

// Result returns the result recorded for a table
func (r *RunReport) Result(table string) *GenerationResult {
	for _, res := range r.Results {
		if res.Table == table {
			return res
		}
	}
	return nil
}

// Succeeded reports whether every table completed
func (r *RunReport) Succeeded() bool {
	for _, res := range r.Results {
		if res.Status != Completed {
			return false
		}
	}
	return true
}

// Failed returns the tables that did not complete
func (r *RunReport) Failed() []string {
	var tables []string
	for _, res := range r.Results {
		if res.Status != Completed {
			tables = append(tables, res.Table)
		}
	}
	return tables
}

// TotalInserted sums inserted rows over all tables
func (r *RunReport) TotalInserted() int {
	total := 0
	for _, res := range r.Results {
		total += res.RowsInserted
	}
	return total
}
