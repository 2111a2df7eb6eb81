package generator

import (
	"github.com/sirupsen/logrus"
	"github.com/vitebski/db-autofill/pkg/models"
)

type strategyFunc func(s *TableState, col *models.Column) (interface{}, error)

// Registry maps every semantic type to its value generation strategy
type Registry struct {
	strategies map[models.SemanticType]strategyFunc
	Logger     *logrus.Logger
}

// NewRegistry creates a registry with a strategy for every supported type
func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		strategies: map[models.SemanticType]strategyFunc{
			models.Integer:   generateInteger,
			models.Decimal:   generateDecimal,
			models.Text:      generateText,
			models.Boolean:   generateBoolean,
			models.Timestamp: generateTimestamp,
			models.Date:      generateDate,
			models.Time:      generateTime,
			models.Enum:      generateEnum,
			models.UUID:      generateUUID,
			models.JSON:      generateJSON,
			models.Binary:    generateBinary,
		},
		Logger: logger,
	}
}

// Supports reports whether values can be generated for a semantic type
func (r *Registry) Supports(t models.SemanticType) bool {
	_, ok := r.strategies[t]
	return ok
}

// Generate produces the value of one column for the row being assembled
func (r *Registry) Generate(s *TableState, col *models.Column, row *Row) (interface{}, error) {
	if !col.Insertable() {
		return nil, &models.ValueConstraintError{Table: s.Table.Name, Column: col.Name, Reason: "column is filled by the database"}
	}

	if fk, ok := s.Table.ForeignKeyFor(col.Name); ok {
		return r.parentValue(s, col, fk, row)
	}

	override := s.Overrides[col.Name]
	if col.IsNullable && !override.AlwaysFill && s.Rand.Float64() < s.Defaults.NullProbability {
		return nil, nil
	}

	attempts := s.Defaults.UniqueAttempts
	if attempts < 1 || !col.IsUnique {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		value, err := r.value(s, col, override)
		if err != nil {
			return nil, err
		}
		if err := ValidateValue(s.Table.Name, col, value); err != nil {
			return nil, err
		}
		if !col.IsUnique || value == nil {
			return value, nil
		}
		if s.claim(col.Name, value) {
			row.claimed = append(row.claimed, col.Name)
			return value, nil
		}
	}

	r.Logger.WithFields(logrus.Fields{"table": s.Table.Name, "column": col.Name}).
		Debugf("No unused value after %d attempts", attempts)
	return nil, &models.UniquenessExhaustedError{Table: s.Table.Name, Columns: []string{col.Name}, Attempts: attempts}
}

func (r *Registry) value(s *TableState, col *models.Column, o Override) (interface{}, error) {
	if len(o.Values) > 0 {
		return o.Values[s.Rand.Intn(len(o.Values))], nil
	}

	strategy, ok := r.strategies[col.SemanticType]
	if !ok {
		return nil, &models.ValueConstraintError{Table: s.Table.Name, Column: col.Name,
			Reason: "no generation strategy for type " + string(col.SemanticType)}
	}
	return strategy(s, col)
}

// parentValue draws a key tuple of the referenced table once per foreign key and returns this
// column's part of it
func (r *Registry) parentValue(s *TableState, col *models.Column, fk *models.ForeignKey, row *Row) (interface{}, error) {
	position := 0
	for i, name := range fk.Columns {
		if name == col.Name {
			position = i
		}
	}

	if tuple, drawn := row.parents[fk.Name]; drawn {
		if tuple == nil {
			return nil, nil
		}
		return tuple[position], nil
	}

	tuple, err := r.drawParent(s, col, fk, row)
	if err != nil {
		return nil, err
	}
	row.parents[fk.Name] = tuple
	if tuple == nil {
		return nil, nil
	}
	return tuple[position], nil
}

func (r *Registry) drawParent(s *TableState, col *models.Column, fk *models.ForeignKey, row *Row) ([]interface{}, error) {
	alwaysFill := false
	for _, name := range fk.Columns {
		if s.Overrides[name].AlwaysFill {
			alwaysFill = true
		}
	}
	if fk.IsNullable && !alwaysFill && s.Rand.Float64() < s.Defaults.NullProbability {
		return nil, nil
	}

	emptyPool := func() ([]interface{}, error) {
		if fk.IsNullable {
			if fk.IsSelfReference() {
				row.Deferred = append(row.Deferred, fk)
			}
			return nil, nil
		}
		if fk.IsSelfReference() {
			if own, ok := ownKey(fk, row); ok {
				return own, nil
			}
		}
		return nil, &models.EmptyParentPoolError{Table: s.Table.Name, Columns: fk.Columns, ParentTable: fk.ReferencedTable}
	}

	pool := s.Pools[fk.ReferencedTable]
	if pool == nil || pool.Len() == 0 {
		return emptyPool()
	}

	unique := len(fk.Columns) == 1 && col.IsUnique
	attempts := s.Defaults.UniqueAttempts
	if attempts < 1 {
		attempts = 1
	}

	found := false
	for attempt := 0; attempt < attempts; attempt++ {
		tuple, ok := pool.Values(s.Rand.Intn(pool.Len()), fk.ReferencedColumns)
		if !ok {
			continue
		}
		found = true
		if !unique {
			return tuple, nil
		}
		if s.claim(col.Name, tuple[0]) {
			row.claimed = append(row.claimed, col.Name)
			return tuple, nil
		}
	}

	// The draws collided or hit NULL keys; scan the pool from a random offset for a usable parent
	n := pool.Len()
	start := s.Rand.Intn(n)
	for k := 0; k < n; k++ {
		tuple, ok := pool.Values((start+k)%n, fk.ReferencedColumns)
		if !ok {
			continue
		}
		found = true
		if !unique {
			return tuple, nil
		}
		if s.claim(col.Name, tuple[0]) {
			row.claimed = append(row.claimed, col.Name)
			return tuple, nil
		}
	}

	if found {
		r.Logger.WithFields(logrus.Fields{"table": s.Table.Name, "column": col.Name}).
			Debugf("Every key of %s is already referenced", fk.ReferencedTable)
		return nil, &models.UniquenessExhaustedError{Table: s.Table.Name, Columns: fk.Columns, Attempts: attempts + n}
	}
	// Every parent has NULL in the referenced columns
	return emptyPool()
}

// ownKey returns the row's own values of the referenced columns when all of them are already generated
func ownKey(fk *models.ForeignKey, row *Row) ([]interface{}, bool) {
	tuple := make([]interface{}, len(fk.ReferencedColumns))
	for i, name := range fk.ReferencedColumns {
		v, ok := row.Values[name]
		if !ok || v == nil {
			return nil, false
		}
		tuple[i] = v
	}
	return tuple, true
}
