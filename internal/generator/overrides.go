package generator

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/vitebski/db-autofill/internal/config"
	"github.com/vitebski/db-autofill/pkg/models"
)

// Override is a configured column override converted to the column's type
type Override struct {
	MinValue   *float64
	MaxValue   *float64
	Values     []interface{}
	AlwaysFill bool
}

// ValidateOverrides checks every column override of the configuration against the introspected schema
func ValidateOverrides(schema *models.SchemaInfo, cfg *config.Config) error {
	for _, tc := range cfg.Tables {
		table, ok := schema.Tables[tc.Name]
		if !ok {
			return &models.ConfigError{Table: tc.Name, Reason: "table is not part of the introspected schema"}
		}
		if _, err := buildOverrides(table, tc.Columns); err != nil {
			return err
		}
	}
	return nil
}

func buildOverrides(table *models.TableSchema, columns []config.ColumnConfig) (map[string]Override, error) {
	overrides := make(map[string]Override, len(columns))

	for _, cc := range columns {
		col, ok := table.Column(cc.Name)
		if !ok {
			return nil, &models.ConfigError{Table: table.Name, Column: cc.Name, Reason: "column does not exist"}
		}
		if !col.Insertable() {
			return nil, &models.ConfigError{Table: table.Name, Column: cc.Name, Reason: "column is filled by the database"}
		}

		_, isForeignKey := table.ForeignKeyFor(cc.Name)
		hasRange := cc.MinValue != nil || cc.MaxValue != nil

		if isForeignKey && (hasRange || len(cc.Values) > 0) {
			return nil, &models.ConfigError{Table: table.Name, Column: cc.Name, Reason: "foreign key columns take their values from the referenced table"}
		}
		if hasRange && col.SemanticType != models.Integer && col.SemanticType != models.Decimal {
			return nil, &models.ConfigError{Table: table.Name, Column: cc.Name,
				Reason: fmt.Sprintf("min_value and max_value need a numeric column, not %s", col.SemanticType)}
		}

		override := Override{
			MinValue:   cc.MinValue,
			MaxValue:   cc.MaxValue,
			AlwaysFill: cc.AlwaysFill,
		}

		for _, raw := range cc.Values {
			value, err := convertValue(col, raw)
			if err == nil {
				err = ValidateValue(table.Name, col, value)
			}
			if err != nil {
				return nil, &models.ConfigError{Table: table.Name, Column: cc.Name, Reason: fmt.Sprintf("value %v: %v", raw, err)}
			}
			override.Values = append(override.Values, value)
		}

		overrides[cc.Name] = override
	}

	return overrides, nil
}

// convertValue turns a value decoded from JSON or YAML into the Go type the column's strategy produces
func convertValue(col *models.Column, raw interface{}) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}

	switch col.SemanticType {
	case models.Integer:
		switch v := raw.(type) {
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("not an integer")
			}
			return int64(v), nil
		case string:
			return strconv.ParseInt(v, 10, 64)
		}
	case models.Decimal:
		switch v := raw.(type) {
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case float64:
			return v, nil
		case string:
			return strconv.ParseFloat(v, 64)
		}
	case models.Boolean:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			return strconv.ParseBool(v)
		}
	case models.Timestamp:
		switch v := raw.(type) {
		case time.Time:
			return v, nil
		case string:
			for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
				if t, err := time.Parse(layout, v); err == nil {
					return t, nil
				}
			}
			return nil, fmt.Errorf("not a timestamp")
		}
	case models.Date:
		switch v := raw.(type) {
		case time.Time:
			return v.Format(dateLayout), nil
		case string:
			return v, nil
		}
	case models.Binary:
		if s, ok := raw.(string); ok {
			return []byte(s), nil
		}
	default:
		switch v := raw.(type) {
		case string:
			return v, nil
		case int, int64, float64, bool:
			return fmt.Sprintf("%v", v), nil
		}
	}

	return nil, fmt.Errorf("%T does not fit a %s column", raw, col.SemanticType)
}
