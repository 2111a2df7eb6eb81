package generator

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/vitebski/db-autofill/pkg/models"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)

// ValidateValue checks a value against the column's nullability, type, length, bounds and enum labels
func ValidateValue(table string, col *models.Column, v interface{}) error {
	reject := func(format string, args ...interface{}) error {
		return &models.ValueConstraintError{Table: table, Column: col.Name, Reason: fmt.Sprintf(format, args...)}
	}

	if v == nil {
		if !col.IsNullable {
			return reject("NULL in a NOT NULL column")
		}
		return nil
	}

	switch col.SemanticType {
	case models.Integer:
		n, ok := v.(int64)
		if !ok {
			return reject("expected int64, got %T", v)
		}
		if col.MinValue != nil && float64(n) < *col.MinValue {
			return reject("%d is below the minimum %v", n, *col.MinValue)
		}
		if col.MaxValue != nil && float64(n) > *col.MaxValue {
			return reject("%d is above the maximum %v", n, *col.MaxValue)
		}
	case models.Decimal:
		f, ok := v.(float64)
		if !ok {
			return reject("expected float64, got %T", v)
		}
		if col.MinValue != nil && f < *col.MinValue {
			return reject("%v is below the minimum %v", f, *col.MinValue)
		}
		if col.MaxValue != nil && f > *col.MaxValue {
			return reject("%v is above the maximum %v", f, *col.MaxValue)
		}
	case models.Text:
		s, ok := v.(string)
		if !ok {
			return reject("expected string, got %T", v)
		}
		if col.CharMaxLength != nil && int64(utf8.RuneCountInString(s)) > *col.CharMaxLength {
			return reject("%d characters exceed the maximum length %d", utf8.RuneCountInString(s), *col.CharMaxLength)
		}
		if col.CharMinLength != nil && int64(utf8.RuneCountInString(s)) < *col.CharMinLength {
			return reject("%d characters are below the minimum length %d", utf8.RuneCountInString(s), *col.CharMinLength)
		}
	case models.Boolean:
		if _, ok := v.(bool); !ok {
			return reject("expected bool, got %T", v)
		}
	case models.Timestamp:
		if _, ok := v.(time.Time); !ok {
			return reject("expected time.Time, got %T", v)
		}
	case models.Date:
		s, ok := v.(string)
		if !ok {
			return reject("expected a date string, got %T", v)
		}
		if _, err := time.Parse(dateLayout, s); err != nil {
			return reject("%q is not a date", s)
		}
	case models.Time:
		s, ok := v.(string)
		if !ok {
			return reject("expected a time string, got %T", v)
		}
		if _, err := time.Parse(timeLayout, s); err != nil {
			return reject("%q is not a time of day", s)
		}
	case models.Enum:
		s, ok := v.(string)
		if !ok {
			return reject("expected string, got %T", v)
		}
		for _, label := range col.EnumValues {
			if label == s {
				return nil
			}
		}
		return reject("%q is not one of %v", s, col.EnumValues)
	case models.UUID:
		s, ok := v.(string)
		if !ok {
			return reject("expected string, got %T", v)
		}
		if _, err := uuid.Parse(s); err != nil {
			return reject("%q is not a UUID", s)
		}
	case models.JSON:
		s, ok := v.(string)
		if !ok {
			return reject("expected string, got %T", v)
		}
		if !json.Valid([]byte(s)) {
			return reject("invalid JSON document")
		}
	case models.Binary:
		b, ok := v.([]byte)
		if !ok {
			return reject("expected []byte, got %T", v)
		}
		if col.CharMaxLength != nil && int64(len(b)) > *col.CharMaxLength {
			return reject("%d bytes exceed the maximum length %d", len(b), *col.CharMaxLength)
		}
	default:
		return reject("no generation strategy for type %s", col.SemanticType)
	}

	return nil
}
