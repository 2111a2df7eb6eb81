package generator

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/vitebski/db-autofill/pkg/models"
)

const (
	alphanumeric    = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	uniqueTokenSize = 16
	binaryMaxLength = 16
)

// integerRange intersects the configured range with the column's storage and CHECK bounds.
// The column bounds win when the two do not overlap.
func integerRange(s *TableState, col *models.Column) (int64, int64, error) {
	lo, hi := float64(s.Defaults.IntMin), float64(s.Defaults.IntMax)
	if o, ok := s.Overrides[col.Name]; ok {
		if o.MinValue != nil {
			lo = *o.MinValue
		}
		if o.MaxValue != nil {
			hi = *o.MaxValue
		}
	}

	colLo, colHi := float64(math.MinInt64), float64(math.MaxInt64)
	if col.MinValue != nil {
		colLo = math.Max(colLo, math.Ceil(*col.MinValue))
	}
	if col.MaxValue != nil {
		colHi = math.Min(colHi, math.Floor(*col.MaxValue))
	}

	lo, hi = math.Max(lo, colLo), math.Min(hi, colHi)
	if lo > hi {
		lo, hi = colLo, colHi
	}
	if lo > hi {
		return 0, 0, &models.ValueConstraintError{Table: s.Table.Name, Column: col.Name, Reason: "empty integer range"}
	}

	return clampInt64(lo), clampInt64(hi), nil
}

func clampInt64(f float64) int64 {
	if f >= math.MaxInt64 {
		return math.MaxInt64
	}
	if f <= math.MinInt64 {
		return math.MinInt64
	}
	return int64(f)
}

func isSequence(t *models.TableSchema, col *models.Column) bool {
	return len(t.PrimaryKey) == 1 && t.PrimaryKey[0] == col.Name && !col.IsAutoGenerated
}

func generateInteger(s *TableState, col *models.Column) (interface{}, error) {
	lo, hi, err := integerRange(s, col)
	if err != nil {
		return nil, err
	}

	if isSequence(s.Table, col) {
		if lo > math.MinInt64 && s.sequences[col.Name] < lo-1 {
			s.sequences[col.Name] = lo - 1
		}
		next := s.nextSequence(col.Name)
		if col.MaxValue != nil && float64(next) > *col.MaxValue {
			return nil, &models.ValueConstraintError{Table: s.Table.Name, Column: col.Name, Reason: "primary key sequence exhausted the column range"}
		}
		return next, nil
	}

	span := uint64(hi-lo) + 1
	if span == 0 {
		return int64(s.Rand.Uint64()), nil
	}
	return lo + int64(s.Rand.Uint64()%span), nil
}

func generateDecimal(s *TableState, col *models.Column) (interface{}, error) {
	lo, hi := s.Defaults.DecimalMin, s.Defaults.DecimalMax
	if o, ok := s.Overrides[col.Name]; ok {
		if o.MinValue != nil {
			lo = *o.MinValue
		}
		if o.MaxValue != nil {
			hi = *o.MaxValue
		}
	}

	colLo, colHi := -math.MaxFloat64, math.MaxFloat64
	if col.MinValue != nil {
		colLo = *col.MinValue
	}
	if col.MaxValue != nil {
		colHi = *col.MaxValue
	}
	lo, hi = math.Max(lo, colLo), math.Min(hi, colHi)
	if lo > hi {
		lo, hi = colLo, colHi
	}
	if lo > hi || math.IsInf(hi-lo, 0) {
		return nil, &models.ValueConstraintError{Table: s.Table.Name, Column: col.Name, Reason: "empty decimal range"}
	}

	scale := s.Defaults.DecimalScale
	if col.NumericScale != nil {
		scale = int(*col.NumericScale)
	}
	factor := math.Pow10(scale)

	value := math.Round((lo+s.Rand.Float64()*(hi-lo))*factor) / factor
	// Rounding may step outside the range by one unit
	if value < lo {
		value = math.Ceil(lo*factor) / factor
	}
	if value > hi {
		value = math.Floor(hi*factor) / factor
	}
	return value, nil
}

// textLength returns the length range of generated text. The configured maximum gives way to a
// larger minimum the column allows.
func textLength(s *TableState, col *models.Column) (int, int) {
	maxLen := s.Defaults.TextMaxLength
	if col.CharMaxLength != nil && *col.CharMaxLength < int64(maxLen) {
		maxLen = int(*col.CharMaxLength)
	}
	minLen := 1
	if col.CharMinLength != nil && *col.CharMinLength > 1 {
		minLen = int(*col.CharMinLength)
	}
	if minLen > maxLen && (col.CharMaxLength == nil || int64(minLen) <= *col.CharMaxLength) {
		maxLen = minLen
	}
	return minLen, maxLen
}

func randomToken(s *TableState, length int) string {
	var b strings.Builder
	for i := 0; i < length; i++ {
		b.WriteByte(alphanumeric[s.Rand.Intn(len(alphanumeric))])
	}
	return b.String()
}

func truncate(text string, length int) string {
	if utf8.RuneCountInString(text) <= length {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:length]))
}

// hintedText returns realistic text for well-known column names
func hintedText(s *TableState, col *models.Column) (string, bool) {
	name := strings.ToLower(col.Name)
	switch {
	case strings.Contains(name, "email"):
		return s.Faker.Internet().Email(), true
	case strings.Contains(name, "first_name"), strings.Contains(name, "firstname"):
		return s.Faker.Person().FirstName(), true
	case strings.Contains(name, "last_name"), strings.Contains(name, "lastname"):
		return s.Faker.Person().LastName(), true
	case strings.Contains(name, "company"):
		return s.Faker.Company().Name(), true
	case strings.Contains(name, "user") && strings.Contains(name, "name"):
		return s.Faker.Internet().User(), true
	case strings.Contains(name, "name") && !strings.Contains(name, "file"):
		return s.Faker.Person().Name(), true
	case strings.Contains(name, "title"):
		return strings.TrimSuffix(s.Faker.Lorem().Sentence(3), "."), true
	case strings.Contains(name, "url"), strings.Contains(name, "website"):
		return s.Faker.Internet().URL(), true
	case strings.Contains(name, "phone"):
		return s.Faker.Phone().Number(), true
	case strings.Contains(name, "address"), strings.Contains(name, "street"):
		return s.Faker.Address().StreetAddress(), true
	case strings.Contains(name, "city"):
		return s.Faker.Address().City(), true
	case strings.Contains(name, "state"):
		return s.Faker.Address().State(), true
	case strings.Contains(name, "country"):
		return s.Faker.Address().Country(), true
	case strings.Contains(name, "zip"), strings.Contains(name, "postal"):
		return s.Faker.Address().PostCode(), true
	case strings.Contains(name, "description"), strings.Contains(name, "summary"):
		return s.Faker.Lorem().Sentence(8), true
	}
	return "", false
}

func generateText(s *TableState, col *models.Column) (interface{}, error) {
	minLen, maxLen := textLength(s, col)
	if maxLen < 1 {
		return nil, &models.ValueConstraintError{Table: s.Table.Name, Column: col.Name, Reason: "maximum length is zero"}
	}
	if minLen > maxLen {
		return nil, &models.ValueConstraintError{Table: s.Table.Name, Column: col.Name,
			Reason: fmt.Sprintf("minimum length %d exceeds maximum length %d", minLen, maxLen)}
	}

	if col.IsUnique {
		size := uniqueTokenSize
		if size > maxLen {
			size = maxLen
		}
		if size < minLen {
			size = minLen
		}
		token := randomToken(s, size)
		if strings.Contains(strings.ToLower(col.Name), "email") && len(token)+len("@example.com") <= maxLen {
			return token + "@example.com", nil
		}
		return token, nil
	}

	if text, ok := hintedText(s, col); ok {
		if n := utf8.RuneCountInString(text); n >= minLen && n <= maxLen {
			return text, nil
		}
	}

	length := minLen + s.Rand.Intn(maxLen-minLen+1)
	text := truncate(strings.Join(s.Faker.Lorem().Words(length/4+1), " "), length)
	if n := utf8.RuneCountInString(text); n < minLen {
		text += randomToken(s, minLen-n)
	}
	return text, nil
}

func generateBoolean(s *TableState, col *models.Column) (interface{}, error) {
	return s.Rand.Intn(2) == 1, nil
}

// randomInstant draws a second-precision UTC instant from the configured window, never before the epoch
func randomInstant(s *TableState) time.Time {
	from, to := s.DateFrom.UTC(), s.DateTo.UTC()
	epoch := time.Unix(0, 0).UTC()
	if from.Before(epoch) {
		from = epoch
	}
	if to.Before(from) {
		to = from
	}
	span := to.Unix() - from.Unix()
	return time.Unix(from.Unix()+s.Rand.Int63n(span+1), 0).UTC()
}

func generateTimestamp(s *TableState, col *models.Column) (interface{}, error) {
	return randomInstant(s), nil
}

func generateDate(s *TableState, col *models.Column) (interface{}, error) {
	return randomInstant(s).Format(dateLayout), nil
}

func generateTime(s *TableState, col *models.Column) (interface{}, error) {
	return fmt.Sprintf("%02d:%02d:%02d", s.Rand.Intn(24), s.Rand.Intn(60), s.Rand.Intn(60)), nil
}

func generateEnum(s *TableState, col *models.Column) (interface{}, error) {
	if len(col.EnumValues) == 0 {
		return nil, &models.ValueConstraintError{Table: s.Table.Name, Column: col.Name, Reason: "enum has no labels"}
	}
	return col.EnumValues[s.Rand.Intn(len(col.EnumValues))], nil
}

func generateUUID(s *TableState, col *models.Column) (interface{}, error) {
	id, err := uuid.NewRandomFromReader(s.Rand)
	if err != nil {
		return nil, err
	}
	return id.String(), nil
}

func generateJSON(s *TableState, col *models.Column) (interface{}, error) {
	data := map[string]interface{}{
		"id":      s.Rand.Intn(1000),
		"name":    s.Faker.Lorem().Word(),
		"enabled": s.Rand.Intn(2) == 1,
	}
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return string(jsonBytes), nil
}

func generateBinary(s *TableState, col *models.Column) (interface{}, error) {
	maxLen := binaryMaxLength
	if col.CharMaxLength != nil && *col.CharMaxLength < int64(maxLen) {
		maxLen = int(*col.CharMaxLength)
	}
	if maxLen < 1 {
		return []byte{}, nil
	}

	data := make([]byte, 1+s.Rand.Intn(maxLen))
	s.Rand.Read(data)
	return data, nil
}
