package analyzer

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/vitebski/db-autofill/internal/connector"
	"github.com/vitebski/db-autofill/pkg/models"
)

var (
	enumValuesRegexp = regexp.MustCompile(`'((?:[^']|'')*)'`)
	typeLengthRegexp = regexp.MustCompile(`\(\s*(\d+)\s*(?:,\s*(\d+)\s*)?\)`)
)

// integer storage bounds, signed then unsigned
var integerBounds = map[string][2][2]float64{
	"tinyint":   {{math.MinInt8, math.MaxInt8}, {0, math.MaxUint8}},
	"smallint":  {{math.MinInt16, math.MaxInt16}, {0, math.MaxUint16}},
	"mediumint": {{-8388608, 8388607}, {0, 16777215}},
	"int":       {{math.MinInt32, math.MaxInt32}, {0, math.MaxUint32}},
	"integer":   {{math.MinInt32, math.MaxInt32}, {0, math.MaxUint32}},
	"bigint":    {{math.MinInt64, math.MaxInt64}, {0, math.MaxUint64}},
	"year":      {{1901, 2155}, {1901, 2155}},
}

// classifyColumn derives the semantic type and the storage-type bounds of a column
func classifyColumn(driver string, col *models.Column) {
	switch driver {
	case connector.DriverMySQL:
		classifyMySQL(col)
	case connector.DriverPostgres:
		classifyPostgres(col)
	default:
		classifySQLite(col)
	}

	switch col.SemanticType {
	case models.Integer:
		applyIntegerBounds(driver, col)
	case models.Decimal:
		applyDecimalBounds(col)
	}
}

func classifyMySQL(col *models.Column) {
	dataType := strings.ToLower(col.DataType)
	columnType := strings.ToLower(col.ColumnType)
	col.IsUnsigned = strings.Contains(columnType, "unsigned")

	switch dataType {
	case "tinyint":
		if strings.HasPrefix(columnType, "tinyint(1)") {
			col.SemanticType = models.Boolean
		} else {
			col.SemanticType = models.Integer
		}
	case "bit":
		if columnType == "bit(1)" {
			col.SemanticType = models.Boolean
		} else {
			col.SemanticType = models.Unsupported
		}
	case "smallint", "mediumint", "int", "integer", "bigint", "year":
		col.SemanticType = models.Integer
	case "decimal", "numeric", "float", "double", "real":
		col.SemanticType = models.Decimal
	case "char", "varchar", "tinytext", "text", "mediumtext", "longtext":
		col.SemanticType = models.Text
	case "binary", "varbinary", "tinyblob", "blob", "mediumblob", "longblob":
		col.SemanticType = models.Binary
	case "date":
		col.SemanticType = models.Date
	case "datetime", "timestamp":
		col.SemanticType = models.Timestamp
	case "time":
		col.SemanticType = models.Time
	case "enum", "set":
		col.SemanticType = models.Enum
		col.EnumValues = parseEnumValues(col.ColumnType)
	case "json":
		col.SemanticType = models.JSON
	default:
		col.SemanticType = models.Unsupported
	}
}

func classifyPostgres(col *models.Column) {
	dataType := strings.ToLower(col.DataType)

	switch {
	case len(col.EnumValues) > 0:
		col.SemanticType = models.Enum
	case dataType == "smallint", dataType == "integer", dataType == "bigint":
		col.SemanticType = models.Integer
	case dataType == "numeric", dataType == "decimal", dataType == "real", dataType == "double precision", dataType == "money":
		col.SemanticType = models.Decimal
	case dataType == "character varying", dataType == "character", dataType == "text", col.ColumnType == "citext":
		col.SemanticType = models.Text
	case dataType == "boolean":
		col.SemanticType = models.Boolean
	case strings.HasPrefix(dataType, "timestamp"):
		col.SemanticType = models.Timestamp
	case dataType == "date":
		col.SemanticType = models.Date
	case strings.HasPrefix(dataType, "time"):
		col.SemanticType = models.Time
	case dataType == "uuid":
		col.SemanticType = models.UUID
	case dataType == "json", dataType == "jsonb":
		col.SemanticType = models.JSON
	case dataType == "bytea":
		col.SemanticType = models.Binary
	default:
		col.SemanticType = models.Unsupported
	}
}

// classifySQLite follows the column affinity rules, refined by common declared type names
func classifySQLite(col *models.Column) {
	declared := strings.ToUpper(strings.TrimSpace(col.DataType))
	col.IsUnsigned = strings.Contains(declared, "UNSIGNED")

	if m := typeLengthRegexp.FindStringSubmatch(declared); m != nil {
		n, _ := strconv.ParseInt(m[1], 10, 64)
		if m[2] != "" {
			scale, _ := strconv.ParseInt(m[2], 10, 64)
			col.NumericPrecision = &n
			col.NumericScale = &scale
		} else if strings.Contains(declared, "CHAR") {
			col.CharMaxLength = &n
		}
	}

	switch {
	case strings.Contains(declared, "BOOL"):
		col.SemanticType = models.Boolean
	case strings.Contains(declared, "INT"):
		col.SemanticType = models.Integer
	case strings.Contains(declared, "UUID"), strings.Contains(declared, "GUID"):
		col.SemanticType = models.UUID
	case strings.Contains(declared, "DATETIME"), strings.Contains(declared, "TIMESTAMP"):
		col.SemanticType = models.Timestamp
	case strings.Contains(declared, "DATE"):
		col.SemanticType = models.Date
	case strings.Contains(declared, "TIME"):
		col.SemanticType = models.Time
	case strings.Contains(declared, "JSON"):
		col.SemanticType = models.JSON
	case strings.Contains(declared, "CHAR"), strings.Contains(declared, "CLOB"), strings.Contains(declared, "TEXT"), declared == "":
		col.SemanticType = models.Text
	case strings.Contains(declared, "BLOB"):
		col.SemanticType = models.Binary
	default:
		// REAL, FLOAT, DOUBLE, NUMERIC, DECIMAL and anything else with numeric affinity
		col.SemanticType = models.Decimal
	}
}

// parseEnumValues extracts the labels of a MySQL enum('a','b') or set(...) column type
func parseEnumValues(columnType string) []string {
	open := strings.Index(columnType, "(")
	if open < 0 {
		return nil
	}
	var values []string
	for _, m := range enumValuesRegexp.FindAllStringSubmatch(columnType[open:], -1) {
		values = append(values, strings.ReplaceAll(m[1], "''", "'"))
	}
	return values
}

func applyIntegerBounds(driver string, col *models.Column) {
	bounds, ok := integerBounds[strings.ToLower(col.DataType)]
	if !ok || driver == connector.DriverSQLite {
		// SQLite integers are 64-bit whatever the declared name
		bounds = integerBounds["bigint"]
	}

	pair := bounds[0]
	if col.IsUnsigned {
		pair = bounds[1]
	}
	tightenMin(col, pair[0])
	tightenMax(col, pair[1])
}

func applyDecimalBounds(col *models.Column) {
	if col.NumericPrecision == nil || col.NumericScale == nil {
		return
	}
	precision, scale := *col.NumericPrecision, *col.NumericScale
	if precision <= 0 || scale > precision {
		return
	}
	limit := math.Pow10(int(precision-scale)) - math.Pow10(-int(scale))
	if col.IsUnsigned {
		tightenMin(col, 0)
	} else {
		tightenMin(col, -limit)
	}
	tightenMax(col, limit)
}

func tightenMin(col *models.Column, v float64) {
	if col.MinValue == nil || v > *col.MinValue {
		col.MinValue = &v
	}
}

func tightenMax(col *models.Column, v float64) {
	if col.MaxValue == nil || v < *col.MaxValue {
		col.MaxValue = &v
	}
}

func tightenLength(col *models.Column, n int64) {
	if col.CharMaxLength == nil || n < *col.CharMaxLength {
		col.CharMaxLength = &n
	}
}

func tightenMinLength(col *models.Column, n int64) {
	if col.CharMinLength == nil || n > *col.CharMinLength {
		col.CharMinLength = &n
	}
}
