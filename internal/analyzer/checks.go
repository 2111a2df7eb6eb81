package analyzer

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/vitebski/db-autofill/pkg/models"
)

const number = `(-?\d+(?:\.\d+)?)`

var (
	castRegexp        = regexp.MustCompile(`::[a-zA-Z_ ]+(?:\(\d+(?:,\d+)?\))?(?:\[\])?`)
	wrappedAtomRegexp = regexp.MustCompile(`(^|[^\w])\(\s*([\w.'-]+)\s*\)`)
	introducerRegexp  = regexp.MustCompile(`(^|[^\w])_[a-zA-Z0-9]+'`)
	wordRegexp        = regexp.MustCompile(`\w+`)
	spaceRegexp       = regexp.MustCompile(`\s+`)
	andRegexp         = regexp.MustCompile(`(?i)\s+AND\s+`)

	compareRegexp   = regexp.MustCompile(`^(\w+)\s*(>=|>|<=|<)\s*` + number + `$`)
	reversedRegexp  = regexp.MustCompile(`^` + number + `\s*(>=|>|<=|<)\s*(\w+)$`)
	betweenRegexp   = regexp.MustCompile(`(?i)^(\w+)\s+BETWEEN\s+` + number + `\s+AND\s+` + number + `$`)
	lengthRegexp    = regexp.MustCompile(`(?i)^(?:length|char_length|character_length)\((\w+)\)\s*(>=|>|<=|<)\s*(\d+)$`)
	inListRegexp    = regexp.MustCompile(`(?i)^(\w+)\s+IN\s*\(?(.+?)\)?$`)
	anyArrayRegexp  = regexp.MustCompile(`(?i)^(\w+)\s*=\s*ANY\s*\(+\s*ARRAY\[(.+)\]\s*\)+$`)
	listValueRegexp = regexp.MustCompile(`'((?:[^']|'')*)'|(-?\d+(?:\.\d+)?)`)
)

var flipped = map[string]string{">=": "<=", ">": "<", "<=": ">=", "<": ">"}

// normalizeCheck reduces a catalog CHECK clause to a plain expression
func normalizeCheck(clause string) string {
	expr := strings.TrimSpace(clause)
	if len(expr) >= 5 && strings.EqualFold(expr[:5], "CHECK") {
		expr = strings.TrimSpace(expr[5:])
	}
	expr = strings.NewReplacer("`", "", `"`, "").Replace(expr)
	expr = castRegexp.ReplaceAllString(expr, "")
	expr = introducerRegexp.ReplaceAllString(expr, "$1'")

	for {
		next := wrappedAtomRegexp.ReplaceAllString(expr, "$1$2")
		next = stripOuterParens(strings.TrimSpace(next))
		if next == expr {
			break
		}
		expr = next
	}
	return spaceRegexp.ReplaceAllString(expr, " ")
}

// stripOuterParens removes one pair of parentheses enclosing the whole expression
func stripOuterParens(expr string) string {
	if !strings.HasPrefix(expr, "(") || !strings.HasSuffix(expr, ")") {
		return expr
	}
	depth := 0
	for i, r := range expr {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 && i != len(expr)-1 {
				return expr
			}
		}
	}
	return strings.TrimSpace(expr[1 : len(expr)-1])
}

// applyCheck tightens column domains with a CHECK clause. It reports false when the clause
// does not match one of the understood patterns; the table is left untouched in that case.
func applyCheck(table *models.TableSchema, clause string) bool {
	expr := normalizeCheck(clause)

	if apply, ok := matchCheck(table, expr); ok {
		apply()
		return true
	}

	// A conjunction is understood when every term is
	parts := splitConjunction(expr)
	if len(parts) < 2 {
		return false
	}
	var applies []func()
	for _, part := range parts {
		apply, ok := matchCheck(table, stripOuterParens(part))
		if !ok {
			return false
		}
		applies = append(applies, apply)
	}
	for _, apply := range applies {
		apply()
	}
	return true
}

// splitConjunction splits on AND without breaking BETWEEN x AND y
func splitConjunction(expr string) []string {
	tokens := andRegexp.Split(expr, -1)
	var parts []string
	for i := 0; i < len(tokens); i++ {
		part := tokens[i]
		if strings.Contains(strings.ToUpper(part), " BETWEEN ") && i+1 < len(tokens) {
			part += " AND " + tokens[i+1]
			i++
		}
		parts = append(parts, part)
	}
	return parts
}

// matchCheck returns the domain update for a single understood predicate
func matchCheck(table *models.TableSchema, expr string) (func(), bool) {
	if m := compareRegexp.FindStringSubmatch(expr); m != nil {
		return compareBound(table, m[1], m[2], m[3])
	}
	if m := reversedRegexp.FindStringSubmatch(expr); m != nil {
		return compareBound(table, m[3], flipped[m[2]], m[1])
	}
	if m := betweenRegexp.FindStringSubmatch(expr); m != nil {
		col, ok := numericColumn(table, m[1])
		if !ok {
			return nil, false
		}
		low, _ := strconv.ParseFloat(m[2], 64)
		high, _ := strconv.ParseFloat(m[3], 64)
		return func() {
			tightenMin(col, low)
			tightenMax(col, high)
		}, true
	}
	if m := lengthRegexp.FindStringSubmatch(expr); m != nil {
		col, ok := table.Column(m[1])
		if !ok || col.SemanticType != models.Text {
			return nil, false
		}
		n, _ := strconv.ParseInt(m[3], 10, 64)
		switch m[2] {
		case ">=":
			return func() { tightenMinLength(col, n) }, true
		case ">":
			return func() { tightenMinLength(col, n+1) }, true
		case "<":
			n--
		}
		return func() { tightenLength(col, n) }, true
	}
	if m := inListRegexp.FindStringSubmatch(expr); m != nil {
		return enumList(table, m[1], m[2])
	}
	if m := anyArrayRegexp.FindStringSubmatch(expr); m != nil {
		return enumList(table, m[1], m[2])
	}
	return nil, false
}

func numericColumn(table *models.TableSchema, name string) (*models.Column, bool) {
	col, ok := table.Column(name)
	if !ok || (col.SemanticType != models.Integer && col.SemanticType != models.Decimal) {
		return nil, false
	}
	return col, true
}

func compareBound(table *models.TableSchema, name, op, value string) (func(), bool) {
	col, ok := numericColumn(table, name)
	if !ok {
		return nil, false
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, false
	}

	// Smallest step between two distinct values of the column
	step := 1.0
	if col.SemanticType == models.Decimal {
		scale := int64(2)
		if col.NumericScale != nil {
			scale = *col.NumericScale
		}
		step = math.Pow10(-int(scale))
	}

	return func() {
		switch op {
		case ">=":
			tightenMin(col, v)
		case ">":
			if col.SemanticType == models.Integer {
				tightenMin(col, math.Floor(v)+step)
			} else {
				tightenMin(col, v+step)
			}
		case "<=":
			tightenMax(col, v)
		case "<":
			if col.SemanticType == models.Integer {
				tightenMax(col, math.Ceil(v)-step)
			} else {
				tightenMax(col, v-step)
			}
		}
	}, true
}

func enumList(table *models.TableSchema, name, list string) (func(), bool) {
	col, ok := table.Column(name)
	if !ok {
		return nil, false
	}
	var values []string
	for _, m := range listValueRegexp.FindAllStringSubmatch(list, -1) {
		if m[2] != "" {
			values = append(values, m[2])
		} else {
			values = append(values, strings.ReplaceAll(m[1], "''", "'"))
		}
	}
	// Only a plain list of literals is understood
	rest := strings.Trim(listValueRegexp.ReplaceAllString(list, ""), ", ")
	if len(values) == 0 || rest != "" {
		return nil, false
	}

	return func() {
		if col.SemanticType == models.Enum && len(col.EnumValues) > 0 {
			allowed := make(map[string]bool, len(col.EnumValues))
			for _, v := range col.EnumValues {
				allowed[v] = true
			}
			var kept []string
			for _, v := range values {
				if allowed[v] {
					kept = append(kept, v)
				}
			}
			values = kept
		}
		col.SemanticType = models.Enum
		col.EnumValues = values
	}, true
}

// checkColumn guesses which column an unsupported CHECK clause is about
func checkColumn(table *models.TableSchema, clause string) *models.Column {
	expr := normalizeCheck(clause)
	for _, word := range wordRegexp.FindAllString(expr, -1) {
		if col, ok := table.Column(word); ok {
			return col
		}
	}
	return nil
}
