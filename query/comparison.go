package query

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Comparison is one of the six predicate operators a leaf can apply.
type Comparison int

// Supported comparisons.
const (
	Equal Comparison = iota + 1
	Different
	Greater
	GreaterEqual
	Lower
	LowerEqual
)

var comparisonNames = map[Comparison]string{
	Equal:        "eq",
	Different:    "ne",
	Greater:      "gt",
	GreaterEqual: "gte",
	Lower:        "lt",
	LowerEqual:   "lte",
}

var comparisonSymbols = map[Comparison]string{
	Equal:        "=",
	Different:    "!=",
	Greater:      ">",
	GreaterEqual: ">=",
	Lower:        "<",
	LowerEqual:   "<=",
}

// ParseComparison accepts word (eq, ne, gt, gte, lt, lte) and symbolic
// (=, ==, !=, <>, >, >=, <, <=) forms.
func ParseComparison(s string) (Comparison, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "eq", "=", "==", "equal":
		return Equal, nil
	case "ne", "!=", "<>", "different":
		return Different, nil
	case "gt", ">", "greater":
		return Greater, nil
	case "gte", ">=", "greaterequal":
		return GreaterEqual, nil
	case "lt", "<", "lower":
		return Lower, nil
	case "lte", "<=", "lowerequal":
		return LowerEqual, nil
	default:
		return 0, fmt.Errorf("unknown comparison %q", s)
	}
}

// String returns the word form of the comparison.
func (c Comparison) String() string {
	if name, ok := comparisonNames[c]; ok {
		return name
	}
	return fmt.Sprintf("comparison(%d)", int(c))
}

// Symbol returns the symbolic form of the comparison.
func (c Comparison) Symbol() string {
	if sym, ok := comparisonSymbols[c]; ok {
		return sym
	}
	return "?"
}

// Valid reports whether c is one of the six known comparisons.
func (c Comparison) Valid() bool {
	_, ok := comparisonNames[c]
	return ok
}

// MarshalJSON encodes the word form.
func (c Comparison) MarshalJSON() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid comparison %d", int(c))
	}
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes either form.
func (c *Comparison) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseComparison(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Compare applies the comparison to a (the stored value) and b (the target).
// Compare never panics: operands that cannot be compared yield false.
func (c Comparison) Compare(a, b any) (result bool) {
	defer func() {
		if recover() != nil {
			result = false
		}
	}()

	switch c {
	case Equal:
		return equalValues(a, b)
	case Different:
		return !equalValues(a, b)
	case Greater, GreaterEqual, Lower, LowerEqual:
		order, ok := orderValues(a, b)
		if !ok {
			return false
		}
		switch c {
		case Greater:
			return order > 0
		case GreaterEqual:
			return order >= 0
		case Lower:
			return order < 0
		default:
			return order <= 0
		}
	default:
		return false
	}
}

// equalValues tries case-insensitive string equality, then numeric equality.
func equalValues(a, b any) bool {
	if Normalize(toString(a)) == Normalize(toString(b)) {
		return true
	}
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	return okA && okB && fa == fb
}

// numericClass mirrors the boxed number types a typed comparison prefers:
// Integer, Long, Float and Double.
type numericClass int

const (
	classNone numericClass = iota
	classInteger
	classLong
	classFloat
	classDouble
)

func classify(v any) numericClass {
	switch v.(type) {
	case int, int8, int16, int32, uint8, uint16:
		return classInteger
	case int64, uint, uint32, uint64:
		return classLong
	case float32:
		return classFloat
	case float64:
		return classDouble
	default:
		return classNone
	}
}

// orderValues returns the sign of a-b. Operands of the same numeric class
// are compared in that class; anything else is parsed as float64.
func orderValues(a, b any) (int, bool) {
	ca := classify(a)
	if ca != classNone && ca == classify(b) {
		switch ca {
		case classInteger, classLong:
			ia, _ := toInt64(a)
			ib, _ := toInt64(b)
			return cmpInt(ia, ib), true
		case classFloat:
			fa := a.(float32)
			fb := b.(float32)
			if math.IsNaN(float64(fa)) || math.IsNaN(float64(fb)) {
				return 0, false
			}
			return cmpFloat(float64(fa), float64(fb)), true
		}
	}

	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if !okA || !okB || math.IsNaN(fa) || math.IsNaN(fb) {
		return 0, false
	}
	return cmpFloat(fa, fb), true
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}

// toFloat coerces numbers and numeric strings to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		return parseFloat(n)
	case bool:
		return 0, false
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	switch n := v.(type) {
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return parseFloat(toString(v))
}

func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// toString renders a value the way it is indexed.
func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(s), 'f', -1, 32)
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

// isNumeric reports whether v coerces to a number.
func isNumeric(v any) bool {
	_, ok := toFloat(v)
	return ok
}
