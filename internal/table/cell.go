package table

import (
	"math"
	"strconv"
	"strings"
)

// missingTokens are textual cells read as missing values.
var missingTokens = map[string]struct{}{
	"":     {},
	"NA":   {},
	"N/A":  {},
	"n/a":  {},
	"NaN":  {},
	"nan":  {},
	"NULL": {},
	"null": {},
	"None": {},
	"<NA>": {},
}

// IsMissingToken reports whether s is one of the textual missing-value markers.
func IsMissingToken(s string) bool {
	_, ok := missingTokens[strings.TrimSpace(s)]
	return ok
}

// ParseCell converts text to the narrowest cell type: int64, float64, or string.
// Missing tokens become nil.
func ParseCell(s string) any {
	if IsMissingToken(s) {
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) {
		return f
	}
	return s
}

// FormatCell renders a cell as text. Integral floats render without a
// fractional part so that 3 and 3.0 produce the same key.
func FormatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		if math.IsNaN(x) {
			return ""
		}
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case []byte:
		return string(x)
	default:
		return ""
	}
}

// Float coerces a cell to float64. Non-numeric text and nil yield false.
func Float(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case float64:
		if math.IsNaN(x) {
			return 0, false
		}
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	case []byte:
		return Float(string(x))
	default:
		return 0, false
	}
}

// Int coerces a cell to int64. Floats must be integral.
func Int(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		if x != math.Trunc(x) || math.IsNaN(x) {
			return 0, false
		}
		return int64(x), true
	case string:
		s := strings.TrimSpace(x)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		if f, ok := Float(s); ok && f == math.Trunc(f) {
			return int64(f), true
		}
		return 0, false
	case []byte:
		return Int(string(x))
	default:
		return 0, false
	}
}

// Kind classifies a column for schema inference.
type Kind int

// Column kinds, ordered from narrowest to widest.
const (
	KindNull Kind = iota
	KindInteger
	KindReal
	KindText
)

// InferKind returns the narrowest kind able to hold every non-nil value.
// Booleans count as integers.
func InferKind(values []any) Kind {
	kind := KindNull
	for _, v := range values {
		var k Kind
		switch v.(type) {
		case nil:
			continue
		case int64, int, bool:
			k = KindInteger
		case float64:
			k = KindReal
		default:
			return KindText
		}
		if k > kind {
			kind = k
		}
	}
	return kind
}
