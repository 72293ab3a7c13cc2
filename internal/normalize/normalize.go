// Package normalize coerces loosely typed feed values into typed values.
//
// Every function here is total: malformed input yields the zero value and
// ok=false (absent) instead of an error or a panic.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// AreaCm2Threshold is the raw area above which a value is read as cm2.
const AreaCm2Threshold = 300

// Parser coerces raw scalars. The zero value is ready to use.
type Parser struct {
	// OnAmbiguous is called for numbers with a single separator followed by
	// exactly three digits ("1.200"). The thousands reading is still returned.
	OnAmbiguous func(raw string, value float64)
}

var std Parser

var affirmative = map[string]struct{}{
	"true":      {},
	"1":         {},
	"si":        {},
	"sí":        {},
	"s":         {},
	"yes":       {},
	"y":         {},
	"v":         {},
	"verdadero": {},
	"on":        {},
}

var separators = strings.NewReplacer(".", "", ",", "")

// Number parses v using the package default parser.
func Number(v any) (float64, bool) { return std.Number(v) }

// Int parses v using the package default parser.
func Int(v any) (int, bool) { return std.Int(v) }

// Percent parses v using the package default parser.
func Percent(v any) (float64, bool) { return std.Percent(v) }

// Area parses v using the package default parser.
func Area(v any) (float64, bool) { return std.Area(v) }

// Number returns v as a finite float64. Strings use "." for thousands and ","
// for decimals; the length of the group after the last separator decides:
// two digits or fewer is a decimal part, anything longer is a thousands group.
func (p Parser) Number(v any) (float64, bool) {
	switch t := v.(type) {
	case nil, bool:
		return 0, false
	case float64:
		return finite(t)
	case float32:
		return finite(float64(t))
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		// JSON literals are never locale formatted
		if f, err := t.Float64(); err == nil {
			return finite(f)
		}
		return p.parse(t.String())
	case string:
		return p.parse(t)
	default:
		return 0, false
	}
}

func (p Parser) parse(raw string) (float64, bool) {
	var b strings.Builder
	negative := false
	digits := 0
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			digits++
			b.WriteRune(r)
		case r == '.' || r == ',':
			if digits > 0 {
				b.WriteRune(r)
			}
		case r == '-' && digits == 0:
			negative = true
		}
	}
	if digits == 0 {
		return 0, false
	}

	cleaned := b.String()
	ambiguous := false
	if last := strings.LastIndexAny(cleaned, ".,"); last >= 0 {
		trailing := cleaned[last+1:]
		if n := len(trailing); n > 0 && n <= 2 {
			cleaned = separators.Replace(cleaned[:last]) + "." + trailing
		} else {
			ambiguous = n == 3 && strings.Count(cleaned, ".")+strings.Count(cleaned, ",") == 1
			cleaned = separators.Replace(cleaned)
		}
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, false
	}
	if negative {
		d = d.Neg()
	}
	f, ok := finite(d.InexactFloat64())
	if ok && ambiguous && p.OnAmbiguous != nil {
		p.OnAmbiguous(raw, f)
	}
	return f, ok
}

// Int rounds v to an integer inside the signed 32-bit range. Values outside
// the range normalize to 0.
func (p Parser) Int(v any) (int, bool) {
	f, ok := p.Number(v)
	if !ok {
		return 0, false
	}
	r := math.Round(f)
	if r > math.MaxInt32 || r < math.MinInt32 {
		return 0, true
	}
	return int(r), true
}

// Percent clamps v to [0,100].
func (p Parser) Percent(v any) (float64, bool) {
	f, ok := p.Number(v)
	if !ok {
		return 0, false
	}
	return math.Min(100, math.Max(0, f)), true
}

// Area returns a positive area in m2. Raw values above AreaCm2Threshold are
// taken to be cm2 and divided by 100.
func (p Parser) Area(v any) (float64, bool) {
	f, ok := p.Number(v)
	if !ok || f <= 0 {
		return 0, false
	}
	if f > AreaCm2Threshold {
		f = f / 100
	}
	return f, true
}

// Bool reports whether v belongs to the affirmative vocabulary.
func Bool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t == 1
	case int:
		return t == 1
	case json.Number:
		return t.String() == "1"
	case string:
		_, ok := affirmative[strings.ToLower(strings.TrimSpace(t))]
		return ok
	default:
		return false
	}
}

// Enum returns the trimmed value of v only if it is one of allowed.
func Enum(v any, allowed []string) (string, bool) {
	s := String(v)
	for _, a := range allowed {
		if s == a {
			return a, true
		}
	}
	return "", false
}

// EnumFold is Enum with case-insensitive matching. The allowed spelling is returned.
func EnumFold(v any, allowed []string) (string, bool) {
	s := String(v)
	for _, a := range allowed {
		if strings.EqualFold(s, a) {
			return a, true
		}
	}
	return "", false
}

// IDList is a parsed pipe-delimited id list.
type IDList struct {
	IDs         []string `json:"ids"`
	HasOptional bool     `json:"has_optional"`
}

// IDs parses "A1|A2|x" style lists. The literal token "x" marks the option as
// negotiable and is not an id. Arrays are accepted as well.
func IDs(v any) IDList {
	var parts []string
	switch t := v.(type) {
	case nil:
		return IDList{}
	case []string:
		parts = t
	case []any:
		for _, item := range t {
			parts = append(parts, String(item))
		}
	default:
		parts = strings.Split(String(v), "|")
	}

	var out IDList
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		switch {
		case part == "":
			continue
		case strings.EqualFold(part, "x"):
			out.HasOptional = true
			continue
		}
		if _, dup := seen[part]; dup {
			continue
		}
		seen[part] = struct{}{}
		out.IDs = append(out.IDs, part)
	}
	return out
}

// String stringifies and trims v. Integral floats print without a fraction so
// that numeric ids coming from JSON keep their natural form.
func String(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// Label folds a free-text label for table lookups: accents stripped, case
// folded, inner whitespace collapsed.
func Label(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return cases.Fold().String(strings.Join(strings.Fields(out), " "))
}

func finite(f float64) (float64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
