package geo

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/samapviewer/tracker/internal/model/core"
)

// Location values arrive in at least four shapes: typed x/y pairs, ordered
// numeric sequences, coordinate strings embedded in free text, and named
// places. The resolver tries an ordered cascade of increasingly permissive
// rules; the first match wins, so structured inputs never fall through to
// the fuzzy text rules.

var (
	bracketRe = regexp.MustCompile(`\[\s*(-?\d+(?:\.\d+)?)\s*[,;\s]\s*(-?\d+(?:\.\d+)?)\s*\]`)
	pairRe    = regexp.MustCompile(`^(-?\d+(?:\.\d+)?)[,\s]+(-?\d+(?:\.\d+)?)$`)
	numericRe = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
)

// DefaultNamedLocations maps well-known place names to world coordinates.
// Keys are lower-cased; config may extend or override the table.
var DefaultNamedLocations = map[string]core.Position{
	"downtown": {X: -1500, Y: 1200},
	"docks":    {X: 2000, Y: -800},
	"airport":  {X: 500, Y: 1800},
}

// Resolver decodes opaque location values into world positions.
type Resolver struct {
	named map[string]core.Position
}

// NewResolver creates a resolver with the given named-location table merged
// over the defaults. Keys are matched case-insensitively.
func NewResolver(named map[string]core.Position) *Resolver {
	table := make(map[string]core.Position, len(DefaultNamedLocations)+len(named))
	for k, v := range DefaultNamedLocations {
		table[strings.ToLower(k)] = v
	}
	for k, v := range named {
		table[strings.ToLower(k)] = v
	}
	return &Resolver{named: table}
}

// Resolve decodes a location value of unknown shape. Rules, in order:
// numeric x/y pair object, 2-element numeric sequence, bracketed "[x, y]"
// string, exact "x y"/"x,y" pair, first two numbers anywhere in free text,
// named-location lookup. Returns ok=false when nothing matches.
func (r *Resolver) Resolve(value any) (core.Position, bool) {
	switch v := value.(type) {
	case nil:
		return core.Position{}, false
	case core.Position:
		if finite(v.X) && finite(v.Y) {
			return v, true
		}
		return core.Position{}, false
	case map[string]any:
		return resolvePairObject(v)
	case map[string]string:
		obj := make(map[string]any, len(v))
		for k, s := range v {
			obj[k] = s
		}
		return resolvePairObject(obj)
	case []float64:
		if len(v) >= 2 && finite(v[0]) && finite(v[1]) {
			return core.Position{X: v[0], Y: v[1]}, true
		}
		return core.Position{}, false
	case []any:
		return resolveSequence(v)
	case []string:
		seq := make([]any, len(v))
		for i, s := range v {
			seq[i] = s
		}
		return resolveSequence(seq)
	case string:
		return r.resolveString(v)
	default:
		return core.Position{}, false
	}
}

// resolvePairObject handles objects exposing x and y. Both must parse to
// finite numbers, else the value is malformed and rejected outright.
func resolvePairObject(obj map[string]any) (core.Position, bool) {
	xv, xok := obj["x"]
	yv, yok := obj["y"]
	if !xok || !yok {
		return core.Position{}, false
	}
	x, ok := toFloat(xv)
	if !ok {
		return core.Position{}, false
	}
	y, ok := toFloat(yv)
	if !ok {
		return core.Position{}, false
	}
	return core.Position{X: x, Y: y}, true
}

// resolveSequence handles 2-element ordered sequences of numerics.
func resolveSequence(seq []any) (core.Position, bool) {
	if len(seq) < 2 {
		return core.Position{}, false
	}
	x, ok := toFloat(seq[0])
	if !ok {
		return core.Position{}, false
	}
	y, ok := toFloat(seq[1])
	if !ok {
		return core.Position{}, false
	}
	return core.Position{X: x, Y: y}, true
}

func (r *Resolver) resolveString(s string) (core.Position, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return core.Position{}, false
	}
	if pos, ok := parseBracketed(s); ok {
		return pos, true
	}
	if pos, ok := parsePair(s); ok {
		return pos, true
	}
	if pos, ok := parseFreeText(s); ok {
		return pos, true
	}
	return r.lookupNamed(s)
}

// parseBracketed matches "[123, -456]" with comma, semicolon or space
// separators.
func parseBracketed(s string) (core.Position, bool) {
	m := bracketRe.FindStringSubmatch(s)
	if m == nil {
		return core.Position{}, false
	}
	return positionFromStrings(m[1], m[2])
}

// parsePair matches an exact "123 -456" or "123,-456" pair.
func parsePair(s string) (core.Position, bool) {
	m := pairRe.FindStringSubmatch(s)
	if m == nil {
		return core.Position{}, false
	}
	return positionFromStrings(m[1], m[2])
}

// parseFreeText extracts the first two numbers found anywhere in the text,
// useful for log lines and pasted chat blocks.
func parseFreeText(s string) (core.Position, bool) {
	nums := numericRe.FindAllString(s, 2)
	if len(nums) < 2 {
		return core.Position{}, false
	}
	return positionFromStrings(nums[0], nums[1])
}

func (r *Resolver) lookupNamed(s string) (core.Position, bool) {
	pos, ok := r.named[strings.ToLower(s)]
	return pos, ok
}

func positionFromStrings(xs, ys string) (core.Position, bool) {
	x, err := strconv.ParseFloat(xs, 64)
	if err != nil || !finite(x) {
		return core.Position{}, false
	}
	y, err := strconv.ParseFloat(ys, 64)
	if err != nil || !finite(y) {
		return core.Position{}, false
	}
	return core.Position{X: x, Y: y}, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, finite(n)
	case float32:
		return float64(n), finite(float64(n))
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, finite(f)
	default:
		return 0, false
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
