// Package characteristics interprets the open key/value maps attached to
// resource definitions and requirements. Values are scalars, comparator
// strings such as ">3" or "<=10", or lists of strings.
package characteristics

import (
	"strconv"
	"strings"
)

// Comparator is a parsed numeric comparison encoded as a string value.
type Comparator struct {
	Op      string
	Operand float64
}

var comparatorOps = []string{">=", "<=", ">", "<"}

// ParseComparator recognizes ">n", "<n", ">=n", "<=n". Anything else,
// including bare numbers, is not a comparator.
func ParseComparator(raw string) (Comparator, bool) {
	s := strings.TrimSpace(raw)
	for _, op := range comparatorOps {
		if !strings.HasPrefix(s, op) {
			continue
		}
		operand, err := strconv.ParseFloat(strings.TrimSpace(s[len(op):]), 64)
		if err != nil {
			return Comparator{}, false
		}
		return Comparator{Op: op, Operand: operand}, true
	}
	return Comparator{}, false
}

func (c Comparator) Eval(v float64) bool {
	switch c.Op {
	case ">":
		return v > c.Operand
	case "<":
		return v < c.Operand
	case ">=":
		return v >= c.Operand
	case "<=":
		return v <= c.Operand
	}
	return false
}

// Number coerces scalar values (and numeric strings) to float64.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// StringList coerces []string and []any-of-strings values.
func StringList(v any) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// MatchValue scores one wanted value against one held value. Exact scalar
// equality and satisfied comparators earn full credit; list overlap earns
// proportional credit. ok is false when the key is not satisfied at all.
func MatchValue(want, have any) (float64, bool) {
	if s, isStr := want.(string); isStr {
		if cmp, isCmp := ParseComparator(s); isCmp {
			n, numeric := Number(have)
			if numeric && cmp.Eval(n) {
				return 1, true
			}
			return 0, false
		}
	}
	if wantList, ok := StringList(want); ok {
		haveList, ok := StringList(have)
		if !ok {
			return 0, false
		}
		held := make(map[string]struct{}, len(haveList))
		for _, item := range haveList {
			held[item] = struct{}{}
		}
		overlap := 0
		for _, item := range wantList {
			if _, found := held[item]; found {
				overlap++
			}
		}
		if overlap == 0 || len(wantList) == 0 {
			return 0, false
		}
		return float64(overlap) / float64(len(wantList)), true
	}
	if scalarEqual(want, have) {
		return 1, true
	}
	return 0, false
}

func scalarEqual(a, b any) bool {
	if a == b {
		return true
	}
	na, aok := Number(a)
	nb, bok := Number(b)
	return aok && bok && na == nb
}

// Match scores a filter against held characteristics. Every filter key must
// be satisfied; the score is the sum of per-key credit. An empty filter
// matches everything with zero score.
func Match(filter, have map[string]any) (float64, bool) {
	total := 0.0
	for key, want := range filter {
		held, exists := have[key]
		if !exists {
			return 0, false
		}
		credit, ok := MatchValue(want, held)
		if !ok {
			return 0, false
		}
		total += credit
	}
	return total, true
}

// Merge computes effective characteristics for a definition extending a
// parent. The child wins on key collision; inputs are not mutated.
func Merge(parent, child map[string]any) map[string]any {
	out := make(map[string]any, len(parent)+len(child))
	for k, v := range parent {
		out[k] = v
	}
	for k, v := range child {
		out[k] = v
	}
	return out
}
