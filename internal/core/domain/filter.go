package domain

import (
	"encoding/json"
	"fmt"
)

type FilterOp string

const (
	OpEq  FilterOp = "=="
	OpNeq FilterOp = "!="
	OpLt  FilterOp = "<"
	OpLte FilterOp = "<="
	OpGt  FilterOp = ">"
	OpGte FilterOp = ">="
)

// Filter is a single field predicate applied by Query.
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

func Where(field string, op FilterOp, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// MatchAll reports whether data satisfies every filter.
func MatchAll(data map[string]any, filters []Filter) bool {
	for _, f := range filters {
		if !f.Match(data) {
			return false
		}
	}
	return true
}

func (f Filter) Match(data map[string]any) bool {
	v, ok := data[f.Field]
	if !ok {
		return f.Op == OpNeq
	}
	c, comparable := compare(v, f.Value)
	switch f.Op {
	case OpEq:
		return comparable && c == 0
	case OpNeq:
		return !comparable || c != 0
	case OpLt:
		return comparable && c < 0
	case OpLte:
		return comparable && c <= 0
	case OpGt:
		return comparable && c > 0
	case OpGte:
		return comparable && c >= 0
	}
	return false
}

func compare(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	case bool:
		bv, ok := b.(bool)
		if !ok || av != bv {
			return 1, ok
		}
		return 0, true
	}
	return 0, fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
