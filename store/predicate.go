// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package store

import (
	"strings"
)

// Predicate is a structured filter over document bodies. Drivers translate
// predicates into their native query form; Matches provides the reference
// in-process evaluation used by the memory driver and by tests.
//
// Field paths are dot-separated routes into the body, e.g. "limits.max_rate".
type Predicate interface {
	// Matches reports whether a body satisfies the predicate.
	Matches(body map[string]any) bool
}

// EqPredicate matches a field equal to a scalar value.
type EqPredicate struct {
	Path  string
	Value any
}

// InPredicate matches a field equal to any of the listed values.
type InPredicate struct {
	Path   string
	Values []any
}

// ContainsAnyPredicate matches an array field containing at least one of the
// listed values.
type ContainsAnyPredicate struct {
	Path   string
	Values []any
}

// BetweenPredicate matches a numeric field within [Lo, Hi], inclusive.
type BetweenPredicate struct {
	Path   string
	Lo, Hi int
}

// ExistsPredicate matches when at least one element of the embedded
// collection at Path (an object keyed by foreign id, or an array) satisfies
// the sub-predicate. Sub paths are relative to the element.
type ExistsPredicate struct {
	Path string
	Sub  Predicate
}

// AndPredicate matches when every sub-predicate matches.
type AndPredicate struct {
	Preds []Predicate
}

// OrPredicate matches when at least one sub-predicate matches.
type OrPredicate struct {
	Preds []Predicate
}

// Eq matches path == value.
func Eq(path string, value any) Predicate { return EqPredicate{Path: path, Value: value} }

// In matches path equal to any of values.
func In(path string, values ...any) Predicate { return InPredicate{Path: path, Values: values} }

// ContainsAny matches an array at path containing any of values.
func ContainsAny(path string, values ...any) Predicate {
	return ContainsAnyPredicate{Path: path, Values: values}
}

// Between matches a numeric field within [lo, hi] inclusive.
func Between(path string, lo, hi int) Predicate {
	return BetweenPredicate{Path: path, Lo: lo, Hi: hi}
}

// Exists matches when an element of the collection at path satisfies sub.
func Exists(path string, sub Predicate) Predicate { return ExistsPredicate{Path: path, Sub: sub} }

// And combines predicates conjunctively. And() matches everything.
func And(preds ...Predicate) Predicate { return AndPredicate{Preds: preds} }

// Or combines predicates disjunctively.
func Or(preds ...Predicate) Predicate { return OrPredicate{Preds: preds} }

func (p EqPredicate) Matches(body map[string]any) bool {
	v, ok := lookupPath(body, p.Path)
	return ok && valuesEqual(v, p.Value)
}

func (p InPredicate) Matches(body map[string]any) bool {
	v, ok := lookupPath(body, p.Path)
	if !ok {
		return false
	}
	for _, want := range p.Values {
		if valuesEqual(v, want) {
			return true
		}
	}
	return false
}

func (p ContainsAnyPredicate) Matches(body map[string]any) bool {
	v, ok := lookupPath(body, p.Path)
	if !ok {
		return false
	}
	arr, ok := v.([]any)
	if !ok {
		return false
	}
	for _, elem := range arr {
		for _, want := range p.Values {
			if valuesEqual(elem, want) {
				return true
			}
		}
	}
	return false
}

func (p BetweenPredicate) Matches(body map[string]any) bool {
	v, ok := lookupPath(body, p.Path)
	if !ok {
		return false
	}
	f, ok := toFloat(v)
	return ok && f >= float64(p.Lo) && f <= float64(p.Hi)
}

func (p ExistsPredicate) Matches(body map[string]any) bool {
	v, ok := lookupPath(body, p.Path)
	if !ok {
		return false
	}
	switch coll := v.(type) {
	case map[string]any:
		for _, elem := range coll {
			if obj, ok := elem.(map[string]any); ok && p.Sub.Matches(obj) {
				return true
			}
		}
	case []any:
		for _, elem := range coll {
			if obj, ok := elem.(map[string]any); ok && p.Sub.Matches(obj) {
				return true
			}
		}
	}
	return false
}

func (p AndPredicate) Matches(body map[string]any) bool {
	for _, sub := range p.Preds {
		if !sub.Matches(body) {
			return false
		}
	}
	return true
}

func (p OrPredicate) Matches(body map[string]any) bool {
	for _, sub := range p.Preds {
		if sub.Matches(body) {
			return true
		}
	}
	return false
}

func lookupPath(body map[string]any, path string) (any, bool) {
	cur := any(body)
	for part := range strings.SplitSeq(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// valuesEqual compares a body value against a predicate value. Bodies come
// from decoded JSON, so every number is float64; predicate values are
// whatever the caller wrote. Numbers compare numerically across Go types.
func valuesEqual(got, want any) bool {
	if gf, ok := toFloat(got); ok {
		wf, wok := toFloat(want)
		return wok && gf == wf
	}
	return got == want
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
	default:
		return 0, false
	}
}
