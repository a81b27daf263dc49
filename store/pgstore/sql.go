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

package pgstore

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cardinalhq/docstore/store"
)

// translatePredicate renders a predicate as a SQL condition over the jsonb
// body column. Placeholder numbering starts at $3; $1 and $2 are the
// kind/partition parameters of the enclosing query.
func translatePredicate(pred store.Predicate) (string, []any, error) {
	if pred == nil {
		return "", nil, nil
	}
	t := &translator{next: 3}
	clause, err := t.render(pred, "body")
	if err != nil {
		return "", nil, err
	}
	return clause, t.args, nil
}

type translator struct {
	args []any
	next int
}

func (t *translator) bind(v any) string {
	t.args = append(t.args, v)
	ph := fmt.Sprintf("$%d", t.next)
	t.next++
	return ph
}

// render produces SQL for pred evaluated against base, which is a jsonb
// expression: the body column at the top level, or the collection element
// inside an Exists sub-query.
func (t *translator) render(pred store.Predicate, base string) (string, error) {
	switch p := pred.(type) {
	case store.EqPredicate:
		obj, err := nestedJSON(p.Path, p.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s @> %s::jsonb", base, t.bind(obj)), nil

	case store.InPredicate:
		clauses := make([]string, 0, len(p.Values))
		for _, v := range p.Values {
			obj, err := nestedJSON(p.Path, v)
			if err != nil {
				return "", err
			}
			clauses = append(clauses, fmt.Sprintf("%s @> %s::jsonb", base, t.bind(obj)))
		}
		if len(clauses) == 0 {
			return "FALSE", nil
		}
		return "(" + strings.Join(clauses, " OR ") + ")", nil

	case store.ContainsAnyPredicate:
		arr, err := pathArray(p.Path)
		if err != nil {
			return "", err
		}
		vals := make([]string, 0, len(p.Values))
		for _, v := range p.Values {
			s, ok := v.(string)
			if !ok {
				return "", fmt.Errorf("ContainsAny on %q: only string values translate to jsonb ?|, got %T", p.Path, v)
			}
			vals = append(vals, s)
		}
		return fmt.Sprintf("%s #> %s ?| %s::text[]", base, t.bind(arr), t.bind(vals)), nil

	case store.BetweenPredicate:
		arr, err := pathArray(p.Path)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s #>> %s)::numeric BETWEEN %s AND %s",
			base, t.bind(arr), t.bind(p.Lo), t.bind(p.Hi)), nil

	case store.ExistsPredicate:
		arr, err := pathArray(p.Path)
		if err != nil {
			return "", err
		}
		// Embedded collections are objects keyed by foreign id. The element
		// alias is scoped to this sub-query, so nesting is safe.
		sub, err := t.render(p.Sub, "elem.value")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(
			"EXISTS (SELECT 1 FROM jsonb_each(COALESCE(%s #> %s, '{}'::jsonb)) AS elem(key, value) WHERE %s)",
			base, t.bind(arr), sub), nil

	case store.AndPredicate:
		return t.renderJoin(p.Preds, base, " AND ", "TRUE")

	case store.OrPredicate:
		return t.renderJoin(p.Preds, base, " OR ", "FALSE")

	default:
		return "", fmt.Errorf("predicate type %T has no SQL translation", pred)
	}
}

func (t *translator) renderJoin(preds []store.Predicate, base, sep, empty string) (string, error) {
	if len(preds) == 0 {
		return empty, nil
	}
	clauses := make([]string, 0, len(preds))
	for _, sub := range preds {
		clause, err := t.render(sub, base)
		if err != nil {
			return "", err
		}
		clauses = append(clauses, clause)
	}
	return "(" + strings.Join(clauses, sep) + ")", nil
}

// nestedJSON builds the containment operand for Eq: the path "a.b" with
// value v becomes {"a":{"b":v}}, serialized.
func nestedJSON(path string, value any) (string, error) {
	parts, err := splitPath(path)
	if err != nil {
		return "", err
	}
	cur := value
	for i := len(parts) - 1; i >= 0; i-- {
		cur = map[string]any{parts[i]: cur}
	}
	raw, err := json.Marshal(cur)
	if err != nil {
		return "", fmt.Errorf("encode containment operand for %q: %w", path, err)
	}
	return string(raw), nil
}

// pathArray renders a field path as a postgres text-array literal for the
// #> and #>> operators.
func pathArray(path string) (string, error) {
	parts, err := splitPath(path)
	if err != nil {
		return "", err
	}
	return "{" + strings.Join(parts, ",") + "}", nil
}

func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("empty field path")
	}
	parts := strings.Split(path, ".")
	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("field path %q has an empty segment", path)
		}
		for _, r := range part {
			if !isPathRune(r) {
				return nil, fmt.Errorf("field path %q contains unsupported character %q", path, r)
			}
		}
	}
	return parts, nil
}

func isPathRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-':
		return true
	default:
		return false
	}
}
