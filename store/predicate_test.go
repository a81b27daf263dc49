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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEqMatches(t *testing.T) {
	body := map[string]any{
		"name":    "primary",
		"enabled": true,
		"limits":  map[string]any{"max_rate": float64(100)},
	}

	assert.True(t, Eq("name", "primary").Matches(body))
	assert.True(t, Eq("enabled", true).Matches(body))
	assert.False(t, Eq("name", "secondary").Matches(body))
	assert.False(t, Eq("missing", "x").Matches(body))

	// Nested paths.
	assert.True(t, Eq("limits.max_rate", 100).Matches(body))
	assert.False(t, Eq("limits.max_rate", 99).Matches(body))
	assert.False(t, Eq("limits.missing.deeper", 1).Matches(body))
}

func TestNumericComparisonAcrossTypes(t *testing.T) {
	// JSON decoding produces float64; predicates are usually written with
	// untyped int constants. Both must compare numerically.
	body := map[string]any{"utc_hour": float64(23)}
	assert.True(t, Eq("utc_hour", 23).Matches(body))
	assert.True(t, Eq("utc_hour", int64(23)).Matches(body))
	assert.True(t, Between("utc_hour", 23, 23).Matches(body))
	assert.False(t, Between("utc_hour", 0, 22).Matches(body))
}

func TestInAndContainsAny(t *testing.T) {
	body := map[string]any{
		"region":       "us-east-1",
		"days_of_week": []any{"saturday", "sunday"},
	}

	assert.True(t, In("region", "us-west-2", "us-east-1").Matches(body))
	assert.False(t, In("region", "eu-west-1").Matches(body))
	assert.False(t, In("region").Matches(body))

	assert.True(t, ContainsAny("days_of_week", "saturday").Matches(body))
	assert.True(t, ContainsAny("days_of_week", "monday", "sunday").Matches(body))
	assert.False(t, ContainsAny("days_of_week", "monday").Matches(body))
	assert.False(t, ContainsAny("region", "us-east-1").Matches(body), "scalar field is not an array")
}

func TestExistsOverEmbeddedCollection(t *testing.T) {
	body := map[string]any{
		"memberships": map[string]any{
			"org-1": map[string]any{"role": "admin"},
			"org-2": map[string]any{"role": "viewer"},
		},
	}

	assert.True(t, Exists("memberships", Eq("role", "admin")).Matches(body))
	assert.False(t, Exists("memberships", Eq("role", "owner")).Matches(body))
	assert.False(t, Exists("missing", Eq("role", "admin")).Matches(body))
}

func TestAndOrComposition(t *testing.T) {
	body := map[string]any{"enabled": true, "utc_hour": float64(23), "utc_minute": float64(55)}

	assert.True(t, And(Eq("enabled", true), Eq("utc_hour", 23)).Matches(body))
	assert.False(t, And(Eq("enabled", true), Eq("utc_hour", 0)).Matches(body))
	assert.True(t, And().Matches(body), "empty conjunction matches everything")

	assert.True(t, Or(Eq("utc_hour", 0), Eq("utc_hour", 23)).Matches(body))
	assert.False(t, Or(Eq("utc_hour", 0), Eq("utc_hour", 1)).Matches(body))
	assert.False(t, Or().Matches(body), "empty disjunction matches nothing")
}
