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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/docstore/store"
)

func TestTranslateNilPredicate(t *testing.T) {
	clause, args, err := translatePredicate(nil)
	require.NoError(t, err)
	assert.Empty(t, clause)
	assert.Nil(t, args)
}

func TestTranslateEq(t *testing.T) {
	clause, args, err := translatePredicate(store.Eq("is_default", true))
	require.NoError(t, err)
	assert.Equal(t, "body @> $3::jsonb", clause)
	require.Len(t, args, 1)
	assert.JSONEq(t, `{"is_default": true}`, args[0].(string))
}

func TestTranslateEqNestedPath(t *testing.T) {
	clause, args, err := translatePredicate(store.Eq("limits.max_rate", 100))
	require.NoError(t, err)
	assert.Equal(t, "body @> $3::jsonb", clause)
	assert.JSONEq(t, `{"limits": {"max_rate": 100}}`, args[0].(string))
}

func TestTranslateIn(t *testing.T) {
	clause, args, err := translatePredicate(store.In("region", "us-east-1", "eu-west-1"))
	require.NoError(t, err)
	assert.Equal(t, "(body @> $3::jsonb OR body @> $4::jsonb)", clause)
	require.Len(t, args, 2)
	assert.JSONEq(t, `{"region": "us-east-1"}`, args[0].(string))
	assert.JSONEq(t, `{"region": "eu-west-1"}`, args[1].(string))

	clause, _, err = translatePredicate(store.In("region"))
	require.NoError(t, err)
	assert.Equal(t, "FALSE", clause)
}

func TestTranslateContainsAny(t *testing.T) {
	clause, args, err := translatePredicate(store.ContainsAny("days_of_week", "saturday", "sunday"))
	require.NoError(t, err)
	assert.Equal(t, "body #> $3 ?| $4::text[]", clause)
	require.Len(t, args, 2)
	assert.Equal(t, "{days_of_week}", args[0])
	assert.Equal(t, []string{"saturday", "sunday"}, args[1])

	_, _, err = translatePredicate(store.ContainsAny("days_of_week", 7))
	require.Error(t, err, "non-string values have no ?| translation")
}

func TestTranslateBetween(t *testing.T) {
	clause, args, err := translatePredicate(store.Between("utc_minute", 53, 59))
	require.NoError(t, err)
	assert.Equal(t, "(body #>> $3)::numeric BETWEEN $4 AND $5", clause)
	assert.Equal(t, []any{"{utc_minute}", 53, 59}, args)
}

func TestTranslateExists(t *testing.T) {
	clause, args, err := translatePredicate(store.Exists("memberships", store.Eq("role", "admin")))
	require.NoError(t, err)
	assert.Equal(t,
		"EXISTS (SELECT 1 FROM jsonb_each(COALESCE(body #> $3, '{}'::jsonb)) AS elem(key, value) WHERE elem.value @> $4::jsonb)",
		clause)
	require.Len(t, args, 2)
	assert.Equal(t, "{memberships}", args[0])
	assert.JSONEq(t, `{"role": "admin"}`, args[1].(string))
}

func TestTranslateAndOr(t *testing.T) {
	pred := store.And(
		store.Eq("enabled", true),
		store.Or(
			store.And(
				store.ContainsAny("days_of_week", "saturday"),
				store.Eq("utc_hour", 23),
				store.Between("utc_minute", 53, 59),
			),
			store.And(
				store.ContainsAny("days_of_week", "sunday"),
				store.Eq("utc_hour", 0),
				store.Between("utc_minute", 0, 2),
			),
		),
	)
	clause, args, err := translatePredicate(pred)
	require.NoError(t, err)

	// Placeholders run $3..$15 without gaps or reuse.
	assert.Len(t, args, 13)
	assert.Equal(t,
		"(body @> $3::jsonb AND "+
			"((body #> $4 ?| $5::text[] AND body @> $6::jsonb AND (body #>> $7)::numeric BETWEEN $8 AND $9) OR "+
			"(body #> $10 ?| $11::text[] AND body @> $12::jsonb AND (body #>> $13)::numeric BETWEEN $14 AND $15)))",
		clause)
}

func TestTranslateEmptyCombinators(t *testing.T) {
	clause, _, err := translatePredicate(store.And())
	require.NoError(t, err)
	assert.Equal(t, "TRUE", clause)

	clause, _, err = translatePredicate(store.Or())
	require.NoError(t, err)
	assert.Equal(t, "FALSE", clause)
}

func TestPathValidation(t *testing.T) {
	_, _, err := translatePredicate(store.Eq("", true))
	require.Error(t, err)

	_, _, err = translatePredicate(store.Eq("a..b", true))
	require.Error(t, err)

	// Injection-shaped paths never reach the SQL text.
	_, _, err = translatePredicate(store.Between("a') OR ('1'='1", 0, 1))
	require.Error(t, err)
}
