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

package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/cardinalhq/docstore/store"
)

// Instant is a point in the weekly UTC grid.
type Instant struct {
	Weekday time.Weekday
	Hour    int
	Minute  int
}

// InstantOf projects a wall-clock time onto the weekly UTC grid.
func InstantOf(t time.Time) Instant {
	t = t.UTC()
	return Instant{Weekday: t.Weekday(), Hour: t.Hour(), Minute: t.Minute()}
}

func (i Instant) validate() error {
	if i.Hour < 0 || i.Hour > 23 {
		return fmt.Errorf("instant hour %d out of range [0,23]", i.Hour)
	}
	if i.Minute < 0 || i.Minute > 59 {
		return fmt.Errorf("instant minute %d out of range [0,59]", i.Minute)
	}
	return nil
}

// minus rewinds the instant by n minutes on the weekly grid.
func (i Instant) minus(n int) Instant {
	total := i.Hour*60 + i.Minute - n
	days := 0
	for total < 0 {
		total += 24 * 60
		days++
	}
	wd := (int(i.Weekday) - days%7 + 7) % 7
	return Instant{Weekday: time.Weekday(wd), Hour: total / 60, Minute: total % 60}
}

// Matcher finds schedules due to run at an instant.
type Matcher struct {
	store *store.Store
}

// NewMatcher creates a Matcher over s.
func NewMatcher(s *store.Store) *Matcher {
	return &Matcher{store: s}
}

// FindDue returns the enabled schedules in the partition that were due in
// the windowMinutes leading up to and including at. The periodic trigger
// calls this each tick with the tick interval (plus slack) as the window,
// so schedules falling between ticks are caught up rather than skipped.
// windowMinutes must be in [0, 60]; 0 matches the exact instant only.
func (m *Matcher) FindDue(ctx context.Context, partition string, at Instant, windowMinutes int) ([]Schedule, error) {
	pred, err := DuePredicate(at, windowMinutes)
	if err != nil {
		return nil, err
	}
	docs, err := m.store.QueryAll(ctx, store.KindSchedule, partition, pred)
	if err != nil {
		return nil, err
	}
	out := make([]Schedule, 0, len(docs))
	for _, doc := range docs {
		s, err := Decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// DuePredicate builds the combined weekday/hour/minute window predicate for
// FindDue. The window is [at-windowMinutes, at] rewound onto the weekly
// grid, so it may cross a minute boundary, the 23h->0h boundary, and with
// it the weekday boundary (Saturday 23:59 rolling into Sunday 00:00).
//
// The window must be treated as one combined predicate. Three independent
// range checks on weekday, hour and minute would either skip schedules at
// the boundary or fire them twice: a window from Saturday 23:55 to Sunday
// 00:05 matches (Saturday AND 23 AND >=55) OR (Sunday AND 0 AND <5),
// not (Saturday OR Sunday) AND (23 OR 0) AND (>=55 OR <5).
func DuePredicate(at Instant, windowMinutes int) (store.Predicate, error) {
	if err := at.validate(); err != nil {
		return nil, err
	}
	if windowMinutes < 0 || windowMinutes > 60 {
		return nil, fmt.Errorf("window %d minutes out of range [0,60]", windowMinutes)
	}

	enabled := store.Eq("enabled", true)

	// A schedule is due when its time falls within (at-window, at]: the
	// window ends at the queried instant and reaches back windowMinutes, so
	// a trigger ticking behind schedule catches up instead of skipping.
	// Rewinding the start keeps the predicate construction itself forward:
	// [start, start+window) on the weekly grid.
	start := at
	if windowMinutes > 0 {
		start = at.minus(windowMinutes - 1)
	}

	if windowMinutes == 0 {
		return store.And(
			enabled,
			store.ContainsAny("days_of_week", dayName(start.Weekday)),
			store.Eq("utc_hour", start.Hour),
			store.Eq("utc_minute", start.Minute),
		), nil
	}

	wrap := start.Minute+windowMinutes > 59
	if !wrap {
		return store.And(
			enabled,
			store.ContainsAny("days_of_week", dayName(start.Weekday)),
			store.Eq("utc_hour", start.Hour),
			store.Between("utc_minute", start.Minute, start.Minute+windowMinutes-1),
		), nil
	}

	segments := []store.Predicate{
		store.And(
			store.ContainsAny("days_of_week", dayName(start.Weekday)),
			store.Eq("utc_hour", start.Hour),
			store.Between("utc_minute", start.Minute, 59),
		),
	}

	// The spill into the next hour; crossing 23h rolls the weekday too.
	spill := (start.Minute + windowMinutes) % 60
	if spill > 0 {
		nextHour := start.Hour + 1
		nextDay := start.Weekday
		if nextHour > 23 {
			nextHour = 0
			nextDay = (start.Weekday + 1) % 7
		}
		segments = append(segments, store.And(
			store.ContainsAny("days_of_week", dayName(nextDay)),
			store.Eq("utc_hour", nextHour),
			store.Between("utc_minute", 0, spill-1),
		))
	}

	return store.And(enabled, store.Or(segments...)), nil
}
