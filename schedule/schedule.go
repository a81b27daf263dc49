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

// Package schedule stores recurring run schedules and matches the ones due
// at a given instant, including windows that wrap across the minute, hour
// and weekday boundaries.
package schedule

import (
	"fmt"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/cardinalhq/docstore/store"
)

// Schedule is the typed payload for store.KindSchedule. Times are UTC.
type Schedule struct {
	ID             string
	OrganizationID string
	Name           string
	DaysOfWeek     mapset.Set[time.Weekday]
	UTCHour        int
	UTCMinute      int
	Enabled        bool
	Recurring      bool
}

// scheduleBody is the persisted shape. Weekdays are stored as lowercase
// names so the postgres driver can match them with jsonb array operators.
type scheduleBody struct {
	OrganizationID string   `json:"organization_id"`
	Name           string   `json:"name"`
	DaysOfWeek     []string `json:"days_of_week"`
	UTCHour        int      `json:"utc_hour"`
	UTCMinute      int      `json:"utc_minute"`
	Enabled        bool     `json:"enabled"`
	Recurring      bool     `json:"recurring"`
}

func dayName(wd time.Weekday) string {
	return strings.ToLower(wd.String())
}

func parseDay(name string) (time.Weekday, error) {
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if dayName(wd) == name {
			return wd, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", name)
}

// Validate checks the schedule's field ranges.
func (s Schedule) Validate() error {
	if s.UTCHour < 0 || s.UTCHour > 23 {
		return fmt.Errorf("utc_hour %d out of range [0,23]", s.UTCHour)
	}
	if s.UTCMinute < 0 || s.UTCMinute > 59 {
		return fmt.Errorf("utc_minute %d out of range [0,59]", s.UTCMinute)
	}
	if s.DaysOfWeek == nil || s.DaysOfWeek.Cardinality() == 0 {
		return fmt.Errorf("schedule needs at least one weekday")
	}
	return nil
}

// Document builds the envelope for a schedule.
func Document(s Schedule) (store.Document, error) {
	if err := s.Validate(); err != nil {
		return store.Document{}, err
	}
	days := make([]string, 0, s.DaysOfWeek.Cardinality())
	// Stable order in the stored body; the set carries no order.
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if s.DaysOfWeek.Contains(wd) {
			days = append(days, dayName(wd))
		}
	}
	body, err := store.MarshalBody(scheduleBody{
		OrganizationID: s.OrganizationID,
		Name:           s.Name,
		DaysOfWeek:     days,
		UTCHour:        s.UTCHour,
		UTCMinute:      s.UTCMinute,
		Enabled:        s.Enabled,
		Recurring:      s.Recurring,
	})
	if err != nil {
		return store.Document{}, err
	}
	return store.Document{
		Kind: store.KindSchedule,
		ID:   s.ID,
		Body: body,
	}, nil
}

// Decode extracts a typed Schedule from a document.
func Decode(doc store.Document) (Schedule, error) {
	var body scheduleBody
	if err := store.UnmarshalBody(doc, &body); err != nil {
		return Schedule{}, err
	}
	days := mapset.NewSet[time.Weekday]()
	for _, name := range body.DaysOfWeek {
		wd, err := parseDay(name)
		if err != nil {
			return Schedule{}, fmt.Errorf("schedule %s: %w", doc.ID, err)
		}
		days.Add(wd)
	}
	return Schedule{
		ID:             doc.ID,
		OrganizationID: body.OrganizationID,
		Name:           body.Name,
		DaysOfWeek:     days,
		UTCHour:        body.UTCHour,
		UTCMinute:      body.UTCMinute,
		Enabled:        body.Enabled,
		Recurring:      body.Recurring,
	}, nil
}
