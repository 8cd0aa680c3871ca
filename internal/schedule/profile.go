// Package schedule provides the per-scope booking schedule: weekly working
// hours, slot granularity, vacation periods and, for workshops, the
// calendar mode deciding whose calendar answers availability queries.
package schedule

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CalendarMode selects which calendar(s) a workshop books against.
type CalendarMode string

const (
	// ModeWorkshop books against the workshop's own calendar.
	ModeWorkshop CalendarMode = "workshop"
	// ModeEmployees books against the union of employee calendars: a slot is
	// available when any employee is free.
	ModeEmployees CalendarMode = "employees"
)

// DayHours represents the working hours for a single day. Nil means closed.
type DayHours struct {
	From string `json:"from"` // "08:00" in 24-hour format
	To   string `json:"to"`   // "17:00"
}

// WeekHours maps day names to their hours.
type WeekHours struct {
	Monday    *DayHours `json:"monday,omitempty"`
	Tuesday   *DayHours `json:"tuesday,omitempty"`
	Wednesday *DayHours `json:"wednesday,omitempty"`
	Thursday  *DayHours `json:"thursday,omitempty"`
	Friday    *DayHours `json:"friday,omitempty"`
	Saturday  *DayHours `json:"saturday,omitempty"`
	Sunday    *DayHours `json:"sunday,omitempty"`
}

// ForWeekday returns the hours for a weekday, nil when closed.
func (w *WeekHours) ForWeekday(day time.Weekday) *DayHours {
	switch day {
	case time.Sunday:
		return w.Sunday
	case time.Monday:
		return w.Monday
	case time.Tuesday:
		return w.Tuesday
	case time.Wednesday:
		return w.Wednesday
	case time.Thursday:
		return w.Thursday
	case time.Friday:
		return w.Friday
	case time.Saturday:
		return w.Saturday
	default:
		return nil
	}
}

// Vacation is a closed period. Days touched by any vacation yield no slots.
type Vacation struct {
	StartDate string `json:"start_date"` // "2026-08-01"
	EndDate   string `json:"end_date"`   // inclusive
	Reason    string `json:"reason,omitempty"`
}

// Profile is the full schedule configuration of one scope.
type Profile struct {
	ScopeKey           string       `json:"scope_key"`
	Timezone           string       `json:"timezone"`
	GranularityMinutes int          `json:"granularity_minutes"`
	Hours              WeekHours    `json:"hours"`
	Vacations          []Vacation   `json:"vacations,omitempty"`
	CalendarMode       CalendarMode `json:"calendar_mode,omitempty"`
	// EmployeeIDs lists the workshop's bookable staff, used in employees
	// calendar mode. Empty for employee scopes.
	EmployeeIDs []uuid.UUID `json:"employee_ids,omitempty"`
}

// DefaultProfile returns a Monday-to-Friday 08:00-17:00 schedule.
func DefaultProfile(scopeKey, timezone string, granularity int) *Profile {
	if timezone == "" {
		timezone = "Europe/Berlin"
	}
	if granularity <= 0 {
		granularity = 30
	}
	workday := func() *DayHours { return &DayHours{From: "08:00", To: "17:00"} }
	return &Profile{
		ScopeKey:           scopeKey,
		Timezone:           timezone,
		GranularityMinutes: granularity,
		CalendarMode:       ModeWorkshop,
		Hours: WeekHours{
			Monday:    workday(),
			Tuesday:   workday(),
			Wednesday: workday(),
			Thursday:  workday(),
			Friday:    workday(),
		},
	}
}

// Location resolves the profile timezone, falling back to UTC.
func (p *Profile) Location() *time.Location {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Granularity returns the slot step as a duration.
func (p *Profile) Granularity() time.Duration {
	if p.GranularityMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(p.GranularityMinutes) * time.Minute
}

// DayWindow resolves the open/close instants of day in the profile timezone.
// ok is false when the scope is closed that day, either by weekday schedule
// or because a vacation covers it.
func (p *Profile) DayWindow(day time.Time) (open, close time.Time, ok bool) {
	loc := p.Location()
	local := day.In(loc)

	if p.OnVacation(local) {
		return time.Time{}, time.Time{}, false
	}

	hours := p.Hours.ForWeekday(local.Weekday())
	if hours == nil {
		return time.Time{}, time.Time{}, false
	}

	open, err := atClock(local, hours.From, loc)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	close, err = atClock(local, hours.To, loc)
	if err != nil || !close.After(open) {
		return time.Time{}, time.Time{}, false
	}
	return open, close, true
}

// OnVacation reports whether the given local day falls inside any vacation.
func (p *Profile) OnVacation(day time.Time) bool {
	dateStr := day.Format("2006-01-02")
	for _, v := range p.Vacations {
		if v.StartDate == "" || v.EndDate == "" {
			continue
		}
		if dateStr >= v.StartDate && dateStr <= v.EndDate {
			return true
		}
	}
	return false
}

func atClock(day time.Time, clock string, loc *time.Location) (time.Time, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("schedule: bad clock value %q: %w", clock, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, loc), nil
}
