package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/werkhub/booking-engine/internal/connections"
	"github.com/werkhub/booking-engine/internal/gcal"
	"github.com/werkhub/booking-engine/internal/schedule"
	"github.com/werkhub/booking-engine/internal/scope"
	"github.com/werkhub/booking-engine/pkg/logging"
)

type fakeBookings struct {
	intervals map[uuid.UUID][]Interval
	err       error
}

func (f *fakeBookings) BusyIntervals(_ context.Context, scopeID uuid.UUID, _, _ time.Time) ([]Interval, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.intervals[scopeID], nil
}

type fakeTokens struct {
	token   connections.Token
	err     error
	errByID map[uuid.UUID]error
}

func (f *fakeTokens) ValidToken(_ context.Context, id uuid.UUID) (connections.Token, error) {
	if err, ok := f.errByID[id]; ok {
		return connections.Token{}, err
	}
	if f.err != nil {
		return connections.Token{}, f.err
	}
	return f.token, nil
}

type fakeCalendar struct {
	periods map[string][]gcal.BusyPeriod // keyed by access token
	err     error
	calls   int
}

func (f *fakeCalendar) FreeBusy(_ context.Context, accessToken, _ string, _, _ time.Time, _ *time.Location) ([]gcal.BusyPeriod, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.periods[accessToken], nil
}

type fakeProfiles struct {
	profile *schedule.Profile
	byKey   map[string]*schedule.Profile
	err     error
}

func (f *fakeProfiles) GetOrDefault(_ context.Context, scopeKey, timezone string, granularity int) (*schedule.Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	if p, ok := f.byKey[scopeKey]; ok {
		return p, nil
	}
	if f.profile != nil {
		return f.profile, nil
	}
	return schedule.DefaultProfile(scopeKey, timezone, granularity), nil
}

type recordingObserver struct {
	queries  []string
	lookups  []string
}

func (r *recordingObserver) AvailabilityQueried(kind string) { r.queries = append(r.queries, kind) }
func (r *recordingObserver) ExternalLookup(outcome string)   { r.lookups = append(r.lookups, outcome) }

var testScopeID = uuid.MustParse("8f14e45f-ceea-4e17-a8b4-3d0f8a2b91c0")

func utcProfile(scopeKey string) *schedule.Profile {
	p := schedule.DefaultProfile(scopeKey, "UTC", 30)
	p.Hours.Monday = &schedule.DayHours{From: "08:00", To: "12:00"}
	return p
}

func newTestService(bookings *fakeBookings, tokens *fakeTokens, cal *fakeCalendar, profiles *fakeProfiles) *Service {
	var ts TokenSource
	if tokens != nil {
		ts = tokens
	}
	var fr FreeBusyReader
	if cal != nil {
		fr = cal
	}
	return NewService(bookings, ts, fr, profiles, logging.Default(), ServiceConfig{
		DefaultTimezone:    "UTC",
		DefaultGranularity: 30,
	})
}

// Monday 2026-09-07, open 08:00-12:00 UTC, internal booking 09:00-09:30 and
// external block 10:00-10:30. Expected starts: 08:00, 08:30, 09:30, 10:30,
// 11:00, 11:30.
func TestAvailabilityMergesBothSources(t *testing.T) {
	sc := scope.Workshop(testScopeID)
	bookings := &fakeBookings{intervals: map[uuid.UUID][]Interval{
		testScopeID: {iv(9, 0, 9, 30)},
	}}
	tokens := &fakeTokens{token: connections.Token{AccessToken: "tok", CalendarID: "primary"}}
	cal := &fakeCalendar{periods: map[string][]gcal.BusyPeriod{
		"tok": {{Start: at(10, 0), End: at(10, 30)}},
	}}
	svc := newTestService(bookings, tokens, cal, &fakeProfiles{profile: utcProfile(sc.Key())})

	day := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	res, err := svc.Availability(context.Background(), sc, day, day, 30*time.Minute)
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("warnings = %v, want none", res.Warnings)
	}
	if len(res.Days) != 1 {
		t.Fatalf("days = %d, want 1", len(res.Days))
	}
	assertStarts(t, res.Days[0].Slots, "08:00", "08:30", "09:30", "10:30", "11:00", "11:30")
}

func TestAvailabilityIdempotent(t *testing.T) {
	sc := scope.Workshop(testScopeID)
	bookings := &fakeBookings{intervals: map[uuid.UUID][]Interval{
		testScopeID: {iv(9, 0, 10, 0)},
	}}
	svc := newTestService(bookings, nil, nil, &fakeProfiles{profile: utcProfile(sc.Key())})

	day := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	first, err := svc.Availability(context.Background(), sc, day, day, 30*time.Minute)
	if err != nil {
		t.Fatalf("first query: %v", err)
	}
	second, err := svc.Availability(context.Background(), sc, day, day, 30*time.Minute)
	if err != nil {
		t.Fatalf("second query: %v", err)
	}
	if len(first.Days[0].Slots) != len(second.Days[0].Slots) {
		t.Fatal("repeated query changed the answer")
	}
}

func TestAvailabilityExternalFailureDegrades(t *testing.T) {
	sc := scope.Workshop(testScopeID)
	bookings := &fakeBookings{intervals: map[uuid.UUID][]Interval{
		testScopeID: {iv(9, 0, 9, 30)},
	}}
	tokens := &fakeTokens{token: connections.Token{AccessToken: "tok", CalendarID: "primary"}}
	cal := &fakeCalendar{err: gcal.ErrUnavailable}
	svc := newTestService(bookings, tokens, cal, &fakeProfiles{profile: utcProfile(sc.Key())})
	obs := &recordingObserver{}
	svc.SetObserver(obs)

	day := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	res, err := svc.Availability(context.Background(), sc, day, day, 30*time.Minute)
	if err != nil {
		t.Fatalf("Availability should not fail on external errors: %v", err)
	}
	// Internal-only answer: 09:00 blocked, everything else open.
	assertStarts(t, res.Days[0].Slots, "08:00", "08:30", "09:30", "10:00", "10:30", "11:00", "11:30")
	if len(res.Warnings) != 1 || res.Warnings[0] != WarnExternalUnavailable {
		t.Errorf("warnings = %v", res.Warnings)
	}
	if len(obs.lookups) == 0 || obs.lookups[0] != "provider_error" {
		t.Errorf("observer lookups = %v", obs.lookups)
	}
}

func TestAvailabilityReauthRequiredWarns(t *testing.T) {
	sc := scope.Workshop(testScopeID)
	bookings := &fakeBookings{}
	tokens := &fakeTokens{err: connections.ErrReauthRequired}
	cal := &fakeCalendar{}
	svc := newTestService(bookings, tokens, cal, &fakeProfiles{profile: utcProfile(sc.Key())})

	day := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	res, err := svc.Availability(context.Background(), sc, day, day, 30*time.Minute)
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	if len(res.Warnings) != 1 || res.Warnings[0] != WarnReauthRequired {
		t.Errorf("warnings = %v", res.Warnings)
	}
	if cal.calls != 0 {
		t.Error("provider must not be called without a token")
	}
}

func TestAvailabilityNoConnectionIsSilent(t *testing.T) {
	sc := scope.Workshop(testScopeID)
	tokens := &fakeTokens{err: connections.ErrNoConnection}
	svc := newTestService(&fakeBookings{}, tokens, &fakeCalendar{}, &fakeProfiles{profile: utcProfile(sc.Key())})

	day := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	res, err := svc.Availability(context.Background(), sc, day, day, 30*time.Minute)
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("no connection should produce no warnings, got %v", res.Warnings)
	}
}

func TestAvailabilityInternalErrorFails(t *testing.T) {
	sc := scope.Workshop(testScopeID)
	bookings := &fakeBookings{err: errors.New("db down")}
	svc := newTestService(bookings, nil, nil, &fakeProfiles{profile: utcProfile(sc.Key())})

	day := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	if _, err := svc.Availability(context.Background(), sc, day, day, 30*time.Minute); err == nil {
		t.Fatal("internal store errors must fail the query")
	}
}

func TestAvailabilityClosedAndVacationDays(t *testing.T) {
	sc := scope.Workshop(testScopeID)
	p := utcProfile(sc.Key())
	p.Vacations = []schedule.Vacation{{StartDate: "2026-09-08", EndDate: "2026-09-08"}}
	svc := newTestService(&fakeBookings{}, nil, nil, &fakeProfiles{profile: p})

	from := time.Date(2026, 9, 6, 0, 0, 0, 0, time.UTC) // Sunday (closed)
	to := time.Date(2026, 9, 8, 0, 0, 0, 0, time.UTC)   // Tuesday (vacation)
	res, err := svc.Availability(context.Background(), sc, from, to, 30*time.Minute)
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	if len(res.Days) != 3 {
		t.Fatalf("days = %d, want 3", len(res.Days))
	}
	if len(res.Days[0].Slots) != 0 {
		t.Error("Sunday should have no slots")
	}
	if len(res.Days[1].Slots) == 0 {
		t.Error("Monday should have slots")
	}
	if len(res.Days[2].Slots) != 0 {
		t.Error("vacation Tuesday should have no slots")
	}
}

func TestAvailabilityRangeCapped(t *testing.T) {
	sc := scope.Workshop(testScopeID)
	svc := NewService(&fakeBookings{}, nil, nil, &fakeProfiles{profile: utcProfile(sc.Key())}, logging.Default(), ServiceConfig{
		DefaultTimezone:    "UTC",
		DefaultGranularity: 30,
		MaxDays:            3,
	})

	from := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 9)
	res, err := svc.Availability(context.Background(), sc, from, to, 30*time.Minute)
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	if len(res.Days) != 3 {
		t.Errorf("days = %d, want 3", len(res.Days))
	}
}

func TestAvailabilityRejectsBadInput(t *testing.T) {
	sc := scope.Workshop(testScopeID)
	svc := newTestService(&fakeBookings{}, nil, nil, &fakeProfiles{})
	day := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)

	if _, err := svc.Availability(context.Background(), sc, day, day, 0); err == nil {
		t.Error("zero duration must be rejected")
	}
	if _, err := svc.Availability(context.Background(), sc, day, day.AddDate(0, 0, -1), 30*time.Minute); err == nil {
		t.Error("inverted range must be rejected")
	}
}

func TestAvailabilityEmployeeUnion(t *testing.T) {
	workshopID := testScopeID
	empA := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	empB := uuid.MustParse("66666666-7777-8888-9999-aaaaaaaaaaaa")

	sc := scope.Workshop(workshopID)
	p := utcProfile(sc.Key())
	p.CalendarMode = schedule.ModeEmployees
	p.EmployeeIDs = []uuid.UUID{empA, empB}

	// A is busy 08:00-10:00, B is busy 10:00-12:00: together the whole
	// morning stays bookable.
	bookings := &fakeBookings{intervals: map[uuid.UUID][]Interval{
		empA: {iv(8, 0, 10, 0)},
		empB: {iv(10, 0, 12, 0)},
	}}
	svc := newTestService(bookings, nil, nil, &fakeProfiles{profile: p})

	day := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	res, err := svc.Availability(context.Background(), sc, day, day, 30*time.Minute)
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	assertStarts(t, res.Days[0].Slots,
		"08:00", "08:30", "09:00", "09:30", "10:00", "10:30", "11:00", "11:30")
}

func TestAvailabilityEmployeeUnionAllBusy(t *testing.T) {
	empA := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	empB := uuid.MustParse("66666666-7777-8888-9999-aaaaaaaaaaaa")

	sc := scope.Workshop(testScopeID)
	p := utcProfile(sc.Key())
	p.CalendarMode = schedule.ModeEmployees
	p.EmployeeIDs = []uuid.UUID{empA, empB}

	bookings := &fakeBookings{intervals: map[uuid.UUID][]Interval{
		empA: {iv(9, 0, 9, 30)},
		empB: {iv(9, 0, 9, 30)},
	}}
	svc := newTestService(bookings, nil, nil, &fakeProfiles{profile: p})

	day := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	res, err := svc.Availability(context.Background(), sc, day, day, 30*time.Minute)
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	for _, s := range res.Days[0].Slots {
		if s.Start.Format("15:04") == "09:00" {
			t.Fatal("09:00 should be blocked when every employee is busy")
		}
	}
}

// An employee without a calendar connection cannot be booked, so their
// otherwise-empty calendar must not open up slots the connected employee
// cannot serve.
func TestAvailabilityEmployeeUnionSkipsUnconnected(t *testing.T) {
	empA := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	empB := uuid.MustParse("66666666-7777-8888-9999-aaaaaaaaaaaa")

	sc := scope.Workshop(testScopeID)
	p := utcProfile(sc.Key())
	p.CalendarMode = schedule.ModeEmployees
	p.EmployeeIDs = []uuid.UUID{empA, empB}

	tokens := &fakeTokens{
		token:   connections.Token{AccessToken: "tok", CalendarID: "primary"},
		errByID: map[uuid.UUID]error{empA: connections.ErrNoConnection},
	}
	bookings := &fakeBookings{intervals: map[uuid.UUID][]Interval{
		empB: {iv(9, 0, 9, 30)},
	}}
	svc := newTestService(bookings, tokens, &fakeCalendar{}, &fakeProfiles{profile: p})

	day := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	res, err := svc.Availability(context.Background(), sc, day, day, 30*time.Minute)
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("warnings = %v, want none", res.Warnings)
	}
	assertStarts(t, res.Days[0].Slots, "08:00", "08:30", "09:30", "10:00", "10:30", "11:00", "11:30")
}

func TestAvailabilityEmployeeUnionSkipsVacationing(t *testing.T) {
	empA := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	empB := uuid.MustParse("66666666-7777-8888-9999-aaaaaaaaaaaa")

	sc := scope.Workshop(testScopeID)
	p := utcProfile(sc.Key())
	p.CalendarMode = schedule.ModeEmployees
	p.EmployeeIDs = []uuid.UUID{empA, empB}

	empAProfile := utcProfile(scope.Employee(empA, testScopeID).Key())
	empAProfile.Vacations = []schedule.Vacation{{StartDate: "2026-09-07", EndDate: "2026-09-07"}}

	bookings := &fakeBookings{intervals: map[uuid.UUID][]Interval{
		empB: {iv(9, 0, 9, 30)},
	}}
	svc := newTestService(bookings, nil, nil, &fakeProfiles{
		profile: p,
		byKey: map[string]*schedule.Profile{
			scope.Employee(empA, testScopeID).Key(): empAProfile,
		},
	})

	day := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	res, err := svc.Availability(context.Background(), sc, day, day, 30*time.Minute)
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	for _, s := range res.Days[0].Slots {
		if s.Start.Format("15:04") == "09:00" {
			t.Fatal("09:00 should be blocked when the only working employee is busy")
		}
	}
}

// An employee with shorter hours only serves slots inside their own window.
func TestAvailabilityEmployeeUnionRespectsEmployeeHours(t *testing.T) {
	empA := uuid.MustParse("11111111-2222-3333-4444-555555555555")

	sc := scope.Workshop(testScopeID)
	p := utcProfile(sc.Key())
	p.CalendarMode = schedule.ModeEmployees
	p.EmployeeIDs = []uuid.UUID{empA}

	empAProfile := utcProfile(scope.Employee(empA, testScopeID).Key())
	empAProfile.Hours.Monday = &schedule.DayHours{From: "09:00", To: "11:00"}

	svc := newTestService(&fakeBookings{}, nil, nil, &fakeProfiles{
		profile: p,
		byKey: map[string]*schedule.Profile{
			scope.Employee(empA, testScopeID).Key(): empAProfile,
		},
	})

	day := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	res, err := svc.Availability(context.Background(), sc, day, day, 30*time.Minute)
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	assertStarts(t, res.Days[0].Slots, "09:00", "09:30", "10:00", "10:30")
}

func TestSlotFree(t *testing.T) {
	sc := scope.Workshop(testScopeID)
	bookings := &fakeBookings{intervals: map[uuid.UUID][]Interval{
		testScopeID: {iv(9, 0, 9, 30)},
	}}
	svc := newTestService(bookings, nil, nil, &fakeProfiles{profile: utcProfile(sc.Key())})
	ctx := context.Background()

	free, err := svc.SlotFree(ctx, sc, iv(9, 0, 9, 30))
	if err != nil {
		t.Fatalf("SlotFree: %v", err)
	}
	if free {
		t.Error("booked slot reported free")
	}

	free, err = svc.SlotFree(ctx, sc, iv(9, 30, 10, 0))
	if err != nil {
		t.Fatalf("SlotFree: %v", err)
	}
	if !free {
		t.Error("slot starting at busy end should be free")
	}

	if _, err := svc.SlotFree(ctx, sc, iv(10, 0, 10, 0)); err == nil {
		t.Error("zero-length slot must be rejected")
	}
}

// A conflict-free interval is still not bookable when the schedule says the
// scope is closed, the slot leaves the open window, or it sits off the grid.
func TestSlotFreeOutsideHours(t *testing.T) {
	sc := scope.Workshop(testScopeID)
	svc := newTestService(&fakeBookings{}, nil, nil, &fakeProfiles{profile: utcProfile(sc.Key())})
	ctx := context.Background()

	// Sunday 2026-09-06 03:00 under the Monday-to-Friday schedule.
	sunday := time.Date(2026, 9, 6, 3, 0, 0, 0, time.UTC)
	if _, err := svc.SlotFree(ctx, sc, Interval{Start: sunday, End: sunday.Add(30 * time.Minute)}); !errors.Is(err, ErrOutsideHours) {
		t.Fatalf("closed day: err = %v, want ErrOutsideHours", err)
	}

	if _, err := svc.SlotFree(ctx, sc, iv(7, 30, 8, 0)); !errors.Is(err, ErrOutsideHours) {
		t.Error("slot before open must be rejected")
	}
	if _, err := svc.SlotFree(ctx, sc, iv(11, 45, 12, 15)); !errors.Is(err, ErrOutsideHours) {
		t.Error("slot running past close must be rejected")
	}
	if _, err := svc.SlotFree(ctx, sc, iv(9, 10, 9, 40)); !errors.Is(err, ErrOutsideHours) {
		t.Error("slot off the granularity grid must be rejected")
	}

	free, err := svc.SlotFree(ctx, sc, iv(8, 0, 8, 30))
	if err != nil {
		t.Fatalf("SlotFree: %v", err)
	}
	if !free {
		t.Error("aligned in-hours slot should be free")
	}
}

func TestSlotFreeOnVacation(t *testing.T) {
	sc := scope.Workshop(testScopeID)
	p := utcProfile(sc.Key())
	p.Vacations = []schedule.Vacation{{StartDate: "2026-09-07", EndDate: "2026-09-07"}}
	svc := newTestService(&fakeBookings{}, nil, nil, &fakeProfiles{profile: p})

	if _, err := svc.SlotFree(context.Background(), sc, iv(9, 0, 9, 30)); !errors.Is(err, ErrOutsideHours) {
		t.Fatalf("vacation day: err = %v, want ErrOutsideHours", err)
	}
}
