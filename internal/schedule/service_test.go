package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/scheduling/internal/config"
	redisclient "github.com/clinicdesk/scheduling/internal/redis"
)

// fakeRepo is an in-memory Repository whose CreateAppointment enforces the
// same no-overlap guarantee the Postgres exclusion constraint provides.
type fakeRepo struct {
	mu        sync.Mutex
	calendars map[uuid.UUID]*Calendar
	patients  map[uuid.UUID]*Patient
	rules     []AvailabilityRule
	blocks    []AgendaBlock
	extras    []ExtraAvailability
	appts     map[uuid.UUID]*Appointment
	events    []EventLog
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		calendars: make(map[uuid.UUID]*Calendar),
		patients:  make(map[uuid.UUID]*Patient),
		appts:     make(map[uuid.UUID]*Appointment),
	}
}

func (f *fakeRepo) GetCalendarByID(_ context.Context, id uuid.UUID) (*Calendar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cal, ok := f.calendars[id]
	if !ok {
		return nil, ErrCalendarNotFound
	}
	cp := *cal
	return &cp, nil
}

func (f *fakeRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeRepo) ListRulesByCalendar(_ context.Context, calendarID uuid.UUID) ([]AvailabilityRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []AvailabilityRule
	for _, r := range f.rules {
		if r.CalendarID == calendarID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListBlocksInRange(_ context.Context, calendarID uuid.UUID, from, to time.Time) ([]AgendaBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []AgendaBlock
	for _, b := range f.blocks {
		if b.CalendarID == calendarID && b.StartTime.Before(to) && b.EndTime.After(from) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListExtrasInRange(_ context.Context, calendarID uuid.UUID, from, to time.Time) ([]ExtraAvailability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ExtraAvailability
	for _, e := range f.extras {
		if e.CalendarID == calendarID && e.StartTime.Before(to) && e.EndTime.After(from) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListOccupyingAppointmentsInRange(_ context.Context, calendarID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Appointment
	for _, a := range f.appts {
		if a.CalendarID == calendarID && a.Occupying() && a.StartTime.Before(to) && a.EndTime.After(from) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeRepo) CreateAppointment(_ context.Context, appt *Appointment) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.appts {
		if existing.CalendarID == appt.CalendarID && existing.Occupying() &&
			appt.StartTime.Before(existing.EndTime) && appt.EndTime.After(existing.StartTime) {
			return nil, ErrSlotUnavailable
		}
	}
	cp := *appt
	cp.ID = uuid.New()
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	f.appts[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Appointment
	for _, a := range f.appts {
		if a.PatientID == patientID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appts[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) FindStalePending(_ context.Context, cutoff time.Time) ([]Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Appointment
	for _, a := range f.appts {
		if a.Status != StatusPending || !a.CreatedAt.Before(cutoff) {
			continue
		}
		cal, ok := f.calendars[a.CalendarID]
		if ok && cal.ConfirmationMode == ConfirmManual {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeRepo) InsertEvent(_ context.Context, ev EventLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

// passLocker runs the critical section without any locking, so the fake
// repo's overlap guard is the only thing standing between two racing
// bookings, mirroring a lost or contended Redis lock.
type passLocker struct{}

func (passLocker) WithIntervalLock(ctx context.Context, _ uuid.UUID, _ time.Time, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type contendedLocker struct{}

func (contendedLocker) WithIntervalLock(context.Context, uuid.UUID, time.Time, func(ctx context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

func newTestService(repo Repository) *Service {
	return NewService(repo, passLocker{}, config.Config{PendingTTL: time.Hour}, zerolog.Nop())
}

// fixture returns a repo holding one manual-confirmation calendar with a
// Monday 09:00-10:00 rule of 30-minute slots, and one patient.
func fixture(t *testing.T) (*fakeRepo, uuid.UUID, uuid.UUID) {
	t.Helper()

	repo := newFakeRepo()

	calID := uuid.New()
	cal := testCalendar()
	cal.ID = calID
	cal.ProviderID = uuid.New()
	repo.calendars[calID] = cal

	rule := mondayRule(9*60, 10*60, 30*time.Minute)
	rule.ID = uuid.New()
	rule.CalendarID = calID
	repo.rules = append(repo.rules, rule)

	patientID := uuid.New()
	repo.patients[patientID] = &Patient{ID: patientID, Name: "Alex Reis"}

	return repo, calID, patientID
}

func TestQuerySlotsReturnsRuleSlots(t *testing.T) {
	repo, calID, _ := fixture(t)
	svc := newTestService(repo)

	slots, err := svc.QuerySlots(context.Background(), calID, monday, monday.AddDate(0, 0, 1), "")
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, monday.Add(9*time.Hour), slots[0].Start)
	assert.Equal(t, monday.Add(9*time.Hour+30*time.Minute), slots[1].Start)
}

func TestQuerySlotsInvalidWindow(t *testing.T) {
	repo, calID, _ := fixture(t)
	svc := newTestService(repo)

	_, err := svc.QuerySlots(context.Background(), calID, monday, monday, "")
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = svc.QuerySlots(context.Background(), calID, monday.AddDate(0, 0, 1), monday, "")
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestQuerySlotsUnknownCalendar(t *testing.T) {
	repo, _, _ := fixture(t)
	svc := newTestService(repo)

	_, err := svc.QuerySlots(context.Background(), uuid.New(), monday, monday.AddDate(0, 0, 1), "")
	assert.ErrorIs(t, err, ErrCalendarNotFound)
}

func TestQuerySlotsDisabledCalendarAdvertisesNothing(t *testing.T) {
	repo, calID, _ := fixture(t)
	repo.calendars[calID].Active = false
	svc := newTestService(repo)

	slots, err := svc.QuerySlots(context.Background(), calID, monday, monday.AddDate(0, 0, 1), "")
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestBookSlotRoundTrip(t *testing.T) {
	repo, calID, patientID := fixture(t)
	svc := newTestService(repo)
	ctx := context.Background()

	slots, err := svc.QuerySlots(ctx, calID, monday, monday.AddDate(0, 0, 1), "")
	require.NoError(t, err)
	require.NotEmpty(t, slots)

	// Booking a slot exactly as returned always succeeds absent a race.
	appt, err := svc.BookSlot(ctx, BookingRequest{
		CalendarID: calID,
		PatientID:  patientID,
		Start:      slots[0].Start,
		End:        slots[0].End,
		Kind:       slots[0].Kind,
		Location:   "Main clinic, room 2",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, appt.Status, "manual confirmation calendars start pending")
	assert.Equal(t, slots[0].Start, appt.StartTime)

	// The booked interval disappears from a fresh query.
	after, err := svc.QuerySlots(ctx, calID, monday, monday.AddDate(0, 0, 1), "")
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, slots[1].Start, after[0].Start)
}

func TestBookSlotAutoConfirm(t *testing.T) {
	repo, calID, patientID := fixture(t)
	repo.calendars[calID].ConfirmationMode = ConfirmAuto
	svc := newTestService(repo)

	appt, err := svc.BookSlot(context.Background(), BookingRequest{
		CalendarID: calID,
		PatientID:  patientID,
		Start:      monday.Add(9 * time.Hour),
		End:        monday.Add(9*time.Hour + 30*time.Minute),
		Kind:       KindInPerson,
		Location:   "Main clinic",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, appt.Status)
}

func TestBookSlotRejectsMisalignedInterval(t *testing.T) {
	repo, calID, patientID := fixture(t)
	svc := newTestService(repo)

	// 09:10 is not a candidate start; the verbatim check rejects it.
	_, err := svc.BookSlot(context.Background(), BookingRequest{
		CalendarID: calID,
		PatientID:  patientID,
		Start:      monday.Add(9*time.Hour + 10*time.Minute),
		End:        monday.Add(9*time.Hour + 40*time.Minute),
		Kind:       KindInPerson,
		Location:   "Main clinic",
	})
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestBookSlotRejectsWrongKind(t *testing.T) {
	repo, calID, patientID := fixture(t)
	svc := newTestService(repo)

	// The rule resolves to in_person; a remote request for the same
	// interval is not a verbatim candidate match.
	_, err := svc.BookSlot(context.Background(), BookingRequest{
		CalendarID: calID,
		PatientID:  patientID,
		Start:      monday.Add(9 * time.Hour),
		End:        monday.Add(9*time.Hour + 30*time.Minute),
		Kind:       KindRemote,
	})
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestBookSlotValidation(t *testing.T) {
	repo, calID, patientID := fixture(t)
	svc := newTestService(repo)
	ctx := context.Background()

	nine := monday.Add(9 * time.Hour)

	_, err := svc.BookSlot(ctx, BookingRequest{CalendarID: calID, PatientID: patientID, Start: nine, End: nine, Kind: KindRemote})
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = svc.BookSlot(ctx, BookingRequest{CalendarID: calID, PatientID: patientID, Start: nine, End: nine.Add(30 * time.Minute), Kind: KindAny})
	assert.ErrorIs(t, err, ErrInvalidKind)

	_, err = svc.BookSlot(ctx, BookingRequest{CalendarID: calID, PatientID: patientID, Start: nine, End: nine.Add(30 * time.Minute), Kind: KindInPerson})
	assert.ErrorIs(t, err, ErrLocationRequired)

	_, err = svc.BookSlot(ctx, BookingRequest{CalendarID: calID, PatientID: uuid.New(), Start: nine, End: nine.Add(30 * time.Minute), Kind: KindInPerson, Location: "x"})
	assert.ErrorIs(t, err, ErrPatientNotFound)
}

func TestBookSlotBlockedInterval(t *testing.T) {
	repo, calID, patientID := fixture(t)
	repo.blocks = append(repo.blocks, AgendaBlock{
		ID:         uuid.New(),
		CalendarID: calID,
		StartTime:  monday.Add(9*time.Hour + 15*time.Minute),
		EndTime:    monday.Add(9*time.Hour + 45*time.Minute),
	})
	svc := newTestService(repo)

	_, err := svc.BookSlot(context.Background(), BookingRequest{
		CalendarID: calID,
		PatientID:  patientID,
		Start:      monday.Add(9 * time.Hour),
		End:        monday.Add(9*time.Hour + 30*time.Minute),
		Kind:       KindInPerson,
		Location:   "Main clinic",
	})
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestBookSlotExtraAvailability(t *testing.T) {
	repo, calID, patientID := fixture(t)
	// A one-off Saturday opening outside any rule. 2026-03-07 is a Saturday.
	saturday := time.Date(2026, 3, 7, 14, 0, 0, 0, time.UTC)
	repo.extras = append(repo.extras, ExtraAvailability{
		ID:         uuid.New(),
		CalendarID: calID,
		StartTime:  saturday,
		EndTime:    saturday.Add(30 * time.Minute),
		Kind:       KindRemote,
		Visible:    true,
	})
	svc := newTestService(repo)

	appt, err := svc.BookSlot(context.Background(), BookingRequest{
		CalendarID: calID,
		PatientID:  patientID,
		Start:      saturday,
		End:        saturday.Add(30 * time.Minute),
		Kind:       KindRemote,
	})
	require.NoError(t, err)
	assert.Equal(t, KindRemote, appt.Kind)
}

func TestBookSlotLockContention(t *testing.T) {
	repo, calID, patientID := fixture(t)
	svc := NewService(repo, contendedLocker{}, config.Config{PendingTTL: time.Hour}, zerolog.Nop())

	_, err := svc.BookSlot(context.Background(), BookingRequest{
		CalendarID: calID,
		PatientID:  patientID,
		Start:      monday.Add(9 * time.Hour),
		End:        monday.Add(9*time.Hour + 30*time.Minute),
		Kind:       KindInPerson,
		Location:   "Main clinic",
	})
	assert.ErrorIs(t, err, ErrSlotBeingBooked)
}

func TestBookSlotConcurrentAttemptsExactlyOneWins(t *testing.T) {
	repo, calID, _ := fixture(t)

	patientA := uuid.New()
	patientB := uuid.New()
	repo.patients[patientA] = &Patient{ID: patientA, Name: "A"}
	repo.patients[patientB] = &Patient{ID: patientB, Name: "B"}

	// No lock serialization: both attempts validate against the same free
	// candidate set and race on the store's overlap guard.
	svc := newTestService(repo)

	req := func(patient uuid.UUID) BookingRequest {
		return BookingRequest{
			CalendarID: calID,
			PatientID:  patient,
			Start:      monday.Add(9 * time.Hour),
			End:        monday.Add(9*time.Hour + 30*time.Minute),
			Kind:       KindInPerson,
			Location:   "Main clinic",
		}
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, p := range []uuid.UUID{patientA, patientB} {
		wg.Add(1)
		go func(i int, p uuid.UUID) {
			defer wg.Done()
			_, results[i] = svc.BookSlot(context.Background(), req(p))
		}(i, p)
	}
	wg.Wait()

	wins, losses := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSlotUnavailable):
			losses++
		default:
			t.Fatalf("unexpected outcome: %v", err)
		}
	}
	assert.Equal(t, 1, wins, "exactly one attempt must win")
	assert.Equal(t, 1, losses, "the loser gets the deterministic unavailable outcome")
}

func TestConfirmAppointment(t *testing.T) {
	repo, calID, patientID := fixture(t)
	svc := newTestService(repo)
	ctx := context.Background()

	appt, err := svc.BookSlot(ctx, BookingRequest{
		CalendarID: calID,
		PatientID:  patientID,
		Start:      monday.Add(9 * time.Hour),
		End:        monday.Add(9*time.Hour + 30*time.Minute),
		Kind:       KindInPerson,
		Location:   "Main clinic",
	})
	require.NoError(t, err)

	confirmed, err := svc.ConfirmAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)

	_, err = svc.ConfirmAppointment(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	_, err = svc.ConfirmAppointment(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestCancelStalePending(t *testing.T) {
	repo, calID, patientID := fixture(t)
	svc := newTestService(repo)
	ctx := context.Background()

	appt, err := svc.BookSlot(ctx, BookingRequest{
		CalendarID: calID,
		PatientID:  patientID,
		Start:      monday.Add(9 * time.Hour),
		End:        monday.Add(9*time.Hour + 30*time.Minute),
		Kind:       KindInPerson,
		Location:   "Main clinic",
	})
	require.NoError(t, err)

	// Age the booking past the pending TTL.
	repo.mu.Lock()
	repo.appts[appt.ID].CreatedAt = time.Now().Add(-2 * time.Hour)
	repo.mu.Unlock()

	require.NoError(t, svc.CancelStalePending(ctx))

	got, err := svc.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	// The interval is offered again once the stale booking is cancelled.
	slots, err := svc.QuerySlots(ctx, calID, monday, monday.AddDate(0, 0, 1), "")
	require.NoError(t, err)
	assert.Len(t, slots, 2)
}
