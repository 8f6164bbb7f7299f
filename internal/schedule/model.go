package schedule

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending    AppointmentStatus = "pending"
	StatusConfirmed  AppointmentStatus = "confirmed"
	StatusInProgress AppointmentStatus = "in_progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusCancelled  AppointmentStatus = "cancelled"
)

type BookingKind string

const (
	KindRemote   BookingKind = "remote"
	KindInPerson BookingKind = "in_person"
	// KindAny is only valid on availability rules; it resolves to the
	// calendar's default kind at expansion time and is never bookable.
	KindAny BookingKind = "any"
)

type ConfirmationMode string

const (
	ConfirmAuto   ConfirmationMode = "auto"
	ConfirmManual ConfirmationMode = "manual"
)

type Provider struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Calendar is a provider's schedule container: recurring rules, blocks and
// extras hang off it, and bookings are validated against it.
type Calendar struct {
	ID               uuid.UUID
	ProviderID       uuid.UUID
	SlotDuration     time.Duration // default for rules that carry none
	BufferBefore     time.Duration
	BufferAfter      time.Duration
	Timezone         string // IANA name, e.g. "America/New_York"
	DefaultKind      BookingKind
	ConfirmationMode ConfirmationMode
	Visible          bool
	Active           bool // soft-disable instead of delete while bookings reference it
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (c *Calendar) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// AvailabilityRule is a recurring weekly opening: every matching weekday the
// window [StartMinute, EndMinute) of that day is carved into slots.
type AvailabilityRule struct {
	ID           uuid.UUID
	CalendarID   uuid.UUID
	Weekday      time.Weekday
	StartMinute  int // minutes from local midnight
	EndMinute    int
	SlotDuration time.Duration // zero means: use the calendar default
	Kind         BookingKind
	ActiveFrom   *time.Time // inclusive date bound, nil = unbounded
	ActiveUntil  *time.Time // exclusive date bound, nil = unbounded
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

var (
	ErrRuleWindowInverted = errors.New("rule start must be before rule end")
	ErrRuleDuration       = errors.New("rule slot duration must be positive")
	ErrRuleRangeInverted  = errors.New("rule active range start must not be after its end")
)

func (r *AvailabilityRule) Validate(calendarDefault time.Duration) error {
	if r.StartMinute >= r.EndMinute {
		return ErrRuleWindowInverted
	}
	if r.duration(calendarDefault) <= 0 {
		return ErrRuleDuration
	}
	if r.ActiveFrom != nil && r.ActiveUntil != nil && r.ActiveFrom.After(*r.ActiveUntil) {
		return ErrRuleRangeInverted
	}
	return nil
}

func (r *AvailabilityRule) duration(calendarDefault time.Duration) time.Duration {
	if r.SlotDuration > 0 {
		return r.SlotDuration
	}
	return calendarDefault
}

// appliesOn reports whether the rule is active on the calendar day starting
// at local midnight `day`.
func (r *AvailabilityRule) appliesOn(day time.Time) bool {
	if r.Weekday != day.Weekday() {
		return false
	}
	if r.ActiveFrom != nil && day.Before(*r.ActiveFrom) {
		return false
	}
	if r.ActiveUntil != nil && !day.Before(*r.ActiveUntil) {
		return false
	}
	return true
}

// AgendaBlock is an absolute blackout interval [StartTime, EndTime): no slot
// may be offered inside it, regardless of rules or extras.
type AgendaBlock struct {
	ID         uuid.UUID
	CalendarID uuid.UUID
	StartTime  time.Time
	EndTime    time.Time
	Reason     *string
	CreatedAt  time.Time
}

// ExtraAvailability is a one-off opening outside the recurring rules. It is
// offered as a single candidate slot, never carved into sub-slots.
type ExtraAvailability struct {
	ID         uuid.UUID
	CalendarID uuid.UUID
	StartTime  time.Time
	EndTime    time.Time
	Kind       BookingKind
	Visible    bool
	CreatedAt  time.Time
}

// ComputedSlot is the ephemeral output of the slot pipeline. It is never
// persisted; every query recomputes it from rules, extras, blocks and
// current bookings.
type ComputedSlot struct {
	Start   time.Time
	End     time.Time
	Kind    BookingKind
	Visible bool
}

// Overlaps uses half-open interval semantics: touching edges do not overlap.
func (s ComputedSlot) Overlaps(start, end time.Time) bool {
	return s.Start.Before(end) && s.End.After(start)
}

type Appointment struct {
	ID         uuid.UUID
	CalendarID uuid.UUID
	PatientID  uuid.UUID
	StartTime  time.Time
	EndTime    time.Time
	Status     AppointmentStatus
	Kind       BookingKind
	Location   *string // required for in-person bookings
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (a *Appointment) Duration() time.Duration {
	return a.EndTime.Sub(a.StartTime)
}

// Occupying reports whether the appointment exclusively holds its interval.
// Cancelled and completed appointments release theirs.
func (a *Appointment) Occupying() bool {
	return a.Status != StatusCancelled && a.Status != StatusCompleted
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
