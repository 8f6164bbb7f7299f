package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrCalendarNotFound    = errors.New("calendar not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrSlotUnavailable is the single business outcome for a requested
	// interval that cannot be booked: it is missing from the freshly
	// computed candidates, or the store's overlap guard rejected the
	// insert because a concurrent booking won the interval.
	ErrSlotUnavailable = errors.New("slot no longer available")
)

// Repository contains all store interactions needed by the scheduling
// service. Rules, blocks and extras are read-only here; provider-management
// CRUD elsewhere owns their mutation. Appointments are the only entity this
// core writes.
type Repository interface {
	GetCalendarByID(ctx context.Context, id uuid.UUID) (*Calendar, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	// Pipeline inputs. Range queries use half-open overlap with [from, to).
	ListRulesByCalendar(ctx context.Context, calendarID uuid.UUID) ([]AvailabilityRule, error)
	ListBlocksInRange(ctx context.Context, calendarID uuid.UUID, from, to time.Time) ([]AgendaBlock, error)
	ListExtrasInRange(ctx context.Context, calendarID uuid.UUID, from, to time.Time) ([]ExtraAvailability, error)
	ListOccupyingAppointmentsInRange(ctx context.Context, calendarID uuid.UUID, from, to time.Time) ([]Appointment, error)

	// CreateAppointment must enforce that no two occupying appointments on
	// the same calendar overlap, and return ErrSlotUnavailable when a
	// concurrent insert wins the interval. This constraint, not the
	// application-level re-check, is the authoritative double-booking guard.
	CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)

	// Cleanup worker: pending appointments on manual-confirmation calendars
	// created before the cutoff.
	FindStalePending(ctx context.Context, cutoff time.Time) ([]Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
