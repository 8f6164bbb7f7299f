package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/scheduling/internal/config"
	redisclient "github.com/clinicdesk/scheduling/internal/redis"
)

const (
	EventBookingCreated   = "BOOKING_CREATED"
	EventBookingConfirmed = "BOOKING_CONFIRMED"
	EventBookingCancelled = "BOOKING_CANCELLED"
)

var (
	ErrInvalidWindow           = errors.New("window end must be after window start")
	ErrInvalidKind             = errors.New("booking kind must be remote or in_person")
	ErrLocationRequired        = errors.New("in-person bookings require a location")
	ErrCalendarDisabled        = errors.New("calendar is disabled")
	ErrSlotBeingBooked         = errors.New("slot is currently being booked, please retry")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

type Service struct {
	repo   Repository
	locker redisclient.Locker
	cfg    config.Config
	log    zerolog.Logger
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		log:    log,
	}
}

// QuerySlots computes the offerable slots for a calendar over
// [from, to), optionally filtered by booking kind. Read-only, no locks,
// safe for arbitrary parallelism; results are sorted ascending by start.
func (s *Service) QuerySlots(ctx context.Context, calendarID uuid.UUID, from, to time.Time, kindFilter BookingKind) ([]ComputedSlot, error) {
	if !to.After(from) {
		return nil, ErrInvalidWindow
	}
	if kindFilter != "" && kindFilter != KindRemote && kindFilter != KindInPerson {
		return nil, ErrInvalidKind
	}

	cal, err := s.repo.GetCalendarByID(ctx, calendarID)
	if err != nil {
		return nil, err
	}
	if !cal.Active {
		// Soft-disabled calendars advertise nothing.
		return []ComputedSlot{}, nil
	}

	in, err := s.fetchPipelineInput(ctx, cal.ID, from, to)
	if err != nil {
		return nil, err
	}

	return ComputeSlots(cal, in, from, to, kindFilter)
}

type BookingRequest struct {
	CalendarID uuid.UUID
	PatientID  uuid.UUID
	Start      time.Time
	End        time.Time
	Kind       BookingKind
	Location   string // required when Kind is in_person
}

// BookSlot validates a requested interval against a freshly computed
// candidate set and creates the appointment if it is still free.
//
// The re-computation happens under a per-interval Redis lock, which narrows
// the race window between concurrent attempts. The guarantee that exactly
// one of two racing attempts succeeds comes from the store's no-overlap
// constraint: the losing insert fails and surfaces as ErrSlotUnavailable.
// A stale request is never retried here; callers re-query slots first.
func (s *Service) BookSlot(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if !req.End.After(req.Start) {
		return nil, ErrInvalidWindow
	}
	if req.Kind != KindRemote && req.Kind != KindInPerson {
		return nil, ErrInvalidKind
	}
	if req.Kind == KindInPerson && req.Location == "" {
		return nil, ErrLocationRequired
	}

	cal, err := s.repo.GetCalendarByID(ctx, req.CalendarID)
	if err != nil {
		return nil, err
	}
	if !cal.Active {
		return nil, ErrCalendarDisabled
	}

	if _, err := s.repo.GetPatientByID(ctx, req.PatientID); err != nil {
		return nil, err
	}

	loc, err := cal.Location()
	if err != nil {
		return nil, fmt.Errorf("load calendar timezone: %w", err)
	}

	// Recompute over the spanned calendar days padded by one day each side,
	// so rules anchored at day boundaries are not missed.
	from, to := paddedWindow(req.Start, req.End, loc)

	var created *Appointment

	err = s.locker.WithIntervalLock(ctx, cal.ID, req.Start, func(lockCtx context.Context) error {
		in, err := s.fetchPipelineInput(lockCtx, cal.ID, from, to)
		if err != nil {
			return err
		}

		candidates, err := ComputeSlots(cal, in, from, to, "")
		if err != nil {
			return err
		}

		if !containsInterval(candidates, req.Start, req.End, req.Kind) {
			return ErrSlotUnavailable
		}

		status := StatusPending
		if cal.ConfirmationMode == ConfirmAuto {
			status = StatusConfirmed
		}

		appt := &Appointment{
			CalendarID: cal.ID,
			PatientID:  req.PatientID,
			StartTime:  req.Start,
			EndTime:    req.End,
			Status:     status,
			Kind:       req.Kind,
		}
		if req.Location != "" {
			appt.Location = &req.Location
		}

		created, err = s.repo.CreateAppointment(lockCtx, appt)
		if err != nil {
			return err
		}

		s.logEvent(lockCtx, created.ID, EventBookingCreated, map[string]any{
			"calendar_id": cal.ID.String(),
			"patient_id":  req.PatientID.String(),
			"start":       req.Start,
			"end":         req.End,
			"kind":        req.Kind,
			"status":      status,
		})

		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	return created, nil
}

// ConfirmAppointment moves a pending appointment to confirmed. Used by
// calendars with manual confirmation.
func (s *Service) ConfirmAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusPending {
		return nil, ErrInvalidStatusTransition
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusPending, StatusConfirmed)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Lost a race with another transition.
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("confirm appointment: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventBookingConfirmed, map[string]any{})

	return updated, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointmentByID(ctx, id)
}

func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
}

// CancelStalePending is called periodically by the cleanup worker. Pending
// bookings on manual-confirmation calendars that were never confirmed within
// PendingTTL are cancelled, releasing their interval.
func (s *Service) CancelStalePending(ctx context.Context) error {
	cutoff := time.Now().Add(-s.cfg.PendingTTL)
	stale, err := s.repo.FindStalePending(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("find stale pending bookings: %w", err)
	}

	for _, appt := range stale {
		_, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusPending, StatusCancelled)
		if err != nil {
			if !errors.Is(err, ErrAppointmentNotFound) {
				s.log.Error().Err(err).Stringer("appointment_id", appt.ID).Msg("cancel stale pending booking")
			}
			continue
		}
		s.logEvent(ctx, appt.ID, EventBookingCancelled, map[string]any{
			"reason": "pending_ttl_expired",
		})
	}

	return nil
}

func (s *Service) fetchPipelineInput(ctx context.Context, calendarID uuid.UUID, from, to time.Time) (PipelineInput, error) {
	rules, err := s.repo.ListRulesByCalendar(ctx, calendarID)
	if err != nil {
		return PipelineInput{}, fmt.Errorf("list rules: %w", err)
	}
	blocks, err := s.repo.ListBlocksInRange(ctx, calendarID, from, to)
	if err != nil {
		return PipelineInput{}, fmt.Errorf("list blocks: %w", err)
	}
	extras, err := s.repo.ListExtrasInRange(ctx, calendarID, from, to)
	if err != nil {
		return PipelineInput{}, fmt.Errorf("list extras: %w", err)
	}
	appts, err := s.repo.ListOccupyingAppointmentsInRange(ctx, calendarID, from, to)
	if err != nil {
		return PipelineInput{}, fmt.Errorf("list appointments: %w", err)
	}

	return PipelineInput{
		Rules:        rules,
		Extras:       extras,
		Blocks:       blocks,
		Appointments: appts,
	}, nil
}

// paddedWindow returns the calendar days spanned by [start, end), padded by
// one day on each side, as an absolute half-open window.
func paddedWindow(start, end time.Time, loc *time.Location) (time.Time, time.Time) {
	s := start.In(loc)
	e := end.In(loc)
	from := time.Date(s.Year(), s.Month(), s.Day()-1, 0, 0, 0, 0, loc)
	to := time.Date(e.Year(), e.Month(), e.Day()+2, 0, 0, 0, 0, loc)
	return from, to
}

// containsInterval checks that the requested interval appears verbatim
// (same start, same end, same kind) among the computed candidates.
func containsInterval(candidates []ComputedSlot, start, end time.Time, kind BookingKind) bool {
	for _, c := range candidates {
		if c.Start.Equal(start) && c.End.Equal(end) && c.Kind == kind {
			return true
		}
	}
	return false
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("event_type", eventType).Msg("marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn().Err(err).
			Str("event_type", eventType).
			Stringer("appointment_id", appointmentID).
			Msg("insert event log")
	}
}
