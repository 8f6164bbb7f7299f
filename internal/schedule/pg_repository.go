package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgErrExclusionViolation is raised when an insert collides with the
// no-overlap exclusion constraint on appointments.
const pgErrExclusionViolation = "23P01"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanCalendar(row pgx.Row) (*Calendar, error) {
	var c Calendar
	var slotMin, bufBeforeMin, bufAfterMin int

	err := row.Scan(
		&c.ID,
		&c.ProviderID,
		&slotMin,
		&bufBeforeMin,
		&bufAfterMin,
		&c.Timezone,
		&c.DefaultKind,
		&c.ConfirmationMode,
		&c.Visible,
		&c.Active,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCalendarNotFound
		}
		return nil, err
	}

	c.SlotDuration = time.Duration(slotMin) * time.Minute
	c.BufferBefore = time.Duration(bufBeforeMin) * time.Minute
	c.BufferAfter = time.Duration(bufAfterMin) * time.Minute
	return &c, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanRule(row pgx.Row) (*AvailabilityRule, error) {
	var r AvailabilityRule
	var weekday, slotMin int
	var activeFrom, activeUntil *time.Time

	err := row.Scan(
		&r.ID,
		&r.CalendarID,
		&weekday,
		&r.StartMinute,
		&r.EndMinute,
		&slotMin,
		&r.Kind,
		&activeFrom,
		&activeUntil,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Weekday = time.Weekday(weekday)
	r.SlotDuration = time.Duration(slotMin) * time.Minute
	r.ActiveFrom = activeFrom
	r.ActiveUntil = activeUntil
	return &r, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var location *string

	err := row.Scan(
		&a.ID,
		&a.CalendarID,
		&a.PatientID,
		&a.StartTime,
		&a.EndTime,
		&a.Status,
		&a.Kind,
		&location,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Location = location
	return &a, nil
}

// Interface methods

func (r *PgRepository) GetCalendarByID(ctx context.Context, id uuid.UUID) (*Calendar, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, provider_id, slot_duration_min, buffer_before_min, buffer_after_min,
		       timezone, default_kind, confirmation_mode, visible, active, created_at, updated_at
		FROM calendars
		WHERE id = $1
	`, id)
	return scanCalendar(row)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) ListRulesByCalendar(ctx context.Context, calendarID uuid.UUID) ([]AvailabilityRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, calendar_id, weekday, start_minute, end_minute, slot_duration_min,
		       kind, active_from, active_until, created_at, updated_at
		FROM availability_rules
		WHERE calendar_id = $1
		ORDER BY weekday, start_minute
	`, calendarID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AvailabilityRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rule)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListBlocksInRange(ctx context.Context, calendarID uuid.UUID, from, to time.Time) ([]AgendaBlock, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, calendar_id, start_time, end_time, reason, created_at
		FROM agenda_blocks
		WHERE calendar_id = $1
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time
	`, calendarID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AgendaBlock
	for rows.Next() {
		var b AgendaBlock
		if err := rows.Scan(&b.ID, &b.CalendarID, &b.StartTime, &b.EndTime, &b.Reason, &b.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListExtrasInRange(ctx context.Context, calendarID uuid.UUID, from, to time.Time) ([]ExtraAvailability, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, calendar_id, start_time, end_time, kind, visible, created_at
		FROM extra_availability
		WHERE calendar_id = $1
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time
	`, calendarID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ExtraAvailability
	for rows.Next() {
		var e ExtraAvailability
		if err := rows.Scan(&e.ID, &e.CalendarID, &e.StartTime, &e.EndTime, &e.Kind, &e.Visible, &e.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListOccupyingAppointmentsInRange(ctx context.Context, calendarID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, calendar_id, patient_id, start_time, end_time, status, kind, location, created_at, updated_at
		FROM appointments
		WHERE calendar_id = $1
		  AND status NOT IN ('cancelled', 'completed')
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time
	`, calendarID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (r *PgRepository) CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error) {
	id := appt.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, calendar_id, patient_id, start_time, end_time, status, kind, location, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING id, calendar_id, patient_id, start_time, end_time, status, kind, location, created_at, updated_at
	`, id, appt.CalendarID, appt.PatientID, appt.StartTime, appt.EndTime, appt.Status, appt.Kind, appt.Location)

	created, err := scanAppointment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgErrExclusionViolation {
			// A concurrent booking won the interval; translate the
			// constraint violation into the standard business outcome.
			return nil, ErrSlotUnavailable
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, calendar_id, patient_id, start_time, end_time, status, kind, location, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, calendar_id, patient_id, start_time, end_time, status, kind, location, created_at, updated_at
		FROM appointments
		WHERE patient_id = $1
		ORDER BY start_time DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING id, calendar_id, patient_id, start_time, end_time, status, kind, location, created_at, updated_at
	`, id, to, from)

	return scanAppointment(row)
}

func (r *PgRepository) FindStalePending(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.calendar_id, a.patient_id, a.start_time, a.end_time, a.status, a.kind, a.location, a.created_at, a.updated_at
		FROM appointments a
		JOIN calendars c ON c.id = a.calendar_id
		WHERE a.status = 'pending'
		  AND c.confirmation_mode = 'manual'
		  AND a.created_at < $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
