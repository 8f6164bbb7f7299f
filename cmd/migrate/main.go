package main

import (
	"context"
	"time"

	"github.com/clinicdesk/scheduling/internal/config"
	"github.com/clinicdesk/scheduling/internal/db"
	"github.com/clinicdesk/scheduling/internal/logger"
)

// The appointments table carries the authoritative double-booking guard: an
// exclusion constraint over (calendar_id, time range) restricted to
// occupying statuses. Concurrent conflicting inserts lose with SQLSTATE
// 23P01, which the repository translates into the standard "slot
// unavailable" outcome.
var statements = []string{
	`CREATE EXTENSION IF NOT EXISTS btree_gist`,

	`CREATE TABLE IF NOT EXISTS providers (
		id         uuid PRIMARY KEY,
		name       text NOT NULL,
		specialty  text,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS patients (
		id         uuid PRIMARY KEY,
		name       text NOT NULL,
		email      text,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS calendars (
		id                uuid PRIMARY KEY,
		provider_id       uuid NOT NULL REFERENCES providers(id),
		slot_duration_min int NOT NULL CHECK (slot_duration_min > 0),
		buffer_before_min int NOT NULL DEFAULT 0 CHECK (buffer_before_min >= 0),
		buffer_after_min  int NOT NULL DEFAULT 0 CHECK (buffer_after_min >= 0),
		timezone          text NOT NULL DEFAULT 'UTC',
		default_kind      text NOT NULL DEFAULT 'in_person'
			CHECK (default_kind IN ('remote', 'in_person')),
		confirmation_mode text NOT NULL DEFAULT 'manual'
			CHECK (confirmation_mode IN ('auto', 'manual')),
		visible           boolean NOT NULL DEFAULT true,
		active            boolean NOT NULL DEFAULT true,
		created_at        timestamptz NOT NULL DEFAULT now(),
		updated_at        timestamptz NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS availability_rules (
		id                uuid PRIMARY KEY,
		calendar_id       uuid NOT NULL REFERENCES calendars(id),
		weekday           int NOT NULL CHECK (weekday BETWEEN 0 AND 6),
		start_minute      int NOT NULL CHECK (start_minute >= 0),
		end_minute        int NOT NULL CHECK (end_minute <= 1440),
		slot_duration_min int NOT NULL DEFAULT 0 CHECK (slot_duration_min >= 0),
		kind              text NOT NULL DEFAULT 'any'
			CHECK (kind IN ('remote', 'in_person', 'any')),
		active_from       timestamptz,
		active_until      timestamptz,
		created_at        timestamptz NOT NULL DEFAULT now(),
		updated_at        timestamptz NOT NULL DEFAULT now(),
		CHECK (start_minute < end_minute),
		CHECK (active_from IS NULL OR active_until IS NULL OR active_from <= active_until)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_rules_calendar ON availability_rules (calendar_id)`,

	`CREATE TABLE IF NOT EXISTS agenda_blocks (
		id          uuid PRIMARY KEY,
		calendar_id uuid NOT NULL REFERENCES calendars(id),
		start_time  timestamptz NOT NULL,
		end_time    timestamptz NOT NULL,
		reason      text,
		created_at  timestamptz NOT NULL DEFAULT now(),
		CHECK (start_time < end_time)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_blocks_calendar_range ON agenda_blocks (calendar_id, start_time, end_time)`,

	`CREATE TABLE IF NOT EXISTS extra_availability (
		id          uuid PRIMARY KEY,
		calendar_id uuid NOT NULL REFERENCES calendars(id),
		start_time  timestamptz NOT NULL,
		end_time    timestamptz NOT NULL,
		kind        text NOT NULL CHECK (kind IN ('remote', 'in_person')),
		visible     boolean NOT NULL DEFAULT true,
		created_at  timestamptz NOT NULL DEFAULT now(),
		CHECK (start_time < end_time)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_extras_calendar_range ON extra_availability (calendar_id, start_time, end_time)`,

	`CREATE TABLE IF NOT EXISTS appointments (
		id          uuid PRIMARY KEY,
		calendar_id uuid NOT NULL REFERENCES calendars(id),
		patient_id  uuid NOT NULL REFERENCES patients(id),
		start_time  timestamptz NOT NULL,
		end_time    timestamptz NOT NULL,
		status      text NOT NULL
			CHECK (status IN ('pending', 'confirmed', 'in_progress', 'completed', 'cancelled')),
		kind        text NOT NULL CHECK (kind IN ('remote', 'in_person')),
		location    text,
		created_at  timestamptz NOT NULL DEFAULT now(),
		updated_at  timestamptz NOT NULL DEFAULT now(),
		CHECK (start_time < end_time),
		CONSTRAINT appointments_no_overlap EXCLUDE USING gist (
			calendar_id WITH =,
			tstzrange(start_time, end_time) WITH &&
		) WHERE (status NOT IN ('cancelled', 'completed'))
	)`,

	`CREATE INDEX IF NOT EXISTS idx_appointments_patient ON appointments (patient_id, start_time DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_appointments_calendar_range ON appointments (calendar_id, start_time, end_time)`,

	`CREATE TABLE IF NOT EXISTS event_logs (
		id             bigserial PRIMARY KEY,
		event_type     text NOT NULL,
		appointment_id uuid,
		payload        jsonb,
		created_at     timestamptz NOT NULL DEFAULT now()
	)`,
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("migrate", "dev", "info")
		bootLog.Fatal().Err(err).Msg("config load")
	}

	log := logger.New("migrate", cfg.Env, cfg.LogLevel)
	log.Info().Msg("applying schema")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	for i, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			log.Fatal().Err(err).Int("statement", i).Msg("apply schema statement")
		}
	}

	log.Info().Int("statements", len(statements)).Msg("schema applied")
}
