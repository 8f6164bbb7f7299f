package main

import (
	"context"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/scheduling/internal/db"
	"github.com/clinicdesk/scheduling/internal/logger"
)

var timezones = []string{
	"UTC",
	"Europe/Lisbon",
	"Europe/Madrid",
	"America/New_York",
	"America/Sao_Paulo",
}

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
}

func main() {
	log := logger.New("seed", os.Getenv("APP_ENV"), "info")
	log.Info().Msg("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	seedCtx := context.Background()
	calendarIDs, err := seedProvidersAndCalendars(seedCtx, pool, log, 50)
	if err != nil {
		log.Fatal().Err(err).Msg("seed providers and calendars")
	}
	if err := seedPatients(seedCtx, pool, log, 2000); err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}
	if err := seedSchedules(seedCtx, pool, log, calendarIDs); err != nil {
		log.Fatal().Err(err).Msg("seed schedules")
	}

	log.Info().Msg("seed complete")
}

func seedProvidersAndCalendars(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger, count int) ([]uuid.UUID, error) {
	log.Info().Int("count", count).Msg("seeding providers and calendars")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	calendarIDs := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		providerID := uuid.New()
		specialty := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO providers (id, name, specialty)
			VALUES ($1, $2, $3)
		`, providerID, gofakeit.Name(), specialty)
		if err != nil {
			return nil, err
		}

		calendarID := uuid.New()
		mode := "manual"
		if gofakeit.Bool() {
			mode = "auto"
		}
		kind := "in_person"
		if gofakeit.Bool() {
			kind = "remote"
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO calendars (id, provider_id, slot_duration_min, buffer_before_min, buffer_after_min,
			                       timezone, default_kind, confirmation_mode, visible, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true, true)
		`, calendarID, providerID,
			[]int{15, 20, 30}[gofakeit.Number(0, 2)],
			gofakeit.Number(0, 5),
			gofakeit.Number(0, 5),
			timezones[gofakeit.Number(0, len(timezones)-1)],
			kind, mode)
		if err != nil {
			return nil, err
		}

		calendarIDs = append(calendarIDs, calendarID)
	}

	return calendarIDs, tx.Commit(ctx)
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger, count int) error {
	log.Info().Int("count", count).Msg("seeding patients")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		email := gofakeit.Email()
		_, err := tx.Exec(ctx, `
			INSERT INTO patients (id, name, email)
			VALUES ($1, $2, $3)
		`, uuid.New(), gofakeit.Name(), email)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// seedSchedules gives every calendar a handful of weekday rules, the odd
// blackout block, and an occasional weekend extra.
func seedSchedules(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger, calendarIDs []uuid.UUID) error {
	log.Info().Int("calendars", len(calendarIDs)).Msg("seeding rules, blocks and extras")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	now := time.Now()

	for _, calendarID := range calendarIDs {
		// Morning and afternoon rules on 2-4 weekdays.
		days := gofakeit.Number(2, 4)
		for d := 1; d <= days; d++ {
			for _, window := range [][2]int{{9 * 60, 12 * 60}, {14 * 60, 18 * 60}} {
				_, err := tx.Exec(ctx, `
					INSERT INTO availability_rules (id, calendar_id, weekday, start_minute, end_minute, slot_duration_min, kind)
					VALUES ($1, $2, $3, $4, $5, 0, 'any')
				`, uuid.New(), calendarID, d, window[0], window[1])
				if err != nil {
					return err
				}
			}
		}

		// One upcoming full-day block for roughly a third of calendars.
		if gofakeit.Number(0, 2) == 0 {
			blockStart := now.AddDate(0, 0, gofakeit.Number(7, 30)).Truncate(24 * time.Hour)
			reason := "leave"
			_, err := tx.Exec(ctx, `
				INSERT INTO agenda_blocks (id, calendar_id, start_time, end_time, reason)
				VALUES ($1, $2, $3, $4, $5)
			`, uuid.New(), calendarID, blockStart, blockStart.AddDate(0, 0, 1), reason)
			if err != nil {
				return err
			}
		}

		// Occasional one-off Saturday opening.
		if gofakeit.Number(0, 3) == 0 {
			daysAhead := gofakeit.Number(3, 21)
			extraStart := now.AddDate(0, 0, daysAhead).Truncate(24 * time.Hour).Add(10 * time.Hour)
			_, err := tx.Exec(ctx, `
				INSERT INTO extra_availability (id, calendar_id, start_time, end_time, kind, visible)
				VALUES ($1, $2, $3, $4, 'remote', true)
			`, uuid.New(), calendarID, extraStart, extraStart.Add(30*time.Minute))
			if err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}
