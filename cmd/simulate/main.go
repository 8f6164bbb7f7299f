package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/scheduling/internal/config"
	"github.com/clinicdesk/scheduling/internal/db"
)

// The simulator drives the public API the way contending clients would:
// query slots, then race to book them. A high conflict rate with zero
// double-bookings is the expected outcome.

type SimConfig struct {
	APIBaseURL  string
	Duration    time.Duration
	Workers     int
	Calendars   int // size of the contended calendar pool
	PatientMax  int
	PostgresDSN string
}

type DataPool struct {
	Patients  []uuid.UUID
	Calendars []uuid.UUID
}

type slotRef struct {
	CalendarID uuid.UUID
	Start      time.Time
	End        time.Time
	Kind       string
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	Latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	p50 = latencies[len(latencies)*50/100]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	return avg, p50, p95
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	query   OperationMetrics
	booking OperationMetrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	pool := &DataPool{}

	rows, err := pgPool.Query(ctx, `SELECT id FROM patients LIMIT $1`, cfg.PatientMax)
	if err != nil {
		log.Fatalf("load patients: %v", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			log.Fatalf("scan patient: %v", err)
		}
		pool.Patients = append(pool.Patients, id)
	}
	rows.Close()

	// A deliberately small calendar pool maximizes booking contention.
	rows, err = pgPool.Query(ctx, `SELECT id FROM calendars WHERE active LIMIT $1`, cfg.Calendars)
	if err != nil {
		log.Fatalf("load calendars: %v", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			log.Fatalf("scan calendar: %v", err)
		}
		pool.Calendars = append(pool.Calendars, id)
	}
	rows.Close()

	if len(pool.Patients) == 0 || len(pool.Calendars) == 0 {
		log.Fatal("no patients or calendars loaded; run seed first")
	}
	log.Printf("loaded: %d patients, %d calendars", len(pool.Patients), len(pool.Calendars))

	sim := &Simulator{
		config: cfg,
		pool:   pool,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	return SimConfig{
		APIBaseURL:  getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:    getDuration("SIM_DURATION", 30*time.Second),
		Workers:     getInt("SIM_WORKERS", 10),
		Calendars:   getInt("SIM_CALENDARS", 5),
		PatientMax:  getInt("SIM_PATIENT_LIMIT", 1000),
		PostgresDSN: baseCfg.PostgresDSN,
	}
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("running for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			slots := s.doQuerySlots(ctx, rng)
			if len(slots) == 0 {
				continue
			}
			// Every worker goes for an early slot, which keeps the
			// contention on the same handful of intervals.
			s.doBooking(ctx, rng, slots[rng.Intn(min(3, len(slots)))])
		}
	}
}

func (s *Simulator) doQuerySlots(ctx context.Context, rng *rand.Rand) []slotRef {
	calendarID := s.pool.Calendars[rng.Intn(len(s.pool.Calendars))]

	from := time.Now().Truncate(24 * time.Hour).AddDate(0, 0, 1)
	to := from.AddDate(0, 0, 7)

	start := time.Now()

	u := fmt.Sprintf("%s/calendars/%s/slots?from=%s&to=%s",
		s.config.APIBaseURL, calendarID,
		url.QueryEscape(from.Format(time.RFC3339)),
		url.QueryEscape(to.Format(time.RFC3339)))

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	if err != nil {
		s.query.Record(latency, false, false)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.query.Record(latency, false, false)
		return nil
	}

	var body struct {
		Slots []struct {
			Start time.Time `json:"start"`
			End   time.Time `json:"end"`
			Kind  string    `json:"kind"`
		} `json:"slots"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		s.query.Record(latency, false, false)
		return nil
	}

	s.query.Record(latency, true, false)

	refs := make([]slotRef, 0, len(body.Slots))
	for _, slot := range body.Slots {
		refs = append(refs, slotRef{
			CalendarID: calendarID,
			Start:      slot.Start,
			End:        slot.End,
			Kind:       slot.Kind,
		})
	}
	return refs
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand, slot slotRef) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	reqBody := map[string]any{
		"calendar_id": slot.CalendarID.String(),
		"patient_id":  patientID.String(),
		"start":       slot.Start.Format(time.RFC3339),
		"end":         slot.End.Format(time.RFC3339),
		"kind":        slot.Kind,
	}
	if slot.Kind == "in_person" {
		reqBody["location"] = "Main clinic, room 3"
	}
	body, _ := json.Marshal(reqBody)

	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	if err != nil {
		s.booking.Record(latency, false, false)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	s.booking.Record(latency,
		resp.StatusCode == http.StatusCreated,
		resp.StatusCode == http.StatusConflict)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 72))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 72))
	fmt.Printf("Duration: %s  Workers: %d  Calendars: %d\n\n",
		s.config.Duration, s.config.Workers, s.config.Calendars)

	printOperationReport("Slot query", &s.query)
	printOperationReport("Booking", &s.booking)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	errCount := atomic.LoadInt64(&om.Error)
	avg, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if errCount > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", errCount, float64(errCount)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s\n\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond))
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
