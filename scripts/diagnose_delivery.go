package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	pgRepo "school-notify/internal/infra/adapter/persistence/postgres"
	"school-notify/internal/infra/db"
	"school-notify/internal/observability/slo"
	"school-notify/pkg/config"
)

// FailedJob is a delivery job that exhausted its budget or failed permanently.
type FailedJob struct {
	ID           int64     `json:"id"`
	Channel      string    `json:"channel"`
	TemplateName string    `json:"template_name"`
	Attempts     int       `json:"attempts"`
	MaxAttempts  int       `json:"max_attempts"`
	LastError    string    `json:"last_error"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

// ChannelDiagnostic summarises one channel over the report window.
type ChannelDiagnostic struct {
	Channel        string           `json:"channel"`
	Events         map[string]int64 `json:"events"`
	SuccessRatio   float64          `json:"success_ratio"`
	ComplaintRatio float64          `json:"complaint_ratio"`
	Breached       bool             `json:"breached"`
}

// Report is the full delivery diagnostic.
type Report struct {
	GeneratedAt time.Time           `json:"generated_at"`
	Since       time.Time           `json:"since"`
	Queue       map[string]int64    `json:"queue"`
	Channels    []ChannelDiagnostic `json:"channels"`
	FailedJobs  []FailedJob         `json:"failed_jobs"`
}

func main() {
	window := config.GetEnvDuration("DIAGNOSE_WINDOW", 24*time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	database, err := db.Open(ctx)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Printf("Failed to close database: %v", err)
		}
	}()

	report, err := buildReport(ctx, database, time.Now().Add(-window))
	if err != nil {
		log.Fatalf("Failed to build report: %v", err)
	}

	generateReport(report)
	generateJSONReport(report)
}

func buildReport(ctx context.Context, database *sql.DB, since time.Time) (*Report, error) {
	counts, err := pgRepo.NewDeliveryQueue(database).Counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue counts: %w", err)
	}
	events, err := pgRepo.NewDeliveryLogRepo(database).Summary(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("delivery summary: %w", err)
	}
	failed, err := fetchFailedJobs(ctx, database, since)
	if err != nil {
		return nil, fmt.Errorf("failed jobs: %w", err)
	}

	r := &Report{
		GeneratedAt: time.Now(),
		Since:       since,
		Queue:       make(map[string]int64, len(counts)),
		FailedJobs:  failed,
	}
	for state, n := range counts {
		r.Queue[string(state)] = n
	}
	for _, cr := range slo.Evaluate(events) {
		d := ChannelDiagnostic{
			Channel:        string(cr.Channel),
			Events:         make(map[string]int64),
			SuccessRatio:   cr.SuccessRatio,
			ComplaintRatio: cr.ComplaintRatio,
			Breached:       cr.Breached,
		}
		for kind, n := range events[cr.Channel] {
			d.Events[string(kind)] = n
		}
		r.Channels = append(r.Channels, d)
	}
	return r, nil
}

func fetchFailedJobs(ctx context.Context, database *sql.DB, since time.Time) ([]FailedJob, error) {
	rows, err := database.QueryContext(ctx, `
SELECT id, channel, template_name, attempts, max_attempts, last_error, enqueued_at
FROM delivery_jobs
WHERE state = 'failed' AND enqueued_at >= $1
ORDER BY id DESC
LIMIT 50`, since)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Failed to close rows: %v", err)
		}
	}()

	var jobs []FailedJob
	for rows.Next() {
		var j FailedJob
		if err := rows.Scan(&j.ID, &j.Channel, &j.TemplateName, &j.Attempts, &j.MaxAttempts, &j.LastError, &j.EnqueuedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// writef is a helper to write to file and handle errors
func writef(f *os.File, format string, args ...interface{}) error {
	_, err := fmt.Fprintf(f, format, args...)
	return err
}

func generateReport(r *Report) {
	f, err := os.Create("delivery_diagnostic_report.txt")
	if err != nil {
		log.Printf("Failed to create report file: %v", err)
		return
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Printf("Failed to close report file: %v", err)
		}
	}()

	if err := writef(f, "===============================================\n"+
		"Delivery Diagnostic Report\n"+
		"Generated: %s\n"+
		"Window start: %s\n"+
		"===============================================\n\n",
		r.GeneratedAt.Format(time.RFC3339), r.Since.Format(time.RFC3339)); err != nil {
		log.Printf("Failed to write to report: %v", err)
		return
	}

	_ = writef(f, "QUEUE:\n")
	states := make([]string, 0, len(r.Queue))
	for s := range r.Queue {
		states = append(states, s)
	}
	sort.Strings(states)
	for _, s := range states {
		_ = writef(f, "  %s: %d\n", s, r.Queue[s])
	}

	_ = writef(f, "\nCHANNELS:\n")
	for _, c := range r.Channels {
		mark := "OK"
		if c.Breached {
			mark = "SLO BREACHED"
		}
		_ = writef(f, "  %s [%s]\n", c.Channel, mark)
		_ = writef(f, "    success: %.4f | complaints: %.4f\n", c.SuccessRatio, c.ComplaintRatio)
		for kind, n := range c.Events {
			_ = writef(f, "    %s: %d\n", kind, n)
		}
	}

	_ = writef(f, "\nFAILED JOBS (%d):\n", len(r.FailedJobs))
	_ = writef(f, "-------------------------------------------\n")
	for _, j := range r.FailedJobs {
		_ = writef(f, "#%d %s %s attempts %d/%d\n", j.ID, j.Channel, j.TemplateName, j.Attempts, j.MaxAttempts)
		_ = writef(f, "  Error: %s\n", j.LastError)
	}

	log.Println("Text report generated: delivery_diagnostic_report.txt")
}

func generateJSONReport(r *Report) {
	f, err := os.Create("delivery_diagnostic_report.json")
	if err != nil {
		log.Printf("Failed to create JSON report: %v", err)
		return
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Printf("Failed to close JSON report file: %v", err)
		}
	}()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(r); err != nil {
		log.Printf("Failed to write JSON report: %v", err)
		return
	}

	log.Println("JSON report generated: delivery_diagnostic_report.json")
}
