package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestStatusReportsScheduleWhenPaused verifies a paused service still
// reports its configured cron expression alongside the paused flag.
func TestStatusReportsScheduleWhenPaused(t *testing.T) {
	h := &StatusHandler{
		Schedule: "0 */6 * * *",
		Paused:   true,
		Version:  "test",
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}

	var body struct {
		Version  string `json:"version"`
		Schedule struct {
			Cron       string  `json:"cron"`
			Paused     bool    `json:"paused"`
			NextScanAt *string `json:"next_scan_at"`
		} `json:"schedule"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if body.Schedule.Cron != "0 */6 * * *" {
		t.Errorf("cron: got %q, want the configured expression", body.Schedule.Cron)
	}
	if !body.Schedule.Paused {
		t.Error("paused: got false, want true")
	}
	if body.Schedule.NextScanAt != nil {
		t.Errorf("next_scan_at: got %v, want null while paused", *body.Schedule.NextScanAt)
	}
}

func TestStatusRunningSchedule(t *testing.T) {
	h := &StatusHandler{Schedule: "@hourly", Version: "test"}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	var body struct {
		Schedule struct {
			Cron   string `json:"cron"`
			Paused bool   `json:"paused"`
		} `json:"schedule"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Schedule.Cron != "@hourly" || body.Schedule.Paused {
		t.Errorf("schedule: got %+v", body.Schedule)
	}
}
