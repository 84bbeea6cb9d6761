package handlers

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/atanasmihaylov/certificate-transparency/internal/scan"
	"github.com/atanasmihaylov/certificate-transparency/internal/scheduler"
)

// StatusHandler handles GET /api/status.
type StatusHandler struct {
	DB       *sql.DB
	Manager  *scan.Manager
	Sched    *scheduler.Scheduler
	Schedule string
	Paused   bool
	Version  string
}

type statusResponse struct {
	Version           string             `json:"version"`
	ActiveScan        *activeScanInfo    `json:"active_scan"`
	Schedule          scheduleInfo       `json:"schedule"`
	LastCompletedScan *completedScanInfo `json:"last_completed_scan"`
}

type activeScanInfo struct {
	ID          int64            `json:"id"`
	StartedAt   time.Time        `json:"started_at"`
	TriggeredBy string           `json:"triggered_by"`
	Log         string           `json:"log"`
	Progress    scanProgressInfo `json:"progress"`
}

type scanProgressInfo struct {
	EntriesFetched  int64 `json:"entries_fetched"`
	CertsChecked    int64 `json:"certs_checked"`
	ParseErrors     int64 `json:"parse_errors"`
	Observations    int64 `json:"observations"`
	BatchesEnqueued int64 `json:"batches_enqueued"`
}

type scheduleInfo struct {
	Cron       string     `json:"cron"`
	Paused     bool       `json:"paused"`
	NextScanAt *time.Time `json:"next_scan_at"`
}

type completedScanInfo struct {
	ID              int64     `json:"id"`
	Log             string    `json:"log"`
	FinishedAt      time.Time `json:"finished_at"`
	EntriesFetched  int64     `json:"entries_fetched"`
	CertsChecked    int64     `json:"certs_checked"`
	Observations    int64     `json:"observations"`
	DurationSeconds int64     `json:"duration_seconds"`
}

// ServeHTTP returns the system status as JSON.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Version:           h.Version,
		ActiveScan:        h.activeScan(),
		LastCompletedScan: h.lastCompletedScan(),
		Schedule: scheduleInfo{
			Cron:   h.Schedule,
			Paused: h.Paused,
		},
	}
	// A paused service keeps reporting its configured cron expression;
	// only the next-run time comes from the live scheduler.
	if h.Sched != nil && !h.Paused {
		resp.Schedule.NextScanAt = h.Sched.NextScanAt()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *StatusHandler) activeScan() *activeScanInfo {
	if h.Manager == nil {
		return nil
	}
	active := h.Manager.ActiveScan()
	if active == nil {
		return nil
	}
	return &activeScanInfo{
		ID:          active.ID,
		StartedAt:   active.StartedAt.UTC(),
		TriggeredBy: active.TriggeredBy,
		Log:         active.Log,
		Progress: scanProgressInfo{
			EntriesFetched:  active.Progress.EntriesFetched.Load(),
			CertsChecked:    active.Progress.CertsChecked.Load(),
			ParseErrors:     active.Progress.ParseErrors.Load(),
			Observations:    active.Progress.Observations.Load(),
			BatchesEnqueued: active.Progress.BatchesEnqueued.Load(),
		},
	}
}

func (h *StatusHandler) lastCompletedScan() *completedScanInfo {
	if h.DB == nil {
		return nil
	}
	row := h.DB.QueryRow(`
		SELECT id, log_name, finished_at, entries_fetched, certs_checked,
		       observations, duration_seconds
		FROM scan_history
		WHERE status = 'completed'
		ORDER BY finished_at DESC
		LIMIT 1`)

	var (
		info       completedScanInfo
		finishedAt int64
	)
	err := row.Scan(&info.ID, &info.Log, &finishedAt, &info.EntriesFetched,
		&info.CertsChecked, &info.Observations, &info.DurationSeconds)
	if err != nil {
		if err != sql.ErrNoRows {
			slog.Error("status: query last scan", "error", err)
		}
		return nil
	}
	info.FinishedAt = time.Unix(finishedAt, 0).UTC()
	return &info
}
