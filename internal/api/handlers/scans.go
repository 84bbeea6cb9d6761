package handlers

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atanasmihaylov/certificate-transparency/internal/scan"
)

// ScansHandler handles scan-related API endpoints.
type ScansHandler struct {
	DB      *sql.DB
	Manager *scan.Manager
}

// scanRow is the JSON shape of one scan_history row.
type scanRow struct {
	ID              int64  `json:"id"`
	Log             string `json:"log"`
	StartedAt       string `json:"started_at"`
	FinishedAt      string `json:"finished_at,omitempty"`
	Status          string `json:"status"`
	TriggeredBy     string `json:"triggered_by"`
	StartIndex      int64  `json:"start_index"`
	EndIndex        int64  `json:"end_index"`
	EntriesFetched  int64  `json:"entries_fetched"`
	CertsChecked    int64  `json:"certs_checked"`
	BatchesEnqueued int64  `json:"batches_enqueued"`
	Observations    int64  `json:"observations"`
	DurationSeconds int64  `json:"duration_seconds"`
}

// Create handles POST /api/scans — triggers a manual scan.
func (h *ScansHandler) Create(w http.ResponseWriter, r *http.Request) {
	active, err := h.Manager.Start(context.Background(), "manual")
	if err != nil {
		switch {
		case errors.Is(err, scan.ErrAlreadyRunning):
			writeError(w, http.StatusConflict, "SCAN_ALREADY_RUNNING", "A scan is already in progress")
		case errors.Is(err, scan.ErrNoLogs):
			writeError(w, http.StatusUnprocessableEntity, "NO_LOGS_CONFIGURED", "No CT logs are configured")
		default:
			slog.Error("scans: start", "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start scan")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":           active.ID,
		"status":       "running",
		"log":          active.Log,
		"started_at":   active.StartedAt.UTC().Format(time.RFC3339),
		"triggered_by": active.TriggeredBy,
	})
}

// Cancel handles DELETE /api/scans/current.
func (h *ScansHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Manager.Cancel()
	if err != nil {
		if errors.Is(err, scan.ErrNoActiveScan) {
			writeError(w, http.StatusNotFound, "NO_ACTIVE_SCAN", "No scan is currently running")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":          snap.ID,
		"status":      "cancelled",
		"started_at":  snap.StartedAt.UTC().Format(time.RFC3339),
		"finished_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// List handles GET /api/scans — returns scan history newest first.
func (h *ScansHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	var total int
	if err := h.DB.QueryRowContext(r.Context(), `SELECT COUNT(*) FROM scan_history`).Scan(&total); err != nil {
		slog.Error("scans list: count", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	rows, err := h.DB.QueryContext(r.Context(), `
		SELECT id, log_name, started_at, finished_at, status, triggered_by,
		       start_index, end_index, entries_fetched, certs_checked,
		       batches_enqueued, observations, duration_seconds
		FROM scan_history
		ORDER BY started_at DESC, id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		slog.Error("scans list: query", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	defer rows.Close()

	items := []scanRow{}
	for rows.Next() {
		item, err := scanRowFrom(rows)
		if err != nil {
			slog.Error("scans list: scan row", "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
			return
		}
		items = append(items, item)
	}

	writeJSON(w, http.StatusOK, ListResponse[scanRow]{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// Get handles GET /api/scans/{id}.
func (h *ScansHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Scan id must be an integer")
		return
	}

	rows, err := h.DB.QueryContext(r.Context(), `
		SELECT id, log_name, started_at, finished_at, status, triggered_by,
		       start_index, end_index, entries_fetched, certs_checked,
		       batches_enqueued, observations, duration_seconds
		FROM scan_history
		WHERE id = ?`, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	defer rows.Close()

	if !rows.Next() {
		writeError(w, http.StatusNotFound, "SCAN_NOT_FOUND", "No scan with that id")
		return
	}
	item, err := scanRowFrom(rows)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// scanRowFrom scans the current row of a scan_history query.
func scanRowFrom(rows *sql.Rows) (scanRow, error) {
	var (
		item       scanRow
		startedAt  int64
		finishedAt sql.NullInt64
	)
	err := rows.Scan(&item.ID, &item.Log, &startedAt, &finishedAt, &item.Status,
		&item.TriggeredBy, &item.StartIndex, &item.EndIndex,
		&item.EntriesFetched, &item.CertsChecked, &item.BatchesEnqueued,
		&item.Observations, &item.DurationSeconds)
	if err != nil {
		return scanRow{}, err
	}
	item.StartedAt = time.Unix(startedAt, 0).UTC().Format(time.RFC3339)
	if finishedAt.Valid {
		item.FinishedAt = time.Unix(finishedAt.Int64, 0).UTC().Format(time.RFC3339)
	}
	return item, nil
}
