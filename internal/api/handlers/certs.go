package handlers

import (
	"log/slog"
	"net/http"

	"github.com/atanasmihaylov/certificate-transparency/internal/certdb"
	"github.com/atanasmihaylov/certificate-transparency/internal/config"
)

// CertsHandler serves stored-certificate queries.
type CertsHandler struct {
	Store *certdb.Store
}

// List handles GET /api/certs — stored certificates newest-index first,
// optionally filtered with ?log=name.
func (h *CertsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	logKey := r.URL.Query().Get("log")

	certs, total, err := h.Store.Recent(r.Context(), logKey, limit, offset)
	if err != nil {
		slog.Error("certs list: query", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if certs == nil {
		certs = []certdb.Certificate{}
	}

	writeJSON(w, http.StatusOK, ListResponse[certdb.Certificate]{
		Items:  certs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// LogsHandler serves per-log storage summaries.
type LogsHandler struct {
	Store *certdb.Store
	Logs  []config.LogConfig
}

type logInfo struct {
	Name         string `json:"name"`
	URL          string `json:"url"`
	Certificates int64  `json:"certificates"`
	LastIndex    *int64 `json:"last_index"`
	Observations int64  `json:"observations"`
}

// List handles GET /api/logs — every configured log with what is stored
// for it so far.
func (h *LogsHandler) List(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Store.Stats(r.Context())
	if err != nil {
		slog.Error("logs list: query", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	byName := make(map[string]certdb.LogStats, len(stats))
	for _, st := range stats {
		byName[st.Log] = st
	}

	items := make([]logInfo, 0, len(h.Logs))
	for _, l := range h.Logs {
		info := logInfo{Name: l.Name, URL: l.URL}
		if st, ok := byName[l.Name]; ok {
			info.Certificates = st.Certificates
			info.Observations = st.Observations
			last := st.LastIndex
			info.LastIndex = &last
		}
		items = append(items, info)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": items})
}
