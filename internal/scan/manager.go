package scan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atanasmihaylov/certificate-transparency/internal/checks"
	"github.com/atanasmihaylov/certificate-transparency/internal/report"
)

// ErrAlreadyRunning is returned when a scan is started while one is in progress.
var ErrAlreadyRunning = errors.New("a scan is already in progress")

// ErrNoActiveScan is returned when cancel is called with no scan running.
var ErrNoActiveScan = errors.New("no scan is currently running")

// ErrNoLogs is returned when no CT logs are configured.
var ErrNoLogs = errors.New("no logs configured")

// Config holds pipeline tuning parameters.
type Config struct {
	Workers   int
	RangeSize int
	QueueSize int
}

// CertStore is what the scan side needs from the persistent store: the
// write contract consumed by the background writer, plus the resume lookup.
type CertStore interface {
	report.Store
	LatestIndex(ctx context.Context, logKey string) (index int64, ok bool, err error)
}

// ActiveScan holds live information about the running scan.
type ActiveScan struct {
	ID          int64
	StartedAt   time.Time
	TriggeredBy string
	Log         string
	Progress    *Progress
}

// Manager enforces a single-active-scan invariant and exposes start/cancel.
// It is safe for concurrent use. Each configured log gets its own reusable
// report coordinator, so consecutive runs reuse the same instances.
type Manager struct {
	mu       sync.Mutex
	db       *sql.DB
	store    CertStore
	clients  []LogClient
	checks   []checks.Check
	cfg      Config
	reports  map[string]*report.Report
	active   *ActiveScan
	cancelFn context.CancelFunc
}

// NewManager creates a Manager scanning the given logs.
func NewManager(db *sql.DB, store CertStore, clients []LogClient, chks []checks.Check, cfg Config) *Manager {
	reports := make(map[string]*report.Report, len(clients))
	for _, c := range clients {
		reports[c.Name()] = report.New(store, c.Name(), cfg.QueueSize)
	}
	return &Manager{
		db:      db,
		store:   store,
		clients: clients,
		checks:  chks,
		cfg:     cfg,
		reports: reports,
	}
}

// Start launches an asynchronous scan over all configured logs. Returns an
// ActiveScan snapshot or ErrAlreadyRunning if a scan is already in progress.
func (m *Manager) Start(parentCtx context.Context, triggeredBy string) (*ActiveScan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, ErrAlreadyRunning
	}
	if len(m.clients) == 0 {
		return nil, ErrNoLogs
	}

	// Create the first log's scan_history record NOW so the ID is available
	// immediately in the HTTP response, before the goroutine begins.
	startedAt := time.Now()
	firstLog := m.clients[0].Name()
	scanID, err := insertScanRecord(m.db, firstLog, startedAt, triggeredBy)
	if err != nil {
		return nil, fmt.Errorf("create scan record: %w", err)
	}

	progress := &Progress{}
	scanCtx, cancel := context.WithCancel(parentCtx)

	active := &ActiveScan{
		ID:          scanID,
		StartedAt:   startedAt,
		TriggeredBy: triggeredBy,
		Log:         firstLog,
		Progress:    progress,
	}
	m.active = active
	m.cancelFn = cancel

	go func() {
		if err := m.run(scanCtx, scanID, triggeredBy, progress); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("scan run error", "error", err)
		}
		cancel()

		m.mu.Lock()
		m.active = nil
		m.cancelFn = nil
		m.mu.Unlock()
	}()

	return active, nil
}

// Cancel stops the currently running scan. Returns ErrNoActiveScan if idle.
func (m *Manager) Cancel() (*ActiveScan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return nil, ErrNoActiveScan
	}

	snap := *m.active
	m.cancelFn()
	return &snap, nil
}

// ActiveScan returns a snapshot of the running scan, or nil when idle.
func (m *Manager) ActiveScan() *ActiveScan {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	snap := *m.active
	return &snap
}

// run scans every configured log in turn. firstRowID is the pre-created
// scan_history row for the first log; later logs get their rows here.
// The first failure is remembered but does not stop the remaining logs.
func (m *Manager) run(ctx context.Context, firstRowID int64, triggeredBy string, progress *Progress) error {
	var firstErr error
	for i, client := range m.clients {
		if ctx.Err() != nil {
			if firstErr == nil {
				firstErr = ctx.Err()
			}
			break
		}

		rowID := firstRowID
		if i > 0 {
			var err error
			rowID, err = insertScanRecord(m.db, client.Name(), time.Now(), triggeredBy)
			if err != nil {
				return fmt.Errorf("create scan record for %s: %w", client.Name(), err)
			}
		}

		m.mu.Lock()
		if m.active != nil {
			m.active.Log = client.Name()
			m.active.ID = rowID
		}
		m.mu.Unlock()

		if err := m.scanLog(ctx, rowID, client, progress); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if !errors.Is(err, context.Canceled) {
				slog.Error("log scan failed", "log", client.Name(), "error", err)
			}
		}
	}
	return firstErr
}

// scanLog runs one reporting cycle for one log: resume point from the store,
// tree size from the log, then the fetch/check/write pipeline.
func (m *Manager) scanLog(ctx context.Context, rowID int64, client LogClient, progress *Progress) error {
	startedAt := time.Now()
	before := progress.snapshot()

	finalise := func(status string, runErr error) error {
		delta := progress.snapshot().sub(before)
		duration := int64(time.Since(startedAt).Seconds())
		if err := finaliseScanRecord(m.db, rowID, status, time.Now().Unix(), duration, delta); err != nil {
			slog.Error("finalise scan record", "id", rowID, "error", err)
		}
		return runErr
	}

	var start int64
	latest, ok, err := m.store.LatestIndex(ctx, client.Name())
	if err != nil {
		return finalise("failed", err)
	}
	if ok {
		start = latest + 1
	}

	sth, err := client.GetSTH(ctx)
	if err != nil {
		return finalise("failed", fmt.Errorf("get sth: %w", err))
	}
	end := int64(sth.TreeSize)

	if err := updateScanRange(m.db, rowID, start, end); err != nil {
		slog.Warn("update scan range", "id", rowID, "error", err)
	}

	slog.Info("scan started", "id", rowID, "log", client.Name(),
		"start_index", start, "end_index", end)

	if start >= end {
		slog.Info("scan finished", "id", rowID, "log", client.Name(), "status", "completed", "entries", 0)
		return finalise("completed", nil)
	}

	sc := &scanner{
		client:    client,
		checks:    m.checks,
		workers:   m.cfg.Workers,
		rangeSize: m.cfg.RangeSize,
		start:     start,
		end:       end,
		progress:  progress,
	}
	runErr := m.reports[client.Name()].Run(ctx, sc)

	status := "completed"
	if ctx.Err() != nil {
		status = "cancelled"
		if runErr == nil {
			runErr = ctx.Err()
		}
	} else if runErr != nil {
		status = "failed"
	}

	slog.Info("scan finished", "id", rowID, "log", client.Name(), "status", status,
		"entries_fetched", progress.EntriesFetched.Load())

	return finalise(status, runErr)
}

// MarkStaleScansFailed marks any scan_history rows still in 'running' state
// as 'failed'. This should be called once at startup in case a previous
// server process crashed mid-scan.
func MarkStaleScansFailed(db *sql.DB) error {
	res, err := db.Exec(`
		UPDATE scan_history
		SET status = 'failed', finished_at = ?
		WHERE status = 'running'`,
		time.Now().Unix())
	if err != nil {
		return fmt.Errorf("mark stale scans failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Warn("marked stale scans as failed", "count", n)
	}
	return nil
}

// ── DB helpers ────────────────────────────────────────────────────────────────

func insertScanRecord(db *sql.DB, logName string, startedAt time.Time, triggeredBy string) (int64, error) {
	now := startedAt.Unix()
	res, err := db.Exec(`
		INSERT INTO scan_history
			(log_name, started_at, status, triggered_by, created_at)
		VALUES (?, ?, 'running', ?, ?)`,
		logName, now, triggeredBy, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func updateScanRange(db *sql.DB, scanID, start, end int64) error {
	_, err := db.Exec(`
		UPDATE scan_history SET start_index = ?, end_index = ? WHERE id = ?`,
		start, end, scanID)
	return err
}

func finaliseScanRecord(db *sql.DB, scanID int64, status string, finishedAt, durationSecs int64, delta snapshot) error {
	_, err := db.Exec(`
		UPDATE scan_history
		SET status           = ?,
		    finished_at      = ?,
		    duration_seconds = ?,
		    entries_fetched  = ?,
		    certs_checked    = ?,
		    batches_enqueued = ?,
		    observations     = ?
		WHERE id = ?`,
		status, finishedAt, durationSecs,
		delta.entriesFetched,
		delta.certsChecked,
		delta.batchesEnqueued,
		delta.observations,
		scanID)
	return err
}
