// Package certdb implements the persistent certificate store on SQLite.
// It satisfies the report.Store contract: one transaction per batch, so a
// batch is either fully durable or not stored at all.
package certdb

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/atanasmihaylov/certificate-transparency/internal/metrics"
	"github.com/atanasmihaylov/certificate-transparency/internal/report"
)

// Store persists scanned certificates and check observations.
type Store struct {
	db *sql.DB
}

// New creates a Store on an open database with migrations applied.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// StoreBatch writes one batch of certificates for logKey inside a single
// transaction, reusing prepared statements across all rows. Re-observed
// (log, index) pairs are ignored rather than duplicated, which makes
// overlapping scans idempotent.
func (s *Store) StoreBatch(ctx context.Context, batch report.Batch, logKey string) error {
	start := time.Now()
	now := start.Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmtCert, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO certificates
			(log_name, log_index, entry_type, descriptor, sha256,
			 not_before, not_after, subject, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert_cert: %w", err)
	}
	defer stmtCert.Close()

	stmtObs, err := tx.PrepareContext(ctx, `
		INSERT INTO observations (log_name, log_index, check_name, detail, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert_observation: %w", err)
	}
	defer stmtObs.Close()

	for _, e := range batch {
		sum := sha256.Sum256(e.Descriptor)
		notBefore, notAfter, subject := certColumns(e.Descriptor)

		if _, err := stmtCert.ExecContext(ctx,
			logKey, e.Index, e.Kind, e.Descriptor, hex.EncodeToString(sum[:]),
			notBefore, notAfter, subject, now,
		); err != nil {
			return fmt.Errorf("insert cert %s[%d]: %w", logKey, e.Index, err)
		}

		for _, o := range e.Observations {
			if _, err := stmtObs.ExecContext(ctx,
				logKey, e.Index, o.Check, o.Detail, now,
			); err != nil {
				return fmt.Errorf("insert observation %s[%d] %s: %w", logKey, e.Index, o.Check, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch %s: %w", logKey, err)
	}

	metrics.StoreBatchSeconds.Observe(time.Since(start).Seconds())
	metrics.CertsStored.WithLabelValues(logKey).Add(float64(len(batch)))
	return nil
}

// certColumns extracts the metadata columns from a DER certificate,
// best effort. Unparseable descriptors (e.g. some precert leaves) get NULLs;
// the raw bytes are stored regardless.
func certColumns(der []byte) (notBefore, notAfter any, subject any) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, nil
	}
	return cert.NotBefore.Unix(), cert.NotAfter.Unix(), cert.Subject.String()
}

// LatestIndex returns the highest stored log index for logKey. ok is false
// when no certificate from that log has been stored yet.
func (s *Store) LatestIndex(ctx context.Context, logKey string) (index int64, ok bool, err error) {
	var max sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		`SELECT MAX(log_index) FROM certificates WHERE log_name = ?`, logKey,
	).Scan(&max)
	if err != nil {
		return 0, false, fmt.Errorf("latest index for %q: %w", logKey, err)
	}
	return max.Int64, max.Valid, nil
}

// LogStats summarises what is stored for one log.
type LogStats struct {
	Log          string `json:"log"`
	Certificates int64  `json:"certificates"`
	LastIndex    int64  `json:"last_index"`
	Observations int64  `json:"observations"`
}

// Stats returns per-log storage summaries, ordered by log name.
func (s *Store) Stats(ctx context.Context) ([]LogStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.log_name, COUNT(*), MAX(c.log_index),
		       (SELECT COUNT(*) FROM observations o WHERE o.log_name = c.log_name)
		FROM certificates c
		GROUP BY c.log_name
		ORDER BY c.log_name`)
	if err != nil {
		return nil, fmt.Errorf("query log stats: %w", err)
	}
	defer rows.Close()

	var out []LogStats
	for rows.Next() {
		var st LogStats
		if err := rows.Scan(&st.Log, &st.Certificates, &st.LastIndex, &st.Observations); err != nil {
			return nil, fmt.Errorf("scan log stats: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Certificate is one stored certificate row, without the raw descriptor.
type Certificate struct {
	Log       string `json:"log"`
	Index     int64  `json:"index"`
	EntryType string `json:"entry_type"`
	SHA256    string `json:"sha256"`
	NotBefore *int64 `json:"not_before"`
	NotAfter  *int64 `json:"not_after"`
	Subject   string `json:"subject"`
	StoredAt  int64  `json:"stored_at"`
}

// Recent returns stored certificates newest-index first, optionally filtered
// by log, along with the total row count for the filter.
func (s *Store) Recent(ctx context.Context, logKey string, limit, offset int) ([]Certificate, int, error) {
	where := ""
	args := []any{}
	if logKey != "" {
		where = "WHERE log_name = ?"
		args = append(args, logKey)
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM certificates "+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count certificates: %w", err)
	}

	query := `
		SELECT log_name, log_index, entry_type, sha256,
		       not_before, not_after, COALESCE(subject, ''), stored_at
		FROM certificates ` + where + `
		ORDER BY log_name, log_index DESC
		LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("query certificates: %w", err)
	}
	defer rows.Close()

	var out []Certificate
	for rows.Next() {
		var (
			c                   Certificate
			notBefore, notAfter sql.NullInt64
		)
		if err := rows.Scan(&c.Log, &c.Index, &c.EntryType, &c.SHA256,
			&notBefore, &notAfter, &c.Subject, &c.StoredAt); err != nil {
			return nil, 0, fmt.Errorf("scan certificate: %w", err)
		}
		if notBefore.Valid {
			c.NotBefore = &notBefore.Int64
		}
		if notAfter.Valid {
			c.NotAfter = &notAfter.Int64
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// ObservationCounts returns the number of stored observations per check.
func (s *Store) ObservationCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT check_name, COUNT(*) FROM observations GROUP BY check_name`)
	if err != nil {
		return nil, fmt.Errorf("query observation counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var name string
		var n int64
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scan observation count: %w", err)
		}
		out[name] = n
	}
	return out, rows.Err()
}
