package scan

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/atanasmihaylov/certificate-transparency/internal/ctlog"
	internaldb "github.com/atanasmihaylov/certificate-transparency/internal/db"
)

// mustOpenDB opens a temp file SQLite database with the full schema applied.
func mustOpenDB(tb testing.TB) *sql.DB {
	tb.Helper()
	dbPath := filepath.Join(tb.TempDir(), "test.db")
	db, err := internaldb.Open(dbPath)
	if err != nil {
		tb.Fatalf("open test DB: %v", err)
	}
	if err := internaldb.RunMigrations(db); err != nil {
		db.Close()
		tb.Fatalf("run migrations: %v", err)
	}
	tb.Cleanup(func() { db.Close() })
	return db
}

// fakeLog serves synthetic entries for indexes [0, treeSize). Descriptors
// are not valid DER, so every entry surfaces as an "unparseable"
// observation, which the pipeline must tolerate.
type fakeLog struct {
	name       string
	maxPerCall int           // cap entries per GetEntries call; 0 = no cap
	jitter     time.Duration // random per-call delay to shuffle worker completion order

	mu        sync.Mutex
	treeSize  int64
	requested []int64 // start index of every GetEntries call
}

func (f *fakeLog) Name() string { return f.name }

func (f *fakeLog) GetSTH(context.Context) (*ctlog.STH, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &ctlog.STH{TreeSize: uint64(f.treeSize), Timestamp: 1700000000000}, nil
}

func (f *fakeLog) GetEntries(_ context.Context, start, end int64) ([]ctlog.Entry, error) {
	if f.jitter > 0 {
		time.Sleep(time.Duration(rand.Int63n(int64(f.jitter))))
	}

	f.mu.Lock()
	f.requested = append(f.requested, start)
	treeSize := f.treeSize
	f.mu.Unlock()

	if start >= treeSize {
		return nil, fmt.Errorf("start %d beyond tree size %d", start, treeSize)
	}
	if end >= treeSize {
		end = treeSize - 1
	}
	if f.maxPerCall > 0 && end-start+1 > int64(f.maxPerCall) {
		end = start + int64(f.maxPerCall) - 1
	}

	entries := make([]ctlog.Entry, 0, end-start+1)
	for i := start; i <= end; i++ {
		entries = append(entries, ctlog.Entry{
			Index: i,
			Type:  ctlog.EntryTypeX509,
			Cert:  []byte(fmt.Sprintf("der-%06d", i)),
		})
	}
	return entries, nil
}

// setTreeSize grows the fake log, as if new entries were appended.
func (f *fakeLog) setTreeSize(n int64) {
	f.mu.Lock()
	f.treeSize = n
	f.mu.Unlock()
}

// firstRequested returns the start index of the first GetEntries call.
func (f *fakeLog) firstRequested(tb testing.TB) int64 {
	tb.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requested) == 0 {
		tb.Fatal("no GetEntries calls recorded")
	}
	min := f.requested[0]
	for _, s := range f.requested {
		if s < min {
			min = s
		}
	}
	return min
}

// waitIdle polls until the manager reports no active scan.
func waitIdle(tb testing.TB, m *Manager) {
	tb.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if m.ActiveScan() == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	tb.Fatal("scan did not complete within deadline")
}
