package scan

import (
	"context"
	"crypto/x509"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/atanasmihaylov/certificate-transparency/internal/checks"
	"github.com/atanasmihaylov/certificate-transparency/internal/ctlog"
	"github.com/atanasmihaylov/certificate-transparency/internal/metrics"
	"github.com/atanasmihaylov/certificate-transparency/internal/report"
)

// LogClient is the slice of the CT log API the pipeline needs.
type LogClient interface {
	Name() string
	GetSTH(ctx context.Context) (*ctlog.STH, error)
	GetEntries(ctx context.Context, start, end int64) ([]ctlog.Entry, error)
}

// scanner downloads the entry range [start, end) of one log with parallel
// fetch workers, runs the analysis checks over every certificate, and emits
// one batch per range, re-sequenced into log order. It implements
// report.Scanner.
type scanner struct {
	client    LogClient
	checks    []checks.Check
	workers   int
	rangeSize int
	start     int64 // inclusive
	end       int64 // exclusive
	progress  *Progress
}

type job struct {
	seq         int
	first, last int64 // inclusive bounds, as get-entries wants them
}

type rangeResult struct {
	seq   int
	batch report.Batch
}

// Scan fetches, checks, and emits all batches for the configured range.
// Workers may finish out of order; batches are still emitted in log order,
// which preserves the FIFO guarantee all the way to the store.
func (s *scanner) Scan(ctx context.Context, emit func(report.Batch) error) error {
	if s.start >= s.end {
		return nil
	}

	jobs := make(chan job)
	results := make(chan rangeResult, s.workers)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		seq := 0
		for first := s.start; first < s.end; first += int64(s.rangeSize) {
			last := first + int64(s.rangeSize) - 1
			if last >= s.end {
				last = s.end - 1
			}
			select {
			case jobs <- job{seq: seq, first: first, last: last}:
			case <-gctx.Done():
				return gctx.Err()
			}
			seq++
		}
		return nil
	})

	var workers sync.WaitGroup
	workers.Add(s.workers)
	for i := 0; i < s.workers; i++ {
		g.Go(func() error {
			defer workers.Done()
			for j := range jobs {
				batch, err := s.fetchRange(gctx, j.first, j.last)
				if err != nil {
					return err
				}
				select {
				case results <- rangeResult{seq: j.seq, batch: batch}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		workers.Wait()
		close(results)
	}()

	g.Go(func() error {
		next := 0
		pending := make(map[int]report.Batch)
		for r := range results {
			pending[r.seq] = r.batch
			for {
				batch, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				if err := emit(batch); err != nil {
					return err
				}
				s.progress.BatchesEnqueued.Add(1)
				next++
			}
		}
		return nil
	})

	return g.Wait()
}

// fetchRange downloads entries [first, last] and runs the checks over each.
// Logs may return fewer entries than asked for, so it re-requests until the
// range is complete.
func (s *scanner) fetchRange(ctx context.Context, first, last int64) (report.Batch, error) {
	batch := make(report.Batch, 0, last-first+1)
	now := time.Now()

	for next := first; next <= last; {
		entries, err := s.client.GetEntries(ctx, next, last)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			s.progress.EntriesFetched.Add(1)
			metrics.EntriesFetched.WithLabelValues(s.client.Name()).Inc()
			batch = append(batch, s.analyze(e, now))
		}
		next += int64(len(entries))
	}
	return batch, nil
}

// analyze turns one log entry into a batch entry, attaching check findings.
// An unparseable certificate is itself recorded as an observation; the raw
// descriptor is kept either way.
func (s *scanner) analyze(e ctlog.Entry, now time.Time) report.Entry {
	out := report.Entry{Index: e.Index, Descriptor: e.Cert, Kind: e.Type}

	cert, err := x509.ParseCertificate(e.Cert)
	if err != nil {
		s.progress.ParseErrors.Add(1)
		s.progress.Observations.Add(1)
		metrics.CheckObservations.WithLabelValues("unparseable").Inc()
		out.Observations = append(out.Observations, report.Observation{
			Check:  "unparseable",
			Detail: err.Error(),
		})
		return out
	}

	s.progress.CertsChecked.Add(1)
	for _, c := range s.checks {
		for _, detail := range c.Check(cert, now) {
			s.progress.Observations.Add(1)
			metrics.CheckObservations.WithLabelValues(c.Name()).Inc()
			out.Observations = append(out.Observations, report.Observation{
				Check:  c.Name(),
				Detail: detail,
			})
		}
	}
	return out
}
