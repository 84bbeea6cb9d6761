package scan

import "sync/atomic"

// Progress holds live counters updated by the pipeline stages.
// All fields are atomic so they can be written from worker goroutines and
// read from the HTTP handler without locks.
type Progress struct {
	EntriesFetched  atomic.Int64
	CertsChecked    atomic.Int64
	ParseErrors     atomic.Int64
	Observations    atomic.Int64
	BatchesEnqueued atomic.Int64
}

// snapshot captures the current counter values, used to compute per-log
// deltas when one run covers several logs.
type snapshot struct {
	entriesFetched  int64
	certsChecked    int64
	parseErrors     int64
	observations    int64
	batchesEnqueued int64
}

// sub returns the counter deltas between two snapshots.
func (s snapshot) sub(base snapshot) snapshot {
	return snapshot{
		entriesFetched:  s.entriesFetched - base.entriesFetched,
		certsChecked:    s.certsChecked - base.certsChecked,
		parseErrors:     s.parseErrors - base.parseErrors,
		observations:    s.observations - base.observations,
		batchesEnqueued: s.batchesEnqueued - base.batchesEnqueued,
	}
}

func (p *Progress) snapshot() snapshot {
	return snapshot{
		entriesFetched:  p.EntriesFetched.Load(),
		certsChecked:    p.CertsChecked.Load(),
		parseErrors:     p.ParseErrors.Load(),
		observations:    p.Observations.Load(),
		batchesEnqueued: p.BatchesEnqueued.Load(),
	}
}
