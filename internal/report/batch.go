package report

// Entry is one certificate observed at a specific position in a CT log.
// Descriptor carries the DER-encoded certificate; this package never looks
// inside it.
type Entry struct {
	Index        int64
	Descriptor   []byte
	Kind         string // "x509" or "precert"
	Observations []Observation
}

// Observation is a single finding produced by an analysis check.
type Observation struct {
	Check  string
	Detail string
}

// Batch is the ordered group of entries produced by one scan callback.
// A batch is immutable after creation; ownership passes from the producer
// through the hand-off buffer to the store call.
type Batch []Entry
