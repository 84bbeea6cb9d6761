// Package ctlog implements the read side of the RFC 6962 Certificate
// Transparency log API: signed tree heads and entry ranges.
package ctlog

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Entry types from the RFC 6962 MerkleTreeLeaf TimestampedEntry.
const (
	EntryTypeX509    = "x509"
	EntryTypePrecert = "precert"
)

// STH is a log's signed tree head as returned by get-sth.
type STH struct {
	TreeSize  uint64 `json:"tree_size"`
	Timestamp uint64 `json:"timestamp"`
	RootHash  []byte `json:"sha256_root_hash"`
	Signature []byte `json:"tree_head_signature"`
}

// Entry is one decoded log entry. Cert holds the DER bytes of the logged
// (pre-)certificate; LeafInput keeps the raw leaf for callers that need it.
type Entry struct {
	Index     int64
	Type      string
	Timestamp uint64
	Cert      []byte
	LeafInput []byte
}

// Client talks to a single CT log over HTTP. It is safe for concurrent use.
type Client struct {
	name    string
	baseURL string
	hc      *http.Client
}

// New creates a Client for the log at baseURL. name is only used in error
// messages and logging.
func New(name, baseURL string, timeout time.Duration) *Client {
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: timeout},
	}
}

// Name returns the log name the client was created with.
func (c *Client) Name() string { return c.name }

// GetSTH fetches the log's current signed tree head.
func (c *Client) GetSTH(ctx context.Context) (*STH, error) {
	var sth STH
	if err := c.getJSON(ctx, "/ct/v1/get-sth", &sth); err != nil {
		return nil, err
	}
	return &sth, nil
}

// rawEntries mirrors the get-entries response body. The base64 fields decode
// directly into []byte.
type rawEntries struct {
	Entries []struct {
		LeafInput []byte `json:"leaf_input"`
		ExtraData []byte `json:"extra_data"`
	} `json:"entries"`
}

// GetEntries fetches and decodes entries [start, end] (inclusive, per the
// RFC). Logs are allowed to return fewer entries than requested; the caller
// is responsible for re-requesting the remainder.
func (c *Client) GetEntries(ctx context.Context, start, end int64) ([]Entry, error) {
	if end < start {
		return nil, fmt.Errorf("log %s: invalid range [%d, %d]", c.name, start, end)
	}

	var raw rawEntries
	path := fmt.Sprintf("/ct/v1/get-entries?start=%d&end=%d", start, end)
	if err := c.getJSON(ctx, path, &raw); err != nil {
		return nil, err
	}
	if len(raw.Entries) == 0 {
		return nil, fmt.Errorf("log %s: empty get-entries response for [%d, %d]", c.name, start, end)
	}
	// A misbehaving log returning more entries than asked for would get
	// them indexed past end, overlapping the next range. Clamp to the
	// requested count.
	if want := end - start + 1; int64(len(raw.Entries)) > want {
		raw.Entries = raw.Entries[:want]
	}

	entries := make([]Entry, 0, len(raw.Entries))
	for i, re := range raw.Entries {
		index := start + int64(i)
		e, err := decodeLeaf(index, re.LeafInput, re.ExtraData)
		if err != nil {
			return nil, fmt.Errorf("log %s: entry %d: %w", c.name, index, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("log %s: build request: %w", c.name, err)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("log %s: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("log %s: %s returned %d: %s", c.name, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("log %s: decode %s response: %w", c.name, path, err)
	}
	return nil
}

// decodeLeaf parses a MerkleTreeLeaf far enough to classify the entry and
// extract the DER certificate. For precert entries the leaf only carries the
// TBS portion, so the full pre-certificate is taken from the extra_data
// PrecertChainEntry instead.
func decodeLeaf(index int64, leaf, extra []byte) (Entry, error) {
	// Version(1) + LeafType(1) + Timestamp(8) + EntryType(2).
	if len(leaf) < 12 {
		return Entry{}, fmt.Errorf("leaf too short: %d bytes", len(leaf))
	}
	if leaf[0] != 0 || leaf[1] != 0 {
		return Entry{}, fmt.Errorf("unsupported leaf version=%d type=%d", leaf[0], leaf[1])
	}
	timestamp := binary.BigEndian.Uint64(leaf[2:10])
	entryType := binary.BigEndian.Uint16(leaf[10:12])

	e := Entry{Index: index, Timestamp: timestamp, LeafInput: leaf}

	switch entryType {
	case 0: // x509_entry: opaque ASN.1Cert<1..2^24-1>
		der, err := readUint24Prefixed(leaf[12:])
		if err != nil {
			return Entry{}, fmt.Errorf("x509 entry: %w", err)
		}
		e.Type = EntryTypeX509
		e.Cert = der
	case 1: // precert_entry: issuer_key_hash(32) + TBS; full precert is in extra_data
		der, err := readUint24Prefixed(extra)
		if err != nil {
			return Entry{}, fmt.Errorf("precert chain entry: %w", err)
		}
		e.Type = EntryTypePrecert
		e.Cert = der
	default:
		return Entry{}, fmt.Errorf("unknown entry type %d", entryType)
	}
	return e, nil
}

// readUint24Prefixed reads one 3-byte-length-prefixed blob from b.
func readUint24Prefixed(b []byte) ([]byte, error) {
	if len(b) < 3 {
		return nil, fmt.Errorf("truncated length prefix: %d bytes", len(b))
	}
	n := int(b[0])<<16 | int(b[1])<<8 | int(b[2])
	if len(b) < 3+n {
		return nil, fmt.Errorf("truncated body: want %d bytes, have %d", n, len(b)-3)
	}
	return b[3 : 3+n], nil
}
