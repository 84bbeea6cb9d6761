package ctlog

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// buildLeaf assembles a MerkleTreeLeaf for an x509 entry carrying der.
func buildLeaf(timestamp uint64, der []byte) []byte {
	leaf := make([]byte, 12, 15+len(der))
	binary.BigEndian.PutUint64(leaf[2:10], timestamp)
	// entry_type 0 (x509) already zero.
	leaf = append(leaf, byte(len(der)>>16), byte(len(der)>>8), byte(len(der)))
	return append(leaf, der...)
}

// buildPrecertLeaf assembles a precert leaf plus its PrecertChainEntry
// extra_data carrying der as the pre-certificate.
func buildPrecertLeaf(timestamp uint64, der []byte) (leaf, extra []byte) {
	leaf = make([]byte, 12)
	binary.BigEndian.PutUint64(leaf[2:10], timestamp)
	binary.BigEndian.PutUint16(leaf[10:12], 1)
	leaf = append(leaf, make([]byte, 32)...) // issuer_key_hash
	// TBS omitted — the client must not need it.

	extra = []byte{byte(len(der) >> 16), byte(len(der) >> 8), byte(len(der))}
	extra = append(extra, der...)
	return leaf, extra
}

type jsonEntry struct {
	LeafInput string `json:"leaf_input"`
	ExtraData string `json:"extra_data"`
}

func serveEntries(t *testing.T, entries []jsonEntry, treeSize uint64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ct/v1/get-sth", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"tree_size":           treeSize,
			"timestamp":           uint64(1700000000000),
			"sha256_root_hash":    base64.StdEncoding.EncodeToString(make([]byte, 32)),
			"tree_head_signature": base64.StdEncoding.EncodeToString([]byte{4, 3}),
		})
	})
	mux.HandleFunc("/ct/v1/get-entries", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"entries": entries})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func b64Leaf(leaf, extra []byte) jsonEntry {
	return jsonEntry{
		LeafInput: base64.StdEncoding.EncodeToString(leaf),
		ExtraData: base64.StdEncoding.EncodeToString(extra),
	}
}

func TestGetSTH(t *testing.T) {
	srv := serveEntries(t, nil, 12345)
	c := New("testlog", srv.URL, 5*time.Second)

	sth, err := c.GetSTH(context.Background())
	if err != nil {
		t.Fatalf("GetSTH: %v", err)
	}
	if sth.TreeSize != 12345 {
		t.Errorf("TreeSize: got %d, want 12345", sth.TreeSize)
	}
	if len(sth.RootHash) != 32 {
		t.Errorf("RootHash length: got %d, want 32", len(sth.RootHash))
	}
}

func TestGetEntriesDecodesX509AndPrecert(t *testing.T) {
	x509DER := []byte("fake-x509-der")
	precertDER := []byte("fake-precert-der")
	preLeaf, preExtra := buildPrecertLeaf(1700000000001, precertDER)

	srv := serveEntries(t, []jsonEntry{
		b64Leaf(buildLeaf(1700000000000, x509DER), nil),
		b64Leaf(preLeaf, preExtra),
	}, 2)
	c := New("testlog", srv.URL, 5*time.Second)

	entries, err := c.GetEntries(context.Background(), 10, 11)
	if err != nil {
		t.Fatalf("GetEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries: got %d, want 2", len(entries))
	}

	if entries[0].Index != 10 || entries[0].Type != EntryTypeX509 {
		t.Errorf("entry 0: got index=%d type=%s", entries[0].Index, entries[0].Type)
	}
	if string(entries[0].Cert) != string(x509DER) {
		t.Errorf("entry 0 cert: got %q", entries[0].Cert)
	}
	if entries[0].Timestamp != 1700000000000 {
		t.Errorf("entry 0 timestamp: got %d", entries[0].Timestamp)
	}

	if entries[1].Index != 11 || entries[1].Type != EntryTypePrecert {
		t.Errorf("entry 1: got index=%d type=%s", entries[1].Index, entries[1].Type)
	}
	if string(entries[1].Cert) != string(precertDER) {
		t.Errorf("entry 1 cert: got %q", entries[1].Cert)
	}
}

// TestGetEntriesTruncatedResponse verifies a short (but non-empty) response
// is returned as-is for the caller to continue from.
func TestGetEntriesTruncatedResponse(t *testing.T) {
	srv := serveEntries(t, []jsonEntry{
		b64Leaf(buildLeaf(1, []byte("only-one")), nil),
	}, 100)
	c := New("testlog", srv.URL, 5*time.Second)

	entries, err := c.GetEntries(context.Background(), 0, 9)
	if err != nil {
		t.Fatalf("GetEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries: got %d, want 1", len(entries))
	}
	if entries[0].Index != 0 {
		t.Errorf("index: got %d, want 0", entries[0].Index)
	}
}

// TestGetEntriesClampsOversizedResponse verifies entries beyond the
// requested range are discarded rather than indexed past end.
func TestGetEntriesClampsOversizedResponse(t *testing.T) {
	srv := serveEntries(t, []jsonEntry{
		b64Leaf(buildLeaf(1, []byte("der-0")), nil),
		b64Leaf(buildLeaf(2, []byte("der-1")), nil),
		b64Leaf(buildLeaf(3, []byte("surplus")), nil),
	}, 100)
	c := New("testlog", srv.URL, 5*time.Second)

	entries, err := c.GetEntries(context.Background(), 5, 6)
	if err != nil {
		t.Fatalf("GetEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries: got %d, want 2", len(entries))
	}
	if entries[0].Index != 5 || entries[1].Index != 6 {
		t.Errorf("indexes: got %d, %d, want 5, 6", entries[0].Index, entries[1].Index)
	}
	if string(entries[1].Cert) != "der-1" {
		t.Errorf("entry 1 cert: got %q, want der-1", entries[1].Cert)
	}
}

func TestGetEntriesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too far behind", http.StatusBadRequest)
	}))
	defer srv.Close()
	c := New("testlog", srv.URL, 5*time.Second)

	_, err := c.GetEntries(context.Background(), 0, 9)
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	for _, want := range []string{"testlog", "400", "too far behind"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err, want)
		}
	}
}

func TestDecodeLeafRejectsGarbage(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte{0, 0},
		append([]byte{1, 0}, make([]byte, 20)...), // bad version
	}
	for i, leaf := range cases {
		if _, err := decodeLeaf(0, leaf, nil); err == nil {
			t.Errorf("case %d: expected decode error", i)
		}
	}
}
