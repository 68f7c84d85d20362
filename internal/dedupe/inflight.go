// ABOUTME: Send-signature computation and in-flight coalescing table.
// ABOUTME: Guards against duplicate submission from double-click or re-render races.

package dedupe

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// imageTailLength is how many trailing characters of an image reference go
// into its fingerprint. Combined with the length this is enough to tell
// realistic images apart without hashing whole data URIs.
const imageTailLength = 16

// TextSignature computes the dedupe signature for a plain text send.
func TextSignature(sessionKey, text string) string {
	return "text|" + normalizeSession(sessionKey) + "|" + collapse(text)
}

// ImagesSignature computes the dedupe signature for a send with images.
// Each image contributes a compact length+tail fingerprint.
func ImagesSignature(sessionKey, text string, images []string) string {
	prints := make([]string, len(images))
	for i, img := range images {
		prints[i] = fingerprint(img)
	}
	return "images|" + normalizeSession(sessionKey) + "|" + collapse(text) + "|" + strings.Join(prints, ",")
}

// fingerprint summarizes one image reference as length plus its tail.
func fingerprint(img string) string {
	tail := img
	if len(tail) > imageTailLength {
		tail = tail[len(tail)-imageTailLength:]
	}
	return fmt.Sprintf("%d:%s", len(img), tail)
}

// normalizeSession lowercases and trims a session key, matching the
// case-insensitive session comparison used for event routing.
func normalizeSession(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// collapse trims and collapses runs of whitespace to single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// call is one in-flight send shared by every caller with its signature.
type call struct {
	done    chan struct{}
	payload json.RawMessage
	err     error
}

// Table tracks in-flight sends by signature. A second send with an
// identical signature joins the existing round trip instead of issuing a
// new request.
type Table struct {
	mu       sync.Mutex
	inflight map[string]*call
}

// NewTable creates an empty in-flight table.
func NewTable() *Table {
	return &Table{inflight: make(map[string]*call)}
}

// Do executes fn for the given signature unless an identical send is
// already in flight, in which case it waits for and returns that send's
// result. The in-flight record is cleared unconditionally when the
// underlying request settles, success or failure.
func (t *Table) Do(signature string, fn func() (json.RawMessage, error)) (json.RawMessage, error) {
	t.mu.Lock()
	if existing, ok := t.inflight[signature]; ok {
		t.mu.Unlock()
		<-existing.done
		return existing.payload, existing.err
	}

	c := &call{done: make(chan struct{})}
	t.inflight[signature] = c
	t.mu.Unlock()

	c.payload, c.err = fn()

	t.mu.Lock()
	delete(t.inflight, signature)
	t.mu.Unlock()
	close(c.done)

	return c.payload, c.err
}

// Pending reports whether a send with the given signature is in flight.
func (t *Table) Pending(signature string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.inflight[signature]
	return ok
}
