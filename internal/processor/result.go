package processor

import (
	"bytes"
	"encoding/json"
)

// Entry is the outcome of one batch item. Value is what callers see: the
// recognized text, or the error description when Err is set.
type Entry struct {
	Value      string
	Kind       Kind
	Err        error
	Confidence float64
}

// Failed reports whether processing the item raised an error.
func (e Entry) Failed() bool {
	return e.Err != nil
}

// BatchResult maps input paths to entries, iterating in input order. Setting
// an existing path replaces its entry but keeps its original position.
type BatchResult struct {
	order   []string
	entries map[string]Entry
}

// NewBatchResult creates an empty result
func NewBatchResult() *BatchResult {
	return &BatchResult{entries: make(map[string]Entry)}
}

// Set records the entry for path.
func (r *BatchResult) Set(path string, e Entry) {
	if _, ok := r.entries[path]; !ok {
		r.order = append(r.order, path)
	}
	r.entries[path] = e
}

// Get returns the value recorded for path.
func (r *BatchResult) Get(path string) (string, bool) {
	e, ok := r.entries[path]
	return e.Value, ok
}

// Entry returns the full entry recorded for path.
func (r *BatchResult) Entry(path string) (Entry, bool) {
	e, ok := r.entries[path]
	return e, ok
}

// Keys returns the paths in input order, one per distinct path.
func (r *BatchResult) Keys() []string {
	return append([]string(nil), r.order...)
}

// Len returns the number of distinct paths.
func (r *BatchResult) Len() int {
	return len(r.order)
}

// FailedCount returns how many entries failed.
func (r *BatchResult) FailedCount() int {
	n := 0
	for _, e := range r.entries {
		if e.Failed() {
			n++
		}
	}
	return n
}

// Map flattens the result to path -> value.
func (r *BatchResult) Map() map[string]string {
	m := make(map[string]string, len(r.entries))
	for path, e := range r.entries {
		m[path] = e.Value
	}
	return m
}

// MarshalJSON encodes the flattened mapping with keys in input order.
func (r *BatchResult) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	// callers that want HTML escaping get it from their own encoder
	enc.SetEscapeHTML(false)

	buf.WriteByte('{')
	for i, path := range r.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := enc.Encode(path); err != nil {
			return nil, err
		}
		buf.Truncate(buf.Len() - 1)
		buf.WriteByte(':')
		if err := enc.Encode(r.entries[path].Value); err != nil {
			return nil, err
		}
		buf.Truncate(buf.Len() - 1)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
