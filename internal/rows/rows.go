// Package rows converts event batches into the columnar form written by sinks.
package rows

import (
	"encoding/json"
	"sort"

	"go.uber.org/zap"

	"github.com/Actyx/events-to-db/internal/event"
	"github.com/Actyx/events-to-db/internal/offsets"
)

// Columns is the destination column order shared by every sink.
var Columns = []string{"source", "semantics", "name", "seq", "psn", "timestamp", "payload"}

// Batch holds N rows as one slice per column. All slices have equal length.
type Batch struct {
	Sources    []string
	Semantics  []string
	Names      []string
	Lamports   []int64
	Offsets    []int64
	Timestamps []int64
	Payloads   [][]byte
}

// Len is the number of rows in the batch.
func (b Batch) Len() int { return len(b.Sources) }

// Row returns the values of row i in Columns order.
func (b Batch) Row(i int) []any {
	return []any{
		b.Sources[i],
		b.Semantics[i],
		b.Names[i],
		b.Lamports[i],
		b.Offsets[i],
		b.Timestamps[i],
		string(b.Payloads[i]),
	}
}

// DistinctSources lists the sources present in the batch, sorted.
func (b Batch) DistinctSources() []string {
	seen := make(map[string]struct{}, 4)
	out := make([]string, 0, 4)
	for _, s := range b.Sources {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// MaxOffsets reports the highest offset per source contained in the batch.
func (b Batch) MaxOffsets() offsets.Map {
	m := make(map[string]offsets.Offset, 4)
	for i, s := range b.Sources {
		o := offsets.Offset(b.Offsets[i]) + offsets.Zero
		if cur, ok := m[s]; !ok || o > cur {
			m[s] = o
		}
	}
	return offsets.New(m)
}

// Unique returns b without rows whose (source, offset) already appeared
// earlier in the batch. b is returned as is when it has no duplicates.
func (b Batch) Unique() Batch {
	type key struct {
		src string
		off int64
	}
	seen := make(map[key]struct{}, b.Len())
	dup := false
	for i := range b.Sources {
		k := key{b.Sources[i], b.Offsets[i]}
		if _, ok := seen[k]; ok {
			dup = true
			break
		}
		seen[k] = struct{}{}
	}
	if !dup {
		return b
	}

	clear(seen)
	var out Batch
	for i := range b.Sources {
		k := key{b.Sources[i], b.Offsets[i]}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out.Sources = append(out.Sources, b.Sources[i])
		out.Semantics = append(out.Semantics, b.Semantics[i])
		out.Names = append(out.Names, b.Names[i])
		out.Lamports = append(out.Lamports, b.Lamports[i])
		out.Offsets = append(out.Offsets, b.Offsets[i])
		out.Timestamps = append(out.Timestamps, b.Timestamps[i])
		out.Payloads = append(out.Payloads, b.Payloads[i])
	}
	return out
}

// FromEvents builds a Batch in event order. Events whose payload is not valid
// JSON, or that no sink can store, are logged and left out; the rest of the
// batch is unaffected.
func FromEvents(events []event.Event, log *zap.Logger) Batch {
	if log == nil {
		log = zap.NewNop()
	}
	n := len(events)
	b := Batch{
		Sources:    make([]string, 0, n),
		Semantics:  make([]string, 0, n),
		Names:      make([]string, 0, n),
		Lamports:   make([]int64, 0, n),
		Offsets:    make([]int64, 0, n),
		Timestamps: make([]int64, 0, n),
		Payloads:   make([][]byte, 0, n),
	}
	for _, e := range events {
		if reason := rejectPayload(e.Payload); reason != "" {
			log.Error("dropping event with "+reason+" payload",
				zap.String("source", e.SourceID),
				zap.Int64("offset", int64(e.Offset)),
				zap.String("semantics", e.Semantics),
				zap.String("name", e.Name),
				zap.Int("payload_bytes", len(e.Payload)),
			)
			continue
		}
		b.Sources = append(b.Sources, e.SourceID)
		b.Semantics = append(b.Semantics, e.Semantics)
		b.Names = append(b.Names, e.Name)
		b.Lamports = append(b.Lamports, int64(e.Lamport))
		b.Offsets = append(b.Offsets, int64(e.Offset-offsets.Zero))
		b.Timestamps = append(b.Timestamps, e.Timestamp)
		b.Payloads = append(b.Payloads, e.Payload)
	}
	return b
}

// rejectPayload returns why p cannot be stored, or "" if it can.
func rejectPayload(p []byte) string {
	if !json.Valid(p) {
		return "unparseable"
	}
	if hasNULEscape(p) {
		// jsonb refuses \u0000 and the text columns of the other sinks
		// would truncate at it.
		return "NUL-carrying"
	}
	return ""
}

// hasNULEscape reports whether valid JSON p contains the \u0000 escape.
// Escaped backslashes are skipped, so "\\u0000" does not count.
func hasNULEscape(p []byte) bool {
	for i := 0; i < len(p); i++ {
		if p[i] != '\\' {
			continue
		}
		if i+5 < len(p) && p[i+1] == 'u' && string(p[i+2:i+6]) == "0000" {
			return true
		}
		i++ // skip the escaped character
	}
	return false
}
