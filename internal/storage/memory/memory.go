// Package memory is an in-process sink used by tests and dry runs. It keeps
// the same (source, psn) keyed, insert-or-ignore semantics as the SQL sinks.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Actyx/events-to-db/internal/offsets"
	"github.com/Actyx/events-to-db/internal/rows"
	"github.com/Actyx/events-to-db/internal/storage"
)

type key struct {
	source string
	psn    int64
}

// Row is one stored row.
type Row struct {
	Source    string
	Semantics string
	Name      string
	Seq       int64
	Psn       int64
	Timestamp int64
	Payload   string
}

// Sink stores rows in a map. It is safe for concurrent use.
type Sink struct {
	mu     sync.Mutex
	rows   map[key]Row
	closed bool

	// FailInsert, when set, is returned by the next Insert calls instead of
	// writing anything.
	FailInsert error
}

var _ storage.Sink = (*Sink)(nil)

// New returns an empty sink.
func New() *Sink {
	return &Sink{rows: make(map[key]Row)}
}

func init() {
	storage.Register("memory", func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		return New(), nil
	})
}

// FetchOffsets returns the max psn per source.
func (s *Sink) FetchOffsets(ctx context.Context) (offsets.Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return offsets.Map{}, fmt.Errorf("memory: sink closed")
	}
	m := make(map[string]offsets.Offset)
	for k := range s.rows {
		o := offsets.Zero + offsets.Offset(k.psn)
		if cur, ok := m[k.source]; !ok || o > cur {
			m[k.source] = o
		}
	}
	return offsets.New(m), nil
}

// Insert adds the rows of b that are not stored yet. The batch is applied
// entirely or not at all.
func (s *Sink) Insert(ctx context.Context, b rows.Batch) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("memory: sink closed")
	}
	if s.FailInsert != nil {
		return 0, s.FailInsert
	}
	var n int64
	for i := 0; i < b.Len(); i++ {
		k := key{source: b.Sources[i], psn: b.Offsets[i]}
		if _, ok := s.rows[k]; ok {
			continue
		}
		s.rows[k] = Row{
			Source:    b.Sources[i],
			Semantics: b.Semantics[i],
			Name:      b.Names[i],
			Seq:       b.Lamports[i],
			Psn:       b.Offsets[i],
			Timestamp: b.Timestamps[i],
			Payload:   string(b.Payloads[i]),
		}
		n++
	}
	return n, nil
}

// Rows returns a snapshot ordered by (source, psn).
func (s *Sink) Rows() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Row, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Psn < out[j].Psn
	})
	return out
}

func (s *Sink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
