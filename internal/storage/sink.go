// Package storage contains the destination contract shared by every sink
// backend, plus a small factory registry so callers can open a sink by kind
// without importing the backend packages directly.
//
// Backends register themselves at init time; import
// github.com/Actyx/events-to-db/internal/storage/all to pull in all of them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Actyx/events-to-db/internal/offsets"
	"github.com/Actyx/events-to-db/internal/rows"
)

// ErrUnknownKind is returned by New for a kind nobody registered.
var ErrUnknownKind = errors.New("unsupported storage kind")

// Sink is the destination of the pipeline.
//
// FetchOffsets reports, per source, the highest offset stored in the table.
// Insert writes a whole batch atomically; rows whose (source, psn) already
// exist are skipped without error. It returns the number of rows added.
type Sink interface {
	FetchOffsets(ctx context.Context) (offsets.Map, error)
	Insert(ctx context.Context, b rows.Batch) (int64, error)
	Close() error
}

// Config carries the destination coordinates. Backends use DSN when set and
// fall back to the discrete fields otherwise.
type Config struct {
	Kind     string
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Table    string

	// SkipEnsureTable disables CREATE TABLE IF NOT EXISTS on open.
	SkipEnsureTable bool
}

// Factory opens a sink for cfg.
type Factory func(ctx context.Context, cfg Config) (Sink, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register adds or replaces the factory for kind.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// New opens the sink registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Sink, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: storage.kind=%q (known: %v)", ErrUnknownKind, cfg.Kind, ListKinds())
	}
	return f(ctx, cfg)
}

// ListKinds returns the registered kinds in sorted order.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
