package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/Actyx/events-to-db/internal/config"
	"github.com/Actyx/events-to-db/internal/event"
	"github.com/Actyx/events-to-db/internal/offsets"
	"github.com/Actyx/events-to-db/internal/source"
	srcmem "github.com/Actyx/events-to-db/internal/source/memory"
	"github.com/Actyx/events-to-db/internal/storage"
	sinkmem "github.com/Actyx/events-to-db/internal/storage/memory"
)

type harness struct {
	store     *srcmem.Store
	sink      *sinkmem.Sink
	sinkCalls int
	sinkErr   error
	env       map[string]string
}

// install swaps the package hooks for in-memory fakes.
func install(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: srcmem.New(), sink: sinkmem.New(), env: map[string]string{}}

	prevSink, prevSource, prevEnv, prevNotify := newSink, openSource, lookupEnv, notify
	t.Cleanup(func() {
		newSink, openSource, lookupEnv, notify = prevSink, prevSource, prevEnv, prevNotify
	})

	newSink = func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		h.sinkCalls++
		if h.sinkErr != nil {
			return nil, h.sinkErr
		}
		return h.sink, nil
	}
	openSource = func(ctx context.Context, cfg config.Source) (source.Source, func(), error) {
		return h.store, func() {}, nil
	}
	lookupEnv = func(k string) (string, bool) {
		v, ok := h.env[k]
		return v, ok
	}
	notify = func(ctx context.Context) (context.Context, context.CancelFunc) {
		return context.WithCancel(ctx)
	}
	return h
}

func (h *harness) fill(t *testing.T, src string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := h.store.Append(event.Event{
			SourceID:  src,
			Semantics: "machine",
			Name:      "m-1",
			Lamport:   uint64(i + 1),
			Offset:    offsets.Offset(i),
			Timestamp: 1_700_000_000_000_000,
			Payload:   json.RawMessage(`{"i":1}`),
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
}

func runArgs(args ...string) (int, string) {
	var stderr bytes.Buffer
	code := run(context.Background(), args, &stderr)
	return code, stderr.String()
}

var memoryArgs = []string{"--sink-kind", "memory", "--log-level", "error"}

func TestRunCopiesEvents(t *testing.T) {
	h := install(t)
	h.fill(t, "A", 5)
	h.fill(t, "B", 2)
	h.store.Seal()

	code, out := runArgs(append(memoryArgs, "-r", "3")...)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, out)
	}
	if got := len(h.sink.Rows()); got != 7 {
		t.Fatalf("rows = %d, want 7", got)
	}
}

func TestRunSubscriptionsFromEnv(t *testing.T) {
	h := install(t)
	h.fill(t, "A", 3)
	h.fill(t, "B", 4)
	h.store.Seal()
	h.env["SUBSCRIPTIONS"] = `[{"source":"B"}]`

	code, out := runArgs(memoryArgs...)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, out)
	}
	rows := h.sink.Rows()
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want 4", len(rows))
	}
	for _, r := range rows {
		if r.Source != "B" {
			t.Fatalf("unexpected source %q", r.Source)
		}
	}
}

func TestRunExitCodes(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		env       map[string]string
		sinkErr   error
		wantCode  int
		wantSink  bool
		wantInErr string
	}{
		{
			name:     "invalid batch size",
			args:     append(memoryArgs, "--max-batch-records", "0"),
			wantCode: 1,
		},
		{
			name:     "validate only",
			args:     append(memoryArgs, "--validate"),
			wantCode: 0,
		},
		{
			name:      "unparsable env",
			args:      memoryArgs,
			env:       map[string]string{"MAX_BATCH_RECORDS": "many"},
			wantCode:  1,
			wantInErr: "MAX_BATCH_RECORDS",
		},
		{
			name:      "unknown flag",
			args:      []string{"--no-such-flag"},
			wantCode:  1,
			wantInErr: "no-such-flag",
		},
		{
			name:     "sink unreachable",
			args:     memoryArgs,
			sinkErr:  errors.New("connection refused"),
			wantCode: 1,
			wantSink: true,
		},
		{
			name:      "bad log level",
			args:      []string{"--sink-kind", "memory", "--log-level", "chatty"},
			wantCode:  1,
			wantInErr: "chatty",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := install(t)
			h.sinkErr = tt.sinkErr
			for k, v := range tt.env {
				h.env[k] = v
			}
			code, out := runArgs(tt.args...)
			if code != tt.wantCode {
				t.Fatalf("exit %d, want %d: %s", code, tt.wantCode, out)
			}
			if (h.sinkCalls > 0) != tt.wantSink {
				t.Fatalf("sink opened %d times", h.sinkCalls)
			}
			if tt.wantInErr != "" && !strings.Contains(out, tt.wantInErr) {
				t.Fatalf("stderr %q does not mention %q", out, tt.wantInErr)
			}
		})
	}
}

func TestRunInsertFailureIsFatal(t *testing.T) {
	h := install(t)
	h.fill(t, "A", 2)
	h.store.Seal()
	h.sink.FailInsert = errors.New("disk full")

	if code, out := runArgs(memoryArgs...); code != 1 {
		t.Fatalf("exit %d, want 1: %s", code, out)
	}
}

func TestRunCanceledContextExitsCleanly(t *testing.T) {
	h := install(t)
	h.fill(t, "A", 2)
	// not sealed: only cancellation ends the run
	ctx, cancel := context.WithCancel(context.Background())
	notify = func(context.Context) (context.Context, context.CancelFunc) { return ctx, cancel }
	cancel()

	var stderr bytes.Buffer
	if code := run(context.Background(), memoryArgs, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
}
