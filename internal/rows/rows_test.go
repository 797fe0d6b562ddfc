package rows

import (
	"encoding/json"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Actyx/events-to-db/internal/event"
	"github.com/Actyx/events-to-db/internal/offsets"
)

func ev(src string, off int64, payload string) event.Event {
	return event.Event{
		SourceID:  src,
		Semantics: "orders",
		Name:      "line-1",
		Lamport:   uint64(100 + off),
		Offset:    offsetOf(off),
		Timestamp: 1_600_000_000_000_000 + off,
		Payload:   json.RawMessage(payload),
	}
}

func TestFromEvents_DropsMalformedPayload(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)

	in := []event.Event{
		ev("A", 0, `{"x":1}`),
		ev("A", 1, `[1,2,3]`),
		ev("A", 2, `{"broken":`),
		ev("B", 0, `"plain string"`),
		ev("B", 1, `null`),
	}
	b := FromEvents(in, zap.New(core))

	if b.Len() != 4 {
		t.Fatalf("Len() = %d; want 4", b.Len())
	}
	wantOff := []int64{0, 1, 0, 1}
	for i, o := range wantOff {
		if b.Offsets[i] != o {
			t.Fatalf("Offsets = %v; want %v", b.Offsets, wantOff)
		}
	}
	if logs.Len() != 1 {
		t.Fatalf("logged %d errors; want 1", logs.Len())
	}
	entry := logs.All()[0]
	if got := entry.ContextMap()["offset"]; got != int64(2) {
		t.Fatalf("logged offset = %v; want 2", got)
	}
}

func TestFromEvents_CarriesLamportAndColumnsAlign(t *testing.T) {
	in := []event.Event{ev("A", 6, `{}`), ev("A", 7, `{}`)}
	b := FromEvents(in, nil)

	if b.Lamports[0] != 106 || b.Lamports[1] != 107 {
		t.Fatalf("Lamports = %v; want [106 107]", b.Lamports)
	}
	for _, n := range []int{len(b.Semantics), len(b.Names), len(b.Lamports), len(b.Offsets), len(b.Timestamps), len(b.Payloads)} {
		if n != b.Len() {
			t.Fatalf("column length %d != %d", n, b.Len())
		}
	}
	row := b.Row(1)
	if len(row) != len(Columns) {
		t.Fatalf("Row has %d values; want %d", len(row), len(Columns))
	}
	if row[4] != int64(7) || row[6] != "{}" {
		t.Fatalf("Row(1) = %v", row)
	}
}

func TestBatchSummaries(t *testing.T) {
	b := FromEvents([]event.Event{
		ev("B", 3, `1`), ev("A", 9, `1`), ev("B", 5, `1`), ev("A", 2, `1`),
	}, nil)

	srcs := b.DistinctSources()
	if len(srcs) != 2 || srcs[0] != "A" || srcs[1] != "B" {
		t.Fatalf("DistinctSources() = %v", srcs)
	}
	if got := b.MaxOffsets().String(); got != "{A: 9, B: 5}" {
		t.Fatalf("MaxOffsets() = %s", got)
	}
}

func TestUnique(t *testing.T) {
	b := FromEvents([]event.Event{
		ev("A", 1, `1`), ev("A", 2, `2`), ev("A", 1, `3`), ev("B", 1, `4`),
	}, nil)
	u := b.Unique()
	if u.Len() != 3 {
		t.Fatalf("Unique().Len() = %d; want 3", u.Len())
	}
	if string(u.Payloads[0]) != "1" || u.Sources[2] != "B" {
		t.Fatalf("Unique kept wrong rows: %v %q", u.Sources, u.Payloads)
	}

	clean := FromEvents([]event.Event{ev("A", 1, `1`)}, nil)
	if clean.Unique().Len() != 1 {
		t.Fatalf("Unique changed a batch without duplicates")
	}
}

func TestFromEvents_Empty(t *testing.T) {
	if b := FromEvents(nil, nil); b.Len() != 0 {
		t.Fatalf("Len() = %d", b.Len())
	}
}

func offsetOf(n int64) offsets.Offset { return offsets.Zero + offsets.Offset(n) }

func TestFromEvents_DropsNULEscape(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	in := []event.Event{
		ev("A", 0, `{"s":"a\u0000b"}`),
		ev("A", 1, `{"s":"ok"}`),
	}
	b := FromEvents(in, zap.New(core))
	if b.Len() != 1 || b.Offsets[0] != 1 {
		t.Fatalf("batch = %+v; want only A@1", b.Offsets)
	}
	if logs.Len() != 1 {
		t.Fatalf("logged %d errors; want 1", logs.Len())
	}
}

func TestHasNULEscape(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{`{"s":"\u0000"}`, true},
		{`["x\u0000"]`, true},
		{`{"s":"\\u0000"}`, false},
		{`{"s":"\\\u0000"}`, true},
		{`{"s":"\u00001"}`, true},
		{`{"s":"\u0001"}`, false},
		{`{"u0000":1}`, false},
		{`{}`, false},
	}
	for _, tt := range tests {
		if got := hasNULEscape([]byte(tt.in)); got != tt.want {
			t.Errorf("hasNULEscape(%s) = %v; want %v", tt.in, got, tt.want)
		}
	}
}
