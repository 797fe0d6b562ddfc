// Package offsets models per-source stream positions.
//
// A Map is an immutable snapshot from source identity to the highest offset
// observed for that source. It serves two purposes: as the resume cursor for a
// subscription (taken from the sink), and as a comparison target for
// reporting how far the sink lags behind the event store.
package offsets

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Offset is the store-assigned position of an event within one source's
// stream. Offsets are zero-based and increase monotonically per source.
type Offset int64

// Zero is the offset of the first event of every source.
const Zero Offset = 0

// Map is an immutable offset snapshot. The zero value is an empty map.
type Map struct {
	m map[string]Offset
}

// Empty returns a map that accounts for no events.
func Empty() Map { return Map{} }

// New copies src into a new Map. Negative offsets are ignored.
func New(src map[string]Offset) Map {
	if len(src) == 0 {
		return Map{}
	}
	m := make(map[string]Offset, len(src))
	for k, v := range src {
		if v < Zero {
			continue
		}
		m[k] = v
	}
	return Map{m: m}
}

// Get returns the offset recorded for source and whether one exists.
func (m Map) Get(source string) (Offset, bool) {
	o, ok := m.m[source]
	return o, ok
}

// Len is the number of sources in the map.
func (m Map) Len() int { return len(m.m) }

// Sources returns the source identities in lexical order.
func (m Map) Sources() []string {
	out := make([]string, 0, len(m.m))
	for k := range m.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// With returns a copy of m in which source is at least o.
func (m Map) With(source string, o Offset) Map {
	return m.Merge(New(map[string]Offset{source: o}))
}

// Merge returns the union of m and other, keeping the max offset per source.
func (m Map) Merge(other Map) Map {
	out := make(map[string]Offset, len(m.m)+len(other.m))
	for k, v := range m.m {
		out[k] = v
	}
	for k, v := range other.m {
		if cur, ok := out[k]; !ok || v > cur {
			out[k] = v
		}
	}
	return Map{m: out}
}

// Size is the number of events the map accounts for. Offsets are zero-based,
// so a source at offset n contributes n+1 events.
func (m Map) Size() int64 {
	var n int64
	for _, v := range m.m {
		n += int64(v-Zero) + 1
	}
	return n
}

// Delta returns the number of events present in a but not accounted for in b.
// Sources where b is ahead of a contribute nothing.
func Delta(a, b Map) int64 {
	var n int64
	for k, av := range a.m {
		bv, ok := b.m[k]
		if !ok {
			n += int64(av-Zero) + 1
			continue
		}
		if av > bv {
			n += int64(av - bv)
		}
	}
	return n
}

// AsMap returns a copy of the underlying data.
func (m Map) AsMap() map[string]Offset {
	out := make(map[string]Offset, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}

// String renders the map as {a: 1, b: 2} in source order.
func (m Map) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range m.Sources() {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s: %d", k, m.m[k])
	}
	sb.WriteByte('}')
	return sb.String()
}

func (m Map) MarshalJSON() ([]byte, error) {
	if m.m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m.m)
}

func (m *Map) UnmarshalJSON(b []byte) error {
	var raw map[string]Offset
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("offsets: decode map: %w", err)
	}
	*m = New(raw)
	return nil
}
