// Package event defines the records consumed from the event store and the
// subscription filters used to select them.
package event

import (
	"encoding/json"

	"github.com/Actyx/events-to-db/internal/offsets"
)

// Event is one immutable record from a source stream.
type Event struct {
	SourceID  string          `json:"source"`
	Semantics string          `json:"semantics"`
	Name      string          `json:"name"`
	Lamport   uint64          `json:"lamport"`
	Offset    offsets.Offset  `json:"offset"`
	Timestamp int64           `json:"timestamp"` // microseconds since epoch; advisory
	Payload   json.RawMessage `json:"payload"`
}
