package httpes

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Actyx/events-to-db/internal/event"
	"github.com/Actyx/events-to-db/internal/offsets"
	"github.com/Actyx/events-to-db/internal/source"
)

// maxLine bounds a single streamed envelope.
const maxLine = 16 << 20

var _ source.Source = (*Client)(nil)

type streamID struct {
	Semantics string `json:"semantics"`
	Name      string `json:"name"`
	Source    string `json:"source"`
}

// envelope is one line of the subscribe stream. Lines with a type other than
// "event" (or no type) are keep-alives and skipped.
type envelope struct {
	Type      string          `json:"type,omitempty"`
	Stream    streamID        `json:"stream"`
	Lamport   uint64          `json:"lamport"`
	Offset    offsets.Offset  `json:"offset"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

type subscribeRequest struct {
	LowerBound    offsets.Map    `json:"lowerBound"`
	Subscriptions []event.Filter `json:"subscriptions"`
}

// Offsets fetches the service's current offset map.
func (c *Client) Offsets(ctx context.Context) (offsets.Map, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, "v1/events/offsets", nil)
	if err != nil {
		return offsets.Map{}, err
	}
	defer resp.Body.Close()

	var m offsets.Map
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return offsets.Map{}, fmt.Errorf("httpes: decode offsets: %w", err)
	}
	return m, nil
}

// SubscribeFrom opens the live stream. The connection is established before
// returning, so an unreachable service fails here rather than mid-stream.
func (c *Client) SubscribeFrom(ctx context.Context, from offsets.Map, filters []event.Filter) (source.Subscription, error) {
	if len(filters) == 0 {
		filters = []event.Filter{{}}
	}
	subCtx, cancel := context.WithCancel(ctx)
	resp, err := c.do(subCtx, http.MethodPost, "v1/events/subscribe", subscribeRequest{
		LowerBound:    from,
		Subscriptions: filters,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	st := source.Start(subCtx, func(ctx context.Context, emit source.Emit) error {
		defer resp.Body.Close()

		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 64<<10), maxLine)
		line := 0
		for sc.Scan() {
			line++
			raw := sc.Bytes()
			if len(raw) == 0 {
				continue
			}
			var env envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				return fmt.Errorf("httpes: decode stream line %d: %w", line, err)
			}
			if env.Type != "" && env.Type != "event" {
				continue
			}
			e := event.Event{
				SourceID:  env.Stream.Source,
				Semantics: env.Stream.Semantics,
				Name:      env.Stream.Name,
				Lamport:   env.Lamport,
				Offset:    env.Offset,
				Timestamp: env.Timestamp,
				Payload:   env.Payload,
			}
			// The service honors the bound and filters; re-check so a
			// misbehaving peer cannot replay what the sink already holds.
			if !source.After(from, e) || !event.MatchesAny(filters, e) {
				continue
			}
			if !emit(e) {
				return ctx.Err()
			}
		}
		if err := sc.Err(); err != nil {
			return fmt.Errorf("httpes: read stream: %w", err)
		}
		return nil
	})
	go func() {
		<-st.Done()
		cancel()
	}()
	return st, nil
}
