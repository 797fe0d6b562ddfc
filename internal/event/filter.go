package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidFilter is returned when a subscription set cannot be parsed.
var ErrInvalidFilter = errors.New("invalid subscription filter")

// Filter selects events by stream coordinates. Empty fields match anything,
// so the zero Filter matches every event.
type Filter struct {
	Semantics string `json:"semantics,omitempty" yaml:"semantics,omitempty"`
	Name      string `json:"name,omitempty" yaml:"name,omitempty"`
	Source    string `json:"source,omitempty" yaml:"source,omitempty"`
}

// Matches reports whether e falls within f.
func (f Filter) Matches(e Event) bool {
	if f.Semantics != "" && f.Semantics != e.Semantics {
		return false
	}
	if f.Name != "" && f.Name != e.Name {
		return false
	}
	if f.Source != "" && f.Source != e.SourceID {
		return false
	}
	return true
}

func (f Filter) String() string {
	part := func(s string) string {
		if s == "" {
			return "*"
		}
		return s
	}
	return fmt.Sprintf("%s/%s@%s", part(f.Semantics), part(f.Name), part(f.Source))
}

// MatchesAny reports whether e matches at least one filter in fs.
func MatchesAny(fs []Filter, e Event) bool {
	for _, f := range fs {
		if f.Matches(e) {
			return true
		}
	}
	return false
}

// ParseFilters decodes a JSON subscription set such as
// `[{"semantics":"orders"},{"name":"machine-1"}]`. Unknown keys are rejected
// so a typo does not silently widen the subscription to everything.
func ParseFilters(s string) ([]Filter, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty subscription set", ErrInvalidFilter)
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.DisallowUnknownFields()

	var out []Filter
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after subscription set", ErrInvalidFilter)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: subscription set selects nothing", ErrInvalidFilter)
	}
	return out, nil
}
