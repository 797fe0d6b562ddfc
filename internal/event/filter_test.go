package event

import (
	"errors"
	"testing"
)

func TestParseFilters(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{`[{}]`, 1, false},
		{`[{"semantics":"orders"},{"name":"m1","source":"A"}]`, 2, false},
		{`[]`, 0, true},
		{``, 0, true},
		{`{"semantics":"x"}`, 0, true},
		{`[{"semantic":"typo"}]`, 0, true},
		{`[{}] [{}]`, 0, true},
	}
	for _, tt := range tests {
		got, err := ParseFilters(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidFilter) {
				t.Errorf("ParseFilters(%q) err = %v; want ErrInvalidFilter", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseFilters(%q) unexpected err: %v", tt.in, err)
			continue
		}
		if len(got) != tt.want {
			t.Errorf("ParseFilters(%q) len = %d; want %d", tt.in, len(got), tt.want)
		}
	}
}

func TestFilterMatches(t *testing.T) {
	e := Event{SourceID: "A", Semantics: "orders", Name: "m1"}

	tests := []struct {
		f    Filter
		want bool
	}{
		{Filter{}, true},
		{Filter{Semantics: "orders"}, true},
		{Filter{Semantics: "orders", Name: "m2"}, false},
		{Filter{Source: "B"}, false},
		{Filter{Semantics: "orders", Name: "m1", Source: "A"}, true},
	}
	for _, tt := range tests {
		if got := tt.f.Matches(e); got != tt.want {
			t.Errorf("%s.Matches = %v; want %v", tt.f, got, tt.want)
		}
	}

	if MatchesAny(nil, e) {
		t.Fatalf("MatchesAny(nil) = true")
	}
	if !MatchesAny([]Filter{{Source: "B"}, {Name: "m1"}}, e) {
		t.Fatalf("MatchesAny should match second filter")
	}
}
