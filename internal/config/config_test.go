package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "events2db.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Batch.MaxRecords != 1024 || cfg.Batch.Interval() != time.Second {
		t.Fatalf("batch defaults = %+v", cfg.Batch)
	}
	if cfg.Sink.Host != "localhost" || cfg.Sink.Table != "events" || cfg.Sink.Kind != "postgres" {
		t.Fatalf("sink defaults = %+v", cfg.Sink)
	}
	if cfg.Subscriptions != "[{}]" || cfg.FromStart {
		t.Fatalf("subscriptions=%q fromStart=%v", cfg.Subscriptions, cfg.FromStart)
	}
}

func TestLoadPrecedence(t *testing.T) {
	path := writeFile(t, `
sink:
  host: file-host
  database: filedb
  table: file_table
batch:
  max_records: 10
`)
	env := envMap(map[string]string{
		"DB_HOST":           "env-host",
		"MAX_BATCH_RECORDS": "20",
		"FROM_START":        "yes",
		"DB_USER":           "",
	})

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	if err := fs.Parse([]string{"-r", "30", "--db-table", "flag_table"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(path, env, fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"file only", cfg.Sink.Database, "filedb"},
		{"env over file", cfg.Sink.Host, "env-host"},
		{"flag over env and file", cfg.Batch.MaxRecords, 30},
		{"flag over file", cfg.Sink.Table, "flag_table"},
		{"env bool", cfg.FromStart, true},
		{"empty env ignored", cfg.Sink.User, ""},
		{"default untouched", cfg.Batch.MaxSeconds, 1.0},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoadUnsetFlagsDoNotOverrideEnv(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := Load("", envMap(map[string]string{"DB_TABLE": "from_env"}), fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sink.Table != "from_env" {
		t.Fatalf("table = %q; flag default leaked over env", cfg.Sink.Table)
	}
}

func TestLoadBadValues(t *testing.T) {
	env := envMap(map[string]string{
		"MAX_BATCH_RECORDS": "lots",
		"FROM_START":        "maybe",
	})
	_, err := Load("", env, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"MAX_BATCH_RECORDS", "FROM_START"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil, nil); err == nil {
		t.Errorf("missing file: expected error")
	}
	path := writeFile(t, "sink:\n  colour: blue\n")
	if _, err := Load(path, nil, nil); err == nil {
		t.Errorf("unknown field: expected error")
	}
	empty := writeFile(t, "# nothing here\n")
	cfg, err := Load(empty, nil, nil)
	if err != nil {
		t.Fatalf("empty file: %v", err)
	}
	if cfg.Sink.Table != "events" {
		t.Errorf("empty file changed defaults: %+v", cfg.Sink)
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		in      string
		want    bool
		wantErr bool
	}{
		{"true", true, false},
		{"1", true, false},
		{"Yes", true, false},
		{"off", false, false},
		{"FALSE", false, false},
		{"maybe", false, true},
	}
	for _, tt := range tests {
		got, err := parseBool(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseBool(%q) = %v, %v", tt.in, got, err)
		}
	}
}
