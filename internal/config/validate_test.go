package config

import (
	"testing"

	_ "github.com/Actyx/events-to-db/internal/storage/all"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Sink.Database = "events"
	cfg.Sink.User = "postgres"
	cfg.Sink.Password = "secret"
	return cfg
}

func issueAt(issues []Issue, path string, sev IssueSeverity) bool {
	for _, iss := range issues {
		if iss.Path == path && iss.Severity == sev {
			return true
		}
	}
	return false
}

func TestValidateOK(t *testing.T) {
	if issues := Validate(validConfig()); len(issues) != 0 {
		t.Fatalf("unexpected issues: %v", issues)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
		sev    IssueSeverity
	}{
		{"zero batch records", func(c *Config) { c.Batch.MaxRecords = 0 }, "batch.max_records", SeverityError},
		{"negative batch seconds", func(c *Config) { c.Batch.MaxSeconds = -1 }, "batch.max_seconds", SeverityError},
		{"bad subscriptions", func(c *Config) { c.Subscriptions = "[{" }, "subscriptions", SeverityError},
		{"empty subscriptions", func(c *Config) { c.Subscriptions = "[]" }, "subscriptions", SeverityError},
		{"unknown sink", func(c *Config) { c.Sink.Kind = "oracle" }, "sink.kind", SeverityError},
		{"missing db name", func(c *Config) { c.Sink.Database = "" }, "sink.database", SeverityError},
		{"missing db user", func(c *Config) { c.Sink.User = "" }, "sink.user", SeverityError},
		{"missing password", func(c *Config) { c.Sink.Password = "" }, "sink.password", SeverityWarning},
		{"empty table", func(c *Config) { c.Sink.Table = " " }, "sink.table", SeverityError},
		{"bad port", func(c *Config) { c.Sink.Port = 70000 }, "sink.port", SeverityError},
		{"sqlite without path", func(c *Config) { c.Sink.Kind = "sqlite"; c.Sink.Database = "" }, "sink.database", SeverityError},
		{"unknown source", func(c *Config) { c.Source.Kind = "kafka" }, "source.kind", SeverityError},
		{"relative uri", func(c *Config) { c.Source.URI = "localhost:4454" }, "source.uri", SeverityError},
		{"pgtable without dsn", func(c *Config) { c.Source.Kind = SourcePGTable }, "source.dsn", SeverityError},
		{"follow off for eventservice", func(c *Config) { c.Source.Follow = false }, "source.follow", SeverityWarning},
		{"unknown metrics", func(c *Config) { c.Metrics.Backend = "graphite" }, "metrics.backend", SeverityError},
		{"prom without url", func(c *Config) { c.Metrics.Backend = "prom"; c.Metrics.PushgatewayURL = "" }, "metrics.pushgateway_url", SeverityError},
		{"bad log level", func(c *Config) { c.LogLevel = "chatty" }, "log_level", SeverityError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			issues := Validate(cfg)
			if !issueAt(issues, tt.path, tt.sev) {
				t.Fatalf("want %s at %s, got %v", tt.sev, tt.path, issues)
			}
			if HasErrors(issues) != (tt.sev == SeverityError) {
				t.Fatalf("HasErrors = %v for %v", HasErrors(issues), issues)
			}
		})
	}
}

func TestValidateDSNSkipsCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Sink.Database, cfg.Sink.User, cfg.Sink.Password = "", "", ""
	cfg.Sink.DSN = "postgres://u:p@db/events"
	if issues := Validate(cfg); len(issues) != 0 {
		t.Fatalf("unexpected issues: %v", issues)
	}
}

func TestIssueError(t *testing.T) {
	iss := Issue{Severity: SeverityError, Path: "sink.kind", Message: "unknown"}
	if got := iss.Error(); got != "error at sink.kind: unknown" {
		t.Fatalf("Error() = %q", got)
	}
}
