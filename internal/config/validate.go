package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/Actyx/events-to-db/internal/event"
	"github.com/Actyx/events-to-db/internal/storage"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks the run.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is reported but does not block the run.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding.
//
// Path is a dotted path into the config, e.g. "sink.database".
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate performs static checks over cfg without connecting to anything.
// Sink kinds are checked against the storage registry, so callers must have
// imported the backends they expect to use.
func Validate(cfg Config) []Issue {
	var issues []Issue
	issues = append(issues, validateBatch(cfg.Batch)...)
	issues = append(issues, validateSubscriptions(cfg.Subscriptions)...)
	issues = append(issues, validateSink(cfg.Sink)...)
	issues = append(issues, validateSource(cfg.Source)...)
	issues = append(issues, validateMetrics(cfg.Metrics)...)

	if _, err := zapcore.ParseLevel(cfg.LogLevel); cfg.LogLevel != "" && err != nil {
		issues = append(issues, errorf("log_level", "unknown level %q", cfg.LogLevel))
	}
	return issues
}

func validateBatch(b Batch) []Issue {
	var issues []Issue
	if b.MaxRecords <= 0 {
		issues = append(issues, errorf("batch.max_records", "must be > 0, got %d", b.MaxRecords))
	}
	if b.MaxSeconds <= 0 {
		issues = append(issues, errorf("batch.max_seconds", "must be > 0, got %g", b.MaxSeconds))
	} else if b.Interval() <= 0 {
		issues = append(issues, errorf("batch.max_seconds", "%g rounds down to zero", b.MaxSeconds))
	}
	return issues
}

func validateSubscriptions(s string) []Issue {
	if _, err := event.ParseFilters(s); err != nil {
		return []Issue{errorf("subscriptions", "%v", err)}
	}
	return nil
}

func validateSink(s Sink) []Issue {
	var issues []Issue

	kinds := storage.ListKinds()
	if !slices.Contains(kinds, s.Kind) {
		issues = append(issues, errorf("sink.kind", "unknown kind %q (supported: %s)", s.Kind, strings.Join(kinds, ", ")))
		return issues
	}
	if strings.TrimSpace(s.Table) == "" {
		issues = append(issues, errorf("sink.table", "must not be empty"))
	}
	if s.Port < 0 || s.Port > 65535 {
		issues = append(issues, errorf("sink.port", "out of range: %d", s.Port))
	}

	switch s.Kind {
	case "postgres", "mysql", "mssql":
		if s.DSN != "" {
			break
		}
		if strings.TrimSpace(s.Database) == "" {
			issues = append(issues, errorf("sink.database", "database name is required (DB_NAME)"))
		}
		if strings.TrimSpace(s.User) == "" {
			issues = append(issues, errorf("sink.user", "database user is required (DB_USER)"))
		}
		if s.Password == "" {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "sink.password",
				Message:  "no password given; relying on the server's trust or peer authentication",
			})
		}
	case "sqlite":
		if s.DSN == "" && strings.TrimSpace(s.Database) == "" {
			issues = append(issues, errorf("sink.database", "sqlite needs a file path (DB_NAME or DB_DSN)"))
		}
	}
	return issues
}

func validateSource(s Source) []Issue {
	var issues []Issue
	switch s.Kind {
	case SourceEventService:
		u, err := url.Parse(s.URI)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			issues = append(issues, errorf("source.uri", "must be an absolute http(s) URL, got %q", s.URI))
		}
		if !s.Follow {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "source.follow",
				Message:  "ignored by the eventservice source",
			})
		}
	case SourcePGTable:
		if strings.TrimSpace(s.DSN) == "" {
			issues = append(issues, errorf("source.dsn", "pgtable source needs a connection string"))
		}
		if strings.TrimSpace(s.Table) == "" {
			issues = append(issues, errorf("source.table", "must not be empty"))
		}
	default:
		issues = append(issues, errorf("source.kind", "unknown kind %q (supported: %s, %s)", s.Kind, SourceEventService, SourcePGTable))
	}
	return issues
}

func validateMetrics(m Metrics) []Issue {
	var issues []Issue
	switch m.Backend {
	case "", "none":
	case "prom":
		if m.PushgatewayURL == "" {
			issues = append(issues, errorf("metrics.pushgateway_url", "required for the prom backend"))
		}
		if m.Job == "" {
			issues = append(issues, errorf("metrics.job", "required for the prom backend"))
		}
	case "datadog":
		if m.DatadogAddr == "" {
			issues = append(issues, errorf("metrics.datadog_addr", "required for the datadog backend"))
		}
	default:
		issues = append(issues, errorf("metrics.backend", "unknown backend %q (supported: none, prom, datadog)", m.Backend))
	}
	return issues
}

func errorf(path, format string, args ...any) Issue {
	return Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, args...)}
}
