// Package config holds the runtime configuration of events2db.
//
// Values are layered: defaults, then an optional YAML file, then environment
// variables, then command line flags. Every setting has one flag and one
// environment variable, listed in the settings table below.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config is the complete runtime configuration.
type Config struct {
	Sink          Sink    `yaml:"sink"`
	Source        Source  `yaml:"source"`
	Batch         Batch   `yaml:"batch"`
	Subscriptions string  `yaml:"subscriptions"`
	FromStart     bool    `yaml:"from_start"`
	LogLevel      string  `yaml:"log_level"`
	Metrics       Metrics `yaml:"metrics"`
}

// Sink selects and addresses the destination table.
type Sink struct {
	Kind     string `yaml:"kind"`
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"` // 0 picks the driver default
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Table    string `yaml:"table"`
}

// Source selects where events are read from.
type Source struct {
	// Kind is "eventservice" or "pgtable".
	Kind string `yaml:"kind"`
	URI  string `yaml:"uri"`

	// pgtable only.
	DSN    string `yaml:"dsn"`
	Table  string `yaml:"table"`
	Follow bool   `yaml:"follow"`
}

// Batch bounds each insert.
type Batch struct {
	MaxRecords int     `yaml:"max_records"`
	MaxSeconds float64 `yaml:"max_seconds"`
}

// Interval converts MaxSeconds to a duration.
func (b Batch) Interval() time.Duration {
	return time.Duration(b.MaxSeconds * float64(time.Second))
}

// Metrics selects the optional metrics backend.
type Metrics struct {
	Backend        string `yaml:"backend"` // none, prom or datadog
	Job            string `yaml:"job"`
	PushgatewayURL string `yaml:"pushgateway_url"`
	DatadogAddr    string `yaml:"datadog_addr"`
}

// Source kinds.
const (
	SourceEventService = "eventservice"
	SourcePGTable      = "pgtable"
)

// Defaults returns the configuration used when nothing else is given.
func Defaults() Config {
	return Config{
		Sink: Sink{
			Kind:  "postgres",
			Host:  "localhost",
			Table: "events",
		},
		Source: Source{
			Kind:   SourceEventService,
			URI:    "http://localhost:4454/api/",
			Table:  "events",
			Follow: true,
		},
		Batch: Batch{
			MaxRecords: 1024,
			MaxSeconds: 1,
		},
		Subscriptions: "[{}]",
		LogLevel:      "info",
		Metrics: Metrics{
			Backend:        "none",
			Job:            "events2db",
			PushgatewayURL: "http://localhost:9091",
			DatadogAddr:    "127.0.0.1:8125",
		},
	}
}

// setting ties a field to its flag and environment variable.
type setting struct {
	flag  string
	short string
	env   string
	usage string
	field func(*Config) any
}

var settings = []setting{
	{"from-start", "f", "FROM_START", "subscribe from the beginning, ignoring the offsets already in the table", func(c *Config) any { return &c.FromStart }},
	{"subscriptions", "", "SUBSCRIPTIONS", "JSON list of subscription filters", func(c *Config) any { return &c.Subscriptions }},
	{"max-batch-records", "r", "MAX_BATCH_RECORDS", "maximum rows per insert", func(c *Config) any { return &c.Batch.MaxRecords }},
	{"max-batch-seconds", "s", "MAX_BATCH_SECONDS", "maximum seconds a batch stays open", func(c *Config) any { return &c.Batch.MaxSeconds }},

	{"sink-kind", "", "SINK_KIND", "sink backend (postgres, sqlite, mysql, mssql, memory)", func(c *Config) any { return &c.Sink.Kind }},
	{"db-dsn", "", "DB_DSN", "full sink connection string; overrides host, port and credentials", func(c *Config) any { return &c.Sink.DSN }},
	{"db-host", "", "DB_HOST", "database host", func(c *Config) any { return &c.Sink.Host }},
	{"db-port", "", "DB_PORT", "database port (0 for the driver default)", func(c *Config) any { return &c.Sink.Port }},
	{"db-user", "u", "DB_USER", "database user", func(c *Config) any { return &c.Sink.User }},
	{"password", "w", "PGPASSWORD", "database password", func(c *Config) any { return &c.Sink.Password }},
	{"db-name", "d", "DB_NAME", "database name", func(c *Config) any { return &c.Sink.Database }},
	{"db-table", "t", "DB_TABLE", "destination table", func(c *Config) any { return &c.Sink.Table }},

	{"source-kind", "", "SOURCE_KIND", "event source (eventservice, pgtable)", func(c *Config) any { return &c.Source.Kind }},
	{"event-service-uri", "", "AX_EVENT_SERVICE_URI", "event service base URI", func(c *Config) any { return &c.Source.URI }},
	{"source-dsn", "", "SOURCE_DSN", "pgtable source connection string", func(c *Config) any { return &c.Source.DSN }},
	{"source-table", "", "SOURCE_TABLE", "pgtable source table", func(c *Config) any { return &c.Source.Table }},
	{"source-follow", "", "SOURCE_FOLLOW", "keep polling the pgtable source after catching up", func(c *Config) any { return &c.Source.Follow }},

	{"log-level", "", "LOG_LEVEL", "debug, info, warn or error", func(c *Config) any { return &c.LogLevel }},
	{"metrics-backend", "", "METRICS_BACKEND", "metrics backend (none, prom, datadog)", func(c *Config) any { return &c.Metrics.Backend }},
	{"metrics-job", "", "METRICS_JOB", "job name used by the metrics backend", func(c *Config) any { return &c.Metrics.Job }},
	{"pushgateway-url", "", "PUSHGATEWAY_URL", "Prometheus Pushgateway URL", func(c *Config) any { return &c.Metrics.PushgatewayURL }},
	{"dd-agent-addr", "", "DD_AGENT_ADDR", "DogStatsD address", func(c *Config) any { return &c.Metrics.DatadogAddr }},
}

// BindFlags registers one flag per setting on fs, showing the defaults.
// The values are read back by Load through fs.Visit, so only flags the user
// actually set take precedence over the environment and the file.
func BindFlags(fs *pflag.FlagSet) {
	scratch := Defaults()
	for _, s := range settings {
		usage := fmt.Sprintf("%s (env %s)", s.usage, s.env)
		switch p := s.field(&scratch).(type) {
		case *string:
			fs.StringVarP(p, s.flag, s.short, *p, usage)
		case *int:
			fs.IntVarP(p, s.flag, s.short, *p, usage)
		case *float64:
			fs.Float64VarP(p, s.flag, s.short, *p, usage)
		case *bool:
			fs.BoolVarP(p, s.flag, s.short, *p, usage)
		}
	}
}

// Load builds a Config from defaults, the YAML file at path (if any), the
// environment as seen through lookupEnv, and the flags changed on fs (may be
// nil).
func Load(path string, lookupEnv func(string) (string, bool), fs *pflag.FlagSet) (Config, error) {
	cfg := Defaults()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("config: open %s: %w", path, err)
		}
		err = decodeYAML(f, &cfg)
		f.Close()
		if err != nil {
			return cfg, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	var errs []error
	if lookupEnv != nil {
		for _, s := range settings {
			v, ok := lookupEnv(s.env)
			if !ok || v == "" {
				continue
			}
			if err := assign(s.field(&cfg), v); err != nil {
				errs = append(errs, fmt.Errorf("env %s: %w", s.env, err))
			}
		}
	}

	if fs != nil {
		byFlag := make(map[string]setting, len(settings))
		for _, s := range settings {
			byFlag[s.flag] = s
		}
		fs.Visit(func(f *pflag.Flag) {
			s, ok := byFlag[f.Name]
			if !ok {
				return
			}
			if err := assign(s.field(&cfg), f.Value.String()); err != nil {
				errs = append(errs, fmt.Errorf("flag --%s: %w", f.Name, err))
			}
		})
	}

	if err := errors.Join(errs...); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func assign(field any, v string) error {
	v = strings.TrimSpace(v)
	switch p := field.(type) {
	case *string:
		*p = v
	case *int:
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%q is not an integer", v)
		}
		*p = n
	case *float64:
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%q is not a number", v)
		}
		*p = n
	case *bool:
		b, err := parseBool(v)
		if err != nil {
			return err
		}
		*p = b
	default:
		return fmt.Errorf("unsupported field type %T", field)
	}
	return nil
}

// parseBool also accepts yes/no and on/off, which show up in env files.
func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "yes", "y", "on":
		return true, nil
	case "no", "n", "off":
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%q is not a boolean", v)
	}
	return b, nil
}
