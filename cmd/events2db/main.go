// Command events2db copies events from an event store into a database table
// and keeps it up to date. It resumes from the offsets already present in the
// table, so it can be stopped and restarted at any time.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Actyx/events-to-db/internal/config"
	"github.com/Actyx/events-to-db/internal/event"
	"github.com/Actyx/events-to-db/internal/fault"
	"github.com/Actyx/events-to-db/internal/logger"
	"github.com/Actyx/events-to-db/internal/pipeline"
	"github.com/Actyx/events-to-db/internal/storage"

	// config picks the backend; all of them are compiled in.
	_ "github.com/Actyx/events-to-db/internal/storage/all"
)

// test hooks
var (
	exit      = os.Exit
	lookupEnv = os.LookupEnv
	newSink   = storage.New
	notify    = func(ctx context.Context) (context.Context, context.CancelFunc) {
		return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	}
)

func main() {
	defer fault.Recover()
	exit(run(context.Background(), os.Args[1:], os.Stderr))
}

// exitError carries the process status out of cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func fatal(format string, a ...any) error {
	return &exitError{code: fault.ExitFatal, err: fmt.Errorf(format, a...)}
}

// run executes the command and returns the process exit status.
func run(ctx context.Context, args []string, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetErr(stderr)
	cmd.SetOut(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return fault.ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil && !errors.Is(ee.err, errReported) {
			fmt.Fprintf(stderr, "events2db: %v\n", ee.err)
		}
		return ee.code
	}
	// flag parsing and other cobra errors
	fmt.Fprintf(stderr, "events2db: %v\n", err)
	return fault.ExitFatal
}

// errReported marks failures that were already logged.
var errReported = errors.New("reported")

func newRootCmd() *cobra.Command {
	var (
		cfgPath  string
		validate bool
	)
	cmd := &cobra.Command{
		Use:   "events2db",
		Short: "Stream events from an event store into a database table",
		Long: `events2db subscribes to an event store and bulk-inserts every matching
event into a relational table. On restart it resumes after the highest offset
per source found in the table; rows already present are skipped.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath, lookupEnv, cmd.Flags())
			if err != nil {
				return fatal("%v", err)
			}
			return execute(cmd.Context(), cfg, validate)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "optional YAML config file")
	cmd.Flags().BoolVar(&validate, "validate", false, "validate the configuration and exit")
	config.BindFlags(cmd.Flags())
	return cmd
}

func execute(ctx context.Context, cfg config.Config, validateOnly bool) error {
	log, err := logger.New(logger.Options{Level: cfg.LogLevel})
	if err != nil {
		return fatal("%v", err)
	}
	defer logger.Sync(log)
	fault.Install(log)

	issues := config.Validate(cfg)
	for _, iss := range issues {
		if iss.Severity == config.SeverityError {
			log.Error("invalid configuration", zap.String("path", iss.Path), zap.String("problem", iss.Message))
		} else {
			log.Warn("configuration warning", zap.String("path", iss.Path), zap.String("problem", iss.Message))
		}
	}
	if config.HasErrors(issues) {
		return &exitError{code: fault.ExitFatal, err: errReported}
	}
	if validateOnly {
		log.Info("configuration is valid")
		return nil
	}

	filters, err := event.ParseFilters(cfg.Subscriptions)
	if err != nil {
		return fatal("%v", err)
	}

	ctx, stop := notify(ctx)
	defer stop()

	runID := uuid.NewString()
	closeMetrics := setupMetrics(cfg.Metrics, cfg.Sink.Table, runID, log)
	defer closeMetrics()

	sink, err := newSink(ctx, storage.Config{
		Kind:     cfg.Sink.Kind,
		DSN:      cfg.Sink.DSN,
		Host:     cfg.Sink.Host,
		Port:     cfg.Sink.Port,
		User:     cfg.Sink.User,
		Password: cfg.Sink.Password,
		Database: cfg.Sink.Database,
		Table:    cfg.Sink.Table,
	})
	if err != nil {
		log.Error("could not connect to the database", zap.String("kind", cfg.Sink.Kind), zap.Error(err))
		return &exitError{code: fault.ExitFatal, err: errReported}
	}
	defer func() {
		if err := sink.Close(); err != nil {
			log.Warn("closing sink", zap.Error(err))
		}
	}()
	log.Info("connected to the database",
		zap.String("kind", cfg.Sink.Kind),
		zap.String("database", cfg.Sink.Database),
		zap.String("table", cfg.Sink.Table))

	src, closeSrc, err := openSource(ctx, cfg.Source)
	if err != nil {
		log.Error("could not open the event source", zap.String("kind", cfg.Source.Kind), zap.Error(err))
		return &exitError{code: fault.ExitFatal, err: errReported}
	}
	defer closeSrc()

	p, err := pipeline.NewBuilder().
		WithSource(src).
		WithSink(sink).
		WithLogger(log).
		WithFilters(filters).
		WithBatching(cfg.Batch.MaxRecords, cfg.Batch.Interval()).
		WithFromStart(cfg.FromStart).
		WithRunID(runID).
		Build()
	if err != nil {
		return fatal("%v", err)
	}

	if err := p.Run(ctx); err != nil {
		log.Error("pipeline failed", zap.String("state", p.State().String()), zap.Error(err))
		return &exitError{code: fault.ExitFatal, err: errReported}
	}
	log.Info("stopped", zap.Stringer("written", p.Written()))
	return nil
}
