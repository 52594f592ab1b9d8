package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/tomyedwab/odbcbridge/bridge"
	"github.com/tomyedwab/odbcbridge/config"
	"github.com/tomyedwab/odbcbridge/dispatch"
	"github.com/tomyedwab/odbcbridge/odbc"
	"github.com/tomyedwab/odbcbridge/odbc/api"
	"github.com/tomyedwab/odbcbridge/odbc/api/native"
	"github.com/tomyedwab/odbcbridge/odbc/api/sqlhost"
	"github.com/tomyedwab/odbcbridge/types"
)

type options struct {
	configPath string
	conn       optionalString
	query      string
	backend    optionalString
	library    optionalString
	workers    optionalInt
	logLevel   optionalString
	params     stringList
}

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "odbcquery: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (*options, error) {
	var opts options
	fs := flag.NewFlagSet("odbcquery", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	fs.Var(&opts.conn, "conn", "ODBC connection string")
	fs.StringVar(&opts.query, "query", "", "SQL text to run, or - to read it from stdin")
	fs.Var(&opts.backend, "backend", "driver manager: "+strings.Join(config.BackendOptions(), " or "))
	fs.Var(&opts.library, "library", "path of the ODBC driver manager library")
	fs.Var(&opts.workers, "workers", "number of background workers")
	fs.Var(&opts.logLevel, "log-level", "debug, info, warn or error")
	fs.Var(&opts.params, "param", "value bound to the next ? placeholder (repeatable)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.query == "" {
		return nil, errors.New("-query is required")
	}
	return &opts, nil
}

// loadConfig merges the config file with the flags that were given.
func loadConfig(opts *options) (config.Config, error) {
	cfg, err := config.LoadOrDefault(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if opts.conn.set {
		cfg.ConnectionString = opts.conn.value
	}
	if opts.backend.set {
		cfg.Backend = config.Backend(opts.backend.value)
	}
	if opts.library.set {
		cfg.Library = opts.library.value
	}
	if opts.workers.set {
		cfg.Workers = opts.workers.value
	}
	if opts.logLevel.set {
		cfg.LogLevel = opts.logLevel.value
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	if cfg.ConnectionString == "" {
		return config.Config{}, errors.New("no connection string: pass -conn or set connectionString")
	}
	return cfg, nil
}

func newLogger(cfg config.Config) *slog.Logger {
	level, _ := cfg.Level()
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts))
}

func openBackend(cfg config.Config, logger *slog.Logger) (api.API, error) {
	switch cfg.Backend {
	case config.BackendSQLHost:
		return sqlhost.New(sqlhost.Options{Logger: logger}), nil
	default:
		driver, err := native.Open(cfg.Library)
		if err != nil {
			return nil, err
		}
		logger.Debug("Loaded driver manager", "library", driver.Library())
		return driver, nil
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	query := opts.query
	if query == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("read query: %w", err)
		}
		query = string(b)
	}

	cli, err := openBackend(cfg, logger)
	if err != nil {
		return err
	}
	env, err := odbc.InitOnce(cli, odbc.EnvironmentOptions{Pooling: cfg.Pooling})
	if err != nil {
		return fmt.Errorf("initialize environment: %w", err)
	}

	queue := dispatch.New(dispatch.Config{
		Workers: cfg.Workers,
		Depth:   cfg.QueueDepth,
		Logger:  logger,
	})

	params := make([]any, len(opts.params))
	for i, p := range opts.params {
		params[i] = p
	}

	type outcome struct {
		results types.Results
		err     error
	}
	done := make(chan outcome, 1)
	bridge.QueryRaw(env, queue, cfg.ConnectionString, query, params, func(results types.Results, err error) {
		done <- outcome{results, err}
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		// The running operation cannot be interrupted; leave without
		// waiting for the workers.
		logger.Info("Received signal, abandoning query")
		return ctx.Err()
	case out := <-done:
		// The environment is process-wide and outlives the run.
		queue.Close()
		if out.err != nil {
			if state := odbc.SQLState(out.err); state != "" {
				logger.Debug("Query failed", "state", state)
			}
			return out.err
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out.results.Sets)
	}
}
