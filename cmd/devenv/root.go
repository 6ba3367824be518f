package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"studysprint/devenv/internal/config"
	"studysprint/devenv/internal/telemetry"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
	logFile  string
	workDir  string

	// cfg is populated by PersistentPreRunE and shared with all subcommands.
	cfg *config.Config

	// app holds all wired dependencies; populated by PersistentPreRunE.
	app *AppContext

	// logSink is the --log-file handle, closed on exit.
	logSink *os.File
)

var rootCmd = &cobra.Command{
	Use:   "devenv",
	Short: "StudySprint backend development environment bootstrap",
	Long: `devenv prepares a StudySprint backend checkout for local development.

It materializes the .env file, installs Python dependencies into a virtual
environment, starts Postgres and Redis, waits until both accept
connections, generates and applies the schema migration and finally
smoke-tests the application. Every stage is a gate: the first failure
stops the run with a non-zero exit status.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also append JSON logs to this file")
	rootCmd.PersistentFlags().StringVar(&workDir, "work-dir", "", "backend checkout directory (overrides bootstrap.work_dir)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := initLogger(logLevel, logFile); err != nil {
			return err
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		// --log-level flag takes precedence over value in config file.
		if cmd.Flags().Changed("log-level") {
			cfg.Telemetry.LogLevel = logLevel
		} else if cfg.Telemetry.LogLevel != "" {
			if err := initLogger(cfg.Telemetry.LogLevel, logFile); err != nil {
				return err
			}
		}

		if workDir != "" {
			cfg.Bootstrap.WorkDir = workDir
		}
		if cfg.Bootstrap.WorkDir, err = filepath.Abs(cfg.Bootstrap.WorkDir); err != nil {
			return fmt.Errorf("resolving work dir: %w", err)
		}

		app, err = buildAppContext(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("building app context: %w", err)
		}

		return nil
	}

	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(downCmd)
	rootCmd.AddCommand(serverCmd)
}

// exitError carries a specific process exit status out of a RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit status %d", e.code)
}

func (e *exitError) Unwrap() error { return e.err }

// Execute is the entry point called by main.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if app != nil {
		app.Close()
	}
	if logSink != nil {
		_ = logSink.Close()
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(os.Stderr, "devenv:", ee.err)
		}
		return ee.code
	}
	fmt.Fprintln(os.Stderr, "devenv:", err)
	return 1
}

// initLogger writes JSON logs to stderr, keeping stdout for command output.
// With path set the same records are appended to that file as well.
func initLogger(level, path string) error {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler = slog.NewJSONHandler(os.Stderr, opts)
	if path != "" {
		if logSink == nil {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("opening log file: %w", err)
			}
			logSink = f
		}
		handler = telemetry.NewTeeHandler(handler, slog.NewJSONHandler(logSink, opts))
	}

	slog.SetDefault(slog.New(telemetry.NewTraceHandler(handler)))
	return nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
