package main

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/goliatone/go-query-state/pkg/config"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

const envConfig = "QUERYSTATE_CONFIG"

// usageError marks errors caused by bad input rather than a failing backend.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var usage usageError
	if errors.As(err, &usage) || errors.Is(err, config.ErrInvalid) {
		return exitUsage
	}
	return exitError
}

// runtime holds what every command needs after flags are parsed.
type runtime struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg    config.Config
	logger *slog.Logger
	store  stateStore
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(&runtime{})
}

func newRootCmdWith(rt *runtime) *cobra.Command {
	root := &cobra.Command{
		Use:           "querystate",
		Short:         "Inspect, match and sync persisted query state",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return rt.init(cmd.ErrOrStderr())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&rt.configPath, "config", "c", os.Getenv(envConfig), "config file (yaml, toml or json); defaults to $"+envConfig)
	flags.StringVar(&rt.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	flags.StringVar(&rt.logFormat, "log-format", "", "override log.format (auto, text, json)")

	root.AddCommand(
		newStateCmd(rt),
		newSyncCmd(rt),
		newMatchCmd(rt),
		newTimeCmd(rt),
		newQueryCmd(rt),
	)
	return root
}

func (rt *runtime) init(stderr io.Writer) error {
	cfg := config.Default()
	if path := strings.TrimSpace(rt.configPath); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if rt.logLevel != "" {
		cfg.Log.Level = rt.logLevel
	}
	if rt.logFormat != "" {
		cfg.Log.Format = rt.logFormat
	}
	rt.cfg = cfg
	rt.logger = newLogger(stderr, cfg)
	return nil
}

// newLogger picks a text handler for terminals and JSON otherwise, unless
// the format is set explicitly.
func newLogger(w io.Writer, cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	format := strings.ToLower(cfg.Log.Format)
	if format == "" || format == "auto" {
		format = "json"
		if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
			format = "text"
		}
	}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
