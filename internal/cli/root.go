// Package cli implements the riskctl operator commands.
package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/aqua-risk/internal/config"
	"github.com/couchcryptid/aqua-risk/internal/observability"
)

const version = "0.1.0"

// app carries the state shared by every subcommand. It is populated in the
// root command's PersistentPreRunE.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	clock    clockwork.Clock
	logLevel string
}

// Option configures the root command.
type Option func(*app)

// WithClock sets the clock used for default dates.
func WithClock(c clockwork.Clock) Option {
	return func(a *app) { a.clock = c }
}

// NewRootCommand builds riskctl and its subcommands.
func NewRootCommand(opts ...Option) *cobra.Command {
	a := &app{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(a)
	}

	root := &cobra.Command{
		Use:     "riskctl",
		Short:   "Waterborne disease risk model CLI",
		Version: version,
		Long: `Train, inspect and query the waterborne disease risk model.

Settings come from the environment (and a .env file when present); flags
override them for a single invocation.`,
		Example: `  # Train on a generated bootstrap dataset
  $ riskctl train --samples 4000

  # Train on a CSV table with the raster overlay
  $ riskctl train --data data/training.csv --raster-mock

  # Score one point
  $ riskctl predict --lat -1.29 --lon 36.82 --date 2022-04-15

  # Show what a model artifact contains
  $ riskctl inspect --report`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a.cfg = cfg
			level := cfg.LogLevel
			if a.logLevel != "" {
				level = a.logLevel
			}
			a.logger = newLogger(cmd.ErrOrStderr(), level)
			a.metrics = observability.NewMetricsWith(prometheus.NewRegistry())
			return nil
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetVersionTemplate(fmt.Sprintf("riskctl version %s\n", version))
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (default from LOG_LEVEL)")

	root.AddCommand(
		newTrainCommand(a),
		newPredictCommand(a),
		newInspectCommand(a),
		newGenerateCommand(a),
	)
	return root
}

// Execute runs riskctl with os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}

// newLogger writes text logs to w, keeping stdout for command output.
func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
