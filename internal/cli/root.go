// Package cli implements the carelog command line: logging, editing and
// removing sessions, summaries, dedup checks, legacy imports, the
// data-quality check and the scenario runner.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/coder/quartz"
	"github.com/spf13/cobra"

	"github.com/roach88/carelog/internal/aggregate"
	"github.com/roach88/carelog/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string
	DB         string
	Subject    string

	// Resolved in PersistentPreRunE.
	Config *config.Config
	Logger *slog.Logger

	// Clock overrides the wall clock (for testing). If nil, defaults to
	// quartz.NewReal.
	Clock quartz.Clock

	metrics *commandMetrics
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the carelog CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "carelog",
		Short: "carelog - treatment log for a chronically ill pet",
		Long: `Log medication doses, fluid sessions and symptoms, and keep daily,
weekly and monthly aggregates in step with every change.

Settings come from flags, CARELOG_* environment variables and carelog.yaml,
in that order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			opts.Logger = newLogger(cmd.ErrOrStderr(), opts.Verbose)

			_, err := opts.config(cmd)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.Verbose && opts.metrics != nil {
				opts.metrics.log(opts.logger())
			}
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "config file (default ./carelog.yaml or ~/.carelog/carelog.yaml)")
	cmd.PersistentFlags().StringVar(&opts.DB, config.KeyDB, "", "path to SQLite database")
	cmd.PersistentFlags().StringVar(&opts.Subject, config.KeySubject, "", "subject the sessions belong to")

	cmd.AddCommand(NewLogCommand(opts))
	cmd.AddCommand(NewEditCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewSummaryCommand(opts))
	cmd.AddCommand(NewDueCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// config resolves the configuration once. Explicit --db and --subject win
// even when the command runs without the root's flag set.
func (o *RootOptions) config(cmd *cobra.Command) (*config.Config, error) {
	if o.Config != nil {
		return o.Config, nil
	}
	cfg, err := config.Load(o.ConfigFile, cmd.Flags())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.DB != "" {
		cfg.DB = o.DB
	}
	if o.Subject != "" {
		cfg.Subject = o.Subject
	}
	if cfg.File != "" {
		o.logger().Debug("config loaded", "file", cfg.File)
	}
	o.Config = cfg
	return cfg, nil
}

func (o *RootOptions) clock() quartz.Clock {
	if o.Clock == nil {
		o.Clock = quartz.NewReal()
	}
	return o.Clock
}

func (o *RootOptions) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// commandMetrics returns the metrics of this run, creating them on first
// use. Nil means metrics are off.
func (o *RootOptions) commandMetrics() *commandMetrics {
	if o.metrics == nil {
		m, err := newCommandMetrics()
		if err != nil {
			o.logger().Debug("metrics disabled", "error", err)
			return nil
		}
		o.metrics = m
	}
	return o.metrics
}

// reporter returns the repair reporter of this run.
func (o *RootOptions) reporter() *aggregate.Reporter {
	var repairs *aggregate.Metrics
	if m := o.commandMetrics(); m != nil {
		repairs = m.repairs
	}
	return aggregate.NewReporter(o.logger(), repairs)
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
