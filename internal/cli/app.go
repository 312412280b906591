package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/carelog/internal/engine"
	"github.com/roach88/carelog/internal/store"
)

// app is what a command that touches the database works with.
type app struct {
	opts     *RootOptions
	store    *store.Store
	subject  string
	sessions *engine.Sessions
}

// openStore opens the configured database. The caller closes the store.
func openStore(cmd *cobra.Command, opts *RootOptions) (*store.Store, error) {
	cfg, err := opts.config(cmd)
	if err != nil {
		return nil, err
	}
	logger := opts.logger()
	logger.Debug("opening database", "path", cfg.DB)
	st, err := store.Open(cfg.DB,
		store.WithClock(opts.clock()),
		store.WithReporter(opts.reporter()),
	)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// openApp opens the store and, when withSessions is set, loads the
// configured subject's recent sessions.
func openApp(ctx context.Context, cmd *cobra.Command, opts *RootOptions, withSessions bool) (*app, error) {
	cfg, err := opts.config(cmd)
	if err != nil {
		return nil, err
	}
	subject, err := cfg.RequireSubject()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "subject not set", err)
	}
	st, err := openStore(cmd, opts)
	if err != nil {
		return nil, err
	}

	a := &app{opts: opts, store: st, subject: subject}
	if !withSessions {
		return a, nil
	}

	eopts := []engine.Option{
		engine.WithClock(opts.clock()),
		engine.WithLogger(opts.logger()),
		engine.WithTTL(cfg.CacheTTL),
		engine.WithFetchLimit(cfg.FetchLimit),
	}
	if m := opts.commandMetrics(); m != nil {
		eopts = append(eopts, engine.WithMetrics(m.controller))
	}
	a.sessions = engine.NewSessions(subject, st.Sessions(), eopts, engine.WithTolerance(cfg.DedupTolerance))
	if err := a.sessions.Load(ctx, true); err != nil {
		a.Close()
		return nil, WrapExitError(ExitFailure, fmt.Sprintf("failed to load sessions of %s", subject), err)
	}
	return a, nil
}

func (a *app) now() time.Time {
	return a.opts.clock().Now()
}

// Close releases the controller and the database.
func (a *app) Close() {
	if a.sessions != nil {
		a.sessions.Close()
	}
	if err := a.store.Close(); err != nil {
		a.opts.logger().Error("error closing database", "error", err)
	}
}
