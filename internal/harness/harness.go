package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/roach88/carelog/internal/engine"
	"github.com/roach88/carelog/internal/ir"
	"github.com/roach88/carelog/internal/store"
)

// errInjected is returned by commits a scenario marks with fail_commit.
var errInjected = errors.New("injected commit failure")

// Harness is the scenario execution environment: a fresh store, a
// Sessions controller over it and a clock that only moves when told to.
type Harness struct {
	subject  string
	store    *store.Store
	commits  *recordingStore
	sessions *engine.Sessions
	clock    *scenarioClock
	logger   *slog.Logger
}

// Option configures a run.
type Option func(*Harness)

// WithLogger routes engine logs. Runs discard them by default.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation, with a
// clock fixed at the scenario's now and session IDs taken from the
// scenario, so traces are identical across runs.
//
// Execution flow:
// 1. Create fresh in-memory database
// 2. Commit setup sessions directly to the store
// 3. Load the controller and execute flow steps with expect validation
// 4. Evaluate assertions against the final state
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	now, err := time.Parse(time.RFC3339, scenario.Now)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: now: %w", scenario.Name, err)
	}
	subject := scenario.Subject
	if subject == "" {
		subject = DefaultSubject
	}

	h := &Harness{
		subject: subject,
		clock:   newScenarioClock(now),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}

	st, err := store.Open(":memory:", store.WithClock(h.clock))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h.store = st
	h.commits = &recordingStore{SessionView: st.Sessions()}
	h.sessions = engine.NewSessions(subject, h.commits, []engine.Option{
		engine.WithClock(h.clock),
		engine.WithLogger(h.logger),
	})

	result := NewResult()
	if err := h.executeSetup(ctx, scenario.Setup, result); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	if err := h.sessions.Load(ctx, true); err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	h.executeFlow(ctx, scenario.Flow, result)

	actx := &AssertionContext{
		Ctx:       ctx,
		Store:     st,
		Sessions:  h.sessions,
		SubjectID: subject,
		Now:       h.clock.Now(),
		Batches:   len(h.commits.Batches()),
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// executeSetup commits each setup session in its own batch, planned the
// same way the controller plans a save.
func (h *Harness) executeSetup(ctx context.Context, setup []EventSpec, result *Result) error {
	now := h.clock.Now()
	for i, spec := range setup {
		ev, err := spec.build(h.subject, now)
		if err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if err := ev.Validate(); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		batch, err := engine.SessionPlanner{}.Plan(h.subject, engine.Mutation[ir.SessionEvent]{
			Kind:  engine.MutationSave,
			After: &ev,
		}, now)
		if err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if err := h.store.CommitBatch(ctx, batch); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		result.AddTrace(TraceEvent{Step: i, Op: "seed", ID: ev.ID, Writes: describeWrites(batch)})
	}
	return nil
}

// executeFlow runs each step and checks it against its expect clause. A
// step's failure is recorded and the flow continues, so later steps can
// observe the rolled-back state.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) {
	for i, step := range flow {
		event := TraceEvent{Step: i}
		h.commits.FailNext(step.FailCommit)
		before := len(h.commits.Batches())

		err := h.executeStep(ctx, step, &event)
		h.commits.FailNext(false)

		if batches := h.commits.Batches(); len(batches) > before {
			for _, b := range batches[before:] {
				event.Writes = append(event.Writes, describeWrites(b)...)
			}
		}
		if err != nil {
			event.Error = errorKind(err)
		}
		result.AddTrace(event)

		want := ""
		if step.Expect != nil {
			want = step.Expect.Error
		}
		switch {
		case want == "" && err != nil:
			result.AddError(fmt.Sprintf("flow[%d]: %s %s: unexpected error: %v", i, event.Op, event.ID, err))
		case want != "" && err == nil:
			result.AddError(fmt.Sprintf("flow[%d]: %s %s: expected %s error, got success", i, event.Op, event.ID, want))
		case want != "" && event.Error != want:
			result.AddError(fmt.Sprintf("flow[%d]: %s %s: expected %s error, got %v", i, event.Op, event.ID, want, err))
		}
		if err != nil {
			h.sessions.ClearError()
		}
	}
}

func (h *Harness) executeStep(ctx context.Context, step FlowStep, event *TraceEvent) error {
	now := h.clock.Now()
	switch {
	case step.Log != nil:
		event.Op, event.ID = "log", step.Log.ID
		ev, err := step.Log.build(h.subject, now)
		if err != nil {
			return err
		}
		_, err = h.sessions.Log(ctx, ev)
		return err

	case step.Edit != nil:
		event.Op, event.ID = "edit", step.Edit.ID
		ev, ok := h.sessions.Find(step.Edit.ID)
		if !ok {
			built, err := step.Edit.build(h.subject, now)
			if err != nil {
				return err
			}
			ev = built
		} else if err := step.Edit.apply(&ev, now); err != nil {
			return err
		}
		_, err := h.sessions.Edit(ctx, ev)
		return err

	case step.Remove != "":
		event.Op, event.ID = "remove", step.Remove
		return h.sessions.Remove(ctx, step.Remove)

	case step.Advance != "":
		event.Op = "advance"
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return err
		}
		h.clock.Advance(d)
		return nil

	case step.Reload != nil:
		event.Op = "reload"
		return h.sessions.Load(ctx, *step.Reload)
	}
	return errors.New("empty step")
}

// errorKind maps an error to the name scenarios expect it by.
func errorKind(err error) string {
	switch {
	case engine.IsValidationError(err):
		return ExpectValidation
	case engine.IsPersistenceError(err):
		return ExpectPersistence
	default:
		return "error"
	}
}

// describeWrites renders a batch's writes without timestamps, e.g.
// "merge pet-1/daily/2026-03-14 fluid_done=true fluid_volume_given+120".
func describeWrites(b ir.Batch) []string {
	out := make([]string, 0, len(b.Writes))
	for _, w := range b.Writes {
		var sb strings.Builder
		fmt.Fprintf(&sb, "%s %s", w.Mode, w.Key)
		for _, field := range w.Fields.SortedKeys() {
			switch op := w.Fields[field].(type) {
			case ir.Increment:
				fmt.Fprintf(&sb, " %s%+d", field, int64(op))
			case ir.Assign:
				switch v := op.Value.(type) {
				case ir.Int:
					fmt.Fprintf(&sb, " %s=%d", field, int64(v))
				case ir.Bool:
					fmt.Fprintf(&sb, " %s=%t", field, bool(v))
				}
			case ir.Unset:
				fmt.Fprintf(&sb, " %s=unset", field)
			}
		}
		out = append(out, sb.String())
	}
	return out
}

// recordingStore is the scenario's session store. It records committed
// batches and fails a commit on request.
type recordingStore struct {
	store.SessionView

	mu       sync.Mutex
	failNext bool
	batches  []ir.Batch
}

// CommitBatch implements engine.Committer.
func (s *recordingStore) CommitBatch(ctx context.Context, batch ir.Batch) error {
	s.mu.Lock()
	fail := s.failNext
	s.failNext = false
	s.mu.Unlock()
	if fail {
		return fmt.Errorf("commit batch %s: %w", batch.ID, errInjected)
	}

	if err := s.SessionView.CommitBatch(ctx, batch); err != nil {
		return err
	}
	s.mu.Lock()
	s.batches = append(s.batches, batch)
	s.mu.Unlock()
	return nil
}

// FailNext arms or disarms a failure of the next commit.
func (s *recordingStore) FailNext(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = fail
}

// Batches returns the batches committed through the controller.
func (s *recordingStore) Batches() []ir.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ir.Batch(nil), s.batches...)
}

// scenarioClock reads a time that moves only on Advance. Timers and
// tickers fall through to the real clock; the engine only reads Now.
type scenarioClock struct {
	quartz.Clock

	mu  sync.Mutex
	now time.Time
}

func newScenarioClock(now time.Time) *scenarioClock {
	return &scenarioClock{Clock: quartz.NewReal(), now: now}
}

func (c *scenarioClock) Now(...string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *scenarioClock) Since(t time.Time, _ ...string) time.Duration {
	return c.Now().Sub(t)
}

func (c *scenarioClock) Until(t time.Time, _ ...string) time.Duration {
	return t.Sub(c.Now())
}

// Advance moves the clock forward by d.
func (c *scenarioClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
