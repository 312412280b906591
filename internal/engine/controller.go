package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/coder/quartz"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/carelog/internal/ir"
)

// Controller operations, used in errors, logs and metrics.
const (
	opLoad   = "load"
	opSave   = "save"
	opUpdate = "update"
	opDelete = "delete"
)

// Defaults for controller settings.
const (
	DefaultTTL        = 5 * time.Minute
	DefaultFetchLimit = 50
)

// Entity is a value a controller can hold: identified, dated, validated
// locally and deep-copied on every boundary.
type Entity[T any] interface {
	EntityID() string
	EntityDate() time.Time
	Validate() error
	Clone() T
}

// Reader fetches the most recent entities of a subject, newest first.
// A nil cursor starts from the newest.
type Reader[T any] interface {
	FetchRecent(ctx context.Context, subjectID string, limit int, cursor *ir.Cursor) ([]T, error)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc[T any] func(ctx context.Context, subjectID string, limit int, cursor *ir.Cursor) ([]T, error)

// FetchRecent calls f.
func (f ReaderFunc[T]) FetchRecent(ctx context.Context, subjectID string, limit int, cursor *ir.Cursor) ([]T, error) {
	return f(ctx, subjectID, limit, cursor)
}

// Committer applies a batch atomically: every write or none.
type Committer interface {
	CommitBatch(ctx context.Context, batch ir.Batch) error
}

// MutationKind identifies a local mutation.
type MutationKind int

const (
	MutationSave MutationKind = iota + 1
	MutationUpdate
	MutationDelete
)

// String returns the operation name.
func (k MutationKind) String() string {
	switch k {
	case MutationSave:
		return opSave
	case MutationUpdate:
		return opUpdate
	case MutationDelete:
		return opDelete
	default:
		return fmt.Sprintf("MutationKind(%d)", int(k))
	}
}

// Mutation describes one local change. Before is nil for a save and After
// is nil for a delete.
type Mutation[T any] struct {
	Kind   MutationKind
	Before *T
	After  *T
}

// Planner turns a mutation into the batch that persists it.
type Planner[T any] interface {
	Plan(subjectID string, m Mutation[T], at time.Time) (ir.Batch, error)
}

// Projection is derived state kept in step with a controller's items.
//
// The controller calls Reset after a load and Apply after each local
// mutation, with the controller's state lock held. Checkpoint returns a
// function restoring the projection to the moment it was taken; it is
// taken before Apply and invoked when the commit fails.
type Projection[T any] interface {
	Reset(items []T, now time.Time)
	Apply(m Mutation[T], items []T, now time.Time)
	Checkpoint() func()
}

// State is the controller's lifecycle state.
type State int

const (
	StateReady State = iota
	StateLoading
	StateSaving
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateLoading:
		return "loading"
	case StateSaving:
		return "saving"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// View is a point-in-time copy of a controller's state. Callers own it.
type View[T any] struct {
	Items     []T
	Current   *T
	State     State
	Err       error
	FetchedAt time.Time
	Fresh     bool
}

// Deps are the collaborators of a controller. Projection is optional.
type Deps[T any] struct {
	Reader     Reader[T]
	Committer  Committer
	Planner    Planner[T]
	Projection Projection[T]
}

type settings struct {
	ttl     time.Duration
	limit   int
	clock   quartz.Clock
	logger  *slog.Logger
	metrics *Metrics
	nonces  IDGenerator
}

// Option configures a Controller.
type Option func(*settings)

// WithTTL sets how long a load stays fresh. Non-positive values keep the
// default.
func WithTTL(ttl time.Duration) Option {
	return func(s *settings) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithFetchLimit sets how many entities a load fetches.
func WithFetchLimit(limit int) Option {
	return func(s *settings) {
		if limit > 0 {
			s.limit = limit
		}
	}
}

// WithClock sets the wall clock. Tests pass a quartz mock.
func WithClock(clock quartz.Clock) Option {
	return func(s *settings) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBatchNonces sets the generator that tags each mutation's batch.
func WithBatchNonces(ids IDGenerator) Option {
	return func(s *settings) {
		if ids != nil {
			s.nonces = ids
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

func resolve(opts []Option) settings {
	s := settings{
		ttl:    DefaultTTL,
		limit:  DefaultFetchLimit,
		clock:  quartz.NewReal(),
		logger: slog.Default(),
		nonces: UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Controller holds one subject's entities in memory and mutates them
// optimistically.
//
// A mutation is applied locally before its batch commits and restored
// exactly from a snapshot when the commit fails. Mutations are serialized
// in arrival order; loads do not queue behind them. The state lock is
// never held across a read or a commit.
//
// Thread-safety: all methods are safe for concurrent use.
type Controller[T Entity[T]] struct {
	subjectID string
	deps      Deps[T]
	settings

	queue     *mutationQueue
	gen       *Clock
	loads     singleflight.Group
	refreshes sync.WaitGroup

	mu        sync.Mutex
	items     []T
	current   *T
	state     State
	err       error
	fetchedAt time.Time
	loaded    bool
	pending   int
}

// NewController creates a controller for subjectID. It holds nothing until
// the first Load.
func NewController[T Entity[T]](subjectID string, deps Deps[T], opts ...Option) *Controller[T] {
	return &Controller[T]{
		subjectID: subjectID,
		deps:      deps,
		settings:  resolve(opts),
		queue:     newMutationQueue(),
		gen:       NewClock(),
	}
}

// SubjectID returns the subject the controller serves.
func (c *Controller[T]) SubjectID() string {
	return c.subjectID
}

// Load fetches the subject's recent entities.
//
// Without force, a load within the TTL of the last successful one returns
// immediately without I/O, and concurrent loads share one fetch. A fetch
// result is discarded when a mutation was applied or is in flight since
// the fetch started, so it never overwrites optimistic state. On failure
// the state becomes StateError and the previous items are kept.
func (c *Controller[T]) Load(ctx context.Context, force bool) error {
	if !force && c.isFresh() {
		c.metrics.recordLoad(loadHit)
		c.logger.Debug("load served from cache", "subject", c.subjectID)
		return nil
	}
	if force {
		return c.fetch(ctx)
	}

	ch := c.loads.DoChan(c.subjectID, func() (any, error) {
		return nil, c.fetch(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller[T]) fetch(ctx context.Context) error {
	c.mu.Lock()
	started := c.gen.Current()
	if c.state != StateSaving {
		c.state = StateLoading
	}
	c.mu.Unlock()

	items, err := c.deps.Reader.FetchRecent(ctx, c.subjectID, c.limit, nil)
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		perr := newPersistenceError(opLoad, c.subjectID, "", err)
		if c.pending == 0 {
			c.state = StateError
		}
		c.err = perr
		c.metrics.recordLoad(loadError)
		c.logger.Warn("load failed", "subject", c.subjectID, "error", err)
		return perr
	}

	if c.pending > 0 || c.gen.Current() != started {
		if c.state == StateLoading {
			c.state = StateReady
			if c.err != nil {
				c.state = StateError
			}
		}
		c.metrics.recordLoad(loadDiscarded)
		c.logger.Debug("load discarded after local mutation",
			"subject", c.subjectID,
			"started", started,
			"current", c.gen.Current(),
		)
		return nil
	}

	sortNewestFirst(items)
	c.items = items
	c.current = first(items)
	c.fetchedAt = now
	c.loaded = true
	// A load clears only the failure of an earlier load. Any other error
	// stays until ClearError.
	if c.err != nil && !isLoadFailure(c.err) {
		c.state = StateError
	} else {
		c.state = StateReady
		c.err = nil
	}
	if c.deps.Projection != nil {
		c.deps.Projection.Reset(cloneAll(items), now)
	}
	c.metrics.recordLoad(loadMiss)
	c.logger.Debug("loaded", "subject", c.subjectID, "items", len(items))
	return nil
}

// Save validates entity and adds it.
func (c *Controller[T]) Save(ctx context.Context, entity T) error {
	id := entity.EntityID()
	return c.mutate(ctx, opSave, id, func(items []T) (Mutation[T], []T, error) {
		if err := entity.Validate(); err != nil {
			return Mutation[T]{}, nil, err
		}
		if indexOf(items, id) >= 0 {
			return Mutation[T]{}, nil, fmt.Errorf("%s already exists", id)
		}
		after := entity.Clone()
		return Mutation[T]{Kind: MutationSave, After: &after}, insertSorted(items, after), nil
	})
}

// Update validates entity and replaces the held entity with the same ID.
func (c *Controller[T]) Update(ctx context.Context, entity T) error {
	id := entity.EntityID()
	return c.mutate(ctx, opUpdate, id, func(items []T) (Mutation[T], []T, error) {
		if err := entity.Validate(); err != nil {
			return Mutation[T]{}, nil, err
		}
		i := indexOf(items, id)
		if i < 0 {
			return Mutation[T]{}, nil, fmt.Errorf("%s is not loaded", id)
		}
		before := items[i].Clone()
		after := entity.Clone()
		next := slices.Clone(items)
		next[i] = after
		sortNewestFirst(next)
		return Mutation[T]{Kind: MutationUpdate, Before: &before, After: &after}, next, nil
	})
}

// Delete removes the held entity with id.
func (c *Controller[T]) Delete(ctx context.Context, id string) error {
	return c.mutate(ctx, opDelete, id, func(items []T) (Mutation[T], []T, error) {
		i := indexOf(items, id)
		if i < 0 {
			return Mutation[T]{}, nil, fmt.Errorf("%s is not loaded", id)
		}
		before := items[i].Clone()
		next := slices.Delete(slices.Clone(items), i, i+1)
		return Mutation[T]{Kind: MutationDelete, Before: &before}, next, nil
	})
}

// mutate runs one optimistic mutation. build derives the mutation and the
// next item list from the current one without modifying it.
func (c *Controller[T]) mutate(
	ctx context.Context,
	op, id string,
	build func(items []T) (Mutation[T], []T, error),
) error {
	if err := c.queue.Acquire(ctx); err != nil {
		return err
	}
	defer c.queue.Release()

	// Once started, a mutation either commits or rolls back.
	ctx = context.WithoutCancel(ctx)

	c.mu.Lock()
	now := c.clock.Now()
	m, next, err := build(c.items)
	var batch ir.Batch
	if err == nil {
		batch, err = c.deps.Planner.Plan(c.subjectID, m, now)
	}
	if err == nil {
		batch, err = batch.WithNonce(c.nonces.Generate())
	}
	if err != nil {
		verr := newValidationError(op, c.subjectID, id, err)
		c.state = StateError
		c.err = verr
		c.mu.Unlock()
		c.logger.Debug("mutation rejected", "op", op, "subject", c.subjectID, "id", id, "error", err)
		return verr
	}

	prevItems, prevCurrent := c.items, c.current
	var restore func()
	if c.deps.Projection != nil {
		restore = c.deps.Projection.Checkpoint()
		c.deps.Projection.Apply(m, cloneAll(next), now)
	}
	c.items = next
	c.current = first(next)
	c.state = StateSaving
	c.pending++
	c.gen.Next()
	c.mu.Unlock()

	err = c.deps.Committer.CommitBatch(ctx, batch)
	c.metrics.recordCommit(op, err)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending--
	c.gen.Next()

	if err != nil {
		c.items, c.current = prevItems, prevCurrent
		if restore != nil {
			restore()
		}
		perr := newPersistenceError(op, c.subjectID, id, err)
		c.state = StateError
		c.err = perr
		c.metrics.recordRollback(op)
		c.logger.Warn("commit failed, rolled back",
			"op", op,
			"subject", c.subjectID,
			"id", id,
			"batch", batch.ID,
			"error", err,
		)
		return perr
	}

	c.state = StateReady
	c.err = nil
	if c.loaded {
		c.fetchedAt = c.clock.Now()
	}
	c.logger.Info("committed",
		"op", op,
		"subject", c.subjectID,
		"id", id,
		"batch", batch.ID,
		"writes", len(batch.Writes),
	)
	return nil
}

// ClearError drops the last error and returns to StateReady unless a
// mutation is in flight.
func (c *Controller[T]) ClearError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = nil
	if c.state == StateError {
		c.state = StateReady
	}
}

// Snapshot returns a deep copy of the controller's state.
func (c *Controller[T]) Snapshot() View[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := View[T]{
		Items:     cloneAll(c.items),
		State:     c.state,
		Err:       c.err,
		FetchedAt: c.fetchedAt,
		Fresh:     c.freshLocked(),
	}
	if c.current != nil {
		cur := (*c.current).Clone()
		v.Current = &cur
	}
	return v
}

// ViewFresh returns the current snapshot. When the snapshot is past its
// TTL it also starts a background load; the stale view is still returned.
func (c *Controller[T]) ViewFresh(ctx context.Context) View[T] {
	v := c.Snapshot()
	if v.Fresh {
		return v
	}

	stale := &Error{
		Code:      ErrCodeCacheStale,
		Op:        opLoad,
		SubjectID: c.subjectID,
		Message:   "serving stale view, refreshing",
	}
	c.logger.Info("cache stale", "subject", c.subjectID, "fetched_at", v.FetchedAt, "error", stale)

	c.refreshes.Add(1)
	go func() {
		defer c.refreshes.Done()
		if err := c.Load(context.WithoutCancel(ctx), false); err != nil {
			c.logger.Warn("background refresh failed", "subject", c.subjectID, "error", err)
		}
	}()
	return v
}

// Wait blocks until background refreshes started by ViewFresh finish.
func (c *Controller[T]) Wait() {
	c.refreshes.Wait()
}

func (c *Controller[T]) isFresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.freshLocked()
}

func (c *Controller[T]) freshLocked() bool {
	return c.loaded && c.clock.Now().Sub(c.fetchedAt) < c.ttl
}

func isLoadFailure(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Op == opLoad
}

func sortNewestFirst[T Entity[T]](items []T) {
	slices.SortStableFunc(items, func(a, b T) int {
		return b.EntityDate().Compare(a.EntityDate())
	})
}

// insertSorted returns a new list with item placed before the first older
// entry.
func insertSorted[T Entity[T]](items []T, item T) []T {
	at := item.EntityDate()
	i := slices.IndexFunc(items, func(x T) bool { return x.EntityDate().Before(at) })
	if i < 0 {
		i = len(items)
	}
	return slices.Insert(slices.Clone(items), i, item)
}

func indexOf[T Entity[T]](items []T, id string) int {
	return slices.IndexFunc(items, func(x T) bool { return x.EntityID() == id })
}

func first[T any](items []T) *T {
	if len(items) == 0 {
		return nil
	}
	return &items[0]
}

func cloneAll[T Entity[T]](items []T) []T {
	if items == nil {
		return nil
	}
	out := make([]T, len(items))
	for i, x := range items {
		out[i] = x.Clone()
	}
	return out
}
