package engine

import (
	"context"
	"time"

	"github.com/roach88/carelog/internal/aggregate"
	"github.com/roach88/carelog/internal/daycache"
	"github.com/roach88/carelog/internal/ir"
)

// DailyReader fetches one daily aggregate. It returns nil, nil when the
// day has none.
type DailyReader interface {
	FetchDaily(ctx context.Context, subjectID string, day time.Time) (*aggregate.Daily, error)
}

// SessionStore is everything a Sessions controller reads and writes.
type SessionStore interface {
	Reader[ir.SessionEvent]
	Committer
	DailyReader
}

// AssessmentStore is everything an assessment controller reads and writes.
type AssessmentStore interface {
	Reader[ir.Assessment]
	Committer
}

// Sessions is the session controller of one subject together with its
// day cache.
type Sessions struct {
	*Controller[ir.SessionEvent]

	projection *SessionProjection
	daily      DailyReader
	ids        IDGenerator
	tolerance  time.Duration
}

// SessionsOption configures Sessions beyond the controller options.
type SessionsOption func(*Sessions)

// WithIDGenerator sets how new sessions get their IDs.
func WithIDGenerator(ids IDGenerator) SessionsOption {
	return func(s *Sessions) {
		if ids != nil {
			s.ids = ids
		}
	}
}

// WithTolerance sets the default dedup window.
func WithTolerance(d time.Duration) SessionsOption {
	return func(s *Sessions) {
		if d >= 0 {
			s.tolerance = d
		}
	}
}

// NewSessions creates the session controller for subjectID.
func NewSessions(subjectID string, store SessionStore, opts []Option, sopts ...SessionsOption) *Sessions {
	set := resolve(opts)
	projection := NewSessionProjection(subjectID, set.clock, set.logger)
	s := &Sessions{
		Controller: NewController(subjectID, Deps[ir.SessionEvent]{
			Reader:     store,
			Committer:  store,
			Planner:    SessionPlanner{},
			Projection: projection,
		}, opts...),
		projection: projection,
		daily:      store,
		ids:        UUIDv7Generator{},
		tolerance:  daycache.DefaultTolerance,
	}
	for _, opt := range sopts {
		opt(s)
	}
	return s
}

// NewAssessments creates the assessment controller for subjectID.
func NewAssessments(subjectID string, store AssessmentStore, opts ...Option) *Controller[ir.Assessment] {
	return NewController(subjectID, Deps[ir.Assessment]{
		Reader:    store,
		Committer: store,
		Planner:   AssessmentPlanner{},
	}, opts...)
}

// Load seeds today's daily aggregate and loads recent sessions. Within
// the TTL and without force it does no I/O. A failed aggregate read is
// logged and the cache falls back to the loaded sessions.
func (s *Sessions) Load(ctx context.Context, force bool) error {
	if !force && s.isFresh() {
		return s.Controller.Load(ctx, false)
	}
	daily, err := s.daily.FetchDaily(ctx, s.subjectID, s.clock.Now())
	if err != nil {
		s.logger.Warn("daily aggregate unavailable, cache uses sessions only",
			"subject", s.subjectID,
			"error", err,
		)
		daily = nil
	}
	s.projection.Seed(daily)
	return s.Controller.Load(ctx, force)
}

// Log assigns an ID, subject and creation time to e and saves it.
// The returned event is what was saved.
func (s *Sessions) Log(ctx context.Context, e ir.SessionEvent) (ir.SessionEvent, error) {
	now := s.clock.Now()
	if e.ID == "" {
		e.ID = s.ids.Generate()
	}
	e.SubjectID = s.subjectID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = now
	}
	if err := s.Save(ctx, e); err != nil {
		return ir.SessionEvent{}, err
	}
	return e, nil
}

// Edit stamps e as modified and replaces the logged session with its ID.
func (s *Sessions) Edit(ctx context.Context, e ir.SessionEvent) (ir.SessionEvent, error) {
	now := s.clock.Now()
	e.SubjectID = s.subjectID
	e.ModifiedAt = &now
	if err := s.Update(ctx, e); err != nil {
		return ir.SessionEvent{}, err
	}
	return e, nil
}

// Remove deletes the logged session with id.
func (s *Sessions) Remove(ctx context.Context, id string) error {
	return s.Delete(ctx, id)
}

// Find returns a copy of the loaded session with id.
func (s *Sessions) Find(id string) (ir.SessionEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := indexOf(s.items, id); i >= 0 {
		return s.items[i].Clone(), true
	}
	return ir.SessionEvent{}, false
}

// HasLoggedNear reports whether name was logged within the default
// tolerance of scheduledAt.
func (s *Sessions) HasLoggedNear(name string, scheduledAt time.Time) bool {
	return s.projection.HasLoggedNear(name, scheduledAt, s.tolerance)
}

// HasLoggedWithin is HasLoggedNear with an explicit tolerance.
func (s *Sessions) HasLoggedWithin(name string, scheduledAt time.Time, tolerance time.Duration) bool {
	return s.projection.HasLoggedNear(name, scheduledAt, tolerance)
}

// Today returns a copy of today's day cache.
func (s *Sessions) Today() *daycache.Cache {
	return s.projection.Today()
}

// TodayAggregate returns today's daily aggregate as last seeded and
// advanced by local mutations.
func (s *Sessions) TodayAggregate() (aggregate.Daily, bool) {
	return s.projection.Daily()
}

// Close drops the day cache, as on sign-out.
func (s *Sessions) Close() {
	s.projection.Invalidate()
}
