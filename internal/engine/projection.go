package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/roach88/carelog/internal/aggregate"
	"github.com/roach88/carelog/internal/daycache"
	"github.com/roach88/carelog/internal/ir"
)

// SessionProjection keeps today's day cache in step with a session
// controller.
//
// The cache is rebuilt after every load and whenever the wall clock
// crosses midnight. Between rebuilds each local mutation is recorded
// incrementally, and the seeded daily aggregate gets the same delta the
// store receives, so a rebuild after a background load still counts
// sessions logged elsewhere.
type SessionProjection struct {
	subjectID string
	clock     quartz.Clock
	logger    *slog.Logger

	mu    sync.Mutex
	items []ir.SessionEvent
	daily *aggregate.Daily
	cache *daycache.Cache
}

var _ Projection[ir.SessionEvent] = (*SessionProjection)(nil)

// NewSessionProjection creates an empty projection for subjectID.
func NewSessionProjection(subjectID string, clock quartz.Clock, logger *slog.Logger) *SessionProjection {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionProjection{subjectID: subjectID, clock: clock, logger: logger}
}

// Seed sets the stored daily aggregate used for fluid totals and rebuilds
// the cache. A nil daily means the day has no aggregate yet.
func (p *SessionProjection) Seed(daily *aggregate.Daily) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if daily != nil {
		d := *daily
		daily = &d
	}
	p.daily = daily
	p.rebuild(p.clock.Now())
}

// Reset implements Projection.
func (p *SessionProjection) Reset(items []ir.SessionEvent, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = items
	p.rebuild(now)
}

// Apply implements Projection.
func (p *SessionProjection) Apply(m Mutation[ir.SessionEvent], items []ir.SessionEvent, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.items = items
	if p.cache == nil || !p.cache.Covers(now) {
		p.rebuild(now)
		return
	}

	if m.Before != nil && p.cache.Covers(m.Before.OccurredAt) {
		p.cache.RemoveSession(p.entry(*m.Before))
	}
	if m.After != nil && p.cache.Covers(m.After.OccurredAt) {
		p.cache.RecordSession(p.entry(*m.After))
	}

	if p.daily == nil {
		return
	}
	for _, dd := range sessionDeltas(m) {
		if !ir.SameDay(dd.day, p.daily.Date) || !dd.delta.HasUpdates() {
			continue
		}
		next, err := p.daily.Apply(dd.delta.Materialize(now))
		if err != nil {
			p.logger.Warn("projection daily apply failed", "subject", p.subjectID, "error", err)
			continue
		}
		p.daily = &next
	}
}

// entry maps an event to its cache entry. With a seeded daily aggregate
// fluid totals are taken from it, so fluid volumes are tracked there.
func (p *SessionProjection) entry(e ir.SessionEvent) daycache.Entry {
	entry := daycache.EntryFor(e)
	if p.daily != nil && entry.Volume != nil {
		v := float64(ir.VolumeMilliliters(*entry.Volume))
		entry.Volume = &v
	}
	return entry
}

// Checkpoint implements Projection.
func (p *SessionProjection) Checkpoint() func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	items, daily := p.items, p.daily
	var cache *daycache.Cache
	if p.cache != nil {
		cache = p.cache.Clone()
	}
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.items, p.daily, p.cache = items, daily, cache
	}
}

// Invalidate drops the cache and the seeded aggregate, as on sign-out.
func (p *SessionProjection) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items, p.daily, p.cache = nil, nil, nil
}

// HasLoggedNear reports whether name was logged within tolerance of at.
// Days other than today are answered from the loaded sessions.
func (p *SessionProjection) HasLoggedNear(name string, at time.Time, tolerance time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollover()
	if p.cache.Covers(at) {
		return p.cache.HasLoggedNear(name, at, tolerance)
	}
	return daycache.Rebuild(p.subjectID, at, nil, p.items).HasLoggedNear(name, at, tolerance)
}

// Today returns a copy of today's cache.
func (p *SessionProjection) Today() *daycache.Cache {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollover()
	return p.cache.Clone()
}

// Daily returns a copy of the seeded daily aggregate, if any.
func (p *SessionProjection) Daily() (aggregate.Daily, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.daily == nil {
		return aggregate.Daily{}, false
	}
	return *p.daily, true
}

func (p *SessionProjection) rollover() {
	now := p.clock.Now()
	if p.cache == nil || !p.cache.Covers(now) {
		p.rebuild(now)
	}
}

func (p *SessionProjection) rebuild(now time.Time) {
	if p.daily != nil && !ir.SameDay(p.daily.Date, now) {
		p.logger.Debug("day rolled over, dropping seeded aggregate",
			"subject", p.subjectID,
			"seeded", ir.DateKey(p.daily.Date),
			"today", ir.DateKey(now),
		)
		p.daily = nil
	}
	p.cache = daycache.Rebuild(p.subjectID, now, p.daily, p.items)
}
