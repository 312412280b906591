package engine

import (
	"sync"

	"github.com/google/uuid"
)

// IDGenerator assigns identifiers to newly logged entities.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 session IDs.
//
// UUIDv7 embeds a timestamp in the most significant bits, so IDs of
// sessions logged on one device sort by creation time.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SequenceGenerator returns predetermined IDs for testing.
//
// Thread-safety: SequenceGenerator is safe for concurrent use via internal mutex.
type SequenceGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewSequenceGenerator creates a generator that returns ids in order.
//
// Example:
//
//	gen := NewSequenceGenerator("s-1", "s-2")
//	gen.Generate() // "s-1"
//	gen.Generate() // "s-2"
//	gen.Generate() // panic: all ids exhausted
func NewSequenceGenerator(ids ...string) *SequenceGenerator {
	return &SequenceGenerator{ids: ids}
}

// Generate returns the next predetermined ID.
//
// Panics if all IDs have been consumed, which means a test logged more
// sessions than it declared.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("SequenceGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
