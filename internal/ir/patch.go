package ir

// PatchOp distinguishes the three states of a Patch.
type PatchOp int

const (
	// PatchKeep leaves the field unchanged. It is the zero value.
	PatchKeep PatchOp = iota
	// PatchClear sets the field to absent (nil for optional fields, zero otherwise).
	PatchClear
	// PatchSet replaces the field with a value.
	PatchSet
)

// Patch is a three-state field update used by copy-with style helpers.
//
// The zero Patch keeps the current value, so a patch struct only needs the
// fields it changes. Clear is distinct from Keep, which is what a single
// nullable parameter cannot express.
type Patch[T any] struct {
	op    PatchOp
	value T
}

// Keep returns a patch that leaves the field unchanged.
func Keep[T any]() Patch[T] { return Patch[T]{} }

// Clear returns a patch that sets the field to absent.
func Clear[T any]() Patch[T] { return Patch[T]{op: PatchClear} }

// Set returns a patch that replaces the field with v.
func Set[T any](v T) Patch[T] { return Patch[T]{op: PatchSet, value: v} }

// Op returns the patch state.
func (p Patch[T]) Op() PatchOp { return p.op }

// IsKeep reports whether the patch leaves the field unchanged.
func (p Patch[T]) IsKeep() bool { return p.op == PatchKeep }

// Value returns the value carried by a Set patch.
func (p Patch[T]) Value() (T, bool) {
	return p.value, p.op == PatchSet
}

// Apply resolves the patch against a required field; Clear yields the zero value.
func (p Patch[T]) Apply(cur T) T {
	switch p.op {
	case PatchSet:
		return p.value
	case PatchClear:
		var zero T
		return zero
	default:
		return cur
	}
}

// ApplyOptional resolves the patch against an optional field; Clear yields nil.
// The returned pointer never aliases the patch's value.
func (p Patch[T]) ApplyOptional(cur *T) *T {
	switch p.op {
	case PatchSet:
		v := p.value
		return &v
	case PatchClear:
		return nil
	default:
		return cur
	}
}
