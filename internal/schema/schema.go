// Package schema checks aggregate documents against the CUE definitions in
// aggregates.cue.
//
// The aggregate package repairs what it reads; this package reports. It is
// used where a human wants to know what was wrong before the repair: on
// import of legacy documents and by the check job over stored ones.
package schema

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"

	"github.com/roach88/carelog/internal/ir"
)

//go:embed aggregates.cue
var aggregatesCUE string

// Validation error codes (E200-E209)
const (
	ErrUnknownKind = "E200" // no definition for the document kind
	ErrEncode      = "E201" // document could not be encoded as CUE
	ErrConstraint  = "E202" // a field violates its definition
)

// ValidationError is one schema violation in a document.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validator holds the compiled definitions. It is not safe for concurrent
// use since a cue.Context is not.
type Validator struct {
	ctx  *cue.Context
	defs map[ir.DocumentKind]cue.Value
}

// New compiles the embedded definitions.
func New() (*Validator, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(aggregatesCUE, cue.Filename("aggregates.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("compile aggregate schema: %w", err)
	}

	v := &Validator{ctx: ctx, defs: make(map[ir.DocumentKind]cue.Value)}
	for kind, def := range map[ir.DocumentKind]string{
		ir.DocDaily:   "#Daily",
		ir.DocWeekly:  "#Weekly",
		ir.DocMonthly: "#Monthly",
	} {
		d := root.LookupPath(cue.ParsePath(def))
		if !d.Exists() {
			return nil, fmt.Errorf("aggregate schema: %s not defined", def)
		}
		v.defs[kind] = d
	}
	return v, nil
}

// Validate checks doc against the definition for kind and returns every
// violation found, ordered by field. An empty result means the document
// conforms. Documents use the external shape: key fields as strings,
// arrays as lists and updated_at as Unix milliseconds.
func (v *Validator) Validate(kind ir.DocumentKind, doc map[string]any) []ValidationError {
	def, ok := v.defs[kind]
	if !ok {
		return []ValidationError{{Code: ErrUnknownKind, Message: fmt.Sprintf("no schema for %q documents", kind)}}
	}

	val := v.ctx.Encode(doc)
	if err := val.Err(); err != nil {
		return []ValidationError{{Code: ErrEncode, Message: err.Error()}}
	}

	err := def.Unify(val).Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}
	return collect(err)
}

// collect flattens a CUE error list into one entry per field.
func collect(err error) []ValidationError {
	seen := make(map[string]bool)
	var out []ValidationError
	for _, e := range errors.Errors(err) {
		path := e.Path()
		for len(path) > 0 && strings.HasPrefix(path[0], "#") {
			path = path[1:]
		}
		field := strings.Join(path, ".")
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if seen[field+msg] {
			continue
		}
		seen[field+msg] = true
		out = append(out, ValidationError{Field: field, Message: msg, Code: ErrConstraint})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}
