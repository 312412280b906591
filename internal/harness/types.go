package harness

// TraceEvent is one executed step of a scenario together with the writes
// it committed.
type TraceEvent struct {
	Step   int      `json:"step"`
	Op     string   `json:"op"` // seed, log, edit, remove, advance or reload
	ID     string   `json:"id,omitempty"`
	Error  string   `json:"error,omitempty"` // engine error code, if the step failed
	Writes []string `json:"writes,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion matched.
	Pass bool `json:"pass"`

	// Trace holds the executed steps in order, setup included.
	Trace []TraceEvent `json:"trace"`

	// Errors holds expectation and assertion failures. Empty if Pass.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an executed step.
func (r *Result) AddTrace(event TraceEvent) {
	r.Trace = append(r.Trace, event)
}
