package harness

import "github.com/roach88/replichat/internal/chat"

// TraceEvent records one executed step.
type TraceEvent struct {
	Step    int    `json:"step"`
	Action  string `json:"action"`
	Replica string `json:"replica,omitempty"`
	Detail  string `json:"detail"`
	Rounds  int    `json:"rounds,omitempty"` // sync only
	Error   string `json:"error,omitempty"`  // expect_error steps
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step behaved as expected and every
	// assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`

	// Views holds each replica's messages after the last step, keyed by
	// replica name.
	Views map[string][]chat.Message `json:"views"`

	// Replicas lists replica names in creation order.
	Replicas []string `json:"replicas"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Views:  make(map[string][]chat.Message),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step to the trace.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
