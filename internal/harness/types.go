package harness

// Trace entry types.
const (
	TraceApply   = "apply"
	TraceHistory = "history"
)

// TraceEvent is one line of a scenario trace. Events are named by their
// scenario labels so traces read the same on every machine.
type TraceEvent struct {
	Type    string `json:"type"` // "apply" or "history"
	Replica string `json:"replica"`

	// Batch is the 1-based delivery that produced an apply entry.
	Batch int `json:"batch,omitempty"`

	Event    string   `json:"event,omitempty"`
	Relation string   `json:"relation,omitempty"`
	Known    bool     `json:"known,omitempty"`
	Head     []string `json:"head,omitempty"`
	Seq      int64    `json:"seq,omitempty"`

	// Code is the ApplyError code of a rejected event.
	Code string `json:"code,omitempty"`

	// Events is the replica's deterministic history, for history entries.
	Events []string `json:"events,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// Trace holds every apply outcome in delivery order, followed by one
	// history entry per replica.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failures. Empty if Pass is true.
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

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Applies returns the apply entries of one replica.
func (r *Result) Applies(replica string) []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Type == TraceApply && ev.Replica == replica {
			out = append(out, ev)
		}
	}
	return out
}
