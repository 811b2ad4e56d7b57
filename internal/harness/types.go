package harness

// TraceEvent is one observable step of a scenario: a checkpointed page,
// an inbox outcome, or a run total.
type TraceEvent struct {
	Run           int    `json:"run"`
	Type          string `json:"type"` // "page", "inbox" or "run"
	Mode          string `json:"mode,omitempty"`
	Inbox         string `json:"inbox,omitempty"`
	Page          int    `json:"page,omitempty"`
	Conversations int    `json:"conversations"`
	Messages      int    `json:"messages"`
	Skipped       int    `json:"skipped"`
	Failed        int    `json:"failed"`
	TotalSynced   int    `json:"total_synced,omitempty"`
	Threads       int    `json:"threads,omitempty"`
	Repaired      int    `json:"depths_repaired,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Trace event types.
const (
	EventPage  = "page"
	EventInbox = "inbox"
	EventRun   = "run"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every run expectation and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace contains the events of every run in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failed expectations and assertions.
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

func (r *Result) addEvent(e TraceEvent) {
	r.Trace = append(r.Trace, e)
}

// Events returns the trace events of one type, in order.
func (r *Result) Events(eventType string) []TraceEvent {
	var out []TraceEvent
	for _, e := range r.Trace {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
