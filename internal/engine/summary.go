package engine

import (
	"time"

	"github.com/roach88/frontcache/internal/cache"
	"github.com/roach88/frontcache/internal/pager"
)

// Summary is the result of one run.
type Summary struct {
	RunID      string    `json:"run_id"`
	Mode       Mode      `json:"mode"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Totals across inboxes. Inboxes counts inboxes that completed without
	// being abandoned or interrupted.
	Inboxes        int `json:"inboxes"`
	Conversations  int `json:"conversations"`
	Messages       int `json:"messages"`
	FailedRecords  int `json:"failed_records"`
	Recovered      int `json:"recovered"`
	Threads        int `json:"threads"`
	DepthsRepaired int `json:"depths_repaired"`

	InboxResults []InboxResult `json:"inbox_results"`
	Failures     []Failure     `json:"failures"`

	// Stats is set only by the stats mode.
	Stats *cache.Stats `json:"stats,omitempty"`
}

// InboxResult is the outcome of one inbox.
type InboxResult struct {
	InboxID       string           `json:"inbox_id"`
	Name          string           `json:"name"`
	Pages         int              `json:"pages"`
	Conversations int              `json:"conversations"`
	Messages      int              `json:"messages"`
	Skipped       int              `json:"skipped"`
	FailedRecords int              `json:"failed_records"`
	TotalSynced   int              `json:"total_synced"`
	StopReason    pager.StopReason `json:"stop_reason,omitempty"`
	Error         string           `json:"error,omitempty"`

	// Recovered counts conversations whose messages a previous run left
	// pending and this run stored. Their messages are included in Messages.
	Recovered   int  `json:"recovered,omitempty"`
	// Interrupted is set when cancellation stopped the walk.
	Interrupted bool `json:"interrupted,omitempty"`
}

// Failure is an inbox abandoned mid-walk.
type Failure struct {
	InboxID string `json:"inbox_id"`
	Name    string `json:"name"`
	Page    int    `json:"page"`
	Error   string `json:"error"`
}

// Duration returns how long the run took.
func (s *Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// OK reports whether every inbox completed.
func (s *Summary) OK() bool {
	return len(s.Failures) == 0
}

// PageProgress is reported after every checkpointed page.
type PageProgress struct {
	InboxID       string
	InboxName     string
	Page          int
	Conversations int // written on this page
	Messages      int // stored on this page
	Skipped       int
	Failed        int
	TotalSynced   int
	Done          bool
	Reason        pager.StopReason
}

// ProgressFunc receives page progress. It is called on the run's goroutine
// and must not block for long.
type ProgressFunc func(PageProgress)
