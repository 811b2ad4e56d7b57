package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/roach88/frontcache/internal/cache"
	"github.com/roach88/frontcache/internal/engine"
	"github.com/roach88/frontcache/internal/store"
	"github.com/roach88/frontcache/internal/testutil"
)

// errInjected is the cause of every injected storage fault.
var errInjected = errors.New("injected fault")

// Harness is the scenario execution engine.
type Harness struct {
	store  *store.Store
	faulty *faultyStore
	api    *fixtureAPI
	clock  *testutil.FakeClock
	logger *slog.Logger

	// summaries holds each run's summary, indexed by run number - 1.
	summaries []*engine.Summary
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Create fresh in-memory database and the fixture account
// 2. Execute runs in order, applying additions and faults per run
// 3. Check each run's expectations
// 4. Evaluate assertions against the final cache
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:  st,
		faulty: &faultyStore{Storage: st},
		api:    newFixtureAPI(scenario.Inboxes),
		clock:  testutil.NewFakeClock(Epoch.Add(24 * time.Hour)),
		logger: slog.New(slog.DiscardHandler), // Suppress logs in tests
	}

	ctx := context.Background()
	result := NewResult()

	ids := make([]string, len(scenario.Runs))
	for i := range ids {
		ids[i] = fmt.Sprintf("run-%d", i+1)
	}
	syncer := engine.New(h.api, h.faulty,
		engine.WithLogger(h.logger),
		engine.WithNow(h.now),
		engine.WithRunIDs(engine.NewFixedGenerator(ids...)),
	)

	for i, step := range scenario.Runs {
		if err := h.executeRun(ctx, syncer, i+1, step, result); err != nil {
			return nil, fmt.Errorf("runs[%d]: %w", i, err)
		}
	}

	for i, assertion := range scenario.Assertions {
		if err := h.evaluate(ctx, assertion); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}

	return result, nil
}

// now advances the clock one second per reading so successive checkpoints
// are distinguishable.
func (h *Harness) now() time.Time {
	h.clock.Advance(time.Second)
	return h.clock.Now()
}

func (h *Harness) executeRun(ctx context.Context, syncer *engine.Syncer, n int, step RunStep, result *Result) error {
	mode, err := engine.ParseMode(step.Mode)
	if err != nil {
		return err
	}
	for _, add := range step.Add {
		h.api.add(add.Inbox, add.Conversations)
	}
	h.api.remove(step.Remove)
	h.api.setFaults(step.Fail)
	h.faulty.fail = step.Fail.Stores
	defer func() {
		h.api.setFaults(Faults{})
		h.faulty.fail = nil
	}()

	sum, runErr := syncer.Run(ctx, engine.Options{
		Mode:  mode,
		Inbox: step.Inbox,
		Limit: step.Limit,
		Progress: func(p engine.PageProgress) {
			result.addEvent(TraceEvent{
				Run:           n,
				Type:          EventPage,
				Inbox:         p.InboxID,
				Page:          p.Page,
				Conversations: p.Conversations,
				Messages:      p.Messages,
				Skipped:       p.Skipped,
				Failed:        p.Failed,
				TotalSynced:   p.TotalSynced,
				Reason:        string(p.Reason),
			})
		},
	})
	h.summaries = append(h.summaries, sum)

	if sum != nil {
		for _, r := range sum.InboxResults {
			result.addEvent(TraceEvent{
				Run:           n,
				Type:          EventInbox,
				Inbox:         r.InboxID,
				Page:          r.Pages,
				Conversations: r.Conversations,
				Messages:      r.Messages,
				Skipped:       r.Skipped,
				Failed:        r.FailedRecords,
				TotalSynced:   r.TotalSynced,
				Reason:        string(r.StopReason),
				Error:         r.Error,
			})
		}
	}

	run := TraceEvent{Run: n, Type: EventRun, Mode: string(mode)}
	if sum != nil {
		run.Conversations = sum.Conversations
		run.Messages = sum.Messages
		run.Failed = sum.FailedRecords
		run.Threads = sum.Threads
		run.Repaired = sum.DepthsRepaired
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	result.addEvent(run)

	checkExpect(n, step.Expect, sum, runErr, result)
	return nil
}

// checkExpect validates a run summary against its expect clause.
func checkExpect(n int, exp *RunExpect, sum *engine.Summary, runErr error, result *Result) {
	if exp == nil {
		if runErr != nil {
			result.AddError(fmt.Sprintf("run %d: unexpected error: %v", n, runErr))
		}
		return
	}

	if exp.Error != "" {
		if runErr == nil || !strings.Contains(runErr.Error(), exp.Error) {
			result.AddError(fmt.Sprintf("run %d: expected error containing %q, got %v", n, exp.Error, runErr))
		}
	} else if runErr != nil {
		result.AddError(fmt.Sprintf("run %d: unexpected error: %v", n, runErr))
	}
	if sum == nil {
		return
	}

	checks := []struct {
		name string
		want *int
		got  int
	}{
		{"inboxes", exp.Inboxes, sum.Inboxes},
		{"conversations", exp.Conversations, sum.Conversations},
		{"messages", exp.Messages, sum.Messages},
		{"failed_records", exp.FailedRecords, sum.FailedRecords},
		{"recovered", exp.Recovered, sum.Recovered},
		{"failures", exp.Failures, len(sum.Failures)},
		{"threads", exp.Threads, sum.Threads},
		{"depths_repaired", exp.DepthsRepaired, sum.DepthsRepaired},
	}
	for _, c := range checks {
		if c.want != nil && *c.want != c.got {
			result.AddError(fmt.Sprintf("run %d: %s: expected %d, got %d", n, c.name, *c.want, c.got))
		}
	}
}

// faultyStore fails conversation writes for selected ids.
type faultyStore struct {
	cache.Storage
	fail []string
}

func (f *faultyStore) UpsertConversation(ctx context.Context, c cache.Conversation) error {
	if slices.Contains(f.fail, c.ID) {
		return &cache.StorageError{Op: "upsert conversation", ID: c.ID, Err: errInjected}
	}
	return f.Storage.UpsertConversation(ctx, c)
}
