package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/frontcache/internal/cache"
	"github.com/roach88/frontcache/internal/frontapi"
	"github.com/roach88/frontcache/internal/pager"
	"github.com/roach88/frontcache/internal/thread"
)

// DefaultRecentLimit is the number of recent conversations in stats output.
const DefaultRecentLimit = 10

// API is the part of the remote API a run uses. *frontapi.Client implements it.
type API interface {
	pager.Fetcher
	ListInboxes(ctx context.Context) ([]frontapi.Inbox, error)
	ConversationsURL(inboxID string) string
	ListMessages(ctx context.Context, conversationID string) ([]frontapi.Message, error)
}

// Options selects what a run does.
type Options struct {
	Mode     Mode
	Inbox    string // id or case-insensitive name; "" = all inboxes
	Limit    int    // conversations per inbox; 0 = unlimited
	Progress ProgressFunc
}

// Syncer runs syncs against one API and one store. Runs must not overlap:
// the store has a single writer.
type Syncer struct {
	api    API
	store  cache.Storage
	logger *slog.Logger
	now    func() time.Time
	runIDs RunIDGenerator
	recent int
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Syncer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNow sets the wall clock used for synced_at and checkpoints.
func WithNow(now func() time.Time) Option {
	return func(s *Syncer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRunIDs sets the run id generator. Default: UUIDv7Generator.
func WithRunIDs(gen RunIDGenerator) Option {
	return func(s *Syncer) {
		if gen != nil {
			s.runIDs = gen
		}
	}
}

// WithRecentLimit sets how many recent conversations stats reports.
func WithRecentLimit(n int) Option {
	return func(s *Syncer) {
		if n >= 0 {
			s.recent = n
		}
	}
}

// New creates a Syncer. api may be nil when no credential is configured;
// stats runs still work and every other mode fails with
// frontapi.ErrMissingCredential before any network call.
func New(api API, store cache.Storage, opts ...Option) *Syncer {
	s := &Syncer{
		api:    api,
		store:  store,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
		runIDs: UUIDv7Generator{},
		recent: DefaultRecentLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes one run. The returned error is non-nil only when the run
// could not proceed at all, or when ctx was cancelled; in the latter case
// the partial summary is returned alongside the error.
func (s *Syncer) Run(ctx context.Context, opts Options) (*Summary, error) {
	if !opts.Mode.Valid() {
		return nil, &RunError{Code: ErrCodeUnknownMode, Message: fmt.Sprintf("unknown mode %q", opts.Mode)}
	}

	sum := &Summary{
		RunID:        s.runIDs.Generate(),
		Mode:         opts.Mode,
		StartedAt:    s.now(),
		InboxResults: []InboxResult{},
		Failures:     []Failure{},
	}
	log := s.logger.With("run", sum.RunID, "mode", string(opts.Mode))

	if opts.Mode.ReadOnly() {
		st, err := s.store.Stats(ctx, s.recent)
		if err != nil {
			return nil, &RunError{Code: ErrCodeStats, Message: "read cache stats", Err: err}
		}
		sum.Stats = st
		sum.FinishedAt = s.now()
		return sum, nil
	}

	if s.api == nil {
		return nil, frontapi.ErrMissingCredential
	}

	log.Info("run started", "inbox_filter", opts.Inbox, "limit", opts.Limit)

	all, err := s.api.ListInboxes(ctx)
	if err != nil {
		return nil, &RunError{Code: ErrCodeListInboxes, Message: "list inboxes", Err: err}
	}
	inboxes, err := selectInboxes(all, opts.Inbox)
	if err != nil {
		return nil, err
	}

	for _, in := range inboxes {
		if err := ctx.Err(); err != nil {
			break
		}
		res := s.syncInbox(ctx, log, in, opts)
		sum.InboxResults = append(sum.InboxResults, res)
		sum.Conversations += res.Conversations
		sum.Messages += res.Messages
		sum.FailedRecords += res.FailedRecords
		sum.Recovered += res.Recovered
		if res.Interrupted {
			continue
		}
		if res.Error != "" {
			sum.Failures = append(sum.Failures, Failure{
				InboxID: res.InboxID,
				Name:    res.Name,
				Page:    res.Pages + 1,
				Error:   res.Error,
			})
			continue
		}
		sum.Inboxes++
	}

	threads, repaired, err := s.repairDepths(context.WithoutCancel(ctx))
	if err != nil {
		log.Warn("thread depth repair failed", "error", err)
	}
	sum.Threads = threads
	sum.DepthsRepaired = repaired
	sum.FinishedAt = s.now()

	log.Info("run finished",
		"inboxes", sum.Inboxes,
		"conversations", sum.Conversations,
		"messages", sum.Messages,
		"threads", sum.Threads,
		"depths_repaired", sum.DepthsRepaired,
		"failures", len(sum.Failures),
	)

	if err := ctx.Err(); err != nil {
		return sum, fmt.Errorf("run interrupted: %w", err)
	}
	return sum, nil
}

// selectInboxes applies the inbox filter: an exact id or a case-insensitive name.
func selectInboxes(all []frontapi.Inbox, filter string) ([]frontapi.Inbox, error) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return all, nil
	}
	for _, in := range all {
		if in.ID == filter || strings.EqualFold(in.Name, filter) {
			return []frontapi.Inbox{in}, nil
		}
	}
	return nil, NewInboxNotFoundError(filter, len(all))
}

// syncInbox walks one inbox. Every outcome, including an abandoned walk,
// is reported in the result rather than returned.
func (s *Syncer) syncInbox(ctx context.Context, log *slog.Logger, in frontapi.Inbox, opts Options) InboxResult {
	log = log.With("inbox", in.ID)
	res := InboxResult{InboxID: in.ID, Name: in.Name}

	if err := s.store.UpsertInbox(ctx, cache.Inbox{ID: in.ID, Name: in.Name}); err != nil {
		log.Warn("inbox write failed", "error", err)
	}

	req, base, err := s.walkRequest(ctx, log, in.ID, opts)
	if err != nil {
		log.Warn("inbox abandoned", "error", err)
		res.Error = err.Error()
		return res
	}

	if opts.Mode != ModeInit {
		mr := s.retryPending(ctx, log, in.ID)
		res.Recovered = mr.done
		res.Messages += mr.messages
		res.FailedRecords += mr.failed
	}

	w := pager.New(s.api, req)
	processed := 0
	for {
		if ctx.Err() != nil {
			log.Info("inbox interrupted", "page", res.Pages+1)
			res.Interrupted = true
			res.TotalSynced = base + processed
			break
		}
		batch, err := w.Next(ctx)
		if err != nil && ctx.Err() != nil {
			log.Info("inbox interrupted", "page", res.Pages+1)
			res.Interrupted = true
			res.TotalSynced = base + processed
			break
		}
		if err != nil {
			log.Warn("inbox abandoned", "page", res.Pages+1, "error", err)
			res.Error = err.Error()
			res.TotalSynced = base + processed
			s.checkpoint(ctx, log, in.ID, res.TotalSynced, pageResult{})
			break
		}
		res.Pages = batch.Page
		res.Skipped += batch.Skipped

		pr := s.processPage(ctx, log, in.ID, batch.Items)
		processed += pr.conversations
		res.Conversations += pr.conversations
		res.Messages += pr.messages
		res.FailedRecords += pr.failed
		res.TotalSynced = base + processed
		s.checkpoint(ctx, log, in.ID, res.TotalSynced, pr)

		if opts.Progress != nil {
			opts.Progress(PageProgress{
				InboxID:       in.ID,
				InboxName:     in.Name,
				Page:          batch.Page,
				Conversations: pr.conversations,
				Messages:      pr.messages,
				Skipped:       batch.Skipped,
				Failed:        pr.failed,
				TotalSynced:   res.TotalSynced,
				Done:          batch.Done,
				Reason:        batch.Reason,
			})
		}

		if batch.Done {
			res.StopReason = batch.Reason
			if batch.Reason == pager.StopResumeNotFound {
				log.Warn("resume point not found", "anchor", req.ResumeFromID)
			}
			break
		}
	}

	if err := s.store.RefreshInbox(context.WithoutCancel(ctx), in.ID, s.now()); err != nil {
		log.Warn("inbox stats refresh failed", "error", err)
	}

	log.Info("inbox done",
		"pages", res.Pages,
		"conversations", res.Conversations,
		"messages", res.Messages,
		"stop", string(res.StopReason),
	)
	return res
}

// walkRequest builds the walk for one inbox and returns the total_synced
// base the run counts from.
func (s *Syncer) walkRequest(ctx context.Context, log *slog.Logger, inboxID string, opts Options) (pager.Request, int, error) {
	req := pager.Request{
		InboxID:  inboxID,
		StartURL: s.api.ConversationsURL(inboxID),
		Limit:    opts.Limit,
	}
	if opts.Mode == ModeInit {
		return req, 0, nil
	}

	state, err := s.store.GetSyncState(ctx, inboxID)
	if err != nil {
		return req, 0, fmt.Errorf("read sync state: %w", err)
	}
	base := 0
	if state != nil {
		base = state.TotalSynced
	}

	switch opts.Mode {
	case ModeResume:
		if state != nil {
			req.ResumeFromID = state.LastItemID
		}
		if req.ResumeFromID == "" {
			id, err := s.store.LastWrittenConversation(ctx, inboxID)
			if err != nil {
				return req, base, fmt.Errorf("find resume point: %w", err)
			}
			req.ResumeFromID = id
		}
		if req.ResumeFromID == "" {
			log.Info("no resume point, crawling from the top")
		} else {
			log.Debug("resuming", "anchor", req.ResumeFromID)
		}
	case ModeSync:
		if state != nil && state.LastItemAt != nil {
			req.Since = *state.LastItemAt
			log.Debug("incremental sync", "since", req.Since)
		} else {
			log.Info("no watermark, crawling from the top")
		}
	}
	return req, base, nil
}

type pageResult struct {
	conversations int
	messages      int
	failed        int
	lastID        string
	lastAt        *time.Time
}

// processPage persists one page: conversations in listing order, then a
// batch of message fetches, then the messages in listing order. Writes run
// to completion once the page is fetched; message fetches cut short by
// cancellation stay pending for the next resume or sync.
func (s *Syncer) processPage(ctx context.Context, log *slog.Logger, inboxID string, items []frontapi.Conversation) pageResult {
	var pr pageResult
	wctx := context.WithoutCancel(ctx)
	resolver := thread.NewResolver(s.store)

	written := make([]string, 0, len(items))
	for _, item := range items {
		link, err := resolver.Resolve(wctx, item.ParentURL())
		if err != nil {
			log.Warn("parent depth lookup failed", "conversation", item.ID, "error", err)
		}

		rec := toConversation(inboxID, item, link, s.now())
		if err := s.store.UpsertConversation(wctx, rec); err != nil {
			log.Warn("conversation skipped", "conversation", item.ID, "error", err)
			pr.failed++
			continue
		}
		written = append(written, item.ID)
		pr.conversations++
		pr.lastID = item.ID
		if at := item.ActivityAt(); pr.lastAt == nil || at.After(*pr.lastAt) {
			pr.lastAt = &at
		}
	}

	if err := s.store.MarkMessagesPending(wctx, written, true); err != nil {
		log.Warn("pending flag write failed", "error", err)
	}
	mr := s.storeMessages(ctx, log, written)
	pr.messages = mr.messages
	pr.failed += mr.failed
	return pr
}

type messageResult struct {
	done     int // conversations whose messages are all stored
	messages int
	failed   int
}

// storeMessages fetches the messages of each conversation concurrently and
// stores them in the order given. A conversation's pending flag is cleared
// only once every one of its messages is stored.
func (s *Syncer) storeMessages(ctx context.Context, log *slog.Logger, ids []string) messageResult {
	var mr messageResult
	if len(ids) == 0 {
		return mr
	}

	fetched := make([][]frontapi.Message, len(ids))
	errs := make([]error, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			fetched[i], errs[i] = s.api.ListMessages(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	wctx := context.WithoutCancel(ctx)
	done := make([]string, 0, len(ids))
	for i, id := range ids {
		if errs[i] != nil {
			if ctx.Err() != nil {
				log.Info("message fetch deferred", "conversation", id)
				continue
			}
			log.Warn("message fetch failed", "conversation", id, "error", errs[i])
			mr.failed++
			continue
		}
		complete := true
		for _, m := range fetched[i] {
			if _, err := s.store.InsertMessage(wctx, toMessage(id, m)); err != nil {
				log.Warn("message skipped", "conversation", id, "message", m.ID, "error", err)
				mr.failed++
				complete = false
				continue
			}
			mr.messages++
		}
		if complete {
			done = append(done, id)
		}
	}

	if err := s.store.MarkMessagesPending(wctx, done, false); err != nil {
		log.Warn("pending flag clear failed", "error", err)
		return mr
	}
	mr.done = len(done)
	return mr
}

// retryPending re-fetches the messages of conversations a previous run
// wrote but could not complete.
func (s *Syncer) retryPending(ctx context.Context, log *slog.Logger, inboxID string) messageResult {
	ids, err := s.store.PendingMessages(ctx, inboxID)
	if err != nil {
		log.Warn("pending message lookup failed", "error", err)
		return messageResult{}
	}
	if len(ids) == 0 {
		return messageResult{}
	}

	log.Info("retrying message fetches", "conversations", len(ids))
	mr := s.storeMessages(ctx, log, ids)
	if mr.done > 0 {
		log.Info("messages recovered", "conversations", mr.done, "messages", mr.messages)
	}
	return mr
}

// checkpoint persists the inbox's progress. It runs even when ctx has been
// cancelled so an interrupted run leaves a usable resume point.
func (s *Syncer) checkpoint(ctx context.Context, log *slog.Logger, inboxID string, total int, pr pageResult) {
	now := s.now()
	u := cache.SyncStateUpdate{
		LastSyncAt:  &now,
		LastItemAt:  pr.lastAt,
		TotalSynced: &total,
	}
	if pr.lastID != "" {
		u.LastItemID = &pr.lastID
	}
	if err := s.store.UpsertSyncState(context.WithoutCancel(ctx), inboxID, u); err != nil {
		log.Warn("checkpoint failed", "error", err)
	}
}

// repairDepths recomputes thread depths from every stored link and returns
// the number of threaded conversations and of depths corrected.
func (s *Syncer) repairDepths(ctx context.Context) (threads, repaired int, err error) {
	edges, err := s.store.ThreadEdges(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("load thread edges: %w", err)
	}
	for _, e := range edges {
		if e.ParentID != "" {
			threads++
		}
	}

	fixes := thread.Repairs(edges)
	if len(fixes) == 0 {
		return threads, 0, nil
	}
	repaired, err = s.store.UpdateThreadDepths(ctx, fixes)
	if err != nil {
		return threads, 0, fmt.Errorf("update thread depths: %w", err)
	}
	s.logger.Debug("thread depths repaired", "count", repaired)
	return threads, repaired, nil
}
