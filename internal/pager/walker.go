// Package pager walks a cursor-linked conversation listing for one inbox.
//
// The walker yields filtered batches page by page and stops on the first of:
// the listing ends, the item limit is reached, or (incremental mode) an item
// older than the watermark is seen. In resume mode items are skipped until the
// resume anchor has been observed; the anchor itself is skipped too.
package pager

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/frontcache/internal/frontapi"
)

// Fetcher fetches one page of conversations.
type Fetcher interface {
	FetchConversations(ctx context.Context, pageURL string) (frontapi.ConversationPage, error)
}

// StopReason explains why a walk ended.
type StopReason string

const (
	// StopEnd means the listing had no further pages.
	StopEnd StopReason = "end"
	// StopLimit means the caller's item limit was reached.
	StopLimit StopReason = "limit"
	// StopWatermark means an item older than the watermark was reached.
	StopWatermark StopReason = "watermark"
	// StopResumeNotFound means the listing ended without the resume anchor
	// ever appearing. This is not an error.
	StopResumeNotFound StopReason = "resume_point_not_found"
)

// Request describes one walk.
type Request struct {
	InboxID      string
	StartURL     string
	Limit        int       // 0 = unlimited
	ResumeFromID string    // "" = no resume anchor
	Since        time.Time // zero = no watermark
}

// Batch is the filtered result of one page.
type Batch struct {
	Page    int
	Items   []frontapi.Conversation
	Skipped int // items skipped before the resume anchor (anchor included)
	Done    bool
	Reason  StopReason // set when Done
}

// Walker iterates a listing. It is not safe for concurrent use.
type Walker struct {
	fetcher Fetcher
	req     Request

	next       string
	page       int
	yielded    int
	anchorSeen bool
	done       bool
	reason     StopReason
}

// New creates a walker positioned at req.StartURL.
func New(fetcher Fetcher, req Request) *Walker {
	return &Walker{
		fetcher:    fetcher,
		req:        req,
		next:       req.StartURL,
		anchorSeen: req.ResumeFromID == "",
	}
}

// AnchorSeen reports whether the resume anchor has been observed.
// Always true when no anchor was requested.
func (w *Walker) AnchorSeen() bool {
	return w.anchorSeen
}

// Yielded returns the number of items yielded so far.
func (w *Walker) Yielded() int {
	return w.yielded
}

// Next fetches and filters the next page. Once a batch with Done=true has been
// returned, further calls return an empty Done batch without fetching.
func (w *Walker) Next(ctx context.Context) (Batch, error) {
	if w.done {
		return Batch{Page: w.page, Done: true, Reason: w.reason}, nil
	}
	if w.next == "" {
		w.finish(w.endReason())
		return Batch{Page: w.page, Done: true, Reason: w.reason}, nil
	}

	page, err := w.fetcher.FetchConversations(ctx, w.next)
	if err != nil {
		return Batch{}, fmt.Errorf("inbox %s page %d: %w", w.req.InboxID, w.page+1, err)
	}
	w.page++

	batch := Batch{Page: w.page}
	for _, item := range page.Results {
		if !w.anchorSeen {
			batch.Skipped++
			if item.ID == w.req.ResumeFromID {
				w.anchorSeen = true
			}
			continue
		}
		if !w.req.Since.IsZero() && item.ActivityAt().Before(w.req.Since) {
			w.finish(StopWatermark)
			break
		}

		batch.Items = append(batch.Items, item)
		w.yielded++
		if w.req.Limit > 0 && w.yielded >= w.req.Limit {
			w.finish(StopLimit)
			break
		}
	}

	if !w.done {
		if page.Next == "" || page.Next == w.next {
			w.finish(w.endReason())
		}
		w.next = page.Next
	}

	batch.Done = w.done
	batch.Reason = w.reason
	return batch, nil
}

func (w *Walker) endReason() StopReason {
	if !w.anchorSeen {
		return StopResumeNotFound
	}
	return StopEnd
}

func (w *Walker) finish(reason StopReason) {
	w.done = true
	w.reason = reason
}
