package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/roach88/frontcache/internal/cache"
	"github.com/roach88/frontcache/internal/engine"
)

const timeLayout = "2006-01-02 15:04"

// renderSummary prints a run summary for humans.
func renderSummary(w io.Writer, sum *engine.Summary) error {
	fmt.Fprintf(w, "%s run %s (%s)\n", sum.Mode, sum.RunID, sum.Duration().Round(time.Millisecond))

	for _, r := range sum.InboxResults {
		if r.Error != "" {
			fmt.Fprintf(w, "  %s %-20s %s\n", color.New(color.FgRed).Sprint("FAIL"), r.Name, r.Error)
			continue
		}
		mark := color.New(color.FgGreen).Sprint("OK  ")
		switch {
		case r.Interrupted:
			mark = color.New(color.FgYellow).Sprint("STOP")
		case r.FailedRecords > 0:
			mark = color.New(color.FgYellow).Sprint("WARN")
		}
		fmt.Fprintf(w, "  %s %-20s pages=%d conversations=%d messages=%d skipped=%d failed=%d total=%d stop=%s\n",
			mark, r.Name, r.Pages, r.Conversations, r.Messages, r.Skipped, r.FailedRecords, r.TotalSynced, r.StopReason)
	}

	fmt.Fprintf(w, "Totals: %d inboxes, %d conversations, %d messages, %d failed records\n",
		sum.Inboxes, sum.Conversations, sum.Messages, sum.FailedRecords)
	fmt.Fprintf(w, "Threads: %d linked, %d depths repaired\n", sum.Threads, sum.DepthsRepaired)
	if sum.Recovered > 0 {
		fmt.Fprintf(w, "Recovered: messages of %d conversation(s) left pending by earlier runs\n", sum.Recovered)
	}

	if len(sum.Failures) > 0 {
		fmt.Fprintf(w, "%s %d inbox(es) abandoned; run resume to continue\n",
			color.New(color.FgRed).Sprint("Failures:"), len(sum.Failures))
		for _, f := range sum.Failures {
			fmt.Fprintf(w, "  %s page %d: %s\n", f.Name, f.Page, f.Error)
		}
	}
	return nil
}

// renderStats prints a cache snapshot for humans.
func renderStats(w io.Writer, st *cache.Stats) error {
	if st == nil {
		fmt.Fprintln(w, "cache is empty")
		return nil
	}
	bold := color.New(color.Bold)

	fmt.Fprintf(w, "%s %d conversations, %d messages, %d threaded\n",
		bold.Sprint("Cache:"), st.Conversations, st.Messages, st.Threads)

	fmt.Fprintln(w, bold.Sprint("Inboxes:"))
	if len(st.Inboxes) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	states := make(map[string]cache.SyncState, len(st.SyncStates))
	for _, s := range st.SyncStates {
		states[s.InboxID] = s
	}
	for _, in := range st.Inboxes {
		line := fmt.Sprintf("  %-20s %6d conversations", in.Name, in.ConversationCount)
		if s, ok := states[in.ID]; ok {
			line += fmt.Sprintf("  synced %s  total %d", formatTime(s.LastSyncAt), s.TotalSynced)
			if s.LastItemAt != nil {
				line += fmt.Sprintf("  watermark %s", formatTime(s.LastItemAt))
			}
		} else {
			line += "  " + color.New(color.FgYellow).Sprint("never synced")
		}
		fmt.Fprintln(w, line)
	}

	if len(st.Statuses) > 0 {
		fmt.Fprintln(w, bold.Sprint("Statuses:"))
		for _, s := range st.Statuses {
			fmt.Fprintf(w, "  %-20s %6d\n", s.Status, s.Count)
		}
	}

	if len(st.Recent) > 0 {
		fmt.Fprintln(w, bold.Sprint("Recent:"))
		for _, c := range st.Recent {
			at := c.LastMessageAt
			if at == nil {
				at = &c.CreatedAt
			}
			indent := ""
			if c.ThreadDepth > 0 {
				indent = fmt.Sprintf("%*s↳ ", 2*(c.ThreadDepth-1), "")
			}
			fmt.Fprintf(w, "  %s  %-10s %s%s\n", formatTime(at), c.Status, indent, c.Subject)
		}
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(timeLayout)
}
