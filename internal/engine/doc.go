// Package engine drives a sync run: it selects inboxes, walks each inbox's
// conversation listing page by page, and persists what it finds.
//
// Per inbox, sequentially:
//  1. Resolve the walk: Init starts at the top, Resume anchors on the last
//     written conversation, Sync stops at the stored activity watermark.
//  2. Per page, upsert conversations one at a time. Thread depth is read
//     from the parent's stored row, so order matters.
//  3. Fetch every written conversation's messages as one errgroup batch.
//     Each fetch still waits on the shared rate limiter; a failed fetch is
//     logged and does not affect its siblings.
//  4. Insert messages one at a time, then checkpoint sync_state. A crash
//     loses at most the page in flight.
//
// A page that fails to fetch abandons its inbox after a checkpoint; the run
// moves on to the next inbox. Only failures that prevent the run from
// starting (no credential, inbox listing failed, unmatched filter) are
// returned as errors.
//
// After every inbox has been processed, depths of conversations whose parent
// was written after them are repaired from the full set of stored links.
package engine
