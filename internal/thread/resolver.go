// Package thread derives parent linkage and thread depth for conversations.
//
// Depth is resolved inline at write time from the depth already stored for
// the parent. A parent that has not been stored yet (forward reference) gives
// the child depth 1. ComputeDepths recomputes exact depths from the full set
// of stored links once both ends are present.
package thread

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// DepthLookup reads the stored depth of a conversation.
type DepthLookup interface {
	DepthOf(ctx context.Context, id string) (depth int, found bool, err error)
}

// Link is the resolved thread position of one conversation.
type Link struct {
	ParentID string // "" for roots
	Depth    int
}

// Resolver resolves links against a DepthLookup. Calls must be made in
// insertion order: a child resolved before its parent is written gets the
// forward-reference default.
type Resolver struct {
	lookup DepthLookup
}

// NewResolver creates a resolver.
func NewResolver(lookup DepthLookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// Resolve computes the link for a conversation whose parent cross-reference
// is parentURL ("" when the conversation is a root).
func (r *Resolver) Resolve(ctx context.Context, parentURL string) (Link, error) {
	parentID := ParentID(parentURL)
	if parentID == "" {
		return Link{}, nil
	}

	depth, found, err := r.lookup.DepthOf(ctx, parentID)
	if err != nil {
		return Link{ParentID: parentID, Depth: 1}, fmt.Errorf("depth of parent %s: %w", parentID, err)
	}
	if !found {
		return Link{ParentID: parentID, Depth: 1}, nil
	}
	return Link{ParentID: parentID, Depth: depth + 1}, nil
}

// ParentID extracts the conversation id from a parent URL: the last non-empty
// path segment, ignoring any query or fragment. A bare id is returned as is.
func ParentID(parentURL string) string {
	parentURL = strings.TrimSpace(parentURL)
	if parentURL == "" {
		return ""
	}

	path := parentURL
	if u, err := url.Parse(parentURL); err == nil {
		path = u.Path
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	return segments[len(segments)-1]
}
