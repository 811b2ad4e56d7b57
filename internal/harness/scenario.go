package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/frontcache/internal/engine"
	"github.com/roach88/frontcache/internal/pager"
)

// Scenario defines a scripted sync scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Inboxes is the fake account's initial state.
	Inboxes []InboxFixture `yaml:"inboxes"`

	// Runs are executed in order against the same cache.
	Runs []RunStep `yaml:"runs"`

	// Assertions validate the cache after the last run.
	Assertions []Assertion `yaml:"assertions"`
}

// InboxFixture is one inbox and its conversation listing.
type InboxFixture struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// PageSize splits the listing into pages. 0 serves it as one page.
	PageSize int `yaml:"page_size,omitempty"`

	// Conversations in listing order, newest activity first.
	Conversations []ConversationFixture `yaml:"conversations"`
}

// ConversationFixture is one listing item. Times are minutes after the
// scenario epoch.
type ConversationFixture struct {
	ID          string   `yaml:"id"`
	Subject     string   `yaml:"subject,omitempty"`
	Status      string   `yaml:"status,omitempty"` // default "open"
	Minute      int      `yaml:"minute"`
	LastMessage int      `yaml:"last_message,omitempty"` // 0 = no last_message_at
	Parent      string   `yaml:"parent,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`

	// Messages is the number of messages served for the conversation.
	// Default 1.
	Messages *int `yaml:"messages,omitempty"`
}

// RunStep is one engine run.
type RunStep struct {
	Mode  string `yaml:"mode"`
	Inbox string `yaml:"inbox,omitempty"`
	Limit int    `yaml:"limit,omitempty"`

	// Add puts conversations at the top of inbox listings before the run.
	// An id already listed moves to the top.
	Add []AddStep `yaml:"add,omitempty"`

	// Remove deletes conversations from every listing before the run.
	Remove []string `yaml:"remove,omitempty"`

	// Fail injects faults for the duration of this run only.
	Fail Faults `yaml:"fail,omitempty"`

	// Expect checks the run summary. Unset fields are not checked.
	Expect *RunExpect `yaml:"expect,omitempty"`
}

// AddStep adds conversations to one inbox listing.
type AddStep struct {
	Inbox         string                `yaml:"inbox"`
	Conversations []ConversationFixture `yaml:"conversations"`
}

// Faults are injected failures.
type Faults struct {
	// Pages fail the listing request for a page of an inbox.
	Pages []PageFault `yaml:"pages,omitempty"`

	// Messages fail the message fetch for these conversations.
	Messages []string `yaml:"messages,omitempty"`

	// Stores fail the cache write for these conversations.
	Stores []string `yaml:"stores,omitempty"`
}

// PageFault fails one listing page (1-based).
type PageFault struct {
	Inbox string `yaml:"inbox"`
	Page  int    `yaml:"page"`
}

// RunExpect is a subset check on engine.Summary.
type RunExpect struct {
	Inboxes        *int   `yaml:"inboxes,omitempty"`
	Conversations  *int   `yaml:"conversations,omitempty"`
	Messages       *int   `yaml:"messages,omitempty"`
	FailedRecords  *int   `yaml:"failed_records,omitempty"`
	Recovered      *int   `yaml:"recovered,omitempty"`
	Failures       *int   `yaml:"failures,omitempty"`
	Threads        *int   `yaml:"threads,omitempty"`
	DepthsRepaired *int   `yaml:"depths_repaired,omitempty"`
	Error          string `yaml:"error,omitempty"` // substring of the run error
}

// Assertion validates the final cache state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "conversation": subset match on a cached conversation
	// - "sync_state": subset match on an inbox checkpoint
	// - "stop_reason": why run Run stopped walking Inbox
	// - "message_count": messages cached for Conversation
	// - "conversation_count": conversations cached (in Inbox, if set)
	Type string `yaml:"type"`

	// ID is the conversation id (used by conversation).
	ID string `yaml:"id,omitempty"`

	// Inbox is the inbox id (used by sync_state, stop_reason and
	// optionally conversation_count).
	Inbox string `yaml:"inbox,omitempty"`

	// Conversation is the conversation id (used by message_count).
	Conversation string `yaml:"conversation,omitempty"`

	// Run is the 1-based run number (used by stop_reason).
	Run int `yaml:"run,omitempty"`

	// Reason is the expected stop reason (used by stop_reason).
	Reason string `yaml:"reason,omitempty"`

	// Count is the expected count (used by message_count and
	// conversation_count).
	Count int `yaml:"count,omitempty"`

	// Expect contains expected field values (used by conversation and
	// sync_state). Subset match - only specified fields are validated.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Absent asserts the conversation is not cached (used by conversation).
	Absent bool `yaml:"absent,omitempty"`
}

// Assertion type constants.
const (
	AssertConversation      = "conversation"
	AssertSyncState         = "sync_state"
	AssertStopReason        = "stop_reason"
	AssertMessageCount      = "message_count"
	AssertConversationCount = "conversation_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// LoadScenarios loads every *.yaml scenario in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Inboxes) == 0 {
		return fmt.Errorf("inboxes list is required and must be non-empty")
	}

	if len(s.Runs) == 0 {
		return fmt.Errorf("runs list is required and must be non-empty")
	}

	inboxes := make(map[string]bool, len(s.Inboxes))
	for i, in := range s.Inboxes {
		if in.ID == "" {
			return fmt.Errorf("inboxes[%d]: id is required", i)
		}
		if inboxes[in.ID] {
			return fmt.Errorf("inboxes[%d]: duplicate id %q", i, in.ID)
		}
		inboxes[in.ID] = true
		if in.PageSize < 0 {
			return fmt.Errorf("inboxes[%d]: page_size must be non-negative", i)
		}
		if err := validateConversations(fmt.Sprintf("inboxes[%d]", i), in.Conversations); err != nil {
			return err
		}
	}

	for i, run := range s.Runs {
		if _, err := engine.ParseMode(run.Mode); err != nil {
			return fmt.Errorf("runs[%d]: %w", i, err)
		}
		if run.Limit < 0 {
			return fmt.Errorf("runs[%d]: limit must be non-negative", i)
		}
		for j, add := range run.Add {
			if !inboxes[add.Inbox] {
				return fmt.Errorf("runs[%d].add[%d]: unknown inbox %q", i, j, add.Inbox)
			}
			if err := validateConversations(fmt.Sprintf("runs[%d].add[%d]", i, j), add.Conversations); err != nil {
				return err
			}
		}
		for j, pf := range run.Fail.Pages {
			if !inboxes[pf.Inbox] {
				return fmt.Errorf("runs[%d].fail.pages[%d]: unknown inbox %q", i, j, pf.Inbox)
			}
			if pf.Page < 1 {
				return fmt.Errorf("runs[%d].fail.pages[%d]: page is 1-based", i, j)
			}
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, len(s.Runs)); err != nil {
			return err
		}
	}

	return nil
}

func validateConversations(where string, convs []ConversationFixture) error {
	for i, c := range convs {
		if c.ID == "" {
			return fmt.Errorf("%s.conversations[%d]: id is required", where, i)
		}
		if c.Messages != nil && *c.Messages < 0 {
			return fmt.Errorf("%s.conversations[%d]: messages must be non-negative", where, i)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, runs int) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertConversation:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for conversation", index)
		}
		if a.Absent && len(a.Expect) > 0 {
			return fmt.Errorf("assertions[%d]: absent and expect are exclusive", index)
		}
	case AssertSyncState:
		if a.Inbox == "" {
			return fmt.Errorf("assertions[%d]: inbox is required for sync_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for sync_state", index)
		}
	case AssertStopReason:
		if a.Inbox == "" {
			return fmt.Errorf("assertions[%d]: inbox is required for stop_reason", index)
		}
		if a.Run < 1 || a.Run > runs {
			return fmt.Errorf("assertions[%d]: run must be between 1 and %d", index, runs)
		}
		switch pager.StopReason(a.Reason) {
		case pager.StopEnd, pager.StopLimit, pager.StopWatermark, pager.StopResumeNotFound:
		default:
			return fmt.Errorf("assertions[%d]: unknown stop reason %q", index, a.Reason)
		}
	case AssertMessageCount:
		if a.Conversation == "" {
			return fmt.Errorf("assertions[%d]: conversation is required for message_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for message_count", index)
		}
	case AssertConversationCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for conversation_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
