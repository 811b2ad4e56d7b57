package engine

import (
	"fmt"
	"strings"
)

// Mode selects what a run does. Modes are mutually exclusive.
type Mode string

const (
	// ModeInit crawls every selected inbox from the top.
	ModeInit Mode = "init"
	// ModeResume continues each inbox after its most recently written conversation.
	ModeResume Mode = "resume"
	// ModeSync fetches only conversations active since the stored watermark.
	ModeSync Mode = "sync"
	// ModeStats reads the cache without touching the network.
	ModeStats Mode = "stats"
)

// Modes lists every mode in the order they are documented.
var Modes = []Mode{ModeInit, ModeResume, ModeSync, ModeStats}

// ParseMode parses a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", &RunError{
			Code:    ErrCodeUnknownMode,
			Message: fmt.Sprintf("unknown mode %q", s),
		}
	}
	return m, nil
}

// Valid reports whether m is one of Modes.
func (m Mode) Valid() bool {
	for _, v := range Modes {
		if m == v {
			return true
		}
	}
	return false
}

// ReadOnly reports whether the mode never touches the network.
func (m Mode) ReadOnly() bool {
	return m == ModeStats
}
