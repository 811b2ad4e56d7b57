package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalScenario = `
name: minimal
description: "one inbox, one run"
inboxes:
  - id: inb_1
    conversations:
      - { id: cnv_1, minute: 1 }
runs:
  - mode: init
`

func TestLoadScenario_Minimal(t *testing.T) {
	s, err := LoadScenario(writeScenario(t, minimalScenario))
	require.NoError(t, err)

	assert.Equal(t, "minimal", s.Name)
	require.Len(t, s.Inboxes, 1)
	assert.Equal(t, "inb_1", s.Inboxes[0].ID)
	require.Len(t, s.Inboxes[0].Conversations, 1)
	assert.Nil(t, s.Inboxes[0].Conversations[0].Messages)
	require.Len(t, s.Runs, 1)
	assert.Equal(t, "init", s.Runs[0].Mode)
	assert.Nil(t, s.Runs[0].Expect)
}

func TestLoadScenario_Testdata(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	names := make(map[string]bool)
	for _, s := range scenarios {
		assert.False(t, names[s.Name], "duplicate scenario name %s", s.Name)
		names[s.Name] = true
	}
	assert.True(t, names["threaded_init"])
}

func TestLoadScenario_FileNotFound(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	_, err := LoadScenario(writeScenario(t, minimalScenario+"assertion: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing name",
			content: "description: d\ninboxes: [{id: a}]\nruns: [{mode: init}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			content: "name: n\ninboxes: [{id: a}]\nruns: [{mode: init}]\n",
			wantErr: "description is required",
		},
		{
			name:    "no inboxes",
			content: "name: n\ndescription: d\nruns: [{mode: init}]\n",
			wantErr: "inboxes list is required",
		},
		{
			name:    "no runs",
			content: "name: n\ndescription: d\ninboxes: [{id: a}]\n",
			wantErr: "runs list is required",
		},
		{
			name:    "duplicate inbox",
			content: "name: n\ndescription: d\ninboxes: [{id: a}, {id: a}]\nruns: [{mode: init}]\n",
			wantErr: "duplicate id",
		},
		{
			name:    "unknown mode",
			content: "name: n\ndescription: d\ninboxes: [{id: a}]\nruns: [{mode: replay}]\n",
			wantErr: "unknown mode",
		},
		{
			name:    "add to unknown inbox",
			content: "name: n\ndescription: d\ninboxes: [{id: a}]\nruns: [{mode: sync, add: [{inbox: b, conversations: [{id: c, minute: 1}]}]}]\n",
			wantErr: "unknown inbox",
		},
		{
			name:    "zero page fault",
			content: "name: n\ndescription: d\ninboxes: [{id: a}]\nruns: [{mode: init, fail: {pages: [{inbox: a, page: 0}]}}]\n",
			wantErr: "page is 1-based",
		},
		{
			name:    "conversation without id",
			content: "name: n\ndescription: d\ninboxes: [{id: a, conversations: [{minute: 1}]}]\nruns: [{mode: init}]\n",
			wantErr: "id is required",
		},
		{
			name:    "unknown assertion",
			content: "name: n\ndescription: d\ninboxes: [{id: a}]\nruns: [{mode: init}]\nassertions: [{type: trace_order}]\n",
			wantErr: "unknown assertion type",
		},
		{
			name:    "stop reason run out of range",
			content: "name: n\ndescription: d\ninboxes: [{id: a}]\nruns: [{mode: init}]\nassertions: [{type: stop_reason, inbox: a, run: 2, reason: end}]\n",
			wantErr: "run must be between 1 and 1",
		},
		{
			name:    "unknown stop reason",
			content: "name: n\ndescription: d\ninboxes: [{id: a}]\nruns: [{mode: init}]\nassertions: [{type: stop_reason, inbox: a, run: 1, reason: done}]\n",
			wantErr: "unknown stop reason",
		},
		{
			name:    "sync state without expect",
			content: "name: n\ndescription: d\ninboxes: [{id: a}]\nruns: [{mode: init}]\nassertions: [{type: sync_state, inbox: a}]\n",
			wantErr: "expect is required for sync_state",
		},
		{
			name:    "absent with expect",
			content: "name: n\ndescription: d\ninboxes: [{id: a}]\nruns: [{mode: init}]\nassertions: [{type: conversation, id: c, absent: true, expect: {status: open}}]\n",
			wantErr: "absent and expect are exclusive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid scenario")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
