// Package harness runs scripted sync scenarios against the real engine and
// an in-memory SQLite cache.
//
// A scenario describes a fake Front account (inboxes and their
// conversation listings), a sequence of runs with optional faults, and
// assertions on the resulting cache. It exercises the same code paths as
// the CLI, minus HTTP.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	inboxes:
//	  - id: inb_1
//	    name: Support
//	    page_size: 2
//	    conversations:           # listing order, newest first
//	      - id: cnv_2
//	        minute: 20           # created at epoch + 20m
//	        parent: cnv_1
//	        messages: 1
//	      - id: cnv_1
//	        minute: 10
//	runs:
//	  - mode: init
//	    fail:
//	      pages: [{ inbox: inb_1, page: 2 }]
//	      messages: [cnv_2]
//	      stores: [cnv_1]
//	    expect: { conversations: 2, failed_records: 0 }
//	  - mode: sync
//	    add:
//	      - inbox: inb_1
//	        conversations: [{ id: cnv_3, minute: 30 }]
//	assertions:
//	  - type: conversation
//	    id: cnv_2
//	    expect: { parent_id: cnv_1, thread_depth: 1 }
//	  - type: sync_state
//	    inbox: inb_1
//	    expect: { total_synced: 3 }
//
// # Assertion Types
//
//   - conversation: subset match on one cached conversation
//   - sync_state: subset match on one inbox's checkpoint
//   - stop_reason: why a run stopped walking an inbox
//   - message_count: messages cached for one conversation
//   - conversation_count: conversations cached, in total or for one inbox
//
// # Deterministic Testing
//
// Runs use fixed run ids (run-1, run-2, ...) and a fake clock that advances
// one second per reading, so traces are identical across executions and
// can be compared against golden files.
package harness
