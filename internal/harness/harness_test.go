package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replichat/internal/testutil"
)

func mustParse(t *testing.T, src string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(src))
	require.NoError(t, err)
	return s
}

func TestRun_TestdataScenariosPass(t *testing.T) {
	for _, name := range []string{"chat_demo", "buffered_delivery", "fork_and_restart"} {
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
			require.NoError(t, err)

			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Len(t, result.Trace, len(s.Steps))
		})
	}
}

func TestRun_ForkAddsReplica(t *testing.T) {
	s := mustParse(t, `
name: actors
description: d
replicas: [a, b]
steps:
  - { action: fork, replica: a, name: c }
`)
	result, err := Run(s)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, []string{"a", "b", "c"}, result.Replicas)
	assert.Equal(t, "a -> c", result.Trace[0].Detail)
}

func TestRun_SyncRecordsRounds(t *testing.T) {
	s := mustParse(t, `
name: rounds
description: d
replicas: [a, b]
steps:
  - { action: add, replica: a, user: u, content: one }
  - { action: add, replica: a, user: u, content: two }
  - { action: sync, replica: b, peer: a }
  - { action: sync, replica: b, peer: a }
assertions:
  - { type: converged, replicas: [a, b] }
  - { type: message_count, replica: b, count: 2 }
`)
	result, err := Run(s)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	assert.Equal(t, "b <-> a", result.Trace[2].Detail)
	assert.Positive(t, result.Trace[2].Rounds)
	assert.LessOrEqual(t, result.Trace[3].Rounds, result.Trace[2].Rounds)
}

func TestRun_PendingUntilDependencyArrives(t *testing.T) {
	s := mustParse(t, `
name: pending
description: d
replicas: [a, b]
steps:
  - { action: add, replica: a, user: u, content: first, label: m1 }
  - { action: add, replica: a, user: u, content: second, label: m2 }
  - { action: deliver, change: m2, to: [b] }
assertions:
  - { type: pending, replica: b, count: 1 }
  - { type: message_count, replica: b, count: 0 }
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ConcurrentEditsConverge(t *testing.T) {
	s := mustParse(t, `
name: edit_conflict
description: d
replicas: [a, b]
steps:
  - { action: add, replica: a, user: u, content: draft, label: m1 }
  - { action: broadcast, replica: a, change: m1 }
  - { action: edit, replica: a, message: m1, content: "from a", label: ea }
  - { action: edit, replica: b, message: m1, content: "from b", label: eb }
  - { action: broadcast, replica: a, change: ea }
  - { action: broadcast, replica: b, change: eb }
assertions:
  - type: messages
    replica: a
    messages:
      - { user: u, content: "from b", edited: true }
  - { type: converged, replicas: [a, b] }
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ExpectError(t *testing.T) {
	s := &Scenario{
		Name:     "expect_error",
		Replicas: []string{"a"},
		Steps: []Step{
			{Action: ActionReload, Replica: "a", ExpectError: false},
			{Action: ActionSync, Replica: "a", Peer: "a", ExpectError: true},
		},
	}
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 2)
	assert.Equal(t, "0 changes", result.Trace[0].Detail)
	assert.NotEmpty(t, result.Trace[1].Error)
}

func TestRun_ExpectedErrorThatDoesNotHappen(t *testing.T) {
	s := &Scenario{
		Name:     "no_error",
		Replicas: []string{"a"},
		Steps: []Step{
			{Action: ActionAdd, Replica: "a", User: "u", Content: "fine", ExpectError: true},
		},
	}
	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected an error")
}

func TestRun_UnexpectedErrorStopsRun(t *testing.T) {
	s := &Scenario{
		Name:     "stops",
		Replicas: []string{"a", "b"},
		Steps: []Step{
			{Action: ActionAdd, Replica: "a", User: "u", Content: "kept"},
			{Action: ActionDeliver, Change: "missing", To: []string{"b"}},
			{Action: ActionAdd, Replica: "a", User: "u", Content: "never"},
		},
		Assertions: []Assertion{{Type: AssertMessageCount, Replica: "a", Count: 99}},
	}
	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)

	// The failing step is traced; the rest and the assertions are skipped.
	require.Len(t, result.Trace, 2)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `unknown change label "missing"`)
	assert.Len(t, result.Views["a"], 1)
}

func TestRun_FailedAssertions(t *testing.T) {
	s := mustParse(t, `
name: failing
description: d
replicas: [a, b]
steps:
  - { action: add, replica: a, user: u, content: only on a }
assertions:
  - type: messages
    replica: a
    messages:
      - { user: u, content: "something else" }
  - { type: message_count, replica: b, count: 1 }
  - { type: converged, replicas: [a, b] }
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "Assertion failed: messages (a)")
	assert.Contains(t, result.Errors[0], `u: "only on a"`)
	assert.Contains(t, result.Errors[1], "0 messages")
	assert.Contains(t, result.Errors[2], "Assertion failed: converged (b)")
}

func TestRun_StepMillis(t *testing.T) {
	s := mustParse(t, `
name: steps
description: d
replicas: [a]
step_ms: 10
steps:
  - { action: add, replica: a, user: u, content: one }
  - { action: add, replica: a, user: u, content: two }
`)
	result, err := Run(s)
	require.NoError(t, err)
	require.Len(t, result.Views["a"], 2)

	epoch := uint64(testutil.Epoch.UnixMilli())
	assert.Equal(t, epoch, result.Views["a"][0].Timestamp)
	assert.Equal(t, epoch+20, result.Views["a"][1].Timestamp)
}
