package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/replichat/internal/model"
	"github.com/roach88/replichat/internal/testutil"
)

// Snapshot renders the deterministic part of a result as canonical JSON:
// the step trace and every replica's final messages, with timestamps as
// milliseconds after testutil.Epoch. Hashes and op ids are left out so the
// snapshot reads as a transcript.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	trace := make([]any, len(result.Trace))
	for i, ev := range result.Trace {
		m := map[string]any{
			"step":   ev.Step,
			"action": ev.Action,
			"detail": ev.Detail,
		}
		if ev.Replica != "" {
			m["replica"] = ev.Replica
		}
		trace[i] = m
	}

	epoch := testutil.Epoch.UnixMilli()
	views := make(map[string]any, len(result.Views))
	for name, msgs := range result.Views {
		list := make([]any, len(msgs))
		for i, msg := range msgs {
			list[i] = map[string]any{
				"at_ms":   int64(msg.Timestamp) - epoch,
				"user":    msg.UserID,
				"content": msg.Content,
				"edited":  msg.Edited,
			}
		}
		views[name] = list
	}

	return model.MarshalCanonical(map[string]any{
		"scenario": scenarioName,
		"trace":    trace,
		"views":    views,
	})
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
