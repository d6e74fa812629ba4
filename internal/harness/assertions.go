package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/replichat/internal/chat"
	"github.com/roach88/replichat/internal/doc"
	"github.com/roach88/replichat/internal/model"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Replica  string
	Expected string
	Actual   string
	Trace    []TraceEvent // full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Replica != "" {
		fmt.Fprintf(&buf, " (%s)", e.Replica)
	}
	buf.WriteString("\n")
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s\n", event.Step, event.Action, event.Detail)
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure
// messages (empty when all hold).
func EvaluateAssertions(h *Harness, result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertMessages:
			err = assertMessages(result, a)
		case AssertMessageCount:
			err = assertMessageCount(result, a)
		case AssertPending:
			err = assertPending(h, result, a)
		case AssertConverged:
			err = assertConverged(h, result, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

func formatMessages(msgs []chat.Message) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = fmt.Sprintf("%s: %q", m.UserID, m.Content)
		if m.Edited {
			parts[i] += " (edited)"
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatExpected(msgs []ExpectedMessage) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = fmt.Sprintf("%s: %q", m.User, m.Content)
		if m.Edited != nil && *m.Edited {
			parts[i] += " (edited)"
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// assertMessages requires the replica's messages to match exactly, in order.
func assertMessages(result *Result, a Assertion) error {
	got := result.Views[a.Replica]
	fail := &AssertionError{
		Type:     AssertMessages,
		Replica:  a.Replica,
		Expected: formatExpected(a.Messages),
		Actual:   formatMessages(got),
		Trace:    result.Trace,
	}

	if len(got) != len(a.Messages) {
		return fail
	}
	for i, want := range a.Messages {
		m := got[i]
		if m.UserID != want.User || m.Content != want.Content {
			return fail
		}
		if want.Edited != nil && m.Edited != *want.Edited {
			return fail
		}
	}
	return nil
}

func assertMessageCount(result *Result, a Assertion) error {
	if n := len(result.Views[a.Replica]); n != a.Count {
		return &AssertionError{
			Type:     AssertMessageCount,
			Replica:  a.Replica,
			Expected: fmt.Sprintf("%d messages", a.Count),
			Actual:   fmt.Sprintf("%d messages", n),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertPending(h *Harness, result *Result, a Assertion) error {
	r, err := h.replica(a.Replica)
	if err != nil {
		return err
	}
	var n int
	_ = r.View(func(d *doc.Document) error {
		n = d.PendingCount()
		return nil
	})
	if n != a.Count {
		return &AssertionError{
			Type:     AssertPending,
			Replica:  a.Replica,
			Expected: fmt.Sprintf("%d pending changes", a.Count),
			Actual:   fmt.Sprintf("%d pending changes", n),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertConverged requires equal heads and equal message views.
func assertConverged(h *Harness, result *Result, a Assertion) error {
	first, err := h.replica(a.Replicas[0])
	if err != nil {
		return err
	}
	wantHeads := first.Heads()
	wantView := result.Views[first.Name()]

	for _, name := range a.Replicas[1:] {
		r, err := h.replica(name)
		if err != nil {
			return err
		}
		if heads := r.Heads(); !model.HashesEqual(heads, wantHeads) {
			return &AssertionError{
				Type:     AssertConverged,
				Replica:  name,
				Expected: fmt.Sprintf("heads of %s: %s", first.Name(), shortHashes(wantHeads)),
				Actual:   shortHashes(heads),
				Trace:    result.Trace,
			}
		}
		if view := result.Views[name]; !slices.Equal(view, wantView) {
			return &AssertionError{
				Type:     AssertConverged,
				Replica:  name,
				Expected: fmt.Sprintf("messages of %s: %s", first.Name(), formatMessages(wantView)),
				Actual:   formatMessages(view),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}

func shortHashes(hs []model.ChangeHash) string {
	parts := make([]string, len(hs))
	for i, h := range hs {
		parts[i] = h.Short()
	}
	return "[" + strings.Join(parts, " ") + "]"
}
