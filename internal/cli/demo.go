package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/replichat/internal/chat"
	"github.com/roach88/replichat/internal/model"
)

// DemoOptions holds flags for the demo command.
type DemoOptions struct {
	*RootOptions
	Save bool
}

// DemoResult is the demo transcript and every replica's final view.
type DemoResult struct {
	Steps     []string      `json:"steps"`
	Views     []ReplicaView `json:"views"`
	Converged bool          `json:"converged"`
}

func (d DemoResult) String() string {
	var b strings.Builder
	for i, s := range d.Steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	for _, v := range d.Views {
		b.WriteString("\n")
		b.WriteString(v.String())
		b.WriteString("\n")
	}
	if d.Converged {
		b.WriteString("\nall replicas converged")
	} else {
		b.WriteString("\nreplicas diverged")
	}
	return b.String()
}

// NewDemoCommand creates the demo command.
func NewDemoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DemoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a three-user chat session in memory",
		Long: `Run a scripted session between three replicas: two users trade
messages by delivering changes directly, a third joins through the sync
protocol and posts, and the first message is edited. Prints the steps
and each replica's final messages.

Examples:
  replichat demo
  replichat demo --save --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Save, "save", false, "save the three replicas to the configured store")

	return cmd
}

func runDemo(opts *DemoOptions, cmd *cobra.Command) error {
	now := opts.Now
	if now == nil {
		now = strictClock(time.Now)
	}
	replicaOpts := append(opts.replicaOptions(), chat.WithClock(now))
	user1 := chat.NewReplica("user1", replicaOpts...)
	user2 := chat.NewReplica("user2", replicaOpts...)
	user3 := chat.NewReplica("user3", replicaOpts...)

	var steps []string
	post := func(r *chat.Replica, content string, to ...*chat.Replica) (*model.Change, error) {
		c, err := r.AddMessage(r.Name(), content)
		if err != nil {
			return nil, err
		}
		if err := chat.Broadcast(c, to...); err != nil {
			return nil, err
		}
		steps = append(steps, fmt.Sprintf("%s posts %q, delivered to %s", r.Name(), content, names(to)))
		return c, nil
	}

	first, err := post(user1, "Hello, anyone there?", user2)
	if err != nil {
		return WrapExitError(ExitFailure, "demo failed", err)
	}
	if _, err := post(user2, "Hi! Yes, I'm here!", user1); err != nil {
		return WrapExitError(ExitFailure, "demo failed", err)
	}
	if _, err := post(user1, "Great to see you!", user2); err != nil {
		return WrapExitError(ExitFailure, "demo failed", err)
	}

	rounds, err := user3.SyncWith(user1, opts.Config.Sync.MaxRounds)
	if err != nil {
		return WrapExitError(ExitFailure, "demo failed", err)
	}
	steps = append(steps, fmt.Sprintf("user3 joins and syncs with user1 in %d rounds", rounds))

	if _, err := post(user3, "Hey, can I join?", user1, user2); err != nil {
		return WrapExitError(ExitFailure, "demo failed", err)
	}

	id := "msg-" + first.OpID(0).String()
	edit, err := user1.EditMessage(id, "Hello, anyone there??? [Edit]")
	if err != nil {
		return WrapExitError(ExitFailure, "demo failed", err)
	}
	if err := chat.Broadcast(edit, user2, user3); err != nil {
		return WrapExitError(ExitFailure, "demo failed", err)
	}
	steps = append(steps, "user1 edits the first message, delivered to user2, user3")

	replicas := []*chat.Replica{user1, user2, user3}
	result := DemoResult{Steps: steps, Converged: true}
	for _, r := range replicas {
		result.Views = append(result.Views, newReplicaView(r))
		if !model.HashesEqual(r.Heads(), user1.Heads()) {
			result.Converged = false
		}
	}

	if opts.Save {
		ctx := cmd.Context()
		log, err := opts.openLog(ctx, "")
		if err != nil {
			return err
		}
		defer opts.closeLog(log)
		for _, r := range replicas {
			if err := opts.saveReplica(ctx, log, r); err != nil {
				return err
			}
		}
		opts.Logger.Info("demo replicas saved", "path", opts.Config.Store.Path)
	}

	if err := opts.formatter(cmd).Success(result); err != nil {
		return err
	}
	if !result.Converged {
		return NewExitError(ExitFailure, "replicas did not converge")
	}
	return nil
}

func names(rs []*chat.Replica) string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Name()
	}
	return strings.Join(out, ", ")
}

// strictClock wraps now so successive readings differ by at least a
// millisecond. The scripted posts happen faster than that, and messages
// with equal timestamps would fall back to key order.
func strictClock(now func() time.Time) func() time.Time {
	var last time.Time
	return func() time.Time {
		t := now().Truncate(time.Millisecond)
		if !t.After(last) {
			t = last.Add(time.Millisecond)
		}
		last = t
		return t
	}
}
