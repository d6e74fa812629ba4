package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/replichat/internal/syncproto"
)

// SyncResult reports one sync run between two stored replicas.
type SyncResult struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Rounds int    `json:"rounds"`
	Heads  int    `json:"heads"`
}

func (s SyncResult) String() string {
	return fmt.Sprintf("%s <-> %s converged in %d rounds (%d heads)", s.From, s.To, s.Rounds, s.Heads)
}

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	MaxRounds int
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync <replica> <peer>",
		Short: "Run the sync protocol between two stored replicas",
		Long: `Load two replicas from the store, exchange sync messages until neither
has anything to send, and save both along with their per-peer sync state.
A later sync between the same pair resumes from that state.

Exit codes:
  0 - Replicas converged
  1 - Round limit reached before convergence
  2 - Command error (unknown replica, store failure)

Example:
  replichat sync laptop phone --max-rounds 50`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.MaxRounds, "max-rounds", 0, "round limit (default from config)")

	return cmd
}

func runSync(opts *SyncOptions, name, peerName string, cmd *cobra.Command) error {
	if name == peerName {
		return NewExitError(ExitCommandError, "a replica cannot sync with itself")
	}
	maxRounds := opts.MaxRounds
	if maxRounds <= 0 {
		maxRounds = opts.Config.Sync.MaxRounds
	}

	ctx := cmd.Context()
	log, err := opts.openLog(ctx, "")
	if err != nil {
		return err
	}
	defer opts.closeLog(log)

	r, err := opts.loadReplica(ctx, log, name, false)
	if err != nil {
		return err
	}
	peer, err := opts.loadReplica(ctx, log, peerName, false)
	if err != nil {
		return err
	}

	rounds, err := r.SyncWith(peer, maxRounds)
	if errors.Is(err, syncproto.ErrNotConverged) {
		// Partial progress is still worth keeping.
		_ = opts.saveReplica(ctx, log, r)
		_ = opts.saveReplica(ctx, log, peer)
		return WrapExitError(ExitFailure, "sync did not converge", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "sync failed", err)
	}
	if err := opts.saveReplica(ctx, log, r); err != nil {
		return err
	}
	if err := opts.saveReplica(ctx, log, peer); err != nil {
		return err
	}

	opts.Logger.Info("sync complete", "replica", name, "peer", peerName, "rounds", rounds)
	return opts.formatter(cmd).Success(SyncResult{
		From:   name,
		To:     peerName,
		Rounds: rounds,
		Heads:  len(r.Heads()),
	})
}

// ForkOptions holds flags for the fork command.
type ForkOptions struct {
	*RootOptions
	Replica string
}

// NewForkCommand creates the fork command.
func NewForkCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ForkOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fork <new-replica>",
		Short: "Copy a replica's history into a new replica",
		Long: `Create a new replica holding the same history under a fresh actor id.
The new replica is saved to the same store.

Example:
  replichat fork phone --replica laptop`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFork(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Replica, "replica", "r", "", "source replica (default from config)")

	return cmd
}

func runFork(opts *ForkOptions, name string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	log, err := opts.openLog(ctx, "")
	if err != nil {
		return err
	}
	defer opts.closeLog(log)

	existing, err := log.ListReplicas(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list replicas", err)
	}
	for _, n := range existing {
		if n == name {
			return NewExitError(ExitCommandError, fmt.Sprintf("replica %q already exists", name))
		}
	}

	src, err := opts.loadReplica(ctx, log, opts.replicaName(opts.Replica), false)
	if err != nil {
		return err
	}
	f, err := src.Fork(name)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to fork", err)
	}
	if err := opts.saveReplica(ctx, log, f); err != nil {
		return err
	}
	return opts.formatter(cmd).Success(newReplicaView(f))
}
