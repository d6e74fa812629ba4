package cli

import (
	"github.com/sanity-io/litter"
	"github.com/spf13/cobra"

	"github.com/roach88/replichat/internal/chat"
	"github.com/roach88/replichat/internal/doc"
	"github.com/roach88/replichat/internal/model"
)

// Inspection is a debugging view of a replica's document and sync state.
type Inspection struct {
	Replica string          `json:"replica"`
	Actor   string          `json:"actor"`
	Heads   []string        `json:"heads"`
	Pending int             `json:"pending"`
	Peers   []PeerView      `json:"peers"`
	Changes []ChangeSummary `json:"changes"`
}

// PeerView is the durable sync state kept for one peer.
type PeerView struct {
	Name        string   `json:"name"`
	SharedHeads []string `json:"shared_heads"`
	Phase       string   `json:"phase"`
}

// ChangeSummary describes one change without its ops.
type ChangeSummary struct {
	Hash    string   `json:"hash"`
	Actor   string   `json:"actor"`
	Seq     uint64   `json:"seq"`
	Ops     int      `json:"ops"`
	Deps    []string `json:"deps"`
	Message string   `json:"message,omitempty"`
}

var dumper = litter.Options{
	StripPackageNames: true,
	HidePrivateFields: true,
	Compact:           false,
}

// inspectionDump has Inspection's layout without its methods.
type inspectionDump Inspection

func (i Inspection) String() string {
	return dumper.Sdump(inspectionDump(i))
}

func shortHashes(hs []model.ChangeHash) []string {
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = h.Short()
	}
	return out
}

func inspectReplica(r *chat.Replica) Inspection {
	in := Inspection{
		Replica: r.Name(),
		Actor:   r.Actor().String(),
		Heads:   shortHashes(r.Heads()),
		Peers:   []PeerView{},
	}

	_ = r.View(func(d *doc.Document) error {
		in.Pending = d.PendingCount()
		changes := d.Changes()
		in.Changes = make([]ChangeSummary, len(changes))
		for i, c := range changes {
			in.Changes[i] = ChangeSummary{
				Hash:    c.Hash.Short(),
				Actor:   c.Actor.String(),
				Seq:     c.Seq,
				Ops:     len(c.Ops),
				Deps:    shortHashes(c.Deps),
				Message: c.Message,
			}
		}
		return nil
	})

	heads := r.Heads()
	for _, p := range r.Peers() {
		st := r.SyncState(p)
		in.Peers = append(in.Peers, PeerView{
			Name:        p,
			SharedHeads: shortHashes(st.SharedHeads),
			Phase:       string(st.Phase(heads)),
		})
	}
	return in
}

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Replica string
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Dump a replica's heads, changes and sync peers",
		Long: `Dump the internals of a stored replica: its actor, frontier, the change
history in application order, changes still waiting for dependencies,
and the shared heads remembered for each sync peer.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Replica, "replica", "r", "", "replica name (default from config)")

	return cmd
}

func runInspect(opts *InspectOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	log, err := opts.openLog(ctx, "")
	if err != nil {
		return err
	}
	defer opts.closeLog(log)

	r, err := opts.loadReplica(ctx, log, opts.replicaName(opts.Replica), false)
	if err != nil {
		return err
	}
	return opts.formatter(cmd).Success(inspectReplica(r))
}
