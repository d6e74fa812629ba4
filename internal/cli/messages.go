package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/replichat/internal/chat"
)

// MessageView is one message as printed by the CLI.
type MessageView struct {
	ID      string    `json:"id"`
	User    string    `json:"user"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
	Edited  bool      `json:"edited,omitempty"`
}

func (m MessageView) String() string {
	s := fmt.Sprintf("[%s] %s: %s", m.At.Format(time.TimeOnly), m.User, m.Content)
	if m.Edited {
		s += " (edited)"
	}
	return s
}

func newMessageView(m chat.Message) MessageView {
	return MessageView{
		ID:      m.ID,
		User:    m.UserID,
		Content: m.Content,
		At:      time.UnixMilli(int64(m.Timestamp)).UTC(),
		Edited:  m.Edited,
	}
}

// ReplicaView is a replica's message list.
type ReplicaView struct {
	Replica  string        `json:"replica"`
	Messages []MessageView `json:"messages"`
}

func newReplicaView(r *chat.Replica) ReplicaView {
	msgs := r.GetMessages()
	v := ReplicaView{Replica: r.Name(), Messages: make([]MessageView, len(msgs))}
	for i, m := range msgs {
		v.Messages[i] = newMessageView(m)
	}
	return v
}

func (v ReplicaView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d messages)", v.Replica, len(v.Messages))
	for _, m := range v.Messages {
		b.WriteString("\n  ")
		b.WriteString(m.String())
	}
	return b.String()
}

// PostResult reports a message written by post or edit.
type PostResult struct {
	Replica string `json:"replica"`
	ID      string `json:"id"`
	Change  string `json:"change"`
}

func (p PostResult) String() string {
	return fmt.Sprintf("%s: %s (change %s)", p.Replica, p.ID, p.Change)
}

// PostOptions holds flags for the post command.
type PostOptions struct {
	*RootOptions
	Replica string
	User    string
	Content string
}

// NewPostCommand creates the post command.
func NewPostCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PostOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "post",
		Short: "Add a message to a replica",
		Long: `Add a message to a stored replica and save it. A replica that does not
exist yet is created with a new actor id.

Examples:
  replichat post --user alice --content "hello"
  replichat post --replica laptop --user bob --content "hi" --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPost(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Replica, "replica", "r", "", "replica name (default from config)")
	cmd.Flags().StringVarP(&opts.User, "user", "u", "", "author user id (required)")
	cmd.Flags().StringVar(&opts.Content, "content", "", "message text")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runPost(opts *PostOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	log, err := opts.openLog(ctx, "")
	if err != nil {
		return err
	}
	defer opts.closeLog(log)

	r, err := opts.loadReplica(ctx, log, opts.replicaName(opts.Replica), true)
	if err != nil {
		return err
	}
	c, err := r.AddMessage(opts.User, opts.Content)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to add message", err)
	}
	if err := opts.saveReplica(ctx, log, r); err != nil {
		return err
	}

	return opts.formatter(cmd).Success(PostResult{
		Replica: r.Name(),
		ID:      "msg-" + c.OpID(0).String(),
		Change:  c.Hash.Short(),
	})
}

// EditOptions holds flags for the edit command.
type EditOptions struct {
	*RootOptions
	Replica string
	Content string
}

// NewEditCommand creates the edit command.
func NewEditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "edit <message-id>",
		Short: "Replace a message's content",
		Long: `Replace the content of a message and mark it edited. The message id is
the one printed by post and messages --format json.

Example:
  replichat edit msg-1@3f2a... --content "hello again"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Replica, "replica", "r", "", "replica name (default from config)")
	cmd.Flags().StringVar(&opts.Content, "content", "", "new message text")

	return cmd
}

func runEdit(opts *EditOptions, id string, cmd *cobra.Command) error {
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
	c, err := r.EditMessage(id, opts.Content)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to edit message", err)
	}
	if err := opts.saveReplica(ctx, log, r); err != nil {
		return err
	}

	return opts.formatter(cmd).Success(PostResult{
		Replica: r.Name(),
		ID:      id,
		Change:  c.Hash.Short(),
	})
}

// MessagesOptions holds flags for the messages command.
type MessagesOptions struct {
	*RootOptions
	Replica string
}

// NewMessagesCommand creates the messages command.
func NewMessagesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MessagesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "messages",
		Short:         "List a replica's messages in timestamp order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMessages(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Replica, "replica", "r", "", "replica name (default from config)")

	return cmd
}

func runMessages(opts *MessagesOptions, cmd *cobra.Command) error {
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
	return opts.formatter(cmd).Success(newReplicaView(r))
}
