package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/replichat/internal/chat"
	"github.com/roach88/replichat/internal/config"
	"github.com/roach88/replichat/internal/store"
	"github.com/roach88/replichat/internal/store/boltstore"
	"github.com/roach88/replichat/internal/syncproto"
)

// changeLog is what the commands need from a store backend.
type changeLog interface {
	chat.ChangeLog
	ListReplicas(ctx context.Context) ([]string, error)
	Close() error
}

var (
	_ changeLog = (*store.Store)(nil)
	_ changeLog = (*boltstore.Storage)(nil)
)

// resolve loads the configuration and configures logging. Diagnostics go
// to the command's stderr so JSON output on stdout stays parseable.
func (o *RootOptions) resolve(cmd *cobra.Command) error {
	var (
		cfg *config.Config
		err error
	)
	if o.ConfigPath != "" {
		cfg, err = config.Load(o.ConfigPath)
	} else {
		cfg, err = config.Default()
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	o.Config = cfg

	logLevel := cfg.Log.SlogLevel()
	if o.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	})
	o.Logger = slog.New(handler)
	return nil
}

// formatter returns an OutputFormatter writing to the command's streams.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// openLog opens the configured store backend. path overrides the
// configured path when non-empty.
func (o *RootOptions) openLog(ctx context.Context, path string) (changeLog, error) {
	if path == "" {
		path = o.Config.Store.Path
	}
	o.Logger.Debug("opening store", "backend", o.Config.Store.Backend, "path", path)

	var (
		log changeLog
		err error
	)
	switch o.Config.Store.Backend {
	case config.BackendBolt:
		log, err = boltstore.New(ctx, path)
	default:
		log, err = store.Open(path)
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	return log, nil
}

func (o *RootOptions) closeLog(log changeLog) {
	if err := log.Close(); err != nil {
		o.Logger.Error("error closing store", "error", err)
	}
}

func (o *RootOptions) syncer() *syncproto.Syncer {
	return syncproto.NewSyncer(
		syncproto.WithFalsePositiveRate(o.Config.Sync.FalsePositiveRate),
		syncproto.WithLogger(o.Logger),
	)
}

func (o *RootOptions) replicaOptions() []chat.Option {
	opts := []chat.Option{
		chat.WithLogger(o.Logger),
		chat.WithSyncer(o.syncer()),
	}
	if o.Now != nil {
		opts = append(opts, chat.WithClock(o.Now))
	}
	return opts
}

// replicaName falls back to the configured replica.
func (o *RootOptions) replicaName(name string) string {
	if name != "" {
		return name
	}
	return o.Config.Replica
}

// loadReplica loads a stored replica. With create set, a name that was
// never saved yields a fresh replica instead of an error.
func (o *RootOptions) loadReplica(ctx context.Context, log changeLog, name string, create bool) (*chat.Replica, error) {
	r, err := chat.LoadReplica(ctx, log, name, o.replicaOptions()...)
	switch {
	case err == nil:
		o.Logger.Debug("replica loaded", "replica", name, "heads", len(r.Heads()))
		return r, nil
	case create && errors.Is(err, chat.ErrUnknownReplica):
		o.Logger.Info("creating replica", "replica", name)
		return chat.NewReplica(name, o.replicaOptions()...), nil
	case errors.Is(err, chat.ErrUnknownReplica):
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("replica %q not found", name), err)
	}
	return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to load replica %q", name), err)
}

func (o *RootOptions) saveReplica(ctx context.Context, log changeLog, r *chat.Replica) error {
	if err := r.Save(ctx, log); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to save replica %q", r.Name()), err)
	}
	return nil
}
