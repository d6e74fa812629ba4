package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/replichat/internal/chat"
	"github.com/roach88/replichat/internal/model"
	"github.com/roach88/replichat/internal/store"
	"github.com/roach88/replichat/internal/syncproto"
	"github.com/roach88/replichat/internal/testutil"
)

// DefaultMaxRounds bounds sync steps that do not set max_rounds.
const DefaultMaxRounds = 20

// Harness is the scenario execution engine. It owns the replicas of one
// run and resolves step labels to changes and messages.
type Harness struct {
	store  *store.Store
	clock  *testutil.StepClock
	syncer *syncproto.Syncer
	logger *slog.Logger

	replicas map[string]*chat.Replica
	order    []string
	changes  map[string]*model.Change
	messages map[string]string // label -> message id
}

// Option configures a run.
type Option func(*Harness)

// WithLogger sets the logger used by the harness and its replicas
// (default: discard).
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = logger
	}
}

// WithSyncer sets the sync engine shared by all replicas.
func WithSyncer(s *syncproto.Syncer) Option {
	return func(h *Harness) {
		h.syncer = s
	}
}

// Run executes a scenario and returns the result.
//
// Each run uses a fresh in-memory database and a fresh clock, so results
// are reproducible. A step that fails unexpectedly is recorded in the
// result and stops the run; assertions are then skipped.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	step := time.Duration(scenario.StepMillis) * time.Millisecond
	h := &Harness{
		store:    st,
		clock:    testutil.NewStepClock(step),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		replicas: make(map[string]*chat.Replica),
		changes:  make(map[string]*model.Change),
		messages: make(map[string]string),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.syncer == nil {
		h.syncer = syncproto.NewSyncer(syncproto.WithLogger(h.logger))
	}

	for _, name := range scenario.Replicas {
		h.addReplica(chat.NewReplica(name, h.replicaOptions(len(h.order)+1)...))
	}

	ctx := context.Background()
	result := NewResult()

	for i, s := range scenario.Steps {
		ev := TraceEvent{Step: i + 1, Action: s.Action, Replica: s.Replica}
		err := h.executeStep(ctx, s, &ev)

		switch {
		case err != nil && s.ExpectError:
			ev.Error = err.Error()
		case err != nil:
			result.AddTrace(ev)
			result.AddError(fmt.Sprintf("step %d (%s): %v", i+1, s.Action, err))
			h.collectViews(result)
			return result, nil
		case s.ExpectError:
			result.AddError(fmt.Sprintf("step %d (%s): expected an error", i+1, s.Action))
		}
		result.AddTrace(ev)

		h.logger.Debug("step completed", "step", i+1, "action", s.Action, "detail", ev.Detail)
	}

	h.collectViews(result)
	for _, msg := range EvaluateAssertions(h, result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) replicaOptions(n int) []chat.Option {
	return []chat.Option{
		chat.WithActor(testutil.Actor(n)),
		chat.WithClock(h.clock.Now),
		chat.WithLogger(h.logger),
		chat.WithSyncer(h.syncer),
	}
}

func (h *Harness) addReplica(r *chat.Replica) {
	if _, ok := h.replicas[r.Name()]; !ok {
		h.order = append(h.order, r.Name())
	}
	h.replicas[r.Name()] = r
}

// Replica returns a replica of the current run by name.
func (h *Harness) Replica(name string) (*chat.Replica, bool) {
	r, ok := h.replicas[name]
	return r, ok
}

func (h *Harness) collectViews(result *Result) {
	result.Replicas = append([]string(nil), h.order...)
	for _, name := range h.order {
		result.Views[name] = h.replicas[name].GetMessages()
	}
}

func (h *Harness) replica(name string) (*chat.Replica, error) {
	r, ok := h.replicas[name]
	if !ok {
		return nil, fmt.Errorf("unknown replica %q", name)
	}
	return r, nil
}

func (h *Harness) change(label string) (*model.Change, error) {
	c, ok := h.changes[label]
	if !ok {
		return nil, fmt.Errorf("unknown change label %q", label)
	}
	return c, nil
}

func (h *Harness) executeStep(ctx context.Context, s Step, ev *TraceEvent) error {
	switch s.Action {
	case ActionAdd:
		r, err := h.replica(s.Replica)
		if err != nil {
			return err
		}
		c, err := r.AddMessage(s.User, s.Content)
		if err != nil {
			return err
		}
		if s.Label != "" {
			h.changes[s.Label] = c
			// AddMessage keys the message by its first op id.
			h.messages[s.Label] = "msg-" + c.OpID(0).String()
		}
		ev.Detail = fmt.Sprintf("%s: %s", s.User, s.Content)
		return nil

	case ActionEdit:
		r, err := h.replica(s.Replica)
		if err != nil {
			return err
		}
		id, ok := h.messages[s.Message]
		if !ok {
			return fmt.Errorf("unknown message label %q", s.Message)
		}
		c, err := r.EditMessage(id, s.Content)
		if err != nil {
			return err
		}
		if s.Label != "" {
			h.changes[s.Label] = c
		}
		ev.Detail = fmt.Sprintf("%s -> %s", s.Message, s.Content)
		return nil

	case ActionDeliver, ActionBroadcast:
		c, err := h.change(s.Change)
		if err != nil {
			return err
		}
		targets := s.To
		if len(targets) == 0 {
			for _, name := range h.order {
				if name != s.Replica {
					targets = append(targets, name)
				}
			}
		}
		replicas := make([]*chat.Replica, 0, len(targets))
		for _, name := range targets {
			r, err := h.replica(name)
			if err != nil {
				return err
			}
			replicas = append(replicas, r)
		}
		ev.Detail = fmt.Sprintf("%s -> %s", s.Change, strings.Join(targets, ", "))
		return chat.Broadcast(c, replicas...)

	case ActionSync:
		r, err := h.replica(s.Replica)
		if err != nil {
			return err
		}
		peer, err := h.replica(s.Peer)
		if err != nil {
			return err
		}
		maxRounds := s.MaxRounds
		if maxRounds == 0 {
			maxRounds = DefaultMaxRounds
		}
		ev.Detail = fmt.Sprintf("%s <-> %s", s.Replica, s.Peer)
		ev.Rounds, err = r.SyncWith(peer, maxRounds)
		return err

	case ActionFork:
		r, err := h.replica(s.Replica)
		if err != nil {
			return err
		}
		f, err := r.Fork(s.Name, h.replicaOptions(len(h.order)+1)...)
		if err != nil {
			return err
		}
		h.addReplica(f)
		ev.Detail = fmt.Sprintf("%s -> %s", s.Replica, s.Name)
		return nil

	case ActionReload:
		r, err := h.replica(s.Replica)
		if err != nil {
			return err
		}
		if err := r.Save(ctx, h.store); err != nil {
			return err
		}
		loaded, err := chat.LoadReplica(ctx, h.store, s.Replica,
			chat.WithClock(h.clock.Now),
			chat.WithLogger(h.logger),
			chat.WithSyncer(h.syncer),
		)
		if err != nil {
			return err
		}
		h.addReplica(loaded)
		changes, err := h.store.LoadChanges(ctx, s.Replica)
		if err != nil {
			return err
		}
		ev.Detail = fmt.Sprintf("%d changes", len(changes))
		return nil
	}

	return fmt.Errorf("unknown action %q", s.Action)
}
