// Package driver implements the single-threaded loop every Raft node runs:
// wait-for-message, then a Tick and an optional IncomingRpc, then dispatch
// their resulting actions, then push a snapshot to the collector. Tick
// actions are always applied before message actions, and timers are
// accounted for by elapsed wall-clock time between iterations rather than
// by resetting on every loop pass.
package driver

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/leifraft/leifraft/internal/collector"
	"github.com/leifraft/leifraft/internal/raft"
)

// ErrNotLeader is returned by SubmitCommand when this node is not
// currently the cluster leader.
var ErrNotLeader = errors.New("driver: not leader")

// Transport is the asynchronous message exchange the driver suspends on.
// internal/transport.GRPCTransport satisfies this.
type Transport interface {
	WaitForNextIncomingMessage(ctx context.Context, maxWait time.Duration) (raft.Message, bool, error)
	EnqueueOutgoingRequest(req raft.Message)
	EnqueueReply(reply raft.Message)
}

// ApplyTarget is the external state machine ApplyLogEntriesAction notifies.
// internal/kvstore.Store satisfies this.
type ApplyTarget interface {
	ApplyRange(store raft.PersistentStore, from, to raft.LogIndex) error
}

// Clock abstracts time.Now so tests (and internal/simnet) can inject a
// virtual clock; the state machine itself still only ever learns "now"
// through a TickEvent, never by reading this directly.
type Clock interface {
	Now() time.Time
}

// systemClock is the production Clock: monotonic wall time.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the Clock production nodes should use.
var SystemClock Clock = systemClock{}

// Driver owns the single mutable role value a node's Step function
// transitions, plus the collaborators every action may need.
type Driver struct {
	serverID  raft.ServerId
	store     raft.PersistentStore
	cfg       raft.Config
	rng       raft.Rand
	transport Transport
	apply     ApplyTarget
	collector *collector.Collector
	clock     Clock
	peers     map[raft.ServerId]bool

	// role is mutated only by the Run goroutine. published holds the same
	// value for any other goroutine (the HTTP API) to read concurrently,
	// kept current at the end of every loop iteration. It is boxed in
	// roleBox because raft.Role's dynamic type changes across transitions
	// (Follower -> Candidate -> Leader) and atomic.Value panics if the
	// concrete type stored ever differs between calls.
	role      raft.Role
	published atomic.Value
}

type roleBox struct{ role raft.Role }

// New constructs a Driver. The node starts as a fresh Follower, matching
// what a newly booted or just-restarted process observes: it has no
// memory of who (if anyone) was leader before it started.
func New(
	serverID raft.ServerId,
	store raft.PersistentStore,
	cfg raft.Config,
	rng raft.Rand,
	transport Transport,
	apply ApplyTarget,
	coll *collector.Collector,
	clock Clock,
) *Driver {
	if clock == nil {
		clock = SystemClock
	}
	now := clock.Now()
	follower := raft.NewFollower(now, cfg, rng)
	peers := make(map[raft.ServerId]bool, len(cfg.Peers))
	for _, p := range cfg.Peers {
		peers[p] = true
	}
	d := &Driver{
		serverID:  serverID,
		store:     store,
		cfg:       cfg,
		rng:       rng,
		transport: transport,
		apply:     apply,
		collector: coll,
		clock:     clock,
		peers:     peers,
		role:      follower,
	}
	d.published.Store(roleBox{role: follower})
	return d
}

// Role reports the driver's current role. Safe to call from any goroutine.
func (d *Driver) Role() raft.Role { return d.published.Load().(roleBox).role }

// CurrentTerm reports the node's current term. Safe to call from any
// goroutine; backed by the store's own synchronization.
func (d *Driver) CurrentTerm() raft.TermIndex { return d.store.CurrentTerm() }

// CommitIndex reports the node's current commit index.
func (d *Driver) CommitIndex() raft.LogIndex {
	switch r := d.Role().(type) {
	case raft.FollowerRole:
		return r.CommitIndex
	case raft.CandidateRole:
		return r.CommitIndex
	case raft.LeaderRole:
		return r.CommitIndex
	default:
		return 0
	}
}

// LeaderID reports who this node believes is leader, if anyone.
func (d *Driver) LeaderID() (raft.ServerId, bool) {
	id := raft.LeaderForTerm(d.serverID, d.Role())
	if id == nil {
		return "", false
	}
	return *id, true
}

// Collector exposes the driver's event collector for the HTTP status
// endpoint.
func (d *Driver) Collector() *collector.Collector { return d.collector }

// SubmitCommand appends cmd to this node's own log if (and only if) it is
// currently leader: the leader appends locally and lets the existing
// replication cadence (the next heartbeat tick's broadcastAppendEntries)
// carry it to followers, rather than the driver synchronously waiting on
// quorum here.
func (d *Driver) SubmitCommand(cmd raft.Command) error {
	if _, ok := d.Role().(raft.LeaderRole); !ok {
		return ErrNotLeader
	}
	entry := raft.LogEntry{Term: d.store.CurrentTerm(), Command: cmd}
	d.store.AppendEntries(d.store.LogLen()+1, []raft.LogEntry{entry})
	return nil
}

// Run executes the loop until ctx is cancelled or the transport reports an
// unrecoverable error. It is meant to run on its own goroutine, the one
// dedicated execution context each node owns.
func (d *Driver) Run(ctx context.Context) error {
	interval := initialInterval(d.role, d.clock.Now())

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		before := d.clock.Now()
		msg, gotMessage, err := d.transport.WaitForNextIncomingMessage(ctx, interval)
		if err != nil {
			return err
		}
		elapsed := d.clock.Now().Sub(before)
		if elapsed < 0 {
			elapsed = 0
		}

		if gotMessage && !d.peers[raft.FromOf(msg)] {
			log.Debug().Str("server_id", string(d.serverID)).Str("from", string(raft.FromOf(msg))).Msg("dropping message from unknown sender")
			msg, gotMessage = nil, false
		}

		newRole, tickActions := raft.Step(d.serverID, d.role, raft.TickEvent{Now: d.clock.Now()}, d.store, d.cfg, d.rng)

		var msgActions []raft.Action
		if gotMessage {
			newRole, msgActions = raft.Step(d.serverID, newRole, raft.IncomingRpcEvent{Message: msg}, d.store, d.cfg, d.rng)
		}

		interval -= elapsed
		if interval < 0 {
			interval = 0
		}

		for _, a := range tickActions {
			interval = d.dispatch(a, interval)
		}
		for _, a := range msgActions {
			interval = d.dispatch(a, interval)
		}

		d.role = newRole
		d.published.Store(roleBox{role: d.role})
		if d.collector != nil {
			d.collector.Push(collector.SnapshotFrom(d.serverID, d.role, d.store, d.clock.Now()))
		}
	}
}

// dispatch applies one action's side effect and returns the (possibly
// updated) timer interval.
func (d *Driver) dispatch(a raft.Action, interval time.Duration) time.Duration {
	switch action := a.(type) {
	case raft.OutgoingRequestAction:
		d.transport.EnqueueOutgoingRequest(action.Request)
	case raft.OutgoingReplyAction:
		d.transport.EnqueueReply(action.Reply)
	case raft.StartTickTimerAction:
		log.Trace().Str("server_id", string(d.serverID)).Dur("duration", action.Duration).Msg("starting tick timer")
		return action.Duration
	case raft.ApplyLogEntriesAction:
		if d.apply == nil {
			return interval
		}
		if err := d.apply.ApplyRange(d.store, action.From, action.To); err != nil {
			log.Error().Err(err).Str("server_id", string(d.serverID)).Msg("failed to apply committed log entries")
		}
	}
	return interval
}

// initialInterval computes how long to wait before the very first Tick: a
// freshly constructed Follower's election deadline minus now.
func initialInterval(role raft.Role, now time.Time) time.Duration {
	if f, ok := role.(raft.FollowerRole); ok {
		d := f.ElectionDeadline.Sub(now)
		if d < 0 {
			return 0
		}
		return d
	}
	return 0
}
