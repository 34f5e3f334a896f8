package httpapi

import (
	"errors"

	"github.com/leifraft/leifraft/internal/driver"
	"github.com/leifraft/leifraft/internal/kvstore"
	"github.com/leifraft/leifraft/internal/raft"
)

// NodeSubmitter adapts a Driver plus the kvstore's command encoding into the
// Submitter and StatusSource interfaces NewRouter depends on, and maps the
// client-facing address a redirect should point at for every peer.
type NodeSubmitter struct {
	driver      *driver.Driver
	clientAddrs map[raft.ServerId]string
}

// NewNodeSubmitter constructs a NodeSubmitter. clientAddrs maps every peer's
// ServerId to the HTTP address clients should be redirected to when that
// peer is leader.
func NewNodeSubmitter(d *driver.Driver, clientAddrs map[raft.ServerId]string) *NodeSubmitter {
	return &NodeSubmitter{driver: d, clientAddrs: clientAddrs}
}

// SubmitSet appends a set command to the leader's log.
func (n *NodeSubmitter) SubmitSet(key, value string) error {
	cmd, err := kvstore.EncodeSet(key, value)
	if err != nil {
		return err
	}
	return n.submit(cmd)
}

// SubmitDelete appends a delete command to the leader's log.
func (n *NodeSubmitter) SubmitDelete(key string) error {
	cmd, err := kvstore.EncodeDelete(key)
	if err != nil {
		return err
	}
	return n.submit(cmd)
}

func (n *NodeSubmitter) submit(cmd raft.Command) error {
	if err := n.driver.SubmitCommand(cmd); err != nil {
		if errors.Is(err, driver.ErrNotLeader) {
			return ErrNotLeader
		}
		return err
	}
	return nil
}

// LeaderAddr reports the client-facing address of the node this server
// currently believes is leader, for the 303 redirect handleSubmitErr issues.
func (n *NodeSubmitter) LeaderAddr() (string, bool) {
	id, ok := n.driver.LeaderID()
	if !ok {
		return "", false
	}
	addr, ok := n.clientAddrs[id]
	return addr, ok
}

// CurrentRole satisfies StatusSource.
func (n *NodeSubmitter) CurrentRole() string { return raft.RoleName(n.driver.Role()) }

// CurrentTerm satisfies StatusSource.
func (n *NodeSubmitter) CurrentTerm() raft.TermIndex { return n.driver.CurrentTerm() }

// CommitIndex satisfies StatusSource.
func (n *NodeSubmitter) CommitIndex() raft.LogIndex { return n.driver.CommitIndex() }

// RecentSnapshots satisfies StatusSource, translating the collector's
// internal Snapshot type into the JSON shape the status endpoint returns.
func (n *NodeSubmitter) RecentSnapshots() []StatusSnapshot {
	snaps := n.driver.Collector().Snapshots()
	out := make([]StatusSnapshot, len(snaps))
	for i, s := range snaps {
		out[i] = StatusSnapshot{
			Role:       s.Role,
			Term:       int64(s.Term),
			ObservedAt: s.ObservedAt,
		}
	}
	return out
}
