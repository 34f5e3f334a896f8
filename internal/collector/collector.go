// Package collector implements the bounded, drop-oldest observer of role
// transitions the driver pushes into after every loop iteration. It exists so a
// long-running node can answer "what has this server been doing lately"
// (surfaced through the HTTP status endpoint) without the driver loop ever
// blocking on a slow reader.
package collector

import (
	"sync"
	"time"

	"github.com/leifraft/leifraft/internal/raft"
)

// Snapshot is one observed point in a node's history: who it is, what role
// it holds, and the term/leader context at the moment the driver took it.
type Snapshot struct {
	ServerID    raft.ServerId
	Role        string
	Term        raft.TermIndex
	LeaderID    *raft.ServerId
	CommitIndex raft.LogIndex
	ObservedAt  time.Time
}

// Collector is a fixed-capacity ring buffer of Snapshots. Push never blocks
// and never grows unbounded: once full, the oldest snapshot is silently
// dropped to make room for the newest.
type Collector struct {
	mu       sync.Mutex
	buf      []Snapshot
	capacity int
	next     int
	size     int
}

// New returns a Collector holding at most capacity snapshots. A capacity of
// 0 or less is treated as 1: a collector that could hold nothing would not
// be a collector.
func New(capacity int) *Collector {
	if capacity <= 0 {
		capacity = 1
	}
	return &Collector{buf: make([]Snapshot, capacity), capacity: capacity}
}

// Push records s, overwriting the oldest entry once the buffer is full.
func (c *Collector) Push(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf[c.next] = s
	c.next = (c.next + 1) % c.capacity
	if c.size < c.capacity {
		c.size++
	}
}

// Snapshots returns a copy of the currently retained snapshots, oldest
// first. It is safe to call concurrently with Push.
func (c *Collector) Snapshots() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Snapshot, c.size)
	start := c.next - c.size
	if start < 0 {
		start += c.capacity
	}
	for i := 0; i < c.size; i++ {
		out[i] = c.buf[(start+i)%c.capacity]
	}
	return out
}

// Latest returns the most recently pushed snapshot, if any.
func (c *Collector) Latest() (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.size == 0 {
		return Snapshot{}, false
	}
	idx := c.next - 1
	if idx < 0 {
		idx += c.capacity
	}
	return c.buf[idx], true
}

// SnapshotFrom builds a Snapshot from a node's current role, for the driver
// to push at the end of every loop iteration.
func SnapshotFrom(serverID raft.ServerId, role raft.Role, store raft.PersistentStore, now time.Time) Snapshot {
	return Snapshot{
		ServerID:    serverID,
		Role:        raft.RoleName(role),
		Term:        store.CurrentTerm(),
		LeaderID:    raft.LeaderForTerm(serverID, role),
		CommitIndex: commitIndexOf(role),
		ObservedAt:  now,
	}
}

func commitIndexOf(role raft.Role) raft.LogIndex {
	switch r := role.(type) {
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
