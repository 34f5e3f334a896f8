// Package simnet implements a virtual-clock, partitionable network for
// deterministically exercising a cluster of drivers in tests: each node
// runs on its own goroutine, message delivery between nodes rolls an
// independent packet-loss probability per directed edge, and the shared
// clock only moves when a test advances it.
package simnet

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/leifraft/leifraft/internal/raft"
)

// connState is one directed edge's delivery behavior. saved holds the loss
// probability the edge had when Partition was last called, so HealPartition
// can restore it.
type connState struct {
	lossProb float64
	saved    float64
}

// Network is a fully-connected mesh of in-process nodes sharing one virtual
// Clock. Every ordered pair of distinct members has an independent packet
// loss probability, defaulting to 0 (a perfect network) until a test calls
// Partition or SetPacketLoss.
type Network struct {
	mu      sync.Mutex
	clock   *Clock
	rng     *rand.Rand
	servers map[raft.ServerId]*NodeTransport
	conns   map[connKey]*connState
}

type connKey struct {
	From, To raft.ServerId
}

// NewNetwork builds a perfect (zero packet loss) mesh among ids, with its
// virtual clock starting at start and its packet-loss coin flips seeded by
// seed, so a failing scenario test can be replayed byte-for-byte.
func NewNetwork(start time.Time, seed int64, ids []raft.ServerId) *Network {
	n := &Network{
		clock:   NewClock(start),
		rng:     rand.New(rand.NewSource(seed)),
		servers: make(map[raft.ServerId]*NodeTransport, len(ids)),
		conns:   make(map[connKey]*connState),
	}
	for _, from := range ids {
		n.servers[from] = &NodeTransport{id: from, network: n, inbox: make(chan raft.Message, 256)}
		for _, to := range ids {
			if from != to {
				n.conns[connKey{from, to}] = &connState{}
			}
		}
	}
	return n
}

// Clock exposes the network's virtual clock so a test can Advance it.
func (n *Network) Clock() *Clock { return n.clock }

// Transport returns the driver.Transport for id. Every call for the same id
// returns the same underlying inbox.
func (n *Network) Transport(id raft.ServerId) *NodeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.servers[id]
}

// SetPacketLoss sets the probability (0..1) that a message from->to is
// dropped in transit.
func (n *Network) SetPacketLoss(from, to raft.ServerId, prob float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if cs, ok := n.conns[connKey{from, to}]; ok {
		cs.lossProb = prob
	}
}

// Partition splits the network into the given disjoint groups: any edge
// crossing two groups is set to total packet loss, while edges within a
// group are untouched. Each edge's prior loss probability is remembered so
// HealPartition can restore it.
func (n *Network) Partition(groups ...[]raft.ServerId) {
	n.mu.Lock()
	defer n.mu.Unlock()

	group := make(map[raft.ServerId]int)
	for i, g := range groups {
		for _, id := range g {
			group[id] = i
		}
	}
	for k, cs := range n.conns {
		cs.saved = cs.lossProb
		if group[k.From] != group[k.To] {
			cs.lossProb = 1.0
		}
	}
}

// HealPartition restores every connection's packet-loss probability to
// whatever it was immediately before the most recent Partition call.
func (n *Network) HealPartition() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, cs := range n.conns {
		cs.lossProb = cs.saved
	}
}

// deliver rolls the connection's packet-loss probability and, if the
// message survives, enqueues it on the recipient's inbox. A full inbox
// drops the message silently, mirroring the real transport's tolerance of
// lost sends.
func (n *Network) deliver(msg raft.Message) {
	from, to := raft.FromOf(msg), raft.ToOf(msg)

	n.mu.Lock()
	cs, known := n.conns[connKey{from, to}]
	drop := known && n.rng.Float64() < cs.lossProb
	target := n.servers[to]
	n.mu.Unlock()

	if !known || drop || target == nil {
		return
	}
	select {
	case target.inbox <- msg:
	default:
	}
}

// NodeTransport is the per-server driver.Transport backed by a Network.
type NodeTransport struct {
	id      raft.ServerId
	network *Network
	inbox   chan raft.Message
}

// WaitForNextIncomingMessage blocks until a message addressed to this node
// arrives or the network's virtual clock has advanced by at least maxWait
// since the call began, without ever touching wall-clock time.
func (t *NodeTransport) WaitForNextIncomingMessage(ctx context.Context, maxWait time.Duration) (raft.Message, bool, error) {
	start := t.network.clock.Now()
	for {
		select {
		case msg := <-t.inbox:
			return msg, true, nil
		default:
		}

		now, wake := t.network.clock.watch()
		if now.Sub(start) >= maxWait {
			return nil, false, nil
		}

		select {
		case msg := <-t.inbox:
			return msg, true, nil
		case <-wake:
			continue
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

// EnqueueOutgoingRequest hands req to the network for loss-aware delivery.
func (t *NodeTransport) EnqueueOutgoingRequest(req raft.Message) { t.network.deliver(req) }

// EnqueueReply hands reply to the network for loss-aware delivery.
func (t *NodeTransport) EnqueueReply(reply raft.Message) { t.network.deliver(reply) }
