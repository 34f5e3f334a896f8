// Package transport implements the asynchronous request/reply delivery the
// driver loop depends on, over a single hand-registered gRPC service
// (see service.go) and a custom gob-based wire codec (see codec.go). Peer
// connections are lazily dialed and reused, and messages are delivered
// fire-and-forget rather than as synchronous unary calls.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"

	"github.com/leifraft/leifraft/internal/raft"
)

// peerConn is a lazily dialed, reused connection to one cluster member.
type peerConn struct {
	mu   sync.Mutex
	addr string
	conn *grpc.ClientConn
}

func (p *peerConn) dial() (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return p.conn, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	conn, err := grpc.DialContext(ctx, p.addr, grpc.WithInsecure(), grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)))
	if err != nil {
		return nil, err
	}
	p.conn = conn
	return conn, nil
}

func (p *peerConn) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

// GRPCTransport implements the driver's wait-for-message/enqueue-outgoing
// contract over gRPC.
type GRPCTransport struct {
	serverID raft.ServerId
	server   *grpc.Server
	incoming chan raft.Message

	mu    sync.Mutex
	peers map[raft.ServerId]*peerConn
}

// deliverHandlerImpl adapts *GRPCTransport to deliverServer without adding
// Deliver to GRPCTransport's own exported method set.
type deliverHandlerImpl GRPCTransport

func (d *deliverHandlerImpl) Deliver(ctx context.Context, env *Envelope) (*Ack, error) {
	t := (*GRPCTransport)(d)
	select {
	case t.incoming <- env.Msg:
	default:
		log.Warn().Str("server_id", string(t.serverID)).Msg("incoming raft message queue full, dropping")
	}
	return &Ack{}, nil
}

// NewGRPCTransport constructs a transport for serverID. peerAddrs maps
// every other cluster member's id to its "host:port" raft address.
// bufSize bounds how many undelivered incoming messages may queue before
// new ones are dropped; 0 selects a sensible default.
func NewGRPCTransport(serverID raft.ServerId, peerAddrs map[raft.ServerId]string, bufSize int) *GRPCTransport {
	if bufSize <= 0 {
		bufSize = 64
	}
	t := &GRPCTransport{
		serverID: serverID,
		incoming: make(chan raft.Message, bufSize),
		peers:    make(map[raft.ServerId]*peerConn, len(peerAddrs)),
	}
	for id, addr := range peerAddrs {
		t.peers[id] = &peerConn{addr: addr}
	}
	return t
}

// Listen starts the gRPC server accepting Deliver calls on lis, in its own
// goroutine.
func (t *GRPCTransport) Listen(lis net.Listener) {
	t.server = grpc.NewServer()
	t.server.RegisterService(&serviceDesc, (*deliverHandlerImpl)(t))
	go func() {
		if err := t.server.Serve(lis); err != nil {
			log.Fatal().Err(err).Msg("raft transport gRPC server failed")
		}
	}()
}

// Stop gracefully shuts down the gRPC server and every peer connection.
func (t *GRPCTransport) Stop() {
	if t.server != nil {
		t.server.GracefulStop()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.peers {
		p.close()
	}
}

// WaitForNextIncomingMessage blocks for up to maxWait for a message to
// arrive. A false second return with a nil error means the wait elapsed with
// nothing to deliver — the driver's signal to process a Tick instead.
func (t *GRPCTransport) WaitForNextIncomingMessage(ctx context.Context, maxWait time.Duration) (raft.Message, bool, error) {
	timer := time.NewTimer(maxWait)
	defer timer.Stop()
	select {
	case msg := <-t.incoming:
		return msg, true, nil
	case <-timer.C:
		return nil, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// EnqueueOutgoingRequest sends req to its recipient asynchronously.
func (t *GRPCTransport) EnqueueOutgoingRequest(req raft.Message) {
	t.deliver(req)
}

// EnqueueReply sends reply to its recipient asynchronously.
func (t *GRPCTransport) EnqueueReply(reply raft.Message) {
	t.deliver(reply)
}

// deliver dials (or reuses a connection to) msg's recipient and posts it in
// its own goroutine: a slow or unreachable peer must never stall the
// driver loop, since the protocol already tolerates and retries dropped
// messages on the next tick.
func (t *GRPCTransport) deliver(msg raft.Message) {
	to := raft.ToOf(msg)
	p, err := t.peerFor(to)
	if err != nil {
		log.Error().Err(err).Str("to", string(to)).Msg("no known peer, dropping outgoing message")
		return
	}
	go func() {
		conn, err := p.dial()
		if err != nil {
			log.Warn().Err(err).Str("to", string(to)).Msg("failed to dial peer, dropping message")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		var ack Ack
		if err := conn.Invoke(ctx, "/"+serviceName+"/Deliver", &Envelope{Msg: msg}, &ack); err != nil {
			log.Warn().Err(err).Str("to", string(to)).Msg("delivery failed")
		}
	}()
}

func (t *GRPCTransport) peerFor(id raft.ServerId) (*peerConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[id]
	if !ok {
		return nil, fmt.Errorf("transport: unknown peer %q", id)
	}
	return p, nil
}
