package transport

import "github.com/leifraft/leifraft/internal/raft"

// Envelope is the one payload type that ever crosses the wire: every
// request and reply the core produces rides inside its Msg field, with
// gob.Register (in internal/raft's init) recovering the concrete type on
// decode.
type Envelope struct {
	Msg raft.Message
}

// Ack is Deliver's reply. Delivery is fire-and-forget from the state
// machine's point of view — a sent request is matched to its eventual
// reply by the reply's own Header, not by anything Deliver returns — so Ack
// carries nothing.
type Ack struct{}
