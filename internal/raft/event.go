package raft

import "time"

// Event is the closed sum of inputs Step accepts.
type Event interface {
	isEvent()
}

// TickEvent is the only way Step ever learns the time. Everything it does
// with "now" — election deadlines, heartbeat cadence — flows from this.
type TickEvent struct {
	Now time.Time
}

func (TickEvent) isEvent() {}

// IncomingRpcEvent delivers a message the transport received.
type IncomingRpcEvent struct {
	Message Message
}

func (IncomingRpcEvent) isEvent() {}
