package raft

import "encoding/gob"

// Header carries the fields every message shares: each RPC and reply names
// its request id, sender, recipient, and the sender's term.
type Header struct {
	RequestID RequestId
	From      ServerId
	To        ServerId
	Term      TermIndex
}

// Message is the closed sum type of wire shapes the core knows how to
// produce and consume. The accessor method is unexported so only this
// package may add variants.
type Message interface {
	header() Header
}

// RequestVoteRequest asks a peer to grant this candidate's vote for Term.
type RequestVoteRequest struct {
	Header
	LastLogIndex LogIndex
	LastLogTerm  TermIndex
}

func (m *RequestVoteRequest) header() Header { return m.Header }

// VoteReply is the response to a RequestVoteRequest.
type VoteReply struct {
	Header
	VoteGranted bool
}

func (m *VoteReply) header() Header { return m.Header }

// AppendEntriesRequest replicates (or, with an empty Entries, merely
// confirms leadership over) a suffix of the log.
type AppendEntriesRequest struct {
	Header
	PrevLogIndex LogIndex
	PrevLogTerm  TermIndex
	Entries      []LogEntry
	LeaderCommit LogIndex
}

func (m *AppendEntriesRequest) header() Header { return m.Header }

// AppendEntriesReply is the response to an AppendEntriesRequest. MatchIndex
// is only meaningful when Success is true.
type AppendEntriesReply struct {
	Header
	Success    bool
	MatchIndex LogIndex
}

func (m *AppendEntriesReply) header() Header { return m.Header }

func init() {
	gob.Register(&RequestVoteRequest{})
	gob.Register(&VoteReply{})
	gob.Register(&AppendEntriesRequest{})
	gob.Register(&AppendEntriesReply{})
}

// RequestIDOf, FromOf, ToOf, and TermOf let collaborators outside this
// package (the transport, the driver) read header fields without exposing
// the Message interface's internals.
func RequestIDOf(m Message) RequestId { return m.header().RequestID }
func FromOf(m Message) ServerId       { return m.header().From }
func ToOf(m Message) ServerId         { return m.header().To }
func TermOf(m Message) TermIndex      { return m.header().Term }

// IsRequest reports whether m is one of the two request shapes, as opposed
// to a reply.
func IsRequest(m Message) bool {
	switch m.(type) {
	case *RequestVoteRequest, *AppendEntriesRequest:
		return true
	default:
		return false
	}
}
