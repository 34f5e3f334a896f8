package raft

import "time"

// Inner holds the volatile fields common to every role: the commit/apply
// watermarks and the timestamp of the most recent Tick this node has seen.
// Roles never read the clock themselves (Step never calls time.Now); this
// is how a role recovers "now" when it needs to recompute a deadline while
// handling an IncomingRpc event that falls between two ticks.
type Inner struct {
	CommitIndex LogIndex
	LastApplied LogIndex
	LastTick    time.Time
}

// Role is the tagged sum of the three states a node can be in. Step
// consumes one and produces another; there is no "uninitialized" variant.
type Role interface {
	isRole()
}

// FollowerRole is the default, read-only role: it accepts heartbeats and
// log entries from a recognized leader and grants votes to candidates whose
// logs are at least as fresh as its own.
type FollowerRole struct {
	Inner
	LeaderID         *ServerId
	ElectionDeadline time.Time
}

func (FollowerRole) isRole() {}

// CandidateRole is entered when a follower's election timer expires. With
// respect to AppendEntries from a legitimate leader it behaves exactly like
// Follower; it only adds vote-tallying behavior on top.
type CandidateRole struct {
	Inner
	ElectionDeadline time.Time
	VotesGranted     map[ServerId]bool
}

func (CandidateRole) isRole() {}

// LeaderRole tracks per-peer replication progress. HeartbeatDeadline plays
// the same part the follower's ElectionDeadline does: the driver ticks on
// every loop iteration, including ones woken by an incoming message, so the
// leader broadcasts only when the deadline has actually passed rather than
// on every wakeup.
type LeaderRole struct {
	Inner
	NextIndex         map[ServerId]LogIndex
	MatchIndex        map[ServerId]LogIndex
	HeartbeatDeadline time.Time
}

func (LeaderRole) isRole() {}

// NewFollower constructs the role a freshly started (or restarted) node
// begins in, with a randomized election deadline drawn from cfg's bounds.
func NewFollower(now time.Time, cfg Config, rng Rand) FollowerRole {
	return FollowerRole{
		Inner:            Inner{LastTick: now},
		ElectionDeadline: now.Add(randomDuration(cfg.ElectionTimeoutMin, cfg.ElectionTimeoutMax, rng)),
	}
}

func innerOf(role Role) Inner {
	switch r := role.(type) {
	case FollowerRole:
		return r.Inner
	case CandidateRole:
		return r.Inner
	case LeaderRole:
		return r.Inner
	default:
		panic("raft: unknown role variant")
	}
}

// RoleName reports a human-readable tag for the role, for logging and the
// event collector.
func RoleName(role Role) string {
	switch role.(type) {
	case FollowerRole:
		return "Follower"
	case CandidateRole:
		return "Candidate"
	case LeaderRole:
		return "Leader"
	default:
		return "Unknown"
	}
}

// LeaderForTerm reports the server id this node believes is leader for its
// current role, if any: itself when Leader, the last-seen leader when
// Follower, or none when Candidate (no leader is known to be active).
func LeaderForTerm(serverID ServerId, role Role) *ServerId {
	switch r := role.(type) {
	case LeaderRole:
		return &serverID
	case FollowerRole:
		return r.LeaderID
	default:
		return nil
	}
}
