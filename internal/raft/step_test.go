package raft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fixedRand makes election timeouts and request ids deterministic in tests:
// randomDuration always lands on max, and Uint64 counts up from a seed.
type fixedRand struct{ n uint64 }

func (r *fixedRand) Int63n(n int64) int64 { return n - 1 }
func (r *fixedRand) Uint64() uint64       { r.n++; return r.n }

func testConfig(peers ...ServerId) Config {
	return Config{
		ElectionTimeoutMin: 100 * time.Millisecond,
		ElectionTimeoutMax: 200 * time.Millisecond,
		HeartbeatInterval:  20 * time.Millisecond,
		Peers:              peers,
	}
}

func outgoingRequests(actions []Action) []Message {
	var out []Message
	for _, a := range actions {
		if r, ok := a.(OutgoingRequestAction); ok {
			out = append(out, r.Request)
		}
	}
	return out
}

func outgoingReply(t *testing.T, actions []Action) Message {
	t.Helper()
	for _, a := range actions {
		if r, ok := a.(OutgoingReplyAction); ok {
			return r.Reply
		}
	}
	t.Fatalf("no OutgoingReplyAction among %#v", actions)
	return nil
}

// --- Scenario: a follower whose timer expires becomes a candidate and
// broadcasts RequestVote to every peer, having voted for itself. ---
func TestFollowerElectionTimeoutBecomesCandidate(t *testing.T) {
	store := NewMemStore()
	cfg := testConfig("b", "c")
	rng := &fixedRand{}
	now := time.Now()

	follower := NewFollower(now, cfg, rng)
	later := follower.ElectionDeadline.Add(time.Millisecond)

	role, actions := Step("a", follower, TickEvent{Now: later}, store, cfg, rng)

	cand, ok := role.(CandidateRole)
	require.True(t, ok, "expected Candidate, got %T", role)
	require.EqualValues(t, 1, store.CurrentTerm())
	require.True(t, cand.VotesGranted["a"])

	term, candidate, hasVoted := store.VotedFor()
	require.True(t, hasVoted)
	require.EqualValues(t, 1, term)
	require.Equal(t, ServerId("a"), candidate)

	reqs := outgoingRequests(actions)
	require.Len(t, reqs, 2)
	for _, m := range reqs {
		vr, ok := m.(*RequestVoteRequest)
		require.True(t, ok)
		require.EqualValues(t, 1, vr.Term)
		require.Equal(t, ServerId("a"), vr.From)
	}
}

// --- Scenario: a candidate that wins a majority becomes leader and
// immediately broadcasts empty AppendEntries (heartbeats) to assert
// authority. ---
func TestCandidateWinsMajorityBecomesLeader(t *testing.T) {
	store := NewMemStore()
	cfg := testConfig("b", "c")
	rng := &fixedRand{}
	now := time.Now()

	role, _ := Step("a", NewFollower(now, cfg, rng), TickEvent{Now: now.Add(time.Second)}, store, cfg, rng)
	cand := role.(CandidateRole)

	vote := &VoteReply{
		Header:      Header{From: "b", To: "a", Term: store.CurrentTerm()},
		VoteGranted: true,
	}
	role, actions := Step("a", cand, IncomingRpcEvent{Message: vote}, store, cfg, rng)

	leader, ok := role.(LeaderRole)
	require.True(t, ok, "expected Leader, got %T", role)
	require.EqualValues(t, 1, leader.NextIndex["b"])
	require.EqualValues(t, 1, leader.NextIndex["c"])

	reqs := outgoingRequests(actions)
	require.Len(t, reqs, 2)
	for _, m := range reqs {
		ae, ok := m.(*AppendEntriesRequest)
		require.True(t, ok)
		require.Empty(t, ae.Entries)
	}
}

// --- Scenario: a follower grants its vote to a candidate whose log is at
// least as up to date, and records the vote durably. ---
func TestFollowerGrantsVoteToUpToDateCandidate(t *testing.T) {
	store := NewMemStore()
	store.AppendEntries(1, []LogEntry{{Term: 1, Command: Command("x")}})
	store.SetCurrentTerm(1)
	cfg := testConfig("b")
	rng := &fixedRand{}
	now := time.Now()
	follower := NewFollower(now, cfg, rng)

	req := &RequestVoteRequest{
		Header:       Header{RequestID: 7, From: "b", To: "a", Term: 2},
		LastLogIndex: 1,
		LastLogTerm:  1,
	}
	role, actions := Step("a", follower, IncomingRpcEvent{Message: req}, store, cfg, rng)

	reply := outgoingReply(t, actions).(*VoteReply)
	require.True(t, reply.VoteGranted)
	require.EqualValues(t, 2, reply.Term)
	require.IsType(t, FollowerRole{}, role)

	term, candidate, hasVoted := store.VotedFor()
	require.True(t, hasVoted)
	require.EqualValues(t, 2, term)
	require.Equal(t, ServerId("b"), candidate)
}

// --- Scenario: a follower denies its vote to a candidate whose log is
// behind its own. ---
func TestFollowerDeniesVoteToStaleCandidate(t *testing.T) {
	store := NewMemStore()
	store.AppendEntries(1, []LogEntry{{Term: 5, Command: Command("x")}})
	store.SetCurrentTerm(5)
	cfg := testConfig("b")
	rng := &fixedRand{}
	follower := NewFollower(time.Now(), cfg, rng)

	req := &RequestVoteRequest{
		Header:       Header{From: "b", To: "a", Term: 5},
		LastLogIndex: 0,
		LastLogTerm:  0,
	}
	_, actions := Step("a", follower, IncomingRpcEvent{Message: req}, store, cfg, rng)

	reply := outgoingReply(t, actions).(*VoteReply)
	require.False(t, reply.VoteGranted)

	// Denial leaves no vote recorded for the candidate's term: the follower
	// stays free to vote for a fresher candidate later in the same term.
	_, _, hasVoted := store.VotedFor()
	require.False(t, hasVoted)
}

// --- Scenario: a follower whose log conflicts with an incoming
// AppendEntries truncates the conflicting suffix and adopts the leader's
// entries instead of blindly overwriting matching entries. ---
func TestFollowerReconcilesConflictingLog(t *testing.T) {
	store := NewMemStore()
	store.AppendEntries(1, []LogEntry{
		{Term: 1, Command: Command("a")},
		{Term: 1, Command: Command("stale")},
	})
	store.SetCurrentTerm(2)
	cfg := testConfig("leader")
	rng := &fixedRand{}
	follower := NewFollower(time.Now(), cfg, rng)

	req := &AppendEntriesRequest{
		Header:       Header{From: "leader", To: "a", Term: 2},
		PrevLogIndex: 1,
		PrevLogTerm:  1,
		Entries: []LogEntry{
			{Term: 2, Command: Command("fresh")},
		},
		LeaderCommit: 2,
	}
	role, actions := Step("a", follower, IncomingRpcEvent{Message: req}, store, cfg, rng)

	reply := outgoingReply(t, actions).(*AppendEntriesReply)
	require.True(t, reply.Success)
	require.EqualValues(t, 2, reply.MatchIndex)
	require.EqualValues(t, 2, store.LogLen())

	entry, ok := store.EntryAt(2)
	require.True(t, ok)
	require.Equal(t, Command("fresh"), entry.Command)

	f := role.(FollowerRole)
	require.EqualValues(t, 2, f.CommitIndex)
}

// --- Scenario: a leader advances its commit index only once an entry from
// its own current term is replicated to a majority, never by counting
// replication of an earlier term's entry alone. ---
func TestLeaderOnlyCommitsCurrentTermEntryByCount(t *testing.T) {
	store := NewMemStore()
	store.SetCurrentTerm(1)
	store.AppendEntries(1, []LogEntry{{Term: 1, Command: Command("old")}})
	store.SetCurrentTerm(2)
	store.AppendEntries(2, []LogEntry{{Term: 2, Command: Command("new")}})

	cfg := testConfig("b", "c")
	rng := &fixedRand{}
	leader := LeaderRole{
		Inner:      Inner{LastTick: time.Now()},
		NextIndex:  map[ServerId]LogIndex{"b": 3, "c": 3},
		MatchIndex: map[ServerId]LogIndex{"b": 0, "c": 0},
	}

	// b replicates only the old-term entry: a majority (a+b) has index 1,
	// but its term (1) isn't the leader's current term (2), so nothing
	// commits yet.
	replyB := &AppendEntriesReply{Header: Header{From: "b", Term: 2}, Success: true, MatchIndex: 1}
	role, actions := Step("a", leader, IncomingRpcEvent{Message: replyB}, store, cfg, rng)
	require.Empty(t, applyActionsOf(actions))
	leader = role.(LeaderRole)

	// c replicates the current-term entry: now a majority has index 2,
	// whose term matches the leader's current term, so it commits.
	replyC := &AppendEntriesReply{Header: Header{From: "c", Term: 2}, Success: true, MatchIndex: 2}
	role, actions = Step("a", leader, IncomingRpcEvent{Message: replyC}, store, cfg, rng)
	leader = role.(LeaderRole)
	require.EqualValues(t, 2, leader.CommitIndex)

	apply := applyActionsOf(actions)
	require.Len(t, apply, 1)
	require.EqualValues(t, 1, apply[0].From)
	require.EqualValues(t, 2, apply[0].To)
}

func applyActionsOf(actions []Action) []ApplyLogEntriesAction {
	var out []ApplyLogEntriesAction
	for _, a := range actions {
		if ap, ok := a.(ApplyLogEntriesAction); ok {
			out = append(out, ap)
		}
	}
	return out
}

// --- Invariant: any message carrying a term higher than ours converts us
// to Follower, regardless of current role. ---
func TestHigherTermAlwaysConvertsToFollower(t *testing.T) {
	for _, role := range []Role{
		FollowerRole{Inner: Inner{LastTick: time.Now()}},
		CandidateRole{Inner: Inner{LastTick: time.Now()}},
		LeaderRole{Inner: Inner{LastTick: time.Now()}, NextIndex: map[ServerId]LogIndex{}, MatchIndex: map[ServerId]LogIndex{}},
	} {
		store := NewMemStore()
		store.SetCurrentTerm(1)
		cfg := testConfig("b")
		rng := &fixedRand{}

		req := &AppendEntriesRequest{Header: Header{From: "b", To: "a", Term: 9}}
		newRole, _ := Step("a", role, IncomingRpcEvent{Message: req}, store, cfg, rng)

		require.IsType(t, FollowerRole{}, newRole, "role %T did not step down", role)
		require.EqualValues(t, 9, store.CurrentTerm())
	}
}

// --- Invariant: a message carrying a term lower than ours is rejected
// without mutating any state. ---
func TestLowerTermRejectedWithoutMutation(t *testing.T) {
	store := NewMemStore()
	store.SetCurrentTerm(5)
	cfg := testConfig("b")
	rng := &fixedRand{}
	follower := NewFollower(time.Now(), cfg, rng)

	req := &RequestVoteRequest{Header: Header{RequestID: 3, From: "b", To: "a", Term: 2}}
	role, actions := Step("a", follower, IncomingRpcEvent{Message: req}, store, cfg, rng)

	require.Equal(t, follower, role)
	reply := outgoingReply(t, actions).(*VoteReply)
	require.False(t, reply.VoteGranted)
	require.EqualValues(t, 5, reply.Term)
	require.EqualValues(t, 5, store.CurrentTerm())
}

// --- Invariant: a node never grants more than one vote in the same term. ---
func TestAtMostOneVotePerTerm(t *testing.T) {
	store := NewMemStore()
	cfg := testConfig("b", "c")
	rng := &fixedRand{}
	follower := NewFollower(time.Now(), cfg, rng)

	first := &RequestVoteRequest{Header: Header{From: "b", To: "a", Term: 1}}
	role, actions := Step("a", follower, IncomingRpcEvent{Message: first}, store, cfg, rng)
	require.True(t, outgoingReply(t, actions).(*VoteReply).VoteGranted)

	second := &RequestVoteRequest{Header: Header{From: "c", To: "a", Term: 1}}
	_, actions = Step("a", role, IncomingRpcEvent{Message: second}, store, cfg, rng)
	require.False(t, outgoingReply(t, actions).(*VoteReply).VoteGranted)
}

// --- Invariant: a candidate or leader that has already voted for itself
// this term denies a competing candidate's vote request without needing
// role-specific logic. ---
func TestCandidateDeniesCompetingVoteRequest(t *testing.T) {
	store := NewMemStore()
	cfg := testConfig("b", "c")
	rng := &fixedRand{}

	role, _ := Step("a", NewFollower(time.Now(), cfg, rng), TickEvent{Now: time.Now().Add(time.Second)}, store, cfg, rng)
	require.IsType(t, CandidateRole{}, role)

	req := &RequestVoteRequest{Header: Header{From: "b", To: "a", Term: store.CurrentTerm()}}
	_, actions := Step("a", role, IncomingRpcEvent{Message: req}, store, cfg, rng)
	require.False(t, outgoingReply(t, actions).(*VoteReply).VoteGranted)
}

// --- Invariant: a follower rejects AppendEntries whose PrevLogIndex/Term
// don't match the local log, leaving the log untouched. ---
func TestAppendEntriesRejectedOnLogMismatch(t *testing.T) {
	store := NewMemStore()
	store.AppendEntries(1, []LogEntry{{Term: 1, Command: Command("x")}})
	cfg := testConfig("leader")
	rng := &fixedRand{}
	follower := NewFollower(time.Now(), cfg, rng)

	req := &AppendEntriesRequest{
		Header:       Header{From: "leader", To: "a", Term: 1},
		PrevLogIndex: 1,
		PrevLogTerm:  2, // local entry 1 has term 1, not 2
		Entries:      []LogEntry{{Term: 1, Command: Command("y")}},
	}
	_, actions := Step("a", follower, IncomingRpcEvent{Message: req}, store, cfg, rng)

	reply := outgoingReply(t, actions).(*AppendEntriesReply)
	require.False(t, reply.Success)
	require.EqualValues(t, 1, store.LogLen())
}

// --- Law: replaying the same event stream against the same seed and clock
// schedule yields identical role transitions and outbound actions. ---
func TestStepIsDeterministicUnderSeededRand(t *testing.T) {
	base := time.Unix(1700000000, 0)
	events := []Event{
		TickEvent{Now: base.Add(250 * time.Millisecond)},
		IncomingRpcEvent{Message: &VoteReply{
			Header:      Header{From: "b", To: "a", Term: 1},
			VoteGranted: true,
		}},
		TickEvent{Now: base.Add(300 * time.Millisecond)},
		IncomingRpcEvent{Message: &AppendEntriesReply{
			Header:     Header{From: "b", To: "a", Term: 1},
			Success:    true,
			MatchIndex: 0,
		}},
	}

	run := func() ([]Role, [][]Action) {
		store := NewMemStore()
		cfg := testConfig("b", "c")
		rng := &fixedRand{}
		var role Role = NewFollower(base, cfg, rng)

		roles := make([]Role, 0, len(events))
		actions := make([][]Action, 0, len(events))
		for _, ev := range events {
			var acts []Action
			role, acts = Step("a", role, ev, store, cfg, rng)
			roles = append(roles, role)
			actions = append(actions, acts)
		}
		return roles, actions
	}

	roles1, actions1 := run()
	roles2, actions2 := run()
	require.Equal(t, roles1, roles2)
	require.Equal(t, actions1, actions2)
}

// --- Invariant: a leader that discovers a rejected AppendEntries
// decrements the peer's NextIndex and retries, never below 1. ---
func TestLeaderBacksOffNextIndexOnRejection(t *testing.T) {
	store := NewMemStore()
	store.AppendEntries(1, []LogEntry{{Term: 1, Command: Command("x")}})
	cfg := testConfig("b")
	leader := LeaderRole{
		Inner:      Inner{LastTick: time.Now()},
		NextIndex:  map[ServerId]LogIndex{"b": 1},
		MatchIndex: map[ServerId]LogIndex{"b": 0},
	}
	rng := &fixedRand{}

	reject := &AppendEntriesReply{Header: Header{From: "b", Term: 0}, Success: false}
	role, actions := Step("a", leader, IncomingRpcEvent{Message: reject}, store, cfg, rng)

	l := role.(LeaderRole)
	require.EqualValues(t, 1, l.NextIndex["b"])

	reqs := outgoingRequests(actions)
	require.Len(t, reqs, 1)
	ae := reqs[0].(*AppendEntriesRequest)
	require.EqualValues(t, 0, ae.PrevLogIndex)
}
