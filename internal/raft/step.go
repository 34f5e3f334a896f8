package raft

import "time"

// Step is the single transition function the whole node is built around: it
// maps (serverID, current role, event, persistent store, config, rng) to
// (next role, outgoing actions). It never reads the clock or any source of
// randomness except rng, and it never performs network or disk I/O beyond
// the store's own durable writes — everything observable happens through
// the returned actions.
func Step(serverID ServerId, role Role, ev Event, store PersistentStore, cfg Config, rng Rand) (Role, []Action) {
	switch e := ev.(type) {
	case TickEvent:
		return stepTick(serverID, role, e.Now, store, cfg, rng)
	case IncomingRpcEvent:
		return stepIncoming(serverID, role, e.Message, store, cfg, rng)
	default:
		return role, nil
	}
}

func stepTick(serverID ServerId, role Role, now time.Time, store PersistentStore, cfg Config, rng Rand) (Role, []Action) {
	switch r := role.(type) {
	case FollowerRole:
		return followerTick(serverID, r, now, store, cfg, rng)
	case CandidateRole:
		return candidateTick(serverID, r, now, store, cfg, rng)
	case LeaderRole:
		return leaderTick(serverID, r, now, store, cfg, rng)
	default:
		panic("raft: unknown role variant")
	}
}

// stepIncoming applies the two universal term rules before handing the
// event to role-specific handling: a higher term always wins
// and converts this node to Follower, and a lower term is always rejected
// without mutating any state.
func stepIncoming(serverID ServerId, role Role, msg Message, store PersistentStore, cfg Config, rng Rand) (Role, []Action) {
	current := store.CurrentTerm()
	term := TermOf(msg)

	if term < current {
		if a := rejectionFor(serverID, msg, current); a != nil {
			return role, []Action{a}
		}
		return role, nil
	}

	if term > current {
		now := innerOf(role).LastTick
		store.SetCurrentTerm(term)
		role = convertToFollower(role, now, cfg, rng)
	}

	switch r := role.(type) {
	case FollowerRole:
		return followerRpc(serverID, r, msg, store, cfg, rng)
	case CandidateRole:
		return candidateRpc(serverID, r, msg, store, cfg, rng)
	case LeaderRole:
		return leaderRpc(serverID, r, msg, store, cfg, rng)
	default:
		panic("raft: unknown role variant")
	}
}

func convertToFollower(role Role, now time.Time, cfg Config, rng Rand) FollowerRole {
	inner := innerOf(role)
	inner.LastTick = now
	return FollowerRole{
		Inner:            inner,
		ElectionDeadline: now.Add(randomDuration(cfg.ElectionTimeoutMin, cfg.ElectionTimeoutMax, rng)),
	}
}

// rejectionFor builds the negative reply for a stale-term request.
// Stale-term replies (a VoteReply or AppendEntriesReply that arrived
// after we've moved on) are dropped silently instead.
func rejectionFor(serverID ServerId, msg Message, currentTerm TermIndex) Action {
	switch m := msg.(type) {
	case *RequestVoteRequest:
		return OutgoingReplyAction{Reply: &VoteReply{
			Header:      Header{RequestID: m.RequestID, From: serverID, To: m.From, Term: currentTerm},
			VoteGranted: false,
		}}
	case *AppendEntriesRequest:
		return OutgoingReplyAction{Reply: &AppendEntriesReply{
			Header:     Header{RequestID: m.RequestID, From: serverID, To: m.From, Term: currentTerm},
			Success:    false,
			MatchIndex: 0,
		}}
	default:
		return nil
	}
}

// --- Follower ---

func followerTick(serverID ServerId, r FollowerRole, now time.Time, store PersistentStore, cfg Config, rng Rand) (Role, []Action) {
	r.LastTick = now
	if !now.Before(r.ElectionDeadline) {
		return enterCandidate(serverID, r.Inner, now, store, cfg, rng)
	}
	return r, []Action{StartTickTimerAction{Duration: r.ElectionDeadline.Sub(now)}}
}

func followerRpc(serverID ServerId, r FollowerRole, msg Message, store PersistentStore, cfg Config, rng Rand) (Role, []Action) {
	switch m := msg.(type) {
	case *RequestVoteRequest:
		reply, granted := evaluateVote(serverID, m, store)
		if granted {
			r.ElectionDeadline = r.LastTick.Add(randomDuration(cfg.ElectionTimeoutMin, cfg.ElectionTimeoutMax, rng))
		}
		return r, []Action{OutgoingReplyAction{Reply: reply}}
	case *AppendEntriesRequest:
		return followerHandleAppend(serverID, r, m, store, cfg, rng)
	default:
		// A stray reply arriving while we're a follower (e.g. a delayed
		// vote reply from a candidacy we've since abandoned): drop.
		return r, nil
	}
}

func followerHandleAppend(serverID ServerId, r FollowerRole, m *AppendEntriesRequest, store PersistentStore, cfg Config, rng Rand) (Role, []Action) {
	leader := m.From
	r.LeaderID = &leader
	r.ElectionDeadline = r.LastTick.Add(randomDuration(cfg.ElectionTimeoutMin, cfg.ElectionTimeoutMax, rng))

	if store.TermAt(m.PrevLogIndex) != m.PrevLogTerm {
		reply := &AppendEntriesReply{
			Header:     Header{RequestID: m.RequestID, From: serverID, To: m.From, Term: store.CurrentTerm()},
			Success:    false,
			MatchIndex: 0,
		}
		return r, []Action{OutgoingReplyAction{Reply: reply}}
	}

	// Walk the incoming entries until the first one that conflicts with (or
	// isn't yet present in) the local log; everything before that point is
	// already correct and need not be rewritten.
	matched := 0
	firstNewIndex := m.PrevLogIndex + 1
	for i, e := range m.Entries {
		idx := m.PrevLogIndex + LogIndex(i) + 1
		existing, ok := store.EntryAt(idx)
		if !ok || existing.Term != e.Term {
			firstNewIndex = idx
			break
		}
		matched = i + 1
		firstNewIndex = idx + 1
	}
	newEntries := m.Entries[matched:]
	if len(newEntries) > 0 {
		store.AppendEntries(firstNewIndex, newEntries)
	}

	lastNewIndex := m.PrevLogIndex + LogIndex(len(m.Entries))
	var applyActions []Action
	if m.LeaderCommit > r.CommitIndex {
		newCommit := m.LeaderCommit
		if lastNewIndex < newCommit {
			newCommit = lastNewIndex
		}
		r.CommitIndex = newCommit
		applyActions = maybeApply(&r.Inner)
	}

	reply := &AppendEntriesReply{
		Header:     Header{RequestID: m.RequestID, From: serverID, To: m.From, Term: store.CurrentTerm()},
		Success:    true,
		MatchIndex: lastNewIndex,
	}
	actions := append([]Action{OutgoingReplyAction{Reply: reply}}, applyActions...)
	return r, actions
}

// evaluateVote implements the vote-granting rule. It is shared across all
// three roles: a Candidate or Leader has already voted for itself in the
// current term, so this naturally denies any competing request without
// special-casing those roles — which is exactly what leader completeness
// requires.
func evaluateVote(serverID ServerId, m *RequestVoteRequest, store PersistentStore) (*VoteReply, bool) {
	current := store.CurrentTerm()
	votedTerm, votedFor, hasVoted := store.VotedFor()
	eligible := !hasVoted || votedTerm != current || votedFor == m.From

	localLastIndex, localLastTerm := lastLogIndexTerm(store)
	upToDate := m.LastLogTerm > localLastTerm ||
		(m.LastLogTerm == localLastTerm && m.LastLogIndex >= localLastIndex)

	granted := eligible && upToDate
	if granted {
		store.RecordVote(current, m.From)
	}

	return &VoteReply{
		Header:      Header{RequestID: m.RequestID, From: serverID, To: m.From, Term: current},
		VoteGranted: granted,
	}, granted
}

func maybeApply(inner *Inner) []Action {
	if inner.CommitIndex > inner.LastApplied {
		from := inner.LastApplied + 1
		to := inner.CommitIndex
		inner.LastApplied = inner.CommitIndex
		return []Action{ApplyLogEntriesAction{From: from, To: to}}
	}
	return nil
}

// --- Candidate ---

func candidateTick(serverID ServerId, r CandidateRole, now time.Time, store PersistentStore, cfg Config, rng Rand) (Role, []Action) {
	r.LastTick = now
	if !now.Before(r.ElectionDeadline) {
		return enterCandidate(serverID, r.Inner, now, store, cfg, rng)
	}
	return r, []Action{StartTickTimerAction{Duration: r.ElectionDeadline.Sub(now)}}
}

// enterCandidate is used both when a Follower's timer first expires and
// when a Candidate's own election times out without a winner: both cases
// increment the term, vote for self, and re-broadcast.
func enterCandidate(serverID ServerId, inner Inner, now time.Time, store PersistentStore, cfg Config, rng Rand) (Role, []Action) {
	newTerm := store.CurrentTerm() + 1
	store.SetCurrentTerm(newTerm)
	store.RecordVote(newTerm, serverID)

	inner.LastTick = now
	deadline := now.Add(randomDuration(cfg.ElectionTimeoutMin, cfg.ElectionTimeoutMax, rng))

	lastIndex, lastTerm := lastLogIndexTerm(store)
	votes := map[ServerId]bool{serverID: true}

	actions := make([]Action, 0, len(cfg.Peers))
	for _, peer := range cfg.Peers {
		req := &RequestVoteRequest{
			Header:       Header{RequestID: RequestId(rng.Uint64()), From: serverID, To: peer, Term: newTerm},
			LastLogIndex: lastIndex,
			LastLogTerm:  lastTerm,
		}
		actions = append(actions, OutgoingRequestAction{Request: req})
	}

	return CandidateRole{Inner: inner, ElectionDeadline: deadline, VotesGranted: votes}, actions
}

func candidateRpc(serverID ServerId, r CandidateRole, msg Message, store PersistentStore, cfg Config, rng Rand) (Role, []Action) {
	switch m := msg.(type) {
	case *VoteReply:
		if m.Term != store.CurrentTerm() {
			// Stale reply, or a reply for a candidacy term we're no longer
			// running: discarded.
			return r, nil
		}
		if m.VoteGranted {
			if r.VotesGranted == nil {
				r.VotesGranted = map[ServerId]bool{}
			}
			r.VotesGranted[m.From] = true
		}
		if len(r.VotesGranted) >= majority(len(cfg.Peers)+1) {
			return enterLeaderFor(serverID, r.Inner, store, cfg, rng)
		}
		return r, nil
	case *RequestVoteRequest:
		reply, _ := evaluateVote(serverID, m, store)
		return r, []Action{OutgoingReplyAction{Reply: reply}}
	case *AppendEntriesRequest:
		// A legitimate leader exists for this term: revert to Follower and
		// re-process the message as one.
		follower := FollowerRole{
			Inner:            r.Inner,
			ElectionDeadline: r.LastTick.Add(randomDuration(cfg.ElectionTimeoutMin, cfg.ElectionTimeoutMax, rng)),
		}
		return followerRpc(serverID, follower, m, store, cfg, rng)
	default:
		return r, nil
	}
}

// --- Leader ---

func enterLeaderFor(serverID ServerId, inner Inner, store PersistentStore, cfg Config, rng Rand) (Role, []Action) {
	nextIndex := map[ServerId]LogIndex{}
	matchIndex := map[ServerId]LogIndex{}
	logLen := store.LogLen()
	for _, peer := range cfg.Peers {
		nextIndex[peer] = logLen + 1
		matchIndex[peer] = 0
	}
	role := LeaderRole{
		Inner:             inner,
		NextIndex:         nextIndex,
		MatchIndex:        matchIndex,
		HeartbeatDeadline: inner.LastTick.Add(cfg.HeartbeatInterval),
	}
	actions := broadcastAppendEntries(serverID, &role, store, cfg, rng)
	actions = append(actions, StartTickTimerAction{Duration: cfg.HeartbeatInterval})
	return role, actions
}

func leaderTick(serverID ServerId, r LeaderRole, now time.Time, store PersistentStore, cfg Config, rng Rand) (Role, []Action) {
	r.LastTick = now
	if now.Before(r.HeartbeatDeadline) {
		return r, []Action{StartTickTimerAction{Duration: r.HeartbeatDeadline.Sub(now)}}
	}
	r.HeartbeatDeadline = now.Add(cfg.HeartbeatInterval)
	actions := broadcastAppendEntries(serverID, &r, store, cfg, rng)
	actions = append(actions, StartTickTimerAction{Duration: cfg.HeartbeatInterval})
	return r, actions
}

func leaderRpc(serverID ServerId, r LeaderRole, msg Message, store PersistentStore, cfg Config, rng Rand) (Role, []Action) {
	switch m := msg.(type) {
	case *AppendEntriesReply:
		if m.Term != store.CurrentTerm() {
			return r, nil
		}
		if m.Success {
			if m.MatchIndex > r.MatchIndex[m.From] {
				r.MatchIndex[m.From] = m.MatchIndex
			}
			r.NextIndex[m.From] = r.MatchIndex[m.From] + 1
			applyActions := advanceCommitIndex(&r, store, cfg)
			return r, applyActions
		}
		next := r.NextIndex[m.From] - 1
		if next < 1 {
			next = 1
		}
		r.NextIndex[m.From] = next
		return r, []Action{resendAppendEntries(serverID, &r, m.From, store, rng)}
	case *RequestVoteRequest:
		reply, _ := evaluateVote(serverID, m, store)
		return r, []Action{OutgoingReplyAction{Reply: reply}}
	case *AppendEntriesRequest:
		// Two leaders in the same term should never happen, but if it
		// does, defer to the universal safety rule's spirit: step down and
		// re-process as a follower rather than silently ignoring it.
		follower := FollowerRole{
			Inner:            r.Inner,
			ElectionDeadline: r.LastTick.Add(randomDuration(cfg.ElectionTimeoutMin, cfg.ElectionTimeoutMax, rng)),
		}
		return followerRpc(serverID, follower, m, store, cfg, rng)
	default:
		return r, nil
	}
}

func broadcastAppendEntries(serverID ServerId, role *LeaderRole, store PersistentStore, cfg Config, rng Rand) []Action {
	actions := make([]Action, 0, len(cfg.Peers))
	for _, peer := range cfg.Peers {
		actions = append(actions, appendEntriesFor(serverID, role, peer, store, rng))
	}
	return actions
}

func resendAppendEntries(serverID ServerId, role *LeaderRole, peer ServerId, store PersistentStore, rng Rand) Action {
	return appendEntriesFor(serverID, role, peer, store, rng)
}

func appendEntriesFor(serverID ServerId, role *LeaderRole, peer ServerId, store PersistentStore, rng Rand) Action {
	currentTerm := store.CurrentTerm()
	next := role.NextIndex[peer]
	if next < 1 {
		next = 1
	}
	prevIndex := next - 1
	prevTerm := store.TermAt(prevIndex)
	entries := entriesFrom(store, next)
	req := &AppendEntriesRequest{
		Header:       Header{RequestID: RequestId(rng.Uint64()), From: serverID, To: peer, Term: currentTerm},
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: role.CommitIndex,
	}
	return OutgoingRequestAction{Request: req}
}

func entriesFrom(store PersistentStore, from LogIndex) []LogEntry {
	length := store.LogLen()
	if from > length {
		return nil
	}
	out := make([]LogEntry, 0, length-from+1)
	for i := from; i <= length; i++ {
		e, _ := store.EntryAt(i)
		out = append(out, e)
	}
	return out
}

// advanceCommitIndex implements the leader-only commit rule: the
// largest N greater than the current commit index, replicated to a
// majority (counting self), whose entry's term is the leader's current
// term. Scanning from the top means the first N found is the largest.
func advanceCommitIndex(role *LeaderRole, store PersistentStore, cfg Config) []Action {
	currentTerm := store.CurrentTerm()
	logLen := store.LogLen()
	need := majority(len(cfg.Peers) + 1)

	for n := logLen; n > role.CommitIndex; n-- {
		if store.TermAt(n) != currentTerm {
			continue
		}
		count := 1
		for _, peer := range cfg.Peers {
			if role.MatchIndex[peer] >= n {
				count++
			}
		}
		if count >= need {
			role.CommitIndex = n
			return maybeApply(&role.Inner)
		}
	}
	return nil
}
