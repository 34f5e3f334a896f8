package raft

// PersistentStore is the durable term/vote/log API the state machine reads
// and mutates. Every mutating method must be durable before it returns —
// the driver may never release an outbound action derived from a mutation
// this call made until the call itself has returned.
//
// I/O failure is fatal: an implementation should halt the process rather
// than return as though the write succeeded.
type PersistentStore interface {
	// CurrentTerm returns the highest term this node has observed.
	CurrentTerm() TermIndex

	// SetCurrentTerm durably records t. If t is strictly greater than the
	// previously stored term, the recorded vote is cleared.
	SetCurrentTerm(t TermIndex)

	// VotedFor returns the term and candidate of the vote most recently
	// granted, and whether a vote has been granted at all.
	VotedFor() (term TermIndex, candidate ServerId, ok bool)

	// RecordVote durably records that this node voted for candidate in
	// term.
	RecordVote(term TermIndex, candidate ServerId)

	// LogLen returns the number of entries in the log (equivalently, the
	// index of the last entry).
	LogLen() LogIndex

	// EntryAt returns the entry at index (1-based), or ok=false if index is
	// out of range.
	EntryAt(index LogIndex) (entry LogEntry, ok bool)

	// TermAt returns the term of the entry at index, or 0 for index 0 or
	// any index beyond the log.
	TermAt(index LogIndex) TermIndex

	// AppendEntries truncates any existing entries at or after fromIndex,
	// then durably appends entries starting at fromIndex.
	AppendEntries(fromIndex LogIndex, entries []LogEntry)

	// TruncateSuffix durably discards any entries at or after fromIndex.
	TruncateSuffix(fromIndex LogIndex)
}
