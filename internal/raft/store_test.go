package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// storeFactories lets the same behavioral suite run against every
// PersistentStore implementation.
func storeFactories(t *testing.T) map[string]func() PersistentStore {
	return map[string]func() PersistentStore{
		"MemStore": func() PersistentStore { return NewMemStore() },
		"FileStore": func() PersistentStore {
			fs, err := OpenFileStore(t.TempDir())
			require.NoError(t, err)
			return fs
		},
	}
}

func TestPersistentStoreBehavior(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory()

			require.EqualValues(t, 0, store.CurrentTerm())
			_, _, ok := store.VotedFor()
			require.False(t, ok)

			store.SetCurrentTerm(3)
			require.EqualValues(t, 3, store.CurrentTerm())

			store.RecordVote(3, "peer-a")
			term, candidate, ok := store.VotedFor()
			require.True(t, ok)
			require.EqualValues(t, 3, term)
			require.Equal(t, ServerId("peer-a"), candidate)

			// Advancing the term clears the recorded vote.
			store.SetCurrentTerm(4)
			_, _, ok = store.VotedFor()
			require.False(t, ok)

			require.EqualValues(t, 0, store.LogLen())
			store.AppendEntries(1, []LogEntry{
				{Term: 4, Command: Command("one")},
				{Term: 4, Command: Command("two")},
			})
			require.EqualValues(t, 2, store.LogLen())

			e, ok := store.EntryAt(1)
			require.True(t, ok)
			require.Equal(t, Command("one"), e.Command)
			require.EqualValues(t, 4, store.TermAt(2))
			require.EqualValues(t, 0, store.TermAt(0))
			require.EqualValues(t, 0, store.TermAt(99))

			_, ok = store.EntryAt(99)
			require.False(t, ok)

			store.AppendEntries(2, []LogEntry{{Term: 5, Command: Command("replaces-two")}})
			require.EqualValues(t, 2, store.LogLen())
			e, _ = store.EntryAt(2)
			require.Equal(t, Command("replaces-two"), e.Command)

			store.TruncateSuffix(2)
			require.EqualValues(t, 1, store.LogLen())
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	fs, err := OpenFileStore(dir)
	require.NoError(t, err)
	fs.SetCurrentTerm(7)
	fs.RecordVote(7, "peer-b")
	fs.AppendEntries(1, []LogEntry{{Term: 7, Command: Command("durable")}})

	reopened, err := OpenFileStore(dir)
	require.NoError(t, err)
	require.EqualValues(t, 7, reopened.CurrentTerm())

	term, candidate, ok := reopened.VotedFor()
	require.True(t, ok)
	require.EqualValues(t, 7, term)
	require.Equal(t, ServerId("peer-b"), candidate)

	require.EqualValues(t, 1, reopened.LogLen())
	e, ok := reopened.EntryAt(1)
	require.True(t, ok)
	require.Equal(t, Command("durable"), e.Command)
}

func TestFileStoreOpenOnFreshDirStartsEmpty(t *testing.T) {
	fs, err := OpenFileStore(t.TempDir())
	require.NoError(t, err)
	require.EqualValues(t, 0, fs.CurrentTerm())
	require.EqualValues(t, 0, fs.LogLen())
}
