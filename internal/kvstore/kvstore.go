// Package kvstore is the client-facing apply target fed by committed log
// entries: a radix-tree-backed key/value store, built on an immutable tree
// so readers never block behind a writer applying new commits.
package kvstore

import (
	iradix "github.com/hashicorp/go-immutable-radix"
	"github.com/rs/zerolog/log"

	"github.com/leifraft/leifraft/internal/gobcodec"
	"github.com/leifraft/leifraft/internal/raft"
)

// op identifies what a Command asks the store to do. The core never
// inspects a Command's bytes; only this package's EncodeSet/EncodeDelete
// and Apply agree on this shape.
type op uint8

const (
	opSet op = iota + 1
	opDelete
)

// command is the gob shape a raft.Command's bytes decode into. It is
// unexported: nothing outside this package ever needs to construct or
// inspect one directly.
type command struct {
	Op    op
	Key   string
	Value string
}

func init() {
	gobcodec.Register(command{})
}

// EncodeSet builds the opaque raft.Command for a client "set key = value"
// request, for the HTTP API to append to the leader's log.
func EncodeSet(key, value string) (raft.Command, error) {
	data, err := gobcodec.Marshal(command{Op: opSet, Key: key, Value: value})
	if err != nil {
		return nil, err
	}
	return raft.Command(data), nil
}

// EncodeDelete builds the opaque raft.Command for a client "delete key"
// request.
func EncodeDelete(key string) (raft.Command, error) {
	data, err := gobcodec.Marshal(command{Op: opDelete, Key: key})
	if err != nil {
		return nil, err
	}
	return raft.Command(data), nil
}

// Store is the apply target: an immutable radix tree plus the single
// pointer swap that publishes each new version. Get reads whatever
// snapshot is currently published and never takes a lock shared with
// Apply, the same "readers never wait on the writer" property an
// immutable tree gives for free.
type Store struct {
	snapshot atomicTree
}

// New returns an empty store.
func New() *Store {
	s := &Store{}
	s.snapshot.store(iradix.New())
	return s
}

// Get returns the current value for key, if present.
func (s *Store) Get(key string) (string, bool) {
	v, ok := s.snapshot.load().Get([]byte(key))
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Apply decodes and applies a single committed log entry's command. It is
// called once per entry, in order, by Apply's caller (the driver's
// ApplyLogEntries handling) — never concurrently with itself.
func (s *Store) Apply(entry raft.LogEntry) error {
	var cmd command
	if err := gobcodec.Unmarshal(entry.Command, &cmd); err != nil {
		return err
	}

	tree := s.snapshot.load()
	txn := tree.Txn()
	switch cmd.Op {
	case opSet:
		txn.Insert([]byte(cmd.Key), cmd.Value)
		log.Trace().Str("key", cmd.Key).Str("value", cmd.Value).Msg("kvstore set")
	case opDelete:
		txn.Delete([]byte(cmd.Key))
		log.Trace().Str("key", cmd.Key).Msg("kvstore delete")
	default:
		log.Warn().Uint8("op", uint8(cmd.Op)).Msg("kvstore: unknown command op, ignoring")
		return nil
	}
	s.snapshot.store(txn.Commit())
	return nil
}

// ApplyRange applies every entry store.EntryAt(i) returns for i in
// [from, to], in order, matching an ApplyLogEntriesAction's inclusive
// range.
func (s *Store) ApplyRange(store raft.PersistentStore, from, to raft.LogIndex) error {
	for i := from; i <= to; i++ {
		entry, ok := store.EntryAt(i)
		if !ok {
			log.Warn().Int64("index", int64(i)).Msg("kvstore: ApplyLogEntries range references missing entry")
			continue
		}
		if err := s.Apply(entry); err != nil {
			return err
		}
	}
	return nil
}
