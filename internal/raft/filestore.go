package raft

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/leifraft/leifraft/internal/gobcodec"
)

// termRecord is the gob shape of the durable "term" file: current term plus
// the vote (if any) granted in that term's history.
type termRecord struct {
	CurrentTerm TermIndex
	HasVote     bool
	VoteTerm    TermIndex
	VoteFor     ServerId
}

func init() {
	gobcodec.Register(termRecord{})
}

// FileStore is a PersistentStore backed by two files under a data
// directory: "term" and "log". Every mutating method rewrites its file to a
// temp path, fsyncs it, and renames it into place, so a crash between those
// steps leaves the previous durable state intact rather than a torn write.
type FileStore struct {
	mu      sync.Mutex
	dir     string
	term    termRecord
	entries []LogEntry
}

// OpenFileStore loads (or initializes) persistent state from dir.
func OpenFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	fs := &FileStore{dir: dir}
	if err := fs.loadTerm(); err != nil {
		return nil, err
	}
	if err := fs.loadLog(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FileStore) termPath() string { return filepath.Join(fs.dir, "term") }
func (fs *FileStore) logPath() string  { return filepath.Join(fs.dir, "log") }

func (fs *FileStore) loadTerm() error {
	data, err := os.ReadFile(fs.termPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var rec termRecord
	if err := gobcodec.Unmarshal(data, &rec); err != nil {
		log.Warn().Err(err).Str("path", fs.termPath()).Msg("discarding corrupt term record")
		return nil
	}
	fs.term = rec
	return nil
}

func (fs *FileStore) loadLog() error {
	data, err := os.ReadFile(fs.logPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var entries []LogEntry
	if err := gobcodec.Unmarshal(data, &entries); err != nil {
		log.Warn().Err(err).Str("path", fs.logPath()).Msg("discarding corrupt log")
		return nil
	}
	fs.entries = entries
	return nil
}

func (fs *FileStore) writeTerm() {
	data, err := gobcodec.Marshal(fs.term)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to marshal term record")
	}
	fs.atomicWrite(fs.termPath(), data)
}

func (fs *FileStore) writeLog() {
	data, err := gobcodec.Marshal(fs.entries)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to marshal log")
	}
	fs.atomicWrite(fs.logPath(), data)
}

// atomicWrite uses the standard write-temp/fsync/rename dance directly.
// I/O failure at any step is fatal to the node.
func (fs *FileStore) atomicWrite(path string, data []byte) {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		log.Fatal().Err(err).Str("path", tmp).Msg("storage I/O failure, halting")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		log.Fatal().Err(err).Str("path", tmp).Msg("storage I/O failure, halting")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		log.Fatal().Err(err).Str("path", tmp).Msg("storage I/O failure, halting")
	}
	if err := f.Close(); err != nil {
		log.Fatal().Err(err).Str("path", tmp).Msg("storage I/O failure, halting")
	}
	if err := os.Rename(tmp, path); err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("storage I/O failure, halting")
	}
}

func (fs *FileStore) CurrentTerm() TermIndex {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.term.CurrentTerm
}

func (fs *FileStore) SetCurrentTerm(t TermIndex) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if t > fs.term.CurrentTerm {
		fs.term.HasVote = false
	}
	fs.term.CurrentTerm = t
	fs.writeTerm()
}

func (fs *FileStore) VotedFor() (TermIndex, ServerId, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.term.VoteTerm, fs.term.VoteFor, fs.term.HasVote
}

func (fs *FileStore) RecordVote(term TermIndex, candidate ServerId) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.term.HasVote = true
	fs.term.VoteTerm = term
	fs.term.VoteFor = candidate
	fs.writeTerm()
}

func (fs *FileStore) LogLen() LogIndex {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return LogIndex(len(fs.entries))
}

func (fs *FileStore) EntryAt(index LogIndex) (LogEntry, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if index < 1 || int(index) > len(fs.entries) {
		return LogEntry{}, false
	}
	return fs.entries[index-1], true
}

func (fs *FileStore) TermAt(index LogIndex) TermIndex {
	if index <= 0 {
		return 0
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if int(index) > len(fs.entries) {
		return 0
	}
	return fs.entries[index-1].Term
}

func (fs *FileStore) AppendEntries(fromIndex LogIndex, entries []LogEntry) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.truncateLocked(fromIndex)
	fs.entries = append(fs.entries, entries...)
	fs.writeLog()
}

func (fs *FileStore) TruncateSuffix(fromIndex LogIndex) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	before := len(fs.entries)
	fs.truncateLocked(fromIndex)
	if len(fs.entries) != before {
		fs.writeLog()
	}
}

func (fs *FileStore) truncateLocked(fromIndex LogIndex) {
	if fromIndex < 1 {
		fromIndex = 1
	}
	if int(fromIndex)-1 < len(fs.entries) {
		fs.entries = fs.entries[:fromIndex-1]
	}
}
