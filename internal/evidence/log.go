// Package evidence is the decision-context recorder and its query surface.
// The JSONL hash chain is the tamper-evident source of truth; the sqlite
// store beside it exists for post-run queries and emergence analysis.
package evidence

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ppiankov/swarmgate/internal/model"
)

// GenesisHash is the prev_hash for the first entry in a new evidence log.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// Entry is one line in the hash-chained JSONL evidence log.
type Entry struct {
	Record   model.DecisionRecord `json:"record"`
	PrevHash string               `json:"prev_hash"`
}

// Log is an append-only JSONL evidence log with SHA-256 hash chaining.
// Appends from concurrent agents are serialized and each is synced to disk
// before the call returns, so no acknowledged write can be lost.
type Log struct {
	path     string
	file     *os.File
	prevHash string
	mu       sync.Mutex
}

// Open opens (or creates) an evidence log for appending. If the file exists
// the last line is read back to recover the chain tail.
func Open(path string) (*Log, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("evidence: create directory: %w", err)
	}

	prevHash := GenesisHash

	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("evidence: read existing log: %w", err)
		}
		scanner := bufio.NewScanner(f)
		var lastLine []byte
		for scanner.Scan() {
			lastLine = make([]byte, len(scanner.Bytes()))
			copy(lastLine, scanner.Bytes())
		}
		f.Close()
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("evidence: scan existing log: %w", err)
		}
		if len(lastLine) > 0 {
			prevHash = HashLine(lastLine)
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("evidence: open file: %w", err)
	}

	return &Log{
		path:     path,
		file:     file,
		prevHash: prevHash,
	}, nil
}

// Append writes one decision record to the chain. The record is always
// persisted; a record with an empty decision_context is marked tainted and
// the call returns ErrDataIntegrity so the defect surfaces instead of
// silently passing. The run is not blocked by the taint.
func (l *Log) Append(rec model.DecisionRecord) error {
	if !model.ValidRunID(string(rec.RunID)) {
		return fmt.Errorf("evidence: unknown run id %q", rec.RunID)
	}
	if rec.ActionID == "" {
		return fmt.Errorf("evidence: record missing action id")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	tainted := len(rec.DecisionContext) == 0
	if tainted {
		rec.Tainted = true
	}

	if err := l.append(rec); err != nil {
		return err
	}

	if tainted {
		return fmt.Errorf("evidence: action %s: %w", rec.ActionID, model.ErrDataIntegrity)
	}
	return nil
}

func (l *Log) append(rec model.DecisionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{Record: rec, PrevHash: l.prevHash}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("evidence: marshal entry: %w", err)
	}

	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("evidence: write entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("evidence: sync: %w", err)
	}

	l.prevHash = HashLine(line)
	return nil
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// ReadAll loads every record in a log file, in order.
func ReadAll(path string) ([]model.DecisionRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("evidence: open log: %w", err)
	}
	defer f.Close()

	var records []model.DecisionRecord
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("evidence: line %d: %w", line, err)
		}
		records = append(records, entry.Record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("evidence: scan log: %w", err)
	}
	return records, nil
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}
