package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-dagvc/pkg/hasher"
)

// ErrClosed is returned when logging to a closed persistent logger.
var ErrClosed = errors.New("audit: logger closed")

// PersistentAuditLogger appends events to hash-chained JSONL segments.
// Every event is synced to disk before Log returns.
type PersistentAuditLogger struct {
	dir          string
	rotationSize int64
	compress     bool
	hasher       *hasher.Hasher

	mu           sync.Mutex
	seq          int
	currentFile  *os.File
	writer       *bufio.Writer
	lastHash     string
	eventCount   int64
	bytesWritten int64
	closed       bool
}

// NewPersistentAuditLogger opens the log in cfg.Dir. An existing log is
// continued: new events chain onto the last recorded hash.
func NewPersistentAuditLogger(cfg PersistentConfig) (*PersistentAuditLogger, error) {
	if cfg.Dir == "" {
		return nil, errors.New("audit: directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	l := &PersistentAuditLogger{
		dir:          cfg.Dir,
		rotationSize: cfg.RotationSize,
		compress:     cfg.Compress,
		hasher:       hasher.Default(),
		seq:          1,
	}

	segs, err := listSegments(cfg.Dir)
	if err != nil {
		return nil, err
	}
	if len(segs) > 0 {
		// The newest segment is empty right after a rotation.
		for i := len(segs) - 1; i >= 0 && l.lastHash == ""; i-- {
			if l.lastHash, err = lastHash(segs[i]); err != nil {
				return nil, fmt.Errorf("failed to resume audit log %s: %w", segs[i].path, err)
			}
		}
		last := segs[len(segs)-1]
		l.seq = last.seq
		if last.compressed {
			l.seq++
		}
	}

	if err := l.openLogFile(); err != nil {
		return nil, err
	}
	return l, nil
}

// Log chains event onto the log and syncs it to disk.
func (l *PersistentAuditLogger) Log(event *Event) error {
	if event == nil {
		return errors.New("audit: nil event")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	line, hash, err := l.chain(event)
	if err != nil {
		return err
	}
	n, err := l.writer.Write(line)
	if err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush event: %w", err)
	}
	if err := l.currentFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log to disk: %w", err)
	}

	l.lastHash = hash
	l.eventCount++
	l.bytesWritten += int64(n)

	if l.shouldRotate() {
		return l.rotate()
	}
	return nil
}

// chain returns the encoded line for event and its hash.
func (l *PersistentAuditLogger) chain(event *Event) ([]byte, string, error) {
	pe := PersistentEvent{Event: event, PreviousHash: l.lastHash}
	data, err := json.Marshal(pe)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal event: %w", err)
	}
	pe.EventHash = l.hasher.Sum(data)

	data, err = json.Marshal(pe)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal event with hash: %w", err)
	}
	return append(data, '\n'), pe.EventHash, nil
}

func (l *PersistentAuditLogger) openLogFile() error {
	name := filepath.Join(l.dir, segmentName(l.seq))
	file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	l.currentFile = file
	l.writer = bufio.NewWriter(file)
	l.bytesWritten = stat.Size()
	return nil
}

// GetEventCount returns the number of events logged by this process.
func (l *PersistentAuditLogger) GetEventCount() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.eventCount
}

// LastHash returns the hash of the newest event in the chain.
func (l *PersistentAuditLogger) LastHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastHash
}

// Verify checks the whole on-disk chain and returns the number of events
// verified.
func (l *PersistentAuditLogger) Verify() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		if err := l.writer.Flush(); err != nil {
			return 0, err
		}
	}
	return VerifyChain(l.dir)
}

// GetStatistics returns statistics about the audit logger
func (l *PersistentAuditLogger) GetStatistics() Statistics {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := Statistics{
		TotalEvents:  l.eventCount,
		CurrentFile:  segmentName(l.seq),
		BytesWritten: l.bytesWritten,
		LastHash:     l.lastHash,
	}
	if segs, err := listSegments(l.dir); err == nil {
		stats.Segments = len(segs)
		for _, s := range segs {
			if info, err := os.Stat(s.path); err == nil {
				stats.TotalSize += info.Size()
			}
		}
	}
	return stats
}

// Close flushes and closes the current segment.
func (l *PersistentAuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	flushErr := l.writer.Flush()
	closeErr := l.currentFile.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
