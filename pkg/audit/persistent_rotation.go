package audit

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/golang/snappy"
)

const (
	segmentPrefix = "audit-"
	segmentExt    = ".jsonl"
	compressedExt = ".sz"
)

type segment struct {
	seq        int
	path       string
	compressed bool
}

func segmentName(seq int) string {
	return fmt.Sprintf("%s%06d%s", segmentPrefix, seq, segmentExt)
}

// listSegments returns the log segments in dir in chain order. A segment
// present both plain and compressed (a crash during compression) is
// listed once, as the plain file.
func listSegments(dir string) ([]segment, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	bySeq := make(map[int]segment)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, segmentPrefix) {
			continue
		}
		var seq int
		if _, err := fmt.Sscanf(name, segmentPrefix+"%06d", &seq); err != nil {
			continue
		}
		s := segment{seq: seq, path: filepath.Join(dir, name)}
		switch {
		case name == segmentName(seq):
		case name == segmentName(seq)+compressedExt:
			s.compressed = true
			if _, plain := bySeq[seq]; plain {
				continue
			}
		default:
			continue
		}
		bySeq[seq] = s
	}

	segs := make([]segment, 0, len(bySeq))
	for _, s := range bySeq {
		segs = append(segs, s)
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].seq < segs[j].seq })
	return segs, nil
}

// openSegment returns a reader over the decompressed segment content.
func openSegment(s segment) (io.ReadCloser, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	if !s.compressed {
		return f, nil
	}
	return struct {
		io.Reader
		io.Closer
	}{snappy.NewReader(f), f}, nil
}

func (l *PersistentAuditLogger) shouldRotate() bool {
	return l.rotationSize > 0 && l.bytesWritten >= l.rotationSize
}

// rotate closes the current segment, compresses it when configured and
// opens the next one. Callers hold l.mu.
func (l *PersistentAuditLogger) rotate() error {
	flushErr := l.writer.Flush()
	oldName := l.currentFile.Name()
	if err := l.currentFile.Close(); err != nil {
		if flushErr != nil {
			return fmt.Errorf("failed to flush before rotation: %w (also failed to close: %v)", flushErr, err)
		}
		return fmt.Errorf("failed to close log file: %w", err)
	}
	if flushErr != nil {
		return fmt.Errorf("failed to flush before rotation: %w", flushErr)
	}

	if l.compress {
		if err := compressFile(oldName); err != nil {
			return err
		}
	}

	l.seq++
	l.bytesWritten = 0
	return l.openLogFile()
}

// compressFile writes name+".sz" in the snappy framing format and removes
// name once the copy is synced.
func compressFile(name string) (retErr error) {
	src, err := os.Open(name)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(name+compressedExt, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	defer func() {
		if err := dst.Close(); err != nil && retErr == nil {
			retErr = err
		}
		if retErr != nil {
			os.Remove(name + compressedExt)
		}
	}()

	w := snappy.NewBufferedWriter(dst)
	if _, err := io.Copy(w, bufio.NewReader(src)); err != nil {
		return fmt.Errorf("failed to compress %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return err
	}
	if err := dst.Sync(); err != nil {
		return err
	}
	return os.Remove(name)
}
