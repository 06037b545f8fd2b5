package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dd0wney/cluso-dagvc/pkg/hasher"
)

// ErrChainBroken is wrapped by every verification failure.
var ErrChainBroken = errors.New("audit: hash chain broken")

const maxLine = 1 << 20

func newScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), maxLine)
	return s
}

// VerifyChain checks every segment in dir in order: each event's hash must
// match its content and link to the previous event, across segment
// boundaries. It returns the number of events verified.
func VerifyChain(dir string) (int, error) {
	segs, err := listSegments(dir)
	if err != nil {
		return 0, err
	}

	var previous string
	total := 0
	for _, s := range segs {
		n, last, err := verifySegment(s, previous)
		total += n
		if err != nil {
			return total, err
		}
		previous = last
	}
	return total, nil
}

func verifySegment(s segment, previous string) (int, string, error) {
	r, err := openSegment(s)
	if err != nil {
		return 0, previous, err
	}
	defer r.Close()

	scanner := newScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var event PersistentEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return lineNum - 1, previous, fmt.Errorf("%w: %s line %d: %v", ErrChainBroken, s.path, lineNum, err)
		}
		if event.PreviousHash != previous {
			return lineNum - 1, previous, fmt.Errorf("%w: %s line %d: previous hash %q, want %q",
				ErrChainBroken, s.path, lineNum, event.PreviousHash, previous)
		}

		recorded := event.EventHash
		event.EventHash = ""
		data, err := json.Marshal(event)
		if err != nil {
			return lineNum - 1, previous, err
		}
		if computed := hasher.Default().Sum(data); computed != recorded {
			return lineNum - 1, previous, fmt.Errorf("%w: %s line %d: event hash %s, computed %s",
				ErrChainBroken, s.path, lineNum, recorded, computed)
		}
		previous = recorded
	}
	if err := scanner.Err(); err != nil {
		return lineNum, previous, err
	}
	return lineNum, previous, nil
}

// lastHash returns the hash of the final event in s.
func lastHash(s segment) (string, error) {
	r, err := openSegment(s)
	if err != nil {
		return "", err
	}
	defer r.Close()

	var last []byte
	scanner := newScanner(r)
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			last = append(last[:0], scanner.Bytes()...)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	if last == nil {
		return "", nil
	}
	var event PersistentEvent
	if err := json.Unmarshal(last, &event); err != nil {
		return "", err
	}
	return event.EventHash, nil
}
