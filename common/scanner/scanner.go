// Package scanner finds a delimiter in a byte stream that arrives in arbitrary chunks.
package scanner

import (
	"bytes"

	E "github.com/sagernet/sing-tcpstream/common/exceptions"
)

var ErrLimitExceeded = E.New("pattern not found within scan limit")

type Status uint8

const (
	StatusPending Status = iota
	StatusMatched
	StatusLimitExceeded
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusMatched:
		return "matched"
	case StatusLimitExceeded:
		return "limit exceeded"
	default:
		return "unknown"
	}
}

// Result is the outcome of a Feed. For StatusMatched, Length counts every byte fed so far
// up to and including the pattern.
type Result struct {
	Status Status
	Length int
}

// Scanner is stateful across Feed calls: it keeps the last len(pattern)-1 bytes it has
// seen, so a pattern split across chunk boundaries is still found.
type Scanner struct {
	pattern   []byte
	maxLength int
	tail      []byte
	fed       int
	finished  bool
}

// New creates a scanner for pattern. A positive maxLength requires the match to end
// within the first maxLength bytes fed.
func New(pattern []byte, maxLength int) *Scanner {
	if len(pattern) == 0 {
		panic("scanner: empty pattern")
	}
	if maxLength < 0 {
		maxLength = 0
	}
	return &Scanner{
		pattern:   append([]byte(nil), pattern...),
		maxLength: maxLength,
		tail:      make([]byte, 0, len(pattern)-1),
	}
}

func (s *Scanner) MaxLength() int {
	return s.maxLength
}

// Feed consumes the next chunk of the stream. Once a terminal result is returned, later
// calls return StatusPending.
func (s *Scanner) Feed(data []byte) Result {
	if s.finished {
		return Result{Status: StatusPending}
	}
	if s.maxLength > 0 && s.fed+len(data) > s.maxLength {
		data = data[:s.maxLength-s.fed]
	}
	window := make([]byte, 0, len(s.tail)+len(data))
	window = append(window, s.tail...)
	window = append(window, data...)
	windowStart := s.fed - len(s.tail)
	s.fed += len(data)

	if index := bytes.Index(window, s.pattern); index >= 0 {
		s.finished = true
		return Result{Status: StatusMatched, Length: windowStart + index + len(s.pattern)}
	}
	if s.maxLength > 0 && s.fed >= s.maxLength {
		s.finished = true
		return Result{Status: StatusLimitExceeded}
	}
	keep := len(s.pattern) - 1
	if keep > len(window) {
		keep = len(window)
	}
	s.tail = append(s.tail[:0], window[len(window)-keep:]...)
	return Result{Status: StatusPending}
}
