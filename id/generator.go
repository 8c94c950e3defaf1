// Package id issues transaction identifiers and timestamps.
package id

import "sync"

// Generator provides unique transaction timestamps. Every value returned
// is strictly greater than every previously returned value.
type Generator interface {
	Next() uint64
}

// Sequence is a strictly increasing counter shared by begin-timestamp and
// commit-timestamp issuance. A transaction id doubles as its start
// timestamp, so both draw from the same sequence.
type Sequence struct {
	mu   sync.Mutex
	last uint64
}

// NewSequence creates a sequence that issues values above start.
func NewSequence(start uint64) *Sequence {
	return &Sequence{last: start}
}

// Next returns the next timestamp.
func (s *Sequence) Next() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last++
	return s.last
}

// Last returns the most recently issued timestamp without advancing.
func (s *Sequence) Last() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
