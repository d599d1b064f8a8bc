// Package sequence hands out journal sequence numbers.
package sequence

import "sync/atomic"

// Sequencer issues strictly increasing numbers starting after the value it
// was created or reset with. Zero is never issued.
type Sequencer struct {
	last atomic.Uint64
}

func New(last uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(last)
	return s
}

func (s *Sequencer) Next() uint64 { return s.last.Add(1) }

// Current is the last issued number.
func (s *Sequencer) Current() uint64 { return s.last.Load() }

// Reset moves the sequencer to v after a snapshot load or journal replay.
func (s *Sequencer) Reset(v uint64) { s.last.Store(v) }

// Observe raises the sequencer to v if v is ahead of it.
func (s *Sequencer) Observe(v uint64) {
	for {
		cur := s.last.Load()
		if v <= cur || s.last.CompareAndSwap(cur, v) {
			return
		}
	}
}
