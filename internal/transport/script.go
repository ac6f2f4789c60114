package transport

import (
	"encoding/hex"
	"sync"
)

// Script is an in-memory Transport that answers written commands from a
// table. Each command has a queue of answers; the last one repeats once the
// queue is exhausted. Commands without an entry get no answer.
type Script struct {
	mu sync.Mutex

	answers map[string][][]byte
	stream  [][]byte
	pending []byte
	open    bool

	// OpenError, WriteError and ReadError fail the matching call when set.
	OpenError  error
	WriteError error
	ReadError  error

	Opens   int
	Closes  int
	Resets  int
	Flushes int
	Written [][]byte
	Reads   []int
}

// NewScript returns a closed, empty Script.
func NewScript() *Script {
	return &Script{answers: make(map[string][][]byte)}
}

// On queues answers for cmd.
func (s *Script) On(cmd []byte, answers ...[]byte) *Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := hex.EncodeToString(cmd)
	s.answers[key] = append(s.answers[key], answers...)
	return s
}

// Stream queues data delivered to reads that no command preceded, as a
// sensor in active mode would send on its own.
func (s *Script) Stream(data ...[]byte) *Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stream = append(s.stream, data...)
	return s
}

func (s *Script) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Opens++
	if s.OpenError != nil {
		return s.OpenError
	}
	s.open = true
	return nil
}

func (s *Script) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closes++
	s.open = false
	s.pending = nil
	return nil
}

func (s *Script) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *Script) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return 0, ErrNotOpen
	}
	if s.WriteError != nil {
		return 0, s.WriteError
	}
	s.Written = append(s.Written, append([]byte(nil), p...))

	key := hex.EncodeToString(p)
	queue := s.answers[key]
	if len(queue) == 0 {
		return len(p), nil
	}
	s.pending = append(s.pending, queue[0]...)
	if len(queue) > 1 {
		s.answers[key] = queue[1:]
	}
	return len(p), nil
}

func (s *Script) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrNotOpen
	}
	s.Flushes++
	return nil
}

func (s *Script) Read(n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, ErrNotOpen
	}
	s.Reads = append(s.Reads, n)
	if s.ReadError != nil {
		return nil, s.ReadError
	}
	if len(s.pending) == 0 && len(s.stream) > 0 {
		s.pending = s.stream[0]
		s.stream = s.stream[1:]
	}
	k := min(n, len(s.pending))
	out := append([]byte(nil), s.pending[:k]...)
	s.pending = s.pending[k:]
	return out, nil
}

func (s *Script) ResetInputBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrNotOpen
	}
	s.Resets++
	s.pending = nil
	return nil
}

func (s *Script) BytesWaiting() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return 0, ErrNotOpen
	}
	return len(s.pending), nil
}

// Commands returns every written command in order.
func (s *Script) Commands() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.Written))
	copy(out, s.Written)
	return out
}
