package codec

import (
	"context"
	"errors"
	"sync"
	"time"
)

// #region scripted

// Reply is one scripted generator outcome.
type Reply struct {
	Text  string
	Err   error
	Delay time.Duration // wait before replying; honors ctx
}

// Scripted replays a fixed queue of replies in order. Used by replay and tests.
type Scripted struct {
	mu      sync.Mutex
	model   string
	replies []Reply
	calls   [][]Message
}

// NewScripted creates a scripted generator that answers with texts in order.
func NewScripted(texts ...string) *Scripted {
	s := &Scripted{model: "scripted"}
	for _, t := range texts {
		s.replies = append(s.replies, Reply{Text: t})
	}
	return s
}

// Push appends replies to the queue.
func (s *Scripted) Push(replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, replies...)
}

// Model returns "scripted".
func (s *Scripted) Model() string { return s.model }

// Generate pops the next reply. An empty queue is a generation failure.
func (s *Scripted) Generate(ctx context.Context, messages []Message) (string, error) {
	s.mu.Lock()
	cp := make([]Message, len(messages))
	copy(cp, messages)
	s.calls = append(s.calls, cp)
	if len(s.replies) == 0 {
		s.mu.Unlock()
		return "", Normalize(errors.New("scripted generator: no replies left"))
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	s.mu.Unlock()

	if r.Delay > 0 {
		timer := time.NewTimer(r.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", Normalize(ctx.Err())
		case <-timer.C:
		}
	}
	if r.Err != nil {
		return "", Normalize(r.Err)
	}
	return r.Text, nil
}

// Calls returns a copy of every message list received so far.
func (s *Scripted) Calls() [][]Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Message, len(s.calls))
	copy(out, s.calls)
	return out
}

// Remaining returns the number of queued replies.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replies)
}

// #endregion scripted
