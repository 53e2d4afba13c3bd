package stream

import (
	"context"
	"sync"

	"vendoraccess.org/internal/audit"
)

// Stream fans audit entries out to live subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	next int
}

type subscriber struct {
	ch  chan audit.Entry
	min int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber for entries at or above minSeverity (empty
// means all). The channel is closed when ctx ends.
func (s *Stream) Subscribe(ctx context.Context, minSeverity audit.Severity) <-chan audit.Entry {
	ch := make(chan audit.Entry, 32)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{ch: ch, min: severityRank(minSeverity)}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fans the entry out to all matching subscribers.
func (s *Stream) Publish(e audit.Entry) {
	rank := severityRank(e.Severity)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if rank < sub.min {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Sink adapts the stream to an audit recorder sink.
func (s *Stream) Sink() audit.Sink {
	return s.Publish
}

// Subscribers returns the number of live subscribers.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

func severityRank(sev audit.Severity) int {
	for i, v := range audit.Severities {
		if v == sev {
			return i
		}
	}
	return 0
}
