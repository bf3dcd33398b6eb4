package speech

import (
	"context"
	"sync"
)

// MockRecognizer is a test double; Emit injects recognition events for the
// session's open stream.
type MockRecognizer struct {
	mu       sync.Mutex
	sessions map[string]*MockSink
}

func NewMockRecognizer() *MockRecognizer {
	return &MockRecognizer{sessions: make(map[string]*MockSink)}
}

func (r *MockRecognizer) Start(_ context.Context, sessionID string) (Sink, <-chan Event, error) {
	s := &MockSink{events: make(chan Event, 64)}
	r.mu.Lock()
	r.sessions[sessionID] = s
	r.mu.Unlock()
	return s, s.events, nil
}

func (r *MockRecognizer) Emit(sessionID string, ev Event) {
	r.mu.Lock()
	s := r.sessions[sessionID]
	r.mu.Unlock()
	if s != nil {
		s.emit(ev)
	}
}

// Sink returns the session's sink, or nil if Start was never called.
func (r *MockRecognizer) Sink(sessionID string) *MockSink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[sessionID]
}

// Received returns all audio payloads the session's sink has accepted.
func (r *MockRecognizer) Received(sessionID string) [][]byte {
	r.mu.Lock()
	s := r.sessions[sessionID]
	r.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.received()
}

type MockSink struct {
	mu     sync.Mutex
	events chan Event
	audio  [][]byte
	closed bool
}

func (s *MockSink) SendAudio(_ context.Context, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	cp := append([]byte(nil), pcm...)
	s.audio = append(s.audio, cp)
	return nil
}

func (s *MockSink) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}

func (s *MockSink) received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.audio...)
}

// Closed reports whether Close has been called on the sink.
func (s *MockSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *MockSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}

// StaticSynthesizer returns a fixed payload or error for every call.
type StaticSynthesizer struct {
	Audio []byte
	Err   error
}

func (s *StaticSynthesizer) Synthesize(_ context.Context, _ string) ([]byte, error) {
	return s.Audio, s.Err
}
