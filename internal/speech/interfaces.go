package speech

import "context"

type EventType string

const (
	EventPartial EventType = "partial"
	EventFinal   EventType = "final"
	EventError   EventType = "error"
)

// Event is one recognition result or upstream error.
type Event struct {
	Type      EventType
	Text      string
	Code      string
	Detail    string
	Retryable bool
	Timestamp int64
}

// Sink accepts raw PCM audio for a live recognition stream.
type Sink interface {
	SendAudio(ctx context.Context, pcm []byte) error
	Close() error
}

// Recognizer opens a realtime speech-to-text stream per session.
type Recognizer interface {
	Start(ctx context.Context, sessionID string) (Sink, <-chan Event, error)
}

// Synthesizer renders assistant text to audio. Implementations return an
// error when synthesis is unavailable; callers degrade to text-only.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
