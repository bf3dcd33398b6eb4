package brain

import (
	"context"
	"strings"
	"time"
)

// Message is one prior exchange passed along for tone continuity.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request carries a drafted reply plus the conversation facts the model may
// use while rewording it. The draft's meaning is binding; the model only
// changes the phrasing.
type Request struct {
	SessionID   string
	UserText    string
	Draft       string
	Destination string
	Preferences []string
	Interests   []string
	History     []Message
}

// Response is the final assistant wording.
type Response struct {
	Text string
}

// Adapter turns a drafted reply into natural assistant speech.
type Adapter interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// Config controls adapter construction.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// NewAdapter returns the Qwen-backed adapter when an API key is configured,
// otherwise the deterministic template adapter.
func NewAdapter(cfg Config) Adapter {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return NewTemplateAdapter()
	}
	return NewQwenAdapter(cfg)
}
