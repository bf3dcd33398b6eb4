package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dataplug/copilot/internal/reliability"
)

const systemPrompt = "You are a friendly in-car copilot helping the driver plan a route with stopovers. " +
	"Rewrite the drafted reply into one short, natural spoken sentence or two. " +
	"Keep every fact from the draft exactly as given: place names, the destination, and any question being asked. " +
	"Do not add new suggestions or new facts."

// QwenAdapter rewords drafted replies through an OpenAI-compatible
// chat-completions endpoint. Rate limits and server errors are retried
// with a capped backoff before the turn is given up.
type QwenAdapter struct {
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	client      *http.Client
	backoffBase time.Duration
}

const maxChatAttempts = 3

func NewQwenAdapter(cfg Config) *QwenAdapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &QwenAdapter{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeout},
		backoffBase: 500 * time.Millisecond,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (a *QwenAdapter) Generate(ctx context.Context, req Request) (Response, error) {
	messages := make([]chatMessage, 0, len(req.History)+2)
	messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	for _, m := range req.History {
		messages = append(messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: a.buildUserPrompt(req)})

	payload, err := json.Marshal(chatRequest{
		Model:       a.model,
		Messages:    messages,
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
	})
	if err != nil {
		return Response{}, fmt.Errorf("marshal chat request: %w", err)
	}

	var out chatResponse
	for attempt := 0; ; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return Response{}, fmt.Errorf("create chat request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

		res, err := a.client.Do(httpReq)
		if err != nil {
			return Response{}, fmt.Errorf("send chat request: %w", err)
		}

		if res.StatusCode >= 200 && res.StatusCode < 300 {
			err = json.NewDecoder(res.Body).Decode(&out)
			res.Body.Close()
			if err != nil {
				return Response{}, fmt.Errorf("decode chat response: %w", err)
			}
			break
		}

		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		res.Body.Close()
		if attempt+1 >= maxChatAttempts || !reliability.IsRetryableHTTPStatus(res.StatusCode) {
			return Response{}, fmt.Errorf("qwen http status %d: %s", res.StatusCode, string(body))
		}
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-time.After(reliability.ExponentialBackoff(attempt, a.backoffBase, 5*time.Second)):
		}
	}
	if out.Error != nil {
		return Response{}, fmt.Errorf("qwen error %s: %s", out.Error.Type, out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return Response{}, fmt.Errorf("qwen returned no choices")
	}

	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return Response{}, fmt.Errorf("qwen returned empty content")
	}
	return Response{Text: text}, nil
}

func (a *QwenAdapter) buildUserPrompt(req Request) string {
	var b strings.Builder
	if req.UserText != "" {
		fmt.Fprintf(&b, "The driver just said: %q\n", req.UserText)
	}
	if req.Destination != "" {
		fmt.Fprintf(&b, "Destination: %s\n", req.Destination)
	}
	if len(req.Preferences) > 0 {
		fmt.Fprintf(&b, "Driver preferences: %s\n", strings.Join(req.Preferences, ", "))
	}
	if len(req.Interests) > 0 {
		fmt.Fprintf(&b, "Interests so far: %s\n", strings.Join(req.Interests, ", "))
	}
	fmt.Fprintf(&b, "Drafted reply: %s", req.Draft)
	return b.String()
}
