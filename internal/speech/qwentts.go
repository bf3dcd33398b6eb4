package speech

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

type QwenTTSConfig struct {
	APIKey  string
	URL     string
	Model   string
	Voice   string
	Timeout time.Duration
}

// QwenTTS synthesizes speech through the DashScope TTS endpoint. The
// endpoint replies with a short-lived audio URL which is downloaded before
// returning. Rate limits and server errors on the synthesis call are
// retried with a capped backoff.
type QwenTTS struct {
	cfg         QwenTTSConfig
	client      *http.Client
	backoffBase time.Duration
}

const maxSynthAttempts = 3

func NewQwenTTS(cfg QwenTTSConfig) *QwenTTS {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = "https://dashscope.aliyuncs.com/api/v1/services/aigc/multimodal-generation/generation"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "qwen3-tts-flash"
	}
	if strings.TrimSpace(cfg.Voice) == "" {
		cfg.Voice = "Cherry"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &QwenTTS{cfg: cfg, client: &http.Client{Timeout: timeout}, backoffBase: 500 * time.Millisecond}
}

type ttsResponse struct {
	Output struct {
		Audio struct {
			URL string `json:"url"`
		} `json:"audio"`
	} `json:"output"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (t *QwenTTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	payload, err := json.Marshal(map[string]any{
		"model": t.cfg.Model,
		"input": map[string]any{
			"text":  text,
			"voice": t.cfg.Voice,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}

	var out ttsResponse
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("create tts request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)

		res, err := t.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("send tts request: %w", err)
		}

		if res.StatusCode >= 200 && res.StatusCode < 300 {
			err = json.NewDecoder(res.Body).Decode(&out)
			res.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("decode tts response: %w", err)
			}
			break
		}

		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		res.Body.Close()
		if attempt+1 >= maxSynthAttempts || !reliability.IsRetryableHTTPStatus(res.StatusCode) {
			return nil, fmt.Errorf("tts http status %d: %s", res.StatusCode, string(body))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(reliability.ExponentialBackoff(attempt, t.backoffBase, 5*time.Second)):
		}
	}
	if out.Code != "" {
		return nil, fmt.Errorf("tts error %s: %s", out.Code, out.Message)
	}
	if out.Output.Audio.URL == "" {
		return nil, fmt.Errorf("tts response has no audio url")
	}

	return t.download(ctx, out.Output.Audio.URL)
}

func (t *QwenTTS) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create audio download: %w", err)
	}
	res, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download audio: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("audio download status %d", res.StatusCode)
	}
	audio, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	return audio, nil
}
