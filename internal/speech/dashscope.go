package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dataplug/copilot/internal/reliability"
)

type DashScopeConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
}

// DashScopeRecognizer streams audio to the DashScope realtime transcription
// endpoint and surfaces partial and final transcripts as events.
type DashScopeRecognizer struct {
	cfg DashScopeConfig
}

func NewDashScopeRecognizer(cfg DashScopeConfig) *DashScopeRecognizer {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "wss://dashscope.aliyuncs.com/api-ws/v1/realtime"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "qwen3-asr-flash-realtime"
	}
	return &DashScopeRecognizer{cfg: cfg}
}

func (r *DashScopeRecognizer) Start(ctx context.Context, _ string) (Sink, <-chan Event, error) {
	u := r.cfg.BaseURL
	if !strings.Contains(u, "model=") {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u = u + sep + "model=" + r.cfg.Model
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+r.cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, headers)
	if err != nil {
		return nil, nil, fmt.Errorf("dial asr websocket: %w", err)
	}

	events := make(chan Event, 256)
	s := &dashSink{conn: conn, done: make(chan struct{}), events: events}

	if err := s.writeJSON(r.sessionUpdate()); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("configure asr session: %w", err)
	}

	go s.readLoop()
	return s, events, nil
}

func (r *DashScopeRecognizer) sessionUpdate() map[string]any {
	session := map[string]any{
		"modalities":         []string{"text"},
		"input_audio_format": "pcm",
		"sample_rate":        16000,
		"turn_detection": map[string]any{
			"type":                "server_vad",
			"threshold":           0.2,
			"silence_duration_ms": 800,
		},
	}
	if r.cfg.Language != "" {
		session["input_audio_transcription"] = map[string]any{
			"model":    r.cfg.Model,
			"language": r.cfg.Language,
		}
	}
	return map[string]any{"type": "session.update", "session": session}
}

type dashSink struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
	events    chan Event
}

func (s *dashSink) SendAudio(_ context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	return s.writeJSON(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(pcm),
	})
}

func (s *dashSink) writeJSON(payload map[string]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(payload)
}

// readLoop is the sole sender on s.events and the only place the channel
// is closed. Close only shuts the websocket, so a Close while a send is
// blocked on a full buffer unblocks the read and lets the loop drain out.
func (s *dashSink) readLoop() {
	defer close(s.events)
	defer s.Close()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}
		switch asString(raw["type"]) {
		case "conversation.item.input_audio_transcription.delta":
			if !s.emit(Event{Type: EventPartial, Text: asString(raw["delta"]), Timestamp: time.Now().UnixMilli()}) {
				return
			}
		case "conversation.item.input_audio_transcription.completed":
			if !s.emit(Event{Type: EventFinal, Text: asString(raw["transcript"]), Timestamp: time.Now().UnixMilli()}) {
				return
			}
		case "error":
			code, detail := errorFields(raw)
			ok := s.emit(Event{
				Type:      EventError,
				Code:      code,
				Detail:    detail,
				Retryable: reliability.IsRetryableSpeechErrorCode(code),
				Timestamp: time.Now().UnixMilli(),
			})
			if !ok {
				return
			}
		default:
			// session.created, session.updated and buffer acks carry no
			// transcript payload.
		}
	}
}

// emit delivers an event unless the sink has been closed. A consumer that
// stops draining never wedges the loop: Close releases the blocked send.
func (s *dashSink) emit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *dashSink) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		close(s.done)
		retErr = s.conn.Close()
	})
	return retErr
}

func errorFields(raw map[string]any) (string, string) {
	if obj, ok := raw["error"].(map[string]any); ok {
		return asString(obj["code"]), asString(obj["message"])
	}
	return asString(raw["code"]), asString(raw["message"])
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
