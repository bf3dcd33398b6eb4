package speech

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestDashScopeRecognizerStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		if got := r.Header.Get("OpenAI-Beta"); got != "realtime=v1" {
			t.Errorf("beta header = %q", got)
		}
		if got := r.URL.Query().Get("model"); got != "qwen3-asr-flash-realtime" {
			t.Errorf("model param = %q", got)
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var setup map[string]any
		if err := conn.ReadJSON(&setup); err != nil {
			t.Errorf("read session.update: %v", err)
			return
		}
		if setup["type"] != "session.update" {
			t.Errorf("first frame type = %v", setup["type"])
		}

		var append_ map[string]any
		if err := conn.ReadJSON(&append_); err != nil {
			t.Errorf("read append: %v", err)
			return
		}
		if append_["type"] != "input_audio_buffer.append" {
			t.Errorf("append frame type = %v", append_["type"])
		}
		if s, _ := append_["audio"].(string); s == "" {
			t.Error("append frame has no audio payload")
		}

		_ = conn.WriteJSON(map[string]any{
			"type":  "conversation.item.input_audio_transcription.delta",
			"delta": "near Shi",
		})
		_ = conn.WriteJSON(map[string]any{
			"type":       "conversation.item.input_audio_transcription.completed",
			"transcript": "near Shibuya station",
		})
		// keep the socket open until the client closes
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	rec := NewDashScopeRecognizer(DashScopeConfig{
		APIKey:  "test-key",
		BaseURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
	})

	sink, events, err := rec.Start(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sink.Close()

	if err := sink.SendAudio(context.Background(), []byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	ev := waitEvent(t, events)
	if ev.Type != EventPartial || ev.Text != "near Shi" {
		t.Fatalf("first event = %+v", ev)
	}
	ev = waitEvent(t, events)
	if ev.Type != EventFinal || ev.Text != "near Shibuya station" {
		t.Fatalf("second event = %+v", ev)
	}
}

func TestDashScopeRecognizerErrorEvent(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var setup map[string]any
		_ = conn.ReadJSON(&setup)
		_ = conn.WriteJSON(map[string]any{
			"type": "error",
			"error": map[string]any{
				"code":    "rate_limit_exceeded",
				"message": "slow down",
			},
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	rec := NewDashScopeRecognizer(DashScopeConfig{
		APIKey:  "k",
		BaseURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
	})
	sink, events, err := rec.Start(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sink.Close()

	ev := waitEvent(t, events)
	if ev.Type != EventError || ev.Code != "rate_limit_exceeded" {
		t.Fatalf("event = %+v", ev)
	}
	if !ev.Retryable {
		t.Fatal("rate limit should be retryable")
	}
}

func TestDashScopeCloseWithUndrainedEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var setup map[string]any
		_ = conn.ReadJSON(&setup)
		// Flood well past the event buffer while the consumer is away.
		for i := 0; i < 400; i++ {
			if err := conn.WriteJSON(map[string]any{
				"type":  "conversation.item.input_audio_transcription.delta",
				"delta": "chunk",
			}); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	rec := NewDashScopeRecognizer(DashScopeConfig{
		APIKey:  "k",
		BaseURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
	})
	sink, events, err := rec.Start(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Let the read loop fill the buffer and block on the next send, then
	// close without ever having drained an event.
	time.Sleep(100 * time.Millisecond)
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event channel never closed after Close")
		}
	}
}

func waitEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}
