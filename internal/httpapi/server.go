package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/dataplug/copilot/internal/config"
	"github.com/dataplug/copilot/internal/conversation"
	"github.com/dataplug/copilot/internal/observability"
	"github.com/dataplug/copilot/internal/orchestrator"
	"github.com/dataplug/copilot/internal/places"
	"github.com/dataplug/copilot/internal/protocol"
	"github.com/dataplug/copilot/internal/session"
)

type Orchestrator interface {
	RunConnection(ctx context.Context, sessionID string, caps orchestrator.Caps, inbound <-chan protocol.Inbound, outbound chan<- protocol.Outbound) error
	StartSession(ctx context.Context, favorites []places.Spot, preferences []string) (*session.Session, string, error)
	EndSession(ctx context.Context, sessionID string) error
	ProcessUtterance(ctx context.Context, sessionID, userText string, ev conversation.Event, wantAudio bool) (protocol.Response, []byte, error)
}

type Server struct {
	cfg          config.Config
	sessions     *session.Store
	orchestrator Orchestrator
	metrics      *observability.Metrics
	logger       *log.Logger
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Store, orch Orchestrator, metrics *observability.Metrics, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		cfg:          cfg,
		sessions:     sessions,
		orchestrator: orch,
		metrics:      metrics,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections unless explicitly
				// opened up. Non-browser clients omit Origin and pass.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/chat/start", s.handleStart)
	r.Post("/v1/chat/message", s.handleMessage)
	r.Get("/v1/chat/session/{id}", s.handleGetSession)
	r.Delete("/v1/chat/session/{id}", s.handleDeleteSession)
	r.Get("/v1/chat/session/{id}/ttl", s.handleSessionTTL)
	r.Post("/v1/chat/session/{id}/extend", s.handleExtendSession)

	r.Get("/ws/voice", func(w http.ResponseWriter, r *http.Request) {
		s.handleWS(w, r, orchestrator.Caps{Voice: true})
	})
	r.Get("/ws/chat", func(w http.ResponseWriter, r *http.Request) {
		s.handleWS(w, r, orchestrator.Caps{})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"sessions": s.sessions.Count(),
	})
}

type startRequest struct {
	Preferences   []string               `json:"preferences"`
	FavoriteSpots []favoriteSpot         `json:"favorite_spots"`
	Location      *protocol.LocationData `json:"location"`
}

type favoriteSpot struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type startResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	TurnCount int    `json:"turn_count"`
	TTLMS     int64  `json:"ttl_ms"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	// The body is optional; an empty POST starts a session with just the
	// built-in spots.
	var req startRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	favorites := make([]places.Spot, 0, len(req.FavoriteSpots))
	for _, f := range req.FavoriteSpots {
		if strings.TrimSpace(f.Name) == "" {
			respondError(w, http.StatusBadRequest, "invalid_request", "favorite spot name is required")
			return
		}
		favorites = append(favorites, places.Spot{
			Name:        f.Name,
			Description: f.Description,
			Category:    f.Category,
		})
	}

	sess, greeting, err := s.orchestrator.StartSession(r.Context(), favorites, req.Preferences)
	if err != nil {
		s.logger.Printf("httpapi: start session: %v", err)
		respondError(w, http.StatusInternalServerError, "start_failed", "could not start a session")
		return
	}

	out := startResponse{
		SessionID: sess.ID,
		Message:   greeting,
		TurnCount: 0,
		TTLMS:     s.cfg.SessionTTL.Milliseconds(),
	}
	// A start-time location skips the opening question: the first prompt
	// already asks for the destination.
	if req.Location != nil {
		resp, _, err := s.orchestrator.ProcessUtterance(r.Context(), sess.ID, "", locationEventFromData(*req.Location), false)
		if err != nil {
			s.respondTurnError(w, sess.ID, err)
			return
		}
		out.Message = resp.Message
		out.TurnCount = resp.TurnCount
	}
	respondJSON(w, http.StatusCreated, out)
}

type messageRequest struct {
	SessionID       string                 `json:"session_id"`
	Message         string                 `json:"message"`
	SuggestionIndex int                    `json:"suggestion_index"`
	Accepted        *bool                  `json:"accepted"`
	Location        *protocol.LocationData `json:"location"`
	WantAudio       bool                   `json:"want_audio"`
}

// messageResponse is the turn response plus, when requested and available,
// the synthesized reply audio as base64.
type messageResponse struct {
	protocol.Response
	AudioData string `json:"audio_data,omitempty"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "session_id is required")
		return
	}

	ev, userText, err := eventFromRequest(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	resp, audio, err := s.orchestrator.ProcessUtterance(r.Context(), req.SessionID, userText, ev, req.WantAudio)
	if err != nil {
		s.respondTurnError(w, req.SessionID, err)
		return
	}
	out := messageResponse{Response: resp}
	if len(audio) > 0 {
		out.AudioData = base64.StdEncoding.EncodeToString(audio)
	}
	respondJSON(w, http.StatusOK, out)
}

func eventFromRequest(req messageRequest) (conversation.Event, string, error) {
	switch {
	case req.Location != nil:
		return locationEventFromData(*req.Location), "", nil
	case req.Accepted != nil:
		return conversation.SelectionEvent{Index: req.SuggestionIndex, Accepted: *req.Accepted}, "", nil
	case strings.TrimSpace(req.Message) != "":
		return conversation.TextEvent{Text: req.Message}, req.Message, nil
	default:
		return nil, "", errors.New("message, location, or accepted is required")
	}
}

func locationEventFromData(data protocol.LocationData) conversation.LocationEvent {
	loc := conversation.Location{
		Latitude:       data.Latitude,
		Longitude:      data.Longitude,
		Address:        data.Address,
		HasCoordinates: true,
	}
	if data.Accuracy != nil {
		loc.Accuracy = *data.Accuracy
	}
	return conversation.LocationEvent{Location: loc}
}

func (s *Server) respondTurnError(w http.ResponseWriter, sessionID string, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", "session not found or expired")
	case errors.Is(err, conversation.ErrInvalidSelection):
		respondError(w, http.StatusBadRequest, "invalid_selection", "suggestion index out of range")
	case errors.Is(err, conversation.ErrUnrecognizedEvent):
		respondError(w, http.StatusUnprocessableEntity, "unrecognized_input", "that input has no meaning right now")
	default:
		s.logger.Printf("httpapi: turn for %s: %v", sessionID, err)
		respondError(w, http.StatusBadGateway, "upstream_error", "a collaborator failed, please retry")
	}
}

type sessionSnapshot struct {
	SessionID   string    `json:"session_id"`
	Phase       string    `json:"phase"`
	TurnCount   int       `json:"turn_count"`
	IsComplete  bool      `json:"is_complete"`
	Destination *string   `json:"destination,omitempty"`
	Stopover    *string   `json:"stopover,omitempty"`
	Interests   []string  `json:"interests,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, release, err := s.sessions.Acquire(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", "session not found or expired")
		return
	}
	snap := sessionSnapshot{
		SessionID:  sess.ID,
		Phase:      string(sess.Conversation.Phase),
		TurnCount:  sess.Conversation.TurnCount,
		IsComplete: sess.Conversation.Complete,
		Interests:  append([]string(nil), sess.Conversation.Interests...),
		CreatedAt:  sess.CreatedAt,
		ExpiresAt:  sess.ExpiresAt,
	}
	if sess.Conversation.Destination != "" {
		d := sess.Conversation.Destination
		snap.Destination = &d
	}
	if sess.Conversation.Stopover != nil {
		st := sess.Conversation.Stopover.Label
		snap.Stopover = &st
	}
	release()
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.orchestrator.EndSession(r.Context(), id); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", "session not found or expired")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "deleted", "session_id": id})
}

func (s *Server) handleSessionTTL(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	remaining, err := s.sessions.RemainingTTL(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", "session not found or expired")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"ttl_ms":     remaining.Milliseconds(),
	})
}

type extendRequest struct {
	DurationMS int64 `json:"duration_ms"`
}

func (s *Server) handleExtendSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req extendRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.DurationMS <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_duration", "duration_ms must be positive")
		return
	}
	deadline, err := s.sessions.Extend(id, time.Duration(req.DurationMS)*time.Millisecond)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", "session not found or expired")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"expires_at": deadline,
		"ttl_ms":     time.Until(deadline).Milliseconds(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request, caps orchestrator.Caps) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan protocol.Inbound, 256)
	outbound := make(chan protocol.Outbound, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		if err := s.orchestrator.RunConnection(ctx, sessionID, caps, inbound, outbound); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Printf("httpapi: connection for %q: %v", sessionID, err)
		}
		cancel()
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				var werr error
				if chunk, isAudio := msg.(protocol.AudioChunk); isAudio {
					werr = conn.WriteMessage(websocket.BinaryMessage, chunk.Data)
				} else {
					werr = conn.WriteJSON(msg)
				}
				if werr != nil {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))

		var parsed protocol.Inbound
		switch msgType {
		case websocket.BinaryMessage:
			if !caps.Voice {
				// Binary frames have no meaning on the text endpoint.
				continue
			}
			parsed = protocol.AudioFrame{Data: data}
		case websocket.TextMessage:
			var perr error
			parsed, perr = protocol.ParseClientFrame(data)
			if perr != nil {
				parsed = protocol.MalformedFrame{Reason: perr.Error()}
			}
		default:
			continue
		}

		if t, ok := protocol.TypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("in", string(t)).Inc()
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
