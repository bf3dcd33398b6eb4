package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dataplug/copilot/internal/brain"
	"github.com/dataplug/copilot/internal/conversation"
	"github.com/dataplug/copilot/internal/history"
	"github.com/dataplug/copilot/internal/observability"
	"github.com/dataplug/copilot/internal/places"
	"github.com/dataplug/copilot/internal/protocol"
	"github.com/dataplug/copilot/internal/session"
	"github.com/dataplug/copilot/internal/speech"
)

// PlaceSearcher is the similarity-search collaborator.
type PlaceSearcher interface {
	Seed(ctx context.Context, sessionID string, extra []places.Spot) error
	Search(ctx context.Context, sessionID, interest string, k int) ([]conversation.Candidate, error)
}

// Deps carries everything the orchestrator coordinates.
type Deps struct {
	Sessions      *session.Store
	Machine       *conversation.Machine
	Places        PlaceSearcher
	Brain         brain.Adapter
	History       history.Store
	Recognizer    speech.Recognizer
	Synthesizer   speech.Synthesizer
	Metrics       *observability.Metrics
	Logger        *log.Logger
	Timeout       time.Duration
	MaxCandidates int
}

// Caps describes what a connection supports. Text-only connections never
// receive binary frames and cannot start recognition.
type Caps struct {
	Voice bool
}

// Orchestrator drives one conversation turn at a time: session lookup,
// state machine, collaborators, commit, response. Per session everything is
// single-threaded; concurrency exists only across sessions.
type Orchestrator struct {
	sessions      *session.Store
	machine       *conversation.Machine
	places        PlaceSearcher
	brain         brain.Adapter
	history       history.Store
	recognizer    speech.Recognizer
	tts           speech.Synthesizer
	metrics       *observability.Metrics
	logger        *log.Logger
	timeout       time.Duration
	maxCandidates int
}

func New(deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	if deps.Timeout <= 0 {
		deps.Timeout = 30 * time.Second
	}
	if deps.MaxCandidates < 1 || deps.MaxCandidates > 3 {
		deps.MaxCandidates = 3
	}
	return &Orchestrator{
		sessions:      deps.Sessions,
		machine:       deps.Machine,
		places:        deps.Places,
		brain:         deps.Brain,
		history:       deps.History,
		recognizer:    deps.Recognizer,
		tts:           deps.Synthesizer,
		metrics:       deps.Metrics,
		logger:        deps.Logger,
		timeout:       deps.Timeout,
		maxCandidates: deps.MaxCandidates,
	}
}

// StartSession creates a session, seeds its favorite spots (the built-in
// set plus any the caller supplied), records driver preferences, and
// returns the session together with the opening prompt.
func (o *Orchestrator) StartSession(ctx context.Context, favorites []places.Spot, preferences []string) (*session.Session, string, error) {
	sess := o.sessions.Create()
	if len(preferences) > 0 {
		sess.Conversation.Preferences = append([]string(nil), preferences...)
	}
	if err := o.places.Seed(ctx, sess.ID, favorites); err != nil {
		_ = o.sessions.Delete(sess.ID)
		return nil, "", fmt.Errorf("seed favorite spots: %w", err)
	}
	o.metrics.ActiveSessions.Set(float64(o.sessions.Count()))
	o.metrics.SessionEvents.WithLabelValues("created").Inc()
	return sess, conversation.WelcomePrompt(), nil
}

// EndSession deletes the session and everything derived from it.
func (o *Orchestrator) EndSession(ctx context.Context, sessionID string) error {
	if err := o.sessions.Delete(sessionID); err != nil {
		return err
	}
	if err := o.history.DeleteSession(ctx, sessionID); err != nil {
		o.logger.Printf("orchestrator: purge transcript for %s: %v", sessionID, err)
	}
	o.metrics.ActiveSessions.Set(float64(o.sessions.Count()))
	o.metrics.SessionEvents.WithLabelValues("deleted").Inc()
	return nil
}

// OnExpire is installed as the session store's expire hook.
func (o *Orchestrator) OnExpire(sessionID string) {
	if p, ok := o.places.(interface{ Purge(string) }); ok {
		p.Purge(sessionID)
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	if err := o.history.DeleteSession(ctx, sessionID); err != nil {
		o.logger.Printf("orchestrator: purge transcript for %s: %v", sessionID, err)
	}
	o.metrics.ActiveSessions.Set(float64(o.sessions.Count()))
	o.metrics.SessionEvents.WithLabelValues("expired").Inc()
}

// RunConnection services one websocket connection until the inbound channel
// closes or ctx is canceled. All outbound frames funnel through the single
// outbound channel, so the writer preserves order; in particular an audio
// chunk always directly follows the response it voices.
func (o *Orchestrator) RunConnection(ctx context.Context, sessionID string, caps Caps, inbound <-chan protocol.Inbound, outbound chan<- protocol.Outbound) error {
	sessID, greeting, err := o.resolveSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if !o.send(ctx, outbound, protocol.Connected{Type: protocol.TypeConnected, Message: greeting, SessionID: sessID}) {
		return ctx.Err()
	}

	var sink speech.Sink
	var events <-chan speech.Event
	defer func() {
		if sink != nil {
			_ = sink.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			switch m := msg.(type) {
			case protocol.Ping:
				o.touch(sessID)
				o.send(ctx, outbound, protocol.Pong{Type: protocol.TypePong})

			case protocol.AudioFrame:
				o.touch(sessID)
				if sink == nil {
					continue
				}
				if err := sink.SendAudio(ctx, m.Data); err != nil {
					o.logger.Printf("orchestrator: forward audio for %s: %v", sessID, err)
					o.metrics.ProviderErrors.WithLabelValues("asr", "send_audio").Inc()
				}

			case protocol.StartASR:
				o.touch(sessID)
				if !caps.Voice {
					o.send(ctx, outbound, protocol.ErrorNotice{Type: protocol.TypeError, Message: "voice input is not available on this connection"})
					continue
				}
				if sink != nil {
					continue
				}
				newSink, newEvents, err := o.recognizer.Start(ctx, sessID)
				if err != nil {
					o.logger.Printf("orchestrator: start recognition for %s: %v", sessID, err)
					o.metrics.ProviderErrors.WithLabelValues("asr", "start").Inc()
					o.send(ctx, outbound, protocol.ErrorNotice{Type: protocol.TypeError, Message: "speech recognition is unavailable right now"})
					continue
				}
				sink, events = newSink, newEvents

			case protocol.StopASR:
				o.touch(sessID)
				if sink != nil {
					_ = sink.Close()
					sink, events = nil, nil
				}

			case protocol.MalformedFrame:
				o.send(ctx, outbound, protocol.ErrorNotice{Type: protocol.TypeError, Message: "invalid message: " + m.Reason})

			case protocol.TextMessage:
				o.handleTurn(ctx, sessID, caps, m.Text, conversation.TextEvent{Text: m.Text}, outbound)

			case protocol.SuggestionSelected:
				o.handleTurn(ctx, sessID, caps, "", conversation.SelectionEvent{Index: m.SuggestionIndex, Accepted: m.Accepted}, outbound)

			case protocol.LocationUpdate:
				o.handleTurn(ctx, sessID, caps, "", locationEvent(m.LocationData), outbound)

			default:
				o.send(ctx, outbound, protocol.ErrorNotice{Type: protocol.TypeError, Message: "unsupported message"})
			}

		case ev, ok := <-events:
			if !ok {
				sink, events = nil, nil
				continue
			}
			switch ev.Type {
			case speech.EventPartial:
				o.send(ctx, outbound, protocol.Transcription{Type: protocol.TypeTranscription, Text: ev.Text, IsFinal: false})
			case speech.EventFinal:
				o.send(ctx, outbound, protocol.Transcription{Type: protocol.TypeTranscription, Text: ev.Text, IsFinal: true})
				if ev.Text != "" {
					o.handleTurn(ctx, sessID, caps, ev.Text, conversation.TextEvent{Text: ev.Text}, outbound)
				}
			case speech.EventError:
				o.logger.Printf("orchestrator: recognition error for %s: %s %s", sessID, ev.Code, ev.Detail)
				o.metrics.ProviderErrors.WithLabelValues("asr", ev.Code).Inc()
				o.send(ctx, outbound, protocol.ErrorNotice{Type: protocol.TypeError, Message: "speech recognition error"})
				// A terminal provider error ends this recognition stream;
				// the client can start a fresh one. Retryable errors leave
				// the stream up.
				if !ev.Retryable && sink != nil {
					_ = sink.Close()
					sink, events = nil, nil
				}
			}
		}
	}
}

// resolveSession reuses the given session when it exists, otherwise starts
// a fresh one.
func (o *Orchestrator) resolveSession(ctx context.Context, sessionID string) (string, string, error) {
	if sessionID != "" {
		sess, release, err := o.sessions.Acquire(sessionID)
		if err == nil {
			reply := o.machine.Prompt(sess.Conversation)
			release()
			return sessionID, reply.Message, nil
		}
		if !errors.Is(err, session.ErrNotFound) {
			return "", "", err
		}
	}
	sess, greeting, err := o.StartSession(ctx, nil, nil)
	if err != nil {
		return "", "", err
	}
	return sess.ID, greeting, nil
}

// ProcessUtterance runs one full turn and returns the response. Shared by
// the websocket and REST paths; wantAudio asks for a synthesized reply.
func (o *Orchestrator) ProcessUtterance(ctx context.Context, sessionID, userText string, ev conversation.Event, wantAudio bool) (protocol.Response, []byte, error) {
	start := time.Now()

	sess, release, err := o.sessions.Acquire(sessionID)
	if err != nil {
		return protocol.Response{}, nil, err
	}
	defer release()

	step := o.machine.Apply(sess.Conversation, ev)
	if step.Err == nil && step.Search != nil {
		step = o.resolveSearch(ctx, sessionID, step)
	}
	if step.Err != nil {
		return protocol.Response{}, nil, step.Err
	}

	final, err := o.phrase(ctx, sessionID, userText, step)
	if err != nil {
		// Turn aborted before commit: the conversation state is untouched
		// and the client may simply retry.
		return protocol.Response{}, nil, err
	}

	prevPhase := sess.Conversation.Phase
	sess.Conversation = step.Context
	o.sessions.Touch(sess)

	if step.Context.Phase != prevPhase {
		o.metrics.PhaseTransitions.WithLabelValues(string(step.Context.Phase)).Inc()
	}
	o.recordTurn(ctx, sessionID, userText, final)

	var audio []byte
	hasAudio := false
	if wantAudio && o.tts != nil {
		ttsCtx, cancel := context.WithTimeout(ctx, o.timeout)
		audio, err = o.tts.Synthesize(ttsCtx, final)
		cancel()
		if err != nil {
			// Degrade to text-only; the itinerary still advanced.
			o.logger.Printf("orchestrator: synthesize for %s: %v", sessionID, err)
			o.metrics.ProviderErrors.WithLabelValues("tts", "synthesize").Inc()
			audio = nil
		}
		hasAudio = len(audio) > 0
	}

	o.metrics.ObserveTurnLatency(time.Since(start))
	return buildResponse(sessionID, step.Context, step.Reply, final, hasAudio), audio, nil
}

func (o *Orchestrator) handleTurn(ctx context.Context, sessionID string, caps Caps, userText string, ev conversation.Event, outbound chan<- protocol.Outbound) {
	resp, audio, err := o.ProcessUtterance(ctx, sessionID, userText, ev, caps.Voice)
	if err != nil {
		o.send(ctx, outbound, protocol.ErrorNotice{Type: protocol.TypeError, Message: turnErrorMessage(err)})
		return
	}
	if !o.send(ctx, outbound, resp) {
		return
	}
	if len(audio) > 0 {
		o.send(ctx, outbound, protocol.AudioChunk{Data: audio})
	}
}

func (o *Orchestrator) resolveSearch(ctx context.Context, sessionID string, step conversation.Step) conversation.Step {
	searchCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	candidates, err := o.places.Search(searchCtx, sessionID, step.Search.Interest, o.maxCandidates)
	if err != nil {
		o.logger.Printf("orchestrator: spot search for %s: %v", sessionID, err)
		o.metrics.ProviderErrors.WithLabelValues("places", "search").Inc()
		step.Err = fmt.Errorf("spot search: %w", err)
		return step
	}
	return o.machine.ResolveCandidates(step.Context, candidates)
}

// phrase runs the drafted reply through the language model for natural
// wording. A failure aborts the turn before anything is committed.
func (o *Orchestrator) phrase(ctx context.Context, sessionID, userText string, step conversation.Step) (string, error) {
	draft := step.Reply.Message
	if draft == "" {
		return "", fmt.Errorf("turn produced no reply")
	}

	var msgs []brain.Message
	if recent, err := o.history.Recent(ctx, sessionID, 10); err == nil {
		for _, r := range recent {
			msgs = append(msgs, brain.Message{Role: r.Role, Content: r.Content})
		}
	}

	brainCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	resp, err := o.brain.Generate(brainCtx, brain.Request{
		SessionID:   sessionID,
		UserText:    userText,
		Draft:       draft,
		Destination: step.Context.Destination,
		Preferences: step.Context.Preferences,
		Interests:   step.Context.Interests,
		History:     msgs,
	})
	if err != nil {
		o.metrics.ProviderErrors.WithLabelValues("llm", "generate").Inc()
		return "", fmt.Errorf("generate reply: %w", err)
	}
	return resp.Text, nil
}

func (o *Orchestrator) recordTurn(ctx context.Context, sessionID, userText, assistantText string) {
	if userText != "" {
		if err := o.history.SaveTurn(ctx, history.TurnRecord{SessionID: sessionID, Role: history.RoleUser, Content: userText}); err != nil {
			o.logger.Printf("orchestrator: save user turn for %s: %v", sessionID, err)
		}
	}
	if err := o.history.SaveTurn(ctx, history.TurnRecord{SessionID: sessionID, Role: history.RoleAssistant, Content: assistantText}); err != nil {
		o.logger.Printf("orchestrator: save assistant turn for %s: %v", sessionID, err)
	}
}

func (o *Orchestrator) touch(sessionID string) {
	sess, release, err := o.sessions.Acquire(sessionID)
	if err != nil {
		return
	}
	o.sessions.Touch(sess)
	release()
}

func (o *Orchestrator) send(ctx context.Context, outbound chan<- protocol.Outbound, frame protocol.Outbound) bool {
	select {
	case outbound <- frame:
		if t, ok := protocol.TypeOf(frame); ok {
			o.metrics.WSMessages.WithLabelValues("out", string(t)).Inc()
		}
		return true
	case <-ctx.Done():
		return false
	}
}

func locationEvent(d protocol.LocationData) conversation.LocationEvent {
	loc := conversation.Location{
		Latitude:       d.Latitude,
		Longitude:      d.Longitude,
		Address:        d.Address,
		HasCoordinates: true,
	}
	if d.Accuracy != nil {
		loc.Accuracy = *d.Accuracy
	}
	return conversation.LocationEvent{Location: loc}
}

func buildResponse(sessionID string, c conversation.Context, reply conversation.Reply, message string, hasAudio bool) protocol.Response {
	suggestions := reply.Suggestions
	if suggestions == nil {
		// Always a JSON array on the wire, never null.
		suggestions = []string{}
	}
	resp := protocol.Response{
		Type:        protocol.TypeResponse,
		Message:     message,
		SessionID:   sessionID,
		TurnCount:   c.TurnCount,
		IsComplete:  c.Complete,
		Suggestions: suggestions,
		HasAudio:    hasAudio,
	}
	if c.Destination != "" {
		d := c.Destination
		resp.Destination = &d
	}
	if c.Stopover != nil {
		s := c.Stopover.Label
		resp.Stopover = &s
	}
	if c.Cursor > 0 {
		idx, total := c.Cursor, len(c.Candidates)
		resp.SuggestionIndex = &idx
		resp.SuggestionTotal = &total
	}
	return resp
}

func turnErrorMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return "session not found or expired"
	case errors.Is(err, conversation.ErrInvalidSelection):
		return "that suggestion is not on the list"
	case errors.Is(err, conversation.ErrUnrecognizedEvent):
		return "sorry, I didn't catch that"
	default:
		return "something went wrong handling that, please try again"
	}
}
