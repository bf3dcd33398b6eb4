package conversation

import (
	"errors"
	"fmt"
)

// Event is one recognized conversational input, after wire-level demux and
// transcription. Audio frames and heartbeats never reach the machine.
type Event interface{ isEvent() }

type TextEvent struct {
	Text string
}

type LocationEvent struct {
	Location Location
}

type SelectionEvent struct {
	Index    int
	Accepted bool
}

func (TextEvent) isEvent()      {}
func (LocationEvent) isEvent()  {}
func (SelectionEvent) isEvent() {}

var (
	// ErrUnrecognizedEvent marks input that has no meaning in the current
	// phase. The caller answers with an error frame and keeps the state.
	ErrUnrecognizedEvent = errors.New("unrecognized event for current phase")
	// ErrInvalidSelection marks a suggestion index outside the active list.
	ErrInvalidSelection = errors.New("suggestion index out of range")
)

// Reply is the outbound message a step produced.
type Reply struct {
	Message     string
	Suggestions []string
}

// SearchRequest asks the caller to run the similarity-search collaborator
// and feed the ranked result back through ResolveCandidates.
type SearchRequest struct {
	Interest string
}

// Step is the outcome of applying one event: an uncommitted next context,
// the reply to send, and optionally a pending search effect. When Err is
// set the context must not be committed.
type Step struct {
	Context Context
	Reply   Reply
	Search  *SearchRequest
	Err     error
}

const (
	labelAccept        = "yes, go there"
	labelNext          = "no, show next"
	labelSomethingElse = "no, tell me something else"
)

// Machine is the pure turn state machine. It performs no I/O: search is
// requested as an effect and resolved by the caller, so every method is
// deterministic in its inputs.
type Machine struct {
	classifier    DecisionClassifier
	maxCandidates int
}

func NewMachine(classifier DecisionClassifier, maxCandidates int) *Machine {
	if classifier == nil {
		classifier = KeywordClassifier{}
	}
	if maxCandidates < 1 || maxCandidates > 3 {
		maxCandidates = 3
	}
	return &Machine{classifier: classifier, maxCandidates: maxCandidates}
}

// WelcomePrompt opens a fresh conversation.
func WelcomePrompt() string {
	return "Hi, I'm your drive copilot. Where are you right now?"
}

// Prompt returns the question the assistant is currently waiting on, used
// when a client (re)connects to an existing conversation.
func (m *Machine) Prompt(ctx Context) Reply {
	return m.pendingReply(ctx)
}

// Apply maps (context, event) to the next step without mutating its input.
func (m *Machine) Apply(ctx Context, ev Event) Step {
	// Location pings are accepted in any phase: refresh the position and
	// re-issue the pending question without advancing the conversation.
	if le, ok := ev.(LocationEvent); ok && ctx.Phase != PhaseAwaitingLocation {
		next := ctx.Clone()
		loc := le.Location
		next.Location = &loc
		return Step{Context: next, Reply: m.pendingReply(next)}
	}

	switch ctx.Phase {
	case PhaseAwaitingLocation:
		return m.applyAwaitingLocation(ctx, ev)
	case PhaseAwaitingDestination:
		return m.applyAwaitingDestination(ctx, ev)
	case PhaseGatheringInterests, PhaseAwaitingMoreInterests:
		return m.applyInterests(ctx, ev)
	case PhaseNegotiating:
		return m.applyNegotiating(ctx, ev)
	case PhaseComplete:
		// Terminal: no transitions, but the session stays queryable.
		return Step{Context: ctx.Clone(), Reply: m.pendingReply(ctx)}
	default:
		return Step{Context: ctx.Clone(), Err: fmt.Errorf("%w: phase %q", ErrUnrecognizedEvent, ctx.Phase)}
	}
}

func (m *Machine) applyAwaitingLocation(ctx Context, ev Event) Step {
	next := ctx.Clone()
	switch e := ev.(type) {
	case LocationEvent:
		loc := e.Location
		next.Location = &loc
	case TextEvent:
		next.Location = &Location{FreeText: e.Text}
	default:
		return Step{Context: ctx.Clone(), Err: ErrUnrecognizedEvent}
	}
	next.Phase = PhaseAwaitingDestination
	return Step{Context: next, Reply: Reply{
		Message: fmt.Sprintf("Got it, you're near %s. Where do you want to go?", next.Location.Describe()),
	}}
}

func (m *Machine) applyAwaitingDestination(ctx Context, ev Event) Step {
	e, ok := ev.(TextEvent)
	if !ok {
		return Step{Context: ctx.Clone(), Err: ErrUnrecognizedEvent}
	}
	next := ctx.Clone()
	next.Destination = e.Text
	next.TurnCount++
	next.Phase = PhaseGatheringInterests
	return Step{Context: next, Reply: Reply{
		Message: fmt.Sprintf("Heading to %s. Anything else you'd like to do on the way?", next.Destination),
	}}
}

func (m *Machine) applyInterests(ctx Context, ev Event) Step {
	e, ok := ev.(TextEvent)
	if !ok {
		return Step{Context: ctx.Clone(), Err: ErrUnrecognizedEvent}
	}
	if m.classifier.Classify(e.Text) == DecisionNegate {
		next := ctx.Clone()
		next.Complete = true
		next.Stopover = nil
		next.Candidates = nil
		next.Cursor = 0
		next.TurnCount++
		next.Phase = PhaseComplete
		return Step{Context: next, Reply: Reply{
			Message: fmt.Sprintf("Alright, heading straight to %s. Enjoy the drive!", next.Destination),
		}}
	}

	next := ctx.Clone()
	next.Interests = append(next.Interests, e.Text)
	return Step{Context: next, Search: &SearchRequest{Interest: e.Text}}
}

func (m *Machine) applyNegotiating(ctx Context, ev Event) Step {
	var accepted bool
	switch e := ev.(type) {
	case SelectionEvent:
		if e.Index < 1 || e.Index > len(ctx.Candidates) {
			return Step{Context: ctx.Clone(), Err: fmt.Errorf("%w: %d of %d", ErrInvalidSelection, e.Index, len(ctx.Candidates))}
		}
		accepted = e.Accepted
	case TextEvent:
		switch m.classifier.Classify(e.Text) {
		case DecisionAffirm:
			accepted = true
		case DecisionNegate:
			accepted = false
		default:
			return Step{Context: ctx.Clone(), Err: ErrUnrecognizedEvent}
		}
	default:
		return Step{Context: ctx.Clone(), Err: ErrUnrecognizedEvent}
	}

	next := ctx.Clone()
	cursor, outcome := Negotiate(len(next.Candidates), next.Cursor, accepted)
	switch outcome {
	case OutcomeAccept:
		chosen := next.Candidates[next.Cursor-1]
		next.Stopover = &chosen
		next.Complete = true
		next.Candidates = nil
		next.Cursor = 0
		next.TurnCount++
		next.Phase = PhaseComplete
		return Step{Context: next, Reply: Reply{
			Message: fmt.Sprintf("Great, we'll stop by %s on the way to %s. Itinerary's set!", chosen.Label, next.Destination),
		}}
	case OutcomeAdvance:
		next.Cursor = cursor
		return Step{Context: next, Reply: m.candidateReply(next)}
	default: // OutcomeExhausted
		next.Candidates = nil
		next.Cursor = 0
		next.TurnCount++
		next.Phase = PhaseAwaitingMoreInterests
		return Step{Context: next, Reply: Reply{
			Message: "No problem. Anything else you'd like?",
		}}
	}
}

// ResolveCandidates finishes an interest turn once the search collaborator
// has answered. The candidate order is kept exactly as supplied.
func (m *Machine) ResolveCandidates(pending Context, candidates []Candidate) Step {
	next := pending.Clone()
	if len(candidates) == 0 {
		next.Candidates = nil
		next.Cursor = 0
		next.TurnCount++
		next.Phase = PhaseAwaitingMoreInterests
		return Step{Context: next, Reply: Reply{
			Message: "I couldn't find a good match for that. Anything else you'd like?",
		}}
	}

	if len(candidates) > m.maxCandidates {
		candidates = candidates[:m.maxCandidates]
	}
	next.Candidates = cloneCandidates(candidates)
	for i := range next.Candidates {
		next.Candidates[i].Rank = i + 1
	}
	next.Cursor = 1
	next.TurnCount++
	next.Phase = PhaseNegotiating
	return Step{Context: next, Reply: m.candidateReply(next)}
}

func (m *Machine) candidateReply(ctx Context) Reply {
	current := ctx.Candidates[ctx.Cursor-1]
	second := labelNext
	if ctx.Cursor == len(ctx.Candidates) {
		// Last option: signal that rejecting it ends this round.
		second = labelSomethingElse
	}
	return Reply{
		Message:     fmt.Sprintf("How about %s?", current.Label),
		Suggestions: []string{labelAccept, second},
	}
}

func (m *Machine) pendingReply(ctx Context) Reply {
	switch ctx.Phase {
	case PhaseAwaitingLocation:
		return Reply{Message: WelcomePrompt()}
	case PhaseAwaitingDestination:
		return Reply{Message: "Where do you want to go?"}
	case PhaseGatheringInterests:
		return Reply{Message: "Anything else you'd like to do on the way?"}
	case PhaseNegotiating:
		return m.candidateReply(ctx)
	case PhaseAwaitingMoreInterests:
		return Reply{Message: "Anything else you'd like?"}
	case PhaseComplete:
		if ctx.Stopover != nil {
			return Reply{Message: fmt.Sprintf("We're set: %s, stopping by %s on the way.", ctx.Destination, ctx.Stopover.Label)}
		}
		return Reply{Message: fmt.Sprintf("We're set: heading straight to %s.", ctx.Destination)}
	default:
		return Reply{}
	}
}
