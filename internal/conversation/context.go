package conversation

// Phase is the discrete stage of one destination conversation.
type Phase string

const (
	PhaseAwaitingLocation      Phase = "awaiting_location"
	PhaseAwaitingDestination   Phase = "awaiting_destination"
	PhaseGatheringInterests    Phase = "gathering_interests"
	PhaseNegotiating           Phase = "negotiating_suggestions"
	PhaseAwaitingMoreInterests Phase = "awaiting_more_interests"
	PhaseComplete              Phase = "complete"
)

// Location is the user's current position: either free text or coordinates
// with an optional reverse-geocoded address.
type Location struct {
	FreeText       string
	Latitude       float64
	Longitude      float64
	Address        string
	Accuracy       float64
	HasCoordinates bool
}

func (l Location) Describe() string {
	if l.Address != "" {
		return l.Address
	}
	if l.FreeText != "" {
		return l.FreeText
	}
	return "your current location"
}

// Candidate is one ranked stopover suggestion produced by the search
// collaborator. Metadata is passed through untouched.
type Candidate struct {
	Rank     int
	Label    string
	Metadata map[string]string
}

// Context is the mutable per-session conversation state.
//
// Invariants: Cursor is always in [0, len(Candidates)]; Complete implies
// Destination is set and Candidates/Cursor are cleared.
type Context struct {
	Phase       Phase
	TurnCount   int
	Location    *Location
	Destination string
	Preferences []string
	Interests   []string
	Candidates  []Candidate
	Cursor      int // 1-based; 0 = no candidate under negotiation
	Stopover    *Candidate
	Complete    bool
}

// NewContext returns the opening state of a conversation.
func NewContext() Context {
	return Context{Phase: PhaseAwaitingLocation}
}

// Clone deep-copies the context so a pending turn can be abandoned without
// touching the committed state.
func (c Context) Clone() Context {
	out := c
	if c.Location != nil {
		loc := *c.Location
		out.Location = &loc
	}
	out.Preferences = append([]string(nil), c.Preferences...)
	out.Interests = append([]string(nil), c.Interests...)
	out.Candidates = cloneCandidates(c.Candidates)
	if c.Stopover != nil {
		s := cloneCandidate(*c.Stopover)
		out.Stopover = &s
	}
	return out
}

func cloneCandidates(in []Candidate) []Candidate {
	if in == nil {
		return nil
	}
	out := make([]Candidate, len(in))
	for i, c := range in {
		out[i] = cloneCandidate(c)
	}
	return out
}

func cloneCandidate(c Candidate) Candidate {
	out := c
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
