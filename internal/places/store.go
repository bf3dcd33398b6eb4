package places

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/dataplug/copilot/internal/conversation"
)

// Spot is one favorite place available as a stopover.
type Spot struct {
	ID          string
	Name        string
	Description string
	Category    string
}

// Store indexes each session's favorite spots in an in-memory vector store
// and answers interest queries with ranked candidates. Collections are
// per-session and are dropped when the session ends, so nothing outlives it.
type Store struct {
	mu       sync.RWMutex
	db       *chromem.DB
	embedFn  chromem.EmbeddingFunc
	seed     []Spot
	minScore float32
}

// New builds a store seeded with the given spots. Pass a nil embedFn to use
// the local deterministic embedder, which works without any API key.
func New(embedFn chromem.EmbeddingFunc, seed []Spot) *Store {
	if embedFn == nil {
		embedFn = LocalEmbedding()
	}
	return &Store{
		db:       chromem.NewDB(),
		embedFn:  embedFn,
		seed:     seed,
		minScore: 0.35,
	}
}

// OpenAICompatEmbedding returns an embedding func backed by an
// OpenAI-compatible embeddings endpoint.
func OpenAICompatEmbedding(baseURL, apiKey, model string) chromem.EmbeddingFunc {
	normalized := true
	return chromem.NewEmbeddingFuncOpenAICompat(baseURL, apiKey, model, &normalized)
}

func collectionName(sessionID string) string {
	return "session_" + sessionID + "_spots"
}

func slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	return strings.Join(strings.Fields(slug), "-")
}

func (s *Store) getOrCreateCollection(sessionID string) (*chromem.Collection, error) {
	name := collectionName(sessionID)
	col := s.db.GetCollection(name, s.embedFn)
	if col != nil {
		return col, nil
	}
	col, err := s.db.CreateCollection(name, nil, s.embedFn)
	if err != nil {
		return nil, fmt.Errorf("create spot collection: %w", err)
	}
	return col, nil
}

// Seed indexes the session's favorite spots: the built-in set plus any
// extras supplied at session start. Called once when the session is
// created; calling it again is a no-op for already-indexed spots.
func (s *Store) Seed(ctx context.Context, sessionID string, extra []Spot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.getOrCreateCollection(sessionID)
	if err != nil {
		return err
	}
	spots := make([]Spot, 0, len(s.seed)+len(extra))
	spots = append(spots, s.seed...)
	for _, spot := range extra {
		if spot.ID == "" {
			spot.ID = slugify(spot.Name)
		}
		spots = append(spots, spot)
	}
	for _, spot := range spots {
		doc := chromem.Document{
			ID:      spot.ID,
			Content: spot.Name + ". " + spot.Description,
			Metadata: map[string]string{
				"name":     spot.Name,
				"category": spot.Category,
			},
		}
		if err := col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("index spot %q: %w", spot.ID, err)
		}
	}
	return nil
}

// Search returns up to k candidates matching the interest, best first.
// Hits below the similarity floor are dropped, so an interest nothing in
// the collection resembles comes back empty.
func (s *Store) Search(ctx context.Context, sessionID, interest string, k int) ([]conversation.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col := s.db.GetCollection(collectionName(sessionID), s.embedFn)
	if col == nil {
		return nil, nil
	}
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	var results []chromem.Result
	var err error
	// chromem-go occasionally rejects k == Count; step down until it takes.
	for attemptK := k; attemptK > 0; attemptK-- {
		results, err = col.Query(ctx, interest, attemptK, nil, nil)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("spot query: %w", err)
	}

	out := make([]conversation.Candidate, 0, len(results))
	for _, r := range results {
		if r.Similarity < s.minScore {
			continue
		}
		label := r.Metadata["name"]
		if label == "" {
			label = r.ID
		}
		out = append(out, conversation.Candidate{
			Label: label,
			Metadata: map[string]string{
				"id":       r.ID,
				"category": r.Metadata["category"],
				"score":    fmt.Sprintf("%.3f", r.Similarity),
			},
		})
	}
	return out, nil
}

// Purge drops the session's collection. Called from the session store's
// expire hook.
func (s *Store) Purge(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.db.DeleteCollection(collectionName(sessionID))
}

// LocalEmbedding is a deterministic hashed bag-of-words embedder. It needs
// no network and keeps tests and key-less deployments working; quality is
// well below a real embedding model.
func LocalEmbedding() chromem.EmbeddingFunc {
	const dims = 128
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, dims)
		for _, tok := range strings.Fields(strings.ToLower(text)) {
			tok = strings.Trim(tok, ".,!?;:\"'()")
			if tok == "" {
				continue
			}
			h := fnv.New32a()
			h.Write([]byte(tok))
			vec[h.Sum32()%dims]++
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm == 0 {
			vec[0] = 1
			return vec, nil
		}
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
		return vec, nil
	}
}
