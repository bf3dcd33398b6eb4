package places

import (
	"context"
	"math"
	"strings"
	"testing"

	chromem "github.com/philippgille/chromem-go"
)

// testEmbedding maps category keywords onto orthogonal axes so similarity
// is exact and the tests never touch the network.
func testEmbedding() chromem.EmbeddingFunc {
	axes := []struct {
		dim      int
		keywords []string
	}{
		{0, []string{"coffee", "cafe"}},
		{1, []string{"park", "walk"}},
		{2, []string{"museum", "art"}},
		{3, []string{"market", "seafood"}},
	}
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, 8)
		lower := strings.ToLower(text)
		hit := false
		for _, a := range axes {
			for _, kw := range a.keywords {
				if strings.Contains(lower, kw) {
					vec[a.dim] = 1
					hit = true
					break
				}
			}
		}
		if !hit {
			vec[7] = 1
		}
		var n float64
		for _, v := range vec {
			n += float64(v) * float64(v)
		}
		if n > 1 {
			scale := float32(1 / math.Sqrt(n))
			for i := range vec {
				vec[i] *= scale
			}
		}
		return vec, nil
	}
}

func seededStore(t *testing.T) *Store {
	t.Helper()
	store := New(testEmbedding(), DefaultSpots())
	if err := store.Seed(context.Background(), "sess-1", nil); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	return store
}

func TestSearchRanksMatchingSpot(t *testing.T) {
	store := seededStore(t)

	got, err := store.Search(context.Background(), "sess-1", "a quiet cafe", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected at least one candidate")
	}
	if got[0].Label != "Blue Bottle Coffee Kiyosumi-Shirakawa" {
		t.Fatalf("top candidate = %q", got[0].Label)
	}
	if got[0].Metadata["category"] != "cafe" {
		t.Fatalf("metadata = %v", got[0].Metadata)
	}
}

func TestSearchCapsResults(t *testing.T) {
	store := seededStore(t)

	got, err := store.Search(context.Background(), "sess-1", "somewhere for a walk in a park", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) > 2 {
		t.Fatalf("got %d candidates, want at most 2", len(got))
	}
}

func TestSearchDropsWeakMatches(t *testing.T) {
	store := seededStore(t)

	got, err := store.Search(context.Background(), "sess-1", "underwater basket weaving", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no candidates, got %v", got)
	}
}

func TestSearchUnknownSession(t *testing.T) {
	store := New(testEmbedding(), DefaultSpots())
	got, err := store.Search(context.Background(), "never-seeded", "coffee", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for unseeded session, got %v", got)
	}
}

func TestPurgeDropsCollection(t *testing.T) {
	store := seededStore(t)
	store.Purge("sess-1")

	got, err := store.Search(context.Background(), "sess-1", "coffee", 3)
	if err != nil {
		t.Fatalf("Search after purge: %v", err)
	}
	if got != nil {
		t.Fatalf("purged session still answers: %v", got)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	store := seededStore(t)
	if err := store.Seed(context.Background(), "sess-2", nil); err != nil {
		t.Fatalf("Seed sess-2: %v", err)
	}
	store.Purge("sess-2")

	got, err := store.Search(context.Background(), "sess-1", "coffee", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("purging one session emptied another")
	}
}

func TestSeedWithExtraFavorites(t *testing.T) {
	store := New(testEmbedding(), DefaultSpots())
	extra := []Spot{{Name: "Harbor Fish Market", Description: "Fresh seafood stalls by the water.", Category: "food"}}
	if err := store.Seed(context.Background(), "sess-1", extra); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	got, err := store.Search(context.Background(), "sess-1", "fresh seafood", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	found := false
	for _, c := range got {
		if c.Label == "Harbor Fish Market" {
			found = true
		}
	}
	if !found {
		t.Fatalf("extra favorite not indexed, got %v", got)
	}
}

func TestLocalEmbeddingIsDeterministic(t *testing.T) {
	fn := LocalEmbedding()
	a, err := fn(context.Background(), "coffee near the station")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	b, err := fn(context.Background(), "coffee near the station")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding not deterministic at dim %d", i)
		}
	}
}
