package history

import (
	"context"
	"fmt"
	"testing"
)

func TestSaveAndRecent(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		err := store.SaveTurn(ctx, TurnRecord{
			SessionID: "s1",
			Role:      role,
			Content:   fmt.Sprintf("turn %d", i),
		})
		if err != nil {
			t.Fatalf("SaveTurn: %v", err)
		}
	}

	got, err := store.Recent(ctx, "s1", 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	// Chronological order, most recent window.
	if got[0].Content != "turn 2" || got[2].Content != "turn 4" {
		t.Fatalf("wrong window: %q .. %q", got[0].Content, got[2].Content)
	}
	for _, r := range got {
		if r.ID == "" || r.CreatedAt.IsZero() {
			t.Fatalf("record not stamped: %+v", r)
		}
	}
}

func TestRecentUnknownSession(t *testing.T) {
	store := NewInMemoryStore()
	got, err := store.Recent(context.Background(), "nope", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestDeleteSessionLeavesNoTrace(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	_ = store.SaveTurn(ctx, TurnRecord{SessionID: "s1", Role: RoleUser, Content: "hello"})
	_ = store.SaveTurn(ctx, TurnRecord{SessionID: "s2", Role: RoleUser, Content: "other"})

	if err := store.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	got, err := store.Recent(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if got != nil {
		t.Fatalf("deleted transcript still readable: %v", got)
	}

	other, err := store.Recent(ctx, "s2", 10)
	if err != nil || len(other) != 1 {
		t.Fatalf("unrelated session affected: %v %v", other, err)
	}
}
