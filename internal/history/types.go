package history

import (
	"context"
	"time"
)

// TurnRecord stores a single user or assistant conversational turn.
type TurnRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Store persists and retrieves turn transcripts. DeleteSession removes a
// session's transcript entirely; session deletion must leave no trace.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	Recent(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Close() error
}
