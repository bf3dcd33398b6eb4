package session

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dataplug/copilot/internal/conversation"
)

var ErrNotFound = errors.New("session not found")

const shardCount = 16

// Session is one live conversation. The embedded mutex makes the owning
// connection the single writer: everything past ID and CreatedAt may only
// be read or written while the entry is acquired.
type Session struct {
	mu sync.Mutex

	ID           string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	Conversation conversation.Context
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// Store is a sharded in-memory TTL session store. Shard locks only guard
// the maps; per-entry mutexes serialize conversation turns, so a slow turn
// on one session never blocks lookups or turns on another.
type Store struct {
	shards   [shardCount]*shard
	ttl      time.Duration
	onExpire func(sessionID string)
	hookMu   sync.Mutex
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	s := &Store{ttl: ttl}
	for i := range s.shards {
		s.shards[i] = &shard{sessions: make(map[string]*Session)}
	}
	return s
}

// SetExpireHook registers a callback run after a session is removed either
// by the janitor or by Delete. Used to purge per-session collaborator state.
func (s *Store) SetExpireHook(hook func(sessionID string)) {
	s.hookMu.Lock()
	s.onExpire = hook
	s.hookMu.Unlock()
}

func (s *Store) shardFor(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return s.shards[h.Sum32()%shardCount]
}

// Create inserts a fresh session in the opening conversation state.
func (s *Store) Create() *Session {
	now := time.Now().UTC()
	sess := &Session{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
		Conversation: conversation.NewContext(),
	}
	sh := s.shardFor(sess.ID)
	sh.mu.Lock()
	sh.sessions[sess.ID] = sess
	sh.mu.Unlock()
	return sess
}

// Acquire locks the session for exclusive use and returns it with a release
// func. Expired entries are removed on the spot and reported as not found.
func (s *Store) Acquire(id string) (*Session, func(), error) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	sess, ok := sh.sessions[id]
	sh.mu.RUnlock()
	if !ok {
		return nil, nil, ErrNotFound
	}

	sess.mu.Lock()
	if time.Now().UTC().After(sess.ExpiresAt) {
		sess.mu.Unlock()
		s.remove(id)
		return nil, nil, ErrNotFound
	}
	return sess, sess.mu.Unlock, nil
}

// Touch refreshes the TTL. The caller must hold the session.
func (s *Store) Touch(sess *Session) {
	sess.ExpiresAt = time.Now().UTC().Add(s.ttl)
}

// RemainingTTL reports how long the session has left. It does not refresh.
func (s *Store) RemainingTTL(id string) (time.Duration, error) {
	sess, release, err := s.Acquire(id)
	if err != nil {
		return 0, err
	}
	defer release()
	remaining := time.Until(sess.ExpiresAt)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Extend pushes the expiry out by d and returns the new deadline.
func (s *Store) Extend(id string, d time.Duration) (time.Time, error) {
	sess, release, err := s.Acquire(id)
	if err != nil {
		return time.Time{}, err
	}
	defer release()
	sess.ExpiresAt = sess.ExpiresAt.Add(d)
	return sess.ExpiresAt, nil
}

// Delete removes the session immediately, waiting for any in-flight turn
// to finish first. All conversation state is discarded.
func (s *Store) Delete(id string) error {
	_, release, err := s.Acquire(id)
	if err != nil {
		return err
	}
	s.remove(id)
	release()
	s.fireExpire(id)
	return nil
}

func (s *Store) remove(id string) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	delete(sh.sessions, id)
	sh.mu.Unlock()
}

func (s *Store) fireExpire(id string) {
	s.hookMu.Lock()
	hook := s.onExpire
	s.hookMu.Unlock()
	if hook != nil {
		hook(id)
	}
}

// Count reports the number of stored sessions, expired stragglers included.
func (s *Store) Count() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}

// StartJanitor sweeps expired sessions on a fixed interval until ctx is
// canceled.
func (s *Store) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

// sweep removes expired entries. Entries held by a live turn are skipped
// with TryLock; Acquire catches them on the next lookup anyway.
func (s *Store) sweep() {
	now := time.Now().UTC()
	var expired []string
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, sess := range sh.sessions {
			if !sess.mu.TryLock() {
				continue
			}
			dead := now.After(sess.ExpiresAt)
			sess.mu.Unlock()
			if dead {
				delete(sh.sessions, id)
				expired = append(expired, id)
			}
		}
		sh.mu.Unlock()
	}
	for _, id := range expired {
		s.fireExpire(id)
	}
}
