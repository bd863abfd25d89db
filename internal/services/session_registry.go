package services

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/loginguard/internal/models"
)

// SessionRegistry is the authority on which sessions are active. Register
// enforces the per-user maximum and returns the sessions it displaced. A
// session also ends on its own at expiresAt, the expiry of its access token.
type SessionRegistry interface {
	Register(ctx context.Context, userID, sessionID string, expiresAt time.Time) ([]string, error)
	Unregister(ctx context.Context, sessionID string) error
	IsActive(ctx context.Context, sessionID string) (bool, error)
	ActiveSessions(ctx context.Context, userID string) ([]models.SessionHandle, error)
}

type userSessions struct {
	mu      sync.Mutex
	handles []models.SessionHandle // oldest first
	removed bool                   // dropped from the users map; callers must fetch a new slot
}

type sessionOwner struct {
	userID    string
	expiresAt time.Time
}

// MemorySessionRegistry keeps sessions in process. Mutations for one user are
// serialized on that user's lock; other users proceed independently. Expired
// handles are dropped whenever their user is touched and by PurgeExpired.
type MemorySessionRegistry struct {
	maxPerUser int
	now        func() time.Time

	mu     sync.Mutex
	users  map[string]*userSessions
	owners sync.Map // session id -> sessionOwner
}

func NewMemorySessionRegistry(maxPerUser int) *MemorySessionRegistry {
	if maxPerUser < 1 {
		maxPerUser = 1
	}
	return &MemorySessionRegistry{
		maxPerUser: maxPerUser,
		now:        time.Now,
		users:      make(map[string]*userSessions),
	}
}

// WithClock replaces the time source, for tests
func (r *MemorySessionRegistry) WithClock(now func() time.Time) *MemorySessionRegistry {
	r.now = now
	return r
}

// lockSlot returns userID's slot, locked. With create unset a missing user
// yields nil.
func (r *MemorySessionRegistry) lockSlot(userID string, create bool) *userSessions {
	for {
		r.mu.Lock()
		s, ok := r.users[userID]
		if !ok {
			if !create {
				r.mu.Unlock()
				return nil
			}
			s = &userSessions{}
			r.users[userID] = s
		}
		r.mu.Unlock()

		s.mu.Lock()
		if !s.removed {
			return s
		}
		s.mu.Unlock()
	}
}

// unlockSlot releases s, first dropping it from the users map when empty.
// Lock order is slot then registry; lockSlot never holds both.
func (r *MemorySessionRegistry) unlockSlot(userID string, s *userSessions) {
	if len(s.handles) == 0 {
		s.removed = true
		r.mu.Lock()
		if r.users[userID] == s {
			delete(r.users, userID)
		}
		r.mu.Unlock()
	}
	s.mu.Unlock()
}

// pruneLocked drops handles that expired at or before now
func (r *MemorySessionRegistry) pruneLocked(s *userSessions, now time.Time) int {
	kept := s.handles[:0]
	for _, h := range s.handles {
		if !h.ExpiresAt.After(now) {
			r.owners.Delete(h.SessionID)
			continue
		}
		kept = append(kept, h)
	}
	dropped := len(s.handles) - len(kept)
	s.handles = kept
	return dropped
}

func (r *MemorySessionRegistry) Register(ctx context.Context, userID, sessionID string, expiresAt time.Time) ([]string, error) {
	now := r.now()
	if !expiresAt.After(now) {
		return nil, nil
	}

	s := r.lockSlot(userID, true)
	defer r.unlockSlot(userID, s)

	r.pruneLocked(s, now)
	s.handles = append(s.handles, models.SessionHandle{
		UserID:    userID,
		SessionID: sessionID,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	})
	r.owners.Store(sessionID, sessionOwner{userID: userID, expiresAt: expiresAt})

	excess := len(s.handles) - r.maxPerUser
	if excess <= 0 {
		return nil, nil
	}

	invalidated := make([]string, 0, excess)
	for _, h := range s.handles[:excess] {
		invalidated = append(invalidated, h.SessionID)
		r.owners.Delete(h.SessionID)
	}
	s.handles = append([]models.SessionHandle(nil), s.handles[excess:]...)
	return invalidated, nil
}

func (r *MemorySessionRegistry) Unregister(ctx context.Context, sessionID string) error {
	v, ok := r.owners.Load(sessionID)
	if !ok {
		return nil
	}
	owner := v.(sessionOwner)

	s := r.lockSlot(owner.userID, false)
	if s == nil {
		r.owners.Delete(sessionID)
		return nil
	}
	defer r.unlockSlot(owner.userID, s)

	for i, h := range s.handles {
		if h.SessionID == sessionID {
			s.handles = append(s.handles[:i], s.handles[i+1:]...)
			break
		}
	}
	r.owners.Delete(sessionID)
	r.pruneLocked(s, r.now())
	return nil
}

func (r *MemorySessionRegistry) IsActive(ctx context.Context, sessionID string) (bool, error) {
	v, ok := r.owners.Load(sessionID)
	if !ok {
		return false, nil
	}
	owner := v.(sessionOwner)
	if owner.expiresAt.After(r.now()) {
		return true, nil
	}

	if s := r.lockSlot(owner.userID, false); s != nil {
		r.pruneLocked(s, r.now())
		r.unlockSlot(owner.userID, s)
	}
	r.owners.Delete(sessionID)
	return false, nil
}

func (r *MemorySessionRegistry) ActiveSessions(ctx context.Context, userID string) ([]models.SessionHandle, error) {
	s := r.lockSlot(userID, false)
	if s == nil {
		return []models.SessionHandle{}, nil
	}
	defer r.unlockSlot(userID, s)

	r.pruneLocked(s, r.now())
	out := make([]models.SessionHandle, len(s.handles))
	copy(out, s.handles)
	return out, nil
}

// PurgeExpired drops every expired handle, releasing users left without
// sessions, and returns how many handles were removed.
func (r *MemorySessionRegistry) PurgeExpired(ctx context.Context) (int64, error) {
	r.mu.Lock()
	userIDs := make([]string, 0, len(r.users))
	for id := range r.users {
		userIDs = append(userIDs, id)
	}
	r.mu.Unlock()

	now := r.now()
	var dropped int64
	for _, id := range userIDs {
		if err := ctx.Err(); err != nil {
			return dropped, err
		}
		s := r.lockSlot(id, false)
		if s == nil {
			continue
		}
		dropped += int64(r.pruneLocked(s, now))
		r.unlockSlot(id, s)
	}
	return dropped, nil
}

// Len reports how many users currently hold a registry entry
func (r *MemorySessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}
