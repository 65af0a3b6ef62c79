package member

import (
	"context"
	"strings"
	"sync"

	"matrix/internal/matrix/models"
	id "matrix/pkg/domain"
	"matrix/pkg/platform/sentinel"
)

// InMemoryStore indexes members by id, lowercased username and lowercased referral code.
type InMemoryStore struct {
	mu         sync.RWMutex
	members    map[id.OwnerID]*models.Member
	byUsername map[string]id.OwnerID
	byCode     map[string]id.OwnerID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		members:    make(map[id.OwnerID]*models.Member),
		byUsername: make(map[string]id.OwnerID),
		byCode:     make(map[string]id.OwnerID),
	}
}

// Upsert inserts or replaces m. A username or code held by another member is
// sentinel.ErrAlreadyUsed.
func (s *InMemoryStore) Upsert(_ context.Context, m *models.Member) (*models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(m.Username)
	code := strings.ToLower(m.ReferralCode)
	if holder, ok := s.byUsername[username]; ok && holder != m.ID {
		return nil, sentinel.ErrAlreadyUsed
	}
	if holder, ok := s.byCode[code]; code != "" && ok && holder != m.ID {
		return nil, sentinel.ErrAlreadyUsed
	}

	stored := *m
	if existing, ok := s.members[m.ID]; ok {
		delete(s.byUsername, strings.ToLower(existing.Username))
		delete(s.byCode, strings.ToLower(existing.ReferralCode))
		stored.CreatedAt = existing.CreatedAt
	}
	s.members[m.ID] = &stored
	s.byUsername[username] = m.ID
	if code != "" {
		s.byCode[code] = m.ID
	}
	out := stored
	return &out, nil
}

func (s *InMemoryStore) Get(_ context.Context, ownerID id.OwnerID) (*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.members[ownerID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := *m
	return &out, nil
}

// FindByToken matches token against usernames first, then referral codes, ignoring case.
func (s *InMemoryStore) FindByToken(_ context.Context, token string) (*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := strings.ToLower(token)
	ownerID, ok := s.byUsername[key]
	if !ok {
		ownerID, ok = s.byCode[key]
	}
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := *s.members[ownerID]
	return &out, nil
}
