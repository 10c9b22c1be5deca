package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/serenoapp/sereno/internal/domain"
)

var (
	errInsertFailed = errors.New("insert failed")
	errNotFound     = errors.New("row not found")
)

// MemoryStore is an in-memory Repository used by tests and local tooling.
// Safe for concurrent use.
type MemoryStore struct {
	mu           sync.Mutex
	profiles     map[string]domain.UserProfile
	messages     []domain.Message
	suggestions  map[string]domain.Suggestion
	emotions     map[string][]domain.EmotionScore
	achievements map[string]map[string]domain.Achievement

	// FailInserts makes InsertMessage fail, for persistence-failure paths.
	FailInserts bool
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		profiles:     make(map[string]domain.UserProfile),
		suggestions:  make(map[string]domain.Suggestion),
		emotions:     make(map[string][]domain.EmotionScore),
		achievements: make(map[string]map[string]domain.Achievement),
	}
}

func (s *MemoryStore) GetProfile(_ context.Context, userID string) (*domain.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, nil
	}
	copied := p
	return &copied, nil
}

func (s *MemoryStore) UpsertProfile(_ context.Context, p *domain.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = *p
	return nil
}

func (s *MemoryStore) InsertMessage(_ context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailInserts {
		return errInsertFailed
	}
	s.messages = append(s.messages, *m)
	return nil
}

func (s *MemoryStore) MessagesForDay(_ context.Context, userID, sessionDate string) ([]*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Message
	for i := range s.messages {
		m := s.messages[i]
		if m.UserID == userID && m.SessionDate == sessionDate {
			copied := m
			out = append(out, &copied)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) UserMessageCount(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages {
		if m.UserID == userID && m.Role == domain.RoleUser {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) InsertSuggestion(_ context.Context, sg *domain.Suggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suggestions[sg.ID] = *sg
	return nil
}

func (s *MemoryStore) GetSuggestion(_ context.Context, userID, id string) (*domain.Suggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sg, ok := s.suggestions[id]
	if !ok || sg.UserID != userID {
		return nil, nil
	}
	copied := sg
	return &copied, nil
}

func (s *MemoryStore) ListSuggestions(_ context.Context, userID string) ([]*domain.Suggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Suggestion
	for _, sg := range s.suggestions {
		if sg.UserID == userID {
			copied := sg
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) UpdateSuggestion(_ context.Context, sg *domain.Suggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.suggestions[sg.ID]
	if !ok || existing.UserID != sg.UserID {
		return errNotFound
	}
	s.suggestions[sg.ID] = *sg
	return nil
}

func (s *MemoryStore) CountConfirmedSuggestions(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sg := range s.suggestions {
		if sg.UserID == userID && sg.Confirmed {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ReplaceEmotions(_ context.Context, userID string, scores []domain.EmotionScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emotions[userID] = append([]domain.EmotionScore(nil), scores...)
	return nil
}

func (s *MemoryStore) ListEmotions(_ context.Context, userID string) ([]domain.EmotionScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.EmotionScore(nil), s.emotions[userID]...), nil
}

func (s *MemoryStore) UnlockAchievement(_ context.Context, a *domain.Achievement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.achievements[a.UserID] == nil {
		s.achievements[a.UserID] = make(map[string]domain.Achievement)
	}
	if _, ok := s.achievements[a.UserID][a.Code]; ok {
		return nil
	}
	s.achievements[a.UserID][a.Code] = *a
	return nil
}

func (s *MemoryStore) ListAchievements(_ context.Context, userID string) ([]*domain.Achievement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Achievement
	for _, a := range s.achievements[userID] {
		copied := a
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UnlockedAt.Equal(out[j].UnlockedAt) {
			return out[i].Code < out[j].Code
		}
		return out[i].UnlockedAt.Before(out[j].UnlockedAt)
	})
	return out, nil
}

func (s *MemoryStore) ResetUserData(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []domain.Message
	for _, m := range s.messages {
		if m.UserID != userID {
			kept = append(kept, m)
		}
	}
	s.messages = kept
	for id, sg := range s.suggestions {
		if sg.UserID == userID {
			delete(s.suggestions, id)
		}
	}
	delete(s.emotions, userID)
	return nil
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }
func (s *MemoryStore) Close() error                 { return nil }

// MessageCount reports how many messages were persisted, for tests.
func (s *MemoryStore) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}
