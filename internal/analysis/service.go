// Package analysis runs emotion extraction and suggestion generation over a
// conversation transcript, and owns suggestion lifecycle rules.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/serenoapp/sereno/internal/domain"
	"github.com/serenoapp/sereno/internal/prompt"
	"github.com/serenoapp/sereno/internal/store"
)

var (
	// ErrNotFound means the suggestion does not exist for this user.
	ErrNotFound = errors.New("suggestion not found")

	// ErrNoteRequired means completion was attempted without a note while
	// the note requirement is enabled. The suggestion is left unchanged.
	ErrNoteRequired = errors.New("a note is required to complete a suggestion")
)

// Completer is the slice of the completion client the analyzer needs.
type Completer interface {
	Complete(ctx context.Context, transcript []*domain.Message, kind prompt.Kind, userContext string, totalConversations int) (string, error)
}

// Service evaluates analysis prompts and applies the results to the store.
type Service struct {
	repo        store.Repository
	llm         Completer
	batchSize   int
	requireNote bool
	now         func() time.Time
}

// NewService creates an analysis service.
func NewService(repo store.Repository, llm Completer, batchSize int, requireNote bool) *Service {
	return &Service{
		repo:        repo,
		llm:         llm,
		batchSize:   batchSize,
		requireNote: requireNote,
		now:         time.Now,
	}
}

// Result is one analysis run's output.
type Result struct {
	Emotions    []domain.EmotionScore `json:"emotions"`
	Suggestions []*domain.Suggestion  `json:"suggestions"`
}

// Run extracts the emotion breakdown and generates a fresh suggestion batch
// from the transcript. Both results replace what the model produced before.
func (s *Service) Run(ctx context.Context, userID string, transcript []*domain.Message, totalConversations int) (*Result, error) {
	emotions, err := s.analyzeEmotions(ctx, userID, transcript, totalConversations)
	if err != nil {
		return nil, err
	}

	suggestions, err := s.generateSuggestions(ctx, userID, transcript, totalConversations)
	if err != nil {
		return nil, err
	}

	return &Result{Emotions: emotions, Suggestions: suggestions}, nil
}

func (s *Service) analyzeEmotions(ctx context.Context, userID string, transcript []*domain.Message, totalConversations int) ([]domain.EmotionScore, error) {
	raw, err := s.llm.Complete(ctx, transcript, prompt.KindAnalyzeEmotions, "", totalConversations)
	if err != nil {
		return nil, fmt.Errorf("emotion analysis: %w", err)
	}

	scores, err := parseEmotions(raw)
	if err != nil {
		return nil, err
	}

	if err := s.repo.ReplaceEmotions(ctx, userID, scores); err != nil {
		return nil, fmt.Errorf("store emotions: %w", err)
	}
	return scores, nil
}

func (s *Service) generateSuggestions(ctx context.Context, userID string, transcript []*domain.Message, totalConversations int) ([]*domain.Suggestion, error) {
	raw, err := s.llm.Complete(ctx, transcript, prompt.KindGenerateSuggestions, "", totalConversations)
	if err != nil {
		return nil, fmt.Errorf("suggestion generation: %w", err)
	}

	items, err := parseSuggestions(raw)
	if err != nil {
		return nil, err
	}
	if len(items) > s.batchSize {
		items = items[:s.batchSize]
	}

	now := s.now()
	var out []*domain.Suggestion
	for _, item := range items {
		sg := &domain.Suggestion{
			ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
			UserID:    userID,
			Text:      item.Text,
			Category:  item.Category,
			CreatedAt: now,
		}
		if err := s.repo.InsertSuggestion(ctx, sg); err != nil {
			return out, fmt.Errorf("store suggestion: %w", err)
		}
		out = append(out, sg)
	}
	return out, nil
}

// ToggleSuggestion completes or reopens a suggestion. Confirmed is derived at
// completion time: true only when completing with a non-empty note. When the
// note requirement is enabled, completing without a note is rejected with no
// state change.
func (s *Service) ToggleSuggestion(ctx context.Context, userID, id string, completed bool, notes string) (*domain.Suggestion, error) {
	sg, err := s.repo.GetSuggestion(ctx, userID, id)
	if err != nil {
		return nil, fmt.Errorf("load suggestion: %w", err)
	}
	if sg == nil {
		return nil, ErrNotFound
	}

	notes = strings.TrimSpace(notes)

	if completed {
		if s.requireNote && notes == "" {
			return nil, ErrNoteRequired
		}
		now := s.now()
		sg.IsCompleted = true
		sg.CompletedAt = &now
		sg.Notes = notes
		sg.Confirmed = notes != ""
	} else {
		sg.IsCompleted = false
		sg.CompletedAt = nil
		sg.Confirmed = false
	}

	if err := s.repo.UpdateSuggestion(ctx, sg); err != nil {
		return nil, fmt.Errorf("update suggestion: %w", err)
	}
	return sg, nil
}
