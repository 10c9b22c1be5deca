package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/serenoapp/sereno/internal/domain"
)

// extractJSONArray tolerates models that wrap JSON in markdown fences or
// prose: it returns the outermost [...] slice of the text.
func extractJSONArray(raw string) (string, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start == -1 || end == -1 || end < start {
		return "", fmt.Errorf("no JSON array in response")
	}
	return cleaned[start : end+1], nil
}

func parseEmotions(raw string) ([]domain.EmotionScore, error) {
	payload, err := extractJSONArray(raw)
	if err != nil {
		return nil, fmt.Errorf("parse emotions: %w", err)
	}

	var scores []domain.EmotionScore
	if err := json.Unmarshal([]byte(payload), &scores); err != nil {
		return nil, fmt.Errorf("parse emotions: %w", err)
	}

	var valid []domain.EmotionScore
	var sum float64
	for _, s := range scores {
		name := strings.TrimSpace(s.Name)
		if name == "" || s.Percentage <= 0 {
			continue
		}
		valid = append(valid, domain.EmotionScore{Name: name, Percentage: s.Percentage})
		sum += s.Percentage
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("parse emotions: no usable entries")
	}

	// Models drift off 100; normalize so the chart always closes.
	for i := range valid {
		valid[i].Percentage = valid[i].Percentage / sum * 100
	}
	return valid, nil
}

type suggestionPayload struct {
	Text     string `json:"text"`
	Category string `json:"category"`
}

func parseSuggestions(raw string) ([]suggestionPayload, error) {
	payload, err := extractJSONArray(raw)
	if err != nil {
		return nil, fmt.Errorf("parse suggestions: %w", err)
	}

	var items []suggestionPayload
	if err := json.Unmarshal([]byte(payload), &items); err != nil {
		return nil, fmt.Errorf("parse suggestions: %w", err)
	}

	var valid []suggestionPayload
	for _, item := range items {
		item.Text = strings.TrimSpace(item.Text)
		item.Category = strings.TrimSpace(item.Category)
		if item.Text == "" {
			continue
		}
		if item.Category == "" {
			item.Category = "reflexion"
		}
		valid = append(valid, item)
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("parse suggestions: no usable entries")
	}
	return valid, nil
}
