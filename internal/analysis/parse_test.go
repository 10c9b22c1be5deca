package analysis

import (
	"math"
	"testing"
)

func TestParseEmotions(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    map[string]float64
		wantErr bool
	}{
		{
			name: "Plain JSON array",
			raw:  `[{"name":"calma","percentage":60},{"name":"tristeza","percentage":40}]`,
			want: map[string]float64{"calma": 60, "tristeza": 40},
		},
		{
			name: "Markdown fenced",
			raw:  "```json\n[{\"name\":\"calma\",\"percentage\":100}]\n```",
			want: map[string]float64{"calma": 100},
		},
		{
			name: "Prose around the array",
			raw:  `Here is the breakdown: [{"name":"alegría","percentage":100}] hope it helps`,
			want: map[string]float64{"alegría": 100},
		},
		{
			name: "Percentages normalized to 100",
			raw:  `[{"name":"calma","percentage":30},{"name":"tristeza","percentage":30}]`,
			want: map[string]float64{"calma": 50, "tristeza": 50},
		},
		{
			name: "Blank names and zero percentages dropped",
			raw:  `[{"name":"  ","percentage":50},{"name":"calma","percentage":0},{"name":"paz","percentage":50}]`,
			want: map[string]float64{"paz": 100},
		},
		{
			name:    "No array at all",
			raw:     "lo siento, no puedo analizar eso",
			wantErr: true,
		},
		{
			name:    "Array of garbage",
			raw:     `[{"name":"","percentage":0}]`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseEmotions(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("expected success, got %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d emotions, got %d", len(tt.want), len(got))
			}
			var sum float64
			for _, e := range got {
				want, ok := tt.want[e.Name]
				if !ok {
					t.Errorf("unexpected emotion %q", e.Name)
					continue
				}
				if math.Abs(e.Percentage-want) > 0.001 {
					t.Errorf("emotion %q: expected %.1f, got %.1f", e.Name, want, e.Percentage)
				}
				sum += e.Percentage
			}
			if math.Abs(sum-100) > 0.001 {
				t.Errorf("expected percentages to sum to 100, got %.3f", sum)
			}
		})
	}
}

func TestParseSuggestions(t *testing.T) {
	raw := "```json\n" + `[
		{"text":"sal a caminar 10 minutos","category":"movimiento"},
		{"text":"  ","category":"descanso"},
		{"text":"escribe tres cosas buenas de hoy","category":""}
	]` + "\n```"

	got, err := parseSuggestions(raw)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 suggestions, got %d", len(got))
	}
	if got[0].Category != "movimiento" {
		t.Errorf("expected category movimiento, got %q", got[0].Category)
	}
	if got[1].Category != "reflexion" {
		t.Errorf("expected empty category to default to reflexion, got %q", got[1].Category)
	}
}

func TestParseSuggestionsNoUsableEntries(t *testing.T) {
	if _, err := parseSuggestions(`[{"text":"","category":"descanso"}]`); err == nil {
		t.Error("expected an error for no usable entries")
	}
	if _, err := parseSuggestions("no hay nada aquí"); err == nil {
		t.Error("expected an error for missing array")
	}
}
