// Package mood classifies recent user messages into a weather state.
package mood

import (
	"strings"

	"github.com/serenoapp/sereno/internal/domain"
)

// SampleWindow is how many of the most recent user messages are scored.
const SampleWindow = 4

// Fixed lexicons, matched case-insensitively as substrings. Spanish first,
// English variants included since users mix both.
var (
	crisisTerms = []string{
		"quiero morir", "no quiero vivir", "suicid", "matarme",
		"hacerme daño", "acabar con todo", "lastimarme",
		"kill myself", "want to die", "end it all", "self harm", "hurt myself",
	}

	negativeTerms = []string{
		"triste", "deprimi", "ansie", "ansios", "angustia", "miedo",
		"sin esperanza", "no puedo", "cansad", "agotad", "estres", "estrés",
		"llorar", "llorando", "enojad", "me siento sola", "me siento solo", "vacío", "vacía",
		"preocupa", "abrumad", "fatal", "horrible", "insomnio",
		"sad", "depress", "anxious", "anxiety", "afraid", "hopeless",
		"tired", "exhausted", "stress", "crying", "lonely", "worried",
		"overwhelmed", "angry",
	}

	positiveTerms = []string{
		"feliz", "content", "alegr", "tranquil", "calma", "paz", "mejor",
		"gracias", "bien", "animad", "orgullos", "motivad", "descansad",
		"happy", "glad", "joy", "calm", "peace", "better", "thank",
		"grateful", "hopeful", "relaxed", "proud",
	}
)

// Classify maps a window of recent user messages (oldest to newest, at most
// the last SampleWindow entries are considered) to a weather state.
//
// Deterministic and stateless: identical input always yields identical output.
func Classify(recentUserMessages []string) domain.Weather {
	if len(recentUserMessages) == 0 {
		return domain.WeatherCloudy
	}

	sample := recentUserMessages
	if len(sample) > SampleWindow {
		sample = sample[len(sample)-SampleWindow:]
	}

	var negScore, posScore float64
	for i, msg := range sample {
		text := strings.ToLower(msg)

		// Any crisis term anywhere overrides all other scoring.
		for _, term := range crisisTerms {
			if strings.Contains(text, term) {
				return domain.WeatherStorm
			}
		}

		// More recent messages count more: weight 1 + 0.5*i with index 0
		// being the oldest of the sampled window.
		weight := 1 + 0.5*float64(i)
		negScore += weight * float64(countMatches(text, negativeTerms))
		posScore += weight * float64(countMatches(text, positiveTerms))
	}

	if negScore == 0 && posScore == 0 {
		return domain.WeatherCloudy
	}

	ratio := posScore / (negScore + posScore)
	switch {
	case negScore > 6 && ratio < 0.2:
		return domain.WeatherStorm
	case negScore > 2 && ratio < 0.35:
		return domain.WeatherRain
	case ratio < 0.5:
		return domain.WeatherCloudy
	case ratio < 0.7:
		return domain.WeatherClearing
	default:
		return domain.WeatherSunny
	}
}

func countMatches(text string, terms []string) int {
	n := 0
	for _, term := range terms {
		if strings.Contains(text, term) {
			n++
		}
	}
	return n
}
