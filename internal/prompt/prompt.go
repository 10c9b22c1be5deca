// Package prompt builds system instructions for the completion provider.
package prompt

import (
	"strconv"
	"strings"
)

// Kind selects one of the disjoint instruction templates.
type Kind string

const (
	// KindChat is the conversational companion persona.
	KindChat Kind = "chat"
	// KindAnalyzeEmotions asks for a structured JSON emotion breakdown.
	KindAnalyzeEmotions Kind = "analyze_emotions"
	// KindGenerateSuggestions asks for a structured JSON suggestion list.
	KindGenerateSuggestions Kind = "generate_suggestions"
)

// ProgressNudgeThreshold is the lifetime conversation count at which the chat
// persona starts inviting the user to review their progress. One-sided: once
// crossed it is never retracted.
const ProgressNudgeThreshold = 6

const chatTemplate = `You are "Sereno", a warm conversational companion for reflective journaling and emotional well-being.

Your role:
- Listen with empathy and without judgment.
- Help the user name what they feel and find one small next step.
- You are NOT a therapist or doctor and you never give diagnoses.

Style:
- Answer in the SAME LANGUAGE as the user.
- Be concise: two to four short paragraphs.
- Reflect back what you understood before suggesting anything.
- Ask at most one gentle follow-up question.

Safety:
- If the user mentions self-harm or harming others, encourage them to reach
  out to local emergency services or a trusted person, and make clear you
  cannot replace professional care.`

const analyzeEmotionsTemplate = `You are an emotion analysis engine for a wellness journal.

Read the conversation transcript and estimate the user's emotional mix.
Respond with ONLY a JSON array, no prose and no markdown fences, of objects:
[{"name": "<emotion in the user's language>", "percentage": <0-100>}]
Use 3 to 6 emotions. Percentages must sum to 100.`

const generateSuggestionsTemplate = `You are a self-care planning engine for a wellness journal.

Read the conversation transcript and propose small, realistic self-care
actions for the next day or two. Respond with ONLY a JSON array, no prose and
no markdown fences, of objects:
[{"text": "<one concrete action in the user's language>", "category": "<one of: movimiento, descanso, conexion, reflexion, creatividad>"}]
Each action must be doable in under 30 minutes.`

const progressNudge = `

The user has been coming back for a while now. If it fits naturally, invite
them to open their progress view and notice how far they have come.`

// Build maps a prompt kind, an optional user-context string and the lifetime
// conversation count to a complete instruction string. Pure; no error cases.
func Build(kind Kind, userContext string, totalConversations int) string {
	var b strings.Builder

	if kind == KindChat && userContext != "" {
		b.WriteString(userContext)
		b.WriteString("\n\n")
	}

	switch kind {
	case KindAnalyzeEmotions:
		b.WriteString(analyzeEmotionsTemplate)
	case KindGenerateSuggestions:
		b.WriteString(generateSuggestionsTemplate)
	default:
		b.WriteString(chatTemplate)
		if totalConversations >= ProgressNudgeThreshold {
			b.WriteString(progressNudge)
		}
	}

	return b.String()
}

// UserContext formats the profile fields injected into the chat persona.
func UserContext(name string, age int, totalConversations int) string {
	var b strings.Builder
	b.WriteString("About the person you are talking to:")
	if name != "" {
		b.WriteString("\n- They go by " + name + ".")
	}
	if age > 0 {
		b.WriteString("\n- They are " + strconv.Itoa(age) + " years old.")
	}
	b.WriteString("\n- You have had " + strconv.Itoa(totalConversations) + " conversations together so far.")
	return b.String()
}
