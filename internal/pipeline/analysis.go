package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"callintel/internal/calls"
)

const analysisSystemPrompt = `You analyze transcribed business phone calls.
Respond with a single JSON object with these keys:
"summary" (string, 2-3 sentences),
"sentiment" (one of "positive", "negative", "neutral"),
"intent" (short string),
"category" (short string),
"priority" (one of "low", "medium", "high", "urgent"),
"suggestedActions" (array of strings),
"keywords" (array of strings).
Department instructions: %s`

func analysisPrompts(p Prompts, c calls.Call) (system, user string) {
	system = fmt.Sprintf(analysisSystemPrompt, p.For(c.Department))

	var b strings.Builder
	fmt.Fprintf(&b, "Department: %s\n", c.Department)
	fmt.Fprintf(&b, "Direction: %s\n", c.Direction)
	fmt.Fprintf(&b, "Caller: %s\n", c.From)
	fmt.Fprintf(&b, "Duration: %d seconds\n", c.Duration)
	if c.Transcription != nil {
		fmt.Fprintf(&b, "Language: %s\n\nTranscript:\n%s\n", c.Transcription.Language, c.Transcription.Text)
	}
	return system, b.String()
}

type rawAnalysis struct {
	Summary          string   `json:"summary"`
	Sentiment        string   `json:"sentiment"`
	Intent           string   `json:"intent"`
	Category         string   `json:"category"`
	Priority         string   `json:"priority"`
	SuggestedActions []string `json:"suggestedActions"`
	Keywords         []string `json:"keywords"`
}

// parseAnalysis reads model output into an Analysis. Out-of-range enum values
// are coerced to neutral/medium. ok is false when the output is not usable.
func parseAnalysis(out string) (calls.Analysis, bool) {
	var r rawAnalysis
	if err := json.Unmarshal([]byte(extractJSON(out)), &r); err != nil {
		return calls.Analysis{}, false
	}
	if strings.TrimSpace(r.Summary) == "" {
		return calls.Analysis{}, false
	}

	a := calls.Analysis{
		Summary:          strings.TrimSpace(r.Summary),
		Sentiment:        calls.SentimentNeutral,
		Intent:           strings.TrimSpace(r.Intent),
		Category:         strings.TrimSpace(r.Category),
		Priority:         calls.PriorityMedium,
		SuggestedActions: nonEmpty(r.SuggestedActions),
		Keywords:         nonEmpty(r.Keywords),
	}
	switch s := calls.Sentiment(strings.ToLower(strings.TrimSpace(r.Sentiment))); s {
	case calls.SentimentPositive, calls.SentimentNegative, calls.SentimentNeutral:
		a.Sentiment = s
	}
	switch p := calls.Priority(strings.ToLower(strings.TrimSpace(r.Priority))); p {
	case calls.PriorityLow, calls.PriorityMedium, calls.PriorityHigh, calls.PriorityUrgent:
		a.Priority = p
	}
	if a.Intent == "" {
		a.Intent = "unknown"
	}
	if a.Category == "" {
		a.Category = "general"
	}
	return a, true
}

// fallbackAnalysis is stored when the model output cannot be parsed.
const fallbackSummaryRunes = 200

// truncateRunes cuts s to at most n characters, never inside a rune, and
// marks the cut with "...".
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for count := 0; count < n; count++ {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s[:i] + "..."
}

func fallbackAnalysis(transcript string) calls.Analysis {
	summary := truncateRunes(strings.TrimSpace(transcript), fallbackSummaryRunes)
	if summary == "" {
		summary = "Automatic analysis unavailable."
	}
	return calls.Analysis{
		Summary:          summary,
		Sentiment:        calls.SentimentNeutral,
		Intent:           "unknown",
		Category:         "general",
		Priority:         calls.PriorityMedium,
		SuggestedActions: []string{"Review call manually"},
		Keywords:         []string{},
		Degraded:         true,
	}
}

const replySystemPrompt = `You write short, helpful follow-up replies to callers on behalf of a company.
Company context: %s
Respond with a JSON object: {"text": string, "tone": string}. Write the reply in the caller's language.`

func replyPrompts(companyContext string, c calls.Call, instructions string) (system, user string) {
	if strings.TrimSpace(companyContext) == "" {
		companyContext = "A multi-department business."
	}
	system = fmt.Sprintf(replySystemPrompt, companyContext)

	var b strings.Builder
	if c.Analysis != nil {
		fmt.Fprintf(&b, "Call summary: %s\n", c.Analysis.Summary)
		fmt.Fprintf(&b, "Intent: %s\nSentiment: %s\nPriority: %s\n", c.Analysis.Intent, c.Analysis.Sentiment, c.Analysis.Priority)
		if len(c.Analysis.SuggestedActions) > 0 {
			fmt.Fprintf(&b, "Suggested actions: %s\n", strings.Join(c.Analysis.SuggestedActions, "; "))
		}
	}
	if c.Transcription != nil && c.Transcription.Language != "" {
		fmt.Fprintf(&b, "Caller language: %s\n", c.Transcription.Language)
	}
	if strings.TrimSpace(instructions) != "" {
		fmt.Fprintf(&b, "Additional instructions: %s\n", strings.TrimSpace(instructions))
	}
	return system, b.String()
}

// parseReply accepts JSON output and falls back to plain text.
func parseReply(out string) (calls.Reply, bool) {
	var r struct {
		Text string `json:"text"`
		Tone string `json:"tone"`
	}
	if err := json.Unmarshal([]byte(extractJSON(out)), &r); err == nil && strings.TrimSpace(r.Text) != "" {
		tone := strings.TrimSpace(r.Tone)
		if tone == "" {
			tone = "professional"
		}
		return calls.Reply{Text: strings.TrimSpace(r.Text), Tone: tone}, true
	}
	text := strings.TrimSpace(stripFences(out))
	if text == "" || strings.HasPrefix(text, "{") {
		return calls.Reply{}, false
	}
	return calls.Reply{Text: text, Tone: "professional"}, true
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if i := strings.Index(s, "\n"); i >= 0 {
			s = s[i+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// extractJSON returns the outermost object in s, ignoring code fences and prose.
func extractJSON(s string) string {
	s = stripFences(s)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
