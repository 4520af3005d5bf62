package providers

import (
	"context"
	"fmt"
)

// Collaborator contracts used by the call-intelligence pipeline.
//
// Rules:
// - No provider SDK calls outside these adapters.
// - Healthy reports only whether credentials are configured; it makes no network call.

type Transcript struct {
	Text       string
	Language   string
	Confidence float64
}

type Transcriber interface {
	Name() string
	Healthy() bool
	// DetectLanguage returns an ISO-639-1 code for the spoken language.
	DetectLanguage(ctx context.Context, audio Audio) (string, error)
	// Transcribe converts speech to text. An empty language lets the provider decide.
	Transcribe(ctx context.Context, audio Audio, language string) (Transcript, error)
}

type LanguageModel interface {
	Name() string
	Healthy() bool
	// Complete runs one chat turn. jsonOutput asks the model for a JSON object.
	Complete(ctx context.Context, system, user string, jsonOutput bool) (string, error)
}

type Synthesizer interface {
	Name() string
	Healthy() bool
	Synthesize(ctx context.Context, text string, voice Voice) (Audio, error)
}

type Audio struct {
	Data        []byte
	Filename    string
	ContentType string
}

type Voice struct {
	ID        string
	Model     string
	Stability float64
	// Similarity is the similarity boost in [0,1].
	Similarity float64
}

// APIError is a non-2xx response from a provider.
type APIError struct {
	Provider string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.Status, e.Body)
}

// Retryable reports whether the failure is worth retrying.
func (e *APIError) Retryable() bool {
	return e.Status == 429 || e.Status >= 500
}
