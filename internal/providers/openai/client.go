package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"

	"callintel/internal/config"
	"callintel/internal/providers"
)

const maxErrorBody = 2048

// Client talks to the OpenAI audio and chat endpoints.
type Client struct {
	apiKey    string
	baseURL   string
	sttModel  string
	chatModel string
	http      *http.Client
}

func New(cfg config.OpenAIConfig) *Client {
	return &Client{
		apiKey:    cfg.APIKey,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		sttModel:  cfg.STTModel,
		chatModel: cfg.ChatModel,
		http:      &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Name() string  { return "openai" }
func (c *Client) Healthy() bool { return c.apiKey != "" }

var errNoKey = errors.New("openai: api key not configured")

type verboseTranscription struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// DetectLanguage runs a transcription without a language hint and returns the
// language the model reports.
func (c *Client) DetectLanguage(ctx context.Context, audio providers.Audio) (string, error) {
	v, err := c.transcribe(ctx, audio, "")
	if err != nil {
		return "", err
	}
	code := LanguageCode(v.Language)
	if code == "" {
		return "", fmt.Errorf("openai: unrecognized language %q", v.Language)
	}
	return code, nil
}

func (c *Client) Transcribe(ctx context.Context, audio providers.Audio, language string) (providers.Transcript, error) {
	v, err := c.transcribe(ctx, audio, language)
	if err != nil {
		return providers.Transcript{}, err
	}
	lang := language
	if lang == "" {
		lang = LanguageCode(v.Language)
	}
	return providers.Transcript{
		Text:       strings.TrimSpace(v.Text),
		Language:   lang,
		Confidence: confidence(v),
	}, nil
}

func (c *Client) transcribe(ctx context.Context, audio providers.Audio, language string) (verboseTranscription, error) {
	if !c.Healthy() {
		return verboseTranscription{}, errNoKey
	}
	filename := audio.Filename
	if filename == "" {
		filename = "recording.wav"
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return verboseTranscription{}, err
	}
	if _, err := part.Write(audio.Data); err != nil {
		return verboseTranscription{}, err
	}
	_ = w.WriteField("model", c.sttModel)
	_ = w.WriteField("response_format", "verbose_json")
	if language != "" {
		_ = w.WriteField("language", language)
	}
	if err := w.Close(); err != nil {
		return verboseTranscription{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return verboseTranscription{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var out verboseTranscription
	if err := c.do(req, &out); err != nil {
		return verboseTranscription{}, err
	}
	return out, nil
}

// confidence maps the mean segment log-probability onto [0,1].
func confidence(v verboseTranscription) float64 {
	if len(v.Segments) == 0 {
		return 0
	}
	var sum float64
	for _, s := range v.Segments {
		sum += s.AvgLogprob
	}
	p := math.Exp(sum / float64(len(v.Segments)))
	return math.Round(math.Min(1, math.Max(0, p))*1000) / 1000
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) Complete(ctx context.Context, system, user string, jsonOutput bool) (string, error) {
	if !c.Healthy() {
		return "", errNoKey
	}
	in := chatRequest{
		Model: c.chatModel,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.3,
	}
	if jsonOutput {
		in.ResponseFormat = map[string]any{"type": "json_object"}
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var out chatResponse
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", errors.New("openai: empty completion")
	}
	return out.Choices[0].Message.Content, nil
}

func (c *Client) do(req *http.Request, dest any) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("openai: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &providers.APIError{Provider: "openai", Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("openai: decode response: %w", err)
	}
	return nil
}
