package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"callintel/internal/config"
	"callintel/internal/providers"
)

const maxAudioBytes = 25 << 20

// Client calls the ElevenLabs text-to-speech endpoint.
type Client struct {
	apiKey  string
	baseURL string
	voice   providers.Voice
	http    *http.Client
}

func New(cfg config.ElevenLabsConfig) *Client {
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		voice: providers.Voice{
			ID:         cfg.VoiceID,
			Model:      cfg.Model,
			Stability:  0.5,
			Similarity: 0.75,
		},
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Name() string  { return "elevenlabs" }
func (c *Client) Healthy() bool { return c.apiKey != "" }

// DefaultVoice is the configured voice.
func (c *Client) DefaultVoice() providers.Voice { return c.voice }

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize renders text to MP3. Zero fields in v fall back to the configured voice.
func (c *Client) Synthesize(ctx context.Context, text string, v providers.Voice) (providers.Audio, error) {
	if !c.Healthy() {
		return providers.Audio{}, errors.New("elevenlabs: api key not configured")
	}
	if strings.TrimSpace(text) == "" {
		return providers.Audio{}, errors.New("elevenlabs: empty text")
	}
	if v.ID == "" {
		v.ID = c.voice.ID
	}
	if v.Model == "" {
		v.Model = c.voice.Model
	}
	if v.Stability == 0 {
		v.Stability = c.voice.Stability
	}
	if v.Similarity == 0 {
		v.Similarity = c.voice.Similarity
	}

	raw, err := json.Marshal(ttsRequest{
		Text:          text,
		ModelID:       v.Model,
		VoiceSettings: voiceSettings{Stability: v.Stability, SimilarityBoost: v.Similarity},
	})
	if err != nil {
		return providers.Audio{}, err
	}

	endpoint := c.baseURL + "/text-to-speech/" + url.PathEscape(v.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return providers.Audio{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return providers.Audio{}, fmt.Errorf("elevenlabs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return providers.Audio{}, &providers.APIError{Provider: "elevenlabs", Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return providers.Audio{}, fmt.Errorf("elevenlabs: read audio: %w", err)
	}
	if len(data) == 0 {
		return providers.Audio{}, errors.New("elevenlabs: empty audio")
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "audio/mpeg"
	}
	return providers.Audio{Data: data, Filename: "reply.mp3", ContentType: ct}, nil
}
