package telephony

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"callintel/internal/config"
	"callintel/internal/providers"
)

// maxRecordingBytes bounds a downloaded recording (Whisper accepts up to 25 MB).
const maxRecordingBytes = 25 << 20

// TwilioProvider downloads recordings with account credentials.
type TwilioProvider struct {
	accountSID string
	authToken  string
	http       *http.Client
}

func NewTwilioProvider(cfg config.TwilioConfig, timeout time.Duration) *TwilioProvider {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &TwilioProvider{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		http:       &http.Client{Timeout: timeout},
	}
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) Healthy() bool { return p.accountSID != "" && p.authToken != "" }

// isTwilioHost matches twilio.com and its subdomains, not lookalikes such
// as eviltwilio.com.
func isTwilioHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	return host == "twilio.com" || strings.HasSuffix(host, ".twilio.com")
}

// Fetch downloads a recording. Twilio recording URLs without an extension are
// requested as MP3.
func (p *TwilioProvider) Fetch(ctx context.Context, recordingURL string) (providers.Audio, error) {
	u, err := url.Parse(strings.TrimSpace(recordingURL))
	if err != nil || u.Host == "" {
		return providers.Audio{}, fmt.Errorf("telephony: invalid recording url %q", recordingURL)
	}
	twilioHost := isTwilioHost(u.Hostname())
	if twilioHost && path.Ext(u.Path) == "" {
		u.Path += ".mp3"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return providers.Audio{}, err
	}
	// Account credentials go to Twilio over TLS only.
	if twilioHost && u.Scheme == "https" && p.accountSID != "" {
		req.SetBasicAuth(p.accountSID, p.authToken)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return providers.Audio{}, fmt.Errorf("telephony: fetch recording: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return providers.Audio{}, &providers.APIError{Provider: p.Name(), Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRecordingBytes+1))
	if err != nil {
		return providers.Audio{}, fmt.Errorf("telephony: read recording: %w", err)
	}
	if len(data) > maxRecordingBytes {
		return providers.Audio{}, fmt.Errorf("telephony: recording exceeds %d bytes", maxRecordingBytes)
	}

	ct := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		ct = mt
	}
	name := path.Base(u.Path)
	if path.Ext(name) == "" {
		name += extensionFor(ct)
	}
	return providers.Audio{Data: data, Filename: name, ContentType: ct}, nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/x-wav", "audio/wav", "audio/wave":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	default:
		return ".mp3"
	}
}
