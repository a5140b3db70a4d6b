package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"paperkeep/api/internal/prefs"
)

// Pusher is the platform push collaborator. EnsurePermission requests the
// platform permission when it has not been granted yet and reports the
// outcome; Show delivers one notification.
type Pusher interface {
	EnsurePermission(ctx context.Context) (bool, error)
	Show(ctx context.Context, title, body string) error
}

// SpeechOptions configure one synthesized-speech delivery. Values are taken
// from the user's preferences with per-call overrides permitted; there is no
// ambient global voice state.
type SpeechOptions struct {
	Voice  string  `json:"voiceName,omitempty"`
	Volume float64 `json:"volume"`
	Rate   float64 `json:"rate"`
	Pitch  float64 `json:"pitch"`
}

// OptionsFromPrefs builds speech options from stored preferences.
func OptionsFromPrefs(p prefs.Preferences) SpeechOptions {
	return SpeechOptions{
		Voice:  p.VoiceType,
		Volume: p.Volume,
		Rate:   p.Rate,
		Pitch:  p.Pitch,
	}
}

// Speaker is the speech-synthesis collaborator. Speak reports whether speech
// was initiated; an unsupported runtime returns false instead of an error so
// callers surface a non-fatal notice.
type Speaker interface {
	Speak(ctx context.Context, text string, opts SpeechOptions) bool
	Voices(ctx context.Context) []string
}

// Emailer is the outbound email collaborator. The dispatcher only decides
// whether to invoke it and with what content; transport, retries and
// delivery confirmation are outside this core.
type Emailer interface {
	IsConfigured() bool
	SendReminderEmail(to, userName string, items []ReminderItem) error
}

// WebhookPusher delivers push notifications by posting to a configured
// webhook. Permission is negotiated once per process against the endpoint's
// permission route and cached.
type WebhookPusher struct {
	url    string
	client *http.Client

	mu      sync.Mutex
	asked   bool
	granted bool
}

// NewWebhookPusher creates a pusher. An empty URL yields a pusher whose
// permission is always denied, which the dispatcher treats as a declined
// channel.
func NewWebhookPusher(url string) *WebhookPusher {
	return &WebhookPusher{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// EnsurePermission asks the endpoint for permission the first time it is
// called and caches the answer.
func (p *WebhookPusher) EnsurePermission(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.asked {
		return p.granted, nil
	}
	if p.url == "" {
		p.asked = true
		return false, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"/permission", nil)
	if err != nil {
		return false, fmt.Errorf("build permission request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("request push permission: %w", err)
	}
	defer resp.Body.Close()

	p.asked = true
	p.granted = resp.StatusCode == http.StatusOK
	return p.granted, nil
}

// Show posts one notification payload to the webhook.
func (p *WebhookPusher) Show(ctx context.Context, title, body string) error {
	if p.url == "" {
		return fmt.Errorf("push webhook not configured")
	}

	payload, err := json.Marshal(map[string]string{"title": title, "body": body})
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// HTTPSpeaker initiates speech by posting text and options to a synthesis
// service. Fire-and-forget at the delivery level: Speak only reports whether
// the request was accepted.
type HTTPSpeaker struct {
	url    string
	client *http.Client
}

// NewHTTPSpeaker creates a speaker. An empty URL models a runtime without
// speech support: Speak reports false and Voices is empty.
func NewHTTPSpeaker(url string) *HTTPSpeaker {
	return &HTTPSpeaker{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Speak posts one utterance. It never returns an error; failure is the
// boolean result.
func (s *HTTPSpeaker) Speak(ctx context.Context, text string, opts SpeechOptions) bool {
	if s.url == "" {
		return false
	}

	payload, err := json.Marshal(map[string]any{
		"text":    text,
		"options": opts,
	})
	if err != nil {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/speak", bytes.NewReader(payload))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 300
}

// Voices lists the synthesis service's available voice identities.
func (s *HTTPSpeaker) Voices(ctx context.Context) []string {
	if s.url == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url+"/voices", nil)
	if err != nil {
		return nil
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	var voices []string
	if err := json.NewDecoder(resp.Body).Decode(&voices); err != nil {
		return nil
	}
	return voices
}
