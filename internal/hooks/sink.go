package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"
)

// Sink delivers one event payload to an external receiver.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, env Envelope) error
}

// defaultDeliveryTimeout bounds a single sink delivery.
const defaultDeliveryTimeout = 10 * time.Second

// WebhookSink POSTs the envelope as JSON to a fixed URL.
type WebhookSink struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookSink creates a webhook sink.
func NewWebhookSink(name, url string, headers map[string]string) *WebhookSink {
	return &WebhookSink{
		name:    name,
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: defaultDeliveryTimeout},
	}
}

// Name returns the configured sink name.
func (s *WebhookSink) Name() string { return s.name }

// Deliver POSTs the payload and treats any non-2xx response as failure.
func (s *WebhookSink) Deliver(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", s.url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s returned %d", s.url, resp.StatusCode)
	}
	return nil
}

// ScriptSink runs a local command with the envelope JSON on stdin. The
// event name is exposed as argv[1] so scripts can switch without parsing.
type ScriptSink struct {
	name    string
	command string
	timeout time.Duration
}

// NewScriptSink creates a script sink. A zero timeout uses the default.
func NewScriptSink(name, command string, timeout time.Duration) *ScriptSink {
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}
	return &ScriptSink{name: name, command: command, timeout: timeout}
}

// Name returns the configured sink name.
func (s *ScriptSink) Name() string { return s.name }

// Deliver executes the script and fails on non-zero exit.
func (s *ScriptSink) Deliver(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	parts := strings.Fields(s.command)
	if len(parts) == 0 {
		return fmt.Errorf("script sink %s has empty command", s.name)
	}
	args := append(parts[1:], env.Event)

	cmd := exec.CommandContext(runCtx, parts[0], args...)
	cmd.Stdin = bytes.NewReader(body)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("script %s: %s", s.name, msg)
		}
		return fmt.Errorf("script %s: %w", s.name, err)
	}
	return nil
}
