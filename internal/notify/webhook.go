package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"swapline/internal/config"
	"swapline/internal/domain"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookEmitter posts each notification to the configured webhooks.
type WebhookEmitter struct {
	Webhooks []config.WebhookConfig
	Client   *http.Client
	Logger   *slog.Logger
}

// NewWebhookEmitter returns nil when no webhook is enabled.
func NewWebhookEmitter(hooks []config.WebhookConfig, logger *slog.Logger) *WebhookEmitter {
	var enabled []config.WebhookConfig
	for _, h := range hooks {
		if h.Enabled != nil && !*h.Enabled {
			continue
		}
		if strings.TrimSpace(h.URL) == "" {
			continue
		}
		enabled = append(enabled, h)
	}
	if len(enabled) == 0 {
		return nil
	}
	return &WebhookEmitter{
		Webhooks: enabled,
		Client:   &http.Client{Timeout: defaultWebhookTimeout},
		Logger:   logger,
	}
}

type webhookNotification struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	RelatedID string `json:"related_id,omitempty"`
	Priority  string `json:"priority"`
	CreatedAt string `json:"created_at"`
}

// Emit delivers n to every matching hook and joins the delivery errors.
func (w *WebhookEmitter) Emit(ctx context.Context, n domain.Notification) error {
	var errs []error
	for _, hook := range w.Webhooks {
		if !newTypeFilter(hook.Types).match(n.Type) {
			continue
		}
		if err := w.post(ctx, hook, n); err != nil {
			w.logger().Warn("webhook delivery failed", "url", hook.URL, "type", n.Type, "err", err)
			errs = append(errs, fmt.Errorf("webhook %s: %w", hook.URL, err))
		}
	}
	return errors.Join(errs...)
}

func (w *WebhookEmitter) post(ctx context.Context, hook config.WebhookConfig, n domain.Notification) error {
	created := n.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	data, err := json.Marshal(webhookNotification{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      n.Type,
		Title:     n.Title,
		Content:   n.Content,
		RelatedID: n.RelatedID,
		Priority:  string(n.Priority),
		CreatedAt: created.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != client.Timeout {
			client = &http.Client{Timeout: timeout, Transport: client.Transport}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Swapline-Notification", n.Type)
	if n.ID != "" {
		req.Header.Set("X-Swapline-Delivery", n.ID)
	}
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Swapline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (w *WebhookEmitter) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

type typeFilter struct {
	all bool
	set map[string]struct{}
}

func newTypeFilter(types []string) typeFilter {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		if key := strings.TrimSpace(t); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return typeFilter{all: true}
	}
	return typeFilter{set: set}
}

func (f typeFilter) match(t string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[t]
	return ok
}
