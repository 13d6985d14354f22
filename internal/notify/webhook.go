package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/temper-node/internal/models"
)

var (
	ErrWebhookStatus     = errors.New("webhook returned non-2xx status")
	errInvalidJSON       = errors.New("invalid JSON generated")
	errTemplateParse     = errors.New("template parsing failed")
	errTemplateExecution = errors.New("template execution failed")
)

// WebhookConfig configures the HTTP POST sink.
type WebhookConfig struct {
	Enabled bool
	// URL receives alert notifications.
	URL string
	// IdentityURL receives the device identity notification. Falls back to URL.
	IdentityURL string
	Headers     map[string]string
	// Template optionally renders the body; the notification is available as .event.
	Template string
	Timeout  time.Duration
}

// WebhookSink posts notifications as JSON.
type WebhookSink struct {
	config     WebhookConfig
	client     *http.Client
	tmpl       *template.Template
	logger     zerolog.Logger
	bufferPool *sync.Pool
}

// NewWebhookSink validates the template up front so a bad template fails at startup.
func NewWebhookSink(config WebhookConfig, logger zerolog.Logger) (*WebhookSink, error) {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	w := &WebhookSink{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger,
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
	}

	if config.Template != "" {
		tmpl, err := template.New("webhook").Funcs(w.templateFuncs()).Parse(config.Template)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errTemplateParse, err)
		}
		w.tmpl = tmpl
	}

	return w, nil
}

func (*WebhookSink) Name() string { return "webhook" }

func (w *WebhookSink) templateFuncs() template.FuncMap {
	return template.FuncMap{
		"json": func(v interface{}) (string, error) {
			b, err := json.Marshal(v)
			if err != nil {
				return "", fmt.Errorf("JSON marshaling failed: %w", err)
			}
			return string(b), nil
		},
	}
}

func (w *WebhookSink) destination(kind models.NotificationKind) string {
	if kind == models.KindIdentity && w.config.IdentityURL != "" {
		return w.config.IdentityURL
	}
	return w.config.URL
}

// Send makes a single delivery attempt.
func (w *WebhookSink) Send(ctx context.Context, n models.Notification) error {
	if !w.config.Enabled {
		return ErrSinkDisabled
	}

	url := w.destination(n.Kind)
	if url == "" {
		return ErrNoDestination
	}

	payload, err := w.preparePayload(n)
	if err != nil {
		return fmt.Errorf("failed to prepare payload: %w", err)
	}

	return w.sendRequest(ctx, url, payload)
}

func (w *WebhookSink) preparePayload(n models.Notification) ([]byte, error) {
	buf := w.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer w.bufferPool.Put(buf)

	if w.tmpl == nil {
		if err := json.NewEncoder(buf).Encode(n.Payload); err != nil {
			return nil, fmt.Errorf("failed to marshal notification: %w", err)
		}
		return append([]byte(nil), buf.Bytes()...), nil
	}

	if err := w.tmpl.Execute(buf, map[string]interface{}{
		"kind":  string(n.Kind),
		"event": n.Payload,
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", errTemplateExecution, err)
	}

	if !json.Valid(buf.Bytes()) {
		return nil, errInvalidJSON
	}

	return append([]byte(nil), buf.Bytes()...), nil
}

func (w *WebhookSink) sendRequest(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	w.setHeaders(req)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			w.logger.Debug().Err(err).Msg("failed to close response body")
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status=%d body=%s", ErrWebhookStatus, resp.StatusCode, string(body))
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (w *WebhookSink) setHeaders(req *http.Request) {
	hasContentType := false

	for key, value := range w.config.Headers {
		if strings.EqualFold(key, "content-type") {
			hasContentType = true
		}
		req.Header.Set(key, value)
	}

	if !hasContentType {
		req.Header.Set("Content-Type", "application/json")
	}
}
