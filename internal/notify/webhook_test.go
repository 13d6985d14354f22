package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afroash/temper-node/internal/models"
)

type capturedRequest struct {
	path    string
	headers http.Header
	body    []byte
}

func newCaptureServer(t *testing.T, status int) (*httptest.Server, func() []capturedRequest) {
	t.Helper()

	var (
		mu   sync.Mutex
		reqs []capturedRequest
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, capturedRequest{path: r.URL.Path, headers: r.Header.Clone(), body: body})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), reqs...)
	}
}

func alertNotification() models.Notification {
	return models.Notification{
		Kind: models.KindAlert,
		Payload: models.AlertNotification{
			Event:        models.EventTemperature,
			NodeID:       "node-1",
			TemperatureC: models.Valid(26.5),
			TemperatureF: models.Valid(79.7),
			CurrentTime:  models.StampOf("2026-01-01 10:00:00"),
			MinTemp:      22,
			MaxTemp:      25,
			Reason:       "above_max",
		},
	}
}

func TestWebhookSink_PostsJSON(t *testing.T) {
	srv, requests := newCaptureServer(t, http.StatusOK)

	sink, err := NewWebhookSink(WebhookConfig{
		Enabled: true,
		URL:     srv.URL + "/alerts",
		Headers: map[string]string{"X-Api-Key": "secret"},
	}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, sink.Send(context.Background(), alertNotification()))

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/alerts", reqs[0].path)
	assert.Equal(t, "application/json", reqs[0].headers.Get("Content-Type"))
	assert.Equal(t, "secret", reqs[0].headers.Get("X-Api-Key"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(reqs[0].body, &body))
	assert.Equal(t, "temperature_alert", body["event"])
	assert.Equal(t, "node-1", body["node_id"])
	assert.Equal(t, "above_max", body["reason"])
}

func TestWebhookSink_IdentityUsesSeparateURL(t *testing.T) {
	srv, requests := newCaptureServer(t, http.StatusNoContent)

	sink, err := NewWebhookSink(WebhookConfig{
		Enabled:     true,
		URL:         srv.URL + "/alerts",
		IdentityURL: srv.URL + "/identity",
	}, zerolog.Nop())
	require.NoError(t, err)

	err = sink.Send(context.Background(), models.Notification{
		Kind: models.KindIdentity,
		Payload: models.IdentityNotification{
			Event:  models.EventDeviceOnline,
			NodeID: "node-1",
			MAC:    "aa:bb:cc:dd:ee:ff",
			IP:     "192.168.1.20",
			SSID:   "home",
		},
	})
	require.NoError(t, err)

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/identity", reqs[0].path)
}

func TestWebhookSink_NonSuccessStatus(t *testing.T) {
	srv, _ := newCaptureServer(t, http.StatusInternalServerError)

	sink, err := NewWebhookSink(WebhookConfig{Enabled: true, URL: srv.URL}, zerolog.Nop())
	require.NoError(t, err)

	err = sink.Send(context.Background(), alertNotification())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWebhookStatus))
}

func TestWebhookSink_Disabled(t *testing.T) {
	sink, err := NewWebhookSink(WebhookConfig{URL: "http://unused"}, zerolog.Nop())
	require.NoError(t, err)

	assert.ErrorIs(t, sink.Send(context.Background(), alertNotification()), ErrSinkDisabled)
}

func TestWebhookSink_Template(t *testing.T) {
	srv, requests := newCaptureServer(t, http.StatusOK)

	sink, err := NewWebhookSink(WebhookConfig{
		Enabled:  true,
		URL:      srv.URL,
		Template: `{"text": "{{.event.NodeID}} {{.kind}}", "raw": {{json .event}}}`,
	}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, sink.Send(context.Background(), alertNotification()))

	reqs := requests()
	require.Len(t, reqs, 1)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(reqs[0].body, &body))
	assert.Equal(t, "node-1 alert", body["text"])
	raw, ok := body["raw"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "26.50", raw["temperatureC"])
}

func TestWebhookSink_BadTemplate(t *testing.T) {
	_, err := NewWebhookSink(WebhookConfig{Enabled: true, Template: "{{.event"}, zerolog.Nop())
	assert.ErrorIs(t, err, errTemplateParse)
}

func TestWebhookSink_TemplateProducesInvalidJSON(t *testing.T) {
	srv, requests := newCaptureServer(t, http.StatusOK)

	sink, err := NewWebhookSink(WebhookConfig{
		Enabled:  true,
		URL:      srv.URL,
		Template: `not json {{.kind}}`,
	}, zerolog.Nop())
	require.NoError(t, err)

	err = sink.Send(context.Background(), alertNotification())
	assert.ErrorIs(t, err, errInvalidJSON)
	assert.Empty(t, requests())
}
