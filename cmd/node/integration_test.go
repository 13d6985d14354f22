//go:build integration

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afroash/temper-node/internal/config"
	"github.com/afroash/temper-node/internal/models"
)

// TestFullSystem provisions the node through the portal and waits for readings.
// Needs a host with a non-loopback IPv4 interface.
// Run with: go test -tags=integration -v ./cmd/node/
func TestFullSystem(t *testing.T) {
	cfg, err := config.LoadConfig("../../configs/node.local.yaml")
	require.NoError(t, err)
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, logger) }()

	base := "http://" + cfg.Portal.Listen
	client := &http.Client{Timeout: 2 * time.Second}

	require.Eventually(t, func() bool {
		resp, err := client.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 100*time.Millisecond)

	form := url.Values{
		"Security": {"none"},
		"SSID":     {"integration"},
		"Passcode": {cfg.Portal.Passcode},
	}
	resp, err := client.Get(base + "/get?" + form.Encode())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var readings []models.Reading
	require.Eventually(t, func() bool {
		resp, err := client.Get(base + "/data")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		readings = nil
		return json.NewDecoder(resp.Body).Decode(&readings) == nil && len(readings) >= 2
	}, 15*time.Second, 200*time.Millisecond)

	t.Logf("System test passed: %d readings collected", len(readings))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
