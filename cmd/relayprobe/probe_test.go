package main

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wricardo/lens-relay/api"
	"github.com/wricardo/lens-relay/relay/session"
	relayws "github.com/wricardo/lens-relay/transport/websocket"
)

func startRelay(t *testing.T) (string, *session.Manager) {
	t.Helper()
	sessions := session.NewManager()
	hub := relayws.NewHub(sessions, nil, nil, relayws.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	ts := httptest.NewServer(api.NewServer(sessions, hub, nil))
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws", sessions
}

func TestRunProbe(t *testing.T) {
	url, sessions := startRelay(t)

	var out bytes.Buffer
	err := runProbe(context.Background(), Options{
		URL:        url,
		SessionKey: "probe-key",
		Suffix:     "A",
		Samples:    3,
		Timeout:    2 * time.Second,
	}, &out)
	require.NoError(t, err, out.String())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 8)
	assert.Contains(t, out.String(), "host notified of web disconnect")

	// Closing the probe's host ends the session.
	assert.Eventually(t, func() bool { return sessions.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRunProbe_DuplicateKey(t *testing.T) {
	url, _ := startRelay(t)
	opts := Options{URL: url, SessionKey: "same", Suffix: "A", Samples: 1, Timeout: 2 * time.Second}

	ctx := context.Background()
	host, err := dialProbe(ctx, "host", url, time.Second)
	require.NoError(t, err)
	defer host.close()
	require.NoError(t, host.send(map[string]any{"type": "session-request", "sessionKey": "same", "hostConnectionId": "h0"}))
	_, err = host.expect("session-response")
	require.NoError(t, err)

	var out bytes.Buffer
	err = runProbe(ctx, opts, &out)
	assert.True(t, errors.Is(err, ErrUnexpectedMessage), "got %v", err)
}

func TestRunProbe_Unreachable(t *testing.T) {
	err := runProbe(context.Background(), Options{URL: "ws://127.0.0.1:1/ws", Timeout: time.Second}, &bytes.Buffer{})
	assert.Error(t, err)
}
