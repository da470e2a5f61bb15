package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gorilla/websocket"
)

var ErrUnexpectedMessage = errors.New("unexpected message")

// Options configures one probe run.
type Options struct {
	URL        string
	SessionKey string
	Suffix     string
	Samples    int
	Timeout    time.Duration
}

// probeConn wraps a client websocket with typed reads.
type probeConn struct {
	name    string
	ws      *websocket.Conn
	timeout time.Duration
}

func dialProbe(ctx context.Context, name, url string, timeout time.Duration) (*probeConn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s dial %s: %w", name, url, err)
	}
	return &probeConn{name: name, ws: ws, timeout: timeout}, nil
}

func (p *probeConn) send(msg map[string]any) error {
	p.ws.SetWriteDeadline(time.Now().Add(p.timeout))
	if err := p.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("%s write %v: %w", p.name, msg["type"], err)
	}
	return nil
}

// expect reads the next message and fails unless its type is want.
func (p *probeConn) expect(want string) (map[string]any, error) {
	p.ws.SetReadDeadline(time.Now().Add(p.timeout))
	_, data, err := p.ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%s waiting for %s: %w", p.name, want, err)
	}

	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%s waiting for %s: %w", p.name, want, err)
	}
	if msg["type"] != want {
		return msg, fmt.Errorf("%w: %s expected %s, got %s", ErrUnexpectedMessage, p.name, want, data)
	}
	return msg, nil
}

func (p *probeConn) close() {
	p.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	p.ws.Close()
}

// runProbe performs the pairing scenario and writes one line per step to out.
func runProbe(ctx context.Context, opts Options, out io.Writer) error {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	step := func(format string, args ...any) {
		fmt.Fprintf(out, "ok   "+format+"\n", args...)
	}

	host, err := dialProbe(ctx, "host", opts.URL, opts.Timeout)
	if err != nil {
		return err
	}
	defer host.close()

	if err := host.send(map[string]any{
		"type":             "session-request",
		"sessionKey":       opts.SessionKey,
		"hostConnectionId": "probe-host",
	}); err != nil {
		return err
	}
	resp, err := host.expect("session-response")
	if err != nil {
		return err
	}
	display, _ := resp["displayCode"].(string)
	step("session created, display code %s", display)

	fullCode := display + opts.Suffix
	if err := host.send(map[string]any{
		"type":       "code-assignment",
		"sessionKey": opts.SessionKey,
		"assignment": map[string]any{
			"hostConnectionId": "probe-host",
			"suffixChar":       opts.Suffix,
			"displayName":      "probe",
			"fullCode":         fullCode,
		},
	}); err != nil {
		return err
	}
	step("code %s assigned", fullCode)

	web, err := connectWeb(ctx, opts, fullCode)
	if err != nil {
		return err
	}
	defer web.close()
	step("web claimed %s", fullCode)

	if _, err := host.expect("web-connected"); err != nil {
		return err
	}
	step("host notified of web connection")

	for i := 0; i < opts.Samples; i++ {
		value := float64(i+1) / float64(opts.Samples+1)
		if err := web.send(map[string]any{"type": "telemetry", "fullCode": fullCode, "opennessValue": value}); err != nil {
			return err
		}
		tel, err := host.expect("telemetry")
		if err != nil {
			return err
		}
		if got, _ := tel["opennessValue"].(float64); got != value {
			return fmt.Errorf("%w: telemetry value %v, sent %v", ErrUnexpectedMessage, got, value)
		}
		step("telemetry %.3f delivered", value)
	}

	web.close()
	gone, err := host.expect("web-disconnected")
	if err != nil {
		return err
	}
	if gone["fullCode"] != fullCode {
		return fmt.Errorf("%w: web-disconnected for %v", ErrUnexpectedMessage, gone["fullCode"])
	}
	step("host notified of web disconnect")
	return nil
}

// connectWeb claims fullCode. The assignment travels on the host connection,
// so the first attempts can race it and see invalid-code.
func connectWeb(ctx context.Context, opts Options, fullCode string) (*probeConn, error) {
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		}

		web, err := dialProbe(ctx, "web", opts.URL, opts.Timeout)
		if err != nil {
			return nil, err
		}
		if err := web.send(map[string]any{"type": "connect-request", "fullCode": fullCode}); err != nil {
			web.close()
			return nil, err
		}

		msg, err := web.expect("connection-successful")
		if err == nil {
			return web, nil
		}
		web.close()
		lastErr = err
		if msg == nil || msg["code"] != "invalid-code" {
			return nil, err
		}
	}
	return nil, lastErr
}
