// Package telemetry forwards openness samples between the participants of a
// session. Samples are validated, stamped with the relay's clock and handed to
// every other connection in the session. Delivery is best effort: a peer that
// cannot accept the message is skipped.
package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/wricardo/lens-relay/relay/protocol"
	"github.com/wricardo/lens-relay/relay/session"
)

var (
	ErrNotNumeric = errors.New("openness value is not a number")
	ErrOutOfRange = errors.New("openness value outside [0, 1]")
)

// Locator resolves the fan-out set for a sender. *session.Manager implements it.
type Locator interface {
	Recipients(senderID, fullCode string) ([]session.Peer, error)
}

// Recorder observes routing outcomes. A nil Recorder is allowed.
type Recorder interface {
	Forwarded(delivered, skipped int)
	Dropped(reason string)
}

// Router forwards telemetry.
type Router struct {
	locator  Locator
	recorder Recorder
	now      func() time.Time
}

// NewRouter creates a router over locator. now defaults to time.Now.
func NewRouter(locator Locator, recorder Recorder, now func() time.Time) *Router {
	if now == nil {
		now = time.Now
	}
	return &Router{locator: locator, recorder: recorder, now: now}
}

// ParseValue decodes an openness value. Only JSON numbers in [0, 1] pass.
func ParseValue(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '"' || bytes.Equal(raw, []byte("null")) {
		return 0, ErrNotNumeric
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNotNumeric, err)
	}
	if math.IsNaN(v) || v < 0 || v > 1 {
		return 0, ErrOutOfRange
	}
	return v, nil
}

// Route validates msg and delivers it to every peer in the sender's session
// except the sender. It returns the number of peers that accepted the
// message. Errors are for logging and metrics only; nothing is sent back to
// the sender.
func (r *Router) Route(senderID string, msg protocol.Telemetry) (int, error) {
	value, err := ParseValue(msg.OpennessValue)
	if err != nil {
		r.dropped(dropReason(err))
		return 0, err
	}

	peers, err := r.locator.Recipients(senderID, msg.FullCode)
	if err != nil {
		r.dropped("unroutable")
		return 0, err
	}

	update := protocol.NewTelemetryUpdate(msg.FullCode, value, r.now().UnixMilli())
	delivered := 0
	for _, p := range peers {
		if p.Send(update) {
			delivered++
		}
	}
	if r.recorder != nil {
		r.recorder.Forwarded(delivered, len(peers)-delivered)
	}
	return delivered, nil
}

func (r *Router) dropped(reason string) {
	if r.recorder != nil {
		r.recorder.Dropped(reason)
	}
}

func dropReason(err error) string {
	if errors.Is(err, ErrOutOfRange) {
		return "out_of_range"
	}
	return "not_numeric"
}
