package websocket

import (
	"errors"
	"log"

	"github.com/wricardo/lens-relay/relay/code"
	"github.com/wricardo/lens-relay/relay/metrics"
	"github.com/wricardo/lens-relay/relay/protocol"
	"github.com/wricardo/lens-relay/relay/session"
)

type handlerFunc func(h *Hub, c *Conn, env protocol.Envelope)

// handlers maps every inbound kind to its handler. Kinds not listed here are
// logged and ignored by dispatch.
var handlers = map[protocol.Kind]handlerFunc{
	protocol.KindSessionRequest: handleSessionRequest,
	protocol.KindJoinRequest:    handleJoinRequest,
	protocol.KindCodeAssignment: handleCodeAssignment,
	protocol.KindConnectRequest: handleConnectRequest,
	protocol.KindTelemetry:      handleTelemetry,
}

// dispatch decodes one frame and runs its handler. Failures stay local to
// the frame; the connection keeps reading.
func (h *Hub) dispatch(c *Conn, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		log.Printf("Dropping malformed message from %s: %v", c.ID(), err)
		h.metrics.Dropped(metrics.DropMalformed)
		return
	}

	handler, ok := handlers[env.Type]
	if !ok {
		log.Printf("Ignoring unknown message type %q from %s", env.Type, c.ID())
		h.metrics.Dropped(metrics.DropUnknownType)
		return
	}

	h.metrics.Message(string(env.Type))
	handler(h, c, env)
}

// replyError sends an error frame built from err.
func replyError(c *Conn, err error) {
	c.Send(errorFor(err))
}

func errorFor(err error) protocol.Error {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return protocol.NewError(protocol.CodeSessionNotFound, "Session not found")
	case errors.Is(err, session.ErrDuplicateSessionKey):
		return protocol.NewError(protocol.CodeDuplicateSession, "Session key already in use")
	case errors.Is(err, session.ErrInvalidCode):
		return protocol.NewError(protocol.CodeInvalidCode, "Invalid code")
	case errors.Is(err, session.ErrCodeAlreadyInUse):
		return protocol.NewError(protocol.CodeInUse, "Code already in use")
	case errors.Is(err, session.ErrAlreadyClaimed):
		return protocol.NewError(protocol.CodeAlreadyClaimed, "Connection already holds a code")
	case errors.Is(err, session.ErrAlreadyClassified):
		return protocol.NewError(protocol.CodeWrongRole, "Connection already joined a session")
	case errors.Is(err, session.ErrMissingField), errors.Is(err, protocol.ErrMalformed):
		return protocol.NewError(protocol.CodeBadRequest, err.Error())
	default:
		return protocol.NewError(protocol.CodeInternal, "Internal error")
	}
}

func handleSessionRequest(h *Hub, c *Conn, env protocol.Envelope) {
	openHost(h, c, env, protocol.KindSessionResponse, h.sessions.CreateSession)
}

func handleJoinRequest(h *Hub, c *Conn, env protocol.Envelope) {
	openHost(h, c, env, protocol.KindJoinResponse, h.sessions.JoinAsHost)
}

// openHost handles both host handshakes, which differ only in the registry
// call and the response type.
func openHost(h *Hub, c *Conn, env protocol.Envelope, respKind protocol.Kind,
	attach func(sessionKey, hostConnID string, peer session.Peer) (*session.Info, error)) {

	var req protocol.SessionRequest
	if err := env.Bind(&req); err != nil {
		h.metrics.Dropped(metrics.DropInvalid)
		replyError(c, err)
		return
	}
	if req.SessionKey == "" || req.HostConnectionID == "" {
		h.metrics.Dropped(metrics.DropInvalid)
		replyError(c, session.ErrMissingField)
		return
	}
	if c.role.Kind != Unclassified {
		replyError(c, session.ErrAlreadyClassified)
		return
	}

	info, err := attach(req.SessionKey, req.HostConnectionID, c)
	if err != nil {
		log.Printf("%s from %s failed: %v", env.Type, c.ID(), err)
		replyError(c, err)
		return
	}

	c.classify(Role{Kind: HostRole, SessionKey: req.SessionKey, HostConnID: req.HostConnectionID})
	c.Send(protocol.NewSessionResponse(respKind, info.DisplayCode, req.SessionKey))
}

// handleCodeAssignment registers a participant code. It never replies; bad
// assignments are logged and ignored.
func handleCodeAssignment(h *Hub, c *Conn, env protocol.Envelope) {
	if c.role.Kind != HostRole {
		h.debugf("Ignoring code-assignment from non-host %s", c.ID())
		h.metrics.Dropped(metrics.DropInvalid)
		return
	}

	var msg protocol.CodeAssignment
	if err := env.Bind(&msg); err != nil {
		log.Printf("Ignoring code-assignment from %s: %v", c.ID(), err)
		h.metrics.Dropped(metrics.DropInvalid)
		return
	}

	sessionKey := msg.SessionKey
	if sessionKey == "" {
		sessionKey = c.role.SessionKey
	}
	if sessionKey != c.role.SessionKey {
		log.Printf("Ignoring code-assignment from %s for a session it does not belong to", c.ID())
		h.metrics.Dropped(metrics.DropInvalid)
		return
	}

	a := msg.Resolved()
	if a.HostConnectionID == "" {
		a.HostConnectionID = c.role.HostConnID
	}
	fullCode := code.Normalize(a.FullCode)
	suffix := code.Normalize(a.SuffixChar)
	if suffix == "" && len(fullCode) == code.FullLength {
		suffix = fullCode[code.DisplayLength:]
	}

	registered, err := h.sessions.RegisterParticipantCode(sessionKey, a.HostConnectionID, suffix, a.DisplayName)
	if err != nil {
		log.Printf("code-assignment from %s failed: %v", c.ID(), err)
		h.metrics.Dropped(metrics.DropInvalid)
		return
	}
	if fullCode != "" && fullCode != registered {
		log.Printf("code-assignment from %s: client full code %s differs from registered %s", c.ID(), fullCode, registered)
	}
	h.debugf("Registered %s for host %s", registered, a.HostConnectionID)
}

// handleConnectRequest claims a full code for a web tracker. Any failure
// closes the connection after the error is sent, since a tracker without a
// code has nothing else to do.
func handleConnectRequest(h *Hub, c *Conn, env protocol.Envelope) {
	switch c.role.Kind {
	case WebRole:
		replyError(c, session.ErrAlreadyClaimed)
		return
	case HostRole:
		replyError(c, session.ErrAlreadyClassified)
		return
	}

	var req protocol.ConnectRequest
	if err := env.Bind(&req); err != nil || req.FullCode == "" {
		h.metrics.Dropped(metrics.DropInvalid)
		replyError(c, session.ErrInvalidCode)
		c.Close()
		return
	}

	claim, err := h.sessions.ClaimCode(req.FullCode, c)
	if err != nil {
		log.Printf("connect-request %s from %s failed: %v", req.FullCode, c.ID(), err)
		replyError(c, err)
		c.Close()
		return
	}

	c.classify(Role{Kind: WebRole, FullCode: claim.FullCode})
	c.Send(protocol.NewConnectionSuccessful(claim.FullCode, claim.DisplayName))
}

// handleTelemetry forwards a sample. Invalid samples are dropped without a reply.
func handleTelemetry(h *Hub, c *Conn, env protocol.Envelope) {
	if c.role.Kind == Unclassified {
		h.debugf("Dropping telemetry from unclassified %s", c.ID())
		h.metrics.Dropped(metrics.DropInvalid)
		return
	}

	var msg protocol.Telemetry
	if err := env.Bind(&msg); err != nil {
		h.debugf("Dropping telemetry from %s: %v", c.ID(), err)
		h.metrics.Dropped(metrics.DropInvalid)
		return
	}
	msg.FullCode = code.Normalize(msg.FullCode)
	if msg.FullCode == "" && c.role.Kind == WebRole {
		msg.FullCode = c.role.FullCode
	}

	if _, err := h.router.Route(c.ID(), msg); err != nil {
		h.debugf("Telemetry from %s not forwarded: %v", c.ID(), err)
	}
}
