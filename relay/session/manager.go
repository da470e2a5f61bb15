package session

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/wricardo/lens-relay/relay/code"
	"github.com/wricardo/lens-relay/relay/protocol"
)

var (
	ErrSessionNotFound       = errors.New("session not found")
	ErrDuplicateSessionKey   = errors.New("session key already in use")
	ErrHostNotFound          = errors.New("host connection not found")
	ErrInvalidCode           = errors.New("invalid code")
	ErrCodeAlreadyInUse      = errors.New("code already in use")
	ErrCodeAlreadyRegistered = errors.New("code registered to another host")
	ErrAlreadyClassified     = errors.New("connection already attached to a session")
	ErrAlreadyClaimed        = errors.New("connection already holds a code")
	ErrNotClassified         = errors.New("connection not attached to a session")
	ErrCodeMismatch          = errors.New("code does not belong to connection")
	ErrMissingField          = errors.New("missing required field")
)

type role int

const (
	roleHost role = iota + 1
	roleWeb
)

// connRef is the reverse index entry for one attached connection.
type connRef struct {
	sessionKey string
	role       role
	hostConnID string
	fullCode   string
}

// Generator allocates a display code not rejected by inUse.
type Generator func(inUse func(string) bool) (string, error)

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithGenerator replaces the display code generator.
func WithGenerator(g Generator) Option {
	return func(m *Manager) { m.generate = g }
}

// WithEndedHook registers fn to run once per torn-down session, outside the lock.
func WithEndedHook(fn func(reason string)) Option {
	return func(m *Manager) { m.onEnded = fn }
}

// Manager is the session registry.
type Manager struct {
	mu       sync.Mutex
	byKey    map[string]*Session
	byCode   map[string]*Session
	byConn   map[string]connRef
	now      func() time.Time
	generate Generator
	onEnded  func(reason string)
}

// NewManager creates an empty registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		byKey:    make(map[string]*Session),
		byCode:   make(map[string]*Session),
		byConn:   make(map[string]connRef),
		now:      time.Now,
		generate: code.Generate,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// notice is a message for a set of peers, optionally followed by a close.
type notice struct {
	peers []Peer
	msg   any
	close bool
}

// queueLocked sends every notice while m.mu is held, so peers see
// notifications in the same order the registry changed. Peer.Send never
// blocks. Callers hold m.mu.
func queueLocked(notices []notice) {
	for _, n := range notices {
		for _, p := range n.peers {
			p.Send(n.msg)
		}
	}
}

// closeNotified closes the peers of notices marked close. It runs after the
// lock is released; queued frames are flushed before the close frame.
func closeNotified(notices []notice) {
	for _, n := range notices {
		if !n.close {
			continue
		}
		for _, p := range n.peers {
			p.Close()
		}
	}
}

// CreateSession opens a session for sessionKey with peer as its first host.
// A key that already maps to a live session is rejected rather than reused,
// so a second device cannot silently take over someone else's session.
func (m *Manager) CreateSession(sessionKey, hostConnID string, peer Peer) (*Info, error) {
	if sessionKey == "" || hostConnID == "" {
		return nil, ErrMissingField
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byKey[sessionKey]; exists {
		return nil, ErrDuplicateSessionKey
	}
	if _, bound := m.byConn[peer.ID()]; bound {
		return nil, ErrAlreadyClassified
	}

	displayCode, err := m.generate(func(c string) bool {
		_, taken := m.byCode[c]
		return taken
	})
	if err != nil {
		return nil, fmt.Errorf("failed to allocate display code: %w", err)
	}

	sess := newSession(sessionKey, displayCode, m.now())
	sess.hosts[hostConnID] = peer
	m.byKey[sessionKey] = sess
	m.byCode[displayCode] = sess
	m.byConn[peer.ID()] = connRef{sessionKey: sessionKey, role: roleHost, hostConnID: hostConnID}

	log.Printf("Session %s created (host %s)", displayCode, hostConnID)
	return sess.info(), nil
}

// JoinAsHost attaches another host connection to an existing session. Joining
// with a host connection id that is already attached replaces the previous
// connection, which is closed.
func (m *Manager) JoinAsHost(sessionKey, hostConnID string, peer Peer) (*Info, error) {
	if sessionKey == "" || hostConnID == "" {
		return nil, ErrMissingField
	}

	m.mu.Lock()
	sess, exists := m.byKey[sessionKey]
	if !exists {
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if _, bound := m.byConn[peer.ID()]; bound {
		m.mu.Unlock()
		return nil, ErrAlreadyClassified
	}

	var replaced Peer
	if old, ok := sess.hosts[hostConnID]; ok && old.ID() != peer.ID() {
		replaced = old
		delete(m.byConn, old.ID())
	}
	sess.hosts[hostConnID] = peer
	sess.LastActivityAt = m.now()
	m.byConn[peer.ID()] = connRef{sessionKey: sessionKey, role: roleHost, hostConnID: hostConnID}
	info := sess.info()
	m.mu.Unlock()

	if replaced != nil {
		log.Printf("Session %s: host %s reconnected, closing previous connection", info.DisplayCode, hostConnID)
		replaced.Close()
	} else {
		log.Printf("Session %s: host %s joined (hosts: %d)", info.DisplayCode, hostConnID, len(info.Hosts))
	}
	return info, nil
}

// RegisterParticipantCode binds display code + suffix to hostConnID and
// returns the full code. Registering the same suffix again from the same host
// only updates the display name.
func (m *Manager) RegisterParticipantCode(sessionKey, hostConnID, suffix, displayName string) (string, error) {
	suffix = code.Normalize(suffix)
	if !code.ValidSuffix(suffix) {
		return "", fmt.Errorf("%w: suffix %q", ErrInvalidCode, suffix)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sess, exists := m.byKey[sessionKey]
	if !exists {
		return "", ErrSessionNotFound
	}
	if _, ok := sess.hosts[hostConnID]; !ok {
		return "", ErrHostNotFound
	}

	fullCode := code.Join(sess.DisplayCode, suffix)
	if sl, ok := sess.slots[fullCode]; ok {
		if sl.hostConnID != hostConnID {
			return "", ErrCodeAlreadyRegistered
		}
		sl.displayName = displayName
	} else {
		sess.slots[fullCode] = &slot{
			fullCode:    fullCode,
			suffix:      suffix,
			displayName: displayName,
			hostConnID:  hostConnID,
		}
	}
	sess.LastActivityAt = m.now()
	return fullCode, nil
}

// ClaimCode attaches a web connection to a registered, unclaimed full code.
// Every host connection of the session is told about the new participant.
func (m *Manager) ClaimCode(fullCode string, peer Peer) (*Claim, error) {
	fullCode = code.Normalize(fullCode)
	displayCode, _, ok := code.Split(fullCode)
	if !ok {
		return nil, ErrInvalidCode
	}

	m.mu.Lock()
	sess, exists := m.byCode[displayCode]
	if !exists {
		m.mu.Unlock()
		return nil, ErrInvalidCode
	}
	sl, registered := sess.slots[fullCode]
	if !registered {
		m.mu.Unlock()
		return nil, ErrInvalidCode
	}
	if sl.web != nil {
		m.mu.Unlock()
		return nil, ErrCodeAlreadyInUse
	}
	if ref, bound := m.byConn[peer.ID()]; bound {
		m.mu.Unlock()
		if ref.role == roleWeb {
			return nil, ErrAlreadyClaimed
		}
		return nil, ErrAlreadyClassified
	}

	sl.web = peer
	sess.LastActivityAt = m.now()
	m.byConn[peer.ID()] = connRef{sessionKey: sess.Key, role: roleWeb, fullCode: fullCode}
	claim := &Claim{Session: sess.info(), FullCode: fullCode, DisplayName: sl.displayName}
	queueLocked([]notice{{peers: sess.hostPeers(), msg: protocol.NewWebConnected(fullCode, claim.DisplayName)}})
	m.mu.Unlock()

	log.Printf("Session %s: web connected on %s", displayCode, fullCode)
	return claim, nil
}

// LookupByConnection returns the session a connection is attached to.
func (m *Manager) LookupByConnection(connID string) (*Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref, ok := m.byConn[connID]
	if !ok {
		return nil, false
	}
	sess, ok := m.byKey[ref.sessionKey]
	if !ok {
		return nil, false
	}
	return sess.info(), true
}

// RemoveHost detaches one host connection. When it was the last host the
// whole session is torn down: every web participant receives session-ended
// and is closed, and the display code is released. peerID guards against a
// stale close removing a connection that has since replaced it; pass "" to
// skip the check.
func (m *Manager) RemoveHost(sessionKey, hostConnID, peerID string) bool {
	m.mu.Lock()
	sess, exists := m.byKey[sessionKey]
	if !exists {
		m.mu.Unlock()
		return false
	}
	peer, ok := sess.hosts[hostConnID]
	if !ok || (peerID != "" && peer.ID() != peerID) {
		m.mu.Unlock()
		return false
	}

	delete(sess.hosts, hostConnID)
	delete(m.byConn, peer.ID())

	if len(sess.hosts) > 0 {
		remaining := len(sess.hosts)
		m.mu.Unlock()
		log.Printf("Session %s: host %s left (remaining hosts: %d)", sess.DisplayCode, hostConnID, remaining)
		return true
	}

	webs := m.teardownLocked(sess)
	notices := []notice{{peers: webs, msg: protocol.NewSessionEnded(protocol.ReasonHostDisconnected), close: true}}
	queueLocked(notices)
	m.mu.Unlock()

	log.Printf("Session %s ended: sole host %s disconnected, evicting %d web connections",
		sess.DisplayCode, hostConnID, len(webs))
	closeNotified(notices)
	m.ended(protocol.ReasonHostDisconnected, 1)
	return true
}

// RemoveWeb releases the claim on fullCode held by peerID. The slot stays
// registered and can be claimed again. Remaining hosts receive
// web-disconnected.
func (m *Manager) RemoveWeb(fullCode, peerID string) bool {
	displayCode, _, ok := code.Split(fullCode)
	if !ok {
		return false
	}

	m.mu.Lock()
	sess, exists := m.byCode[displayCode]
	if !exists {
		m.mu.Unlock()
		return false
	}
	sl, registered := sess.slots[fullCode]
	if !registered || sl.web == nil || (peerID != "" && sl.web.ID() != peerID) {
		m.mu.Unlock()
		return false
	}

	delete(m.byConn, sl.web.ID())
	sl.web = nil
	queueLocked([]notice{{peers: sess.hostPeers(), msg: protocol.NewWebDisconnected(fullCode)}})
	m.mu.Unlock()

	log.Printf("Session %s: web disconnected from %s", displayCode, fullCode)
	return true
}

// Recipients returns the telemetry fan-out set for a message from senderID
// about fullCode: every attached connection except the sender. A web sender
// may only speak for the code it claimed; a host sender only for codes
// registered in its own session. A successful lookup counts as activity.
func (m *Manager) Recipients(senderID, fullCode string) ([]Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref, ok := m.byConn[senderID]
	if !ok {
		return nil, ErrNotClassified
	}
	sess, ok := m.byKey[ref.sessionKey]
	if !ok {
		return nil, ErrSessionNotFound
	}

	switch ref.role {
	case roleWeb:
		if fullCode != ref.fullCode {
			return nil, ErrCodeMismatch
		}
	case roleHost:
		if _, registered := sess.slots[fullCode]; !registered {
			return nil, ErrInvalidCode
		}
	}

	sess.LastActivityAt = m.now()
	return sess.peers(senderID), nil
}

// SweepExpired tears down every session idle for longer than maxIdle as of
// now. Every participant receives session-ended and is closed.
func (m *Manager) SweepExpired(now time.Time, maxIdle time.Duration) int {
	m.mu.Lock()
	var notices []notice
	var expired []string
	for _, sess := range m.byKey {
		if now.Sub(sess.LastActivityAt) <= maxIdle {
			continue
		}
		expired = append(expired, sess.DisplayCode)
		peers := append(sess.hostPeers(), m.teardownLocked(sess)...)
		notices = append(notices, notice{peers: peers, msg: protocol.NewSessionEnded(protocol.ReasonExpired), close: true})
	}
	queueLocked(notices)
	m.mu.Unlock()

	for _, c := range expired {
		log.Printf("Session %s expired after %s idle", c, maxIdle)
	}
	closeNotified(notices)
	m.ended(protocol.ReasonExpired, len(expired))
	return len(expired)
}

// CloseAll tears down every session with the given reason.
func (m *Manager) CloseAll(reason string) int {
	m.mu.Lock()
	var notices []notice
	for _, sess := range m.byKey {
		peers := append(sess.hostPeers(), m.teardownLocked(sess)...)
		notices = append(notices, notice{peers: peers, msg: protocol.NewSessionEnded(reason), close: true})
	}
	queueLocked(notices)
	m.mu.Unlock()

	closeNotified(notices)
	m.ended(reason, len(notices))
	return len(notices)
}

// teardownLocked removes sess and every reverse index entry pointing into it,
// returning the web peers that were attached. Callers hold m.mu.
func (m *Manager) teardownLocked(sess *Session) []Peer {
	webs := sess.webPeers()
	for _, p := range sess.hosts {
		delete(m.byConn, p.ID())
	}
	for _, p := range webs {
		delete(m.byConn, p.ID())
	}
	delete(m.byKey, sess.Key)
	delete(m.byCode, sess.DisplayCode)
	return webs
}

func (m *Manager) ended(reason string, n int) {
	if m.onEnded == nil {
		return
	}
	for i := 0; i < n; i++ {
		m.onEnded(reason)
	}
}

// Get returns a session by display code.
func (m *Manager) Get(displayCode string) (*Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.byCode[code.Normalize(displayCode)]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.info(), nil
}

// List returns all live sessions.
func (m *Manager) List() []*Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]*Info, 0, len(m.byKey))
	for _, sess := range m.byKey {
		result = append(result, sess.info())
	}
	return result
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byKey)
}

// Stats counts live sessions, attached connections and registered codes.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Stats{Sessions: len(m.byKey)}
	for _, sess := range m.byKey {
		st.Hosts += len(sess.hosts)
		st.Codes += len(sess.slots)
	}
	for _, ref := range m.byConn {
		if ref.role == roleWeb {
			st.Webs++
		}
	}
	return st
}
