// Package session provides the session registry for the lens relay.
//
// The session package implements:
//   - Session creation keyed by a host-supplied session key
//   - Display code allocation through the code package
//   - Multiple host connections per session
//   - Participant slots (full codes) owned by a host connection
//   - At most one web claimant per slot
//   - Disconnect cascades and idle expiry
//
// Core Types:
//
// Manager is the registry. It is the only shared mutable structure in the
// relay and serializes every operation behind one mutex. Peer is the view of
// a live connection the registry needs: an id, a non-blocking Send, and Close.
// The transport owns the connection's I/O; the registry only tracks
// membership and sends notices.
//
// Notifications:
//
// Notices (web-connected, web-disconnected, session-ended) are queued with
// Peer.Send while the lock is held, so every host sees them in the order the
// registry changed. Send never blocks. Peers are closed after the lock is
// released.
//
// Usage:
//
//	manager := session.NewManager()
//
//	info, err := manager.CreateSession("abc", "h1", hostPeer)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	full, err := manager.RegisterParticipantCode("abc", "h1", "A", "Ana")
//	claim, err := manager.ClaimCode(full, webPeer)
//
//	// periodically
//	manager.SweepExpired(time.Now(), 2*time.Hour)
package session
