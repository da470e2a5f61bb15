// Package websocket provides the WebSocket transport for the lens relay.
//
// The websocket package implements:
//   - One server endpoint accepting host and web connections
//   - A blocking receive loop and a single writer per connection
//   - Type-tagged message dispatch through a fixed handler table
//   - Connection classification (host or web), set once per connection
//   - Disconnect reconciliation against the session registry
//
// Architecture:
//
// A central Hub tracks every open connection. Each connection runs two
// goroutines: readPump reads a frame, dispatches it and repeats until the
// socket closes; writePump drains the connection's send queue and keeps the
// socket alive with pings. Nothing a handler does blocks on another
// connection's socket: outbound messages are queued without waiting.
//
// Message Protocol:
//
// Every frame is one JSON object with a "type" field, see package protocol.
// Unparseable frames and unknown types are logged and dropped; each handler
// validates its own fields.
//
// Connection Lifecycle:
//
// 1. Client connects to /ws
// 2. First handshake classifies it: session-request or join-request makes it
// a host, connect-request makes it a web tracker
// 3. Hosts register participant codes; web trackers stream telemetry
// 4. On close the connection is removed from its session; a sole host
// leaving ends the session for everyone
//
// Usage:
//
//	hub := websocket.NewHub(manager, router, m, websocket.Options{})
//	go hub.Run(ctx)
//
//	http.HandleFunc("/ws", hub.ServeWS)
package websocket
