// Package mcp exposes the relay's read-only inspection surface over the Model
// Context Protocol.
//
// The client is a thin proxy: every tool call becomes a GET against the
// relay's REST API and the JSON answer is rendered as text.
//
// MCP Tools:
//   - relay_stats: live counts of sessions, hosts, web trackers and codes
//   - list_sessions: active sessions sorted by last activity
//   - get_session: one session with its participant codes
//
// Transport Modes:
//   - Stdio: Direct stdio communication for local MCP clients
//   - HTTP: the /mcp endpoint mounted next to the REST API
//
// None of the tools can create, modify or end a session.
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:8080")
//	server.ServeStdio(client.GetMCPServer())
package mcp
