package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wricardo/lens-relay/relay/session"
)

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// statsResponse mirrors GET /api/stats.
type statsResponse struct {
	session.Stats
	Connections int `json:"connections"`
}

// listResponse mirrors GET /api/sessions.
type listResponse struct {
	Count    int             `json:"count"`
	Total    int             `json:"total"`
	Sessions []*session.Info `json:"sessions"`
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Lens Relay",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`Lens Relay - MCP Interface

Read-only view of a relay that pairs AR glasses hosts with browser face trackers.

AVAILABLE TOOLS:
- relay_stats: Live session, host, web tracker and participant code counts
- list_sessions: Active sessions, most recently active first
- get_session: One session by its 6-character display code

Session keys are never exposed and no tool changes relay state.`),
	)

	c.registerTools()
}

func (c *Client) registerTools() {
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "relay_stats",
		Description: "Get live relay counts",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleStats)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_sessions",
		Description: "List active relay sessions",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"limit": map[string]interface{}{
					"type":        "number",
					"description": "Maximum number of sessions to return (optional)",
				},
			},
		},
	}, c.handleListSessions)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_session",
		Description: "Get details of a session by display code",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"display_code": map[string]interface{}{
					"type":        "string",
					"description": "6-character display code shown on the glasses",
				},
			},
			Required: []string{"display_code"},
		},
	}, c.handleGetSession)
}

// GetMCPServer returns the underlying MCP server
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// apiCall makes an HTTP call to the REST API
func (c *Client) apiCall(method, path string, body interface{}, result interface{}) error {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		if msg, ok := errResp["error"]; ok {
			return fmt.Errorf("%s", msg)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func arguments(request mcp.CallToolRequest) map[string]interface{} {
	args, _ := request.Params.Arguments.(map[string]interface{})
	if args == nil {
		return map[string]interface{}{}
	}
	return args
}

func (c *Client) handleStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var stats statsResponse
	if err := c.apiCall("GET", "/api/stats", nil, &stats); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatStats(&stats)), nil
}

func (c *Client) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := "/api/sessions"
	if limit, ok := arguments(request)["limit"].(float64); ok && limit > 0 {
		path += fmt.Sprintf("?limit=%d", int(limit))
	}

	var response listResponse
	if err := c.apiCall("GET", path, nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if len(response.Sessions) == 0 {
		return mcp.NewToolResultText("No active sessions"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Sessions (%d of %d):\n", response.Count, response.Total)
	for _, s := range response.Sessions {
		fmt.Fprintf(&b, "- %s: %d host(s), %d code(s), last activity %s\n",
			s.DisplayCode, len(s.Hosts), len(s.Codes), s.LastActivityAt.Format("2006-01-02 15:04:05"))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleGetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	displayCode, _ := arguments(request)["display_code"].(string)
	if displayCode == "" {
		return mcp.NewToolResultError("display_code is required"), nil
	}

	var info session.Info
	err := c.apiCall("GET", "/api/sessions/"+url.PathEscape(strings.ToUpper(displayCode)), nil, &info)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatSessionInfo(&info)), nil
}

func formatStats(stats *statsResponse) string {
	return fmt.Sprintf("Sessions: %d\nHosts: %d\nWeb trackers: %d\nParticipant codes: %d\nOpen connections: %d",
		stats.Sessions, stats.Hosts, stats.Webs, stats.Codes, stats.Connections)
}

func formatSessionInfo(info *session.Info) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\nHosts: %d\nCreated: %s\nLast activity: %s\n",
		info.DisplayCode, len(info.Hosts),
		info.CreatedAt.Format("2006-01-02 15:04:05"),
		info.LastActivityAt.Format("2006-01-02 15:04:05"))

	if len(info.Codes) == 0 {
		b.WriteString("\nNo participant codes registered")
		return b.String()
	}

	b.WriteString("\nParticipant codes:\n")
	for _, cd := range info.Codes {
		status := "waiting"
		if cd.Claimed {
			status = "connected"
		}
		name := cd.DisplayName
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(&b, "- %s (%s): %s\n", cd.FullCode, name, status)
	}
	return b.String()
}
