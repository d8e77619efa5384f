package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// protocolVersion is the handshake version advertised to the tool server.
const protocolVersion = "2024-11-05"

// toolCacheTTL bounds how long a fetched tool list is reused before the
// server is asked again.
const toolCacheTTL = 5 * time.Minute

// ToolDefinition describes one tool advertised by the server.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// CallResult is the outcome of one tool invocation.
type CallResult struct {
	Text    string
	IsError bool
}

// Client multiplexes concurrent callers onto one tool server process. The
// process is spawned lazily on first use and respawned transparently after
// it dies; callers never see the reconnect.
type Client struct {
	cfg    ServerConfig
	logger *zap.Logger

	// spawn is swappable so tests can inject a fake transport.
	spawn func(ServerConfig) (Transport, error)

	mu           sync.Mutex
	sess         *session
	tools        []ToolDefinition
	toolsFetched time.Time
}

func NewClient(cfg ServerConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		logger: logger,
		spawn:  spawnProcess,
	}
}

// ensureSession returns a live session, spawning and handshaking a new
// process when there is none or the previous one died.
func (c *Client) ensureSession(ctx context.Context) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != nil && c.sess.alive() {
		return c.sess, nil
	}

	transport, err := c.spawn(c.cfg)
	if err != nil {
		return nil, err
	}
	sess := newSession(transport, c.logger)

	// Handshake: initialize blocks for its response, then the initialized
	// notification completes the transition to ready.
	_, err = sess.request(ctx, "initialize", map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    "plotchat",
			"version": "dev",
		},
	}, c.cfg.requestTimeout())
	if err != nil {
		sess.close()
		return nil, fmt.Errorf("tool server handshake failed: %w", err)
	}
	if err := sess.notify("notifications/initialized", nil); err != nil {
		sess.close()
		return nil, fmt.Errorf("tool server handshake failed: %w", err)
	}

	c.logger.Debug("tool server session ready", zap.String("command", c.cfg.Command))
	c.sess = sess
	return sess, nil
}

// ListTools returns the server's tool definitions, reusing a cached list
// while it is fresh.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	c.mu.Lock()
	if c.tools != nil && time.Since(c.toolsFetched) < toolCacheTTL {
		tools := c.tools
		c.mu.Unlock()
		return tools, nil
	}
	c.mu.Unlock()

	sess, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}

	result, err := sess.request(ctx, "tools/list", map[string]interface{}{}, c.cfg.requestTimeout())
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Tools *[]ToolDefinition `json:"tools"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if parsed.Tools == nil {
		return nil, fmt.Errorf("%w: missing tools array", ErrInvalidResponse)
	}

	c.mu.Lock()
	c.tools = *parsed.Tools
	c.toolsFetched = time.Now()
	c.mu.Unlock()

	return *parsed.Tools, nil
}

// CallTool invokes a named tool. Text-typed content entries are joined with
// newlines; isError defaults to false when the server omits it.
func (c *Client) CallTool(ctx context.Context, name string, arguments json.RawMessage) (CallResult, error) {
	sess, err := c.ensureSession(ctx)
	if err != nil {
		return CallResult{}, err
	}

	if len(arguments) == 0 {
		arguments = json.RawMessage(`{}`)
	}
	result, err := sess.request(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": arguments,
	}, c.cfg.requestTimeout())
	if err != nil {
		return CallResult{}, err
	}

	var parsed struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return CallResult{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	var texts []string
	for _, entry := range parsed.Content {
		if entry.Type == "text" {
			texts = append(texts, entry.Text)
		}
	}

	return CallResult{
		Text:    strings.Join(texts, "\n"),
		IsError: parsed.IsError,
	}, nil
}

// Disconnect terminates the process and fails every pending request.
func (c *Client) Disconnect() {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.tools = nil
	c.toolsFetched = time.Time{}
	c.mu.Unlock()

	if sess != nil {
		sess.close()
	}
}
