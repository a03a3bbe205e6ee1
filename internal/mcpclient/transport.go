package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	mcpgo "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/steveyegge/gobby/internal/store"
)

// Tool is the manager's transport-agnostic view of a server's advertised
// tool, independent of which SDK type produced it.
type Tool struct {
	Name            string
	Description     string
	InputSchemaJSON string
}

// ToolResult is the transport-agnostic view of a tool call's outcome.
type ToolResult struct {
	ContentJSON string
	IsError     bool
}

// ResourceContent is the transport-agnostic view of a read_resource result.
type ResourceContent struct {
	URI      string
	MIMEType string
	Text     string
	Blob     []byte
}

// transport is the narrow surface the manager drives; stdio and http are
// backed by mark3labs/mcp-go's own client, websocket by a small adapter
// below that speaks the same JSON-RPC 2.0 MCP wire protocol directly
// (mcp-go ships no websocket client, so this is not a drop-in
// implementation of its internal transport interface, just the same
// four operations).
type transport interface {
	Connect(ctx context.Context) error
	ListTools(ctx context.Context) ([]Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error)
	ReadResource(ctx context.Context, uri string) (*ResourceContent, error)
	Close() error
}

func newTransport(cfg store.MCPServerConfig) (transport, error) {
	switch cfg.Transport {
	case store.TransportStdio:
		return &mcpGoTransport{cfg: cfg, kind: store.TransportStdio}, nil
	case store.TransportHTTP:
		return &mcpGoTransport{cfg: cfg, kind: store.TransportHTTP}, nil
	case store.TransportWebSocket:
		return &wsTransport{cfg: cfg}, nil
	default:
		return nil, &MCPError{Message: fmt.Sprintf("unknown transport %q for server %q", cfg.Transport, cfg.Name)}
	}
}

// mcpGoTransport wraps mark3labs/mcp-go's client for the stdio and
// streamable-HTTP transports, which it implements natively.
type mcpGoTransport struct {
	cfg  store.MCPServerConfig
	kind string

	mu     sync.Mutex
	client *mcpgo.Client
}

func (t *mcpGoTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var c *mcpgo.Client
	var err error
	switch t.kind {
	case store.TransportStdio:
		env := make([]string, 0, len(t.cfg.Env))
		for k, v := range t.cfg.Env {
			env = append(env, k+"="+v)
		}
		c, err = mcpgo.NewStdioMCPClient(t.cfg.Command, env, t.cfg.Args...)
	case store.TransportHTTP:
		var opts []mcpgo.StreamableHTTPCOption
		if len(t.cfg.Headers) > 0 {
			opts = append(opts, mcpgo.WithHTTPHeaders(t.cfg.Headers))
		}
		c, err = mcpgo.NewStreamableHttpClient(t.cfg.URL, opts...)
	}
	if err != nil {
		return &TransportError{Server: t.cfg.Name, Operation: "connect", Err: err}
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "gobby", Version: "0.1.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return &TransportError{Server: t.cfg.Name, Operation: "initialize", Err: err}
	}

	t.client = c
	return nil
}

func (t *mcpGoTransport) ListTools(ctx context.Context) ([]Tool, error) {
	t.mu.Lock()
	c := t.client
	t.mu.Unlock()
	if c == nil {
		return nil, &TransportError{Server: t.cfg.Name, Operation: "list_tools", Err: fmt.Errorf("not connected")}
	}
	res, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, &TransportError{Server: t.cfg.Name, Operation: "list_tools", Err: err}
	}
	out := make([]Tool, 0, len(res.Tools))
	for _, tl := range res.Tools {
		schema, _ := json.Marshal(tl.InputSchema)
		out = append(out, Tool{Name: tl.Name, Description: tl.Description, InputSchemaJSON: string(schema)})
	}
	return out, nil
}

func (t *mcpGoTransport) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	t.mu.Lock()
	c := t.client
	t.mu.Unlock()
	if c == nil {
		return nil, &TransportError{Server: t.cfg.Name, Operation: "call_tool", Err: fmt.Errorf("not connected")}
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := c.CallTool(ctx, req)
	if err != nil {
		return nil, &TransportError{Server: t.cfg.Name, Operation: "call_tool", Err: err}
	}
	content, _ := json.Marshal(res.Content)
	return &ToolResult{ContentJSON: string(content), IsError: res.IsError}, nil
}

func (t *mcpGoTransport) ReadResource(ctx context.Context, uri string) (*ResourceContent, error) {
	t.mu.Lock()
	c := t.client
	t.mu.Unlock()
	if c == nil {
		return nil, &TransportError{Server: t.cfg.Name, Operation: "read_resource", Err: fmt.Errorf("not connected")}
	}
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	res, err := c.ReadResource(ctx, req)
	if err != nil {
		return nil, &TransportError{Server: t.cfg.Name, Operation: "read_resource", Err: err}
	}
	out := &ResourceContent{URI: uri}
	for _, c := range res.Contents {
		if tc, ok := c.(mcp.TextResourceContents); ok {
			out.MIMEType = tc.MIMEType
			out.Text += tc.Text
		}
		if bc, ok := c.(mcp.BlobResourceContents); ok {
			out.MIMEType = bc.MIMEType
			out.Blob = append(out.Blob, []byte(bc.Blob)...)
		}
	}
	return out, nil
}

func (t *mcpGoTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}

// wsTransport speaks JSON-RPC 2.0 MCP directly over a gorilla/websocket
// connection, since mcp-go ships no websocket client of its own.
type wsTransport struct {
	cfg store.MCPServerConfig

	mu      sync.Mutex
	conn    *websocket.Conn
	nextID  int64
	pending map[int64]chan rpcResponse
	readErr error
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (t *wsTransport) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := make(map[string][]string, len(t.cfg.Headers))
	for k, v := range t.cfg.Headers {
		header[k] = []string{v}
	}
	conn, _, err := dialer.DialContext(ctx, t.cfg.URL, header)
	if err != nil {
		return &TransportError{Server: t.cfg.Name, Operation: "connect", Err: err}
	}

	t.mu.Lock()
	t.conn = conn
	t.pending = make(map[int64]chan rpcResponse)
	t.mu.Unlock()

	go t.readLoop()

	if _, err := t.call(ctx, "initialize", map[string]any{
		"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
		"clientInfo":      map[string]string{"name": "gobby", "version": "0.1.0"},
	}); err != nil {
		_ = t.Close()
		return &TransportError{Server: t.cfg.Name, Operation: "initialize", Err: err}
	}
	return nil
}

func (t *wsTransport) readLoop() {
	for {
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn == nil {
			return
		}
		var resp rpcResponse
		if err := conn.ReadJSON(&resp); err != nil {
			t.mu.Lock()
			t.readErr = err
			for _, ch := range t.pending {
				close(ch)
			}
			t.pending = map[int64]chan rpcResponse{}
			t.mu.Unlock()
			return
		}
		t.mu.Lock()
		ch, ok := t.pending[resp.ID]
		delete(t.pending, resp.ID)
		t.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (t *wsTransport) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := atomic.AddInt64(&t.nextID, 1)
	ch := make(chan rpcResponse, 1)

	t.mu.Lock()
	conn := t.conn
	if conn == nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("not connected")
	}
	t.pending[id] = ch
	t.mu.Unlock()

	if err := conn.WriteJSON(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("connection closed waiting for %s response", method)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("%s: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *wsTransport) ListTools(ctx context.Context) ([]Tool, error) {
	raw, err := t.call(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, &TransportError{Server: t.cfg.Name, Operation: "list_tools", Err: err}
	}
	var parsed struct {
		Tools []struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			InputSchema json.RawMessage `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &TransportError{Server: t.cfg.Name, Operation: "list_tools", Err: err}
	}
	out := make([]Tool, 0, len(parsed.Tools))
	for _, tl := range parsed.Tools {
		out = append(out, Tool{Name: tl.Name, Description: tl.Description, InputSchemaJSON: string(tl.InputSchema)})
	}
	return out, nil
}

func (t *wsTransport) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	raw, err := t.call(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return nil, &TransportError{Server: t.cfg.Name, Operation: "call_tool", Err: err}
	}
	var parsed struct {
		Content json.RawMessage `json:"content"`
		IsError bool            `json:"isError"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &TransportError{Server: t.cfg.Name, Operation: "call_tool", Err: err}
	}
	return &ToolResult{ContentJSON: string(parsed.Content), IsError: parsed.IsError}, nil
}

func (t *wsTransport) ReadResource(ctx context.Context, uri string) (*ResourceContent, error) {
	raw, err := t.call(ctx, "resources/read", map[string]any{"uri": uri})
	if err != nil {
		return nil, &TransportError{Server: t.cfg.Name, Operation: "read_resource", Err: err}
	}
	var parsed struct {
		Contents []struct {
			URI      string `json:"uri"`
			MIMEType string `json:"mimeType"`
			Text     string `json:"text"`
			Blob     string `json:"blob"`
		} `json:"contents"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &TransportError{Server: t.cfg.Name, Operation: "read_resource", Err: err}
	}
	out := &ResourceContent{URI: uri}
	for _, c := range parsed.Contents {
		out.MIMEType = c.MIMEType
		out.Text += c.Text
		out.Blob = append(out.Blob, []byte(c.Blob)...)
	}
	return out, nil
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}
