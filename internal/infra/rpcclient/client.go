package rpcclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"go.uber.org/zap"

	"mcpreg/internal/domain"
	"mcpreg/internal/infra/telemetry"
)

const (
	// DefaultCallTimeout bounds a single request/response exchange.
	DefaultCallTimeout = 30 * time.Second
	// maxLineBytes caps one newline-delimited message from the child.
	maxLineBytes = 1 << 20
	// closeGrace is how long Close waits for a voluntary exit after the
	// stdin stream is closed, before killing the child.
	closeGrace = 2 * time.Second
)

// Options configures a Client.
type Options struct {
	Logger      *zap.Logger
	CallTimeout time.Duration
	// ClientVersion is reported in the initialize handshake.
	ClientVersion string
	// OnNotification receives child-originated notifications by method name.
	OnNotification func(method string)
}

type callResult struct {
	resp *jsonrpc.Response
	err  error
}

// Client speaks newline-delimited JSON-RPC 2.0 over a child's stdio. One
// reader goroutine correlates responses to pending calls by id, so calls may
// be issued concurrently and answered out of order.
type Client struct {
	handle      domain.Handle
	logger      *zap.Logger
	callTimeout time.Duration
	version     string
	onNotify    func(method string)

	seq atomic.Int64

	// writeMu serializes writers on the child's stdin.
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan callResult

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// New wraps the handle's stdio in a JSON-RPC session and starts the reader.
// The client borrows the streams; handle ownership stays with the caller.
func New(handle domain.Handle, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	version := opts.ClientVersion
	if version == "" {
		version = "dev"
	}
	c := &Client{
		handle:      handle,
		logger:      logger.Named("rpc_client").With(telemetry.HandleIDField(handle.Info().ID)),
		callTimeout: timeout,
		version:     version,
		onNotify:    opts.OnNotification,
		pending:     make(map[string]chan callResult),
		closed:      make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// readLoop drains the child's stdout line by line. Responses are matched to
// pending calls; requests without an id are notifications; requests with an
// id get a method-not-found reply since this client exposes no server
// methods. Undecodable lines are logged and skipped.
func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.handle.Stdout())
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := jsonrpc.DecodeMessage(line)
		if err != nil {
			c.logger.Warn("skipping undecodable message", zap.Error(err))
			continue
		}
		switch typed := msg.(type) {
		case *jsonrpc.Response:
			c.dispatchResponse(typed)
		case *jsonrpc.Request:
			if typed.ID.IsValid() {
				c.rejectServerCall(typed)
				continue
			}
			c.handleNotification(typed)
		}
	}
	if err := scanner.Err(); err != nil {
		c.logger.Debug("child stdout closed", zap.Error(err))
	}
	c.failPending(domain.ErrConnectionClosed)
}

func (c *Client) dispatchResponse(resp *jsonrpc.Response) {
	key, err := idKey(resp.ID)
	if err != nil {
		c.logger.Debug("drop response with invalid id", zap.Error(err))
		return
	}
	c.mu.Lock()
	ch := c.pending[key]
	delete(c.pending, key)
	c.mu.Unlock()
	if ch == nil {
		// Late answer to a call that already timed out.
		c.logger.Debug("drop response with no pending call", zap.String("id", key))
		return
	}
	ch <- callResult{resp: resp}
}

func (c *Client) handleNotification(req *jsonrpc.Request) {
	c.logger.Debug("child notification", zap.String("method", req.Method))
	if c.onNotify != nil {
		c.onNotify(req.Method)
	}
}

func (c *Client) rejectServerCall(req *jsonrpc.Request) {
	resp := &jsonrpc.Response{ID: req.ID, Error: &jsonrpc.Error{
		Code:    domain.CodeMethodNotFound,
		Message: "method not found",
	}}
	if err := c.writeMessage(resp); err != nil {
		c.logger.Debug("reject server call failed", zap.String("method", req.Method), zap.Error(err))
	}
}

// failPending answers every in-flight call with err and stops accepting new
// ones.
func (c *Client) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, ch := range pending {
		ch <- callResult{err: err}
	}
}

func (c *Client) writeMessage(msg jsonrpc.Message) error {
	wire, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.handle.Stdin().Write(append(wire, '\n')); err != nil {
		return fmt.Errorf("%w: write: %v", domain.ErrConnectionClosed, err)
	}
	return nil
}

// call performs one request/response exchange bounded by the call timeout.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", method, err)
	}
	id, err := jsonrpc.MakeID(float64(c.seq.Add(1)))
	if err != nil {
		return nil, fmt.Errorf("make %s id: %w", method, err)
	}
	key, err := idKey(id)
	if err != nil {
		return nil, err
	}

	resultCh := make(chan callResult, 1)
	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return nil, domain.ErrConnectionClosed
	}
	c.pending[key] = resultCh
	c.mu.Unlock()

	req := &jsonrpc.Request{ID: id, Method: method, Params: rawParams}
	if err := c.writeMessage(req); err != nil {
		c.removePending(key)
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	select {
	case result := <-resultCh:
		if result.err != nil {
			return nil, result.err
		}
		if result.resp.Error != nil {
			return nil, remoteError(method, result.resp.Error)
		}
		return result.resp.Result, nil
	case <-callCtx.Done():
		c.removePending(key)
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			c.logger.Warn("call timed out",
				telemetry.EventField(telemetry.EventRPCTimeout),
				zap.String("method", method),
				telemetry.DurationField(c.callTimeout),
			)
			return nil, fmt.Errorf("%w: %s after %s", domain.ErrRPCTimeout, method, c.callTimeout)
		}
		return nil, callCtx.Err()
	}
}

// notify sends a fire-and-forget notification (a request without an id).
func (c *Client) notify(method string, params any) error {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal %s params: %w", method, err)
	}
	return c.writeMessage(&jsonrpc.Request{Method: method, Params: rawParams})
}

func (c *Client) removePending(key string) {
	c.mu.Lock()
	if c.pending != nil {
		delete(c.pending, key)
	}
	c.mu.Unlock()
}

// remoteError surfaces a child's JSON-RPC error object verbatim.
func remoteError(method string, err error) error {
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return &domain.RemoteError{Code: rpcErr.Code, Message: rpcErr.Message, Method: method}
	}
	return fmt.Errorf("%s: %w", method, err)
}

// Initialize performs the MCP handshake and acknowledges it with the
// initialized notification.
func (c *Client) Initialize(ctx context.Context) (domain.InitializeResult, error) {
	params := domain.InitializeParams{
		ProtocolVersion: domain.ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo: domain.ClientInfo{
			Name:    domain.ClientName,
			Version: c.version,
		},
	}
	raw, err := c.call(ctx, domain.MethodInitialize, params)
	if err != nil {
		return domain.InitializeResult{}, fmt.Errorf("%w: %v", domain.ErrHandshakeFailed, err)
	}
	var result domain.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return domain.InitializeResult{}, fmt.Errorf("%w: decode result: %v", domain.ErrHandshakeFailed, err)
	}
	if err := c.notify(domain.NotificationInitialized, map[string]any{}); err != nil {
		return domain.InitializeResult{}, fmt.Errorf("%w: %v", domain.ErrHandshakeFailed, err)
	}
	c.logger.Debug("handshake complete",
		zap.String("server", result.ServerInfo.Name),
		zap.String("protocol_version", result.ProtocolVersion),
	)
	return result, nil
}

// ListTools fetches the child's tool list. A child that does not implement
// tools/list simply has no tools.
func (c *Client) ListTools(ctx context.Context) ([]domain.RemoteTool, error) {
	raw, err := c.call(ctx, domain.MethodToolsList, map[string]any{})
	if err != nil {
		if domain.IsMethodNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var result struct {
		Tools []domain.RemoteTool `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode tools/list result: %w", err)
	}
	return result.Tools, nil
}

// ListResources fetches the child's resource list, treating an unimplemented
// method as an empty capability.
func (c *Client) ListResources(ctx context.Context) ([]domain.RemoteResource, error) {
	raw, err := c.call(ctx, domain.MethodResourcesList, map[string]any{})
	if err != nil {
		if domain.IsMethodNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var result struct {
		Resources []domain.RemoteResource `json:"resources"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode resources/list result: %w", err)
	}
	return result.Resources, nil
}

// ListPrompts fetches the child's prompt list, treating an unimplemented
// method as an empty capability.
func (c *Client) ListPrompts(ctx context.Context) ([]domain.RemotePrompt, error) {
	raw, err := c.call(ctx, domain.MethodPromptsList, map[string]any{})
	if err != nil {
		if domain.IsMethodNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var result struct {
		Prompts []domain.RemotePrompt `json:"prompts"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode prompts/list result: %w", err)
	}
	return result.Prompts, nil
}

// CallTool invokes one remote tool and returns its content blocks untouched.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) ([]domain.ContentBlock, error) {
	if args == nil {
		args = map[string]any{}
	}
	params := map[string]any{"name": name, "arguments": args}
	raw, err := c.call(ctx, domain.MethodToolsCall, params)
	if err != nil {
		return nil, err
	}
	var result struct {
		Content []domain.ContentBlock `json:"content"`
		IsError bool                  `json:"isError"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode tools/call result: %w", err)
	}
	if result.IsError {
		return result.Content, fmt.Errorf("%w: %s: %s", domain.ErrToolCallFailed, name, domain.FlattenContent(result.Content))
	}
	return result.Content, nil
}

// Close tears the session down: in-flight calls fail, stdin is closed so a
// well-behaved child exits, and a child that lingers past the grace period
// is killed. Safe to call repeatedly.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.failPending(domain.ErrConnectionClosed)
		if err := c.handle.Stdin().Close(); err != nil {
			c.logger.Debug("close stdin", zap.Error(err))
		}
		waitCtx, cancel := context.WithTimeout(context.Background(), closeGrace)
		defer cancel()
		if err := c.handle.Wait(waitCtx); err != nil {
			c.closeErr = c.handle.Kill()
		}
	})
	return c.closeErr
}

// idKey maps a JSON-RPC id onto a map key, distinguishing string ids from
// numeric ones.
func idKey(id jsonrpc.ID) (string, error) {
	if !id.IsValid() {
		return "", errors.New("missing request id")
	}
	raw := id.Raw()
	switch typed := raw.(type) {
	case string:
		return "s:" + typed, nil
	case float64:
		return fmt.Sprintf("n:%v", typed), nil
	case int:
		return fmt.Sprintf("n:%v", typed), nil
	case int64:
		return fmt.Sprintf("n:%v", typed), nil
	case json.Number:
		return "n:" + typed.String(), nil
	default:
		return "", fmt.Errorf("unsupported id type %T", raw)
	}
}

var _ domain.RPCClient = (*Client)(nil)
