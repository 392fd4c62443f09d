package rpcclient

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mcpreg/internal/domain"
)

// fakeHandle wires a client to an in-process fake child over pipes.
type fakeHandle struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter

	mu     sync.Mutex
	killed bool
}

func newFakeHandle() *fakeHandle {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	return &fakeHandle{stdinR: stdinR, stdinW: stdinW, stdoutR: stdoutR, stdoutW: stdoutW}
}

func (h *fakeHandle) Info() domain.HandleInfo {
	return domain.HandleInfo{ID: "fake-handle", Kind: domain.HandleProcess}
}
func (h *fakeHandle) Stdin() io.WriteCloser        { return h.stdinW }
func (h *fakeHandle) Stdout() io.Reader            { return h.stdoutR }
func (h *fakeHandle) Stderr() io.Reader            { return strings.NewReader("") }
func (h *fakeHandle) Wait(context.Context) error   { return nil }
func (h *fakeHandle) Terminate(context.Context) error {
	return h.Kill()
}
func (h *fakeHandle) Kill() error {
	h.mu.Lock()
	h.killed = true
	h.mu.Unlock()
	_ = h.stdinR.Close()
	_ = h.stdoutW.Close()
	return nil
}

// readRequests decodes client-to-child messages into a channel.
func (h *fakeHandle) readRequests(t *testing.T) <-chan *jsonrpc.Request {
	t.Helper()
	out := make(chan *jsonrpc.Request, 16)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(h.stdinR)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			msg, err := jsonrpc.DecodeMessage(line)
			if err != nil {
				continue
			}
			if req, ok := msg.(*jsonrpc.Request); ok {
				out <- req
			}
		}
	}()
	return out
}

func (h *fakeHandle) writeLine(t *testing.T, line string) {
	t.Helper()
	_, err := h.stdoutW.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func (h *fakeHandle) writeResponse(t *testing.T, resp *jsonrpc.Response) {
	t.Helper()
	wire, err := jsonrpc.EncodeMessage(resp)
	require.NoError(t, err)
	h.writeLine(t, string(wire))
}

func resultResponse(t *testing.T, id jsonrpc.ID, result any) *jsonrpc.Response {
	t.Helper()
	raw, err := json.Marshal(result)
	require.NoError(t, err)
	return &jsonrpc.Response{ID: id, Result: raw}
}

// answer replies to each incoming id-carrying request using fn.
func answer(t *testing.T, h *fakeHandle, fn func(req *jsonrpc.Request) *jsonrpc.Response) {
	t.Helper()
	requests := h.readRequests(t)
	go func() {
		for req := range requests {
			if !req.ID.IsValid() {
				continue
			}
			if resp := fn(req); resp != nil {
				wire, err := jsonrpc.EncodeMessage(resp)
				if err != nil {
					continue
				}
				_, _ = h.stdoutW.Write(append(wire, '\n'))
			}
		}
	}()
}

func newTestClient(t *testing.T, h *fakeHandle, timeout time.Duration) *Client {
	t.Helper()
	client := New(h, Options{Logger: zap.NewNop(), CallTimeout: timeout, ClientVersion: "test"})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestInitializeHandshake(t *testing.T) {
	h := newFakeHandle()
	requests := h.readRequests(t)

	client := newTestClient(t, h, time.Second)

	go func() {
		req := <-requests
		require.Equal(t, domain.MethodInitialize, req.Method)

		var params domain.InitializeParams
		require.NoError(t, json.Unmarshal(req.Params, &params))
		assert.Equal(t, domain.ProtocolVersion, params.ProtocolVersion)
		assert.Equal(t, domain.ClientName, params.ClientInfo.Name)

		h.writeResponse(t, resultResponse(t, req.ID, domain.InitializeResult{
			ProtocolVersion: domain.ProtocolVersion,
			ServerInfo:      domain.ServerInfo{Name: "fake-server", Version: "1.0"},
		}))
	}()

	result, err := client.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fake-server", result.ServerInfo.Name)

	// The handshake is acknowledged with the initialized notification.
	select {
	case req := <-requests:
		assert.Equal(t, domain.NotificationInitialized, req.Method)
		assert.False(t, req.ID.IsValid())
	case <-time.After(2 * time.Second):
		t.Fatal("initialized notification never sent")
	}
}

func TestConcurrentCallsAnsweredOutOfOrder(t *testing.T) {
	h := newFakeHandle()
	requests := h.readRequests(t)
	client := newTestClient(t, h, 2*time.Second)
	ctx := context.Background()

	type outcome struct {
		tools []domain.RemoteTool
		err   error
	}
	first := make(chan outcome, 1)
	second := make(chan outcome, 1)
	go func() {
		tools, err := client.ListTools(ctx)
		first <- outcome{tools, err}
	}()
	go func() {
		tools, err := client.ListTools(ctx)
		second <- outcome{tools, err}
	}()

	reqA := <-requests
	reqB := <-requests

	// Answer in reverse arrival order; correlation is by id, not position.
	h.writeResponse(t, resultResponse(t, reqB.ID, map[string]any{
		"tools": []domain.RemoteTool{{Name: "beta"}},
	}))
	h.writeResponse(t, resultResponse(t, reqA.ID, map[string]any{
		"tools": []domain.RemoteTool{{Name: "alpha"}},
	}))

	for _, ch := range []chan outcome{first, second} {
		select {
		case got := <-ch:
			require.NoError(t, got.err)
			require.Len(t, got.tools, 1)
		case <-time.After(2 * time.Second):
			t.Fatal("call never completed")
		}
	}
}

func TestListMethodNotFoundMeansEmpty(t *testing.T) {
	h := newFakeHandle()
	answer(t, h, func(req *jsonrpc.Request) *jsonrpc.Response {
		return &jsonrpc.Response{ID: req.ID, Error: &jsonrpc.Error{
			Code:    domain.CodeMethodNotFound,
			Message: "method not found",
		}}
	})
	client := newTestClient(t, h, time.Second)

	resources, err := client.ListResources(context.Background())
	require.NoError(t, err)
	assert.Empty(t, resources)

	prompts, err := client.ListPrompts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, prompts)
}

func TestCallToolRemoteError(t *testing.T) {
	h := newFakeHandle()
	answer(t, h, func(req *jsonrpc.Request) *jsonrpc.Response {
		return &jsonrpc.Response{ID: req.ID, Error: &jsonrpc.Error{
			Code:    -32000,
			Message: "table does not exist",
		}}
	})
	client := newTestClient(t, h, time.Second)

	_, err := client.CallTool(context.Background(), "query", map[string]any{"sql": "select 1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrToolCallFailed)

	var remote *domain.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, int64(-32000), remote.Code)
	assert.Contains(t, remote.Message, "table does not exist")
}

func TestCallToolContentPassthrough(t *testing.T) {
	h := newFakeHandle()
	answer(t, h, func(req *jsonrpc.Request) *jsonrpc.Response {
		var params struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return &jsonrpc.Response{ID: req.ID, Error: &jsonrpc.Error{Code: -32602, Message: err.Error()}}
		}
		if params.Name != "echo" {
			return &jsonrpc.Response{ID: req.ID, Error: &jsonrpc.Error{Code: -32601, Message: "no such tool"}}
		}
		raw, _ := json.Marshal(map[string]any{
			"content": []map[string]any{{"type": "text", "text": params.Arguments["message"]}},
		})
		return &jsonrpc.Response{ID: req.ID, Result: raw}
	})
	client := newTestClient(t, h, time.Second)

	content, err := client.CallTool(context.Background(), "echo", map[string]any{"message": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", domain.FlattenContent(content))
}

func TestCallToolIsErrorResult(t *testing.T) {
	h := newFakeHandle()
	answer(t, h, func(req *jsonrpc.Request) *jsonrpc.Response {
		raw, _ := json.Marshal(map[string]any{
			"content": []map[string]any{{"type": "text", "text": "tool blew up"}},
			"isError": true,
		})
		return &jsonrpc.Response{ID: req.ID, Result: raw}
	})
	client := newTestClient(t, h, time.Second)

	_, err := client.CallTool(context.Background(), "boom", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrToolCallFailed)
	assert.Contains(t, err.Error(), "tool blew up")
}

func TestCallTimeout(t *testing.T) {
	h := newFakeHandle()
	// Consume requests but never answer.
	_ = h.readRequests(t)
	client := newTestClient(t, h, 50*time.Millisecond)

	start := time.Now()
	_, err := client.ListTools(context.Background())
	assert.ErrorIs(t, err, domain.ErrRPCTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestChildExitFailsInFlightCalls(t *testing.T) {
	h := newFakeHandle()
	requests := h.readRequests(t)
	client := newTestClient(t, h, 5*time.Second)

	errCh := make(chan error, 1)
	go func() {
		_, err := client.ListTools(context.Background())
		errCh <- err
	}()
	<-requests

	// Child dies mid-call: stdout hits EOF.
	require.NoError(t, h.stdoutW.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, domain.ErrConnectionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("call never failed after EOF")
	}

	// New calls are refused outright.
	_, err := client.ListTools(context.Background())
	assert.ErrorIs(t, err, domain.ErrConnectionClosed)
}

func TestMalformedLinesAreSkipped(t *testing.T) {
	h := newFakeHandle()
	requests := h.readRequests(t)
	client := newTestClient(t, h, 2*time.Second)

	done := make(chan struct{})
	go func() {
		defer close(done)
		req := <-requests
		h.writeLine(t, "this is not json")
		h.writeLine(t, `{"jsonrpc":"2.0"`)
		h.writeResponse(t, resultResponse(t, req.ID, map[string]any{"tools": []domain.RemoteTool{{Name: "ok"}}}))
	}()

	tools, err := client.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "ok", tools[0].Name)
	<-done
}

func TestNotificationsReachSink(t *testing.T) {
	h := newFakeHandle()
	got := make(chan string, 1)
	client := New(h, Options{
		Logger:         zap.NewNop(),
		CallTimeout:    time.Second,
		OnNotification: func(method string) { got <- method },
	})
	t.Cleanup(func() { _ = client.Close() })
	_ = h.readRequests(t)

	wire, err := jsonrpc.EncodeMessage(&jsonrpc.Request{Method: domain.NotificationToolListChanged})
	require.NoError(t, err)
	h.writeLine(t, string(wire))

	select {
	case method := <-got:
		assert.Equal(t, domain.NotificationToolListChanged, method)
	case <-time.After(2 * time.Second):
		t.Fatal("notification never delivered")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	h := newFakeHandle()
	_ = h.readRequests(t)
	client := New(h, Options{Logger: zap.NewNop()})

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	_, err := client.ListTools(context.Background())
	assert.ErrorIs(t, err, domain.ErrConnectionClosed)
}
