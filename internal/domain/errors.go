package domain

import (
	"errors"
	"fmt"
	"strings"
)

var ErrEntryNotFound = errors.New("entry not found")
var ErrAlreadyActive = errors.New("server already active")
var ErrNotActive = errors.New("server not active")
var ErrValidation = errors.New("validation error")
var ErrSupervisorNotAvailable = errors.New("supervisor not available")
var ErrSpawnFailed = errors.New("spawn failed")
var ErrSettleExit = errors.New("child exited during settle window")
var ErrRPCTimeout = errors.New("rpc timeout")
var ErrConnectionClosed = errors.New("connection closed")
var ErrHandshakeFailed = errors.New("handshake failed")
var ErrToolCallFailed = errors.New("tool call failed")
var ErrSchemaInvalid = errors.New("schema invalid")
var ErrUnsupportedLaunch = errors.New("unsupported launch method")
var ErrSourceRefresh = errors.New("source refresh error")
var ErrInvalidEnvKey = errors.New("invalid_env_key")

// SettleExitError reports a child that exited within the settle window,
// carrying whatever it wrote to stderr before dying.
type SettleExitError struct {
	Command string
	Stderr  string
}

func (e *SettleExitError) Error() string {
	msg := fmt.Sprintf("child exited during settle window: %s", e.Command)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

func (e *SettleExitError) Unwrap() error { return ErrSettleExit }

// RemoteError is a JSON-RPC error object returned by a child server,
// surfaced verbatim to the caller.
type RemoteError struct {
	Code    int64
	Message string
	Method  string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d on %s: %s", e.Code, e.Method, e.Message)
}

func (e *RemoteError) Unwrap() error {
	if e.Method == MethodToolsCall {
		return ErrToolCallFailed
	}
	return nil
}

// JSON-RPC error code for an unimplemented method; list calls treat it as an
// empty capability rather than a failure.
const CodeMethodNotFound = -32601

// IsMethodNotFound reports whether err is a remote method-not-found error.
func IsMethodNotFound(err error) bool {
	var remote *RemoteError
	return errors.As(err, &remote) && remote.Code == CodeMethodNotFound
}
