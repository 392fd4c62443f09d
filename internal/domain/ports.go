package domain

import (
	"context"
	"io"
	"time"
)

// HandleKind distinguishes the two child flavors the supervisor manages.
type HandleKind string

const (
	HandleProcess   HandleKind = "process"
	HandleContainer HandleKind = "container"
)

// HandleInfo is the descriptive snapshot of a supervised child.
type HandleInfo struct {
	ID          string
	Kind        HandleKind
	Name        string
	PID         int
	ContainerID string
	StartedAt   time.Time
}

// Handle is a running child owned by a supervisor. The RPC client borrows
// the stdio streams; the supervisor keeps process/container ownership.
type Handle interface {
	Info() HandleInfo
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the child exits or ctx is done.
	Wait(ctx context.Context) error
	// Terminate asks the child to stop gracefully, escalating to Kill when
	// the supervisor's stop timeout elapses.
	Terminate(ctx context.Context) error
	Kill() error
}

// Producer turns an external catalog into normalized entries. Scrapers
// implement this; the refresh scheduler only sees the entry stream.
type Producer interface {
	Source() SourceType
	Fetch(ctx context.Context, scratch SourceCache) ([]Entry, error)
}

// SourceCache is the scraper-private scratch area handed to producers so
// fetch payloads survive between refresh runs.
type SourceCache interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
}

// RPCClient is the per-mount JSON-RPC session with one child server.
type RPCClient interface {
	Initialize(ctx context.Context) (InitializeResult, error)
	ListTools(ctx context.Context) ([]RemoteTool, error)
	ListResources(ctx context.Context) ([]RemoteResource, error)
	ListPrompts(ctx context.Context) ([]RemotePrompt, error)
	CallTool(ctx context.Context, name string, args map[string]any) ([]ContentBlock, error)
	Close() error
}

// ParamType is the local type a JSON-Schema property converts to.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamFloat  ParamType = "float"
	ParamInt    ParamType = "int"
	ParamBool   ParamType = "bool"
	ParamMap    ParamType = "map"
	ParamList   ParamType = "list"
	ParamNone   ParamType = "none"
	ParamAny    ParamType = "any"
)

// ToolParam is one converted parameter of a re-exposed tool.
type ToolParam struct {
	Name        string
	Type        ParamType
	Required    bool
	HasDefault  bool
	Default     any
	Optional    bool
	Description string
}

// ToolDescriptor is the local, fully-typed form of a remote tool. Name is
// the namespaced upstream name; RemoteName is what the child dispatches on.
type ToolDescriptor struct {
	Name        string
	RemoteName  string
	Prefix      string
	Description string
	Params      []ToolParam
}

// DispatchFunc routes an upstream call on a namespaced tool to its child.
type DispatchFunc func(ctx context.Context, name string, args map[string]any) (string, error)

// ToolSurface is the dynamic half of the upstream tool set. Implementations
// must commit each mutation before notifying the upstream client.
type ToolSurface interface {
	Register(descriptors []ToolDescriptor, dispatch DispatchFunc) error
	Remove(names []string)
}

// Metrics receives gateway-level measurements.
type Metrics interface {
	ObserveMount(launch LaunchMethod, duration time.Duration, err error)
	ObserveUnmount(launch LaunchMethod, err error)
	ObserveDispatch(prefix string, duration time.Duration, err error)
	ObserveRefresh(source SourceType, duration time.Duration, err error)
	SetActiveMounts(launch LaunchMethod, count int)
	SetEntryCount(source SourceType, count int)
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) ObserveMount(LaunchMethod, time.Duration, error) {}
func (NopMetrics) ObserveUnmount(LaunchMethod, error)              {}
func (NopMetrics) ObserveDispatch(string, time.Duration, error)    {}
func (NopMetrics) ObserveRefresh(SourceType, time.Duration, error) {}
func (NopMetrics) SetActiveMounts(LaunchMethod, int)               {}
func (NopMetrics) SetEntryCount(SourceType, int)                   {}
