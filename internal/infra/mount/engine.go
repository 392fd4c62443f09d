package mount

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"mcpreg/internal/domain"
	"mcpreg/internal/infra/envutil"
	"mcpreg/internal/infra/registry"
	"mcpreg/internal/infra/rpcclient"
	"mcpreg/internal/infra/supervisor"
	"mcpreg/internal/infra/telemetry"
	"mcpreg/internal/infra/toolschema"
)

// DefaultRPCTimeout bounds each step of the mount handshake: initialize and
// the three capability list calls.
const DefaultRPCTimeout = 30 * time.Second

// ProcessLauncher is the slice of the process supervisor the engine needs.
type ProcessLauncher interface {
	Spawn(ctx context.Context, spec supervisor.SpawnSpec) (domain.Handle, error)
	Stop(ctx context.Context, id string) error
	CleanupAll(ctx context.Context) int
}

// ContainerLauncher is the slice of the container supervisor the engine
// needs. A nil launcher means container entries cannot be mounted.
type ContainerLauncher interface {
	PullImage(ctx context.Context, image string) error
	RunInteractive(ctx context.Context, spec supervisor.RunSpec) (domain.Handle, error)
	CleanupAll(ctx context.Context) int
}

// ClientFactory wraps a child handle in an RPC session. Swapped in tests.
type ClientFactory func(handle domain.Handle) domain.RPCClient

// Options configures an Engine.
type Options struct {
	Store      *registry.Store
	Processes  ProcessLauncher
	Containers ContainerLauncher
	Surface    domain.ToolSurface
	Clients    *ClientRegistry
	Logger     *zap.Logger
	Metrics    domain.Metrics
	RPCTimeout time.Duration
	// ClientVersion is reported to children in the initialize handshake.
	ClientVersion string
	NewClient     ClientFactory
}

// MountResult reports a successful activation.
type MountResult struct {
	Entry         domain.Entry
	Mount         domain.ActiveMount
	Tools         []domain.ToolDescriptor
	ResourceCount int
	PromptCount   int
	// Skipped lists tools whose schemas failed validation or conversion.
	Skipped []string
}

// UnmountResult reports a successful deactivation.
type UnmountResult struct {
	Mount        domain.ActiveMount
	RemovedTools int
}

// mountRuntime is the per-mount live state the engine owns: the child handle
// and the registered descriptors. Mount records in the store stay free of
// process references.
type mountRuntime struct {
	entryID  string
	launch   domain.LaunchMethod
	handle   domain.Handle
	clientID string
	// descriptors by FQ name, used at dispatch time.
	descriptors map[string]domain.ToolDescriptor
}

// Engine mounts catalog entries: it launches the child, completes the MCP
// handshake, converts and registers the child's tools upstream, and tears
// everything down in the fixed order tools, rpc session, child, record.
type Engine struct {
	store      *registry.Store
	processes  ProcessLauncher
	containers ContainerLauncher
	surface    domain.ToolSurface
	clients    *ClientRegistry
	logger     *zap.Logger
	metrics    domain.Metrics
	rpcTimeout time.Duration
	newClient  ClientFactory

	mu     sync.Mutex
	active map[string]*mountRuntime
}

func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	timeout := opts.RPCTimeout
	if timeout <= 0 {
		timeout = DefaultRPCTimeout
	}
	clients := opts.Clients
	if clients == nil {
		clients = NewClientRegistry()
	}
	e := &Engine{
		store:      opts.Store,
		processes:  opts.Processes,
		containers: opts.Containers,
		surface:    opts.Surface,
		clients:    clients,
		logger:     logger.Named("mount_engine"),
		metrics:    metrics,
		rpcTimeout: timeout,
		newClient:  opts.NewClient,
		active:     make(map[string]*mountRuntime),
	}
	if e.newClient == nil {
		version := opts.ClientVersion
		e.newClient = func(handle domain.Handle) domain.RPCClient {
			return rpcclient.New(handle, rpcclient.Options{
				Logger:        opts.Logger,
				CallTimeout:   timeout,
				ClientVersion: version,
			})
		}
	}
	return e
}

// Activate mounts the entry under the given prefix (derived from the entry
// id when empty). Activating an already-active entry fails fast without
// spawning anything.
func (e *Engine) Activate(ctx context.Context, entryID, prefix string) (*MountResult, error) {
	started := time.Now()
	result, launch, err := e.activate(ctx, entryID, prefix)
	e.metrics.ObserveMount(launch, time.Since(started), err)
	if err != nil {
		e.logger.Warn("mount failed",
			telemetry.EventField(telemetry.EventMountFailure),
			telemetry.EntryIDField(entryID),
			zap.Error(err),
		)
		return nil, err
	}
	e.publishMountCounts()
	e.logger.Info("mounted",
		telemetry.EventField(telemetry.EventMountSuccess),
		telemetry.EntryIDField(entryID),
		telemetry.PrefixField(result.Mount.Prefix),
		zap.Int("tools", len(result.Tools)),
		telemetry.DurationField(time.Since(started)),
	)
	return result, nil
}

func (e *Engine) activate(ctx context.Context, entryID, prefix string) (*MountResult, domain.LaunchMethod, error) {
	if _, exists := e.store.GetMount(entryID); exists {
		return nil, domain.LaunchUnknown, fmt.Errorf("%w: %s", domain.ErrAlreadyActive, entryID)
	}
	entry, err := e.store.Get(entryID)
	if err != nil {
		return nil, domain.LaunchUnknown, err
	}
	if prefix == "" {
		prefix = domain.DerivePrefix(entry.ID)
	}
	if err := domain.ValidatePrefix(prefix); err != nil {
		return nil, entry.LaunchMethod, err
	}
	if existing, taken := e.store.MountByPrefix(prefix); taken {
		return nil, entry.LaunchMethod, fmt.Errorf("%w: prefix %q already used by %s",
			domain.ErrValidation, prefix, existing.EntryID)
	}

	e.logger.Info("mounting",
		telemetry.EventField(telemetry.EventMountAttempt),
		telemetry.EntryIDField(entry.ID),
		telemetry.PrefixField(prefix),
		zap.String("launch_method", string(entry.LaunchMethod)),
	)

	handle, err := e.launch(ctx, entry, prefix)
	if err != nil {
		return nil, entry.LaunchMethod, err
	}

	result, err := e.handshakeAndRegister(ctx, entry, prefix, handle)
	if err != nil {
		return nil, entry.LaunchMethod, err
	}
	return result, entry.LaunchMethod, nil
}

func (e *Engine) launch(ctx context.Context, entry domain.Entry, prefix string) (domain.Handle, error) {
	switch entry.LaunchMethod {
	case domain.LaunchContainer:
		if e.containers == nil {
			return nil, fmt.Errorf("%w: no container tool configured", domain.ErrSupervisorNotAvailable)
		}
		if entry.ContainerImage == "" {
			return nil, fmt.Errorf("%w: entry %s has no container image", domain.ErrValidation, entry.ID)
		}
		if err := e.containers.PullImage(ctx, entry.ContainerImage); err != nil {
			return nil, err
		}
		return e.containers.RunInteractive(ctx, supervisor.RunSpec{
			Image: entry.ContainerImage,
			Name:  prefix,
			Env:   declaredEnv(entry),
		})
	case domain.LaunchStdio:
		if entry.ServerCommand == nil || entry.ServerCommand.Command == "" {
			return nil, fmt.Errorf("%w: entry %s has no server command", domain.ErrValidation, entry.ID)
		}
		return e.processes.Spawn(ctx, supervisor.SpawnSpec{
			Command: entry.ServerCommand.Command,
			Args:    entry.ServerCommand.Args,
			Env:     declaredEnv(entry),
			Name:    entry.ID,
		})
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedLaunch, entry.LaunchMethod)
	}
}

// handshakeAndRegister runs initialize plus the capability listings, then
// registers the converted tools upstream and records the mount. Any failure
// rolls back everything done so far.
func (e *Engine) handshakeAndRegister(ctx context.Context, entry domain.Entry, prefix string, handle domain.Handle) (*MountResult, error) {
	client := e.newClient(handle)
	clientID := e.clients.Add(client)

	var registered []string
	fail := func(err error) (*MountResult, error) {
		if len(registered) > 0 {
			e.surface.Remove(registered)
		}
		e.clients.Remove(clientID)
		_ = client.Close()
		e.stopChild(context.Background(), handle)
		return nil, err
	}

	initCtx, cancel := context.WithTimeout(ctx, e.rpcTimeout)
	_, err := client.Initialize(initCtx)
	cancel()
	if err != nil {
		return fail(err)
	}

	remoteTools, err := e.listTools(ctx, client)
	if err != nil {
		return fail(err)
	}
	resources, err := e.listResources(ctx, client)
	if err != nil {
		return fail(err)
	}
	prompts, err := e.listPrompts(ctx, client)
	if err != nil {
		return fail(err)
	}

	descriptors := make([]domain.ToolDescriptor, 0, len(remoteTools))
	var skipped []string
	for _, tool := range remoteTools {
		ok, msg := toolschema.Validate(tool)
		if !ok {
			e.logger.Warn("skipping tool with invalid schema",
				telemetry.EntryIDField(entry.ID),
				telemetry.ToolField(tool.Name),
				zap.String("reason", msg),
			)
			skipped = append(skipped, tool.Name)
			continue
		}
		if msg != "" {
			e.logger.Debug("tool schema warning",
				telemetry.ToolField(tool.Name),
				zap.String("warning", msg),
			)
		}
		desc, err := toolschema.Convert(prefix, tool)
		if err != nil {
			e.logger.Warn("skipping tool that failed conversion",
				telemetry.EntryIDField(entry.ID),
				telemetry.ToolField(tool.Name),
				zap.Error(err),
			)
			skipped = append(skipped, tool.Name)
			continue
		}
		descriptors = append(descriptors, desc)
	}

	if len(descriptors) > 0 {
		if err := e.surface.Register(descriptors, e.Dispatch); err != nil {
			return fail(fmt.Errorf("register tools: %w", err))
		}
		for _, desc := range descriptors {
			registered = append(registered, desc.Name)
		}
	}

	info := handle.Info()
	mount := domain.ActiveMount{
		EntryID:     entry.ID,
		Name:        entry.Name,
		Prefix:      prefix,
		ContainerID: info.ContainerID,
		PID:         info.PID,
		ClientID:    clientID,
		Environment: declaredEnv(entry),
		Tools:       registered,
		Resources:   resourceNames(resources),
		Prompts:     promptNames(prompts),
		MountedAt:   time.Now().UTC(),
	}
	if err := e.store.AddMount(mount); err != nil {
		return fail(err)
	}

	descByName := make(map[string]domain.ToolDescriptor, len(descriptors))
	for _, desc := range descriptors {
		descByName[desc.Name] = desc
	}
	e.mu.Lock()
	e.active[entry.ID] = &mountRuntime{
		entryID:     entry.ID,
		launch:      entry.LaunchMethod,
		handle:      handle,
		clientID:    clientID,
		descriptors: descByName,
	}
	e.mu.Unlock()

	return &MountResult{
		Entry:         entry,
		Mount:         mount.Clone(),
		Tools:         descriptors,
		ResourceCount: len(resources),
		PromptCount:   len(prompts),
		Skipped:       skipped,
	}, nil
}

func (e *Engine) listTools(ctx context.Context, client domain.RPCClient) ([]domain.RemoteTool, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.rpcTimeout)
	defer cancel()
	return client.ListTools(callCtx)
}

func (e *Engine) listResources(ctx context.Context, client domain.RPCClient) ([]domain.RemoteResource, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.rpcTimeout)
	defer cancel()
	return client.ListResources(callCtx)
}

func (e *Engine) listPrompts(ctx context.Context, client domain.RPCClient) ([]domain.RemotePrompt, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.rpcTimeout)
	defer cancel()
	return client.ListPrompts(callCtx)
}

// LaunchStdio mounts an ad-hoc stdio command that is not in the catalog by
// synthesizing a custom entry for it first.
func (e *Engine) LaunchStdio(ctx context.Context, command string, args []string, env map[string]string, prefix string) (*MountResult, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("%w: command is required", domain.ErrValidation)
	}
	if err := domain.ValidatePrefix(prefix); err != nil {
		return nil, err
	}
	entry := domain.Entry{
		ID:           "custom/" + strings.ToLower(prefix),
		Name:         command,
		Description:  "ad-hoc stdio server " + command,
		Source:       domain.SourceCustom,
		LaunchMethod: domain.LaunchStdio,
		ServerCommand: &domain.ServerCommand{
			Command: command,
			Args:    args,
			Env:     env,
		},
	}
	if err := e.store.Add(entry); err != nil {
		return nil, err
	}
	return e.Activate(ctx, entry.ID, prefix)
}

// Dispatch routes a call on a namespaced tool name to its child server and
// returns the flattened textual result.
func (e *Engine) Dispatch(ctx context.Context, fqName string, args map[string]any) (string, error) {
	started := time.Now()
	desc, mount, err := e.resolve(fqName)
	if err != nil {
		return "", err
	}
	text, err := e.dispatch(ctx, desc, mount, args)
	e.metrics.ObserveDispatch(mount.Prefix, time.Since(started), err)
	e.logger.Debug("dispatched",
		telemetry.EventField(telemetry.EventDispatch),
		telemetry.ToolField(fqName),
		telemetry.PrefixField(mount.Prefix),
		telemetry.DurationField(time.Since(started)),
		zap.Error(err),
	)
	return text, err
}

// resolve maps an FQ tool name onto its descriptor and active mount. A name
// for a mounted prefix without a registered descriptor still dispatches, so
// registry_exec can reach tools that were skipped at conversion time.
func (e *Engine) resolve(fqName string) (domain.ToolDescriptor, domain.ActiveMount, error) {
	rest, ok := strings.CutPrefix(fqName, toolschema.FQPrefix)
	if !ok || rest == "" {
		return domain.ToolDescriptor{}, domain.ActiveMount{},
			fmt.Errorf("%w: %q is not a namespaced tool name", domain.ErrValidation, fqName)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	var (
		match   *mountRuntime
		matched string
	)
	for _, rt := range e.active {
		if desc, ok := rt.descriptors[fqName]; ok {
			mount, found := e.store.GetMount(rt.entryID)
			if !found {
				return domain.ToolDescriptor{}, domain.ActiveMount{},
					fmt.Errorf("%w: no active mount for prefix %q", domain.ErrNotActive, desc.Prefix)
			}
			return desc, mount, nil
		}
	}
	// No registered descriptor; find the longest mounted prefix the name
	// starts with and pass arguments through untyped.
	for _, rt := range e.active {
		mount, found := e.store.GetMount(rt.entryID)
		if !found {
			continue
		}
		if strings.HasPrefix(rest, mount.Prefix+"_") && len(mount.Prefix) > len(matched) {
			match = rt
			matched = mount.Prefix
		}
	}
	if match == nil {
		return domain.ToolDescriptor{}, domain.ActiveMount{},
			fmt.Errorf("%w: no active mount serves tool %q", domain.ErrNotActive, fqName)
	}
	mount, _ := e.store.GetMount(match.entryID)
	return domain.ToolDescriptor{
		Name:       fqName,
		RemoteName: rest[len(matched)+1:],
		Prefix:     matched,
	}, mount, nil
}

func (e *Engine) dispatch(ctx context.Context, desc domain.ToolDescriptor, mount domain.ActiveMount, args map[string]any) (string, error) {
	client, ok := e.clients.Get(mount.ClientID)
	if !ok {
		return "", fmt.Errorf("%w: no rpc client bound to mount %s", domain.ErrConnectionClosed, mount.EntryID)
	}
	payload, err := toolschema.BuildArguments(desc, args)
	if err != nil {
		return "", err
	}
	callCtx, cancel := context.WithTimeout(ctx, e.rpcTimeout)
	defer cancel()
	content, err := client.CallTool(callCtx, desc.RemoteName, payload)
	if err != nil {
		return "", err
	}
	return domain.FlattenContent(content), nil
}

// UpdateEnvironment validates the keys against the allowlist and stores them
// on the mount. The new values take effect the next time the entry is
// mounted.
func (e *Engine) UpdateEnvironment(entryID string, env map[string]string) (domain.ActiveMount, error) {
	if err := envutil.ValidateKeys(env); err != nil {
		return domain.ActiveMount{}, err
	}
	mount, ok := e.store.UpdateMountEnv(entryID, env)
	if !ok {
		return domain.ActiveMount{}, fmt.Errorf("%w: %s", domain.ErrNotActive, entryID)
	}
	return mount, nil
}

// Deactivate unmounts the entry. Teardown order is fixed: dynamic tools
// first, then the rpc session, then the child, then the record, so a tool
// call can never dispatch to a dead child.
func (e *Engine) Deactivate(ctx context.Context, entryID string) (*UnmountResult, error) {
	mount, ok := e.store.GetMount(entryID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotActive, entryID)
	}

	e.mu.Lock()
	rt := e.active[entryID]
	delete(e.active, entryID)
	e.mu.Unlock()

	if len(mount.Tools) > 0 {
		e.surface.Remove(mount.Tools)
	}

	launch := domain.LaunchUnknown
	if rt != nil {
		launch = rt.launch
	}

	if client, found := e.clients.Get(mount.ClientID); found {
		e.clients.Remove(mount.ClientID)
		if err := client.Close(); err != nil {
			e.logger.Warn("close rpc client", telemetry.EntryIDField(entryID), zap.Error(err))
		}
	}

	if rt != nil {
		e.stopChild(ctx, rt.handle)
	}

	e.store.RemoveMount(entryID)
	e.metrics.ObserveUnmount(launch, nil)
	e.publishMountCounts()
	e.logger.Info("unmounted",
		telemetry.EventField(telemetry.EventUnmount),
		telemetry.EntryIDField(entryID),
		telemetry.PrefixField(mount.Prefix),
	)
	return &UnmountResult{Mount: mount, RemovedTools: len(mount.Tools)}, nil
}

// stopChild terminates the child behind a handle, routing process handles
// through the supervisor so its tracking stays consistent.
func (e *Engine) stopChild(ctx context.Context, handle domain.Handle) {
	info := handle.Info()
	var err error
	if info.Kind == domain.HandleProcess && e.processes != nil {
		err = e.processes.Stop(ctx, info.ID)
	} else {
		err = handle.Terminate(ctx)
	}
	if err != nil {
		e.logger.Warn("stop child",
			telemetry.HandleIDField(info.ID),
			zap.Error(err),
		)
	}
}

// Shutdown deactivates every mount and sweeps the supervisors.
func (e *Engine) Shutdown(ctx context.Context) {
	for _, mount := range e.store.ListMounts() {
		if _, err := e.Deactivate(ctx, mount.EntryID); err != nil {
			e.logger.Warn("shutdown deactivate",
				telemetry.EntryIDField(mount.EntryID),
				zap.Error(err),
			)
		}
	}
	if e.processes != nil {
		e.processes.CleanupAll(ctx)
	}
	if e.containers != nil {
		e.containers.CleanupAll(ctx)
	}
}

// publishMountCounts pushes per-launch-method active mount gauges.
func (e *Engine) publishMountCounts() {
	counts := map[domain.LaunchMethod]int{
		domain.LaunchStdio:     0,
		domain.LaunchContainer: 0,
	}
	e.mu.Lock()
	for _, rt := range e.active {
		counts[rt.launch]++
	}
	e.mu.Unlock()
	for launch, count := range counts {
		e.metrics.SetActiveMounts(launch, count)
	}
}

func declaredEnv(entry domain.Entry) map[string]string {
	if entry.ServerCommand == nil {
		return nil
	}
	return entry.ServerCommand.Env
}

func resourceNames(resources []domain.RemoteResource) []string {
	if len(resources) == 0 {
		return nil
	}
	out := make([]string, len(resources))
	for i, r := range resources {
		out[i] = r.URI
	}
	return out
}

func promptNames(prompts []domain.RemotePrompt) []string {
	if len(prompts) == 0 {
		return nil
	}
	out := make([]string, len(prompts))
	for i, p := range prompts {
		out[i] = p.Name
	}
	return out
}
