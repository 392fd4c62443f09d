package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"mcpreg/internal/domain"
	"mcpreg/internal/infra/mount"
	"mcpreg/internal/infra/registry"
	"mcpreg/internal/infra/supervisor"
	"mcpreg/internal/infra/telemetry"
)

// Engine is the slice of the mount engine the fixed tools drive.
type Engine interface {
	Activate(ctx context.Context, entryID, prefix string) (*mount.MountResult, error)
	Deactivate(ctx context.Context, entryID string) (*mount.UnmountResult, error)
	Dispatch(ctx context.Context, fqName string, args map[string]any) (string, error)
	UpdateEnvironment(entryID string, env map[string]string) (domain.ActiveMount, error)
	LaunchStdio(ctx context.Context, command string, args []string, env map[string]string, prefix string) (*mount.MountResult, error)
}

// Refresher is the slice of the refresh scheduler the fixed tools drive.
type Refresher interface {
	ForceRefresh(ctx context.Context, src domain.SourceType) error
	ForceRefreshAll(ctx context.Context) map[domain.SourceType]error
	Sources() []domain.SourceType
}

// ToolsetOptions configures the fixed registry tools.
type ToolsetOptions struct {
	Store     *registry.Store
	Engine    Engine
	Refresher Refresher
	Logger    *zap.Logger
}

// Toolset implements the fixed registry_* tools exposed upstream.
type Toolset struct {
	store     *registry.Store
	engine    Engine
	refresher Refresher
	logger    *zap.Logger
}

func NewToolset(opts ToolsetOptions) *Toolset {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Toolset{
		store:     opts.Store,
		engine:    opts.Engine,
		refresher: opts.Refresher,
		logger:    logger.Named("registry_tools"),
	}
}

type toolBinding struct {
	tool    mcp.Tool
	handler mcp.ToolHandler
}

func (t *Toolset) bindings() []toolBinding {
	return []toolBinding{
		{findTool(), t.handler(t.find)},
		{listTool(), t.handler(t.list)},
		{addTool(), t.handler(t.add)},
		{removeTool(), t.handler(t.remove)},
		{activeTool(), t.handler(t.active)},
		{configSetTool(), t.handler(t.configSet)},
		{execTool(), t.handler(t.exec)},
		{refreshTool(), t.handler(t.refresh)},
		{statusTool(), t.handler(t.status)},
		{launchStdioTool(), t.handler(t.launchStdio)},
	}
}

func (t *Toolset) handler(fn func(ctx context.Context, raw json.RawMessage) (string, error)) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := fn(ctx, json.RawMessage(req.Params.Arguments))
		if err != nil {
			return errorResult(err), nil
		}
		return textResult(text), nil
	}
}

type findArgs struct {
	Query        string   `json:"query"`
	Categories   []string `json:"categories"`
	Tags         []string `json:"tags"`
	Sources      []string `json:"sources"`
	OfficialOnly bool     `json:"official_only"`
	FeaturedOnly bool     `json:"featured_only"`
	Limit        int      `json:"limit"`
}

func (t *Toolset) find(_ context.Context, raw json.RawMessage) (string, error) {
	var args findArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return "", err
	}

	var sources []domain.SourceType
	for _, s := range args.Sources {
		src, err := domain.ParseSourceType(s)
		if err != nil {
			t.logger.Warn("invalid source type in search", telemetry.SourceField(domain.SourceType(s)))
			continue
		}
		sources = append(sources, src)
	}

	results := t.store.Search(domain.SearchQuery{
		Query:        args.Query,
		Categories:   args.Categories,
		Tags:         args.Tags,
		Sources:      sources,
		OfficialOnly: args.OfficialOnly,
		FeaturedOnly: args.FeaturedOnly,
		Limit:        args.Limit,
	})
	return renderFindResults(args.Query, results), nil
}

type listArgs struct {
	Source string `json:"source"`
	Limit  int    `json:"limit"`
}

func (t *Toolset) list(_ context.Context, raw json.RawMessage) (string, error) {
	var args listArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return "", err
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > domain.MaxListLimit {
		limit = domain.MaxListLimit
	}

	var entries []domain.Entry
	if args.Source != "" && args.Source != "all" {
		src, err := domain.ParseSourceType(args.Source)
		if err != nil {
			return fmt.Sprintf("Invalid source: %s. Valid options: %s", args.Source, sourceOptions()), nil
		}
		entries = t.store.BySource(src)
	} else {
		entries = t.store.ListAll(limit)
	}
	return renderList(entries, limit), nil
}

type addArgs struct {
	EntryID string `json:"entry_id"`
	Prefix  string `json:"prefix"`
}

func (t *Toolset) add(ctx context.Context, raw json.RawMessage) (string, error) {
	var args addArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return "", err
	}
	result, err := t.engine.Activate(ctx, args.EntryID, args.Prefix)
	switch {
	case errors.Is(err, domain.ErrAlreadyActive):
		if existing, ok := t.store.GetMount(args.EntryID); ok {
			return fmt.Sprintf("Server already active: %s (prefix: %s)", existing.Name, existing.Prefix), nil
		}
		return fmt.Sprintf("Server already active: %s", args.EntryID), nil
	case errors.Is(err, domain.ErrEntryNotFound):
		return fmt.Sprintf("Entry not found: %s", args.EntryID), nil
	case err != nil:
		return "", err
	}
	return renderMountSuccess(result), nil
}

type removeArgs struct {
	EntryID string `json:"entry_id"`
}

func (t *Toolset) remove(ctx context.Context, raw json.RawMessage) (string, error) {
	var args removeArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return "", err
	}
	result, err := t.engine.Deactivate(ctx, args.EntryID)
	if errors.Is(err, domain.ErrNotActive) {
		return fmt.Sprintf("Server not active: %s", args.EntryID), nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Successfully deactivated: %s", result.Mount.Name), nil
}

func (t *Toolset) active(_ context.Context, _ json.RawMessage) (string, error) {
	return renderActive(t.store.ListMounts()), nil
}

type configSetArgs struct {
	EntryID     string            `json:"entry_id"`
	Environment map[string]string `json:"environment"`
}

func (t *Toolset) configSet(_ context.Context, raw json.RawMessage) (string, error) {
	var args configSetArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return "", err
	}
	if len(args.Environment) == 0 {
		return "", fmt.Errorf("%w: environment must not be empty", domain.ErrValidation)
	}
	updated, err := t.engine.UpdateEnvironment(args.EntryID, args.Environment)
	if errors.Is(err, domain.ErrNotActive) {
		return fmt.Sprintf("Server not active: %s", args.EntryID), nil
	}
	if err != nil {
		return "", err
	}
	return renderConfigSet(updated, args.Environment), nil
}

type execArgs struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

func (t *Toolset) exec(ctx context.Context, raw json.RawMessage) (string, error) {
	var args execArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return "", err
	}
	if args.ToolName == "" {
		return "", fmt.Errorf("%w: tool_name is required", domain.ErrValidation)
	}
	return t.engine.Dispatch(ctx, args.ToolName, args.Arguments)
}

type refreshArgs struct {
	Source string `json:"source"`
}

func (t *Toolset) refresh(ctx context.Context, raw json.RawMessage) (string, error) {
	var args refreshArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return "", err
	}

	var results map[domain.SourceType]error
	if strings.EqualFold(args.Source, "all") {
		results = t.refresher.ForceRefreshAll(ctx)
	} else {
		src, err := domain.ParseSourceType(args.Source)
		if err != nil {
			return fmt.Sprintf("Invalid source: %s. Valid options: %s, all", args.Source, sourceOptions()), nil
		}
		results = map[domain.SourceType]error{src: t.refresher.ForceRefresh(ctx, src)}
	}
	return renderRefreshResults(results), nil
}

func (t *Toolset) status(_ context.Context, _ json.RawMessage) (string, error) {
	return renderStatus(t.store.Status()), nil
}

type launchStdioArgs struct {
	Command string            `json:"command"`
	Prefix  string            `json:"prefix"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
}

func (t *Toolset) launchStdio(ctx context.Context, raw json.RawMessage) (string, error) {
	var args launchStdioArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return "", err
	}
	command := strings.TrimSpace(args.Command)
	cmdArgs := args.Args
	// A single-string invocation like "uvx mcp-server-sqlite --db x" is
	// split shell-style.
	if len(cmdArgs) == 0 && strings.ContainsAny(command, " \t") {
		parts, err := supervisor.ParseCommandLine(command)
		if err != nil {
			return "", err
		}
		command = parts[0]
		cmdArgs = parts[1:]
	}
	result, err := t.engine.LaunchStdio(ctx, command, cmdArgs, args.Env, args.Prefix)
	if errors.Is(err, domain.ErrAlreadyActive) {
		return fmt.Sprintf("Server already active under prefix: %s", args.Prefix), nil
	}
	if err != nil {
		return "", err
	}
	return renderMountSuccess(result), nil
}

func unmarshalArgs(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode arguments: %v", domain.ErrValidation, err)
	}
	return nil
}

func sourceOptions() string {
	names := make([]string, 0, len(domain.KnownSources))
	for _, src := range domain.KnownSources {
		names = append(names, string(src))
	}
	return strings.Join(names, ", ")
}
