// Package toolrouter resolves model-issued tool calls against the pool's
// catalogue and dispatches them. Every failure, whether in resolution,
// argument validation or dispatch, is returned as a failed ToolResult so the
// conversation can show it to the model instead of aborting.
package toolrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/vikashloomba/mcphub-go/pkg/mcpmgr"
)

// Invocation is a tool call requested by the model. Name is either a
// qualified "server.tool" name, the "server:tool" spelling, or a bare tool
// name that must be unique across the catalogue.
type Invocation struct {
	ID        int64          `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	// ArgumentsError is set when the model's arguments could not be decoded.
	// Such an invocation fails with invalid_arguments without reaching the
	// server.
	ArgumentsError error `json:"-"`
}

// Dispatcher is the subset of the pool the router needs. *mcpmgr.Pool and
// *mcpmgr.Hub satisfy it.
type Dispatcher interface {
	Catalogue() *mcpmgr.Catalogue
	Dispatch(ctx context.Context, qualifiedName string, args map[string]any) (mcpmgr.ToolResult, error)
}

// AmbiguousToolError reports a bare tool name served by more than one server.
type AmbiguousToolError struct {
	Name       string
	Candidates []string
}

func (e *AmbiguousToolError) Error() string {
	return fmt.Sprintf("toolrouter: tool %q is ambiguous; use one of %s", e.Name, strings.Join(e.Candidates, ", "))
}

func (e *AmbiguousToolError) Kind() mcpmgr.ErrorKind { return mcpmgr.KindAmbiguousTool }

// InvalidArgumentsError reports arguments that do not satisfy the tool's
// input schema.
type InvalidArgumentsError struct {
	Tool string
	Err  error
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("toolrouter: invalid arguments for %s: %v", e.Tool, e.Err)
}

func (e *InvalidArgumentsError) Unwrap() error          { return e.Err }
func (e *InvalidArgumentsError) Kind() mcpmgr.ErrorKind { return mcpmgr.KindInvalidArguments }

// Router resolves and dispatches invocations. It holds no state besides its
// dispatcher.
type Router struct {
	pool   Dispatcher
	logger *slog.Logger
}

// New returns a router over pool. A nil logger means slog.Default().
func New(pool Dispatcher, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{pool: pool, logger: logger.With("component", "toolrouter")}
}

// Catalogue exposes the dispatcher's current catalogue.
func (r *Router) Catalogue() *mcpmgr.Catalogue { return r.pool.Catalogue() }

// Route resolves inv and dispatches it.
func (r *Router) Route(ctx context.Context, inv Invocation) mcpmgr.ToolResult {
	desc, err := Resolve(r.pool.Catalogue(), inv.Name)
	if err != nil {
		r.logger.Debug("unresolved tool", slog.String("tool", inv.Name), slog.Any("error", err))
		return mcpmgr.FailedResult("", err)
	}
	if inv.ArgumentsError != nil {
		return mcpmgr.FailedResult(desc.QualifiedName, &InvalidArgumentsError{Tool: desc.QualifiedName, Err: inv.ArgumentsError})
	}
	args, err := validateArguments(desc, inv.Arguments)
	if err != nil {
		return mcpmgr.FailedResult(desc.QualifiedName, err)
	}
	res, err := r.pool.Dispatch(ctx, desc.QualifiedName, args)
	if err != nil {
		r.logger.Warn("tool dispatch failed", slog.String("tool", desc.QualifiedName), slog.Any("error", err))
		return mcpmgr.FailedResult(desc.QualifiedName, err)
	}
	res.QualifiedName = desc.QualifiedName
	return res
}

// Resolve finds the tool named by name: an exact qualified match first, then
// the "server:tool" spelling, then a bare tool name that only one server
// offers.
func Resolve(cat *mcpmgr.Catalogue, name string) (mcpmgr.ToolDescriptor, error) {
	name = strings.TrimSpace(name)
	if desc, ok := cat.Lookup(name); ok {
		return desc, nil
	}
	if server, tool, ok := strings.Cut(name, ":"); ok && server != "" && tool != "" {
		if desc, ok := cat.Lookup(mcpmgr.QualifiedName(server, tool)); ok {
			return desc, nil
		}
	}
	matches := cat.Matches(name)
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return mcpmgr.ToolDescriptor{}, &mcpmgr.ToolNotFoundError{Name: name}
	default:
		candidates := make([]string, 0, len(matches))
		for _, m := range matches {
			candidates = append(candidates, m.QualifiedName)
		}
		sort.Strings(candidates)
		return mcpmgr.ToolDescriptor{}, &AmbiguousToolError{Name: name, Candidates: candidates}
	}
}

// validateArguments checks args against the tool's input schema and returns
// them normalized to plain JSON values. A schema the validator cannot load is
// left for the server to enforce.
func validateArguments(desc mcpmgr.ToolDescriptor, args map[string]any) (map[string]any, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, &InvalidArgumentsError{Tool: desc.QualifiedName, Err: err}
	}
	var normalized map[string]any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, &InvalidArgumentsError{Tool: desc.QualifiedName, Err: err}
	}
	if normalized == nil {
		normalized = map[string]any{}
	}
	if len(desc.InputSchema) == 0 {
		return normalized, nil
	}

	schemaJSON, err := json.Marshal(desc.InputSchema)
	if err != nil {
		return normalized, nil
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(schemaJSON, &schema); err != nil {
		return normalized, nil
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return normalized, nil
	}
	if err := resolved.Validate(normalized); err != nil {
		return nil, &InvalidArgumentsError{Tool: desc.QualifiedName, Err: err}
	}
	return normalized, nil
}
