// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_tool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rapidaai/tripvoice/pkg/commons"
	"github.com/rapidaai/tripvoice/pkg/utils"
)

// ErrToolNotFound is returned by Invoke when no handler is registered under
// the requested name. Callers must convert it into a structured error result
// for the model rather than letting it break the session.
var ErrToolNotFound = errors.New("tool not found")

// Handler executes a tool call. Params are the model-supplied arguments,
// already parsed from JSON; handlers read them through the Option getters or
// DecodeParams, must validate required fields themselves, and return a
// structured "missing parameter" result instead of an error, so the model can
// ask a clarifying question.
type Handler func(ctx context.Context, params utils.Option) (interface{}, error)

type entry struct {
	definition Definition
	handler    Handler
}

// Registry maps tool names to handlers and their wire definitions.
// Registration is last-write-wins and allowed at any time, including
// mid-session; handlers registered during a call apply to subsequent
// invocations only.
type Registry struct {
	mu     sync.RWMutex
	logger commons.Logger
	tools  map[string]*entry
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger commons.Logger) *Registry {
	return &Registry{
		logger: logger,
		tools:  make(map[string]*entry),
	}
}

// Register adds or replaces the handler for def.Name.
func (r *Registry) Register(def Definition, handler Handler) {
	if def.Type == "" {
		def.Type = "function"
	}
	r.mu.Lock()
	if _, exists := r.tools[def.Name]; exists {
		r.logger.Infow("overwriting tool registration", "tool", def.Name)
	}
	r.tools[def.Name] = &entry{definition: def, handler: handler}
	r.mu.Unlock()
}

// Invoke runs the handler registered under name. Returns ErrToolNotFound when
// nothing is registered. The handler's own error is returned as-is.
func (r *Registry) Invoke(ctx context.Context, name string, params utils.Option) (interface{}, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if params == nil {
		params = utils.Option{}
	}
	return e.handler(ctx, params)
}

// Definitions returns the wire definitions of all registered tools, sorted by
// name so the session configuration payload is deterministic.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defs := make([]Definition, 0, len(r.tools))
	for _, e := range r.tools {
		defs = append(defs, e.definition)
	}
	r.mu.RUnlock()

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Has reports whether a handler is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	_, ok := r.tools[name]
	r.mu.RUnlock()
	return ok
}
