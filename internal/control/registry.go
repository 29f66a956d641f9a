package control

import (
	"sort"
)

// Arguments carries the decoded arguments of a control command.
type Arguments map[string]any

// String returns the named argument as a string.
func (a Arguments) String(key string) (string, bool) {
	v, ok := a[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Int returns the named argument as an int. JSON numbers decode as
// float64, so both forms are accepted.
func (a Arguments) Int(key string) (int, bool) {
	switch v := a[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// Strings returns the named argument as a list of strings.
func (a Arguments) Strings(key string) []string {
	v, ok := a[key]
	if !ok {
		return nil
	}
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Handler executes one control command against the shared worker context.
// The returned value, if any, is published back to the requester when the
// message asked for a reply.
type Handler func(ctx *Context, args Arguments) (any, error)

// Registry maps command names to handlers. It is populated once at worker
// construction and read-only afterwards.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. Later registrations of the same name win, which
// lets callers override built-in panel commands.
func (r *Registry) Register(name string, h Handler) {
	r.handlers[name] = h
}

// Lookup resolves a command name. Returns *UnknownCommandError when the
// name has no handler.
func (r *Registry) Lookup(name string) (Handler, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, &UnknownCommandError{Name: name}
	}
	return h, nil
}

// Names returns the registered command names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
