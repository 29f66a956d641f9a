package control

import (
	"fmt"

	"github.com/mattjoyce/foreman/internal/log"
)

// Panel returns the built-in control command registry. Every worker node
// answers these; deployments may Register additional commands on top.
func Panel() *Registry {
	r := NewRegistry()
	r.Register("ping", handlePing)
	r.Register("revoke", handleRevoke)
	r.Register("shutdown", handleShutdown)
	r.Register("pool_grow", handlePoolGrow)
	r.Register("pool_shrink", handlePoolShrink)
	r.Register("stats", handleStats)
	r.Register("active", handleActive)
	r.Register("clock", handleClock)
	return r
}

func handlePing(ctx *Context, args Arguments) (any, error) {
	return "pong", nil
}

// handleRevoke accepts a single task_id or a task_ids list.
func handleRevoke(ctx *Context, args Arguments) (any, error) {
	ids := args.Strings("task_ids")
	if id, ok := args.String("task_id"); ok {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("revoke: no task_id or task_ids given")
	}

	for _, id := range ids {
		if err := ctx.Worker.Revoke(id); err != nil {
			return nil, fmt.Errorf("revoke %s: %w", id, err)
		}
		log.WithCommand("revoke").Info("task revoked", "task_id", id)
	}
	return map[string]any{"ok": fmt.Sprintf("%d task(s) revoked", len(ids))}, nil
}

func handleShutdown(ctx *Context, args Arguments) (any, error) {
	log.WithCommand("shutdown").Warn("shutdown requested via control channel", "worker", ctx.Hostname)
	ctx.Worker.Quit()
	return map[string]any{"ok": "shutting down"}, nil
}

func handlePoolGrow(ctx *Context, args Arguments) (any, error) {
	n, ok := args.Int("n")
	if !ok {
		n = 1
	}
	size, err := ctx.Worker.PoolGrow(n)
	if err != nil {
		return nil, err
	}
	return map[string]any{"pool_size": size}, nil
}

func handlePoolShrink(ctx *Context, args Arguments) (any, error) {
	n, ok := args.Int("n")
	if !ok {
		n = 1
	}
	size, err := ctx.Worker.PoolShrink(n)
	if err != nil {
		return nil, err
	}
	return map[string]any{"pool_size": size}, nil
}

func handleStats(ctx *Context, args Arguments) (any, error) {
	return ctx.Worker.Stats(), nil
}

func handleActive(ctx *Context, args Arguments) (any, error) {
	return ctx.Worker.Active(), nil
}

func handleClock(ctx *Context, args Arguments) (any, error) {
	return map[string]any{"clock": ctx.Clock.Value()}, nil
}
