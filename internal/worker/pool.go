package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Pool is a resizable concurrency limiter for task execution. The limit
// can be grown and shrunk at runtime by control commands; shrinking below
// the number of running tasks just lowers the limit, running tasks finish.
type Pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	limit  int
	active map[string]time.Time
}

// NewPool creates a pool with the given concurrency limit (minimum 1).
func NewPool(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	p := &Pool{
		limit:  limit,
		active: make(map[string]time.Time),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Size returns the current concurrency limit.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.limit
}

// Grow raises the limit by n and returns the new size.
func (p *Pool) Grow(n int) (int, error) {
	if n <= 0 {
		return p.Size(), fmt.Errorf("pool: grow by %d", n)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.limit += n
	p.cond.Broadcast()
	return p.limit, nil
}

// Shrink lowers the limit by n and returns the new size. The limit never
// drops below 1.
func (p *Pool) Shrink(n int) (int, error) {
	if n <= 0 {
		return p.Size(), fmt.Errorf("pool: shrink by %d", n)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.limit-n < 1 {
		return p.limit, fmt.Errorf("pool: cannot shrink %d below 1", p.limit)
	}
	p.limit -= n
	return p.limit, nil
}

// ActiveCount returns the number of running tasks.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Active returns the ids of running tasks, sorted.
func (p *Pool) Active() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.active))
	for id := range p.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Run executes fn once a slot is free, blocking until then or until ctx
// is cancelled. A cancelled submission never runs its task.
func (p *Pool) Run(ctx context.Context, taskID string, fn func(context.Context) error) error {
	// cond.Wait never observes ctx on its own; wake the waiters when the
	// caller gives up.
	stop := context.AfterFunc(ctx, p.interrupt)
	defer stop()

	p.mu.Lock()
	for len(p.active) >= p.limit {
		if err := ctx.Err(); err != nil {
			p.mu.Unlock()
			return err
		}
		p.cond.Wait()
	}
	// A slot freed and a cancellation can race; the cancellation wins.
	if err := ctx.Err(); err != nil {
		p.mu.Unlock()
		return err
	}
	p.active[taskID] = time.Now()
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.active, taskID)
		p.cond.Broadcast()
		p.mu.Unlock()
	}()

	return fn(ctx)
}

// interrupt wakes waiters so they can re-check their contexts. Used by
// per-submission cancellation and by worker shutdown.
func (p *Pool) interrupt() {
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
}
