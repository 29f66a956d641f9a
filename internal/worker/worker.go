// Package worker wires a task-executing worker process to its remote
// control channel: the pool, the revoked-task store, the logical clock and
// the control inbox that lets operators steer the process at runtime.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/foreman/internal/broadcast"
	"github.com/mattjoyce/foreman/internal/clock"
	"github.com/mattjoyce/foreman/internal/control"
	"github.com/mattjoyce/foreman/internal/events"
	"github.com/mattjoyce/foreman/internal/log"
)

// ErrTaskRevoked is returned by Submit for task ids an operator revoked.
var ErrTaskRevoked = errors.New("worker: task is revoked")

// RevokedStore persists revoked task ids across restarts.
// internal/state provides the SQLite implementation.
type RevokedStore interface {
	Add(ctx context.Context, taskID string) error
	Contains(taskID string) bool
	All(ctx context.Context) ([]string, error)
}

// Options configures a Worker.
type Options struct {
	// Hostname is the worker identity, e.g. "worker1@buildhost".
	Hostname string

	// Connection is the link to the broadcast broker.
	Connection broadcast.Connection

	// Concurrency is the initial pool size. Defaults to 1.
	Concurrency int

	// Revoked is the revoked-task store.
	Revoked RevokedStore

	// Clock is the process logical clock. A fresh one is created when nil.
	Clock *clock.Clock

	// Events receives observability events. Optional.
	Events *events.Hub

	// Registry overrides the built-in control panel. Optional.
	Registry *control.Registry

	// OnDecodeError receives undecodable control payloads. Defaults to an
	// error log line.
	OnDecodeError func(error)
}

// Worker is a running worker process handle. It implements control.Worker
// so the command panel can operate on it.
type Worker struct {
	hostname string
	conn     broadcast.Connection
	pool     *Pool
	revoked  RevokedStore
	clock    *clock.Clock
	events   *events.Hub
	inbox    *control.Inbox
	logger   *slog.Logger

	started  time.Time
	quitOnce sync.Once
	quitCh   chan struct{}
}

// New constructs a worker and its control inbox. No I/O happens until
// Start.
func New(opts Options) (*Worker, error) {
	if opts.Hostname == "" {
		return nil, fmt.Errorf("worker: hostname is required")
	}
	if opts.Connection == nil {
		return nil, fmt.Errorf("worker: connection is required")
	}
	if opts.Revoked == nil {
		return nil, fmt.Errorf("worker: revoked store is required")
	}

	lc := opts.Clock
	if lc == nil {
		lc = clock.New(0)
	}
	registry := opts.Registry
	if registry == nil {
		registry = control.Panel()
	}

	w := &Worker{
		hostname: opts.Hostname,
		conn:     opts.Connection,
		pool:     NewPool(opts.Concurrency),
		revoked:  opts.Revoked,
		clock:    lc,
		events:   opts.Events,
		logger:   log.WithComponent("worker").With("worker", opts.Hostname),
		quitCh:   make(chan struct{}),
	}

	onDecodeError := opts.OnDecodeError
	if onDecodeError == nil {
		onDecodeError = func(err error) {
			w.logger.Error("undecodable control message", "error", err)
		}
	}

	inbox, err := control.NewInbox(control.InboxConfig{
		Hostname:      opts.Hostname,
		Registry:      registry,
		Context:       &control.Context{Hostname: opts.Hostname, Worker: w, Clock: lc},
		ForwardClock:  lc.Forward,
		OnDecodeError: onDecodeError,
		Events:        opts.Events,
	})
	if err != nil {
		return nil, err
	}
	w.inbox = inbox

	return w, nil
}

// Start begins listening on the control channel.
func (w *Worker) Start() error {
	if err := w.inbox.Start(w.conn); err != nil {
		return err
	}
	w.started = time.Now()
	w.logger.Info("worker started", "concurrency", w.pool.Size())
	w.publish(events.WorkerStarted, map[string]any{"worker": w.hostname})
	return nil
}

// Shutdown tears the control channel down. Terminal.
func (w *Worker) Shutdown() {
	w.logger.Info("worker shutting down")
	w.publish(events.WorkerStopping, map[string]any{"worker": w.hostname})
	w.inbox.Shutdown(w.conn)
	w.pool.interrupt()
	w.Quit()
}

// Inbox exposes the control inbox (status reporting, tests).
func (w *Worker) Inbox() *control.Inbox {
	return w.inbox
}

// Submit runs a task on the pool unless its id has been revoked.
func (w *Worker) Submit(ctx context.Context, taskID string, fn func(context.Context) error) error {
	if w.revoked.Contains(taskID) {
		w.publish(events.TaskRevoked, map[string]any{"worker": w.hostname, "task_id": taskID})
		return fmt.Errorf("%w: %s", ErrTaskRevoked, taskID)
	}

	w.publish(events.TaskStarted, map[string]any{"worker": w.hostname, "task_id": taskID})
	err := w.pool.Run(ctx, taskID, fn)
	w.publish(events.TaskCompleted, map[string]any{"worker": w.hostname, "task_id": taskID})
	return err
}

// Done is closed once a shutdown has been requested, either locally or via
// the control channel.
func (w *Worker) Done() <-chan struct{} {
	return w.quitCh
}

// --- control.Worker ---

func (w *Worker) Hostname() string {
	return w.hostname
}

// Quit requests a graceful shutdown without blocking; the owner of the
// worker observes Done and performs the actual teardown.
func (w *Worker) Quit() {
	w.quitOnce.Do(func() { close(w.quitCh) })
}

func (w *Worker) Revoke(taskID string) error {
	return w.revoked.Add(context.Background(), taskID)
}

func (w *Worker) Revoked() ([]string, error) {
	return w.revoked.All(context.Background())
}

func (w *Worker) PoolGrow(n int) (int, error) {
	size, err := w.pool.Grow(n)
	if err == nil {
		w.logger.Info("pool grown", "pool_size", size)
	}
	return size, err
}

func (w *Worker) PoolShrink(n int) (int, error) {
	size, err := w.pool.Shrink(n)
	if err == nil {
		w.logger.Info("pool shrunk", "pool_size", size)
	}
	return size, err
}

func (w *Worker) PoolSize() int {
	return w.pool.Size()
}

func (w *Worker) Active() []string {
	return w.pool.Active()
}

func (w *Worker) Stats() map[string]any {
	stats := map[string]any{
		"hostname":  w.hostname,
		"pool_size": w.pool.Size(),
		"active":    w.pool.ActiveCount(),
		"clock":     w.clock.Value(),
		"state":     w.inbox.State().String(),
	}
	if !w.started.IsZero() {
		stats["uptime_seconds"] = int(time.Since(w.started).Seconds())
	}
	if revoked, err := w.revoked.All(context.Background()); err == nil {
		stats["revoked"] = len(revoked)
	}
	return stats
}

func (w *Worker) publish(eventType string, data any) {
	if w.events != nil {
		w.events.Publish(eventType, data)
	}
}
