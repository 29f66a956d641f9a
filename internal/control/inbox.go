// Package control implements the remote-control channel of a worker
// process: an addressable inbox bound to the worker's identity on a shared
// broadcast transport, a registry of command handlers, and the
// failure-containment protocol that keeps the channel alive across handler
// errors and transport faults.
package control

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/foreman/internal/broadcast"
	"github.com/mattjoyce/foreman/internal/events"
	"github.com/mattjoyce/foreman/internal/log"
)

// State is the inbox lifecycle state.
type State int

const (
	Stopped State = iota
	Listening
)

func (s State) String() string {
	if s == Listening {
		return "listening"
	}
	return "stopped"
}

// InboxConfig is the worker context snapshotted into an Inbox at
// construction.
type InboxConfig struct {
	// Hostname is the worker identity the inbox address derives from.
	Hostname string

	// Registry maps command names to handlers. Read-only from here on.
	Registry *Registry

	// Context is the shared handler context (worker handle, clock).
	Context *Context

	// ForwardClock advances the process logical clock. Called once per
	// inbound message, before anything else.
	ForwardClock func() uint64

	// OnDecodeError receives payloads the transport could not decode.
	// Optional.
	OnDecodeError func(error)

	// Events receives observability events. Optional.
	Events *events.Hub
}

// Inbox owns one control-channel endpoint: the node, the live channel and
// the active consumer. Lifecycle calls (Start/Stop/Reset/Shutdown) must be
// serialized by the caller; dispatch runs on the transport's delivery
// goroutine.
type Inbox struct {
	cfg    InboxConfig
	node   *Node
	logger *slog.Logger

	conn     broadcast.Connection
	channel  broadcast.Channel
	consumer broadcast.Consumer

	// OnStop is an extension hook invoked at the top of Stop and
	// Shutdown. No-op when nil.
	OnStop func()
}

// NewInbox constructs the inbox. No I/O happens here; the returned inbox
// is Stopped. Fails only on a missing identity, registry or clock, which
// is a programmer error.
func NewInbox(cfg InboxConfig) (*Inbox, error) {
	if cfg.Hostname == "" {
		return nil, fmt.Errorf("control: inbox requires a hostname")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("control: inbox requires a registry")
	}
	if cfg.ForwardClock == nil {
		return nil, fmt.Errorf("control: inbox requires a clock forward func")
	}

	return &Inbox{
		cfg:    cfg,
		node:   NewNode(cfg.Hostname, cfg.Registry, cfg.Context),
		logger: log.WithComponent("control").With("worker", cfg.Hostname),
	}, nil
}

// State reports the current lifecycle state.
func (p *Inbox) State() State {
	if p.consumer != nil {
		return Listening
	}
	return Stopped
}

// Start opens a channel from conn, binds it to the node and begins the
// broadcast consumer. Transport errors propagate to the caller: the
// surrounding worker owns connection-level retry.
func (p *Inbox) Start(conn broadcast.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("control: open channel: %w", err)
	}

	p.node.Bind(ch)
	p.channel = ch

	consumer, err := p.node.Listen(p.onMessage, p.cfg.OnDecodeError)
	if err != nil {
		// Don't leak the freshly opened channel.
		ignoreErrors(ch.Close)
		p.channel = nil
		p.node.Bind(nil)
		return fmt.Errorf("control: start consumer: %w", err)
	}

	p.consumer = consumer
	p.conn = conn

	p.logger.Info("control inbox listening", "queue", p.node.Address().Queue)
	p.publish(events.InboxStarted, map[string]any{"worker": p.cfg.Hostname})
	return nil
}

// Stop invokes the on-stop hook and closes the current channel,
// suppressing any error: best-effort cleanup commonly runs on an already
// broken connection and must never block teardown. Idempotent.
func (p *Inbox) Stop(conn broadcast.Connection) {
	if p.OnStop != nil {
		p.OnStop()
	}
	p.closeChannel()
	if p.consumer != nil {
		p.consumer = nil
		p.publish(events.InboxStopped, map[string]any{"worker": p.cfg.Hostname})
	}
}

// Reset tears the channel down and rebuilds it from the stored context:
// stop, then start on the same connection. Used both as the error-recovery
// path from dispatch and as a general re-arm primitive.
func (p *Inbox) Reset() error {
	p.logger.Warn("resetting control inbox")
	p.publish(events.InboxReset, map[string]any{"worker": p.cfg.Hostname})
	p.Stop(p.conn)
	return p.Start(p.conn)
}

// Shutdown is the terminal teardown: hook, consumer cancel, stop. Cancel
// and close errors are suppressed. The inbox must not be started again.
func (p *Inbox) Shutdown(conn broadcast.Connection) {
	if p.OnStop != nil {
		p.OnStop()
	}
	if p.consumer != nil {
		p.logger.Debug("cancelling broadcast consumer")
		ignoreErrors(p.consumer.Cancel)
	}
	p.Stop(conn)
}

// onMessage is the hot path, invoked once per inbound broadcast message on
// the transport's delivery goroutine. Every fault is contained here;
// nothing propagates back into the delivery loop.
func (p *Inbox) onMessage(d broadcast.Delivery) {
	// Forward the clock before dispatch so causality is preserved even if
	// dispatch fails. Control clients usually have no valid clock of
	// their own to adjust with.
	p.cfg.ForwardClock()

	err := p.node.HandleMessage(&d.Message)
	if err == nil {
		if !d.Message.IsReply() {
			p.publish(events.CommandReceived, map[string]any{
				"worker":  p.cfg.Hostname,
				"command": d.Message.Command,
			})
		}
		return
	}

	var unknown *UnknownCommandError
	if errors.As(err, &unknown) {
		p.logger.Error("no such control command", "command", unknown.Name)
		p.publish(events.CommandUnknown, map[string]any{
			"worker":  p.cfg.Hostname,
			"command": unknown.Name,
		})
		return
	}

	p.logger.Error("control command error", "command", d.Message.Command, "error", err)
	p.publish(events.CommandFailed, map[string]any{
		"worker":  p.cfg.Hostname,
		"command": d.Message.Command,
		"error":   err.Error(),
	})
	if rerr := p.Reset(); rerr != nil {
		p.logger.Error("control inbox reset failed", "error", rerr)
	}
}

func (p *Inbox) closeChannel() {
	if p.channel != nil {
		ignoreErrors(p.channel.Close)
		p.channel = nil
		p.node.Bind(nil)
	}
}

func (p *Inbox) publish(eventType string, data any) {
	if p.cfg.Events != nil {
		p.cfg.Events.Publish(eventType, data)
	}
}

// ignoreErrors swallows errors (and panics) from best-effort cleanup
// calls.
func ignoreErrors(fn func() error) {
	defer func() {
		_ = recover()
	}()
	_ = fn()
}
