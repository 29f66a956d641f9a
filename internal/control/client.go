package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/foreman/internal/broadcast"
	"github.com/mattjoyce/foreman/internal/log"
)

// Reply is one worker's answer to a broadcast command.
type Reply struct {
	Hostname string          `json:"hostname"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Client broadcasts control commands to worker nodes. Each call opens a
// short-lived channel and closes it before returning.
type Client struct {
	conn   broadcast.Connection
	logger *slog.Logger
}

// NewClient wraps a broker connection for command broadcasting.
func NewClient(conn broadcast.Connection) *Client {
	return &Client{
		conn:   conn,
		logger: log.WithComponent("control-client"),
	}
}

// Broadcast publishes a fire-and-forget command to every listening node.
func (c *Client) Broadcast(command string, args map[string]any) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("control: open channel: %w", err)
	}
	defer ignoreErrors(ch.Close)

	body, err := broadcast.EncodeMessage(&broadcast.Message{
		ID:        uuid.NewString(),
		Command:   command,
		Arguments: args,
	})
	if err != nil {
		return err
	}
	if err := ch.Publish(broadcast.Namespace, "", body); err != nil {
		return fmt.Errorf("control: broadcast %s: %w", command, err)
	}

	c.logger.Debug("command broadcast", "command", command)
	return nil
}

// BroadcastReply publishes a command and collects replies until limit
// replies arrived, timeout elapsed, or ctx was cancelled. Fewer replies
// than limit is not an error: workers may be gone or slow.
func (c *Client) BroadcastReply(ctx context.Context, command string, args map[string]any, limit int, timeout time.Duration) ([]Reply, error) {
	if limit <= 0 {
		limit = 1
	}
	if timeout <= 0 {
		timeout = time.Second
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("control: open channel: %w", err)
	}
	defer ignoreErrors(ch.Close)

	ticket := uuid.NewString()
	replies := make(chan Reply, limit)

	consumer, err := ch.Listen(broadcast.ReplyAddress(ticket), func(d broadcast.Delivery) {
		r := Reply{
			Hostname: d.Message.Hostname,
			Result:   d.Message.Result,
			Error:    d.Message.Error,
		}
		select {
		case replies <- r:
		default:
		}
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("control: listen for replies: %w", err)
	}
	defer ignoreErrors(consumer.Cancel)

	body, err := broadcast.EncodeMessage(&broadcast.Message{
		ID:        uuid.NewString(),
		Command:   command,
		Arguments: args,
		ReplyTo:   ticket,
		Ticket:    ticket,
	})
	if err != nil {
		return nil, err
	}
	if err := ch.Publish(broadcast.Namespace, "", body); err != nil {
		return nil, fmt.Errorf("control: broadcast %s: %w", command, err)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var out []Reply
	for len(out) < limit {
		select {
		case r := <-replies:
			out = append(out, r)
		case <-deadline.C:
			return out, nil
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
	return out, nil
}
