package control

import (
	"encoding/json"
	"fmt"

	"github.com/mattjoyce/foreman/internal/broadcast"
)

// Node is the addressable inbox endpoint bound to one worker identity on
// the broadcast transport. It holds the registry and the shared handler
// context, and dispatches decoded envelopes to handlers. The channel it is
// bound to is owned by the surrounding Inbox and swapped on every reset.
type Node struct {
	hostname string
	registry *Registry
	state    *Context
	channel  broadcast.Channel
}

// NewNode binds an identity to a registry and context snapshot.
func NewNode(hostname string, registry *Registry, state *Context) *Node {
	return &Node{
		hostname: hostname,
		registry: registry,
		state:    state,
	}
}

// Bind attaches the node to a live channel (nil detaches).
func (n *Node) Bind(ch broadcast.Channel) {
	n.channel = ch
}

// Channel returns the currently bound channel, nil when detached.
func (n *Node) Channel() broadcast.Channel {
	return n.channel
}

// Address returns the node's broadcast address.
func (n *Node) Address() broadcast.Address {
	return broadcast.NodeAddress(n.hostname)
}

// Listen starts a consumer for the node's address on the bound channel.
func (n *Node) Listen(onMessage func(broadcast.Delivery), onDecodeError func(error)) (broadcast.Consumer, error) {
	if n.channel == nil {
		return nil, fmt.Errorf("node %s: no channel bound", n.hostname)
	}
	return n.channel.Listen(n.Address(), onMessage, onDecodeError)
}

// HandleMessage dispatches one command envelope: registry lookup, handler
// invocation, and reply publication when the sender asked for one. Reply
// envelopes addressed to other parties are ignored. Returns
// *UnknownCommandError for missing commands and *CommandError for handler
// or reply failures; classification is the caller's job.
func (n *Node) HandleMessage(msg *broadcast.Message) error {
	if msg.IsReply() {
		return nil
	}

	handler, err := n.registry.Lookup(msg.Command)
	if err != nil {
		return err
	}

	result, err := handler(n.state, Arguments(msg.Arguments))
	if err != nil {
		return &CommandError{Name: msg.Command, Err: err}
	}

	if msg.ReplyTo != "" {
		if err := n.reply(msg, result); err != nil {
			return &CommandError{Name: msg.Command, Err: err}
		}
	}
	return nil
}

func (n *Node) reply(msg *broadcast.Message, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}

	body, err := broadcast.EncodeMessage(&broadcast.Message{
		Ticket:   msg.Ticket,
		Hostname: n.hostname,
		Result:   raw,
	})
	if err != nil {
		return err
	}

	if err := n.channel.Publish(broadcast.ReplyExchange, msg.ReplyTo, body); err != nil {
		return fmt.Errorf("publish reply: %w", err)
	}
	return nil
}
