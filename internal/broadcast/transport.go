// Package broadcast defines the transport contract for the worker control
// channel: a publish/subscribe broker where a command sent by one party is
// received by every listening node, plus direct reply routing back to the
// sender. An in-memory broker implementing the contract ships with the
// package for single-process deployments and tests.
package broadcast

import "fmt"

const (
	// Namespace is the fanout exchange all control nodes listen on.
	Namespace = "foreman.pidbox"

	// ReplyExchange carries replies routed back to a requester by ticket.
	ReplyExchange = "reply." + Namespace
)

// Address names the endpoint a consumer binds to. An empty Key means the
// binding receives every message published to the exchange (fanout); a
// non-empty Key receives only messages published with a matching key.
type Address struct {
	Exchange string
	Queue    string
	Key      string
}

// NodeAddress derives the broadcast address for a worker identity. Every
// node gets its own queue so a broadcast reaches all of them.
func NodeAddress(hostname string) Address {
	return Address{
		Exchange: Namespace,
		Queue:    fmt.Sprintf("%s.%s", hostname, Namespace),
	}
}

// ReplyAddress derives the reply endpoint for a request ticket.
func ReplyAddress(ticket string) Address {
	return Address{
		Exchange: ReplyExchange,
		Queue:    fmt.Sprintf("%s.%s", ticket, ReplyExchange),
		Key:      ticket,
	}
}

// Delivery is one inbound message handed to a consumer callback. The
// callback runs on the transport's delivery goroutine; handlers must be
// quick or hand work off.
type Delivery struct {
	Message Message
	Raw     []byte
}

//go:generate mockgen -destination=mocks/mock_broadcast.go -package=mocks github.com/mattjoyce/foreman/internal/broadcast Connection,Channel,Consumer

// Connection is a live link to a broker. Channels are cheap sessions
// multiplexed over it.
type Connection interface {
	// Channel opens a new channel. Fails if the connection is closed.
	Channel() (Channel, error)

	// Close tears the connection and its channels down. Cleanup paths
	// ignore the returned error.
	Close() error
}

// Channel is a session owned by exactly one component at a time.
type Channel interface {
	// Publish sends an encoded envelope to an exchange. The key is ignored
	// by fanout bindings.
	Publish(exchange, key string, body []byte) error

	// Listen declares the address and starts a consumer. onMessage receives
	// each decoded envelope; onDecodeError receives payloads that fail
	// envelope decoding (they are never surfaced through onMessage).
	Listen(addr Address, onMessage func(Delivery), onDecodeError func(error)) (Consumer, error)

	// Close tears the channel down, cancelling its consumers. Cleanup paths
	// ignore the returned error.
	Close() error
}

// Consumer is an active subscription. After Cancel returns no new
// deliveries begin on its callback.
type Consumer interface {
	Cancel() error
}

// ErrClosed is returned for operations on a closed connection, channel or
// broker.
type ErrClosed struct {
	What string
}

func (e *ErrClosed) Error() string {
	return fmt.Sprintf("broadcast: %s is closed", e.What)
}
