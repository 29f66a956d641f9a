package broadcast

import (
	"sync"
	"sync/atomic"
)

// Broker is an in-memory implementation of the transport contract.
// Deliveries run synchronously on the publisher's goroutine, which mirrors
// a transport invoking consumer callbacks from its own delivery loop.
type Broker struct {
	mu       sync.Mutex
	bindings map[string][]*binding // exchange -> queue bindings
	queues   map[string]*memQueue
	closed   bool
}

type binding struct {
	key string
	q   *memQueue
}

type memQueue struct {
	name string

	mu        sync.Mutex
	consumers []*memConsumer
}

// NewBroker creates an empty in-memory broker.
func NewBroker() *Broker {
	return &Broker{
		bindings: make(map[string][]*binding),
		queues:   make(map[string]*memQueue),
	}
}

// Connect returns a new Connection to the broker.
func (b *Broker) Connect() (Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, &ErrClosed{What: "broker"}
	}
	return &memConn{broker: b}, nil
}

// Close shuts the broker down. Existing connections fail on next use.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

func (b *Broker) declare(addr Address) *memQueue {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[addr.Queue]
	if !ok {
		q = &memQueue{name: addr.Queue}
		b.queues[addr.Queue] = q
	}
	for _, bd := range b.bindings[addr.Exchange] {
		if bd.q == q && bd.key == addr.Key {
			return q
		}
	}
	b.bindings[addr.Exchange] = append(b.bindings[addr.Exchange], &binding{key: addr.Key, q: q})
	return q
}

func (b *Broker) publish(exchange, key string, body []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return &ErrClosed{What: "broker"}
	}
	// Snapshot bindings so delivery runs without the broker lock; a handler
	// may tear down and rebuild its own channel mid-delivery.
	targets := make([]*memQueue, 0, len(b.bindings[exchange]))
	for _, bd := range b.bindings[exchange] {
		if bd.key == "" || bd.key == key {
			targets = append(targets, bd.q)
		}
	}
	b.mu.Unlock()

	for _, q := range targets {
		q.deliver(body)
	}
	return nil
}

func (q *memQueue) deliver(body []byte) {
	q.mu.Lock()
	consumers := make([]*memConsumer, len(q.consumers))
	copy(consumers, q.consumers)
	q.mu.Unlock()

	for _, c := range consumers {
		c.deliver(body)
	}
}

func (q *memQueue) add(c *memConsumer) {
	q.mu.Lock()
	q.consumers = append(q.consumers, c)
	q.mu.Unlock()
}

func (q *memQueue) remove(c *memConsumer) {
	q.mu.Lock()
	for i, cur := range q.consumers {
		if cur == c {
			q.consumers = append(q.consumers[:i], q.consumers[i+1:]...)
			break
		}
	}
	q.mu.Unlock()
}

type memConn struct {
	broker *Broker

	mu     sync.Mutex
	closed bool
}

func (c *memConn) Channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, &ErrClosed{What: "connection"}
	}
	c.broker.mu.Lock()
	brokerClosed := c.broker.closed
	c.broker.mu.Unlock()
	if brokerClosed {
		return nil, &ErrClosed{What: "broker"}
	}
	return &memChannel{conn: c}, nil
}

// Close marks the connection closed. Channels already open keep working
// against the broker; new channels fail.
func (c *memConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

type memChannel struct {
	conn *memConn

	mu        sync.Mutex
	closed    bool
	consumers []*memConsumer
}

func (ch *memChannel) Publish(exchange, key string, body []byte) error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return &ErrClosed{What: "channel"}
	}
	ch.mu.Unlock()
	return ch.conn.broker.publish(exchange, key, body)
}

func (ch *memChannel) Listen(addr Address, onMessage func(Delivery), onDecodeError func(error)) (Consumer, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return nil, &ErrClosed{What: "channel"}
	}

	q := ch.conn.broker.declare(addr)
	c := &memConsumer{
		q:             q,
		onMessage:     onMessage,
		onDecodeError: onDecodeError,
	}
	q.add(c)
	ch.consumers = append(ch.consumers, c)
	return c, nil
}

func (ch *memChannel) Close() error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return &ErrClosed{What: "channel"}
	}
	ch.closed = true
	consumers := ch.consumers
	ch.consumers = nil
	ch.mu.Unlock()

	for _, c := range consumers {
		_ = c.Cancel()
	}
	return nil
}

type memConsumer struct {
	q             *memQueue
	onMessage     func(Delivery)
	onDecodeError func(error)
	cancelled     atomic.Bool
}

func (c *memConsumer) deliver(body []byte) {
	// Checked immediately before invoking the callback: once Cancel returns
	// no new deliveries begin.
	if c.cancelled.Load() {
		return
	}
	msg, err := DecodeMessage(body)
	if err != nil {
		if c.onDecodeError != nil {
			c.onDecodeError(err)
		}
		return
	}
	c.onMessage(Delivery{Message: *msg, Raw: body})
}

func (c *memConsumer) Cancel() error {
	if c.cancelled.Swap(true) {
		return nil
	}
	c.q.remove(c)
	return nil
}
