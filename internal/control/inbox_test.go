package control

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/foreman/internal/broadcast"
	"github.com/mattjoyce/foreman/internal/broadcast/mocks"
	"github.com/mattjoyce/foreman/internal/clock"
	"github.com/mattjoyce/foreman/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

// fakeTransport counts channel opens/closes and consumer starts/cancels,
// and lets tests inject deliveries as if the broker's delivery loop called
// the consumer callback.
type fakeTransport struct {
	opened  int
	closed  int
	cancels int

	channelErr error
	closeErr   error
	cancelErr  error

	channels []*fakeChannel
}

type fakeChannel struct {
	t      *fakeTransport
	closed bool

	onMessage     func(broadcast.Delivery)
	onDecodeError func(error)
}

type fakeConsumer struct {
	ch        *fakeChannel
	cancelled bool
}

func (t *fakeTransport) Channel() (broadcast.Channel, error) {
	if t.channelErr != nil {
		return nil, t.channelErr
	}
	t.opened++
	ch := &fakeChannel{t: t}
	t.channels = append(t.channels, ch)
	return ch, nil
}

func (t *fakeTransport) Close() error {
	for _, ch := range t.channels {
		_ = ch.Close()
	}
	return nil
}

func (t *fakeTransport) current() *fakeChannel {
	if len(t.channels) == 0 {
		return nil
	}
	return t.channels[len(t.channels)-1]
}

// deliver pushes a command envelope through the most recent consumer the
// way a broker's delivery loop would.
func (t *fakeTransport) deliver(msg broadcast.Message) {
	ch := t.current()
	if ch == nil || ch.onMessage == nil {
		panic("fakeTransport: no active consumer")
	}
	ch.onMessage(broadcast.Delivery{Message: msg})
}

func (c *fakeChannel) Publish(exchange, key string, body []byte) error {
	if c.closed {
		return fmt.Errorf("publish on closed channel")
	}
	return nil
}

func (c *fakeChannel) Listen(addr broadcast.Address, onMessage func(broadcast.Delivery), onDecodeError func(error)) (broadcast.Consumer, error) {
	c.onMessage = onMessage
	c.onDecodeError = onDecodeError
	return &fakeConsumer{ch: c}, nil
}

func (c *fakeChannel) Close() error {
	if !c.closed {
		c.closed = true
		c.t.closed++
	}
	return c.t.closeErr
}

func (c *fakeConsumer) Cancel() error {
	c.cancelled = true
	c.ch.t.cancels++
	return c.ch.t.cancelErr
}

func newTestInbox(t *testing.T, reg *Registry) (*Inbox, *fakeTransport, *clock.Clock) {
	t.Helper()

	lc := clock.New(0)
	inbox, err := NewInbox(InboxConfig{
		Hostname:     "w1@host",
		Registry:     reg,
		Context:      &Context{Hostname: "w1@host", Clock: lc},
		ForwardClock: lc.Forward,
	})
	require.NoError(t, err)
	return inbox, &fakeTransport{}, lc
}

func TestNewInboxValidation(t *testing.T) {
	lc := clock.New(0)

	_, err := NewInbox(InboxConfig{Registry: NewRegistry(), ForwardClock: lc.Forward})
	assert.Error(t, err)

	_, err = NewInbox(InboxConfig{Hostname: "w1@host", ForwardClock: lc.Forward})
	assert.Error(t, err)

	_, err = NewInbox(InboxConfig{Hostname: "w1@host", Registry: NewRegistry()})
	assert.Error(t, err)
}

func TestStartStopChannelParity(t *testing.T) {
	inbox, conn, _ := newTestInbox(t, NewRegistry())

	for i := 0; i < 5; i++ {
		require.NoError(t, inbox.Start(conn))
		assert.Equal(t, Listening, inbox.State())
		inbox.Stop(conn)
		assert.Equal(t, Stopped, inbox.State())
	}

	assert.Equal(t, 5, conn.opened)
	assert.Equal(t, 5, conn.closed)
}

func TestStopIsIdempotent(t *testing.T) {
	inbox, conn, _ := newTestInbox(t, NewRegistry())

	require.NoError(t, inbox.Start(conn))
	inbox.Stop(conn)
	inbox.Stop(conn)
	inbox.Stop(conn)

	assert.Equal(t, Stopped, inbox.State())
	assert.Equal(t, 1, conn.closed)
}

func TestStartPropagatesTransportError(t *testing.T) {
	inbox, conn, _ := newTestInbox(t, NewRegistry())
	conn.channelErr = errors.New("broker unreachable")

	err := inbox.Start(conn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unreachable")
	assert.Equal(t, Stopped, inbox.State())
}

func TestPingScenario(t *testing.T) {
	reg := NewRegistry()
	invoked := 0
	reg.Register("ping", func(ctx *Context, args Arguments) (any, error) {
		invoked++
		return "pong", nil
	})

	inbox, conn, lc := newTestInbox(t, reg)
	require.NoError(t, inbox.Start(conn))

	conn.deliver(broadcast.Message{Command: "ping"})

	assert.Equal(t, 1, invoked)
	assert.Equal(t, uint64(1), lc.Value())
	assert.Equal(t, Listening, inbox.State())
	assert.Equal(t, 1, conn.opened)
	assert.Equal(t, 0, conn.closed)
}

func TestUnknownCommandKeepsChannel(t *testing.T) {
	inbox, conn, lc := newTestInbox(t, NewRegistry())
	require.NoError(t, inbox.Start(conn))

	before := conn.current()
	conn.deliver(broadcast.Message{Command: "ping"})

	assert.Equal(t, Listening, inbox.State())
	assert.Same(t, before, conn.current())
	assert.Equal(t, 0, conn.closed)
	assert.Equal(t, uint64(1), lc.Value())
}

func TestHandlerErrorTriggersReset(t *testing.T) {
	reg := NewRegistry()
	reg.Register("boom", func(ctx *Context, args Arguments) (any, error) {
		return nil, errors.New("kaboom")
	})

	inbox, conn, lc := newTestInbox(t, reg)
	require.NoError(t, inbox.Start(conn))

	before := conn.current()
	conn.deliver(broadcast.Message{Command: "boom"})

	// Exactly one stop then one start: old channel closed, a distinct new
	// one opened, and the inbox is listening again.
	assert.Equal(t, 1, conn.closed)
	assert.Equal(t, 2, conn.opened)
	assert.NotSame(t, before, conn.current())
	assert.True(t, before.closed)
	assert.Equal(t, Listening, inbox.State())
	assert.Equal(t, uint64(1), lc.Value())
}

func TestClockAdvancedOncePerMessage(t *testing.T) {
	reg := NewRegistry()
	reg.Register("ok", func(ctx *Context, args Arguments) (any, error) { return nil, nil })
	reg.Register("boom", func(ctx *Context, args Arguments) (any, error) { return nil, errors.New("kaboom") })

	inbox, conn, lc := newTestInbox(t, reg)
	require.NoError(t, inbox.Start(conn))

	conn.deliver(broadcast.Message{Command: "ok"})      // known
	conn.deliver(broadcast.Message{Command: "missing"}) // unknown
	conn.deliver(broadcast.Message{Command: "boom"})    // handler error

	assert.Equal(t, uint64(3), lc.Value())
}

func TestShutdownWhileListening(t *testing.T) {
	inbox, conn, _ := newTestInbox(t, NewRegistry())
	require.NoError(t, inbox.Start(conn))

	inbox.Shutdown(conn)

	assert.Equal(t, Stopped, inbox.State())
	assert.Equal(t, 1, conn.cancels)
	assert.Equal(t, 1, conn.closed)
}

func TestShutdownSuppressesCleanupErrors(t *testing.T) {
	inbox, conn, _ := newTestInbox(t, NewRegistry())
	require.NoError(t, inbox.Start(conn))

	conn.closeErr = errors.New("connection already gone")
	conn.cancelErr = errors.New("cancel failed")

	assert.NotPanics(t, func() { inbox.Shutdown(conn) })
	assert.Equal(t, Stopped, inbox.State())
}

func TestShutdownWhenStopped(t *testing.T) {
	inbox, conn, _ := newTestInbox(t, NewRegistry())

	assert.NotPanics(t, func() { inbox.Shutdown(conn) })
	assert.Equal(t, Stopped, inbox.State())
	assert.Equal(t, 0, conn.cancels)
}

func TestOnStopHook(t *testing.T) {
	inbox, conn, _ := newTestInbox(t, NewRegistry())
	calls := 0
	inbox.OnStop = func() { calls++ }

	require.NoError(t, inbox.Start(conn))
	inbox.Stop(conn)
	assert.Equal(t, 1, calls)

	require.NoError(t, inbox.Start(conn))
	inbox.Shutdown(conn)
	// Shutdown runs the hook itself and again via Stop.
	assert.Equal(t, 3, calls)
}

func TestResetRearmsStoppedInbox(t *testing.T) {
	reg := NewRegistry()
	reg.Register("ok", func(ctx *Context, args Arguments) (any, error) { return nil, nil })

	inbox, conn, lc := newTestInbox(t, reg)
	require.NoError(t, inbox.Start(conn))
	require.NoError(t, inbox.Reset())

	assert.Equal(t, Listening, inbox.State())
	assert.Equal(t, 2, conn.opened)
	assert.Equal(t, 1, conn.closed)

	conn.deliver(broadcast.Message{Command: "ok"})
	assert.Equal(t, uint64(1), lc.Value())
}

// TestShutdownCallOrder pins the teardown sequence against the transport:
// consumer cancel first, then channel close.
func TestShutdownCallOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockConn := mocks.NewMockConnection(ctrl)
	mockChan := mocks.NewMockChannel(ctrl)
	mockCons := mocks.NewMockConsumer(ctrl)

	lc := clock.New(0)
	inbox, err := NewInbox(InboxConfig{
		Hostname:     "w1@host",
		Registry:     NewRegistry(),
		Context:      &Context{Hostname: "w1@host", Clock: lc},
		ForwardClock: lc.Forward,
	})
	require.NoError(t, err)

	mockConn.EXPECT().Channel().Return(mockChan, nil)
	mockChan.EXPECT().Listen(broadcast.NodeAddress("w1@host"), gomock.Any(), gomock.Any()).Return(mockCons, nil)
	gomock.InOrder(
		mockCons.EXPECT().Cancel().Return(errors.New("ignored")),
		mockChan.EXPECT().Close().Return(errors.New("ignored")),
	)

	require.NoError(t, inbox.Start(mockConn))
	inbox.Shutdown(mockConn)
	assert.Equal(t, Stopped, inbox.State())
}
