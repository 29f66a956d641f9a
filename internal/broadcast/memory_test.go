package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, m *Message) []byte {
	t.Helper()
	body, err := EncodeMessage(m)
	require.NoError(t, err)
	return body
}

func listen(t *testing.T, ch Channel, addr Address, got *[]Delivery) Consumer {
	t.Helper()
	cons, err := ch.Listen(addr, func(d Delivery) {
		*got = append(*got, d)
	}, nil)
	require.NoError(t, err)
	return cons
}

func TestBroadcastReachesAllNodes(t *testing.T) {
	broker := NewBroker()
	conn, err := broker.Connect()
	require.NoError(t, err)
	ch, err := conn.Channel()
	require.NoError(t, err)

	var gotA, gotB []Delivery
	listen(t, ch, NodeAddress("w1@host"), &gotA)
	listen(t, ch, NodeAddress("w2@host"), &gotB)

	body := encode(t, &Message{Command: "ping"})
	require.NoError(t, ch.Publish(Namespace, "", body))

	require.Len(t, gotA, 1)
	require.Len(t, gotB, 1)
	assert.Equal(t, "ping", gotA[0].Message.Command)
	assert.Equal(t, "ping", gotB[0].Message.Command)
}

func TestReplyRoutedByTicket(t *testing.T) {
	broker := NewBroker()
	conn, err := broker.Connect()
	require.NoError(t, err)
	ch, err := conn.Channel()
	require.NoError(t, err)

	var mine, other []Delivery
	listen(t, ch, ReplyAddress("ticket-1"), &mine)
	listen(t, ch, ReplyAddress("ticket-2"), &other)

	body := encode(t, &Message{Ticket: "ticket-1", Hostname: "w1@host"})
	require.NoError(t, ch.Publish(ReplyExchange, "ticket-1", body))

	require.Len(t, mine, 1)
	assert.Empty(t, other)
	assert.Equal(t, "w1@host", mine[0].Message.Hostname)
}

func TestDecodeErrorGoesToCallback(t *testing.T) {
	broker := NewBroker()
	conn, err := broker.Connect()
	require.NoError(t, err)
	ch, err := conn.Channel()
	require.NoError(t, err)

	var got []Delivery
	var decodeErrs []error
	_, err = ch.Listen(NodeAddress("w1@host"), func(d Delivery) {
		got = append(got, d)
	}, func(err error) {
		decodeErrs = append(decodeErrs, err)
	})
	require.NoError(t, err)

	require.NoError(t, ch.Publish(Namespace, "", []byte("not json")))
	require.NoError(t, ch.Publish(Namespace, "", []byte(`{"arguments":{}}`)))

	assert.Empty(t, got)
	assert.Len(t, decodeErrs, 2)
}

func TestCancelStopsDelivery(t *testing.T) {
	broker := NewBroker()
	conn, err := broker.Connect()
	require.NoError(t, err)
	ch, err := conn.Channel()
	require.NoError(t, err)

	var got []Delivery
	cons := listen(t, ch, NodeAddress("w1@host"), &got)

	body := encode(t, &Message{Command: "ping"})
	require.NoError(t, ch.Publish(Namespace, "", body))
	require.NoError(t, cons.Cancel())
	require.NoError(t, ch.Publish(Namespace, "", body))

	assert.Len(t, got, 1)

	// Cancel is idempotent.
	assert.NoError(t, cons.Cancel())
}

func TestChannelCloseCancelsConsumers(t *testing.T) {
	broker := NewBroker()
	conn, err := broker.Connect()
	require.NoError(t, err)
	chA, err := conn.Channel()
	require.NoError(t, err)
	chB, err := conn.Channel()
	require.NoError(t, err)

	var got []Delivery
	listen(t, chA, NodeAddress("w1@host"), &got)

	require.NoError(t, chA.Close())

	body := encode(t, &Message{Command: "ping"})
	require.NoError(t, chB.Publish(Namespace, "", body))
	assert.Empty(t, got)

	// Operations on the closed channel fail.
	err = chA.Publish(Namespace, "", body)
	var closed *ErrClosed
	assert.ErrorAs(t, err, &closed)
}

func TestClosedConnectionRefusesChannels(t *testing.T) {
	broker := NewBroker()
	conn, err := broker.Connect()
	require.NoError(t, err)

	// Close is part of the Connection contract so owners can defer it.
	require.NoError(t, conn.Close())

	_, err = conn.Channel()
	var closed *ErrClosed
	require.ErrorAs(t, err, &closed)
	assert.Equal(t, "connection", closed.What)
}

func TestClosedBrokerRefusesEverything(t *testing.T) {
	broker := NewBroker()
	conn, err := broker.Connect()
	require.NoError(t, err)
	ch, err := conn.Channel()
	require.NoError(t, err)

	broker.Close()

	_, err = broker.Connect()
	assert.Error(t, err)
	_, err = conn.Channel()
	assert.Error(t, err)
	assert.Error(t, ch.Publish(Namespace, "", encode(t, &Message{Command: "ping"})))
}
