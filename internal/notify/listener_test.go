package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeConn replays queued notifications. Closing queue makes the next wait
// report a dropped connection.
type fakeConn struct {
	mu       sync.Mutex
	listened []string
	queue    chan *pgconn.Notification
	closed   atomic.Bool
}

func newFakeConn(notifs ...*pgconn.Notification) *fakeConn {
	q := make(chan *pgconn.Notification, len(notifs)+16)
	for _, n := range notifs {
		q <- n
	}
	return &fakeConn{queue: q}
}

func (c *fakeConn) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listened = append(c.listened, sql)
	return pgconn.NewCommandTag("LISTEN"), nil
}

func (c *fakeConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case n, ok := <-c.queue:
		if !ok {
			return nil, errors.New("conn closed by server")
		}
		return n, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Close(context.Context) error {
	c.closed.Store(true)
	return nil
}

func (c *fakeConn) statements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.listened...)
}

func notification(channel, payload string) *pgconn.Notification {
	return &pgconn.Notification{Channel: channel, Payload: payload}
}

func newTestListener(t *testing.T, hub *Hub, dial Dialer) *Listener {
	t.Helper()
	l, err := NewListener(zap.NewNop(), hub, dial, ListenerConfig{
		MinBackoff: time.Millisecond,
		MaxBackoff: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	return l
}

func TestNewListener_RejectsUnknownChannel(t *testing.T) {
	req := require.New(t)

	_, err := NewListener(zap.NewNop(), NewHub(1), nil, ListenerConfig{Channels: []string{"chat_updated", "user_updated"}})

	req.ErrorIs(err, ErrUnknownChannel)
}

func TestListener_Dispatch(t *testing.T) {
	req := require.New(t)
	hub := NewHub(8)
	l := newTestListener(t, hub, nil)

	// Given users 1, 2 and 5 are connected
	rx := map[int64]*Receiver[Event]{}
	for _, id := range []int64{1, 2, 5} {
		rx[id] = hub.GetOrCreate(id).Subscribe()
		defer rx[id].Close()
	}

	// When a malformed payload arrives, followed by a well-formed one
	l.Dispatch(ChannelChatUpdated, `{"old":null,"new":null}`)
	l.Dispatch(ChannelChatUpdated, fmt.Sprintf(`{"op":"INSERT","old":null,"new":%s}`, publicChat))

	// Then the bad one is dropped and the good one reaches members 1 and 2 only
	for _, id := range []int64{1, 2} {
		ev, err := rx[id].TryRecv()
		req.NoError(err)
		req.IsType(&NewChat{}, ev)
		_, err = rx[id].TryRecv()
		req.ErrorIs(err, ErrEmpty)
	}
	_, err := rx[5].TryRecv()
	req.ErrorIs(err, ErrEmpty)
}

func TestListener_SharesOneEventAcrossRecipients(t *testing.T) {
	req := require.New(t)
	hub := NewHub(8)
	l := newTestListener(t, hub, nil)

	rx1 := hub.GetOrCreate(1).Subscribe()
	rx2 := hub.GetOrCreate(2).Subscribe()
	defer rx1.Close()
	defer rx2.Close()

	l.Dispatch(ChannelChatMessageCreated, `{"message":{"id":13,"chat_id":9,"sender_id":1,"content":"hello","files":[]},"members":[1,2]}`)

	ev1, err := rx1.TryRecv()
	req.NoError(err)
	ev2, err := rx2.TryRecv()
	req.NoError(err)
	req.Same(ev1, ev2)
}

func TestListener_RunListensAndDelivers(t *testing.T) {
	req := require.New(t)
	hub := NewHub(8)
	rx := hub.GetOrCreate(1).Subscribe()
	defer rx.Close()

	conn := newFakeConn(
		notification(ChannelChatUpdated, `not json`),
		notification(ChannelChatMessageCreated, `{"message":{"id":13,"chat_id":9,"sender_id":2,"content":"hello","files":[]},"members":[1,2]}`),
	)
	l := newTestListener(t, hub, func(context.Context) (Conn, error) { return conn, nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- l.Run(ctx) }()

	// Then the message is delivered despite the garbage before it
	ev, err := rx.Recv(withTimeout(t, time.Second))
	req.NoError(err)
	msg, ok := ev.(*NewMessage)
	req.True(ok)
	req.Equal(int64(13), msg.Message.ID)

	req.Equal([]string{`LISTEN "chat_updated"`, `LISTEN "chat_message_created"`}, conn.statements())
	// And the listener settles back into waiting once the message is dispatched
	req.Eventually(func() bool { return l.State() == StateListening }, time.Second, time.Millisecond)

	// And cancelling stops the listener cleanly
	cancel()
	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(time.Second):
		req.Fail("listener did not stop")
	}
	req.True(conn.closed.Load())
}

func TestListener_ReconnectsAfterConnectionLoss(t *testing.T) {
	req := require.New(t)
	hub := NewHub(8)
	rx := hub.GetOrCreate(1).Subscribe()
	defer rx.Close()

	// Given the first dial fails, the second connection drops, the third works
	first := newFakeConn(notification(ChannelChatUpdated, fmt.Sprintf(`{"op":"INSERT","old":null,"new":%s}`, publicChat)))
	close(first.queue)
	second := newFakeConn(notification(ChannelChatUpdated, fmt.Sprintf(`{"op":"DELETE","old":%s,"new":null}`, publicChat)))

	var dials atomic.Int32
	dial := func(context.Context) (Conn, error) {
		switch dials.Add(1) {
		case 1:
			return nil, errors.New("connection refused")
		case 2:
			return first, nil
		default:
			return second, nil
		}
	}
	l := newTestListener(t, hub, dial)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	// Then events from both sessions arrive in order
	ev, err := rx.Recv(withTimeout(t, time.Second))
	req.NoError(err)
	req.IsType(&NewChat{}, ev)

	ev, err = rx.Recv(withTimeout(t, time.Second))
	req.NoError(err)
	req.IsType(&RemoveFromChat{}, ev)

	req.GreaterOrEqual(dials.Load(), int32(3))
	req.True(first.closed.Load())
}

func withTimeout(t *testing.T, d time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}

func TestListenerState_String(t *testing.T) {
	req := require.New(t)
	req.Equal("connecting", StateConnecting.String())
	req.Equal("listening", StateListening.String())
	req.Equal("decoding", StateDecoding.String())
	req.Equal("dispatching", StateDispatching.String())
	req.Equal("failed", StateFailed.String())
}
