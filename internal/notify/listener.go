package notify

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"go-notify/internal/metrics"
)

// Conn is the part of *pgx.Conn the listener needs.
type Conn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Dialer opens a dedicated connection for LISTEN.
type Dialer func(ctx context.Context) (Conn, error)

// PgDialer dials dbURL with pgx. LISTEN needs a connection of its own, so
// it does not come from a pool.
func PgDialer(dbURL string) Dialer {
	return func(ctx context.Context) (Conn, error) {
		conn, err := pgx.Connect(ctx, dbURL)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

type ListenerState int32

const (
	StateConnecting ListenerState = iota
	StateListening
	StateDecoding
	StateDispatching
	StateFailed
)

func (s ListenerState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateDecoding:
		return "decoding"
	case StateDispatching:
		return "dispatching"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("ListenerState(%d)", int32(s))
}

type ListenerConfig struct {
	Channels   []string
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Listener holds a LISTEN session open on the notify channels and pushes
// every decoded notification into the Hub. It reconnects with exponential
// backoff whenever the session drops; notifications sent while it is
// disconnected are lost.
type Listener struct {
	log      *zap.Logger
	hub      *Hub
	dial     Dialer
	channels []string
	minWait  time.Duration
	maxWait  time.Duration
	state    atomic.Int32
}

// NewListener fails if cfg names a channel Decode does not understand.
func NewListener(log *zap.Logger, hub *Hub, dial Dialer, cfg ListenerConfig) (*Listener, error) {
	channels := cfg.Channels
	if len(channels) == 0 {
		channels = Channels
	}
	for _, ch := range channels {
		if !slices.Contains(Channels, ch) {
			return nil, fmt.Errorf("listen on %q: %w", ch, ErrUnknownChannel)
		}
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Listener{
		log:      log.Named("listener"),
		hub:      hub,
		dial:     dial,
		channels: channels,
		minWait:  cfg.MinBackoff,
		maxWait:  cfg.MaxBackoff,
	}, nil
}

func (l *Listener) State() ListenerState {
	return ListenerState(l.state.Load())
}

// Run blocks until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.minWait
	bo.MaxInterval = l.maxWait
	bo.MaxElapsedTime = 0

	op := func() error {
		err := l.session(ctx, bo)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		l.state.Store(int32(StateFailed))
		return err
	}
	onRetry := func(err error, wait time.Duration) {
		metrics.ListenerReconnects.Inc()
		l.log.Warn("listener connection lost, reconnecting", zap.Error(err), zap.Duration("backoff", wait))
	}

	err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), onRetry)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (l *Listener) session(ctx context.Context, bo backoff.BackOff) error {
	l.state.Store(int32(StateConnecting))
	conn, err := l.dial(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	for _, ch := range l.channels {
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			return fmt.Errorf("listen %s: %w", ch, err)
		}
	}
	bo.Reset()
	l.state.Store(int32(StateListening))
	l.log.Info("✅ listening for change notifications", zap.Strings("channels", l.channels))

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		l.state.Store(int32(StateDecoding))
		if notif, ok := l.decode(n.Channel, n.Payload); ok {
			l.state.Store(int32(StateDispatching))
			l.deliver(notif)
		}
		l.state.Store(int32(StateListening))
	}
}

// Dispatch decodes one notification and delivers it. A payload that fails
// to decode is logged and dropped.
func (l *Listener) Dispatch(channel, payload string) {
	if n, ok := l.decode(channel, payload); ok {
		l.deliver(n)
	}
}

func (l *Listener) decode(channel, payload string) (*Notification, bool) {
	metrics.Notifications.WithLabelValues(channel).Inc()

	n, err := Decode(channel, payload)
	if err != nil {
		metrics.DecodeErrors.WithLabelValues(channel).Inc()
		l.log.Error("dropping notification", zap.Error(err), zap.String("payload", payload))
		return nil, false
	}
	return n, true
}

func (l *Listener) deliver(n *Notification) {
	sent := l.hub.Deliver(n.Event, n.Users)
	metrics.EventsDelivered.WithLabelValues(n.Event.Name()).Add(float64(len(sent)))
	l.log.Debug("event delivered",
		zap.String("event", n.Event.Name()),
		zap.Int64s("affected", n.Users.Sorted()),
		zap.Int64s("sent", sent),
	)
}
