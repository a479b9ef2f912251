package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/roach88/coinsync/internal/filter"
	"github.com/roach88/coinsync/internal/model"
)

// NotifyChannel is the Postgres NOTIFY channel written by the users trigger.
const NotifyChannel = "users_changes"

// Listener opens one LISTEN connection per subscription. Reconnects are
// left to pq.Listener.
type Listener struct {
	dsn          string
	minReconnect time.Duration
	maxReconnect time.Duration
	pingInterval time.Duration
	logger       *slog.Logger
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithListenerLogger sets the logger.
func WithListenerLogger(l *slog.Logger) ListenerOption {
	return func(ln *Listener) {
		ln.logger = l
	}
}

// WithReconnect overrides pq's reconnect backoff bounds.
func WithReconnect(minWait, maxWait time.Duration) ListenerOption {
	return func(ln *Listener) {
		ln.minReconnect = minWait
		ln.maxReconnect = maxWait
	}
}

// NewListener creates a realtime source for dsn.
func NewListener(dsn string, opts ...ListenerOption) *Listener {
	l := &Listener{
		dsn:          dsn,
		minReconnect: 10 * time.Second,
		maxReconnect: time.Minute,
		pingInterval: 90 * time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Subscribe starts listening and returns matching change events. The
// returned channel is closed when ctx is done.
func (l *Listener) Subscribe(ctx context.Context, channel string, f filter.Filter) (<-chan model.ChangeEvent, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	logger := l.logger.With("channel", channel, "filter", f.String())
	pl := pq.NewListener(l.dsn, l.minReconnect, l.maxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
			logger.Warn("realtime connection problem", "event", listenerEventName(ev), "error", err)
		case pq.ListenerEventReconnected:
			logger.Info("realtime reconnected")
		}
	})
	if err := pl.Listen(NotifyChannel); err != nil {
		pl.Close()
		return nil, fmt.Errorf("subscribe %s: listen: %w", channel, err)
	}

	out := make(chan model.ChangeEvent)
	go l.pump(ctx, pl, f, out, logger)
	return out, nil
}

func (l *Listener) pump(ctx context.Context, pl *pq.Listener, f filter.Filter, out chan<- model.ChangeEvent, logger *slog.Logger) {
	defer close(out)
	defer pl.Close()

	ticker := time.NewTicker(l.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := pl.Ping(); err != nil {
				logger.Warn("realtime ping failed", "error", err)
			}
		case n, ok := <-pl.Notify:
			if !ok {
				logger.Warn("realtime listener closed")
				return
			}
			// nil is sent after a reconnect; notifications may have been missed
			if n == nil {
				continue
			}
			ev, match, err := DecodeNotification(n.Extra, f)
			if err != nil {
				logger.Warn("dropping malformed change payload", "error", err)
				continue
			}
			if !match {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// DecodeNotification parses a trigger payload and reports whether it
// concerns the users table and satisfies f. Deletes are matched on the old
// row.
func DecodeNotification(payload string, f filter.Filter) (model.ChangeEvent, bool, error) {
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()

	var ev model.ChangeEvent
	if err := dec.Decode(&ev); err != nil {
		return model.ChangeEvent{}, false, fmt.Errorf("decode change event: %w", err)
	}
	if ev.Table != model.UsersTable {
		return ev, false, nil
	}

	row := ev.New
	if ev.Type == model.ChangeDelete || row == nil {
		row = ev.Old
	}
	return ev, f.Match(row), nil
}

func listenerEventName(ev pq.ListenerEventType) string {
	switch ev {
	case pq.ListenerEventConnected:
		return "connected"
	case pq.ListenerEventDisconnected:
		return "disconnected"
	case pq.ListenerEventReconnected:
		return "reconnected"
	case pq.ListenerEventConnectionAttemptFailed:
		return "connection_attempt_failed"
	default:
		return "unknown"
	}
}
