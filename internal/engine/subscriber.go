package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/coinsync/internal/filter"
	"github.com/roach88/coinsync/internal/model"
)

// ChangeSource opens a filtered change feed on the users table. The
// returned channel is closed when ctx is done or the feed fails.
// *remote.Listener and *MemorySource implement it.
type ChangeSource interface {
	Subscribe(ctx context.Context, channel string, f filter.Filter) (<-chan model.ChangeEvent, error)
}

// RealtimeSubscriber applies pushed balance changes to a BalanceState.
type RealtimeSubscriber struct {
	source  ChangeSource
	namer   ChannelNamer
	logger  *slog.Logger
	onEvent func(model.ChangeEvent)
}

// SubscriberOption configures a RealtimeSubscriber.
type SubscriberOption func(*RealtimeSubscriber)

// WithNamer sets the channel suffix generator.
func WithNamer(n ChannelNamer) SubscriberOption {
	return func(r *RealtimeSubscriber) {
		r.namer = n
	}
}

// WithSubscriberLogger sets the logger.
func WithSubscriberLogger(l *slog.Logger) SubscriberOption {
	return func(r *RealtimeSubscriber) {
		r.logger = l
	}
}

// WithEventHook calls fn for every received event before it is applied.
func WithEventHook(fn func(model.ChangeEvent)) SubscriberOption {
	return func(r *RealtimeSubscriber) {
		r.onEvent = fn
	}
}

// NewRealtimeSubscriber creates a subscriber over source.
func NewRealtimeSubscriber(source ChangeSource, opts ...SubscriberOption) *RealtimeSubscriber {
	r := &RealtimeSubscriber{
		source: source,
		namer:  UUIDv7Namer{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscription is one mounted realtime consumer.
type Subscription struct {
	sub     *RealtimeSubscriber
	uid     string
	channel string
	cancel  context.CancelFunc
	done    chan struct{}

	once sync.Once
}

// Subscribe opens a feed filtered to uid's row and applies every pushed
// balance to state until the subscription is closed.
func (r *RealtimeSubscriber) Subscribe(ctx context.Context, uid string, state *BalanceState) (*Subscription, error) {
	if uid == "" {
		return nil, ErrNoUser
	}
	if state.Closed() {
		return nil, ErrClosed
	}
	if state.UID() != uid {
		return nil, fmt.Errorf("subscribe %s: state belongs to %s", uid, state.UID())
	}

	channel := ChannelName(uid, r.namer)
	feedCtx, cancel := context.WithCancel(ctx)
	events, err := r.source.Subscribe(feedCtx, channel, filter.Eq(model.ColumnUID, uid))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	s := &Subscription{
		sub:     r,
		uid:     uid,
		channel: channel,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	r.logger.Debug("realtime subscribed", "uid", uid, "channel", channel)

	go s.run(feedCtx, events, state)
	return s, nil
}

func (s *Subscription) run(ctx context.Context, events <-chan model.ChangeEvent, state *BalanceState) {
	defer close(s.done)
	logger := s.sub.logger.With("uid", s.uid, "channel", s.channel)

	for ev := range events {
		if s.sub.onEvent != nil {
			s.sub.onEvent(ev)
		}
		if uid := ev.UID(); uid != "" && uid != s.uid {
			logger.Warn("change event for another user ignored", "event_uid", uid)
			continue
		}
		coins, ok := ev.Coins()
		if !ok {
			logger.Debug("change event without balance ignored", "type", ev.Type)
			continue
		}
		state.Apply(ctx, Update{Coins: coins, Source: model.SourcePush, Seq: state.Stamp()})
	}

	if ctx.Err() == nil {
		logger.Warn("realtime feed ended; keeping last balance")
	} else {
		logger.Debug("realtime unsubscribed")
	}
}

// UID returns the subscribed user.
func (s *Subscription) UID() string {
	return s.uid
}

// Channel returns the unique channel name of this mount.
func (s *Subscription) Channel() string {
	return s.channel
}

// Done is closed once the subscription stops delivering.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close unsubscribes and waits for the feed to be released.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

// Resubscribe tears this subscription down and opens a new one, for a uid
// change.
func (s *Subscription) Resubscribe(ctx context.Context, uid string, state *BalanceState) (*Subscription, error) {
	s.Close()
	return s.sub.Subscribe(ctx, uid, state)
}
