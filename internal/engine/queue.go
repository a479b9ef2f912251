package engine

import (
	"context"
	"sync"

	"github.com/roach88/coinsync/internal/filter"
	"github.com/roach88/coinsync/internal/model"
)

// changeQueue is a thread-safe unbounded FIFO of change events.
//
// Publishers never block on a slow subscriber. The signal channel (buffer
// of 1) lets the consumer wait with select alongside ctx.Done().
type changeQueue struct {
	mu     sync.Mutex
	events []model.ChangeEvent
	closed bool
	signal chan struct{}
}

func newChangeQueue() *changeQueue {
	return &changeQueue{
		events: make([]model.ChangeEvent, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event. Returns false if the queue is closed.
func (q *changeQueue) Enqueue(e model.ChangeEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front event without blocking.
func (q *changeQueue) TryDequeue() (model.ChangeEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return model.ChangeEvent{}, false
	}
	e := q.events[0]
	// release the row maps for GC
	q.events[0] = model.ChangeEvent{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait signals that events may be available. Closed on Close.
func (q *changeQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *changeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close stops accepting events and wakes the consumer.
func (q *changeQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// MemorySource is an in-process ChangeSource. Publish fans events out to
// every subscriber whose filter matches, like a realtime server would.
//
// Used by tests, the scenario harness and offline CLI runs.
type MemorySource struct {
	mu     sync.Mutex
	subs   map[string]*memorySub
	opened []string
}

type memorySub struct {
	filter filter.Filter
	queue  *changeQueue
}

// NewMemorySource returns a source with no subscribers.
func NewMemorySource() *MemorySource {
	return &MemorySource{subs: make(map[string]*memorySub)}
}

// Subscribe implements ChangeSource.
func (m *MemorySource) Subscribe(ctx context.Context, channel string, f filter.Filter) (<-chan model.ChangeEvent, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	sub := &memorySub{filter: f, queue: newChangeQueue()}
	m.mu.Lock()
	m.subs[channel] = sub
	m.opened = append(m.opened, channel)
	m.mu.Unlock()

	out := make(chan model.ChangeEvent)
	go func() {
		defer close(out)
		defer m.remove(channel, sub)
		for {
			for {
				e, ok := sub.queue.TryDequeue()
				if !ok {
					break
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sub.queue.Wait():
				if !ok && sub.queue.Len() == 0 {
					return
				}
			}
		}
	}()
	return out, nil
}

func (m *MemorySource) remove(channel string, sub *memorySub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs[channel] == sub {
		delete(m.subs, channel)
	}
	sub.queue.Close()
}

// Publish delivers ev to every matching subscriber and returns how many
// received it.
func (m *MemorySource) Publish(ev model.ChangeEvent) int {
	row := ev.New
	if ev.Type == model.ChangeDelete || row == nil {
		row = ev.Old
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delivered := 0
	for _, sub := range m.subs {
		if ev.Table != model.UsersTable || !sub.filter.Match(row) {
			continue
		}
		if sub.queue.Enqueue(ev) {
			delivered++
		}
	}
	return delivered
}

// Active returns the number of open subscriptions.
func (m *MemorySource) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Opened returns every channel name ever subscribed, in order.
func (m *MemorySource) Opened() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.opened...)
}

// Shutdown ends every subscription as if the server dropped them.
func (m *MemorySource) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs {
		sub.queue.Close()
	}
}

// UserUpdate builds the change event a users row update produces.
func UserUpdate(row model.UserRow) model.ChangeEvent {
	return model.ChangeEvent{
		Type:  model.ChangeUpdate,
		Table: model.UsersTable,
		New: map[string]any{
			model.ColumnUID:                row.UID,
			model.ColumnUserCoins:          row.UserCoins,
			model.ColumnSubscriptionActive: row.SubscriptionActive,
		},
	}
}
