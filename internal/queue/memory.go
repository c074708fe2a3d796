package queue

import (
	"context"
	"sync"
)

// MemoryQueue is an in-process Queue used by tests and single-binary setups.
type MemoryQueue struct {
	mu     sync.Mutex
	items  map[string][]DispatchMessage
	wake   chan struct{}
	closed bool
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		items: make(map[string][]DispatchMessage),
		wake:  make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, key string, msg DispatchMessage) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items[key] = append(q.items[key], msg)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, keys []string) (DispatchMessage, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			// Pass the baton so every other blocked consumer unblocks too.
			select {
			case q.wake <- struct{}{}:
			default:
			}
			return DispatchMessage{}, ErrClosed
		}
		for _, key := range keys {
			if len(q.items[key]) > 0 {
				msg := q.items[key][0]
				q.items[key] = q.items[key][1:]
				remaining := q.pending()
				q.mu.Unlock()
				if remaining {
					// Pass the baton so other waiters see leftover items.
					select {
					case q.wake <- struct{}{}:
					default:
					}
				}
				return msg, nil
			}
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-ctx.Done():
			return DispatchMessage{}, ctx.Err()
		}
	}
}

func (q *MemoryQueue) pending() bool {
	for _, msgs := range q.items {
		if len(msgs) > 0 {
			return true
		}
	}
	return false
}

// Close unblocks all waiting consumers.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
