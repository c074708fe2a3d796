package fanout

import (
	"context"
	"sync"

	"github.com/fleetbridge/backend/internal/logger"
	"github.com/fleetbridge/backend/internal/models"
)

// Replayer supplies persisted entries for the replay phase of a
// subscription. Satisfied by the ledger.
type Replayer interface {
	LogsSince(jobID uint, since int64) ([]models.JobLogEntry, error)
}

// Bridge carries entries across process boundaries (worker to API server).
// A nil bridge keeps delivery in-process, which is what the tests use.
type Bridge interface {
	Broadcast(jobID uint, entry models.JobLogEntry) error
}

const subscriberBuffer = 64

type subscriber struct {
	ch   chan models.JobLogEntry
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Hub fans job log entries out to live subscribers. A new subscriber first
// gets a replay of everything persisted, then live entries, with no gap and
// no duplicate at the seam. Subscribers never influence each other or the
// executing job; one that stops draining is detached and can re-subscribe.
type Hub struct {
	replayer Replayer
	bridge   Bridge

	mu   sync.RWMutex
	subs map[uint]map[*subscriber]struct{}
}

func NewHub(replayer Replayer) *Hub {
	return &Hub{
		replayer: replayer,
		subs:     make(map[uint]map[*subscriber]struct{}),
	}
}

// AttachBridge routes published entries through the given bridge. The bridge
// is expected to call Deliver on every hub (including this one) that should
// see the entry.
func (h *Hub) AttachBridge(b Bridge) {
	h.bridge = b
}

// Publish pushes a committed entry to observers. With a bridge attached the
// entry travels through it so subscribers in other processes see it too; the
// bridge loops it back to this hub's own subscribers.
func (h *Hub) Publish(jobID uint, entry models.JobLogEntry) {
	if h.bridge != nil {
		if err := h.bridge.Broadcast(jobID, entry); err != nil {
			logger.Error("Log bridge broadcast failed, delivering locally", map[string]interface{}{
				"jobID": jobID, "error": err.Error(),
			})
			h.Deliver(jobID, entry)
		}
		return
	}
	h.Deliver(jobID, entry)
}

// Deliver hands an entry to this process's subscribers. A subscriber whose
// buffer is full is detached rather than allowed to stall the job.
func (h *Hub) Deliver(jobID uint, entry models.JobLogEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[jobID] {
		select {
		case sub.ch <- entry:
		default:
			delete(h.subs[jobID], sub)
			sub.close()
			logger.Warn("Detached slow log subscriber", map[string]interface{}{"jobID": jobID})
		}
	}
}

// Subscribe returns a stream that replays all persisted entries for the job
// in sequence order and then follows live publishes. The live registration
// happens before the replay query, and live entries at or below the last
// replayed sequence are filtered, which closes the gap/duplicate window at
// the seam. The returned cancel func must be called when done.
func (h *Hub) Subscribe(ctx context.Context, jobID uint) (<-chan models.JobLogEntry, func(), error) {
	sub := &subscriber{ch: make(chan models.JobLogEntry, subscriberBuffer)}

	h.mu.Lock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[*subscriber]struct{})
	}
	h.subs[jobID][sub] = struct{}{}
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		if _, ok := h.subs[jobID][sub]; ok {
			delete(h.subs[jobID], sub)
			sub.close()
		}
		h.mu.Unlock()
	}

	replay, err := h.replayer.LogsSince(jobID, 0)
	if err != nil {
		unsubscribe()
		return nil, nil, err
	}

	out := make(chan models.JobLogEntry, len(replay)+subscriberBuffer)
	go func() {
		defer close(out)
		var lastSeq int64
		for _, entry := range replay {
			lastSeq = entry.Sequence
			select {
			case out <- entry:
			case <-ctx.Done():
				unsubscribe()
				return
			}
		}
		for {
			select {
			case entry, ok := <-sub.ch:
				if !ok {
					return
				}
				if entry.Sequence <= lastSeq {
					continue // already delivered during replay
				}
				lastSeq = entry.Sequence
				select {
				case out <- entry:
				case <-ctx.Done():
					unsubscribe()
					return
				}
			case <-ctx.Done():
				unsubscribe()
				return
			}
		}
	}()

	return out, unsubscribe, nil
}
