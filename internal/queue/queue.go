package queue

import (
	"context"
	"errors"

	"github.com/fleetbridge/backend/internal/models"
	"github.com/google/uuid"
)

// DefaultKey is the tenant-independent fallback pool.
const DefaultKey = "jobs:dispatch:default"

const keyPrefix = "jobs:dispatch:"

var ErrClosed = errors.New("queue closed")

// DispatchMessage tells a worker which job to pick up. The substrate is
// at-least-once; MessageID identifies the delivery, the ledger's state
// machine makes duplicate deliveries harmless.
type DispatchMessage struct {
	MessageID string `json:"messageId"`
	JobID     uint   `json:"jobId"`
}

func NewDispatchMessage(jobID uint) DispatchMessage {
	return DispatchMessage{MessageID: uuid.NewString(), JobID: jobID}
}

// KeyFor maps a routing decision to a queue key. nil means the default pool.
func KeyFor(region *models.Region) string {
	if region == nil {
		return DefaultKey
	}
	return keyPrefix + region.Identifier
}

// KeyForIdentifier builds the queue key for a region identifier string.
func KeyForIdentifier(identifier string) string {
	return keyPrefix + identifier
}

// Queue is the durable task-dispatch substrate the orchestrator rides on.
type Queue interface {
	Enqueue(ctx context.Context, key string, msg DispatchMessage) error
	// Dequeue blocks until a message is available on any of the keys or the
	// context is cancelled.
	Dequeue(ctx context.Context, keys []string) (DispatchMessage, error)
}
