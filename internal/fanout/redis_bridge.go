package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/fleetbridge/backend/internal/logger"
	"github.com/fleetbridge/backend/internal/models"
	"github.com/go-redis/redis/v8"
)

const logChannelPrefix = "jobs:logs:"

// RedisBridge carries log entries over Redis pub/sub so SSE subscribers on
// the API server see entries produced by worker processes. Delivery through
// the bridge is fire-and-forget: the durable copy already sits in the ledger
// and late subscribers replay from there.
type RedisBridge struct {
	client *redis.Client
}

func NewRedisBridge(client *redis.Client) *RedisBridge {
	return &RedisBridge{client: client}
}

func (b *RedisBridge) Broadcast(jobID uint, entry models.JobLogEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode log entry: %w", err)
	}
	channel := logChannelPrefix + strconv.FormatUint(uint64(jobID), 10)
	return b.client.Publish(context.Background(), channel, payload).Err()
}

// Listen pattern-subscribes to all job log channels and feeds received
// entries into the hub until ctx is cancelled. Run it in its own goroutine
// in every process that hosts subscribers.
func (b *RedisBridge) Listen(ctx context.Context, hub *Hub) {
	pubsub := b.client.PSubscribe(ctx, logChannelPrefix+"*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			jobID, err := jobIDFromChannel(msg.Channel)
			if err != nil {
				logger.Warn("Ignoring log message on unexpected channel", map[string]interface{}{"channel": msg.Channel})
				continue
			}
			var entry models.JobLogEntry
			if err := json.Unmarshal([]byte(msg.Payload), &entry); err != nil {
				logger.Error("Failed to decode bridged log entry", map[string]interface{}{"jobID": jobID, "error": err.Error()})
				continue
			}
			hub.Deliver(jobID, entry)
		case <-ctx.Done():
			return
		}
	}
}

func jobIDFromChannel(channel string) (uint, error) {
	raw := strings.TrimPrefix(channel, logChannelPrefix)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("channel %q carries no job id", channel)
	}
	return uint(id), nil
}
