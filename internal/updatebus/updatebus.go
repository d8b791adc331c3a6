// Package updatebus implements the per-request pub/sub channel of §4.9:
// best-effort, at-most-once delivery of AnalysisRequest snapshots to
// whatever is currently subscribed to analysis_request_updates:<id>.
// Redis Pub/Sub (go-redis/v9) carries messages across processes; a
// local in-process fan-out serves same-process subscribers (tests, a
// single-binary deployment) without a Redis round trip.
package updatebus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/agentfabric/platform/internal/logger"
	"github.com/agentfabric/platform/internal/metrics"
)

func topic(requestID uuid.UUID) string {
	return fmt.Sprintf("analysis_request_updates:%s", requestID)
}

// Snapshot is the stable dictionary representation of an AnalysisRequest
// published on every update, per §4.9.
type Snapshot struct {
	ID              uuid.UUID  `json:"id"`
	UserID          uuid.UUID  `json:"user_id"`
	Prompt          string     `json:"prompt"`
	Status          string     `json:"status"`
	ResultSummary   *string    `json:"result_summary,omitempty"`
	ResultData      []byte     `json:"result_data,omitempty"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	ProposedActions []uuid.UUID `json:"proposed_actions,omitempty"`
	CreatedAt       string     `json:"created_at"`
	UpdatedAt       string     `json:"updated_at"`
}

// Bus publishes snapshots to Redis and additionally fans them out to any
// same-process subscribers registered via Local.
type Bus struct {
	redis *redis.Client
	log   *logger.Logger

	mu          sync.Mutex
	subscribers map[uuid.UUID][]*subscriber
}

// subscriberBufferSize bounds each subscriber's channel; a message that
// doesn't fit a full buffer is dropped for that subscriber (which stays
// registered) rather than blocking the publisher, per the Open Question
// decision recorded in DESIGN.md (backpressure: drop, not block).
const subscriberBufferSize = 16

type subscriber struct {
	ch     chan Snapshot
	closed bool
}

// New constructs a Bus backed by an already-connected redis.Client.
func New(redisClient *redis.Client, log *logger.Logger) *Bus {
	return &Bus{
		redis:       redisClient,
		log:         log,
		subscribers: make(map[uuid.UUID][]*subscriber),
	}
}

// Publish sends payload to every local subscriber for requestID and to
// the Redis channel for cross-process subscribers. It never blocks on a
// slow local subscriber; when its buffer is full the message is dropped
// for that subscriber, which stays registered, and a SUBSCRIBER_DROPPED
// event is logged.
func (b *Bus) Publish(ctx context.Context, requestID uuid.UUID, payload Snapshot) error {
	b.fanOutLocal(requestID, payload)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("updatebus: marshal snapshot: %w", err)
	}
	if err := b.redis.Publish(ctx, topic(requestID), body).Err(); err != nil {
		return fmt.Errorf("updatebus: redis publish: %w", err)
	}
	return nil
}

func (b *Bus) fanOutLocal(requestID uuid.UUID, payload Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[requestID]
	if len(subs) == 0 {
		return
	}

	alive := subs[:0]
	for _, s := range subs {
		if s.closed {
			continue
		}
		select {
		case s.ch <- payload:
			alive = append(alive, s)
		default:
			metrics.UpdateBusDropped.Inc()
			if b.log != nil {
				b.log.Warn(payload.UserID.String(), requestID.String(), "SUBSCRIBER_DROPPED", map[string]interface{}{
					"reason": "subscriber buffer full",
				})
			}
			alive = append(alive, s) // keep registered; drop only this message
		}
	}
	b.subscribers[requestID] = alive
}

// Local subscribes a same-process receiver to requestID's updates. The
// caller is responsible for having already verified access to the
// request; the bus does not enforce tenancy. Cancelling ctx unregisters
// the subscriber and closes the returned channel.
func (b *Bus) Local(ctx context.Context, requestID uuid.UUID) <-chan Snapshot {
	sub := &subscriber{ch: make(chan Snapshot, subscriberBufferSize)}

	b.mu.Lock()
	b.subscribers[requestID] = append(b.subscribers[requestID], sub)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		sub.closed = true
		close(sub.ch)
		subs := b.subscribers[requestID]
		for i, s := range subs {
			if s == sub {
				b.subscribers[requestID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}()

	return sub.ch
}

// Subscribe opens a Redis subscription for requestID and streams decoded
// snapshots on the returned channel until ctx is cancelled. Used by
// any process other than the one that published (e.g. the HTTP tier
// serving live updates to a client).
func (b *Bus) Subscribe(ctx context.Context, requestID uuid.UUID) (<-chan Snapshot, error) {
	pubsub := b.redis.Subscribe(ctx, topic(requestID))

	out := make(chan Snapshot, subscriberBufferSize)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var snap Snapshot
				if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
					if b.log != nil {
						b.log.Error("", requestID.String(), "updatebus: decode snapshot failed", err, nil)
					}
					continue
				}
				select {
				case out <- snap:
				default:
					metrics.UpdateBusDropped.Inc()
					if b.log != nil {
						b.log.Warn(snap.UserID.String(), requestID.String(), "SUBSCRIBER_DROPPED", map[string]interface{}{
							"reason": "redis subscriber buffer full",
						})
					}
				}
			}
		}
	}()

	return out, nil
}
