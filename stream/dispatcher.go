package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Krud-x/task-collaboration-platform/domain"
)

const emptyQueuePause = time.Second

// EventQueue is the durable queue side of the event pipeline.
type EventQueue interface {
	DequeueEvent(ctx context.Context) (*azqueue.DequeuedMessage, error)
	DeleteEventMessage(ctx context.Context, id, receipt string) error
}

// Evictor drops a board's cached snapshot.
type Evictor interface {
	Evict(ctx context.Context, boardID string)
}

// Dispatcher drains the durable event queue and republishes each event on
// the Redis channel the stream subscribers listen on. The cached snapshot of
// the event's board is evicted first, so a client resyncing in reaction to
// the event never reads state older than the event itself.
type Dispatcher struct {
	queue   EventQueue
	redis   *redis.Client
	cache   Evictor
	channel string
	logger  *log.Logger
}

// NewDispatcher creates a Dispatcher. cache may be nil when snapshot caching
// is disabled.
func NewDispatcher(queue EventQueue, rc *redis.Client, cache Evictor, channel string, logger *log.Logger) *Dispatcher {
	return &Dispatcher{queue: queue, redis: rc, cache: cache, channel: channel, logger: logger}
}

// Run consumes the queue until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := d.queue.DequeueEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.WithError(err).Error("dequeue event")
			d.pause(ctx)
			continue
		}
		if msg == nil {
			d.pause(ctx)
			continue
		}
		d.dispatch(ctx, msg)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, msg *azqueue.DequeuedMessage) {
	if msg.MessageText == nil || msg.MessageID == nil || msg.PopReceipt == nil {
		d.logger.Error("malformed queue message")
		return
	}
	payload := *msg.MessageText

	var ev domain.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		// Unparseable messages are deleted rather than retried forever.
		d.logger.WithError(err).Error("unable to parse queued event")
		d.delete(ctx, msg)
		return
	}

	if d.cache != nil {
		d.cache.Evict(ctx, ev.BoardID)
	}
	if err := d.redis.Publish(ctx, d.channel, payload).Err(); err != nil {
		// Leave the message on the queue; its visibility timeout expires
		// and delivery is retried.
		d.logger.WithError(err).WithField("board", ev.BoardID).Error("publish event")
		return
	}
	d.delete(ctx, msg)
}

func (d *Dispatcher) delete(ctx context.Context, msg *azqueue.DequeuedMessage) {
	if err := d.queue.DeleteEventMessage(ctx, *msg.MessageID, *msg.PopReceipt); err != nil {
		d.logger.WithError(err).Error("delete queue message")
	}
}

func (d *Dispatcher) pause(ctx context.Context) {
	timer := time.NewTimer(emptyQueuePause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
