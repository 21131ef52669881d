package api

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Krud-x/task-collaboration-platform/domain"
)

// EventSink is where the outbox delivers committed events. Queue storage
// behind Storage.EnqueueEvent gives the pipeline its durability; this
// in-process outbox only decouples request latency from queue round trips
// and retries transient enqueue failures.
type EventSink interface {
	EnqueueEvent(ctx context.Context, ev domain.Event) error
}

type outboxConfig struct {
	bufferSize     int
	workerCount    int
	batchSize      int
	flushInterval  time.Duration
	enqueueTimeout time.Duration
	handoffTimeout time.Duration
	retryInitial   time.Duration
	retryMax       time.Duration
	maxAttempts    int
}

func outboxConfigFromEnv() outboxConfig {
	cfg := outboxConfig{
		bufferSize:     envInt("OUTBOX_BUFFER", 4096),
		workerCount:    envInt("OUTBOX_WORKERS", 8),
		batchSize:      envInt("OUTBOX_BATCH", 32),
		flushInterval:  envDur("OUTBOX_FLUSH_INTERVAL", 5*time.Millisecond),
		enqueueTimeout: envDur("OUTBOX_ENQUEUE_TIMEOUT", 30*time.Second),
		handoffTimeout: envDur("OUTBOX_HANDOFF_TIMEOUT", 25*time.Millisecond),
		retryInitial:   envDur("OUTBOX_RETRY_INITIAL", 250*time.Millisecond),
		retryMax:       envDur("OUTBOX_RETRY_MAX", 30*time.Second),
		maxAttempts:    envInt("OUTBOX_MAX_ATTEMPTS", 8),
	}
	if cfg.workerCount <= 0 {
		cfg.workerCount = 1
	}
	if cfg.batchSize <= 0 {
		cfg.batchSize = 1
	}
	if cfg.bufferSize <= 0 {
		cfg.bufferSize = cfg.workerCount * cfg.batchSize * 2
	}
	if cfg.maxAttempts <= 0 {
		cfg.maxAttempts = 1
	}
	return cfg
}

type outboxRecord struct {
	event   domain.Event
	attempt int
}

// eventOutbox hands committed events to the event queue asynchronously.
// Events are batched per worker and retried with exponential backoff; an
// event that exhausts its attempts is dropped with an error log, leaving the
// affected subscribers to converge on their next full resync.
type eventOutbox struct {
	cfg    outboxConfig
	sink   EventSink
	logger *log.Logger

	workCh  chan *outboxRecord
	stopCh  chan struct{}
	stopped sync.Once

	workerWG  sync.WaitGroup
	retryMu   sync.Mutex
	retryWG   sync.WaitGroup
	draining  bool
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

var errOutboxSaturated = errors.New("event outbox is saturated")

func newEventOutbox(sink EventSink, cfg outboxConfig, logger *log.Logger) *eventOutbox {
	if sink == nil {
		panic("event sink is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	o := &eventOutbox{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		workCh: make(chan *outboxRecord, cfg.bufferSize),
		stopCh: make(chan struct{}),
	}
	for i := 0; i < cfg.workerCount; i++ {
		o.workerWG.Add(1)
		go o.worker(i)
	}
	return o
}

func (o *eventOutbox) shutdown() {
	o.stopped.Do(func() {
		close(o.stopCh)
		// Flag draining first so a worker mid-flush cannot start a new
		// retry goroutine after the wait below; then let the in-flight
		// retries finish their workCh sends before the channel closes.
		o.retryMu.Lock()
		o.draining = true
		o.retryMu.Unlock()
		o.retryWG.Wait()
		close(o.workCh)
	})
	o.workerWG.Wait()
}

// publish hands the event off to a worker. It returns errOutboxSaturated
// when the buffer cannot accept the event within the handoff timeout; the
// caller then enqueues inline.
func (o *eventOutbox) publish(ev domain.Event) error {
	rec := &outboxRecord{event: ev}
	if o.cfg.handoffTimeout <= 0 {
		select {
		case o.workCh <- rec:
			return nil
		default:
			return errOutboxSaturated
		}
	}

	timer := time.NewTimer(o.cfg.handoffTimeout)
	defer timer.Stop()

	select {
	case o.workCh <- rec:
		return nil
	case <-timer.C:
		return errOutboxSaturated
	case <-o.stopCh:
		return errors.New("outbox shutting down")
	}
}

func (o *eventOutbox) worker(id int) {
	defer o.workerWG.Done()

	batch := make([]*outboxRecord, 0, o.cfg.batchSize)
	timer := time.NewTimer(o.cfg.flushInterval)
	defer timer.Stop()
	for {
		if len(batch) == 0 {
			rec, ok := <-o.workCh
			if !ok {
				return
			}
			if rec == nil {
				continue
			}
			batch = append(batch, rec)
			timer.Reset(o.cfg.flushInterval)
		}

	gather:
		for len(batch) < o.cfg.batchSize {
			select {
			case rec, ok := <-o.workCh:
				if !ok {
					break gather
				}
				if rec == nil {
					continue
				}
				batch = append(batch, rec)
			case <-timer.C:
				timer.Reset(o.cfg.flushInterval)
				break gather
			}
		}

		o.flushBatch(batch, id)
		batch = batch[:0]
	}
}

func (o *eventOutbox) flushBatch(batch []*outboxRecord, workerID int) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.enqueueTimeout)
	defer cancel()

	for _, rec := range batch {
		if err := o.sink.EnqueueEvent(ctx, rec.event); err != nil {
			rec.attempt++
			if rec.attempt >= o.cfg.maxAttempts {
				o.dropped.Add(1)
				o.logger.WithError(err).Errorf("event dropped after %d attempts, worker=%d, board=%s, type=%s", rec.attempt, workerID, rec.event.BoardID, rec.event.Type)
				continue
			}
			o.logger.WithError(err).Warnf("event enqueue failed, worker=%d, board=%s, type=%s, attempt=%d", workerID, rec.event.BoardID, rec.event.Type, rec.attempt)
			o.scheduleRetry(rec)
			continue
		}
		o.delivered.Add(1)
	}
}

func (o *eventOutbox) scheduleRetry(rec *outboxRecord) {
	o.retryMu.Lock()
	if o.draining {
		o.retryMu.Unlock()
		o.dropped.Add(1)
		o.logger.Errorf("event dropped during shutdown, board=%s, type=%s, attempt=%d", rec.event.BoardID, rec.event.Type, rec.attempt)
		return
	}
	o.retryWG.Add(1)
	o.retryMu.Unlock()

	delay := exponentialBackoff(rec.attempt, o.cfg.retryInitial, o.cfg.retryMax)
	timer := time.NewTimer(delay)
	go func(r *outboxRecord) {
		defer o.retryWG.Done()
		defer timer.Stop()
		select {
		case <-timer.C:
			select {
			case o.workCh <- r:
			case <-o.stopCh:
			}
		case <-o.stopCh:
		}
	}(rec)
}

func exponentialBackoff(attempt int, initial, max time.Duration) time.Duration {
	if initial <= 0 {
		initial = time.Second
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	if attempt <= 0 {
		return initial
	}
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	jitter := 0.2 * backoff
	return time.Duration(backoff + (rand.Float64()-0.5)*2*jitter)
}
