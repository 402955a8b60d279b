// Package producer implements the demand-driven source that feeds one
// pipeline stage worker: draining an operator-triggered manual queue first,
// then the store's eligible-videos query, waking on event-bus transitions
// and falling back to a low-frequency poll.
package producer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/reencodarr/reencodarr/internal/eventbus"
	"github.com/reencodarr/reencodarr/internal/models"
)

// Status is the producer's own lifecycle state, independent of any single
// Video's state.
type Status string

const (
	StatusPaused     Status = "paused"
	StatusRunning    Status = "running"
	StatusProcessing Status = "processing"
	StatusPausing    Status = "pausing"
	StatusIdle       Status = "idle"
)

// Dispatcher is the stage-worker side of a Producer: a single-slot claim
// (TryAcquire/Release) plus the blocking call that actually runs a batch.
// Stage workers (CRFSearcher, Encoder) implement this directly; the
// Analyzer, which has no single-slot claim, is wrapped by an adapter with
// an always-true TryAcquire.
type Dispatcher interface {
	// TryAcquire claims the worker's slot, returning false if already busy.
	TryAcquire() bool
	// Release returns a slot claimed by TryAcquire without dispatching.
	Release()
	// BatchSize is the number of videos one Dispatch call can consume.
	BatchSize() int
	// Dispatch runs the batch to completion (blocking).
	Dispatch(ctx context.Context, batch []*models.Video)
}

// Query fetches up to limit eligible videos from the store, in the stage's
// defined priority order.
type Query func(ctx context.Context, limit int) ([]*models.Video, error)

// Producer drives one Dispatcher: polling, waking on bus events, and
// preferring an operator-triggered manual queue over the store query.
type Producer struct {
	mu sync.Mutex

	name       string
	dispatcher Dispatcher
	query      Query
	bus        *eventbus.Bus
	logger     *slog.Logger
	pollPeriod time.Duration

	status      Status
	manualQueue []*models.Video

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Producer in the paused state; call Start to begin dispatching.
func New(name string, dispatcher Dispatcher, query Query, bus *eventbus.Bus, logger *slog.Logger, pollPeriod time.Duration, wakeTopics ...eventbus.Topic) *Producer {
	p := &Producer{
		name:       name,
		dispatcher: dispatcher,
		query:      query,
		bus:        bus,
		logger:     logger.With("component", "producer", "stage", name),
		pollPeriod: pollPeriod,
		status:     StatusPaused,
		wake:       make(chan struct{}, 1),
	}
	if bus != nil && len(wakeTopics) > 0 {
		sub := bus.Subscribe(wakeTopics...)
		go p.drainSubscription(sub)
	}
	return p
}

func (p *Producer) drainSubscription(sub *eventbus.Subscriber) {
	for range sub.Events {
		p.signalWake()
	}
}

func (p *Producer) signalWake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Start begins the producer's dispatch loop in the background.
func (p *Producer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.done = make(chan struct{})
	p.mu.Unlock()

	go p.loop(ctx)
}

// Stop cancels the dispatch loop and waits for it to exit.
func (p *Producer) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (p *Producer) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.pollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		case <-p.wake:
			p.tick(ctx)
		}
	}
}

// tick attempts one dispatch cycle unless explicitly paused. An idle
// producer still attempts a dispatch on every wake/poll — that is how it
// notices new eligibility and returns to running — it simply has nothing to
// do most of the time.
func (p *Producer) tick(ctx context.Context) {
	p.mu.Lock()
	status := p.status
	p.mu.Unlock()
	if status == StatusPaused || status == StatusPausing {
		return
	}

	if !p.dispatcher.TryAcquire() {
		return
	}

	batch := p.nextBatch(ctx)
	if len(batch) == 0 {
		p.dispatcher.Release()
		p.maybeGoIdle(ctx)
		return
	}

	p.setStatus(StatusProcessing)
	p.dispatcher.Dispatch(ctx, batch)
	p.afterProcessing()
}

// nextBatch drains the manual queue (LIFO) first, then falls back to the
// store query, up to the dispatcher's batch size.
func (p *Producer) nextBatch(ctx context.Context) []*models.Video {
	limit := p.dispatcher.BatchSize()
	if limit < 1 {
		limit = 1
	}

	p.mu.Lock()
	var fromManual []*models.Video
	for len(p.manualQueue) > 0 && len(fromManual) < limit {
		last := len(p.manualQueue) - 1
		fromManual = append(fromManual, p.manualQueue[last])
		p.manualQueue = p.manualQueue[:last]
	}
	p.mu.Unlock()

	if len(fromManual) >= limit {
		return fromManual
	}

	queried, err := p.query(ctx, limit-len(fromManual))
	if err != nil {
		p.logger.Error("query for eligible videos failed", "error", err)
		return fromManual
	}
	return append(fromManual, queried...)
}

// afterProcessing returns the producer to running, unless a Pause request
// arrived mid-batch (status was moved to pausing), in which case it finalizes
// to paused.
func (p *Producer) afterProcessing() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusPausing {
		p.status = StatusPaused
		return
	}
	p.status = StatusRunning
}

func (p *Producer) maybeGoIdle(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusRunning {
		p.status = StatusIdle
	}
}

func (p *Producer) setStatus(s Status) {
	p.mu.Lock()
	p.status = s
	p.mu.Unlock()
}

// Status reports the producer's current lifecycle state.
func (p *Producer) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Resume transitions the producer to running and triggers an immediate
// dispatch attempt.
func (p *Producer) Resume() {
	p.mu.Lock()
	p.status = StatusRunning
	p.mu.Unlock()
	p.signalWake()
}

// Pause stops further dispatch. If a batch is currently being processed,
// the transition to paused is deferred until that batch completes.
func (p *Producer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusProcessing {
		p.status = StatusPausing
		return
	}
	p.status = StatusPaused
}

// Enqueue jumps video to the front of the manual override queue (LIFO: the
// most recently enqueued video is dispatched first), for operator-triggered
// re-analysis/re-encode requests.
func (p *Producer) Enqueue(video *models.Video) {
	p.mu.Lock()
	p.manualQueue = append(p.manualQueue, video)
	p.mu.Unlock()
	p.signalWake()
}
