package worker

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/lumehealth/lume-sync/internal/model"
	"github.com/lumehealth/lume-sync/internal/repository"
	apperrors "github.com/lumehealth/lume-sync/pkg/errors"
	"github.com/lumehealth/lume-sync/pkg/logger"
	"github.com/lumehealth/lume-sync/pkg/metrics"
)

// Dispatcher pushes the entity behind one outbox event to the backend.
type Dispatcher interface {
	Dispatch(ctx context.Context, event *model.OutboxEvent) error
	MarkEntityFailed(ctx context.Context, event *model.OutboxEvent) error
}

type OutboxProcessorConfig struct {
	UserID         uuid.UUID
	BatchSize      int
	PollInterval   time.Duration
	PushTimeout    time.Duration
	ReclaimGrace   time.Duration
	Concurrency    int
	RatePerSecond  float64
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

func (c *OutboxProcessorConfig) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 25
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.PushTimeout <= 0 {
		c.PushTimeout = 30 * time.Second
	}
	if c.ReclaimGrace <= 0 {
		c.ReclaimGrace = 120 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 10
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 2 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 5 * time.Minute
	}
}

// OutboxProcessor drains the outbox: it claims pending events, pushes
// them through the dispatcher, and records the outcome. Failed pushes
// are retried with exponential backoff until attempts run out or the
// error is non-retryable.
type OutboxProcessor struct {
	repo       repository.OutboxRepository
	dispatcher Dispatcher
	config     OutboxProcessorConfig
	limiter    *rate.Limiter
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
	dispatcher Dispatcher,
	config OutboxProcessorConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *OutboxProcessor {
	config.applyDefaults()
	return &OutboxProcessor{
		repo:       repo,
		dispatcher: dispatcher,
		config:     config,
		limiter:    rate.NewLimiter(rate.Limit(config.RatePerSecond), config.BatchSize),
		logger:     logger,
		metrics:    metrics,
	}
}

// Start polls until the context is cancelled. One reclaim pass runs at
// startup so events orphaned by a crash re-enter the queue immediately.
func (p *OutboxProcessor) Start(ctx context.Context) error {
	p.logger.Info("starting outbox processor",
		"poll_interval", p.config.PollInterval.String(),
		"batch_size", p.config.BatchSize,
	)

	if err := p.reclaim(ctx); err != nil {
		p.logger.Error(err, "startup reclaim failed")
	}

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox processor stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := p.ProcessOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Error(err, "outbox batch failed")
			}
		}
	}
}

// ProcessOnce drains one batch. Events run concurrently up to the
// configured limit; each failure is isolated to its event.
func (p *OutboxProcessor) ProcessOnce(ctx context.Context) error {
	start := time.Now()
	defer func() {
		p.metrics.OutboxProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	if err := p.reclaim(ctx); err != nil {
		p.logger.Error(err, "reclaim pass failed")
	}

	events, err := p.repo.FetchPending(ctx, p.config.UserID, p.config.BatchSize)
	if err != nil {
		return err
	}
	p.updateQueueGauge(ctx)
	if len(events) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Concurrency)
	for _, event := range events {
		event := event
		g.Go(func() error {
			p.processEvent(gctx, event)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (p *OutboxProcessor) processEvent(ctx context.Context, event *model.OutboxEvent) {
	if err := p.limiter.Wait(ctx); err != nil {
		return
	}

	claimed, err := p.repo.Claim(ctx, event.ID)
	if err != nil {
		p.logger.Error(err, "failed to claim event", "event_id", event.ID.String())
		return
	}
	if !claimed {
		return
	}

	pushCtx, cancel := context.WithTimeout(ctx, p.config.PushTimeout)
	pushStart := time.Now()
	err = p.dispatcher.Dispatch(pushCtx, event)
	cancel()
	p.metrics.PushLatency.WithLabelValues(string(event.EventType)).Observe(time.Since(pushStart).Seconds())

	if err == nil {
		if err := p.repo.MarkCompleted(ctx, event.ID); err != nil {
			p.logger.Error(err, "failed to mark event completed", "event_id", event.ID.String())
			return
		}
		p.metrics.OutboxEventsProcessed.Inc()
		return
	}

	if ctx.Err() != nil {
		// Shutdown, not a push verdict. The event stays processing and
		// the reclaim pass returns it to pending after the grace period.
		return
	}

	p.recordFailure(ctx, event, err)
}

func (p *OutboxProcessor) recordFailure(ctx context.Context, event *model.OutboxEvent, pushErr error) {
	terminal := !apperrors.Retryable(pushErr)

	var retryAt *time.Time
	if !terminal {
		at := time.Now().Add(p.retryDelay(event.AttemptCount))
		retryAt = &at
	}

	nowTerminal, err := p.repo.MarkFailed(ctx, event.ID, pushErr.Error(), retryAt, terminal)
	if err != nil {
		p.logger.Error(err, "failed to record event failure", "event_id", event.ID.String())
		return
	}

	if nowTerminal {
		p.metrics.OutboxEventsFailed.Inc()
		p.logger.Error(pushErr, "event failed terminally",
			"event_id", event.ID.String(),
			"event_type", string(event.EventType),
			"attempts", event.AttemptCount+1,
		)
		if err := p.dispatcher.MarkEntityFailed(ctx, event); err != nil {
			p.logger.Error(err, "failed to flag entity after terminal failure", "entity_id", event.EntityID.String())
		}
		return
	}

	p.metrics.OutboxRetries.WithLabelValues(string(event.EventType)).Inc()
	p.logger.Warn("event push failed, will retry",
		"event_id", event.ID.String(),
		"attempts", event.AttemptCount+1,
		"retry_at", retryAt.Format(time.RFC3339),
	)
}

// retryDelay replays the backoff sequence up to the given attempt, so
// the schedule survives process restarts.
func (p *OutboxProcessor) retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.config.RetryBaseDelay
	b.MaxInterval = p.config.RetryMaxDelay
	b.MaxElapsedTime = 0
	// Reset re-seeds currentInterval, which the constructor set from the
	// package default before InitialInterval was overridden.
	b.Reset()

	d := b.NextBackOff()
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

func (p *OutboxProcessor) reclaim(ctx context.Context) error {
	n, err := p.repo.ReclaimStale(ctx, p.config.ReclaimGrace)
	if err != nil {
		return err
	}
	if n > 0 {
		p.metrics.OutboxEventsReclaimed.Add(float64(n))
		p.logger.Warn("reclaimed stale processing events", "count", n)
	}
	return nil
}

func (p *OutboxProcessor) updateQueueGauge(ctx context.Context) {
	counts, err := p.repo.CountByStatus(ctx, p.config.UserID)
	if err != nil {
		return
	}
	p.metrics.OutboxQueueSize.Set(float64(counts[model.OutboxStatusPending]))
}
