package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"qms/token-service/internal/events"
	"qms/token-service/internal/metrics"
	"qms/token-service/internal/models"
	"qms/token-service/internal/phone"
	"qms/token-service/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	MaxDelayMinutes  = 120
	defaultResources = 10
)

var DefaultQueues = []string{"A", "B", "C"}

var ErrInvalidDelay = errors.New("invalid delay")

// Notifier accepts notification requests without blocking. Delivery problems
// are the notifier's to log; they never reach the caller of Assign.
type Notifier interface {
	Enqueue(req models.NotifyRequest)
}

type Publisher interface {
	Publish(event events.Event)
}

type AssignInput struct {
	RequestID   string
	Phone       string
	QueuePrefix string
	Policy      models.DuplicatePolicy
	Now         time.Time
}

type TransitionInput struct {
	RequestID string
	TokenID   string
	To        string
	Now       time.Time
}

type DelayInput struct {
	RequestID string
	TokenID   string
	Minutes   int
	Now       time.Time
}

type Options struct {
	Queues         []string
	ServiceMinutes int
	ResourceCount  int
	MaxSequence    int
	Selector       ResourceSelector
	Notifier       Notifier
	Publisher      Publisher
	Metrics        metrics.Recorder
	Logger         *slog.Logger
	Tracer         trace.Tracer
	// Location decides where the queue day starts. Defaults to UTC.
	Location *time.Location
}

// Coordinator owns the queue day: the ledger and the rate-limit store are
// only mutated through it, under a single lock. Events are handed to the
// publisher under the same lock, so they reach it in ledger order.
type Coordinator struct {
	mu             sync.Mutex
	ledger         *store.Ledger
	limiter        *store.RateLimitStore
	queues         []string
	queueSet       map[string]bool
	serviceMinutes int
	resourceCount  int
	maxSequence    int
	selector       ResourceSelector
	notifier       Notifier
	publisher      Publisher
	metrics        metrics.Recorder
	logger         *slog.Logger
	tracer         trace.Tracer
	location       *time.Location
	day            time.Time
}

func NewCoordinator(ledger *store.Ledger, limiter *store.RateLimitStore, options Options) *Coordinator {
	queues := options.Queues
	if len(queues) == 0 {
		queues = DefaultQueues
	}
	queueSet := make(map[string]bool, len(queues))
	for _, q := range queues {
		queueSet[q] = true
	}
	serviceMinutes := options.ServiceMinutes
	if serviceMinutes <= 0 {
		serviceMinutes = DefaultServiceMinutes
	}
	resourceCount := options.ResourceCount
	if resourceCount <= 0 {
		resourceCount = defaultResources
	}
	selector := options.Selector
	if selector == nil {
		selector = LeastLoaded{}
	}
	recorder := options.Metrics
	if recorder == nil {
		recorder = metrics.NewNop()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := options.Tracer
	if tracer == nil {
		tracer = otel.Tracer("qms/token-service/engine")
	}
	location := options.Location
	if location == nil {
		location = time.UTC
	}
	return &Coordinator{
		location:       location,
		ledger:         ledger,
		limiter:        limiter,
		queues:         queues,
		queueSet:       queueSet,
		serviceMinutes: serviceMinutes,
		resourceCount:  resourceCount,
		maxSequence:    options.MaxSequence,
		selector:       selector,
		notifier:       options.Notifier,
		publisher:      options.Publisher,
		metrics:        recorder,
		logger:         logger,
		tracer:         tracer,
	}
}

func (c *Coordinator) Queues() []string {
	out := make([]string, len(c.queues))
	copy(out, c.queues)
	return out
}

func (c *Coordinator) Assign(ctx context.Context, input AssignInput) (models.AssignResult, error) {
	ctx, span := c.tracer.Start(ctx, "engine.Assign", trace.WithAttributes(
		attribute.String("queue.prefix", input.QueuePrefix),
		attribute.String("queue.duplicate_policy", input.Policy.String()),
	))
	defer span.End()

	result, token, err := c.assign(input)
	if err != nil {
		c.metrics.ObserveAssignment(assignOutcome(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, store.Kind(err))
		if errors.Is(err, store.ErrInternalInvariantViolation) {
			c.logger.ErrorContext(ctx, "assignment aborted on invariant violation",
				"error", err,
				"request_id", input.RequestID,
				"queue", input.QueuePrefix,
				"policy", input.Policy.String(),
				"phone", phone.Mask(token.Phone),
				"token_id", token.TokenID,
				"sequence", sequenceOf(token),
			)
		}
		return models.AssignResult{}, err
	}
	if result.Reused {
		c.metrics.ObserveAssignment("reused")
		return result, nil
	}

	c.metrics.ObserveAssignment("assigned")
	c.metrics.SetActive(token.QueuePrefix, c.ledger.ActiveCount(token.QueuePrefix))
	span.SetAttributes(attribute.String("token.id", token.TokenID), attribute.Int("token.position", result.Position))
	c.logger.InfoContext(ctx, "token assigned",
		"request_id", input.RequestID,
		"token_id", token.TokenID,
		"position", result.Position,
		"wait_minutes", result.WaitEstimateMinutes,
		"resource", token.Resource,
	)

	if c.notifier != nil {
		c.notifier.Enqueue(models.NotifyRequest{
			Phone:               token.Phone,
			TokenID:             token.TokenID,
			Position:            result.Position,
			WaitEstimateMinutes: result.WaitEstimateMinutes,
		})
	}
	return result, nil
}

// assign runs validation through commit. Nothing is mutated unless every step
// before the ledger append succeeded.
func (c *Coordinator) assign(input AssignInput) (models.AssignResult, models.Token, error) {
	canonical, err := phone.Normalize(input.Phone)
	if err != nil {
		return models.AssignResult{}, models.Token{}, err
	}
	prefix, err := c.normalizeQueue(input.QueuePrefix)
	if err != nil {
		return models.AssignResult{}, models.Token{}, err
	}
	now := input.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cleared, rolled := c.advanceDayLocked(now); rolled {
		c.rolledOver(cleared, now)
	}

	if err := c.limiter.Check(canonical, now); err != nil {
		return models.AssignResult{}, models.Token{}, err
	}

	if existing, found := c.ledger.FindActiveByPhone(canonical); found {
		switch input.Policy {
		case models.DuplicateReuseExisting:
			position, _ := c.ledger.Position(existing.TokenID)
			return models.AssignResult{
				TokenID:             existing.TokenID,
				QueuePrefix:         existing.QueuePrefix,
				Position:            position,
				WaitEstimateMinutes: existing.WaitEstimateMinutes,
				ETA:                 existing.ETA,
				Status:              existing.Status,
				Resource:            existing.Resource,
				Reused:              true,
			}, existing, nil
		case models.DuplicateForceNew:
		default:
			return models.AssignResult{}, models.Token{}, &store.DuplicateActiveTokenError{Existing: existing}
		}
	}

	seq := c.ledger.NextSequence(prefix)
	if c.maxSequence > 0 && seq > c.maxSequence {
		return models.AssignResult{}, models.Token{}, fmt.Errorf("%w: queue %s reached %d tokens", store.ErrCapacityExceeded, prefix, c.maxSequence)
	}
	estimate := EstimatePosition(c.ledger.ActiveCount(prefix), c.serviceMinutes)
	token := models.Token{
		TokenID:             FormatTokenID(prefix, seq),
		QueuePrefix:         prefix,
		Phone:               canonical,
		Resource:            c.selector.Select(c.ledger.ResourceUsage(), c.resourceCount),
		WaitEstimateMinutes: estimate.WaitEstimateMinutes,
		Status:              estimate.Status,
		CreatedAt:           now,
		ETA:                 now.Add(time.Duration(estimate.WaitEstimateMinutes) * time.Minute),
		RequestID:           input.RequestID,
	}

	if err := c.ledger.Append(token); err != nil {
		return models.AssignResult{}, token, err
	}
	c.limiter.Commit(canonical, now)
	c.publish(events.Event{Type: store.EventTokenCreated, Token: token, NewStatus: token.Status, CreatedAt: token.CreatedAt})

	return models.AssignResult{
		TokenID:             token.TokenID,
		QueuePrefix:         token.QueuePrefix,
		Position:            estimate.Position,
		WaitEstimateMinutes: token.WaitEstimateMinutes,
		ETA:                 token.ETA,
		Status:              token.Status,
		Resource:            token.Resource,
	}, token, nil
}

func (c *Coordinator) Transition(ctx context.Context, input TransitionInput) (models.Token, error) {
	ctx, span := c.tracer.Start(ctx, "engine.Transition", trace.WithAttributes(
		attribute.String("token.id", input.TokenID),
		attribute.String("token.status.to", input.To),
	))
	defer span.End()

	now := input.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	c.mu.Lock()
	before, after, err := c.ledger.Update(input.TokenID, func(token *models.Token) error {
		if err := store.Transition(token.Status, input.To); err != nil {
			return err
		}
		token.Status = input.To
		return nil
	})
	if err == nil {
		c.publish(events.Event{
			Type:      store.EventTokenStatusChanged,
			Token:     after,
			OldStatus: before.Status,
			NewStatus: after.Status,
			CreatedAt: now,
		})
	}
	c.mu.Unlock()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.Token{}, err
	}

	c.metrics.ObserveTransition(after.Status)
	c.metrics.SetActive(after.QueuePrefix, c.ledger.ActiveCount(after.QueuePrefix))
	c.logger.InfoContext(ctx, "token status changed",
		"request_id", input.RequestID,
		"token_id", after.TokenID,
		"from", before.Status,
		"to", after.Status,
	)
	return after, nil
}

// Delay pushes a token's ETA back by minutes. A waiting token moves to
// delayed; a delayed token only gets the extra time. The original wait
// estimate is kept.
func (c *Coordinator) Delay(ctx context.Context, input DelayInput) (models.Token, error) {
	if input.Minutes <= 0 || input.Minutes > MaxDelayMinutes {
		return models.Token{}, fmt.Errorf("%w: must be between 1 and %d minutes", ErrInvalidDelay, MaxDelayMinutes)
	}
	now := input.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	c.mu.Lock()
	before, after, err := c.ledger.Update(input.TokenID, func(token *models.Token) error {
		if token.Status != models.StatusDelayed {
			if err := store.Transition(token.Status, models.StatusDelayed); err != nil {
				return err
			}
			token.Status = models.StatusDelayed
		}
		token.ETA = token.ETA.Add(time.Duration(input.Minutes) * time.Minute)
		return nil
	})
	if err == nil {
		if before.Status != after.Status {
			c.publish(events.Event{
				Type:      store.EventTokenStatusChanged,
				Token:     after,
				OldStatus: before.Status,
				NewStatus: after.Status,
				CreatedAt: now,
			})
		}
		c.publish(events.Event{Type: store.EventTokenDelayed, Token: after, CreatedAt: now})
	}
	c.mu.Unlock()
	if err != nil {
		return models.Token{}, err
	}

	if before.Status != after.Status {
		c.metrics.ObserveTransition(after.Status)
		c.metrics.SetActive(after.QueuePrefix, c.ledger.ActiveCount(after.QueuePrefix))
	}
	c.logger.InfoContext(ctx, "token delayed",
		"request_id", input.RequestID,
		"token_id", after.TokenID,
		"minutes", input.Minutes,
		"eta", after.ETA,
	)
	return after, nil
}

func (c *Coordinator) Get(tokenID string) (models.Token, error) {
	token, ok := c.ledger.Get(strings.ToUpper(strings.TrimSpace(tokenID)))
	if !ok {
		return models.Token{}, store.ErrTokenNotFound
	}
	return token, nil
}

func (c *Coordinator) List(filter store.ListFilter) []models.Token {
	filter.QueuePrefix = strings.ToUpper(strings.TrimSpace(filter.QueuePrefix))
	return c.ledger.List(filter)
}

func (c *Coordinator) Stats() []models.QueueStats {
	return c.ledger.Stats(c.queues)
}

// Rollover starts the queue day now falls on and clears the tokens of earlier
// days. Tokens already issued on that day are kept with their sequences.
// Rate-limit records survive; they age out through EvictRateLimits.
func (c *Coordinator) Rollover(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cleared := c.rolloverLocked(now)
	c.rolledOver(cleared, now)
	return cleared
}

// AdvanceDay rolls over only when now falls on a later day than the current
// queue day. The first call pins the day without clearing anything.
func (c *Coordinator) AdvanceDay(now time.Time) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cleared, rolled := c.advanceDayLocked(now)
	if rolled {
		c.rolledOver(cleared, now)
	}
	return cleared, rolled
}

// Day is the current queue day, zero until the first assignment or restore.
func (c *Coordinator) Day() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.day
}

func (c *Coordinator) advanceDayLocked(now time.Time) (int, bool) {
	day := dayOf(now, c.location)
	if c.day.IsZero() {
		c.day = day
		return 0, false
	}
	if !day.After(c.day) {
		return 0, false
	}
	return c.rolloverLocked(now), true
}

func (c *Coordinator) rolloverLocked(now time.Time) int {
	if day := dayOf(now, c.location); day.After(c.day) {
		c.day = day
	}
	return c.ledger.ResetBefore(c.day)
}

func (c *Coordinator) rolledOver(cleared int, now time.Time) {
	for _, q := range c.queues {
		c.metrics.SetActive(q, c.ledger.ActiveCount(q))
	}
	c.logger.Info("queue day rolled over", "cleared", cleared, "day", c.day.Format(time.DateOnly), "at", now)
}

// Restore loads archived tokens into an empty ledger.
func (c *Coordinator) Restore(tokens []models.Token) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ledger.Len() > 0 {
		return fmt.Errorf("restore into non-empty ledger (%d tokens)", c.ledger.Len())
	}
	if err := c.ledger.Restore(tokens); err != nil {
		c.ledger.Reset()
		return err
	}
	for _, token := range tokens {
		if token.CreatedAt.IsZero() {
			continue
		}
		if day := dayOf(token.CreatedAt, c.location); day.After(c.day) {
			c.day = day
		}
	}
	for _, q := range c.queues {
		c.metrics.SetActive(q, c.ledger.ActiveCount(q))
	}
	return nil
}

func (c *Coordinator) EvictRateLimits(now time.Time) int {
	return c.limiter.Evict(now)
}

func (c *Coordinator) normalizeQueue(raw string) (string, error) {
	prefix := strings.ToUpper(strings.TrimSpace(raw))
	if len(prefix) != 1 || prefix[0] < 'A' || prefix[0] > 'Z' || !c.queueSet[prefix] {
		return "", fmt.Errorf("%w: %q", store.ErrUnknownQueue, raw)
	}
	return prefix, nil
}

func (c *Coordinator) publish(event events.Event) {
	if c.publisher == nil {
		return
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	c.publisher.Publish(event)
}

func sequenceOf(token models.Token) int {
	seq, _ := store.SequenceOf(token.QueuePrefix, token.TokenID)
	return seq
}

func assignOutcome(err error) string {
	switch store.Kind(err) {
	case store.KindInvalidPhoneNumber:
		return "invalid_phone"
	case store.KindUnknownQueue:
		return "unknown_queue"
	case store.KindRateLimited:
		return "rate_limited"
	case store.KindDuplicateActiveToken:
		return "duplicate"
	case store.KindCapacityExceeded:
		return "capacity_exceeded"
	case store.KindInternalInvariantViolation:
		return "invariant_violation"
	default:
		return "error"
	}
}
