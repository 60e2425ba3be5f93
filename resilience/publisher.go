package resilience

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/swarmflow/swarmflow/eventbus"
	"github.com/swarmflow/swarmflow/internal/metrics"
	"github.com/swarmflow/swarmflow/internal/telemetry"
	"github.com/swarmflow/swarmflow/types"
)

// patternDetectionThreshold is the signature frequency at which a
// pattern_detected event is emitted, once per signature.
const patternDetectionThreshold = 10

// Config controls sampling, batching, and the advisory overhead budget.
type Config struct {
	// BatchSize triggers an immediate flush when the buffer reaches it.
	BatchSize int `json:"batch_size" yaml:"batch_size"`
	// FlushInterval is the periodic flush cadence for partial batches.
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
	// OverheadBudget is the per-call duration above which a warning is
	// logged. Calls are never rejected for exceeding it.
	OverheadBudget time.Duration `json:"overhead_budget" yaml:"overhead_budget"`
	// SamplingRates maps event types to a 0..1 publish probability.
	// Types absent from the map publish at 1.0.
	SamplingRates map[types.ResilienceEventType]float64 `json:"sampling_rates" yaml:"sampling_rates"`
	// PatternCacheSize bounds the recent-classification ring.
	PatternCacheSize int `json:"pattern_cache_size" yaml:"pattern_cache_size"`
}

// DefaultConfig publishes every critical event type and samples retries.
func DefaultConfig() Config {
	return Config{
		BatchSize:      50,
		FlushInterval:  5 * time.Second,
		OverheadBudget: 5 * time.Millisecond,
		SamplingRates: map[types.ResilienceEventType]float64{
			types.EventRetryAttempted: 0.25,
		},
		PatternCacheSize: 100,
	}
}

// Publisher buffers resilience events and publishes them in batches.
// One instance owns its buffer and pattern cache; Stop flushes and
// releases the periodic timer.
type Publisher struct {
	config   Config
	bus      eventbus.Bus
	sink     *telemetry.Sink
	metrics  *metrics.Collector
	logger   *zap.Logger
	patterns *patternCache

	// randFloat is swappable so sampling is deterministic under test.
	randFloat func() float64

	mu     sync.Mutex
	buffer []types.ResilienceEvent

	published    atomic.Int64
	dropped      atomic.Int64
	overheadNs   atomic.Int64
	calls        atomic.Int64
	overheadWarn *rate.Limiter

	done     chan struct{}
	stopOnce sync.Once
}

// NewPublisher creates a running publisher. The sink and collector may be
// nil; the bus must not be.
func NewPublisher(config Config, bus eventbus.Bus, sink *telemetry.Sink, collector *metrics.Collector, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Publisher{
		config:       config,
		bus:          bus,
		sink:         sink,
		metrics:      collector,
		logger:       logger.With(zap.String("component", "resilience_publisher")),
		patterns:     newPatternCache(config.PatternCacheSize),
		randFloat:    rand.Float64,
		overheadWarn: rate.NewLimiter(rate.Every(10*time.Second), 1),
		done:         make(chan struct{}),
	}
	if config.FlushInterval > 0 {
		go p.flushLoop()
	}
	return p
}

// PublishErrorDetected records an error occurrence. Learning data carries
// the similarity of this signature to recently seen errors.
func (p *Publisher) PublishErrorDetected(ctx context.Context, errCtx types.ErrorContext, cls types.ErrorClassification) {
	defer p.track(time.Now())
	if !p.sample(types.EventErrorDetected) {
		return
	}

	sig := cls.Signature()
	similarity := p.patterns.similarity(sig)
	frequency := p.patterns.record(cls, time.Now())

	ev := p.newEvent(types.EventErrorDetected, cls.Severity, errCtx, cls)
	ev.Strategy = types.NoopStrategy()
	ev.Learning = types.ResilienceLearningData{
		Signature:       sig,
		SimilarityScore: similarity,
	}
	p.enqueue(ctx, ev)

	if p.sink != nil {
		go p.sink.EmitError(fmt.Errorf("%s", errCtx.Message), errCtx.Component, string(cls.Severity)+":"+cls.Tier, errCtx.Metadata)
	}
	if frequency == patternDetectionThreshold {
		p.publishPatternDetected(ctx, errCtx, cls, frequency)
	}
}

// PublishErrorClassified records the classifier's verdict with its
// confidence and feature tags.
func (p *Publisher) PublishErrorClassified(ctx context.Context, errCtx types.ErrorContext, cls types.ErrorClassification) {
	defer p.track(time.Now())
	if !p.sample(types.EventErrorClassified) {
		return
	}

	ev := p.newEvent(types.EventErrorClassified, cls.Severity, errCtx, cls)
	ev.Strategy = types.NoopStrategy()
	ev.Learning = types.ResilienceLearningData{
		Signature:       cls.Signature(),
		SimilarityScore: cls.Confidence,
		FeatureTags: []string{
			"severity:" + string(cls.Severity),
			"category:" + cls.Category,
			"recoverability:" + cls.Recoverability,
			"tier:" + cls.Tier,
		},
	}
	p.enqueue(ctx, ev)
}

// PublishRecoveryInitiated records the strategy chosen for an error.
func (p *Publisher) PublishRecoveryInitiated(ctx context.Context, errCtx types.ErrorContext, cls types.ErrorClassification, strategy types.RecoveryStrategyConfig) {
	defer p.track(time.Now())
	if !p.sample(types.EventRecoveryInitiated) {
		return
	}

	ev := p.newEvent(types.EventRecoveryInitiated, cls.Severity, errCtx, cls)
	ev.Strategy = strategy
	ev.Learning = types.ResilienceLearningData{
		Signature: cls.Signature(),
		FeatureTags: []string{
			"strategy:" + strategy.Name,
			fmt.Sprintf("maxAttempts:%d", strategy.MaxAttempts),
			fmt.Sprintf("escalate:%t", strategy.Escalate),
		},
	}
	p.enqueue(ctx, ev)
}

// PublishRecoveryCompleted records a successful recovery outcome.
func (p *Publisher) PublishRecoveryCompleted(ctx context.Context, errCtx types.ErrorContext, cls types.ErrorClassification, strategy types.RecoveryStrategyConfig, outcome types.ResilienceOutcome) {
	p.publishOutcome(ctx, types.EventRecoveryCompleted, errCtx, cls, strategy, outcome)
}

// PublishRecoveryFailed records a failed recovery outcome.
func (p *Publisher) PublishRecoveryFailed(ctx context.Context, errCtx types.ErrorContext, cls types.ErrorClassification, strategy types.RecoveryStrategyConfig, outcome types.ResilienceOutcome) {
	p.publishOutcome(ctx, types.EventRecoveryFailed, errCtx, cls, strategy, outcome)
}

func (p *Publisher) publishOutcome(ctx context.Context, eventType types.ResilienceEventType, errCtx types.ErrorContext, cls types.ErrorClassification, strategy types.RecoveryStrategyConfig, outcome types.ResilienceOutcome) {
	defer p.track(time.Now())
	if !p.sample(eventType) {
		return
	}

	sig := cls.Signature()
	p.patterns.recordOutcome(sig, outcome)

	tags := []string{fmt.Sprintf("success:%t", outcome.Success), fmt.Sprintf("durationMs:%d", outcome.DurationMs)}
	for _, s := range outcome.StrategiesUsed {
		tags = append(tags, "strategy:"+s)
	}
	var lessons []string
	if outcome.Success {
		lessons = append(lessons, fmt.Sprintf("%s resolved %s in %dms", strategy.Name, sig, outcome.DurationMs))
	} else {
		lessons = append(lessons, fmt.Sprintf("%s did not resolve %s: %s", strategy.Name, sig, outcome.FinalError))
	}

	ev := p.newEvent(eventType, cls.Severity, errCtx, cls)
	ev.Strategy = strategy
	ev.Outcome = outcome
	ev.Learning = types.ResilienceLearningData{
		Signature:   sig,
		FeatureTags: tags,
		Lessons:     lessons,
	}
	p.enqueue(ctx, ev)

	if p.sink != nil {
		status := "failed"
		if outcome.Success {
			status = "recovered"
		}
		go p.sink.EmitTaskCompletion(errCtx.RequestID, errCtx.Operation, status, outcome.DurationMs, "")
	}
}

// PublishCircuitBreakerOpened records a breaker tripping open.
func (p *Publisher) PublishCircuitBreakerOpened(ctx context.Context, component string, failures int) {
	p.publishBreakerChange(ctx, types.EventCircuitBreakerOpened, types.SeverityHigh, component, failures)
}

// PublishCircuitBreakerClosed records a breaker recovering.
func (p *Publisher) PublishCircuitBreakerClosed(ctx context.Context, component string) {
	p.publishBreakerChange(ctx, types.EventCircuitBreakerClosed, types.SeverityLow, component, 0)
}

func (p *Publisher) publishBreakerChange(ctx context.Context, eventType types.ResilienceEventType, severity types.Severity, component string, failures int) {
	defer p.track(time.Now())
	if !p.sample(eventType) {
		return
	}

	requestID, _ := types.RequestID(ctx)
	errCtx := types.ErrorContext{
		RequestID: requestID,
		Component: component,
		Operation: "circuit_breaker",
		Message:   fmt.Sprintf("circuit breaker %s", eventType),
		Metadata:  map[string]any{"failures": failures},
	}
	ev := p.newEvent(eventType, severity, errCtx, types.ErrorClassification{Severity: severity, Category: "availability", Tier: "infrastructure"})
	ev.Strategy = types.NoopStrategy()
	p.enqueue(ctx, ev)

	if p.sink != nil {
		go p.sink.EmitComponentHealth(component, string(eventType), nil)
	}
}

// PublishEscalation records an error handed up to a broader scope.
func (p *Publisher) PublishEscalation(ctx context.Context, errCtx types.ErrorContext, cls types.ErrorClassification, reason string) {
	defer p.track(time.Now())
	if !p.sample(types.EventEscalation) {
		return
	}

	ev := p.newEvent(types.EventEscalation, cls.Severity, errCtx, cls)
	ev.Strategy = types.NoopStrategy()
	ev.Learning = types.ResilienceLearningData{
		Signature:   cls.Signature(),
		FeatureTags: []string{"reason:" + reason},
	}
	p.enqueue(ctx, ev)
}

// PublishRetryAttempted records one retry. Sampled below 1.0 by default
// since retries are high-volume and low-signal individually.
func (p *Publisher) PublishRetryAttempted(ctx context.Context, errCtx types.ErrorContext, cls types.ErrorClassification, strategy types.RecoveryStrategyConfig, attempt int) {
	defer p.track(time.Now())
	if !p.sample(types.EventRetryAttempted) {
		return
	}

	ev := p.newEvent(types.EventRetryAttempted, cls.Severity, errCtx, cls)
	ev.Strategy = strategy
	ev.Learning = types.ResilienceLearningData{
		Signature:   cls.Signature(),
		FeatureTags: []string{fmt.Sprintf("attempt:%d", attempt)},
	}
	p.enqueue(ctx, ev)
}

func (p *Publisher) publishPatternDetected(ctx context.Context, errCtx types.ErrorContext, cls types.ErrorClassification, frequency int64) {
	if !p.sample(types.EventPatternDetected) {
		return
	}
	ev := p.newEvent(types.EventPatternDetected, cls.Severity, errCtx, cls)
	ev.Strategy = types.NoopStrategy()
	ev.Learning = types.ResilienceLearningData{
		Signature:       cls.Signature(),
		SimilarityScore: 1,
		Lessons:         []string{fmt.Sprintf("signature %s seen %d times", cls.Signature(), frequency)},
	}
	p.enqueue(ctx, ev)
}

// Patterns returns the derived error-pattern view, most frequent first.
func (p *Publisher) Patterns() []types.ErrorPattern {
	return p.patterns.patterns()
}

// Flush publishes the buffered events as one batch. On publish failure
// the whole batch is dropped; there is no retry or re-buffering.
func (p *Publisher) Flush(ctx context.Context) {
	p.mu.Lock()
	batch := p.buffer
	p.buffer = nil
	p.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	envelopes := make([]eventbus.Envelope, 0, len(batch))
	for _, ev := range batch {
		envelopes = append(envelopes, eventbus.Envelope{
			ID:            ev.ID,
			Type:          string(ev.Type),
			Timestamp:     ev.Timestamp,
			Data:          eventData(ev),
			CorrelationID: ev.Context.RequestID,
			Metadata: map[string]string{
				"tier":      ev.Source.Tier,
				"component": ev.Source.Component,
				"severity":  string(ev.Severity),
			},
		})
	}

	if err := p.bus.PublishBatch(ctx, envelopes); err != nil {
		p.dropped.Add(int64(len(batch)))
		if p.metrics != nil {
			p.metrics.RecordResilienceDropped(len(batch))
		}
		p.logger.Warn("resilience batch dropped",
			zap.Int("events", len(batch)),
			zap.Error(err))
		return
	}
	p.published.Add(int64(len(batch)))
}

// Stop cancels the periodic flush, publishes the final batch, and logs a
// pipeline summary. Safe to call more than once.
func (p *Publisher) Stop(ctx context.Context) {
	p.stopOnce.Do(func() {
		close(p.done)
		p.Flush(ctx)

		var avgOverhead time.Duration
		if calls := p.calls.Load(); calls > 0 {
			avgOverhead = time.Duration(p.overheadNs.Load() / calls)
		}
		p.logger.Info("resilience publisher stopped",
			zap.Int64("published", p.published.Load()),
			zap.Int64("dropped", p.dropped.Load()),
			zap.Duration("avg_overhead", avgOverhead))
	})
}

func (p *Publisher) flushLoop() {
	ticker := time.NewTicker(p.config.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Flush(context.Background())
		case <-p.done:
			return
		}
	}
}

// sample decides whether this occurrence publishes. Types without a
// configured rate always publish.
func (p *Publisher) sample(eventType types.ResilienceEventType) bool {
	resilienceRate, ok := p.config.SamplingRates[eventType]
	if !ok || resilienceRate >= 1 {
		return true
	}
	if p.randFloat() < resilienceRate {
		return true
	}
	if p.metrics != nil {
		p.metrics.RecordResilienceSampledOut()
	}
	return false
}

func (p *Publisher) newEvent(eventType types.ResilienceEventType, severity types.Severity, errCtx types.ErrorContext, cls types.ErrorClassification) types.ResilienceEvent {
	return types.ResilienceEvent{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Severity:  severity,
		Source: types.EventSource{
			Tier:      cls.Tier,
			Component: errCtx.Component,
			Operation: errCtx.Operation,
			RequestID: errCtx.RequestID,
		},
		Classification: cls,
		Context:        errCtx,
	}
}

// enqueue buffers the event and flushes when the batch fills.
func (p *Publisher) enqueue(ctx context.Context, ev types.ResilienceEvent) {
	if p.metrics != nil {
		p.metrics.RecordResilienceEvent(string(ev.Type))
	}

	p.mu.Lock()
	p.buffer = append(p.buffer, ev)
	full := p.config.BatchSize > 0 && len(p.buffer) >= p.config.BatchSize
	p.mu.Unlock()

	if full {
		p.Flush(ctx)
	}
}

// track records one public call's overhead against the advisory budget.
func (p *Publisher) track(start time.Time) {
	elapsed := time.Since(start)
	p.calls.Add(1)
	p.overheadNs.Add(elapsed.Nanoseconds())
	if p.metrics != nil {
		p.metrics.RecordPublishOverhead(elapsed.Seconds())
	}
	if p.config.OverheadBudget > 0 && elapsed > p.config.OverheadBudget && p.overheadWarn.Allow() {
		p.logger.Warn("publish overhead above budget",
			zap.Duration("elapsed", elapsed),
			zap.Duration("budget", p.config.OverheadBudget))
	}
}

func eventData(ev types.ResilienceEvent) map[string]any {
	data, err := json.Marshal(ev)
	if err != nil {
		return map[string]any{"id": ev.ID, "type": string(ev.Type)}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"id": ev.ID, "type": string(ev.Type)}
	}
	return out
}
