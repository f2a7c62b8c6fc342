// Package relay drains the in-process event journal to an external publisher.
// It keeps its own cursor into the journal's monotonic offsets, so a slow or
// briefly failing publisher resumes where it left off instead of dropping
// events.
package relay

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/ridedispatch/internal/dispatch/domain"
	"github.com/example/ridedispatch/internal/dispatch/notify"
)

var (
	relayPublishTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_relay_publish_total",
		Help: "Total number of successfully relayed events.",
	})
	relayFailTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_relay_fail_total",
		Help: "Total number of events dropped after exhausting retries.",
	})
	relayLagSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_relay_lag_seconds",
		Help: "Age of the most recently relayed event in seconds.",
	})
)

// Publisher is the downstream sink, satisfied by events.Publisher.
type Publisher interface {
	Publish(ctx context.Context, event notify.Event) error
}

// Config defines tunables for the relay loop.
type Config struct {
	PollInterval time.Duration
	RetryMax     int
	Backoff      time.Duration
}

// Relay follows the journal and forwards each event in offset order.
type Relay struct {
	journal   *notify.Log
	publisher Publisher
	logger    *zap.Logger
	cfg       Config
	tracer    trace.Tracer
	cursor    int64
}

// New constructs a relay starting from the beginning of the retained journal.
func New(journal *notify.Log, publisher Publisher, logger *zap.Logger, cfg Config) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		journal:   journal,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		tracer:    otel.Tracer("dispatch.relay"),
	}
}

// Run follows the journal until the context is cancelled. Await blocks with
// the poll interval as its window, so an idle journal costs one wakeup per
// interval and a busy one is drained without delay.
func (r *Relay) Run(ctx context.Context) error {
	if r.journal == nil || r.publisher == nil {
		return errors.New("relay requires a journal and a publisher")
	}
	for {
		evt, err := r.journal.Await(ctx, r.cursor, nil, r.cfg.PollInterval)
		if errors.Is(err, domain.ErrTimeout) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error("journal await failed", zap.Error(err))
			continue
		}

		if err := r.publishWithRetry(ctx, evt); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// The event is dropped downstream but stays in the journal;
			// consumers resuming by offset can still recover it.
			relayFailTotal.Inc()
			r.logger.Error("event dropped after retries", zap.Error(err), zap.Int64("offset", evt.Offset))
		} else {
			relayPublishTotal.Inc()
			relayLagSeconds.Set(time.Since(evt.At).Seconds())
		}
		r.cursor = evt.Offset
	}
}

func (r *Relay) publishWithRetry(ctx context.Context, evt notify.Event) error {
	ctx, span := r.tracer.Start(ctx, "relay.publish")
	defer span.End()

	var attempt int
	for {
		attempt++
		err := r.publisher.Publish(ctx, evt)
		if err == nil {
			return nil
		}
		r.logger.Warn("publish failed", zap.Error(err), zap.Int("attempt", attempt), zap.Int64("offset", evt.Offset))
		if attempt >= r.cfg.RetryMax {
			return err
		}
		backoff := time.Duration(attempt*attempt) * r.cfg.Backoff
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
