package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"

	"github.com/bissquit/alert-relay/internal/domain"
	"github.com/bissquit/alert-relay/internal/pkg/ctxlog"
)

// WorkerConfig contains worker configuration.
type WorkerConfig struct {
	Topics         []string      `koanf:"topics"`
	RestartBackoff time.Duration `koanf:"restart_backoff"`
	// ProcessBackoff and MaxProcessBackoff bound the wait between attempts
	// to process a message whose redelivery could not be scheduled.
	ProcessBackoff    time.Duration `koanf:"process_backoff"`
	MaxProcessBackoff time.Duration `koanf:"max_process_backoff"`
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Topics:            []string{"vehicle.alerts", "vehicle.alerts.retry"},
		RestartBackoff:    2 * time.Second,
		ProcessBackoff:    500 * time.Millisecond,
		MaxProcessBackoff: 30 * time.Second,
	}
}

// AlertProcessor handles one decoded alert.
type AlertProcessor interface {
	Process(ctx context.Context, alert *domain.Alert, defaultKey string) error
}

// Worker consumes alerts from Kafka and hands them to a processor. Messages
// are marked only after processing, so delivery is at least once.
type Worker struct {
	config    WorkerConfig
	group     sarama.ConsumerGroup
	processor AlertProcessor

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker creates a new alert worker.
func NewWorker(config WorkerConfig, group sarama.ConsumerGroup, processor AlertProcessor) *Worker {
	defaults := DefaultWorkerConfig()
	if config.RestartBackoff <= 0 {
		config.RestartBackoff = defaults.RestartBackoff
	}
	if config.ProcessBackoff <= 0 {
		config.ProcessBackoff = defaults.ProcessBackoff
	}
	if config.MaxProcessBackoff < config.ProcessBackoff {
		config.MaxProcessBackoff = max(defaults.MaxProcessBackoff, config.ProcessBackoff)
	}
	return &Worker{
		config:    config,
		group:     group,
		processor: processor,
	}
}

// Start launches the consume loop.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	slog.Info("starting alert worker", "topics", w.config.Topics)

	w.wg.Add(2)
	go w.run(ctx)
	go w.logErrors(ctx)
}

// Stop gracefully stops the worker and closes the consumer group.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	if err := w.group.Close(); err != nil {
		slog.Error("failed to close consumer group", "error", err)
	}
	slog.Info("alert worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		// Consume returns on every rebalance and must be called again.
		if err := w.group.Consume(ctx, w.config.Topics, w); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			slog.Error("consume alerts", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.config.RestartBackoff):
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (w *Worker) logErrors(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-w.group.Errors():
			if !ok {
				return
			}
			slog.Error("consumer group error", "error", err)
		}
	}
}

// Setup implements sarama.ConsumerGroupHandler.
func (w *Worker) Setup(session sarama.ConsumerGroupSession) error {
	slog.Info("consumer group session started",
		"member_id", session.MemberID(),
		"generation", session.GenerationID(),
	)
	return nil
}

// Cleanup implements sarama.ConsumerGroupHandler.
func (w *Worker) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim implements sarama.ConsumerGroupHandler. A message is marked
// only once it was processed; a failing message is retried with backoff and
// left unmarked when the session ends first.
func (w *Worker) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := w.processWithRetry(ctx, msg); err != nil {
				slog.Warn("leaving message unmarked",
					"topic", msg.Topic,
					"partition", msg.Partition,
					"offset", msg.Offset,
					"error", err,
				)
				return nil
			}
			session.MarkMessage(msg, "")
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Worker) processWithRetry(ctx context.Context, msg *sarama.ConsumerMessage) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.config.ProcessBackoff
	b.MaxInterval = w.config.MaxProcessBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	notify := func(err error, wait time.Duration) {
		slog.Error("alert processing failed, retrying",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"retry_in", wait,
			"error", err,
		)
	}
	return backoff.RetryNotify(func() error {
		return w.handleMessage(ctx, msg)
	}, backoff.WithContext(b, ctx), notify)
}

// handleMessage decodes and processes msg. Undecodable messages are dropped
// and reported as handled.
func (w *Worker) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	logger := slog.Default().With(
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
	)

	var alert domain.Alert
	if err := json.Unmarshal(msg.Value, &alert); err != nil {
		logger.Error("discarding undecodable alert", "error", err)
		recordAlertProcessed(msg.Topic, "invalid")
		return nil
	}

	ctx = ctxlog.WithLogger(ctx, logger)
	if err := w.processor.Process(ctx, &alert, string(msg.Key)); err != nil {
		recordAlertProcessed(msg.Topic, "error")
		return fmt.Errorf("process alert %s: %w", alert.ID, err)
	}
	recordAlertProcessed(msg.Topic, "ok")
	return nil
}
