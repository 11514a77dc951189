package worker

import (
	"context"
	"log"
	"time"

	"payment-reconciler/internal/broker"
	"payment-reconciler/internal/ledger"
	"payment-reconciler/internal/models"
	"payment-reconciler/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventEngine consumes a typed payment event.
type EventEngine interface {
	HandleEvent(ctx context.Context, event models.PaymentEvent) error
}

// ReconcileWorker consumes gateway-relayed provider events from Kafka and
// feeds them to the reconciliation engine. Delivery is at-least-once; the
// ledger makes redelivery safe.
type ReconcileWorker struct {
	consumer *broker.Consumer
	engine   EventEngine
	logger   *zap.Logger
}

// NewReconcileWorker creates a new reconcile worker
func NewReconcileWorker(consumer *broker.Consumer, engine EventEngine) *ReconcileWorker {
	return &ReconcileWorker{
		consumer: consumer,
		engine:   engine,
		logger:   util.GetLogger(),
	}
}

// Start starts the worker
func (w *ReconcileWorker) Start(ctx context.Context) error {
	log.Println("Starting reconcile worker...")
	return w.consumer.StartConsuming(ctx, w.handleMessage)
}

// Stop stops the worker
func (w *ReconcileWorker) Stop() error {
	log.Println("Stopping reconcile worker...")
	return w.consumer.Close()
}

// handleMessage parses and dispatches one message. Unparsable payloads
// are dropped rather than redelivered forever; engine errors propagate so
// the message is retried.
func (w *ReconcileWorker) handleMessage(ctx context.Context, msg kafka.Message) error {
	event, err := models.ParsePaymentEvent(msg.Value)
	if err != nil {
		w.logger.Warn("Dropping unparsable payment event",
			zap.ByteString("key", msg.Key),
			zap.Error(err))
		return nil
	}

	return w.engine.HandleEvent(ctx, event)
}

// CleanupWorker periodically purges expired ledger rows.
type CleanupWorker struct {
	ledger   *ledger.Ledger
	cfg      ledger.Config
	interval time.Duration
	logger   *zap.Logger
}

// NewCleanupWorker creates a new cleanup worker
func NewCleanupWorker(l *ledger.Ledger, cfg ledger.Config, interval time.Duration) *CleanupWorker {
	return &CleanupWorker{
		ledger:   l,
		cfg:      cfg,
		interval: interval,
		logger:   util.GetLogger(),
	}
}

// Start runs the purge loop until the context is cancelled.
func (w *CleanupWorker) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	log.Println("Starting ledger cleanup worker...")

	for {
		select {
		case <-ctx.Done():
			log.Println("Cleanup worker context cancelled, stopping...")
			return ctx.Err()
		case <-ticker.C:
			purged, err := w.ledger.PurgeExpired(ctx, w.cfg)
			if err != nil {
				w.logger.Error("Ledger purge failed", zap.Error(err))
			}
			if purged > 0 {
				util.LedgerPurgedTotal.Add(float64(purged))
				w.logger.Info("Purged expired ledger rows",
					zap.Int64("count", purged))
			}
		}
	}
}
