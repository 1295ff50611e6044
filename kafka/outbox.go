package kafka

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// OutboxDispatcher relays rows written to cart_outbox by finalization to Kafka.
type OutboxDispatcher struct {
	db        *sql.DB
	producer  sarama.SyncProducer
	topic     string
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
}

type outboxRow struct {
	ID        int64
	EventType string
	Payload   []byte
	Attempts  int
}

func NewOutboxDispatcher(db *sql.DB, producer sarama.SyncProducer, topic string, interval time.Duration, batch int, logger *zap.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		db:        db,
		producer:  producer,
		topic:     topic,
		interval:  interval,
		batchSize: batch,
		logger:    logger,
	}
}

// Start runs the dispatcher until ctx is canceled.
func (d *OutboxDispatcher) Start(ctx context.Context) {
	go d.loop(ctx)
}

func (d *OutboxDispatcher) loop(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if _, err := d.dispatch(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("Outbox dispatch failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// dispatch publishes one batch of unpublished rows and returns how many were sent. Rows stay
// locked until the batch commits, so concurrent dispatchers skip them.
func (d *OutboxDispatcher) dispatch(ctx context.Context) (int, error) {
	ctx, span := otel.Tracer("cart-service").Start(ctx, "outbox.dispatch")
	defer span.End()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin outbox transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := lockRows(ctx, tx, d.batchSize)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	sent := 0
	for _, row := range rows {
		key := strconv.FormatInt(row.ID, 10)
		if err := PublishEvent(ctx, d.producer, d.topic, key, row.EventType, row.Payload, d.logger); err != nil {
			d.logger.Warn("Publish outbox event failed",
				zap.Int64("row_id", row.ID),
				zap.Int("attempts", row.Attempts+1),
				zap.Error(err),
			)
			if _, err := tx.ExecContext(ctx, "UPDATE cart_outbox SET attempts = attempts + 1 WHERE id = $1", row.ID); err != nil {
				return sent, fmt.Errorf("update outbox attempts: %w", err)
			}
			continue
		}

		if _, err := tx.ExecContext(ctx, "UPDATE cart_outbox SET published_at = NOW() WHERE id = $1", row.ID); err != nil {
			return sent, fmt.Errorf("mark outbox row published: %w", err)
		}
		sent++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit outbox transaction: %w", err)
	}
	span.SetAttributes(attribute.Int("outbox.sent", sent), attribute.Int("outbox.batch", len(rows)))
	return sent, nil
}

func lockRows(ctx context.Context, tx *sql.Tx, limit int) ([]outboxRow, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT id, event_type, payload, attempts FROM cart_outbox WHERE published_at IS NULL ORDER BY id LIMIT $1 FOR UPDATE SKIP LOCKED",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var items []outboxRow
	for rows.Next() {
		var row outboxRow
		if err := rows.Scan(&row.ID, &row.EventType, &row.Payload, &row.Attempts); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		items = append(items, row)
	}
	return items, rows.Err()
}
