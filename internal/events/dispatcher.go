package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/taskwell/mailsync/internal/store"
)

// Dispatcher drains the outbox and publishes entries to JetStream.
type Dispatcher struct {
	store *store.Store
	pub   *Publisher
	log   *zap.Logger
}

// NewDispatcher wires the outbox drain loop.
func NewDispatcher(st *store.Store, pub *Publisher, log *zap.Logger) *Dispatcher {
	return &Dispatcher{store: st, pub: pub, log: log}
}

// Run blocks until ctx is canceled, publishing due outbox entries in
// batches. Failed publishes are rescheduled with a fixed backoff; the
// JetStream msg-id dedup window absorbs any double send.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		entries, err := d.store.DequeueOutbox(ctx, 100)
		if err != nil {
			d.log.Error("dequeue outbox", zap.Error(err))
			sleep(ctx, time.Second)
			continue
		}

		if len(entries) == 0 {
			sleep(ctx, 500*time.Millisecond)
			continue
		}

		for _, e := range entries {
			if err := d.pub.Publish(e.Subject, e.Payload, e.MsgID); err != nil {
				d.log.Warn("publish outbox entry",
					zap.Int64("id", e.ID), zap.String("type", e.EventType), zap.Error(err))
				_ = d.store.MarkOutboxRetry(ctx, e.ID, 10*time.Second)
				continue
			}
			if err := d.store.MarkOutboxPublished(ctx, e.ID); err != nil {
				d.log.Error("mark outbox published", zap.Int64("id", e.ID), zap.Error(err))
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
