package gateway

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const flushBatchSize = 100

// FlushStats counts what one pass did.
type FlushStats struct {
	Flushed int
	Stale   int
	Failed  int
	Pending int
}

// Flusher replays outbox entries into the cache.
type Flusher struct {
	service  *Service
	interval time.Duration
	logger   *zap.Logger
}

func NewFlusher(service *Service, interval time.Duration) *Flusher {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Flusher{
		service:  service,
		interval: interval,
		logger:   service.logger.Named("flusher"),
	}
}

// Run flushes every interval until ctx is done. Without an outbox it returns
// immediately.
func (f *Flusher) Run(ctx context.Context) {
	if f.service.outbox == nil {
		return
	}
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := f.FlushOnce(ctx)
			if err != nil {
				f.logger.Warn("flush pass failed", zap.Error(err))
				continue
			}
			if stats.Flushed+stats.Stale+stats.Failed > 0 {
				f.logger.Info("flush pass",
					zap.Int("flushed", stats.Flushed),
					zap.Int("stale", stats.Stale),
					zap.Int("failed", stats.Failed),
					zap.Int("pending", stats.Pending),
				)
			}
		}
	}
}

// FlushOnce merges up to one batch of pending snapshots into the cache,
// oldest first. An entry is removed only if it was not re-enqueued meanwhile.
func (f *Flusher) FlushOnce(ctx context.Context) (FlushStats, error) {
	var stats FlushStats
	s := f.service
	if s.outbox == nil {
		return stats, nil
	}

	items, err := s.outbox.ListPendingFlushes(ctx, flushBatchSize)
	if err != nil {
		return stats, err
	}

	for _, item := range items {
		pending := item.State
		err := s.cache.Update(ctx, item.DocumentName, func(current []byte, found bool) ([]byte, error) {
			return s.merge(item.DocumentName, current, found, pending)
		})
		if err != nil {
			stats.Failed++
			s.metrics.OutboxFlushes.WithLabelValues("failed").Inc()
			if markErr := s.outbox.MarkFlushFailed(ctx, item.DocumentName, item.Version, err); markErr != nil {
				f.logger.Warn("record flush failure", zap.String("document", item.DocumentName), zap.Error(markErr))
			}
			continue
		}

		removed, err := s.outbox.CompleteFlush(ctx, item.DocumentName, item.Version)
		if err != nil {
			stats.Failed++
			s.metrics.OutboxFlushes.WithLabelValues("failed").Inc()
			f.logger.Warn("complete flush", zap.String("document", item.DocumentName), zap.Error(err))
			continue
		}
		if !removed {
			// re-enqueued while we flushed; the newer state goes next pass
			stats.Stale++
			s.metrics.OutboxFlushes.WithLabelValues("stale").Inc()
			continue
		}
		stats.Flushed++
		s.metrics.OutboxFlushes.WithLabelValues("ok").Inc()
	}

	count, err := s.outbox.PendingFlushCount(ctx)
	if err != nil {
		return stats, err
	}
	stats.Pending = count
	s.metrics.OutboxPending.Set(float64(count))
	return stats, nil
}

// merge folds a parked snapshot into the cached one. An unreadable cached
// state is replaced by the parked snapshot. An unreadable parked snapshot is
// an error and the cached state is left alone.
func (s *Service) merge(name string, current []byte, found bool, pending []byte) ([]byte, error) {
	d := s.engine.NewDocument()
	if err := d.ApplyUpdate(pending); err != nil {
		return nil, fmt.Errorf("parked snapshot: %w", err)
	}
	if !found {
		return pending, nil
	}
	if err := d.ApplyUpdate(current); err != nil {
		s.logger.Warn("cached state unreadable, replacing with parked snapshot", zap.String("document", name), zap.Error(err))
		return pending, nil
	}
	return d.EncodeStateAsUpdate(), nil
}
