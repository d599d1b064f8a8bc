// Package broadcaster drains the event outbox into Kafka.
package broadcaster

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"tradebook/infra/metrics"
	exitwal "tradebook/infra/wal/exit"
)

// Publisher delivers one event. Implementations block until the broker
// acknowledges.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
	Close() error
}

type Config struct {
	Interval   time.Duration
	MaxRetries uint32
}

func DefaultConfig() Config {
	return Config{Interval: 250 * time.Millisecond, MaxRetries: 10}
}

type Broadcaster struct {
	exitWAL   *exitwal.ExitWAL
	publisher Publisher
	cfg       Config
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

func New(exitWAL *exitwal.ExitWAL, publisher Publisher, cfg Config, log zerolog.Logger, m *metrics.Metrics) *Broadcaster {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Broadcaster{
		exitWAL:   exitWAL,
		publisher: publisher,
		cfg:       cfg,
		log:       log.With().Str("module", "broadcaster").Logger(),
		metrics:   m,
	}
}

// Run publishes on every tick until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) error {
	b.log.Info().Dur("interval", b.cfg.Interval).Msg("started")
	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.log.Info().Msg("stopped")
			return nil
		case <-ticker.C:
			if _, err := b.Flush(ctx); err != nil && ctx.Err() == nil {
				b.log.Error().Err(err).Msg("flush failed")
			}
		}
	}
}

// Flush makes one pass over the outbox and returns how many events were
// acknowledged. SENT records are retried too: they only survive a pass
// when the process stopped mid-publish.
func (b *Broadcaster) Flush(ctx context.Context) (int, error) {
	pending, err := b.pending()
	if err != nil {
		return 0, err
	}

	acked := 0
	var last uint64
	for _, rec := range pending {
		if ctx.Err() != nil {
			break
		}
		if err := b.exitWAL.UpdateState(rec.Seq, exitwal.StateSent, rec.Retries); err != nil {
			return acked, err
		}
		if err := b.publisher.Publish(ctx, rec.Key, rec.Payload); err != nil {
			b.observe(rec.Key, false)
			b.log.Warn().Err(err).Uint64("seq", rec.Seq).Uint32("retries", rec.Retries+1).Msg("publish failed")
			if err := b.exitWAL.UpdateState(rec.Seq, exitwal.StateFailed, rec.Retries+1); err != nil {
				return acked, err
			}
			// keep order: later events wait for this one
			break
		}
		b.observe(rec.Key, true)
		if err := b.exitWAL.UpdateState(rec.Seq, exitwal.StateAcked, rec.Retries); err != nil {
			return acked, err
		}
		acked++
		last = rec.Seq
	}

	if acked > 0 {
		if _, err := b.exitWAL.DeleteAckedUpTo(last); err != nil {
			return acked, errors.Wrap(err, "prune outbox")
		}
		b.log.Debug().Int("acked", acked).Uint64("upTo", last).Msg("published")
	}
	return acked, nil
}

func (b *Broadcaster) pending() ([]exitwal.ExitRecord, error) {
	var out []exitwal.ExitRecord
	collect := func(rec exitwal.ExitRecord) error {
		if rec.State == exitwal.StateFailed && b.cfg.MaxRetries > 0 && rec.Retries >= b.cfg.MaxRetries {
			return nil
		}
		out = append(out, rec)
		return nil
	}
	for _, s := range []exitwal.ExitState{exitwal.StateSent, exitwal.StateNew, exitwal.StateFailed} {
		if err := b.exitWAL.ScanByState(s, collect); err != nil {
			return nil, err
		}
	}
	sortBySeq(out)
	return out, nil
}

func (b *Broadcaster) observe(key string, ok bool) {
	if b.metrics == nil {
		return
	}
	if ok {
		b.metrics.EventsPublished.WithLabelValues(key).Inc()
	} else {
		b.metrics.PublishFailures.WithLabelValues(key).Inc()
	}
}

func (b *Broadcaster) Close() error {
	return b.publisher.Close()
}

func sortBySeq(recs []exitwal.ExitRecord) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })
}
