package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tradebook/api/grpcserver"
	"tradebook/config"
	"tradebook/infra/kafka"
	"tradebook/infra/metrics"
	entrywal "tradebook/infra/wal/entry"
	exitwal "tradebook/infra/wal/exit"
	"tradebook/jobs/broadcaster"
	"tradebook/service"
	"tradebook/snapshot"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Recover state and serve the exchange over gRPC",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg, log := a.cfg, a.log

	// ---------------- Journal ----------------

	journal, err := entrywal.Open(entrywal.Config{
		Dir:             cfg.JournalDir(),
		SegmentSize:     cfg.Journal.SegmentSize,
		SegmentDuration: cfg.Journal.SegmentDuration,
		SyncWrites:      cfg.Journal.SyncWrites,
		Log:             log,
	})
	if err != nil {
		return errors.Wrap(err, "open journal")
	}
	defer journal.Close()

	// ---------------- Outbox ----------------

	outbox, err := exitwal.Open(cfg.OutboxDir())
	if err != nil {
		return errors.Wrap(err, "open outbox")
	}
	defer outbox.Close()

	// ---------------- Exchange ----------------

	m := metrics.New()
	x, err := service.New(cfg.ExchangeOptions(), service.Deps{
		Journal: journal,
		Outbox:  outbox,
		Metrics: m,
		Log:     log,
	})
	if err != nil {
		return err
	}
	applied, err := x.Recover(cfg.SnapshotDir(), cfg.JournalDir())
	if err != nil {
		return errors.Wrap(err, "recover")
	}
	if _, err := x.Audit(); err != nil {
		return errors.Wrap(err, "audit after recovery")
	}
	log.Info().Uint64("seq", x.LastSeq()).Int("replayed", applied).Msg("state recovered")

	// ---------------- Servers and jobs ----------------

	g, ctx := errgroup.WithContext(ctx)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", cfg.GRPCAddr)
	}
	gs := grpcserver.NewGRPCServer(grpcserver.New(x, log, grpcserver.WithSignatureWindow(cfg.SignatureWindow)))
	g.Go(func() error {
		log.Info().Str("addr", cfg.GRPCAddr).Msg("grpc listening")
		return gs.Serve(lis)
	})
	g.Go(func() error {
		<-ctx.Done()
		gs.GracefulStop()
		return nil
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	hs := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	g.Go(func() error {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
		if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hs.Shutdown(sctx)
	})

	pub, err := newPublisher(cfg.Kafka)
	if err != nil {
		return err
	}
	if pub != nil {
		b := broadcaster.New(outbox, pub, broadcaster.Config{
			Interval:   cfg.Kafka.PublishInterval,
			MaxRetries: uint32(cfg.Kafka.MaxRetries),
		}, log, m)
		defer b.Close()
		g.Go(func() error { return b.Run(ctx) })
	} else {
		log.Warn().Msg("no kafka brokers configured, events stay in the outbox")
	}

	g.Go(func() error {
		return x.RunSnapshots(ctx, &snapshot.Writer{Dir: cfg.SnapshotDir()}, cfg.SnapshotInterval)
	})

	err = g.Wait()
	log.Info().Uint64("seq", x.LastSeq()).Msg("stopped")
	return err
}

// newPublisher returns nil when publishing is disabled.
func newPublisher(c config.KafkaConfig) (broadcaster.Publisher, error) {
	if len(c.Brokers) == 0 {
		return nil, nil
	}
	switch c.Client {
	case config.ClientKafkaGo:
		return kafka.NewProducer(c.Brokers, c.Topic,
			kafka.WithWriteTimeout(10*time.Second),
			kafka.WithMaxAttempts(3),
		), nil
	default:
		p, err := broadcaster.NewSaramaPublisher(c.Brokers, c.Topic)
		if err != nil {
			return nil, errors.Wrap(err, "kafka producer")
		}
		return p, nil
	}
}
