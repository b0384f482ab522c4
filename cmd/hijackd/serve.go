package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/anssi-fr/hijackd/internal/annotate"
	"github.com/anssi-fr/hijackd/internal/bgpmsg"
	"github.com/anssi-fr/hijackd/internal/classify"
	"github.com/anssi-fr/hijackd/internal/db"
	"github.com/anssi-fr/hijackd/internal/decode"
	ribhttp "github.com/anssi-fr/hijackd/internal/http"
	"github.com/anssi-fr/hijackd/internal/kafka"
	"github.com/anssi-fr/hijackd/internal/maintenance"
	"github.com/anssi-fr/hijackd/internal/metadata"
	"github.com/anssi-fr/hijackd/internal/metrics"
	"github.com/anssi-fr/hijackd/internal/rib"
	"github.com/anssi-fr/hijackd/internal/store"
	"github.com/anssi-fr/hijackd/internal/update"
)

// kafkaCollectorName labels the single live BMP stream a Kafka-sourced
// deployment consumes; unlike the file-sourced collectors, this
// configuration carries no per-collector topic split, so every BMP
// record observed through the configured topics is attributed to one
// logical collector.
const kafkaCollectorName = "kafka"

// maxBMPPayloadBytes bounds the OpenBMP frame internal/bmp will unwrap
// from one Kafka record.
const maxBMPPayloadBytes = 16 * 1024 * 1024

// maintenanceInterval is how often serve re-runs partition maintenance
// once Postgres output is enabled, on top of the startup priming pass.
const maintenanceInterval = time.Hour

// kafkaPipelineStatus adapts kafka.Consumer to ribhttp.PipelineStatus:
// a Kafka-sourced collector has no bview priming phase, so readiness
// means holding assigned partitions rather than having finished a
// prime.
type kafkaPipelineStatus struct {
	consumer *kafka.Consumer
}

func (s kafkaPipelineStatus) Primed() bool {
	return s.consumer.IsJoined()
}

func runServe() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	metrics.Register()

	logger.Info("starting hijackd",
		zap.String("instance_id", cfg.Service.InstanceID),
		zap.String("http_listen", cfg.Service.HTTPListen),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	isWatched, err := watchPredicateFor(cfg.Watch, logger)
	if err != nil {
		logger.Fatal("bad watch config", zap.Error(err))
	}
	policy := routePolicyFor(cfg.Output.DefaultRoutePolicy)

	ro, roa, rel, err := loadMetadata(cfg.Metadata, logger)
	if err != nil {
		logger.Fatal("failed to load metadata", zap.Error(err))
	}

	var pool *pgxpool.Pool
	var st *store.Store
	if cfg.Postgres.Enabled {
		pool, err = db.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, cfg.Postgres.MinConns)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()
		st = store.New(pool, logger.Named("store"))

		pm := maintenance.NewPartitionManager(pool, cfg.Retention.Days, cfg.Retention.Timezone, logger.Named("maintenance"))
		if err := pm.CreatePartitions(ctx); err != nil {
			logger.Fatal("failed to create partitions on startup", zap.Error(err))
		}
		go runMaintenanceLoop(ctx, pm, logger.Named("maintenance"))
	}

	if err := os.MkdirAll(cfg.Output.Directory, 0o755); err != nil {
		logger.Fatal("failed to create output directory", zap.Error(err))
	}

	pipelines := map[string]ribhttp.PipelineStatus{}
	var wg sync.WaitGroup
	var commitWg sync.WaitGroup

	for _, col := range cfg.Collectors {
		col := col
		collectorLogger := logger.Named(col.Name)
		cp, err := buildCollectorPipeline(cfg, col, policy, isWatched, ro, roa, rel, st, collectorLogger)
		if err != nil {
			logger.Fatal("failed to build collector pipeline", zap.String("collector", col.Name), zap.Error(err))
		}
		pipelines[col.Name] = cp.driver

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer cp.close()
			r := rib.New()
			if err := cp.driver.Run(r, cp.files, cp.handle); err != nil {
				collectorLogger.Error("file collector stopped", zap.Error(err))
				return
			}
			metrics.RIBNodes.WithLabelValues(col.Name).Set(float64(len(r.Nodes())))
		}()
	}

	if cfg.Kafka.Enabled {
		tlsCfg, err := cfg.Kafka.BuildTLSConfig()
		if err != nil {
			logger.Fatal("failed to build TLS config", zap.Error(err))
		}
		saslMech := cfg.Kafka.BuildSASLMechanism()

		consumer, err := kafka.NewConsumer(
			kafkaCollectorName, cfg.Kafka.Brokers, cfg.Kafka.Consumer.GroupID, cfg.Kafka.Consumer.Topics,
			cfg.Kafka.ClientID, cfg.Kafka.FetchMaxBytes, tlsCfg, saslMech, logger.Named("kafka"),
		)
		if err != nil {
			logger.Fatal("failed to create kafka consumer", zap.Error(err))
		}
		defer consumer.Close()
		pipelines[kafkaCollectorName] = kafkaPipelineStatus{consumer}

		records := make(chan []*kgo.Record, 64)
		flushed := make(chan []*kgo.Record, 64)

		bmpDecoder := &decode.BMP{Logger: logger.Named("decode.bmp"), MaxPayloadBytes: maxBMPPayloadBytes}
		kafkaRIB := rib.New()

		wg.Add(2)
		go func() { defer wg.Done(); consumer.Run(ctx, records, flushed, &commitWg) }()
		go func() {
			defer wg.Done()
			defer close(flushed)
			runKafkaLoop(ctx, kafkaRIB, bmpDecoder, policy, isWatched, ro, roa, rel, st, records, flushed, logger.Named("kafka"))
		}()

		logger.Info("kafka pipeline started",
			zap.Strings("topics", cfg.Kafka.Consumer.Topics),
			zap.String("group_id", cfg.Kafka.Consumer.GroupID),
		)
	}

	httpServer := ribhttp.NewServer(cfg.Service.HTTPListen, pool, pipelines, logger.Named("http"))
	if err := httpServer.Start(); err != nil {
		logger.Fatal("failed to start HTTP server", zap.Error(err))
	}

	logger.Info("all pipelines and HTTP server started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownTimeout := time.Duration(cfg.Service.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		commitWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all pipelines stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout reached, some goroutines may not have finished")
	}

	logger.Info("hijackd stopped")
}

// runKafkaLoop decodes every Kafka batch into InternalMessages, drives
// them through the update engine against r, annotates and classifies
// any resulting conflicts, and flushes everything to Postgres (when
// configured) before handing the batch back on flushed so the consumer
// can commit its offsets.
func runKafkaLoop(
	ctx context.Context,
	r *rib.RIB,
	dec *decode.BMP,
	policy update.DefaultRoutePolicy,
	isWatched update.IsWatcher,
	ro *metadata.RouteObjectStore,
	roa *metadata.ROAStore,
	rel *metadata.Relations,
	st *store.Store,
	records <-chan []*kgo.Record,
	flushed chan<- []*kgo.Record,
	logger *zap.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-records:
			if !ok {
				return
			}

			var conflicts []update.Conflict
			var routes []update.RouteRecord
			var defaults []update.DefaultRecord

			err := kafka.Feed(dec, kafkaCollectorName, batch, func(msg bgpmsg.InternalMessage) error {
				d, rt, c := update.ProcessMessage(r, msg, time.Now().Unix(), policy, isWatched)
				defaults = append(defaults, d...)
				routes = append(routes, rt...)
				conflicts = append(conflicts, c...)
				return nil
			})
			if err != nil {
				logger.Error("decoding kafka batch", zap.Error(err))
			}

			for i := range conflicts {
				annotate.All(ro, roa, rel, &conflicts[i])
				label := classify.Classify(&conflicts[i])
				metrics.ConflictsTotal.WithLabelValues(kafkaCollectorName, label).Inc()
			}
			for _, rt := range routes {
				metrics.MessagesTotal.WithLabelValues(kafkaCollectorName, rt.Kind).Inc()
			}
			for range defaults {
				metrics.DefaultRoutesFilteredTotal.WithLabelValues(kafkaCollectorName).Inc()
			}

			if st != nil {
				if len(conflicts) > 0 {
					if err := st.FlushConflicts(ctx, conflicts); err != nil {
						logger.Error("flushing kafka conflicts", zap.Error(err))
					}
				}
				if len(routes) > 0 {
					if err := st.FlushRoutes(ctx, routes); err != nil {
						logger.Error("flushing kafka routes", zap.Error(err))
					}
				}
				if len(defaults) > 0 {
					if err := st.FlushDefaults(ctx, defaults); err != nil {
						logger.Error("flushing kafka defaults", zap.Error(err))
					}
				}
			}

			select {
			case flushed <- batch:
			case <-ctx.Done():
				return
			}
		}
	}
}

func runMaintenanceLoop(ctx context.Context, pm *maintenance.PartitionManager, logger *zap.Logger) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := pm.Run(ctx); err != nil {
				logger.Error("periodic maintenance failed", zap.Error(err))
			}
		}
	}
}
