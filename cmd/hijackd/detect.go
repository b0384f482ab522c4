package main

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/anssi-fr/hijackd/internal/annotate"
	"github.com/anssi-fr/hijackd/internal/classify"
	"github.com/anssi-fr/hijackd/internal/config"
	"github.com/anssi-fr/hijackd/internal/db"
	"github.com/anssi-fr/hijackd/internal/metadata"
	"github.com/anssi-fr/hijackd/internal/metrics"
	"github.com/anssi-fr/hijackd/internal/pipeline"
	"github.com/anssi-fr/hijackd/internal/rib"
	"github.com/anssi-fr/hijackd/internal/store"
	"github.com/anssi-fr/hijackd/internal/update"
	"github.com/anssi-fr/hijackd/internal/writer"
)

// flushBatchSize bounds how many store records accumulate in memory
// between Postgres flushes.
const flushBatchSize = 500

// openDump opens name for reading, transparently unwrapping a trailing
// .gz extension the way RIS/RRC dump files are distributed.
func openDump(name string) (io.ReadCloser, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(name, ".gz") {
		return f, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return gzipReadCloser{gz, f}, nil
}

type gzipReadCloser struct {
	*gzip.Reader
	under *os.File
}

func (g gzipReadCloser) Close() error {
	if err := g.Reader.Close(); err != nil {
		g.under.Close()
		return err
	}
	return g.under.Close()
}

// collectorPipeline bundles one collector's Driver with the conflict
// handler and output-file lifecycle that feed it, so both the one-shot
// detect pass and serve's long-running file collectors can share the
// same construction logic while owning the Run call themselves.
type collectorPipeline struct {
	driver *pipeline.Driver
	handle pipeline.Handler
	files  []string
	close  func() error
}

func buildCollectorPipeline(
	cfg *config.Config,
	col config.CollectorConfig,
	policy update.DefaultRoutePolicy,
	isWatched update.IsWatcher,
	ro *metadata.RouteObjectStore,
	roa *metadata.ROAStore,
	rel *metadata.Relations,
	st *store.Store,
	logger *zap.Logger,
) (*collectorPipeline, error) {
	dec, err := decoderForFormat(col.InputFormat, logger)
	if err != nil {
		return nil, err
	}

	files := col.Files
	if col.SortRIS {
		sorted, invalid := pipeline.SortRISFilenames(files)
		if len(invalid) > 0 {
			logger.Warn("files not matching RIS naming convention kept in original order",
				zap.Strings("files", invalid))
		}
		files = append(sorted, invalid...)
	}

	outPath := filepath.Join(cfg.Output.Directory, col.Name+".ndjson")
	if cfg.Output.Compress {
		outPath += ".zst"
	}
	outFile, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("creating output file: %w", err)
	}

	w, err := writer.New(outFile, cfg.Output.Compress)
	if err != nil {
		outFile.Close()
		return nil, fmt.Errorf("building writer: %w", err)
	}

	var mu sync.Mutex
	var conflictBatch []update.Conflict
	var routeBatch []update.RouteRecord
	var defaultBatch []update.DefaultRecord

	flush := func() {
		if st == nil {
			return
		}
		ctx := context.Background()
		if len(conflictBatch) > 0 {
			if err := st.FlushConflicts(ctx, conflictBatch); err != nil {
				logger.Error("flushing conflicts", zap.Error(err))
			}
			conflictBatch = conflictBatch[:0]
		}
		if len(routeBatch) > 0 {
			if err := st.FlushRoutes(ctx, routeBatch); err != nil {
				logger.Error("flushing routes", zap.Error(err))
			}
			routeBatch = routeBatch[:0]
		}
		if len(defaultBatch) > 0 {
			if err := st.FlushDefaults(ctx, defaultBatch); err != nil {
				logger.Error("flushing defaults", zap.Error(err))
			}
			defaultBatch = defaultBatch[:0]
		}
	}

	driver := &pipeline.Driver{
		Collector: col.Name,
		Opener:    openDump,
		Decoder:   dec,
		IsWatched: isWatched,
		Policy:    policy,
		Logger:    logger,
		OnRoute: func(r update.RouteRecord) {
			metrics.MessagesTotal.WithLabelValues(col.Name, r.Kind).Inc()
			if err := w.WriteRoute(r); err != nil {
				logger.Error("writing route record", zap.Error(err))
			}
			if st == nil {
				return
			}
			mu.Lock()
			routeBatch = append(routeBatch, r)
			full := len(routeBatch) >= flushBatchSize
			mu.Unlock()
			if full {
				flush()
			}
		},
		OnDefault: func(d update.DefaultRecord) {
			metrics.DefaultRoutesFilteredTotal.WithLabelValues(col.Name).Inc()
			if err := w.WriteDefault(d); err != nil {
				logger.Error("writing default record", zap.Error(err))
			}
			if st == nil {
				return
			}
			mu.Lock()
			defaultBatch = append(defaultBatch, d)
			full := len(defaultBatch) >= flushBatchSize
			mu.Unlock()
			if full {
				flush()
			}
		},
	}

	handle := func(c update.Conflict) {
		annotate.All(ro, roa, rel, &c)
		label := classify.Classify(&c)
		metrics.ConflictsTotal.WithLabelValues(col.Name, label).Inc()

		if cfg.Output.AbnormalOnly {
			if err := w.WriteAbnormal(c); err != nil {
				logger.Error("writing abnormal conflict", zap.Error(err))
			}
		} else if err := w.WriteConflict(c); err != nil {
			logger.Error("writing conflict", zap.Error(err))
		}
		if st == nil {
			return
		}
		mu.Lock()
		conflictBatch = append(conflictBatch, c)
		full := len(conflictBatch) >= flushBatchSize
		mu.Unlock()
		if full {
			flush()
		}
	}

	return &collectorPipeline{
		driver: driver,
		handle: handle,
		files:  files,
		close: func() error {
			flush()
			werr := w.Close()
			if ferr := outFile.Close(); werr == nil {
				werr = ferr
			}
			return werr
		},
	}, nil
}

func runDetect() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	metrics.Register()

	ctx := context.Background()

	isWatched, err := watchPredicateFor(cfg.Watch, logger)
	if err != nil {
		logger.Fatal("bad watch config", zap.Error(err))
	}
	policy := routePolicyFor(cfg.Output.DefaultRoutePolicy)

	ro, roa, rel, err := loadMetadata(cfg.Metadata, logger)
	if err != nil {
		logger.Fatal("failed to load metadata", zap.Error(err))
	}

	var st *store.Store
	if cfg.Postgres.Enabled {
		pool, err := db.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, cfg.Postgres.MinConns)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()
		st = store.New(pool, logger.Named("store"))
	}

	if err := os.MkdirAll(cfg.Output.Directory, 0o755); err != nil {
		logger.Fatal("failed to create output directory", zap.Error(err))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := false

	for _, col := range cfg.Collectors {
		col := col
		wg.Add(1)
		go func() {
			defer wg.Done()
			collectorLogger := logger.Named(col.Name)
			if err := runCollectorDetect(cfg, col, policy, isWatched, ro, roa, rel, st, collectorLogger); err != nil {
				collectorLogger.Error("collector detection failed", zap.Error(err))
				mu.Lock()
				failed = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if failed {
		os.Exit(1)
	}
	logger.Info("detection complete", zap.Int("collectors", len(cfg.Collectors)))
}

func runCollectorDetect(
	cfg *config.Config,
	col config.CollectorConfig,
	policy update.DefaultRoutePolicy,
	isWatched update.IsWatcher,
	ro *metadata.RouteObjectStore,
	roa *metadata.ROAStore,
	rel *metadata.Relations,
	st *store.Store,
	logger *zap.Logger,
) error {
	cp, err := buildCollectorPipeline(cfg, col, policy, isWatched, ro, roa, rel, st, logger)
	if err != nil {
		return err
	}
	defer cp.close()

	r := rib.New()
	if err := cp.driver.Run(r, cp.files, cp.handle); err != nil {
		return err
	}

	metrics.RIBNodes.WithLabelValues(col.Name).Set(float64(len(r.Nodes())))
	logger.Info("collector detection finished", zap.Int("files", len(cp.files)))
	return nil
}
