// Package store is the optional Postgres sink for Update Engine
// output: batches of conflicts, routes, and default records written
// within one transaction per flush.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/anssi-fr/hijackd/internal/metrics"
	"github.com/anssi-fr/hijackd/internal/update"
)

type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func New(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

// FlushConflicts inserts a batch of classified conflicts into the
// conflicts table within one transaction.
func (s *Store) FlushConflicts(ctx context.Context, records []update.Conflict) error {
	if len(records) == 0 {
		return nil
	}
	start := time.Now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertSQL = `
		INSERT INTO conflicts (ts, collector, peer_as, peer_ip, is_withdraw,
			prefix, asn, as_path, conflict_prefix, conflict_asn,
			relation, direct, valid, type)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`

	batch := &pgx.Batch{}
	for _, c := range records {
		valid := c.Announce.Valid
		if c.IsWithdraw {
			valid = c.ConflictWith.Valid
		}
		batch.Queue(insertSQL,
			c.Timestamp, c.Collector, c.PeerAS, c.PeerIP, c.IsWithdraw,
			c.Announce.Prefix, c.Announce.ASN, nilIfEmpty(c.Announce.ASPath),
			c.ConflictWith.Prefix, c.ConflictWith.ASN,
			nilIfEmptySlice(c.Relation), c.Direct, nilIfEmptySlice(valid), c.Type,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for i := range records {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("store: insert conflict[%d]: %w", i, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("store: closing batch results: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}

	dur := time.Since(start).Seconds()
	metrics.DBWriteDuration.WithLabelValues("conflicts").Observe(dur)
	metrics.DBRowsAffectedTotal.WithLabelValues("conflicts", "insert").Add(float64(len(records)))
	return nil
}

// FlushRoutes inserts a batch of route records.
func (s *Store) FlushRoutes(ctx context.Context, records []update.RouteRecord) error {
	if len(records) == 0 {
		return nil
	}
	start := time.Now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertSQL = `
		INSERT INTO routes (ts, collector, peer_as, peer_ip, kind, prefix, as_path, asn, num_routes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(insertSQL, r.Timestamp, r.Collector, r.PeerAS, r.PeerIP, r.Kind, r.Prefix, nilIfEmpty(r.ASPath), r.ASN, r.NumRoutes)
	}

	results := tx.SendBatch(ctx, batch)
	for i := range records {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("store: insert route[%d]: %w", i, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("store: closing batch results: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}

	dur := time.Since(start).Seconds()
	metrics.DBWriteDuration.WithLabelValues("routes").Observe(dur)
	metrics.DBRowsAffectedTotal.WithLabelValues("routes", "insert").Add(float64(len(records)))
	return nil
}

// FlushDefaults inserts a batch of default-route records.
func (s *Store) FlushDefaults(ctx context.Context, records []update.DefaultRecord) error {
	if len(records) == 0 {
		return nil
	}
	start := time.Now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertSQL = `
		INSERT INTO default_routes (ts, collector, peer_as, peer_ip, prefix, asn)
		VALUES ($1,$2,$3,$4,$5,$6)`

	batch := &pgx.Batch{}
	for _, d := range records {
		batch.Queue(insertSQL, d.Timestamp, d.Collector, d.PeerAS, d.PeerIP, d.Announce.Prefix, d.Announce.ASN)
	}

	results := tx.SendBatch(ctx, batch)
	for i := range records {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("store: insert default[%d]: %w", i, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("store: closing batch results: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}

	dur := time.Since(start).Seconds()
	metrics.DBWriteDuration.WithLabelValues("default_routes").Observe(dur)
	metrics.DBRowsAffectedTotal.WithLabelValues("default_routes", "insert").Add(float64(len(records)))
	return nil
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nilIfEmptySlice(s []string) any {
	if len(s) == 0 {
		return nil
	}
	return s
}
