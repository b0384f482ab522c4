// Package kafka consumes raw BMP records off a franz-go client for the
// Kafka-sourced collector path: one Consumer per configured collector,
// each feeding its fetched records through internal/decode.BMP the same
// way a file-sourced collector feeds its dump files through
// internal/pipeline.Driver.
package kafka

import (
	"context"
	"crypto/tls"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"go.uber.org/zap"
)

// Consumer wraps one franz-go consumer-group client for one collector's
// topic set. It tracks group-membership state (joined) separately from
// pipeline.Driver's priming state, since a Kafka collector has no bview
// phase of its own — readiness for a Kafka-sourced collector means
// "holding partitions", not "primed".
type Consumer struct {
	name   string
	client *kgo.Client
	logger *zap.Logger
	joined atomic.Bool
}

// NewConsumer builds a Consumer for name (used only in log lines,
// conventionally the owning collector's name), reading topics as
// consumer group groupID. tlsCfg and saslMech may both be nil.
func NewConsumer(name string, brokers []string, groupID string, topics []string, clientID string,
	fetchMaxBytes int32, tlsCfg *tls.Config, saslMech sasl.Mechanism, logger *zap.Logger) (*Consumer, error) {
	c := &Consumer{name: name, logger: logger}

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topics...),
		kgo.ClientID(clientID),
		kgo.FetchMaxBytes(fetchMaxBytes),
		kgo.DisableAutoCommit(),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, _ map[string][]int32) {
			c.joined.Store(true)
			logger.Info("kafka consumer: partitions assigned", zap.String("collector", name))
		}),
		kgo.OnPartitionsRevoked(func(ctx context.Context, cl *kgo.Client, _ map[string][]int32) {
			if err := cl.CommitMarkedOffsets(ctx); err != nil {
				logger.Error("kafka consumer: commit on revoke failed", zap.String("collector", name), zap.Error(err))
			}
			c.joined.Store(false)
			logger.Info("kafka consumer: partitions revoked", zap.String("collector", name))
		}),
		kgo.OnPartitionsLost(func(_ context.Context, _ *kgo.Client, _ map[string][]int32) {
			c.joined.Store(false)
			logger.Info("kafka consumer: partitions lost", zap.String("collector", name))
		}),
	}

	if tlsCfg != nil {
		opts = append(opts, kgo.DialTLSConfig(tlsCfg))
	}
	if saslMech != nil {
		opts = append(opts, kgo.SASL(saslMech))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}

	c.client = client
	return c, nil
}

// Run fetches records until ctx is cancelled, sending each non-empty
// batch to records. flushed receives back batches whose records have
// already been durably written by the caller; Run marks and commits
// their offsets on a dedicated goroutine, tracked by commitWg so a
// caller can wait for the last commit to land before closing the
// client.
func (c *Consumer) Run(ctx context.Context, records chan<- []*kgo.Record, flushed <-chan []*kgo.Record, commitWg *sync.WaitGroup) {
	commitWg.Add(1)
	go func() {
		defer commitWg.Done()
		for recs := range flushed {
			for _, r := range recs {
				c.client.MarkCommitRecords(r)
			}
			commitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.client.CommitMarkedOffsets(commitCtx); err != nil {
				c.logger.Error("kafka consumer: commit offsets failed", zap.String("collector", c.name), zap.Error(err))
			}
			cancel()
		}
	}()

	for {
		fetches := c.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return
		}

		if errs := fetches.Errors(); len(errs) > 0 {
			for _, e := range errs {
				c.logger.Error("kafka consumer: fetch error",
					zap.String("collector", c.name),
					zap.String("topic", e.Topic),
					zap.Int32("partition", e.Partition),
					zap.Error(e.Err),
				)
			}
		}

		var batch []*kgo.Record
		fetches.EachRecord(func(r *kgo.Record) {
			batch = append(batch, r)
		})

		if len(batch) > 0 {
			select {
			case records <- batch:
			case <-ctx.Done():
				return
			}
		}
	}
}

// IsJoined reports whether the consumer currently holds at least one
// assigned partition.
func (c *Consumer) IsJoined() bool {
	return c.joined.Load()
}

func (c *Consumer) Close() {
	c.client.Close()
}
