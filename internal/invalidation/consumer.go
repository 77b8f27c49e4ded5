package invalidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/geo-heatmap/internal/cache/keys"
	"github.com/mohammed-shakir/geo-heatmap/internal/core/health"
	obs "github.com/mohammed-shakir/geo-heatmap/internal/core/observability"
	mylog "github.com/mohammed-shakir/geo-heatmap/internal/logger"
)

// Target is the service an event applies to.
type Target interface {
	Dataset() string
	Reload(ctx context.Context) error
	// Forget drops results held in process memory.
	Forget()
}

// Purger removes every key under a prefix; satisfied by redisstore.Client.
type Purger interface {
	DelPrefix(ctx context.Context, prefix string) (int, error)
}

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
}

func (c Config) withDefaults() Config {
	if c.GroupID == "" {
		c.GroupID = "heatmap-invalidator"
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 30 * time.Second
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 3 * time.Second
	}
	if c.RebalanceTimeout <= 0 {
		c.RebalanceTimeout = 30 * time.Second
	}
	return c
}

const retryDelay = 2 * time.Second

type Consumer struct {
	cfg      Config
	logger   *slog.Logger
	target   Target
	purger   Purger
	dedupe   *seqDedupe
	assigned atomic.Bool
}

// New builds a consumer; purger may be nil when no shared cache is configured.
func New(cfg Config, logger *slog.Logger, target Target, purger Purger) *Consumer {
	if logger == nil {
		logger = mylog.Discard()
	}
	return &Consumer{
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "invalidation"),
		target: target,
		purger: purger,
		dedupe: newSeqDedupe(0),
	}
}

// Start joins the consumer group and applies events until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	if c.target == nil {
		return errors.New("invalidation: missing target")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne, assigned: &c.assigned}
	c.logger.Info("invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil && ctx.Err() == nil {
			obs.IncKafkaError("consume")
			c.logger.Error("kafka consumer error",
				"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(retryDelay):
			}
		}
		if ctx.Err() != nil {
			c.logger.Info("invalidation consumer shutting down")
			return nil
		}
	}
}

// Ready reports whether the group has assigned this consumer its partitions.
func (c *Consumer) Ready() bool { return c.assigned.Load() }

// Check exposes Ready as a readiness probe.
func (c *Consumer) Check() health.Check {
	return health.Check{Name: "invalidation", Fn: func(context.Context) error {
		if !c.Ready() {
			return errors.New("no partitions assigned")
		}
		return nil
	}}
}

// ProcessOne applies a single event. Undecodable or invalid events are logged
// and skipped; a failure to apply a valid event is returned so it is retried.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncKafkaError("invalidation_decode")
		c.logger.WarnContext(ctx, "skipping undecodable invalidation event",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		obs.ObserveInvalidation(ev.Op, "invalid")
		c.logger.WarnContext(ctx, "skipping invalid invalidation event", "offset", msg.Offset, "err", err)
		return nil
	}
	if ev.Dataset != c.target.Dataset() {
		obs.ObserveInvalidation(ev.Op, "other_dataset")
		return nil
	}
	if c.dedupe.stale(ev.Dataset, ev.Seq) {
		obs.ObserveInvalidation(ev.Op, "stale")
		c.logger.DebugContext(ctx, "skipping stale invalidation event", "seq", ev.Seq)
		return nil
	}

	if err := c.apply(ctx, ev); err != nil {
		obs.ObserveInvalidation(ev.Op, "error")
		return err
	}
	c.dedupe.applied(ev.Dataset, ev.Seq)
	obs.ObserveInvalidation(ev.Op, "ok")
	c.logger.InfoContext(ctx, "applied invalidation",
		"op", ev.Op, "dataset", ev.Dataset, "seq", ev.Seq, "source", ev.Source)
	return nil
}

func (c *Consumer) apply(ctx context.Context, ev Event) error {
	switch ev.Op {
	case OpReload:
		if err := c.target.Reload(ctx); err != nil {
			return fmt.Errorf("reload %s: %w", ev.Dataset, err)
		}
	case OpPurge:
		if c.purger != nil {
			n, err := c.purger.DelPrefix(ctx, keys.DatasetPrefix(ev.Dataset))
			if err != nil {
				return fmt.Errorf("purge %s: %w", ev.Dataset, err)
			}
			c.logger.DebugContext(ctx, "purged cached results", "dataset", ev.Dataset, "keys", n)
		}
		c.target.Forget()
	}
	return nil
}
