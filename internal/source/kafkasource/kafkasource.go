// Package kafkasource materialises a snapshot of a Kafka topic of JSON
// coordinate messages. Every partition is read from its oldest offset up to
// the high-water mark observed when Load starts; later messages belong to the
// next run.
package kafkasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/geo-heatmap/internal/core/model"
	obs "github.com/mohammed-shakir/geo-heatmap/internal/core/observability"
	mylog "github.com/mohammed-shakir/geo-heatmap/internal/logger"
)

// PartitionReader is the part of sarama.PartitionConsumer a drain needs.
type PartitionReader interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

// Cluster is the part of a sarama client and consumer a drain needs.
type Cluster interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, at int64) (int64, error)
	ConsumePartition(topic string, partition int32, offset int64) (PartitionReader, error)
	Close() error
}

type saramaCluster struct {
	sarama.Client
	consumer sarama.Consumer
}

func (c *saramaCluster) ConsumePartition(topic string, partition int32, offset int64) (PartitionReader, error) {
	return c.consumer.ConsumePartition(topic, partition, offset)
}

func (c *saramaCluster) Close() error {
	err := c.consumer.Close()
	if cerr := c.Client.Close(); err == nil {
		err = cerr
	}
	return err
}

// Dial connects to the brokers in cfg.
func Dial(cfg Config) (Cluster, error) {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_5_0_0
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest

	client, err := sarama.NewClient(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("kafkasource: create client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("kafkasource: create consumer: %w", err)
	}
	return &saramaCluster{Client: client, consumer: consumer}, nil
}

// Report counts what the last Load read.
type Report struct {
	Messages   int
	Undecoded  int
	Partitions int
}

type Source struct {
	cfg     Config
	cluster Cluster
	logger  *slog.Logger
	zlog    *zerolog.Logger

	messages  atomic.Int64
	undecoded atomic.Int64
	report    Report
}

func New(cfg Config, cluster Cluster, logger *slog.Logger) *Source {
	if logger == nil {
		logger = mylog.Discard()
	}
	zl := mylog.Build(mylog.Config{Level: "info", Component: "kafka_source"}, nil)
	return &Source{cfg: cfg.withDefaults(), cluster: cluster, logger: logger, zlog: &zl}
}

func (s *Source) Name() string { return "kafka:" + s.cfg.Topic }

func (s *Source) Report() Report { return s.report }

// Load drains every partition concurrently and concatenates the records in
// partition order.
func (s *Source) Load(ctx context.Context) ([]model.Coordinate, error) {
	if s.cluster == nil {
		return nil, errors.New("kafkasource: no cluster")
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.DrainTimeout)
	defer cancel()

	parts, err := s.cluster.Partitions(s.cfg.Topic)
	if err != nil {
		obs.IncKafkaError("metadata")
		return nil, fmt.Errorf("kafkasource: partitions of %s: %w", s.cfg.Topic, err)
	}
	s.messages.Store(0)
	s.undecoded.Store(0)

	out := make([][]model.Coordinate, len(parts))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, p := range parts {
		eg.Go(func() error {
			coords, err := s.drainPartition(egCtx, p)
			if err != nil {
				return fmt.Errorf("kafkasource: partition %d: %w", p, err)
			}
			out[i] = coords
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var all []model.Coordinate
	for _, c := range out {
		all = append(all, c...)
	}
	s.report = Report{
		Messages:   int(s.messages.Load()),
		Undecoded:  int(s.undecoded.Load()),
		Partitions: len(parts),
	}
	s.logger.InfoContext(ctx, "kafka snapshot drained",
		"topic", s.cfg.Topic, "partitions", len(parts),
		"messages", s.report.Messages, "undecoded", s.report.Undecoded)
	return all, nil
}

func (s *Source) drainPartition(ctx context.Context, p int32) ([]model.Coordinate, error) {
	lo, err := s.cluster.GetOffset(s.cfg.Topic, p, sarama.OffsetOldest)
	if err != nil {
		obs.IncKafkaError("offset")
		return nil, fmt.Errorf("oldest offset: %w", err)
	}
	hi, err := s.cluster.GetOffset(s.cfg.Topic, p, sarama.OffsetNewest)
	if err != nil {
		obs.IncKafkaError("offset")
		return nil, fmt.Errorf("newest offset: %w", err)
	}
	if hi <= lo {
		return nil, nil
	}

	pc, err := s.cluster.ConsumePartition(s.cfg.Topic, p, lo)
	if err != nil {
		obs.IncKafkaError("consume")
		return nil, fmt.Errorf("consume from %d: %w", lo, err)
	}
	defer func() { _ = pc.Close() }()

	coords := make([]model.Coordinate, 0, hi-lo)
	errs := pc.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("stopped at %d/%d: %w", lo+int64(len(coords)), hi, ctx.Err())
		case cerr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if cerr != nil {
				obs.IncKafkaError("consume")
				return nil, cerr
			}
		case msg, ok := <-pc.Messages():
			if !ok {
				return nil, fmt.Errorf("partition closed before high-water mark %d", hi)
			}
			if msg.Offset >= hi {
				return coords, nil
			}
			coords = append(coords, s.decode(ctx, msg))
			if msg.Offset >= hi-1 {
				return coords, nil
			}
		}
	}
}

type payload struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

// decode never fails: an unreadable message becomes a fully missing record so
// the run still accounts for it.
func (s *Source) decode(ctx context.Context, msg *sarama.ConsumerMessage) model.Coordinate {
	s.messages.Add(1)
	var p payload
	if err := json.Unmarshal(msg.Value, &p); err != nil {
		s.undecoded.Add(1)
		obs.IncKafkaError("decode")
		mylog.FromContext(ctx, s.zlog).Warn().
			Str("kind", "decode").
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Err(err).
			Msg("undecodable record")
		return model.Coordinate{}
	}
	var c model.Coordinate
	if p.Lat != nil {
		c.Lat = *p.Lat
	}
	if p.Lon != nil {
		c.Lon = *p.Lon
	}
	return c
}
