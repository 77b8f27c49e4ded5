// Package runevents publishes a summary of every aggregation run to Kafka.
// Publishing never blocks a run: when the queue is full the event is dropped.
package runevents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/geo-heatmap/internal/aggregate"
	obs "github.com/mohammed-shakir/geo-heatmap/internal/core/observability"
	"github.com/mohammed-shakir/geo-heatmap/internal/logger"
)

type RunSummary struct {
	RunID   string            `json:"run_id"`
	Dataset string            `json:"dataset"`
	Source  string            `json:"source"`
	Summary aggregate.Summary `json:"summary"`
	TS      time.Time         `json:"ts"`
}

// Publisher is the run-event sink used by commands; Nop when disabled.
type Publisher interface {
	Publish(ev RunSummary)
	Close() error
}

type nop struct{}

func (nop) Publish(RunSummary) {}
func (nop) Close() error       { return nil }

// Nop discards events.
var Nop Publisher = nop{}

type KafkaPublisher struct {
	topic   string
	events  chan RunSummary
	prod    sarama.AsyncProducer
	logger  *slog.Logger
	stopped chan struct{}
	errDone chan struct{}
}

func NewKafka(brokers []string, topic string, queueSize int, log *slog.Logger) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("runevents: create async producer: %w", err)
	}
	return newPublisher(prod, topic, queueSize, log), nil
}

func newPublisher(prod sarama.AsyncProducer, topic string, queueSize int, log *slog.Logger) *KafkaPublisher {
	if queueSize <= 0 {
		queueSize = 64
	}
	if log == nil {
		log = logger.Discard()
	}
	p := &KafkaPublisher{
		topic:   topic,
		events:  make(chan RunSummary, queueSize),
		prod:    prod,
		logger:  log.With("component", "runevents"),
		stopped: make(chan struct{}),
		errDone: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.logger.Error("marshal run summary", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.Dataset),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		defer close(p.errDone)
		for err := range p.prod.Errors() {
			if err != nil {
				obs.IncKafkaError("produce")
				p.logger.Warn("producer error", "err", err)
			}
		}
	}()

	return p
}

func (p *KafkaPublisher) Publish(ev RunSummary) {
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	select {
	case p.events <- ev:
	default:
		obs.IncKafkaError("queue_full")
	}
}

// Close flushes queued events and closes the producer.
func (p *KafkaPublisher) Close() error {
	close(p.events)
	<-p.stopped

	err := p.prod.Close()
	<-p.errDone
	if err != nil {
		return fmt.Errorf("runevents: close producer: %w", err)
	}
	return nil
}
