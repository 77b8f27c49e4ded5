package runevents

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/mohammed-shakir/geo-heatmap/internal/aggregate"
	"github.com/mohammed-shakir/geo-heatmap/internal/core/model"
)

func TestKafkaPublisher_PublishesSummary(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, nil)
	prod.ExpectInputWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
		if m.Topic != "heatmap-runs" {
			return errors.New("wrong topic " + m.Topic)
		}
		b, err := m.Value.Encode()
		if err != nil {
			return err
		}
		var got RunSummary
		if err := json.Unmarshal(b, &got); err != nil {
			return err
		}
		if got.Dataset != "campus" || got.Summary.Shape != (model.Shape{Rows: 181, Cols: 309}) || got.TS.IsZero() {
			return errors.New("unexpected payload " + string(b))
		}
		return nil
	})

	p := newPublisher(prod, "heatmap-runs", 4, nil)
	p.Publish(RunSummary{
		RunID:   "r1",
		Dataset: "campus",
		Summary: aggregate.Summary{Shape: model.Shape{Rows: 181, Cols: 309}},
	})
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestKafkaPublisher_ProducerErrorsAreAbsorbed(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, nil)
	prod.ExpectInputAndFail(errors.New("broker down"))

	p := newPublisher(prod, "heatmap-runs", 1, nil)
	p.Publish(RunSummary{Dataset: "campus"})
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNop(t *testing.T) {
	Nop.Publish(RunSummary{})
	if err := Nop.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
