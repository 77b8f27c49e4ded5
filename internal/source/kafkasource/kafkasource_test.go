package kafkasource

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/geo-heatmap/internal/core/model"
)

type reader struct {
	msgs   chan *sarama.ConsumerMessage
	errs   chan *sarama.ConsumerError
	closed bool
}

func (r *reader) Messages() <-chan *sarama.ConsumerMessage { return r.msgs }
func (r *reader) Errors() <-chan *sarama.ConsumerError     { return r.errs }
func (r *reader) Close() error                             { r.closed = true; return nil }

// partition log: oldest offset and payloads; trailing messages past hwm
// simulate records produced after the snapshot was taken
type plog struct {
	oldest int64
	values []string
	late   []string
}

type cluster struct {
	mu      sync.Mutex
	topic   string
	parts   map[int32]*plog
	readers map[int32]*reader
	failOff bool
}

func newCluster(parts map[int32]*plog) *cluster {
	return &cluster{topic: "records", parts: parts, readers: map[int32]*reader{}}
}

func (c *cluster) Partitions(string) ([]int32, error) {
	out := make([]int32, 0, len(c.parts))
	for p := int32(0); int(p) < len(c.parts); p++ {
		out = append(out, p)
	}
	return out, nil
}

func (c *cluster) GetOffset(_ string, p int32, at int64) (int64, error) {
	if c.failOff {
		return 0, errors.New("broker unavailable")
	}
	l := c.parts[p]
	if at == sarama.OffsetOldest {
		return l.oldest, nil
	}
	return l.oldest + int64(len(l.values)), nil
}

func (c *cluster) ConsumePartition(topic string, p int32, offset int64) (PartitionReader, error) {
	l := c.parts[p]
	r := &reader{
		msgs: make(chan *sarama.ConsumerMessage, len(l.values)+len(l.late)),
		errs: make(chan *sarama.ConsumerError),
	}
	off := offset
	for _, v := range append(append([]string{}, l.values...), l.late...) {
		r.msgs <- &sarama.ConsumerMessage{Topic: topic, Partition: p, Offset: off, Value: []byte(v)}
		off++
	}
	c.mu.Lock()
	c.readers[p] = r
	c.mu.Unlock()
	return r, nil
}

func (c *cluster) Close() error { return nil }

func TestLoad_DrainsUpToHighWaterMark(t *testing.T) {
	cl := newCluster(map[int32]*plog{
		0: {oldest: 10, values: []string{`{"lat":30.29,"lon":-97.74}`, `{"lat":30.2804}`}, late: []string{`{"lat":1,"lon":1}`}},
		1: {oldest: 0, values: []string{`not json`, `{"lat":null,"lon":-97.7242}`}},
		2: {oldest: 5},
	})
	src := New(Config{Topic: "records", DrainTimeout: time.Second}, cl, nil)

	coords, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []model.Coordinate{
		{Lat: 30.29, Lon: -97.74},
		{Lat: 30.2804, Lon: 0},
		{},
		{Lat: 0, Lon: -97.7242},
	}
	if len(coords) != len(want) {
		t.Fatalf("coords=%+v", coords)
	}
	for i := range want {
		if coords[i] != want[i] {
			t.Fatalf("coord %d=%+v want %+v", i, coords[i], want[i])
		}
	}
	rep := src.Report()
	if rep.Messages != 4 || rep.Undecoded != 1 || rep.Partitions != 3 {
		t.Fatalf("report=%+v", rep)
	}
	if _, ok := cl.readers[2]; ok {
		t.Fatalf("empty partition must not be consumed")
	}
	if !cl.readers[0].closed || !cl.readers[1].closed {
		t.Fatalf("partition readers not closed")
	}
	if src.Name() != "kafka:records" {
		t.Fatalf("name=%q", src.Name())
	}
}

func TestLoad_OffsetError(t *testing.T) {
	cl := newCluster(map[int32]*plog{0: {values: []string{`{}`}}})
	cl.failOff = true
	if _, err := New(Config{Topic: "records"}, cl, nil).Load(context.Background()); err == nil {
		t.Fatalf("expected offset error")
	}
}

func TestLoad_TimesOutWhenPartitionStalls(t *testing.T) {
	cl := newCluster(map[int32]*plog{0: {values: []string{`{"lat":1,"lon":1}`}}})
	stalled := &stallCluster{cluster: cl}
	_, err := New(Config{Topic: "records", DrainTimeout: 50 * time.Millisecond}, stalled, nil).Load(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

// stallCluster reports a high-water mark but never delivers messages.
type stallCluster struct{ *cluster }

func (s *stallCluster) ConsumePartition(string, int32, int64) (PartitionReader, error) {
	return &reader{msgs: make(chan *sarama.ConsumerMessage), errs: make(chan *sarama.ConsumerError)}, nil
}
