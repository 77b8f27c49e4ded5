package gridstore

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/geo-heatmap/internal/aggregate"
	"github.com/mohammed-shakir/geo-heatmap/internal/bounds"
	"github.com/mohammed-shakir/geo-heatmap/internal/cache/redisstore"
	"github.com/mohammed-shakir/geo-heatmap/internal/core/model"
	"github.com/mohammed-shakir/geo-heatmap/internal/intensity"
)

func newMini(t *testing.T) (*redisstore.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	cli, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })

	return cli, mr
}

func sampleResult(t *testing.T) *aggregate.Result {
	t.Helper()
	e, err := aggregate.New(aggregate.Options{Digits: 4, Bounds: bounds.Mode{Fixed: bounds.WestCampus}})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	res, err := e.Run(context.Background(), []model.Coordinate{
		{Lat: 30.29, Lon: -97.74}, {Lat: 30.29, Lon: -97.74}, {Lat: 30.285, Lon: -97.73}, {Lat: 0, Lon: 0},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return res
}

func TestRoundTrip(t *testing.T) {
	cli, mr := newMini(t)
	st := New(cli, 10*time.Minute)
	ctx := context.Background()

	res := sampleResult(t)
	if err := st.Put(ctx, "grid:k", res, 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ttl := mr.TTL("grid:k"); ttl != 10*time.Minute {
		t.Fatalf("ttl=%v want default 10m", ttl)
	}

	got, ok, err := st.Get(ctx, "grid:k")
	if err != nil || !ok {
		t.Fatalf("Get ok=%v err=%v", ok, err)
	}
	if got.Shape != res.Shape || got.Bounds != res.Bounds || got.Stats != res.Stats {
		t.Fatalf("decoded header differs: %+v vs %+v", got.Summary(), res.Summary())
	}
	if got.Grid.Total() != res.Grid.Total() || got.Grid.At(96, 150) != 2 {
		t.Fatalf("decoded grid differs: %+v", got.Grid.Cells())
	}
	for _, c := range res.Grid.Cells() {
		if got.Grid.At(c.Row, c.Col) != c.Count {
			t.Fatalf("cell (%d,%d)=%d want %d", c.Row, c.Col, got.Grid.At(c.Row, c.Col), c.Count)
		}
	}
	if got.Tiers[intensity.Low] != res.Tiers[intensity.Low] {
		t.Fatalf("tiers differ: %v vs %v", got.Tiers, res.Tiers)
	}
	if !got.GeneratedAt.Equal(res.GeneratedAt) {
		t.Fatalf("generated_at differs")
	}
}

func TestMissAndExpiry(t *testing.T) {
	cli, mr := newMini(t)
	st := New(cli, time.Minute)
	ctx := context.Background()

	if _, ok, err := st.Get(ctx, "grid:none"); ok || err != nil {
		t.Fatalf("miss: ok=%v err=%v", ok, err)
	}

	if err := st.Put(ctx, "grid:k", sampleResult(t), 2*time.Second); err != nil {
		t.Fatalf("Put: %v", err)
	}
	mr.FastForward(3 * time.Second)
	if _, ok, _ := st.Get(ctx, "grid:k"); ok {
		t.Fatalf("expected expiry")
	}
}

func TestCorruptValueIsDropped(t *testing.T) {
	cli, mr := newMini(t)
	st := New(cli, time.Minute)

	if err := mr.Set("grid:bad", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, ok, err := st.Get(context.Background(), "grid:bad")
	if ok || err == nil {
		t.Fatalf("expected decode error, ok=%v err=%v", ok, err)
	}
	if mr.Exists("grid:bad") {
		t.Fatalf("corrupt value must be removed")
	}
}

func TestInvalidate(t *testing.T) {
	cli, mr := newMini(t)
	st := New(cli, time.Minute)
	ctx := context.Background()

	_ = st.Put(ctx, "grid:a", sampleResult(t), 0)
	if err := st.Invalidate(ctx, "grid:a"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if mr.Exists("grid:a") {
		t.Fatalf("expected key removed")
	}
	if err := st.Invalidate(ctx); err != nil {
		t.Fatalf("empty Invalidate: %v", err)
	}
	if err := st.Put(ctx, "grid:nil", nil, 0); err == nil {
		t.Fatalf("expected error for nil result")
	}
}
