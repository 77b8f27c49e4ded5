// Package gridstore persists aggregation results in the byte cache as JSON.
package gridstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mohammed-shakir/geo-heatmap/internal/aggregate"
	"github.com/mohammed-shakir/geo-heatmap/internal/cache"
)

type Store interface {
	Get(ctx context.Context, key string) (*aggregate.Result, bool, error)
	Put(ctx context.Context, key string, res *aggregate.Result, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

type redisGridStore struct {
	cli        cache.Interface
	defaultTTL time.Duration
}

func New(cli cache.Interface, defaultTTL time.Duration) Store {
	return &redisGridStore{cli: cli, defaultTTL: defaultTTL}
}

// Get returns (nil, false, nil) on a miss. A stored value that no longer
// decodes is treated as a miss and removed.
func (s *redisGridStore) Get(ctx context.Context, key string) (*aggregate.Result, bool, error) {
	b, ok, err := s.cli.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("gridstore get %q: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	var res aggregate.Result
	if err := json.Unmarshal(b, &res); err != nil {
		derr := s.cli.Del(ctx, key)
		return nil, false, errors.Join(fmt.Errorf("gridstore decode %q: %w", key, err), derr)
	}
	return &res, true, nil
}

func (s *redisGridStore) Put(ctx context.Context, key string, res *aggregate.Result, ttl time.Duration) error {
	if res == nil {
		return errors.New("gridstore put: nil result")
	}
	t := ttl
	if t <= 0 {
		t = s.defaultTTL
	}
	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("gridstore encode: %w", err)
	}
	if err := s.cli.Set(ctx, key, b, t); err != nil {
		return fmt.Errorf("gridstore put %q: %w", key, err)
	}
	return nil
}

func (s *redisGridStore) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.cli.Del(ctx, keys...); err != nil {
		return fmt.Errorf("gridstore invalidate: %w", err)
	}
	return nil
}
