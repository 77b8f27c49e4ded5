// Package invalidation consumes cache-invalidation events from Kafka and
// applies them to the running heatmap service.
package invalidation

import (
	"errors"
	"strings"
	"time"
)

const (
	// OpReload re-reads the record source; results of the old records are dropped.
	OpReload = "reload"
	// OpPurge drops every cached result of the dataset without reloading.
	OpPurge = "purge"
)

type Event struct {
	Version int    `json:"version"`
	Op      string `json:"op"`
	Dataset string `json:"dataset"`
	// Seq orders events per dataset; an event at or below the last applied
	// Seq is skipped. Zero always applies.
	Seq    uint64    `json:"seq,omitempty"`
	TS     time.Time `json:"ts"`
	Source string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return errors.New("version must be 1")
	}
	switch e.Op {
	case OpReload, OpPurge:
	default:
		return errors.New("op must be reload|purge")
	}
	if strings.TrimSpace(e.Dataset) == "" {
		return errors.New("dataset is required")
	}
	if e.TS.IsZero() {
		return errors.New("ts is required")
	}
	return nil
}
