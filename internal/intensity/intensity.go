// Package intensity buckets cell counts into display tiers.
package intensity

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/geo-heatmap/internal/core/model"
	"github.com/mohammed-shakir/geo-heatmap/internal/density"
)

// Tier is an ordered intensity bucket: Empty < Low < Medium < High.
type Tier int

const (
	Empty Tier = iota
	Low
	Medium
	High
)

// Tiers lists the non-empty tiers in ascending order.
var Tiers = []Tier{Low, Medium, High}

func (t Tier) String() string {
	switch t {
	case Empty:
		return "empty"
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

func (t Tier) MarshalText() ([]byte, error) {
	if t < Empty || t > High {
		return nil, fmt.Errorf("unknown tier %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	v, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "empty":
		return Empty, nil
	case "low":
		return Low, nil
	case "medium":
		return Medium, nil
	case "high":
		return High, nil
	}
	return Empty, fmt.Errorf("unknown tier %q", s)
}

// Thresholds are the inclusive lower bounds of the Low, Medium and High tiers.
// With the defaults a cell with 1-4 events is Low, 5-9 Medium, 10+ High.
type Thresholds struct {
	Low    uint64 `json:"low" yaml:"low"`
	Medium uint64 `json:"medium" yaml:"medium"`
	High   uint64 `json:"high" yaml:"high"`
}

// DefaultThresholds keeps any non-zero cell visible.
var DefaultThresholds = Thresholds{Low: 1, Medium: 5, High: 10}

func (th Thresholds) Validate() error {
	if th.Low < 1 {
		return fmt.Errorf("invalid thresholds %s: low must be >= 1", th)
	}
	if th.Medium <= th.Low || th.High <= th.Medium {
		return fmt.Errorf("invalid thresholds %s: must be strictly increasing", th)
	}
	return nil
}

// String in the low,medium,high form accepted by ParseThresholds.
func (th Thresholds) String() string {
	return fmt.Sprintf("%d,%d,%d", th.Low, th.Medium, th.High)
}

// ParseThresholds reads "low,medium,high" and validates the result.
func ParseThresholds(s string) (Thresholds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Thresholds{}, fmt.Errorf("thresholds must be low,medium,high; got %q", s)
	}
	var vals [3]uint64
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return Thresholds{}, fmt.Errorf("threshold %d: %w", i, err)
		}
		vals[i] = v
	}
	th := Thresholds{Low: vals[0], Medium: vals[1], High: vals[2]}
	if err := th.Validate(); err != nil {
		return Thresholds{}, err
	}
	return th, nil
}

type Classifier struct {
	th Thresholds
}

func NewClassifier(th Thresholds) (*Classifier, error) {
	if err := th.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{th: th}, nil
}

func (c *Classifier) Thresholds() Thresholds { return c.th }

// Classify is non-decreasing in count; 0 is always Empty.
func (c *Classifier) Classify(count uint64) Tier {
	switch {
	case count < c.th.Low:
		return Empty
	case count < c.th.Medium:
		return Low
	case count < c.th.High:
		return Medium
	default:
		return High
	}
}

// Counts is the number of populated cells per tier.
type Counts map[Tier]int

// Tally classifies every populated cell of s.
func (c *Classifier) Tally(s density.Snapshot) Counts {
	out := Counts{}
	s.Each(func(_ model.Index, n uint64) {
		out[c.Classify(n)]++
	})
	return out
}
