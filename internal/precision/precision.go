// Package precision implements fixed decimal-digit truncation shared by bounds,
// grid shaping and coordinate mapping.
package precision

import (
	"fmt"
	"math"
)

// Digits is the number of decimal digits kept after truncation. It also sets
// the grid resolution: one cell spans 10^-Digits degrees.
type Digits int

const (
	Default Digits = 4
	Max     Digits = 9
)

// scaled values closer than this to an integer are treated as that integer,
// so representation error (0.29*100 = 28.999999999999996) does not drop a digit.
const snapEpsilon = 1e-7

func Validate(d Digits) error {
	if d < 0 || d > Max {
		return fmt.Errorf("invalid precision %d (must be 0..%d)", d, Max)
	}
	return nil
}

// Scale returns 10^d, the degrees-to-cells factor.
func Scale(d Digits) float64 {
	return math.Pow10(int(d))
}

// Truncate drops digits beyond d toward zero: -97.75507 -> -97.7550 at d=4.
// This is not floor: negative values lose magnitude.
//
// Scaled values within 1e-7 of an integer snap to it instead of truncating, so
// 0.29 stays 0.29 at d=2 and Truncate is idempotent. The cost is that inputs
// that close below a digit boundary round up: 30.2999999999999 becomes 30.3 at
// d=4, where plain int(x*10^d) truncation would give 30.2999.
func Truncate(v float64, d Digits) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	s := Scale(d)
	x := v * s
	if r := math.Round(x); math.Abs(x-r) < snapEpsilon {
		x = r
	} else {
		x = math.Trunc(x)
	}
	out := x / s
	if out == 0 {
		// normalise -0 so sentinel comparisons and encodings stay stable
		return 0
	}
	return out
}

// IsSentinel reports whether v truncates to exactly zero, the missing-value marker.
// Non-finite values are treated the same way.
func IsSentinel(v float64, d Digits) bool {
	t := Truncate(v, d)
	return t == 0 || math.IsNaN(t) || math.IsInf(t, 0)
}

// Cells converts a degree delta into a cell count with round-half-to-even.
func Cells(delta float64, d Digits) int {
	return int(math.RoundToEven(delta * Scale(d)))
}
