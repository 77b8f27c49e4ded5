package precision

import (
	"math"
	"testing"
)

func TestTruncate_TowardZero_NegativeLongitudes(t *testing.T) {
	cases := []struct {
		in   float64
		d    Digits
		want float64
	}{
		{30.29876, 4, 30.2987},
		{-97.7550797158131, 4, -97.7550}, // floor would give -97.7551
		{-97.75519, 4, -97.7551},
		{-97.7242274875346, 4, -97.7242},
		{30.298507512984692, 4, 30.2985},
		{30.2900, 4, 30.2900},
		{-97.7400, 4, -97.7400},
		{0.29, 2, 0.29},
		{-1.999, 0, -1},
		{1.999, 0, 1},
	}
	for _, c := range cases {
		if got := Truncate(c.in, c.d); got != c.want {
			t.Fatalf("Truncate(%v, %d)=%v want %v", c.in, c.d, got, c.want)
		}
	}
}

func TestTruncate_SnapWindow(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{30.2999999999999, 30.3},   // 1e-9 below the boundary after scaling: snaps
		{-97.7400000000001, -97.74}, // same on the negative side
		{30.299999, 30.2999},        // 1e-2 below after scaling: truncates
		{30.29999999, 30.2999},      // 1e-4 below after scaling: truncates
		{-97.74009999, -97.74},      // magnitude drop toward zero
	}
	for _, c := range cases {
		if got := Truncate(c.in, 4); got != c.want {
			t.Fatalf("Truncate(%v, 4)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestTruncate_Idempotent(t *testing.T) {
	vals := []float64{30.2804, 30.2985, -97.7551, -97.7242, 30.28049999, -97.72429999, 12.3456789, -0.00019, 45.1}
	for d := Digits(0); d <= 6; d++ {
		for _, v := range vals {
			once := Truncate(v, d)
			twice := Truncate(once, d)
			if once != twice {
				t.Fatalf("not idempotent: v=%v d=%d once=%v twice=%v", v, d, once, twice)
			}
		}
	}
}

func TestTruncate_SmallMagnitudesBecomeSentinel(t *testing.T) {
	for _, v := range []float64{0, 0.00004, -0.00004, math.Copysign(0, -1)} {
		got := Truncate(v, 4)
		if got != 0 || math.Signbit(got) {
			t.Fatalf("Truncate(%v)=%v want +0", v, got)
		}
		if !IsSentinel(v, 4) {
			t.Fatalf("IsSentinel(%v) = false", v)
		}
	}
	if IsSentinel(0.0001, 4) {
		t.Fatalf("0.0001 must survive at 4 digits")
	}
	if !IsSentinel(math.NaN(), 4) || !IsSentinel(math.Inf(-1), 4) {
		t.Fatalf("non-finite values must be sentinels")
	}
}

func TestValidateAndScale(t *testing.T) {
	if err := Validate(-1); err == nil {
		t.Fatalf("expected error for -1")
	}
	if err := Validate(Max + 1); err == nil {
		t.Fatalf("expected error for %d", Max+1)
	}
	if err := Validate(Default); err != nil {
		t.Fatalf("default precision rejected: %v", err)
	}
	if Scale(4) != 10000 || Scale(0) != 1 {
		t.Fatalf("unexpected scale: %v %v", Scale(4), Scale(0))
	}
}

func TestCells_RoundsHalfToEven(t *testing.T) {
	if got := Cells(30.2985-30.2804, 4); got != 181 {
		t.Fatalf("rows=%d want 181", got)
	}
	if got := Cells(-97.7242-(-97.7551), 4); got != 309 {
		t.Fatalf("cols=%d want 309", got)
	}
	if got := Cells(2.5, 0); got != 2 {
		t.Fatalf("Cells(2.5,0)=%d want 2 (half to even)", got)
	}
	if got := Cells(3.5, 0); got != 4 {
		t.Fatalf("Cells(3.5,0)=%d want 4", got)
	}
}
