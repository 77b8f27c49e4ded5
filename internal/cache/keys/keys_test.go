package keys

import (
	"regexp"
	"strings"
	"testing"
	"unicode"

	"github.com/mohammed-shakir/geo-heatmap/internal/core/model"
)

var keyChars = regexp.MustCompile(`^[A-Za-z0-9:_=.~\-]+$`)

func TestFingerprint_OrderAndValueSensitive(t *testing.T) {
	a := []model.Coordinate{{Lat: 30.29, Lon: -97.74}, {Lat: 30.28, Lon: -97.75}}
	b := []model.Coordinate{{Lat: 30.28, Lon: -97.75}, {Lat: 30.29, Lon: -97.74}}
	c := []model.Coordinate{{Lat: 30.29, Lon: -97.74}, {Lat: 30.28, Lon: -97.7500001}}

	if Fingerprint(a) != Fingerprint(a) {
		t.Fatalf("fingerprint must be deterministic")
	}
	if Fingerprint(a) == Fingerprint(b) {
		t.Fatalf("record order must change the fingerprint")
	}
	if Fingerprint(a) == Fingerprint(c) {
		t.Fatalf("a changed coordinate must change the fingerprint")
	}
	if Fingerprint(nil) != Fingerprint([]model.Coordinate{}) {
		t.Fatalf("nil and empty must agree")
	}
}

func TestGridKey_Determinism(t *testing.T) {
	p := Params{Digits: 4, Bounds: "auto", Thresholds: "1,5,10"}
	k1 := GridKey("campus", 0xabc, p)
	k2 := GridKey(" campus ", 0xabc, p)
	if k1 != k2 {
		t.Fatalf("determinism failed:\n k1=%s\n k2=%s", k1, k2)
	}
	if !strings.HasPrefix(k1, DatasetPrefix("campus")) {
		t.Fatalf("key %s does not start with dataset prefix", k1)
	}
	if !keyChars.MatchString(k1) {
		t.Fatalf("key contains disallowed characters: %s", k1)
	}
}

func TestGridKey_ParamsDistinguish(t *testing.T) {
	base := Params{Digits: 4, Bounds: "auto", Thresholds: "1,5,10"}
	k := GridKey("campus", 1, base)
	variants := []Params{
		{Digits: 3, Bounds: "auto", Thresholds: "1,5,10"},
		{Digits: 4, Bounds: "west-campus", Thresholds: "1,5,10"},
		{Digits: 4, Bounds: "auto", Thresholds: "2,5,10"},
	}
	for _, v := range variants {
		if GridKey("campus", 1, v) == k {
			t.Fatalf("params %+v collided with %+v", v, base)
		}
	}
	if GridKey("campus", 2, base) == k || GridKey("other", 1, base) == k {
		t.Fatalf("dataset and fingerprint must be part of the key")
	}
}

func TestGridKey_LongAndUnicodeBounds(t *testing.T) {
	long := strings.Repeat("30.2804,-97.7551,", 20)
	k1 := GridKey("Göteborg data", 1, Params{Digits: 4, Bounds: long + "1"})
	k2 := GridKey("Göteborg data", 1, Params{Digits: 4, Bounds: long + "2"})
	if k1 == k2 {
		t.Fatalf("truncated bounds must still differ through the hash")
	}
	for _, r := range k1 {
		if r > unicode.MaxASCII {
			t.Fatalf("non-ASCII rune leaked into key: %q in %s", r, k1)
		}
	}
	if !keyChars.MatchString(k1) {
		t.Fatalf("key contains disallowed characters: %s", k1)
	}
}
