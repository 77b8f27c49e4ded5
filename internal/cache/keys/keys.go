// Package keys derives cache keys for aggregation results.
package keys

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/geo-heatmap/internal/core/model"
	"github.com/mohammed-shakir/geo-heatmap/internal/precision"
)

// Prefix starts every grid key; DelPrefix(Prefix+dataset) drops one dataset.
const Prefix = "grid:"

// Fingerprint hashes the records in order. Any change to a coordinate, or to
// the record order, yields a different value.
func Fingerprint(coords []model.Coordinate) uint64 {
	d := xxhash.New()
	var buf [16]byte
	for _, c := range coords {
		binary.LittleEndian.PutUint64(buf[:8], math.Float64bits(c.Lat))
		binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(c.Lon))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

// Params are the run settings that change the result for the same records.
type Params struct {
	Digits     precision.Digits
	Bounds     string
	Thresholds string
}

// GridKey builds grid:<dataset>:<fingerprint>:p=<digits>:b=<bounds>:t=<thresholds>:h=<hash>.
// The readable parts are sanitised and capped; the trailing hash covers the raw
// parameter text so truncation never merges two keys.
func GridKey(dataset string, fingerprint uint64, p Params) string {
	ds := sanitize(strings.TrimSpace(dataset))
	if ds == "" {
		ds = "default"
	}
	boundsText := strings.ToLower(strings.ReplaceAll(p.Bounds, " ", ""))
	boundsSafe := sanitize(boundsText)

	const maxBoundsLen = 96
	if len(boundsSafe) > maxBoundsLen {
		boundsSafe = boundsSafe[:maxBoundsLen]
	}

	sum := xxhash.Sum64String(fmt.Sprintf("%d|%s|%s", p.Digits, boundsText, p.Thresholds))
	return fmt.Sprintf("%s%s:%016x:p=%d:b=%s:t=%s:h=%016x",
		Prefix, ds, fingerprint, p.Digits, boundsSafe, sanitize(p.Thresholds), sum)
}

// DatasetPrefix returns the key prefix shared by every result of dataset.
func DatasetPrefix(dataset string) string {
	ds := sanitize(strings.TrimSpace(dataset))
	if ds == "" {
		ds = "default"
	}
	return Prefix + ds + ":"
}

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		var out rune
		switch {
		case isASCIIWhitespace(r):
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		case r == ',':
			out = '~'
		default:
			// ':' is the key separator, so it is replaced like any other rune
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isASCIIWhitespace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r < unicode.MaxASCII && unicode.IsDigit(r))
}
