// Package render draws tiered markers for populated cells over a reference
// map image. Row 0 is the southern edge, so rows grow upward on the image.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg" // base maps are often JPEG
	"image/png"
	"io"
	"math"

	"github.com/mohammed-shakir/geo-heatmap/internal/core/model"
	"github.com/mohammed-shakir/geo-heatmap/internal/density"
	"github.com/mohammed-shakir/geo-heatmap/internal/intensity"
)

// Canvas size of the reference map image.
const (
	DefaultWidth  = 1166
	DefaultHeight = 787
)

type Style struct {
	Radius int
	Color  color.NRGBA
}

// Styles gives each visible tier its marker. Empty cells are not drawn.
var Styles = map[intensity.Tier]Style{
	intensity.Low:    {Radius: 2, Color: color.NRGBA{R: 255, G: 255, B: 0, A: 102}},
	intensity.Medium: {Radius: 3, Color: color.NRGBA{R: 255, G: 165, B: 0, A: 153}},
	intensity.High:   {Radius: 4, Color: color.NRGBA{R: 255, G: 0, B: 0, A: 204}},
}

type Marker struct {
	X, Y  float64
	Cell  model.Index
	Count uint64
	Tier  intensity.Tier
	Style Style
}

// Plan converts every non-Empty cell into a marker in image pixel space:
// x = col*width/cols, y = height - row*height/rows.
func Plan(snap density.Snapshot, width, height int, cls *intensity.Classifier) ([]Marker, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid canvas %dx%d", width, height)
	}
	if snap.Rows() <= 0 || snap.Cols() <= 0 {
		return nil, errors.New("empty grid")
	}
	if cls == nil {
		return nil, errors.New("nil classifier")
	}
	scaleX := float64(width) / float64(snap.Cols())
	scaleY := float64(height) / float64(snap.Rows())

	var out []Marker
	snap.Each(func(idx model.Index, n uint64) {
		tier := cls.Classify(n)
		st, ok := Styles[tier]
		if !ok {
			return
		}
		out = append(out, Marker{
			X:     float64(idx.Col) * scaleX,
			Y:     float64(height) - float64(idx.Row)*scaleY,
			Cell:  idx,
			Count: n,
			Tier:  tier,
			Style: st,
		})
	})
	return out, nil
}

// NewCanvas copies base into a fresh RGBA image, or returns an opaque white
// width x height canvas when base is nil.
func NewCanvas(base image.Image, width, height int) *image.RGBA {
	if base != nil {
		b := base.Bounds()
		dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(dst, dst.Bounds(), base, b.Min, draw.Src)
		return dst
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	return dst
}

// Overlay returns a copy of base with each marker alpha-blended on top as a
// filled disc. A nil base yields a blank canvas of the default size.
func Overlay(base image.Image, markers []Marker) *image.RGBA {
	dst := NewCanvas(base, DefaultWidth, DefaultHeight)
	for _, m := range markers {
		c := image.Point{X: int(math.Round(m.X)), Y: int(math.Round(m.Y))}
		r := m.Style.Radius
		rect := image.Rect(c.X-r, c.Y-r, c.X+r+1, c.Y+r+1)
		draw.DrawMask(dst, rect, image.NewUniform(m.Style.Color), image.Point{},
			&disc{center: c, r: r}, rect.Min, draw.Over)
	}
	return dst
}

func WritePNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// DecodeBase reads a PNG or JPEG base map.
func DecodeBase(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode base image: %w", err)
	}
	return img, nil
}

// disc is an alpha mask that is opaque inside a circle of radius r.
type disc struct {
	center image.Point
	r      int
}

func (d *disc) ColorModel() color.Model { return color.AlphaModel }

func (d *disc) Bounds() image.Rectangle {
	return image.Rect(d.center.X-d.r, d.center.Y-d.r, d.center.X+d.r+1, d.center.Y+d.r+1)
}

func (d *disc) At(x, y int) color.Color {
	dx, dy := x-d.center.X, y-d.center.Y
	if dx*dx+dy*dy <= d.r*d.r {
		return color.Alpha{A: 255}
	}
	return color.Alpha{}
}
