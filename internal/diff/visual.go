package diff

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	"image/png"

	"github.com/lucasb-eyer/go-colorful"
)

// DefaultThreshold is the CIE L*a*b* distance under which two pixels count
// as equal.
const DefaultThreshold = 0.1

type VisualResult struct {
	Changed       bool
	DiffPixels    int
	TotalPixels   int
	Width, Height int
	// Image is a PNG with changed pixels in red over a faded copy of the
	// current image; nil when nothing changed.
	Image []byte
}

func (r VisualResult) Ratio() float64 {
	if r.TotalPixels == 0 {
		return 0
	}
	return float64(r.DiffPixels) / float64(r.TotalPixels)
}

var highlight = color.RGBA{R: 255, A: 255}

// Visual compares two encoded raster images pixel by pixel. Any pixel above
// the threshold is a change. Pixels outside the overlap of differently sized
// images count as changed.
func Visual(prev, cur []byte, threshold float64) (VisualResult, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	a, _, err := image.Decode(bytes.NewReader(prev))
	if err != nil {
		return VisualResult{}, fmt.Errorf("decode previous: %w", err)
	}
	b, _, err := image.Decode(bytes.NewReader(cur))
	if err != nil {
		return VisualResult{}, fmt.Errorf("decode current: %w", err)
	}

	ab, bb := a.Bounds(), b.Bounds()
	w, h := max(ab.Dx(), bb.Dx()), max(ab.Dy(), bb.Dy())
	res := VisualResult{Width: w, Height: h, TotalPixels: w * h}

	if bytes.Equal(prev, cur) {
		return res, nil
	}

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(out, out.Bounds(), image.White, image.Point{}, draw.Src)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			inA := x < ab.Dx() && y < ab.Dy()
			inB := x < bb.Dx() && y < bb.Dy()

			if !inA || !inB {
				res.DiffPixels++
				out.SetRGBA(x, y, highlight)
				continue
			}

			pa := a.At(ab.Min.X+x, ab.Min.Y+y)
			pb := b.At(bb.Min.X+x, bb.Min.Y+y)
			if !equalPixel(pa, pb, threshold) {
				res.DiffPixels++
				out.SetRGBA(x, y, highlight)
				continue
			}
			out.Set(x, y, faded(pb))
		}
	}

	if res.DiffPixels == 0 {
		return res, nil
	}
	res.Changed = true

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return res, fmt.Errorf("encode diff: %w", err)
	}
	res.Image = buf.Bytes()
	return res, nil
}

func equalPixel(a, b color.Color, threshold float64) bool {
	ra, ga, ba, aa := a.RGBA()
	rb, gb, bb, ab := b.RGBA()
	if ra == rb && ga == gb && ba == bb && aa == ab {
		return true
	}
	if aa != ab {
		return false
	}
	ca, _ := colorful.MakeColor(a)
	cb, _ := colorful.MakeColor(b)
	return ca.DistanceLab(cb) <= threshold
}

// faded renders unchanged pixels as light grey so the red stands out.
func faded(c color.Color) color.Color {
	g := color.GrayModel.Convert(c).(color.Gray)
	return color.Gray{Y: 255 - (255-g.Y)/4}
}
