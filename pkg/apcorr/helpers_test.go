package apcorr

import (
	"image"
	"image/color"
	"image/png"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testStar struct {
	x, y, amp, sigma float64
}

// syntheticMat renders circular Gaussian stars sampled at pixel centres on a
// flat background with optional seeded Gaussian noise.
func syntheticMat(t *testing.T, width, height int, bg, noise float64, stars []testStar) Mat {
	t.Helper()
	m := NewMatWithSize(height, width)
	t.Cleanup(func() { m.Close() })

	rng := rand.New(rand.NewSource(42))
	data := m.DataFloat32()
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := bg
			for _, s := range stars {
				dx, dy := float64(x)-s.x, float64(y)-s.y
				v += s.amp * math.Exp(-(dx*dx+dy*dy)/(2*s.sigma*s.sigma))
			}
			if noise > 0 {
				v += noise * rng.NormFloat64()
			}
			data[y*width+x] = float32(v)
		}
	}
	return m
}

// starGrid places an n x n grid of identical stars spaced evenly across the
// image, margin pixels from each edge.
func starGrid(width, height, n int, margin, amp, sigma float64) []testStar {
	stars := make([]testStar, 0, n*n)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			x := margin + float64(i)*(float64(width)-2*margin)/float64(n-1)
			y := margin + float64(j)*(float64(height)-2*margin)/float64(n-1)
			stars = append(stars, testStar{x: x + 0.3, y: y - 0.2, amp: amp, sigma: sigma})
		}
	}
	return stars
}

// sourcesAt builds measured-looking sources at the true star positions.
func sourcesAt(stars []testStar, bg float64) []*Source {
	out := make([]*Source, len(stars))
	for i, s := range stars {
		flux := 2 * math.Pi * s.amp * s.sigma * s.sigma
		out[i] = &Source{
			ID:         i + 1,
			Center:     Point2d{X: s.x, Y: s.y},
			Background: bg,
			Peak:       s.amp,
			ApFlux:     FluxMeasurement{Flux: flux, FluxErr: flux / 100},
		}
	}
	return out
}

const testGain = 65536.0

// writePNG stores m as an 8- or 16-bit grayscale PNG and returns its path.
func writePNG(t *testing.T, m Mat, bitDepth int) string {
	t.Helper()
	w, h := m.Cols(), m.Rows()
	data := m.DataFloat32()
	var img image.Image
	if bitDepth == 16 {
		g := image.NewGray16(image.Rect(0, 0, w, h))
		for i, v := range data {
			g.SetGray16(i%w, i/w, color.Gray16{Y: uint16(math.Round(clampFloat64(float64(v), 0, 1) * 65535))})
		}
		img = g
	} else {
		g := image.NewGray(image.Rect(0, 0, w, h))
		for i, v := range data {
			g.SetGray(i%w, i/w, color.Gray{Y: uint8(math.Round(clampFloat64(float64(v), 0, 1) * 255))})
		}
		img = g
	}

	path := filepath.Join(t.TempDir(), "field.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}
