package apcorr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDebayerRGGBUniform(t *testing.T) {
	data := make([]float64, 6*4)
	for i := range data {
		data[i] = 0.25
	}
	for _, v := range DebayerRGGB(data, 6, 4) {
		assert.InDelta(t, 0.25, v, 1e-12)
	}
}

func TestDebayerRGGBChannels(t *testing.T) {
	// R=0.9, G=0.3, B=0.6 everywhere in the mosaic
	for _, tc := range []struct{ w, h int }{{4, 4}, {5, 3}, {6, 2}} {
		data := make([]float64, tc.w*tc.h)
		for y := 0; y < tc.h; y++ {
			for x := 0; x < tc.w; x++ {
				switch {
				case y%2 == 0 && x%2 == 0:
					data[y*tc.w+x] = 0.9
				case y%2 == 1 && x%2 == 1:
					data[y*tc.w+x] = 0.6
				default:
					data[y*tc.w+x] = 0.3
				}
			}
		}

		out := DebayerRGGB(data, tc.w, tc.h)
		for i, v := range out {
			assert.InDelta(t, (0.9+0.3+0.6)/3, v, 1e-12, "%dx%d pixel %d", tc.w, tc.h, i)
		}
	}
}

func TestBayerMirrorKeepsParity(t *testing.T) {
	assert.Equal(t, 1, bayerMirror(-1, 4))
	assert.Equal(t, 2, bayerMirror(4, 4))
	assert.Equal(t, 3, bayerMirror(5, 5))
	assert.Equal(t, 0, bayerMirror(-1, 1))
	assert.Equal(t, 0, bayerMirror(1, 1))
}

func TestDebayerToMat(t *testing.T) {
	m := DebayerToMat([]uint16{128, 128, 128, 128}, 8, 2, 2)
	defer m.Close()
	assert.InDeltaSlice(t, []float32{0.5, 0.5, 0.5, 0.5}, m.DataFloat32(), 1e-6)
}
