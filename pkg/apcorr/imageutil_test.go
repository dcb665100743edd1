package apcorr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBilinearSample(t *testing.T) {
	m := NewMatWithSize(2, 2)
	defer m.Close()
	copy(m.DataFloat32(), []float32{0, 1, 2, 3})

	assert.InDelta(t, 0.0, BilinearSample(m, 0, 0), 1e-6)
	assert.InDelta(t, 0.5, BilinearSample(m, 0.5, 0), 1e-6)
	assert.InDelta(t, 1.5, BilinearSample(m, 0.5, 0.5), 1e-6)
	assert.InDelta(t, 3.0, BilinearSample(m, 5, 5), 1e-6, "clamped to the last pixel")
	assert.InDelta(t, 0.0, BilinearSample(m, -2, -1), 1e-6)
}

func TestMedian(t *testing.T) {
	m := NewMatWithSize(1, 5)
	defer m.Close()
	copy(m.DataFloat32(), []float32{0.9, 0.1, 0.5, 0.3, 0.7})
	assert.InDelta(t, 0.5, Median(m), 1e-6)

	assert.Zero(t, Median(NewMat()))
}

func TestToFloat32Mat(t *testing.T) {
	m := ToFloat32Mat([]uint16{0, 32768, 65535, 16384}, 16, 2, 2)
	defer m.Close()

	require.Equal(t, 2, m.Rows())
	require.Equal(t, 2, m.Cols())
	assert.InDeltaSlice(t, []float32{0, 0.5, 65535.0 / 65536.0, 0.25}, m.DataFloat32(), 1e-6)
}

func TestEstimateNoise(t *testing.T) {
	img := syntheticMat(t, 128, 128, 0.2, 0.01, []testStar{{x: 64, y: 64, amp: 0.5, sigma: 2}})

	est := EstimateNoise(img, 3, 1e-6, 10)
	assert.InDelta(t, 0.2, est.BackgroundMean, 0.002)
	assert.InEpsilon(t, 0.01, est.Sigma, 0.15)
	assert.GreaterOrEqual(t, est.NumIterations, 2)
}

func TestSmoothLargeScaleRemovesFlatBackground(t *testing.T) {
	img := syntheticMat(t, 64, 64, 0.3, 0, []testStar{{x: 32, y: 32, amp: 0.4, sigma: 1.5}})
	work := img.Clone()
	defer work.Close()

	large := SmoothLargeScale(work, 4)
	defer large.Close()
	SubtractClamped(&work, large)

	data := work.DataFloat32()
	assert.InDelta(t, 0, data[2*64+2], 1e-4, "flat corner is background")
	assert.Greater(t, data[32*64+32], float32(0.1), "star core survives")
}
