package apcorr

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAlgorithm(t *testing.T) {
	for in, want := range map[string]Algorithm{
		"aperture": Aperture, "AP": Aperture, "sinc": Aperture,
		"Gaussian": Gaussian, "psf": Gaussian,
	} {
		got, err := ParseAlgorithm(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseAlgorithm("kron")
	require.ErrorIs(t, err, ErrInvalidControl)
	assert.Equal(t, "gaussian", Gaussian.String())
}

func TestPixelCoverage(t *testing.T) {
	assert.Equal(t, 1.0, pixelCoverage(0, 0, 3))
	assert.Equal(t, 0.0, pixelCoverage(5, 0, 3))

	const r = 6.3
	var area float64
	for y := -8; y <= 8; y++ {
		for x := -8; x <= 8; x++ {
			area += pixelCoverage(float64(x), float64(y), r)
		}
	}
	assert.InEpsilon(t, math.Pi*r*r, area, 0.01)
}

func TestMeasureAperture(t *testing.T) {
	star := testStar{x: 40.3, y: 39.6, amp: 0.4, sigma: 1.5}
	img := syntheticMat(t, 80, 80, 0.1, 0, []testStar{star})
	exp := NewExposure(img, testGain)
	src := sourcesAt([]testStar{star}, 0.1)[0]
	ctrl := DefaultControl()

	got, err := Measure(exp, src, Aperture, 7, ctrl)
	require.NoError(t, err)
	want := 2 * math.Pi * star.amp * star.sigma * star.sigma
	assert.InEpsilon(t, want, got.Flux, 0.01)
	assert.InDelta(t, math.Sqrt(got.Flux/testGain), got.FluxErr, 1e-9, "noise-free background adds no variance")
	assert.False(t, got.Flag)

	small, err := Measure(exp, src, Aperture, 1.5, ctrl)
	require.NoError(t, err)
	assert.InDelta(t, 1-math.Exp(-0.5), small.Flux/got.Flux, 0.05)
}

func TestMeasureApertureGainOverride(t *testing.T) {
	star := testStar{x: 40, y: 40, amp: 0.4, sigma: 1.5}
	img := syntheticMat(t, 80, 80, 0.1, 0, []testStar{star})
	exp := NewExposure(img, testGain)
	src := sourcesAt([]testStar{star}, 0.1)[0]

	ctrl := DefaultControl()
	ctrl.Gain = 4
	got, err := Measure(exp, src, Aperture, 7, ctrl)
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(got.Flux/4), got.FluxErr, 1e-9)
}

func TestMeasureApertureNearEdge(t *testing.T) {
	img := syntheticMat(t, 60, 60, 0.1, 0, []testStar{{x: 8, y: 30, amp: 0.4, sigma: 1.5}})
	exp := NewExposure(img, testGain)
	src := &Source{Center: Point2d{X: 8, Y: 30}}

	got, err := Measure(exp, src, Aperture, 5, DefaultControl())
	require.ErrorIs(t, err, ErrMeasurementFailed)
	assert.True(t, got.Flag)
}

func TestMeasureApertureBlankSky(t *testing.T) {
	img := syntheticMat(t, 60, 60, 0.1, 0, nil)
	exp := NewExposure(img, testGain)

	got, err := Measure(exp, &Source{Center: Point2d{X: 30, Y: 30}}, Aperture, 5, DefaultControl())
	require.ErrorIs(t, err, ErrMeasurementFailed)
	assert.True(t, got.Flag)
}

func TestMeasureGaussian(t *testing.T) {
	star := testStar{x: 40.3, y: 39.6, amp: 0.4, sigma: 1.8}
	img := syntheticMat(t, 80, 80, 0.1, 0.0005, []testStar{star})
	exp := NewExposure(img, testGain)
	src := sourcesAt([]testStar{star}, 0.1)[0]

	got, err := Measure(exp, src, Gaussian, 8, DefaultControl())
	require.NoError(t, err)
	want := 2 * math.Pi * star.amp * star.sigma * star.sigma
	assert.InEpsilon(t, want, got.Flux, 0.02)
	assert.Greater(t, got.FluxErr, 0.0)

	model, err := FitGaussianPSF(img, src, 8, 0.9)
	require.NoError(t, err)
	assert.InDelta(t, star.sigma, model.SigmaX, 0.05)
	assert.InDelta(t, star.sigma, model.SigmaY, 0.05)
	assert.InDelta(t, 0.1, model.Background, 0.002)
	assert.InDelta(t, 0, model.OffsetX, 0.05)
	assert.Greater(t, model.RSquared, 0.99)
	assert.InDelta(t, star.sigma*sigmaToFWHM, model.FWHMX, 0.15)
}

func TestMeasureGaussianWindowOutside(t *testing.T) {
	img := syntheticMat(t, 40, 40, 0.1, 0, nil)
	exp := NewExposure(img, testGain)

	_, err := Measure(exp, &Source{Center: Point2d{X: 3, Y: 20}}, Gaussian, 8, DefaultControl())
	require.ErrorIs(t, err, ErrMeasurementFailed)
}

func TestMeasurePSFFillsSlot(t *testing.T) {
	star := testStar{x: 30, y: 30, amp: 0.3, sigma: 1.6}
	img := syntheticMat(t, 60, 60, 0.05, 0.0005, []testStar{star})
	exp := NewExposure(img, testGain)
	src := sourcesAt([]testStar{star}, 0.05)[0]

	MeasurePSF(exp, src, 8)
	assert.False(t, src.PsfFlux.Flag)
	assert.Greater(t, src.PsfFlux.SNR(), 40.0)

	edge := &Source{Center: Point2d{X: 2, Y: 2}}
	MeasurePSF(exp, edge, 8)
	assert.True(t, edge.PsfFlux.Flag)
}
