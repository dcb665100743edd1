package apcorr

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"apcorr/pkg/polyfit"
)

const fieldSize = 256

var quadrantCells = CellParams{SizeX: 128, SizeY: 128, MaxCandidatesPerCell: 5}

func fieldFixture(t *testing.T, noise float64) (*Exposure, *CellSet) {
	t.Helper()
	stars := starGrid(fieldSize, fieldSize, 3, 40, 0.4, 1.5)
	img := syntheticMat(t, fieldSize, fieldSize, 0.1, noise, stars)
	cells, err := BuildCellSet(fieldSize, fieldSize, sourcesAt(stars, 0.1), FluxAp, quadrantCells)
	require.NoError(t, err)
	require.Len(t, cells.Candidates(true), 9)
	return NewExposure(img, testGain), cells
}

func ratingValue(t *testing.T, apc *ApertureCorrection, name string) float64 {
	t.Helper()
	for _, r := range apc.Ratings() {
		if r.Name == name {
			return r.Value
		}
	}
	t.Fatalf("rating %s missing", name)
	return 0
}

func TestApertureCorrectionPSFToAperture(t *testing.T) {
	exp, cells := fieldFixture(t, 0.0005)

	apc, err := NewApertureCorrection(exp, cells, DefaultControl(), nil)
	require.NoError(t, err)

	require.Len(t, apc.Samples(), 9)
	for _, s := range apc.Samples() {
		assert.InDelta(t, 1.0, s.ApCorr, 0.03)
		assert.Greater(t, s.ApCorrErr, 0.0)
	}
	value, uncertainty, err := apc.ComputeAt(fieldSize/2, fieldSize/2)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, value, 0.02)
	assert.GreaterOrEqual(t, uncertainty, 0.0)

	assert.Equal(t, 9.0, ratingValue(t, apc, RatingNumGoodStars))
	assert.Equal(t, 9.0, ratingValue(t, apc, RatingNumAvailStars))
	assert.Equal(t, 0.0, ratingValue(t, apc, RatingSpatialLowOrdFlag))
	assert.Equal(t, 1, apc.Fit().Order())
	assert.Equal(t, DefaultControl(), apc.Control())
}

func TestApertureCorrectionChebyshevOverfit(t *testing.T) {
	exp, cells := fieldFixture(t, 0)
	ctrl := DefaultControl()
	ctrl.Algorithm1, ctrl.Radius1 = Aperture, 7
	ctrl.Algorithm2, ctrl.Radius2 = Aperture, 2
	ctrl.PolyStyle = polyfit.Chebyshev

	apc, err := NewApertureCorrection(exp, cells, ctrl, nil)
	require.NoError(t, err)
	require.NoError(t, apc.Check())
	assert.Equal(t, 2, apc.Fit().Order(), "chebyshev fits one order higher")

	samples := apc.Samples()
	assert.InDelta(t, 1-math.Exp(-4/(2*1.5*1.5)), samples[0].ApCorr, 0.05)

	grid, err := apc.Grid(3)
	require.NoError(t, err)
	require.Len(t, grid, 3)
	for _, row := range grid {
		require.Len(t, row, 3)
		for _, v := range row {
			assert.InDelta(t, samples[0].ApCorr, v, 1e-5, "identical stars give a flat correction")
		}
	}

	_, err = apc.Grid(0)
	assert.ErrorIs(t, err, ErrInvalidControl)
}

func TestApertureCorrectionSkipsBadCandidates(t *testing.T) {
	exp, cells := fieldFixture(t, 0.0005)
	cells.Cells()[3].Candidates(false)[0].Status = CandidateBad

	apc, err := NewApertureCorrection(exp, cells, DefaultControl(), nil)
	require.NoError(t, err)
	assert.Equal(t, 8.0, ratingValue(t, apc, RatingNumGoodStars))
	assert.Equal(t, 8.0, ratingValue(t, apc, RatingNumAvailStars))
}

func TestApertureCorrectionLogsFailures(t *testing.T) {
	exp, cells := fieldFixture(t, 0.0005)
	cells.Insert(&Source{Center: Point2d{X: 3, Y: 3}, ApFlux: FluxMeasurement{Flux: 100, FluxErr: 1}}, FluxAp)

	core, logs := observer.New(zapcore.DebugLevel)
	apc, err := NewApertureCorrection(exp, cells, DefaultControl(), zap.New(core).Sugar())
	require.NoError(t, err)

	assert.Equal(t, 9.0, ratingValue(t, apc, RatingNumGoodStars))
	assert.Equal(t, 10.0, ratingValue(t, apc, RatingNumAvailStars))
	assert.Equal(t, 1, logs.FilterMessageSnippet("Failed to measure source at 3.00, 3.00").Len())
	assert.Equal(t, 9, logs.FilterMessageSnippet("Using source").Len())
	assert.Equal(t, 1, logs.FilterMessageSnippet("mean apCorr").Len())
}

func TestApertureCorrectionUnderdetermined(t *testing.T) {
	stars := []testStar{{x: 60, y: 60, amp: 0.4, sigma: 1.5}, {x: 190, y: 70, amp: 0.4, sigma: 1.5}}
	img := syntheticMat(t, fieldSize, fieldSize, 0.1, 0.0005, stars)
	cells, err := BuildCellSet(fieldSize, fieldSize, sourcesAt(stars, 0.1), FluxAp, quadrantCells)
	require.NoError(t, err)

	ctrl := DefaultControl()
	ctrl.Order = 2
	core, logs := observer.New(zapcore.WarnLevel)
	apc, err := NewApertureCorrection(NewExposure(img, testGain), cells, ctrl, zap.New(core).Sugar())
	require.NoError(t, err)

	assert.ErrorIs(t, apc.Check(), polyfit.ErrUnderdetermined)
	assert.Equal(t, 1, logs.FilterMessageSnippet("Not enough stars").Len())
	_, _, err = apc.ComputeAt(100, 100)
	assert.NoError(t, err)
}

func TestApertureCorrectionNoSamples(t *testing.T) {
	img := syntheticMat(t, 64, 64, 0.1, 0, nil)
	cells, err := BuildCellSet(64, 64, []*Source{{Center: Point2d{X: 2, Y: 2}}}, FluxAp, DefaultCellParams())
	require.NoError(t, err)

	_, err = NewApertureCorrection(NewExposure(img, testGain), cells, DefaultControl(), nil)
	require.ErrorIs(t, err, ErrNoSamples)
}

func TestApertureCorrectionInvalidControl(t *testing.T) {
	exp, cells := fieldFixture(t, 0)
	ctrl := DefaultControl()
	ctrl.Order = -2

	_, err := NewApertureCorrection(exp, cells, ctrl, nil)
	require.ErrorIs(t, err, ErrInvalidControl)
}
