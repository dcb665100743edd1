package apcorr

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func srcAt(x, y, flux float64) *Source {
	return &Source{Center: Point2d{X: x, Y: y}, ApFlux: FluxMeasurement{Flux: flux, FluxErr: 1}}
}

func candidateFluxes(cands []*Candidate) []float64 {
	out := make([]float64, len(cands))
	for i, c := range cands {
		out[i] = c.Source.ApFlux.Flux
	}
	return out
}

func TestCellSetLayout(t *testing.T) {
	cs, err := NewCellSet(500, 300, CellParams{SizeX: 200, SizeY: 200})
	require.NoError(t, err)

	cells := cs.Cells()
	require.Len(t, cells, 6)
	assert.Equal(t, "Cell 0x0", cells[0].Label)
	assert.Equal(t, "Cell 2x1", cells[5].Label)
	assert.Equal(t, 100, cells[5].Bounds.Dx(), "edge cell truncated")
	assert.Equal(t, 100, cells[5].Bounds.Dy())
}

func TestCellSetBrightestFirstWithCap(t *testing.T) {
	cs, err := NewCellSet(100, 100, CellParams{SizeX: 100, SizeY: 100, MaxCandidatesPerCell: 3})
	require.NoError(t, err)

	for _, f := range []float64{5, 9, 1, 7} {
		assert.True(t, cs.Insert(srcAt(10, 10, f), FluxAp))
	}
	assert.False(t, cs.Insert(srcAt(20, 20, 0.5), FluxAp), "fainter than a full cell")

	got := candidateFluxes(cs.Cells()[0].Candidates(false))
	if diff := cmp.Diff([]float64{9, 7, 5}, got); diff != "" {
		t.Errorf("candidates mismatch (-want +got):\n%s", diff)
	}
}

func TestCellSetRejectsOutside(t *testing.T) {
	cs, err := NewCellSet(100, 100, DefaultCellParams())
	require.NoError(t, err)

	assert.False(t, cs.Insert(srcAt(-0.5, 10, 1), FluxAp))
	assert.False(t, cs.Insert(srcAt(100, 10, 1), FluxAp))
	assert.True(t, cs.Insert(srcAt(99.9, 99.9, 1), FluxAp))
	assert.False(t, cs.Insert(srcAt(math.NaN(), 10, 1), FluxAp))
}

func TestCellSetSkipsBad(t *testing.T) {
	sources := []*Source{srcAt(10, 10, 3), srcAt(300, 10, 2), srcAt(10, 300, 1)}
	cs, err := BuildCellSet(512, 512, sources, FluxAp, DefaultCellParams())
	require.NoError(t, err)
	require.Len(t, cs.Candidates(false), 3)

	cs.Cells()[1].Candidates(false)[0].Status = CandidateBad
	assert.Len(t, cs.Candidates(false), 3)
	good := cs.Candidates(true)
	assert.Equal(t, []float64{3, 1}, candidateFluxes(good))
	assert.Equal(t, "bad", CandidateBad.String())
}

func TestNewCellSetInvalid(t *testing.T) {
	_, err := NewCellSet(100, 100, CellParams{SizeX: 0, SizeY: 10})
	assert.ErrorIs(t, err, ErrInvalidControl)
	_, err = NewCellSet(0, 100, DefaultCellParams())
	assert.ErrorIs(t, err, ErrInvalidControl)
}
