package apcorr

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectSources(t *testing.T) {
	good := FluxMeasurement{Flux: 1000, FluxErr: 10}
	tests := []struct {
		name string
		src  Source
		cfg  SelectorConfig
		want bool
	}{
		{name: "usable", src: Source{ApFlux: good}, cfg: DefaultSelectorConfig(), want: true},
		{name: "nan centroid", src: Source{Center: Point2d{X: math.NaN()}, ApFlux: good}, cfg: DefaultSelectorConfig()},
		{name: "inf centroid", src: Source{Center: Point2d{Y: math.Inf(1)}, ApFlux: good}, cfg: DefaultSelectorConfig()},
		{name: "centroid flag", src: Source{CentroidFlag: true, ApFlux: good}, cfg: DefaultSelectorConfig()},
		{name: "deblended child", src: Source{Parent: 3, ApFlux: good}, cfg: DefaultSelectorConfig()},
		{name: "flux flag", src: Source{ApFlux: FluxMeasurement{Flux: 1000, FluxErr: 10, Flag: true}}, cfg: DefaultSelectorConfig()},
		{name: "snr at threshold", src: Source{ApFlux: FluxMeasurement{Flux: 400, FluxErr: 10}}, cfg: DefaultSelectorConfig()},
		{name: "snr just above", src: Source{ApFlux: FluxMeasurement{Flux: 401, FluxErr: 10}}, cfg: DefaultSelectorConfig(), want: true},
		{name: "zero error", src: Source{ApFlux: FluxMeasurement{Flux: 400}}, cfg: DefaultSelectorConfig()},
		{name: "snr cut disabled", src: Source{ApFlux: FluxMeasurement{Flux: 1, FluxErr: 10}}, cfg: SelectorConfig{MinSNR: 0}, want: true},
		{name: "psf slot", src: Source{ApFlux: good, PsfFlux: FluxMeasurement{Flag: true}}, cfg: SelectorConfig{FluxType: FluxPsf, MinSNR: 40}},
		{name: "psf slot good", src: Source{PsfFlux: good}, cfg: SelectorConfig{FluxType: FluxPsf, MinSNR: 40}, want: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			src := tc.src
			got := SelectSources([]*Source{&src}, tc.cfg)
			if tc.want {
				assert.Equal(t, []*Source{&src}, got)
			} else {
				assert.Empty(t, got)
			}
		})
	}
}

func TestSelectSourcesKeepsOrder(t *testing.T) {
	good := FluxMeasurement{Flux: 1000, FluxErr: 1}
	a, b, c := &Source{ID: 1, ApFlux: good}, &Source{ID: 2, Parent: 1, ApFlux: good}, &Source{ID: 3, ApFlux: good}
	in := []*Source{a, b, nil, c}

	got := SelectSources(in, DefaultSelectorConfig())
	assert.Equal(t, []*Source{a, c}, got)
	assert.Len(t, in, 4, "input untouched")
}

func TestParseFluxType(t *testing.T) {
	ft, err := ParseFluxType(" psf ")
	assert.NoError(t, err)
	assert.Equal(t, FluxPsf, ft)

	_, err = ParseFluxType("model")
	assert.ErrorIs(t, err, ErrInvalidControl)
}
