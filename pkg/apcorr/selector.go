package apcorr

import "math"

// SelectorConfig configures SelectSources.
type SelectorConfig struct {
	// FluxType is the flux slot used for the signal-to-noise cut.
	FluxType FluxType
	// MinSNR is the exclusive signal-to-noise floor. Values <= 0 disable it.
	MinSNR float64
}

// DefaultSelectorConfig selects on aperture flux with S/N above 40.
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{FluxType: FluxAp, MinSNR: 40}
}

// SelectSources returns the sources usable for matching, in input order. A
// usable source has a finite, unflagged centroid, is not a deblended child,
// has an unflagged flux of the configured type and passes the S/N cut.
func SelectSources(sources []*Source, cfg SelectorConfig) []*Source {
	selected := make([]*Source, 0, len(sources))
	for _, s := range sources {
		if s != nil && cfg.usable(s) {
			selected = append(selected, s)
		}
	}
	return selected
}

func (cfg SelectorConfig) usable(s *Source) bool {
	return hasCentroid(s) && s.Parent == 0 && cfg.goodFlux(s.Flux(cfg.FluxType))
}

func hasCentroid(s *Source) bool {
	return !s.CentroidFlag && !math.IsNaN(s.Center.X) && !math.IsInf(s.Center.X, 0) &&
		!math.IsNaN(s.Center.Y) && !math.IsInf(s.Center.Y, 0)
}

func (cfg SelectorConfig) goodFlux(f FluxMeasurement) bool {
	if f.Flag {
		return false
	}
	if cfg.MinSNR <= 0 {
		return true
	}
	// SNR is NaN for a missing error, which fails the comparison.
	return f.SNR() > cfg.MinSNR
}
