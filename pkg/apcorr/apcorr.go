// Package apcorr measures position-dependent aperture corrections: the ratio
// of two flux measurements of the same stars, fitted as a polynomial surface
// over the image.
package apcorr

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"apcorr/pkg/polyfit"
)

// Quality rating names.
const (
	RatingNumGoodStars      = "phot.apCorr.numGoodStars"
	RatingNumAvailStars     = "phot.apCorr.numAvailStars"
	RatingSpatialLowOrdFlag = "phot.apCorr.spatialLowOrdFlag"
)

// Rating is a named quality metric of a correction.
type Rating struct {
	Name  string
	Value float64
}

// Sample is the correction measured on one star.
type Sample struct {
	X, Y      float64
	Flux1     FluxMeasurement
	Flux2     FluxMeasurement
	ApCorr    float64
	ApCorrErr float64
}

// ApertureCorrection is a fitted correction surface. It is immutable and
// safe for concurrent use.
type ApertureCorrection struct {
	ctrl          Control
	width, height int
	samples       []Sample
	fit           *polyfit.SurfaceFit
	ratings       []Rating
}

// NewApertureCorrection measures every non-bad candidate of cells with both
// algorithms of ctrl and fits the flux ratio Flux2/Flux1 over the exposure.
// Candidates that fail to measure are logged and skipped. log may be nil.
func NewApertureCorrection(exp *Exposure, cells *CellSet, ctrl Control, log *zap.SugaredLogger) (*ApertureCorrection, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if err := ctrl.Validate(); err != nil {
		return nil, err
	}
	if exp == nil || exp.Image.Empty() {
		return nil, fmt.Errorf("%w: empty exposure", ErrInvalidControl)
	}

	apc := &ApertureCorrection{ctrl: ctrl, width: exp.Width(), height: exp.Height()}
	candidates := cells.Candidates(true)
	for _, cand := range candidates {
		s, err := apc.measure(exp, cand.Source)
		if err != nil {
			log.Warnf("Failed to measure source at %.2f, %.2f: %v", cand.X(), cand.Y(), err)
			continue
		}
		log.Debugf("Using source: %7.2f %7.2f  %9.2f+/-%5.2f / %9.2f+/-%5.2f = %5.3f+/-%5.3f",
			s.X, s.Y, s.Flux1.Flux, s.Flux1.FluxErr, s.Flux2.Flux, s.Flux2.FluxErr, s.ApCorr, s.ApCorrErr)
		apc.samples = append(apc.samples, s)
	}
	if len(apc.samples) == 0 {
		return nil, fmt.Errorf("%w: %d candidates", ErrNoSamples, len(candidates))
	}

	n := len(apc.samples)
	x, y := make([]float64, n), make([]float64, n)
	z, w := make([]float64, n), make([]float64, n)
	for i, s := range apc.samples {
		x[i], y[i] = apc.normalize(s.X, s.Y)
		z[i] = s.ApCorr
		w[i] = 1 / (s.ApCorrErr * s.ApCorrErr)
	}
	basis, err := polyfit.NewBasis(ctrl.FitOrder(), ctrl.PolyStyle)
	if err != nil {
		return nil, err
	}
	apc.fit, err = polyfit.NewSurfaceFit(x, y, z, w, basis)
	if err != nil {
		return nil, fmt.Errorf("fitting aperture correction: %w", err)
	}

	vs := apc.fit.ValueSolution()
	if vs.Underdetermined() {
		log.Warnf("Not enough stars for requested polynomial order in aperture correction (%d stars, %d terms)",
			n, len(vs.Coeff()))
	}
	if vs.NearSingular() {
		sv := vs.SingularValues()
		log.Warnf("Singular value below threshold in aperture correction fit (%.14g < %.14g)",
			sv[len(sv)-1], vs.SingularThreshold())
	}

	apc.ratings = []Rating{
		{Name: RatingNumGoodStars, Value: float64(n)},
		{Name: RatingNumAvailStars, Value: float64(len(candidates))},
		{Name: RatingSpatialLowOrdFlag, Value: 0},
	}

	log.Infof("%s %g to %s %g", ctrl.Algorithm1, ctrl.Radius1, ctrl.Algorithm2, ctrl.Radius2)
	log.Infof("numGoodStars: %d", n)
	log.Infof("numAvailStars: %d", len(candidates))
	mean, std := stat.PopMeanStdDev(z, nil)
	log.Infof("mean apCorr: %.4f +/- %.4f", mean, std)
	cx, cy := float64(apc.width/2), float64(apc.height/2)
	if v, e, err := apc.ComputeAt(cx, cy); err == nil {
		log.Infof("apCorr(%.0f,%.0f): %.4f +/- %.4f", cx, cy, v, e)
	}
	return apc, nil
}

func (apc *ApertureCorrection) measure(exp *Exposure, src *Source) (Sample, error) {
	f1, err := Measure(exp, src, apc.ctrl.Algorithm1, apc.ctrl.Radius1, apc.ctrl)
	if err != nil {
		return Sample{}, err
	}
	f2, err := Measure(exp, src, apc.ctrl.Algorithm2, apc.ctrl.Radius2, apc.ctrl)
	if err != nil {
		return Sample{}, err
	}

	ratio := f2.Flux / f1.Flux
	ratioErr := ratio * math.Hypot(f1.FluxErr/f1.Flux, f2.FluxErr/f2.Flux)
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) || !(ratioErr > 0) || math.IsInf(ratioErr, 0) {
		return Sample{}, fmt.Errorf("%w: ratio %g+/-%g", ErrMeasurementFailed, ratio, ratioErr)
	}
	return Sample{
		X: src.Center.X, Y: src.Center.Y,
		Flux1: f1, Flux2: f2,
		ApCorr: ratio, ApCorrErr: ratioErr,
	}, nil
}

// normalize maps pixel coordinates onto [-1, 1] across the exposure.
func (apc *ApertureCorrection) normalize(x, y float64) (float64, float64) {
	return 2*x/float64(apc.width) - 1, 2*y/float64(apc.height) - 1
}

// ComputeAt returns the correction and its uncertainty at pixel (x, y),
// evaluated at the configured order.
func (apc *ApertureCorrection) ComputeAt(x, y float64) (value, uncertainty float64, err error) {
	u, v := apc.normalize(x, y)
	value, err = apc.fit.ValueAtOrder(u, v, apc.ctrl.Order)
	if err != nil {
		return 0, 0, err
	}
	uncertainty, err = apc.fit.ErrorAtOrder(u, v, apc.ctrl.Order)
	if err != nil {
		return 0, 0, err
	}
	return value, uncertainty, nil
}

// Check reports the fit diagnostics; see polyfit.SurfaceFit.Check.
func (apc *ApertureCorrection) Check() error {
	return apc.fit.Check()
}

// Samples returns a copy of the per-star measurements.
func (apc *ApertureCorrection) Samples() []Sample { return append([]Sample(nil), apc.samples...) }

func (apc *ApertureCorrection) Fit() *polyfit.SurfaceFit { return apc.fit }

func (apc *ApertureCorrection) Ratings() []Rating { return append([]Rating(nil), apc.ratings...) }

func (apc *ApertureCorrection) Control() Control { return apc.ctrl }

// Size returns the exposure dimensions the correction was fitted over.
func (apc *ApertureCorrection) Size() (width, height int) { return apc.width, apc.height }

// Grid evaluates the correction at the centres of an n x n grid of equal
// tiles, indexed [row][col].
func (apc *ApertureCorrection) Grid(n int) ([][]float64, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: grid size %d", ErrInvalidControl, n)
	}
	grid := make([][]float64, n)
	for j := range grid {
		grid[j] = make([]float64, n)
		y := (float64(j) + 0.5) * float64(apc.height) / float64(n)
		for i := range grid[j] {
			x := (float64(i) + 0.5) * float64(apc.width) / float64(n)
			v, _, err := apc.ComputeAt(x, y)
			if err != nil {
				return nil, err
			}
			grid[j][i] = v
		}
	}
	return grid, nil
}
