package apcorr

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"
)

// Algorithm is a flux measurement method.
type Algorithm int

const (
	// Aperture sums pixels in a circle and subtracts the annulus background.
	Aperture Algorithm = iota
	// Gaussian integrates a fitted elliptical Gaussian PSF.
	Gaussian
)

func (a Algorithm) String() string {
	switch a {
	case Aperture:
		return "aperture"
	case Gaussian:
		return "gaussian"
	default:
		return "unknown"
	}
}

// ParseAlgorithm parses an algorithm name, ignoring case. "ap", "sinc" and
// "psf" are accepted as aliases.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "aperture", "ap", "sinc":
		return Aperture, nil
	case "gaussian", "psf":
		return Gaussian, nil
	}
	return Aperture, fmt.Errorf("%w: algorithm %q", ErrInvalidControl, name)
}

func (a *Algorithm) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return err
	}
	v, err := ParseAlgorithm(name)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*a = v
	return nil
}

func (a Algorithm) MarshalYAML() (interface{}, error) {
	return a.String(), nil
}

// psfGoodness is the minimum R² accepted from a Gaussian PSF fit.
const psfGoodness = 0.5

// minApertureSNR is the signal-to-noise below which an aperture flux is
// indistinguishable from sky.
const minApertureSNR = 1.0

// apertureSubsamples is the per-axis sampling of pixels cut by the aperture
// edge.
const apertureSubsamples = 5

// Measure measures the flux of src on exp with alg. For Aperture, radius is
// the aperture radius; for Gaussian it is the half-width of the fit window.
func Measure(exp *Exposure, src *Source, alg Algorithm, radius float64, ctrl Control) (FluxMeasurement, error) {
	gain := exp.Gain
	if ctrl.Gain > 0 {
		gain = ctrl.Gain
	}
	switch alg {
	case Aperture:
		return measureAperture(exp.Image, src.Center, radius, ctrl.AnnulusInner, ctrl.AnnulusOuter, gain)
	case Gaussian:
		return measureGaussian(exp.Image, src, radius, gain)
	}
	return FluxMeasurement{Flag: true}, fmt.Errorf("%w: algorithm %d", ErrInvalidControl, int(alg))
}

func measureAperture(img Mat, c Point2d, radius, inner, outer, gain float64) (FluxMeasurement, error) {
	reach := math.Max(radius, outer)
	if c.X-reach < 0 || c.Y-reach < 0 || c.X+reach > float64(img.Cols()-1) || c.Y+reach > float64(img.Rows()-1) {
		return FluxMeasurement{Flag: true}, fmt.Errorf("%w: aperture at (%.1f,%.1f) r=%.1f leaves the image",
			ErrMeasurementFailed, c.X, c.Y, reach)
	}

	width := img.Cols()
	data := img.DataFloat32()
	x0, x1 := int(math.Floor(c.X-reach)), int(math.Ceil(c.X+reach))
	y0, y1 := int(math.Floor(c.Y-reach)), int(math.Ceil(c.Y+reach))

	var sum, area float64
	annulus := make([]float64, 0, int(math.Pi*(outer*outer-inner*inner))+1)
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			v := float64(data[y*width+x])
			d := math.Hypot(float64(x)-c.X, float64(y)-c.Y)
			if d >= inner && d <= outer {
				annulus = append(annulus, v)
			}
			if f := pixelCoverage(float64(x)-c.X, float64(y)-c.Y, radius); f > 0 {
				sum += f * v
				area += f
			}
		}
	}
	if len(annulus) < 5 || area == 0 {
		return FluxMeasurement{Flag: true}, fmt.Errorf("%w: aperture at (%.1f,%.1f) has %d background pixels",
			ErrMeasurementFailed, c.X, c.Y, len(annulus))
	}

	_, sigma := stat.PopMeanStdDev(annulus, nil)
	sort.Float64s(annulus)
	background := stat.Quantile(0.5, stat.Empirical, annulus, nil)

	flux := sum - area*background
	if flux <= 0 {
		return FluxMeasurement{Flux: flux, Flag: true}, fmt.Errorf("%w: non-positive aperture flux %g at (%.1f,%.1f)",
			ErrMeasurementFailed, flux, c.X, c.Y)
	}
	variance := flux/gain + area*sigma*sigma + area*area*sigma*sigma/float64(len(annulus))
	fluxErr := math.Sqrt(variance)
	if flux < minApertureSNR*fluxErr {
		return FluxMeasurement{Flux: flux, FluxErr: fluxErr, Flag: true}, fmt.Errorf(
			"%w: aperture flux %g+/-%g at (%.1f,%.1f) is not significant", ErrMeasurementFailed, flux, fluxErr, c.X, c.Y)
	}
	return FluxMeasurement{Flux: flux, FluxErr: fluxErr}, nil
}

// pixelCoverage returns the fraction of the unit pixel centred at (dx, dy)
// that lies within radius of the origin.
func pixelCoverage(dx, dy, radius float64) float64 {
	near := math.Hypot(math.Max(math.Abs(dx)-0.5, 0), math.Max(math.Abs(dy)-0.5, 0))
	if near >= radius {
		return 0
	}
	far := math.Hypot(math.Abs(dx)+0.5, math.Abs(dy)+0.5)
	if far <= radius {
		return 1
	}

	const step = 1.0 / apertureSubsamples
	inside := 0
	for i := 0; i < apertureSubsamples; i++ {
		sx := dx - 0.5 + (float64(i)+0.5)*step
		for j := 0; j < apertureSubsamples; j++ {
			sy := dy - 0.5 + (float64(j)+0.5)*step
			if sx*sx+sy*sy <= radius*radius {
				inside++
			}
		}
	}
	return float64(inside) / (apertureSubsamples * apertureSubsamples)
}

func measureGaussian(img Mat, src *Source, halfWidth, gain float64) (FluxMeasurement, error) {
	model, err := FitGaussianPSF(img, src, halfWidth, psfGoodness)
	if err != nil {
		return FluxMeasurement{Flag: true}, err
	}
	flux := model.Flux()
	if !(flux > 0) {
		return FluxMeasurement{Flux: flux, Flag: true}, fmt.Errorf("%w: non-positive psf flux %g", ErrMeasurementFailed, flux)
	}
	variance := flux/gain + model.EffectiveArea()*model.RMS*model.RMS
	return FluxMeasurement{Flux: flux, FluxErr: math.Sqrt(variance)}, nil
}

// MeasurePSF fills src.PsfFlux from a Gaussian fit with the given window
// half-width. Failed fits set the flag.
func MeasurePSF(exp *Exposure, src *Source, halfWidth float64) {
	m, err := measureGaussian(exp.Image, src, halfWidth, exp.Gain)
	if err != nil {
		m.Flag = true
	}
	src.PsfFlux = m
}
