package apcorr

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"apcorr/pkg/polyfit"
)

// MaxOrder is the highest correction polynomial order accepted by Validate.
const MaxOrder = 6

// Control holds the aperture correction settings.
type Control struct {
	Algorithm1 Algorithm `yaml:"algorithm1"`
	Algorithm2 Algorithm `yaml:"algorithm2"`
	// Radius1 and Radius2 are the aperture radius for Aperture and the fit
	// window half-width for Gaussian, in pixels.
	Radius1   float64           `yaml:"radius1"`
	Radius2   float64           `yaml:"radius2"`
	PolyStyle polyfit.PolyStyle `yaml:"polyStyle"`
	Order     int               `yaml:"order"`

	AnnulusInner float64 `yaml:"annulusInner"`
	AnnulusOuter float64 `yaml:"annulusOuter"`
	// Gain overrides the exposure gain when positive.
	Gain float64 `yaml:"gain"`
}

// DefaultControl returns a PSF-to-aperture correction with a linear
// standard polynomial.
func DefaultControl() Control {
	return Control{
		Algorithm1:   Gaussian,
		Algorithm2:   Aperture,
		Radius1:      8.0,
		Radius2:      7.0,
		PolyStyle:    polyfit.Standard,
		Order:        1,
		AnnulusInner: 10.0,
		AnnulusOuter: 15.0,
	}
}

// Validate reports every invalid setting, each wrapping ErrInvalidControl.
func (c Control) Validate() error {
	var errs []error
	for i, alg := range []Algorithm{c.Algorithm1, c.Algorithm2} {
		if alg != Aperture && alg != Gaussian {
			errs = append(errs, fmt.Errorf("%w: algorithm%d %d", ErrInvalidControl, i+1, int(alg)))
		}
	}
	for i, r := range []float64{c.Radius1, c.Radius2} {
		if !(r > 0) {
			errs = append(errs, fmt.Errorf("%w: radius%d %g must be > 0", ErrInvalidControl, i+1, r))
		}
	}
	if c.PolyStyle != polyfit.Standard && c.PolyStyle != polyfit.Chebyshev {
		errs = append(errs, fmt.Errorf("%w: polyStyle %d", ErrInvalidControl, int(c.PolyStyle)))
	}
	if c.Order < 0 || c.Order > MaxOrder {
		errs = append(errs, fmt.Errorf("%w: order %d outside [0, %d]", ErrInvalidControl, c.Order, MaxOrder))
	}
	if !(c.AnnulusInner > 0) || !(c.AnnulusOuter > c.AnnulusInner) {
		errs = append(errs, fmt.Errorf("%w: annulus [%g, %g]", ErrInvalidControl, c.AnnulusInner, c.AnnulusOuter))
	}
	if c.Gain < 0 {
		errs = append(errs, fmt.Errorf("%w: gain %g < 0", ErrInvalidControl, c.Gain))
	}
	return errors.Join(errs...)
}

// FitOrder is the order the surface is fitted at. Chebyshev fits are one
// order higher and truncated to Order on evaluation.
func (c Control) FitOrder() int {
	if c.PolyStyle == polyfit.Chebyshev {
		return c.Order + 1
	}
	return c.Order
}

// ParseControl decodes YAML over DefaultControl. Unknown keys are rejected.
func ParseControl(data []byte) (Control, error) {
	ctrl := DefaultControl()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&ctrl); err != nil && !errors.Is(err, io.EOF) {
		return Control{}, fmt.Errorf("parsing control: %w", err)
	}
	if err := ctrl.Validate(); err != nil {
		return Control{}, err
	}
	return ctrl, nil
}

// LoadControl reads a YAML control file.
func LoadControl(path string) (Control, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Control{}, fmt.Errorf("reading control: %w", err)
	}
	return ParseControl(data)
}
