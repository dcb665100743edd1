package apcorr

import (
	"fmt"
	"image"
	"math"
	"strings"
)

// Point2d represents a 2D point with float64 coordinates.
type Point2d struct {
	X, Y float64
}

// FluxType selects which flux slot of a Source a consumer reads.
type FluxType int

const (
	FluxAp FluxType = iota
	FluxPsf
)

func (t FluxType) String() string {
	switch t {
	case FluxAp:
		return "Ap"
	case FluxPsf:
		return "Psf"
	default:
		return "Unknown"
	}
}

// ParseFluxType accepts "Ap" or "Psf", ignoring case.
func ParseFluxType(s string) (FluxType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ap":
		return FluxAp, nil
	case "psf":
		return FluxPsf, nil
	}
	return FluxAp, fmt.Errorf("%w: flux type %q", ErrInvalidControl, s)
}

// FluxMeasurement is one photometric measurement with its 1-sigma error.
// Flag is set when the measurement failed or is unreliable.
type FluxMeasurement struct {
	Flux    float64
	FluxErr float64
	Flag    bool
}

// SNR returns Flux/FluxErr, or NaN when the error is not positive.
func (f FluxMeasurement) SNR() float64 {
	if f.FluxErr <= 0 {
		return math.NaN()
	}
	return f.Flux / f.FluxErr
}

// Source is a detected object with its centroid and photometry.
type Source struct {
	ID int
	// Parent is the ID of the blend this source was split from, 0 if none.
	Parent       int
	Center       Point2d
	CentroidFlag bool
	BoundingBox  image.Rectangle
	Background   float64
	Peak         float64
	HFR          float64
	ApFlux       FluxMeasurement
	PsfFlux      FluxMeasurement
}

// Flux returns the measurement stored in the slot for t.
func (s *Source) Flux(t FluxType) FluxMeasurement {
	if t == FluxPsf {
		return s.PsfFlux
	}
	return s.ApFlux
}

func (s *Source) String() string {
	return fmt.Sprintf("{ID=%d, Center=(%.2f,%.2f), BBox=%v, Background=%f, Peak=%f, ApFlux=%g+/-%g, HFR=%.2f}",
		s.ID, s.Center.X, s.Center.Y, s.BoundingBox, s.Background, s.Peak, s.ApFlux.Flux, s.ApFlux.FluxErr, s.HFR)
}

// Exposure is an image together with the calibration needed for photometric
// errors. Pixel values are normalized to [0, 1].
type Exposure struct {
	Image Mat
	// Gain converts normalized pixel units to detected electrons.
	Gain     float64
	Metadata *FitsMetadata
}

// NewExposure wraps img. gain is in electrons per normalized unit; non-positive
// values fall back to 1.
func NewExposure(img Mat, gain float64) *Exposure {
	if gain <= 0 {
		gain = 1
	}
	return &Exposure{Image: img, Gain: gain, Metadata: NewFitsMetadata()}
}

// ExposureFromFits builds an exposure from a decoded FITS image. The gain is
// taken from the header (electrons per ADU) and scaled to normalized units.
func ExposureFromFits(data *FitsImageData, debayer bool) *Exposure {
	var img Mat
	if debayer {
		img = DebayerToMat(data.Pixels, data.BitDepth, data.Width, data.Height)
	} else {
		img = ToFloat32Mat(data.Pixels, data.BitDepth, data.Width, data.Height)
	}
	gainADU, ok := data.Metadata.Gain()
	if !ok {
		gainADU = 1
	}
	exp := NewExposure(img, gainADU*fullScale(data.BitDepth))
	exp.Metadata = data.Metadata
	return exp
}

// ExposureFromImage wraps an image read with ReadImage. Without a header the
// gain is taken as one electron per ADU of the given bit depth.
func ExposureFromImage(img Mat, bitDepth int) *Exposure {
	return NewExposure(img, fullScale(bitDepth))
}

// fullScale is the number of ADU in one normalized unit.
func fullScale(bitDepth int) float64 {
	if bitDepth <= 0 {
		return 1
	}
	return float64(uint64(1) << uint(bitDepth))
}

func (e *Exposure) Width() int  { return e.Image.Cols() }
func (e *Exposure) Height() int { return e.Image.Rows() }
