package apcorr

import "errors"

var (
	// ErrInvalidControl is returned for out-of-range or unknown settings.
	ErrInvalidControl = errors.New("apcorr: invalid control")

	// ErrMeasurementFailed is returned when a source cannot be measured with
	// the requested algorithm.
	ErrMeasurementFailed = errors.New("apcorr: measurement failed")

	// ErrNoSamples is returned when no candidate yields a usable aperture
	// correction sample.
	ErrNoSamples = errors.New("apcorr: no usable aperture correction samples")
)
