package polyfit

import (
	"fmt"
	"math"
)

// Option configures NewSurfaceFit.
type Option func(*fitConfig)

type fitConfig struct {
	errOrder int
}

// WithErrorOrder sets the total order of the error surface. The default is 0,
// a constant error over the field.
func WithErrorOrder(order int) Option {
	return func(c *fitConfig) { c.errOrder = order }
}

// SurfaceFit is a weighted 2D polynomial fit of a value surface together with
// a fit of its squared residuals. It is immutable; refitting means building a
// new one.
type SurfaceFit struct {
	basis Basis
	value *Solution
	err   *Solution
}

// NewSurfaceFit fits z(x, y) with weights w using the cross terms of basis up
// to basis.Order(), then fits the squared residuals with weights w².
//
// Only invalid input is returned as an error. Underdetermined or
// near-singular fits are built anyway and reported by Check.
func NewSurfaceFit(x, y, z, w []float64, basis Basis, opts ...Option) (*SurfaceFit, error) {
	var cfg fitConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := validateSamples(x, y, z, w); err != nil {
		return nil, err
	}
	if !basis.style.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPolyStyle, int(basis.style))
	}
	if basis.order < 0 {
		return nil, fmt.Errorf("%w: order %d < 0", ErrInvalidOrder, basis.order)
	}
	if cfg.errOrder < 0 || cfg.errOrder > basis.order {
		return nil, fmt.Errorf("%w: error order %d outside [0, %d]", ErrInvalidOrder, cfg.errOrder, basis.order)
	}

	xTerms, yTerms := basis.Terms(x), basis.Terms(y)

	value, err := solve(xTerms, yTerms, z, w, basis.order)
	if err != nil {
		return nil, fmt.Errorf("value surface: %w", err)
	}

	fitted := make([]float64, len(z))
	value.evalInto(fitted, xTerms, yTerms, basis.order)
	dz2 := make([]float64, len(z))
	w2 := make([]float64, len(w))
	for i := range z {
		dz := z[i] - fitted[i]
		dz2[i] = dz * dz
		w2[i] = w[i] * w[i]
	}

	errSol, err := solve(xTerms, yTerms, dz2, w2, cfg.errOrder)
	if err != nil {
		return nil, fmt.Errorf("error surface: %w", err)
	}

	return &SurfaceFit{basis: basis, value: value, err: errSol}, nil
}

func validateSamples(x, y, z, w []float64) error {
	n := len(x)
	if n == 0 {
		return fmt.Errorf("%w: no samples", ErrInvalidInput)
	}
	if len(y) != n || len(z) != n || len(w) != n {
		return fmt.Errorf("%w: lengths x=%d y=%d z=%d w=%d", ErrInvalidInput, len(x), len(y), len(z), len(w))
	}
	for i := 0; i < n; i++ {
		if !isFinite(x[i]) || !isFinite(y[i]) || !isFinite(z[i]) || !isFinite(w[i]) {
			return fmt.Errorf("%w: non-finite value at sample %d", ErrInvalidInput, i)
		}
		if w[i] <= 0 {
			return fmt.Errorf("%w: weight %g at sample %d is not positive", ErrInvalidInput, w[i], i)
		}
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (f *SurfaceFit) Basis() Basis { return f.basis }

// Order is the total order of the value surface.
func (f *SurfaceFit) Order() int { return f.basis.order }

// ErrorOrder is the total order of the error surface.
func (f *SurfaceFit) ErrorOrder() int { return f.err.order }

func (f *SurfaceFit) ValueSolution() *Solution { return f.value }
func (f *SurfaceFit) ErrorSolution() *Solution { return f.err }

// Check reports the diagnostics of the value surface and then of the error
// surface. It returns nil for a well-posed, well-conditioned fit.
func (f *SurfaceFit) Check() error {
	valueErr := f.value.Check()
	errErr := f.err.Check()
	switch {
	case valueErr != nil && errErr != nil:
		return fmt.Errorf("%w; error surface: %w", valueErr, errErr)
	case valueErr != nil:
		return valueErr
	case errErr != nil:
		return fmt.Errorf("error surface: %w", errErr)
	}
	return nil
}

func (f *SurfaceFit) checkTrunc(trunc int) error {
	if trunc < 0 || trunc > f.basis.order {
		return fmt.Errorf("%w: %d not in [0, %d]", ErrInvalidTruncationOrder, trunc, f.basis.order)
	}
	return nil
}

// ValueAt evaluates the value surface at full order.
func (f *SurfaceFit) ValueAt(x, y float64) float64 {
	return f.value.evalAt(f.basis.TermsAt(x), f.basis.TermsAt(y), f.basis.order)
}

// ValueAtOrder evaluates the value surface using only the terms of total
// degree <= trunc.
func (f *SurfaceFit) ValueAtOrder(x, y float64, trunc int) (float64, error) {
	if err := f.checkTrunc(trunc); err != nil {
		return 0, err
	}
	return f.value.evalAt(f.basis.TermsAt(x), f.basis.TermsAt(y), trunc), nil
}

// ValuesAt is the elementwise form of ValueAtOrder.
func (f *SurfaceFit) ValuesAt(x, y []float64, trunc int) ([]float64, error) {
	if err := f.checkTrunc(trunc); err != nil {
		return nil, err
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("%w: lengths x=%d y=%d", ErrInvalidInput, len(x), len(y))
	}
	out := make([]float64, len(x))
	f.value.evalInto(out, f.basis.Terms(x), f.basis.Terms(y), trunc)
	return out, nil
}

// ErrorAt evaluates the error surface at its own order and returns a
// standard deviation.
func (f *SurfaceFit) ErrorAt(x, y float64) float64 {
	return sqrtClamped(f.err.evalAt(f.basis.TermsAt(x), f.basis.TermsAt(y), f.err.order))
}

// ErrorAtOrder evaluates the error surface using the terms of total degree
// <= trunc. trunc is bounded by the value-surface order; error terms above
// trunc are dropped. A negative variance is clamped to zero.
func (f *SurfaceFit) ErrorAtOrder(x, y float64, trunc int) (float64, error) {
	if err := f.checkTrunc(trunc); err != nil {
		return 0, err
	}
	return sqrtClamped(f.err.evalAt(f.basis.TermsAt(x), f.basis.TermsAt(y), trunc)), nil
}

// ErrorsAt is the elementwise form of ErrorAtOrder.
func (f *SurfaceFit) ErrorsAt(x, y []float64, trunc int) ([]float64, error) {
	if err := f.checkTrunc(trunc); err != nil {
		return nil, err
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("%w: lengths x=%d y=%d", ErrInvalidInput, len(x), len(y))
	}
	out := make([]float64, len(x))
	f.err.evalInto(out, f.basis.Terms(x), f.basis.Terms(y), trunc)
	for i, v := range out {
		out[i] = sqrtClamped(v)
	}
	return out, nil
}

func sqrtClamped(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}
