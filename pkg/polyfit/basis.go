// Package polyfit fits weighted 2D polynomial surfaces in a standard or
// Chebyshev basis and evaluates them, optionally truncated to a lower order.
package polyfit

import (
	"fmt"
	"strings"
)

// PolyStyle selects the 1D polynomial family used to build a basis.
type PolyStyle int

const (
	Standard PolyStyle = iota
	Chebyshev
)

func (s PolyStyle) String() string {
	switch s {
	case Standard:
		return "standard"
	case Chebyshev:
		return "chebyshev"
	default:
		return "unknown"
	}
}

func (s PolyStyle) valid() bool {
	return s == Standard || s == Chebyshev
}

// ParsePolyStyle parses a style name, ignoring case. "cheby" is accepted as
// shorthand for "chebyshev".
func ParsePolyStyle(name string) (PolyStyle, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "standard":
		return Standard, nil
	case "cheby", "chebyshev":
		return Chebyshev, nil
	}
	return Standard, fmt.Errorf("%w: %q", ErrUnknownPolyStyle, name)
}

func (s PolyStyle) MarshalText() ([]byte, error) {
	if !s.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPolyStyle, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText parses text with ParsePolyStyle.
func (s *PolyStyle) UnmarshalText(text []byte) error {
	v, err := ParsePolyStyle(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Basis generates the first Order()+1 terms of a 1D polynomial expansion.
type Basis struct {
	order int
	style PolyStyle
}

// NewBasis returns a basis of the given order and style.
func NewBasis(order int, style PolyStyle) (Basis, error) {
	if order < 0 {
		return Basis{}, fmt.Errorf("%w: order %d < 0", ErrInvalidOrder, order)
	}
	if !style.valid() {
		return Basis{}, fmt.Errorf("%w: %d", ErrUnknownPolyStyle, int(style))
	}
	return Basis{order: order, style: style}, nil
}

func (b Basis) Order() int       { return b.order }
func (b Basis) Style() PolyStyle { return b.style }

// Terms returns Order()+1 term vectors, each aligned with x.
func (b Basis) Terms(x []float64) [][]float64 {
	n := len(x)
	backing := make([]float64, (b.order+1)*n)
	terms := make([][]float64, b.order+1)
	for i := range terms {
		terms[i] = backing[i*n : (i+1)*n : (i+1)*n]
	}

	for k := range terms[0] {
		terms[0][k] = 1
	}
	if b.order == 0 {
		return terms
	}
	copy(terms[1], x)

	for i := 2; i <= b.order; i++ {
		prev, prev2, cur := terms[i-1], terms[i-2], terms[i]
		if b.style == Chebyshev {
			for k, xv := range x {
				cur[k] = 2*xv*prev[k] - prev2[k]
			}
		} else {
			for k, xv := range x {
				cur[k] = xv * prev[k]
			}
		}
	}
	return terms
}

// TermsAt is the scalar form of Terms.
func (b Basis) TermsAt(x float64) []float64 {
	terms := make([]float64, b.order+1)
	terms[0] = 1
	if b.order == 0 {
		return terms
	}
	terms[1] = x
	for i := 2; i <= b.order; i++ {
		if b.style == Chebyshev {
			terms[i] = 2*x*terms[i-1] - terms[i-2]
		} else {
			terms[i] = x * terms[i-1]
		}
	}
	return terms
}
