package polyfit

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// machineEpsilon is the float64 unit roundoff. It scales both the rank
// cutoff and the near-singular threshold.
const machineEpsilon = 2.220446049250313e-16

// Solution holds the coefficients and diagnostics of one weighted
// least-squares fit over the cross terms of a given total order.
type Solution struct {
	order    int
	pairs    []OrderPair
	coeff    []float64
	residual float64
	hasResid bool
	rank     int
	singular []float64
	samples  int
}

func (s *Solution) Order() int { return s.order }

// Pairs returns the order pairs indexing Coeff.
func (s *Solution) Pairs() []OrderPair { return append([]OrderPair(nil), s.pairs...) }

func (s *Solution) Coeff() []float64 { return append([]float64(nil), s.coeff...) }

// Residual returns the weighted residual sum of squares. ok is false when the
// fit is underdetermined and no residual is defined.
func (s *Solution) Residual() (rss float64, ok bool) { return s.residual, s.hasResid }

func (s *Solution) Rank() int { return s.rank }

// SingularValues returns the singular values of the design matrix in
// descending order.
func (s *Solution) SingularValues() []float64 { return append([]float64(nil), s.singular...) }

func (s *Solution) Samples() int { return s.samples }

// Underdetermined reports whether the fit had fewer independent samples than
// basis terms.
func (s *Solution) Underdetermined() bool { return !s.hasResid }

// SingularThreshold is 0.5*sqrt(terms+samples+1)*sv[0]*eps.
func (s *Solution) SingularThreshold() float64 {
	if len(s.singular) == 0 {
		return 0
	}
	return 0.5 * math.Sqrt(float64(len(s.coeff)+s.samples+1)) * s.singular[0] * machineEpsilon
}

// NearSingular reports whether the smallest singular value is below
// SingularThreshold.
func (s *Solution) NearSingular() bool {
	if len(s.singular) == 0 {
		return false
	}
	return s.singular[len(s.singular)-1] < s.SingularThreshold()
}

// Check returns ErrUnderdetermined and/or ErrNearSingular, or nil.
func (s *Solution) Check() error {
	var errs []error
	if s.Underdetermined() {
		errs = append(errs, fmt.Errorf("%w: %d samples for %d terms (rank %d)",
			ErrUnderdetermined, s.samples, len(s.coeff), s.rank))
	}
	if s.NearSingular() {
		errs = append(errs, fmt.Errorf("%w: singular value %.14g below threshold %.14g",
			ErrNearSingular, s.singular[len(s.singular)-1], s.SingularThreshold()))
	}
	return errors.Join(errs...)
}

// evalInto writes the truncated surface at every sample into dst. The
// term slices must come from a basis of at least s.order.
func (s *Solution) evalInto(dst []float64, xTerms, yTerms [][]float64, trunc int) {
	for i := range dst {
		dst[i] = 0
	}
	for k, p := range s.pairs {
		if p.Total() > trunc {
			break
		}
		c, xt, yt := s.coeff[k], xTerms[p.X], yTerms[p.Y]
		for i := range dst {
			dst[i] += c * xt[i] * yt[i]
		}
	}
}

func (s *Solution) evalAt(xt, yt []float64, trunc int) float64 {
	var sum float64
	for k, p := range s.pairs {
		if p.Total() > trunc {
			break
		}
		sum += s.coeff[k] * xt[p.X] * yt[p.Y]
	}
	return sum
}

// solve fits z with weights w over the cross terms of total order `order`.
// The design column for pair (i,j) is w*xTerms[i]*yTerms[j] and the target is
// w*z; the minimum-norm solution comes from a thin SVD truncated at the
// numerical rank.
func solve(xTerms, yTerms [][]float64, z, w []float64, order int) (*Solution, error) {
	pairs := OrderPairs(order)
	m, n := len(z), len(pairs)

	design := mat.NewDense(m, n, nil)
	for k, p := range pairs {
		xt, yt := xTerms[p.X], yTerms[p.Y]
		for i := 0; i < m; i++ {
			design.Set(i, k, w[i]*xt[i]*yt[i])
		}
	}
	target := make([]float64, m)
	floats.MulTo(target, w, z)

	var svd mat.SVD
	if !svd.Factorize(design, mat.SVDThin) {
		return nil, fmt.Errorf("%w: SVD of %dx%d design matrix", ErrSolveFailed, m, n)
	}
	singular := svd.Values(nil)
	rank := svd.Rank(machineEpsilon * float64(max(m, n)))

	coeff := make([]float64, n)
	if rank > 0 {
		var x mat.VecDense
		svd.SolveVecTo(&x, mat.NewVecDense(m, target), rank)
		for k := range coeff {
			coeff[k] = x.AtVec(k)
		}
	}

	sol := &Solution{
		order:    order,
		pairs:    pairs,
		coeff:    coeff,
		rank:     rank,
		singular: singular,
		samples:  m,
	}
	if rank == n && m > n {
		var fitted mat.VecDense
		fitted.MulVec(design, mat.NewVecDense(n, coeff))
		resid := make([]float64, m)
		floats.SubTo(resid, target, fitted.RawVector().Data)
		sol.residual = floats.Dot(resid, resid)
		sol.hasResid = true
	}
	return sol, nil
}
