package polyfit

import "errors"

// Sentinel errors returned by this package. Match them with errors.Is; they
// are usually wrapped with the offending values.
var (
	// ErrInvalidInput is returned for mismatched sample lengths, empty input,
	// non-finite values or non-positive weights.
	ErrInvalidInput = errors.New("polyfit: invalid input")

	// ErrInvalidOrder is returned for a negative polynomial order or an error
	// order above the fit order.
	ErrInvalidOrder = errors.New("polyfit: invalid order")

	// ErrUnknownPolyStyle is returned when a polynomial style cannot be parsed.
	ErrUnknownPolyStyle = errors.New("polyfit: unknown polynomial style")

	// ErrInvalidTruncationOrder is returned when evaluation asks for more
	// terms than the fit was built with.
	ErrInvalidTruncationOrder = errors.New("polyfit: truncation order exceeds fit order")

	// ErrUnderdetermined reports a fit with fewer independent samples than
	// basis terms. The coefficients are the minimum-norm solution.
	ErrUnderdetermined = errors.New("polyfit: underdetermined fit")

	// ErrNearSingular reports a smallest singular value below the
	// conditioning threshold. The fit is still usable.
	ErrNearSingular = errors.New("polyfit: near-singular fit")

	// ErrSolveFailed is returned when the SVD does not converge.
	ErrSolveFailed = errors.New("polyfit: least-squares solve failed")
)
