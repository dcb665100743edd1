/*
Extracted from HocusFocus plugin by George Hilios.
Original Copyright © 2021 George Hilios <ghilios+NINA@googlemail.com>
Licensed under Mozilla Public License 2.0.
Ported to Go.
*/

package apcorr

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var sigmaToFWHM = 2.0 * math.Sqrt(2.0*math.Log(2.0))

// Parameter layout of the elliptical Gaussian model.
const (
	psfAmplitude = iota
	psfBackground
	psfX0
	psfY0
	psfSigmaX
	psfSigmaY
	psfTheta
	psfNumParams
)

// PSFModel is a fitted elliptical Gaussian. Offsets are relative to the
// source centroid; SigmaX is always the major axis.
type PSFModel struct {
	Amplitude  float64
	Background float64
	OffsetX    float64
	OffsetY    float64
	SigmaX     float64
	SigmaY     float64
	FWHMX      float64
	FWHMY      float64
	Theta      float64
	RSquared   float64
	// RMS is the root mean square of the fit residuals.
	RMS     float64
	Samples int
}

// Flux is the integral of the Gaussian above the background.
func (m *PSFModel) Flux() float64 {
	return 2 * math.Pi * m.Amplitude * m.SigmaX * m.SigmaY
}

// EffectiveArea is the noise-equivalent area of the Gaussian profile.
func (m *PSFModel) EffectiveArea() float64 {
	return 4 * math.Pi * m.SigmaX * m.SigmaY
}

// FitGaussianPSF fits an elliptical Gaussian to the pixels within halfWidth
// of the source centroid. The fit is rejected when the window leaves the
// image or the coefficient of determination is below goodness.
func FitGaussianPSF(img Mat, src *Source, halfWidth, goodness float64) (*PSFModel, error) {
	cx, cy := src.Center.X, src.Center.Y
	x0, x1 := int(math.Floor(cx-halfWidth)), int(math.Ceil(cx+halfWidth))
	y0, y1 := int(math.Floor(cy-halfWidth)), int(math.Ceil(cy+halfWidth))
	if x0 < 0 || y0 < 0 || x1 >= img.Cols() || y1 >= img.Rows() {
		return nil, fmt.Errorf("%w: psf window at (%.1f,%.1f) leaves the image", ErrMeasurementFailed, cx, cy)
	}

	width := img.Cols()
	data := img.DataFloat32()
	prob := &psfProblem{}
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			prob.inputs = append(prob.inputs, [2]float64{float64(x) - cx, float64(y) - cy})
			prob.outputs = append(prob.outputs, float64(data[y*width+x]))
		}
	}
	if len(prob.outputs) <= psfNumParams {
		return nil, fmt.Errorf("%w: psf window has %d pixels", ErrMeasurementFailed, len(prob.outputs))
	}

	boxW, boxH := float64(x1-x0+1), float64(y1-y0+1)
	sigmaUpper := math.Hypot(boxW, boxH) / 2
	peak := math.Max(0, BilinearSample(img, cx, cy)-src.Background)
	dxLimit, dyLimit := boxW/8, boxH/8

	start := []float64{peak, src.Background, 0, 0, boxW / 6, boxH / 6, 0}
	lower := []float64{0, -1, -dxLimit, -dyLimit, 0.1, 0.1, -math.Pi / 2}
	upper := []float64{2, 1, dxLimit, dyLimit, sigmaUpper, sigmaUpper, math.Pi / 2}
	scale := []float64{0.01, 0.01, 0.1, 0.1, 1, 1, 1}

	p := levenbergMarquardt(prob, start, lower, upper, scale, 1e-8, 200)

	sigX, sigY := p[psfSigmaX], p[psfSigmaY]
	if math.IsNaN(sigX) || math.IsNaN(sigY) {
		return nil, fmt.Errorf("%w: psf fit diverged", ErrMeasurementFailed)
	}
	theta := euclidianModulus(p[psfTheta], math.Pi)
	if theta > math.Pi/2 {
		theta -= math.Pi
	}
	theta = -theta
	if sigY > sigX {
		if theta < 0 {
			theta += math.Pi / 2
		} else {
			theta -= math.Pi / 2
		}
		sigX, sigY = sigY, sigX
	}

	rSquared, rms := prob.goodness(p)
	if rSquared < goodness {
		return nil, fmt.Errorf("%w: psf fit R²=%.3f below %.3f", ErrMeasurementFailed, rSquared, goodness)
	}

	return &PSFModel{
		Amplitude:  p[psfAmplitude],
		Background: p[psfBackground],
		OffsetX:    p[psfX0],
		OffsetY:    p[psfY0],
		SigmaX:     sigX,
		SigmaY:     sigY,
		FWHMX:      sigX * sigmaToFWHM,
		FWHMY:      sigY * sigmaToFWHM,
		Theta:      theta,
		RSquared:   rSquared,
		RMS:        rms,
		Samples:    len(prob.outputs),
	}, nil
}

func euclidianModulus(x, y float64) float64 {
	return math.Mod(math.Mod(x, y)+y, y)
}

type psfProblem struct {
	inputs  [][2]float64
	outputs []float64
}

func gaussianValue(p []float64, in [2]float64) float64 {
	cosT, sinT := math.Cos(p[psfTheta]), math.Sin(p[psfTheta])
	dx, dy := in[0]-p[psfX0], in[1]-p[psfY0]
	u := dx*cosT + dy*sinT
	v := -dx*sinT + dy*cosT
	su, sv := p[psfSigmaX], p[psfSigmaY]
	return p[psfBackground] + p[psfAmplitude]*math.Exp(-(u*u/(2*su*su)+v*v/(2*sv*sv)))
}

func gaussianGradient(p []float64, in [2]float64, grad []float64) {
	a := p[psfAmplitude]
	cosT, sinT := math.Cos(p[psfTheta]), math.Sin(p[psfTheta])
	dx, dy := in[0]-p[psfX0], in[1]-p[psfY0]
	u := dx*cosT + dy*sinT
	v := -dx*sinT + dy*cosT
	su2 := p[psfSigmaX] * p[psfSigmaX]
	sv2 := p[psfSigmaY] * p[psfSigmaY]
	e := math.Exp(-(u*u/(2*su2) + v*v/(2*sv2)))

	grad[psfAmplitude] = e
	grad[psfBackground] = 1
	grad[psfX0] = a * (cosT*u/su2 - sinT*v/sv2) * e
	grad[psfY0] = a * (sinT*u/su2 + cosT*v/sv2) * e
	grad[psfSigmaX] = a * u * u / (su2 * p[psfSigmaX]) * e
	grad[psfSigmaY] = a * v * v / (sv2 * p[psfSigmaY]) * e
	grad[psfTheta] = a * u * v * (1/sv2 - 1/su2) * e
}

// residuals fills fi with model minus data and returns the sum of squares.
func (pr *psfProblem) residuals(p, fi []float64) float64 {
	for k, in := range pr.inputs {
		fi[k] = gaussianValue(p, in) - pr.outputs[k]
	}
	return floats.Dot(fi, fi)
}

func (pr *psfProblem) jacobian(p []float64, jac *mat.Dense) {
	grad := make([]float64, psfNumParams)
	for k, in := range pr.inputs {
		gaussianGradient(p, in, grad)
		jac.SetRow(k, grad)
	}
}

func (pr *psfProblem) goodness(p []float64) (rSquared, rms float64) {
	fi := make([]float64, len(pr.outputs))
	rss := pr.residuals(p, fi)
	mean := floats.Sum(pr.outputs) / float64(len(pr.outputs))
	var tss float64
	for _, o := range pr.outputs {
		tss += (o - mean) * (o - mean)
	}
	rms = math.Sqrt(rss / float64(len(pr.outputs)))
	if tss > 0 {
		return 1 - rss/tss, rms
	}
	return 0, rms
}

// levenbergMarquardt minimizes the squared residuals of pr with box
// constraints applied by clamping each step.
func levenbergMarquardt(pr *psfProblem, start, lower, upper, scale []float64, tolerance float64, maxIter int) []float64 {
	n, m := len(start), len(pr.outputs)

	x := make([]float64, n)
	for j := range start {
		x[j] = clampFloat64(start[j], lower[j], upper[j])
	}
	fi := make([]float64, m)
	cost := pr.residuals(x, fi)
	jac := mat.NewDense(m, n, nil)
	pr.jacobian(x, jac)

	xNew := make([]float64, n)
	fiNew := make([]float64, m)
	lambda, nu := 1e-3, 2.0

	var (
		jtj  mat.SymDense
		jtf  mat.VecDense
		dx   mat.VecDense
		chol mat.Cholesky
	)
	damped := mat.NewSymDense(n, nil)
	for iter := 0; iter < maxIter; iter++ {
		jtj.Reset()
		jtj.SymOuterK(1, jac.T())
		jtf.MulVec(jac.T(), mat.NewVecDense(m, fi))
		if mat.Norm(&jtf, 2) < tolerance*cost {
			break
		}
		jtf.ScaleVec(-1, &jtf)

		for tries := 0; tries < 20; tries++ {
			damped.CopySym(&jtj)
			for i := 0; i < n; i++ {
				damped.SetSym(i, i, jtj.At(i, i)+lambda*scale[i]*scale[i])
			}
			if ok := chol.Factorize(damped); !ok {
				lambda *= nu
				continue
			}
			if err := chol.SolveVecTo(&dx, &jtf); err != nil {
				lambda *= nu
				continue
			}

			for j := 0; j < n; j++ {
				xNew[j] = clampFloat64(x[j]+dx.AtVec(j), lower[j], upper[j])
			}
			costNew := pr.residuals(xNew, fiNew)
			if costNew < cost {
				improvement := (cost - costNew) / cost
				copy(x, xNew)
				copy(fi, fiNew)
				cost = costNew
				lambda = math.Max(lambda/3, 1e-15)
				nu = 2
				pr.jacobian(x, jac)
				if improvement < tolerance {
					return x
				}
				break
			}
			lambda *= nu
			nu *= 2
			if lambda > 1e16 {
				return x
			}
		}
	}
	return x
}
