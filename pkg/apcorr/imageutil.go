/*
Extracted from HocusFocus plugin by George Hilios.
Original Copyright © 2021 George Hilios <ghilios+NINA@googlemail.com>
Licensed under Mozilla Public License 2.0.
Ported to Go.
*/

package apcorr

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// NoiseEstimate is the result of iterative kappa-sigma background clipping.
type NoiseEstimate struct {
	Sigma          float64
	BackgroundMean float64
	NumIterations  int
}

// ToFloat32Mat converts unsigned pixels of the given bit depth to a Mat
// normalized to [0, 1].
func ToFloat32Mat(pixels []uint16, bpp, width, height int) Mat {
	m := NewMatWithSize(height, width)
	dest := m.DataFloat32()
	scale := float32(uint32(1) << uint(bpp))
	for i := 0; i < width*height; i++ {
		dest[i] = float32(pixels[i]) / scale
	}
	return m
}

// ConvolveGaussian applies a separable Gaussian blur of the given odd kernel
// size.
func ConvolveGaussian(src, dst *Mat, kernelSize int) {
	if kernelSize < 3 || kernelSize%2 == 0 {
		panic("kernelSize must be a positive odd number >= 3")
	}
	kernel := gaussianKernel(kernelSize, 0.159758*float64(kernelSize))
	defer kernel.Close()
	separableFilter(*src, dst, kernel, kernel)
}

// BilinearSample interpolates the pixel value at sub-pixel position (x, y).
// Positions are clamped to the image.
func BilinearSample(img Mat, x, y float64) float64 {
	rows, cols := img.Rows(), img.Cols()
	x = clampFloat64(x, 0, float64(cols-1))
	y = clampFloat64(y, 0, float64(rows-1))

	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	x1, y1 := min(x0+1, cols-1), min(y0+1, rows-1)
	fx, fy := x-float64(x0), y-float64(y0)

	data := img.DataFloat32()
	p00 := float64(data[y0*cols+x0])
	p01 := float64(data[y0*cols+x1])
	p10 := float64(data[y1*cols+x0])
	p11 := float64(data[y1*cols+x1])
	top := p00 + fx*(p01-p00)
	bottom := p10 + fx*(p11-p10)
	return top + fy*(bottom-top)
}

// EstimateNoise clips pixels above mean + kappa*sigma until sigma changes by
// less than tolerance or maxIterations is reached.
func EstimateNoise(img Mat, kappa, tolerance float64, maxIterations int) NoiseEstimate {
	mask := NewMat()
	defer mask.Close()

	var est NoiseEstimate
	threshold := float32(math.MaxFloat32)
	for est.NumIterations < maxIterations {
		var mean, sigma float64
		if est.NumIterations == 0 {
			mean, sigma = meanStdDev(img)
		} else {
			inRangeTo(img, math.SmallestNonzeroFloat32, threshold, &mask)
			mean, sigma = maskedMeanStdDev(img, mask)
		}
		est.NumIterations++

		converged := est.NumIterations > 1 && math.Abs(sigma-est.Sigma) <= tolerance
		est.Sigma = sigma
		if converged {
			break
		}
		est.BackgroundMean = mean
		threshold = float32(mean + kappa*sigma)
	}
	return est
}

func maskedMeanStdDev(img, mask Mat) (float64, float64) {
	data, maskData := img.DataFloat32(), mask.DataFloat32()
	values := make([]float64, 0, len(data))
	for i, m := range maskData {
		if m != 0 {
			values = append(values, float64(data[i]))
		}
	}
	if len(values) == 0 {
		return 0, 0
	}
	return stat.PopMeanStdDev(values, nil)
}

// Median returns the median pixel value.
func Median(img Mat) float64 {
	data := img.DataFloat32()
	if len(data) == 0 {
		return 0
	}
	sorted := make([]float64, len(data))
	for i, v := range data {
		sorted[i] = float64(v)
	}
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

// b3SplineFilter returns the a-trous B3 spline kernel for a dyadic layer.
func b3SplineFilter(layer int) Mat {
	step := 1 << uint(layer)
	size := 4*step + 1
	k := NewMatWithSize(size, 1)
	data := k.DataFloat32()
	data[0], data[size-1] = 0.0625, 0.0625
	data[step], data[size-1-step] = 0.25, 0.25
	data[2*step] = 0.375
	return k
}

// SmoothLargeScale returns the residual after numLayers a-trous B3 spline
// wavelet passes: the large-scale structure (sky background, gradients) of
// the image.
func SmoothLargeScale(src Mat, numLayers int) Mat {
	layer := src.Clone()
	for i := 0; i < numLayers; i++ {
		k := b3SplineFilter(i)
		separableFilter(layer, &layer, k, k)
		k.Close()
	}
	return layer
}

// SubtractClamped computes lhs -= rhs and clamps the result to [0, 1].
func SubtractClamped(lhs *Mat, rhs Mat) {
	l, r := lhs.DataFloat32(), rhs.DataFloat32()
	for i := range l {
		l[i] = float32(clampFloat64(float64(l[i]-r[i]), 0, 1))
	}
}

func clampFloat64(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
