//go:build !purego && !js

package apcorr

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Mat is a single-channel float32 image backed by an OpenCV matrix.
type Mat struct {
	m gocv.Mat
}

func NewMat() Mat { return Mat{m: gocv.NewMat()} }
func NewMatWithSize(rows, cols int) Mat {
	return Mat{m: gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV32F)}
}
func (mat Mat) Rows() int   { return mat.m.Rows() }
func (mat Mat) Cols() int   { return mat.m.Cols() }
func (mat Mat) Empty() bool { return mat.m.Empty() }
func (mat Mat) Clone() Mat  { return Mat{m: mat.m.Clone()} }
func (mat *Mat) Close()     { mat.m.Close() }

// DataFloat32 returns the pixel buffer in row-major order. Writes go straight
// to the image.
func (mat Mat) DataFloat32() []float32 {
	data, _ := mat.m.DataPtrFloat32()
	return data
}

func separableFilter(src Mat, dst *Mat, kernelX, kernelY Mat) {
	gocv.SepFilter2D(src.m, &dst.m, gocv.MatTypeCV32F, kernelX.m, kernelY.m, image.Pt(-1, -1), 0, gocv.BorderReflect)
}

func gaussianKernel(size int, sigma float64) Mat {
	return Mat{m: gocv.GetGaussianKernel(size, sigma)}
}

func median3x3(src Mat, dst *Mat) {
	gocv.MedianBlur(src.m, &dst.m, 3)
}

func absDiffTo(a, b Mat, dst *Mat) {
	gocv.AbsDiff(a.m, b.m, &dst.m)
}

func thresholdTo(src Mat, dst *Mat, thresh, maxval float32) {
	gocv.Threshold(src.m, &dst.m, thresh, maxval, gocv.ThresholdBinary)
}

func nonZeroCount(src Mat) int {
	return gocv.CountNonZero(src.m)
}

// copyMasked copies src into dst wherever mask is non-zero.
func copyMasked(src Mat, dst *Mat, mask Mat) {
	mask8 := gocv.NewMat()
	defer mask8.Close()
	mask.m.ConvertTo(&mask8, gocv.MatTypeCV8U)
	src.m.CopyToWithMask(&dst.m, mask8)
}

// inRangeTo writes 1 where lower <= src <= upper and 0 elsewhere.
func inRangeTo(src Mat, lower, upper float32, dst *Mat) {
	mask8 := gocv.NewMat()
	defer mask8.Close()
	lo := gocv.NewScalar(float64(lower), 0, 0, 0)
	hi := gocv.NewScalar(float64(upper), 0, 0, 0)
	gocv.InRangeWithScalar(src.m, lo, hi, &mask8)
	// InRange yields CV_8U with 255 for hits
	mask8.ConvertToWithParams(&dst.m, gocv.MatTypeCV32F, 1.0/255.0, 0)
}

func meanStdDev(src Mat) (float64, float64) {
	meanMat := gocv.NewMat()
	defer meanMat.Close()
	stdMat := gocv.NewMat()
	defer stdMat.Close()
	gocv.MeanStdDev(src.m, &meanMat, &stdMat)
	return meanMat.GetDoubleAt(0, 0), stdMat.GetDoubleAt(0, 0)
}

// ReadImage loads an image file through OpenCV as a grayscale [0, 1] Mat and
// returns the bit depth of the stored samples.
func ReadImage(path string) (Mat, int, error) {
	src := gocv.IMRead(path, gocv.IMReadGrayScale|gocv.IMReadAnyDepth)
	if src.Empty() {
		return Mat{}, 0, fmt.Errorf("could not load image: %s", path)
	}
	defer src.Close()

	bitDepth := 8
	if src.Type() == gocv.MatTypeCV16U {
		bitDepth = 16
	}
	maxVal := float64(uint32(1)<<uint(bitDepth) - 1)
	dst := gocv.NewMat()
	src.ConvertToWithParams(&dst, gocv.MatTypeCV32F, float32(1.0/maxVal), 0)
	return Mat{m: dst}, bitDepth, nil
}
