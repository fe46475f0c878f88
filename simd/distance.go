// Package simd provides AVX-512, AVX2, SSE4, and NEON accelerated distance
// kernels over equal-length float32 vectors. It automatically selects the
// best implementation available for GOARCH and CGO at process start.
package simd

import (
	"errors"
	"math"
)

// ErrDimensionMismatch is returned when the two operands of a distance
// computation do not have the same length.
var ErrDimensionMismatch = errors.New("simd: dimension mismatch")

var (
	squaredEuclideanImpl     func(a, b []float32) float32
	squaredEuclideanImplDesc string
)

func init() {
	// Default; dispatch files override in init() based on GOARCH and CGO.
	if squaredEuclideanImpl == nil {
		squaredEuclideanImpl = squaredEuclideanGo
		squaredEuclideanImplDesc = "Go"
	}
}

// SquaredEuclidean computes the squared Euclidean distance between a and b
// using the best available SIMD implementation (AVX-512 > AVX2+FMA > SSE4.1
// on amd64; NEON on arm64; 4-way unrolled scalar otherwise).
//
// Both slices must have the same length; violating this fails with
// ErrDimensionMismatch rather than panicking or silently truncating.
func SquaredEuclidean(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	if len(a) == 0 {
		return 0, nil
	}
	return squaredEuclideanImpl(a, b), nil
}

// Euclidean computes the (square-rooted) Euclidean distance between a and b.
// This is the metric Chassis stores and compares on: the reference
// implementation this engine follows takes the square root rather than
// working in squared-distance space throughout.
func Euclidean(a, b []float32) (float32, error) {
	sq, err := SquaredEuclidean(a, b)
	if err != nil {
		return 0, err
	}
	return float32(math.Sqrt(float64(sq))), nil
}

// Impl reports the name of the currently active kernel (for diagnostics).
func Impl() string {
	if squaredEuclideanImplDesc != "" {
		return squaredEuclideanImplDesc
	}
	return "Go"
}

// squaredEuclideanGo is the pure Go reference implementation. Four
// independent accumulators break the serial dependency chain of a single
// running sum, mirroring the lane structure the SIMD kernels use so that
// scalar and vectorized results agree modulo reassociation.
func squaredEuclideanGo(a, b []float32) float32 {
	var s0, s1, s2, s3 float32
	n := len(a)
	i := 0
	for ; i+4 <= n; i += 4 {
		d0 := a[i+0] - b[i+0]
		d1 := a[i+1] - b[i+1]
		d2 := a[i+2] - b[i+2]
		d3 := a[i+3] - b[i+3]
		s0 += d0 * d0
		s1 += d1 * d1
		s2 += d2 * d2
		s3 += d3 * d3
	}
	sum := s0 + s1 + s2 + s3
	for ; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
