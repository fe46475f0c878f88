//go:build amd64 && cgo

package simd

/*
#cgo CFLAGS: -msse4.1 -O3
#include <smmintrin.h>
#include <stddef.h>

static float horizontal_sum_m128(__m128 v) {
	v = _mm_hadd_ps(v, v);
	v = _mm_hadd_ps(v, v);
	return _mm_cvtss_f32(v);
}

static float SquaredEuclideanSSE4(const float* a, const float* b, size_t n) {
	__m128 sum0 = _mm_setzero_ps();
	__m128 sum1 = _mm_setzero_ps();
	__m128 sum2 = _mm_setzero_ps();
	__m128 sum3 = _mm_setzero_ps();
	size_t i = 0;
	for (; i + 16 <= n; i += 16) {
		__m128 d0 = _mm_sub_ps(_mm_loadu_ps(a + i),      _mm_loadu_ps(b + i));
		__m128 d1 = _mm_sub_ps(_mm_loadu_ps(a + i + 4),  _mm_loadu_ps(b + i + 4));
		__m128 d2 = _mm_sub_ps(_mm_loadu_ps(a + i + 8),  _mm_loadu_ps(b + i + 8));
		__m128 d3 = _mm_sub_ps(_mm_loadu_ps(a + i + 12), _mm_loadu_ps(b + i + 12));
		sum0 = _mm_add_ps(sum0, _mm_mul_ps(d0, d0));
		sum1 = _mm_add_ps(sum1, _mm_mul_ps(d1, d1));
		sum2 = _mm_add_ps(sum2, _mm_mul_ps(d2, d2));
		sum3 = _mm_add_ps(sum3, _mm_mul_ps(d3, d3));
	}
	for (; i + 4 <= n; i += 4) {
		__m128 d = _mm_sub_ps(_mm_loadu_ps(a + i), _mm_loadu_ps(b + i));
		sum0 = _mm_add_ps(sum0, _mm_mul_ps(d, d));
	}
	__m128 sum = _mm_add_ps(_mm_add_ps(sum0, sum1), _mm_add_ps(sum2, sum3));
	float s = horizontal_sum_m128(sum);
	for (; i < n; i++) {
		float d = a[i] - b[i];
		s += d * d;
	}
	return s;
}
*/
import "C"

import "unsafe"

func squaredEuclideanSSE4(a, b []float32) float32 {
	n := len(a)
	if n == 0 {
		return 0
	}
	return float32(C.SquaredEuclideanSSE4(
		(*C.float)(unsafe.Pointer(&a[0])),
		(*C.float)(unsafe.Pointer(&b[0])),
		C.size_t(n),
	))
}
