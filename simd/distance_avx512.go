//go:build amd64 && cgo

package simd

/*
#cgo CFLAGS: -mavx512f -O3
#include <immintrin.h>
#include <stddef.h>

static float SquaredEuclideanAVX512(const float* a, const float* b, size_t n) {
	__m512 sum0 = _mm512_setzero_ps();
	__m512 sum1 = _mm512_setzero_ps();
	__m512 sum2 = _mm512_setzero_ps();
	__m512 sum3 = _mm512_setzero_ps();
	size_t i = 0;
	for (; i + 64 <= n; i += 64) {
		__m512 d0 = _mm512_sub_ps(_mm512_loadu_ps(a + i),      _mm512_loadu_ps(b + i));
		__m512 d1 = _mm512_sub_ps(_mm512_loadu_ps(a + i + 16), _mm512_loadu_ps(b + i + 16));
		__m512 d2 = _mm512_sub_ps(_mm512_loadu_ps(a + i + 32), _mm512_loadu_ps(b + i + 32));
		__m512 d3 = _mm512_sub_ps(_mm512_loadu_ps(a + i + 48), _mm512_loadu_ps(b + i + 48));
		sum0 = _mm512_fmadd_ps(d0, d0, sum0);
		sum1 = _mm512_fmadd_ps(d1, d1, sum1);
		sum2 = _mm512_fmadd_ps(d2, d2, sum2);
		sum3 = _mm512_fmadd_ps(d3, d3, sum3);
	}
	for (; i + 16 <= n; i += 16) {
		__m512 d = _mm512_sub_ps(_mm512_loadu_ps(a + i), _mm512_loadu_ps(b + i));
		sum0 = _mm512_fmadd_ps(d, d, sum0);
	}
	__m512 sum = _mm512_add_ps(_mm512_add_ps(sum0, sum1), _mm512_add_ps(sum2, sum3));
	float result[16];
	_mm512_storeu_ps(result, sum);
	float s = 0;
	for (int j = 0; j < 16; j++) s += result[j];
	for (; i < n; i++) {
		float d = a[i] - b[i];
		s += d * d;
	}
	return s;
}
*/
import "C"

import "unsafe"

func squaredEuclideanAVX512(a, b []float32) float32 {
	n := len(a)
	if n == 0 {
		return 0
	}
	return float32(C.SquaredEuclideanAVX512(
		(*C.float)(unsafe.Pointer(&a[0])),
		(*C.float)(unsafe.Pointer(&b[0])),
		C.size_t(n),
	))
}
