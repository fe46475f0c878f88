//go:build arm64 && cgo

package simd

/*
#cgo CFLAGS: -O3
#include <arm_neon.h>
#include <stddef.h>

static float SquaredEuclideanNEON(const float* a, const float* b, size_t n) {
	float32x4_t sum0 = vdupq_n_f32(0.0f);
	float32x4_t sum1 = vdupq_n_f32(0.0f);
	float32x4_t sum2 = vdupq_n_f32(0.0f);
	float32x4_t sum3 = vdupq_n_f32(0.0f);
	size_t i = 0;
	for (; i + 16 <= n; i += 16) {
		float32x4_t d0 = vsubq_f32(vld1q_f32(a + i),      vld1q_f32(b + i));
		float32x4_t d1 = vsubq_f32(vld1q_f32(a + i + 4),  vld1q_f32(b + i + 4));
		float32x4_t d2 = vsubq_f32(vld1q_f32(a + i + 8),  vld1q_f32(b + i + 8));
		float32x4_t d3 = vsubq_f32(vld1q_f32(a + i + 12), vld1q_f32(b + i + 12));
		sum0 = vmlaq_f32(sum0, d0, d0);
		sum1 = vmlaq_f32(sum1, d1, d1);
		sum2 = vmlaq_f32(sum2, d2, d2);
		sum3 = vmlaq_f32(sum3, d3, d3);
	}
	for (; i + 4 <= n; i += 4) {
		float32x4_t d = vsubq_f32(vld1q_f32(a + i), vld1q_f32(b + i));
		sum0 = vmlaq_f32(sum0, d, d);
	}
	float32x4_t sum = vaddq_f32(vaddq_f32(sum0, sum1), vaddq_f32(sum2, sum3));
	float s = vaddvq_f32(sum);
	for (; i < n; i++) {
		float d = a[i] - b[i];
		s += d * d;
	}
	return s;
}
*/
import "C"

import "unsafe"

func squaredEuclideanNEON(a, b []float32) float32 {
	n := len(a)
	if n == 0 {
		return 0
	}
	return float32(C.SquaredEuclideanNEON(
		(*C.float)(unsafe.Pointer(&a[0])),
		(*C.float)(unsafe.Pointer(&b[0])),
		C.size_t(n),
	))
}
