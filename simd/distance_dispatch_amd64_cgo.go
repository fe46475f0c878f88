//go:build amd64 && cgo

package simd

import "golang.org/x/sys/cpu"

func init() {
	if cpu.X86.HasAVX512F {
		squaredEuclideanImpl = squaredEuclideanAVX512
		squaredEuclideanImplDesc = "AVX-512"
	} else if cpu.X86.HasAVX2 && cpu.X86.HasFMA {
		squaredEuclideanImpl = squaredEuclideanAVX2
		squaredEuclideanImplDesc = "AVX2+FMA"
	} else if cpu.X86.HasSSE41 {
		squaredEuclideanImpl = squaredEuclideanSSE4
		squaredEuclideanImplDesc = "SSE4.1"
	} else {
		squaredEuclideanImpl = squaredEuclideanGo
		squaredEuclideanImplDesc = "Go"
	}
}
