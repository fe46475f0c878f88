package simd

import (
	"math"
	"math/rand"
	"testing"
)

func randomVec(n int, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	v := make([]float32, n)
	for i := range v {
		v[i] = rng.Float32()*2 - 1
	}
	return v
}

func TestSquaredEuclideanDimensionMismatch(t *testing.T) {
	_, err := SquaredEuclidean(make([]float32, 3), make([]float32, 4))
	if err != ErrDimensionMismatch {
		t.Fatalf("got %v, want ErrDimensionMismatch", err)
	}
}

func TestSquaredEuclideanZeroLength(t *testing.T) {
	d, err := SquaredEuclidean(nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != 0 {
		t.Fatalf("got %v, want 0", d)
	}
}

func TestSquaredEuclideanMatchesScalarReference(t *testing.T) {
	for _, n := range []int{1, 3, 4, 7, 8, 16, 17, 32, 129, 512, 4096} {
		a := randomVec(n, int64(n)*7+1)
		b := randomVec(n, int64(n)*7+2)

		got := squaredEuclideanImpl(a, b)
		want := squaredEuclideanGo(a, b)

		if math.Abs(float64(got-want)) > 1e-3*math.Max(1, math.Abs(float64(want))) {
			t.Errorf("n=%d: impl=%v (%s) scalar=%v", n, got, Impl(), want)
		}
	}
}

func TestEuclideanIsSquareRootOfSquaredEuclidean(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{0, 0, 0}
	sq, err := SquaredEuclidean(a, b)
	if err != nil {
		t.Fatal(err)
	}
	d, err := Euclidean(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(d)-math.Sqrt(float64(sq))) > 1e-6 {
		t.Errorf("Euclidean=%v, want sqrt(SquaredEuclidean)=%v", d, math.Sqrt(float64(sq)))
	}
	if d != 1 {
		t.Errorf("distance from unit basis vector to origin = %v, want 1", d)
	}
}

func TestEuclideanSymmetric(t *testing.T) {
	a := randomVec(37, 11)
	b := randomVec(37, 12)
	d1, _ := Euclidean(a, b)
	d2, _ := Euclidean(b, a)
	if d1 != d2 {
		t.Errorf("distance not symmetric: %v vs %v", d1, d2)
	}
}
