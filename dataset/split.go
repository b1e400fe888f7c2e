package dataset

import (
	"fmt"
	"math/rand"
)

// RandomSplit partitions the indices 0..n-1 into a training set of
// floor(n*fraction) indices and a validation set of the remainder. The
// permutation is drawn from rng, so equal seeds reproduce the exact
// partition. The two slices are disjoint and together cover every
// index.
func RandomSplit(n int, fraction float64, rng *rand.Rand) (train, val []int, err error) {
	if n <= 0 {
		return nil, nil, fmt.Errorf("sample count must be positive, got %d", n)
	}
	if fraction <= 0 || fraction >= 1 {
		return nil, nil, fmt.Errorf("train fraction must be in (0, 1), got %v", fraction)
	}
	if rng == nil {
		return nil, nil, fmt.Errorf("random split requires a random source")
	}

	perm := rng.Perm(n)
	cut := int(float64(n) * fraction)

	train = append([]int(nil), perm[:cut]...)
	val = append([]int(nil), perm[cut:]...)
	return train, val, nil
}
