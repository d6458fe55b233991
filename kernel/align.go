package kernel

import "golang.org/x/exp/constraints"

// alignUp rounds v up to a multiple of a, which must be a power of two.
func alignUp[T constraints.Unsigned](v, a T) T {
	return (v + a - 1) &^ (a - 1)
}

// alignDown rounds v down to a multiple of a, which must be a power of two.
func alignDown[T constraints.Unsigned](v, a T) T {
	return v &^ (a - 1)
}

func isPow2[T constraints.Unsigned](v T) bool {
	return v != 0 && v&(v-1) == 0
}
