package memutils

import (
	"math/bits"

	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint
}

func CheckPow2[T Number](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// CheckBounds verifies that the byte range [offset, offset+size) lies inside a region of regionSize bytes
func CheckBounds(offset, size, regionSize int, name string) error {
	if offset < 0 || size < 0 || offset > regionSize-size {
		return cerrors.Wrapf(OutOfBoundsError, "%s covers [%d, %d) but the region is %d bytes", name, offset, offset+size, regionSize)
	}
	return nil
}

func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}

// Log2 returns the floor of the base-2 logarithm of value. Values below 1 return 0.
func Log2(value int) int {
	if value < 1 {
		return 0
	}
	return bits.Len(uint(value)) - 1
}

// NextPow2 rounds value up to the nearest power of two. Values below 1 return 1.
func NextPow2(value int) int {
	if value <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(value-1))
}
