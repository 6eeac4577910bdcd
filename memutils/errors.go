package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// OutOfBoundsError is the error returned from CheckBounds if an offset range does not fit within its region
var OutOfBoundsError error = errors.New("offset range is outside of the region")
