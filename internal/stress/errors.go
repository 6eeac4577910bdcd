package stress

import "github.com/cockroachdb/errors"

var (
	ErrInvalidConfig = errors.New("stress: invalid configuration")

	// ErrAllocationFailed is returned when the allocator refuses an allocation the workload
	// expects to fit.
	ErrAllocationFailed = errors.New("stress: allocation failed")

	// ErrOverlap is returned when two live allocations share bytes.
	ErrOverlap = errors.New("stress: live allocations overlap")

	// ErrNotRestored is returned when freeing every allocation of a cycle does not leave the
	// arena as a single free block.
	ErrNotRestored = errors.New("stress: arena was not restored to a single free block")
)
