package buddy

import "github.com/cockroachdb/errors"

var (
	// ErrArenaTooSmall is returned by New when the arena cannot hold the metadata region and at
	// least one minimum size block.
	ErrArenaTooSmall = errors.New("buddy: arena too small")

	// ErrBadMetadata is returned by Attach when the arena's metadata region was not written by
	// New for an arena of the same length.
	ErrBadMetadata = errors.New("buddy: arena metadata is missing or inconsistent")

	// ErrInvalidHandle is returned by Destroy when it is called on a nil allocator.
	ErrInvalidHandle = errors.New("buddy: invalid allocator handle")

	// ErrDoubleFreeOrInvalidPointer is returned by Free when the handle does not refer to a live
	// allocation.
	ErrDoubleFreeOrInvalidPointer = errors.New("buddy: double free or invalid pointer")

	// ErrDestroyed is returned when an allocator is used after Destroy.
	ErrDestroyed = errors.New("buddy: allocator has been destroyed")
)
