package hal

import "fmt"

// Driver is the part of the lifecycle every peripheral class shares. The
// class interfaces add Initialize with their own callback shape.
type Driver interface {
	// Uninitialize aborts any outstanding operation, releases the callback and
	// returns the instance to the uninitialized state. It is a no-op success
	// on an uninitialized instance.
	Uninitialize() error
}

// ItemSize returns the number of bytes one data item of the given bit width
// occupies in a transfer buffer: 1 up to 8 bits, 2 up to 16, 4 up to 32.
func ItemSize(bits uint32) int {
	switch {
	case bits <= 8:
		return 1
	case bits <= 16:
		return 2
	default:
		return 4
	}
}

// Items returns the number of data items in a buffer of n bytes. The buffer
// must hold at least one item and a whole number of them.
func Items(n int, itemSize int) (uint32, error) {
	if n == 0 || itemSize <= 0 || n%itemSize != 0 {
		return 0, fmt.Errorf("%w: buffer of %d bytes for %d byte items", ErrParameter, n, itemSize)
	}
	return uint32(n / itemSize), nil
}
