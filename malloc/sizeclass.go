package malloc

import "math/bits"

// numClasses is the number of segregated free lists.
const numClasses = 12

// sizeClass maps a block size in bytes to its free-list index. Classes are
// power-of-two buckets: <=32, doubling through 1024, a jump to 4096, doubling
// through 65536, and an overflow class for everything larger. The function is
// monotone in size, and insert, remove and findFit all feed it the same unit
// (bytes, never words).
func sizeClass(size int) int {
	switch {
	case size <= 32:
		return 0
	case size <= 1024:
		// 64 -> 1, 128 -> 2, ..., 1024 -> 5
		return bits.Len(uint(size-1)) - 5
	case size <= 4096:
		return 6
	case size <= 65536:
		// 8192 -> 7, ..., 65536 -> 10
		return bits.Len(uint(size-1)) - 6
	default:
		return numClasses - 1
	}
}
