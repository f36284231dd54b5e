package malloc

import "unsafe"

const (
	// wordSize is the header/footer word width: the platform pointer size.
	wordSize = int(unsafe.Sizeof(uintptr(0)))

	// doubleWord is the payload alignment unit. Block sizes are always
	// multiples of doubleWord, which frees the low bit of a size word for
	// the allocated flag.
	doubleWord = 2 * wordSize

	// minBlockSize is the smallest legal block: header and footer plus the
	// two list words embedded in a free payload.
	minBlockSize = 4 * wordSize

	// DefaultChunkSize is the granularity New uses for the initial heap
	// extension (4KB).
	DefaultChunkSize = 1 << 12
)

const allocBit = 1

// nilOff is the free-list nil. Offset 0 is the alignment padding word at the
// heap base, never a payload.
const nilOff = 0

// pack combines a block size with the allocated flag into one header word.
func pack(size, alloc int) uintptr { return uintptr(size | alloc) }

func unpackSize(w uintptr) int   { return int(w &^ uintptr(doubleWord-1)) }
func unpackAlloc(w uintptr) bool { return w&allocBit != 0 }

// load and store are the only places a heap offset turns into a pointer.
func (a *Allocator) load(off int) uintptr {
	return *(*uintptr)(unsafe.Add(a.base, off))
}

func (a *Allocator) store(off int, w uintptr) {
	*(*uintptr)(unsafe.Add(a.base, off)) = w
}

// Blocks are addressed by their payload offset bp. The header is the word at
// bp-wordSize and the footer the word at bp+size-doubleWord; the previous
// block's footer is the word at bp-doubleWord.

func (a *Allocator) headerOf(bp int) uintptr { return a.load(bp - wordSize) }

func (a *Allocator) sizeOf(bp int) int { return unpackSize(a.headerOf(bp)) }

func (a *Allocator) allocated(bp int) bool { return unpackAlloc(a.headerOf(bp)) }

func (a *Allocator) footerOff(bp int) int { return bp + a.sizeOf(bp) - doubleWord }

func (a *Allocator) nextBlock(bp int) int { return bp + a.sizeOf(bp) }

func (a *Allocator) prevBlock(bp int) int { return bp - unpackSize(a.load(bp-doubleWord)) }

// setBlock writes a matching header/footer pair for a block of the given
// size at bp.
func (a *Allocator) setBlock(bp, size, alloc int) {
	w := pack(size, alloc)
	a.store(bp-wordSize, w)
	a.store(bp+size-doubleWord, w)
}

// Free blocks keep their list linkage in the first two payload words:
// prev at bp, next at bp+wordSize, both stored as payload offsets.

func (a *Allocator) listPrev(bp int) int { return int(a.load(bp)) }
func (a *Allocator) listNext(bp int) int { return int(a.load(bp + wordSize)) }

func (a *Allocator) setListPrev(bp, prev int) { a.store(bp, uintptr(prev)) }
func (a *Allocator) setListNext(bp, next int) { a.store(bp+wordSize, uintptr(next)) }

// payload returns the caller-visible slice for an allocated block: len is the
// requested size, cap the full usable payload up to the footer.
func (a *Allocator) payload(bp, size int) []byte {
	return unsafe.Slice((*byte)(unsafe.Add(a.base, bp)), a.sizeOf(bp)-doubleWord)[:size]
}
