// Package malloc implements a segregated-fit dynamic memory allocator over a
// sbrk.Heap. Blocks carry boundary tags (a matching header/footer word pair)
// so neighbors can be found and merged in constant time, and free blocks are
// kept in per-size-class lists threaded through their own payloads. The
// allocator never calls the host allocator for block storage and never
// returns memory to the provider.
//
// IMPORTANT: this package is NOT goroutine-safe. The heap is an exclusive
// resource of the owning goroutine.
package malloc

import (
	"fmt"
	"unsafe"

	"github.com/cloudwego/segfit/sbrk"
)

// Allocator manages a sbrk.Heap as a sequence of variable-sized blocks.
//
// Heap layout, ascending offsets: one unused padding word, a minimum
// prologue block (allocated, size 2 words), the real blocks, and a zero-size
// allocated epilogue header at the break. The sentinels remove the edge
// cases at both ends of a heap walk.
type Allocator struct {
	heap *sbrk.Heap
	base unsafe.Pointer

	// heads holds the payload offset of the first free block per size
	// class, nilOff when empty.
	heads [numClasses]int

	// prologue and firstBlock are the payload offsets of the prologue
	// sentinel and the first real block.
	prologue   int
	firstBlock int
}

// New initializes an allocator on h. It writes the sentinel layout, then
// extends the heap by DefaultChunkSize to seed the first free block. The
// provider must be doubleword aligned at its current break.
func New(h *sbrk.Heap) (*Allocator, error) {
	off, err := h.Sbrk(4 * wordSize)
	if err != nil {
		return nil, fmt.Errorf("malloc: init: %w", err)
	}
	if off%doubleWord != 0 {
		return nil, fmt.Errorf("malloc: heap break %d is not doubleword aligned", off)
	}

	a := &Allocator{heap: h, base: h.Base()}
	a.store(off, 0)                                     // alignment padding
	a.store(off+wordSize, pack(doubleWord, allocBit))   // prologue header
	a.store(off+2*wordSize, pack(doubleWord, allocBit)) // prologue footer
	a.store(off+3*wordSize, pack(0, allocBit))          // epilogue header
	a.prologue = off + 2*wordSize
	a.firstBlock = off + 4*wordSize

	bp, err := a.extendHeap(DefaultChunkSize / wordSize)
	if err != nil {
		return nil, fmt.Errorf("malloc: init: %w", err)
	}
	a.insertFree(bp)
	return a, nil
}

// Alloc allocates a block with at least size bytes of payload. The returned
// slice has len equal to size and cap equal to the block's full usable
// payload; its data pointer is doubleword aligned. Returns nil if size is
// not positive or the heap cannot be extended.
//
// The returned slice must be passed back to Free or Realloc as-is; freeing a
// reslice that moves its start or changes its cap panics.
func (a *Allocator) Alloc(size int) []byte {
	if size <= 0 {
		return nil
	}
	asize := adjustSize(size)
	if asize < size { // overflow
		return nil
	}
	bp, ok := a.findFit(asize)
	if !ok {
		var err error
		if bp, err = a.extendHeap(asize / wordSize); err != nil {
			return nil
		}
	}
	a.place(bp, asize)
	return a.payload(bp, size)
}

// Free returns a block obtained from Alloc or Realloc to the allocator,
// eagerly merging it with free neighbors. A nil or empty block is a no-op.
// Panics if the block is not an allocation of this heap or was already
// freed.
func (a *Allocator) Free(block []byte) {
	if cap(block) == 0 {
		return
	}
	// Use the slice header directly to avoid a panic on zero-length slices.
	dataPtr := *(*uintptr)(unsafe.Pointer(&block))
	a.free(a.blockOf(dataPtr, cap(block)))
}

// IsValidOffset checks whether dataOffset could be a payload returned by
// Alloc: in bounds and doubleword aligned. It does not inspect block state;
// use it to pre-validate untrusted offsets before FreeAt.
func (a *Allocator) IsValidOffset(dataOffset int) bool {
	if dataOffset < a.firstBlock || dataOffset+doubleWord > a.heap.Size() {
		return false
	}
	return dataOffset%doubleWord == 0
}

// FreeAt frees the block whose payload starts at dataOffset, for callers
// that store offsets instead of slices. Panics like Free on invalid input.
func (a *Allocator) FreeAt(dataOffset int) {
	if dataOffset < 0 || dataOffset > a.heap.Hi() {
		panic("malloc: offset out of range")
	}
	a.free(a.blockOf(uintptr(a.base)+uintptr(dataOffset), -1))
}

func (a *Allocator) free(bp int) {
	a.setBlock(bp, a.sizeOf(bp), 0)
	a.insertFree(a.coalesce(bp))
}

// Realloc resizes a block. A zero size frees the block and returns nil; a
// nil block behaves like Alloc. When the next block is free and large
// enough the block grows in place without copying; otherwise a new block is
// allocated, min(size, old payload) bytes are copied, and the old block is
// freed. On allocation failure the original block is left untouched and nil
// is returned.
func (a *Allocator) Realloc(block []byte, size int) []byte {
	if size <= 0 {
		a.Free(block)
		return nil
	}
	if cap(block) == 0 {
		return a.Alloc(size)
	}

	dataPtr := *(*uintptr)(unsafe.Pointer(&block))
	bp := a.blockOf(dataPtr, cap(block))
	oldSize := a.sizeOf(bp)

	// In-place grow: absorb a free successor when the merged block still
	// leaves room for both boundary tags beyond the requested payload.
	next := a.nextBlock(bp)
	if !a.allocated(next) && oldSize+a.sizeOf(next)-doubleWord >= size {
		merged := oldSize + a.sizeOf(next)
		a.removeFree(next)
		a.setBlock(bp, merged, allocBit)
		return a.payload(bp, size)
	}

	newBlock := a.Alloc(size)
	if newBlock == nil {
		return nil
	}
	n := oldSize - doubleWord
	if size < n {
		n = size
	}
	copy(newBlock, block[:n])
	a.free(bp)
	return newBlock
}

// Available returns the total payload bytes currently held in free lists.
func (a *Allocator) Available() int {
	total := 0
	for idx := 0; idx < numClasses; idx++ {
		for bp := a.heads[idx]; bp != nilOff; bp = a.listNext(bp) {
			total += a.sizeOf(bp) - doubleWord
		}
	}
	return total
}

// Reset discards all allocations and rebuilds the managed region as a single
// free block. The break is not moved; memory already obtained from the
// provider stays managed.
func (a *Allocator) Reset() {
	for i := range a.heads {
		a.heads[i] = nilOff
	}
	// One block spanning from the first block's header to the epilogue header.
	size := a.heap.Size() - a.firstBlock
	a.setBlock(a.firstBlock, size, 0)
	a.insertFree(a.firstBlock)
}

// adjustSize converts a payload request into a block size: the payload
// rounded up to a doubleword multiple plus one doubleword of header/footer
// overhead, never below the minimum block.
func adjustSize(size int) int {
	if size <= doubleWord {
		return 2 * doubleWord
	}
	return doubleWord * ((size + doubleWord + (doubleWord - 1)) / doubleWord)
}

// blockOf maps a payload address back to a validated payload offset. capHint
// is the incoming slice's cap, or -1 when the caller has no slice. Panics on
// anything that is not a live allocation of this heap.
func (a *Allocator) blockOf(dataPtr uintptr, capHint int) int {
	bp := int(dataPtr - uintptr(a.base))
	if bp < a.firstBlock || bp > a.heap.Hi() {
		panic("malloc: block not in heap")
	}
	if bp%doubleWord != 0 {
		panic("malloc: misaligned block")
	}
	w := a.headerOf(bp)
	size := unpackSize(w)
	if !unpackAlloc(w) || size < minBlockSize || bp+size > a.heap.Size() {
		panic("malloc: double free or invalid block")
	}
	if a.load(bp+size-doubleWord) != w {
		panic("malloc: corrupted block")
	}
	if capHint >= 0 && capHint != size-doubleWord {
		panic("malloc: corrupted size")
	}
	return bp
}

// fitHorizon is how many classes above the starting class findFit examines.
// The default, numClasses, makes the search reach the top class.
const fitHorizon = numClasses

// findFit runs a first-fit search for a block of at least asize bytes and
// unlinks the block it returns. The starting class is scanned linearly; in
// any higher class the head is large enough by construction, so only heads
// are examined, up to fitHorizon classes above the start.
func (a *Allocator) findFit(asize int) (int, bool) {
	idx := sizeClass(asize)
	top := idx + fitHorizon
	for bp := a.heads[idx]; bp != nilOff; bp = a.listNext(bp) {
		if a.sizeOf(bp) >= asize {
			a.removeFree(bp)
			return bp, true
		}
	}
	for idx++; idx < numClasses && idx <= top; idx++ {
		if bp := a.heads[idx]; bp != nilOff {
			a.removeFree(bp)
			return bp, true
		}
	}
	return 0, false
}

// place marks the first asize bytes of the free block at bp as allocated.
// When the remainder can hold a minimum block it is split off and reinserted
// under its own class; otherwise the whole block is consumed.
func (a *Allocator) place(bp, asize int) {
	csize := a.sizeOf(bp)
	if csize-asize >= minBlockSize {
		a.setBlock(bp, asize, allocBit)
		rem := bp + asize
		a.setBlock(rem, csize-asize, 0)
		a.insertFree(rem)
	} else {
		a.setBlock(bp, csize, allocBit)
	}
}

// coalesce merges the free block at bp with free neighbors and returns the
// payload offset of the result. Neighbors are unlinked before any tag is
// rewritten; the merged block is NOT inserted into a list, that is the
// caller's decision.
func (a *Allocator) coalesce(bp int) int {
	size := a.sizeOf(bp)
	prevFree := !unpackAlloc(a.load(bp - doubleWord)) // previous block's footer
	next := a.nextBlock(bp)
	nextFree := !a.allocated(next)

	switch {
	case !prevFree && !nextFree:
		return bp
	case !prevFree && nextFree:
		a.removeFree(next)
		a.setBlock(bp, size+a.sizeOf(next), 0)
		return bp
	case prevFree && !nextFree:
		prev := a.prevBlock(bp)
		a.removeFree(prev)
		a.setBlock(prev, a.sizeOf(prev)+size, 0)
		return prev
	default:
		prev := a.prevBlock(bp)
		a.removeFree(prev)
		a.removeFree(next)
		a.setBlock(prev, a.sizeOf(prev)+size+a.sizeOf(next), 0)
		return prev
	}
}

// extendHeap grows the heap by the given word count, rounded up to keep the
// break doubleword aligned. The new region becomes a free block whose header
// overwrites the old epilogue, a fresh epilogue is written at the new break,
// and the block is merged with a free tail if one precedes it. The result is
// not inserted into a free list.
func (a *Allocator) extendHeap(words int) (int, error) {
	if words%2 != 0 {
		words++
	}
	size := words * wordSize
	bp, err := a.heap.Sbrk(size)
	if err != nil {
		return 0, err
	}
	a.setBlock(bp, size, 0)
	a.store(bp+size-wordSize, pack(0, allocBit)) // new epilogue header
	return a.coalesce(bp), nil
}
