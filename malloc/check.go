package malloc

import "fmt"

// CheckHeap verifies the structural invariants of the heap: sentinel shape,
// header/footer agreement, alignment, minimum block size, no adjacent free
// blocks, free-list well-formedness, and that every free block sits in
// exactly the list of its size class. It returns an error describing the
// first violation found, or nil. With verbose set it also prints a
// block-by-block dump.
//
// Corruption reported here is a programming bug in the caller or the
// allocator; the heap is not usable afterwards.
func (a *Allocator) CheckHeap(verbose bool) error {
	if verbose {
		fmt.Printf("heap: offsets %d..%d of %d reserved\n", a.heap.Lo(), a.heap.Hi(), a.heap.Cap())
	}

	if a.sizeOf(a.prologue) != doubleWord || !a.allocated(a.prologue) {
		return fmt.Errorf("malloc: bad prologue header %#x", a.headerOf(a.prologue))
	}

	walked := 0 // free blocks seen on the walk
	prevFree := false
	bp := a.firstBlock
	for a.sizeOf(bp) > 0 {
		if verbose {
			a.printBlock(bp)
		}
		if err := a.checkBlock(bp); err != nil {
			return err
		}
		if a.allocated(bp) {
			prevFree = false
		} else {
			if prevFree {
				return fmt.Errorf("malloc: adjacent free blocks at offset %d", bp)
			}
			prevFree = true
			walked++
		}
		bp = a.nextBlock(bp)
	}
	if bp != a.heap.Size() || a.headerOf(bp) != pack(0, allocBit) {
		return fmt.Errorf("malloc: bad epilogue header at offset %d", bp)
	}

	listed := 0
	limit := a.heap.Size()/minBlockSize + 1
	for idx := 0; idx < numClasses; idx++ {
		prev := nilOff
		steps := 0
		for bp := a.heads[idx]; bp != nilOff; bp = a.listNext(bp) {
			if steps++; steps > limit {
				return fmt.Errorf("malloc: cycle in free list of class %d", idx)
			}
			if a.listPrev(bp) != prev {
				return fmt.Errorf("malloc: broken backlink at offset %d in class %d", bp, idx)
			}
			if a.allocated(bp) {
				return fmt.Errorf("malloc: allocated block at offset %d in free list of class %d", bp, idx)
			}
			if got := sizeClass(a.sizeOf(bp)); got != idx {
				return fmt.Errorf("malloc: block at offset %d has size %d (class %d) but is filed under class %d",
					bp, a.sizeOf(bp), got, idx)
			}
			if verbose {
				fmt.Printf("  class %2d: offset %d size %d\n", idx, bp, a.sizeOf(bp))
			}
			prev = bp
			listed++
		}
	}
	if listed != walked {
		return fmt.Errorf("malloc: %d free blocks on the heap, %d in the lists", walked, listed)
	}
	return nil
}

func (a *Allocator) checkBlock(bp int) error {
	if bp%doubleWord != 0 {
		return fmt.Errorf("malloc: offset %d is not doubleword aligned", bp)
	}
	w := a.headerOf(bp)
	size := unpackSize(w)
	if size < minBlockSize || bp+size > a.heap.Size() {
		return fmt.Errorf("malloc: offset %d has invalid size %d", bp, size)
	}
	if f := a.load(bp + size - doubleWord); f != w {
		return fmt.Errorf("malloc: offset %d header %#x does not match footer %#x", bp, w, f)
	}
	return nil
}

func (a *Allocator) printBlock(bp int) {
	h, f := a.headerOf(bp), a.load(a.footerOff(bp))
	fmt.Printf("  offset %d: header [%d:%c] footer [%d:%c]\n",
		bp, unpackSize(h), allocChar(h), unpackSize(f), allocChar(f))
}

func allocChar(w uintptr) byte {
	if unpackAlloc(w) {
		return 'a'
	}
	return 'f'
}
