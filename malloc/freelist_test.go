package malloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupClassList frees n same-class blocks separated by allocated guards and
// returns their payload offsets in free order (so the last one is the list
// head).
func setupClassList(t *testing.T, a *Allocator, n int) []int {
	t.Helper()
	blocks := make([][]byte, n)
	for i := range blocks {
		blocks[i] = a.Alloc(100)
		require.NotNil(t, blocks[i])
		require.NotNil(t, a.Alloc(16)) // guard against coalescing
	}
	offs := make([]int, n)
	for i, b := range blocks {
		offs[i] = payloadOffset(a, b)
		a.Free(b)
	}
	return offs
}

func listChain(a *Allocator, idx int) []int {
	var chain []int
	for bp := a.heads[idx]; bp != nilOff; bp = a.listNext(bp) {
		chain = append(chain, bp)
	}
	return chain
}

func TestInsertOrderLIFO(t *testing.T) {
	a := newTestAllocator(t, 1<<20)
	offs := setupClassList(t, a, 3)
	idx := sizeClass(a.sizeOf(offs[0]))

	assert.Equal(t, []int{offs[2], offs[1], offs[0]}, listChain(a, idx))
	require.NoError(t, a.CheckHeap(false))
}

func TestRemoveCases(t *testing.T) {
	a := newTestAllocator(t, 1<<20)
	offs := setupClassList(t, a, 5)
	idx := sizeClass(a.sizeOf(offs[0]))
	require.Equal(t, []int{offs[4], offs[3], offs[2], offs[1], offs[0]}, listChain(a, idx))

	// interior
	a.removeFree(offs[2])
	assert.Equal(t, []int{offs[4], offs[3], offs[1], offs[0]}, listChain(a, idx))
	assert.Equal(t, offs[1], a.listNext(offs[3]))
	assert.Equal(t, offs[3], a.listPrev(offs[1]))

	// head
	a.removeFree(offs[4])
	assert.Equal(t, []int{offs[3], offs[1], offs[0]}, listChain(a, idx))
	assert.Equal(t, nilOff, a.listPrev(offs[3]))

	// tail
	a.removeFree(offs[0])
	assert.Equal(t, []int{offs[3], offs[1]}, listChain(a, idx))
	assert.Equal(t, nilOff, a.listNext(offs[1]))

	// down to the only element
	a.removeFree(offs[1])
	require.Equal(t, []int{offs[3]}, listChain(a, idx))
	a.removeFree(offs[3])
	assert.Empty(t, listChain(a, idx))

	// restore and let the checker confirm the lists are whole again
	for _, bp := range []int{offs[0], offs[1], offs[2], offs[3], offs[4]} {
		a.insertFree(bp)
	}
	require.NoError(t, a.CheckHeap(false))
}

func TestRemoveViaReallocAbsorb(t *testing.T) {
	a := newTestAllocator(t, 1<<20)

	// p's successor f sits at the tail of its class list when a second
	// same-class block is freed after it.
	p := a.Alloc(100)
	f := a.Alloc(100)
	require.NotNil(t, a.Alloc(16))
	f2 := a.Alloc(100)
	require.NotNil(t, a.Alloc(16))

	fOff := payloadOffset(a, f)
	a.Free(f)
	a.Free(f2)
	idx := sizeClass(a.sizeOf(fOff))
	require.Equal(t, []int{payloadOffset(a, f2), fOff}, listChain(a, idx))

	// in-place growth unlinks the tail node
	q := a.Realloc(p, 150)
	require.NotNil(t, q)
	assert.Equal(t, []int{payloadOffset(a, f2)}, listChain(a, idx))
	require.NoError(t, a.CheckHeap(false))
}
