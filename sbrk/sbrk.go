/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package sbrk provides a sandboxed heap region grown through a single
// monotonically advancing break pointer. The region is reserved up front and
// never moves, so addresses derived from Base remain valid for the lifetime
// of the Heap. The break never shrinks.
package sbrk

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/bytedance/gopkg/lang/dirtmake"
)

// ErrOutOfMemory is returned by Sbrk when the break cannot be extended.
// The answer is definitive: retrying the same request will fail again.
var ErrOutOfMemory = errors.New("sbrk: out of memory")

// Heap is a contiguous byte region with a break offset separating the managed
// part from the unused reserve. It is not goroutine-safe.
type Heap struct {
	mem []byte
	brk int

	// munmap is set when the slab was obtained from the OS rather than the
	// Go heap. See NewMmap.
	munmap func([]byte) error
}

// New creates a Heap backed by a Go-allocated slab of the given capacity.
// The slab is not zeroed; callers are expected to initialize every word
// before reading it.
func New(capacity int) (*Heap, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("sbrk: capacity must be positive, got %d", capacity)
	}
	return &Heap{mem: dirtmake.Bytes(capacity, capacity)}, nil
}

// Sbrk extends the break by n bytes and returns the previous break offset,
// which is the offset of the newly appended region. n may be zero, in which
// case the current break is returned and nothing changes. A negative n or a
// request past the reserved capacity returns ErrOutOfMemory and leaves the
// break untouched.
func (h *Heap) Sbrk(n int) (int, error) {
	if n < 0 || n > len(h.mem)-h.brk {
		return 0, ErrOutOfMemory
	}
	old := h.brk
	h.brk += n
	return old, nil
}

// Lo returns the inclusive lower bound of the managed region.
func (h *Heap) Lo() int { return 0 }

// Hi returns the inclusive upper bound of the managed region. It is -1 until
// the first successful Sbrk with n > 0.
func (h *Heap) Hi() int { return h.brk - 1 }

// Size returns the number of managed bytes, i.e. the current break.
func (h *Heap) Size() int { return h.brk }

// Cap returns the reserved capacity.
func (h *Heap) Cap() int { return len(h.mem) }

// Base returns the address of the start of the slab. The slab never moves,
// so the returned pointer stays valid until Close.
func (h *Heap) Base() unsafe.Pointer { return unsafe.Pointer(&h.mem[0]) }

// Close releases an OS-backed slab. For a Go-allocated slab it only drops the
// Heap's reference to the slab and resets the break to 0. The Heap must not
// be used after Close.
func (h *Heap) Close() error {
	if h.munmap == nil {
		h.mem, h.brk = nil, 0
		return nil
	}
	mem, munmap := h.mem, h.munmap
	h.mem, h.brk, h.munmap = nil, 0, nil
	return munmap(mem)
}
