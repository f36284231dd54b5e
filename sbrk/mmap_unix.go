//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd
// +build darwin dragonfly freebsd linux netbsd openbsd

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

package sbrk

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// NewMmap creates a Heap backed by an anonymous private mapping instead of
// the Go heap, keeping the slab out of GC scanning. Release it with Close.
func NewMmap(capacity int) (*Heap, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("sbrk: capacity must be positive, got %d", capacity)
	}
	mem, err := unix.Mmap(-1, 0, capacity, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("sbrk: mmap: %w", err)
	}
	return &Heap{mem: mem, munmap: unix.Munmap}, nil
}
