package malloc

import (
	"fmt"

	"github.com/cloudwego/segfit/sbrk"
)

func Example() {
	h, _ := sbrk.New(1 << 20)
	a, _ := New(h)

	b1 := a.Alloc(1024)
	b2 := a.Alloc(48)

	fmt.Printf("b1: len=%d cap=%d\n", len(b1), cap(b1))
	fmt.Printf("b2: len=%d cap=%d\n", len(b2), cap(b2))

	a.Free(b2)
	a.Free(b1)
	fmt.Printf("free: %d\n", a.Available())

	// Output:
	// b1: len=1024 cap=1024
	// b2: len=48 cap=48
	// free: 4080
}
