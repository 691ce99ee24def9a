package buf

// Slab classes follow https://github.com/xtaci/smux/blob/master/alloc.go

import (
	"math/bits"
	"sync"
)

const (
	minSlabBits = 6
	maxSlabBits = 16
)

var slabs [maxSlabBits - minSlabBits + 1]sync.Pool

func init() {
	for index := range slabs {
		size := 1 << (index + minSlabBits)
		slabs[index].New = func() any {
			slab := make([]byte, size)
			return &slab
		}
	}
}

// Get returns a slice of length size. Sizes up to 64KiB come from power-of-two pools.
func Get(size int) []byte {
	if size <= 0 {
		return nil
	}
	if size > 1<<maxSlabBits {
		return make([]byte, size)
	}
	index := slabIndex(size)
	return (*slabs[index].Get().(*[]byte))[:size]
}

// Put hands a slice obtained from Get back to its pool.
// Slices that do not belong to a slab class are dropped.
func Put(buffer []byte) {
	size := cap(buffer)
	if size < 1<<minSlabBits || size > 1<<maxSlabBits || size&(size-1) != 0 {
		return
	}
	buffer = buffer[:size]
	slabs[slabIndex(size)].Put(&buffer)
}

func slabIndex(size int) int {
	if size <= 1<<minSlabBits {
		return 0
	}
	return bits.Len(uint(size-1)) - minSlabBits
}
