// Package align contains utilities for aligning addresses inside the loaded image
package align

// Address aligns the given address up to a multiple of alignment
func Address[N uint32 | uint64 | int](addr N, alignment N) N {
	if alignment == 0 {
		return addr
	}

	return ((addr + alignment - 1) / alignment) * alignment
}

// Down aligns the given address down to a multiple of alignment
func Down[N uint32 | uint64 | int](addr N, alignment N) N {
	if alignment == 0 {
		return addr
	}

	return (addr / alignment) * alignment
}
