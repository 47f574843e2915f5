package elf32

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodepine/xtload/internal/mem"
	"github.com/lodepine/xtload/internal/unalign"
)

func stageInArena(t *testing.T, arena *mem.Arena, blob []byte) uint32 {
	t.Helper()

	base, err := arena.DataPool().Alloc(uint32(len(blob)))
	require.NoError(t, err)

	w := &unalign.Writer{Mem: arena, Addr: base}
	_, err = w.Write(blob)
	require.NoError(t, err)

	return base
}

func TestMemSourceMatchesFileSource(t *testing.T) {
	blob := make([]byte, 97)
	for i := range blob {
		blob[i] = byte(i * 7)
	}

	arena := mem.NewArena()
	base := stageInArena(t, arena, blob)

	file := &FileSource{R: bytes.NewReader(blob)}
	memory := &MemSource{Mem: arena, Base: base, Size: uint32(len(blob))}

	for _, tc := range []struct {
		off int64
		n   int
	}{
		{0, 16},
		{1, 5},
		{93, 4},
		{50, 1},
	} {
		fromFile := make([]byte, tc.n)
		fromMem := make([]byte, tc.n)

		require.NoError(t, file.ReadAt(tc.off, fromFile))
		require.NoError(t, memory.ReadAt(tc.off, fromMem))

		assert.Equal(t, fromFile, fromMem, "offset %d len %d", tc.off, tc.n)
	}
}

func TestMemSourceRejectsReadsBeyondImage(t *testing.T) {
	arena := mem.NewArena()
	base := stageInArena(t, arena, make([]byte, 8))

	src := &MemSource{Mem: arena, Base: base, Size: 8}

	assert.Error(t, src.ReadAt(5, make([]byte, 4)))
	assert.Error(t, src.ReadAt(-1, make([]byte, 1)))
	assert.NoError(t, src.ReadAt(4, make([]byte, 4)))
}
