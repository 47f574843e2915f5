package elf32

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/lunixbochs/struc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pack(t *testing.T, w *bytes.Buffer, record interface{}) {
	t.Helper()
	require.NoError(t, struc.PackWithOptions(w, record, &struc.Options{Order: binary.LittleEndian}))
}

func TestRecordSizesMatchWireFormat(t *testing.T) {
	buf := &bytes.Buffer{}

	pack(t, buf, &Header{})
	assert.Equal(t, HeaderSize, buf.Len())

	buf.Reset()
	pack(t, buf, &SectionHeader{})
	assert.Equal(t, SectionHeaderSize, buf.Len())

	buf.Reset()
	pack(t, buf, &Symbol{})
	assert.Equal(t, SymbolSize, buf.Len())

	buf.Reset()
	pack(t, buf, &Rela{})
	assert.Equal(t, RelaSize, buf.Len())
}

func TestReadHeaderRoundtrip(t *testing.T) {
	header := &Header{
		Type:     1,
		Machine:  94,
		Version:  1,
		Shoff:    0x1234,
		Shnum:    7,
		Shstrndx: 6,
	}
	copy(header.Ident[:], Magic[:])

	buf := &bytes.Buffer{}
	pack(t, buf, header)

	got, err := ReadHeader(&FileSource{R: bytes.NewReader(buf.Bytes())})
	require.NoError(t, err)
	assert.Equal(t, header, got)
}

func TestReadSectionHeaderIndexesTable(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.Write(make([]byte, 64)) // unrelated leading bytes

	headers := []*SectionHeader{
		{Name: 1, Type: 1, Size: 0x10},
		{Name: 9, Type: 4, Size: 0x24, Info: 1, Offset: 0x400},
	}
	for _, header := range headers {
		pack(t, buf, header)
	}

	src := &FileSource{R: bytes.NewReader(buf.Bytes())}

	for i, want := range headers {
		got, err := ReadSectionHeader(src, 64, i)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestReadSymbolAndRela(t *testing.T) {
	buf := &bytes.Buffer{}

	sym := &Symbol{Name: 5, Value: 0x40, Size: 12, Info: 0x12, Shndx: 2}
	pack(t, buf, &Symbol{}) // null entry at index 0
	pack(t, buf, sym)

	relaOff := buf.Len()
	rela := &Rela{Off: 8, Info: 1<<8 | 20, Addend: -4}
	pack(t, buf, rela)

	src := &FileSource{R: bytes.NewReader(buf.Bytes())}

	gotSym, err := ReadSymbol(src, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, sym, gotSym)

	gotRela, err := ReadRela(src, uint32(relaOff), 0)
	require.NoError(t, err)
	assert.Equal(t, rela, gotRela)
	assert.Equal(t, 1, gotRela.SymbolIndex())
	assert.Equal(t, uint8(20), gotRela.Type())
}

func TestReadBeyondSourceFails(t *testing.T) {
	src := &FileSource{R: bytes.NewReader(make([]byte, 10))}

	_, err := ReadHeader(src)
	assert.Error(t, err)
}

func TestReadString(t *testing.T) {
	blob := []byte("\x00.text\x00.symtab\x00")
	src := &FileSource{R: bytes.NewReader(blob)}

	name, err := ReadString(src, 1)
	require.NoError(t, err)
	assert.Equal(t, ".text", name)

	name, err = ReadString(src, 7)
	require.NoError(t, err)
	assert.Equal(t, ".symtab", name)

	// Offset 0 is the conventional empty string
	name, err = ReadString(src, 0)
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestReadStringAtEndOfSource(t *testing.T) {
	// Terminator is the final byte; a fixed-size read would run past the end
	blob := []byte("main\x00")
	src := &FileSource{R: bytes.NewReader(blob)}

	name, err := ReadString(src, 0)
	require.NoError(t, err)
	assert.Equal(t, "main", name)
}
