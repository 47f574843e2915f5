// Package elf32 reads the fixed-layout records of little-endian ELF32
// relocatable objects: the file header, section headers, symbols and RELA
// relocation entries. It deliberately does not parse whole files the way
// [debug/elf] does; the loader walks records at byte offsets through a
// [Source], which allows the object to live either in a seekable file or
// already resident in word-access-only memory. Content validation is left to
// the caller.
package elf32

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/lunixbochs/struc"
)

// Record sizes on the wire.
const (
	HeaderSize        = 52
	SectionHeaderSize = 40
	SymbolSize        = 16
	RelaSize          = 12
)

// Magic is the 4-byte ELF identification prefix.
var Magic = [4]byte{0x7f, 'E', 'L', 'F'}

// Header is the Elf32_Ehdr record.
type Header struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	Phoff     uint32
	Shoff     uint32
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

// SectionHeader is the Elf32_Shdr record.
type SectionHeader struct {
	Name      uint32
	Type      uint32
	Flags     uint32
	Addr      uint32
	Offset    uint32
	Size      uint32
	Link      uint32
	Info      uint32
	Addralign uint32
	Entsize   uint32
}

// Symbol is the Elf32_Sym record.
type Symbol struct {
	Name  uint32
	Value uint32
	Size  uint32
	Info  uint8
	Other uint8
	Shndx uint16
}

// Rela is the Elf32_Rela record.
type Rela struct {
	Off    uint32
	Info   uint32
	Addend int32
}

// SymbolIndex extracts the symbol table index from the info word.
func (r *Rela) SymbolIndex() int {
	return int(r.Info >> 8)
}

// Type extracts the relocation type from the info word.
func (r *Rela) Type() uint8 {
	return uint8(r.Info & 0xff)
}

func readRecord(src Source, off int64, size int, record interface{}) error {
	buf := make([]byte, size)
	if err := src.ReadAt(off, buf); err != nil {
		return err
	}

	if err := struc.UnpackWithOptions(bytes.NewReader(buf), record, &struc.Options{Order: binary.LittleEndian}); err != nil {
		return fmt.Errorf("failed to unpack record at offset %d: %w", off, err)
	}

	return nil
}

// ReadHeader reads the ELF header at the start of the source. It performs no
// validation beyond the read itself.
func ReadHeader(src Source) (*Header, error) {
	header := &Header{}
	if err := readRecord(src, 0, HeaderSize, header); err != nil {
		return nil, fmt.Errorf("failed to read ELF header: %w", err)
	}

	return header, nil
}

// ReadSectionHeader reads the section header at the given index of the
// section header table starting at shoff.
func ReadSectionHeader(src Source, shoff uint32, index int) (*SectionHeader, error) {
	header := &SectionHeader{}
	off := int64(shoff) + int64(index)*SectionHeaderSize
	if err := readRecord(src, off, SectionHeaderSize, header); err != nil {
		return nil, fmt.Errorf("failed to read section header %d: %w", index, err)
	}

	return header, nil
}

// ReadSymbol reads the index-th entry of the symbol table starting at
// symtabOff.
func ReadSymbol(src Source, symtabOff uint32, index int) (*Symbol, error) {
	sym := &Symbol{}
	off := int64(symtabOff) + int64(index)*SymbolSize
	if err := readRecord(src, off, SymbolSize, sym); err != nil {
		return nil, fmt.Errorf("failed to read symbol %d: %w", index, err)
	}

	return sym, nil
}

// ReadRela reads the index-th entry of a RELA relocation section starting at
// off.
func ReadRela(src Source, off uint32, index int) (*Rela, error) {
	rela := &Rela{}
	pos := int64(off) + int64(index)*RelaSize
	if err := readRecord(src, pos, RelaSize, rela); err != nil {
		return nil, fmt.Errorf("failed to read relocation entry %d: %w", index, err)
	}

	return rela, nil
}

// Section and symbol names are expected to terminate well before this bound;
// the cap keeps a corrupt string table from turning into an endless scan.
const maxStringLen = 128

// ReadString reads a NUL-terminated string at off. Reading byte by byte keeps
// a name at the very end of the source from running past it.
func ReadString(src Source, off int64) (string, error) {
	var builder bytes.Buffer
	var b [1]byte

	for i := int64(0); i < maxStringLen; i++ {
		if err := src.ReadAt(off+i, b[:]); err != nil {
			return "", fmt.Errorf("failed to read string at offset %d: %w", off, err)
		}

		if b[0] == 0 {
			return builder.String(), nil
		}

		builder.WriteByte(b[0])
	}

	return builder.String(), nil
}
