package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/lunixbochs/struc"
	"github.com/stretchr/testify/require"

	"github.com/lodepine/xtload/internal/elf32"
	"github.com/lodepine/xtload/internal/mem"
	"github.com/lodepine/xtload/internal/xtensa"
)

func TestMain(m *testing.M) {
	// The loader narrates its walk at info level; keep test output readable
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	os.Exit(m.Run())
}

// objBuilder assembles a minimal ELF32 relocatable object in memory: caller
// sections in the order added, then .symtab, .strtab and .shstrtab, with the
// section header table at the end of the file.
type objBuilder struct {
	sections []*builderSection
	symbols  []elf32.Symbol
	symNames []string

	omitSymtab bool
	omitStrtab bool
	badMagic   bool
}

type builderSection struct {
	name  string
	typ   uint32
	flags uint32
	info  uint32
	data  []byte
	size  uint32
	relas []elf32.Rela
}

func newObjBuilder() *objBuilder {
	return &objBuilder{
		symbols:  []elf32.Symbol{{}},
		symNames: []string{""},
	}
}

// section adds a section and returns its index in the section header table.
func (b *objBuilder) section(name string, typ elf.SectionType, flags elf.SectionFlag, data []byte) int {
	b.sections = append(b.sections, &builderSection{
		name:  name,
		typ:   uint32(typ),
		flags: uint32(flags),
		data:  data,
	})

	return len(b.sections)
}

func (b *objBuilder) nobits(name string, size uint32) int {
	b.sections = append(b.sections, &builderSection{
		name:  name,
		typ:   uint32(elf.SHT_NOBITS),
		flags: uint32(elf.SHF_ALLOC),
		size:  size,
	})

	return len(b.sections)
}

// symbol adds a symbol table entry and returns its index. An empty name
// leaves st_name zero, making the symbol carry its section's name.
func (b *objBuilder) symbol(name string, shndx uint16, value uint32) int {
	b.symbols = append(b.symbols, elf32.Symbol{Value: value, Shndx: shndx})
	b.symNames = append(b.symNames, name)

	return len(b.symbols) - 1
}

// rela adds a RELA section whose sh_info names the section it targets.
func (b *objBuilder) rela(target uint32, entries ...elf32.Rela) int {
	b.sections = append(b.sections, &builderSection{
		name:  ".rela",
		typ:   uint32(elf.SHT_RELA),
		info:  target,
		relas: entries,
	})

	return len(b.sections)
}

func relaInfo(symbolIndex int, typ xtensa.R_XTENSA) uint32 {
	return uint32(symbolIndex)<<8 | uint32(typ)
}

func (b *objBuilder) build(t *testing.T) []byte {
	t.Helper()

	opts := &struc.Options{Order: binary.LittleEndian}

	strtab := &bytes.Buffer{}
	strtab.WriteByte(0)
	symtab := &bytes.Buffer{}

	for i := range b.symbols {
		record := b.symbols[i]
		if name := b.symNames[i]; name != "" {
			record.Name = uint32(strtab.Len())
			strtab.WriteString(name)
			strtab.WriteByte(0)
		}

		require.NoError(t, struc.PackWithOptions(symtab, &record, opts))
	}

	type finalSection struct {
		header elf32.SectionHeader
		name   string
		data   []byte
	}

	finals := []*finalSection{{}}

	for _, s := range b.sections {
		data := s.data
		if s.relas != nil {
			buf := &bytes.Buffer{}
			for i := range s.relas {
				require.NoError(t, struc.PackWithOptions(buf, &s.relas[i], opts))
			}

			data = buf.Bytes()
		}

		size := s.size
		if data != nil {
			size = uint32(len(data))
		}

		finals = append(finals, &finalSection{
			header: elf32.SectionHeader{
				Type:  s.typ,
				Flags: s.flags,
				Size:  size,
				Info:  s.info,
			},
			name: s.name,
			data: data,
		})
	}

	if !b.omitSymtab {
		finals = append(finals, &finalSection{
			header: elf32.SectionHeader{
				Type:    uint32(elf.SHT_SYMTAB),
				Size:    uint32(symtab.Len()),
				Entsize: elf32.SymbolSize,
			},
			name: ".symtab",
			data: symtab.Bytes(),
		})
	}

	if !b.omitStrtab {
		finals = append(finals, &finalSection{
			header: elf32.SectionHeader{
				Type: uint32(elf.SHT_STRTAB),
				Size: uint32(strtab.Len()),
			},
			name: ".strtab",
			data: strtab.Bytes(),
		})
	}

	finals = append(finals, &finalSection{
		header: elf32.SectionHeader{Type: uint32(elf.SHT_STRTAB)},
		name:   ".shstrtab",
	})
	shstrndx := len(finals) - 1

	shstrtab := &bytes.Buffer{}
	shstrtab.WriteByte(0)
	for _, f := range finals[1:] {
		f.header.Name = uint32(shstrtab.Len())
		shstrtab.WriteString(f.name)
		shstrtab.WriteByte(0)
	}
	finals[shstrndx].data = shstrtab.Bytes()
	finals[shstrndx].header.Size = uint32(shstrtab.Len())

	blob := &bytes.Buffer{}
	blob.Write(make([]byte, elf32.HeaderSize))

	for _, f := range finals[1:] {
		if f.data == nil {
			continue
		}

		f.header.Offset = uint32(blob.Len())
		blob.Write(f.data)
	}

	shoff := uint32(blob.Len())
	for _, f := range finals {
		require.NoError(t, struc.PackWithOptions(blob, &f.header, opts))
	}

	header := &elf32.Header{
		Type:      uint16(elf.ET_REL),
		Machine:   uint16(elf.EM_XTENSA),
		Version:   1,
		Shoff:     shoff,
		Ehsize:    elf32.HeaderSize,
		Shentsize: elf32.SectionHeaderSize,
		Shnum:     uint16(len(finals)),
		Shstrndx:  uint16(shstrndx),
	}
	copy(header.Ident[:], elf32.Magic[:])
	header.Ident[4] = 1 // ELFCLASS32
	header.Ident[5] = 1 // ELFDATA2LSB
	header.Ident[6] = 1 // EV_CURRENT

	if b.badMagic {
		header.Ident[0] = 0x7e
	}

	headerBytes := &bytes.Buffer{}
	require.NoError(t, struc.PackWithOptions(headerBytes, header, opts))

	out := blob.Bytes()
	copy(out[:elf32.HeaderSize], headerBytes.Bytes())

	return out
}

func newBlobReader(t *testing.T, b *objBuilder) *bytes.Reader {
	t.Helper()

	return bytes.NewReader(b.build(t))
}

// loadObj builds the object and runs the full init pipeline against a fresh
// arena.
func loadObj(t *testing.T, b *objBuilder, env *Env, dispatcher Dispatcher) (*Context, *mem.Arena, error) {
	t.Helper()

	arena := mem.NewArena()
	config := Config{
		Exec:       arena.ExecPool(),
		Data:       arena.DataPool(),
		Mem:        arena,
		Dispatcher: dispatcher,
	}

	src := &elf32.FileSource{R: bytes.NewReader(b.build(t))}
	ctx, err := InitLoadAndRelocate(src, env, config)

	return ctx, arena, err
}

type fakeDispatcher struct {
	entry  uint32
	arg    int32
	result int32
	err    error
}

func (d *fakeDispatcher) Dispatch(entry uint32, arg int32) (int32, error) {
	d.entry = entry
	d.arg = arg

	return d.result, d.err
}
