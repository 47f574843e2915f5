// Package mem models the loader's view of target memory: a 32-bit address
// space carved into regions handed out by two pools, one capable of holding
// machine code and one for plain data. Region storage is word-granular, so
// every access goes through naturally aligned 32-bit loads and stores, the
// same constraint instruction memory imposes on the target.
package mem

import (
	"errors"
	"fmt"

	"github.com/lodepine/xtload/internal/align"
)

// Pool hands out regions of the arena's address space. Alloc returns the base
// address of a fresh zeroed region; Free releases a region at teardown. There
// is no resizing.
type Pool interface {
	Alloc(size uint32) (uint32, error)
	Free(base uint32) error
}

var (
	errZeroSizeAllocation = errors.New("zero-size allocation")
	errUnknownRegion      = errors.New("address is not the base of a live region")
	errWrongPool          = errors.New("region belongs to the other pool")
	errUnalignedAccess    = errors.New("word access to unaligned address")
	errUnmappedAddress    = errors.New("address is not mapped")
)

type regionKind int

const (
	regionData regionKind = iota
	regionExec
)

type region struct {
	base  uint32
	size  uint32
	kind  regionKind
	words []uint32
}

// Arena is a bump allocator over a private 32-bit address space. It backs both
// pool capabilities and implements the word memory the unaligned accessors
// consume. An Arena is not safe for concurrent use.
type Arena struct {
	regions []*region
	next    uint32
}

const (
	// Leave address zero and its surroundings unmapped, so a zero address can
	// serve as "no section" / "no entry".
	arenaBase = 0x1000

	// Gap between regions; keeps a stray out-of-bounds write from landing in
	// the next region unnoticed.
	regionGuard = 4
)

func NewArena() *Arena {
	return &Arena{next: arenaBase}
}

func (a *Arena) alloc(size uint32, kind regionKind) (uint32, error) {
	if size == 0 {
		return 0, errZeroSizeAllocation
	}

	r := &region{
		base:  a.next,
		size:  size,
		kind:  kind,
		words: make([]uint32, align.Address(size, 4)/4),
	}

	a.regions = append(a.regions, r)
	a.next = align.Address(r.base+size, 4) + regionGuard

	return r.base, nil
}

func (a *Arena) free(base uint32, kind regionKind) error {
	for i, r := range a.regions {
		if r.base != base {
			continue
		}

		if r.kind != kind {
			return fmt.Errorf("region at 0x%08x: %w", base, errWrongPool)
		}

		a.regions = append(a.regions[:i], a.regions[i+1:]...)
		return nil
	}

	return fmt.Errorf("region at 0x%08x: %w", base, errUnknownRegion)
}

func (a *Arena) region(addr uint32) *region {
	for _, r := range a.regions {
		if addr >= r.base && addr < r.base+uint32(len(r.words))*4 {
			return r
		}
	}

	return nil
}

// LoadWord reads the naturally aligned 32-bit word at addr.
func (a *Arena) LoadWord(addr uint32) (uint32, error) {
	if addr&3 != 0 {
		return 0, fmt.Errorf("load of 0x%08x: %w", addr, errUnalignedAccess)
	}

	r := a.region(addr)
	if r == nil {
		return 0, fmt.Errorf("load of 0x%08x: %w", addr, errUnmappedAddress)
	}

	return r.words[(addr-r.base)/4], nil
}

// StoreWord writes the naturally aligned 32-bit word at addr.
func (a *Arena) StoreWord(addr uint32, word uint32) error {
	if addr&3 != 0 {
		return fmt.Errorf("store to 0x%08x: %w", addr, errUnalignedAccess)
	}

	r := a.region(addr)
	if r == nil {
		return fmt.Errorf("store to 0x%08x: %w", addr, errUnmappedAddress)
	}

	r.words[(addr-r.base)/4] = word
	return nil
}

// Executable reports whether addr lies inside a region handed out by the
// executable-capable pool, i.e. whether the target CPU could fetch
// instructions from it.
func (a *Arena) Executable(addr uint32) bool {
	r := a.region(addr)
	return r != nil && r.kind == regionExec
}

// LiveBytes is the total requested size of all regions not yet freed.
func (a *Arena) LiveBytes() uint32 {
	total := uint32(0)
	for _, r := range a.regions {
		total += r.size
	}

	return total
}

type pool struct {
	arena *Arena
	kind  regionKind
}

func (p *pool) Alloc(size uint32) (uint32, error) {
	return p.arena.alloc(size, p.kind)
}

func (p *pool) Free(base uint32) error {
	return p.arena.free(base, p.kind)
}

// ExecPool returns the executable-capable allocation capability of the arena.
func (a *Arena) ExecPool() Pool {
	return &pool{arena: a, kind: regionExec}
}

// DataPool returns the data-only allocation capability of the arena.
func (a *Arena) DataPool() Pool {
	return &pool{arena: a, kind: regionData}
}
