package xtensa

import (
	"fmt"

	"github.com/lodepine/xtload/internal/align"
	"github.com/lodepine/xtload/internal/unalign"
)

// patchSlot0 decodes the instruction at relAddr by its opcode bits and
// rewrites the operand field so it refers to symAddr. Opcode patterns and
// field encodings follow the Xtensa ISA's slot 0 formats.
func patchSlot0(m unalign.Memory, relAddr uint32, symAddr uint32) error {
	v, err := unalign.Get32(m, relAddr)
	if err != nil {
		return err
	}

	switch {
	case v&0x0f == 0x01:
		// L32R: 16-bit word-scaled offset from the PC rounded up to a
		// word boundary
		return patchL32R(m, relAddr, symAddr)

	case v&0x0f == 0x05:
		// CALL0/CALL4/CALL8/CALL12: 18-bit word-scaled offset in bits 6..23
		return patchCall(m, relAddr, symAddr)

	case v&0x3f == 0x06:
		// J: 18-bit byte offset in bits 6..23
		return patchJump(m, relAddr, symAddr)

	case v&0x0f == 0x07, v&0x3f == 0x26, v&0x3f == 0x36 && v&0xff != 0x36:
		// BALL/BANY/BBC/BBS/BEQ/BGE/BLT/BNE/... and the immediate forms:
		// 8-bit byte offset in byte 2
		return patchBRI8(m, relAddr, symAddr)

	case v&0x3f == 0x16:
		// BEQZ/BGEZ/BLTZ/BNEZ: 12-bit byte offset in bits 12..23
		return patchBRI12(m, relAddr, symAddr)

	case v&0x8f == 0x8c:
		// BEQZ.N/BNEZ.N: 6-bit offset split across the two narrow bytes
		return patchRI6(m, relAddr, symAddr)
	}

	return fmt.Errorf("instruction word 0x%08x at 0x%08x: %w", v, relAddr, errUnknownOpcode)
}

func patchL32R(m unalign.Memory, relAddr uint32, symAddr uint32) error {
	delta := int32(symAddr) - int32(align.Down(relAddr+3, 4))
	if delta&3 != 0 {
		return fmt.Errorf("L32R literal delta 0x%08x: %w", uint32(delta), errTargetUnaligned)
	}

	delta >>= 2

	if err := unalign.Set8(m, relAddr+1, uint8(delta)); err != nil {
		return err
	}

	return unalign.Set8(m, relAddr+2, uint8(delta>>8))
}

func patchCall(m unalign.Memory, relAddr uint32, symAddr uint32) error {
	delta := int32(symAddr) - int32(align.Down(relAddr+4, 4))
	if delta&3 != 0 {
		return fmt.Errorf("CALL target delta 0x%08x: %w", uint32(delta), errTargetUnaligned)
	}

	delta >>= 2
	delta <<= 6

	low, err := unalign.Get8(m, relAddr)
	if err != nil {
		return err
	}
	delta |= int32(low)

	return storeBytes(m, relAddr, uint8(delta), uint8(delta>>8), uint8(delta>>16))
}

func patchJump(m unalign.Memory, relAddr uint32, symAddr uint32) error {
	delta := int32(symAddr-(relAddr+4)) << 6

	low, err := unalign.Get8(m, relAddr)
	if err != nil {
		return err
	}
	delta |= int32(low)

	return storeBytes(m, relAddr, uint8(delta), uint8(delta>>8), uint8(delta>>16))
}

func patchBRI8(m unalign.Memory, relAddr uint32, symAddr uint32) error {
	delta := int32(symAddr - (relAddr + 4))

	// The low byte is stored even when out of range, so a disassembly of the
	// failed image shows the truncated displacement.
	if err := unalign.Set8(m, relAddr+2, uint8(delta)); err != nil {
		return err
	}

	if delta < -(1<<7) || delta >= 1<<7 {
		return fmt.Errorf("BRI8 displacement %d: %w", delta, errBranchOutOfRange)
	}

	return nil
}

func patchBRI12(m unalign.Memory, relAddr uint32, symAddr uint32) error {
	delta := int32(symAddr - (relAddr + 4))

	word, err := unalign.Get32(m, relAddr+1)
	if err != nil {
		return err
	}

	enc := delta<<4 | int32(word)
	if err := unalign.Set8(m, relAddr+1, uint8(enc)); err != nil {
		return err
	}
	if err := unalign.Set8(m, relAddr+2, uint8(enc>>8)); err != nil {
		return err
	}

	if delta < -(1<<11) || delta >= 1<<11 {
		return fmt.Errorf("BRI12 displacement %d: %w", delta, errBranchOutOfRange)
	}

	return nil
}

func patchRI6(m unalign.Memory, relAddr uint32, symAddr uint32) error {
	delta := int32(symAddr - (relAddr + 4))

	w0, err := unalign.Get32(m, relAddr)
	if err != nil {
		return err
	}
	w1, err := unalign.Get32(m, relAddr+1)
	if err != nil {
		return err
	}

	d2 := delta&0x30 | int32(w0)
	d1 := delta<<4&0xf0 | int32(w1)

	if err := unalign.Set8(m, relAddr, uint8(d2)); err != nil {
		return err
	}
	if err := unalign.Set8(m, relAddr+1, uint8(d1)); err != nil {
		return err
	}

	if delta < 0 || delta > 0x111111 {
		return fmt.Errorf("RI6 displacement %d: %w", delta, errBranchOutOfRange)
	}

	return nil
}

func storeBytes(m unalign.Memory, addr uint32, bytes ...uint8) error {
	for i, b := range bytes {
		if err := unalign.Set8(m, addr+uint32(i), b); err != nil {
			return err
		}
	}

	return nil
}
