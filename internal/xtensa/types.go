package xtensa

import "fmt"

// R_XTENSA is an Xtensa ELF relocation type. The standard debug/elf package
// stops at the machine id (EM_XTENSA) and defines no relocation enum for
// Xtensa, so the values are declared here, per the Xtensa processor-specific
// ELF ABI.
type R_XTENSA int

const (
	R_XTENSA_NONE         R_XTENSA = 0
	R_XTENSA_32           R_XTENSA = 1
	R_XTENSA_RTLD         R_XTENSA = 2
	R_XTENSA_GLOB_DAT     R_XTENSA = 3
	R_XTENSA_JMP_SLOT     R_XTENSA = 4
	R_XTENSA_RELATIVE     R_XTENSA = 5
	R_XTENSA_PLT          R_XTENSA = 6
	R_XTENSA_ASM_EXPAND   R_XTENSA = 11
	R_XTENSA_ASM_SIMPLIFY R_XTENSA = 12
	R_XTENSA_SLOT0_OP     R_XTENSA = 20
)

var rXtensaNames = map[R_XTENSA]string{
	R_XTENSA_NONE:         "R_XTENSA_NONE",
	R_XTENSA_32:           "R_XTENSA_32",
	R_XTENSA_RTLD:         "R_XTENSA_RTLD",
	R_XTENSA_GLOB_DAT:     "R_XTENSA_GLOB_DAT",
	R_XTENSA_JMP_SLOT:     "R_XTENSA_JMP_SLOT",
	R_XTENSA_RELATIVE:     "R_XTENSA_RELATIVE",
	R_XTENSA_PLT:          "R_XTENSA_PLT",
	R_XTENSA_ASM_EXPAND:   "R_XTENSA_ASM_EXPAND",
	R_XTENSA_ASM_SIMPLIFY: "R_XTENSA_ASM_SIMPLIFY",
	R_XTENSA_SLOT0_OP:     "R_XTENSA_SLOT0_OP",
}

func (t R_XTENSA) String() string {
	if name, ok := rXtensaNames[t]; ok {
		return name
	}

	return fmt.Sprintf("R_XTENSA_%d", int(t))
}
