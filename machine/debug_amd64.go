package machine

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"github.com/nmi/flatkvm/kvm"
)

// instBytes is how many bytes we grab at RIP for decoding. The longest
// x86 instruction is 15 bytes.
const instBytes = 16

// Inst retrieves the instruction at RIP. It returns the decoded
// x86asm.Inst, the registers, and a string in GNU syntax. The guest
// runs without paging, so RIP is a guest physical address.
func (m *Machine) Inst() (*x86asm.Inst, *kvm.Regs, string, error) {
	r, err := m.GetRegs()
	if err != nil {
		return nil, nil, "", fmt.Errorf("Inst:GetRegs:%w", err)
	}

	slot, err := m.mem.FindSlot(r.RIP)
	if err != nil {
		return nil, nil, "", fmt.Errorf("RIP %#x outside guest memory:%w", r.RIP, err)
	}

	insn := make([]byte, instBytes)
	if _, err := slot.ReadAt(insn, int64(r.RIP-slot.GuestPhysAddr)); err != nil {
		return nil, nil, "", fmt.Errorf("reading RIP at %#x:%w", r.RIP, err)
	}

	// Flat boot starts in 16-bit real mode.
	d, err := x86asm.Decode(insn, 16)
	if err != nil {
		return nil, nil, "", fmt.Errorf("decoding %#02x:%w", insn, err)
	}

	return &d, r, x86asm.GNUSyntax(d, r.RIP, nil), nil
}

// Asm returns a string for the given instruction at the given pc.
func Asm(d *x86asm.Inst, pc uint64) string {
	return "\"" + x86asm.GNUSyntax(*d, pc, nil) + "\""
}
