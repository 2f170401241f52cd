package machine

import (
	"errors"
	"fmt"

	"github.com/nmi/flatkvm/kvm"
)

// ErrScriptExhausted is returned by StubBackend.Run when it has replayed
// every scripted exit.
var ErrScriptExhausted = errors.New("stub backend: exit script exhausted")

// StubBackend is a software stand-in for the hardware facility. It
// replays a scripted sequence of exits and keeps register state in maps,
// so the run loop and the register setup can be exercised on hosts
// without /dev/kvm.
//
// The zero value is usable; populate Exits before running.
type StubBackend struct {
	// Exits is the script replayed by Run, one element per call.
	Exits []Exit

	// Errors injected into the corresponding setup step.
	InitErr       error
	CreateVMErr   error
	CreateVCPUErr error
	RegsErr       error
	RunErr        error

	// Recorded state.
	Dev        string
	Regions    []kvm.UserspaceMemoryRegion
	RunCalls   int
	DebugCtrl  uint32
	MaxSlots   uintptr
	regs       map[int]*kvm.Regs
	sregs      map[int]*kvm.Sregs
	vmCreated  bool
	nextExit   int
}

func (b *StubBackend) Init(dev string) error {
	if b.InitErr != nil {
		return b.InitErr
	}

	b.Dev = dev
	b.regs = make(map[int]*kvm.Regs)
	b.sregs = make(map[int]*kvm.Sregs)

	return nil
}

func (b *StubBackend) CreateVM() error {
	if b.CreateVMErr != nil {
		return b.CreateVMErr
	}

	b.vmCreated = true

	return nil
}

func (b *StubBackend) CheckExtension(c kvm.Capability) (uintptr, error) {
	if c == kvm.CapNRMemSlots && b.MaxSlots > 0 {
		return b.MaxSlots, nil
	}

	return 1, nil
}

func (b *StubBackend) SetUserMemoryRegion(region *kvm.UserspaceMemoryRegion) error {
	for _, r := range b.Regions {
		if r.Slot == region.Slot {
			return fmt.Errorf("%w: slot %d", ErrMemory, region.Slot)
		}
	}

	b.Regions = append(b.Regions, *region)

	return nil
}

func (b *StubBackend) CreateVCPU(id int) error {
	if b.CreateVCPUErr != nil {
		return b.CreateVCPUErr
	}

	if _, ok := b.regs[id]; ok {
		return fmt.Errorf("vcpu %d already exists", id)
	}

	// Mimic the x86 reset state so the flat boot setup has something
	// real to overwrite.
	b.regs[id] = &kvm.Regs{RIP: 0xFFF0, RFLAGS: 2}

	sregs := &kvm.Sregs{}
	sregs.CS.Selector = 0xF000
	sregs.CS.Base = 0xFFFF0000
	b.sregs[id] = sregs

	return nil
}

func (b *StubBackend) GetRegs(id int) (*kvm.Regs, error) {
	if b.RegsErr != nil {
		return nil, b.RegsErr
	}

	r, ok := b.regs[id]
	if !ok {
		return nil, fmt.Errorf("no such vcpu %d", id)
	}

	cp := *r

	return &cp, nil
}

func (b *StubBackend) SetRegs(id int, regs *kvm.Regs) error {
	if b.RegsErr != nil {
		return b.RegsErr
	}

	if _, ok := b.regs[id]; !ok {
		return fmt.Errorf("no such vcpu %d", id)
	}

	cp := *regs
	b.regs[id] = &cp

	return nil
}

func (b *StubBackend) GetSregs(id int) (*kvm.Sregs, error) {
	if b.RegsErr != nil {
		return nil, b.RegsErr
	}

	s, ok := b.sregs[id]
	if !ok {
		return nil, fmt.Errorf("no such vcpu %d", id)
	}

	cp := *s

	return &cp, nil
}

func (b *StubBackend) SetSregs(id int, sregs *kvm.Sregs) error {
	if b.RegsErr != nil {
		return b.RegsErr
	}

	if _, ok := b.sregs[id]; !ok {
		return fmt.Errorf("no such vcpu %d", id)
	}

	cp := *sregs
	b.sregs[id] = &cp

	return nil
}

func (b *StubBackend) SetGuestDebug(id int, dbg *kvm.GuestDebug) error {
	b.DebugCtrl = dbg.Control

	return nil
}

func (b *StubBackend) Run(id int) (*Exit, error) {
	b.RunCalls++

	if b.RunErr != nil {
		return nil, b.RunErr
	}

	if b.nextExit >= len(b.Exits) {
		return nil, ErrScriptExhausted
	}

	e := b.Exits[b.nextExit]
	b.nextExit++

	return &e, nil
}

func (b *StubBackend) Close() error {
	return nil
}
