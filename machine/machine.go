// Package machine boots a flat guest binary on one vcpu and drives it
// until it halts, faults, or exits abnormally.
package machine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	"github.com/nmi/flatkvm/image"
	"github.com/nmi/flatkvm/kvm"
	"github.com/nmi/flatkvm/memory"
)

const (
	// bootVCPU is the only vcpu. There is no fan-out.
	bootVCPU = 0

	// defaultMaxSlots is used when the backend cannot report a slot
	// count.
	defaultMaxSlots = 32

	// haltPoll is how long the loop idles between cancellation checks
	// once the guest has halted.
	haltPoll = time.Second
)

var (
	// ErrInitialization covers capability, VM and vcpu creation
	// failures.
	ErrInitialization = errors.New("hypervisor initialization failed")

	// ErrMemory covers allocation and region registration failures.
	ErrMemory = errors.New("guest memory setup failed")

	// ErrCPUState covers register get and set failures.
	ErrCPUState = errors.New("vcpu state access failed")

	// ErrRun means the resume primitive itself failed, as opposed to
	// returning a valid exit reason.
	ErrRun = errors.New("vcpu resume failed")
)

// State is the run loop state.
//
//go:generate stringer -type=State
type State int

const (
	// Running means the loop is still resuming the vcpu.
	Running State = iota
	// Halted is reached when the guest executes a halt instruction.
	Halted
	// Faulted is reached when the hardware could not even start
	// executing the guest.
	Faulted
	// Stopped is reached on any exit reason the loop does not handle.
	Stopped
)

// Result is the terminal outcome of the run loop: the state reached and
// the exit reason that put it there.
type Result struct {
	State    State
	Exit     kvm.ExitType
	HWReason uint64
}

func (r Result) String() string {
	switch r.State {
	case Faulted:
		return fmt.Sprintf("%s (%s, hardware reason %#x)", r.State, r.Exit, r.HWReason)
	case Stopped:
		return fmt.Sprintf("%s (%s)", r.State, r.Exit)
	default:
		return r.State.String()
	}
}

// Clock abstracts the halt-idle wait so tests can drive the loop without
// wall-clock sleeps.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Machine is one VM: a backend handle, one memory slot, one vcpu, and a
// console sink for guest port writes.
type Machine struct {
	backend Backend
	mem     *memory.Memory
	console io.Writer
	clock   Clock
	state   State
	result  Result
}

// New creates a machine on real KVM hardware. dev is the KVM device
// node, memSize the guest memory size in bytes (rounded up to the page
// size). Guest console output goes to console.
func New(dev string, memSize int, console io.Writer) (*Machine, error) {
	return NewWithBackend(NewKVMBackend(), dev, memSize, console)
}

// NewWithBackend creates a machine on an arbitrary backend. Setup
// failures are unrecoverable: the machine is unusable and the specific
// error kind is reported to the caller.
func NewWithBackend(b Backend, dev string, memSize int, console io.Writer) (*Machine, error) {
	m := &Machine{
		backend: b,
		console: console,
		clock:   realClock{},
		state:   Running,
	}

	if err := b.Init(dev); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitialization, err)
	}

	if err := b.CreateVM(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitialization, err)
	}

	maxSlots, err := b.CheckExtension(kvm.CapNRMemSlots)
	if err != nil || maxSlots == 0 {
		maxSlots = defaultMaxSlots
	}

	m.mem = memory.New(uint32(maxSlots))

	slot, err := m.mem.NewMemorySlot(0, 0, uint64(memSize), 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMemory, err)
	}

	if err := b.SetUserMemoryRegion(&kvm.UserspaceMemoryRegion{
		Slot:          slot.Slot,
		Flags:         slot.Flags,
		GuestPhysAddr: slot.GuestPhysAddr,
		MemorySize:    slot.Size,
		UserspaceAddr: slot.HostAddr(),
	}); err != nil {
		return nil, fmt.Errorf("%w: set user memory region: %w", ErrMemory, err)
	}

	if err := b.CreateVCPU(bootVCPU); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitialization, err)
	}

	if err := m.initRegs(bootVCPU); err != nil {
		return nil, err
	}

	if err := m.initSregs(bootVCPU); err != nil {
		return nil, err
	}

	return m, nil
}

// initRegs zeroes the general purpose registers so the guest starts
// fetching at guest physical address 0. RFLAGS keeps its always-one
// bit.
func (m *Machine) initRegs(id int) error {
	regs, err := m.backend.GetRegs(id)
	if err != nil {
		return fmt.Errorf("%w: get regs: %w", ErrCPUState, err)
	}

	regs.RIP = 0
	regs.RAX = 0
	regs.RBX = 0
	regs.RFLAGS = 2

	if err := m.backend.SetRegs(id, regs); err != nil {
		return fmt.Errorf("%w: set regs: %w", ErrCPUState, err)
	}

	return nil
}

// initSregs zeroes the code segment selector and base, matching the
// memory slot registered at guest physical address 0. No page tables
// are set up: the guest runs in the native low-address mode.
func (m *Machine) initSregs(id int) error {
	sregs, err := m.backend.GetSregs(id)
	if err != nil {
		return fmt.Errorf("%w: get sregs: %w", ErrCPUState, err)
	}

	sregs.CS.Selector = 0
	sregs.CS.Base = 0

	if err := m.backend.SetSregs(id, sregs); err != nil {
		return fmt.Errorf("%w: set sregs: %w", ErrCPUState, err)
	}

	return nil
}

// LoadImage copies the flat binary at path to guest physical address 0.
func (m *Machine) LoadImage(path string) error {
	slot, err := m.mem.FindSlot(0)
	if err != nil {
		return err
	}

	_, err = image.Load(path, slot)

	return err
}

// LoadImageBytes is LoadImage for an in-memory binary.
func (m *Machine) LoadImageBytes(b []byte) error {
	slot, err := m.mem.FindSlot(0)
	if err != nil {
		return err
	}

	_, err = image.LoadBytes(b, slot)

	return err
}

// GetRegs reads the general purpose registers of the boot vcpu.
func (m *Machine) GetRegs() (*kvm.Regs, error) {
	regs, err := m.backend.GetRegs(bootVCPU)
	if err != nil {
		return nil, fmt.Errorf("%w: get regs: %w", ErrCPUState, err)
	}

	return regs, nil
}

// GetSregs reads the special registers of the boot vcpu.
func (m *Machine) GetSregs() (*kvm.Sregs, error) {
	sregs, err := m.backend.GetSregs(bootVCPU)
	if err != nil {
		return nil, fmt.Errorf("%w: get sregs: %w", ErrCPUState, err)
	}

	return sregs, nil
}

// SingleStep enables or disables single stepping with debug exits.
func (m *Machine) SingleStep(onoff bool) error {
	var dbg kvm.GuestDebug

	if onoff {
		dbg.Control = kvm.GuestDebugEnable | kvm.GuestDebugSingleStep
	}

	if err := m.backend.SetGuestDebug(bootVCPU, &dbg); err != nil {
		return fmt.Errorf("%w: set guest debug: %w", ErrCPUState, err)
	}

	return nil
}

// SetClock replaces the halt-idle clock, so tests can drive the idle
// wait without real sleeps.
func (m *Machine) SetClock(c Clock) {
	m.clock = c
}

// State returns the current run loop state.
func (m *Machine) State() State {
	return m.state
}

// Result returns the terminal outcome once the loop has stopped.
func (m *Machine) Result() Result {
	return m.result
}

// Close tears down guest memory and the backend.
func (m *Machine) Close() error {
	err := m.mem.Close()

	if e := m.backend.Close(); e != nil && err == nil {
		err = e
	}

	return err
}

// RunInfiniteLoop resumes the vcpu and dispatches exits until a terminal
// state is reached or ctx is cancelled. A kvm.ErrDebug return means a
// single-step exit; the caller may trace and re-enter.
//
// vcpu ioctls should be issued from the thread that created the vcpu,
// so the loop pins its OS thread.
// refs https://www.kernel.org/doc/Documentation/virtual/kvm/api.txt
func (m *Machine) RunInfiniteLoop(ctx context.Context) (Result, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		isContinue, err := m.RunOnce(ctx)
		if err != nil {
			return m.result, err
		}

		if !isContinue {
			return m.result, nil
		}
	}
}

// RunOnce performs one resume-and-dispatch iteration. It returns false
// once a terminal state has been reached.
func (m *Machine) RunOnce(ctx context.Context) (bool, error) {
	exit, err := m.backend.Run(bootVCPU)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrRun, err)
	}

	switch exit.Reason {
	case kvm.EXITHLT:
		return false, m.idle(ctx)
	case kvm.EXITIO:
		if exit.In {
			// No input path back to the guest exists.
			m.stop(exit)

			return false, nil
		}

		return true, m.consoleWrite(exit.Data)
	case kvm.EXITFAILENTRY:
		m.state = Faulted
		m.result = Result{State: Faulted, Exit: exit.Reason, HWReason: exit.HWReason}

		return false, nil
	case kvm.EXITINTR:
		// A host signal interrupted the resume; nothing happened. If
		// that signal also cancelled the context, stop instead of
		// resuming.
		if ctx.Err() != nil {
			m.stop(exit)

			return false, nil
		}

		return true, nil
	case kvm.EXITDEBUG:
		return false, kvm.ErrDebug
	default:
		m.stop(exit)

		return false, nil
	}
}

func (m *Machine) stop(exit *Exit) {
	m.state = Stopped
	m.result = Result{State: Stopped, Exit: exit.Reason, HWReason: exit.HWReason}
}

// idle parks the loop after a guest halt. The vcpu is never resumed
// again; the wait ends only when ctx is cancelled.
func (m *Machine) idle(ctx context.Context) error {
	m.state = Halted
	m.result = Result{State: Halted, Exit: kvm.EXITHLT}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.clock.After(haltPoll):
		}
	}
}

// consoleWrite forwards guest port writes verbatim and in order to the
// console, interpreted as UTF-8 with invalid sequences replaced.
func (m *Machine) consoleWrite(data []byte) error {
	s := strings.ToValidUTF8(string(data), "�")

	if _, err := io.WriteString(m.console, s); err != nil {
		return fmt.Errorf("console write: %w", err)
	}

	return nil
}
