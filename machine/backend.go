package machine

import (
	"github.com/nmi/flatkvm/kvm"
)

// Exit is one return of control from the guest to the host, reduced to
// what the run loop dispatches on.
type Exit struct {
	Reason kvm.ExitType

	// In, Port and Data are set for EXITIO.
	In   bool
	Port uint64
	Data []byte

	// HWReason carries the hardware failure code for EXITFAILENTRY and
	// EXITINTERNALERROR exits.
	HWReason uint64
}

// Backend is the host virtualization capability. Every interaction with
// the facility -- creating the VM context, registering memory, creating
// vcpus, touching registers, resuming execution -- goes through it, so
// the run loop can be driven by a software double on hosts without
// /dev/kvm.
type Backend interface {
	// Init acquires the capability, e.g. opens the KVM device node.
	Init(dev string) error

	// CreateVM creates the VM execution context. Called once.
	CreateVM() error

	// CheckExtension queries an optional capability of the facility.
	CheckExtension(c kvm.Capability) (uintptr, error)

	// SetUserMemoryRegion registers host memory as guest physical
	// memory.
	SetUserMemoryRegion(region *kvm.UserspaceMemoryRegion) error

	// CreateVCPU creates the vcpu with the given id.
	CreateVCPU(id int) error

	GetRegs(id int) (*kvm.Regs, error)
	SetRegs(id int, regs *kvm.Regs) error
	GetSregs(id int) (*kvm.Sregs, error)
	SetSregs(id int, sregs *kvm.Sregs) error

	// SetGuestDebug controls debug exits, e.g. single stepping.
	SetGuestDebug(id int, dbg *kvm.GuestDebug) error

	// Run resumes the vcpu and blocks until the next exit. A non-nil
	// error means the resume primitive itself failed, as opposed to a
	// valid exit reason.
	Run(id int) (*Exit, error)

	// Close releases everything the backend acquired.
	Close() error
}
