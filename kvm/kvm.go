package kvm

import (
	"fmt"
	"os"
	"unsafe"
)

// ioctl request numbers from linux/kvm.h.
const (
	kvmGetAPIVersion   = 0x00
	kvmCreateVM        = 0x01
	kvmCheckExtension  = 0x03
	kvmGetVCPUMMapSize = 0x04
	kvmCreateVCPU      = 0x41
	kvmSetUserMemory   = 0x46
	kvmRun             = 0x80
	kvmGetRegs         = 0x81
	kvmSetRegs         = 0x82
	kvmGetSregs        = 0x83
	kvmSetSregs        = 0x84
	kvmSetGuestDebug   = 0x9b

	// APIVersion is the stable KVM API version. Anything else is
	// unusable.
	APIVersion = 12

	numInterrupts = 0x100
)

// Open opens the KVM device node, e.g. /dev/kvm, and verifies the API
// version before handing out the fd.
func Open(path string) (*os.File, error) {
	devKVM, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	version, err := GetAPIVersion(devKVM.Fd())
	if err != nil {
		devKVM.Close()

		return nil, fmt.Errorf("%s: get api version: %w", path, err)
	}

	if version != APIVersion {
		devKVM.Close()

		return nil, fmt.Errorf("%w: have %d, want %d", ErrAPIVersion, version, APIVersion)
	}

	return devKVM, nil
}

// GetAPIVersion returns the KVM API version of the running kernel.
func GetAPIVersion(kvmFd uintptr) (uintptr, error) {
	return Ioctl(kvmFd, IIO(kvmGetAPIVersion), 0)
}

// CreateVM creates a VM file descriptor from the KVM device fd.
func CreateVM(kvmFd uintptr) (uintptr, error) {
	return Ioctl(kvmFd, IIO(kvmCreateVM), 0)
}

// CreateVCPU creates a vcpu with the given id on a vm fd.
func CreateVCPU(vmFd uintptr, vcpuID int) (uintptr, error) {
	return Ioctl(vmFd, IIO(kvmCreateVCPU), uintptr(vcpuID))
}

// Run resumes guest execution on a vcpu until the next exit. The exit
// reason is reported through the vcpu's mmaped RunData, not the return
// value.
func Run(vcpuFd uintptr) error {
	_, err := Ioctl(vcpuFd, IIO(kvmRun), 0)

	return err
}

// GetVCPUMMmapSize returns the size of the shared vcpu region that must
// be mmaped from a vcpu fd to reach its RunData.
func GetVCPUMMmapSize(kvmFd uintptr) (uintptr, error) {
	return Ioctl(kvmFd, IIO(kvmGetVCPUMMapSize), 0)
}

// RunData is the kvm_run structure shared between kernel and userspace.
// Data overlays the exit-reason union.
type RunData struct {
	RequestInterruptWindow     uint8
	_                          [7]uint8
	ExitReason                 uint32
	ReadyForInterruptInjection uint8
	IfFlag                     uint8
	_                          [2]uint8
	CR8                        uint64
	ApicBase                   uint64
	Data                       [32]uint64
}

// IO decodes the io exit union: direction, operand size in bytes, port,
// repetition count, and the offset of the data area relative to the
// start of RunData.
func (r *RunData) IO() (uint64, uint64, uint64, uint64, uint64) {
	direction := r.Data[0] & 0xFF
	size := (r.Data[0] >> 8) & 0xFF
	port := (r.Data[0] >> 16) & 0xFFFF
	count := (r.Data[0] >> 32) & 0xFFFFFFFF
	offset := r.Data[1]

	return direction, size, port, count, offset
}

// FailEntry returns the hardware entry failure reason for an
// EXITFAILENTRY exit.
func (r *RunData) FailEntry() uint64 {
	return r.Data[0]
}

// guestDebugArch is kvm_guest_debug_arch for x86: the 8 debug registers.
type guestDebugArch struct {
	DebugReg [8]uint64
}

// GuestDebug is the kvm_guest_debug control structure.
type GuestDebug struct {
	Control uint32
	_       uint32
	Arch    guestDebugArch
}

// Guest debug control bits.
const (
	GuestDebugEnable     = 1 << 0
	GuestDebugSingleStep = 1 << 1
)

// SetGuestDebug enables or disables debug exits for a vcpu, e.g. single
// stepping for an instruction trace.
func SetGuestDebug(vcpuFd uintptr, dbg *GuestDebug) error {
	_, err := Ioctl(vcpuFd, IIOW(kvmSetGuestDebug, unsafe.Sizeof(GuestDebug{})), uintptr(unsafe.Pointer(dbg)))

	return err
}
