package machine

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/nmi/flatkvm/kvm"
)

// KVMBackend drives real hardware virtualization through /dev/kvm.
type KVMBackend struct {
	devKVM   *os.File
	vmFd     uintptr
	vcpuFds  map[int]uintptr
	runs     map[int]*kvm.RunData
	runBufs  map[int][]byte
	mmapSize uintptr
}

// NewKVMBackend returns an unopened KVM backend. Init must be called
// before anything else.
func NewKVMBackend() *KVMBackend {
	return &KVMBackend{
		vcpuFds: make(map[int]uintptr),
		runs:    make(map[int]*kvm.RunData),
		runBufs: make(map[int][]byte),
	}
}

func (b *KVMBackend) Init(dev string) error {
	devKVM, err := kvm.Open(dev)
	if err != nil {
		return err
	}

	b.devKVM = devKVM

	if b.mmapSize, err = kvm.GetVCPUMMmapSize(devKVM.Fd()); err != nil {
		return fmt.Errorf("get vcpu mmap size: %w", err)
	}

	return nil
}

func (b *KVMBackend) CreateVM() error {
	vmFd, err := kvm.CreateVM(b.devKVM.Fd())
	if err != nil {
		return fmt.Errorf("create vm: %w", err)
	}

	b.vmFd = vmFd

	return nil
}

func (b *KVMBackend) CheckExtension(c kvm.Capability) (uintptr, error) {
	return kvm.CheckExtension(b.devKVM.Fd(), c)
}

func (b *KVMBackend) SetUserMemoryRegion(region *kvm.UserspaceMemoryRegion) error {
	return kvm.SetUserMemoryRegion(b.vmFd, region)
}

func (b *KVMBackend) CreateVCPU(id int) error {
	vcpuFd, err := kvm.CreateVCPU(b.vmFd, id)
	if err != nil {
		return fmt.Errorf("create vcpu %d: %w", id, err)
	}

	// The shared kvm_run structure carries the exit reason after each
	// return from Run.
	buf, err := unix.Mmap(int(vcpuFd), 0, int(b.mmapSize),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap vcpu %d: %w", id, err)
	}

	b.vcpuFds[id] = vcpuFd
	b.runBufs[id] = buf
	b.runs[id] = (*kvm.RunData)(unsafe.Pointer(&buf[0]))

	return nil
}

func (b *KVMBackend) GetRegs(id int) (*kvm.Regs, error) {
	return kvm.GetRegs(b.vcpuFds[id])
}

func (b *KVMBackend) SetRegs(id int, regs *kvm.Regs) error {
	return kvm.SetRegs(b.vcpuFds[id], regs)
}

func (b *KVMBackend) GetSregs(id int) (*kvm.Sregs, error) {
	return kvm.GetSregs(b.vcpuFds[id])
}

func (b *KVMBackend) SetSregs(id int, sregs *kvm.Sregs) error {
	return kvm.SetSregs(b.vcpuFds[id], sregs)
}

func (b *KVMBackend) SetGuestDebug(id int, dbg *kvm.GuestDebug) error {
	return kvm.SetGuestDebug(b.vcpuFds[id], dbg)
}

func (b *KVMBackend) Run(id int) (*Exit, error) {
	err := kvm.Run(b.vcpuFds[id])
	if err != nil {
		// When a signal is sent to the thread hosting the VM it will
		// result in EINTR.
		// refs https://gist.github.com/mcastelino/df7e65ade874f6890f618dc51778d83a
		if errors.Is(err, unix.EINTR) {
			return &Exit{Reason: kvm.EXITINTR}, nil
		}

		return nil, err
	}

	r := b.runs[id]

	switch kvm.ExitType(r.ExitReason) {
	case kvm.EXITIO:
		direction, size, port, count, offset := r.IO()

		// The data area lives inside the kvm_run mapping at the
		// reported offset, count items of size bytes each.
		buf := b.runBufs[id]
		if offset+size*count > uint64(len(buf)) {
			return nil, fmt.Errorf("%w: io data out of bounds", kvm.ErrUnexpectedExitReason)
		}

		data := make([]byte, size*count)
		copy(data, buf[offset:])

		return &Exit{
			Reason: kvm.EXITIO,
			In:     direction == kvm.EXITIOIN,
			Port:   port,
			Data:   data,
		}, nil
	case kvm.EXITFAILENTRY, kvm.EXITINTERNALERROR:
		return &Exit{
			Reason:   kvm.ExitType(r.ExitReason),
			HWReason: r.FailEntry(),
		}, nil
	default:
		return &Exit{Reason: kvm.ExitType(r.ExitReason)}, nil
	}
}

func (b *KVMBackend) Close() error {
	var err error

	for id, buf := range b.runBufs {
		if e := unix.Munmap(buf); e != nil && err == nil {
			err = e
		}

		delete(b.runBufs, id)
		delete(b.runs, id)
	}

	for id, fd := range b.vcpuFds {
		if e := unix.Close(int(fd)); e != nil && err == nil {
			err = e
		}

		delete(b.vcpuFds, id)
	}

	if b.vmFd != 0 {
		if e := unix.Close(int(b.vmFd)); e != nil && err == nil {
			err = e
		}

		b.vmFd = 0
	}

	if b.devKVM != nil {
		if e := b.devKVM.Close(); e != nil && err == nil {
			err = e
		}

		b.devKVM = nil
	}

	return err
}
