package kvm

import (
	"syscall"
)

// Linux ioctl request encoding, as in asm-generic/ioctl.h.
const (
	nrbits   = 8
	typebits = 8
	sizebits = 14
	dirbits  = 2

	nrshift   = 0
	typeshift = nrshift + nrbits
	sizeshift = typeshift + typebits
	dirshift  = sizeshift + sizebits

	dirNone  = 0
	dirWrite = 1
	dirRead  = 2

	// kvmIO is the ioctl type of the KVM API.
	kvmIO = 0xAE
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<dirshift | size<<sizeshift | kvmIO<<typeshift | nr<<nrshift
}

// IIO encodes a KVM ioctl request with no payload.
func IIO(nr uintptr) uintptr {
	return ioc(dirNone, nr, 0)
}

// IIOR encodes a KVM ioctl request that reads a payload of the given size.
func IIOR(nr, size uintptr) uintptr {
	return ioc(dirRead, nr, size)
}

// IIOW encodes a KVM ioctl request that writes a payload of the given size.
func IIOW(nr, size uintptr) uintptr {
	return ioc(dirWrite, nr, size)
}

// IIOWR encodes a KVM ioctl request that both writes and reads.
func IIOWR(nr, size uintptr) uintptr {
	return ioc(dirRead|dirWrite, nr, size)
}

// Ioctl issues a raw ioctl on fd. The errno, if any, is returned as the
// error so callers can match on syscall.Errno values such as EINTR.
func Ioctl(fd, op, arg uintptr) (uintptr, error) {
	res, _, errno := syscall.Syscall(syscall.SYS_IOCTL, fd, op, arg)

	var err error = nil
	if errno != 0 {
		err = errno
	}

	return res, err
}
