// Package memory manages the guest physical address space: anonymous
// shared host mappings registered with the hypervisor as memory slots.
package memory

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// PageSize is the guest page size. Slot sizes are always a multiple of
// it.
const PageSize = 0x1000

var (
	ErrAllocation   = errors.New("guest memory allocation failed")
	ErrNoSlotsAvail = errors.New("maximal number of slots exhausted")
	ErrSlotInUse    = errors.New("slot id already registered")
	ErrSlotOverlap  = errors.New("guest physical range overlaps an existing slot")
	ErrSlotNotFound = errors.New("unable to find memory slot")
	ErrOutOfRange   = errors.New("access outside the memory slot")
	ErrZeroSize     = errors.New("requested size is zero")
)

// Align rounds size up to the next multiple of PageSize.
func Align(size uint64) uint64 {
	return (size + PageSize - 1) &^ (PageSize - 1)
}

// Memory tracks the memory slots of one VM.
type Memory struct {
	Slots    []*MemorySlot
	MaxSlots uint32
}

// MemorySlot is one contiguous guest physical range backed by host
// memory. Buf is the host mapping; its address is handed to the
// hypervisor when the slot is registered.
type MemorySlot struct {
	Slot          uint32
	GuestPhysAddr uint64
	Size          uint64
	Flags         uint32
	Buf           []byte
}

// New returns an empty address space that will accept at most maxSlots
// slots.
func New(maxSlots uint32) *Memory {
	return &Memory{MaxSlots: maxSlots}
}

// NewMemorySlot allocates a zero-initialized anonymous shared mapping of
// at least size bytes, rounded up to the page size, and records it as a
// slot. Slot ids must be unique and guest physical ranges must not
// overlap.
func (m *Memory) NewMemorySlot(slot uint32, gpa, size uint64, flags uint32) (*MemorySlot, error) {
	if size == 0 {
		return nil, ErrZeroSize
	}

	if len(m.Slots) >= int(m.MaxSlots) {
		return nil, ErrNoSlotsAvail
	}

	size = Align(size)

	for _, s := range m.Slots {
		if s.Slot == slot {
			return nil, fmt.Errorf("%w: %d", ErrSlotInUse, slot)
		}

		if gpa < s.GuestPhysAddr+s.Size && s.GuestPhysAddr < gpa+size {
			return nil, fmt.Errorf("%w: [%#x, %#x)", ErrSlotOverlap, gpa, gpa+size)
		}
	}

	buf, err := unix.Mmap(-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllocation, err)
	}

	s := &MemorySlot{
		Slot:          slot,
		GuestPhysAddr: gpa,
		Size:          size,
		Flags:         flags,
		Buf:           buf,
	}

	m.Slots = append(m.Slots, s)

	return s, nil
}

// FindSlot returns the slot containing the given guest physical address.
func (m *Memory) FindSlot(gpa uint64) (*MemorySlot, error) {
	for _, s := range m.Slots {
		if s.GuestPhysAddr <= gpa && gpa < s.GuestPhysAddr+s.Size {
			return s, nil
		}
	}

	return nil, fmt.Errorf("%w: gpa %#x", ErrSlotNotFound, gpa)
}

// Close unmaps all slots. The mirror of the mmap in NewMemorySlot.
func (m *Memory) Close() error {
	var err error

	for _, s := range m.Slots {
		if e := unix.Munmap(s.Buf); e != nil && err == nil {
			err = e
		}

		s.Buf = nil
	}

	m.Slots = nil

	return err
}

// HostAddr returns the host virtual address of the mapping, in the form
// the hypervisor wants for slot registration.
func (s *MemorySlot) HostAddr() uint64 {
	return uint64(uintptr(unsafe.Pointer(&s.Buf[0])))
}

// ReadAt reads from the slot at the given offset from its guest
// physical base, implementing io.ReaderAt.
func (s *MemorySlot) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || uint64(off) >= s.Size {
		return 0, fmt.Errorf("%w: offset %#x", ErrOutOfRange, off)
	}

	return copy(p, s.Buf[off:]), nil
}

// WriteAt writes to the slot at the given offset from its guest
// physical base, implementing io.WriterAt.
func (s *MemorySlot) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || uint64(off)+uint64(len(p)) > s.Size {
		return 0, fmt.Errorf("%w: offset %#x len %#x", ErrOutOfRange, off, len(p))
	}

	return copy(s.Buf[off:], p), nil
}
