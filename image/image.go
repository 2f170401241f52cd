// Package image loads flat guest binaries into guest memory. No header,
// no relocation, no format validation: the file content lands verbatim
// at guest physical address 0.
package image

import (
	"errors"
	"fmt"
	"os"

	"github.com/nmi/flatkvm/memory"
)

var (
	ErrRead     = errors.New("unable to read guest image")
	ErrTooLarge = errors.New("guest image exceeds the memory region")
)

// Load reads the whole file at path and copies it into slot at offset 0.
// It returns the number of bytes copied.
func Load(path string, slot *memory.MemorySlot) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRead, err)
	}

	return LoadBytes(b, slot)
}

// LoadBytes copies a flat binary into slot at offset 0. The length is
// checked against the slot size before any byte is transferred, so an
// oversized image fails cleanly instead of overrunning the region.
func LoadBytes(b []byte, slot *memory.MemorySlot) (int, error) {
	if uint64(len(b)) > slot.Size {
		return 0, fmt.Errorf("%w: %d > %d", ErrTooLarge, len(b), slot.Size)
	}

	return copy(slot.Buf, b), nil
}
