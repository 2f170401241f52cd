package image_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmi/flatkvm/image"
	"github.com/nmi/flatkvm/memory"
)

func newSlot(t *testing.T, size uint64) *memory.MemorySlot {
	t.Helper()

	m := memory.New(1)

	t.Cleanup(func() {
		require.NoError(t, m.Close())
	})

	slot, err := m.NewMemorySlot(0, 0, size, 0)
	require.NoError(t, err)

	return slot
}

func TestLoad(t *testing.T) {
	t.Parallel()

	want := []byte{0xb0, 'O', 0xe6, 0x10, 0xf4}

	path := filepath.Join(t.TempDir(), "guest.bin")
	require.NoError(t, os.WriteFile(path, want, 0o644))

	slot := newSlot(t, 4096)

	n, err := image.Load(path, slot)
	require.NoError(t, err)
	assert.Equal(t, len(want), n)

	assert.Equal(t, want, slot.Buf[:len(want)])

	// Bytes past the image keep their prior zero value.
	assert.Equal(t, make([]byte, 4096-len(want)), slot.Buf[len(want):])
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	slot := newSlot(t, 4096)

	_, err := image.Load(filepath.Join(t.TempDir(), "nope.bin"), slot)
	require.ErrorIs(t, err, image.ErrRead)
}

func TestLoadBytesExactFit(t *testing.T) {
	t.Parallel()

	slot := newSlot(t, 4096)

	b := make([]byte, 4096)
	for i := range b {
		b[i] = byte(i)
	}

	n, err := image.LoadBytes(b, slot)
	require.NoError(t, err)
	assert.Equal(t, 4096, n)
	assert.Equal(t, b, slot.Buf)
}

func TestLoadBytesTooLarge(t *testing.T) {
	t.Parallel()

	slot := newSlot(t, 4096)

	big := make([]byte, 4097)
	for i := range big {
		big[i] = 0xAA
	}

	_, err := image.LoadBytes(big, slot)
	require.ErrorIs(t, err, image.ErrTooLarge)

	// No partial copy happened.
	assert.Equal(t, make([]byte, 4096), slot.Buf)
}
