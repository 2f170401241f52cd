package memory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmi/flatkvm/memory"
)

func TestAlign(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		size uint64
		want uint64
	}{
		{name: "one byte", size: 1, want: 4096},
		{name: "exactly one page", size: 4096, want: 4096},
		{name: "one page plus one", size: 4097, want: 8192},
		{name: "one megabyte", size: 1 << 20, want: 1 << 20},
		{name: "just below a page", size: 4095, want: 4096},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, memory.Align(tt.size))
		})
	}
}

func TestNewMemorySlot(t *testing.T) {
	t.Parallel()

	m := memory.New(8)

	t.Cleanup(func() {
		require.NoError(t, m.Close())
	})

	slot, err := m.NewMemorySlot(0, 0, 1, 0)
	require.NoError(t, err)

	assert.Equal(t, uint64(4096), slot.Size)
	assert.Len(t, slot.Buf, 4096)

	// Fresh mappings are zero-initialized.
	assert.Equal(t, make([]byte, 4096), slot.Buf)
}

func TestNewMemorySlotZeroSize(t *testing.T) {
	t.Parallel()

	m := memory.New(8)

	_, err := m.NewMemorySlot(0, 0, 0, 0)
	require.ErrorIs(t, err, memory.ErrZeroSize)
}

func TestNewMemorySlotDuplicateSlot(t *testing.T) {
	t.Parallel()

	m := memory.New(8)

	t.Cleanup(func() {
		require.NoError(t, m.Close())
	})

	_, err := m.NewMemorySlot(0, 0, 4096, 0)
	require.NoError(t, err)

	_, err = m.NewMemorySlot(0, 0x10000, 4096, 0)
	require.ErrorIs(t, err, memory.ErrSlotInUse)
}

func TestNewMemorySlotOverlap(t *testing.T) {
	t.Parallel()

	m := memory.New(8)

	t.Cleanup(func() {
		require.NoError(t, m.Close())
	})

	_, err := m.NewMemorySlot(0, 0, 8192, 0)
	require.NoError(t, err)

	// The second page of the first slot collides.
	_, err = m.NewMemorySlot(1, 4096, 4096, 0)
	require.ErrorIs(t, err, memory.ErrSlotOverlap)

	// Adjacent is fine.
	_, err = m.NewMemorySlot(1, 8192, 4096, 0)
	require.NoError(t, err)
}

func TestNewMemorySlotExhausted(t *testing.T) {
	t.Parallel()

	m := memory.New(1)

	t.Cleanup(func() {
		require.NoError(t, m.Close())
	})

	_, err := m.NewMemorySlot(0, 0, 4096, 0)
	require.NoError(t, err)

	_, err = m.NewMemorySlot(1, 0x10000, 4096, 0)
	require.ErrorIs(t, err, memory.ErrNoSlotsAvail)
}

func TestFindSlot(t *testing.T) {
	t.Parallel()

	m := memory.New(8)

	t.Cleanup(func() {
		require.NoError(t, m.Close())
	})

	s0, err := m.NewMemorySlot(0, 0, 4096, 0)
	require.NoError(t, err)

	s1, err := m.NewMemorySlot(1, 0x10000, 4096, 0)
	require.NoError(t, err)

	found, err := m.FindSlot(0)
	require.NoError(t, err)
	assert.Same(t, s0, found)

	found, err = m.FindSlot(0x10fff)
	require.NoError(t, err)
	assert.Same(t, s1, found)

	_, err = m.FindSlot(0x20000)
	require.ErrorIs(t, err, memory.ErrSlotNotFound)
}

func TestSlotReadWriteAt(t *testing.T) {
	t.Parallel()

	m := memory.New(8)

	t.Cleanup(func() {
		require.NoError(t, m.Close())
	})

	s, err := m.NewMemorySlot(0, 0, 4096, 0)
	require.NoError(t, err)

	n, err := s.WriteAt([]byte("hello"), 16)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	got := make([]byte, 5)
	_, err = s.ReadAt(got, 16)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	_, err = s.WriteAt([]byte{1}, 4096)
	require.ErrorIs(t, err, memory.ErrOutOfRange)

	_, err = s.ReadAt(got, 4096)
	require.ErrorIs(t, err, memory.ErrOutOfRange)
}

func TestHostAddr(t *testing.T) {
	t.Parallel()

	m := memory.New(8)

	t.Cleanup(func() {
		require.NoError(t, m.Close())
	})

	s, err := m.NewMemorySlot(0, 0, 4096, 0)
	require.NoError(t, err)
	assert.NotZero(t, s.HostAddr())
}
