package vmm_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nmi/flatkvm/image"
	"github.com/nmi/flatkvm/kvm"
	"github.com/nmi/flatkvm/machine"
	"github.com/nmi/flatkvm/vmm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type cancelClock struct {
	cancel context.CancelFunc
}

func (c *cancelClock) After(time.Duration) <-chan time.Time {
	c.cancel()

	return make(chan time.Time)
}

func writeGuest(t *testing.T, b []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "guest.bin")
	require.NoError(t, os.WriteFile(path, b, 0o644))

	return path
}

func newVMM(t *testing.T, b *machine.StubBackend, guest []byte, out *bytes.Buffer, traceCount int) *vmm.VMM {
	t.Helper()

	v := vmm.New(vmm.Config{
		Dev:        "/dev/null",
		Image:      writeGuest(t, guest),
		MemSize:    4096,
		TraceCount: traceCount,
	})

	require.NoError(t, v.InitWithBackend(b, out))

	t.Cleanup(func() {
		require.NoError(t, v.Close())
	})

	require.NoError(t, v.Setup())

	return v
}

func TestBoot(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	b := &machine.StubBackend{
		Exits: []machine.Exit{
			{Reason: kvm.EXITIO, Port: 0x10, Data: []byte("OK")},
			{Reason: kvm.EXITHLT},
		},
	}

	v := newVMM(t, b, []byte{0xf4}, &out, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	v.SetClock(&cancelClock{cancel: cancel})

	require.NoError(t, v.Boot(ctx))

	assert.Contains(t, out.String(), "OK")
	assert.Contains(t, out.String(), "vm exited: Halted")
	assert.Equal(t, machine.Halted, v.State())
}

func TestBootFailEntry(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	b := &machine.StubBackend{
		Exits: []machine.Exit{
			{Reason: kvm.EXITFAILENTRY, HWReason: 0x80000021},
		},
	}

	v := newVMM(t, b, []byte{0xf4}, &out, 0)

	require.NoError(t, v.Boot(context.Background()))

	assert.Equal(t, machine.Faulted, v.State())
	assert.Contains(t, out.String(), "Faulted")
	assert.Contains(t, out.String(), "0x80000021")
}

func TestBootTrace(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	b := &machine.StubBackend{
		Exits: []machine.Exit{
			{Reason: kvm.EXITDEBUG},
			{Reason: kvm.EXITDEBUG},
			{Reason: kvm.EXITHLT},
		},
	}

	// A guest of nops, so the tracer has something to decode at RIP.
	v := newVMM(t, b, bytes.Repeat([]byte{0x90}, 16), &out, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	v.SetClock(&cancelClock{cancel: cancel})

	require.NoError(t, v.Boot(ctx))

	assert.Equal(t, uint32(kvm.GuestDebugEnable|kvm.GuestDebugSingleStep), b.DebugCtrl)
	assert.Contains(t, out.String(), "nop")
	assert.Contains(t, out.String(), "vm exited: Halted")
}

func TestSetupMissingImage(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	v := vmm.New(vmm.Config{
		Dev:     "/dev/null",
		Image:   filepath.Join(t.TempDir(), "nope.bin"),
		MemSize: 4096,
	})

	require.NoError(t, v.InitWithBackend(&machine.StubBackend{}, &out))

	t.Cleanup(func() {
		require.NoError(t, v.Close())
	})

	require.ErrorIs(t, v.Setup(), image.ErrRead)
}

func TestInitPropagatesSetupFailure(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	v := vmm.New(vmm.Config{
		Dev:     "/dev/null",
		MemSize: 0,
	})

	err := v.InitWithBackend(&machine.StubBackend{}, &out)
	require.ErrorIs(t, err, machine.ErrMemory)
}
