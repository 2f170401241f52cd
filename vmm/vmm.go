// Package vmm orchestrates the VM lifecycle: machine construction,
// image loading, and the boot loop.
package vmm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/nmi/flatkvm/kvm"
	"github.com/nmi/flatkvm/machine"
)

// Config carries everything a VM run needs. No state persists across
// runs: every boot starts from a freshly allocated, zeroed region and
// register set.
type Config struct {
	// Dev is the KVM device node path.
	Dev string

	// Image is the flat guest binary loaded at guest physical
	// address 0.
	Image string

	// MemSize is the guest memory size in bytes, rounded up to the
	// page size.
	MemSize int

	// TraceCount, when positive, enables single stepping and prints
	// every TraceCount-th instruction.
	TraceCount int
}

type VMM struct {
	*machine.Machine
	Config

	out io.Writer
}

func New(c Config) *VMM {
	return &VMM{
		Machine: nil,
		Config:  c,
		out:     os.Stdout,
	}
}

// Init instantiates the machine: hypervisor handle, VM context, guest
// memory, and the vcpu in its flat boot state.
func (v *VMM) Init() error {
	m, err := machine.New(v.Dev, v.MemSize, v.out)
	if err != nil {
		return err
	}

	v.Machine = m

	return nil
}

// InitWithBackend is Init on an arbitrary backend, with console and log
// output going to out.
func (v *VMM) InitWithBackend(b machine.Backend, out io.Writer) error {
	v.out = out

	m, err := machine.NewWithBackend(b, v.Dev, v.MemSize, out)
	if err != nil {
		return err
	}

	v.Machine = m

	return nil
}

// Setup loads the guest image into the machine's memory.
func (v *VMM) Setup() error {
	if err := v.Machine.LoadImage(v.Image); err != nil {
		return err
	}

	return nil
}

// Boot drives the run loop until a terminal state or ctx cancellation
// and reports the outcome. Debug exits re-enter the loop, printing a
// disassembled instruction every TraceCount steps.
func (v *VMM) Boot(ctx context.Context) error {
	trace := v.TraceCount > 0
	if err := v.SingleStep(trace); err != nil {
		return fmt.Errorf("setting trace to %v:%w", trace, err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for tc := 0; ; tc++ {
			res, err := v.RunInfiniteLoop(ctx)
			if err == nil {
				fmt.Fprintf(v.out, "\nvm exited: %s\n", res)

				return nil
			}

			if !errors.Is(err, kvm.ErrDebug) {
				return err
			}

			if tc%v.TraceCount != 0 {
				continue
			}

			_, r, s, err := v.Inst()
			if err != nil {
				fmt.Fprintf(v.out, "disassembling after debug exit:%v\n", err)
			} else {
				fmt.Fprintf(v.out, "%#x:%s\n", r.RIP, s)
			}
		}
	})

	return g.Wait()
}
