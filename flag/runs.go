package flag

import (
	"context"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"
	"golang.org/x/sys/unix"

	"github.com/nmi/flatkvm/probe"
	"github.com/nmi/flatkvm/vmm"
)

// CLI is the top level command structure.
type CLI struct {
	Boot  BootCMD  `cmd:"" help:"Boot a flat guest binary."`
	Probe ProbeCMD `cmd:"" help:"Probe the host for KVM capabilities."`
}

type BootCMD struct {
	Dev        string `name:"dev" short:"D" default:"/dev/kvm" help:"Path of the KVM device node."`
	Image      string `name:"image" short:"i" default:"./guest.bin" help:"Flat guest binary, loaded at guest physical address 0."`
	MemSize    string `name:"mem-size" short:"m" default:"1M" help:"Guest memory size as number[gGmMkK], rounded up to the page size."`
	TraceCount string `name:"trace-count" short:"T" default:"0" help:"How many instructions to skip between trace prints. 0 disables tracing."`
}

type ProbeCMD struct {
	Dev string `name:"dev" short:"D" default:"/dev/kvm" help:"Path of the KVM device node."`
}

// Parse dispatches to the selected subcommand.
func Parse() error {
	c := CLI{}

	ctx := kong.Parse(&c,
		kong.Name("flatkvm"),
		kong.Description("flatkvm is a minimal KVM monitor that boots a flat guest binary"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	return ctx.Run()
}

func (s *BootCMD) Run() error {
	memSize, err := ParseSize(s.MemSize, "m")
	if err != nil {
		return err
	}

	traceC, err := ParseSize(s.TraceCount, "")
	if err != nil {
		return err
	}

	c := vmm.Config{
		Dev:        s.Dev,
		Image:      s.Image,
		MemSize:    memSize,
		TraceCount: traceC,
	}

	v := vmm.New(c)

	if err := v.Init(); err != nil {
		return err
	}

	defer v.Close()

	if err := v.Setup(); err != nil {
		return err
	}

	// An interrupt cancels the run loop, including the post-halt idle
	// wait.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	return v.Boot(ctx)
}

func (p *ProbeCMD) Run() error {
	return probe.KVMCapabilities(p.Dev)
}
