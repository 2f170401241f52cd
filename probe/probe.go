// Package probe reports which KVM capabilities the host offers.
package probe

import (
	"fmt"

	"github.com/nmi/flatkvm/kvm"
)

// KVMCapabilities probes the host for the capabilities this monitor
// cares about and prints one line per capability.
func KVMCapabilities(dev string) error {
	tests := []kvm.Capability{
		kvm.CapIRQChip,
		kvm.CapHLT,
		kvm.CapUserMemory,
		kvm.CapSetTSSAddr,
		kvm.CapEXTCPUID,
		kvm.CapNRVCPUs,
		kvm.CapNRMemSlots,
		kvm.CapSetGuestDebug,
		kvm.CapIRQRouting,
		kvm.CapCheckExtensionVM,
		kvm.CapImmediateExit,
	}

	devKVM, err := kvm.Open(dev)
	if err != nil {
		return err
	}

	defer devKVM.Close()

	for _, test := range tests {
		res, err := kvm.CheckExtension(devKVM.Fd(), test)
		if err != nil {
			return err
		}

		fmt.Printf("%-22s: %t\n", test, res != 0)
	}

	return nil
}
