package kvm

// Capability is a KVM extension that may or may not be present on the
// running kernel. Presence is queried with CheckExtension.
//
//go:generate stringer -type=Capability
type Capability uintptr

const (
	CapIRQChip          Capability = 0
	CapHLT              Capability = 1
	CapUserMemory       Capability = 3
	CapSetTSSAddr       Capability = 4
	CapEXTCPUID         Capability = 7
	CapNRVCPUs          Capability = 9
	CapNRMemSlots       Capability = 10
	CapSetGuestDebug    Capability = 23
	CapIRQRouting       Capability = 25
	CapCheckExtensionVM Capability = 105
	CapImmediateExit    Capability = 136
)

// CheckExtension returns the value of the queried capability. Zero
// means the capability is absent; positive values are capability
// specific, e.g. the slot count for CapNRMemSlots.
func CheckExtension(kvmFd uintptr, c Capability) (uintptr, error) {
	return Ioctl(kvmFd, IIO(kvmCheckExtension), uintptr(c))
}
