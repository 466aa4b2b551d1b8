package device

import "fmt"

// Maximum limits for fixed-size tables (zero-allocation support).
const (
	// DefaultEndpointSlots is the number of hardware endpoint channels
	// reserved by [NewDriver] when no explicit count is given. EP0 uses
	// two of them (IN and OUT).
	DefaultEndpointSlots = 8

	// MaxControlDataSize is the largest control data stage handled on EP0.
	MaxControlDataSize = 512

	// MaxPacketSize0 is the EP0 max packet size advertised by the device.
	MaxPacketSize0 = 64
)

// EP0 addresses.
const (
	EP0Out = 0x00
	EP0In  = 0x80
)

// Device states as defined in USB 2.0 specification section 9.1.
const (
	StateAttached   State = 0 // Device is attached but not powered
	StatePowered    State = 1 // Device is powered
	StateDefault    State = 2 // Device has been reset, using default address
	StateAddress    State = 3 // Device has been assigned a unique address
	StateConfigured State = 4 // Device is configured and operational
	StateSuspended  State = 5 // Device is in suspend mode
)

// State represents USB device state.
type State uint8

// String returns a human-readable state description.
func (s State) String() string {
	switch s {
	case StateAttached:
		return "Attached"
	case StatePowered:
		return "Powered"
	case StateDefault:
		return "Default"
	case StateAddress:
		return "Address"
	case StateConfigured:
		return "Configured"
	case StateSuspended:
		return "Suspended"
	default:
		return fmt.Sprintf("Unknown State (%d)", s)
	}
}
