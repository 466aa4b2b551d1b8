package hal

import (
	"context"
)

// Speed represents the USB connection speed.
type Speed uint8

// USB speed constants (USB 2.0 Specification).
const (
	SpeedUnknown Speed = iota // Not connected or unknown
	SpeedLow                  // Low Speed (1.5 Mbit/s)
	SpeedFull                 // Full Speed (12 Mbit/s)
	SpeedHigh                 // High Speed (480 Mbit/s)
)

// String returns a human-readable speed name.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed"
	case SpeedFull:
		return "Full Speed"
	case SpeedHigh:
		return "High Speed"
	default:
		return "Unknown"
	}
}

// EndpointConfig describes an endpoint configuration for the HAL.
// This is a minimal, platform-agnostic representation used to configure
// hardware endpoints when a configuration is activated.
type EndpointConfig struct {
	Address       uint8  // Endpoint address including direction bit
	Attributes    uint8  // Transfer type and sync/usage flags
	MaxPacketSize uint16 // Maximum packet size
	Interval      uint8  // Polling interval for interrupt/isochronous
}

// Number returns the endpoint number (0-15).
func (e *EndpointConfig) Number() uint8 {
	return e.Address & 0x0F
}

// IsIn returns true if this is an IN endpoint (device to host).
func (e *EndpointConfig) IsIn() bool {
	return e.Address&0x80 != 0
}

// TransferType returns the transfer type (control, bulk, interrupt, isochronous).
func (e *EndpointConfig) TransferType() uint8 {
	return e.Attributes & 0x03
}

// SetupPacket represents a USB SETUP packet in the HAL layer.
// This is a fixed-size, zero-allocation structure for SETUP transactions.
type SetupPacket struct {
	RequestType uint8  // Request characteristics
	Request     uint8  // Specific request
	Value       uint16 // Request-specific value
	Index       uint16 // Request-specific index
	Length      uint16 // Number of bytes to transfer
}

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = 8

// ParseSetupPacket parses raw bytes into a SetupPacket.
// Returns false if data is too short.
func ParseSetupPacket(data []byte, out *SetupPacket) bool {
	if len(data) < SetupPacketSize {
		return false
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = uint16(data[2]) | uint16(data[3])<<8
	out.Index = uint16(data[4]) | uint16(data[5])<<8
	out.Length = uint16(data[6]) | uint16(data[7])<<8
	return true
}

// MarshalTo writes the setup packet to buf.
// Returns the number of bytes written (8), or 0 if buf is too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	buf[2] = byte(s.Value)
	buf[3] = byte(s.Value >> 8)
	buf[4] = byte(s.Index)
	buf[5] = byte(s.Index >> 8)
	buf[6] = byte(s.Length)
	buf[7] = byte(s.Length >> 8)
	return SetupPacketSize
}

// Events receives the controller's interrupt callbacks.
//
// Implementations run in interrupt context: they must not block, must not
// return errors and may only update state or signal a waiting worker.
// Within one endpoint, completions are delivered in submission order.
type Events interface {
	// Reset is raised on a USB bus reset with the negotiated speed.
	Reset(speed Speed)

	// SetupStage is raised when a SETUP packet arrives on EP0.
	SetupStage(setup *SetupPacket)

	// DataInComplete is raised when an IN transfer on address finished.
	DataInComplete(address uint8)

	// DataOutComplete is raised when an OUT transfer on address finished.
	// The received length is available from [Controller.RxCount].
	DataOutComplete(address uint8)

	// SOF is raised on every start-of-frame token.
	SOF()

	// Suspend is raised when the bus enters suspend.
	Suspend()

	// Resume is raised when the bus leaves suspend.
	Resume()

	// Connected is raised when VBUS is detected.
	Connected()

	// Disconnected is raised when VBUS is lost.
	Disconnected()
}

// Controller defines the Hardware Abstraction Layer for a USB device
// controller peripheral.
//
// Every data operation is a request to hardware that returns immediately;
// completion is reported later through [Events]. Submission failures are
// reported synchronously and are never retried by the controller.
type Controller interface {
	// Init initializes the controller hardware.
	// The context can be used to cancel initialization.
	Init(ctx context.Context) error

	// Start attaches to the bus. Interrupt callbacks may fire once Start returns.
	Start() error

	// Stop detaches from the bus and disables interrupts.
	Stop() error

	// SetEvents registers the interrupt callback receiver.
	SetEvents(ev Events)

	// SetAddress programs the device address assigned by the host.
	SetAddress(address uint8) error

	// OpenEndpoint configures a hardware endpoint.
	OpenEndpoint(cfg EndpointConfig) error

	// CloseEndpoint disables a hardware endpoint and aborts any transfer on it.
	CloseEndpoint(address uint8) error

	// Transmit starts an IN transfer of data on address.
	// The controller reads data until DataInComplete is raised.
	Transmit(address uint8, data []byte) error

	// PrepareReceive arms an OUT endpoint to receive into buf.
	// The controller writes buf until DataOutComplete is raised.
	PrepareReceive(address uint8, buf []byte) error

	// RxCount returns the length of the last completed OUT transfer on address.
	RxCount(address uint8) int

	// Stall stalls the specified endpoint.
	Stall(address uint8) error

	// ClearStall clears a stall condition on the specified endpoint.
	ClearStall(address uint8) error
}
