package device

import (
	"fmt"
	"sync/atomic"

	"github.com/ardnew/softecm/device/hal"
)

// Endpoint transfer types (USB 2.0 Spec Table 9-13).
const (
	EndpointTypeControl     = 0x00 // Control transfer
	EndpointTypeIsochronous = 0x01 // Isochronous transfer
	EndpointTypeBulk        = 0x02 // Bulk transfer
	EndpointTypeInterrupt   = 0x03 // Interrupt transfer
)

// Endpoint directions.
const (
	EndpointDirectionOut = 0x00 // Host to device
	EndpointDirectionIn  = 0x80 // Device to host
)

// Endpoint is one hardware endpoint channel slot.
//
// The descriptor fields are written only while the slot is claimed under
// the driver's table lock. The stall flag and the in-flight transfer are
// atomics because they are touched from interrupt callbacks.
type Endpoint struct {
	// Descriptor data
	Address       uint8  // Endpoint address including direction
	Attributes    uint8  // Transfer type
	MaxPacketSize uint16 // Maximum packet size
	Interval      uint8  // Polling interval (interrupt)

	// Runtime state
	open     bool
	stalled  atomic.Bool
	busy     atomic.Bool // a transfer is outstanding
	transfer Transfer    // valid while busy
}

// Number returns the endpoint number (0-15).
func (e *Endpoint) Number() uint8 {
	return e.Address & 0x0F
}

// Direction returns the endpoint direction (EndpointDirectionIn or EndpointDirectionOut).
func (e *Endpoint) Direction() uint8 {
	return e.Address & 0x80
}

// IsIn returns true if this is an IN endpoint (device to host).
func (e *Endpoint) IsIn() bool {
	return e.Direction() == EndpointDirectionIn
}

// IsOut returns true if this is an OUT endpoint (host to device).
func (e *Endpoint) IsOut() bool {
	return e.Direction() == EndpointDirectionOut
}

// TransferType returns the transfer type (Control, Isochronous, Bulk, or Interrupt).
func (e *Endpoint) TransferType() uint8 {
	return e.Attributes & 0x03
}

// IsStalled returns true if the endpoint is stalled.
func (e *Endpoint) IsStalled() bool {
	return e.stalled.Load()
}

// IsBusy returns true if a transfer is outstanding on the endpoint.
func (e *Endpoint) IsBusy() bool {
	return e.busy.Load()
}

// Config returns the HAL configuration for this endpoint.
func (e *Endpoint) Config() hal.EndpointConfig {
	return hal.EndpointConfig{
		Address:       e.Address,
		Attributes:    e.Attributes,
		MaxPacketSize: e.MaxPacketSize,
		Interval:      e.Interval,
	}
}

// Descriptor returns the endpoint descriptor.
func (e *Endpoint) Descriptor() *EndpointDescriptor {
	return &EndpointDescriptor{
		Length:          EndpointDescriptorSize,
		DescriptorType:  DescriptorTypeEndpoint,
		EndpointAddress: e.Address,
		Attributes:      e.Attributes,
		MaxPacketSize:   e.MaxPacketSize,
		Interval:        e.Interval,
	}
}

// TransferTypeName returns a human-readable transfer type name.
func TransferTypeName(t uint8) string {
	switch t & 0x03 {
	case EndpointTypeControl:
		return "Control"
	case EndpointTypeIsochronous:
		return "Isochronous"
	case EndpointTypeBulk:
		return "Bulk"
	case EndpointTypeInterrupt:
		return "Interrupt"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// DirectionName returns a human-readable direction name.
func DirectionName(dir uint8) string {
	if dir&EndpointDirectionIn != 0 {
		return "IN"
	}
	return "OUT"
}
