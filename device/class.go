package device

import "github.com/ardnew/softecm/device/hal"

// ClassDriver defines the interface for a USB class function served by a
// [Driver].
//
// Every method except ConfigDescriptor and String is invoked from the
// controller's interrupt callbacks and must not block.
type ClassDriver interface {
	// Init is called when the host selects configuration config. The class
	// opens its endpoints and arms its receive paths.
	Init(d *Driver, config uint8) error

	// DeInit is called on SET_CONFIGURATION(0), bus reset and disconnect.
	DeInit(d *Driver, config uint8) error

	// Setup processes a class or vendor request addressed to one of the
	// class interfaces. For device-to-host requests the returned slice is
	// sent as the data stage. For host-to-device requests with a data
	// stage, the data is delivered later through EP0RxReady.
	Setup(d *Driver, setup *SetupPacket) ([]byte, error)

	// EP0RxReady delivers the data stage of a host-to-device class request.
	EP0RxReady(d *Driver, setup *SetupPacket, data []byte) error

	// DataIn is called when an IN transfer on one of the class endpoints
	// completed. The transfer's loan is owned by the class again.
	DataIn(d *Driver, t *Transfer)

	// DataOut is called when an OUT transfer on one of the class endpoints
	// completed. The transfer's loan is owned by the class again.
	DataOut(d *Driver, t *Transfer)

	// SOF is called on every start-of-frame.
	SOF(d *Driver)

	// ConfigDescriptor returns the full configuration descriptor for speed.
	ConfigDescriptor(speed hal.Speed) []byte

	// String returns the class-owned string descriptor at index, or false.
	String(index uint8) (string, bool)
}
