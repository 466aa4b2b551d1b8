// Package device implements the USB device side of the bridge: the
// endpoint driver shim, EP0 control handling and the standard requests.
//
// It is platform-agnostic and interacts with hardware via the
// [hal.Controller] interface defined in the
// [github.com/ardnew/softecm/device/hal] package. The controller reports
// bus events and transfer completions through [hal.Events], which
// [Driver] implements.
//
// # Architecture
//
//   - [Driver] owns the endpoint slot table, the device state and EP0
//   - [StandardHandler] answers standard requests (descriptors, address,
//     configuration, features)
//   - [ClassDriver] is the class function (CDC-ECM) served by the driver
//   - [Transfer] is one in-flight data endpoint operation
//
// # Buffer Ownership
//
// Data endpoint transfers never copy. The class driver lends a
// [pbuf.Buffer] to the driver with [pbuf.Buffer.Lend]; the loan travels
// with the [Transfer] and is handed back on completion. Closing an
// endpoint cancels its outstanding loan, returning the buffer to the pool.
//
// # Interrupt Context
//
// Every [hal.Events] method runs in the controller's interrupt context. The
// driver never blocks there: the slot table lock guards a few field writes
// and is never held across a controller call.
//
// # Device States
//
//	Attached → Powered → Default → Address → Configured ⇄ Suspended
//
// # Example
//
//	desc := device.NewDescriptors(0x0483, 0x5740, "ACME", "OBC Bridge", "0001")
//	drv := device.NewDriver(ctrl, desc, 0)
//	drv.SetClass(ecmFunction)
//	if err := drv.Start(ctx); err != nil {
//	    return err
//	}
//
// An in-memory controller for tests is available in
// [github.com/ardnew/softecm/device/hal/sim].
package device
