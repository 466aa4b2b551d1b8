// Package hal defines the hardware abstraction for a USB device controller.
//
// The bridge never touches controller registers. It drives hardware
// through [Controller], a small request interface whose operations return
// immediately, and learns about bus events and transfer completions through
// [Events], which the controller invokes from its interrupt context.
//
// # Design Principles
//
//   - Asynchronous: Transmit and PrepareReceive only submit; completion
//     arrives later as DataInComplete or DataOutComplete
//   - Borrowing: the controller reads or writes the caller's slice until the
//     matching completion and must not retain it afterwards
//   - Ordered: completions on one endpoint are delivered in submission order
//
// # Implementing a Controller
//
//  1. Initialize clocks, PHY and FIFOs in Init
//  2. Attach to the bus in Start and begin raising [Events]
//  3. Implement endpoint open/close/stall against the hardware channels
//  4. Report the received length of OUT transfers through RxCount
//
// # Example
//
//	type otgfs struct {
//	    ev hal.Events
//	    // peripheral registers
//	}
//
//	func (c *otgfs) SetEvents(ev hal.Events) { c.ev = ev }
//
//	func (c *otgfs) irq() {
//	    if resetPending() {
//	        c.ev.Reset(hal.SpeedFull)
//	    }
//	    // ...
//	}
//
// An in-memory controller with a scriptable host side is available in
// [github.com/ardnew/softecm/device/hal/sim].
package hal
