// Package netif adapts a CDC-ECM class function to an IP stack.
//
// The [Bridge] registers an [Interface] with the [Stack] and runs one
// worker goroutine. Interrupt callbacks from the class (frame ready, link
// up, link down) only signal the worker through a capacity-1 channel; the
// worker applies link changes and hands received frames to the stack under
// the stack's core lock, re-arming the receive endpoint after each one.
//
// # Output
//
// [Bridge.Output] maps class transmit errors to a [Status]:
//
//   - [pkg.ErrBusy] → [StatusMem]: the previous frame is still in flight
//   - [pkg.ErrFrameTooLarge] → [StatusArg]
//   - anything else → [StatusIf]
//
// # Flow Control
//
// There is one receive buffer. While the worker holds a frame the OUT
// endpoint is not armed and the host's packets are NAKed, so at most one
// received frame is ever in flight.
//
// # Example
//
//	b := netif.NewBridge(fn, stack, netif.DefaultConfig())
//	if err := b.Init(ctx); err != nil {
//	    return err
//	}
//	defer b.Close()
package netif
