// Package ecm implements the USB CDC Ethernet Control Model (ECM) class
// function for the softecm device stack.
//
// An ECM function exposes an Ethernet link to the host over three
// endpoints: an interrupt IN endpoint for notifications and a pair of bulk
// endpoints carrying raw Ethernet frames.
//
// # Link State
//
//	Uninitialized → Idle → LinkUp ⇄ LinkDown
//	any → Deinitialized (→ Idle on the next SET_CONFIGURATION)
//
// The link comes up on the first SET_ETHERNET_PACKET_FILTER after
// configuration, whatever its value. A zero filter while up takes the link
// down and only a non-zero filter brings it back. Each transition queues a
// NETWORK_CONNECTION notification; CONNECTED is followed by
// CONNECTION_SPEED_CHANGE once collected. While the notification endpoint
// is busy only the latest connection value is kept and it is sent when the
// endpoint frees.
//
// A frame still held with no listener attached is dropped by the next
// configuration so that receive is re-armed.
//
// # Buffers
//
// The function allocates three frame buffers from a [pbuf.Pool] the first
// time it is configured: one receive, one transmit and one notification
// buffer. They are never reallocated. The receive buffer alternates between
// hardware (armed on the OUT endpoint) and firmware (holding a complete
// frame until [ECM.ReleaseRx]).
//
// # Usage
//
//	fn := ecm.New(ecm.DefaultConfig())
//	fn.SetListener(bridge)
//	drv.SetClass(fn)
//
//	// worker, after Listener.FrameReady
//	if frame, ok := fn.RxFrame(); ok {
//	    deliver(frame)
//	    fn.ReleaseRx()
//	}
//
//	// stack output
//	err := fn.Transmit(frame)
package ecm
