// Package sim provides an in-memory USB device controller with a
// scriptable host side.
//
// [Controller] implements [hal.Controller] for the device stack and adds
// host operations that play the role of the bus: attaching, resetting,
// running control transfers and moving bulk frames. Each host operation
// raises the interrupt callbacks a real controller would, synchronously
// and serialized, so tests observe the same ordering as firmware.
//
// # Flow Control
//
// Like hardware, the controller NAKs host packets for endpoints the device
// has not armed. [Controller.SendFrame] returns [pkg.ErrNAK] in that case;
// [Controller.SendFrameWait] retries until its context is done.
//
// # Example
//
//	ctrl := sim.New()
//	drv := device.NewDriver(ctrl, desc, 0)
//	drv.SetClass(fn)
//	drv.Start(ctx)
//
//	ctrl.Attach(hal.SpeedFull)
//	var setup hal.SetupPacket
//	// ... fill a GET_DESCRIPTOR request
//	desc, err := ctrl.Setup(setup, nil)
package sim
