package device

import (
	"github.com/ardnew/softecm/device/hal"
	"github.com/ardnew/softecm/pkg"
)

// controlPhase is the EP0 control transfer stage.
type controlPhase uint8

const (
	controlIdle controlPhase = iota
	controlDataIn
	controlDataOut
	controlStatusIn
	controlStatusOut
)

func (p controlPhase) String() string {
	switch p {
	case controlIdle:
		return "idle"
	case controlDataIn:
		return "data-in"
	case controlDataOut:
		return "data-out"
	case controlStatusIn:
		return "status-in"
	case controlStatusOut:
		return "status-out"
	default:
		return "unknown"
	}
}

// controlPipe holds the EP0 transfer state. It is only touched from the
// controller's callbacks, which are serialized.
type controlPipe struct {
	phase  controlPhase
	setup  SetupPacket
	inBuf  [MaxControlDataSize]byte
	outBuf [MaxControlDataSize]byte
}

func (c *controlPipe) reset() {
	c.phase = controlIdle
	c.setup = SetupPacket{}
}

// handleSetup decodes and routes a SETUP packet.
func (d *Driver) handleSetup(hs *hal.SetupPacket) {
	setup := SetupPacket(*hs)
	d.ctrl.setup = setup
	d.ctrl.phase = controlIdle

	pkg.LogDebug(pkg.ComponentControl, "setup received",
		"setup", setup.String())

	var (
		data []byte
		err  error
	)
	if setup.IsStandard() {
		data, err = d.std.Handle(&setup)
	} else if c := d.Class(); c != nil {
		data, err = c.Setup(d, &setup)
	} else {
		err = pkg.ErrInvalidRequest
	}
	if err != nil {
		pkg.LogDebug(pkg.ComponentControl, "request rejected",
			"request", setup.Request,
			"error", err)
		d.ControlError()
		return
	}

	switch {
	case setup.Length == 0:
		d.ControlStatus()
	case setup.IsDeviceToHost():
		if len(data) > int(setup.Length) {
			data = data[:setup.Length]
		}
		d.ControlSend(data)
	default:
		d.ControlReceive(int(setup.Length))
	}
}

// ControlSend starts the IN data stage of the current control transfer.
func (d *Driver) ControlSend(data []byte) {
	n := copy(d.ctrl.inBuf[:], data)
	d.ctrl.phase = controlDataIn
	if err := d.hal.Transmit(EP0In, d.ctrl.inBuf[:n]); err != nil {
		pkg.LogWarn(pkg.ComponentControl, "EP0 transmit", "error", err)
		d.ControlError()
	}
}

// ControlReceive arms EP0 for an OUT data stage of length bytes.
func (d *Driver) ControlReceive(length int) {
	if length > len(d.ctrl.outBuf) {
		d.ControlError()
		return
	}
	d.ctrl.phase = controlDataOut
	if err := d.hal.PrepareReceive(EP0Out, d.ctrl.outBuf[:length]); err != nil {
		pkg.LogWarn(pkg.ComponentControl, "EP0 receive", "error", err)
		d.ControlError()
	}
}

// ControlStatus sends the zero-length IN status stage.
func (d *Driver) ControlStatus() {
	d.ctrl.phase = controlStatusIn
	if err := d.hal.Transmit(EP0In, nil); err != nil {
		pkg.LogWarn(pkg.ComponentControl, "EP0 status", "error", err)
		d.ControlError()
	}
}

// ControlError stalls both EP0 directions. The controller clears the stall
// on the next SETUP.
func (d *Driver) ControlError() {
	d.ctrl.phase = controlIdle
	if err := d.hal.Stall(EP0In); err != nil {
		pkg.LogWarn(pkg.ComponentControl, "stall EP0 IN", "error", err)
	}
	if err := d.hal.Stall(EP0Out); err != nil {
		pkg.LogWarn(pkg.ComponentControl, "stall EP0 OUT", "error", err)
	}
}

// ep0DataIn advances the control transfer after an EP0 IN completion.
func (d *Driver) ep0DataIn() {
	switch d.ctrl.phase {
	case controlDataIn:
		d.ctrl.phase = controlStatusOut
		if err := d.hal.PrepareReceive(EP0Out, d.ctrl.outBuf[:0]); err != nil {
			pkg.LogWarn(pkg.ComponentControl, "EP0 status receive", "error", err)
			d.ControlError()
		}
	case controlStatusIn:
		d.ctrl.phase = controlIdle
	}
}

// ep0DataOut advances the control transfer after an EP0 OUT completion.
func (d *Driver) ep0DataOut() {
	switch d.ctrl.phase {
	case controlDataOut:
		n := d.hal.RxCount(EP0Out)
		if n > int(d.ctrl.setup.Length) {
			n = int(d.ctrl.setup.Length)
		}
		setup := d.ctrl.setup
		c := d.Class()
		if c == nil || setup.IsStandard() {
			d.ControlError()
			return
		}
		if err := c.EP0RxReady(d, &setup, d.ctrl.outBuf[:n]); err != nil {
			pkg.LogDebug(pkg.ComponentControl, "data stage rejected",
				"request", setup.Request,
				"error", err)
			d.ControlError()
			return
		}
		d.ControlStatus()
	case controlStatusOut:
		d.ctrl.phase = controlIdle
	}
}
