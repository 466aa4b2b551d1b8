package sim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ardnew/softecm/device/hal"
	"github.com/ardnew/softecm/pkg"
)

// raise delivers one callback with interrupts serialized.
func (c *Controller) raise(fn func(ev hal.Events)) {
	c.mutex.Lock()
	ev := c.events
	running := c.running
	c.mutex.Unlock()
	if ev == nil || !running {
		return
	}
	c.irq.Lock()
	defer c.irq.Unlock()
	fn(ev)
}

// Bus events

// Attach signals VBUS followed by a bus reset at speed.
func (c *Controller) Attach(speed hal.Speed) {
	c.connected.Add(1)
	c.raise(func(ev hal.Events) { ev.Connected() })
	c.Reset(speed)
}

// Reset signals a bus reset at speed.
func (c *Controller) Reset(speed hal.Speed) {
	c.mutex.Lock()
	c.address = 0
	c.mutex.Unlock()
	c.reset.Add(1)
	c.raise(func(ev hal.Events) { ev.Reset(speed) })
}

// Detach signals loss of VBUS.
func (c *Controller) Detach() {
	c.disconnected.Add(1)
	c.raise(func(ev hal.Events) { ev.Disconnected() })
}

// StartOfFrame signals one start-of-frame token.
func (c *Controller) StartOfFrame() {
	c.sof.Add(1)
	c.raise(func(ev hal.Events) { ev.SOF() })
}

// Suspend signals bus suspend.
func (c *Controller) Suspend() {
	c.suspend.Add(1)
	c.raise(func(ev hal.Events) { ev.Suspend() })
}

// Resume signals bus resume.
func (c *Controller) Resume() {
	c.resume.Add(1)
	c.raise(func(ev hal.Events) { ev.Resume() })
}

// Control transfers

// Setup runs a complete control transfer. For device-to-host requests the
// data stage returned by the device is returned; for host-to-device
// requests data is sent as the data stage. A request rejected by the
// device returns [pkg.ErrStall].
func (c *Controller) Setup(setup hal.SetupPacket, data []byte) ([]byte, error) {
	// A SETUP token clears a protocol stall on EP0.
	c.mutex.Lock()
	for _, a := range [...]uint8{0x00, 0x80} {
		if ep, ok := c.eps[a]; ok {
			ep.stalled = false
			ep.txArmed, ep.rxArmed = false, false
		}
	}
	c.mutex.Unlock()

	c.setup.Add(1)
	c.raise(func(ev hal.Events) { ev.SetupStage(&setup) })

	deviceToHost := setup.RequestType&0x80 != 0
	var resp []byte

	switch {
	case setup.Length == 0:
	case deviceToHost:
		in, err := c.collectIn(0x80)
		if err != nil {
			return nil, fmt.Errorf("setup data stage: %w", err)
		}
		resp = in
		// Status stage: zero-length OUT.
		if err := c.deliverOut(0x00, nil); err != nil {
			return resp, fmt.Errorf("setup status stage: %w", err)
		}
		return resp, nil
	default:
		if len(data) > int(setup.Length) {
			data = data[:setup.Length]
		}
		if err := c.deliverOut(0x00, data); err != nil {
			return nil, fmt.Errorf("setup data stage: %w", err)
		}
	}

	// Status stage: zero-length IN.
	if _, err := c.collectIn(0x80); err != nil {
		return nil, fmt.Errorf("setup status stage: %w", err)
	}
	return resp, nil
}

// collectIn takes the armed IN data on address and raises DataInComplete.
func (c *Controller) collectIn(address uint8) ([]byte, error) {
	c.mutex.Lock()
	ep, ok := c.eps[address]
	switch {
	case !ok:
		c.mutex.Unlock()
		return nil, pkg.ErrInvalidEndpoint
	case ep.stalled:
		c.mutex.Unlock()
		return nil, pkg.ErrStall
	case !ep.txArmed:
		c.mutex.Unlock()
		return nil, pkg.ErrNAK
	}
	out := append([]byte(nil), ep.txData...)
	ep.txArmed = false
	ep.txData = nil
	c.mutex.Unlock()

	c.dataIn.Add(1)
	c.raise(func(ev hal.Events) { ev.DataInComplete(address) })
	return out, nil
}

// deliverOut writes one packet into the armed OUT buffer on address and
// raises DataOutComplete. A packet larger than the buffer is reported with
// its full length, which the device detects as an overrun.
func (c *Controller) deliverOut(address uint8, packet []byte) error {
	c.mutex.Lock()
	ep, ok := c.eps[address]
	switch {
	case !ok:
		c.mutex.Unlock()
		return pkg.ErrInvalidEndpoint
	case ep.stalled:
		c.mutex.Unlock()
		return pkg.ErrStall
	case !ep.rxArmed:
		c.mutex.Unlock()
		return pkg.ErrNAK
	}
	copy(ep.rxBuf, packet)
	ep.rxCount = len(packet)
	ep.rxArmed = false
	ep.rxBuf = nil
	c.mutex.Unlock()

	c.dataOut.Add(1)
	c.raise(func(ev hal.Events) { ev.DataOutComplete(address) })
	return nil
}

// packetSize returns the max packet size of an open endpoint.
func (c *Controller) packetSize(address uint8) (int, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ep, ok := c.eps[address]
	if !ok {
		return 0, fmt.Errorf("sim ep 0x%02X: %w", address, pkg.ErrInvalidEndpoint)
	}
	if ep.cfg.MaxPacketSize == 0 {
		return 0, pkg.ErrInvalidParameter
	}
	return int(ep.cfg.MaxPacketSize), nil
}

// Bulk data

// SendFrame sends frame on OUT endpoint address as max-packet-size packets,
// terminated by a short or zero-length packet. Returns [pkg.ErrNAK] if the
// device has not armed the endpoint for the next packet; packets already
// delivered stay delivered.
func (c *Controller) SendFrame(address uint8, frame []byte) error {
	return c.sendFrame(context.Background(), false, address, frame)
}

// SendFrameWait is SendFrame retrying NAKed packets until ctx is done.
func (c *Controller) SendFrameWait(ctx context.Context, address uint8, frame []byte) error {
	return c.sendFrame(ctx, true, address, frame)
}

func (c *Controller) sendFrame(ctx context.Context, wait bool, address uint8, frame []byte) error {
	mps, err := c.packetSize(address)
	if err != nil {
		return err
	}
	for off := 0; ; {
		end := min(off+mps, len(frame))
		if err := c.retry(ctx, wait, func() error {
			return c.deliverOut(address, frame[off:end])
		}); err != nil {
			return err
		}
		if end-off < mps {
			return nil
		}
		off = end
	}
}

// ReceiveFrame collects one frame transmitted on IN endpoint address,
// including its terminating zero-length packet. Returns [pkg.ErrNAK] if
// the device has nothing to send.
func (c *Controller) ReceiveFrame(address uint8) ([]byte, error) {
	return c.receiveFrame(context.Background(), false, address)
}

// ReceiveFrameWait is ReceiveFrame retrying until ctx is done.
func (c *Controller) ReceiveFrameWait(ctx context.Context, address uint8) ([]byte, error) {
	return c.receiveFrame(ctx, true, address)
}

func (c *Controller) receiveFrame(ctx context.Context, wait bool, address uint8) ([]byte, error) {
	mps, err := c.packetSize(address)
	if err != nil {
		return nil, err
	}
	var frame []byte
	for {
		var data []byte
		if err := c.retry(ctx, wait, func() error {
			var err error
			data, err = c.collectIn(address)
			return err
		}); err != nil {
			if len(frame) > 0 && errors.Is(err, pkg.ErrNAK) {
				return frame, fmt.Errorf("missing zero-length packet: %w", err)
			}
			return nil, err
		}
		frame = append(frame, data...)
		// A transfer is one submission; a submission that is a non-zero
		// multiple of the packet size is followed by a zero-length one.
		if len(data) == 0 || len(data)%mps != 0 {
			return frame, nil
		}
	}
}

// ReceiveTransfer collects one IN submission on address without waiting
// for a terminating packet, as a host does on interrupt endpoints.
// Returns [pkg.ErrNAK] if nothing is armed.
func (c *Controller) ReceiveTransfer(address uint8) ([]byte, error) {
	return c.collectIn(address)
}

// ReceiveTransferWait is ReceiveTransfer retrying until ctx is done.
func (c *Controller) ReceiveTransferWait(ctx context.Context, address uint8) ([]byte, error) {
	var data []byte
	err := c.retry(ctx, true, func() error {
		var err error
		data, err = c.collectIn(address)
		return err
	})
	return data, err
}

// retry runs op, retrying on NAK while wait is set and ctx is live.
func (c *Controller) retry(ctx context.Context, wait bool, op func() error) error {
	c.mutex.Lock()
	interval := c.retryInterval
	c.mutex.Unlock()
	for {
		err := op()
		if !wait || !errors.Is(err, pkg.ErrNAK) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", err, ctx.Err())
		case <-time.After(interval):
		}
	}
}
