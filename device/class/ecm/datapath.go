package ecm

import (
	"errors"
	"fmt"

	"github.com/ardnew/softecm/device"
	"github.com/ardnew/softecm/pkg"
	"github.com/ardnew/softecm/pkg/pbuf"
)

// armRx lends the firmware-owned receive buffer to the OUT endpoint.
func (e *ECM) armRx(d *device.Driver) error {
	loan, err := e.rx.Lend()
	if err != nil {
		return err
	}
	mps := int(e.dataMPS.Load())
	if err := d.PrepareReceive(e.cfg.DataOutEndpoint, loan, 0, mps); err != nil {
		if cerr := loan.Cancel(); cerr != nil {
			pkg.LogWarn(pkg.ComponentClass, "free receive buffer", "error", cerr)
		}
		return err
	}
	return nil
}

// DataOut collects packets on the OUT endpoint. A full-size packet re-arms
// the endpoint at the next offset; a short packet, or reaching
// [pbuf.MaxFrameSize], completes the frame and hands the buffer to
// firmware.
func (e *ECM) DataOut(d *device.Driver, t *device.Transfer) {
	if t.Address != e.cfg.DataOutEndpoint || !t.Loan.Valid() {
		return
	}
	received := t.Offset + t.Actual
	mps := int(e.dataMPS.Load())

	if t.Status == pkg.TransferStatusOverrun {
		e.rxErr.Add(1)
		pkg.LogDebug(pkg.ComponentClass, "receive overrun", "length", received)
		e.rearm(d, t.Loan, 0, mps)
		return
	}
	if received == 0 {
		e.rearm(d, t.Loan, 0, mps)
		return
	}
	if t.Actual == mps && received < pbuf.MaxFrameSize {
		e.rearm(d, t.Loan, received, min(mps, pbuf.MaxFrameSize-received))
		return
	}

	if err := t.Loan.Return(received); err != nil {
		e.rxErr.Add(1)
		pkg.LogWarn(pkg.ComponentClass, "return receive buffer", "error", err)
		return
	}
	e.rxOK.Add(1)
	pkg.LogDebug(pkg.ComponentClass, "frame received", "length", received)

	if l := e.getListener(); l != nil {
		l.FrameReady()
	}
}

// rearm resubmits the receive loan at offset.
func (e *ECM) rearm(d *device.Driver, loan pbuf.Loan, offset, size int) {
	if err := d.PrepareReceive(e.cfg.DataOutEndpoint, loan, offset, size); err != nil {
		e.rxErr.Add(1)
		pkg.LogWarn(pkg.ComponentClass, "rearm receive", "error", err)
		if cerr := loan.Cancel(); cerr != nil {
			pkg.LogWarn(pkg.ComponentClass, "free receive buffer", "error", cerr)
		}
	}
}

// RxFrame returns the received frame while the receive buffer is owned by
// firmware. The slice aliases the buffer and is valid until ReleaseRx.
func (e *ECM) RxFrame() ([]byte, bool) {
	if e.rx == nil || e.rx.Owner() != pbuf.OwnerFirmware {
		return nil, false
	}
	frame, err := e.rx.Bytes()
	if err != nil {
		return nil, false
	}
	return frame, true
}

// RxPending reports whether a received frame waits for the worker.
func (e *ECM) RxPending() bool {
	return e.rx != nil && e.rx.Owner() == pbuf.OwnerFirmware
}

// ReleaseRx gives the receive buffer back to hardware and re-arms the OUT
// endpoint. If the function has been deinitialized the buffer is freed
// instead and re-armed by the next Init.
func (e *ECM) ReleaseRx() error {
	if e.rx == nil || e.rx.Owner() != pbuf.OwnerFirmware {
		return fmt.Errorf("release rx: %w", pkg.ErrOwnership)
	}
	d := e.drv.Load()
	if d == nil || !e.State().active() {
		return e.rx.Release()
	}
	if err := e.armRx(d); err != nil {
		e.rxNoBuf.Add(1)
		if errors.Is(err, pkg.ErrTransport) {
			return err
		}
		return fmt.Errorf("release rx: %w: %w", pkg.ErrTransport, err)
	}
	return nil
}

// Transmit sends one Ethernet frame to the host. It waits per the
// configured [TxPolicy] for the previous frame to complete.
//
// Returns [pkg.ErrFrameTooLarge] for frames over [pbuf.MaxFrameSize],
// [pkg.ErrNotConfigured] while the link is not up, [pkg.ErrBusy] if the
// transmit buffer did not free in time and an error wrapping
// [pkg.ErrTransport] if the controller rejected the submission.
func (e *ECM) Transmit(frame []byte) error {
	if len(frame) > pbuf.MaxFrameSize {
		return fmt.Errorf("transmit %d bytes: %w", len(frame), pkg.ErrFrameTooLarge)
	}
	d := e.drv.Load()
	if d == nil || e.tx == nil || e.State() != StateLinkUp {
		return fmt.Errorf("transmit: %w", pkg.ErrNotConfigured)
	}

	ok, polls := e.cfg.TxPolicy.wait(e.tx.Acquire)
	if !ok {
		pkg.LogDebug(pkg.ComponentClass, "transmit buffer busy", "polls", polls)
		return fmt.Errorf("transmit: %w", pkg.ErrBusy)
	}

	n, err := e.tx.Fill(frame)
	if err != nil {
		_ = e.tx.Release()
		return err
	}
	loan, err := e.tx.Lend()
	if err != nil {
		_ = e.tx.Release()
		return err
	}
	if err := d.Transmit(e.cfg.DataInEndpoint, loan, n); err != nil {
		e.txErr.Add(1)
		if cerr := loan.Cancel(); cerr != nil {
			pkg.LogWarn(pkg.ComponentClass, "free transmit buffer", "error", cerr)
		}
		if errors.Is(err, pkg.ErrTransport) {
			return err
		}
		return fmt.Errorf("transmit: %w: %w", pkg.ErrTransport, err)
	}
	return nil
}

// TxIdle reports whether the transmit buffer is free.
func (e *ECM) TxIdle() bool {
	return e.tx == nil || e.tx.Owner() == pbuf.OwnerFree
}

// DataIn completes transfers on the data IN and notification endpoints.
// A data transfer whose length is a non-zero multiple of the packet size
// is terminated with a zero-length packet before the buffer is freed.
func (e *ECM) DataIn(d *device.Driver, t *device.Transfer) {
	switch t.Address {
	case e.cfg.NotifyEndpoint:
		e.notifyComplete(d, t)

	case e.cfg.DataInEndpoint:
		if !t.Loan.Valid() {
			return
		}
		mps := int(e.dataMPS.Load())
		if t.Requested > 0 && t.Requested%mps == 0 {
			err := d.Transmit(t.Address, t.Loan, 0)
			if err == nil {
				return
			}
			pkg.LogWarn(pkg.ComponentClass, "zero-length packet", "error", err)
		}
		if err := t.Loan.Cancel(); err != nil {
			pkg.LogWarn(pkg.ComponentClass, "free transmit buffer", "error", err)
			return
		}
		e.txOK.Add(1)
	}
}
