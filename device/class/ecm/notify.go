package ecm

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ardnew/softecm/device"
	"github.com/ardnew/softecm/device/class/cdc"
	"github.com/ardnew/softecm/pkg"
)

// Notification sequencing stages.
const (
	noteIdle       uint32 = iota
	noteConnection        // NETWORK_CONNECTION in flight, speed change follows
	noteSpeed             // CONNECTION_SPEED_CHANGE in flight
)

// noPending marks an empty connection notification queue.
const noPending int32 = -1

// notify sends a notification on the interrupt endpoint using the
// notification buffer. Returns [pkg.ErrBusy] if one is still in flight.
func (e *ECM) notify(d *device.Driver, code uint8, value uint16, payload []byte) error {
	if d == nil || e.note == nil {
		return pkg.ErrNotConfigured
	}
	if !e.note.Acquire() {
		return fmt.Errorf("notification 0x%02X: %w", code, pkg.ErrBusy)
	}

	n := cdc.Notification{
		Code:      code,
		Value:     value,
		Interface: uint16(e.cfg.ControlInterface),
		Data:      payload,
	}
	size := n.MarshalTo(e.noteBuf[:])
	if _, err := e.note.Fill(e.noteBuf[:size]); err != nil {
		_ = e.note.Release()
		return err
	}
	loan, err := e.note.Lend()
	if err != nil {
		_ = e.note.Release()
		return err
	}
	if err := d.Transmit(e.cfg.NotifyEndpoint, loan, size); err != nil {
		_ = loan.Cancel()
		return err
	}
	pkg.LogDebug(pkg.ComponentClass, "notification sent",
		"code", fmt.Sprintf("0x%02X", code),
		"value", value)
	return nil
}

// notifySpeed sends CONNECTION_SPEED_CHANGE with the configured rates.
func (e *ECM) notifySpeed(d *device.Driver) error {
	var payload [8]byte
	binary.LittleEndian.PutUint32(payload[0:4], e.cfg.DownlinkSpeed)
	binary.LittleEndian.PutUint32(payload[4:8], e.cfg.UplinkSpeed)
	return e.notify(d, cdc.NotificationConnectionSpeedChange, 0, payload[:])
}

// announce queues a NETWORK_CONNECTION value and sends it as soon as the
// notification buffer is free. A newer value replaces one still queued.
func (e *ECM) announce(d *device.Driver, connected bool) {
	v := int32(0)
	if connected {
		v = 1
	}
	e.pendingConn.Store(v)
	e.flushNotify(d)
}

// flushNotify sends the queued connection value. It stays queued if the
// notification buffer is busy.
func (e *ECM) flushNotify(d *device.Driver) {
	v := e.pendingConn.Swap(noPending)
	if v == noPending {
		return
	}
	if err := e.notify(d, cdc.NotificationNetworkConnection, uint16(v), nil); err != nil {
		e.pendingConn.CompareAndSwap(noPending, v)
		if errors.Is(err, pkg.ErrBusy) {
			pkg.LogDebug(pkg.ComponentClass, "connection notification deferred", "value", v)
		} else {
			pkg.LogWarn(pkg.ComponentClass, "connection notification", "value", v, "error", err)
		}
		return
	}
	if v == 1 {
		e.notified.Store(true)
		e.noteStage.Store(noteConnection)
	}
}

// notifyComplete frees the notification buffer, sends the speed change
// that follows a connection and then any queued connection value.
func (e *ECM) notifyComplete(d *device.Driver, t *device.Transfer) {
	if t.Loan.Valid() {
		if err := t.Loan.Cancel(); err != nil {
			pkg.LogWarn(pkg.ComponentClass, "free notification", "error", err)
		}
	}
	if e.noteStage.CompareAndSwap(noteConnection, noteSpeed) {
		err := e.notifySpeed(d)
		if err == nil {
			return
		}
		pkg.LogWarn(pkg.ComponentClass, "speed notification", "error", err)
	}
	e.noteStage.Store(noteIdle)
	e.flushNotify(d)
}
