package ecm

import (
	"encoding/binary"

	"github.com/ardnew/softecm/device"
	"github.com/ardnew/softecm/device/class/cdc"
	"github.com/ardnew/softecm/pkg"
)

// requestHandler processes one class request. data holds the OUT data
// stage for host-to-device requests and is nil otherwise. The returned
// slice is the IN data stage.
type requestHandler func(e *ECM, d *device.Driver, setup *device.SetupPacket, data []byte) ([]byte, error)

// Statistic feature selectors for GET_ETHERNET_STATISTIC (ECM 1.2 Table 9).
const (
	StatXmitOK      = 0x01
	StatRcvOK       = 0x02
	StatXmitError   = 0x03
	StatRcvError    = 0x04
	StatRcvNoBuffer = 0x05
)

func defaultHandlers() map[uint8]requestHandler {
	return map[uint8]requestHandler{
		cdc.RequestSendEncapsulatedCommand: handleSendEncapsulatedCommand,
		cdc.RequestGetEncapsulatedResponse: handleGetEncapsulatedResponse,
		cdc.RequestSetEthernetMulticast:    handleSetMulticastFilters,
		cdc.RequestSetEthernetPMFilter:     handleSetPMPatternFilter,
		cdc.RequestGetEthernetPMFilter:     handleGetPMPatternFilter,
		cdc.RequestSetEthernetPacketFilter: handleSetPacketFilter,
		cdc.RequestGetEthernetStatistic:    handleGetStatistic,
	}
}

// Setup dispatches a class request addressed to the communication
// interface. Host-to-device requests with a data stage are completed in
// EP0RxReady.
func (e *ECM) Setup(d *device.Driver, setup *device.SetupPacket) ([]byte, error) {
	if !setup.IsClass() || !setup.IsInterfaceRecipient() ||
		setup.InterfaceNumber() != e.cfg.ControlInterface {
		return nil, pkg.ErrInvalidRequest
	}
	h, ok := e.handlers[setup.Request]
	if !ok {
		pkg.LogDebug(pkg.ComponentClass, "unsupported class request",
			"request", setup.Request)
		return nil, pkg.ErrInvalidRequest
	}
	if setup.IsHostToDevice() && setup.Length > 0 {
		return nil, nil
	}
	return h(e, d, setup, nil)
}

// EP0RxReady completes a host-to-device class request with its data stage.
func (e *ECM) EP0RxReady(d *device.Driver, setup *device.SetupPacket, data []byte) error {
	h, ok := e.handlers[setup.Request]
	if !ok {
		return pkg.ErrInvalidRequest
	}
	_, err := h(e, d, setup, data)
	return err
}

func handleSendEncapsulatedCommand(e *ECM, d *device.Driver, setup *device.SetupPacket, data []byte) ([]byte, error) {
	pkg.LogDebug(pkg.ComponentClass, "encapsulated command ignored",
		"length", len(data))
	return nil, nil
}

func handleGetEncapsulatedResponse(e *ECM, d *device.Driver, setup *device.SetupPacket, data []byte) ([]byte, error) {
	return nil, nil
}

func handleSetMulticastFilters(e *ECM, d *device.Driver, setup *device.SetupPacket, data []byte) ([]byte, error) {
	if len(data)%6 != 0 || int(setup.Value)*6 != len(data) {
		return nil, pkg.ErrInvalidRequest
	}
	pkg.LogDebug(pkg.ComponentClass, "multicast filters ignored",
		"count", setup.Value)
	return nil, nil
}

func handleSetPMPatternFilter(e *ECM, d *device.Driver, setup *device.SetupPacket, data []byte) ([]byte, error) {
	return nil, nil
}

func handleGetPMPatternFilter(e *ECM, d *device.Driver, setup *device.SetupPacket, data []byte) ([]byte, error) {
	// Pattern not active.
	e.respBuf[0], e.respBuf[1] = 0, 0
	return e.respBuf[:2], nil
}

func handleSetPacketFilter(e *ECM, d *device.Driver, setup *device.SetupPacket, data []byte) ([]byte, error) {
	filter := setup.Value
	e.packetFilter.Store(uint32(filter))

	// Any filter brings an idle link up. LinkDown is entered by a zero
	// filter, so only a non-zero one brings it back.
	state := e.State()
	switch {
	case state == StateIdle || (filter != 0 && state == StateLinkDown):
		if !e.state.CompareAndSwap(uint32(state), uint32(StateLinkUp)) {
			return nil, nil
		}
		pkg.LogDebug(pkg.ComponentClass, "link up", "filter", filter)
		if !e.notified.Load() {
			e.announce(d, true)
		}
		if l := e.getListener(); l != nil {
			l.LinkUp()
		}

	case filter == 0 && state == StateLinkUp:
		if !e.state.CompareAndSwap(uint32(StateLinkUp), uint32(StateLinkDown)) {
			return nil, nil
		}
		pkg.LogDebug(pkg.ComponentClass, "link down")
		e.notified.Store(false)
		e.announce(d, false)
		if l := e.getListener(); l != nil {
			l.LinkDown()
		}
	}
	return nil, nil
}

func handleGetStatistic(e *ECM, d *device.Driver, setup *device.SetupPacket, data []byte) ([]byte, error) {
	var v uint32
	switch setup.Value {
	case StatXmitOK:
		v = e.txOK.Load()
	case StatRcvOK:
		v = e.rxOK.Load()
	case StatXmitError:
		v = e.txErr.Load()
	case StatRcvError:
		v = e.rxErr.Load()
	case StatRcvNoBuffer:
		v = e.rxNoBuf.Load()
	}
	binary.LittleEndian.PutUint32(e.respBuf[:4], v)
	return e.respBuf[:4], nil
}
