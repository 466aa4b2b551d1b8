package device

import (
	"encoding/binary"

	"github.com/ardnew/softecm/device/hal"
	"github.com/ardnew/softecm/pkg"
)

// Device status bits returned by GET_STATUS (USB 2.0 Spec Figure 9-4).
const (
	StatusSelfPowered  = 1 << 0
	StatusRemoteWakeup = 1 << 1
)

// StandardHandler answers standard USB requests on behalf of a [Driver].
// Descriptors are built on demand into a buffer owned by the handler; a
// returned slice is valid until the next request.
type StandardHandler struct {
	driver      *Driver
	responseBuf [MaxControlDataSize]byte
}

// NewStandardHandler creates a standard request handler for d.
func NewStandardHandler(d *Driver) *StandardHandler {
	return &StandardHandler{driver: d}
}

// Handle processes a standard SETUP request.
// Returns the data stage response (may be nil) and an error.
func (h *StandardHandler) Handle(setup *SetupPacket) ([]byte, error) {
	if !setup.IsStandard() {
		return nil, pkg.ErrInvalidRequest
	}

	switch setup.Recipient() {
	case RequestRecipientDevice:
		return h.deviceRequest(setup)
	case RequestRecipientInterface:
		return h.interfaceRequest(setup)
	case RequestRecipientEndpoint:
		return h.endpointRequest(setup)
	default:
		return nil, pkg.ErrInvalidRequest
	}
}

func (h *StandardHandler) deviceRequest(setup *SetupPacket) ([]byte, error) {
	switch setup.Request {
	case RequestGetStatus:
		var status uint16
		h.driver.mutex.Lock()
		if h.driver.selfPowered {
			status |= StatusSelfPowered
		}
		h.driver.mutex.Unlock()
		if h.driver.remoteWakeup.Load() {
			status |= StatusRemoteWakeup
		}
		binary.LittleEndian.PutUint16(h.responseBuf[:2], status)
		return h.responseBuf[:2], nil

	case RequestClearFeature, RequestSetFeature:
		if setup.Value != FeatureDeviceRemoteWakeup {
			return nil, pkg.ErrInvalidRequest
		}
		h.driver.remoteWakeup.Store(setup.Request == RequestSetFeature)
		return nil, nil

	case RequestSetAddress:
		return nil, h.setAddress(setup)

	case RequestGetDescriptor:
		return h.getDescriptor(setup)

	case RequestGetConfiguration:
		h.responseBuf[0] = h.driver.Configuration()
		return h.responseBuf[:1], nil

	case RequestSetConfiguration:
		return nil, h.setConfiguration(setup)

	default:
		return nil, pkg.ErrInvalidRequest
	}
}

func (h *StandardHandler) setAddress(setup *SetupPacket) error {
	if setup.Value > 127 || setup.Index != 0 || setup.Length != 0 {
		return pkg.ErrInvalidRequest
	}
	if h.driver.IsConfigured() {
		return pkg.ErrInvalidState
	}
	address := uint8(setup.Value)
	if err := h.driver.SetAddress(address); err != nil {
		return err
	}
	if address != 0 {
		h.driver.setState(StateAddress)
	} else {
		h.driver.setState(StateDefault)
	}
	return nil
}

func (h *StandardHandler) setConfiguration(setup *SetupPacket) error {
	value := uint8(setup.Value)
	if value > h.driver.desc.Device.NumConfigurations {
		return pkg.ErrInvalidRequest
	}
	switch h.driver.State() {
	case StateAddress, StateConfigured:
	default:
		return pkg.ErrInvalidState
	}

	current := h.driver.Configuration()
	if value == current {
		return nil
	}
	h.driver.deconfigure()
	if value == 0 {
		return nil
	}
	return h.driver.configure(value)
}

func (h *StandardHandler) getDescriptor(setup *SetupPacket) ([]byte, error) {
	var n int
	switch setup.DescriptorType() {
	case DescriptorTypeDevice:
		n = h.driver.desc.Device.MarshalTo(h.responseBuf[:])

	case DescriptorTypeConfiguration:
		c := h.driver.Class()
		if c == nil || setup.DescriptorIndex() != 0 {
			return nil, pkg.ErrInvalidRequest
		}
		n = copy(h.responseBuf[:], c.ConfigDescriptor(h.driver.Speed()))

	case DescriptorTypeString:
		index := setup.DescriptorIndex()
		if index == StringIndexLanguage {
			n = LanguageDescriptorTo(h.responseBuf[:], LangIDUSEnglish)
			break
		}
		s, ok := h.driver.desc.String(index)
		if !ok {
			if c := h.driver.Class(); c != nil {
				s, ok = c.String(index)
			}
		}
		if !ok {
			return nil, pkg.ErrInvalidRequest
		}
		n = StringDescriptorTo(h.responseBuf[:], s)

	case DescriptorTypeDeviceQualifier:
		if h.driver.Speed() != hal.SpeedHigh {
			return nil, pkg.ErrInvalidRequest
		}
		n = h.deviceQualifierTo(h.responseBuf[:])

	default:
		return nil, pkg.ErrInvalidRequest
	}

	if n == 0 {
		return nil, pkg.ErrBufferTooSmall
	}
	if n > int(setup.Length) {
		n = int(setup.Length)
	}
	return h.responseBuf[:n], nil
}

func (h *StandardHandler) deviceQualifierTo(buf []byte) int {
	desc := &h.driver.desc.Device
	buf[0] = 10
	buf[1] = DescriptorTypeDeviceQualifier
	binary.LittleEndian.PutUint16(buf[2:4], desc.USBVersion)
	buf[4] = desc.DeviceClass
	buf[5] = desc.DeviceSubClass
	buf[6] = desc.DeviceProtocol
	buf[7] = desc.MaxPacketSize0
	buf[8] = desc.NumConfigurations
	buf[9] = 0
	return 10
}

func (h *StandardHandler) interfaceRequest(setup *SetupPacket) ([]byte, error) {
	if !h.driver.IsConfigured() {
		return nil, pkg.ErrInvalidState
	}
	switch setup.Request {
	case RequestGetStatus:
		h.responseBuf[0], h.responseBuf[1] = 0, 0
		return h.responseBuf[:2], nil
	case RequestGetInterface:
		h.responseBuf[0] = 0
		return h.responseBuf[:1], nil
	case RequestSetInterface:
		// Only alternate setting 0 exists.
		if setup.Value != 0 {
			return nil, pkg.ErrInvalidRequest
		}
		return nil, nil
	default:
		return nil, pkg.ErrInvalidRequest
	}
}

func (h *StandardHandler) endpointRequest(setup *SetupPacket) ([]byte, error) {
	address := setup.EndpointAddress()
	if address&0x0F != 0 && !h.driver.IsConfigured() {
		return nil, pkg.ErrInvalidState
	}
	if h.driver.Endpoint(address) == nil {
		return nil, pkg.ErrInvalidEndpoint
	}

	switch setup.Request {
	case RequestGetStatus:
		var status uint16
		if h.driver.IsStalled(address) {
			status = 1
		}
		binary.LittleEndian.PutUint16(h.responseBuf[:2], status)
		return h.responseBuf[:2], nil
	case RequestClearFeature:
		if setup.Value != FeatureEndpointHalt {
			return nil, pkg.ErrInvalidRequest
		}
		return nil, h.driver.ClearStall(address)
	case RequestSetFeature:
		if setup.Value != FeatureEndpointHalt {
			return nil, pkg.ErrInvalidRequest
		}
		return nil, h.driver.SetStall(address)
	default:
		return nil, pkg.ErrInvalidRequest
	}
}
