package device

import (
	"fmt"

	"github.com/ardnew/softecm/device/hal"
	"github.com/ardnew/softecm/pkg"
)

// Standard USB request codes (USB 2.0 Spec Table 9-4).
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestSetDescriptor    = 0x07
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
	RequestGetInterface     = 0x0A
	RequestSetInterface     = 0x0B
	RequestSynchFrame       = 0x0C
)

// Feature selectors (USB 2.0 Spec Table 9-6).
const (
	FeatureEndpointHalt       = 0x00 // Endpoint halt feature
	FeatureDeviceRemoteWakeup = 0x01 // Device remote wakeup
	FeatureTestMode           = 0x02 // Test mode
)

// Request type masks (USB 2.0 Spec Table 9-2).
const (
	RequestTypeDirectionMask = 0x80 // Direction bit mask
	RequestTypeTypeMask      = 0x60 // Type bits mask
	RequestTypeRecipientMask = 0x1F // Recipient bits mask
)

// Request type direction values.
const (
	RequestDirectionHostToDevice = 0x00 // Host to device
	RequestDirectionDeviceToHost = 0x80 // Device to host
)

// Request type values.
const (
	RequestTypeStandard = 0x00 // Standard request
	RequestTypeClass    = 0x20 // Class-specific request
	RequestTypeVendor   = 0x40 // Vendor-specific request
)

// Request recipient values.
const (
	RequestRecipientDevice    = 0x00 // Device recipient
	RequestRecipientInterface = 0x01 // Interface recipient
	RequestRecipientEndpoint  = 0x02 // Endpoint recipient
	RequestRecipientOther     = 0x03 // Other recipient
)

// SetupPacket is a decoded 8-byte SETUP packet. It has the same layout as
// [hal.SetupPacket] and converts to and from it directly.
type SetupPacket struct {
	RequestType uint8  // bmRequestType: direction, type, recipient
	Request     uint8  // bRequest: specific request code
	Value       uint16 // wValue: request-specific parameter
	Index       uint16 // wIndex: request-specific index
	Length      uint16 // wLength: number of bytes to transfer
}

// ParseSetupPacket decodes 8 raw bytes into out.
func ParseSetupPacket(data []byte, out *SetupPacket) error {
	var hs hal.SetupPacket
	if !hal.ParseSetupPacket(data, &hs) {
		return pkg.ErrSetupPacketTooShort
	}
	*out = SetupPacket(hs)
	return nil
}

// HAL returns the packet in the controller's representation.
func (s SetupPacket) HAL() hal.SetupPacket {
	return hal.SetupPacket(s)
}

// Direction returns the data stage direction bit.
func (s *SetupPacket) Direction() uint8 {
	return s.RequestType & RequestTypeDirectionMask
}

// IsDeviceToHost returns true if the data stage, if any, is IN.
func (s *SetupPacket) IsDeviceToHost() bool {
	return s.Direction() == RequestDirectionDeviceToHost
}

// IsHostToDevice returns true if the data stage, if any, is OUT.
func (s *SetupPacket) IsHostToDevice() bool {
	return s.Direction() == RequestDirectionHostToDevice
}

// Type returns the request type bits.
func (s *SetupPacket) Type() uint8 {
	return s.RequestType & RequestTypeTypeMask
}

func (s *SetupPacket) IsStandard() bool { return s.Type() == RequestTypeStandard }
func (s *SetupPacket) IsClass() bool    { return s.Type() == RequestTypeClass }

// Recipient returns the recipient bits.
func (s *SetupPacket) Recipient() uint8 {
	return s.RequestType & RequestTypeRecipientMask
}

// IsInterfaceRecipient returns true if wIndex names an interface.
func (s *SetupPacket) IsInterfaceRecipient() bool {
	return s.Recipient() == RequestRecipientInterface
}

// DescriptorType returns the descriptor type in the high byte of wValue.
func (s *SetupPacket) DescriptorType() uint8 {
	return uint8(s.Value >> 8)
}

// DescriptorIndex returns the descriptor index in the low byte of wValue.
func (s *SetupPacket) DescriptorIndex() uint8 {
	return uint8(s.Value)
}

// InterfaceNumber returns the interface number in wIndex.
func (s *SetupPacket) InterfaceNumber() uint8 {
	return uint8(s.Index)
}

// EndpointAddress returns the endpoint address in wIndex.
func (s *SetupPacket) EndpointAddress() uint8 {
	return uint8(s.Index)
}

var standardRequestNames = [...]string{
	RequestGetStatus:        "GET_STATUS",
	RequestClearFeature:     "CLEAR_FEATURE",
	RequestSetFeature:       "SET_FEATURE",
	RequestSetAddress:       "SET_ADDRESS",
	RequestGetDescriptor:    "GET_DESCRIPTOR",
	RequestSetDescriptor:    "SET_DESCRIPTOR",
	RequestGetConfiguration: "GET_CONFIGURATION",
	RequestSetConfiguration: "SET_CONFIGURATION",
	RequestGetInterface:     "GET_INTERFACE",
	RequestSetInterface:     "SET_INTERFACE",
	RequestSynchFrame:       "SYNCH_FRAME",
}

// String formats the packet for logging, naming standard requests.
func (s *SetupPacket) String() string {
	name := fmt.Sprintf("0x%02X", s.Request)
	switch {
	case s.IsStandard() && int(s.Request) < len(standardRequestNames) && standardRequestNames[s.Request] != "":
		name = standardRequestNames[s.Request]
	case s.IsClass():
		name = "CLASS " + name
	case s.Type() == RequestTypeVendor:
		name = "VENDOR " + name
	}
	return fmt.Sprintf("%s type=0x%02X value=0x%04X index=0x%04X length=%d",
		name, s.RequestType, s.Value, s.Index, s.Length)
}

// Request builders for the host side of a control transfer.

// DescriptorRequest returns GET_DESCRIPTOR for typ/index. langID is only
// meaningful for string descriptors.
func DescriptorRequest(typ, index uint8, langID, length uint16) SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionDeviceToHost | RequestTypeStandard | RequestRecipientDevice,
		Request:     RequestGetDescriptor,
		Value:       uint16(typ)<<8 | uint16(index),
		Index:       langID,
		Length:      length,
	}
}

// AddressRequest returns SET_ADDRESS.
func AddressRequest(address uint8) SetupPacket {
	return SetupPacket{Request: RequestSetAddress, Value: uint16(address)}
}

// ConfigurationRequest returns SET_CONFIGURATION.
func ConfigurationRequest(value uint8) SetupPacket {
	return SetupPacket{Request: RequestSetConfiguration, Value: uint16(value)}
}

// GetConfigurationRequest returns GET_CONFIGURATION.
func GetConfigurationRequest() SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionDeviceToHost,
		Request:     RequestGetConfiguration,
		Length:      1,
	}
}

// StatusRequest returns GET_STATUS for recipient at index.
func StatusRequest(recipient uint8, index uint16) SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionDeviceToHost | recipient,
		Request:     RequestGetStatus,
		Index:       index,
		Length:      2,
	}
}

// FeatureRequest returns SET_FEATURE, or CLEAR_FEATURE if set is false.
func FeatureRequest(set bool, recipient uint8, feature, index uint16) SetupPacket {
	req := uint8(RequestClearFeature)
	if set {
		req = RequestSetFeature
	}
	return SetupPacket{RequestType: recipient, Request: req, Value: feature, Index: index}
}

// InterfaceRequest returns SET_INTERFACE(alt), or GET_INTERFACE if get.
func InterfaceRequest(get bool, iface, alt uint8) SetupPacket {
	if get {
		return SetupPacket{
			RequestType: RequestDirectionDeviceToHost | RequestRecipientInterface,
			Request:     RequestGetInterface,
			Index:       uint16(iface),
			Length:      1,
		}
	}
	return SetupPacket{
		RequestType: RequestRecipientInterface,
		Request:     RequestSetInterface,
		Value:       uint16(alt),
		Index:       uint16(iface),
	}
}

// ClassRequest returns a class request addressed to interface iface.
func ClassRequest(dir, request uint8, value uint16, iface uint8, length uint16) SetupPacket {
	return SetupPacket{
		RequestType: dir | RequestTypeClass | RequestRecipientInterface,
		Request:     request,
		Value:       value,
		Index:       uint16(iface),
		Length:      length,
	}
}
