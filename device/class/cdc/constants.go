package cdc

// CDC Class-specific descriptor types.
const (
	DescriptorTypeCSInterface = 0x24 // Class-specific Interface
	DescriptorTypeCSEndpoint  = 0x25 // Class-specific Endpoint
)

// CDC Functional Descriptor subtypes.
const (
	SubtypeHeader          = 0x00 // Header Functional Descriptor
	SubtypeCallManagement  = 0x01 // Call Management Functional Descriptor
	SubtypeACM             = 0x02 // Abstract Control Model Functional Descriptor
	SubtypeDLM             = 0x03 // Direct Line Management Functional Descriptor
	SubtypeTelephoneRinger = 0x04 // Telephone Ringer Functional Descriptor
	SubtypeTelephoneCall   = 0x05 // Telephone Call Functional Descriptor
	SubtypeUnion           = 0x06 // Union Functional Descriptor
	SubtypeCountrySelect   = 0x07 // Country Selection Functional Descriptor
	SubtypeTelephoneOpMode = 0x08 // Telephone Operational Modes Functional Descriptor
	SubtypeUSBTerminal     = 0x09 // USB Terminal Functional Descriptor
	SubtypeNetworkChannel  = 0x0A // Network Channel Terminal Functional Descriptor
	SubtypeProtocolUnit    = 0x0B // Protocol Unit Functional Descriptor
	SubtypeExtensionUnit   = 0x0C // Extension Unit Functional Descriptor
	SubtypeMCM             = 0x0D // Multi-Channel Management Functional Descriptor
	SubtypeCAPI            = 0x0E // CAPI Control Management Functional Descriptor
	SubtypeEthernet        = 0x0F // Ethernet Networking Functional Descriptor
	SubtypeATMNetworking   = 0x10 // ATM Networking Functional Descriptor
)

// CDC Class codes.
const (
	ClassCDC     = 0x02 // Communications Device Class
	ClassCDCData = 0x0A // CDC Data Class
)

// CDC Subclass codes.
const (
	SubclassNone = 0x00 // No subclass
	SubclassACM  = 0x02 // Abstract Control Model
	SubclassECM  = 0x06 // Ethernet Networking Control Model
	SubclassNCM  = 0x0D // Network Control Model
)

// CDC Protocol codes.
const (
	ProtocolNone   = 0x00 // No protocol
	ProtocolVendor = 0xFF // Vendor-specific
)

// CDC and ECM request codes (CDC 1.2 Table 19, ECM 1.2 Table 6).
const (
	RequestSendEncapsulatedCommand = 0x00
	RequestGetEncapsulatedResponse = 0x01
	RequestSetEthernetMulticast    = 0x40
	RequestSetEthernetPMFilter     = 0x41
	RequestGetEthernetPMFilter     = 0x42
	RequestSetEthernetPacketFilter = 0x43
	RequestGetEthernetStatistic    = 0x44
)

// CDC notification codes (CDC 1.2 Table 20).
const (
	NotificationNetworkConnection     = 0x00
	NotificationResponseAvailable     = 0x01
	NotificationConnectionSpeedChange = 0x2A
)

// Ethernet packet filter bits for SET_ETHERNET_PACKET_FILTER (ECM 1.2 Table 8).
const (
	PacketFilterPromiscuous  = 1 << 0
	PacketFilterAllMulticast = 1 << 1
	PacketFilterDirected     = 1 << 2
	PacketFilterBroadcast    = 1 << 3
	PacketFilterMulticast    = 1 << 4
)

// HeaderDescriptor is the CDC Header Functional Descriptor.
type HeaderDescriptor struct {
	Length         uint8  // Size of this descriptor (5)
	DescriptorType uint8  // CS_INTERFACE (0x24)
	SubType        uint8  // Header (0x00)
	CDCVersion     uint16 // CDC specification release number (0x0110 for 1.10)
}

// HeaderDescriptorSize is the size of the Header Functional Descriptor.
const HeaderDescriptorSize = 5

// MarshalTo writes the descriptor to buf.
func (d *HeaderDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < HeaderDescriptorSize {
		return 0
	}
	buf[0] = HeaderDescriptorSize
	buf[1] = DescriptorTypeCSInterface
	buf[2] = SubtypeHeader
	buf[3] = byte(d.CDCVersion)
	buf[4] = byte(d.CDCVersion >> 8)
	return HeaderDescriptorSize
}

// UnionDescriptor is the Union Functional Descriptor.
type UnionDescriptor struct {
	Length          uint8 // Size of this descriptor (5 for 1 subordinate)
	DescriptorType  uint8 // CS_INTERFACE (0x24)
	SubType         uint8 // Union (0x06)
	MasterInterface uint8 // Control interface number
	SlaveInterface0 uint8 // First subordinate interface (Data interface)
}

// UnionDescriptorSize is the size of the Union Descriptor with one subordinate.
const UnionDescriptorSize = 5

// MarshalTo writes the descriptor to buf.
func (d *UnionDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < UnionDescriptorSize {
		return 0
	}
	buf[0] = UnionDescriptorSize
	buf[1] = DescriptorTypeCSInterface
	buf[2] = SubtypeUnion
	buf[3] = d.MasterInterface
	buf[4] = d.SlaveInterface0
	return UnionDescriptorSize
}

// EthernetDescriptor is the Ethernet Networking Functional Descriptor
// (ECM 1.2 Table 3).
type EthernetDescriptor struct {
	MACAddressIndex    uint8  // String descriptor index of the 48-bit MAC address
	Statistics         uint32 // Bitmap of the Ethernet statistics the device collects
	MaxSegmentSize     uint16 // Maximum segment size, typically 1514
	NumberMCFilters    uint16 // Number of configurable multicast filters
	NumberPowerFilters uint8  // Number of pattern filters for host wake-up
}

// EthernetDescriptorSize is the size of the Ethernet Networking Functional
// Descriptor.
const EthernetDescriptorSize = 13

// MarshalTo writes the descriptor to buf.
func (d *EthernetDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < EthernetDescriptorSize {
		return 0
	}
	buf[0] = EthernetDescriptorSize
	buf[1] = DescriptorTypeCSInterface
	buf[2] = SubtypeEthernet
	buf[3] = d.MACAddressIndex
	buf[4] = byte(d.Statistics)
	buf[5] = byte(d.Statistics >> 8)
	buf[6] = byte(d.Statistics >> 16)
	buf[7] = byte(d.Statistics >> 24)
	buf[8] = byte(d.MaxSegmentSize)
	buf[9] = byte(d.MaxSegmentSize >> 8)
	buf[10] = byte(d.NumberMCFilters)
	buf[11] = byte(d.NumberMCFilters >> 8)
	buf[12] = d.NumberPowerFilters
	return EthernetDescriptorSize
}

// NotificationHeaderSize is the size of the notification header sent on
// the interrupt IN endpoint.
const NotificationHeaderSize = 8

// Notification is a CDC notification (CDC 1.2 Section 6.3).
type Notification struct {
	Code      uint8  // bNotificationCode
	Value     uint16 // wValue
	Interface uint16 // wIndex: the communication interface number
	Data      []byte // Optional payload; len(Data) becomes wLength
}

// notificationRequestType is bmRequestType for every CDC notification:
// device-to-host, class, interface.
const notificationRequestType = 0xA1

// MarshalTo writes the notification header and payload to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (n *Notification) MarshalTo(buf []byte) int {
	size := NotificationHeaderSize + len(n.Data)
	if len(buf) < size {
		return 0
	}
	buf[0] = notificationRequestType
	buf[1] = n.Code
	buf[2] = byte(n.Value)
	buf[3] = byte(n.Value >> 8)
	buf[4] = byte(n.Interface)
	buf[5] = byte(n.Interface >> 8)
	buf[6] = byte(len(n.Data))
	buf[7] = byte(len(n.Data) >> 8)
	copy(buf[NotificationHeaderSize:], n.Data)
	return size
}

// ParseNotification decodes a notification from data into out. out.Data
// aliases data. Returns false if data is truncated or not a notification.
func ParseNotification(data []byte, out *Notification) bool {
	if len(data) < NotificationHeaderSize || data[0] != notificationRequestType {
		return false
	}
	length := int(data[6]) | int(data[7])<<8
	if len(data) < NotificationHeaderSize+length {
		return false
	}
	out.Code = data[1]
	out.Value = uint16(data[2]) | uint16(data[3])<<8
	out.Interface = uint16(data[4]) | uint16(data[5])<<8
	out.Data = data[NotificationHeaderSize : NotificationHeaderSize+length]
	return true
}
