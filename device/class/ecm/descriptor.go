package ecm

import (
	"github.com/ardnew/softecm/device"
	"github.com/ardnew/softecm/device/class/cdc"
	"github.com/ardnew/softecm/device/hal"
	"github.com/ardnew/softecm/pkg/pbuf"
)

// ConfigDescriptorSize is the size of the full configuration descriptor.
const ConfigDescriptorSize = device.ConfigurationDescriptorSize +
	device.InterfaceDescriptorSize +
	cdc.HeaderDescriptorSize +
	cdc.UnionDescriptorSize +
	cdc.EthernetDescriptorSize +
	device.EndpointDescriptorSize +
	device.InterfaceDescriptorSize +
	2*device.EndpointDescriptorSize

// Configuration descriptor constants.
const (
	ConfigurationValue = 1
	MaxPowerUnits      = 50 // 100 mA

	// CDCVersion is the bcdCDC advertised in the header descriptor.
	CDCVersion = 0x0110

	// StatisticsBitmap advertises the counters kept by [Statistics]:
	// XMIT_OK, RCV_OK, XMIT_ERROR, RCV_ERROR, RCV_NO_BUFFER.
	StatisticsBitmap = 0x0000001F
)

// ConfigDescriptor returns the configuration descriptor for speed.
// The returned slice is valid until the next call.
func (e *ECM) ConfigDescriptor(speed hal.Speed) []byte {
	mps := e.cfg.FullSpeedPacketSize
	if speed == hal.SpeedHigh {
		mps = e.cfg.HighSpeedPacketSize
	}
	n := e.configDescriptorTo(e.configBuf[:], mps)
	return e.configBuf[:n]
}

func (e *ECM) configDescriptorTo(buf []byte, mps uint16) int {
	if len(buf) < ConfigDescriptorSize {
		return 0
	}

	config := device.ConfigurationDescriptor{
		TotalLength:        ConfigDescriptorSize,
		NumInterfaces:      2,
		ConfigurationValue: ConfigurationValue,
		Attributes:         device.ConfigAttrBusPowered | device.ConfigAttrSelfPowered,
		MaxPower:           MaxPowerUnits,
	}
	comm := device.InterfaceDescriptor{
		InterfaceNumber:   e.cfg.ControlInterface,
		NumEndpoints:      1,
		InterfaceClass:    cdc.ClassCDC,
		InterfaceSubClass: cdc.SubclassECM,
		InterfaceProtocol: cdc.ProtocolNone,
	}
	header := cdc.HeaderDescriptor{CDCVersion: CDCVersion}
	union := cdc.UnionDescriptor{
		MasterInterface: e.cfg.ControlInterface,
		SlaveInterface0: e.cfg.DataInterface(),
	}
	ether := cdc.EthernetDescriptor{
		MACAddressIndex: MACStringIndex,
		Statistics:      StatisticsBitmap,
		MaxSegmentSize:  pbuf.MaxFrameSize,
	}
	notify := device.EndpointDescriptor{
		EndpointAddress: e.cfg.NotifyEndpoint,
		Attributes:      device.EndpointTypeInterrupt,
		MaxPacketSize:   e.cfg.NotifyMaxPacketSize,
		Interval:        e.cfg.NotifyInterval,
	}
	data := device.InterfaceDescriptor{
		InterfaceNumber: e.cfg.DataInterface(),
		NumEndpoints:    2,
		InterfaceClass:  cdc.ClassCDCData,
	}
	out := device.EndpointDescriptor{
		EndpointAddress: e.cfg.DataOutEndpoint,
		Attributes:      device.EndpointTypeBulk,
		MaxPacketSize:   mps,
	}
	in := device.EndpointDescriptor{
		EndpointAddress: e.cfg.DataInEndpoint,
		Attributes:      device.EndpointTypeBulk,
		MaxPacketSize:   mps,
	}

	n := config.MarshalTo(buf)
	n += comm.MarshalTo(buf[n:])
	n += header.MarshalTo(buf[n:])
	n += union.MarshalTo(buf[n:])
	n += ether.MarshalTo(buf[n:])
	n += notify.MarshalTo(buf[n:])
	n += data.MarshalTo(buf[n:])
	n += out.MarshalTo(buf[n:])
	n += in.MarshalTo(buf[n:])
	return n
}

// DeviceDescriptors returns device descriptors announcing a composite CDC
// device for this function.
func DeviceDescriptors(vendorID, productID uint16, manufacturer, product, serial string) *device.Descriptors {
	d := device.NewDescriptors(vendorID, productID, manufacturer, product, serial)
	d.Device.DeviceClass = cdc.ClassCDC
	return d
}
