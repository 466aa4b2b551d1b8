package sim

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/softecm/device/hal"
	"github.com/ardnew/softecm/pkg"
)

// Standard request codes and descriptor types used by the host side.
const (
	requestSetAddress       = 0x05
	requestGetDescriptor    = 0x06
	requestSetConfiguration = 0x09

	descriptorDevice        = 0x01
	descriptorConfiguration = 0x02
	descriptorString        = 0x03

	configHeaderSize = 9
)

// Enumeration is what the host learned while enumerating.
type Enumeration struct {
	Device        []byte // Device descriptor
	Configuration []byte // Full configuration descriptor set
}

// Enumerate runs the host's enumeration sequence: GET_DESCRIPTOR(device),
// SET_ADDRESS, GET_DESCRIPTOR(configuration) header then full set, and
// SET_CONFIGURATION(config).
func (c *Controller) Enumerate(address, config uint8) (Enumeration, error) {
	var e Enumeration

	dev, err := c.GetDescriptor(descriptorDevice, 0, 0, 64)
	if err != nil {
		return e, fmt.Errorf("get device descriptor: %w", err)
	}
	e.Device = dev

	if _, err := c.Setup(hal.SetupPacket{
		RequestType: 0x00,
		Request:     requestSetAddress,
		Value:       uint16(address),
	}, nil); err != nil {
		return e, fmt.Errorf("set address %d: %w", address, err)
	}

	head, err := c.GetDescriptor(descriptorConfiguration, 0, 0, configHeaderSize)
	if err != nil {
		return e, fmt.Errorf("get configuration header: %w", err)
	}
	if len(head) < configHeaderSize {
		return e, fmt.Errorf("configuration header %d bytes: %w", len(head), pkg.ErrDescriptorTooShort)
	}
	total := binary.LittleEndian.Uint16(head[2:4])
	full, err := c.GetDescriptor(descriptorConfiguration, 0, 0, total)
	if err != nil {
		return e, fmt.Errorf("get configuration: %w", err)
	}
	e.Configuration = full

	if _, err := c.Setup(hal.SetupPacket{
		RequestType: 0x00,
		Request:     requestSetConfiguration,
		Value:       uint16(config),
	}, nil); err != nil {
		return e, fmt.Errorf("set configuration %d: %w", config, err)
	}

	pkg.LogDebug(pkg.ComponentHAL, "sim enumerated",
		"address", address,
		"configuration", config,
		"configLength", len(full))
	return e, nil
}

// GetDescriptor issues GET_DESCRIPTOR for descriptor typ at index.
func (c *Controller) GetDescriptor(typ, index uint8, langID, length uint16) ([]byte, error) {
	return c.Setup(hal.SetupPacket{
		RequestType: 0x80,
		Request:     requestGetDescriptor,
		Value:       uint16(typ)<<8 | uint16(index),
		Index:       langID,
		Length:      length,
	}, nil)
}

// GetString fetches string descriptor index in US English and decodes it.
func (c *Controller) GetString(index uint8) (string, error) {
	raw, err := c.GetDescriptor(descriptorString, index, 0x0409, 255)
	if err != nil {
		return "", err
	}
	if len(raw) < 2 || int(raw[0]) > len(raw) || raw[1] != descriptorString {
		return "", fmt.Errorf("string %d: %w", index, pkg.ErrDescriptorTypeMismatch)
	}
	units := make([]rune, 0, (int(raw[0])-2)/2)
	for i := 2; i+1 < int(raw[0]); i += 2 {
		units = append(units, rune(binary.LittleEndian.Uint16(raw[i:])))
	}
	return string(units), nil
}
