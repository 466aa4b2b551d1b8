// Package config loads the bridge configuration from YAML.
//
// A configuration is processed in three steps: [Load] decodes the file
// over [Default], [Validate] checks it without modifying it, and
// [Normalize] canonicalizes it. The accessor methods convert a validated
// configuration to the types used by the device, class and netif packages.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	USB     USBConfig     `yaml:"usb"`
	ECM     ECMConfig     `yaml:"ecm"`
	Network NetworkConfig `yaml:"network"`
	Log     LogConfig     `yaml:"log"`
}

// ---- USB IDENTITY ----

type USBConfig struct {
	VendorID     uint16 `yaml:"vendor_id"`
	ProductID    uint16 `yaml:"product_id"`
	Manufacturer string `yaml:"manufacturer"`
	Product      string `yaml:"product"`
	Serial       string `yaml:"serial"`
	SelfPowered  bool   `yaml:"self_powered"`
}

// ---- ECM FUNCTION ----

type ECMConfig struct {
	ControlInterface uint8 `yaml:"control_interface"`
	DataInEndpoint   uint8 `yaml:"data_in_endpoint"`
	DataOutEndpoint  uint8 `yaml:"data_out_endpoint"`
	NotifyEndpoint   uint8 `yaml:"notify_endpoint"`

	NotifyMaxPacketSize uint16 `yaml:"notify_max_packet_size"`
	NotifyInterval      uint8  `yaml:"notify_interval"`
	FullSpeedPacketSize uint16 `yaml:"full_speed_packet_size"`
	HighSpeedPacketSize uint16 `yaml:"high_speed_packet_size"`

	// MAC address of the host side, served as the iMACAddress string
	HostMAC string `yaml:"host_mac"`

	UplinkSpeed   uint32 `yaml:"uplink_speed"`   // bits/s
	DownlinkSpeed uint32 `yaml:"downlink_speed"` // bits/s

	Tx TxConfig `yaml:"tx"`
}

type TxConfig struct {
	MaxPolls  int `yaml:"max_polls"`
	TimeoutUs int `yaml:"timeout_us"`
}

// ---- NETWORK INTERFACE ----

type NetworkConfig struct {
	Name    string `yaml:"name"`
	MAC     string `yaml:"mac"` // device side
	MTU     int    `yaml:"mtu"`
	Local   string `yaml:"local"`
	Netmask string `yaml:"netmask"`
	Gateway string `yaml:"gateway"`
}

// ---- LOGGING ----

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the YAML file at path. Keys absent from the file keep their
// [Default] values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML data over [Default].
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
