package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/ardnew/softecm/device"
	"github.com/ardnew/softecm/device/class/ecm"
	"github.com/ardnew/softecm/netif"
	"github.com/ardnew/softecm/pkg"
)

// Default USB identity. 0x1209 is the pid.codes vendor ID; 0x0001 is its
// test product ID.
const (
	DefaultVendorID     = 0x1209
	DefaultProductID    = 0x0001
	DefaultManufacturer = "softecm"
	DefaultProduct      = "USB Ethernet"
	DefaultSerial       = "0001"
)

// Default returns a configuration with every field set to the package
// defaults of device, ecm and netif.
func Default() *Config {
	e := ecm.DefaultConfig()
	n := netif.DefaultConfig()
	tx := e.TxPolicy
	return &Config{
		USB: USBConfig{
			VendorID:     DefaultVendorID,
			ProductID:    DefaultProductID,
			Manufacturer: DefaultManufacturer,
			Product:      DefaultProduct,
			Serial:       DefaultSerial,
		},
		ECM: ECMConfig{
			ControlInterface:    e.ControlInterface,
			DataInEndpoint:      e.DataInEndpoint,
			DataOutEndpoint:     e.DataOutEndpoint,
			NotifyEndpoint:      e.NotifyEndpoint,
			NotifyMaxPacketSize: e.NotifyMaxPacketSize,
			NotifyInterval:      e.NotifyInterval,
			FullSpeedPacketSize: e.FullSpeedPacketSize,
			HighSpeedPacketSize: e.HighSpeedPacketSize,
			HostMAC:             e.HostMAC.String(),
			UplinkSpeed:         e.UplinkSpeed,
			DownlinkSpeed:       e.DownlinkSpeed,
			Tx: TxConfig{
				MaxPolls:  tx.MaxPolls,
				TimeoutUs: int(tx.Timeout / time.Microsecond),
			},
		},
		Network: NetworkConfig{
			Name:    n.Name,
			MAC:     n.HardwareAddr.String(),
			MTU:     n.MTU,
			Local:   n.Addressing.Local.String(),
			Netmask: n.Addressing.Netmask.String(),
			Gateway: n.Addressing.Gateway.String(),
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// Descriptors returns the device descriptors for the USB identity.
func (c *Config) Descriptors() *device.Descriptors {
	return ecm.DeviceDescriptors(c.USB.VendorID, c.USB.ProductID,
		c.USB.Manufacturer, c.USB.Product, c.USB.Serial)
}

// ECMConfig returns the class function configuration.
func (c *Config) ECMConfig() (ecm.Config, error) {
	mac, err := net.ParseMAC(c.ECM.HostMAC)
	if err != nil {
		return ecm.Config{}, fmt.Errorf("ecm.host_mac: %w", err)
	}
	return ecm.Config{
		ControlInterface:    c.ECM.ControlInterface,
		DataInEndpoint:      c.ECM.DataInEndpoint,
		DataOutEndpoint:     c.ECM.DataOutEndpoint,
		NotifyEndpoint:      c.ECM.NotifyEndpoint,
		NotifyMaxPacketSize: c.ECM.NotifyMaxPacketSize,
		NotifyInterval:      c.ECM.NotifyInterval,
		FullSpeedPacketSize: c.ECM.FullSpeedPacketSize,
		HighSpeedPacketSize: c.ECM.HighSpeedPacketSize,
		HostMAC:             mac,
		UplinkSpeed:         c.ECM.UplinkSpeed,
		DownlinkSpeed:       c.ECM.DownlinkSpeed,
		TxPolicy:            c.TxPolicy(),
	}, nil
}

// TxPolicy returns the transmit wait bounds.
func (c *Config) TxPolicy() ecm.TxPolicy {
	return ecm.TxPolicy{
		MaxPolls: c.ECM.Tx.MaxPolls,
		Timeout:  time.Duration(c.ECM.Tx.TimeoutUs) * time.Microsecond,
	}
}

// NetifConfig returns the bridge configuration.
func (c *Config) NetifConfig() (netif.Config, error) {
	mac, err := net.ParseMAC(c.Network.MAC)
	if err != nil {
		return netif.Config{}, fmt.Errorf("network.mac: %w", err)
	}
	addr, err := c.Addressing()
	if err != nil {
		return netif.Config{}, err
	}
	return netif.Config{
		Name:         c.Network.Name,
		HardwareAddr: mac,
		MTU:          c.Network.MTU,
		Addressing:   addr,
	}, nil
}

// Addressing returns the address triple applied on link up.
func (c *Config) Addressing() (netif.Addressing, error) {
	var (
		a   netif.Addressing
		err error
	)
	if a.Local, err = netip.ParseAddr(c.Network.Local); err != nil {
		return a, fmt.Errorf("network.local: %w", err)
	}
	if a.Netmask, err = netip.ParseAddr(c.Network.Netmask); err != nil {
		return a, fmt.Errorf("network.netmask: %w", err)
	}
	if a.Gateway, err = netip.ParseAddr(c.Network.Gateway); err != nil {
		return a, fmt.Errorf("network.gateway: %w", err)
	}
	return a, nil
}

// ApplyLogging configures the package logger from the log section.
func (c *Config) ApplyLogging() error {
	level, err := pkg.ParseLogLevel(c.Log.Level)
	if err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	format, err := pkg.ParseLogFormat(c.Log.Format)
	if err != nil {
		return fmt.Errorf("log.format: %w", err)
	}
	pkg.SetLogLevel(level)
	pkg.SetLogFormat(format)
	pkg.LogDebug(pkg.ComponentConfig, "logging configured",
		"level", level.String(),
		"format", c.Log.Format)
	return nil
}

// LogLevel returns the configured level, or warn if it does not parse.
func (c *Config) LogLevel() slog.Level {
	level, _ := pkg.ParseLogLevel(c.Log.Level)
	return level
}
