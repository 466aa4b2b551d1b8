package config

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/ardnew/softecm/pkg"
)

// Limits checked by Validate.
const (
	MinMTU = 576
	MaxMTU = 1500

	// A string descriptor holds at most 126 UTF-16 code units.
	MaxStringLength = 126
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if err := validateUSB(&cfg.USB); err != nil {
		return err
	}
	if err := validateECM(&cfg.ECM); err != nil {
		return err
	}
	if err := validateNetwork(&cfg.Network); err != nil {
		return err
	}

	// host and device must not share an address on the link
	host, _ := net.ParseMAC(cfg.ECM.HostMAC)
	dev, _ := net.ParseMAC(cfg.Network.MAC)
	if host.String() == dev.String() {
		return fmt.Errorf("ecm.host_mac and network.mac must differ (both %s)", host)
	}

	if _, err := pkg.ParseLogLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if _, err := pkg.ParseLogFormat(cfg.Log.Format); err != nil {
		return fmt.Errorf("log.format: %w", err)
	}
	return nil
}

// ------------------------------------------------------------
// USB IDENTITY
// ------------------------------------------------------------

func validateUSB(u *USBConfig) error {
	if u.VendorID == 0 {
		return fmt.Errorf("usb.vendor_id must be non-zero")
	}
	for _, s := range []struct {
		key, value string
	}{
		{"usb.manufacturer", u.Manufacturer},
		{"usb.product", u.Product},
		{"usb.serial", u.Serial},
	} {
		// UTF-16 surrogate pairs would overflow the descriptor
		for _, r := range s.value {
			if r > 0xFFFF {
				return fmt.Errorf("%s: character %q is outside the basic multilingual plane", s.key, r)
			}
		}
	}
	return nil
}

// ------------------------------------------------------------
// ECM FUNCTION
// ------------------------------------------------------------

func validateECM(e *ECMConfig) error {
	if e.ControlInterface == 0xFF {
		return fmt.Errorf("ecm.control_interface %d leaves no room for the data interface", e.ControlInterface)
	}

	eps := []struct {
		key  string
		addr uint8
		in   bool
	}{
		{"ecm.data_in_endpoint", e.DataInEndpoint, true},
		{"ecm.data_out_endpoint", e.DataOutEndpoint, false},
		{"ecm.notify_endpoint", e.NotifyEndpoint, true},
	}
	seen := make(map[uint8]string)
	for _, ep := range eps {
		num := ep.addr & 0x0F
		if num == 0 || ep.addr&0x70 != 0 {
			return fmt.Errorf("%s: invalid endpoint address 0x%02X", ep.key, ep.addr)
		}
		if in := ep.addr&0x80 != 0; in != ep.in {
			dir := "OUT"
			if ep.in {
				dir = "IN"
			}
			return fmt.Errorf("%s: 0x%02X is not an %s endpoint", ep.key, ep.addr, dir)
		}
		if other, ok := seen[ep.addr]; ok {
			return fmt.Errorf("%s: 0x%02X already used by %s", ep.key, ep.addr, other)
		}
		seen[ep.addr] = ep.key
	}

	switch e.FullSpeedPacketSize {
	case 8, 16, 32, 64:
	default:
		return fmt.Errorf("ecm.full_speed_packet_size %d: must be 8, 16, 32 or 64", e.FullSpeedPacketSize)
	}
	if e.HighSpeedPacketSize != 512 {
		return fmt.Errorf("ecm.high_speed_packet_size %d: bulk endpoints must use 512 at high speed", e.HighSpeedPacketSize)
	}
	if e.NotifyMaxPacketSize < 8 || e.NotifyMaxPacketSize > 64 {
		return fmt.Errorf("ecm.notify_max_packet_size %d: must be in [8, 64]", e.NotifyMaxPacketSize)
	}
	if e.NotifyInterval == 0 {
		return fmt.Errorf("ecm.notify_interval must be non-zero")
	}

	if err := validateUnicastMAC("ecm.host_mac", e.HostMAC); err != nil {
		return err
	}
	if e.UplinkSpeed == 0 || e.DownlinkSpeed == 0 {
		return fmt.Errorf("ecm.uplink_speed and ecm.downlink_speed must be non-zero")
	}

	if e.Tx.MaxPolls < 0 {
		return fmt.Errorf("ecm.tx.max_polls %d: must not be negative", e.Tx.MaxPolls)
	}
	if e.Tx.TimeoutUs < 0 {
		return fmt.Errorf("ecm.tx.timeout_us %d: must not be negative", e.Tx.TimeoutUs)
	}
	return nil
}

// ------------------------------------------------------------
// NETWORK INTERFACE
// ------------------------------------------------------------

func validateNetwork(n *NetworkConfig) error {
	if n.Name == "" {
		return fmt.Errorf("network.name must not be empty")
	}
	if err := validateUnicastMAC("network.mac", n.MAC); err != nil {
		return err
	}
	if n.MTU < MinMTU || n.MTU > MaxMTU {
		return fmt.Errorf("network.mtu %d: must be in [%d, %d]", n.MTU, MinMTU, MaxMTU)
	}

	local, err := parseIPv4("network.local", n.Local)
	if err != nil {
		return err
	}
	mask, err := parseIPv4("network.netmask", n.Netmask)
	if err != nil {
		return err
	}
	gw, err := parseIPv4("network.gateway", n.Gateway)
	if err != nil {
		return err
	}

	m := mask.As4()
	ones, bits := net.IPMask(m[:]).Size()
	if bits == 0 || ones == 0 || ones > 30 {
		return fmt.Errorf("network.netmask %s: must be a contiguous mask between /1 and /30", mask)
	}
	prefix := netip.PrefixFrom(local, ones).Masked()
	if !prefix.Contains(gw) {
		return fmt.Errorf("network.gateway %s is outside %s", gw, prefix)
	}
	if gw == local {
		return fmt.Errorf("network.gateway must differ from network.local (%s)", local)
	}
	return nil
}

func validateUnicastMAC(key, s string) error {
	mac, err := net.ParseMAC(s)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if len(mac) != 6 {
		return fmt.Errorf("%s %q: must be a 48-bit address", key, s)
	}
	if mac[0]&0x01 != 0 {
		return fmt.Errorf("%s %s: must be unicast", key, mac)
	}
	return nil
}

func parseIPv4(key, s string) (netip.Addr, error) {
	a, err := netip.ParseAddr(s)
	if err != nil {
		return a, fmt.Errorf("%s: %w", key, err)
	}
	if !a.Is4() {
		return a, fmt.Errorf("%s %s: must be an IPv4 address", key, a)
	}
	return a, nil
}
