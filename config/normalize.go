package config

import (
	"net"
	"strings"
)

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	// ------------------------------------------------------------
	// USB STRINGS
	// ------------------------------------------------------------

	// Characters are validated to fit one UTF-16 unit each; truncate
	// to the longest string a descriptor can carry.
	cfg.USB.Manufacturer = truncate(cfg.USB.Manufacturer, MaxStringLength)
	cfg.USB.Product = truncate(cfg.USB.Product, MaxStringLength)
	cfg.USB.Serial = truncate(cfg.USB.Serial, MaxStringLength)

	// ------------------------------------------------------------
	// ADDRESSES
	// ------------------------------------------------------------

	// Canonical colon-separated lowercase form.
	if mac, err := net.ParseMAC(cfg.ECM.HostMAC); err == nil {
		cfg.ECM.HostMAC = mac.String()
	}
	if mac, err := net.ParseMAC(cfg.Network.MAC); err == nil {
		cfg.Network.MAC = mac.String()
	}

	// ------------------------------------------------------------
	// LOGGING
	// ------------------------------------------------------------

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
