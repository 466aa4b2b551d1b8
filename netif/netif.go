package netif

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/ardnew/softecm/device/class/ecm"
	"github.com/ardnew/softecm/pkg"
)

// DefaultMTU is the Ethernet payload size advertised to the stack.
const DefaultMTU = 1500

// DefaultName is the interface name registered with the stack.
const DefaultName = "usb0"

// Default addressing applied on link up.
var (
	DefaultLocal   = netip.MustParseAddr("192.168.7.1")
	DefaultNetmask = netip.MustParseAddr("255.255.255.0")
	DefaultGateway = netip.MustParseAddr("192.168.7.2")
)

// DefaultHardwareAddr is the device-side MAC address. It is locally
// administered and differs from [ecm.DefaultHostMAC].
var DefaultHardwareAddr = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}

// Status is the result of an output call, in the stack's terms.
type Status int

// Output status codes.
const (
	StatusOK  Status = iota // Frame queued for transmission
	StatusMem               // Transmit buffer busy; the stack may retry later
	StatusIf                // Interface or transport failure
	StatusArg               // Frame rejected (too large)
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusMem:
		return "out of memory"
	case StatusIf:
		return "interface error"
	case StatusArg:
		return "illegal argument"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// StatusOf maps a transmit error to its output status.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, pkg.ErrFrameTooLarge):
		return StatusArg
	case errors.Is(err, pkg.ErrBusy):
		return StatusMem
	default:
		return StatusIf
	}
}

// Addressing is the fixed address triple handed to the stack on link up.
type Addressing struct {
	Local   netip.Addr
	Netmask netip.Addr
	Gateway netip.Addr
}

// DefaultAddressing returns the default address triple.
func DefaultAddressing() Addressing {
	return Addressing{
		Local:   DefaultLocal,
		Netmask: DefaultNetmask,
		Gateway: DefaultGateway,
	}
}

// Prefix returns the local prefix described by Local and Netmask.
func (a Addressing) Prefix() (netip.Prefix, error) {
	if !a.Local.Is4() || !a.Netmask.Is4() {
		return netip.Prefix{}, pkg.ErrInvalidParameter
	}
	mask := a.Netmask.As4()
	ones, bits := net.IPMask(mask[:]).Size()
	if bits == 0 {
		return netip.Prefix{}, pkg.ErrInvalidParameter
	}
	return a.Local.Prefix(ones)
}

// Interface is the network interface record registered with the stack.
// It is built once by [Bridge.Init].
type Interface struct {
	Name         string
	HardwareAddr net.HardwareAddr
	MTU          int

	// Output transmits one Ethernet frame to the host. Installed by the
	// bridge; safe to call from any goroutine except interrupt context.
	Output func(frame []byte) Status

	// Input, if installed by the stack in AddInterface, receives frames
	// instead of [Stack.Input]. frame aliases the receive buffer and is
	// only valid for the duration of the call.
	Input func(frame []byte) error

	// Private is reserved for the stack.
	Private any

	linkUp atomic.Bool
}

// LinkUp reports whether the stack has been told the link is up.
func (nif *Interface) LinkUp() bool {
	return nif.linkUp.Load()
}

// Stack is the IP stack collaborator. The bridge never looks inside it.
type Stack interface {
	// AddInterface registers nif. The stack may install nif.Input.
	AddInterface(nif *Interface) error

	// Input hands one received frame to the stack. frame aliases the
	// receive buffer and must be copied if retained. Called with the
	// core lock held.
	Input(nif *Interface, frame []byte) error

	// SetLinkUp brings the interface up with addr.
	SetLinkUp(nif *Interface, addr Addressing)

	// SetLinkDown takes the interface down.
	SetLinkDown(nif *Interface)

	// CoreLock returns the lock serializing stack entry points.
	CoreLock() sync.Locker
}

// Class is the link-layer function the bridge moves frames through.
// [*ecm.ECM] implements it.
type Class interface {
	Transmit(frame []byte) error
	RxFrame() ([]byte, bool)
	ReleaseRx() error
	SetListener(l ecm.Listener)
	LinkUp() bool
	Shutdown() error
}

var _ Class = (*ecm.ECM)(nil)
