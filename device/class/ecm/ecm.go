package ecm

import (
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ardnew/softecm/device"
	"github.com/ardnew/softecm/device/class/cdc"
	"github.com/ardnew/softecm/device/hal"
	"github.com/ardnew/softecm/pkg"
	"github.com/ardnew/softecm/pkg/pbuf"
)

// Default endpoint layout and packet sizes.
const (
	DefaultDataInEndpoint  = 0x81
	DefaultDataOutEndpoint = 0x01
	DefaultNotifyEndpoint  = 0x82

	DefaultNotifyMaxPacketSize = 16
	DefaultNotifyInterval      = 0x10
	FullSpeedMaxPacketSize     = 64
	HighSpeedMaxPacketSize     = 512

	// DefaultLinkSpeed is reported in CONNECTION_SPEED_CHANGE (bits/s).
	DefaultLinkSpeed = 5_000_000

	// PoolSize is the number of frame buffers one function uses
	// (receive, transmit, notification).
	PoolSize = 3
)

// DefaultHostMAC is the MAC address the host assigns to its side of the
// link unless configured otherwise. It is locally administered.
var DefaultHostMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}

// State is the class function state.
type State uint32

// Class function states.
const (
	StateUninitialized State = iota
	StateIdle
	StateLinkDown
	StateLinkUp
	StateDeinitialized
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateIdle:
		return "Idle"
	case StateLinkDown:
		return "LinkDown"
	case StateLinkUp:
		return "LinkUp"
	case StateDeinitialized:
		return "Deinitialized"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

// active reports whether endpoints are open in state s.
func (s State) active() bool {
	return s == StateIdle || s == StateLinkDown || s == StateLinkUp
}

// Listener receives class events. Every method is called from interrupt
// context and must only signal.
type Listener interface {
	// FrameReady is called when a complete frame is held in the receive
	// buffer.
	FrameReady()

	// LinkUp is called once when the host enables the packet filter.
	LinkUp()

	// LinkDown is called when a link that was up goes away.
	LinkDown()
}

// Config describes the function's interfaces and endpoints.
type Config struct {
	ControlInterface uint8 // Communication interface; data interface follows
	DataInEndpoint   uint8
	DataOutEndpoint  uint8
	NotifyEndpoint   uint8

	NotifyMaxPacketSize uint16
	NotifyInterval      uint8
	FullSpeedPacketSize uint16
	HighSpeedPacketSize uint16

	// HostMAC is served as the iMACAddress string descriptor.
	HostMAC net.HardwareAddr

	UplinkSpeed   uint32 // bits/s, device to host
	DownlinkSpeed uint32 // bits/s, host to device

	TxPolicy TxPolicy
}

// DefaultConfig returns the default ECM layout.
func DefaultConfig() Config {
	return Config{
		ControlInterface:    0,
		DataInEndpoint:      DefaultDataInEndpoint,
		DataOutEndpoint:     DefaultDataOutEndpoint,
		NotifyEndpoint:      DefaultNotifyEndpoint,
		NotifyMaxPacketSize: DefaultNotifyMaxPacketSize,
		NotifyInterval:      DefaultNotifyInterval,
		FullSpeedPacketSize: FullSpeedMaxPacketSize,
		HighSpeedPacketSize: HighSpeedMaxPacketSize,
		HostMAC:             DefaultHostMAC,
		UplinkSpeed:         DefaultLinkSpeed,
		DownlinkSpeed:       DefaultLinkSpeed,
		TxPolicy:            DefaultTxPolicy(),
	}
}

// DataInterface returns the data interface number.
func (c *Config) DataInterface() uint8 {
	return c.ControlInterface + 1
}

// MACStringIndex is the string descriptor index of the host MAC address.
const MACStringIndex = device.StringIndexClass

// Statistics are the counters reported through GET_ETHERNET_STATISTIC.
type Statistics struct {
	TxOK       uint32
	RxOK       uint32
	TxError    uint32
	RxError    uint32
	RxNoBuffer uint32
}

// ECM is a CDC-ECM class function. It implements [device.ClassDriver].
type ECM struct {
	cfg  Config
	pool *pbuf.Pool
	rx   *pbuf.Buffer
	tx   *pbuf.Buffer
	note *pbuf.Buffer

	drv          atomic.Pointer[device.Driver]
	state        atomic.Uint32 // State
	notified     atomic.Bool
	noteStage    atomic.Uint32
	pendingConn  atomic.Int32 // queued NETWORK_CONNECTION value or noPending
	packetFilter atomic.Uint32
	dataMPS      atomic.Uint32

	// Interrupt context only.
	noteBuf   [cdc.NotificationHeaderSize + 8]byte
	configBuf [device.MaxControlDataSize]byte
	respBuf   [8]byte
	macString string

	txOK, rxOK, txErr, rxErr, rxNoBuf atomic.Uint32

	handlers map[uint8]requestHandler

	mutex    sync.RWMutex
	listener Listener
}

// New creates an ECM function. Zero-valued fields of cfg take their
// defaults.
func New(cfg Config) *ECM {
	def := DefaultConfig()
	if cfg.DataInEndpoint == 0 {
		cfg.DataInEndpoint = def.DataInEndpoint
	}
	if cfg.DataOutEndpoint == 0 {
		cfg.DataOutEndpoint = def.DataOutEndpoint
	}
	if cfg.NotifyEndpoint == 0 {
		cfg.NotifyEndpoint = def.NotifyEndpoint
	}
	if cfg.NotifyMaxPacketSize == 0 {
		cfg.NotifyMaxPacketSize = def.NotifyMaxPacketSize
	}
	if cfg.NotifyInterval == 0 {
		cfg.NotifyInterval = def.NotifyInterval
	}
	if cfg.FullSpeedPacketSize == 0 {
		cfg.FullSpeedPacketSize = def.FullSpeedPacketSize
	}
	if cfg.HighSpeedPacketSize == 0 {
		cfg.HighSpeedPacketSize = def.HighSpeedPacketSize
	}
	if len(cfg.HostMAC) != 6 {
		cfg.HostMAC = def.HostMAC
	}
	if cfg.UplinkSpeed == 0 {
		cfg.UplinkSpeed = def.UplinkSpeed
	}
	if cfg.DownlinkSpeed == 0 {
		cfg.DownlinkSpeed = def.DownlinkSpeed
	}
	if cfg.TxPolicy == (TxPolicy{}) {
		cfg.TxPolicy = def.TxPolicy
	}

	e := &ECM{
		cfg:       cfg,
		pool:      pbuf.NewPool(PoolSize),
		macString: strings.ToUpper(hex.EncodeToString(cfg.HostMAC)),
	}
	e.handlers = defaultHandlers()
	e.pendingConn.Store(noPending)
	e.dataMPS.Store(uint32(cfg.FullSpeedPacketSize))
	return e
}

// Config returns the function configuration.
func (e *ECM) Config() Config {
	return e.cfg
}

// Pool returns the buffer pool backing the function.
func (e *ECM) Pool() *pbuf.Pool {
	return e.pool
}

// SetListener registers the receiver of class events.
func (e *ECM) SetListener(l Listener) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.listener = l
}

func (e *ECM) getListener() Listener {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.listener
}

// State returns the current class state.
func (e *ECM) State() State {
	return State(e.state.Load())
}

// LinkUp reports whether the link is up.
func (e *ECM) LinkUp() bool {
	return e.State() == StateLinkUp
}

// PacketFilter returns the last filter set by the host.
func (e *ECM) PacketFilter() uint16 {
	return uint16(e.packetFilter.Load())
}

// Statistics returns a snapshot of the Ethernet counters.
func (e *ECM) Statistics() Statistics {
	return Statistics{
		TxOK:       e.txOK.Load(),
		RxOK:       e.rxOK.Load(),
		TxError:    e.txErr.Load(),
		RxError:    e.rxErr.Load(),
		RxNoBuffer: e.rxNoBuf.Load(),
	}
}

// MACString returns the host MAC as served in the string descriptor.
func (e *ECM) MACString() string {
	return e.macString
}

func (e *ECM) setState(s State) State {
	old := State(e.state.Swap(uint32(s)))
	if old != s {
		pkg.LogDebug(pkg.ComponentClass, "ecm state changed",
			"from", old.String(),
			"to", s.String())
	}
	return old
}

// Init opens the function's endpoints and arms the receive path.
func (e *ECM) Init(d *device.Driver, config uint8) error {
	if e.State().active() {
		return fmt.Errorf("ecm init: %w", pkg.ErrInvalidState)
	}
	e.drv.Store(d)

	mps := e.cfg.FullSpeedPacketSize
	if d.Speed() == hal.SpeedHigh {
		mps = e.cfg.HighSpeedPacketSize
	}
	e.dataMPS.Store(uint32(mps))

	if err := d.OpenEndpoint(e.cfg.NotifyEndpoint, device.EndpointTypeInterrupt, e.cfg.NotifyMaxPacketSize); err != nil {
		return err
	}
	if err := d.OpenEndpoint(e.cfg.DataInEndpoint, device.EndpointTypeBulk, mps); err != nil {
		e.closeEndpoints(d)
		return err
	}
	if err := d.OpenEndpoint(e.cfg.DataOutEndpoint, device.EndpointTypeBulk, mps); err != nil {
		e.closeEndpoints(d)
		return err
	}

	if err := e.allocate(); err != nil {
		e.closeEndpoints(d)
		return err
	}

	e.notified.Store(false)
	e.noteStage.Store(noteIdle)
	e.pendingConn.Store(noPending)
	e.packetFilter.Store(0)
	e.setState(StateIdle)

	// A frame still held by a listener is re-armed by its ReleaseRx. With
	// no listener attached nothing will release it, so it is dropped.
	if e.rx.Owner() == pbuf.OwnerFirmware && e.getListener() == nil {
		if err := e.rx.Release(); err != nil {
			pkg.LogWarn(pkg.ComponentClass, "reclaim receive buffer", "error", err)
		} else {
			pkg.LogDebug(pkg.ComponentClass, "stale receive frame dropped")
		}
	}
	if e.rx.Acquire() {
		if err := e.armRx(d); err != nil {
			pkg.LogWarn(pkg.ComponentClass, "arm receive", "error", err)
		}
	}

	pkg.LogDebug(pkg.ComponentClass, "ecm initialized",
		"config", config,
		"maxPacketSize", mps)
	return nil
}

// allocate takes the function's buffers from the pool the first time and
// leaves them free.
func (e *ECM) allocate() error {
	if e.rx != nil {
		return nil
	}
	bufs := [PoolSize]*pbuf.Buffer{}
	for i := range bufs {
		b, err := e.pool.Get()
		if err != nil {
			return fmt.Errorf("ecm buffers: %w", err)
		}
		bufs[i] = b
	}
	for _, b := range bufs {
		if err := b.Release(); err != nil {
			return err
		}
	}
	e.rx, e.tx, e.note = bufs[0], bufs[1], bufs[2]
	return nil
}

// DeInit closes the endpoints, reclaiming any outstanding buffers, and
// drops the link.
func (e *ECM) DeInit(d *device.Driver, config uint8) error {
	prev := e.setState(StateDeinitialized)
	if d != nil {
		e.closeEndpoints(d)
	}
	e.notified.Store(false)
	e.noteStage.Store(noteIdle)
	e.pendingConn.Store(noPending)
	e.packetFilter.Store(0)

	if prev == StateLinkUp {
		if l := e.getListener(); l != nil {
			l.LinkDown()
		}
	}
	pkg.LogDebug(pkg.ComponentClass, "ecm deinitialized",
		"config", config,
		"from", prev.String())
	return nil
}

// Shutdown deinitializes the function outside of a host request.
func (e *ECM) Shutdown() error {
	return e.DeInit(e.drv.Load(), 0)
}

func (e *ECM) closeEndpoints(d *device.Driver) {
	for _, addr := range [...]uint8{e.cfg.DataOutEndpoint, e.cfg.DataInEndpoint, e.cfg.NotifyEndpoint} {
		if err := d.CloseEndpoint(addr); err != nil {
			pkg.LogWarn(pkg.ComponentClass, "close endpoint", "error", err)
		}
	}
}

// SOF is unused by ECM.
func (e *ECM) SOF(d *device.Driver) {}

// String returns the MAC address string descriptor.
func (e *ECM) String(index uint8) (string, bool) {
	if index == MACStringIndex {
		return e.macString, true
	}
	return "", false
}

// Compile-time interface check
var _ device.ClassDriver = (*ECM)(nil)
