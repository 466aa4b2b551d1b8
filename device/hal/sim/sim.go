package sim

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardnew/softecm/device/hal"
	"github.com/ardnew/softecm/pkg"
)

// DefaultRetryInterval is how long the Wait variants of the host API sleep
// between retries of a NAKed packet.
const DefaultRetryInterval = 20 * time.Microsecond

// Counters counts the interrupt callbacks raised by a [Controller].
type Counters struct {
	Reset        uint64
	Setup        uint64
	DataIn       uint64
	DataOut      uint64
	SOF          uint64
	Suspend      uint64
	Resume       uint64
	Connected    uint64
	Disconnected uint64
}

// endpoint is the controller-side state of one hardware channel.
type endpoint struct {
	cfg     hal.EndpointConfig
	stalled bool

	// IN: data submitted by Transmit, waiting for the host.
	txArmed bool
	txData  []byte

	// OUT: buffer submitted by PrepareReceive.
	rxArmed bool
	rxBuf   []byte
	rxCount int

	injected error
}

// Controller is an in-memory [hal.Controller]. The device side is driven
// through the hal interface; the host side through methods such as
// [Controller.Setup], [Controller.SendFrame] and [Controller.ReceiveFrame],
// which raise the corresponding interrupt callbacks synchronously.
//
// Callbacks are serialized as they would be in a single interrupt handler.
type Controller struct {
	mutex   sync.Mutex
	eps     map[uint8]*endpoint
	events  hal.Events
	address uint8
	running bool
	inited  bool

	// irq serializes callback delivery. Device-side methods never take it.
	irq sync.Mutex

	retryInterval time.Duration

	reset, setup, dataIn, dataOut, sof       atomic.Uint64
	suspend, resume, connected, disconnected atomic.Uint64
}

// New creates a simulated controller.
func New() *Controller {
	return &Controller{
		eps:           make(map[uint8]*endpoint),
		retryInterval: DefaultRetryInterval,
	}
}

// SetRetryInterval sets the sleep between retries of the Wait variants.
func (c *Controller) SetRetryInterval(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.retryInterval = d
}

// Device side (hal.Controller)

// Init prepares the controller.
func (c *Controller) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.inited = true
	pkg.LogDebug(pkg.ComponentHAL, "sim controller initialized")
	return nil
}

// Start attaches the controller to the simulated bus.
func (c *Controller) Start() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !c.inited {
		return pkg.ErrNotConfigured
	}
	if c.running {
		return pkg.ErrAlreadyRunning
	}
	c.running = true
	return nil
}

// Stop detaches from the bus and disables every endpoint.
func (c *Controller) Stop() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !c.running {
		return pkg.ErrNotRunning
	}
	c.running = false
	clear(c.eps)
	return nil
}

// SetEvents registers the interrupt callback receiver.
func (c *Controller) SetEvents(ev hal.Events) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.events = ev
}

// SetAddress records the device address.
func (c *Controller) SetAddress(address uint8) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.address = address
	return nil
}

// OpenEndpoint enables a channel.
func (c *Controller) OpenEndpoint(cfg hal.EndpointConfig) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.eps[cfg.Address] = &endpoint{cfg: cfg}
	return nil
}

// CloseEndpoint disables a channel, dropping any armed transfer.
func (c *Controller) CloseEndpoint(address uint8) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.eps, address)
	return nil
}

// Transmit arms an IN transfer.
func (c *Controller) Transmit(address uint8, data []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ep, err := c.lookup(address, true)
	if err != nil {
		return err
	}
	if ep.txArmed {
		return pkg.ErrBusy
	}
	ep.txArmed = true
	ep.txData = data
	return nil
}

// PrepareReceive arms an OUT transfer.
func (c *Controller) PrepareReceive(address uint8, buf []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ep, err := c.lookup(address, false)
	if err != nil {
		return err
	}
	if ep.rxArmed {
		return pkg.ErrBusy
	}
	ep.rxArmed = true
	ep.rxBuf = buf
	ep.rxCount = 0
	return nil
}

// RxCount returns the length of the last OUT packet on address.
func (c *Controller) RxCount(address uint8) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if ep, ok := c.eps[address]; ok {
		return ep.rxCount
	}
	return 0
}

// Stall stalls a channel.
func (c *Controller) Stall(address uint8) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ep, ok := c.eps[address]
	if !ok {
		return pkg.ErrInvalidEndpoint
	}
	ep.stalled = true
	return nil
}

// ClearStall clears a stall.
func (c *Controller) ClearStall(address uint8) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ep, ok := c.eps[address]
	if !ok {
		return pkg.ErrInvalidEndpoint
	}
	ep.stalled = false
	return nil
}

// lookup returns the open endpoint for a submission. Caller holds c.mutex.
func (c *Controller) lookup(address uint8, in bool) (*endpoint, error) {
	ep, ok := c.eps[address]
	if !ok || ep.cfg.IsIn() != in {
		return nil, fmt.Errorf("sim ep 0x%02X: %w", address, pkg.ErrInvalidEndpoint)
	}
	if err := ep.injected; err != nil {
		ep.injected = nil
		return nil, err
	}
	return ep, nil
}

// InjectError makes the next submission on address fail with err.
func (c *Controller) InjectError(address uint8, err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if ep, ok := c.eps[address]; ok {
		ep.injected = err
	}
}

// Inspection

// Address returns the address programmed by the device.
func (c *Controller) Address() uint8 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.address
}

// IsOpen reports whether the device has enabled address.
func (c *Controller) IsOpen(address uint8) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	_, ok := c.eps[address]
	return ok
}

// IsStalled reports whether address is stalled.
func (c *Controller) IsStalled(address uint8) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ep, ok := c.eps[address]
	return ok && ep.stalled
}

// Armed reports whether a transfer is armed on address.
func (c *Controller) Armed(address uint8) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ep, ok := c.eps[address]
	if !ok {
		return false
	}
	return ep.txArmed || ep.rxArmed
}

// OpenCount returns the number of enabled channels.
func (c *Controller) OpenCount() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.eps)
}

// Interrupts returns a snapshot of the callback counters.
func (c *Controller) Interrupts() Counters {
	return Counters{
		Reset:        c.reset.Load(),
		Setup:        c.setup.Load(),
		DataIn:       c.dataIn.Load(),
		DataOut:      c.dataOut.Load(),
		SOF:          c.sof.Load(),
		Suspend:      c.suspend.Load(),
		Resume:       c.resume.Load(),
		Connected:    c.connected.Load(),
		Disconnected: c.disconnected.Load(),
	}
}

// Compile-time interface check
var _ hal.Controller = (*Controller)(nil)
