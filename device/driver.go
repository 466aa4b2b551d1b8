package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ardnew/softecm/device/hal"
	"github.com/ardnew/softecm/pkg"
	"github.com/ardnew/softecm/pkg/pbuf"
)

// Driver is the endpoint driver shim. It translates generic endpoint
// operations into calls on an injected [hal.Controller] and converts the
// controller's interrupt callbacks into class driver events.
//
// The driver owns no buffers. Data endpoint transfers carry a [pbuf.Loan]
// supplied by the class driver and handed back on completion.
type Driver struct {
	hal   hal.Controller
	desc  *Descriptors
	class ClassDriver
	std   *StandardHandler

	// Endpoint slot table; the lock is never held across controller calls.
	slots []Endpoint
	mutex sync.Mutex

	state         atomic.Uint32 // State
	previousState State         // State before suspend, guarded by mutex
	address       atomic.Uint32
	config        atomic.Uint32
	speed         atomic.Uint32 // hal.Speed
	remoteWakeup  atomic.Bool
	selfPowered   bool
	sofCount      atomic.Uint64

	ctrl controlPipe

	running    bool
	runMutex   sync.Mutex
	cbMutex    sync.RWMutex
	onStateChg func(old, new State)
}

// NewDriver creates a driver over h with room for slots endpoint channels.
// slots <= 0 selects [DefaultEndpointSlots].
func NewDriver(h hal.Controller, desc *Descriptors, slots int) *Driver {
	if slots <= 0 {
		slots = DefaultEndpointSlots
	}
	d := &Driver{
		hal:   h,
		desc:  desc,
		slots: make([]Endpoint, slots),
	}
	d.state.Store(uint32(StateAttached))
	d.speed.Store(uint32(hal.SpeedFull))
	d.std = NewStandardHandler(d)
	h.SetEvents(d)
	return d
}

// SetClass registers the class function served by this driver.
func (d *Driver) SetClass(c ClassDriver) {
	d.runMutex.Lock()
	defer d.runMutex.Unlock()
	d.class = c
}

// Class returns the registered class function.
func (d *Driver) Class() ClassDriver {
	d.runMutex.Lock()
	defer d.runMutex.Unlock()
	return d.class
}

// Descriptors returns the device identity.
func (d *Driver) Descriptors() *Descriptors {
	return d.desc
}

// SetSelfPowered sets the self-powered bit reported by GET_STATUS.
func (d *Driver) SetSelfPowered(selfPowered bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.selfPowered = selfPowered
}

// SetOnStateChange sets the device state change callback.
// The callback runs in interrupt context.
func (d *Driver) SetOnStateChange(cb func(old, new State)) {
	d.cbMutex.Lock()
	defer d.cbMutex.Unlock()
	d.onStateChg = cb
}

// Start initializes the controller and attaches to the bus.
func (d *Driver) Start(ctx context.Context) error {
	d.runMutex.Lock()
	defer d.runMutex.Unlock()

	if d.running {
		return pkg.ErrAlreadyRunning
	}
	if d.class == nil {
		return fmt.Errorf("start driver: %w", pkg.ErrNotConfigured)
	}
	if err := d.hal.Init(ctx); err != nil {
		return fmt.Errorf("init controller: %w", err)
	}
	if err := d.hal.Start(); err != nil {
		return fmt.Errorf("start controller: %w", err)
	}
	d.running = true

	pkg.LogDebug(pkg.ComponentDriver, "driver started",
		"slots", len(d.slots))
	return nil
}

// Stop deconfigures the class, closes every endpoint and detaches.
func (d *Driver) Stop() error {
	d.runMutex.Lock()
	if !d.running {
		d.runMutex.Unlock()
		return nil
	}
	d.running = false
	d.runMutex.Unlock()

	d.deconfigure()
	d.closeAll()
	d.setState(StateAttached)

	if err := d.hal.Stop(); err != nil {
		return fmt.Errorf("stop controller: %w", err)
	}
	pkg.LogDebug(pkg.ComponentDriver, "driver stopped")
	return nil
}

// State returns the current device state.
func (d *Driver) State() State {
	return State(d.state.Load())
}

// Address returns the assigned device address.
func (d *Driver) Address() uint8 {
	return uint8(d.address.Load())
}

// Configuration returns the active configuration value (0 if unconfigured).
func (d *Driver) Configuration() uint8 {
	return uint8(d.config.Load())
}

// Speed returns the negotiated bus speed.
func (d *Driver) Speed() hal.Speed {
	return hal.Speed(d.speed.Load())
}

// IsConfigured returns true if the device is configured.
func (d *Driver) IsConfigured() bool {
	return d.State() == StateConfigured
}

// SOFCount returns the number of start-of-frame events seen.
func (d *Driver) SOFCount() uint64 {
	return d.sofCount.Load()
}

func (d *Driver) setState(newState State) {
	oldState := State(d.state.Swap(uint32(newState)))
	if oldState == newState {
		return
	}
	pkg.LogDebug(pkg.ComponentDriver, "device state changed",
		"from", oldState.String(),
		"to", newState.String())

	d.cbMutex.RLock()
	cb := d.onStateChg
	d.cbMutex.RUnlock()
	if cb != nil {
		cb(oldState, newState)
	}
}

// Endpoint operations

// lookup returns the open slot for address. Caller holds d.mutex.
func (d *Driver) lookup(address uint8) *Endpoint {
	for i := range d.slots {
		if d.slots[i].open && d.slots[i].Address == address {
			return &d.slots[i]
		}
	}
	return nil
}

// Endpoint returns the open endpoint at address, or nil.
func (d *Driver) Endpoint(address uint8) *Endpoint {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.lookup(address)
}

// OpenEndpoint reserves a hardware channel for address.
// Returns [pkg.ErrResourceExhausted] if no slot is free. Opening an already
// open address reconfigures it.
func (d *Driver) OpenEndpoint(address, transferType uint8, maxPacketSize uint16) error {
	d.mutex.Lock()
	ep := d.lookup(address)
	if ep == nil {
		for i := range d.slots {
			if !d.slots[i].open {
				ep = &d.slots[i]
				break
			}
		}
	}
	if ep == nil {
		d.mutex.Unlock()
		pkg.LogWarn(pkg.ComponentDriver, "no free endpoint slot",
			"address", fmt.Sprintf("0x%02X", address),
			"slots", len(d.slots))
		return fmt.Errorf("open ep 0x%02X: %w", address, pkg.ErrResourceExhausted)
	}
	ep.Address = address
	ep.Attributes = transferType & 0x03
	ep.MaxPacketSize = maxPacketSize
	ep.open = true
	ep.stalled.Store(false)
	cfg := ep.Config()
	d.mutex.Unlock()

	if err := d.hal.OpenEndpoint(cfg); err != nil {
		d.mutex.Lock()
		ep.open = false
		d.mutex.Unlock()
		return fmt.Errorf("open ep 0x%02X: %w: %w", address, pkg.ErrTransport, err)
	}

	pkg.LogDebug(pkg.ComponentDriver, "endpoint opened",
		"address", fmt.Sprintf("0x%02X", address),
		"type", TransferTypeName(transferType),
		"direction", DirectionName(address),
		"maxPacketSize", maxPacketSize)
	return nil
}

// CloseEndpoint releases the channel at address. An outstanding transfer is
// aborted and its loan cancelled. Closing an endpoint that is not open is a
// no-op.
func (d *Driver) CloseEndpoint(address uint8) error {
	d.mutex.Lock()
	ep := d.lookup(address)
	if ep == nil {
		d.mutex.Unlock()
		return nil
	}
	if ep.busy.Load() {
		ep.transfer.abort()
		ep.busy.Store(false)
	}
	ep.open = false
	ep.stalled.Store(false)
	d.mutex.Unlock()

	if err := d.hal.CloseEndpoint(address); err != nil {
		return fmt.Errorf("close ep 0x%02X: %w: %w", address, pkg.ErrTransport, err)
	}
	pkg.LogDebug(pkg.ComponentDriver, "endpoint closed",
		"address", fmt.Sprintf("0x%02X", address))
	return nil
}

// closeAll closes every open endpoint.
func (d *Driver) closeAll() {
	var addrs [32]uint8
	n := 0
	d.mutex.Lock()
	for i := range d.slots {
		if d.slots[i].open && n < len(addrs) {
			addrs[n] = d.slots[i].Address
			n++
		}
	}
	d.mutex.Unlock()

	for _, a := range addrs[:n] {
		if err := d.CloseEndpoint(a); err != nil {
			pkg.LogWarn(pkg.ComponentDriver, "close endpoint", "error", err)
		}
	}
}

// submit claims the endpoint for a new transfer. Caller must not hold d.mutex.
func (d *Driver) submit(address uint8, wantIn bool, loan pbuf.Loan, offset, n int) (*Endpoint, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	ep := d.lookup(address)
	if ep == nil || ep.IsIn() != wantIn || ep.Number() == 0 {
		return nil, fmt.Errorf("ep 0x%02X: %w", address, pkg.ErrInvalidEndpoint)
	}
	if ep.stalled.Load() {
		return nil, fmt.Errorf("ep 0x%02X: %w", address, pkg.ErrStall)
	}
	if ep.busy.Load() {
		return nil, fmt.Errorf("ep 0x%02X: %w", address, pkg.ErrBusy)
	}
	if !loan.Valid() {
		return nil, fmt.Errorf("ep 0x%02X: %w", address, pkg.ErrOwnership)
	}
	if offset < 0 || n < 0 || offset+n > pbuf.MaxFrameSize {
		return nil, fmt.Errorf("ep 0x%02X: %w", address, pkg.ErrInvalidParameter)
	}
	ep.transfer = Transfer{
		Address:   address,
		Loan:      loan,
		Offset:    offset,
		Requested: n,
		Status:    pkg.TransferStatusPending,
	}
	ep.busy.Store(true)
	return ep, nil
}

// unsubmit releases a claim after the controller rejected the submission.
// The loan stays with the caller.
func (d *Driver) unsubmit(ep *Endpoint) {
	d.mutex.Lock()
	ep.transfer = Transfer{}
	ep.busy.Store(false)
	d.mutex.Unlock()
}

// Transmit submits the first n bytes of the loaned buffer on IN endpoint
// address. It returns immediately; completion is reported to the class
// driver's DataIn. n may be 0 for a zero-length packet.
func (d *Driver) Transmit(address uint8, loan pbuf.Loan, n int) error {
	ep, err := d.submit(address, true, loan, 0, n)
	if err != nil {
		return err
	}
	if err := d.hal.Transmit(address, loan.Bytes()[:n]); err != nil {
		d.unsubmit(ep)
		return fmt.Errorf("transmit ep 0x%02X: %w: %w", address, pkg.ErrTransport, err)
	}
	return nil
}

// PrepareReceive arms OUT endpoint address to receive up to size bytes into
// the loaned buffer starting at offset. Completion is reported to the class
// driver's DataOut, with the received length in [Transfer.Actual].
func (d *Driver) PrepareReceive(address uint8, loan pbuf.Loan, offset, size int) error {
	ep, err := d.submit(address, false, loan, offset, size)
	if err != nil {
		return err
	}
	if err := d.hal.PrepareReceive(address, loan.Bytes()[offset:offset+size]); err != nil {
		d.unsubmit(ep)
		return fmt.Errorf("prepare receive ep 0x%02X: %w: %w", address, pkg.ErrTransport, err)
	}
	return nil
}

// RxLength returns the length of the last completed OUT transfer on address.
func (d *Driver) RxLength(address uint8) int {
	return d.hal.RxCount(address)
}

// SetStall stalls the endpoint at address.
func (d *Driver) SetStall(address uint8) error {
	d.mutex.Lock()
	ep := d.lookup(address)
	d.mutex.Unlock()
	if ep == nil {
		return fmt.Errorf("stall ep 0x%02X: %w", address, pkg.ErrInvalidEndpoint)
	}
	if err := d.hal.Stall(address); err != nil {
		return fmt.Errorf("stall ep 0x%02X: %w: %w", address, pkg.ErrTransport, err)
	}
	ep.stalled.Store(true)
	pkg.LogDebug(pkg.ComponentDriver, "endpoint stalled",
		"address", fmt.Sprintf("0x%02X", address))
	return nil
}

// ClearStall clears a stall on the endpoint at address.
func (d *Driver) ClearStall(address uint8) error {
	d.mutex.Lock()
	ep := d.lookup(address)
	d.mutex.Unlock()
	if ep == nil {
		return fmt.Errorf("clear stall ep 0x%02X: %w", address, pkg.ErrInvalidEndpoint)
	}
	if err := d.hal.ClearStall(address); err != nil {
		return fmt.Errorf("clear stall ep 0x%02X: %w: %w", address, pkg.ErrTransport, err)
	}
	ep.stalled.Store(false)
	pkg.LogDebug(pkg.ComponentDriver, "endpoint stall cleared",
		"address", fmt.Sprintf("0x%02X", address))
	return nil
}

// IsStalled reports whether the endpoint at address is stalled.
func (d *Driver) IsStalled(address uint8) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	ep := d.lookup(address)
	return ep != nil && ep.stalled.Load()
}

// SetAddress programs the device address assigned during enumeration.
func (d *Driver) SetAddress(address uint8) error {
	if address > 127 {
		return pkg.ErrInvalidParameter
	}
	if err := d.hal.SetAddress(address); err != nil {
		return fmt.Errorf("set address %d: %w: %w", address, pkg.ErrTransport, err)
	}
	d.address.Store(uint32(address))
	return nil
}

// Outstanding returns the number of data endpoint transfers in flight.
func (d *Driver) Outstanding() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	n := 0
	for i := range d.slots {
		if d.slots[i].open && d.slots[i].Number() != 0 && d.slots[i].busy.Load() {
			n++
		}
	}
	return n
}

// OpenCount returns the number of open endpoint slots, EP0 included.
func (d *Driver) OpenCount() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	n := 0
	for i := range d.slots {
		if d.slots[i].open {
			n++
		}
	}
	return n
}

// complete retires the outstanding transfer on address and returns a copy.
// received is the OUT length reported by the controller, nil for IN.
// Returns false for a spurious completion.
func (d *Driver) complete(address uint8, received *int) (Transfer, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	ep := d.lookup(address)
	if ep == nil || !ep.busy.Load() {
		return Transfer{}, false
	}
	t := ep.transfer
	t.Actual = t.Requested
	t.Status = pkg.TransferStatusSuccess
	if received != nil {
		t.Actual = *received
		if t.Actual > t.Requested {
			t.Actual = t.Requested
			t.Status = pkg.TransferStatusOverrun
		}
	}
	ep.transfer = Transfer{}
	ep.busy.Store(false)
	return t, true
}

// Interrupt callbacks (hal.Events)

// Reset handles a bus reset: the class is deconfigured, every endpoint is
// closed and EP0 is reopened.
func (d *Driver) Reset(speed hal.Speed) {
	d.speed.Store(uint32(speed))
	d.deconfigure()
	d.closeAll()
	d.address.Store(0)
	d.remoteWakeup.Store(false)
	d.ctrl.reset()

	if err := d.OpenEndpoint(EP0Out, EndpointTypeControl, MaxPacketSize0); err != nil {
		pkg.LogError(pkg.ComponentDriver, "open EP0 OUT", "error", err)
	}
	if err := d.OpenEndpoint(EP0In, EndpointTypeControl, MaxPacketSize0); err != nil {
		pkg.LogError(pkg.ComponentDriver, "open EP0 IN", "error", err)
	}
	d.setState(StateDefault)
	pkg.LogDebug(pkg.ComponentDriver, "bus reset", "speed", speed.String())
}

// SetupStage dispatches a SETUP packet received on EP0.
func (d *Driver) SetupStage(hs *hal.SetupPacket) {
	d.handleSetup(hs)
}

// DataInComplete dispatches the completion of an IN transfer.
func (d *Driver) DataInComplete(address uint8) {
	if address&0x0F == 0 {
		d.ep0DataIn()
		return
	}
	t, ok := d.complete(address, nil)
	if !ok {
		pkg.LogDebug(pkg.ComponentDriver, "spurious IN completion",
			"address", fmt.Sprintf("0x%02X", address))
		return
	}
	if c := d.Class(); c != nil {
		c.DataIn(d, &t)
	}
}

// DataOutComplete dispatches the completion of an OUT transfer.
func (d *Driver) DataOutComplete(address uint8) {
	if address&0x0F == 0 {
		d.ep0DataOut()
		return
	}
	n := d.hal.RxCount(address)
	t, ok := d.complete(address, &n)
	if !ok {
		pkg.LogDebug(pkg.ComponentDriver, "spurious OUT completion",
			"address", fmt.Sprintf("0x%02X", address))
		return
	}
	if c := d.Class(); c != nil {
		c.DataOut(d, &t)
	}
}

// SOF forwards start-of-frame to a configured class.
func (d *Driver) SOF() {
	d.sofCount.Add(1)
	if d.IsConfigured() {
		if c := d.Class(); c != nil {
			c.SOF(d)
		}
	}
}

// Suspend records the current state and enters Suspended.
func (d *Driver) Suspend() {
	d.mutex.Lock()
	d.previousState = d.State()
	d.mutex.Unlock()
	d.setState(StateSuspended)
}

// Resume restores the state saved by Suspend.
func (d *Driver) Resume() {
	if d.State() != StateSuspended {
		return
	}
	d.mutex.Lock()
	prev := d.previousState
	d.mutex.Unlock()
	if prev == StateAttached || prev == StatePowered {
		prev = StateDefault
	}
	d.setState(prev)
}

// Connected marks the device powered.
func (d *Driver) Connected() {
	d.setState(StatePowered)
}

// Disconnected deconfigures the class and closes all endpoints.
func (d *Driver) Disconnected() {
	d.deconfigure()
	d.closeAll()
	d.setState(StateAttached)
}

// configure activates configuration value on the class.
func (d *Driver) configure(value uint8) error {
	c := d.Class()
	if c == nil {
		return pkg.ErrNotConfigured
	}
	if err := c.Init(d, value); err != nil {
		return err
	}
	d.config.Store(uint32(value))
	d.setState(StateConfigured)
	pkg.LogDebug(pkg.ComponentDriver, "device configured",
		"configuration", value)
	return nil
}

// deconfigure tears down the active configuration, if any.
func (d *Driver) deconfigure() {
	value := uint8(d.config.Swap(0))
	if value == 0 {
		return
	}
	if c := d.Class(); c != nil {
		if err := c.DeInit(d, value); err != nil {
			pkg.LogWarn(pkg.ComponentDriver, "class deinit", "error", err)
		}
	}
	if d.State() == StateConfigured {
		d.setState(StateAddress)
	}
}

// Compile-time interface check
var _ hal.Events = (*Driver)(nil)
