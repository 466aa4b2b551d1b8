package netif

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/ardnew/softecm/pkg"
)

// Config configures a [Bridge].
type Config struct {
	Name         string
	HardwareAddr net.HardwareAddr
	MTU          int
	Addressing   Addressing
}

// DefaultConfig returns the default bridge configuration.
func DefaultConfig() Config {
	return Config{
		Name:         DefaultName,
		HardwareAddr: DefaultHardwareAddr,
		MTU:          DefaultMTU,
		Addressing:   DefaultAddressing(),
	}
}

// Stats counts bridge traffic.
type Stats struct {
	FramesIn  uint64 // Frames accepted by the stack
	FramesOut uint64 // Frames submitted to the class
	Dropped   uint64 // Frames rejected by the stack
	TxBusy    uint64 // Output calls that found the transmit buffer busy
	TxErrors  uint64 // Output calls that failed otherwise
	Wakeups   uint64 // Worker wakeups
}

// Link event bits, set from interrupt context and consumed by the worker.
const (
	linkEventUp   uint32 = 1 << 0
	linkEventDown uint32 = 1 << 1
)

// Bridge connects a [Class] to a [Stack]. Received frames are handed to
// the stack by a single worker goroutine; interrupt callbacks only signal
// it.
type Bridge struct {
	class Class
	stack Stack
	cfg   Config
	nif   *Interface

	wake       chan struct{}
	linkEvents atomic.Uint32

	mutex   sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	framesIn, framesOut, dropped atomic.Uint64
	txBusy, txErrors, wakeups    atomic.Uint64
}

// NewBridge creates a bridge between class and stack. Zero-valued fields
// of cfg take their defaults.
func NewBridge(class Class, stack Stack, cfg Config) *Bridge {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if len(cfg.HardwareAddr) != 6 {
		cfg.HardwareAddr = def.HardwareAddr
	}
	if cfg.MTU <= 0 {
		cfg.MTU = def.MTU
	}
	if !cfg.Addressing.Local.IsValid() {
		cfg.Addressing = def.Addressing
	}
	return &Bridge{
		class: class,
		stack: stack,
		cfg:   cfg,
		wake:  make(chan struct{}, 1),
	}
}

// Interface returns the registered interface record, or nil before Init.
func (b *Bridge) Interface() *Interface {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.nif
}

// Running reports whether the worker is running.
func (b *Bridge) Running() bool {
	return b.running.Load()
}

// Init registers the interface with the stack and starts the worker.
// The worker stops when ctx is cancelled or Close is called.
func (b *Bridge) Init(ctx context.Context) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.running.Load() {
		return pkg.ErrAlreadyRunning
	}

	nif := &Interface{
		Name:         b.cfg.Name,
		HardwareAddr: b.cfg.HardwareAddr,
		MTU:          b.cfg.MTU,
		Output:       b.Output,
	}
	if err := b.stack.AddInterface(nif); err != nil {
		return fmt.Errorf("add interface %s: %w", nif.Name, err)
	}
	b.nif = nif

	b.class.SetListener(classEvents{b})

	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	b.running.Store(true)
	go b.run(ctx, b.done)

	// The link may already be up if the host configured the device first.
	if b.class.LinkUp() {
		b.linkEvents.Or(linkEventUp)
		b.signal()
	}

	pkg.LogInfo(pkg.ComponentBridge, "bridge started",
		"interface", nif.Name,
		"mac", nif.HardwareAddr.String(),
		"mtu", nif.MTU)
	return nil
}

// Close deinitializes the class, stops the worker and waits for it. The
// stack sees the link go down if it was up.
func (b *Bridge) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.running.Swap(false) {
		return nil
	}

	err := b.class.Shutdown()
	b.cancel()
	<-b.done
	b.class.SetListener(nil)

	// The worker is gone; finish its bookkeeping here.
	b.applyLinkEvents()
	if b.nif.LinkUp() {
		b.setLinkDown()
	}
	if _, ok := b.class.RxFrame(); ok {
		if rerr := b.class.ReleaseRx(); rerr != nil {
			pkg.LogDebug(pkg.ComponentBridge, "release receive buffer", "error", rerr)
		}
	}

	pkg.LogInfo(pkg.ComponentBridge, "bridge stopped",
		"framesIn", b.framesIn.Load(),
		"framesOut", b.framesOut.Load(),
		"dropped", b.dropped.Load())
	if err != nil {
		return fmt.Errorf("shutdown class: %w", err)
	}
	return nil
}

// Output transmits one frame to the host. It never blocks longer than the
// class transmit policy allows.
func (b *Bridge) Output(frame []byte) Status {
	if !b.running.Load() {
		b.txErrors.Add(1)
		return StatusIf
	}
	err := b.class.Transmit(frame)
	status := StatusOf(err)
	switch status {
	case StatusOK:
		b.framesOut.Add(1)
	case StatusMem:
		b.txBusy.Add(1)
	default:
		b.txErrors.Add(1)
	}
	if err != nil {
		pkg.LogDebug(pkg.ComponentBridge, "output failed",
			"length", len(frame),
			"status", status.String(),
			"error", err)
	}
	return status
}

// Stats returns a snapshot of the traffic counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		FramesIn:  b.framesIn.Load(),
		FramesOut: b.framesOut.Load(),
		Dropped:   b.dropped.Load(),
		TxBusy:    b.txBusy.Load(),
		TxErrors:  b.txErrors.Load(),
		Wakeups:   b.wakeups.Load(),
	}
}

// signal wakes the worker without blocking. A pending wakeup absorbs
// further signals.
func (b *Bridge) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// classEvents adapts the bridge to the class listener interface. Every
// method runs in interrupt context.
type classEvents struct{ b *Bridge }

func (e classEvents) FrameReady() {
	e.b.signal()
}

func (e classEvents) LinkUp() {
	e.b.linkEvents.Or(linkEventUp)
	e.b.signal()
}

func (e classEvents) LinkDown() {
	e.b.linkEvents.Or(linkEventDown)
	e.b.signal()
}
