package netif

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/ardnew/softecm/device/class/ecm"
	"github.com/ardnew/softecm/pkg"
)

// fakeClass is a Class holding a queue of received frames.
type fakeClass struct {
	mutex     sync.Mutex
	frames    [][]byte
	listener  ecm.Listener
	linkUp    bool
	txErr     error
	sent      [][]byte
	shutdowns int
	releases  int
}

func (c *fakeClass) Transmit(frame []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.txErr != nil {
		return c.txErr
	}
	c.sent = append(c.sent, append([]byte(nil), frame...))
	return nil
}

func (c *fakeClass) RxFrame() ([]byte, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if len(c.frames) == 0 {
		return nil, false
	}
	return c.frames[0], true
}

func (c *fakeClass) ReleaseRx() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if len(c.frames) == 0 {
		return pkg.ErrOwnership
	}
	c.frames = c.frames[1:]
	c.releases++
	return nil
}

func (c *fakeClass) SetListener(l ecm.Listener) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.listener = l
}

func (c *fakeClass) LinkUp() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.linkUp
}

func (c *fakeClass) Shutdown() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.shutdowns++
	c.linkUp = false
	return nil
}

// push queues frames and raises FrameReady as the class would.
func (c *fakeClass) push(frames ...[]byte) {
	c.mutex.Lock()
	c.frames = append(c.frames, frames...)
	l := c.listener
	c.mutex.Unlock()
	if l != nil {
		l.FrameReady()
	}
}

func (c *fakeClass) released() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.releases
}

func (c *fakeClass) setLink(up bool) {
	c.mutex.Lock()
	c.linkUp = up
	l := c.listener
	c.mutex.Unlock()
	if l == nil {
		return
	}
	if up {
		l.LinkUp()
	} else {
		l.LinkDown()
	}
}

// fakeStack records what the bridge tells it.
type fakeStack struct {
	core     sync.Mutex
	mutex    sync.Mutex
	frames   [][]byte
	reject   func(frame []byte) error
	ifaces   []*Interface
	links    []bool
	addr     Addressing
	addErr   error
	useInput bool
}

func (s *fakeStack) AddInterface(nif *Interface) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.addErr != nil {
		return s.addErr
	}
	s.ifaces = append(s.ifaces, nif)
	if s.useInput {
		nif.Input = func(frame []byte) error {
			return s.Input(nif, frame)
		}
	}
	return nil
}

func (s *fakeStack) Input(nif *Interface, frame []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.reject != nil {
		if err := s.reject(frame); err != nil {
			return err
		}
	}
	s.frames = append(s.frames, append([]byte(nil), frame...))
	return nil
}

func (s *fakeStack) SetLinkUp(nif *Interface, addr Addressing) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.links = append(s.links, true)
	s.addr = addr
}

func (s *fakeStack) SetLinkDown(nif *Interface) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.links = append(s.links, false)
}

func (s *fakeStack) CoreLock() sync.Locker {
	return &s.core
}

func (s *fakeStack) snapshot() (frames [][]byte, links []bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([][]byte(nil), s.frames...), append([]bool(nil), s.links...)
}

var (
	_ Class = (*fakeClass)(nil)
	_ Stack = (*fakeStack)(nil)
)

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(100 * time.Microsecond)
	}
}

func startBridge(t *testing.T, class *fakeClass, stack *fakeStack) *Bridge {
	t.Helper()
	b := NewBridge(class, stack, Config{})
	if err := b.Init(t.Context()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestNewBridge_Defaults(t *testing.T) {
	b := NewBridge(&fakeClass{}, &fakeStack{}, Config{MTU: 1400})
	def := DefaultConfig()
	if b.cfg.Name != def.Name || b.cfg.HardwareAddr.String() != def.HardwareAddr.String() {
		t.Errorf("cfg = %+v", b.cfg)
	}
	if b.cfg.MTU != 1400 {
		t.Errorf("MTU = %d, want 1400", b.cfg.MTU)
	}
	if b.cfg.Addressing != def.Addressing {
		t.Errorf("Addressing = %+v", b.cfg.Addressing)
	}
	if b.Interface() != nil || b.Running() {
		t.Error("bridge active before Init")
	}
}

func TestBridge_Init(t *testing.T) {
	class := &fakeClass{}
	stack := &fakeStack{}
	b := startBridge(t, class, stack)

	if !b.Running() {
		t.Error("Running = false")
	}
	nif := b.Interface()
	if nif == nil || nif.Name != DefaultName || nif.MTU != DefaultMTU || nif.Output == nil {
		t.Fatalf("interface = %+v", nif)
	}
	if len(stack.ifaces) != 1 || stack.ifaces[0] != nif {
		t.Errorf("stack interfaces = %v", stack.ifaces)
	}
	if err := b.Init(t.Context()); !errors.Is(err, pkg.ErrAlreadyRunning) {
		t.Errorf("second Init = %v, want ErrAlreadyRunning", err)
	}
}

func TestBridge_InitAddInterfaceFails(t *testing.T) {
	stack := &fakeStack{addErr: pkg.ErrInvalidParameter}
	b := NewBridge(&fakeClass{}, stack, Config{})
	if err := b.Init(t.Context()); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Fatalf("Init = %v, want ErrInvalidParameter", err)
	}
	if b.Running() {
		t.Error("worker started after a failed Init")
	}
	if err := b.Close(); err != nil {
		t.Errorf("Close = %v", err)
	}
}

func TestBridge_InitWithLinkUp(t *testing.T) {
	class := &fakeClass{linkUp: true}
	stack := &fakeStack{}
	b := startBridge(t, class, stack)

	eventually(t, "link up", func() bool {
		_, links := stack.snapshot()
		return len(links) == 1
	})
	_, links := stack.snapshot()
	if !links[0] || !b.Interface().LinkUp() {
		t.Errorf("links = %v, want [true]", links)
	}
	stack.mutex.Lock()
	defer stack.mutex.Unlock()
	if stack.addr != DefaultAddressing() {
		t.Errorf("addressing = %+v", stack.addr)
	}
}

func TestBridge_DeliversFrames(t *testing.T) {
	for _, useInput := range []bool{false, true} {
		t.Run(fmt.Sprintf("interface input %v", useInput), func(t *testing.T) {
			class := &fakeClass{}
			stack := &fakeStack{useInput: useInput}
			b := startBridge(t, class, stack)

			class.push([]byte{1}, []byte{2, 2}, []byte{3, 3, 3})
			eventually(t, "releases", func() bool { return class.released() == 3 })
			frames, _ := stack.snapshot()
			if len(frames) != 3 {
				t.Fatalf("stack got %d frames, want 3", len(frames))
			}
			for i, f := range frames {
				if len(f) != i+1 || f[0] != byte(i+1) {
					t.Errorf("frame %d = % X", i, f)
				}
			}
			if s := b.Stats(); s.FramesIn != 3 || s.Dropped != 0 {
				t.Errorf("stats = %+v", s)
			}
		})
	}
}

func TestBridge_DropsRejectedFrames(t *testing.T) {
	class := &fakeClass{}
	stack := &fakeStack{reject: func(frame []byte) error {
		if frame[0] == 2 {
			return pkg.ErrStackRejected
		}
		return nil
	}}
	b := startBridge(t, class, stack)

	class.push([]byte{1}, []byte{2}, []byte{3})
	eventually(t, "releases", func() bool { return class.released() == 3 })
	s := b.Stats()
	if s.FramesIn != 2 || s.Dropped != 1 {
		t.Errorf("stats = %+v", s)
	}
	if _, ok := class.RxFrame(); ok {
		t.Error("rejected frame was not released")
	}
}

func TestApplyLinkEvents(t *testing.T) {
	tests := []struct {
		name      string
		up        bool
		events    uint32
		classUp   bool
		wantLinks []bool
	}{
		{"none", false, 0, false, nil},
		{"up", false, linkEventUp, true, []bool{true}},
		{"down while down", false, linkEventDown, false, nil},
		{"up while up", true, linkEventUp, true, nil},
		{"down", true, linkEventDown, false, []bool{false}},
		{"up and down ends down", false, linkEventUp | linkEventDown, false, nil},
		{"up and down ends up", false, linkEventUp | linkEventDown, true, []bool{true}},
		{"bounce while up ends down", true, linkEventUp | linkEventDown, false, []bool{false}},
		{"bounce while up ends up", true, linkEventUp | linkEventDown, true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stack := &fakeStack{}
			b := NewBridge(&fakeClass{linkUp: tt.classUp}, stack, Config{})
			b.nif = &Interface{Name: "test"}
			b.nif.linkUp.Store(tt.up)
			b.linkEvents.Store(tt.events)

			b.applyLinkEvents()

			_, links := stack.snapshot()
			if fmt.Sprint(links) != fmt.Sprint(tt.wantLinks) {
				t.Errorf("links = %v, want %v", links, tt.wantLinks)
			}
			if b.linkEvents.Load() != 0 {
				t.Error("events not consumed")
			}
		})
	}
}

func TestBridge_LinkTransitions(t *testing.T) {
	class := &fakeClass{}
	stack := &fakeStack{}
	b := startBridge(t, class, stack)

	linkCount := func(n int) func() bool {
		return func() bool {
			_, links := stack.snapshot()
			return len(links) == n
		}
	}
	class.setLink(true)
	eventually(t, "link up", linkCount(1))
	class.setLink(false)
	eventually(t, "link down", linkCount(2))
	if b.Interface().LinkUp() {
		t.Error("interface still up")
	}

	_, links := stack.snapshot()
	if fmt.Sprint(links) != "[true false]" {
		t.Errorf("links = %v", links)
	}
}

func TestBridge_Close(t *testing.T) {
	class := &fakeClass{}
	stack := &fakeStack{}
	b := NewBridge(class, stack, Config{})
	if err := b.Close(); err != nil {
		t.Fatalf("Close before Init = %v", err)
	}
	if err := b.Init(t.Context()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	class.setLink(true)
	eventually(t, "link up", func() bool { return b.Interface().LinkUp() })

	// Queue a frame without waking the worker.
	class.mutex.Lock()
	class.frames = append(class.frames, []byte{9})
	class.mutex.Unlock()

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if b.Running() {
		t.Error("Running after Close")
	}
	if class.shutdowns != 1 {
		t.Errorf("shutdowns = %d, want 1", class.shutdowns)
	}
	if b.Interface().LinkUp() {
		t.Error("interface still up")
	}
	_, links := stack.snapshot()
	if fmt.Sprint(links) != "[true false]" {
		t.Errorf("links = %v", links)
	}
	if _, ok := class.RxFrame(); ok {
		t.Error("held frame not released")
	}
	if class.listener != nil {
		t.Error("listener still registered")
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if got := b.Output([]byte{1}); got != StatusIf {
		t.Errorf("Output after Close = %v, want %v", got, StatusIf)
	}
}

func TestBridge_Output(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		want  Status
		stats Stats
	}{
		{"ok", nil, StatusOK, Stats{FramesOut: 1}},
		{"busy", fmt.Errorf("transmit: %w", pkg.ErrBusy), StatusMem, Stats{TxBusy: 1}},
		{"too large", fmt.Errorf("transmit: %w", pkg.ErrFrameTooLarge), StatusArg, Stats{TxErrors: 1}},
		{"transport", fmt.Errorf("transmit: %w: %w", pkg.ErrTransport, errors.New("fifo")), StatusIf, Stats{TxErrors: 1}},
		{"not configured", pkg.ErrNotConfigured, StatusIf, Stats{TxErrors: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class := &fakeClass{txErr: tt.err}
			b := startBridge(t, class, &fakeStack{})

			if got := b.Interface().Output([]byte{0xAB}); got != tt.want {
				t.Errorf("Output = %v, want %v", got, tt.want)
			}
			s := b.Stats()
			s.Wakeups = 0
			if s != tt.stats {
				t.Errorf("stats = %+v, want %+v", s, tt.stats)
			}
		})
	}
}

func TestStatus_String(t *testing.T) {
	tests := []struct {
		s    Status
		want string
	}{
		{StatusOK, "ok"},
		{StatusMem, "out of memory"},
		{StatusIf, "interface error"},
		{StatusArg, "illegal argument"},
		{Status(17), "Status(17)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestAddressing_Prefix(t *testing.T) {
	tests := []struct {
		name    string
		addr    Addressing
		want    string
		wantErr bool
	}{
		{"default", DefaultAddressing(), "192.168.7.0/24", false},
		{"point to point", Addressing{
			Local:   netip.MustParseAddr("10.0.0.1"),
			Netmask: netip.MustParseAddr("255.255.255.252"),
		}, "10.0.0.0/30", false},
		{"non-contiguous mask", Addressing{
			Local:   netip.MustParseAddr("10.0.0.1"),
			Netmask: netip.MustParseAddr("255.0.255.0"),
		}, "", true},
		{"ipv6", Addressing{
			Local:   netip.MustParseAddr("fe80::1"),
			Netmask: netip.MustParseAddr("255.255.255.0"),
		}, "", true},
		{"zero", Addressing{}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.addr.Prefix()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Prefix = %v, want error", p)
				}
				return
			}
			if err != nil {
				t.Fatalf("Prefix: %v", err)
			}
			if p.String() != tt.want {
				t.Errorf("Prefix = %v, want %s", p, tt.want)
			}
		})
	}
}
