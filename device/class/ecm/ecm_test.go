package ecm

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/ardnew/softecm/device"
	"github.com/ardnew/softecm/device/class/cdc"
	"github.com/ardnew/softecm/device/hal"
	"github.com/ardnew/softecm/device/hal/sim"
	"github.com/ardnew/softecm/pkg"
	"github.com/ardnew/softecm/pkg/pbuf"
)

// countingListener counts class events. Events arrive synchronously from
// the sim controller on the test goroutine.
type countingListener struct {
	frames, ups, downs int
}

func (l *countingListener) FrameReady() { l.frames++ }
func (l *countingListener) LinkUp()     { l.ups++ }
func (l *countingListener) LinkDown()   { l.downs++ }

type fixture struct {
	ecm      *ECM
	drv      *device.Driver
	host     *sim.Controller
	listener *countingListener
}

// newFixture starts an ECM function behind a sim controller, attached at
// speed and enumerated with configuration 1.
func newFixture(t *testing.T, cfg Config, speed hal.Speed) *fixture {
	t.Helper()
	f := &fixture{
		ecm:      New(cfg),
		host:     sim.New(),
		listener: &countingListener{},
	}
	f.ecm.SetListener(f.listener)
	f.drv = device.NewDriver(f.host, DeviceDescriptors(0x1209, 0x0001, "softecm", "USB Ethernet", "0001"), 0)
	f.drv.SetClass(f.ecm)
	if err := f.drv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = f.drv.Stop() })

	f.host.Attach(speed)
	if _, err := f.host.Enumerate(5, ConfigurationValue); err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if got := f.ecm.State(); got != StateIdle {
		t.Fatalf("State = %v, want Idle", got)
	}
	return f
}

func (f *fixture) classRequest(t *testing.T, dir, request uint8, value uint16, length uint16, data []byte) ([]byte, error) {
	t.Helper()
	setup := device.ClassRequest(dir, request, value, f.ecm.cfg.ControlInterface, length)
	return f.host.Setup(setup.HAL(), data)
}

func (f *fixture) setFilter(t *testing.T, filter uint16) {
	t.Helper()
	if _, err := f.classRequest(t, device.RequestDirectionHostToDevice, cdc.RequestSetEthernetPacketFilter, filter, 0, nil); err != nil {
		t.Fatalf("SET_ETHERNET_PACKET_FILTER(0x%04X): %v", filter, err)
	}
}

// linkUp sets a filter and drains both link notifications.
func (f *fixture) linkUp(t *testing.T) {
	t.Helper()
	f.setFilter(t, cdc.PacketFilterDirected|cdc.PacketFilterBroadcast)
	for range 2 {
		if _, err := f.host.ReceiveTransfer(f.ecm.cfg.NotifyEndpoint); err != nil {
			t.Fatalf("notification: %v", err)
		}
	}
}

func TestConfigDescriptor(t *testing.T) {
	tests := []struct {
		speed hal.Speed
		mps   uint16
	}{
		{hal.SpeedFull, FullSpeedMaxPacketSize},
		{hal.SpeedHigh, HighSpeedMaxPacketSize},
	}
	for _, tt := range tests {
		t.Run(tt.speed.String(), func(t *testing.T) {
			e := New(DefaultConfig())
			desc := e.ConfigDescriptor(tt.speed)
			if len(desc) != ConfigDescriptorSize || ConfigDescriptorSize != 71 {
				t.Fatalf("len = %d, want 71", len(desc))
			}
			if total := binary.LittleEndian.Uint16(desc[2:4]); total != ConfigDescriptorSize {
				t.Errorf("wTotalLength = %d", total)
			}

			var types []uint8
			var endpoints []device.EndpointDescriptor
			err := device.WalkDescriptors(desc, func(typ uint8, d []byte) bool {
				types = append(types, typ)
				switch {
				case typ == device.DescriptorTypeEndpoint:
					endpoints = append(endpoints, device.EndpointDescriptor{
						EndpointAddress: d[2],
						Attributes:      d[3],
						MaxPacketSize:   binary.LittleEndian.Uint16(d[4:6]),
						Interval:        d[6],
					})
				case typ == cdc.DescriptorTypeCSInterface && d[2] == cdc.SubtypeEthernet:
					if d[3] != MACStringIndex {
						t.Errorf("iMACAddress = %d, want %d", d[3], MACStringIndex)
					}
					if mss := binary.LittleEndian.Uint16(d[8:10]); mss != pbuf.MaxFrameSize {
						t.Errorf("wMaxSegmentSize = %d", mss)
					}
				case typ == device.DescriptorTypeInterface && d[2] == 0:
					if d[5] != cdc.ClassCDC || d[6] != cdc.SubclassECM {
						t.Errorf("communication interface class = %02X/%02X", d[5], d[6])
					}
				}
				return true
			})
			if err != nil {
				t.Fatalf("WalkDescriptors: %v", err)
			}

			wantTypes := []uint8{
				device.DescriptorTypeConfiguration,
				device.DescriptorTypeInterface,
				cdc.DescriptorTypeCSInterface,
				cdc.DescriptorTypeCSInterface,
				cdc.DescriptorTypeCSInterface,
				device.DescriptorTypeEndpoint,
				device.DescriptorTypeInterface,
				device.DescriptorTypeEndpoint,
				device.DescriptorTypeEndpoint,
			}
			if !bytes.Equal(types, wantTypes) {
				t.Errorf("types = % X, want % X", types, wantTypes)
			}

			wantEndpoints := []device.EndpointDescriptor{
				{EndpointAddress: DefaultNotifyEndpoint, Attributes: device.EndpointTypeInterrupt, MaxPacketSize: DefaultNotifyMaxPacketSize, Interval: DefaultNotifyInterval},
				{EndpointAddress: DefaultDataOutEndpoint, Attributes: device.EndpointTypeBulk, MaxPacketSize: tt.mps},
				{EndpointAddress: DefaultDataInEndpoint, Attributes: device.EndpointTypeBulk, MaxPacketSize: tt.mps},
			}
			if len(endpoints) != len(wantEndpoints) {
				t.Fatalf("endpoints = %+v", endpoints)
			}
			for i := range wantEndpoints {
				if endpoints[i] != wantEndpoints[i] {
					t.Errorf("endpoint %d = %+v, want %+v", i, endpoints[i], wantEndpoints[i])
				}
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	e := New(Config{ControlInterface: 2})
	cfg := e.Config()
	def := DefaultConfig()
	if cfg.DataInEndpoint != def.DataInEndpoint || cfg.NotifyEndpoint != def.NotifyEndpoint {
		t.Errorf("endpoints not defaulted: %+v", cfg)
	}
	if cfg.TxPolicy != def.TxPolicy {
		t.Errorf("TxPolicy = %+v, want %+v", cfg.TxPolicy, def.TxPolicy)
	}
	if cfg.DataInterface() != 3 {
		t.Errorf("DataInterface = %d, want 3", cfg.DataInterface())
	}
	if got := e.MACString(); got != "020000000001" {
		t.Errorf("MACString = %q", got)
	}
	if got := e.Pool().Cap(); got != PoolSize {
		t.Errorf("pool Cap = %d, want %d", got, PoolSize)
	}

	e = New(Config{HostMAC: net.HardwareAddr{0x02, 0xAB, 0xCD, 0xEF, 0x01, 0x23}})
	if got := e.MACString(); got != "02ABCDEF0123" {
		t.Errorf("MACString = %q", got)
	}
	if s, ok := e.String(MACStringIndex); !ok || s != "02ABCDEF0123" {
		t.Errorf("String(MAC) = %q, %v", s, ok)
	}
	if _, ok := e.String(MACStringIndex + 1); ok {
		t.Error("String served an unknown index")
	}
}

func TestEnumeration_MACString(t *testing.T) {
	f := newFixture(t, DefaultConfig(), hal.SpeedFull)
	s, err := f.host.GetString(MACStringIndex)
	if err != nil {
		t.Fatalf("GetString: %v", err)
	}
	if s != "020000000001" {
		t.Errorf("MAC string = %q", s)
	}
	if f.drv.Outstanding() != 1 {
		t.Errorf("Outstanding = %d, want 1 (armed receive)", f.drv.Outstanding())
	}
}

func TestLinkUp_Notifications(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UplinkSpeed = 12_000_000
	cfg.DownlinkSpeed = 3_000_000
	f := newFixture(t, cfg, hal.SpeedFull)
	notify := cfg.NotifyEndpoint

	if _, err := f.host.ReceiveTransfer(notify); !errors.Is(err, pkg.ErrNAK) {
		t.Fatalf("notification before link up: %v", err)
	}

	f.setFilter(t, cdc.PacketFilterDirected)
	if !f.ecm.LinkUp() || f.listener.ups != 1 {
		t.Fatalf("LinkUp=%v ups=%d", f.ecm.LinkUp(), f.listener.ups)
	}
	if got := f.ecm.PacketFilter(); got != cdc.PacketFilterDirected {
		t.Errorf("PacketFilter = 0x%04X", got)
	}

	conn, err := f.host.ReceiveTransfer(notify)
	if err != nil {
		t.Fatalf("connection notification: %v", err)
	}
	wantConn := []byte{0xA1, cdc.NotificationNetworkConnection, 1, 0, 0, 0, 0, 0}
	if !bytes.Equal(conn, wantConn) {
		t.Errorf("connection = % X, want % X", conn, wantConn)
	}

	speed, err := f.host.ReceiveTransfer(notify)
	if err != nil {
		t.Fatalf("speed notification: %v", err)
	}
	if len(speed) != cdc.NotificationHeaderSize+8 || speed[1] != cdc.NotificationConnectionSpeedChange {
		t.Fatalf("speed = % X", speed)
	}
	if binary.LittleEndian.Uint16(speed[6:8]) != 8 {
		t.Errorf("wLength = % X", speed[6:8])
	}
	down := binary.LittleEndian.Uint32(speed[8:12])
	up := binary.LittleEndian.Uint32(speed[12:16])
	if down != cfg.DownlinkSpeed || up != cfg.UplinkSpeed {
		t.Errorf("speeds down=%d up=%d", down, up)
	}

	// A second filter while up changes nothing.
	f.setFilter(t, cdc.PacketFilterDirected|cdc.PacketFilterMulticast)
	if _, err := f.host.ReceiveTransfer(notify); !errors.Is(err, pkg.ErrNAK) {
		t.Errorf("extra notification: %v", err)
	}
	if f.listener.ups != 1 {
		t.Errorf("ups = %d, want 1", f.listener.ups)
	}

	// Filter 0 takes the link down and reports the disconnect.
	f.setFilter(t, 0)
	if f.ecm.State() != StateLinkDown || f.listener.downs != 1 {
		t.Errorf("State=%v downs=%d", f.ecm.State(), f.listener.downs)
	}
	disc, err := f.host.ReceiveTransfer(notify)
	if err != nil || disc[2] != 0 {
		t.Errorf("disconnect = % X, %v", disc, err)
	}

	// The next link-up notifies again.
	f.setFilter(t, cdc.PacketFilterBroadcast)
	if f.listener.ups != 2 {
		t.Errorf("ups = %d, want 2", f.listener.ups)
	}
	conn, err = f.host.ReceiveTransfer(notify)
	if err != nil || !bytes.Equal(conn, wantConn) {
		t.Errorf("second connection = % X, %v", conn, err)
	}
}

func TestLinkUp_ZeroFilterFromIdle(t *testing.T) {
	f := newFixture(t, DefaultConfig(), hal.SpeedFull)

	f.setFilter(t, 0)
	if got := f.ecm.State(); got != StateLinkUp || f.listener.ups != 1 {
		t.Fatalf("State=%v ups=%d, want LinkUp/1", got, f.listener.ups)
	}
	conn, err := f.host.ReceiveTransfer(f.ecm.cfg.NotifyEndpoint)
	if err != nil {
		t.Fatalf("connection notification: %v", err)
	}
	if conn[1] != cdc.NotificationNetworkConnection || conn[2] != 1 {
		t.Errorf("connection = % X", conn)
	}
}

func TestLinkDown_IgnoresRepeatedZeroFilter(t *testing.T) {
	f := newFixture(t, DefaultConfig(), hal.SpeedFull)
	f.linkUp(t)

	f.setFilter(t, 0)
	if _, err := f.host.ReceiveTransfer(f.ecm.cfg.NotifyEndpoint); err != nil {
		t.Fatalf("disconnect notification: %v", err)
	}
	f.setFilter(t, 0)
	if got := f.ecm.State(); got != StateLinkDown || f.listener.ups != 1 {
		t.Errorf("State=%v ups=%d, want LinkDown/1", got, f.listener.ups)
	}
}

func TestLinkDown_WaitsForSpeedNotification(t *testing.T) {
	f := newFixture(t, DefaultConfig(), hal.SpeedFull)
	notify := f.ecm.cfg.NotifyEndpoint

	f.setFilter(t, cdc.PacketFilterDirected)
	if _, err := f.host.ReceiveTransfer(notify); err != nil {
		t.Fatalf("connection notification: %v", err)
	}
	// The speed change is in flight when the link drops.
	f.setFilter(t, 0)
	if f.ecm.State() != StateLinkDown || f.listener.downs != 1 {
		t.Fatalf("State=%v downs=%d", f.ecm.State(), f.listener.downs)
	}

	speed, err := f.host.ReceiveTransfer(notify)
	if err != nil || speed[1] != cdc.NotificationConnectionSpeedChange {
		t.Fatalf("speed = % X, %v", speed, err)
	}
	disc, err := f.host.ReceiveTransfer(notify)
	if err != nil {
		t.Fatalf("disconnect notification: %v", err)
	}
	wantDisc := []byte{0xA1, cdc.NotificationNetworkConnection, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(disc, wantDisc) {
		t.Errorf("disconnect = % X, want % X", disc, wantDisc)
	}
	if _, err := f.host.ReceiveTransfer(notify); !errors.Is(err, pkg.ErrNAK) {
		t.Errorf("extra notification: %v", err)
	}
}

func TestLinkUp_ReplacesQueuedDisconnect(t *testing.T) {
	f := newFixture(t, DefaultConfig(), hal.SpeedFull)
	notify := f.ecm.cfg.NotifyEndpoint

	f.setFilter(t, cdc.PacketFilterDirected)
	if _, err := f.host.ReceiveTransfer(notify); err != nil {
		t.Fatalf("connection notification: %v", err)
	}
	f.setFilter(t, 0)
	f.setFilter(t, cdc.PacketFilterBroadcast)
	if f.ecm.notified.Load() {
		t.Error("notified set before CONNECTED was sent")
	}
	if f.listener.ups != 2 || f.listener.downs != 1 {
		t.Errorf("ups=%d downs=%d, want 2/1", f.listener.ups, f.listener.downs)
	}

	var codes []uint8
	var values []uint8
	for {
		n, err := f.host.ReceiveTransfer(notify)
		if errors.Is(err, pkg.ErrNAK) {
			break
		}
		if err != nil {
			t.Fatalf("notification %d: %v", len(codes), err)
		}
		codes = append(codes, n[1])
		values = append(values, n[2])
	}
	wantCodes := []uint8{
		cdc.NotificationConnectionSpeedChange,
		cdc.NotificationNetworkConnection,
		cdc.NotificationConnectionSpeedChange,
	}
	if !bytes.Equal(codes, wantCodes) {
		t.Fatalf("notification codes = % X, want % X", codes, wantCodes)
	}
	if values[1] != 1 {
		t.Errorf("reconnect value = %d, want 1", values[1])
	}
	if !f.ecm.notified.Load() {
		t.Error("notified clear after CONNECTED was sent")
	}
}

func TestTransmit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TxPolicy = TxPolicy{MaxPolls: 1}
	f := newFixture(t, cfg, hal.SpeedFull)

	frame := bytes.Repeat([]byte{0x5A}, 100)
	if err := f.ecm.Transmit(frame); !errors.Is(err, pkg.ErrNotConfigured) {
		t.Errorf("Transmit before link up = %v, want ErrNotConfigured", err)
	}

	f.linkUp(t)
	if err := f.ecm.Transmit(make([]byte, pbuf.MaxFrameSize+1)); !errors.Is(err, pkg.ErrFrameTooLarge) {
		t.Errorf("oversize Transmit = %v, want ErrFrameTooLarge", err)
	}

	if err := f.ecm.Transmit(frame); err != nil {
		t.Fatalf("Transmit: %v", err)
	}
	if f.ecm.TxIdle() {
		t.Error("TxIdle while a frame is in flight")
	}
	if err := f.ecm.Transmit(frame); !errors.Is(err, pkg.ErrBusy) {
		t.Errorf("back-to-back Transmit = %v, want ErrBusy", err)
	}

	got, err := f.host.ReceiveFrame(cfg.DataInEndpoint)
	if err != nil {
		t.Fatalf("ReceiveFrame: %v", err)
	}
	if !bytes.Equal(got, frame) {
		t.Errorf("host received %d bytes", len(got))
	}
	if !f.ecm.TxIdle() {
		t.Error("transmit buffer not freed after completion")
	}
	if err := f.ecm.Transmit(frame); err != nil {
		t.Errorf("Transmit after completion: %v", err)
	}
	if _, err := f.host.ReceiveFrame(cfg.DataInEndpoint); err != nil {
		t.Fatalf("ReceiveFrame: %v", err)
	}
	if got := f.ecm.Statistics().TxOK; got != 2 {
		t.Errorf("TxOK = %d, want 2", got)
	}
}

func TestTransmit_ZeroLengthPacket(t *testing.T) {
	tests := []struct {
		name  string
		speed hal.Speed
		size  int
	}{
		{"one packet", hal.SpeedFull, 64},
		{"many packets", hal.SpeedFull, 640},
		{"high speed", hal.SpeedHigh, 1024},
		{"short", hal.SpeedFull, 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, DefaultConfig(), tt.speed)
			f.linkUp(t)

			frame := make([]byte, tt.size)
			for i := range frame {
				frame[i] = byte(i)
			}
			if err := f.ecm.Transmit(frame); err != nil {
				t.Fatalf("Transmit: %v", err)
			}
			// ReceiveFrame fails unless a multiple of the packet size is
			// followed by a zero-length packet.
			got, err := f.host.ReceiveFrame(DefaultDataInEndpoint)
			if err != nil {
				t.Fatalf("ReceiveFrame: %v", err)
			}
			if !bytes.Equal(got, frame) {
				t.Errorf("received %d bytes, want %d", len(got), len(frame))
			}
			if !f.ecm.TxIdle() {
				t.Error("transmit buffer held after the frame completed")
			}
			if got := f.ecm.Statistics().TxOK; got != 1 {
				t.Errorf("TxOK = %d, want 1", got)
			}
		})
	}
}

func TestTransmit_WaitsForCompletion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TxPolicy = TxPolicy{Timeout: time.Second}
	f := newFixture(t, cfg, hal.SpeedFull)
	f.linkUp(t)

	if err := f.ecm.Transmit([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Transmit: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- f.ecm.Transmit([]byte{4, 5, 6}) }()

	if _, err := f.host.ReceiveFrame(DefaultDataInEndpoint); err != nil {
		t.Fatalf("ReceiveFrame: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("waiting Transmit: %v", err)
	}
	got, err := f.host.ReceiveFrameWait(context.Background(), DefaultDataInEndpoint)
	if err != nil || !bytes.Equal(got, []byte{4, 5, 6}) {
		t.Errorf("second frame = % X, %v", got, err)
	}
}

func TestReceive(t *testing.T) {
	tests := []struct {
		name  string
		speed hal.Speed
		size  int
	}{
		{"short", hal.SpeedFull, 60},
		{"two packets", hal.SpeedFull, 100},
		{"packet multiple", hal.SpeedFull, 128},
		{"max frame", hal.SpeedFull, pbuf.MaxFrameSize},
		{"high speed", hal.SpeedHigh, 600},
		{"high speed multiple", hal.SpeedHigh, 1024},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, DefaultConfig(), tt.speed)
			f.linkUp(t)

			frame := make([]byte, tt.size)
			for i := range frame {
				frame[i] = byte(i * 7)
			}
			if err := f.host.SendFrame(DefaultDataOutEndpoint, frame); err != nil {
				t.Fatalf("SendFrame: %v", err)
			}
			if f.listener.frames != 1 {
				t.Fatalf("FrameReady = %d, want 1", f.listener.frames)
			}
			got, ok := f.ecm.RxFrame()
			if !ok {
				t.Fatal("RxFrame: no frame")
			}
			if !bytes.Equal(got, frame) {
				t.Errorf("frame = %d bytes, want %d", len(got), len(frame))
			}
			if got := f.ecm.Statistics().RxOK; got != 1 {
				t.Errorf("RxOK = %d", got)
			}
		})
	}
}

func TestReceive_FlowControl(t *testing.T) {
	f := newFixture(t, DefaultConfig(), hal.SpeedFull)
	f.linkUp(t)

	if _, ok := f.ecm.RxFrame(); ok {
		t.Fatal("RxFrame before any frame")
	}
	if err := f.ecm.ReleaseRx(); !errors.Is(err, pkg.ErrOwnership) {
		t.Errorf("ReleaseRx while hardware owns the buffer = %v, want ErrOwnership", err)
	}

	first := bytes.Repeat([]byte{1}, 60)
	if err := f.host.SendFrame(DefaultDataOutEndpoint, first); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}
	if !f.ecm.RxPending() {
		t.Fatal("RxPending = false")
	}

	// The receive buffer is held by firmware: the host is NAKed.
	second := bytes.Repeat([]byte{2}, 60)
	if err := f.host.SendFrame(DefaultDataOutEndpoint, second); !errors.Is(err, pkg.ErrNAK) {
		t.Fatalf("SendFrame while held = %v, want ErrNAK", err)
	}

	if err := f.ecm.ReleaseRx(); err != nil {
		t.Fatalf("ReleaseRx: %v", err)
	}
	if f.ecm.RxPending() {
		t.Error("RxPending after release")
	}
	if err := f.host.SendFrame(DefaultDataOutEndpoint, second); err != nil {
		t.Fatalf("SendFrame after release: %v", err)
	}
	got, ok := f.ecm.RxFrame()
	if !ok || !bytes.Equal(got, second) {
		t.Errorf("second frame = % X", got)
	}
}

func TestReceive_EmptyTransferIgnored(t *testing.T) {
	f := newFixture(t, DefaultConfig(), hal.SpeedFull)
	f.linkUp(t)

	if err := f.host.SendFrame(DefaultDataOutEndpoint, nil); err != nil {
		t.Fatalf("SendFrame(empty): %v", err)
	}
	if f.listener.frames != 0 || f.ecm.RxPending() {
		t.Error("empty transfer delivered as a frame")
	}
	if err := f.host.SendFrame(DefaultDataOutEndpoint, []byte{1, 2, 3}); err != nil {
		t.Errorf("SendFrame after empty transfer: %v", err)
	}
}

func TestClassRequests(t *testing.T) {
	const (
		in  = device.RequestDirectionDeviceToHost
		out = device.RequestDirectionHostToDevice
	)
	f := newFixture(t, DefaultConfig(), hal.SpeedFull)

	tests := []struct {
		name      string
		dir       uint8
		request   uint8
		value     uint16
		length    uint16
		data      []byte
		want      []byte
		wantStall bool
	}{
		{name: "send encapsulated command", dir: out, request: cdc.RequestSendEncapsulatedCommand, length: 4, data: []byte{1, 2, 3, 4}},
		{name: "get encapsulated response", dir: in, request: cdc.RequestGetEncapsulatedResponse, length: 16},
		{name: "multicast filters", dir: out, request: cdc.RequestSetEthernetMulticast, value: 2, length: 12, data: make([]byte, 12)},
		{name: "multicast filter count mismatch", dir: out, request: cdc.RequestSetEthernetMulticast, value: 1, length: 12, data: make([]byte, 12), wantStall: true},
		{name: "set power management filter", dir: out, request: cdc.RequestSetEthernetPMFilter, value: 1, length: 4, data: []byte{2, 0, 0xFF, 0xFF}},
		{name: "get power management filter", dir: in, request: cdc.RequestGetEthernetPMFilter, length: 2, want: []byte{0, 0}},
		{name: "statistic", dir: in, request: cdc.RequestGetEthernetStatistic, value: StatRcvOK, length: 4, want: []byte{0, 0, 0, 0}},
		{name: "unknown statistic", dir: in, request: cdc.RequestGetEthernetStatistic, value: 0x20, length: 4, want: []byte{0, 0, 0, 0}},
		{name: "unsupported request", dir: out, request: 0x50, wantStall: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.classRequest(t, tt.dir, tt.request, tt.value, tt.length, tt.data)
			if tt.wantStall {
				if !errors.Is(err, pkg.ErrStall) {
					t.Errorf("err = %v, want ErrStall", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("err = %v", err)
			}
			if tt.want != nil && !bytes.Equal(got, tt.want) {
				t.Errorf("data = % X, want % X", got, tt.want)
			}
		})
	}

	// Requests addressed to the data interface are not ECM requests.
	setup := device.ClassRequest(out, cdc.RequestSetEthernetPacketFilter, 0x0C, f.ecm.cfg.DataInterface(), 0)
	if _, err := f.host.Setup(setup.HAL(), nil); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("data interface request = %v, want ErrStall", err)
	}
	if f.ecm.LinkUp() {
		t.Error("link came up from a misaddressed request")
	}
}

func TestStatistics(t *testing.T) {
	f := newFixture(t, DefaultConfig(), hal.SpeedFull)
	f.linkUp(t)

	for i := range 3 {
		if err := f.host.SendFrame(DefaultDataOutEndpoint, bytes.Repeat([]byte{byte(i)}, 60)); err != nil {
			t.Fatalf("SendFrame: %v", err)
		}
		if err := f.ecm.ReleaseRx(); err != nil {
			t.Fatalf("ReleaseRx: %v", err)
		}
	}
	if err := f.ecm.Transmit(make([]byte, 60)); err != nil {
		t.Fatalf("Transmit: %v", err)
	}
	if _, err := f.host.ReceiveFrame(DefaultDataInEndpoint); err != nil {
		t.Fatalf("ReceiveFrame: %v", err)
	}

	stat := func(selector uint16) uint32 {
		t.Helper()
		data, err := f.classRequest(t, device.RequestDirectionDeviceToHost, cdc.RequestGetEthernetStatistic, selector, 4, nil)
		if err != nil || len(data) != 4 {
			t.Fatalf("GET_ETHERNET_STATISTIC(%d) = % X, %v", selector, data, err)
		}
		return binary.LittleEndian.Uint32(data)
	}
	if got := stat(StatRcvOK); got != 3 {
		t.Errorf("RCV_OK = %d, want 3", got)
	}
	if got := stat(StatXmitOK); got != 1 {
		t.Errorf("XMIT_OK = %d, want 1", got)
	}
	if got := stat(StatXmitError); got != 0 {
		t.Errorf("XMIT_ERROR = %d, want 0", got)
	}
}

func TestDeInit(t *testing.T) {
	f := newFixture(t, DefaultConfig(), hal.SpeedFull)
	f.linkUp(t)
	if err := f.ecm.Transmit(make([]byte, 60)); err != nil {
		t.Fatalf("Transmit: %v", err)
	}

	if _, err := f.host.Setup(device.ConfigurationRequest(0).HAL(), nil); err != nil {
		t.Fatalf("SET_CONFIGURATION(0): %v", err)
	}
	if got := f.ecm.State(); got != StateDeinitialized {
		t.Errorf("State = %v, want Deinitialized", got)
	}
	if f.listener.downs != 1 {
		t.Errorf("downs = %d, want 1", f.listener.downs)
	}
	if got := f.ecm.Pool().Available(); got != PoolSize {
		t.Errorf("pool Available = %d, want %d", got, PoolSize)
	}
	if f.drv.Outstanding() != 0 {
		t.Errorf("Outstanding = %d, want 0", f.drv.Outstanding())
	}
	if err := f.ecm.Transmit(make([]byte, 60)); !errors.Is(err, pkg.ErrNotConfigured) {
		t.Errorf("Transmit after DeInit = %v, want ErrNotConfigured", err)
	}

	// Reconfiguring brings the function back to Idle with receive armed.
	if _, err := f.host.Setup(device.ConfigurationRequest(ConfigurationValue).HAL(), nil); err != nil {
		t.Fatalf("SET_CONFIGURATION(1): %v", err)
	}
	if got := f.ecm.State(); got != StateIdle {
		t.Errorf("State = %v, want Idle", got)
	}
	if f.drv.Outstanding() != 1 {
		t.Errorf("Outstanding = %d, want 1", f.drv.Outstanding())
	}
	f.linkUp(t)
	if f.listener.ups != 2 {
		t.Errorf("ups = %d, want 2", f.listener.ups)
	}
}

func TestDeInit_ReleasesHeldFrame(t *testing.T) {
	f := newFixture(t, DefaultConfig(), hal.SpeedFull)
	f.linkUp(t)
	if err := f.host.SendFrame(DefaultDataOutEndpoint, make([]byte, 60)); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}

	if err := f.ecm.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	// The worker still holds the frame; releasing frees the buffer.
	if err := f.ecm.ReleaseRx(); err != nil {
		t.Fatalf("ReleaseRx: %v", err)
	}
	if got := f.ecm.Pool().Available(); got != PoolSize {
		t.Errorf("pool Available = %d, want %d", got, PoolSize)
	}
}

func TestInit_DropsFrameWithoutListener(t *testing.T) {
	f := newFixture(t, DefaultConfig(), hal.SpeedFull)
	f.linkUp(t)
	if err := f.host.SendFrame(DefaultDataOutEndpoint, make([]byte, 60)); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}
	// The frame arrives after the listener has gone and nobody releases it.
	f.ecm.SetListener(nil)

	for _, config := range []uint8{0, ConfigurationValue} {
		if _, err := f.host.Setup(device.ConfigurationRequest(config).HAL(), nil); err != nil {
			t.Fatalf("SET_CONFIGURATION(%d): %v", config, err)
		}
	}
	if f.ecm.RxPending() {
		t.Error("stale frame still pending after reconfiguration")
	}
	if f.drv.Outstanding() != 1 {
		t.Errorf("Outstanding = %d, want 1", f.drv.Outstanding())
	}
	f.linkUp(t)
	frame := bytes.Repeat([]byte{7}, 60)
	if err := f.host.SendFrame(DefaultDataOutEndpoint, frame); err != nil {
		t.Fatalf("SendFrame after reconfiguration: %v", err)
	}
	if got, ok := f.ecm.RxFrame(); !ok || !bytes.Equal(got, frame) {
		t.Errorf("frame = % X, %v", got, ok)
	}
}

func TestInit_Twice(t *testing.T) {
	f := newFixture(t, DefaultConfig(), hal.SpeedFull)
	if err := f.ecm.Init(f.drv, ConfigurationValue); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("second Init = %v, want ErrInvalidState", err)
	}
}

func TestBusReset(t *testing.T) {
	f := newFixture(t, DefaultConfig(), hal.SpeedFull)
	f.linkUp(t)

	f.host.Reset(hal.SpeedHigh)
	if got := f.ecm.State(); got != StateDeinitialized {
		t.Errorf("State = %v, want Deinitialized", got)
	}
	if f.listener.downs != 1 {
		t.Errorf("downs = %d, want 1", f.listener.downs)
	}

	if _, err := f.host.Enumerate(6, ConfigurationValue); err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	ep := f.drv.Endpoint(DefaultDataOutEndpoint)
	if ep == nil || ep.MaxPacketSize != HighSpeedMaxPacketSize {
		t.Fatalf("data OUT endpoint = %+v", ep)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateUninitialized, "Uninitialized"},
		{StateIdle, "Idle"},
		{StateLinkDown, "LinkDown"},
		{StateLinkUp, "LinkUp"},
		{StateDeinitialized, "Deinitialized"},
		{State(9), "State(9)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
