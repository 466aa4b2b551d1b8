package netif

import (
	"context"

	"github.com/ardnew/softecm/pkg"
)

// run is the bridge worker. It sleeps until signalled, applies link
// events, then drains received frames into the stack.
func (b *Bridge) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	pkg.LogDebug(pkg.ComponentWorker, "worker started")

	for {
		select {
		case <-ctx.Done():
			pkg.LogDebug(pkg.ComponentWorker, "worker stopped",
				"reason", ctx.Err())
			return
		case <-b.wake:
		}
		b.wakeups.Add(1)
		b.applyLinkEvents()
		b.drain()
	}
}

// applyLinkEvents folds the pending link events into the stack's view of
// the link. When both directions are pending the class state decides.
func (b *Bridge) applyLinkEvents() {
	ev := b.linkEvents.Swap(0)
	if ev == 0 {
		return
	}
	up := b.nif.LinkUp()
	want := up
	switch {
	case ev&linkEventUp != 0 && ev&linkEventDown != 0:
		want = b.class.LinkUp()
	case ev&linkEventUp != 0:
		want = true
	case ev&linkEventDown != 0:
		want = false
	}
	switch {
	case want && !up:
		b.setLinkUp()
	case !want && up:
		b.setLinkDown()
	}
}

func (b *Bridge) setLinkUp() {
	b.nif.linkUp.Store(true)
	b.stack.SetLinkUp(b.nif, b.cfg.Addressing)
	pkg.LogInfo(pkg.ComponentWorker, "link up",
		"interface", b.nif.Name,
		"local", b.cfg.Addressing.Local.String(),
		"gateway", b.cfg.Addressing.Gateway.String())
}

func (b *Bridge) setLinkDown() {
	b.nif.linkUp.Store(false)
	b.stack.SetLinkDown(b.nif)
	pkg.LogInfo(pkg.ComponentWorker, "link down", "interface", b.nif.Name)
}

// drain delivers frames while the receive buffer holds one. Each frame is
// handed to the stack under its core lock, then the buffer is re-armed.
// A rejected frame is dropped, never retried.
func (b *Bridge) drain() {
	for {
		frame, ok := b.class.RxFrame()
		if !ok {
			return
		}

		lock := b.stack.CoreLock()
		lock.Lock()
		var err error
		if b.nif.Input != nil {
			err = b.nif.Input(frame)
		} else {
			err = b.stack.Input(b.nif, frame)
		}
		lock.Unlock()

		if err != nil {
			b.dropped.Add(1)
			pkg.LogDebug(pkg.ComponentWorker, "frame dropped",
				"length", len(frame),
				"error", err)
		} else {
			b.framesIn.Add(1)
		}

		if err := b.class.ReleaseRx(); err != nil {
			pkg.LogWarn(pkg.ComponentWorker, "rearm receive", "error", err)
			return
		}
	}
}
