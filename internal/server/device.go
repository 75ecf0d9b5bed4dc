package server

import (
	"context"
	"sync"

	"github.com/CK6170/EposForce-go/rig"
)

// DeviceSession is the connected rig shared by all handlers.
type DeviceSession struct {
	mu sync.Mutex

	configID string
	sess     *rig.Session
	bias     []float64

	// One active operation at a time
	opCancel context.CancelFunc
	opKind   string
	opDone   chan struct{}
}

func (d *DeviceSession) cancelLocked() {
	if d.opCancel != nil {
		d.opCancel()
		d.opCancel = nil
		d.opKind = ""
	}
}

// startLocked cancels the running operation and returns the context of a new
// one. done must be called when the operation returns.
func (d *DeviceSession) startLocked(kind string) (ctx context.Context, done func()) {
	d.cancelLocked()
	prev := d.opDone
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan struct{})
	d.opCancel, d.opKind, d.opDone = cancel, kind, ch
	if prev != nil {
		// the hardware is not shared between two operations
		<-prev
	}
	return ctx, func() {
		cancel()
		close(ch)
	}
}

func (d *DeviceSession) disconnectLocked() error {
	var err error
	if d.opDone != nil {
		<-d.opDone
		d.opDone = nil
	}
	if d.sess != nil {
		err = d.sess.Close()
	}
	d.sess = nil
	d.bias = nil
	d.configID = ""
	return err
}
