package ecm

import (
	"runtime"
	"time"
)

// Default transmit wait bounds.
const (
	DefaultTxMaxPolls = 4096
	DefaultTxTimeout  = 2 * time.Millisecond
)

// TxPolicy bounds how long [ECM.Transmit] waits for the transmit buffer
// to come back from hardware. Whichever bound is reached first ends the
// wait. A zero or negative bound is ignored; when both are unset a single
// attempt is made.
type TxPolicy struct {
	MaxPolls int
	Timeout  time.Duration
}

// DefaultTxPolicy returns the default wait bounds.
func DefaultTxPolicy() TxPolicy {
	return TxPolicy{
		MaxPolls: DefaultTxMaxPolls,
		Timeout:  DefaultTxTimeout,
	}
}

// wait polls ready until it returns true or a bound is reached.
// Returns the result of the last poll and the number of polls made.
func (p TxPolicy) wait(ready func() bool) (bool, int) {
	var start time.Time
	if p.Timeout > 0 {
		start = time.Now()
	}
	for polls := 1; ; polls++ {
		if ready() {
			return true, polls
		}
		if p.MaxPolls <= 0 && p.Timeout <= 0 {
			return false, polls
		}
		if p.MaxPolls > 0 && polls >= p.MaxPolls {
			return false, polls
		}
		if p.Timeout > 0 && time.Since(start) >= p.Timeout {
			return false, polls
		}
		runtime.Gosched()
	}
}
