package fiu

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/soypat/fiu/regs"
)

// WaitReady waits for the pending UMA transaction to complete. A zero timeout
// polls the done flag without bound; otherwise the flag is sampled
// timeout/PollPeriod times before ErrTimeout is returned.
func (d *Device) WaitReady(timeout time.Duration) error {
	d.lock()
	defer d.unlock()
	return d.waitReady(timeout)
}

func (d *Device) waitReady(timeout time.Duration) error {
	if timeout == 0 {
		for d.busy() {
			runtime.Gosched()
		}
		return nil
	}
	n := int(timeout / d.pollPeriod)
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		if !d.busy() {
			return nil
		}
		time.Sleep(d.pollPeriod)
	}
	if !d.busy() {
		return nil
	}
	d.warn("WaitReady:timeout", slog.Duration("timeout", timeout), slog.Int("polls", n))
	return ErrTimeout
}

func (d *Device) busy() bool {
	return d.regs.ReadField(regs.CTS_EXEC_DONE) != 0
}
