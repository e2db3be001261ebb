package player

import (
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/realSUDO/Auralia/internal/sys"
)

// Watchdog arms a single timer while a room's voice channel has no human
// listeners. It is owned by one room and is not safe for concurrent use;
// the fire callback runs on the timer goroutine and only receives the
// generation it was armed with.
type Watchdog struct {
	guildID snowflake.ID
	clock   Clock
	timeout time.Duration
	fire    func(gen uint64)

	timer Timer
	gen   uint64
	armed bool
}

func newWatchdog(guildID snowflake.ID, clock Clock, timeout time.Duration, fire func(gen uint64)) *Watchdog {
	return &Watchdog{guildID: guildID, clock: clock, timeout: timeout, fire: fire}
}

// Observe recomputes the armed state from the number of humans present.
// The countdown starts when the channel becomes empty and keeps running
// through further empty observations.
func (w *Watchdog) Observe(humans int) {
	if humans > 0 {
		if w.armed {
			w.cancel()
			sys.LogWatchdog(sys.MsgWatchdogCancelled, w.guildID)
		}
		return
	}
	if w.armed {
		return
	}

	w.gen++
	gen := w.gen
	w.armed = true
	w.timer = w.clock.AfterFunc(w.timeout, func() { w.fire(gen) })
	sys.LogWatchdog(sys.MsgWatchdogArmed, w.guildID, w.timeout)
}

// Current reports whether gen belongs to the timer that is still armed.
func (w *Watchdog) Current(gen uint64) bool {
	return w.armed && gen == w.gen
}

func (w *Watchdog) Armed() bool { return w.armed }

// Stop disarms the watchdog.
func (w *Watchdog) Stop() {
	w.cancel()
}

func (w *Watchdog) cancel() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if w.armed {
		w.gen++
	}
	w.armed = false
}
