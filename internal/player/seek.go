package player

import "time"

// position tracks playback progress as offset + (now - anchor). The anchor
// is cleared while paused so elapsed time stays frozen.
type position struct {
	anchor time.Time
	offset time.Duration
}

// start begins counting from offset at now.
func (p *position) start(now time.Time, offset time.Duration) {
	p.offset = offset
	p.anchor = now
}

func (p position) elapsed(now time.Time) time.Duration {
	if p.anchor.IsZero() {
		return p.offset
	}
	return p.offset + now.Sub(p.anchor)
}

func (p *position) freeze(now time.Time) {
	if p.anchor.IsZero() {
		return
	}
	p.offset = p.elapsed(now)
	p.anchor = time.Time{}
}

func (p *position) thaw(now time.Time) {
	if !p.anchor.IsZero() {
		return
	}
	p.anchor = now
}

func (p *position) reset() {
	*p = position{}
}

// clampSeek bounds a seek target to [0, duration].
func clampSeek(target, duration time.Duration) time.Duration {
	if target < 0 {
		return 0
	}
	if duration > 0 && target > duration {
		return duration
	}
	return target
}
