// Package voice adapts disgo voice connections, caches and REST to the
// player's ports.
package voice

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/disgoorg/disgo/voice"
	"github.com/realSUDO/Auralia/internal/player"
)

// silenceAfter is how long ProvideOpusFrame waits for a frame before
// answering with silence.
const silenceAfter = 100 * time.Millisecond

var _ voice.OpusFrameProvider = (*Provider)(nil)

type frameResult struct {
	frame []byte
	err   error
}

// Provider feeds one stream's Opus frames to a disgo voice connection. A
// pump goroutine reads ahead so ProvideOpusFrame never blocks the sender.
type Provider struct {
	stream player.Stream
	onEnd  func(error)
	frames chan frameResult

	mu      sync.Mutex
	paused  bool
	stopped bool
	ended   bool

	stop chan struct{}
	once sync.Once
}

// NewProvider starts pumping s. onEnd runs exactly once when the stream
// finishes, unless the provider is stopped first.
func NewProvider(s player.Stream, onEnd func(error)) *Provider {
	p := &Provider{
		stream: s,
		onEnd:  onEnd,
		frames: make(chan frameResult, 10),
		stop:   make(chan struct{}),
	}
	go p.pump()
	return p
}

func (p *Provider) pump() {
	for {
		f, err := p.stream.ReadFrame()
		if err == nil && len(f) == 0 {
			continue
		}
		select {
		case p.frames <- frameResult{f, err}:
		case <-p.stop:
			return
		}
		if err != nil {
			return
		}
	}
}

// ProvideOpusFrame implements voice.OpusFrameProvider.
func (p *Provider) ProvideOpusFrame() ([]byte, error) {
	p.mu.Lock()
	idle := p.paused || p.stopped || p.ended
	p.mu.Unlock()
	if idle {
		return nil, nil
	}

	select {
	case r := <-p.frames:
		if r.err != nil {
			p.finish(r.err)
			return nil, nil
		}
		return r.frame, nil
	case <-p.stop:
		return nil, nil
	case <-time.After(silenceAfter):
		return nil, nil
	}
}

func (p *Provider) finish(err error) {
	p.mu.Lock()
	if p.ended || p.stopped {
		p.mu.Unlock()
		return
	}
	p.ended = true
	p.mu.Unlock()

	if errors.Is(err, io.EOF) {
		err = nil
	}
	if p.onEnd != nil {
		p.onEnd(err)
	}
}

func (p *Provider) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
}

func (p *Provider) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
}

// Stop silences the provider without reporting an end. The stream itself
// belongs to the caller.
func (p *Provider) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.once.Do(func() { close(p.stop) })
}

// Close implements voice.OpusFrameProvider.
func (p *Provider) Close() {
	p.Stop()
}
