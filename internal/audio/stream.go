package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/realSUDO/Auralia/internal/player"
)

// frameBuffer is how many encoded frames may run ahead of playback (2s).
const frameBuffer = 100

// Stream is a running transcode. Frames are produced by a background
// goroutine and consumed through ReadFrame.
type Stream struct {
	frames chan []byte
	cancel context.CancelFunc
	done   chan struct{}

	// source reports the outcome of whatever feeds the transcoder, such as
	// a yt-dlp process. It may be nil.
	source func() error
	closer io.Closer

	err       error
	closeOnce sync.Once
}

func startStream(ctx context.Context, cancel context.CancelFunc, t *transcoder, closer io.Closer, source func() error) *Stream {
	s := &Stream{
		frames: make(chan []byte, frameBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
		source: source,
		closer: closer,
	}
	go s.pump(ctx, t)
	return s
}

func (s *Stream) pump(ctx context.Context, t *transcoder) {
	defer close(s.done)
	defer close(s.frames)
	defer t.close()

	emitted := false
	err := t.run(ctx, func(f []byte) bool {
		select {
		case s.frames <- f:
			emitted = true
			return true
		case <-ctx.Done():
			return false
		}
	})

	switch {
	case ctx.Err() != nil:
		s.err = io.EOF
	case err != nil:
		s.err = err
	case s.source != nil:
		if srcErr := s.source(); srcErr != nil {
			if emitted {
				s.err = fmt.Errorf("%w: %v", player.ErrPrematureClose, srcErr)
			} else {
				s.err = srcErr
			}
		}
	}
}

// ReadFrame returns the next 20ms Opus frame. It blocks until one is
// available and returns io.EOF once the input is exhausted.
func (s *Stream) ReadFrame() ([]byte, error) {
	if f, ok := <-s.frames; ok {
		return f, nil
	}
	<-s.done
	if s.err != nil && !errors.Is(s.err, io.EOF) {
		return nil, s.err
	}
	return nil, io.EOF
}

// Close stops the transcode. It does not wait for the background goroutine,
// which releases FFmpeg resources on its own.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.closer != nil {
			_ = s.closer.Close()
		}
	})
	return nil
}
