// Package audio turns remote or cached media into 20ms Opus frames using
// FFmpeg through go-astiav.
package audio

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/asticode/go-astiav"
)

const (
	SampleRate  = 48000
	Channels    = 2
	FrameSize   = 960 // samples per channel in 20ms
	FrameLength = 20 * time.Millisecond
	bitRate     = 192000
)

var (
	ErrNoAudio   = errors.New("no audio stream in input")
	ErrNoDecoder = errors.New("no decoder for input codec")
	ErrNoEncoder = errors.New("libopus encoder not available")
)

func init() {
	astiav.SetLogLevel(astiav.LogLevelFatal)
}

// transcoder decodes one input, resamples it to 48kHz stereo s16 and encodes
// Opus packets. It is not safe for concurrent use.
type transcoder struct {
	input       *astiav.FormatContext
	decoder     *astiav.CodecContext
	encoder     *astiav.CodecContext
	streamIndex int

	packet    *astiav.Packet
	frame     *astiav.Frame
	resampled *astiav.Frame
	resampler *astiav.SoftwareResampleContext
	fifo      *astiav.AudioFifo

	reader io.Reader
	pts    int64
	emit   func([]byte) bool
}

func newTranscoder() *transcoder {
	return &transcoder{
		packet:    astiav.AllocPacket(),
		frame:     astiav.AllocFrame(),
		resampled: astiav.AllocFrame(),
	}
}

// open prepares the input. Exactly one of locator and r is used: r when it
// is non-nil, otherwise locator as a file path or URL.
func (t *transcoder) open(locator string, r io.Reader) error {
	t.input = astiav.AllocFormatContext()
	if t.input == nil {
		return errors.New("failed to alloc format context")
	}

	if r != nil {
		t.reader = r
		ioCtx, err := astiav.AllocIOContext(16*1024, false, func(b []byte) (int, error) {
			return t.reader.Read(b)
		}, func(offset int64, whence int) (int64, error) {
			return 0, errors.New("seek not supported")
		}, nil)
		if err != nil {
			return err
		}
		t.input.SetPb(ioCtx)
		t.input.SetFlags(t.input.Flags().Add(astiav.FormatContextFlagCustomIo))

		opts := astiav.NewDictionary()
		defer opts.Free()
		opts.Set("probesize", "10000000", 0)
		opts.Set("analyzeduration", "10000000", 0)
		if err := t.input.OpenInput("", nil, opts); err != nil {
			return err
		}
	} else {
		var opts *astiav.Dictionary
		if strings.HasPrefix(locator, "http") {
			opts = astiav.NewDictionary()
			defer opts.Free()
			opts.Set("reconnect", "1", 0)
			opts.Set("reconnect_at_eof", "1", 0)
			opts.Set("reconnect_streamed", "1", 0)
			opts.Set("reconnect_delay_max", "30", 0)
			opts.Set("timeout", "30000000", 0)
		}
		if err := t.input.OpenInput(locator, nil, opts); err != nil {
			return err
		}
	}

	if err := t.input.FindStreamInfo(nil); err != nil {
		return err
	}
	t.streamIndex = -1
	for _, s := range t.input.Streams() {
		if s.CodecParameters().MediaType() == astiav.MediaTypeAudio {
			t.streamIndex = s.Index()
			break
		}
	}
	if t.streamIndex == -1 {
		return ErrNoAudio
	}

	if err := t.setupDecoder(); err != nil {
		return err
	}
	return t.setupEncoder()
}

// Duration reports the container duration, or 0 when unknown.
func (t *transcoder) Duration() time.Duration {
	if t.input == nil || t.input.Duration() <= 0 {
		return 0
	}
	return time.Duration(t.input.Duration()) * time.Microsecond
}

func (t *transcoder) setupDecoder() error {
	p := t.input.Streams()[t.streamIndex].CodecParameters()
	d := astiav.FindDecoder(p.CodecID())
	if d == nil {
		return ErrNoDecoder
	}
	t.decoder = astiav.AllocCodecContext(d)
	if err := p.ToCodecContext(t.decoder); err != nil {
		return err
	}
	return t.decoder.Open(d, nil)
}

func (t *transcoder) setupEncoder() error {
	e := astiav.FindEncoderByName("libopus")
	if e == nil {
		e = astiav.FindEncoder(astiav.CodecIDOpus)
	}
	if e == nil {
		return ErrNoEncoder
	}
	t.encoder = astiav.AllocCodecContext(e)
	t.encoder.SetBitRate(bitRate)
	t.encoder.SetSampleRate(SampleRate)
	t.encoder.SetChannelLayout(astiav.ChannelLayoutStereo)
	t.encoder.SetSampleFormat(astiav.SampleFormatS16)
	t.encoder.SetTimeBase(astiav.NewRational(1, SampleRate))

	o := astiav.NewDictionary()
	defer o.Free()
	o.Set("vbr", "on", 0)
	o.Set("compression_level", "10", 0)
	o.Set("frame_size", "20", 0)
	if err := t.encoder.Open(e, o); err != nil {
		return err
	}

	// Configured lazily by ConvertFrame from the first decoded frame.
	t.resampler = astiav.AllocSoftwareResampleContext()
	if t.resampler == nil {
		return errors.New("failed to allocate resampler")
	}
	return nil
}

// seek positions the input at offset before the first read.
func (t *transcoder) seek(offset time.Duration) error {
	if offset <= 0 {
		return nil
	}
	tb := t.input.Streams()[t.streamIndex].TimeBase()
	ts := astiav.RescaleQ(offset.Microseconds(), astiav.NewRational(1, 1000000), tb)
	if err := t.input.SeekFrame(t.streamIndex, ts, astiav.SeekFlags(astiav.SeekFlagBackward)); err != nil {
		return err
	}
	t.pts = int64(offset.Seconds() * SampleRate)
	return nil
}

// run transcodes until the input ends, ctx is cancelled or emit returns
// false. Every encoded packet is handed to emit as a fresh slice.
func (t *transcoder) run(ctx context.Context, emit func([]byte) bool) error {
	t.emit = emit
	defer t.packet.Unref()

	t.fifo = astiav.AllocAudioFifo(t.encoder.SampleFormat(), t.encoder.ChannelLayout().Channels(), FrameSize*2)
	defer func() {
		t.fifo.Free()
		t.fifo = nil
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if t.emit == nil {
			return context.Canceled
		}

		if err := t.input.ReadFrame(t.packet); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				break
			}
			return err
		}
		if t.packet.StreamIndex() != t.streamIndex {
			t.packet.Unref()
			continue
		}
		if err := t.decoder.SendPacket(t.packet); err != nil {
			t.packet.Unref()
			return err
		}
		t.packet.Unref()
		t.drainDecoder()

		for t.fifo.Size() >= FrameSize {
			t.encodeFromFifo(FrameSize)
		}
	}

	// Flush the decoder, then the fifo remainder, then the encoder.
	_ = t.decoder.SendPacket(nil)
	t.drainDecoder()
	for t.fifo.Size() > 0 {
		n := FrameSize
		if t.fifo.Size() < n {
			n = t.fifo.Size()
		}
		t.encodeFromFifo(n)
	}
	_ = t.encoder.SendFrame(nil)
	t.receivePackets()
	return nil
}

func (t *transcoder) drainDecoder() {
	for {
		if err := t.decoder.ReceiveFrame(t.frame); err != nil {
			return
		}
		t.prepareResampled(0)
		nb := int(astiav.RescaleQ(int64(t.frame.NbSamples()), astiav.NewRational(1, t.frame.SampleRate()), astiav.NewRational(1, SampleRate)))
		if nb > 0 {
			t.resampled.SetNbSamples(nb)
			_ = t.resampled.AllocBuffer(0)
			if t.resampler.ConvertFrame(t.frame, t.resampled) == nil {
				_, _ = t.fifo.Write(t.resampled)
			}
		}
		t.frame.Unref()
	}
}

func (t *transcoder) prepareResampled(nb int) {
	t.resampled.Unref()
	t.resampled.SetChannelLayout(t.encoder.ChannelLayout())
	t.resampled.SetSampleFormat(t.encoder.SampleFormat())
	t.resampled.SetSampleRate(t.encoder.SampleRate())
	if nb > 0 {
		t.resampled.SetNbSamples(nb)
	}
}

func (t *transcoder) encodeFromFifo(n int) {
	t.prepareResampled(n)
	_ = t.resampled.AllocBuffer(0)
	_, _ = t.fifo.Read(t.resampled)
	t.resampled.SetPts(t.pts)
	t.pts += int64(n)
	if err := t.encoder.SendFrame(t.resampled); err != nil {
		return
	}
	t.receivePackets()
}

func (t *transcoder) receivePackets() {
	for {
		p := astiav.AllocPacket()
		if t.encoder.ReceivePacket(p) != nil {
			p.Free()
			return
		}
		if t.emit != nil {
			d := p.Data()
			fd := make([]byte, len(d))
			copy(fd, d)
			if !t.emit(fd) {
				t.emit = nil
			}
		}
		p.Free()
	}
}

func (t *transcoder) close() {
	if t.resampler != nil {
		t.resampler.Free()
	}
	if t.resampled != nil {
		t.resampled.Free()
	}
	if t.packet != nil {
		t.packet.Free()
	}
	if t.frame != nil {
		t.frame.Free()
	}
	if t.decoder != nil {
		t.decoder.Free()
	}
	if t.encoder != nil {
		t.encoder.Free()
	}
	if t.input != nil {
		t.input.CloseInput()
		t.input.Free()
	}
}
