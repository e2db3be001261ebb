package audio

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/realSUDO/Auralia/internal/player"
	"github.com/realSUDO/Auralia/internal/sys"
	"github.com/realSUDO/Auralia/internal/ytdlp"
)

// Pipeline opens playable streams. Page URLs go through yt-dlp, direct media
// URLs and cached files are handed to FFmpeg as they are.
type Pipeline struct {
	yt *ytdlp.Client
}

func NewPipeline(yt *ytdlp.Client) *Pipeline {
	return &Pipeline{yt: yt}
}

var (
	_ player.Decoder  = (*Pipeline)(nil)
	_ player.Resolver = (*Pipeline)(nil)
)

// Open starts streaming locator from the beginning.
func (p *Pipeline) Open(ctx context.Context, locator string) (player.Stream, error) {
	if IsDirectMedia(locator) {
		return p.openInput(ctx, locator, 0)
	}
	return p.openExtracted(ctx, locator)
}

// OpenFile streams a cached download.
func (p *Pipeline) OpenFile(ctx context.Context, path string) (player.Stream, error) {
	return p.openInput(ctx, path, 0)
}

// ResolveDirect asks yt-dlp for the underlying media URL.
func (p *Pipeline) ResolveDirect(ctx context.Context, locator string) (player.Direct, error) {
	if IsDirectMedia(locator) {
		return player.Direct{URL: locator}, nil
	}
	e, err := p.yt.Probe(ctx, locator)
	if err != nil {
		return player.Direct{}, err
	}
	if e.URL == "" {
		return player.Direct{}, ytdlp.ErrNoMetadata
	}
	return player.Direct{URL: e.URL, Duration: e.Duration}, nil
}

// OpenAt streams a direct media URL starting at offset.
func (p *Pipeline) OpenAt(ctx context.Context, directURL string, offset time.Duration) (player.Stream, error) {
	return p.openInput(ctx, directURL, offset)
}

// Duration probes the container duration of a direct URL or file.
func (p *Pipeline) Duration(locator string) (time.Duration, error) {
	t := newTranscoder()
	defer t.close()
	if err := t.open(locator, nil); err != nil {
		return 0, err
	}
	return t.Duration(), nil
}

func (p *Pipeline) openInput(ctx context.Context, locator string, offset time.Duration) (player.Stream, error) {
	t := newTranscoder()
	if err := t.open(locator, nil); err != nil {
		t.close()
		return nil, err
	}
	if err := t.seek(offset); err != nil {
		t.close()
		return nil, err
	}
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return startStream(sctx, cancel, t, nil, nil), nil
}

// openExtracted pipes yt-dlp's stdout into the transcoder.
func (p *Pipeline) openExtracted(ctx context.Context, locator string) (player.Stream, error) {
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	pr, pw := io.Pipe()
	var (
		mu     sync.Mutex
		ytErr  error
		ytDone = make(chan struct{})
	)
	go func() {
		defer close(ytDone)
		err := p.yt.Stream(sctx, locator, pw)
		mu.Lock()
		ytErr = err
		mu.Unlock()
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		_ = pw.Close()
	}()
	source := func() error {
		<-ytDone
		mu.Lock()
		defer mu.Unlock()
		return ytErr
	}

	t := newTranscoder()
	if err := t.open("", pr); err != nil {
		t.close()
		cancel()
		_ = pr.Close()
		// A yt-dlp failure explains the probe error far better.
		if srcErr := source(); srcErr != nil && !errors.Is(srcErr, context.Canceled) {
			return nil, srcErr
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	sys.LogDebug("[audio] streaming %s via yt-dlp", locator)
	return startStream(sctx, cancel, t, pr, source), nil
}

// IsDirectMedia reports whether locator points at a media file FFmpeg can
// read without extraction, such as a Discord attachment.
func IsDirectMedia(locator string) bool {
	u, err := url.Parse(locator)
	if err != nil || u.Host == "" {
		return !strings.Contains(locator, "://")
	}
	host := strings.ToLower(u.Hostname())
	if host == "cdn.discordapp.com" || host == "media.discordapp.net" {
		return true
	}
	path := strings.ToLower(u.Path)
	for _, ext := range []string{".mp3", ".flac", ".wav", ".ogg", ".opus", ".m4a", ".webm"} {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}
