package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/tcolgate/mp3"

	"github.com/realSUDO/Auralia/internal/player"
	"github.com/realSUDO/Auralia/internal/sys"
)

// MaxAttachmentSize bounds how much of an attachment is downloaded for
// probing.
const MaxAttachmentSize = 100 << 20

var audioExts = map[string]bool{
	".mp3":  true,
	".flac": true,
	".wav":  true,
	".ogg":  true,
	".opus": true,
	".m4a":  true,
}

// Attachment is an uploaded file on a message.
type Attachment struct {
	URL         string
	Filename    string
	ContentType string
	Size        int
}

// IsAudio reports whether the attachment looks playable.
func (a Attachment) IsAudio() bool {
	if audioExts[strings.ToLower(filepath.Ext(a.Filename))] {
		return true
	}
	return strings.HasPrefix(a.ContentType, "audio/")
}

// Attachment builds a track for an uploaded audio file. Title and artist
// come from the file's tags, falling back to the file name.
func (r *Resolver) Attachment(ctx context.Context, a Attachment, req player.Requester) (player.Track, error) {
	if !a.IsAudio() {
		return player.Track{}, ErrUnsupportedMedia
	}
	if a.Size > MaxAttachmentSize {
		return player.Track{}, ErrAttachmentTooLarge
	}

	t := player.Track{Title: stem(a.Filename), URL: a.URL, Requester: req}

	path, err := r.download(ctx, a)
	if err != nil {
		return player.Track{}, err
	}
	defer os.Remove(path)

	if title, ok := readTags(path); ok {
		t.Title = title
	}

	d, err := fileDuration(path)
	if err != nil && r.probe != nil {
		d, err = r.probe(a.URL)
	}
	if err == nil {
		t.Duration = d
	}

	sys.LogDiscovery(sys.MsgDiscoveryAttachment, a.Filename, sys.FormatClock(t.Duration))
	return t, nil
}

func (r *Resolver) download(ctx context.Context, a Attachment) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch attachment: %s", resp.Status)
	}

	f, err := os.CreateTemp("", "auralia-*"+strings.ToLower(filepath.Ext(a.Filename)))
	if err != nil {
		return "", err
	}
	n, err := io.Copy(f, io.LimitReader(resp.Body, MaxAttachmentSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > MaxAttachmentSize {
		err = ErrAttachmentTooLarge
	}
	if err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func readTags(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil || m.Title() == "" {
		return "", false
	}
	if m.Artist() != "" {
		return m.Artist() + " - " + m.Title(), true
	}
	return m.Title(), true
}

func stem(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

var errUnknownFormat = errors.New("no duration reader for format")

// fileDuration reads the duration from the container headers of formats
// that have a pure Go reader.
func fileDuration(path string) (time.Duration, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return mp3Duration(path)
	case ".flac":
		return flacDuration(path)
	case ".wav":
		return wavDuration(path)
	default:
		return 0, errUnknownFormat
	}
}

func mp3Duration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := mp3.NewDecoder(f)
	var (
		total   time.Duration
		frame   mp3.Frame
		skipped int
		frames  int
	)
	for {
		if err := dec.Decode(&frame, &skipped); err != nil {
			if frames == 0 && !errors.Is(err, io.EOF) {
				return 0, err
			}
			break
		}
		total += frame.Duration()
		frames++
	}
	if frames == 0 {
		return 0, errors.New("mp3: no frames")
	}
	return total, nil
}

func flacDuration(path string) (time.Duration, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return 0, err
	}
	defer stream.Close()

	si := stream.Info
	if si.NSamples == 0 || si.SampleRate == 0 {
		return 0, errors.New("flac: missing sample info")
	}
	return time.Duration(float64(si.NSamples) / float64(si.SampleRate) * float64(time.Second)), nil
}

func wavDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, errors.New("wav: invalid file")
	}
	frameSize := int64(dec.BitDepth/8) * int64(dec.NumChans)
	if dec.SampleRate == 0 || frameSize <= 0 {
		return 0, errors.New("wav: invalid header")
	}
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	const headerSize = 44
	pcm := max(st.Size()-headerSize, 0)
	secs := float64(pcm/frameSize) / float64(dec.SampleRate)
	return time.Duration(secs * float64(time.Second)), nil
}
