// Package ytdlp wraps the yt-dlp binary for metadata lookups, searches and
// audio downloads.
package ytdlp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lrstanley/go-ytdlp"
)

// AudioFormat prefers webm/opus so cached files can be decoded without a
// container change.
const AudioFormat = "bestaudio[ext=webm]/bestaudio"

const fieldSep = "\t"

var ErrNoMetadata = errors.New("yt-dlp returned no metadata")

// Entry is one line of yt-dlp output.
type Entry struct {
	URL      string
	Title    string
	Uploader string
	ID       string
	Duration time.Duration
	// Playlist is the title of the playlist the entry was listed from.
	Playlist string
}

// Client builds yt-dlp invocations with shared options.
type Client struct {
	Proxy string

	jsOnce sync.Once
	jsArgs []string
}

func New(proxy string) *Client {
	return &Client{Proxy: proxy}
}

func (c *Client) command() *ytdlp.Command {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig()
	if c.Proxy != "" {
		cmd.Proxy(c.Proxy)
	}
	return cmd
}

// args returns the flags every network invocation needs.
func (c *Client) args(extra ...string) []string {
	c.jsOnce.Do(func() {
		for _, rt := range []string{"node", "deno", "quickjs"} {
			if path, err := exec.LookPath(rt); err == nil {
				c.jsArgs = append(c.jsArgs, "--js-runtimes", rt+":"+path)
				break
			}
		}
	})

	args := append([]string(nil), c.jsArgs...)
	args = append(args,
		"--no-check-certificates",
		"--extractor-args", "youtube:player_client=android,web",
		"--socket-timeout", "30",
		"--retries", "20",
		"--fragment-retries", "20",
	)
	return append(args, extra...)
}

// Probe resolves locator to a direct media URL plus its metadata.
func (c *Client) Probe(ctx context.Context, locator string) (Entry, error) {
	res, err := c.command().
		Print(printTemplate("url", "title", "uploader", "duration", "id")).
		Format(AudioFormat).
		NoPlaylist().
		NoCheckFormats().
		Run(ctx, c.args("--skip-download", locator)...)
	if err != nil {
		return Entry{}, wrap(err, res)
	}

	rows := parseRows(res.Stdout, 5)
	if len(rows) == 0 {
		return Entry{}, ErrNoMetadata
	}
	r := rows[0]
	return Entry{URL: r[0], Title: r[1], Uploader: r[2], Duration: ParseDuration(r[3]), ID: r[4]}, nil
}

// Search runs a YouTube search and returns up to limit flat results.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Entry, error) {
	return c.flat(ctx, fmt.Sprintf("ytsearch%d:%s", limit, query), limit)
}

// SearchMusic is Search against YouTube Music.
func (c *Client) SearchMusic(ctx context.Context, query string, limit int) ([]Entry, error) {
	return c.flat(ctx, fmt.Sprintf("ytmsearch%d:%s", limit, query), limit)
}

// Playlist lists up to limit entries of a playlist URL without resolving
// each one.
func (c *Client) Playlist(ctx context.Context, url string, limit int) ([]Entry, error) {
	return c.flat(ctx, url, limit)
}

func (c *Client) flat(ctx context.Context, target string, limit int) ([]Entry, error) {
	res, err := c.command().
		FlatPlaylist().
		Print(printTemplate("url", "title", "uploader", "duration", "playlist_title")).
		PlaylistItems(fmt.Sprintf("1-%d", limit)).
		PreferFreeFormats().
		Run(ctx, c.args(target)...)
	if err != nil {
		return nil, wrap(err, res)
	}

	rows := parseRows(res.Stdout, 5)
	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, Entry{URL: r[0], Title: r[1], Uploader: r[2], Duration: ParseDuration(r[3]), Playlist: r[4]})
	}
	return entries, nil
}

// Download writes the audio of locator to dest. A partially written file is
// removed when the download fails or ctx is cancelled.
func (c *Client) Download(ctx context.Context, locator, dest string) error {
	res, err := c.command().
		Format(AudioFormat).
		Output(dest).
		NoPart().
		NoPlaylist().
		NoCheckFormats().
		Run(ctx, c.args(locator)...)
	if err != nil {
		_ = os.Remove(dest)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return wrap(err, res)
	}
	return nil
}

// Fetch implements the preloader's fetcher port.
func (c *Client) Fetch(ctx context.Context, locator, dest string) error {
	return c.Download(ctx, locator, dest)
}

// Stream pipes the audio of locator into out until the download finishes,
// ctx is cancelled or the reader side goes away.
func (c *Client) Stream(ctx context.Context, locator string, out io.Writer) error {
	cmd := c.command().
		Format(AudioFormat).
		Output("-").
		NoSimulate().
		NoPart().
		NoPlaylist().
		NoCheckFormats().
		BuildCommand(ctx, c.args(locator)...)

	cmd.Stdout = out
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return err
	}
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := strings.ToLower(stderr.String())
		if strings.Contains(msg, "broken pipe") {
			return nil
		}
		return fmt.Errorf("yt-dlp: %w: %s", err, lastLine(stderr.String()))
	}
	return nil
}

func wrap(err error, res *ytdlp.Result) error {
	if res == nil || strings.TrimSpace(res.Stderr) == "" {
		return fmt.Errorf("yt-dlp: %w", err)
	}
	return fmt.Errorf("yt-dlp: %w: %s", err, lastLine(res.Stderr))
}

func printTemplate(fields ...string) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = "%(" + f + ")s"
	}
	return strings.Join(parts, fieldSep)
}

// parseRows splits tab separated output, skipping lines with fewer than
// want fields.
func parseRows(out string, want int) [][]string {
	var rows [][]string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		ps := strings.Split(strings.TrimRight(line, "\r"), fieldSep)
		if len(ps) < want {
			continue
		}
		for i := range ps {
			if ps[i] == "NA" {
				ps[i] = ""
			}
		}
		rows = append(rows, ps)
	}
	return rows
}

// ParseDuration reads yt-dlp's duration field, which is seconds as an
// integer or float, or "NA".
func ParseDuration(s string) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" || s == "NA" {
		return 0
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
