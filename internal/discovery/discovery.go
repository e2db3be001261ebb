// Package discovery turns user queries, links and attachments into queue
// tracks.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/realSUDO/Auralia/internal/player"
	"github.com/realSUDO/Auralia/internal/sys"
	"github.com/realSUDO/Auralia/internal/ytdlp"
)

const (
	MaxPlaylistTracks = 200
	fallbackResults   = 5
	searchTimeout     = 10 * time.Second
)

var (
	ErrNoResults          = errors.New("no results")
	ErrSpotifyDisabled    = errors.New("spotify is not configured")
	ErrUnsupportedMedia   = errors.New("unsupported attachment")
	ErrAttachmentTooLarge = errors.New("attachment too large")
)

type Kind int

const (
	KindSearch Kind = iota
	KindVideo
	KindPlaylist
	KindSpotify
	KindURL
	KindAttachment
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindPlaylist:
		return "playlist"
	case KindSpotify:
		return "spotify"
	case KindURL:
		return "url"
	case KindAttachment:
		return "attachment"
	default:
		return "search"
	}
}

var youtubeURL = regexp.MustCompile(`(?i)^(https?://)?(www\.|m\.|music\.)?(youtube\.com|youtu\.be)/.+$`)

// Classify decides how a query is resolved.
func Classify(query string) Kind {
	q := strings.TrimSpace(query)
	switch {
	case youtubeURL.MatchString(q):
		if isPlaylist(q) {
			return KindPlaylist
		}
		return KindVideo
	case spotifyURL.MatchString(q):
		return KindSpotify
	case strings.HasPrefix(q, "http://") || strings.HasPrefix(q, "https://"):
		return KindURL
	default:
		return KindSearch
	}
}

// isPlaylist reports whether a YouTube link carries a list parameter. A
// watch link inside a playlist is treated as the playlist.
func isPlaylist(raw string) bool {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Query().Has("list")
}

// Extractor is the yt-dlp surface discovery needs.
type Extractor interface {
	Probe(ctx context.Context, locator string) (ytdlp.Entry, error)
	Playlist(ctx context.Context, url string, limit int) ([]ytdlp.Entry, error)
	Search(ctx context.Context, query string, limit int) ([]ytdlp.Entry, error)
}

// DurationFunc probes the duration of a media locator.
type DurationFunc func(locator string) (time.Duration, error)

// Result is what a query resolved to.
type Result struct {
	Kind Kind
	// Name is the playlist or album name, or the single track's title.
	Name   string
	Tracks []player.Track
}

type Options struct {
	Spotify    *Spotify
	Probe      DurationFunc
	HTTPClient *http.Client
}

// Resolver resolves queries into tracks.
type Resolver struct {
	yt      Extractor
	spotify *Spotify
	probe   DurationFunc
	http    *http.Client

	youtube SearchFunc
	music   SearchFunc
}

func New(yt Extractor, opts Options) *Resolver {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Resolver{
		yt:      yt,
		spotify: opts.Spotify,
		probe:   opts.Probe,
		http:    hc,
		youtube: SearchYouTube,
		music:   SearchMusic,
	}
}

// Resolve turns a query into tracks attributed to req.
func (r *Resolver) Resolve(ctx context.Context, query string, req player.Requester) (Result, error) {
	query = strings.TrimSpace(query)
	kind := Classify(query)

	var (
		res Result
		err error
	)
	switch kind {
	case KindVideo, KindURL:
		res, err = r.single(ctx, query)
	case KindPlaylist:
		res, err = r.playlist(ctx, query)
	case KindSpotify:
		res, err = r.fromSpotify(ctx, query)
	default:
		res, err = r.search(ctx, query)
	}
	if err != nil {
		sys.LogComponentWarn("discovery", sys.MsgDiscoveryResolveFail, query, err)
		return Result{Kind: kind}, err
	}

	res.Kind = kind
	for i := range res.Tracks {
		res.Tracks[i].Requester = req
	}
	return res, nil
}

func (r *Resolver) single(ctx context.Context, locator string) (Result, error) {
	e, err := r.yt.Probe(ctx, locator)
	if err != nil {
		return Result{}, err
	}
	title := e.Title
	if title == "" {
		title = locator
	}
	t := player.Track{Title: title, URL: locator, Duration: e.Duration}
	return Result{Name: title, Tracks: []player.Track{t}}, nil
}

func (r *Resolver) playlist(ctx context.Context, url string) (Result, error) {
	entries, err := r.yt.Playlist(ctx, url, MaxPlaylistTracks)
	if err != nil {
		return Result{}, err
	}

	res := Result{Name: "playlist"}
	for _, e := range entries {
		if e.URL == "" {
			continue
		}
		if e.Playlist != "" {
			res.Name = e.Playlist
		}
		title := e.Title
		if title == "" {
			title = e.URL
		}
		res.Tracks = append(res.Tracks, player.Track{Title: title, URL: e.URL, Duration: e.Duration})
	}
	if len(res.Tracks) == 0 {
		return Result{}, ErrNoResults
	}
	sys.LogDiscovery(sys.MsgDiscoveryPlaylist, len(res.Tracks), res.Name)
	return res, nil
}

func (r *Resolver) search(ctx context.Context, query string) (Result, error) {
	sys.LogDiscovery(sys.MsgDiscoverySearch, query)
	t, err := r.first(ctx, query)
	if err != nil {
		return Result{}, err
	}
	return Result{Name: t.Title, Tracks: []player.Track{t}}, nil
}

// first returns the best playable YouTube match for query. yt-dlp is used
// when the scraper finds nothing.
func (r *Resolver) first(ctx context.Context, query string) (player.Track, error) {
	sctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	hits, err := r.youtube(sctx, query)
	if err == nil {
		for _, h := range hits {
			if h.URL != "" {
				return h.Track(), nil
			}
		}
		err = ErrNoResults
	}
	if ctx.Err() != nil {
		return player.Track{}, ctx.Err()
	}
	sys.LogComponentWarn("discovery", sys.MsgDiscoveryFallback, query, err)

	entries, err := r.yt.Search(ctx, query, fallbackResults)
	if err != nil {
		return player.Track{}, err
	}
	for _, e := range entries {
		// Live streams and premieres report no duration.
		if e.URL == "" || e.Duration <= 0 {
			continue
		}
		return player.Track{Title: e.Title, URL: e.URL, Duration: e.Duration}, nil
	}
	return player.Track{}, ErrNoResults
}

// match finds a YouTube Music track for a Spotify entry, falling back to a
// regular search.
func (r *Resolver) match(ctx context.Context, st SpotifyTrack) (player.Track, error) {
	mctx, cancel := context.WithTimeout(ctx, searchTimeout)
	hits, err := r.music(mctx, st.Query())
	cancel()
	if err == nil {
		for _, h := range hits {
			if h.URL == "" {
				continue
			}
			t := h.Track()
			if t.Duration == 0 {
				t.Duration = st.Duration
			}
			return t, nil
		}
	}
	t, err := r.first(ctx, st.Query())
	if err != nil {
		return player.Track{}, fmt.Errorf("%s: %w", st.Query(), err)
	}
	return t, nil
}
