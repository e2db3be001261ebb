package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/errgroup"

	"github.com/realSUDO/Auralia/internal/player"
	"github.com/realSUDO/Auralia/internal/sys"
)

const (
	spotifyTokenURL  = "https://accounts.spotify.com/api/token"
	spotifyAPI       = "https://api.spotify.com/v1"
	MaxSpotifyTracks = 100
	matchWorkers     = 4
)

var spotifyURL = regexp.MustCompile(`^(?:https?://)?open\.spotify\.com/(?:intl-[a-zA-Z-]+/)?(track|album|playlist)/([a-zA-Z0-9]+)`)

// ParseSpotifyURL extracts the resource type and id from a share link.
func ParseSpotifyURL(raw string) (kind, id string, ok bool) {
	m := spotifyURL.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// SpotifyTrack is the metadata used to find a track on YouTube.
type SpotifyTrack struct {
	Name     string
	Artist   string
	Duration time.Duration
}

func (t SpotifyTrack) Query() string {
	if t.Artist == "" {
		return t.Name
	}
	return t.Name + " " + t.Artist
}

// Spotify reads public catalogue data with the client credentials flow.
// Tokens are fetched and refreshed by the oauth2 transport.
type Spotify struct {
	http *http.Client
	api  string
}

func NewSpotify(ctx context.Context, clientID, clientSecret string) *Spotify {
	return newSpotify(ctx, clientID, clientSecret, spotifyTokenURL, spotifyAPI)
}

func newSpotify(ctx context.Context, clientID, clientSecret, tokenURL, api string) *Spotify {
	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}
	return &Spotify{http: cfg.Client(ctx), api: strings.TrimRight(api, "/")}
}

type spotifyArtist struct {
	Name string `json:"name"`
}

type spotifyTrack struct {
	Name       string          `json:"name"`
	Artists    []spotifyArtist `json:"artists"`
	DurationMS int64           `json:"duration_ms"`
}

func (t spotifyTrack) convert() SpotifyTrack {
	st := SpotifyTrack{Name: t.Name, Duration: time.Duration(t.DurationMS) * time.Millisecond}
	if len(t.Artists) > 0 {
		st.Artist = t.Artists[0].Name
	}
	return st
}

type spotifyPage[T any] struct {
	Items []T    `json:"items"`
	Next  string `json:"next"`
}

type playlistItem struct {
	Track *spotifyTrack `json:"track"`
}

// Tracks lists the tracks behind a share link along with the album or
// playlist name. At most MaxSpotifyTracks are returned.
func (s *Spotify) Tracks(ctx context.Context, link string) (string, []SpotifyTrack, error) {
	kind, id, ok := ParseSpotifyURL(link)
	if !ok {
		return "", nil, fmt.Errorf("invalid spotify url %q", link)
	}

	switch kind {
	case "track":
		var t spotifyTrack
		if err := s.get(ctx, s.api+"/tracks/"+id, &t); err != nil {
			return "", nil, err
		}
		st := t.convert()
		return st.Name, []SpotifyTrack{st}, nil

	case "album":
		var album struct {
			Name   string                   `json:"name"`
			Tracks spotifyPage[spotifyTrack] `json:"tracks"`
		}
		if err := s.get(ctx, s.api+"/albums/"+id, &album); err != nil {
			return "", nil, err
		}
		tracks, err := collectPages(ctx, s, album.Tracks, func(t spotifyTrack) (SpotifyTrack, bool) {
			return t.convert(), t.Name != ""
		})
		return album.Name, tracks, err

	default:
		var pl struct {
			Name   string                    `json:"name"`
			Tracks spotifyPage[playlistItem] `json:"tracks"`
		}
		if err := s.get(ctx, s.api+"/playlists/"+id, &pl); err != nil {
			return "", nil, err
		}
		// Removed and local tracks come back without a track object.
		tracks, err := collectPages(ctx, s, pl.Tracks, func(it playlistItem) (SpotifyTrack, bool) {
			if it.Track == nil || it.Track.Name == "" {
				return SpotifyTrack{}, false
			}
			return it.Track.convert(), true
		})
		return pl.Name, tracks, err
	}
}

func collectPages[T any](ctx context.Context, s *Spotify, page spotifyPage[T], conv func(T) (SpotifyTrack, bool)) ([]SpotifyTrack, error) {
	var out []SpotifyTrack
	for {
		for _, it := range page.Items {
			if t, ok := conv(it); ok {
				out = append(out, t)
				if len(out) == MaxSpotifyTracks {
					return out, nil
				}
			}
		}
		if page.Next == "" {
			return out, nil
		}
		next := page.Next
		page = spotifyPage[T]{}
		if err := s.get(ctx, next, &page); err != nil {
			return out, err
		}
	}
}

func (s *Spotify) get(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("spotify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("spotify: %s returned %s", req.URL.Path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// fromSpotify maps every track of a Spotify link to a YouTube match. Tracks
// without a match are skipped; order is preserved.
func (r *Resolver) fromSpotify(ctx context.Context, link string) (Result, error) {
	if r.spotify == nil {
		return Result{}, ErrSpotifyDisabled
	}
	name, sts, err := r.spotify.Tracks(ctx, link)
	if err != nil {
		sys.LogComponentWarn("discovery", sys.MsgDiscoverySpotifyFail, err)
		if len(sts) == 0 {
			return Result{}, err
		}
	}

	matched := make([]*player.Track, len(sts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(matchWorkers)
	for i, st := range sts {
		g.Go(func() error {
			t, err := r.match(gctx, st)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				sys.LogDebug(sys.MsgDiscoveryNoMatch, st.Query())
				return nil
			}
			matched[i] = &t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{Name: name}
	for _, t := range matched {
		if t != nil {
			res.Tracks = append(res.Tracks, *t)
		}
	}
	if len(res.Tracks) == 0 {
		return Result{}, ErrNoResults
	}
	return res, nil
}
