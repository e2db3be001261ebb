package discovery

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"

	"github.com/realSUDO/Auralia/internal/player"
	"github.com/realSUDO/Auralia/internal/sys"
)

const (
	YouTubePrefix  = "[YT]"
	MusicPrefix    = "[YTM]"
	maxSuggestions = 25
	suggestTimeout = 2300 * time.Millisecond
	choiceMaxLen   = 100
)

// Hit is one search result.
type Hit struct {
	ID     string
	Title  string
	Artist string
	URL    string
}

// Track converts the hit into a queue entry.
func (h Hit) Track() player.Track {
	title := h.Title
	if h.Artist != "" {
		title += " - " + h.Artist
	}
	return player.Track{Title: title, URL: h.URL}
}

// SearchFunc queries one search backend.
type SearchFunc func(ctx context.Context, query string) ([]Hit, error)

// SearchYouTube scrapes YouTube search results.
func SearchYouTube(ctx context.Context, query string) ([]Hit, error) {
	c := ytsearch.NewClient(nil)
	r, err := c.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(r.Results))
	for _, v := range r.Results {
		if v.VideoID == "" {
			continue
		}
		hits = append(hits, Hit{
			ID:    v.VideoID,
			Title: v.Title,
			URL:   "https://www.youtube.com/watch?v=" + v.VideoID,
		})
	}
	return hits, nil
}

// SearchMusic queries YouTube Music for songs. The client has no context
// support, so an abandoned lookup finishes in the background.
func SearchMusic(ctx context.Context, query string) ([]Hit, error) {
	type outcome struct {
		hits []Hit
		err  error
	}
	ch := make(chan outcome, 1)
	go func() {
		r, err := ytmusic.TrackSearch(query).Next()
		if err != nil {
			ch <- outcome{err: err}
			return
		}
		var hits []Hit
		for _, v := range r.Tracks {
			if v.VideoID == "" {
				continue
			}
			h := Hit{
				ID:    v.VideoID,
				Title: v.Title,
				URL:   "https://music.youtube.com/watch?v=" + v.VideoID,
			}
			if len(v.Artists) > 0 {
				h.Artist = v.Artists[0].Name
			}
			hits = append(hits, h)
		}
		ch <- outcome{hits: hits}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case o := <-ch:
		return o.hits, o.err
	}
}

// Suggestion is an autocomplete choice.
type Suggestion struct {
	Name  string
	Value string
}

// Suggest merges YouTube Music and YouTube results for autocomplete. Music
// results come first unless the query starts with the YouTube prefix.
// Whatever arrived before the deadline is returned.
func (r *Resolver) Suggest(ctx context.Context, q string) []Suggestion {
	q = strings.TrimSpace(q)
	youtubeFirst := false
	switch {
	case sys.HasPrefixFold(q, YouTubePrefix):
		youtubeFirst, q = true, strings.TrimSpace(q[len(YouTubePrefix):])
	case sys.HasPrefixFold(q, MusicPrefix):
		q = strings.TrimSpace(q[len(MusicPrefix):])
	}
	if q == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, suggestTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		seen    = make(map[string]bool)
		ytm, yt []Suggestion
		wg      sync.WaitGroup
	)
	collect := func(search SearchFunc, prefix string, into *[]Suggestion) {
		defer wg.Done()
		hits, err := search(ctx, q)
		if err != nil {
			sys.LogDebug(sys.MsgDiscoveryResolveFail, q, err)
		}
		mu.Lock()
		defer mu.Unlock()
		for _, h := range hits {
			if seen[h.ID] {
				continue
			}
			seen[h.ID] = true
			suffix := ""
			if h.Artist != "" {
				suffix = " - " + h.Artist
			}
			*into = append(*into, Suggestion{
				Name:  sys.TruncateWithPreserve(h.Title, choiceMaxLen, prefix+" ", suffix),
				Value: h.URL,
			})
		}
	}

	wg.Add(2)
	go collect(r.music, MusicPrefix, &ytm)
	go collect(r.youtube, YouTubePrefix, &yt)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	var out []Suggestion
	if youtubeFirst {
		out = append(append(out, yt...), ytm...)
	} else {
		out = append(append(out, ytm...), yt...)
	}
	if len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}
	return out
}
