package player

import (
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// HistoryLimit is the number of recently played tracks remembered per guild.
const HistoryLimit = 10

// Requester identifies who asked for a track.
type Requester struct {
	ID   snowflake.ID
	Name string
}

// Track is an immutable queue entry. URL is an opaque locator handed to the
// decoder and the preloader.
type Track struct {
	Title     string
	URL       string
	Requester Requester
	// Duration is a hint from discovery, zero when unknown.
	Duration time.Duration
}

// WithRequester returns a copy of t attributed to r.
func (t Track) WithRequester(r Requester) Track {
	t.Requester = r
	return t
}

// History keeps the most recently started tracks of every guild. It is
// independent of rooms so it survives a room being torn down.
type History struct {
	mu      sync.Mutex
	limit   int
	entries map[snowflake.ID][]Track
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = HistoryLimit
	}
	return &History{limit: limit, entries: make(map[snowflake.ID][]Track)}
}

// Record appends t unless the newest entry already has the same URL.
func (h *History) Record(guildID snowflake.ID, t Track) {
	h.mu.Lock()
	defer h.mu.Unlock()

	list := h.entries[guildID]
	if n := len(list); n > 0 && list[n-1].URL == t.URL {
		return
	}
	list = append(list, t)
	if over := len(list) - h.limit; over > 0 {
		list = append([]Track(nil), list[over:]...)
	}
	h.entries[guildID] = list
}

// List returns a copy of the guild's history, oldest first.
func (h *History) List(guildID snowflake.ID) []Track {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Track(nil), h.entries[guildID]...)
}

func (h *History) Len(guildID snowflake.ID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries[guildID])
}

// Truncate drops the newest n entries.
func (h *History) Truncate(guildID snowflake.ID, n int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	list := h.entries[guildID]
	if n >= len(list) {
		delete(h.entries, guildID)
		return
	}
	h.entries[guildID] = list[:len(list)-n]
}
