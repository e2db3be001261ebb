package player

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/realSUDO/Auralia/internal/sys"
)

// PreloadExt is the extension of cached downloads.
const PreloadExt = ".webm"

// Preloader downloads upcoming tracks into a cache directory. Each room owns
// exactly one Slot; file names are prefixed with the room id so rooms never
// touch each other's files.
type Preloader struct {
	dir     string
	fetcher Fetcher
	clock   Clock

	mu    sync.Mutex
	slots map[snowflake.ID]*Slot

	wg sync.WaitGroup
}

func NewPreloader(dir string, fetcher Fetcher, clock Clock) *Preloader {
	if clock == nil {
		clock = SystemClock
	}
	return &Preloader{
		dir:     dir,
		fetcher: fetcher,
		clock:   clock,
		slots:   make(map[snowflake.ID]*Slot),
	}
}

func (p *Preloader) Dir() string { return p.dir }

// Slot returns the room's slot, creating it on first use.
func (p *Preloader) Slot(roomID snowflake.ID) *Slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.slots[roomID]; ok {
		return s
	}
	s := &Slot{p: p, roomID: roomID}
	p.slots[roomID] = s
	return s
}

// Wait blocks until every running download and pending deletion finished.
func (p *Preloader) Wait() {
	p.wg.Wait()
}

// Prepare creates the cache directory and removes files left behind by a
// previous run.
func (p *Preloader) Prepare() (int, error) {
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, PreloadExt) && !strings.HasSuffix(name, ".part") {
			continue
		}
		if err := os.Remove(filepath.Join(p.dir, name)); err == nil {
			removed++
		}
	}
	if removed > 0 {
		sys.LogPreload(sys.MsgPreloadCacheCleaned, removed, p.dir)
	}
	return removed, nil
}

// Watch clears completed slots whose file disappears from the cache
// directory. It returns when ctx is done.
func (p *Preloader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(p.dir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				p.forget(event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			sys.LogComponentWarn("preload", sys.MsgPreloadWatchFailed, err)
		}
	}
}

func (p *Preloader) forget(path string) {
	p.mu.Lock()
	slots := make([]*Slot, 0, len(p.slots))
	for _, s := range p.slots {
		slots = append(slots, s)
	}
	p.mu.Unlock()

	for _, s := range slots {
		s.invalidate(path)
	}
}

func (p *Preloader) release(roomID snowflake.ID, s *Slot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.slots[roomID] == s {
		delete(p.slots, roomID)
	}
}

// remove deletes a cached file in the background. Missing files are fine.
func (p *Preloader) remove(path string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		removeCached(path)
	}()
}

// RemoveAfter deletes path once d has elapsed.
func (p *Preloader) RemoveAfter(path string, d time.Duration) {
	p.wg.Add(1)
	p.clock.AfterFunc(d, func() {
		defer p.wg.Done()
		removeCached(path)
	})
}

func removeCached(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		sys.LogComponentWarn("preload", sys.MsgPreloadDeleteFailed, path, err)
	}
}

type slotState int

const (
	slotEmpty slotState = iota
	slotFetching
	slotReady
)

// Slot holds at most one in-flight or completed preload for a room.
type Slot struct {
	p      *Preloader
	roomID snowflake.ID

	mu      sync.Mutex
	state   slotState
	locator string
	path    string
	job     uuid.UUID
	cancel  context.CancelFunc
}

// Request starts preloading t unless the same locator is already in flight
// or cached. Anything else held by the slot is cancelled or evicted first.
func (s *Slot) Request(t Track) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != slotEmpty && s.locator == t.URL {
		return
	}
	s.evictLocked()

	job := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	dest := filepath.Join(s.p.dir, fmt.Sprintf("%s_%s%s", s.roomID, job, PreloadExt))

	s.state = slotFetching
	s.locator = t.URL
	s.path = dest
	s.job = job
	s.cancel = cancel

	sys.LogPreload(sys.MsgPreloadStarted, s.roomID, t.Title)

	s.p.wg.Add(1)
	go func() {
		defer s.p.wg.Done()
		defer cancel()
		err := s.p.fetcher.Fetch(ctx, t.URL, dest)
		s.finish(job, t, dest, err)
	}()
}

func (s *Slot) finish(job uuid.UUID, t Track, dest string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.job != job {
		// Cancelled or superseded: whatever was written is garbage.
		s.p.remove(dest)
		return
	}

	if err == nil {
		if _, statErr := os.Stat(dest); statErr != nil {
			err = statErr
		}
	}
	if err != nil {
		sys.LogPreload(sys.MsgPreloadFailed, s.roomID, t.Title, err)
		s.p.remove(dest)
		s.resetLocked()
		return
	}

	s.state = slotReady
	s.cancel = nil
	sys.LogPreload(sys.MsgPreloadDone, s.roomID, t.Title, filepath.Base(dest))
}

// Consume hands over the cached file for locator if one is ready. The
// caller owns the file afterwards. A slot can be consumed at most once.
func (s *Slot) Consume(locator string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != slotReady || s.locator != locator {
		return "", false
	}
	path := s.path
	if _, err := os.Stat(path); err != nil {
		s.resetLocked()
		return "", false
	}
	s.resetLocked()
	return path, true
}

// Evict cancels any in-flight download and deletes any cached file.
func (s *Slot) Evict() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
}

// Close evicts and detaches the slot from its preloader.
func (s *Slot) Close() {
	s.Evict()
	s.p.release(s.roomID, s)
}

// Pending returns the locator the slot currently holds and whether its
// download completed.
func (s *Slot) Pending() (locator string, ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == slotEmpty {
		return "", false
	}
	return s.locator, s.state == slotReady
}

func (s *Slot) invalidate(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == slotReady && s.path == path {
		sys.LogPreload(sys.MsgPreloadVanished, s.roomID, filepath.Base(path))
		s.resetLocked()
	}
}

func (s *Slot) evictLocked() {
	switch s.state {
	case slotFetching:
		if s.cancel != nil {
			s.cancel()
		}
		sys.LogPreload(sys.MsgPreloadCancelled, s.roomID, s.locator)
	case slotReady:
		s.p.remove(s.path)
	}
	s.resetLocked()
}

func (s *Slot) resetLocked() {
	s.state = slotEmpty
	s.locator = ""
	s.path = ""
	s.job = uuid.Nil
	s.cancel = nil
}
