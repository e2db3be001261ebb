package player

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

const (
	testUser    = snowflake.ID(200000000000000001)
	testVoice   = snowflake.ID(300000000000000001)
	testText    = snowflake.ID(400000000000000001)
	testTimeout = 2 * time.Second
)

func requested(name string) Track {
	return track(name).WithRequester(Requester{ID: testUser, Name: "tester"})
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type fakeStream struct {
	name string

	mu     sync.Mutex
	closed bool
}

func (s *fakeStream) ReadFrame() ([]byte, error) { return nil, io.EOF }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type play struct {
	stream Stream
	onEnd  func(error)
}

type fakeSession struct {
	mu        sync.Mutex
	plays     []play
	paused    bool
	halts     int
	destroyed bool
}

func (s *fakeSession) Play(st Stream, onEnd func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plays = append(s.plays, play{stream: st, onEnd: onEnd})
	s.paused = false
}

func (s *fakeSession) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

func (s *fakeSession) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

func (s *fakeSession) Halt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halts++
}

func (s *fakeSession) Destroy(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
}

func (s *fakeSession) Plays() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.plays)
}

func (s *fakeSession) PlayAt(i int) play {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plays[i]
}

// End finishes the most recent stream.
func (s *fakeSession) End(err error) {
	s.mu.Lock()
	p := s.plays[len(s.plays)-1]
	s.mu.Unlock()
	p.onEnd(err)
}

func (s *fakeSession) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *fakeSession) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

type fakeConnector struct {
	mu       sync.Mutex
	err      error
	sessions []*fakeSession

	// gate, when set, holds every Join until it is closed.
	gate chan struct{}
}

func (c *fakeConnector) Join(ctx context.Context, guildID, channelID snowflake.ID) (Session, error) {
	c.mu.Lock()
	gate := c.gate
	c.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	s := &fakeSession{}
	c.sessions = append(c.sessions, s)
	return s, nil
}

// Hold makes later joins wait until the returned func is called.
func (c *fakeConnector) Hold() func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	gate := make(chan struct{})
	c.gate = gate
	return func() { close(gate) }
}

func (c *fakeConnector) Session() *fakeSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sessions) == 0 {
		return nil
	}
	return c.sessions[len(c.sessions)-1]
}

type fakePresence struct {
	mu       sync.Mutex
	channels map[snowflake.ID]snowflake.ID
	humans   int
}

func (p *fakePresence) UserChannel(guildID, userID snowflake.ID) (snowflake.ID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.channels[userID]
	return ch, ok
}

func (p *fakePresence) Humans(guildID, channelID snowflake.ID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.humans
}

func (p *fakePresence) SetHumans(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.humans = n
}

type fakeDecoder struct {
	mu     sync.Mutex
	fail   map[string]error
	opened []string
	files  []string
	gate   chan struct{}
}

func (d *fakeDecoder) Open(ctx context.Context, locator string) (Stream, error) {
	d.mu.Lock()
	d.opened = append(d.opened, locator)
	gate := d.gate
	err := d.fail[locator]
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &fakeStream{name: locator}, nil
}

// Hold makes Open wait until the returned func is called.
func (d *fakeDecoder) Hold() func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	gate := make(chan struct{})
	d.gate = gate
	return func() { close(gate) }
}

func (d *fakeDecoder) Opened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.opened)
}

func (d *fakeDecoder) OpenFile(ctx context.Context, path string) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files = append(d.files, path)
	return &fakeStream{name: path}, nil
}

func (d *fakeDecoder) Files() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.files...)
}

type fakeResolver struct {
	mu       sync.Mutex
	duration time.Duration
	err      error
	offsets  []time.Duration
}

func (r *fakeResolver) ResolveDirect(ctx context.Context, locator string) (Direct, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return Direct{}, r.err
	}
	return Direct{URL: "https://media.example/" + locator, Duration: r.duration}, nil
}

func (r *fakeResolver) OpenAt(ctx context.Context, directURL string, offset time.Duration) (Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offsets = append(r.offsets, offset)
	return &fakeStream{name: directURL}, nil
}

func (r *fakeResolver) Offsets() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.offsets...)
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *fakeNotifier) Notify(notice Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

// Has reports whether a notice of kind containing text was sent.
func (n *fakeNotifier) Has(kind NoticeKind, text string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, notice := range n.notices {
		if notice.Kind == kind && strings.Contains(notice.Text, text) {
			return true
		}
	}
	return false
}

// Count returns how many notices of kind containing text were sent.
func (n *fakeNotifier) Count(kind NoticeKind, text string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, notice := range n.notices {
		if notice.Kind == kind && strings.Contains(notice.Text, text) {
			c++
		}
	}
	return c
}

type harness struct {
	t        *testing.T
	m        *Manager
	clock    *fakeClock
	conn     *fakeConnector
	presence *fakePresence
	decoder  *fakeDecoder
	resolver *fakeResolver
	notifier *fakeNotifier
	fetcher  *fakeFetcher
	pre      *Preloader
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		clock:    newFakeClock(),
		conn:     &fakeConnector{},
		presence: &fakePresence{channels: map[snowflake.ID]snowflake.ID{testUser: testVoice}, humans: 1},
		decoder:  &fakeDecoder{fail: make(map[string]error)},
		resolver: &fakeResolver{duration: 3 * time.Minute},
		notifier: &fakeNotifier{},
		fetcher:  newFakeFetcher(),
	}
	h.pre = NewPreloader(t.TempDir(), h.fetcher, h.clock)
	h.m = NewManager(Deps{
		Connector: h.conn,
		Presence:  h.presence,
		Decoder:   h.decoder,
		Resolver:  h.resolver,
		Preloader: h.pre,
		Notifier:  h.notifier,
		Clock:     h.clock,
	}, Options{})

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		h.m.Shutdown(ctx)
		h.clock.Advance(time.Hour)
		h.pre.Wait()
	})
	return h
}

func (h *harness) snapshot() Snapshot {
	h.t.Helper()
	s, _ := h.m.Snapshot(context.Background(), testGuild)
	return s
}

func (h *harness) enqueue(names ...string) {
	h.t.Helper()
	tracks := make([]Track, len(names))
	for i, n := range names {
		tracks[i] = requested(n)
	}
	if _, err := h.m.Enqueue(context.Background(), testGuild, testText, tracks...); err != nil {
		h.t.Fatalf("Enqueue() error = %v", err)
	}
}

// playing waits until name is current and its stream reached the session
// as the nth play.
func (h *harness) playing(name string, nth int) *fakeSession {
	h.t.Helper()
	waitFor(h.t, name+" playing", func() bool {
		s := h.snapshot()
		sess := h.conn.Session()
		return s.Current != nil && s.Current.Title == name && sess != nil && sess.Plays() >= nth
	})
	// Round-trip through the mailbox so the handler that started the
	// stream has returned.
	h.snapshot()
	return h.conn.Session()
}

func (h *harness) seekable() {
	h.t.Helper()
	waitFor(h.t, "direct url", func() bool { return h.snapshot().Seekable })
}

var errBoom = errors.New("boom")
