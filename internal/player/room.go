package player

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"
	"github.com/realSUDO/Auralia/internal/sys"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhasePlaying
	PhasePaused
	PhaseSeeking
	PhaseStopping
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhasePlaying:
		return "playing"
	case PhasePaused:
		return "paused"
	case PhaseSeeking:
		return "seeking"
	case PhaseStopping:
		return "stopping"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// intent is a one-shot request consumed by the next advance.
type intent int

const (
	intentNone intent = iota
	intentSkip
	intentReplay
	intentRestart
)

type envelope struct {
	run  func()
	drop func()
}

// Room is the playback state of one guild. All fields below the mailbox are
// owned by the room's goroutine and only touched from closures it runs.
type Room struct {
	id snowflake.ID
	m  *Manager

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	queue  []envelope
	closed bool
	wake   chan struct{}
	done   chan struct{}

	tracks   []Track
	current  *Track
	phase    Phase
	pos      position
	looping  bool
	intent   intent
	duration time.Duration
	direct   string

	voiceChannel snowflake.ID
	textChannel  snowflake.ID
	session      Session
	joining      uuid.UUID
	joinWaiters  []chan error

	stream      Stream
	gen         uuid.UUID
	trackID     uuid.UUID
	openCancel  context.CancelFunc
	restarting  bool
	announced   bool

	seekToken   uuid.UUID
	seekCancel  context.CancelFunc
	seekPaused  bool
	endedInSeek bool
	endedErr    error

	preload  *Slot
	watchdog *Watchdog
}

func newRoom(m *Manager, id snowflake.ID) *Room {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Room{
		id:      id,
		m:       m,
		ctx:     ctx,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		preload: m.preloader.Slot(id),
	}
	r.watchdog = newWatchdog(id, m.clock, m.opts.AloneTimeout, func(gen uint64) {
		r.send(func() {
			if !r.watchdog.Current(gen) {
				return
			}
			sys.LogWatchdog(sys.MsgWatchdogFired, r.id)
			r.notify(NoticeWarning, sys.MsgPlayerAloneLeft, nil)
			r.teardown("alone")
		}, nil)
	})
	go r.loop()
	return r
}

// --- Mailbox ---

// send queues fn on the room goroutine. If the room is already closed, drop
// runs instead so callers can release what they were about to hand over.
func (r *Room) send(fn func(), drop func()) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		if drop != nil {
			drop()
		}
		return false
	}
	r.queue = append(r.queue, envelope{run: fn, drop: drop})
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return true
}

func (r *Room) loop() {
	for range r.wake {
		for {
			r.mu.Lock()
			if len(r.queue) == 0 {
				r.mu.Unlock()
				break
			}
			env := r.queue[0]
			r.queue = r.queue[1:]
			closed := r.closed
			r.mu.Unlock()

			if closed {
				if env.drop != nil {
					env.drop()
				}
				continue
			}
			env.run()
		}
		if r.isClosed() {
			return
		}
	}
}

func (r *Room) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type result[T any] struct {
	v   T
	err error
}

// call runs fn on the room goroutine and waits for its result.
func call[T any](ctx context.Context, r *Room, fn func() (T, error)) (T, error) {
	ch := make(chan result[T], 1)
	var zero T
	r.send(func() {
		v, err := fn()
		ch <- result[T]{v, err}
	}, func() {
		ch <- result[T]{zero, ErrRoomClosed}
	})

	select {
	case res := <-ch:
		return res.v, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// --- Notices ---

func (r *Room) notify(kind NoticeKind, text string, t *Track) {
	if r.m.notifier == nil || r.textChannel == 0 {
		return
	}
	r.m.notifier.Notify(Notice{GuildID: r.id, ChannelID: r.textChannel, Kind: kind, Text: text, Track: t})
}

// --- Queue mutations ---

func (r *Room) active() bool {
	switch r.phase {
	case PhasePlaying, PhasePaused, PhaseSeeking:
		return true
	}
	return false
}

func (r *Room) enqueue(textChannel snowflake.ID, tracks []Track) (int, error) {
	if textChannel != 0 {
		r.textChannel = textChannel
	}
	first := len(r.tracks)
	r.tracks = append(r.tracks, tracks...)

	switch {
	case r.phase == PhaseIdle && r.session == nil:
		if err := r.connect(tracks[0].Requester.ID, nil); err != nil {
			r.tracks = r.tracks[:first]
			if len(r.tracks) == 0 && r.session == nil {
				r.teardown("no voice channel")
			}
			return 0, err
		}
	case r.phase == PhaseIdle:
		r.startHead()
	case r.phase == PhaseConnecting:
		// The join completion starts the head.
	default:
		r.syncPreload()
	}
	return first, nil
}

// syncPreload keeps the lookahead pointed at tracks[1].
func (r *Room) syncPreload() {
	if r.phase == PhaseStopping {
		return
	}
	if r.looping || len(r.tracks) < 2 {
		r.preload.Evict()
		return
	}
	r.preload.Request(r.tracks[1])
}

// --- Voice ---

// connect joins the requester's voice channel. The head starts once the join
// completes. waiter, if set, receives the join outcome.
func (r *Room) connect(requester snowflake.ID, waiter chan error) error {
	channelID, ok := r.m.presence.UserChannel(r.id, requester)
	if !ok {
		return ErrUserNotInVoice
	}

	if waiter != nil {
		r.joinWaiters = append(r.joinWaiters, waiter)
	}
	if r.joining != uuid.Nil {
		return nil
	}

	token := uuid.New()
	r.joining = token
	r.phase = PhaseConnecting
	r.voiceChannel = channelID

	sys.LogVoice(sys.MsgVoiceJoining, r.id, channelID)
	ctx, cancel := context.WithTimeout(r.ctx, r.m.opts.JoinTimeout)
	go func() {
		defer cancel()
		sess, err := r.m.connector.Join(ctx, r.id, channelID)
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		release := func() {
			if sess != nil {
				r.m.destroySession(sess)
			}
		}
		r.send(func() { r.onJoined(token, sess, err) }, release)
	}()
	return nil
}

func (r *Room) onJoined(token uuid.UUID, sess Session, err error) {
	if token != r.joining {
		if sess != nil {
			r.m.destroySession(sess)
		}
		return
	}
	r.joining = uuid.Nil
	waiters := r.joinWaiters
	r.joinWaiters = nil
	defer func() {
		for _, w := range waiters {
			w <- err
		}
	}()

	if err != nil {
		if sess != nil {
			r.m.destroySession(sess)
		}
		sys.LogVoice(sys.MsgPlayerLogJoinFail, r.id, err)
		r.notify(NoticeError, sys.MsgPlayerJoinFailed, nil)
		r.teardown("join failed")
		return
	}

	sys.LogVoice(sys.MsgVoiceJoined, r.id, r.voiceChannel)
	r.session = sess
	r.observePresence()

	if len(r.tracks) > 0 {
		r.phase = PhasePlaying
		r.startHead()
		return
	}
	r.phase = PhaseIdle
}

func (r *Room) observePresence() {
	if r.session == nil || r.phase == PhaseStopping {
		return
	}
	r.watchdog.Observe(r.m.presence.Humans(r.id, r.voiceChannel))
}

// --- Playback ---

// startHead begins playing tracks[0]. It never blocks: the stream is opened
// in the background and announced once readable.
func (r *Room) startHead() {
	if len(r.tracks) == 0 {
		r.finish()
		return
	}
	if r.session == nil {
		if r.joining == uuid.Nil {
			if err := r.connect(r.tracks[0].Requester.ID, nil); err != nil {
				r.notify(NoticeError, sys.MsgPlayerNeedVoice, nil)
				r.teardown("no voice channel")
			}
		}
		return
	}

	restart := r.restarting
	r.restarting = false

	r.halt()
	r.phase = PhasePlaying

	t := r.tracks[0]
	sameTrack := restart && r.current != nil && r.current.URL == t.URL
	r.current = &t
	if !sameTrack {
		r.direct = ""
		r.duration = t.Duration
		r.trackID = uuid.New()
	}
	// A restart of a track whose first open never completed still owes
	// its history entry and announcement.
	announce := !sameTrack || !r.announced
	if announce {
		r.announced = false
	}
	r.pos.reset()

	gen := r.gen
	ctx, cancel := context.WithCancel(r.ctx)
	r.openCancel = cancel

	path, preloaded := r.preload.Consume(t.URL)
	sys.LogPlayer(sys.MsgPlayerLogStart, r.id, t.Title, preloaded)

	go func() {
		var (
			s   Stream
			err error
		)
		if preloaded {
			s, err = r.m.decoder.OpenFile(ctx, path)
		} else {
			s, err = r.m.decoder.Open(ctx, t.URL)
		}
		release := func() {
			if s != nil {
				_ = s.Close()
			}
			if preloaded {
				r.m.preloader.remove(path)
			}
		}
		r.send(func() { r.onOpened(gen, t, s, err, path, announce) }, release)
	}()

	if r.direct == "" {
		r.resolve(r.trackID, t)
	}
}

func (r *Room) resolve(trackID uuid.UUID, t Track) {
	if r.m.resolver == nil {
		return
	}
	ctx := r.ctx
	go func() {
		d, err := r.m.resolver.ResolveDirect(ctx, t.URL)
		r.send(func() {
			if trackID != r.trackID {
				return
			}
			if err != nil {
				sys.LogPlayer(sys.MsgPlayerLogResolveErr, r.id, t.Title, err)
				return
			}
			r.direct = d.URL
			if d.Duration > 0 {
				r.duration = d.Duration
			}
		}, nil)
	}()
}

func (r *Room) onOpened(gen uuid.UUID, t Track, s Stream, err error, path string, announce bool) {
	if path != "" {
		defer r.m.preloader.RemoveAfter(path, r.m.opts.CleanupDelay)
	}
	if gen != r.gen || r.phase == PhaseStopping {
		if s != nil {
			_ = s.Close()
		}
		return
	}
	r.openCancel = nil

	if err != nil {
		r.fail(gen, err, true)
		return
	}

	r.stream = s
	r.session.Play(s, r.onEnd(gen))
	r.pos.start(r.m.clock.Now(), 0)
	if r.phase == PhasePaused {
		r.session.Pause()
		r.pos.freeze(r.m.clock.Now())
	}

	if announce {
		r.announced = true
		r.m.history.Record(r.id, t)
		r.notify(NoticeNowPlaying, t.Title, &t)
	}
	r.syncPreload()
}

// onEnd returns the callback handed to the session for generation gen.
func (r *Room) onEnd(gen uuid.UUID) func(error) {
	return func(err error) {
		r.send(func() { r.ended(gen, err) }, nil)
	}
}

func (r *Room) ended(gen uuid.UUID, err error) {
	if gen != r.gen {
		sys.LogDebug(sys.MsgPlayerLogStale, r.id, gen)
		return
	}
	switch r.phase {
	case PhaseStopping:
		return
	case PhaseSeeking:
		r.endedInSeek = true
		r.endedErr = err
		return
	}

	if err != nil && !errors.Is(err, ErrPrematureClose) {
		r.fail(gen, err, false)
		return
	}

	if r.current != nil {
		sys.LogPlayer(sys.MsgPlayerLogEnded, r.id, r.current.Title)
	}
	r.closeStream()
	r.advance()
}

// advance moves the queue forward once. Pending intents win over loop mode.
func (r *Room) advance() {
	in := r.intent
	r.intent = intentNone

	switch in {
	case intentReplay:
		r.restarting = true
		r.startHead()
		return
	case intentRestart:
		r.startHead()
		return
	case intentSkip:
		r.dropHead()
		return
	}

	if r.looping && r.current != nil && len(r.tracks) > 0 {
		r.restarting = true
		r.startHead()
		return
	}
	r.dropHead()
}

func (r *Room) dropHead() {
	if len(r.tracks) > 0 {
		r.tracks = r.tracks[1:]
	}
	if len(r.tracks) > 0 {
		r.startHead()
		return
	}
	r.finish()
}

// finish parks the room once the queue ran dry. The voice session stays.
func (r *Room) finish() {
	r.halt()
	r.current = nil
	r.direct = ""
	r.duration = 0
	r.pos.reset()
	r.preload.Evict()
	if r.session == nil {
		r.teardown("queue finished")
		return
	}
	r.phase = PhaseIdle
	r.notify(NoticeInfo, sys.MsgPlayerAllPlayed, nil)
}

// fail reports a stream failure and skips the track. It stays quiet while
// stopping or while an intent is already redirecting playback.
func (r *Room) fail(gen uuid.UUID, err error, opening bool) {
	if r.phase == PhaseStopping || r.intent != intentNone || gen != r.gen {
		return
	}

	title := "unknown"
	if len(r.tracks) > 0 {
		title = r.tracks[0].Title
	}
	sys.LogComponentWarn("player", sys.MsgPlayerLogError, r.id, title, err)

	switch {
	case Classify(err) == ClassRestricted:
		r.notify(NoticeWarning, fmt.Sprintf(sys.MsgPlayerRestricted, title), nil)
	case opening:
		r.notify(NoticeError, fmt.Sprintf(sys.MsgPlayerLoadError, title), nil)
	default:
		r.notify(NoticeError, fmt.Sprintf(sys.MsgPlayerStreamError, title), nil)
	}

	r.halt()
	r.dropHead()
}

// halt invalidates the current generation and releases its stream.
func (r *Room) halt() {
	r.gen = uuid.New()
	if r.openCancel != nil {
		r.openCancel()
		r.openCancel = nil
	}
	r.cancelSeek()
	if r.session != nil {
		r.session.Halt()
	}
	r.closeStream()
	if r.phase == PhaseSeeking {
		r.phase = PhasePlaying
	}
}

func (r *Room) closeStream() {
	if r.stream != nil {
		_ = r.stream.Close()
		r.stream = nil
	}
}

func (r *Room) cancelSeek() {
	if r.seekCancel != nil {
		r.seekCancel()
		r.seekCancel = nil
	}
	r.seekToken = uuid.Nil
	r.endedInSeek = false
	r.endedErr = nil
}

// --- Controls ---

func (r *Room) skip() (Track, error) {
	if len(r.tracks) == 0 || !(r.active() || r.phase == PhaseConnecting) {
		return Track{}, ErrNothingToSkip
	}
	skipped := r.tracks[0]
	r.intent = intentSkip
	if r.phase == PhaseConnecting {
		// Nothing is streaming yet, so drop the head in place.
		r.intent = intentNone
		r.tracks = r.tracks[1:]
		if len(r.tracks) == 0 {
			r.teardown("skipped while connecting")
		}
		return skipped, nil
	}
	r.halt()
	r.advance()
	return skipped, nil
}

func (r *Room) replay() (Track, error) {
	if r.current == nil || !r.active() {
		return Track{}, ErrNotPlaying
	}
	t := *r.current
	r.intent = intentReplay
	r.halt()
	r.advance()
	return t, nil
}

func (r *Room) previous(requester Requester) (Track, error) {
	hist := r.m.history.List(r.id)
	if len(hist) == 0 {
		return Track{}, ErrNoHistory
	}

	if r.phase == PhaseConnecting && len(r.tracks) > 0 {
		// The join completion starts whatever sits at the head.
		last := hist[len(hist)-1].WithRequester(requester)
		r.tracks = append([]Track{last}, r.tracks...)
		return last, nil
	}

	if r.current == nil || !r.active() || len(r.tracks) == 0 {
		last := hist[len(hist)-1].WithRequester(requester)
		if _, err := r.enqueue(0, []Track{last}); err != nil {
			return Track{}, err
		}
		return last, nil
	}

	candidates := hist
	drop := 0
	if hist[len(hist)-1].URL == r.current.URL {
		candidates = hist[:len(hist)-1]
		drop = 1
	}

	if len(candidates) == 0 {
		// Only the current track is known, so start it over.
		t := *r.current
		r.intent = intentReplay
		r.halt()
		r.advance()
		return t, nil
	}

	prev := candidates[len(candidates)-1].WithRequester(requester)
	r.m.history.Truncate(r.id, drop+1)
	r.tracks = append([]Track{prev}, r.tracks...)
	r.intent = intentRestart
	r.halt()
	r.advance()
	return prev, nil
}

func (r *Room) shuffle() error {
	if len(r.tracks) <= 1 {
		return ErrNothingToShuffle
	}
	rest := r.tracks[1:]
	for i := len(rest) - 1; i > 0; i-- {
		j := rand.IntN(i + 1)
		rest[i], rest[j] = rest[j], rest[i]
	}
	r.preload.Evict()
	r.syncPreload()
	return nil
}

func (r *Room) clear() (int, error) {
	if len(r.tracks) <= 1 {
		return 0, ErrNothingToClear
	}
	n := len(r.tracks) - 1
	r.tracks = r.tracks[:1]
	r.syncPreload()
	return n, nil
}

func (r *Room) toggleLoop() bool {
	r.looping = !r.looping
	r.syncPreload()
	return r.looping
}

func (r *Room) pause() error {
	if r.phase != PhasePlaying || r.current == nil {
		return ErrNotPlaying
	}
	r.phase = PhasePaused
	r.session.Pause()
	r.pos.freeze(r.m.clock.Now())
	return nil
}

func (r *Room) resume() error {
	if r.phase != PhasePaused {
		return ErrNotPlaying
	}
	r.phase = PhasePlaying
	r.session.Resume()
	r.pos.thaw(r.m.clock.Now())
	return nil
}

func (r *Room) seek(target func(elapsed time.Duration) time.Duration) (time.Duration, error) {
	switch {
	case r.phase == PhaseSeeking:
		return 0, ErrBusy
	case r.current == nil || r.stream == nil || !r.active():
		return 0, ErrNotPlaying
	case r.direct == "" || r.duration <= 0 || r.m.resolver == nil:
		return 0, ErrSeekUnavailable
	}

	now := r.m.clock.Now()
	to := clampSeek(target(r.pos.elapsed(now)), r.duration)
	sys.LogPlayer(sys.MsgPlayerLogSeek, r.id, r.current.Title, to)

	token := uuid.New()
	ctx, cancel := context.WithCancel(r.ctx)
	r.seekToken = token
	r.seekCancel = cancel
	r.seekPaused = r.phase == PhasePaused
	r.endedInSeek = false
	r.endedErr = nil
	r.phase = PhaseSeeking

	direct := r.direct
	go func() {
		s, err := r.m.resolver.OpenAt(ctx, direct, to)
		release := func() {
			if s != nil {
				_ = s.Close()
			}
		}
		r.send(func() { r.onSeekOpened(token, to, s, err) }, release)
	}()
	return to, nil
}

func (r *Room) onSeekOpened(token uuid.UUID, to time.Duration, s Stream, err error) {
	if token != r.seekToken || r.phase != PhaseSeeking {
		if s != nil {
			_ = s.Close()
		}
		return
	}
	r.seekCancel = nil

	settled := PhasePlaying
	if r.seekPaused {
		settled = PhasePaused
	}

	if err != nil {
		title := r.current.Title
		r.notify(NoticeWarning, fmt.Sprintf(sys.MsgPlayerSeekFailed, title), nil)
		r.seekToken = uuid.Nil
		r.phase = settled
		r.endDeferred()
		return
	}

	// Swap streams under a fresh generation so the old one's end is stale.
	gen := uuid.New()
	r.gen = gen
	r.endedInSeek = false
	r.endedErr = nil
	old := r.stream
	r.stream = s
	r.session.Play(s, r.onEnd(gen))
	if old != nil {
		_ = old.Close()
	}

	now := r.m.clock.Now()
	r.pos.start(now, to)
	if r.seekPaused {
		r.session.Pause()
		r.pos.freeze(now)
	}

	r.m.clock.AfterFunc(r.m.opts.SeekSettle, func() {
		r.send(func() { r.settleSeek(token, settled) }, nil)
	})
}

func (r *Room) settleSeek(token uuid.UUID, settled Phase) {
	if token != r.seekToken || r.phase != PhaseSeeking {
		return
	}
	r.seekToken = uuid.Nil
	r.phase = settled
	r.endDeferred()
}

// endDeferred handles a stream end that arrived while a seek was in flight,
// the same way ended would have.
func (r *Room) endDeferred() {
	if !r.endedInSeek {
		return
	}
	err := r.endedErr
	r.endedInSeek = false
	r.endedErr = nil

	if err != nil && !errors.Is(err, ErrPrematureClose) {
		r.fail(r.gen, err, false)
		return
	}
	r.closeStream()
	r.advance()
}

// --- Lifecycle ---

// teardown releases everything the room holds and removes it from the
// manager. It is idempotent.
func (r *Room) teardown(reason string) {
	if r.isClosed() {
		return
	}
	sys.LogPlayer(sys.MsgPlayerLogTeardown, r.id, reason)
	r.phase = PhaseStopping
	r.tracks = nil
	r.current = nil
	r.intent = intentNone
	r.joining = uuid.Nil

	r.halt()
	r.phase = PhaseStopping
	r.preload.Close()
	r.watchdog.Stop()

	if r.session != nil {
		r.m.destroySession(r.session)
		r.session = nil
	}
	for _, w := range r.joinWaiters {
		w <- ErrRoomClosed
	}
	r.joinWaiters = nil

	r.m.remove(r)
	r.cancel()

	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	close(r.done)
}

// Snapshot is a read-only view of a room for renderers.
type Snapshot struct {
	GuildID      snowflake.ID
	Phase        Phase
	Current      *Track
	Upcoming     []Track
	Elapsed      time.Duration
	Duration     time.Duration
	Looping      bool
	Seekable     bool
	VoiceChannel snowflake.ID
	TextChannel  snowflake.ID
	Preloaded    string
}

func (r *Room) snapshot() Snapshot {
	s := Snapshot{
		GuildID:      r.id,
		Phase:        r.phase,
		Elapsed:      r.pos.elapsed(r.m.clock.Now()),
		Duration:     r.duration,
		Looping:      r.looping,
		Seekable:     r.direct != "" && r.duration > 0,
		VoiceChannel: r.voiceChannel,
		TextChannel:  r.textChannel,
	}
	if r.current != nil {
		c := *r.current
		s.Current = &c
	}
	if len(r.tracks) > 1 {
		s.Upcoming = append([]Track(nil), r.tracks[1:]...)
	}
	if loc, ready := r.preload.Pending(); ready {
		s.Preloaded = loc
	}
	if s.Duration > 0 && s.Elapsed > s.Duration {
		s.Elapsed = s.Duration
	}
	return s
}
