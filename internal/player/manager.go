package player

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"
	"github.com/realSUDO/Auralia/internal/sys"
)

// Deps are the collaborators the engine drives.
type Deps struct {
	Connector Connector
	Presence  Presence
	Decoder   Decoder
	Resolver  Resolver
	Preloader *Preloader
	Notifier  Notifier
	Clock     Clock
}

type Options struct {
	AloneTimeout time.Duration
	JoinTimeout  time.Duration
	SeekSettle   time.Duration
	CleanupDelay time.Duration
	HistoryLimit int
}

func (o *Options) setDefaults() {
	if o.AloneTimeout <= 0 {
		o.AloneTimeout = 60 * time.Second
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = 15 * time.Second
	}
	if o.SeekSettle <= 0 {
		o.SeekSettle = 1500 * time.Millisecond
	}
	if o.CleanupDelay <= 0 {
		o.CleanupDelay = 2 * time.Second
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = HistoryLimit
	}
}

// Manager owns one Room per guild and routes commands to it. Every method is
// safe for concurrent use; the work itself runs on the room's goroutine.
type Manager struct {
	connector Connector
	presence  Presence
	decoder   Decoder
	resolver  Resolver
	preloader *Preloader
	notifier  Notifier
	clock     Clock
	opts      Options

	history *History

	mu    sync.Mutex
	rooms map[snowflake.ID]*Room

	sessions sync.WaitGroup
}

func NewManager(deps Deps, opts Options) *Manager {
	opts.setDefaults()
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock
	}
	return &Manager{
		connector: deps.Connector,
		presence:  deps.Presence,
		decoder:   deps.Decoder,
		resolver:  deps.Resolver,
		preloader: deps.Preloader,
		notifier:  deps.Notifier,
		clock:     clock,
		opts:      opts,
		history:   NewHistory(opts.HistoryLimit),
		rooms:     make(map[snowflake.ID]*Room),
	}
}

func (m *Manager) room(guildID snowflake.ID, create bool) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[guildID]; ok {
		return r
	}
	if !create {
		return nil
	}
	r := newRoom(m, guildID)
	m.rooms[guildID] = r
	return r
}

func (m *Manager) remove(r *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rooms[r.id] == r {
		delete(m.rooms, r.id)
	}
}

func (m *Manager) destroySession(s Session) {
	m.sessions.Add(1)
	go func() {
		defer m.sessions.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.Destroy(ctx)
	}()
}

// onRoom runs fn in the guild's room, creating the room when create is set.
// A room that closes between lookup and delivery is replaced once.
func onRoom[T any](ctx context.Context, m *Manager, guildID snowflake.ID, create bool, idle error, fn func(r *Room) (T, error)) (T, error) {
	var zero T
	for attempt := 0; attempt < 2; attempt++ {
		r := m.room(guildID, create)
		if r == nil {
			return zero, idle
		}
		v, err := call(ctx, r, func() (T, error) { return fn(r) })
		if errors.Is(err, ErrRoomClosed) {
			continue
		}
		return v, err
	}
	if !create {
		return zero, idle
	}
	return zero, ErrRoomClosed
}

// History returns the guild's recently played tracks, oldest first.
func (m *Manager) History(guildID snowflake.ID) []Track {
	return m.history.List(guildID)
}

// Rooms counts live rooms.
func (m *Manager) Rooms() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// Enqueue appends tracks and starts playback if the room is idle. It
// returns the 1-based queue position of the first added track.
func (m *Manager) Enqueue(ctx context.Context, guildID, textChannel snowflake.ID, tracks ...Track) (int, error) {
	if len(tracks) == 0 {
		return 0, nil
	}
	return onRoom(ctx, m, guildID, true, nil, func(r *Room) (int, error) {
		first, err := r.enqueue(textChannel, tracks)
		return first + 1, err
	})
}

// Join connects to the requester's channel without queueing anything.
func (m *Manager) Join(ctx context.Context, guildID, textChannel snowflake.ID, requester Requester) (snowflake.ID, error) {
	wait := make(chan error, 1)
	channelID, err := onRoom(ctx, m, guildID, true, nil, func(r *Room) (snowflake.ID, error) {
		if textChannel != 0 {
			r.textChannel = textChannel
		}
		target, ok := m.presence.UserChannel(guildID, requester.ID)
		if !ok {
			if r.session == nil && r.joining == uuid.Nil && len(r.tracks) == 0 {
				r.teardown("no voice channel")
			}
			return 0, ErrUserNotInVoice
		}
		if r.session != nil {
			if r.voiceChannel == target {
				return target, ErrAlreadyJoined
			}
			return r.voiceChannel, ErrBusy
		}
		if err := r.connect(requester.ID, wait); err != nil {
			return 0, err
		}
		return target, nil
	})
	if err != nil {
		return channelID, err
	}

	select {
	case err := <-wait:
		return channelID, err
	case <-ctx.Done():
		return channelID, ctx.Err()
	}
}

// Leave disconnects and drops the queue.
func (m *Manager) Leave(ctx context.Context, guildID snowflake.ID) error {
	_, err := onRoom(ctx, m, guildID, false, ErrNotInVoice, func(r *Room) (struct{}, error) {
		if r.session == nil && r.phase != PhaseConnecting {
			r.teardown("leave")
			return struct{}{}, ErrNotInVoice
		}
		r.teardown("leave")
		return struct{}{}, nil
	})
	return err
}

// Stop halts playback, clears the queue and leaves voice.
func (m *Manager) Stop(ctx context.Context, guildID snowflake.ID) error {
	_, err := onRoom(ctx, m, guildID, false, ErrNotPlaying, func(r *Room) (struct{}, error) {
		r.teardown("stop")
		return struct{}{}, nil
	})
	return err
}

func (m *Manager) Skip(ctx context.Context, guildID snowflake.ID) (Track, error) {
	return onRoom(ctx, m, guildID, false, ErrNothingToSkip, func(r *Room) (Track, error) {
		return r.skip()
	})
}

func (m *Manager) Previous(ctx context.Context, guildID, textChannel snowflake.ID, requester Requester) (Track, error) {
	if m.history.Len(guildID) == 0 {
		return Track{}, ErrNoHistory
	}
	return onRoom(ctx, m, guildID, true, nil, func(r *Room) (Track, error) {
		if textChannel != 0 {
			r.textChannel = textChannel
		}
		return r.previous(requester)
	})
}

func (m *Manager) Replay(ctx context.Context, guildID snowflake.ID) (Track, error) {
	return onRoom(ctx, m, guildID, false, ErrNotPlaying, func(r *Room) (Track, error) {
		return r.replay()
	})
}

// ReplayQueue re-enqueues the guild's history in play order.
func (m *Manager) ReplayQueue(ctx context.Context, guildID, textChannel snowflake.ID, requester Requester) (int, error) {
	hist := m.history.List(guildID)
	if len(hist) == 0 {
		return 0, ErrNoHistory
	}
	for i := range hist {
		hist[i] = hist[i].WithRequester(requester)
	}
	if _, err := m.Enqueue(ctx, guildID, textChannel, hist...); err != nil {
		return 0, err
	}
	return len(hist), nil
}

func (m *Manager) Shuffle(ctx context.Context, guildID snowflake.ID) error {
	_, err := onRoom(ctx, m, guildID, false, ErrNothingToShuffle, func(r *Room) (struct{}, error) {
		return struct{}{}, r.shuffle()
	})
	return err
}

func (m *Manager) Clear(ctx context.Context, guildID snowflake.ID) (int, error) {
	return onRoom(ctx, m, guildID, false, ErrNothingToClear, func(r *Room) (int, error) {
		return r.clear()
	})
}

func (m *Manager) ToggleLoop(ctx context.Context, guildID snowflake.ID) (bool, error) {
	return onRoom(ctx, m, guildID, false, ErrNotPlaying, func(r *Room) (bool, error) {
		if r.current == nil {
			return false, ErrNotPlaying
		}
		return r.toggleLoop(), nil
	})
}

func (m *Manager) Pause(ctx context.Context, guildID snowflake.ID) error {
	_, err := onRoom(ctx, m, guildID, false, ErrNotPlaying, func(r *Room) (struct{}, error) {
		return struct{}{}, r.pause()
	})
	return err
}

func (m *Manager) Resume(ctx context.Context, guildID snowflake.ID) error {
	_, err := onRoom(ctx, m, guildID, false, ErrNotPlaying, func(r *Room) (struct{}, error) {
		return struct{}{}, r.resume()
	})
	return err
}

// TogglePause flips between playing and paused and reports whether playback
// is now paused.
func (m *Manager) TogglePause(ctx context.Context, guildID snowflake.ID) (bool, error) {
	return onRoom(ctx, m, guildID, false, ErrNotPlaying, func(r *Room) (bool, error) {
		if r.phase == PhasePaused {
			return false, r.resume()
		}
		return true, r.pause()
	})
}

// Seek moves playback by delta relative to the current position.
func (m *Manager) Seek(ctx context.Context, guildID snowflake.ID, delta time.Duration) (time.Duration, error) {
	return onRoom(ctx, m, guildID, false, ErrNotPlaying, func(r *Room) (time.Duration, error) {
		return r.seek(func(elapsed time.Duration) time.Duration { return elapsed + delta })
	})
}

// SeekTo moves playback to an absolute position.
func (m *Manager) SeekTo(ctx context.Context, guildID snowflake.ID, to time.Duration) (time.Duration, error) {
	return onRoom(ctx, m, guildID, false, ErrNotPlaying, func(r *Room) (time.Duration, error) {
		return r.seek(func(time.Duration) time.Duration { return to })
	})
}

// Snapshot returns the room's state. ok is false when the guild has no room.
func (m *Manager) Snapshot(ctx context.Context, guildID snowflake.ID) (Snapshot, bool) {
	s, err := onRoom(ctx, m, guildID, false, ErrNotPlaying, func(r *Room) (Snapshot, error) {
		return r.snapshot(), nil
	})
	return s, err == nil
}

// OnPresenceChange re-evaluates the alone watchdog after a user moved from
// oldChannel to newChannel. Changes that touch neither side of the room's
// voice channel are ignored.
func (m *Manager) OnPresenceChange(guildID, oldChannel, newChannel snowflake.ID) {
	r := m.room(guildID, false)
	if r == nil {
		return
	}
	r.send(func() {
		if r.voiceChannel == 0 || (r.voiceChannel != oldChannel && r.voiceChannel != newChannel) {
			return
		}
		r.observePresence()
	}, nil)
}

// OnBotDisconnected tears the room down after the bot was kicked or its
// channel vanished.
func (m *Manager) OnBotDisconnected(guildID snowflake.ID) {
	r := m.room(guildID, false)
	if r == nil {
		return
	}
	r.send(func() {
		if r.session == nil {
			return
		}
		sys.LogVoice(sys.MsgVoiceBotKicked, guildID)
		r.notify(NoticeWarning, sys.MsgPlayerDisconnected, nil)
		r.teardown("disconnected")
	}, nil)
}

// OnBotMoved records that the bot now sits in channelID.
func (m *Manager) OnBotMoved(guildID, channelID snowflake.ID) {
	r := m.room(guildID, false)
	if r == nil {
		return
	}
	r.send(func() {
		if r.session == nil || r.voiceChannel == channelID {
			return
		}
		sys.LogVoice(sys.MsgVoiceBotMoved, guildID, channelID)
		r.voiceChannel = channelID
		r.observePresence()
	}, nil)
}

// Shutdown tears down every room and waits for voice sessions to close.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	for _, r := range rooms {
		r.send(func() { r.teardown("shutdown") }, nil)
	}
	for _, r := range rooms {
		select {
		case <-r.done:
		case <-ctx.Done():
			return
		}
	}

	done := make(chan struct{})
	go func() {
		m.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
