package bot

import (
	"context"
	"sync"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"

	"github.com/realSUDO/Auralia/internal/discovery"
	"github.com/realSUDO/Auralia/internal/player"
)

const (
	testGuild = snowflake.ID(100000000000000001)
	testText  = snowflake.ID(400000000000000001)
	testVoice = snowflake.ID(300000000000000001)
)

var tester = player.Requester{ID: 200000000000000001, Name: "tester"}

func song(title string) player.Track {
	return player.Track{Title: title, URL: "https://youtu.be/" + title, Requester: tester, Duration: 3 * time.Minute}
}

// fakePlayer records calls and answers from its fields.
type fakePlayer struct {
	mu sync.Mutex

	snap   player.Snapshot
	hasRow bool
	err    error

	enqueued []player.Track
	position int
	paused   bool
	looping  bool
	track    player.Track
	count    int
	seekTo   time.Duration
	seekBy   time.Duration
	relative bool
	calls    []string

	presence     [][2]snowflake.ID
	disconnected int
	movedTo      snowflake.ID
}

func (f *fakePlayer) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakePlayer) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakePlayer) setSnapshot(s player.Snapshot) {
	f.mu.Lock()
	f.snap, f.hasRow = s, true
	f.mu.Unlock()
}

func (f *fakePlayer) dropRoom() {
	f.mu.Lock()
	f.hasRow = false
	f.mu.Unlock()
}

func (f *fakePlayer) Snapshot(context.Context, snowflake.ID) (player.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, f.hasRow
}

func (f *fakePlayer) Enqueue(_ context.Context, _, _ snowflake.ID, tracks ...player.Track) (int, error) {
	f.record("enqueue")
	if f.err != nil {
		return 0, f.err
	}
	f.enqueued = append(f.enqueued, tracks...)
	return f.position, nil
}

func (f *fakePlayer) Join(context.Context, snowflake.ID, snowflake.ID, player.Requester) (snowflake.ID, error) {
	f.record("join")
	return testVoice, f.err
}

func (f *fakePlayer) Leave(context.Context, snowflake.ID) error {
	f.record("leave")
	return f.err
}

func (f *fakePlayer) Stop(context.Context, snowflake.ID) error {
	f.record("stop")
	return f.err
}

func (f *fakePlayer) Skip(context.Context, snowflake.ID) (player.Track, error) {
	f.record("skip")
	return f.track, f.err
}

func (f *fakePlayer) Previous(context.Context, snowflake.ID, snowflake.ID, player.Requester) (player.Track, error) {
	f.record("previous")
	return f.track, f.err
}

func (f *fakePlayer) Replay(context.Context, snowflake.ID) (player.Track, error) {
	f.record("replay")
	return f.track, f.err
}

func (f *fakePlayer) ReplayQueue(context.Context, snowflake.ID, snowflake.ID, player.Requester) (int, error) {
	f.record("replayq")
	return f.count, f.err
}

func (f *fakePlayer) Shuffle(context.Context, snowflake.ID) error {
	f.record("shuffle")
	return f.err
}

func (f *fakePlayer) Clear(context.Context, snowflake.ID) (int, error) {
	f.record("clear")
	return f.count, f.err
}

func (f *fakePlayer) ToggleLoop(context.Context, snowflake.ID) (bool, error) {
	f.record("loop")
	return f.looping, f.err
}

func (f *fakePlayer) TogglePause(context.Context, snowflake.ID) (bool, error) {
	f.record("pause")
	return f.paused, f.err
}

func (f *fakePlayer) Seek(_ context.Context, _ snowflake.ID, delta time.Duration) (time.Duration, error) {
	f.record("seek")
	f.seekBy, f.relative = delta, true
	return time.Minute + delta, f.err
}

func (f *fakePlayer) SeekTo(_ context.Context, _ snowflake.ID, to time.Duration) (time.Duration, error) {
	f.record("seekto")
	f.seekTo, f.relative = to, false
	return to, f.err
}

func (f *fakePlayer) OnPresenceChange(_, oldChannel, newChannel snowflake.ID) {
	f.presence = append(f.presence, [2]snowflake.ID{oldChannel, newChannel})
}

func (f *fakePlayer) OnBotDisconnected(snowflake.ID) { f.disconnected++ }

func (f *fakePlayer) OnBotMoved(_, channelID snowflake.ID) { f.movedTo = channelID }

func (f *fakePlayer) Rooms() int { return 2 }

type fakeFinder struct {
	result   discovery.Result
	err      error
	attached player.Track
	queries  []string
}

func (f *fakeFinder) Resolve(_ context.Context, query string, req player.Requester) (discovery.Result, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return discovery.Result{}, f.err
	}
	res := f.result
	for i := range res.Tracks {
		res.Tracks[i].Requester = req
	}
	return res, nil
}

func (f *fakeFinder) Attachment(_ context.Context, a discovery.Attachment, req player.Requester) (player.Track, error) {
	if !a.IsAudio() {
		return player.Track{}, discovery.ErrUnsupportedMedia
	}
	t := f.attached
	t.Requester = req
	return t, f.err
}

func (f *fakeFinder) Suggest(context.Context, string) []discovery.Suggestion { return nil }

type fakePresence struct{ inVoice bool }

func (p fakePresence) UserChannel(snowflake.ID, snowflake.ID) (snowflake.ID, bool) {
	return testVoice, p.inVoice
}

func (p fakePresence) Humans(snowflake.ID, snowflake.ID) int { return 1 }

// recorder is a Responder that keeps what it was given.
type recorder struct {
	deferred int
	replies  []Response
}

func (r *recorder) Defer() error {
	r.deferred++
	return nil
}

func (r *recorder) Reply(resp Response) error {
	r.replies = append(r.replies, resp)
	return nil
}

func (r *recorder) last() Response {
	if len(r.replies) == 0 {
		return Response{}
	}
	return r.replies[len(r.replies)-1]
}

type edit struct {
	channel, message snowflake.ID
	msg              discord.MessageUpdate
}

type fakeMessenger struct {
	mu     sync.Mutex
	nextID snowflake.ID
	sent   []discord.MessageCreate
	edits  []edit
}

func (m *fakeMessenger) Send(_ context.Context, _ snowflake.ID, msg discord.MessageCreate) (snowflake.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.sent = append(m.sent, msg)
	return m.nextID, nil
}

func (m *fakeMessenger) Edit(_ context.Context, channelID, messageID snowflake.ID, msg discord.MessageUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, edit{channelID, messageID, msg})
	return nil
}

func (m *fakeMessenger) counts() (sent, edits int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent), len(m.edits)
}

func (m *fakeMessenger) editsOf(messageID snowflake.ID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.edits {
		if e.message == messageID {
			n++
		}
	}
	return n
}

func newTestBot(p *fakePlayer, f *fakeFinder, inVoice bool) *Bot {
	return New(p, f, fakePresence{inVoice: inVoice}, nil, Options{
		Prefix: "!",
		PlayCount: func(context.Context, snowflake.ID) (int64, error) {
			return 1234, nil
		},
	})
}

func request(command string, args ...string) (*Request, *recorder) {
	rec := &recorder{}
	return &Request{
		GuildID:   testGuild,
		ChannelID: testText,
		User:      tester,
		Command:   command,
		Args:      args,
		Source:    SourceMessage,
		Responder: rec,
	}, rec
}
