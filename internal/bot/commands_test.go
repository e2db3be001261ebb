package bot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"

	"github.com/realSUDO/Auralia/internal/discovery"
	"github.com/realSUDO/Auralia/internal/player"
	"github.com/realSUDO/Auralia/internal/sys"
)

func run(b *Bot, req *Request) {
	b.Execute(context.Background(), req)
}

func TestPlay(t *testing.T) {
	errBoom := errors.New("boom")
	tests := []struct {
		name      string
		args      []string
		files     []discovery.Attachment
		inVoice   bool
		playing   bool
		finder    fakeFinder
		wantText  string
		wantKind  player.NoticeKind
		wantCalls []string
	}{
		{
			name:     "usage without a query",
			inVoice:  true,
			wantText: fmt.Sprintf(sys.MsgCmdPlayUsage, "!"),
			wantKind: player.NoticeWarning,
		},
		{
			name:      "bare play toggles pause",
			playing:   true,
			wantText:  sys.MsgCmdResumed,
			wantKind:  player.NoticeSuccess,
			wantCalls: []string{"pause"},
		},
		{
			name:     "needs a voice channel",
			args:     []string{"lofi"},
			wantText: sys.MsgPlayerNeedVoice,
			wantKind: player.NoticeWarning,
		},
		{
			name:      "single track",
			args:      []string{"never", "gonna"},
			inVoice:   true,
			finder:    fakeFinder{result: discovery.Result{Kind: discovery.KindVideo, Tracks: []player.Track{song("Rick")}}},
			wantText:  fmt.Sprintf(sys.MsgCmdAdded, "Rick", 3),
			wantKind:  player.NoticeSuccess,
			wantCalls: []string{"enqueue"},
		},
		{
			name:    "playlist",
			args:    []string{"https://youtube.com/playlist?list=x"},
			inVoice: true,
			finder: fakeFinder{result: discovery.Result{
				Kind:   discovery.KindPlaylist,
				Name:   "Mix",
				Tracks: []player.Track{song("A"), song("B"), song("C")},
			}},
			wantText:  fmt.Sprintf(sys.MsgCmdAddedMany, 3, "Mix"),
			wantKind:  player.NoticeSuccess,
			wantCalls: []string{"enqueue"},
		},
		{
			name:     "no results",
			args:     []string{"zzzz"},
			inVoice:  true,
			finder:   fakeFinder{err: discovery.ErrNoResults},
			wantText: fmt.Sprintf(sys.MsgCmdNoResults, "zzzz"),
			wantKind: player.NoticeWarning,
		},
		{
			name:     "search failure",
			args:     []string{"zzzz"},
			inVoice:  true,
			finder:   fakeFinder{err: errBoom},
			wantText: sys.MsgCmdSearchFailed,
			wantKind: player.NoticeError,
		},
		{
			name:     "spotify disabled",
			args:     []string{"https://open.spotify.com/track/x"},
			inVoice:  true,
			finder:   fakeFinder{err: discovery.ErrSpotifyDisabled},
			wantText: sys.MsgCmdSpotifyDisabled,
			wantKind: player.NoticeWarning,
		},
		{
			name:     "unsupported attachment only",
			files:    []discovery.Attachment{{Filename: "notes.pdf", ContentType: "application/pdf"}},
			inVoice:  true,
			wantText: sys.MsgCmdUnsupportedMedia,
			wantKind: player.NoticeWarning,
		},
		{
			name:      "audio attachment",
			files:     []discovery.Attachment{{Filename: "demo.mp3", ContentType: "audio/mpeg"}},
			inVoice:   true,
			finder:    fakeFinder{attached: song("demo")},
			wantText:  fmt.Sprintf(sys.MsgCmdAdded, "demo", 3),
			wantKind:  player.NoticeSuccess,
			wantCalls: []string{"enqueue"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePlayer{position: 3}
			if tt.playing {
				p.setSnapshot(playing("Now"))
			}
			f := tt.finder
			b := newTestBot(p, &f, tt.inVoice)
			req, rec := request("play", tt.args...)
			req.Attachments = tt.files
			run(b, req)

			if rec.deferred != 1 {
				t.Errorf("deferred %d times, want 1", rec.deferred)
			}
			got := rec.last()
			if got.Text != tt.wantText || got.Kind != tt.wantKind {
				t.Errorf("reply = %q (%v), want %q (%v)", got.Text, got.Kind, tt.wantText, tt.wantKind)
			}
			if calls := p.called(); !slices.Equal(calls, tt.wantCalls) {
				t.Errorf("player calls = %v, want %v", calls, tt.wantCalls)
			}
		})
	}
}

func TestPlayPassesRequesterAndChannel(t *testing.T) {
	p := &fakePlayer{position: 1}
	f := &fakeFinder{result: discovery.Result{Tracks: []player.Track{{Title: "x", URL: "https://youtu.be/x"}}}}
	b := newTestBot(p, f, true)
	req, _ := request("p", "some", "song")
	run(b, req)

	if !slices.Equal(f.queries, []string{"some song"}) {
		t.Errorf("queries = %v", f.queries)
	}
	if len(p.enqueued) != 1 || p.enqueued[0].Requester != tester {
		t.Errorf("enqueued = %+v, want one track requested by %v", p.enqueued, tester)
	}
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{player.ErrNotPlaying, sys.MsgCmdNotPlaying},
		{player.ErrNothingToSkip, sys.MsgCmdNothingToSkip},
		{player.ErrNoHistory, sys.MsgCmdNoPrevious},
		{player.ErrNothingToShuffle, sys.MsgCmdNothingToShuffle},
		{player.ErrNothingToClear, sys.MsgCmdNothingToClear},
		{player.ErrSeekUnavailable, sys.MsgCmdSeekUnavailable},
		{player.ErrNotInVoice, sys.MsgCmdNotInVoice},
		{player.ErrUserNotInVoice, sys.MsgPlayerNeedVoice},
		{player.ErrAlreadyJoined, sys.MsgCmdAlreadyJoined},
		{player.ErrBusy, sys.MsgCmdBusy},
		{player.ErrRoomClosed, sys.MsgCmdBusy},
		{fmt.Errorf("wrapped: %w", discovery.ErrAttachmentTooLarge), sys.MsgCmdAttachmentLarge},
	}
	for _, tt := range tests {
		resp, ok := errorResponse(tt.err)
		if !ok || resp.Text != tt.want {
			t.Errorf("errorResponse(%v) = %q, %t, want %q", tt.err, resp.Text, ok, tt.want)
		}
	}
	if _, ok := errorResponse(errors.New("other")); ok {
		t.Error("errorResponse matched an unknown error")
	}
}

func TestUnexpectedErrorIsGeneric(t *testing.T) {
	p := &fakePlayer{err: errors.New("socket closed")}
	b := newTestBot(p, &fakeFinder{}, true)
	req, rec := request("shuffle")
	run(b, req)
	if got := rec.last(); got.Text != sys.ErrCmdGeneric || got.Kind != player.NoticeError {
		t.Errorf("reply = %+v, want the generic error", got)
	}
}

func TestSeekCommands(t *testing.T) {
	tests := []struct {
		command  string
		args     []string
		relative bool
		want     time.Duration
	}{
		{"seek", []string{"1:30"}, false, 90 * time.Second},
		{"seek", []string{"+15s"}, true, 15 * time.Second},
		{"seek", []string{"-5"}, true, -5 * time.Second},
		{"forward", nil, true, DefaultStep},
		{"forward", []string{"30"}, true, 30 * time.Second},
		{"rewind", nil, true, -DefaultStep},
		{"rewind", []string{"1m"}, true, -time.Minute},
	}
	for _, tt := range tests {
		p := &fakePlayer{}
		b := newTestBot(p, &fakeFinder{}, true)
		req, rec := request(tt.command, tt.args...)
		run(b, req)

		got := p.seekTo
		if tt.relative {
			got = p.seekBy
		}
		if p.relative != tt.relative || got != tt.want {
			t.Errorf("%s %v: relative=%t offset=%s, want relative=%t offset=%s", tt.command, tt.args, p.relative, got, tt.relative, tt.want)
		}
		if rec.last().Kind != player.NoticeSuccess {
			t.Errorf("%s %v: reply = %+v", tt.command, tt.args, rec.last())
		}
	}
}

func TestSeekRejectsBadInput(t *testing.T) {
	p := &fakePlayer{}
	b := newTestBot(p, &fakeFinder{}, true)
	req, rec := request("seek", "1:99")
	run(b, req)
	if len(p.called()) != 0 {
		t.Errorf("player called with bad input: %v", p.called())
	}
	if got := rec.last().Text; got != fmt.Sprintf(sys.MsgCmdSeekUsage, "!") {
		t.Errorf("reply = %q, want usage", got)
	}
}

func TestReplayQueueWithoutHistory(t *testing.T) {
	p := &fakePlayer{err: player.ErrNoHistory}
	b := newTestBot(p, &fakeFinder{}, true)
	req, rec := request("replayq")
	run(b, req)
	if got := rec.last().Text; got != sys.MsgCmdNoReplayQueue {
		t.Errorf("reply = %q, want %q", got, sys.MsgCmdNoReplayQueue)
	}
}

func TestLoopReplies(t *testing.T) {
	p := &fakePlayer{}
	b := newTestBot(p, &fakeFinder{}, true)
	req, rec := request("loop")
	run(b, req)
	if got := rec.last(); got.Text != sys.MsgCmdLoopOff || got.Kind != player.NoticeInfo {
		t.Errorf("loop off reply = %+v", got)
	}
	p.looping = true
	req, rec = request("loop")
	run(b, req)
	if got := rec.last(); got.Text != sys.MsgCmdLoopOn || got.Kind != player.NoticeSuccess {
		t.Errorf("loop on reply = %+v", got)
	}
}

func TestUnknownCommandIgnored(t *testing.T) {
	p := &fakePlayer{}
	b := newTestBot(p, &fakeFinder{}, true)
	req, rec := request("dance")
	run(b, req)
	if len(rec.replies) != 0 || rec.deferred != 0 || len(p.called()) != 0 {
		t.Errorf("unknown command produced replies=%v deferred=%d calls=%v", rec.replies, rec.deferred, p.called())
	}
}

func TestOnlySlowCommandsDefer(t *testing.T) {
	p := &fakePlayer{}
	b := newTestBot(p, &fakeFinder{}, true)
	for _, tc := range []struct {
		command string
		want    int
	}{{"join", 1}, {"skip", 0}, {"queue", 0}} {
		req, rec := request(tc.command)
		run(b, req)
		if rec.deferred != tc.want {
			t.Errorf("%s deferred %d times, want %d", tc.command, rec.deferred, tc.want)
		}
	}
}

func TestQueueFromButtonIsEphemeral(t *testing.T) {
	p := &fakePlayer{}
	p.setSnapshot(playing("Now", "Next"))
	b := newTestBot(p, &fakeFinder{}, true)

	req, rec := request("queue")
	run(b, req)
	if rec.last().Ephemeral {
		t.Error("queue command reply is ephemeral")
	}

	req, rec = request("queue")
	req.Source = SourceButton
	run(b, req)
	if !rec.last().Ephemeral {
		t.Error("queue button reply is not ephemeral")
	}
}

func TestPressWithoutRoom(t *testing.T) {
	p := &fakePlayer{}
	b := newTestBot(p, &fakeFinder{}, true)

	req, rec := request("skip")
	req.Source = SourceButton
	b.Press(context.Background(), req)
	if got := rec.last(); got.Text != sys.MsgCmdNoPlayer || !got.Ephemeral {
		t.Errorf("reply = %+v, want the ephemeral no player notice", got)
	}
	if len(p.called()) != 0 {
		t.Errorf("player called: %v", p.called())
	}

	req, rec = request("")
	b.Press(context.Background(), req)
	if got := rec.last(); got.Text != sys.MsgCmdUnknownButton || !got.Ephemeral {
		t.Errorf("reply = %+v, want the unknown button notice", got)
	}
}

func TestPressRunsCommand(t *testing.T) {
	p := &fakePlayer{track: song("Gone")}
	p.setSnapshot(playing("Gone", "Next"))
	b := newTestBot(p, &fakeFinder{}, true)

	req, rec := request("skip")
	req.Source = SourceButton
	b.Press(context.Background(), req)
	if !slices.Equal(p.called(), []string{"skip"}) {
		t.Errorf("player calls = %v", p.called())
	}
	if !rec.last().Quiet() {
		t.Errorf("skip button reply %+v is not quiet", rec.last())
	}
}

func TestPageReplacesMessage(t *testing.T) {
	p := &fakePlayer{}
	p.setSnapshot(playing("Now", "Next"))
	b := newTestBot(p, &fakeFinder{}, true)
	req, rec := request("queue")
	req.Source = SourceButton
	b.Page(context.Background(), req, 1)
	if !rec.last().Replace {
		t.Errorf("page reply %+v does not replace the message", rec.last())
	}
}

func TestStats(t *testing.T) {
	b := newTestBot(&fakePlayer{}, &fakeFinder{}, true)
	req, rec := request("stats")
	run(b, req)
	text := rec.last().Text
	for _, want := range []string{"Active rooms: 2", "Songs played here: 1,234", "Cache: 0 B"} {
		if !strings.Contains(text, want) {
			t.Errorf("stats = %q, want it to contain %q", text, want)
		}
	}
}

func TestPing(t *testing.T) {
	b := newTestBot(&fakePlayer{}, &fakeFinder{}, true)
	req, rec := request("ping")
	run(b, req)
	if got := rec.last().Text; got != fmt.Sprintf(sys.MsgCmdPong, "n/a") {
		t.Errorf("ping without latency = %q", got)
	}

	b.opts.Latency = func() time.Duration { return 42 * time.Millisecond }
	req, rec = request("ping")
	run(b, req)
	if got := rec.last().Text; got != fmt.Sprintf(sys.MsgCmdPong, "42ms") {
		t.Errorf("ping = %q", got)
	}
}

func TestNowPlaying(t *testing.T) {
	p := &fakePlayer{}
	b := newTestBot(p, &fakeFinder{}, true)
	req, rec := request("np")
	run(b, req)
	if got := rec.last().Text; got != sys.MsgCmdNothingPlaying {
		t.Errorf("np while idle = %q", got)
	}

	p.setSnapshot(playing("Now"))
	req, rec = request("nowplaying")
	run(b, req)
	if len(rec.last().Layout) != 1 {
		t.Errorf("np layout = %d components, want the card", len(rec.last().Layout))
	}
}

func TestBotMoved(t *testing.T) {
	p := &fakePlayer{}
	b := newTestBot(p, &fakeFinder{}, true)
	b.BotMoved(testGuild, testVoice)
	if p.movedTo != testVoice {
		t.Errorf("OnBotMoved got %s, want %s", p.movedTo, testVoice)
	}
}

func TestUserMoved(t *testing.T) {
	voice, other := testVoice, testVoice+1
	tests := []struct {
		name     string
		from, to *snowflake.ID
		want     [][2]snowflake.ID
	}{
		{"joined", nil, &voice, [][2]snowflake.ID{{0, testVoice}}},
		{"left", &voice, nil, [][2]snowflake.ID{{testVoice, 0}}},
		{"switched", &other, &voice, [][2]snowflake.ID{{other, testVoice}}},
		{"muted in place", &voice, &voice, nil},
		{"no channel", nil, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePlayer{}
			b := newTestBot(p, &fakeFinder{}, true)
			b.UserMoved(testGuild, tt.from, tt.to)
			if !slices.Equal(p.presence, tt.want) {
				t.Errorf("OnPresenceChange calls = %v, want %v", p.presence, tt.want)
			}
		})
	}
}

func TestSlashCommands(t *testing.T) {
	b := newTestBot(&fakePlayer{}, &fakeFinder{}, true)
	cmds := b.SlashCommands()
	if len(cmds) != 2 {
		t.Fatalf("SlashCommands() = %d commands, want 2", len(cmds))
	}
	music := cmds[0].(discord.SlashCommandCreate)
	if music.Name != SlashName {
		t.Fatalf("first command = %q", music.Name)
	}
	var names []string
	for _, o := range music.Options {
		if sub, ok := o.(discord.ApplicationCommandOptionSubCommand); ok {
			names = append(names, sub.Name)
		}
	}
	if slices.Contains(names, StatsSlashName) {
		t.Error("stats is a /music subcommand")
	}
	for _, want := range []string{"play", "seek", "replayq", "nowplaying"} {
		if !slices.Contains(names, want) {
			t.Errorf("/music is missing %s", want)
		}
	}
	stats := cmds[1].(discord.SlashCommandCreate)
	if stats.Name != StatsSlashName || len(stats.Options) != 0 {
		t.Errorf("stats command = %+v", stats)
	}
}
