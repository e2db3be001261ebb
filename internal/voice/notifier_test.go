package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
	"github.com/realSUDO/Auralia/internal/player"
	"github.com/realSUDO/Auralia/internal/sys"
)

type sentMessage struct {
	channel snowflake.ID
	msg     discord.MessageCreate
	at      time.Time
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeSender) send(_ context.Context, ch snowflake.ID, msg discord.MessageCreate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{ch, msg, time.Now()})
	return f.err
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func closeNotifier(t *testing.T, n *Notifier) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n.Close(ctx)
}

func TestNotifierSendsInOrder(t *testing.T) {
	f := &fakeSender{}
	n := NewNotifier(f.send)

	for _, text := range []string{"one", "two", "three"} {
		n.Notify(player.Notice{GuildID: 1, ChannelID: 2, Kind: player.NoticeInfo, Text: text})
	}
	closeNotifier(t, n)

	if f.count() != 3 {
		t.Fatalf("sent %d messages, want 3", f.count())
	}
	for _, s := range f.sent {
		if s.channel != 2 {
			t.Errorf("sent to %s, want channel 2", s.channel)
		}
		if !s.msg.Flags.Has(discord.MessageFlagIsComponentsV2) {
			t.Error("message is not a components v2 message")
		}
	}
}

func TestNotifierRateLimitsPerChannel(t *testing.T) {
	f := &fakeSender{}
	n := NewNotifier(f.send)
	n.every = 50 * time.Millisecond
	n.burst = 1

	start := time.Now()
	for i := 0; i < 3; i++ {
		n.Notify(player.Notice{GuildID: 1, ChannelID: 2, Kind: player.NoticeInfo, Text: "x"})
	}
	closeNotifier(t, n)

	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("three messages took %s, want the limiter to space them", elapsed)
	}
}

func TestNotifierSwallowsSendErrors(t *testing.T) {
	f := &fakeSender{err: errors.New("missing access")}
	n := NewNotifier(f.send)
	n.Notify(player.Notice{GuildID: 1, ChannelID: 2, Kind: player.NoticeError, Text: "a"})
	n.Notify(player.Notice{GuildID: 1, ChannelID: 2, Kind: player.NoticeError, Text: "b"})
	closeNotifier(t, n)

	if f.count() != 2 {
		t.Errorf("sent %d, want both attempts despite errors", f.count())
	}
}

func TestNotifierNowPlayingHooks(t *testing.T) {
	f := &fakeSender{}
	n := NewNotifier(f.send)

	var mu sync.Mutex
	var statuses []string
	var cards int
	n.Status = func(_ snowflake.ID, s string) {
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
	}
	n.NowPlaying = func(player.Notice) {
		mu.Lock()
		cards++
		mu.Unlock()
	}

	tr := player.Track{Title: "Song", URL: "https://youtu.be/x"}
	n.Notify(player.Notice{GuildID: 1, ChannelID: 2, Kind: player.NoticeNowPlaying, Text: tr.Title, Track: &tr})
	n.Notify(player.Notice{GuildID: 1, ChannelID: 2, Kind: player.NoticeInfo, Text: sys.MsgPlayerAllPlayed})
	closeNotifier(t, n)

	mu.Lock()
	defer mu.Unlock()
	if cards != 1 {
		t.Errorf("now playing hook called %d times, want 1", cards)
	}
	if f.count() != 1 {
		t.Errorf("sent %d plain messages, want only the all played notice", f.count())
	}
	if len(statuses) != 2 || statuses[0] != StatusPrefix+"Song" || statuses[1] != "" {
		t.Errorf("statuses = %q, want set then cleared", statuses)
	}
}

func TestKindColor(t *testing.T) {
	tests := map[player.NoticeKind]int{
		player.NoticeInfo:       ColorInfo,
		player.NoticeSuccess:    ColorSuccess,
		player.NoticeNowPlaying: ColorSuccess,
		player.NoticeWarning:    ColorWarning,
		player.NoticeError:      ColorError,
	}
	for kind, want := range tests {
		if got := KindColor(kind); got != want {
			t.Errorf("KindColor(%d) = %#x, want %#x", kind, got, want)
		}
	}
}
