package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/disgoorg/disgo/discord"

	"github.com/realSUDO/Auralia/internal/player"
)

func TestProgressBar(t *testing.T) {
	tests := []struct {
		elapsed, total time.Duration
		want           string
	}{
		{0, time.Minute, strings.Repeat("▱", 15)},
		{30 * time.Second, time.Minute, strings.Repeat("▰", 7) + strings.Repeat("▱", 8)},
		{time.Minute, time.Minute, strings.Repeat("▰", 15)},
		{2 * time.Minute, time.Minute, strings.Repeat("▰", 15)},
		{time.Minute, 0, strings.Repeat("▱", 15)},
	}
	for _, tt := range tests {
		if got := ProgressBar(tt.elapsed, tt.total, ProgressCells); got != tt.want {
			t.Errorf("ProgressBar(%s, %s) = %q, want %q", tt.elapsed, tt.total, got, tt.want)
		}
	}
}

func playing(title string, upcoming ...string) player.Snapshot {
	cur := song(title)
	s := player.Snapshot{
		GuildID:  testGuild,
		Phase:    player.PhasePlaying,
		Current:  &cur,
		Elapsed:  75 * time.Second,
		Duration: 3 * time.Minute,
	}
	for _, u := range upcoming {
		s.Upcoming = append(s.Upcoming, song(u))
	}
	return s
}

func TestCardText(t *testing.T) {
	s := playing("Intro", "Second")
	text := CardText(s, false)
	for _, want := range []string{"**Intro**", "1:15 / 3:00", "Requested by tester", "Queue: 2 song(s)"} {
		if !strings.Contains(text, want) {
			t.Errorf("CardText() = %q, want it to contain %q", text, want)
		}
	}
	if strings.Contains(text, "Paused") {
		t.Errorf("CardText() = %q, want no paused footer while playing", text)
	}

	s.Phase = player.PhasePaused
	if text := CardText(s, false); !strings.Contains(text, "Paused") {
		t.Errorf("paused CardText() = %q, want the paused footer", text)
	}

	s.Duration = 0
	if text := CardText(s, false); strings.Contains(text, "▱") {
		t.Errorf("CardText() without duration = %q, want no progress bar", text)
	}
}

func TestControlButtons(t *testing.T) {
	find := func(rows [2][]discord.ButtonComponent, action string) discord.ButtonComponent {
		for _, r := range rows {
			for _, b := range r {
				if b.CustomID == PlayerButtonPrefix+action {
					return b
				}
			}
		}
		t.Fatalf("no %s button", action)
		return discord.ButtonComponent{}
	}

	s := playing("Solo")
	rows := ControlButtons(s, false)
	if len(rows[0]) != 4 || len(rows[1]) != 4 {
		t.Fatalf("rows = %d/%d buttons, want 4/4", len(rows[0]), len(rows[1]))
	}
	if !find(rows, "shuffle").Disabled {
		t.Error("shuffle enabled without upcoming tracks")
	}
	if find(rows, "replay").Disabled {
		t.Error("replay disabled while a track plays")
	}
	if find(rows, "loop").Style != discord.ButtonStyleSecondary {
		t.Error("loop button highlighted while not looping")
	}

	s = playing("Solo", "Next")
	s.Looping = true
	s.Phase = player.PhasePaused
	rows = ControlButtons(s, false)
	if find(rows, "shuffle").Disabled {
		t.Error("shuffle disabled with upcoming tracks")
	}
	if find(rows, "loop").Style != discord.ButtonStyleSuccess {
		t.Error("loop button not highlighted while looping")
	}
	if find(rows, "pause").Label != "▶️" {
		t.Errorf("pause label = %q while paused, want resume", find(rows, "pause").Label)
	}

	for _, r := range ControlButtons(s, true) {
		for _, b := range r {
			if !b.Disabled {
				t.Errorf("button %s enabled on a finished card", b.CustomID)
			}
		}
	}
}

func TestQueuePage(t *testing.T) {
	if resp := QueuePage(player.Snapshot{}, 1); resp.Text != "Queue is empty!" || !resp.Ephemeral {
		t.Errorf("empty QueuePage() = %+v, want the ephemeral empty notice", resp)
	}

	solo := QueuePage(playing("Solo"), 1)
	if !strings.Contains(solo.Text, "No upcoming songs.") || len(solo.Buttons) != 0 {
		t.Errorf("QueuePage(solo) = %+v, want no upcoming and no buttons", solo)
	}

	var titles []string
	for i := 0; i < 25; i++ {
		titles = append(titles, "Song"+string(rune('A'+i)))
	}
	s := playing("Head", titles...)

	first := QueuePage(s, 1)
	if !strings.Contains(first.Text, "page 1/3") || !strings.Contains(first.Text, "1. SongA") || !strings.Contains(first.Text, "...and 15 more") {
		t.Errorf("page 1 = %q", first.Text)
	}
	if len(first.Buttons) != 2 {
		t.Fatalf("page 1 buttons = %d, want 2", len(first.Buttons))
	}
	prev := first.Buttons[0].(discord.ButtonComponent)
	next := first.Buttons[1].(discord.ButtonComponent)
	if !prev.Disabled || next.Disabled || next.CustomID != QueueButtonPrefix+"2" {
		t.Errorf("page 1 buttons = %+v / %+v, want prev disabled and next to page 2", prev, next)
	}

	last := QueuePage(s, 99)
	if !strings.Contains(last.Text, "page 3/3") || !strings.Contains(last.Text, "21. SongU") || strings.Contains(last.Text, "more") {
		t.Errorf("clamped last page = %q", last.Text)
	}
	if !strings.Contains(last.Text, "26 song(s)") {
		t.Errorf("footer in %q, want 26 songs", last.Text)
	}
}

func TestParseButtonIDs(t *testing.T) {
	if a, ok := ParseButton("player:skip"); !ok || a != "skip" {
		t.Errorf("ParseButton(player:skip) = %q, %t", a, ok)
	}
	if _, ok := ParseButton("player:"); ok {
		t.Error("ParseButton accepted an empty action")
	}
	if p, ok := ParseQueuePage("queue:3"); !ok || p != 3 {
		t.Errorf("ParseQueuePage(queue:3) = %d, %t", p, ok)
	}
	if _, ok := ParseQueuePage("queue:x"); ok {
		t.Error("ParseQueuePage accepted a non-number")
	}
}

func TestCardsLifecycle(t *testing.T) {
	p := &fakePlayer{}
	out := &fakeMessenger{}
	cards := NewCards(p, out)
	cards.every = time.Hour

	first := song("First")
	p.setSnapshot(playing("First", "Second"))
	cards.Show(player.Notice{GuildID: testGuild, ChannelID: testText, Kind: player.NoticeNowPlaying, Track: &first})
	if sent, _ := out.counts(); sent != 1 {
		t.Fatalf("sent %d cards, want 1", sent)
	}

	cards.Refresh(context.Background(), testGuild)
	if n := out.editsOf(1); n != 1 {
		t.Errorf("refresh made %d edits, want 1", n)
	}

	second := song("Second")
	p.setSnapshot(playing("Second"))
	cards.Show(player.Notice{GuildID: testGuild, ChannelID: testText, Kind: player.NoticeNowPlaying, Track: &second})
	if n := out.editsOf(1); n != 2 {
		t.Errorf("first card edits = %d, want it frozen once the next track started", n)
	}
	if sent, _ := out.counts(); sent != 2 {
		t.Errorf("sent %d cards, want 2", sent)
	}

	p.dropRoom()
	cards.Refresh(context.Background(), testGuild)
	if n := out.editsOf(2); n != 1 {
		t.Errorf("second card edits = %d, want it frozen after the room closed", n)
	}

	cards.Close(context.Background())
	if n := out.editsOf(2); n != 1 {
		t.Errorf("second card edited again on close: %d edits", n)
	}
}

func TestCardsFollowFreezesWhenTrackEnds(t *testing.T) {
	p := &fakePlayer{}
	out := &fakeMessenger{}
	cards := NewCards(p, out)
	cards.every = 5 * time.Millisecond

	only := song("Only")
	p.setSnapshot(playing("Only"))
	cards.Show(player.Notice{GuildID: testGuild, ChannelID: testText, Kind: player.NoticeNowPlaying, Track: &only})

	cards.mu.Lock()
	cd := cards.cards[testGuild]
	cards.mu.Unlock()
	if cd == nil {
		t.Fatal("no live card after Show")
	}

	p.setSnapshot(player.Snapshot{GuildID: testGuild, Phase: player.PhaseIdle})
	select {
	case <-cd.done:
	case <-time.After(2 * time.Second):
		t.Fatal("card was not retired after its track ended")
	}
	if n := out.editsOf(1); n < 1 {
		t.Error("finished card was not frozen")
	}
	cards.mu.Lock()
	live := len(cards.cards)
	cards.mu.Unlock()
	if live != 0 {
		t.Errorf("%d live cards after the track ended, want 0", live)
	}
	cards.Close(context.Background())
}
