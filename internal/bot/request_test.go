package bot

import (
	"slices"
	"testing"

	"github.com/disgoorg/disgo/discord"

	"github.com/realSUDO/Auralia/internal/player"
)

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		content  string
		prefix   string
		wantName string
		wantArgs []string
		wantOK   bool
	}{
		{"!play never gonna", "!", "play", []string{"never", "gonna"}, true},
		{"!PLAY  x", "!", "play", []string{"x"}, true},
		{"!skip", "!", "skip", []string{}, true},
		{"?skip", "!", "", nil, false},
		{"!", "!", "", nil, false},
		{"!   ", "!", "", nil, false},
		{"hello", "", "", nil, false},
		{"au!q 2", "au!", "q", []string{"2"}, true},
	}
	for _, tt := range tests {
		name, args, ok := SplitCommand(tt.content, tt.prefix)
		if ok != tt.wantOK || name != tt.wantName || (ok && !slices.Equal(args, tt.wantArgs)) {
			t.Errorf("SplitCommand(%q, %q) = %q, %v, %t, want %q, %v, %t",
				tt.content, tt.prefix, name, args, ok, tt.wantName, tt.wantArgs, tt.wantOK)
		}
	}
}

func TestRequestQuery(t *testing.T) {
	req := &Request{Args: []string{"lofi", "", "beats"}}
	if got := req.Query(); got != "lofi  beats" {
		t.Errorf("Query() = %q", got)
	}
	if got := (&Request{}).Query(); got != "" {
		t.Errorf("empty Query() = %q", got)
	}
}

func TestResponseQuiet(t *testing.T) {
	tests := []struct {
		name string
		resp Response
		want bool
	}{
		{"success", success("ok"), true},
		{"info", info("fyi"), true},
		{"warning", warn("no"), false},
		{"error", failure("broken"), false},
		{"ephemeral", Response{Kind: player.NoticeInfo, Ephemeral: true}, false},
		{"replace", Response{Kind: player.NoticeInfo, Replace: true}, false},
	}
	for _, tt := range tests {
		if got := tt.resp.Quiet(); got != tt.want {
			t.Errorf("%s: Quiet() = %t, want %t", tt.name, got, tt.want)
		}
	}
}

func TestAttachmentsOf(t *testing.T) {
	mime := "audio/ogg"
	got := attachmentsOf([]discord.Attachment{
		{URL: "https://cdn/a.ogg", Filename: "a.ogg", ContentType: &mime, Size: 42},
		{URL: "https://cdn/b.bin", Filename: "b.bin"},
	})
	if len(got) != 2 {
		t.Fatalf("attachmentsOf() = %d items, want 2", len(got))
	}
	if got[0].ContentType != mime || got[0].Size != 42 || !got[0].IsAudio() {
		t.Errorf("first attachment = %+v", got[0])
	}
	if got[1].ContentType != "" || got[1].IsAudio() {
		t.Errorf("second attachment = %+v, want no content type and not audio", got[1])
	}
}
