package bot

import (
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"

	"github.com/realSUDO/Auralia/internal/discovery"
	"github.com/realSUDO/Auralia/internal/player"
	"github.com/realSUDO/Auralia/internal/voice"
)

// Source tells where a request came from.
type Source int

const (
	SourceMessage Source = iota
	SourceSlash
	SourceButton
)

// Response is a command's answer.
type Response struct {
	Kind      player.NoticeKind
	Text      string
	Ephemeral bool
	// Buttons are laid out as a single row below the text.
	Buttons []discord.InteractiveComponent
	// Replace edits the message a button sits on instead of answering.
	Replace bool
	// Layout, when set, is sent as is.
	Layout []discord.LayoutComponent
}

// Quiet marks a response that buttons acknowledge silently.
func (r Response) Quiet() bool {
	return !r.Ephemeral && !r.Replace && (r.Kind == player.NoticeSuccess || r.Kind == player.NoticeInfo)
}

func (r Response) layout() []discord.LayoutComponent {
	if r.Layout != nil {
		return r.Layout
	}
	sub := []discord.ContainerSubComponent{discord.NewTextDisplay(r.Text)}
	if len(r.Buttons) > 0 {
		sub = append(sub, discord.NewActionRow(r.Buttons...))
	}
	return []discord.LayoutComponent{discord.NewContainer(sub...).WithAccentColor(voice.KindColor(r.Kind))}
}

func (r Response) create() discord.MessageCreate {
	return discord.NewMessageCreate().
		WithIsComponentsV2(true).
		WithEphemeral(r.Ephemeral).
		AddComponents(r.layout()...)
}

func (r Response) update() discord.MessageUpdate {
	return discord.NewMessageUpdate().
		WithIsComponentsV2(true).
		WithComponents(r.layout()...)
}

func reply(kind player.NoticeKind, text string) Response {
	return Response{Kind: kind, Text: text}
}

func success(text string) Response { return reply(player.NoticeSuccess, text) }
func info(text string) Response    { return reply(player.NoticeInfo, text) }
func warn(text string) Response    { return reply(player.NoticeWarning, text) }
func failure(text string) Response { return reply(player.NoticeError, text) }

// Responder delivers a response to wherever the request came from.
type Responder interface {
	// Defer acknowledges a request that needs time before its answer.
	Defer() error
	Reply(r Response) error
}

// Request is a command invocation from a prefix message, a slash command or
// a player button.
type Request struct {
	GuildID     snowflake.ID
	ChannelID   snowflake.ID
	User        player.Requester
	Command     string
	Args        []string
	Attachments []discovery.Attachment
	Source      Source
	Responder
}

// Query joins the arguments back into the text the user typed.
func (r *Request) Query() string {
	return strings.TrimSpace(strings.Join(r.Args, " "))
}

// SplitCommand parses a prefixed message into a lower-cased command name and
// its arguments. ok is false when content does not start with prefix.
func SplitCommand(content, prefix string) (name string, args []string, ok bool) {
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", nil, false
	}
	fields := strings.Fields(content[len(prefix):])
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

func attachmentsOf(list []discord.Attachment) []discovery.Attachment {
	out := make([]discovery.Attachment, 0, len(list))
	for _, a := range list {
		att := discovery.Attachment{URL: a.URL, Filename: a.Filename, Size: a.Size}
		if a.ContentType != nil {
			att.ContentType = *a.ContentType
		}
		out = append(out, att)
	}
	return out
}

// messageResponder answers prefix commands in the channel they were typed in.
type messageResponder struct {
	rest      rest.Rest
	channelID snowflake.ID
}

func (m messageResponder) Defer() error {
	return m.rest.SendTyping(m.channelID)
}

func (m messageResponder) Reply(r Response) error {
	r.Ephemeral = false
	_, err := m.rest.CreateMessage(m.channelID, r.create())
	return err
}

// slashResponder answers an application command, editing the deferred
// response when the command took long.
type slashResponder struct {
	event    *events.ApplicationCommandInteractionCreate
	deferred bool
}

func (s *slashResponder) Defer() error {
	s.deferred = true
	return s.event.DeferCreateMessage(false)
}

func (s *slashResponder) Reply(r Response) error {
	if s.deferred {
		_, err := s.event.Client().Rest.UpdateInteractionResponse(s.event.ApplicationID(), s.event.Token(), r.update())
		return err
	}
	return s.event.CreateMessage(r.create())
}

// buttonResponder acknowledges successful button presses silently and
// answers failures ephemerally.
type buttonResponder struct {
	event *events.ComponentInteractionCreate
	acked bool
}

func (b *buttonResponder) Defer() error {
	b.acked = true
	return b.event.DeferUpdateMessage()
}

func (b *buttonResponder) Reply(r Response) error {
	if r.Replace && !b.acked {
		return b.event.UpdateMessage(r.update())
	}
	if r.Quiet() {
		if b.acked {
			return nil
		}
		b.acked = true
		return b.event.DeferUpdateMessage()
	}
	r.Ephemeral = true
	if b.acked {
		_, err := b.event.Client().Rest.CreateFollowupMessage(b.event.ApplicationID(), b.event.Token(), r.create())
		return err
	}
	return b.event.CreateMessage(r.create())
}
