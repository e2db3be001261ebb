package bot

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/omit"
	"github.com/disgoorg/snowflake/v2"

	"github.com/realSUDO/Auralia/internal/player"
	"github.com/realSUDO/Auralia/internal/sys"
)

const (
	SlashName      = "music"
	StatsSlashName = "stats"

	suggestTimeout = 2500 * time.Millisecond
)

// SlashCommands builds the application commands: /music with one
// subcommand per command, and the admin only /stats.
func (b *Bot) SlashCommands() []discord.ApplicationCommandCreate {
	var subs []discord.ApplicationCommandOption
	for _, c := range b.list {
		if c.name == StatsSlashName {
			continue
		}
		subs = append(subs, discord.ApplicationCommandOptionSubCommand{
			Name:        c.name,
			Description: c.description,
			Options:     c.options,
		})
	}
	adminPerm := discord.PermissionAdministrator
	guildOnly := []discord.InteractionContextType{discord.InteractionContextTypeGuild}
	return []discord.ApplicationCommandCreate{
		discord.SlashCommandCreate{
			Name:        SlashName,
			Description: "Play music in your voice channel",
			Contexts:    guildOnly,
			Options:     subs,
		},
		discord.SlashCommandCreate{
			Name:                     StatsSlashName,
			Description:              "Show bot statistics (Admin Only)",
			DefaultMemberPermissions: omit.New(&adminPerm),
			Contexts:                 guildOnly,
		},
	}
}

// Register hooks the bot into the event registries.
func (b *Bot) Register() {
	cmds := b.SlashCommands()
	sys.RegisterCommand(cmds[0], b.onSlash)
	sys.RegisterCommand(cmds[1], b.onSlash)
	sys.RegisterAutocompleteHandler(SlashName, b.onAutocomplete)
	sys.RegisterComponentHandler(PlayerButtonPrefix, b.onPlayerButton)
	sys.RegisterComponentHandler(QueueButtonPrefix, b.onQueueButton)
	sys.RegisterMessageHandler(b.onMessage)
	sys.RegisterVoiceStateUpdateHandler(b.onVoiceState)
}

func requester(u discord.User) player.Requester {
	return player.Requester{ID: u.ID, Name: u.Username}
}

func (b *Bot) onMessage(event *events.MessageCreate) {
	if event.GuildID == nil {
		return
	}
	name, args, ok := SplitCommand(event.Message.Content, b.opts.Prefix)
	if !ok {
		return
	}
	if _, known := b.lookup(name); !known {
		return
	}
	b.Execute(sys.AppContext, &Request{
		GuildID:     *event.GuildID,
		ChannelID:   event.ChannelID,
		User:        requester(event.Message.Author),
		Command:     name,
		Args:        args,
		Attachments: attachmentsOf(event.Message.Attachments),
		Source:      SourceMessage,
		Responder:   messageResponder{rest: event.Client().Rest, channelID: event.ChannelID},
	})
}

func (b *Bot) onSlash(event *events.ApplicationCommandInteractionCreate) {
	guildID := event.GuildID()
	if guildID == nil {
		return
	}
	data := event.SlashCommandInteractionData()
	name := data.CommandName()
	if data.SubCommandName != nil {
		name = *data.SubCommandName
	}
	cmd, ok := b.lookup(name)
	if !ok {
		return
	}

	req := &Request{
		GuildID:   *guildID,
		ChannelID: event.Channel().ID(),
		User:      requester(event.User()),
		Command:   cmd.name,
		Source:    SourceSlash,
		Responder: &slashResponder{event: event},
	}
	for _, opt := range cmd.options {
		switch o := opt.(type) {
		case discord.ApplicationCommandOptionString:
			if v, ok := data.OptString(o.Name); ok {
				req.Args = append(req.Args, strings.Fields(v)...)
			}
		case discord.ApplicationCommandOptionInt:
			if v, ok := data.OptInt(o.Name); ok {
				req.Args = append(req.Args, strconv.Itoa(v))
			}
		case discord.ApplicationCommandOptionAttachment:
			if a, ok := data.OptAttachment(o.Name); ok {
				req.Attachments = append(req.Attachments, attachmentsOf([]discord.Attachment{a})...)
			}
		}
	}
	b.Execute(sys.AppContext, req)
}

func (b *Bot) onAutocomplete(event *events.AutocompleteInteractionCreate) {
	focused := event.Data.Focused()
	if focused.Name != "query" {
		_ = event.AutocompleteResult(nil)
		return
	}
	q := focused.String()
	if q == "" || strings.Contains(q, "http") {
		_ = event.AutocompleteResult(nil)
		return
	}
	ctx, cancel := context.WithTimeout(sys.AppContext, suggestTimeout)
	defer cancel()

	var choices []discord.AutocompleteChoice
	for _, s := range b.finder.Suggest(ctx, q) {
		choices = append(choices, discord.AutocompleteChoiceString{Name: s.Name, Value: s.Value})
	}
	_ = event.AutocompleteResult(choices)
}

func (b *Bot) buttonRequest(event *events.ComponentInteractionCreate, command string) (*Request, bool) {
	guildID := event.GuildID()
	if guildID == nil {
		return nil, false
	}
	return &Request{
		GuildID:   *guildID,
		ChannelID: event.Channel().ID(),
		User:      requester(event.User()),
		Command:   command,
		Source:    SourceButton,
		Responder: &buttonResponder{event: event},
	}, true
}

// buttonCommands maps player buttons to the commands they run.
var buttonCommands = map[string]string{
	"previous": "previous",
	"pause":    "pause",
	"skip":     "skip",
	"loop":     "loop",
	"replay":   "replay",
	"shuffle":  "shuffle",
	"queue":    "queue",
	"stop":     "stop",
}

func (b *Bot) onPlayerButton(event *events.ComponentInteractionCreate) {
	action, _ := ParseButton(event.Data.CustomID())
	req, ok := b.buttonRequest(event, buttonCommands[action])
	if !ok {
		return
	}
	b.Press(sys.AppContext, req)
}

// Press runs a player button.
func (b *Bot) Press(ctx context.Context, req *Request) {
	if _, ok := b.lookup(req.Command); !ok || req.Command == "" {
		_ = req.Reply(Response{Kind: player.NoticeError, Text: sys.MsgCmdUnknownButton, Ephemeral: true})
		return
	}
	if _, ok := b.player.Snapshot(ctx, req.GuildID); !ok {
		_ = req.Reply(Response{Kind: player.NoticeError, Text: sys.MsgCmdNoPlayer, Ephemeral: true})
		return
	}
	b.Execute(ctx, req)
	if b.cards != nil {
		b.cards.Refresh(ctx, req.GuildID)
	}
}

func (b *Bot) onQueueButton(event *events.ComponentInteractionCreate) {
	page, ok := ParseQueuePage(event.Data.CustomID())
	if !ok {
		_ = event.DeferUpdateMessage()
		return
	}
	req, ok := b.buttonRequest(event, "queue")
	if !ok {
		return
	}
	b.Page(sys.AppContext, req, page)
}

// Page replaces a queue view with another page.
func (b *Bot) Page(ctx context.Context, req *Request, page int) {
	snap, ok := b.player.Snapshot(ctx, req.GuildID)
	if !ok {
		_ = req.Reply(Response{Kind: player.NoticeError, Text: sys.MsgCmdNoPlayer, Ephemeral: true})
		return
	}
	resp := QueuePage(snap, page)
	resp.Replace = true
	if err := req.Reply(resp); err != nil {
		sys.LogComponentWarn("command", sys.MsgCmdFailed, req.GuildID, "queue", err)
	}
}

func (b *Bot) onVoiceState(event *events.GuildVoiceStateUpdate) {
	vs := event.VoiceState
	if vs.UserID != event.Client().ID() {
		b.UserMoved(vs.GuildID, event.OldVoiceState.ChannelID, vs.ChannelID)
		return
	}
	if vs.ChannelID == nil {
		b.player.OnBotDisconnected(vs.GuildID)
		return
	}
	b.BotMoved(vs.GuildID, *vs.ChannelID)
}

// UserMoved forwards a listener's channel change to the player. Mute and
// deafen updates keep the channel and are dropped here.
func (b *Bot) UserMoved(guildID snowflake.ID, from, to *snowflake.ID) {
	oldChannel, newChannel := channelOf(from), channelOf(to)
	if oldChannel == newChannel {
		return
	}
	b.player.OnPresenceChange(guildID, oldChannel, newChannel)
}

func channelOf(id *snowflake.ID) snowflake.ID {
	if id == nil {
		return 0
	}
	return *id
}

// BotMoved records that the bot's voice state now points at channelID.
func (b *Bot) BotMoved(guildID, channelID snowflake.ID) {
	if v := b.opts.Voice; v != nil {
		if current, ok := v.Channel(guildID); ok && current != channelID {
			v.Moved(guildID, channelID)
		}
	}
	b.player.OnBotMoved(guildID, channelID)
}
