package bot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
	"github.com/dustin/go-humanize"

	"github.com/realSUDO/Auralia/internal/discovery"
	"github.com/realSUDO/Auralia/internal/player"
	"github.com/realSUDO/Auralia/internal/sys"
)

const commandTimeout = 2 * time.Minute

// Player is the part of the playback engine the commands drive.
type Player interface {
	Snapshotter
	Enqueue(ctx context.Context, guildID, textChannel snowflake.ID, tracks ...player.Track) (int, error)
	Join(ctx context.Context, guildID, textChannel snowflake.ID, requester player.Requester) (snowflake.ID, error)
	Leave(ctx context.Context, guildID snowflake.ID) error
	Stop(ctx context.Context, guildID snowflake.ID) error
	Skip(ctx context.Context, guildID snowflake.ID) (player.Track, error)
	Previous(ctx context.Context, guildID, textChannel snowflake.ID, requester player.Requester) (player.Track, error)
	Replay(ctx context.Context, guildID snowflake.ID) (player.Track, error)
	ReplayQueue(ctx context.Context, guildID, textChannel snowflake.ID, requester player.Requester) (int, error)
	Shuffle(ctx context.Context, guildID snowflake.ID) error
	Clear(ctx context.Context, guildID snowflake.ID) (int, error)
	ToggleLoop(ctx context.Context, guildID snowflake.ID) (bool, error)
	TogglePause(ctx context.Context, guildID snowflake.ID) (bool, error)
	Seek(ctx context.Context, guildID snowflake.ID, delta time.Duration) (time.Duration, error)
	SeekTo(ctx context.Context, guildID snowflake.ID, to time.Duration) (time.Duration, error)
	OnPresenceChange(guildID, oldChannel, newChannel snowflake.ID)
	OnBotDisconnected(guildID snowflake.ID)
	OnBotMoved(guildID, channelID snowflake.ID)
	Rooms() int
}

// Finder turns user input into tracks.
type Finder interface {
	Resolve(ctx context.Context, query string, requester player.Requester) (discovery.Result, error)
	Attachment(ctx context.Context, a discovery.Attachment, requester player.Requester) (player.Track, error)
	Suggest(ctx context.Context, query string) []discovery.Suggestion
}

// VoiceTracker follows the bot's own voice channel.
type VoiceTracker interface {
	Moved(guildID, channelID snowflake.ID)
	Channel(guildID snowflake.ID) (snowflake.ID, bool)
}

type Options struct {
	Prefix   string
	CacheDir string
	// Voice, when set, is told about server-side moves of the bot.
	Voice VoiceTracker
	// Latency reports the gateway heartbeat latency.
	Latency func() time.Duration
	// PlayCount defaults to the database counter.
	PlayCount func(ctx context.Context, guildID snowflake.ID) (int64, error)
}

type command struct {
	name        string
	aliases     []string
	description string
	options     []discord.ApplicationCommandOption
	// slow commands are acknowledged before they run.
	slow bool
	run  func(ctx context.Context, req *Request) Response
}

// Bot routes requests to the player.
type Bot struct {
	player   Player
	finder   Finder
	presence player.Presence
	cards    *Cards
	opts     Options

	list  []*command
	index map[string]*command
}

func New(p Player, f Finder, presence player.Presence, cards *Cards, opts Options) *Bot {
	if opts.PlayCount == nil {
		opts.PlayCount = sys.GetPlayCount
	}
	b := &Bot{
		player:   p,
		finder:   f,
		presence: presence,
		cards:    cards,
		opts:     opts,
		index:    make(map[string]*command),
	}
	b.list = b.commands()
	for _, c := range b.list {
		b.index[c.name] = c
		for _, a := range c.aliases {
			b.index[a] = c
		}
	}
	return b
}

func (b *Bot) commands() []*command {
	return []*command{
		{name: "play", aliases: []string{"p"}, description: "Play a song, playlist or attachment, or toggle pause", slow: true, run: b.play,
			options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionString{Name: "query", Description: "Song name or URL", Autocomplete: true},
				discord.ApplicationCommandOptionAttachment{Name: "file", Description: "Audio file to play"},
			}},
		{name: "pause", description: "Pause or resume playback", run: b.pause},
		{name: "skip", aliases: []string{"next"}, description: "Skip the current song", run: b.skip},
		{name: "previous", aliases: []string{"prev"}, description: "Play the previous song", run: b.previous},
		{name: "loop", description: "Toggle looping the current song", run: b.loop},
		{name: "stop", description: "Stop playback and clear the queue", run: b.stop},
		{name: "queue", aliases: []string{"q"}, description: "Show the queue", run: b.queue,
			options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionInt{Name: "page", Description: "Page to show"},
			}},
		{name: "clear", description: "Remove every upcoming song", run: b.clear},
		{name: "shuffle", description: "Shuffle the upcoming songs", run: b.shuffle},
		{name: "replay", description: "Restart the current song", run: b.replay},
		{name: "replayq", description: "Queue the recently played songs again", run: b.replayQueue},
		{name: "join", description: "Join your voice channel", slow: true, run: b.join},
		{name: "leave", description: "Leave the voice channel", run: b.leave},
		{name: "seek", description: "Jump to a position", run: b.seek,
			options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionString{Name: "position", Description: "1:30, 90, +30s or -10s", Required: true},
			}},
		{name: "forward", description: "Skip ahead in the current song", run: b.step(1),
			options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionString{Name: "amount", Description: "Seconds or a duration like 30s"},
			}},
		{name: "rewind", description: "Go back in the current song", run: b.step(-1),
			options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionString{Name: "amount", Description: "Seconds or a duration like 30s"},
			}},
		{name: "nowplaying", aliases: []string{"np"}, description: "Show the current song", run: b.nowPlaying},
		{name: "ping", description: "Check the bot's latency", run: b.ping},
		{name: "commands", aliases: []string{"help"}, description: "List the commands", run: b.help},
		{name: "stats", description: "Show bot statistics", run: b.stats},
	}
}

func (b *Bot) lookup(name string) (*command, bool) {
	c, ok := b.index[name]
	return c, ok
}

// Execute runs req.Command and sends its response. Unknown commands are
// ignored.
func (b *Bot) Execute(ctx context.Context, req *Request) {
	cmd, ok := b.lookup(req.Command)
	if !ok {
		return
	}
	sys.LogCommand(sys.MsgCmdInvoked, req.GuildID, req.User.Name, cmd.name, req.Query())

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if cmd.slow {
		if err := req.Defer(); err != nil {
			sys.LogComponentWarn("command", sys.MsgCmdFailed, req.GuildID, cmd.name, err)
		}
	}
	resp := cmd.run(ctx, req)
	if err := req.Reply(resp); err != nil {
		sys.LogComponentWarn("command", sys.MsgCmdFailed, req.GuildID, cmd.name, err)
	}
}

// failed maps an error to a reply. Unexpected errors are logged.
func (b *Bot) failed(req *Request, err error) Response {
	if resp, ok := errorResponse(err); ok {
		return resp
	}
	sys.LogComponentWarn("command", sys.MsgCmdFailed, req.GuildID, req.Command, err)
	return failure(sys.ErrCmdGeneric)
}

func errorResponse(err error) (Response, bool) {
	switch {
	case errors.Is(err, player.ErrNotPlaying):
		return warn(sys.MsgCmdNotPlaying), true
	case errors.Is(err, player.ErrNothingToSkip):
		return warn(sys.MsgCmdNothingToSkip), true
	case errors.Is(err, player.ErrNoHistory):
		return warn(sys.MsgCmdNoPrevious), true
	case errors.Is(err, player.ErrNothingToShuffle):
		return warn(sys.MsgCmdNothingToShuffle), true
	case errors.Is(err, player.ErrNothingToClear):
		return warn(sys.MsgCmdNothingToClear), true
	case errors.Is(err, player.ErrSeekUnavailable):
		return warn(sys.MsgCmdSeekUnavailable), true
	case errors.Is(err, player.ErrNotInVoice):
		return warn(sys.MsgCmdNotInVoice), true
	case errors.Is(err, player.ErrUserNotInVoice):
		return warn(sys.MsgPlayerNeedVoice), true
	case errors.Is(err, player.ErrAlreadyJoined):
		return info(sys.MsgCmdAlreadyJoined), true
	case errors.Is(err, player.ErrBusy), errors.Is(err, player.ErrRoomClosed):
		return warn(sys.MsgCmdBusy), true
	case errors.Is(err, discovery.ErrSpotifyDisabled):
		return warn(sys.MsgCmdSpotifyDisabled), true
	case errors.Is(err, discovery.ErrUnsupportedMedia):
		return warn(sys.MsgCmdUnsupportedMedia), true
	case errors.Is(err, discovery.ErrAttachmentTooLarge):
		return warn(sys.MsgCmdAttachmentLarge), true
	}
	return Response{}, false
}

func audioAttachments(list []discovery.Attachment) []discovery.Attachment {
	var out []discovery.Attachment
	for _, a := range list {
		if a.IsAudio() {
			out = append(out, a)
		}
	}
	return out
}

func (b *Bot) play(ctx context.Context, req *Request) Response {
	query := req.Query()
	files := audioAttachments(req.Attachments)
	if query == "" && len(files) == 0 {
		if len(req.Attachments) > 0 {
			return warn(sys.MsgCmdUnsupportedMedia)
		}
		if snap, ok := b.player.Snapshot(ctx, req.GuildID); ok && snap.Current != nil {
			return b.pause(ctx, req)
		}
		return warn(fmt.Sprintf(sys.MsgCmdPlayUsage, b.opts.Prefix))
	}
	if _, ok := b.presence.UserChannel(req.GuildID, req.User.ID); !ok {
		return warn(sys.MsgPlayerNeedVoice)
	}

	var tracks []player.Track
	for _, a := range files {
		t, err := b.finder.Attachment(ctx, a, req.User)
		if err != nil {
			return b.failed(req, err)
		}
		tracks = append(tracks, t)
	}

	name := query
	if query != "" {
		res, err := b.finder.Resolve(ctx, query, req.User)
		switch {
		case errors.Is(err, discovery.ErrNoResults):
			return warn(fmt.Sprintf(sys.MsgCmdNoResults, query))
		case err != nil:
			if resp, ok := errorResponse(err); ok {
				return resp
			}
			sys.LogComponentWarn("command", sys.MsgDiscoveryResolveFail, query, err)
			return failure(sys.MsgCmdSearchFailed)
		}
		tracks = append(tracks, res.Tracks...)
		if res.Name != "" {
			name = res.Name
		}
	}

	pos, err := b.player.Enqueue(ctx, req.GuildID, req.ChannelID, tracks...)
	if err != nil {
		return b.failed(req, err)
	}
	if len(tracks) == 1 {
		return success(fmt.Sprintf(sys.MsgCmdAdded, tracks[0].Title, pos))
	}
	if name == "" {
		name = files[0].Filename
	}
	return success(fmt.Sprintf(sys.MsgCmdAddedMany, len(tracks), name))
}

func (b *Bot) pause(ctx context.Context, req *Request) Response {
	paused, err := b.player.TogglePause(ctx, req.GuildID)
	if err != nil {
		return b.failed(req, err)
	}
	if paused {
		return success(sys.MsgCmdPaused)
	}
	return success(sys.MsgCmdResumed)
}

func (b *Bot) skip(ctx context.Context, req *Request) Response {
	t, err := b.player.Skip(ctx, req.GuildID)
	if err != nil {
		return b.failed(req, err)
	}
	return success(fmt.Sprintf(sys.MsgCmdSkipped, t.Title))
}

func (b *Bot) previous(ctx context.Context, req *Request) Response {
	t, err := b.player.Previous(ctx, req.GuildID, req.ChannelID, req.User)
	if err != nil {
		return b.failed(req, err)
	}
	return success(fmt.Sprintf(sys.MsgCmdPrevious, t.Title))
}

func (b *Bot) loop(ctx context.Context, req *Request) Response {
	on, err := b.player.ToggleLoop(ctx, req.GuildID)
	if err != nil {
		return b.failed(req, err)
	}
	if on {
		return success(sys.MsgCmdLoopOn)
	}
	return info(sys.MsgCmdLoopOff)
}

func (b *Bot) stop(ctx context.Context, req *Request) Response {
	if err := b.player.Stop(ctx, req.GuildID); err != nil {
		return b.failed(req, err)
	}
	return success(sys.MsgCmdStopped)
}

func (b *Bot) queue(ctx context.Context, req *Request) Response {
	page := 1
	if len(req.Args) > 0 {
		if n, err := strconv.Atoi(req.Args[0]); err == nil {
			page = n
		}
	}
	snap, _ := b.player.Snapshot(ctx, req.GuildID)
	resp := QueuePage(snap, page)
	if req.Source == SourceButton {
		resp.Ephemeral = true
	}
	return resp
}

func (b *Bot) clear(ctx context.Context, req *Request) Response {
	n, err := b.player.Clear(ctx, req.GuildID)
	if err != nil {
		return b.failed(req, err)
	}
	return success(fmt.Sprintf(sys.MsgCmdCleared, n))
}

func (b *Bot) shuffle(ctx context.Context, req *Request) Response {
	if err := b.player.Shuffle(ctx, req.GuildID); err != nil {
		return b.failed(req, err)
	}
	return success(sys.MsgCmdShuffled)
}

func (b *Bot) replay(ctx context.Context, req *Request) Response {
	if _, err := b.player.Replay(ctx, req.GuildID); err != nil {
		return b.failed(req, err)
	}
	return success(sys.MsgCmdReplaying)
}

func (b *Bot) replayQueue(ctx context.Context, req *Request) Response {
	n, err := b.player.ReplayQueue(ctx, req.GuildID, req.ChannelID, req.User)
	if errors.Is(err, player.ErrNoHistory) {
		return warn(sys.MsgCmdNoReplayQueue)
	}
	if err != nil {
		return b.failed(req, err)
	}
	return success(fmt.Sprintf(sys.MsgCmdReplayQueue, n))
}

func (b *Bot) join(ctx context.Context, req *Request) Response {
	channelID, err := b.player.Join(ctx, req.GuildID, req.ChannelID, req.User)
	if err != nil {
		return b.failed(req, err)
	}
	return success(fmt.Sprintf(sys.MsgCmdJoined, fmt.Sprintf("<#%s>", channelID)))
}

func (b *Bot) leave(ctx context.Context, req *Request) Response {
	if err := b.player.Leave(ctx, req.GuildID); err != nil {
		return b.failed(req, err)
	}
	return success(sys.MsgCmdLeft)
}

func (b *Bot) seek(ctx context.Context, req *Request) Response {
	arg, err := ParseSeek(req.Query())
	if err != nil {
		return warn(fmt.Sprintf(sys.MsgCmdSeekUsage, b.opts.Prefix))
	}
	var pos time.Duration
	if arg.Relative {
		pos, err = b.player.Seek(ctx, req.GuildID, arg.Offset)
	} else {
		pos, err = b.player.SeekTo(ctx, req.GuildID, arg.Offset)
	}
	if err != nil {
		return b.failed(req, err)
	}
	return success(fmt.Sprintf(sys.MsgCmdSeeked, sys.FormatClock(pos)))
}

func (b *Bot) step(sign time.Duration) func(ctx context.Context, req *Request) Response {
	return func(ctx context.Context, req *Request) Response {
		d, err := ParseStep(req.Args)
		if err != nil {
			return warn(fmt.Sprintf(sys.MsgCmdSeekUsage, b.opts.Prefix))
		}
		pos, err := b.player.Seek(ctx, req.GuildID, sign*d)
		if err != nil {
			return b.failed(req, err)
		}
		return success(fmt.Sprintf(sys.MsgCmdSeeked, sys.FormatClock(pos)))
	}
}

func (b *Bot) nowPlaying(ctx context.Context, req *Request) Response {
	snap, ok := b.player.Snapshot(ctx, req.GuildID)
	if !ok || snap.Current == nil {
		return warn(sys.MsgCmdNothingPlaying)
	}
	return Response{Kind: player.NoticeInfo, Layout: RenderCard(snap, false)}
}

func (b *Bot) ping(_ context.Context, _ *Request) Response {
	latency := "n/a"
	if b.opts.Latency != nil {
		if d := b.opts.Latency(); d > 0 {
			latency = fmt.Sprintf("%dms", d.Milliseconds())
		}
	}
	return info(fmt.Sprintf(sys.MsgCmdPong, latency))
}

func (b *Bot) help(_ context.Context, _ *Request) Response {
	return info(fmt.Sprintf(sys.MsgCmdHelp, b.opts.Prefix))
}

func (b *Bot) stats(ctx context.Context, req *Request) Response {
	plays, err := b.opts.PlayCount(ctx, req.GuildID)
	if err != nil {
		sys.LogComponentWarn("command", sys.MsgCmdFailed, req.GuildID, "stats", err)
	}
	size := cacheSize(b.opts.CacheDir)
	return info(fmt.Sprintf(sys.MsgCmdStats,
		sys.FormatDuration(time.Since(sys.StartupTime).Truncate(time.Second)),
		b.player.Rooms(),
		humanize.Comma(plays),
		humanize.Bytes(uint64(size)),
	))
}

// cacheSize sums the size of the files under dir.
func cacheSize(dir string) int64 {
	if dir == "" {
		return 0
	}
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			total += fi.Size()
		}
		return nil
	})
	return total
}
