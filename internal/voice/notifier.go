package voice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"golang.org/x/time/rate"

	"github.com/realSUDO/Auralia/internal/player"
	"github.com/realSUDO/Auralia/internal/sys"
)

// Accent colours per notice kind.
const (
	ColorInfo    = 0x5865F2
	ColorSuccess = 0x57F287
	ColorWarning = 0xFEE75C
	ColorError   = 0xED4245
)

const (
	notifyQueue   = 64
	notifyTimeout = 10 * time.Second
	// Discord allows roughly five messages per five seconds per channel.
	notifyEvery = time.Second
	notifyBurst = 3
)

// Sender delivers a message to a text channel.
type Sender func(ctx context.Context, channelID snowflake.ID, msg discord.MessageCreate) error

// RestSender sends through the bot's REST client.
func RestSender(client *bot.Client) Sender {
	return func(ctx context.Context, channelID snowflake.ID, msg discord.MessageCreate) error {
		_, err := client.Rest.CreateMessage(channelID, msg, rest.WithCtx(ctx))
		return err
	}
}

// Notifier posts player notices to text channels. Delivery runs on a single
// worker and is rate limited per channel; failures are logged and dropped.
type Notifier struct {
	send Sender

	// Status, when set, mirrors the playing track into the voice channel.
	Status func(guildID snowflake.ID, status string)
	// NowPlaying, when set, renders now playing notices instead of the
	// plain message.
	NowPlaying func(n player.Notice)

	mu       sync.Mutex
	limiters map[snowflake.ID]*rate.Limiter
	every    time.Duration
	burst    int

	queue     chan player.Notice
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func NewNotifier(send Sender) *Notifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		send:     send,
		limiters: make(map[snowflake.ID]*rate.Limiter),
		every:    notifyEvery,
		burst:    notifyBurst,
		queue:    make(chan player.Notice, notifyQueue),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go n.run()
	return n
}

var _ player.Notifier = (*Notifier)(nil)

// Notify queues a notice. It never blocks; notices beyond the queue size are
// dropped.
func (n *Notifier) Notify(notice player.Notice) {
	select {
	case n.queue <- notice:
	default:
		sys.LogComponentWarn("voice", sys.MsgVoiceNotifyFailed, notice.GuildID, "queue full")
	}
}

// Close stops the worker after the queued notices were handled or ctx ends.
func (n *Notifier) Close(ctx context.Context) {
	n.closeOnce.Do(func() { close(n.queue) })
	select {
	case <-n.done:
	case <-ctx.Done():
		n.cancel()
		<-n.done
	}
}

func (n *Notifier) run() {
	defer close(n.done)
	for notice := range n.queue {
		n.handle(notice)
	}
}

func (n *Notifier) handle(notice player.Notice) {
	ctx, cancel := context.WithTimeout(n.ctx, notifyTimeout)
	defer cancel()

	switch notice.Kind {
	case player.NoticeNowPlaying:
		if err := sys.RecordPlay(ctx, notice.GuildID); err != nil {
			sys.LogComponentWarn("voice", sys.MsgGenericError, err)
		}
		if n.Status != nil && notice.Track != nil {
			n.Status(notice.GuildID, StatusPrefix+notice.Track.Title)
		}
		if n.NowPlaying != nil {
			n.NowPlaying(notice)
			return
		}
	case player.NoticeInfo:
		if notice.Text == sys.MsgPlayerAllPlayed && n.Status != nil {
			n.Status(notice.GuildID, "")
		}
	}

	if err := n.limiter(notice.ChannelID).Wait(ctx); err != nil {
		return
	}
	if err := n.send(ctx, notice.ChannelID, Render(notice)); err != nil {
		sys.LogComponentWarn("voice", sys.MsgVoiceNotifyFailed, notice.GuildID, err)
	}
}

func (n *Notifier) limiter(channelID snowflake.ID) *rate.Limiter {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.limiters[channelID]
	if !ok {
		l = rate.NewLimiter(rate.Every(n.every), n.burst)
		n.limiters[channelID] = l
	}
	return l
}

// Render builds the message for a notice.
func Render(notice player.Notice) discord.MessageCreate {
	text := notice.Text
	if notice.Kind == player.NoticeNowPlaying && notice.Track != nil {
		text = fmt.Sprintf(sys.MsgPlayerNowPlaying, notice.Track.Title, notice.Track.Requester.Name)
	}
	return discord.NewMessageCreate().
		WithIsComponentsV2(true).
		AddComponents(discord.NewContainer(discord.NewTextDisplay(text)).WithAccentColor(KindColor(notice.Kind)))
}

// KindColor maps a notice kind to its accent colour.
func KindColor(kind player.NoticeKind) int {
	switch kind {
	case player.NoticeSuccess, player.NoticeNowPlaying:
		return ColorSuccess
	case player.NoticeWarning:
		return ColorWarning
	case player.NoticeError:
		return ColorError
	default:
		return ColorInfo
	}
}
