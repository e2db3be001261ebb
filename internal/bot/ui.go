package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"

	"github.com/realSUDO/Auralia/internal/player"
	"github.com/realSUDO/Auralia/internal/sys"
)

const (
	ProgressCells = 15
	QueuePageSize = 10

	// Button custom ids.
	PlayerButtonPrefix = "player:"
	QueueButtonPrefix  = "queue:"

	cardRefresh = 10 * time.Second
	cardTimeout = 5 * time.Second

	colorPlaying = 0x00ffcc
	colorPaused  = 0xff9900
	colorEnded   = 0x4f545c
)

// ProgressBar renders elapsed/total as cells of ▰ and ▱.
func ProgressBar(elapsed, total time.Duration, cells int) string {
	filled := 0
	if total > 0 && elapsed > 0 {
		filled = int(int64(cells) * int64(elapsed) / int64(total))
	}
	filled = min(filled, cells)
	return strings.Repeat("▰", filled) + strings.Repeat("▱", cells-filled)
}

// queueSize counts the current track and everything after it.
func queueSize(s player.Snapshot) int {
	n := len(s.Upcoming)
	if s.Current != nil {
		n++
	}
	return n
}

// CardText is the body of the now playing card.
func CardText(s player.Snapshot, ended bool) string {
	if s.Current == nil {
		return strings.SplitN(sys.MsgCardTitle, "\n", 2)[0]
	}
	var b strings.Builder
	fmt.Fprintf(&b, sys.MsgCardTitle, s.Current.Title)
	if s.Duration > 0 {
		b.WriteString("\n")
		fmt.Fprintf(&b, sys.MsgCardProgress, ProgressBar(s.Elapsed, s.Duration, ProgressCells), sys.FormatClock(s.Elapsed), sys.FormatClock(s.Duration))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, sys.MsgCardFooter, s.Current.Requester.Name, queueSize(s))
	switch {
	case ended:
		b.WriteString("\n" + sys.MsgCardEnded)
	case s.Phase == player.PhasePaused:
		b.WriteString("\n" + sys.MsgCardPaused)
	}
	return b.String()
}

func cardColor(s player.Snapshot, ended bool) int {
	switch {
	case ended:
		return colorEnded
	case s.Phase == player.PhasePaused:
		return colorPaused
	default:
		return colorPlaying
	}
}

func playerButton(style discord.ButtonStyle, label, action string, disabled bool) discord.ButtonComponent {
	return discord.NewButton(style, label, PlayerButtonPrefix+action, "", 0).WithDisabled(disabled)
}

// ControlButtons returns the two rows of player controls.
func ControlButtons(s player.Snapshot, ended bool) [2][]discord.ButtonComponent {
	pauseLabel := "⏸️"
	if s.Phase == player.PhasePaused {
		pauseLabel = "▶️"
	}
	loopStyle := discord.ButtonStyleSecondary
	if s.Looping {
		loopStyle = discord.ButtonStyleSuccess
	}
	return [2][]discord.ButtonComponent{
		{
			playerButton(discord.ButtonStyleSecondary, "⏮️", "previous", ended),
			playerButton(discord.ButtonStylePrimary, pauseLabel, "pause", ended),
			playerButton(discord.ButtonStyleSecondary, "⏭️", "skip", ended),
			playerButton(loopStyle, "🔂", "loop", ended),
		},
		{
			playerButton(discord.ButtonStyleSecondary, "🔁", "replay", ended || s.Current == nil),
			playerButton(discord.ButtonStyleSecondary, "🔀", "shuffle", ended || len(s.Upcoming) == 0),
			playerButton(discord.ButtonStyleSecondary, "📜", "queue", ended),
			playerButton(discord.ButtonStyleDanger, "⏹️", "stop", ended),
		},
	}
}

func row(buttons []discord.ButtonComponent) discord.ActionRowComponent {
	items := make([]discord.InteractiveComponent, len(buttons))
	for i, b := range buttons {
		items[i] = b
	}
	return discord.NewActionRow(items...)
}

// RenderCard builds the now playing card for a snapshot.
func RenderCard(s player.Snapshot, ended bool) []discord.LayoutComponent {
	rows := ControlButtons(s, ended)
	return []discord.LayoutComponent{
		discord.NewContainer(
			discord.NewTextDisplay(CardText(s, ended)),
			discord.NewSeparator(discord.SeparatorSpacingSizeSmall).WithDivider(true),
			row(rows[0]),
			row(rows[1]),
		).WithAccentColor(cardColor(s, ended)),
	}
}

// QueuePage renders one page of the upcoming tracks. Pages are 1-based and
// clamped to the available range.
func QueuePage(s player.Snapshot, page int) Response {
	if s.Current == nil && len(s.Upcoming) == 0 {
		return Response{Kind: player.NoticeInfo, Text: sys.MsgCmdQueueEmpty, Ephemeral: true}
	}
	pages := max(1, (len(s.Upcoming)+QueuePageSize-1)/QueuePageSize)
	page = min(max(page, 1), pages)

	var b strings.Builder
	if s.Current != nil {
		fmt.Fprintf(&b, sys.MsgCmdQueueHeader, s.Current.Title)
	}
	start := (page - 1) * QueuePageSize
	end := min(start+QueuePageSize, len(s.Upcoming))
	if len(s.Upcoming) == 0 {
		b.WriteString(sys.MsgCmdQueueNoUpcoming)
	} else {
		fmt.Fprintf(&b, sys.MsgCmdQueueUpNext, page, pages)
		for i, t := range s.Upcoming[start:end] {
			fmt.Fprintf(&b, sys.MsgCmdQueueItem, start+i+1, sys.TruncateWithPreserve(t.Title, 80, "", ""))
		}
		if more := len(s.Upcoming) - end; more > 0 {
			fmt.Fprintf(&b, sys.MsgCmdQueueMore, more)
		}
	}

	var total time.Duration
	if s.Current != nil {
		total = s.Duration - s.Elapsed
	}
	for _, t := range s.Upcoming {
		total += t.Duration
	}
	fmt.Fprintf(&b, sys.MsgCmdQueueFooter, queueSize(s), sys.FormatDuration(max(total, 0)))

	resp := Response{Kind: player.NoticeInfo, Text: b.String()}
	if pages > 1 {
		resp.Buttons = []discord.InteractiveComponent{
			discord.NewButton(discord.ButtonStyleSecondary, "Previous", QueueButtonPrefix+strconv.Itoa(page-1), "", 0).WithDisabled(page == 1),
			discord.NewButton(discord.ButtonStyleSecondary, "Next", QueueButtonPrefix+strconv.Itoa(page+1), "", 0).WithDisabled(page == pages),
		}
	}
	return resp
}

// ParseButton splits a player button id into its action.
func ParseButton(customID string) (action string, ok bool) {
	action, ok = strings.CutPrefix(customID, PlayerButtonPrefix)
	return action, ok && action != ""
}

// ParseQueuePage reads the page number from a queue button id.
func ParseQueuePage(customID string) (int, bool) {
	raw, ok := strings.CutPrefix(customID, QueueButtonPrefix)
	if !ok {
		return 0, false
	}
	page, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return page, true
}

// Messenger posts and edits channel messages.
type Messenger interface {
	Send(ctx context.Context, channelID snowflake.ID, msg discord.MessageCreate) (snowflake.ID, error)
	Edit(ctx context.Context, channelID, messageID snowflake.ID, msg discord.MessageUpdate) error
}

// RestMessenger is a Messenger backed by the REST client.
func RestMessenger(r rest.Rest) Messenger { return restMessenger{rest: r} }

type restMessenger struct{ rest rest.Rest }

func (m restMessenger) Send(ctx context.Context, channelID snowflake.ID, msg discord.MessageCreate) (snowflake.ID, error) {
	sent, err := m.rest.CreateMessage(channelID, msg, rest.WithCtx(ctx))
	if err != nil {
		return 0, err
	}
	return sent.ID, nil
}

func (m restMessenger) Edit(ctx context.Context, channelID, messageID snowflake.ID, msg discord.MessageUpdate) error {
	_, err := m.rest.UpdateMessage(channelID, messageID, msg, rest.WithCtx(ctx))
	return err
}

// Snapshotter reads a room's state.
type Snapshotter interface {
	Snapshot(ctx context.Context, guildID snowflake.ID) (player.Snapshot, bool)
}

type card struct {
	channelID snowflake.ID
	messageID snowflake.ID
	locator   string
	stop      context.CancelFunc
	done      chan struct{}

	mu   sync.Mutex
	last player.Snapshot
}

func (c *card) remember(s player.Snapshot) {
	c.mu.Lock()
	c.last = s
	c.mu.Unlock()
}

func (c *card) snapshot() player.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Cards keeps one live now playing card per guild. A card is refreshed
// while its track plays and frozen with disabled controls once the track
// is gone.
type Cards struct {
	rooms Snapshotter
	out   Messenger
	every time.Duration

	mu     sync.Mutex
	cards  map[snowflake.ID]*card
	closed bool
}

func NewCards(rooms Snapshotter, out Messenger) *Cards {
	return &Cards{
		rooms: rooms,
		out:   out,
		every: cardRefresh,
		cards: make(map[snowflake.ID]*card),
	}
}

// Show posts a card for a now playing notice, retiring the guild's previous
// card first.
func (c *Cards) Show(n player.Notice) {
	if n.Track == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cardTimeout)
	defer cancel()

	c.retire(ctx, n.GuildID)

	snap, ok := c.rooms.Snapshot(ctx, n.GuildID)
	if !ok || snap.Current == nil || snap.Current.URL != n.Track.URL {
		snap = player.Snapshot{GuildID: n.GuildID, Phase: player.PhasePlaying, Current: n.Track}
	}

	msg := discord.NewMessageCreate().
		WithIsComponentsV2(true).
		AddComponents(RenderCard(snap, false)...)
	id, err := c.out.Send(ctx, n.ChannelID, msg)
	if err != nil {
		sys.LogComponentWarn("command", sys.MsgCardSendFailed, n.GuildID, err)
		return
	}

	followCtx, stop := context.WithCancel(context.Background())
	cd := &card{
		channelID: n.ChannelID,
		messageID: id,
		locator:   n.Track.URL,
		stop:      stop,
		done:      make(chan struct{}),
		last:      snap,
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		stop()
		c.disable(ctx, n.GuildID, cd)
		return
	}
	c.cards[n.GuildID] = cd
	c.mu.Unlock()

	go c.follow(followCtx, n.GuildID, cd)
}

// Refresh redraws the guild's card right away, e.g. after a button press.
func (c *Cards) Refresh(ctx context.Context, guildID snowflake.ID) {
	c.mu.Lock()
	cd := c.cards[guildID]
	c.mu.Unlock()
	if cd == nil {
		return
	}
	if c.current(ctx, guildID, cd) {
		return
	}
	if c.take(guildID, cd) {
		cd.stop()
		c.disable(ctx, guildID, cd)
	}
}

// Close freezes every card.
func (c *Cards) Close(ctx context.Context) {
	c.mu.Lock()
	c.closed = true
	cards := c.cards
	c.cards = make(map[snowflake.ID]*card)
	c.mu.Unlock()

	for guildID, cd := range cards {
		cd.stop()
		<-cd.done
		c.disable(ctx, guildID, cd)
	}
}

func (c *Cards) follow(ctx context.Context, guildID snowflake.ID, cd *card) {
	defer close(cd.done)
	t := time.NewTicker(c.every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			tctx, cancel := context.WithTimeout(ctx, cardTimeout)
			live := c.current(tctx, guildID, cd)
			if !live && c.take(guildID, cd) {
				c.disable(tctx, guildID, cd)
			}
			cancel()
			if !live {
				return
			}
		}
	}
}

// current redraws cd if its track is still the one playing and reports
// whether it is.
func (c *Cards) current(ctx context.Context, guildID snowflake.ID, cd *card) bool {
	snap, ok := c.rooms.Snapshot(ctx, guildID)
	if !ok || snap.Current == nil || snap.Current.URL != cd.locator {
		return false
	}
	prev := cd.snapshot()
	cd.remember(snap)
	if snap.Phase == player.PhasePaused && prev.Phase == player.PhasePaused && snap.Looping == prev.Looping && len(snap.Upcoming) == len(prev.Upcoming) {
		return true
	}
	c.edit(ctx, guildID, cd, RenderCard(snap, false))
	return true
}

// take removes cd from the live set. Only one caller wins.
func (c *Cards) take(guildID snowflake.ID, cd *card) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cards[guildID] != cd {
		return false
	}
	delete(c.cards, guildID)
	return true
}

func (c *Cards) retire(ctx context.Context, guildID snowflake.ID) {
	c.mu.Lock()
	cd := c.cards[guildID]
	delete(c.cards, guildID)
	c.mu.Unlock()
	if cd == nil {
		return
	}
	cd.stop()
	<-cd.done
	c.disable(ctx, guildID, cd)
}

func (c *Cards) disable(ctx context.Context, guildID snowflake.ID, cd *card) {
	c.edit(ctx, guildID, cd, RenderCard(cd.snapshot(), true))
}

func (c *Cards) edit(ctx context.Context, guildID snowflake.ID, cd *card, layout []discord.LayoutComponent) {
	msg := discord.NewMessageUpdate().WithIsComponentsV2(true).WithComponents(layout...)
	if err := c.out.Edit(ctx, cd.channelID, cd.messageID, msg); err != nil {
		sys.LogComponentWarn("command", sys.MsgCardEditFailed, guildID, err)
	}
}
