package voice

import (
	"context"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"
	"github.com/realSUDO/Auralia/internal/player"
	"github.com/realSUDO/Auralia/internal/sys"
)

const joinAttempts = 2

// Connector opens disgo voice connections for the player.
type Connector struct {
	client *bot.Client

	mu       sync.Mutex
	sessions map[snowflake.ID]*Session
}

func NewConnector(client *bot.Client) *Connector {
	return &Connector{client: client, sessions: make(map[snowflake.ID]*Session)}
}

var _ player.Connector = (*Connector)(nil)

// Join connects to channelID, retrying once while ctx allows.
func (c *Connector) Join(ctx context.Context, guildID, channelID snowflake.ID) (player.Session, error) {
	var lastErr error
	for attempt := 1; attempt <= joinAttempts; attempt++ {
		conn := c.client.VoiceManager.CreateConn(guildID)
		err := conn.Open(ctx, channelID, false, false)
		if err == nil {
			s := c.newSession(guildID, channelID, conn)
			return s, nil
		}

		lastErr = err
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		conn.Close(closeCtx)
		cancel()
		if ctx.Err() != nil {
			break
		}
		sys.LogVoice(sys.MsgVoiceJoinRetry, guildID, attempt, err)
	}
	if ctx.Err() != nil && lastErr == nil {
		lastErr = ctx.Err()
	}
	return nil, lastErr
}

func (c *Connector) newSession(guildID, channelID snowflake.ID, conn voice.Conn) *Session {
	put := func(ch snowflake.ID, status string) error {
		return SetVoiceStatus(c.client, ch, status)
	}
	s := &Session{
		guildID: guildID,
		conn:    conn,
		status:  NewStatusManager(guildID, channelID, put),
		release: func(s *Session) { c.forget(guildID, s) },
	}

	c.mu.Lock()
	old := c.sessions[guildID]
	c.sessions[guildID] = s
	c.mu.Unlock()
	if old != nil {
		old.status.Close()
	}
	return s
}

func (c *Connector) session(guildID snowflake.ID) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[guildID]
}

func (c *Connector) forget(guildID snowflake.ID, s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions[guildID] == s {
		delete(c.sessions, guildID)
	}
}

// SetStatus updates the voice channel status of the guild's connection.
func (c *Connector) SetStatus(guildID snowflake.ID, status string) {
	if s := c.session(guildID); s != nil {
		s.setStatus(status)
	}
}

// Moved follows the bot into a new channel after a server-side move.
func (c *Connector) Moved(guildID, channelID snowflake.ID) {
	if s := c.session(guildID); s != nil {
		s.status.Move(channelID, s.lastStatus())
	}
}

// Channel reports the voice channel the guild's connection sits in.
func (c *Connector) Channel(guildID snowflake.ID) (snowflake.ID, bool) {
	if s := c.session(guildID); s != nil {
		return s.status.Channel(), true
	}
	return 0, false
}

// Session is one open voice connection.
type Session struct {
	guildID snowflake.ID
	conn    voice.Conn
	status  *StatusManager
	release func(*Session)

	mu       sync.Mutex
	provider *Provider
	current  string
	closed   bool
}

var _ player.Session = (*Session)(nil)

func (s *Session) Play(st player.Stream, onEnd func(error)) {
	p := NewProvider(st, onEnd)

	s.mu.Lock()
	old := s.provider
	s.provider = p
	closed := s.closed
	s.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	if closed {
		p.Stop()
		return
	}
	s.setProvider(p)
}

func (s *Session) Pause() {
	s.mu.Lock()
	p := s.provider
	s.mu.Unlock()
	if p != nil {
		p.Pause()
	}
}

func (s *Session) Resume() {
	s.mu.Lock()
	p := s.provider
	s.mu.Unlock()
	if p != nil {
		p.Resume()
	}
}

// Halt silences the connection. The halted stream never reports an end.
func (s *Session) Halt() {
	s.mu.Lock()
	p := s.provider
	s.provider = nil
	s.mu.Unlock()
	if p != nil {
		p.Stop()
	}
}

func (s *Session) Destroy(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	p := s.provider
	s.provider = nil
	s.mu.Unlock()

	if p != nil {
		p.Stop()
	}
	s.status.Close()
	s.conn.Close(ctx)
	s.release(s)
	sys.LogVoice(sys.MsgVoiceClosed, s.guildID)
}

func (s *Session) setStatus(status string) {
	s.mu.Lock()
	s.current = status
	s.mu.Unlock()
	s.status.Set(status)
}

func (s *Session) lastStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Session) setProvider(p voice.OpusFrameProvider) {
	defer func() {
		if r := recover(); r != nil {
			sys.LogVoice(sys.MsgVoiceProviderPanic, r)
		}
	}()
	s.conn.SetOpusFrameProvider(p)
}

// Presence answers voice membership questions from the gateway cache.
type Presence struct {
	client *bot.Client
}

func NewPresence(client *bot.Client) *Presence {
	return &Presence{client: client}
}

var _ player.Presence = (*Presence)(nil)

func (p *Presence) UserChannel(guildID, userID snowflake.ID) (snowflake.ID, bool) {
	vs, ok := p.client.Caches.VoiceState(guildID, userID)
	if !ok || vs.ChannelID == nil {
		return 0, false
	}
	return *vs.ChannelID, true
}

// Humans counts non-bot members in channelID, excluding ourselves.
func (p *Presence) Humans(guildID, channelID snowflake.ID) int {
	self := p.client.ID()
	n := 0
	for state := range p.client.Caches.VoiceStates(guildID) {
		if state.ChannelID == nil || *state.ChannelID != channelID || state.UserID == self {
			continue
		}
		if m, ok := p.client.Caches.Member(guildID, state.UserID); ok && m.User.Bot {
			continue
		}
		n++
	}
	return n
}
