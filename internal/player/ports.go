package player

import (
	"context"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// Stream is an open audio source producing 20ms Opus frames.
// ReadFrame returns io.EOF once the source is exhausted.
type Stream interface {
	ReadFrame() ([]byte, error)
	Close() error
}

// Session is a live voice connection for one guild.
type Session interface {
	// Play replaces whatever is playing with s. onEnd is called at most once
	// when s is exhausted or fails. It is not called after Halt.
	Play(s Stream, onEnd func(err error))
	Pause()
	Resume()
	// Halt stops the current stream without reporting its end.
	Halt()
	Destroy(ctx context.Context)
}

// Connector acquires voice sessions.
type Connector interface {
	Join(ctx context.Context, guildID, channelID snowflake.ID) (Session, error)
}

// Presence answers membership questions about voice channels.
type Presence interface {
	// UserChannel returns the voice channel a user is connected to.
	UserChannel(guildID, userID snowflake.ID) (snowflake.ID, bool)
	// Humans counts non-bot members in a voice channel.
	Humans(guildID, channelID snowflake.ID) int
}

// Decoder opens live and preloaded sources.
type Decoder interface {
	Open(ctx context.Context, locator string) (Stream, error)
	OpenFile(ctx context.Context, path string) (Stream, error)
}

// Direct is a byte-seekable media URL for a locator.
type Direct struct {
	URL      string
	Duration time.Duration
}

// Resolver maps a locator to a seekable source and opens it at an offset.
type Resolver interface {
	ResolveDirect(ctx context.Context, locator string) (Direct, error)
	OpenAt(ctx context.Context, directURL string, offset time.Duration) (Stream, error)
}

// Fetcher downloads a locator to dest for the preloader.
type Fetcher interface {
	Fetch(ctx context.Context, locator, dest string) error
}

type NoticeKind int

const (
	NoticeInfo NoticeKind = iota
	NoticeSuccess
	NoticeWarning
	NoticeError
	NoticeNowPlaying
)

// Notice is a user-facing message emitted by a room.
type Notice struct {
	GuildID   snowflake.ID
	ChannelID snowflake.ID
	Kind      NoticeKind
	Text      string
	Track     *Track
}

// Notifier delivers notices. Implementations must not block the caller.
type Notifier interface {
	Notify(n Notice)
}
