package voice

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"github.com/realSUDO/Auralia/internal/sys"
)

const (
	statusDebounce = 500 * time.Millisecond
	statusRetry    = time.Second
	statusMaxRunes = 128
)

// StatusPrefix marks a playing track in the channel status.
const StatusPrefix = "🎶 "

// SetVoiceStatus writes a voice channel status through the REST API.
func SetVoiceStatus(client *bot.Client, channelID snowflake.ID, status string) error {
	route := rest.NewEndpoint(http.MethodPut, "/channels/"+channelID.String()+"/voice-status")
	return client.Rest.Do(route.Compile(nil), map[string]string{"status": status}, nil)
}

// StatusManager debounces voice channel status updates for one connection.
// Only the latest requested status is written; failed writes are retried.
type StatusManager struct {
	guildID snowflake.ID
	put     func(channelID snowflake.ID, status string) error

	debounce time.Duration
	retry    time.Duration

	mu        sync.Mutex
	channelID snowflake.ID

	updates chan string
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewStatusManager(guildID, channelID snowflake.ID, put func(snowflake.ID, string) error) *StatusManager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &StatusManager{
		guildID:   guildID,
		put:       put,
		debounce:  statusDebounce,
		retry:     statusRetry,
		channelID: channelID,
		updates:   make(chan string, 10),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go m.run(ctx)
	return m
}

// Set requests a new status. An empty status clears it.
func (m *StatusManager) Set(status string) {
	select {
	case m.updates <- TruncateRunes(status, statusMaxRunes):
	default:
		// Full: drop the oldest pending update and retry once.
		select {
		case <-m.updates:
		default:
		}
		select {
		case m.updates <- TruncateRunes(status, statusMaxRunes):
		default:
		}
	}
}

func (m *StatusManager) Channel() snowflake.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channelID
}

// Move clears the status of the old channel and rewrites it on the new one.
func (m *StatusManager) Move(channelID snowflake.ID, current string) {
	m.mu.Lock()
	old := m.channelID
	m.channelID = channelID
	m.mu.Unlock()
	if old != 0 && old != channelID {
		_ = m.put(old, "")
	}
	m.Set(current)
}

// Close stops the manager and clears the status synchronously.
func (m *StatusManager) Close() {
	m.cancel()
	<-m.done
	if err := m.put(m.Channel(), ""); err != nil {
		sys.LogComponentWarn("voice", sys.MsgVoiceStatusFailed, m.guildID, err)
	}
}

func (m *StatusManager) run(ctx context.Context) {
	defer close(m.done)

	var cur, next string
	pending := false
	t := time.NewTimer(0)
	if !t.Stop() {
		<-t.C
	}
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-m.updates:
			next = n
		drain:
			for {
				select {
				case n := <-m.updates:
					next = n
				default:
					break drain
				}
			}
			if next == cur {
				pending = false
				continue
			}
			pending = true
			t.Reset(m.debounce)
		case <-t.C:
			if !pending {
				continue
			}
			if err := m.put(m.Channel(), next); err != nil {
				sys.LogComponentWarn("voice", sys.MsgVoiceStatusFailed, m.guildID, err)
				t.Reset(m.retry)
				continue
			}
			cur = next
			pending = false
		}
	}
}

// TruncateRunes shortens s to at most n runes, ending with an ellipsis when
// something was cut.
func TruncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
