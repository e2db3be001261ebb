package sys

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
)

func TestCalculateCommandHash(t *testing.T) {
	a := []discord.ApplicationCommandCreate{discord.SlashCommandCreate{Name: "music", Description: "Play music"}}
	b := []discord.ApplicationCommandCreate{discord.SlashCommandCreate{Name: "music", Description: "Play songs"}}

	ha, hb := calculateCommandHash(a), calculateCommandHash(b)
	if len(ha) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(ha))
	}
	if ha != calculateCommandHash(a) {
		t.Error("hash is not stable for the same commands")
	}
	if ha == hb {
		t.Error("different commands produced the same hash")
	}
}

func TestComponentHandlerMatching(t *testing.T) {
	var exact, prefix int
	RegisterComponentHandler("test-exact", func(*events.ComponentInteractionCreate) { exact++ })
	RegisterComponentHandler("test-player:", func(*events.ComponentInteractionCreate) { prefix++ })

	tests := []struct {
		id     string
		found  bool
		exact  int
		prefix int
	}{
		{"test-exact", true, 1, 0},
		{"test-player:skip", true, 1, 1},
		{"test-player", false, 1, 1},
		{"unknown", false, 1, 1},
	}
	for _, tt := range tests {
		h, ok := componentHandler(tt.id)
		if ok != tt.found {
			t.Errorf("componentHandler(%q) found = %t, want %t", tt.id, ok, tt.found)
			continue
		}
		if ok {
			h(nil)
		}
		if exact != tt.exact || prefix != tt.prefix {
			t.Errorf("after %q: exact=%d prefix=%d, want %d/%d", tt.id, exact, prefix, tt.exact, tt.prefix)
		}
	}
}

func TestSafeGoRecovers(t *testing.T) {
	done := make(chan struct{})
	SafeGo(func() {
		defer close(done)
		panic("boom")
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SafeGo did not run the function")
	}
}

func TestDaemonLifecycle(t *testing.T) {
	var ran, stopped atomic.Bool
	RegisterDaemon("test", LogDebug, func(ctx context.Context) (bool, func(), func()) {
		return true, func() { ran.Store(true) }, func() { stopped.Store(true) }
	})
	RegisterDaemon("disabled", LogDebug, func(ctx context.Context) (bool, func(), func()) {
		return false, nil, nil
	})

	StartDaemons(context.Background())
	deadline := time.Now().Add(time.Second)
	for !ran.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !ran.Load() {
		t.Fatal("daemon run loop was not started")
	}

	ShutdownDaemons()
	if !stopped.Load() {
		t.Error("shutdown hook was not called")
	}
}
