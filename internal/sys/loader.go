package sys

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/godave/golibdave"
	"github.com/disgoorg/snowflake/v2"
)

// SafeGo runs a function in a new goroutine with panic recovery
func SafeGo(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				LogError(MsgLoaderPanicRecovered, r)
				fmt.Fprintf(os.Stderr, "%s\n", debug.Stack())
			}
		}()
		f()
	}()
}

// --- Global State & Setup ---

var AppContext = context.Background()
var StartupTime = time.Now()
var daemonsOnce sync.Once

var (
	registryMu           sync.RWMutex
	commands             []discord.ApplicationCommandCreate
	commandHandlers      = map[string]func(event *events.ApplicationCommandInteractionCreate){}
	autocompleteHandlers = map[string]func(event *events.AutocompleteInteractionCreate){}
	componentHandlers    = map[string]func(event *events.ComponentInteractionCreate){}
	voiceStateHandlers   []func(event *events.GuildVoiceStateUpdate)
	messageHandlers      []func(event *events.MessageCreate)
	onClientReady        []func(ctx context.Context, client *bot.Client)
)

// HttpClient is a shared client for external API calls.
var HttpClient = &http.Client{
	Timeout: 10 * time.Second,
}

func SetAppContext(ctx context.Context) {
	AppContext = ctx
}

// --- Bot Initialization ---

// CreateClient creates and configures a disgo client
func CreateClient(ctx context.Context, cfg *Config) (*bot.Client, error) {
	return disgo.New(cfg.Token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildMessages,
				gateway.IntentGuildMembers,
				gateway.IntentMessageContent,
				gateway.IntentGuildVoiceStates,
			),
			gateway.WithPresenceOpts(
				gateway.WithListeningActivity(cfg.Prefix+"help"),
				gateway.WithOnlineStatus(discord.OnlineStatusOnline),
			),
		),
		bot.WithCacheConfigOpts(
			cache.WithCaches(cache.FlagGuilds, cache.FlagMembers, cache.FlagChannels, cache.FlagVoiceStates),
		),
		bot.WithVoiceManagerConfigOpts(
			voice.WithDaveSessionCreateFunc(golibdave.NewSession),
		),
		bot.WithEventListenerFunc(onApplicationCommandInteraction),
		bot.WithEventListenerFunc(onAutocompleteInteraction),
		bot.WithEventListenerFunc(onComponentInteraction),
		bot.WithEventListenerFunc(onVoiceStateUpdate),
		bot.WithEventListenerFunc(onMessageCreate),
		bot.WithEventListenerFunc(onReady),
		bot.WithLogger(slog.Default()),
		bot.WithRestClientConfigOpts(
			rest.WithHTTPClient(&http.Client{
				Timeout: 60 * time.Second,
				Transport: &http.Transport{
					MaxIdleConns:        100,
					MaxIdleConnsPerHost: 50,
					IdleConnTimeout:     90 * time.Second,
				},
			}),
		),
	)
}

// GetBotUsername fetches the bot's username and ID using the provided token, with caching
func GetBotUsername(ctx context.Context, token string) (string, snowflake.ID, error) {
	// 1. Check Cache First
	cachedName, _ := GetBotConfig(ctx, "cached_bot_name")
	cachedIDStr, _ := GetBotConfig(ctx, "cached_bot_id")

	var cachedID snowflake.ID
	if cachedIDStr != "" {
		if id, err := snowflake.Parse(cachedIDStr); err == nil {
			cachedID = id
		}
	}
	if cachedName != "" && cachedID != 0 {
		return cachedName, cachedID, nil
	}

	// 2. API Call
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://discord.com/api/v10/users/@me", nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Authorization", "Bot "+token)

	resp, err := HttpClient.Do(req)
	if err != nil {
		if cachedName != "" {
			return cachedName, cachedID, nil
		}
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if cachedName != "" {
			return cachedName, cachedID, nil
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return GetProjectName(), 0, nil
		}
		return "", 0, fmt.Errorf(MsgBotAPIStatusError, resp.StatusCode)
	}

	var user struct {
		ID       snowflake.ID `json:"id"`
		Username string       `json:"username"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		if cachedName != "" {
			return cachedName, cachedID, nil
		}
		return "", 0, err
	}

	// 3. Update Cache
	_ = SetBotConfig(ctx, "cached_bot_name", user.Username)
	_ = SetBotConfig(ctx, "cached_bot_id", user.ID.String())

	return user.Username, user.ID, nil
}

// --- Command & Handler Registration ---

func RegisterCommand(cmd discord.ApplicationCommandCreate, handler func(event *events.ApplicationCommandInteractionCreate)) {
	registryMu.Lock()
	defer registryMu.Unlock()
	commands = append(commands, cmd)
	switch c := cmd.(type) {
	case discord.SlashCommandCreate:
		commandHandlers[c.CommandName()] = handler
	case discord.UserCommandCreate:
		commandHandlers[c.CommandName()] = handler
	case discord.MessageCommandCreate:
		commandHandlers[c.CommandName()] = handler
	}
}

func RegisterAutocompleteHandler(cmdName string, handler func(event *events.AutocompleteInteractionCreate)) {
	registryMu.Lock()
	defer registryMu.Unlock()
	autocompleteHandlers[cmdName] = handler
}

// RegisterComponentHandler binds a custom id. An id ending in ":" matches
// every custom id with that prefix.
func RegisterComponentHandler(customID string, handler func(event *events.ComponentInteractionCreate)) {
	registryMu.Lock()
	defer registryMu.Unlock()
	componentHandlers[customID] = handler
}

func RegisterVoiceStateUpdateHandler(handler func(event *events.GuildVoiceStateUpdate)) {
	registryMu.Lock()
	defer registryMu.Unlock()
	voiceStateHandlers = append(voiceStateHandlers, handler)
}

func RegisterMessageHandler(handler func(event *events.MessageCreate)) {
	registryMu.Lock()
	defer registryMu.Unlock()
	messageHandlers = append(messageHandlers, handler)
}

func OnClientReady(cb func(ctx context.Context, client *bot.Client)) {
	registryMu.Lock()
	defer registryMu.Unlock()
	onClientReady = append(onClientReady, cb)
}

// --- Command Syncing Logic ---

// calculateCommandHash generates a SHA256 hash of the commands slice
func calculateCommandHash(cmds []discord.ApplicationCommandCreate) string {
	data, err := json.Marshal(cmds)
	if err != nil {
		return ""
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// RegisterCommands syncs the registered commands globally, or to guildIDStr
// in development. Registration is skipped when nothing changed since the
// last run unless forceScan is set, which also clears stale commands from
// every guild the bot is in.
func RegisterCommands(ctx context.Context, client *bot.Client, guildIDStr string, forceScan bool) error {
	registryMu.RLock()
	cmds := append([]discord.ApplicationCommandCreate(nil), commands...)
	registryMu.RUnlock()

	currentMode := "global"
	if guildIDStr != "" {
		currentMode = "guild"
	}
	LogLoader(MsgLoaderSyncCommands, strings.ToUpper(currentMode))

	currentHash := calculateCommandHash(cmds)
	lastHash, _ := GetBotConfig(ctx, "last_cmd_hash")
	lastMode, _ := GetBotConfig(ctx, "last_reg_mode")
	lastGuildID, _ := GetBotConfig(ctx, "last_guild_id")

	if lastMode != "" && lastMode != currentMode {
		LogLoader(MsgLoaderTransition, lastMode, currentMode)
	}

	shouldRegister := forceScan || currentHash == "" || currentHash != lastHash || currentMode != lastMode
	if !shouldRegister {
		LogLoader(MsgLoaderUpToDate, currentHash[:8])
	}

	var keep snowflake.ID
	if currentMode == "global" {
		if shouldRegister {
			LogLoader(MsgLoaderProdStarting)
			created, err := client.Rest.SetGlobalCommands(client.ApplicationID, cmds, rest.WithCtx(ctx))
			if err != nil {
				return fmt.Errorf(MsgLoaderProdFail, err)
			}
			for _, cmd := range created {
				LogLoader(MsgLoaderProdRegistered, cmd.Name())
			}
		}
	} else {
		guildID, err := snowflake.Parse(guildIDStr)
		if err != nil {
			return fmt.Errorf("invalid GUILD_ID: %w", err)
		}
		keep = guildID

		if shouldRegister {
			LogLoader(MsgLoaderDevStarting, guildIDStr)
			created, err := client.Rest.SetGuildCommands(client.ApplicationID, guildID, cmds, rest.WithCtx(ctx))
			if err != nil {
				LogWarn(MsgLoaderDevFail, err)
			} else {
				for _, cmd := range created {
					LogLoader(MsgLoaderDevRegistered, cmd.Name())
				}
			}
		}

		if lastMode != currentMode || forceScan {
			if existing, err := client.Rest.GetGlobalCommands(client.ApplicationID, false, rest.WithCtx(ctx)); err == nil && len(existing) > 0 {
				LogLoader(MsgLoaderDevGlobalClear)
				if _, err := client.Rest.SetGlobalCommands(client.ApplicationID, nil, rest.WithCtx(ctx)); err != nil {
					LogWarn(MsgLoaderDevGlobalClearFail, err)
				}
			}
		}
	}

	if lastGuildID != "" && lastGuildID != guildIDStr {
		if oldID, err := snowflake.Parse(lastGuildID); err == nil {
			LogLoader(MsgLoaderCleanup, lastGuildID)
			clearGuildCommands(ctx, client, oldID)
		}
	}
	if forceScan || (currentMode == "global" && lastMode != currentMode) {
		scanGuilds(ctx, client, keep)
	}

	_ = SetBotConfig(ctx, "last_reg_mode", currentMode)
	_ = SetBotConfig(ctx, "last_guild_id", guildIDStr)
	if currentHash != "" {
		_ = SetBotConfig(ctx, "last_cmd_hash", currentHash)
	}
	return nil
}

func clearGuildCommands(ctx context.Context, client *bot.Client, guildID snowflake.ID) bool {
	existing, err := client.Rest.GetGuildCommands(client.ApplicationID, guildID, false, rest.WithCtx(ctx))
	if err != nil || len(existing) == 0 {
		return false
	}
	_, err = client.Rest.SetGuildCommands(client.ApplicationID, guildID, nil, rest.WithCtx(ctx))
	return err == nil
}

// scanGuilds removes ghost guild commands everywhere except keep.
func scanGuilds(ctx context.Context, client *bot.Client, keep snowflake.ID) {
	LogLoader(MsgLoaderScanStarting)
	guilds, err := client.Rest.GetCurrentUserGuilds("", 0, 0, 100, false, rest.WithCtx(ctx))
	if err != nil {
		LogWarn(MsgGenericError, err)
		return
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, 5)
	for _, g := range guilds {
		if g.ID == keep {
			continue
		}
		wg.Add(1)
		go func(guild discord.OAuth2Guild) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if clearGuildCommands(ctx, client, guild.ID) {
				LogLoader(MsgLoaderScanCleared, guild.Name, guild.ID.String())
			}
		}(g)
	}
	wg.Wait()
}

// --- Event Handlers ---

func onReady(event *events.Ready) {
	client := event.Client()
	botUser := event.User

	LogInfo(MsgBotReady, botUser.Username, botUser.ID.String(), os.Getpid(), time.Since(StartupTime).Milliseconds())

	registryMu.RLock()
	cbs := append([](func(context.Context, *bot.Client))(nil), onClientReady...)
	registryMu.RUnlock()
	for _, cb := range cbs {
		cb(AppContext, client)
	}
	StartDaemons(AppContext)
}

func onApplicationCommandInteraction(event *events.ApplicationCommandInteractionCreate) {
	registryMu.RLock()
	h, ok := commandHandlers[event.Data.CommandName()]
	registryMu.RUnlock()
	if ok {
		SafeGo(func() { h(event) })
	}
}

func onAutocompleteInteraction(event *events.AutocompleteInteractionCreate) {
	registryMu.RLock()
	h, ok := autocompleteHandlers[event.Data.CommandName]
	registryMu.RUnlock()
	if ok {
		SafeGo(func() { h(event) })
	}
}

func onComponentInteraction(event *events.ComponentInteractionCreate) {
	if h, ok := componentHandler(event.Data.CustomID()); ok {
		SafeGo(func() { h(event) })
	}
}

// componentHandler resolves a custom id, preferring an exact match over a
// prefix match.
func componentHandler(customID string) (func(event *events.ComponentInteractionCreate), bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if h, ok := componentHandlers[customID]; ok {
		return h, true
	}
	for prefix, h := range componentHandlers {
		if strings.HasSuffix(prefix, ":") && strings.HasPrefix(customID, prefix) {
			return h, true
		}
	}
	return nil, false
}

func onVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	registryMu.RLock()
	hs := append([](func(*events.GuildVoiceStateUpdate))(nil), voiceStateHandlers...)
	registryMu.RUnlock()
	for _, h := range hs {
		SafeGo(func() { h(event) })
	}
}

func onMessageCreate(event *events.MessageCreate) {
	if event.Message.Author.Bot {
		return
	}
	registryMu.RLock()
	hs := append([](func(*events.MessageCreate))(nil), messageHandlers...)
	registryMu.RUnlock()
	for _, h := range hs {
		SafeGo(func() { h(event) })
	}
}

// --- Daemon System ---

type daemonEntry struct {
	name    string
	starter func(ctx context.Context) (bool, func(), func())
	logger  func(format string, v ...any)
}

var (
	registeredDaemons  []daemonEntry
	activeShutdownMu   sync.Mutex
	activeShutdownHook []func()
)

// RegisterDaemon registers a background daemon. starter reports whether the
// daemon is enabled and returns its run loop and an optional shutdown hook.
func RegisterDaemon(name string, logger func(format string, v ...any), starter func(ctx context.Context) (bool, func(), func())) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registeredDaemons = append(registeredDaemons, daemonEntry{name: name, starter: starter, logger: logger})
}

// StartDaemons starts all registered daemons once.
func StartDaemons(ctx context.Context) {
	daemonsOnce.Do(func() {
		registryMu.RLock()
		daemons := append([]daemonEntry(nil), registeredDaemons...)
		registryMu.RUnlock()

		for _, d := range daemons {
			ok, run, shutdown := d.starter(ctx)
			if !ok || run == nil {
				d.logger(MsgLoaderDaemonSkipped, d.name)
				continue
			}
			if shutdown != nil {
				activeShutdownMu.Lock()
				activeShutdownHook = append(activeShutdownHook, shutdown)
				activeShutdownMu.Unlock()
			}
			d.logger(MsgLoaderDaemonStarted, d.name)
			SafeGo(run)
		}
	})
}

// ShutdownDaemons runs every shutdown hook in parallel and waits for them.
func ShutdownDaemons() {
	activeShutdownMu.Lock()
	defer activeShutdownMu.Unlock()

	var wg sync.WaitGroup
	for _, shutdown := range activeShutdownHook {
		wg.Add(1)
		go func(s func()) {
			defer wg.Done()
			s()
		}(shutdown)
	}
	wg.Wait()
	activeShutdownHook = nil
}
