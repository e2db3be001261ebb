package sys

// --- Message Constants ---

const (
	// --- Infrastructure & Lifecycle ---
	MsgConfigFailedToLoad  = "Failed to load config: %v"
	MsgConfigMissingToken  = "DISCORD_TOKEN is not set in .env file"
	MsgConfigBadDuration   = "%s must be a positive duration, got %q"
	MsgConfigFileError     = "Failed to read config file %s: %w"
	MsgDatabaseInitSuccess = "Database initialized successfully"
	MsgDatabaseTableError  = "Failed to create table: %w"
	MsgDatabasePragmaError = "Failed to set pragma %s: %w"
	MsgDaemonStarting      = "Starting..."
	MsgBotStarting         = "Starting %s..."
	MsgBotReady            = "%s is ready! (ID: %s) (PID: %d) (Took: %dms)"
	MsgBotShutdown         = "Shutting down %s..."
	MsgBotKillingOld       = "Killing running instance... (PID: %d)"
	MsgBotKillFail         = "Failed to kill old instance: %v"
	MsgBotOldTerminated    = "Old instance terminated."
	MsgBotPIDWriteFail     = "Failed to write PID file: %v"
	MsgBotRegisterFail     = "Command registration failed: %v"
	MsgGenericError        = "%v"

	// --- Command Loader & Registry ---
	MsgLoaderSyncCommands       = "Syncing %s commands..."
	MsgLoaderUpToDate           = "Commands are up to date. (Hash: %s)"
	MsgLoaderTransition         = "[TRANSITION] Switching from %s to %s mode."
	MsgLoaderCleanup            = "[CLEANUP] Removing commands from previous dev guild: %s"
	MsgLoaderDevStarting        = "[DEV] Registering commands to guild: %s"
	MsgLoaderDevRegistered      = "[DEV] Registered: %s"
	MsgLoaderDevFail            = "[DEV] Registration failed: %v"
	MsgLoaderDevGlobalClearFail = "[DEV] Global clear skipped (likely rate limited): %v"
	MsgLoaderProdStarting       = "[PROD] Registering commands globally..."
	MsgLoaderProdRegistered     = "[PROD] Registered: %s"
	MsgLoaderProdFail           = "[PROD] Global registration failed: %w"
	MsgLoaderPanicRecovered     = "Panic recovered in handler: %v"
	MsgLoaderDaemonStarted      = "Daemon %s started"
	MsgLoaderDaemonSkipped      = "Daemon %s is disabled"
	MsgLoaderDevGlobalClear     = "[DEV] Verifying global commands are cleared..."
	MsgLoaderScanStarting       = "[SCAN] Checking all guilds for ghost commands..."
	MsgLoaderScanCleared        = "[SCAN] Cleared ghost commands from: %s (%s)"
	MsgLoaderSkipped            = "Skipping command registration as requested."
	MsgBotAPIStatusError        = "discord API returned status %d"
	MsgBotUsernameFail          = "Failed to get bot username: %v"

	// --- Player ---
	MsgPlayerNeedVoice     = "You need to be in a voice channel to play music!"
	MsgPlayerJoinFailed    = "Failed to join voice channel."
	MsgPlayerAllPlayed     = "All songs played."
	MsgPlayerAloneLeft     = "Left voice channel due to inactivity."
	MsgPlayerRestricted    = "⚠ Skipping track **%s**: age restricted or blocked."
	MsgPlayerStreamError   = "❌ Stream error on track **%s**, skipping."
	MsgPlayerLoadError     = "❌ Error loading **%s**, skipping..."
	MsgPlayerSeekFailed    = "⚠ Could not seek in **%s**."
	MsgPlayerDisconnected  = "I was disconnected from the voice channel, so the queue was cleared."
	MsgPlayerNowPlaying    = "🎶 Now playing **%s** (requested by %s)"
	MsgPlayerLogStart      = "[%s] Starting %q (preloaded=%t)"
	MsgPlayerLogEnded      = "[%s] %q ended"
	MsgPlayerLogStale      = "[%s] Dropped stale event from generation %s"
	MsgPlayerLogError      = "[%s] Stream error on %q: %v"
	MsgPlayerLogTeardown   = "[%s] Tearing down room (%s)"
	MsgPlayerLogJoinFail   = "[%s] Voice join failed: %v"
	MsgPlayerLogResolveErr = "[%s] Could not resolve direct url for %q: %v"
	MsgPlayerLogSeek       = "[%s] Seeking %q to %s"

	// --- Preloader ---
	MsgPreloadStarted      = "[%s] Preloading %q"
	MsgPreloadDone         = "[%s] Preloaded %q into %s"
	MsgPreloadFailed       = "[%s] Preload of %q failed: %v"
	MsgPreloadCancelled    = "[%s] Cancelled preload of %q"
	MsgPreloadDeleteFailed = "Failed to delete cached file %s: %v"
	MsgPreloadVanished     = "[%s] Cached file %s was removed externally"
	MsgPreloadWatchFailed  = "Cache watcher stopped: %v"
	MsgPreloadCacheCleaned = "Removed %d stale cache file(s) from %s"

	// --- Watchdog ---
	MsgWatchdogArmed     = "[%s] No listeners left, leaving in %s"
	MsgWatchdogCancelled = "[%s] Listeners are back, cancelled auto-leave"
	MsgWatchdogFired     = "[%s] Alone timer fired"

	// --- Voice ---
	MsgVoiceJoining       = "[%s] Joining channel %s"
	MsgVoiceJoined        = "[%s] Connected to channel %s"
	MsgVoiceJoinRetry     = "[%s] Join attempt %d failed: %v"
	MsgVoiceClosed        = "[%s] Voice connection closed"
	MsgVoiceProviderPanic = "Recovered from panic in SetOpusFrameProvider: %v"
	MsgVoiceStatusFailed  = "[%s] Failed to set voice status: %v"
	MsgVoiceNotifyFailed  = "[%s] Failed to send message: %v"
	MsgVoiceBotMoved      = "[%s] Moved to channel %s"
	MsgVoiceBotKicked     = "[%s] Disconnected from voice externally"

	// --- Discovery ---
	MsgDiscoverySearch      = "Searching for %q"
	MsgDiscoveryResolveFail = "Failed to resolve %q: %v"
	MsgDiscoverySpotifyFail = "Spotify lookup failed: %v"
	MsgDiscoveryAttachment  = "Probed attachment %s (%s)"
	MsgDiscoveryFallback    = "Search for %q failed, falling back to yt-dlp: %v"
	MsgDiscoveryNoMatch     = "No match for Spotify track %q"
	MsgDiscoveryPlaylist    = "Listed %d entries from %s"

	// --- Commands ---
	MsgCmdPlayUsage        = "Usage: `%splay <song name or URL>`"
	MsgCmdSeekUsage        = "Usage: `%sseek <1:30 | +30s | -10s>`"
	MsgCmdNoResults        = "No results found for **%s**."
	MsgCmdSearchFailed     = "Search failed, try again in a moment."
	MsgCmdAdded            = "🎵 Added **%s** to the queue (#%d)."
	MsgCmdAddedMany        = "🎵 Added %d song(s) from **%s**."
	MsgCmdNothingPlaying   = "There's no music playing!"
	MsgCmdNothingToSkip    = "There's nothing to skip!"
	MsgCmdSkipped          = "⏭️ Skipped: **%s**"
	MsgCmdPaused           = "⏸️ Song paused."
	MsgCmdResumed          = "▶️ Song resumed."
	MsgCmdNotPlaying       = "Nothing is currently playing!"
	MsgCmdNoPrevious       = "No previous song to play!"
	MsgCmdPrevious         = "⏮️ Playing previous: **%s**"
	MsgCmdLoopOn           = "🔂 Loop enabled"
	MsgCmdLoopOff          = "Loop disabled"
	MsgCmdStopped          = "⏹️ Stopped playback and cleared queue."
	MsgCmdCleared          = "🗑️ Cleared %d song(s) from the queue."
	MsgCmdNothingToClear   = "No upcoming songs to clear!"
	MsgCmdShuffled         = "🔀 Queue shuffled!"
	MsgCmdNothingToShuffle = "There's nothing to shuffle!"
	MsgCmdReplaying        = "🔁 Replaying current song..."
	MsgCmdReplayQueue      = "🔁 Added %d song(s) from previous queue."
	MsgCmdNoReplayQueue    = "No previous queue to replay!"
	MsgCmdJoined           = "Joined %s"
	MsgCmdAlreadyJoined    = "I'm already in your voice channel!"
	MsgCmdLeft             = "👋 Left voice channel."
	MsgCmdNotInVoice       = "I'm not in a voice channel!"
	MsgCmdPong             = "Pong! 🏓 (%s)"
	MsgCmdSeeked           = "⏩ Jumped to %s."
	MsgCmdSeekUnavailable  = "Seeking isn't available for this track yet."
	MsgCmdBusy             = "Hold on, the player is busy."
	MsgCmdQueueHeader      = "**Now Playing:** %s\n"
	MsgCmdQueueUpNext      = "\n**Up next (page %d/%d):**\n"
	MsgCmdQueueEmpty       = "Queue is empty!"
	MsgCmdQueueNoUpcoming  = "\nNo upcoming songs."
	MsgCmdQueueItem        = "%d. %s\n"
	MsgCmdQueueMore        = "...and %d more"
	MsgCmdQueueFooter      = "\n%d song(s) · %s"
	MsgCmdStats            = "**Auralia stats**\n> Uptime: %s\n> Active rooms: %d\n> Songs played here: %s\n> Cache: %s"
	MsgCmdHelp             = "**Commands** (prefix `%s`)\n" +
		"`play`/`p` <query>: play or toggle pause\n" +
		"`pause`, `skip`/`next`, `previous`/`prev`, `stop`\n" +
		"`loop`, `shuffle`, `replay`, `replayq`, `clear`\n" +
		"`queue`/`q`, `nowplaying`/`np`\n" +
		"`seek` <1:30|+30s|-10s>, `forward` [secs], `rewind` [secs]\n" +
		"`join`, `leave`, `ping`, `stats`"
	MsgCmdSpotifyDisabled  = "Spotify links are not enabled on this bot."
	MsgCmdUnsupportedMedia = "That attachment is not a supported audio file."
	MsgCmdAttachmentLarge  = "That attachment is too large to play."
	MsgCmdNoPlayer         = "No music playing!"
	MsgCmdUnknownButton    = "Unknown button"
	MsgCardTitle           = "### 🎵 Now Playing\n**%s**"
	MsgCardProgress        = "%s `%s / %s`"
	MsgCardFooter          = "-# Requested by %s · Queue: %d song(s)"
	MsgCardPaused          = "-# ⏸️ Paused"
	MsgCardEnded           = "-# Finished"
	MsgCardSendFailed      = "[%s] Failed to post now playing card: %v"
	MsgCardEditFailed      = "[%s] Failed to refresh now playing card: %v"
	MsgCmdInvoked          = "[%s] %s ran %s %q"
	MsgCmdFailed           = "[%s] %s failed: %v"
	ErrCmdGeneric          = "Something went wrong, please try again."
)
