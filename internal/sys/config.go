package sys

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	DefaultPrefix       = "!"
	DefaultCacheDir     = ".cache"
	DefaultConfigFile   = "auralia.toml"
	DefaultAloneTimeout = 60 * time.Second
	DefaultJoinTimeout  = 15 * time.Second
	DefaultSeekSettle   = 1500 * time.Millisecond
)

type Config struct {
	Token         string
	GuildID       string
	DatabasePath  string
	OwnerIDs      []string
	Prefix        string
	Silent        bool
	CacheDir      string
	Player        PlayerConfig
	SpotifyID     string
	SpotifySecret string
}

// PlayerConfig holds the playback tunables. They may come from the TOML
// file's [player] table and are overridden by the environment.
type PlayerConfig struct {
	AloneTimeout Duration `toml:"alone_timeout"`
	JoinTimeout  Duration `toml:"join_timeout"`
	SeekSettle   Duration `toml:"seek_settle"`
}

// Duration decodes TOML strings such as "90s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// fileConfig mirrors the optional TOML file.
type fileConfig struct {
	Prefix   string       `toml:"prefix"`
	GuildID  string       `toml:"guild_id"`
	Database string       `toml:"database"`
	CacheDir string       `toml:"cache_dir"`
	Owners   []string     `toml:"owners"`
	Player   PlayerConfig `toml:"player"`
	Spotify  struct {
		ClientID     string `toml:"client_id"`
		ClientSecret string `toml:"client_secret"`
	} `toml:"spotify"`
}

var GlobalConfig *Config

// Validate ensures the configuration is valid and meets requirements.
func (c *Config) Validate() error {
	if c.Token == "" {
		return errors.New(MsgConfigMissingToken)
	}

	if c.GuildID != "" && (len(c.GuildID) < 17 || len(c.GuildID) > 20) {
		return fmt.Errorf("invalid GUILD_ID: must be a valid Snowflake")
	}

	checks := []struct {
		name string
		d    time.Duration
	}{
		{"ALONE_TIMEOUT", c.Player.AloneTimeout.Duration},
		{"JOIN_TIMEOUT", c.Player.JoinTimeout.Duration},
		{"SEEK_SETTLE", c.Player.SeekSettle.Duration},
	}
	for _, ch := range checks {
		if ch.d <= 0 {
			return fmt.Errorf(MsgConfigBadDuration, ch.name, ch.d.String())
		}
	}

	if strings.TrimSpace(c.Prefix) == "" {
		return fmt.Errorf("PREFIX must not be blank")
	}

	return nil
}

// SpotifyEnabled reports whether Spotify links can be resolved.
func (c *Config) SpotifyEnabled() bool {
	return c.SpotifyID != "" && c.SpotifySecret != ""
}

func LoadConfig() (*Config, error) {
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	cfg := defaultConfig()

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = DefaultConfigFile
	}
	if err := cfg.applyFile(path); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Silent {
		SetSilentMode(true)
	}

	GlobalConfig = cfg
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Prefix:   DefaultPrefix,
		CacheDir: DefaultCacheDir,
		Player: PlayerConfig{
			AloneTimeout: Duration{DefaultAloneTimeout},
			JoinTimeout:  Duration{DefaultJoinTimeout},
			SeekSettle:   Duration{DefaultSeekSettle},
		},
	}
}

// applyFile overlays values from a TOML file. A missing file is not an error.
func (c *Config) applyFile(path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf(MsgConfigFileError, path, err)
	}

	if fc.Prefix != "" {
		c.Prefix = fc.Prefix
	}
	if fc.GuildID != "" {
		c.GuildID = fc.GuildID
	}
	if fc.Database != "" {
		c.DatabasePath = fc.Database
	}
	if fc.CacheDir != "" {
		c.CacheDir = fc.CacheDir
	}
	if len(fc.Owners) > 0 {
		c.OwnerIDs = fc.Owners
	}
	if fc.Player.AloneTimeout.Duration != 0 {
		c.Player.AloneTimeout = fc.Player.AloneTimeout
	}
	if fc.Player.JoinTimeout.Duration != 0 {
		c.Player.JoinTimeout = fc.Player.JoinTimeout
	}
	if fc.Player.SeekSettle.Duration != 0 {
		c.Player.SeekSettle = fc.Player.SeekSettle
	}
	c.SpotifyID = fc.Spotify.ClientID
	c.SpotifySecret = fc.Spotify.ClientSecret
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	c.Token = getenv("DISCORD_TOKEN")

	if v := getenv("GUILD_ID"); v != "" {
		c.GuildID = v
	}
	if v := getenv("PREFIX"); v != "" {
		c.Prefix = v
	}
	if v := getenv("AUDIO_CACHE_DIR"); v != "" {
		c.CacheDir = v
	}
	if v := getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.SpotifyID = v
	}
	if v := getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.SpotifySecret = v
	}

	c.Silent, _ = strconv.ParseBool(getenv("SILENT"))

	if v := getenv("OWNER_IDS"); v != "" {
		c.OwnerIDs = strings.Split(v, ",")
		for i := range c.OwnerIDs {
			c.OwnerIDs[i] = strings.TrimSpace(c.OwnerIDs[i])
		}
	}

	durations := []struct {
		key string
		dst *Duration
	}{
		{"ALONE_TIMEOUT", &c.Player.AloneTimeout},
		{"JOIN_TIMEOUT", &c.Player.JoinTimeout},
		{"SEEK_SETTLE", &c.Player.SeekSettle},
	}
	for _, d := range durations {
		v := getenv(d.key)
		if v == "" {
			continue
		}
		if err := d.dst.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf(MsgConfigBadDuration, d.key, v)
		}
	}

	if v := getenv("DATABASE_PATH"); v != "" {
		c.DatabasePath = v
	}
	if c.DatabasePath == "" {
		folder := "."
		if info, err := os.Stat("data"); err == nil && info.IsDir() {
			folder = "./data"
		}
		c.DatabasePath = filepath.Join(folder, GetProjectName()+".db")
	}
	return nil
}

// IsOwner reports whether id is listed in OWNER_IDS.
func (c *Config) IsOwner(id string) bool {
	for _, o := range c.OwnerIDs {
		if o == id {
			return true
		}
	}
	return false
}

func GetProjectName() string {
	exePath, err := os.Executable()
	projectName := "auralia"
	if err == nil {
		projectName = filepath.Base(exePath)
		projectName = strings.TrimSuffix(projectName, ".exe")

		if projectName == "main" || strings.HasPrefix(projectName, "go_build_") || strings.HasSuffix(projectName, ".test") {
			projectName = "auralia"
		}
	}
	return projectName
}
