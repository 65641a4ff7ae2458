package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"podloop/internal/app"
	"podloop/internal/feed"
	"podloop/internal/library"
	"podloop/internal/mpv"
	"podloop/internal/playback"
)

// Config is the top-level YAML configuration for the podloop daemon.
//
// Defaults and validation live here so the rest of the code can assume a
// well-formed config. The file is the primary surface; flags are small
// overrides on top of it.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Data     DataConfig     `yaml:"data"`
	IPC      IPCConfig      `yaml:"ipc"`
	StateWS  StateWSConfig  `yaml:"state_ws"`
	Player   PlayerConfig   `yaml:"player"`
	Playback PlaybackConfig `yaml:"playback"`
	History  HistoryConfig  `yaml:"history"`
	Feeds    FeedsConfig    `yaml:"feeds"`
	Input    InputConfig    `yaml:"input"`
	EventLog EventLogConfig `yaml:"event_log"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type DataConfig struct {
	Dir         string `yaml:"dir"`
	Database    string `yaml:"database,omitempty"`     // default: <dir>/podloop.db
	DownloadDir string `yaml:"download_dir,omitempty"` // default: <dir>/downloads
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type StateWSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
	// CoalesceMS bounds how often position-only updates are sent.
	CoalesceMS int `yaml:"coalesce_ms"`
	SendBuf    int `yaml:"send_buf,omitempty"`
}

const (
	PlayerBackendMPV  = "mpv"
	PlayerBackendNone = "none"
)

type PlayerConfig struct {
	Backend          string   `yaml:"backend"` // "mpv" or "none"
	Binary           string   `yaml:"binary"`
	SocketPath       string   `yaml:"socket_path"`
	ExtraArgs        []string `yaml:"extra_args,omitempty"`
	StartupTimeoutMS int      `yaml:"startup_timeout_ms"`
}

type PlaybackConfig struct {
	PollIntervalMS      int     `yaml:"poll_interval_ms"`
	RetryIntervalMS     int     `yaml:"retry_interval_ms"`
	CommandTimeoutMS    int     `yaml:"command_timeout_ms"`
	SmartResumeAfterSec int     `yaml:"smart_resume_after_sec"`
	SmartResumeRewindMS int     `yaml:"smart_resume_rewind_ms"`
	DefaultSleepMinutes int     `yaml:"default_sleep_minutes"`
	MinSpeed            float64 `yaml:"min_speed"`
	MaxSpeed            float64 `yaml:"max_speed"`
	ProgressEverySec    int     `yaml:"progress_every_sec"`
}

type HistoryConfig struct {
	Cap int `yaml:"cap"`
}

type FeedsConfig struct {
	ProxyURL         string `yaml:"proxy_url"`
	SearchURL        string `yaml:"search_url"`
	UserAgent        string `yaml:"user_agent"`
	TimeoutMS        int    `yaml:"timeout_ms"`
	Retries          int    `yaml:"retries"`
	InitialBackoffMS int    `yaml:"initial_backoff_ms"`
}

type InputConfig struct {
	Devices []string `yaml:"devices,omitempty"` // empty disables media keys
}

type EventLogConfig struct {
	Queue int `yaml:"queue"`
	Keep  int `yaml:"keep"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	pb := playback.DefaultConfig()
	return Config{
		Logging: LoggingConfig{Level: "info"},
		Data: DataConfig{
			Dir: "~/.local/share/podloop",
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/podloop.sock",
		},
		StateWS: StateWSConfig{
			Enabled:    true,
			Listen:     "127.0.0.1:3002",
			Path:       "/state",
			CoalesceMS: 250,
			SendBuf:    32,
		},
		Player: PlayerConfig{
			Backend:          PlayerBackendMPV,
			Binary:           "mpv",
			SocketPath:       "/tmp/podloop-mpv.sock",
			StartupTimeoutMS: 5000,
		},
		Playback: PlaybackConfig{
			PollIntervalMS:      int(pb.PollInterval / time.Millisecond),
			RetryIntervalMS:     int(pb.RetryInterval / time.Millisecond),
			CommandTimeoutMS:    int(pb.CommandTimeout / time.Millisecond),
			SmartResumeAfterSec: int(pb.SmartResumeAfter / time.Second),
			SmartResumeRewindMS: int(pb.SmartResumeRewind / time.Millisecond),
			DefaultSleepMinutes: int(pb.DefaultSleep / time.Minute),
			MinSpeed:            pb.MinSpeed,
			MaxSpeed:            pb.MaxSpeed,
			ProgressEverySec:    5,
		},
		History: HistoryConfig{Cap: 50},
		Feeds: FeedsConfig{
			ProxyURL:         "https://api.allorigins.win/get?url=",
			SearchURL:        "https://itunes.apple.com/search",
			UserAgent:        "podloop/" + Version,
			TimeoutMS:        30000,
			Retries:          3,
			InitialBackoffMS: 2000,
		},
		EventLog: EventLogConfig{Queue: 256, Keep: 1000},
	}
}

// Load reads and parses a YAML config file over DefaultConfig.
//
// Unknown fields are rejected (helps catch typos) and only whitespace or
// comments may follow the document.
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes over DefaultConfig.
func Parse(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}
	var rest yaml.Node
	if err := dec.Decode(&rest); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}
	return cfg, nil
}

// FlagOverrides are CLI overrides applied on top of a loaded config.
// Each override is only applied if its pointer is non-nil.
type FlagOverrides struct {
	LogLevel      *string
	DataDir       *string
	IPCSocketPath *string
	StateWSListen *string
	StateWSOff    *bool
	PlayerBackend *string
	PlayerBinary  *string
	InputDevices  *[]string
	HistoryCap    *int
}

// Apply merges the overrides into cfg. A non-nil pointer is applied even if
// it holds a zero value.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.DataDir != nil {
		cfg.Data.Dir = *o.DataDir
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.StateWSListen != nil {
		cfg.StateWS.Listen = *o.StateWSListen
	}
	if o.StateWSOff != nil && *o.StateWSOff {
		cfg.StateWS.Enabled = false
	}
	if o.PlayerBackend != nil {
		cfg.Player.Backend = *o.PlayerBackend
	}
	if o.PlayerBinary != nil {
		cfg.Player.Binary = *o.PlayerBinary
	}
	if o.InputDevices != nil {
		cfg.Input.Devices = append([]string(nil), (*o.InputDevices)...)
	}
	if o.HistoryCap != nil {
		cfg.History.Cap = *o.HistoryCap
	}
}

// Validate checks config invariants and fills derived paths. It is intended
// to be called after defaults, file and overrides are applied.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	if c.Data.Dir == "" {
		return errors.New("data.dir must not be empty")
	}
	c.Data.Dir = ExpandPath(c.Data.Dir)
	if c.Data.Database == "" {
		c.Data.Database = filepath.Join(c.Data.Dir, "podloop.db")
	}
	if c.Data.DownloadDir == "" {
		c.Data.DownloadDir = filepath.Join(c.Data.Dir, "downloads")
	}
	c.Data.Database = ExpandPath(c.Data.Database)
	c.Data.DownloadDir = ExpandPath(c.Data.DownloadDir)

	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	if c.StateWS.Enabled {
		if c.StateWS.Listen == "" {
			return errors.New("state_ws.listen must not be empty when enabled")
		}
		if c.StateWS.Path == "" || c.StateWS.Path[0] != '/' {
			return errors.New("state_ws.path must start with /")
		}
		if c.StateWS.CoalesceMS < 0 {
			return errors.New("state_ws.coalesce_ms must be >= 0")
		}
	}

	switch c.Player.Backend {
	case PlayerBackendMPV:
		if c.Player.Binary == "" {
			return errors.New("player.binary must not be empty for the mpv backend")
		}
		if c.Player.SocketPath == "" {
			return errors.New("player.socket_path must not be empty for the mpv backend")
		}
	case PlayerBackendNone:
	default:
		return fmt.Errorf("player.backend must be %q or %q", PlayerBackendMPV, PlayerBackendNone)
	}

	p := c.Playback
	if p.PollIntervalMS <= 0 || p.PollIntervalMS > 10000 {
		return errors.New("playback.poll_interval_ms must be between 1 and 10000")
	}
	if p.RetryIntervalMS <= 0 {
		return errors.New("playback.retry_interval_ms must be > 0")
	}
	if p.CommandTimeoutMS <= 0 {
		return errors.New("playback.command_timeout_ms must be > 0")
	}
	if p.SmartResumeAfterSec < 0 || p.SmartResumeRewindMS < 0 {
		return errors.New("playback smart resume settings must be >= 0")
	}
	if p.DefaultSleepMinutes <= 0 {
		return errors.New("playback.default_sleep_minutes must be > 0")
	}
	if p.MinSpeed <= 0 || p.MinSpeed > p.MaxSpeed {
		return errors.New("playback.min_speed must be > 0 and <= playback.max_speed")
	}
	if p.ProgressEverySec <= 0 {
		return errors.New("playback.progress_every_sec must be > 0")
	}

	if c.History.Cap < 2 {
		return errors.New("history.cap must be >= 2")
	}

	if c.Feeds.Retries < 1 {
		return errors.New("feeds.retries must be >= 1")
	}
	if c.Feeds.InitialBackoffMS < 0 || c.Feeds.TimeoutMS <= 0 {
		return errors.New("feeds.initial_backoff_ms must be >= 0 and feeds.timeout_ms > 0")
	}

	for i, dev := range c.Input.Devices {
		if dev == "" {
			return fmt.Errorf("input.devices[%d] is empty", i)
		}
	}

	if c.EventLog.Queue <= 0 || c.EventLog.Keep <= 0 {
		return errors.New("event_log.queue and event_log.keep must be > 0")
	}
	return nil
}

// PlaybackConfig converts the file config into the controller config.
func (c *Config) PlaybackConfig() playback.Config {
	cfg := playback.DefaultConfig()
	p := c.Playback
	cfg.PollInterval = time.Duration(p.PollIntervalMS) * time.Millisecond
	cfg.RetryInterval = time.Duration(p.RetryIntervalMS) * time.Millisecond
	cfg.CommandTimeout = time.Duration(p.CommandTimeoutMS) * time.Millisecond
	cfg.SmartResumeAfter = time.Duration(p.SmartResumeAfterSec) * time.Second
	cfg.SmartResumeRewind = time.Duration(p.SmartResumeRewindMS) * time.Millisecond
	cfg.DefaultSleep = time.Duration(p.DefaultSleepMinutes) * time.Minute
	cfg.MinSpeed = p.MinSpeed
	cfg.MaxSpeed = p.MaxSpeed
	return cfg
}

// StoreOptions converts the file config into application store options.
func (c *Config) StoreOptions() app.Options {
	opts := app.DefaultOptions()
	opts.HistoryCap = c.History.Cap
	opts.ProgressEvery = time.Duration(c.Playback.ProgressEverySec) * time.Second
	return opts
}

// LibraryOptions converts the data and event log sections.
func (c *Config) LibraryOptions() library.Options {
	return library.Options{
		DownloadDir: c.Data.DownloadDir,
		EventKeep:   c.EventLog.Keep,
	}
}

// MPVConfig converts the player section.
func (c *Config) MPVConfig() mpv.Config {
	return mpv.Config{
		Binary:         c.Player.Binary,
		SocketPath:     ExpandPath(c.Player.SocketPath),
		ExtraArgs:      c.Player.ExtraArgs,
		StartupTimeout: time.Duration(c.Player.StartupTimeoutMS) * time.Millisecond,
	}
}

// ApplyFeeds configures a feed client from the feeds section.
func (c *Config) ApplyFeeds(fc *feed.Client) {
	f := c.Feeds
	fc.ProxyURL = f.ProxyURL
	fc.SearchURL = f.SearchURL
	fc.UserAgent = f.UserAgent
	fc.HTTP.Timeout = time.Duration(f.TimeoutMS) * time.Millisecond
	fc.Backoff.Attempts = f.Retries
	fc.Backoff.Initial = time.Duration(f.InitialBackoffMS) * time.Millisecond
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
