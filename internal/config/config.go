package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration written as a string ("1.5s") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config represents ~/.chatsync/config.toml.
type Config struct {
	DefaultProfile string   `toml:"default_profile"`
	Server         Server   `toml:"server"`
	Identity       Identity `toml:"identity"`
	History        History  `toml:"history"`
	Timing         Timing   `toml:"timing"`
	Viewport       Viewport `toml:"viewport"`
	Upload         Upload   `toml:"upload"`
}

// Server locates the chat backend.
type Server struct {
	BaseURL string `toml:"base_url"`
	PushURL string `toml:"push_url"`
	Token   string `toml:"token"`
}

// Identity is the signed-in user.
type Identity struct {
	UserID   string `toml:"user_id"`
	UserName string `toml:"user_name"`
}

type History struct {
	Limit int `toml:"limit"`
}

type Timing struct {
	TypingIdle     Duration `toml:"typing_idle"`
	TypingTTL      Duration `toml:"typing_ttl"`
	TypingSweep    Duration `toml:"typing_sweep"`
	ReactionWindow Duration `toml:"reaction_window"`
}

type Viewport struct {
	NearBottomPx int `toml:"near_bottom_px"`
}

type Upload struct {
	MaxFiles          int   `toml:"max_files"`
	CompressThreshold int64 `toml:"compress_threshold"`
	MaxDimension      int   `toml:"max_dimension"`
	Quality           int   `toml:"quality"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		Server: Server{
			BaseURL: "http://localhost:3000/api",
			PushURL: "ws://localhost:3000/ws",
		},
		History: History{Limit: 100},
		Timing: Timing{
			TypingIdle:     Duration{1500 * time.Millisecond},
			TypingTTL:      Duration{5 * time.Second},
			TypingSweep:    Duration{2 * time.Second},
			ReactionWindow: Duration{350 * time.Millisecond},
		},
		Viewport: Viewport{NearBottomPx: 100},
		Upload: Upload{
			MaxFiles:          5,
			CompressThreshold: 1 << 20,
			MaxDimension:      1920,
			Quality:           80,
		},
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	for _, kv := range [][2]string{{"server.base_url", c.Server.BaseURL}, {"server.push_url", c.Server.PushURL}} {
		key, raw := kv[0], kv[1]
		if raw == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s: invalid url %q", key, raw))
		}
	}
	if c.History.Limit <= 0 {
		errs = append(errs, fmt.Errorf("history.limit must be positive, got %d", c.History.Limit))
	}
	if c.Viewport.NearBottomPx < 0 {
		errs = append(errs, fmt.Errorf("viewport.near_bottom_px must not be negative"))
	}
	if c.Upload.Quality < 1 || c.Upload.Quality > 100 {
		errs = append(errs, fmt.Errorf("upload.quality must be in 1..100, got %d", c.Upload.Quality))
	}
	if c.Upload.MaxFiles <= 0 {
		errs = append(errs, fmt.Errorf("upload.max_files must be positive, got %d", c.Upload.MaxFiles))
	}
	return errors.Join(errs...)
}

// Load reads config from the given path over the defaults. Returns an error
// if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Default when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
