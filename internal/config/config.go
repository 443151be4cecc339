// Package config loads and validates the TOML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath = "config.toml"
	DefaultHTTPAddr   = ":8080"

	DefaultInferenceTimeout = 120 * time.Second
	DefaultWarmupWindow     = 4 * time.Hour
	DefaultActiveInterval   = 10 * time.Minute

	DefaultMinSegmentRunes = 6

	DefaultQueueCapacity    = 256
	DefaultBaseDelay        = 2 * time.Second
	DefaultBacklogThreshold = 8

	DefaultVoiceMinRunes = 4
	DefaultVoiceMinProb  = 0.2
	DefaultVoiceMaxProb  = 0.6

	DefaultHistoryPath      = "data/messages.db"
	DefaultHistoryRetention = 30 * 24 * time.Hour

	DefaultTransportTimeout = 30 * time.Second
)

type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Bot       BotConfig       `toml:"bot"`
	Policy    PolicyConfig    `toml:"policy"`
	Transport TransportConfig `toml:"transport"`
	Inference InferenceConfig `toml:"inference"`
	Segment   SegmentConfig   `toml:"segment"`
	Dispatch  DispatchConfig  `toml:"dispatch"`
	History   HistoryConfig   `toml:"history"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format" validate:"omitempty,oneof=text json"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

// BotConfig identifies the bot on the transport. Identity is the transport
// account id used for self-sent correction during normalization.
type BotConfig struct {
	Identity string `toml:"identity" validate:"required"`
	Nickname string `toml:"nickname"`
}

type PolicyConfig struct {
	// Mode is one of "", "whitelist", "blacklist". Empty accepts everything.
	Mode      string   `toml:"mode" validate:"omitempty,oneof=whitelist blacklist"`
	Whitelist []string `toml:"whitelist"`
	Blacklist []string `toml:"blacklist"`
	// WarmupWindow suppresses event emission for this long after session
	// start. Messages are still normalized and logged.
	WarmupWindow   duration `toml:"warmup_window"`
	IgnoreWarmup   bool     `toml:"ignore_warmup"`
	ActiveInterval duration `toml:"active_interval"`
}

// TransportConfig points at the session sidecar that owns the wire protocol
// and login state. TTSBaseURL is the speech synthesis service; leave it
// empty to disable voice replies regardless of dispatch settings.
type TransportConfig struct {
	BaseURL    string   `toml:"base_url" validate:"omitempty,url"`
	TTSBaseURL string   `toml:"tts_base_url" validate:"omitempty,url"`
	TTSVoice   string   `toml:"tts_voice"`
	Timeout    duration `toml:"timeout"`
}

type InferenceConfig struct {
	BaseURL     string   `toml:"base_url" validate:"omitempty,url"`
	ChatRole    string   `toml:"chat_role"`
	Model       string   `toml:"model"`
	Temperature float64  `toml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int      `toml:"max_tokens" validate:"gte=0"`
	Timeout     duration `toml:"timeout"`
}

type SegmentConfig struct {
	// MinRunes is the minimum segment length; shorter candidates are merged
	// with following content instead of being emitted.
	MinRunes int `toml:"min_runes" validate:"gte=0"`
	// LatinOnly disables the CJK terminator set.
	LatinOnly bool `toml:"latin_only"`
}

type DispatchConfig struct {
	QueueCapacity    int      `toml:"queue_capacity" validate:"gte=0"`
	BaseDelay        duration `toml:"base_delay"`
	BacklogThreshold int      `toml:"backlog_threshold" validate:"gte=0"`
	VoiceEnabled     bool     `toml:"voice_enabled"`
	VoiceMinRunes    int      `toml:"voice_min_runes" validate:"gte=0"`
	VoiceMinProb     float64  `toml:"voice_min_prob" validate:"gte=0,lte=1"`
	VoiceMaxProb     float64  `toml:"voice_max_prob" validate:"gte=0,lte=1"`
	// EchoPrefix is the responder name-tag artifact stripped from outbound
	// text, e.g. "assistant:".
	EchoPrefix string `toml:"echo_prefix"`
}

type HistoryConfig struct {
	Path      string   `toml:"path"`
	Retention duration `toml:"retention"`
}

// duration parses TOML strings like "2s" or "4h" into time.Duration.
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

func (d duration) Std() time.Duration { return time.Duration(d) }

// Load reads the config file, applies defaults, and validates it.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg = ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-value fields with the package defaults.
func ApplyDefaults(cfg Config) Config {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultHTTPAddr
	}
	if cfg.Policy.WarmupWindow == 0 {
		cfg.Policy.WarmupWindow = duration(DefaultWarmupWindow)
	}
	if cfg.Policy.ActiveInterval == 0 {
		cfg.Policy.ActiveInterval = duration(DefaultActiveInterval)
	}
	if cfg.Transport.Timeout == 0 {
		cfg.Transport.Timeout = duration(DefaultTransportTimeout)
	}
	if cfg.Inference.Timeout == 0 {
		cfg.Inference.Timeout = duration(DefaultInferenceTimeout)
	}
	if cfg.Segment.MinRunes == 0 {
		cfg.Segment.MinRunes = DefaultMinSegmentRunes
	}
	if cfg.Dispatch.QueueCapacity == 0 {
		cfg.Dispatch.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.Dispatch.BaseDelay == 0 {
		cfg.Dispatch.BaseDelay = duration(DefaultBaseDelay)
	}
	if cfg.Dispatch.BacklogThreshold == 0 {
		cfg.Dispatch.BacklogThreshold = DefaultBacklogThreshold
	}
	if cfg.Dispatch.VoiceMinRunes == 0 {
		cfg.Dispatch.VoiceMinRunes = DefaultVoiceMinRunes
	}
	if cfg.Dispatch.VoiceMinProb == 0 {
		cfg.Dispatch.VoiceMinProb = DefaultVoiceMinProb
	}
	if cfg.Dispatch.VoiceMaxProb == 0 {
		cfg.Dispatch.VoiceMaxProb = DefaultVoiceMaxProb
	}
	if cfg.History.Path == "" {
		cfg.History.Path = DefaultHistoryPath
	}
	if cfg.History.Retention == 0 {
		cfg.History.Retention = duration(DefaultHistoryRetention)
	}
	return cfg
}

// Validate checks structural constraints beyond what decoding enforces.
func Validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if cfg.Dispatch.VoiceMinProb > cfg.Dispatch.VoiceMaxProb {
		return fmt.Errorf("validate config: voice_min_prob %.2f exceeds voice_max_prob %.2f",
			cfg.Dispatch.VoiceMinProb, cfg.Dispatch.VoiceMaxProb)
	}
	return nil
}
