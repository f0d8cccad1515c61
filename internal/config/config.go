// Package config holds narrator's typed configuration, read from viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dgnsrekt/narrator/internal/audiocache"
	"github.com/dgnsrekt/narrator/internal/synth"
)

// Provider names.
const (
	ProviderElevenLabs = "elevenlabs"
	ProviderGoogle     = "google"
	ProviderRemote     = "remote"
	ProviderMock       = "mock"
)

// Config contains all narrator configuration options.
type Config struct {
	Debug bool

	Voice     VoiceConfig
	Synthesis SynthesisConfig
	Cache     CacheConfig
	Playback  PlaybackConfig
	Audio     AudioConfig
	Serve     ServeConfig
}

// VoiceConfig selects the narration voice.
type VoiceConfig struct {
	ID       string
	Language string
	Settings synth.VoiceSettings
}

// SynthesisConfig configures the speech provider.
type SynthesisConfig struct {
	Provider      string
	Timeout       time.Duration
	WriteTimeout  time.Duration
	StripMarkdown bool

	ElevenLabs ElevenLabsConfig
	Google     GoogleConfig
	Remote     RemoteConfig
}

// ElevenLabsConfig contains ElevenLabs specific settings.
type ElevenLabsConfig struct {
	APIKey            string
	BaseURL           string
	ModelID           string
	OutputFormat      string
	RequestsPerSecond float64
}

// GoogleConfig contains Google Cloud TTS specific settings.
type GoogleConfig struct {
	CredentialsFile string
}

// RemoteConfig points at another narrator server.
type RemoteConfig struct {
	URL string
}

// CacheConfig configures the audio cache.
type CacheConfig struct {
	Backend          string
	Dir              string
	MemoryCapacity   int64
	DiskCapacity     int64
	CompressionLevel int
	URL              string
	Token            string
}

// PlaybackConfig holds playback preferences.
type PlaybackConfig struct {
	Volume       float64
	AutoPlay     bool
	FollowScroll bool
	StaleAfter   time.Duration
}

// AudioConfig configures the output device.
type AudioConfig struct {
	// Device false plays silently, keeping time only.
	Device     bool
	SampleRate int
	BufferSize time.Duration
}

// ServeConfig configures narrator serve.
type ServeConfig struct {
	Addr string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Voice: VoiceConfig{
			ID:       synth.DefaultVoiceID,
			Settings: synth.DefaultVoiceSettings(),
		},
		Synthesis: SynthesisConfig{
			Provider:      ProviderElevenLabs,
			Timeout:       synth.DefaultTimeout,
			WriteTimeout:  synth.DefaultWriteTimeout,
			StripMarkdown: true,
			ElevenLabs: ElevenLabsConfig{
				BaseURL:           "https://api.elevenlabs.io",
				ModelID:           "eleven_multilingual_v2",
				OutputFormat:      "mp3_44100_128",
				RequestsPerSecond: 2,
			},
		},
		Cache: CacheConfig{
			Backend:          audiocache.BackendDisk,
			MemoryCapacity:   32 << 20,
			DiskCapacity:     512 << 20,
			CompressionLevel: 1,
		},
		Playback: PlaybackConfig{
			Volume:     1.0,
			AutoPlay:   true,
			StaleAfter: time.Second,
		},
		Audio: AudioConfig{
			Device:     true,
			SampleRate: 44100,
			BufferSize: 100 * time.Millisecond,
		},
		Serve: ServeConfig{
			Addr: "127.0.0.1:8080",
		},
	}
}

// SetDefaults registers the default values with v.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("debug", d.Debug)

	v.SetDefault("voice.id", d.Voice.ID)
	v.SetDefault("voice.language", d.Voice.Language)
	v.SetDefault("voice.stability", d.Voice.Settings.Stability)
	v.SetDefault("voice.similarity_boost", d.Voice.Settings.SimilarityBoost)
	v.SetDefault("voice.style", d.Voice.Settings.Style)
	v.SetDefault("voice.use_speaker_boost", d.Voice.Settings.UseSpeakerBoost)

	v.SetDefault("synthesis.provider", d.Synthesis.Provider)
	v.SetDefault("synthesis.timeout", d.Synthesis.Timeout)
	v.SetDefault("synthesis.write_timeout", d.Synthesis.WriteTimeout)
	v.SetDefault("synthesis.strip_markdown", d.Synthesis.StripMarkdown)
	v.SetDefault("synthesis.elevenlabs.base_url", d.Synthesis.ElevenLabs.BaseURL)
	v.SetDefault("synthesis.elevenlabs.model_id", d.Synthesis.ElevenLabs.ModelID)
	v.SetDefault("synthesis.elevenlabs.output_format", d.Synthesis.ElevenLabs.OutputFormat)
	v.SetDefault("synthesis.elevenlabs.requests_per_second", d.Synthesis.ElevenLabs.RequestsPerSecond)

	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.memory_capacity", d.Cache.MemoryCapacity)
	v.SetDefault("cache.disk_capacity", d.Cache.DiskCapacity)
	v.SetDefault("cache.compression_level", d.Cache.CompressionLevel)

	v.SetDefault("playback.volume", d.Playback.Volume)
	v.SetDefault("playback.auto_play", d.Playback.AutoPlay)
	v.SetDefault("playback.follow_scroll", d.Playback.FollowScroll)
	v.SetDefault("playback.stale_after", d.Playback.StaleAfter)

	v.SetDefault("audio.device", d.Audio.Device)
	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.buffer_size", d.Audio.BufferSize)

	v.SetDefault("serve.addr", d.Serve.Addr)
}

// Load reads the configuration from v on top of the defaults and validates
// it.
func Load(v *viper.Viper) (Config, error) {
	cfg := DefaultConfig()

	if v.IsSet("debug") {
		cfg.Debug = v.GetBool("debug")
	}

	// voice
	if v.IsSet("voice.id") {
		cfg.Voice.ID = v.GetString("voice.id")
	}
	if v.IsSet("voice.language") {
		cfg.Voice.Language = v.GetString("voice.language")
	}
	if v.IsSet("voice.stability") {
		cfg.Voice.Settings.Stability = v.GetFloat64("voice.stability")
	}
	if v.IsSet("voice.similarity_boost") {
		cfg.Voice.Settings.SimilarityBoost = v.GetFloat64("voice.similarity_boost")
	}
	if v.IsSet("voice.style") {
		cfg.Voice.Settings.Style = v.GetFloat64("voice.style")
	}
	if v.IsSet("voice.use_speaker_boost") {
		cfg.Voice.Settings.UseSpeakerBoost = v.GetBool("voice.use_speaker_boost")
	}

	loadSynthesis(v, &cfg.Synthesis)
	loadCache(v, &cfg.Cache)

	// playback
	if v.IsSet("playback.volume") {
		cfg.Playback.Volume = v.GetFloat64("playback.volume")
	}
	if v.IsSet("playback.auto_play") {
		cfg.Playback.AutoPlay = v.GetBool("playback.auto_play")
	}
	if v.IsSet("playback.follow_scroll") {
		cfg.Playback.FollowScroll = v.GetBool("playback.follow_scroll")
	}
	if v.IsSet("playback.stale_after") {
		cfg.Playback.StaleAfter = v.GetDuration("playback.stale_after")
	}

	// audio
	if v.IsSet("audio.device") {
		cfg.Audio.Device = v.GetBool("audio.device")
	}
	if v.IsSet("audio.sample_rate") {
		cfg.Audio.SampleRate = v.GetInt("audio.sample_rate")
	}
	if v.IsSet("audio.buffer_size") {
		cfg.Audio.BufferSize = v.GetDuration("audio.buffer_size")
	}

	if v.IsSet("serve.addr") {
		cfg.Serve.Addr = v.GetString("serve.addr")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadSynthesis(v *viper.Viper, c *SynthesisConfig) {
	if v.IsSet("synthesis.provider") {
		c.Provider = v.GetString("synthesis.provider")
	}
	if v.IsSet("synthesis.timeout") {
		c.Timeout = v.GetDuration("synthesis.timeout")
	}
	if v.IsSet("synthesis.write_timeout") {
		c.WriteTimeout = v.GetDuration("synthesis.write_timeout")
	}
	if v.IsSet("synthesis.strip_markdown") {
		c.StripMarkdown = v.GetBool("synthesis.strip_markdown")
	}

	if v.IsSet("synthesis.elevenlabs.api_key") {
		c.ElevenLabs.APIKey = v.GetString("synthesis.elevenlabs.api_key")
	}
	if v.IsSet("synthesis.elevenlabs.base_url") {
		c.ElevenLabs.BaseURL = v.GetString("synthesis.elevenlabs.base_url")
	}
	if v.IsSet("synthesis.elevenlabs.model_id") {
		c.ElevenLabs.ModelID = v.GetString("synthesis.elevenlabs.model_id")
	}
	if v.IsSet("synthesis.elevenlabs.output_format") {
		c.ElevenLabs.OutputFormat = v.GetString("synthesis.elevenlabs.output_format")
	}
	if v.IsSet("synthesis.elevenlabs.requests_per_second") {
		c.ElevenLabs.RequestsPerSecond = v.GetFloat64("synthesis.elevenlabs.requests_per_second")
	}

	if v.IsSet("synthesis.google.credentials_file") {
		c.Google.CredentialsFile = v.GetString("synthesis.google.credentials_file")
	}
	if v.IsSet("synthesis.remote.url") {
		c.Remote.URL = v.GetString("synthesis.remote.url")
	}
}

func loadCache(v *viper.Viper, c *CacheConfig) {
	if v.IsSet("cache.backend") {
		c.Backend = v.GetString("cache.backend")
	}
	if v.IsSet("cache.dir") {
		c.Dir = v.GetString("cache.dir")
	}
	if v.IsSet("cache.memory_capacity") {
		c.MemoryCapacity = v.GetInt64("cache.memory_capacity")
	}
	if v.IsSet("cache.disk_capacity") {
		c.DiskCapacity = v.GetInt64("cache.disk_capacity")
	}
	if v.IsSet("cache.compression_level") {
		c.CompressionLevel = v.GetInt("cache.compression_level")
	}
	if v.IsSet("cache.url") {
		c.URL = v.GetString("cache.url")
	}
	if v.IsSet("cache.token") {
		c.Token = v.GetString("cache.token")
	}
}

// Validate checks if the configuration is valid. Enumerated values are
// normalised to lower case.
func (c *Config) Validate() error {
	c.Synthesis.Provider = strings.ToLower(strings.TrimSpace(c.Synthesis.Provider))
	validProviders := []string{ProviderElevenLabs, ProviderGoogle, ProviderRemote, ProviderMock}
	if !contains(validProviders, c.Synthesis.Provider) {
		return fmt.Errorf("invalid provider '%s': must be one of %v", c.Synthesis.Provider, validProviders)
	}
	if c.Synthesis.Timeout <= 0 {
		return fmt.Errorf("synthesis timeout must be positive, got %s", c.Synthesis.Timeout)
	}
	if c.Synthesis.WriteTimeout <= 0 {
		return fmt.Errorf("cache write timeout must be positive, got %s", c.Synthesis.WriteTimeout)
	}
	if c.Synthesis.Provider == ProviderRemote && c.Synthesis.Remote.URL == "" {
		return fmt.Errorf("remote provider requires synthesis.remote.url")
	}
	if c.Synthesis.ElevenLabs.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second must not be negative, got %v", c.Synthesis.ElevenLabs.RequestsPerSecond)
	}

	for name, val := range map[string]float64{
		"stability":        c.Voice.Settings.Stability,
		"similarity_boost": c.Voice.Settings.SimilarityBoost,
		"style":            c.Voice.Settings.Style,
	} {
		if val < 0 || val > 1 {
			return fmt.Errorf("voice %s must be between 0.0 and 1.0, got %v", name, val)
		}
	}

	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	validBackends := []string{audiocache.BackendMemory, audiocache.BackendDisk, audiocache.BackendSQLite, audiocache.BackendREST}
	if !contains(validBackends, c.Cache.Backend) {
		return fmt.Errorf("invalid cache backend '%s': must be one of %v", c.Cache.Backend, validBackends)
	}
	if c.Cache.Backend == audiocache.BackendREST && c.Cache.URL == "" {
		return fmt.Errorf("rest cache backend requires cache.url")
	}
	if c.Cache.MemoryCapacity < 0 || c.Cache.DiskCapacity < 0 {
		return fmt.Errorf("cache capacities must not be negative")
	}
	if c.Cache.CompressionLevel < 0 || c.Cache.CompressionLevel > 4 {
		return fmt.Errorf("compression level must be between 0 and 4, got %d", c.Cache.CompressionLevel)
	}

	if c.Playback.Volume < 0 || c.Playback.Volume > 1 {
		return fmt.Errorf("volume must be between 0.0 and 1.0, got %v", c.Playback.Volume)
	}
	if c.Playback.StaleAfter <= 0 {
		return fmt.Errorf("stale_after must be positive, got %s", c.Playback.StaleAfter)
	}

	if c.Audio.SampleRate != 44100 && c.Audio.SampleRate != 48000 {
		return fmt.Errorf("invalid sample rate %d: must be 44100 or 48000", c.Audio.SampleRate)
	}
	return nil
}

// CacheOptions converts the cache settings for audiocache.Open. dir is used
// when no cache directory is configured.
func (c CacheConfig) CacheOptions(dir string) audiocache.Options {
	if c.Dir != "" {
		dir = c.Dir
	}
	return audiocache.Options{
		Backend:          c.Backend,
		Dir:              dir,
		MemoryCapacity:   c.MemoryCapacity,
		DiskCapacity:     c.DiskCapacity,
		CompressionLevel: c.CompressionLevel,
		URL:              c.URL,
		Token:            c.Token,
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
