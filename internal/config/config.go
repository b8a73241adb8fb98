package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	App          AppConfig          `yaml:"app"`
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	VoiceVox     VoiceVoxConfig     `yaml:"voicevox"`
	OpenAITTS    OpenAITTSConfig    `yaml:"openai_tts"`
	Midjourney   MidjourneyConfig   `yaml:"midjourney"`
	ComfyUI      ComfyUIConfig      `yaml:"comfyui"`
	Output       OutputConfig       `yaml:"output"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// OrchestratorConfig holds batch-wide retry settings
type OrchestratorConfig struct {
	MaxRetries int `yaml:"max_retries"`
	// Softener is appended to prompts from the second rewrite on
	Softener      string              `yaml:"softener"`
	Substitutions []SubstitutionEntry `yaml:"substitutions"`
}

// SubstitutionEntry extends the default rewrite table
type SubstitutionEntry struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// TransientRetryConfig controls retries of a single backend call
type TransientRetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Multiplier  float64       `yaml:"multiplier"`
}

// VoiceVoxConfig holds VOICEVOX engine settings
type VoiceVoxConfig struct {
	URL         string               `yaml:"url"`
	Speaker     int                  `yaml:"speaker"`
	SpeedScale  float64              `yaml:"speed_scale"`
	Concurrency int                  `yaml:"concurrency"`
	Timeout     time.Duration        `yaml:"timeout"`
	Retry       TransientRetryConfig `yaml:"retry"`
}

// OpenAITTSConfig holds OpenAI speech settings
type OpenAITTSConfig struct {
	BaseURL     string               `yaml:"base_url"`
	APIKey      string               `yaml:"api_key"`
	Model       string               `yaml:"model"`
	Voice       string               `yaml:"voice"`
	Preset      string               `yaml:"preset"`
	Concurrency int                  `yaml:"concurrency"`
	Timeout     time.Duration        `yaml:"timeout"`
	Retry       TransientRetryConfig `yaml:"retry"`
}

// PollConfig bounds a two-phase poll loop
type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
	MaxPolls int           `yaml:"max_polls"`
}

// MidjourneyConfig holds midjourney-proxy settings
type MidjourneyConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	AspectRatio string        `yaml:"aspect_ratio"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
	Poll        PollConfig    `yaml:"poll"`
}

// ComfyUIConfig holds ComfyUI server settings
type ComfyUIConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Style        string        `yaml:"style"`
	WorkflowPath string        `yaml:"workflow_path"`
	Concurrency  int           `yaml:"concurrency"`
	Timeout      time.Duration `yaml:"timeout"`
	Poll         PollConfig    `yaml:"poll"`
}

// OutputConfig holds artifact locations
type OutputConfig struct {
	Dir      string `yaml:"dir"`
	AudioDir string `yaml:"audio_dir"`
	ImageDir string `yaml:"image_dir"`
	// ImageStyles maps style names to prompt suffixes
	ImageStyles map[string]string `yaml:"image_styles"`
}

// TelemetryConfig holds tracing settings
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Default returns the configuration used for every key a file leaves unset
func Default() Config {
	return Config{
		App: AppConfig{Name: "narra-sync", Environment: "development"},
		Server: ServerConfig{
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Minute,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Logging:      LoggingConfig{Level: "info", Format: "console", Output: "stdout"},
		Orchestrator: OrchestratorConfig{MaxRetries: 3},
		VoiceVox: VoiceVoxConfig{
			URL:         "http://127.0.0.1:50021",
			Speaker:     13,
			SpeedScale:  1.0,
			Concurrency: 10,
			Timeout:     30 * time.Second,
			Retry:       TransientRetryConfig{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 1.5},
		},
		OpenAITTS: OpenAITTSConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini-tts",
			Voice:       "alloy",
			Preset:      "default",
			Concurrency: 4,
			Timeout:     60 * time.Second,
			Retry:       TransientRetryConfig{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 1.5},
		},
		Midjourney: MidjourneyConfig{
			Host:        "localhost",
			Port:        8080,
			Concurrency: 3,
			Timeout:     30 * time.Second,
			Poll:        PollConfig{Interval: 5 * time.Second, MaxPolls: 30},
		},
		ComfyUI: ComfyUIConfig{
			Host:        "127.0.0.1",
			Port:        8188,
			Style:       "cinematic",
			Concurrency: 1,
			Timeout:     30 * time.Second,
			Poll:        PollConfig{Interval: 2 * time.Second, MaxPolls: 150},
		},
		Output: OutputConfig{
			Dir:      "output",
			AudioDir: "output/audio",
			ImageDir: "output/images",
		},
	}
}

// Load reads and parses the configuration file over Default
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// ApplyEnv overrides file values with the environment. Unset variables leave
// the file value in place.
func (c *Config) ApplyEnv() error {
	setString(&c.VoiceVox.URL, "VOICEVOX_URL")
	setString(&c.OpenAITTS.APIKey, "OPENAI_API_KEY")
	setString(&c.OpenAITTS.BaseURL, "OPENAI_BASE_URL")
	setString(&c.Midjourney.Host, "MIDJOURNEY_API_HOST")
	setString(&c.ComfyUI.Host, "COMFYUI_HOST")
	setString(&c.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")

	if err := setInt(&c.Midjourney.Port, "MIDJOURNEY_API_PORT"); err != nil {
		return err
	}
	if err := setInt(&c.ComfyUI.Port, "COMFYUI_PORT"); err != nil {
		return err
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

// MidjourneyURL returns the proxy root
func (c *Config) MidjourneyURL() string {
	return "http://" + net.JoinHostPort(c.Midjourney.Host, strconv.Itoa(c.Midjourney.Port))
}

// ComfyUIURL returns the ComfyUI server root
func (c *Config) ComfyUIURL() string {
	return "http://" + net.JoinHostPort(c.ComfyUI.Host, strconv.Itoa(c.ComfyUI.Port))
}

// ValidateBatchConfig checks the settings every batch run depends on
func (c *Config) ValidateBatchConfig() error {
	if c.Orchestrator.MaxRetries < 0 {
		return fmt.Errorf("orchestrator max_retries must not be negative")
	}

	limits := []struct {
		name string
		n    int
	}{
		{"voicevox", c.VoiceVox.Concurrency},
		{"openai_tts", c.OpenAITTS.Concurrency},
		{"midjourney", c.Midjourney.Concurrency},
		{"comfyui", c.ComfyUI.Concurrency},
	}
	for _, l := range limits {
		if l.n <= 0 {
			return fmt.Errorf("%s concurrency must be greater than 0", l.name)
		}
	}

	if c.VoiceVox.URL == "" {
		return fmt.Errorf("voicevox url is required")
	}

	if p := c.Midjourney.Port; p < MinPort || p > MaxPort {
		return fmt.Errorf("invalid midjourney port: %d (must be between %d and %d)", p, MinPort, MaxPort)
	}
	if p := c.ComfyUI.Port; p < MinPort || p > MaxPort {
		return fmt.Errorf("invalid comfyui port: %d (must be between %d and %d)", p, MinPort, MaxPort)
	}

	if c.Midjourney.Poll.MaxPolls <= 0 || c.ComfyUI.Poll.MaxPolls <= 0 {
		return fmt.Errorf("poll max_polls must be greater than 0")
	}

	if c.Output.Dir == "" {
		return fmt.Errorf("output dir is required")
	}

	return nil
}

// ValidateAPIConfig checks the HTTP server settings on top of the batch settings
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server shutdown_timeout must be greater than 0")
	}

	backends := []struct {
		name string
		host string
		port int
	}{
		{"midjourney", c.Midjourney.Host, c.Midjourney.Port},
		{"comfyui", c.ComfyUI.Host, c.ComfyUI.Port},
	}
	for _, b := range backends {
		if b.port == c.Server.Port && isLocalHost(b.host) {
			return fmt.Errorf("%s at %s:%d collides with the server port", b.name, b.host, b.port)
		}
	}

	return c.ValidateBatchConfig()
}

func isLocalHost(host string) bool {
	switch host {
	case "", "localhost", "0.0.0.0", "::1":
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
