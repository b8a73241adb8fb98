package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			// values from the file
			assert.Equal(t, 9090, cfg.Server.Port)
			assert.Equal(t, "json", cfg.Logging.Format)
			assert.Equal(t, 2, cfg.Orchestrator.MaxRetries)
			assert.Equal(t, []SubstitutionEntry{{From: "gore", To: "drama"}}, cfg.Orchestrator.Substitutions)
			assert.Equal(t, "http://voicevox:50021", cfg.VoiceVox.URL)
			assert.Equal(t, 8, cfg.VoiceVox.Concurrency)
			assert.Equal(t, 3*time.Second, cfg.Midjourney.Poll.Interval)
			assert.Equal(t, 40, cfg.Midjourney.Poll.MaxPolls)
			assert.Equal(t, "soft watercolour painting", cfg.Output.ImageStyles["watercolour"])

			// values kept from the defaults
			assert.Equal(t, 4, cfg.OpenAITTS.Concurrency)
			assert.Equal(t, 1, cfg.ComfyUI.Concurrency)
			assert.Equal(t, 1.0, cfg.VoiceVox.SpeedScale)
			assert.Equal(t, 3, cfg.VoiceVox.Retry.MaxAttempts)
			assert.Equal(t, "gpt-4o-mini-tts", cfg.OpenAITTS.Model)
		})
	}
}

func TestConfig_ApplyEnv(t *testing.T) {
	t.Setenv("VOICEVOX_URL", "http://10.0.0.5:50021")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("MIDJOURNEY_API_HOST", "proxy.local")
	t.Setenv("MIDJOURNEY_API_PORT", "9000")
	t.Setenv("COMFYUI_PORT", "")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())

	assert.Equal(t, "http://10.0.0.5:50021", cfg.VoiceVox.URL)
	assert.Equal(t, "sk-env", cfg.OpenAITTS.APIKey)
	assert.Equal(t, "http://proxy.local:9000", cfg.MidjourneyURL())
	assert.Equal(t, "http://127.0.0.1:8188", cfg.ComfyUIURL(), "empty variables keep the file value")
}

func TestConfig_ApplyEnvRejectsBadPort(t *testing.T) {
	t.Setenv("COMFYUI_PORT", "eighty")

	cfg := Default()
	err := cfg.ApplyEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COMFYUI_PORT")
}

func TestConfig_ValidateBatchConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "defaults are valid",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:      "negative retries",
			mutate:    func(c *Config) { c.Orchestrator.MaxRetries = -1 },
			wantErr:   true,
			errString: "max_retries",
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Midjourney.Concurrency = 0 },
			wantErr:   true,
			errString: "midjourney concurrency",
		},
		{
			name:      "missing voicevox url",
			mutate:    func(c *Config) { c.VoiceVox.URL = "" },
			wantErr:   true,
			errString: "voicevox url",
		},
		{
			name:      "invalid comfyui port",
			mutate:    func(c *Config) { c.ComfyUI.Port = 70000 },
			wantErr:   true,
			errString: "invalid comfyui port",
		},
		{
			name:      "unbounded polling",
			mutate:    func(c *Config) { c.ComfyUI.Poll.MaxPolls = 0 },
			wantErr:   true,
			errString: "max_polls",
		},
		{
			name:      "missing output dir",
			mutate:    func(c *Config) { c.Output.Dir = "" },
			wantErr:   true,
			errString: "output dir",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.ValidateBatchConfig()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "missing shutdown timeout",
			mutate:    func(c *Config) { c.Server.ShutdownTimeout = 0 },
			wantErr:   true,
			errString: "shutdown_timeout",
		},
		{
			name:      "midjourney proxy on the server port",
			mutate:    func(c *Config) { c.Midjourney.Port = c.Server.Port },
			wantErr:   true,
			errString: "midjourney at localhost:8000 collides with the server port",
		},
		{
			name: "comfyui on the server port via loopback",
			mutate: func(c *Config) {
				c.Server.Port = 8188
			},
			wantErr:   true,
			errString: "comfyui at 127.0.0.1:8188 collides",
		},
		{
			name: "empty midjourney host on the server port",
			mutate: func(c *Config) {
				c.Midjourney.Host = ""
				c.Midjourney.Port = c.Server.Port
			},
			wantErr:   true,
			errString: "midjourney",
		},
		{
			name: "remote proxy may share the port number",
			mutate: func(c *Config) {
				c.Midjourney.Host = "mj-proxy.internal"
				c.Midjourney.Port = c.Server.Port
			},
			wantErr: false,
		},
		{
			name:      "batch settings are checked too",
			mutate:    func(c *Config) { c.VoiceVox.Concurrency = -2 },
			wantErr:   true,
			errString: "voicevox concurrency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.ValidateAPIConfig()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := Load("../../configs/config.yaml")
	require.NoError(t, err)
	require.NoError(t, cfg.ValidateAPIConfig())

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "http://localhost:8080", cfg.MidjourneyURL())
	assert.Equal(t, "16:9", cfg.Midjourney.AspectRatio)
	assert.Equal(t, 30*time.Minute, cfg.Server.WriteTimeout)
	assert.Contains(t, cfg.Output.ImageStyles, "cinematic")
	assert.NotEmpty(t, cfg.Orchestrator.Substitutions)
}
