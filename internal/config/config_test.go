package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 5, cfg.ReconnectMaxAttempts)
	assert.Equal(t, time.Second, cfg.ReconnectInitialDelay)
	assert.Equal(t, "alloy", cfg.TTSVoice)
	assert.Equal(t, 4096, cfg.AudioFrameSize)
	assert.False(t, cfg.IsMock())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("RECONNECT_INITIAL_DELAY_MS", "250")
	t.Setenv("RECORD_CALLS", "false")
	t.Setenv("GOGO_MODE", "MOCK")
	t.Setenv("SESSION_IDLE_TIMEOUT_MS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.HTTPPort)
	assert.Equal(t, 250*time.Millisecond, cfg.ReconnectInitialDelay)
	assert.False(t, cfg.RecordCalls)
	assert.True(t, cfg.IsMock())
	assert.Equal(t, 30*time.Minute, cfg.SessionIdleTimeout)
}

func TestLoadYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "callsim.yaml")
	content := "http_port: 7070\nllm_model: gpt-test\nstt_model: nova-3\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("LLM_MODEL", "from-env")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.HTTPPort)
	assert.Equal(t, "gpt-test", cfg.LLMModel)
	assert.Equal(t, "nova-3", cfg.STTModel)
	assert.Equal(t, "alloy", cfg.TTSVoice)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)
}
