// Package config provides configuration for the call simulator.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the call simulator configuration.
type Config struct {
	// Server settings
	HTTPPort int `yaml:"http_port"`

	// Database
	DatabaseURL string `yaml:"database_url"`

	// Conversational completion service
	LLMURL     string        `yaml:"llm_url"`
	LLMAPIKey  string        `yaml:"llm_api_key"`
	LLMModel   string        `yaml:"llm_model"`
	LLMTimeout time.Duration `yaml:"llm_timeout"`

	// Feedback uses its own model
	FeedbackModel string `yaml:"feedback_model"`

	// Text-to-speech
	TTSURL    string `yaml:"tts_url"`
	TTSAPIKey string `yaml:"tts_api_key"`
	TTSModel  string `yaml:"tts_model"`
	TTSVoice  string `yaml:"tts_voice"`

	// Speech-to-text streaming endpoint
	STTURL        string `yaml:"stt_url"`
	STTAPIKey     string `yaml:"stt_api_key"`
	STTModel      string `yaml:"stt_model"`
	STTSampleRate int    `yaml:"stt_sample_rate"`

	// Sessions
	SessionIdleTimeout   time.Duration `yaml:"session_idle_timeout"`
	SessionSweepInterval time.Duration `yaml:"session_sweep_interval"`

	// Connection manager
	ReconnectMaxAttempts  int           `yaml:"reconnect_max_attempts"`
	ReconnectInitialDelay time.Duration `yaml:"reconnect_initial_delay"`
	ReconnectMaxDelay     time.Duration `yaml:"reconnect_max_delay"`

	// Live websocket
	WSPingInterval  time.Duration `yaml:"ws_ping_interval"`
	WSReadTimeout   time.Duration `yaml:"ws_read_timeout"`
	WSFrameRate     int           `yaml:"ws_frame_rate"`
	AudioFrameSize  int           `yaml:"audio_frame_size"`
	RecordCalls     bool          `yaml:"record_calls"`
	PolicyFile      string        `yaml:"policy_file"`
	MaxMessageChars int           `yaml:"max_message_chars"`

	// Logging
	LogLevel string `yaml:"log_level"`

	// MOCK swaps every external provider for an in-process fake.
	Mode string `yaml:"mode"`
}

// Load loads configuration from environment variables, then applies the
// YAML file named by CONFIG_FILE on top when set.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:              getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:           getEnv("DATABASE_URL", "file:callsim.db?cache=shared&mode=rwc"),
		LLMURL:                getEnv("LLM_URL", "https://api.openai.com"),
		LLMAPIKey:             getEnv("LLM_API_KEY", ""),
		LLMModel:              getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMTimeout:            time.Duration(getEnvInt("LLM_TIMEOUT_MS", 60000)) * time.Millisecond,
		FeedbackModel:         getEnv("FEEDBACK_MODEL", "gpt-4o"),
		TTSURL:                getEnv("TTS_URL", "https://api.openai.com"),
		TTSAPIKey:             getEnv("TTS_API_KEY", ""),
		TTSModel:              getEnv("TTS_MODEL", "tts-1"),
		TTSVoice:              getEnv("TTS_VOICE", "alloy"),
		STTURL:                getEnv("STT_URL", "wss://api.deepgram.com/v1/listen"),
		STTAPIKey:             getEnv("STT_API_KEY", ""),
		STTModel:              getEnv("STT_MODEL", "nova-2"),
		STTSampleRate:         getEnvInt("STT_SAMPLE_RATE", 16000),
		SessionIdleTimeout:    time.Duration(getEnvInt("SESSION_IDLE_TIMEOUT_MS", 1800000)) * time.Millisecond,
		SessionSweepInterval:  time.Duration(getEnvInt("SESSION_SWEEP_INTERVAL_MS", 30000)) * time.Millisecond,
		ReconnectMaxAttempts:  getEnvInt("RECONNECT_MAX_ATTEMPTS", 5),
		ReconnectInitialDelay: time.Duration(getEnvInt("RECONNECT_INITIAL_DELAY_MS", 1000)) * time.Millisecond,
		ReconnectMaxDelay:     time.Duration(getEnvInt("RECONNECT_MAX_DELAY_MS", 32000)) * time.Millisecond,
		WSPingInterval:        time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WSReadTimeout:         time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		WSFrameRate:           getEnvInt("WS_FRAME_RATE", 50),
		AudioFrameSize:        getEnvInt("AUDIO_FRAME_SIZE", 4096),
		RecordCalls:           getEnvBool("RECORD_CALLS", true),
		PolicyFile:            getEnv("POLICY_FILE", ""),
		MaxMessageChars:       getEnvInt("MAX_MESSAGE_CHARS", 4000),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		Mode:                  getEnv("GOGO_MODE", ""),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// IsMock reports whether external providers should be faked.
func (c *Config) IsMock() bool {
	return c.Mode == "MOCK"
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
