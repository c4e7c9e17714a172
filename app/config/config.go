package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       Log       `yaml:"log"`
	Server    Server    `yaml:"server"`
	Cache     Cache     `yaml:"cache"`
	Generator Generator `yaml:"generator"`
	OpenAI    OpenAI    `yaml:"openai"`
}

type Server struct {
	// Listen address of the HTTP/websocket server
	Addr string `yaml:"addr" example:":8080"`
}

type Cache struct {
	// Maximum number of cached visualization graphs
	Size int `yaml:"size" example:"4096"`
}

type Generator struct {
	// Command that produces visualization graph JSON on stdout
	Command []string `yaml:"command" example:"[python3, generate_visualization.py]" validate:"required,min=1"`
	// Per-invocation timeout in seconds
	TimeoutSec int `yaml:"timeout_sec" example:"30"`
}

func (g Generator) Timeout() time.Duration {
	return time.Duration(g.TimeoutSec) * time.Second
}

type OpenAI struct {
	// API token, taken from the OPENAI_API_KEY environment variable
	Token string `yaml:"-" validate:"required"`
	// OpenAI base url
	BaseURL string `yaml:"base_url" example:"https://api.openai.com/v1"`
	// Chat model used for narration text
	ChatModel string `yaml:"chat_model" example:"gpt-4o-mini"`
	// Model used for realtime session tokens
	RealtimeModel string `yaml:"realtime_model" example:"gpt-4o-realtime-preview"`
	// Speech synthesis model
	TTSModel string `yaml:"tts_model" example:"tts-1"`
	// Speech synthesis voice
	Voice string `yaml:"voice" example:"alloy"`
}

type Log struct {
	// Telegram logging config
	Telegram TelegramLog `yaml:"telegram"`
}

type TelegramLog struct {
	// Chat bot token, obtain it via BotFather
	Token string `yaml:"token" example:"1234567890:ABCdefGHIjklMNopQRstUVwxyZ-123456789"`
	// Chat ID to send messages to
	ChatID string `yaml:"chat_id" example:"1001234567890"`
}

func Load() (*Config, error) {
	var result Config

	data, err := os.ReadFile("config.yaml")
	if err != nil {
		return nil, oops.Errorf("failed to read config file: %w", err)
	}

	if err = yaml.Unmarshal(data, &result); err != nil {
		return nil, oops.Errorf("failed to parse YAML config: %w", err)
	}

	result.OpenAI.Token = os.Getenv("OPENAI_API_KEY")
	result.applyDefaults()

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(result); err != nil {
		return nil, oops.Errorf("failed to validate config: %w", err)
	}

	return &result, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Cache.Size <= 0 {
		c.Cache.Size = 4096
	}
	if c.Generator.TimeoutSec <= 0 {
		c.Generator.TimeoutSec = 30
	}
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if c.OpenAI.ChatModel == "" {
		c.OpenAI.ChatModel = "gpt-4o-mini"
	}
	if c.OpenAI.RealtimeModel == "" {
		c.OpenAI.RealtimeModel = "gpt-4o-realtime-preview"
	}
	if c.OpenAI.TTSModel == "" {
		c.OpenAI.TTSModel = "tts-1"
	}
	if c.OpenAI.Voice == "" {
		c.OpenAI.Voice = "alloy"
	}
}
