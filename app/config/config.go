package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config.yaml"

type Config struct {
	Log     Log     `yaml:"log"`
	Backend Backend `yaml:"backend"`
	Speech  Speech  `yaml:"speech"`
	Server  Server  `yaml:"server"`
	OpenAI  OpenAI  `yaml:"openai"`
}

type Backend struct {
	// Base URL of the chat service, without the /api suffix
	BaseURL string `yaml:"base_url" example:"http://localhost:8000" validate:"required,url"`
	// Per-request timeout
	Timeout time.Duration `yaml:"timeout" example:"30s" validate:"gt=0"`
}

type Speech struct {
	// Spoken language for both recognition and playback
	Locale  string  `yaml:"locale" example:"ru-RU" validate:"required"`
	Capture Capture `yaml:"capture"`
	Output  Output  `yaml:"output"`
}

type Capture struct {
	// Path to the ffmpeg binary used to read the microphone
	FFmpegPath string `yaml:"ffmpeg_path" example:"ffmpeg"`
	// ffmpeg input format of the microphone device
	InputFormat string `yaml:"input_format" example:"pulse"`
	// ffmpeg input device name
	Device string `yaml:"device" example:"default"`
	// Yandex Cloud service account key file
	ServiceAccountKey string `yaml:"service_account_key" example:"service-account-key.json"`
	// Upper bound of a single capture
	MaxDuration time.Duration `yaml:"max_duration" example:"15s" validate:"gt=0"`
}

type Output struct {
	// TTS command that reads text from stdin and plays it
	Command string `yaml:"command" example:"espeak-ng"`
	// Arguments of the TTS command
	Args []string `yaml:"args" example:"[\"-v\", \"ru\", \"--stdin\"]"`
}

type Server struct {
	// Listen address of the reference backend
	Listen string `yaml:"listen" example:":8000" validate:"required"`
	// Directory with session history files
	DataDir string `yaml:"data_dir" example:"data" validate:"required"`
}

type OpenAI struct {
	// OpenAI base url
	BaseURL string `yaml:"base_url" example:"https://openrouter.ai/api/v1"`
	// OpenAI token, the server answers 503 on /api/chat when empty
	Token string `yaml:"token" example:"sk-proj-abc123456789DEF789ghi012JKL345mno678PQR901stu234VWX"`
	// OpenAI model
	Model string `yaml:"model" example:"gpt-3.5-turbo" validate:"required"`
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

// Load reads the YAML config at path. Values may reference environment variables
// (${OPENAI_TOKEN}); a .env file next to the binary is loaded first when present.
// A missing config file is not an error: every field has a usable default.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, oops.Errorf("failed to load .env: %w", err)
	}

	var result Config

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, oops.Errorf("failed to read config file: %w", err)
	}

	if len(data) > 0 {
		if err = yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &result); err != nil {
			return nil, oops.Errorf("failed to parse YAML config: %w", err)
		}
	}

	result.setDefaults()

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(result); err != nil {
		return nil, oops.Errorf("failed to validate config: %w", err)
	}

	return &result, nil
}

func (c *Config) setDefaults() {
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = "http://localhost:8000"
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 30 * time.Second
	}
	if c.Speech.Locale == "" {
		c.Speech.Locale = "ru-RU"
	}
	if c.Speech.Capture.FFmpegPath == "" {
		c.Speech.Capture.FFmpegPath = "ffmpeg"
	}
	if c.Speech.Capture.InputFormat == "" {
		c.Speech.Capture.InputFormat = "pulse"
	}
	if c.Speech.Capture.Device == "" {
		c.Speech.Capture.Device = "default"
	}
	if c.Speech.Capture.ServiceAccountKey == "" {
		c.Speech.Capture.ServiceAccountKey = "service-account-key.json"
	}
	if c.Speech.Capture.MaxDuration == 0 {
		c.Speech.Capture.MaxDuration = 15 * time.Second
	}
	if c.Speech.Output.Command == "" {
		c.Speech.Output.Command = "espeak-ng"
		c.Speech.Output.Args = []string{"-v", "ru", "--stdin"}
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8000"
	}
	if c.Server.DataDir == "" {
		c.Server.DataDir = "data"
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-3.5-turbo"
	}
}
