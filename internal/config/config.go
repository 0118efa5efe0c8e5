package config

import (
	"fmt"
	"time"
)

// Process configs embed these groups; every field is read from the
// environment by caarlos0/env.

type DatabaseConfig struct {
	DatabaseURL string `env:"DATABASE_URL,notEmpty"`
}

type QueueConfig struct {
	RabbitMQURL string `env:"RABBITMQ_URL,notEmpty"`
}

type StorageConfig struct {
	// local or s3
	Backend  string `env:"STORAGE_BACKEND" envDefault:"local"`
	LocalDir string `env:"STORAGE_DIR" envDefault:"./data/audio"`

	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
	S3Bucket          string `env:"S3_BUCKET" envDefault:"whoisalice-audio"`
}

type InferenceConfig struct {
	// mock, openai, huggingface or sherpa
	STTBackend string `env:"STT_BACKEND" envDefault:"mock"`
	// mock, openai, langchain or gemini
	ChatBackend string `env:"CHAT_BACKEND" envDefault:"mock"`
	// mock, openai or huggingface
	TTSBackend string `env:"TTS_BACKEND" envDefault:"mock"`

	Timeout time.Duration `env:"INFERENCE_TIMEOUT" envDefault:"120s"`

	SystemPrompt string  `env:"CHAT_SYSTEM_PROMPT" envDefault:"Тебя зовут Алиса. Ты умный и дружелюбный русскоязычный ассистент. Отвечай на русском языке, кратко и по делу."`
	MaxTokens    int     `env:"CHAT_MAX_TOKENS" envDefault:"1024"`
	Temperature  float64 `env:"CHAT_TEMPERATURE" envDefault:"0.7"`
	TopP         float64 `env:"CHAT_TOP_P" envDefault:"0.9"`
	Language     string  `env:"SPEECH_LANGUAGE" envDefault:"ru"`

	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL   string `env:"OPENAI_BASE_URL"`
	OpenAIChatModel string `env:"OPENAI_CHAT_MODEL" envDefault:"gpt-4o-mini"`
	OpenAISTTModel  string `env:"OPENAI_STT_MODEL" envDefault:"whisper-1"`
	OpenAITTSModel  string `env:"OPENAI_TTS_MODEL" envDefault:"tts-1"`
	OpenAITTSVoice  string `env:"OPENAI_TTS_VOICE" envDefault:"alloy"`

	HuggingFaceToken   string `env:"HUGGINGFACE_API_TOKEN"`
	HuggingFaceBaseURL string `env:"HF_INFERENCE_URL" envDefault:"https://router.huggingface.co"`
	HFSTTModel         string `env:"HF_STT_MODEL" envDefault:"openai/whisper-medium"`
	HFTTSModel         string `env:"HF_TTS_MODEL" envDefault:"facebook/mms-tts-rus"`
	HFChatModel        string `env:"HF_CHAT_MODEL" envDefault:"Qwen/Qwen2.5-7B-Instruct"`

	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	GeminiModel  string `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`

	WhisperModelDir   string `env:"WHISPER_MODEL_DIR" envDefault:"./models/sherpa-onnx-whisper-medium"`
	WhisperNumThreads int    `env:"WHISPER_NUM_THREADS" envDefault:"4"`
}

type NotifierConfig struct {
	TelegramBotToken string        `env:"TELEGRAM_BOT_TOKEN"`
	TelegramAPIURL   string        `env:"TELEGRAM_API_URL" envDefault:"https://api.telegram.org"`
	Interval         time.Duration `env:"NOTIFIER_INTERVAL" envDefault:"10s"`
	BatchSize        int           `env:"NOTIFIER_BATCH_SIZE" envDefault:"50"`
	// Optional. When set, ticks are serialized across notifier instances.
	RedisURL string        `env:"REDIS_URL"`
	LockTTL  time.Duration `env:"NOTIFIER_LOCK_TTL" envDefault:"60s"`
	// Tasks left in processing longer than this are failed. Zero disables.
	StaleTaskTimeout time.Duration `env:"STALE_TASK_TIMEOUT" envDefault:"0s"`
}

const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

func (c StorageConfig) Validate() error {
	switch c.Backend {
	case StorageLocal:
		if c.LocalDir == "" {
			return fmt.Errorf("STORAGE_DIR must be set for local storage")
		}
	case StorageS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET must be set for s3 storage")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Backend)
	}
	return nil
}

func (c NotifierConfig) Validate() error {
	if c.TelegramBotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN must be set")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("NOTIFIER_INTERVAL must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("NOTIFIER_BATCH_SIZE must be positive")
	}
	return nil
}
