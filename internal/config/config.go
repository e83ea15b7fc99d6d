package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ConversationMode is a named preset controlling the system prompt and the
// default sampling temperature used by the prompt assembler.
type ConversationMode struct {
	Description  string
	SystemPrompt string
	Temperature  float64
}

// Config holds application configuration values loaded from environment
// variables plus the built-in defaults and presets. It is constructed once
// in main and passed by reference into the store, services and scheduler;
// it is never mutated after LoadConfig returns.
type Config struct {
	DatabaseURL      string
	HTTPPort         string
	TelegramToken    string
	TelegramAPIBase  string
	WebhookSecret    string
	OpenRouterKey    string
	OpenRouterURL    string
	JWTSecret        string
	TokenExpiration  time.Duration
	RequestTimeout   time.Duration
	SchedulerPeriod  time.Duration
	SchedulerStopTTL time.Duration
	DownloadDir      string

	// Per-user settings fall back to these when unset.
	DefaultModel       string
	DefaultTemperature float64
	DefaultMaxTokens   int
	DefaultMode        string
	DefaultLanguage    string

	// Prompt assembly windows.
	HistoryLimit int
	SummaryLimit int

	AvailableModels   []string
	ConversationModes map[string]ConversationMode
	Templates         map[string]string
}

// LoadConfig loads configuration from environment variables.
// It looks for a .env file first, then checks actual environment variables.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Could not load .env file. Using environment variables only.", err)
	}

	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}

	tgToken := getEnv("TELEGRAM_TOKEN", "")
	if tgToken == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN environment variable is not set")
	}

	cfg := &Config{
		DatabaseURL:      dbURL,
		HTTPPort:         getEnv("HTTP_PORT", "8080"),
		TelegramToken:    tgToken,
		TelegramAPIBase:  getEnv("TELEGRAM_API_BASE", "https://api.telegram.org"),
		WebhookSecret:    getEnv("WEBHOOK_SECRET", ""),
		OpenRouterKey:    getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterURL:    getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		JWTSecret:        getEnv("JWT_SECRET", "default-super-secret-key"), // CHANGE THIS IN PRODUCTION!
		TokenExpiration:  time.Duration(getEnvInt("JWT_EXPIRATION_HOURS", 24)) * time.Hour,
		RequestTimeout:   time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 60)) * time.Second,
		SchedulerPeriod:  time.Duration(getEnvInt("SCHEDULER_INTERVAL_SECONDS", 60)) * time.Second,
		SchedulerStopTTL: time.Duration(getEnvInt("SCHEDULER_STOP_TIMEOUT_SECONDS", 5)) * time.Second,
		DownloadDir:      getEnv("DOWNLOAD_DIR", "downloads"),

		DefaultModel:       getEnv("DEFAULT_MODEL", "google/gemini-2.0-pro-exp-02-05:free"),
		DefaultTemperature: getEnvFloat("DEFAULT_TEMPERATURE", 0.7),
		DefaultMaxTokens:   getEnvInt("DEFAULT_MAX_TOKENS", 1000),
		DefaultMode:        "friendly",
		DefaultLanguage:    "ru",

		HistoryLimit: getEnvInt("HISTORY_LIMIT", 10),
		SummaryLimit: getEnvInt("SUMMARY_LIMIT", 20),

		AvailableModels: []string{
			"google/gemini-2.0-pro-exp-02-05:free",
			"anthropic/claude-3-haiku:free",
			"anthropic/claude-3-opus:free",
			"anthropic/claude-3-sonnet:free",
			"meta-llama/llama-3-70b-instruct:free",
			"mistralai/mistral-large:free",
		},
		ConversationModes: defaultConversationModes(),
		Templates:         defaultTemplates(),
	}

	log.Printf("Loaded config: Port=%s, DB_URL=***, DefaultModel=%s, SchedulerPeriod=%s",
		cfg.HTTPPort, cfg.DefaultModel, cfg.SchedulerPeriod)

	return cfg, nil
}

// ModeOrDefault resolves a conversation mode tag, falling back to the
// default mode when the tag is unknown or empty.
func (c *Config) ModeOrDefault(tag string) ConversationMode {
	if mode, ok := c.ConversationModes[tag]; ok {
		return mode
	}
	return c.ConversationModes[c.DefaultMode]
}

func defaultConversationModes() map[string]ConversationMode {
	return map[string]ConversationMode{
		"creative": {
			Description:  "Творческий режим для генерации идей",
			SystemPrompt: "Ты креативный ассистент. Предлагай необычные и оригинальные идеи.",
			Temperature:  0.9,
		},
		"analytical": {
			Description:  "Аналитический режим для решения задач",
			SystemPrompt: "Ты аналитический ассистент. Анализируй информацию глубоко и точно.",
			Temperature:  0.2,
		},
		"concise": {
			Description:  "Лаконичный режим для кратких ответов",
			SystemPrompt: "Ты лаконичный ассистент. Отвечай кратко и по существу.",
			Temperature:  0.5,
		},
		"friendly": {
			Description:  "Дружелюбный режим для неформального общения",
			SystemPrompt: "Ты дружелюбный ассистент. Общаешься в неформальном тоне, используешь эмодзи.",
			Temperature:  0.8,
		},
		"expert": {
			Description:  "Экспертный режим для глубоких знаний",
			SystemPrompt: "Ты эксперт. Предоставляешь подробные и глубокие объяснения.",
			Temperature:  0.3,
		},
	}
}

func defaultTemplates() map[string]string {
	return map[string]string{
		"summary":      "Кратко изложи основные моменты следующего текста: {text}",
		"explain":      "Объясни простыми словами: {text}",
		"code_review":  "Проанализируй этот код и предложи улучшения: {text}",
		"translate_en": "Переведи на английский: {text}",
		"translate_ru": "Переведи на русский: {text}",
		"brainstorm":   "Предложи 5 идей на тему: {text}",
	}
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("Warning: Invalid %s '%s', using default %d. Error: %v", key, raw, fallback, err)
		return fallback
	}
	return v
}

func getEnvFloat(key string, fallback float64) float64 {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("Warning: Invalid %s '%s', using default %g. Error: %v", key, raw, fallback, err)
		return fallback
	}
	return v
}
