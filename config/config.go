package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"emafutures/internal/portfolio"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Instrument
	Symbol         string
	ContractValue  float64 // base units per contract
	PricePrecision int32
	SizePrecision  int32
	MinSize        float64

	// Strategy
	LTFSeconds   int // entry timeframe, default 15m
	HTFSeconds   int // trend timeframe, default 1h
	Leverage     float64
	TakerFeeRate float64
	SlippageRate float64
	CandleLimit  int // candles loaded per timeframe each cycle
	PollInterval time.Duration

	// Paper account
	PaperEquity float64

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	GatewayAddr   string

	// Annotator (optional)
	AnnotatorBaseURL string
	AnnotatorAPIKey  string
	AnnotatorModel   string
	AnnotatorTimeout time.Duration

	// Operator control (optional)
	OperatorTOTPSecret string

	// Notifications (optional)
	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string

	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Symbol:         getEnv("SYMBOL", "ETH-USDT-SWAP"),
		ContractValue:  getFloat("CONTRACT_VALUE", 0.1),
		PricePrecision: int32(getInt("PRICE_PRECISION", 2)),
		SizePrecision:  int32(getInt("SIZE_PRECISION", 2)),
		MinSize:        getFloat("MIN_SIZE", 0.01),

		LTFSeconds:   getInt("LTF_SECONDS", 900),
		HTFSeconds:   getInt("HTF_SECONDS", 3600),
		Leverage:     getFloat("LEVERAGE", 5),
		TakerFeeRate: getFloat("TAKER_FEE_RATE", 0.0005),
		SlippageRate: getFloat("SLIPPAGE_RATE", 0.0002),
		CandleLimit:  getInt("CANDLE_LIMIT", 300),
		PollInterval: time.Duration(getInt("POLL_INTERVAL_SEC", 60)) * time.Second,

		PaperEquity: getFloat("PAPER_EQUITY", 10000),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/emafutures.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		GatewayAddr:   getEnv("GATEWAY_ADDR", ":8080"),

		AnnotatorBaseURL: getEnv("ANNOTATOR_BASE_URL", ""),
		AnnotatorAPIKey:  getEnv("ANNOTATOR_API_KEY", ""),
		AnnotatorModel:   getEnv("ANNOTATOR_MODEL", "gpt-4o-mini"),
		AnnotatorTimeout: time.Duration(getInt("ANNOTATOR_TIMEOUT_SEC", 10)) * time.Second,

		OperatorTOTPSecret: getEnv("OPERATOR_TOTP_SECRET", ""),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Validate checks the values the engine cannot run without.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Symbol) == "" {
		problems = append(problems, "SYMBOL is empty")
	}
	if c.ContractValue <= 0 {
		problems = append(problems, "CONTRACT_VALUE must be > 0")
	}
	if c.Leverage <= 0 {
		problems = append(problems, "LEVERAGE must be > 0")
	}
	if c.LTFSeconds <= 0 || c.HTFSeconds <= 0 {
		problems = append(problems, "LTF_SECONDS and HTF_SECONDS must be > 0")
	} else if c.HTFSeconds <= c.LTFSeconds || c.HTFSeconds%c.LTFSeconds != 0 {
		problems = append(problems, "HTF_SECONDS must be a larger multiple of LTF_SECONDS")
	}
	if c.TakerFeeRate < 0 || c.SlippageRate < 0 {
		problems = append(problems, "TAKER_FEE_RATE and SLIPPAGE_RATE must be >= 0")
	}
	if c.PricePrecision < 0 || c.SizePrecision < 0 {
		problems = append(problems, "PRICE_PRECISION and SIZE_PRECISION must be >= 0")
	}
	if c.PollInterval <= 0 {
		problems = append(problems, "POLL_INTERVAL_SEC must be > 0")
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// AnnotatorEnabled reports whether annotator credentials are present.
func (c *Config) AnnotatorEnabled() bool {
	return c.AnnotatorBaseURL != "" && c.AnnotatorAPIKey != ""
}

// Instrument returns the traded contract parameters.
func (c *Config) Instrument() portfolio.Instrument {
	return portfolio.Instrument{
		Symbol:         c.Symbol,
		ContractValue:  c.ContractValue,
		PricePrecision: c.PricePrecision,
		SizePrecision:  c.SizePrecision,
		MinSize:        c.MinSize,
	}
}

// RiskParams returns the position risk rules for the configured costs.
func (c *Config) RiskParams() portfolio.RiskParams {
	return portfolio.DefaultRiskParams(c.TakerFeeRate, c.SlippageRate)
}

// SlippageBps returns SlippageRate in basis points.
func (c *Config) SlippageBps() float64 {
	return c.SlippageRate * 10000
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return f
}
