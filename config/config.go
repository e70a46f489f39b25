package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Orphan cost-basis modes.
const (
	OrphanCostBasisMarket     = "market"
	OrphanCostBasisAllocation = "allocation"
)

type Config struct {
	// Exchange (Binance-compatible spot)
	ExchangeAPIKey    string
	ExchangeAPISecret string
	UseTestnet        bool

	// News + LLM analysis
	LLMAPIKey  string
	LLMModel   string
	NewsAPIKey string

	// Trading defaults (per-bot overrides live in the bot registry)
	CheckIntervalSeconds int
	DefaultSLPct         float64
	DefaultTPPct         float64
	MinConfidence        float64

	// Orphan adoption: "market" records the orphan's market value as its
	// cost basis, "allocation" keeps the legacy behaviour of using the
	// assigned allocation.
	OrphanCostBasis string

	// ResetHoldOnAdd renews the max-hold deadline when a bot adds to an
	// open position.
	ResetHoldOnAdd bool

	// Notifier egress (optional)
	NotifierURL   string
	NotifierToken string

	// Server
	APIPort       string
	DataDir       string
	AccessPasskey string
}

func Load() *Config {
	godotenv.Load()

	return &Config{
		ExchangeAPIKey:    getEnv("EXCHANGE_API_KEY", ""),
		ExchangeAPISecret: getEnv("EXCHANGE_API_SECRET", ""),
		UseTestnet:        getEnvBool("USE_TESTNET", true),

		LLMAPIKey:  getEnv("LLM_API_KEY", ""),
		LLMModel:   getEnv("LLM_MODEL", "deepseek/deepseek-v3.2"),
		NewsAPIKey: getEnv("NEWS_API_KEY", ""),

		CheckIntervalSeconds: getEnvInt("CHECK_INTERVAL_SECONDS", 900),
		DefaultSLPct:         getEnvFloat("DEFAULT_SL_PCT", 3.0),
		DefaultTPPct:         getEnvFloat("DEFAULT_TP_PCT", 5.0),
		MinConfidence:        getEnvFloat("MIN_CONFIDENCE", 0.70),

		OrphanCostBasis: getEnv("ORPHAN_COST_BASIS", OrphanCostBasisMarket),
		ResetHoldOnAdd:  getEnvBool("RESET_HOLD_ON_ADD", true),

		NotifierURL:   getEnv("NOTIFIER_URL", ""),
		NotifierToken: getEnv("NOTIFIER_TOKEN", ""),

		APIPort:       getEnv("API_PORT", "8080"),
		DataDir:       getEnv("DATA_DIR", "data"),
		AccessPasskey: getEnv("ACCESS_PASSKEY", ""),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		i, err := strconv.Atoi(val)
		if err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return defaultVal
}
