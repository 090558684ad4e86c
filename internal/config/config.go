// Package config loads the scanner's configuration from .env and the
// process environment, grounded on config/loader.go's parse-with-default
// idiom (godotenv.Load, then os.Getenv per key with a strconv fallback on
// parse failure) generalized from one venue's credentials to the full
// env surface spec.md 6 enumerates.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"whale-radar/internal/model"
)

// VenueCreds is one venue's trading API credentials.
type VenueCreds struct {
	APIKey     string
	APISecret  string
	Passphrase string // Coinbase-style venues only
}

type Config struct {
	TradingEnabled           bool
	CrossTradingEnabled      bool
	TriangularTradingEnabled bool

	CrossMinProfit      decimal.Decimal
	CrossMaxPosition    decimal.Decimal
	CrossMaxConcurrent  int

	TriangularMinProfit     decimal.Decimal
	TriangularMaxPosition   decimal.Decimal
	TriangularMaxConcurrent int

	MaxDailyLoss        decimal.Decimal
	MaxDailyTrades      int
	BlacklistedSymbols  []string
	BlacklistedExchanges []model.Venue

	OrderType          string
	OrderTimeout       time.Duration
	OrderRetryAttempts int
	SlippageTolerance  decimal.Decimal

	Venues   map[model.Venue]VenueCreds
	TestMode bool

	BalanceRefreshEvery time.Duration
	JournalDir          string

	ArbDebounce time.Duration

	TelegramToken  string
	TelegramChatID string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ .env file not found. Relying on system environment variables.")
	}

	cfg := &Config{
		TradingEnabled:           getBool("TRADING_ENABLED", true),
		CrossTradingEnabled:      getBool("CROSS_TRADING_ENABLED", true),
		TriangularTradingEnabled: getBool("TRIANGULAR_TRADING_ENABLED", true),

		CrossMinProfit:     getDecimal("CROSS_MIN_PROFIT", "0.5"),
		CrossMaxPosition:   getDecimal("CROSS_MAX_POSITION_SIZE", "1000"),
		CrossMaxConcurrent: getInt("CROSS_MAX_CONCURRENT", 3),

		TriangularMinProfit:     getDecimal("TRIANGULAR_MIN_PROFIT", "0.8"),
		TriangularMaxPosition:   getDecimal("TRIANGULAR_MAX_POSITION_SIZE", "500"),
		TriangularMaxConcurrent: getInt("TRIANGULAR_MAX_CONCURRENT", 2),

		MaxDailyLoss:   getDecimal("MAX_DAILY_LOSS", "200"),
		MaxDailyTrades: getInt("MAX_DAILY_TRADES", 50),

		OrderType:          getStr("ORDER_TYPE", "MARKET"),
		OrderTimeout:       time.Duration(getInt("ORDER_TIMEOUT_MS", 10000)) * time.Millisecond,
		OrderRetryAttempts: getInt("ORDER_RETRY_ATTEMPTS", 2),
		SlippageTolerance:  getDecimal("SLIPPAGE_TOLERANCE", "1.0"),

		TestMode: getBool("TEST_MODE", false),

		BalanceRefreshEvery: time.Duration(getInt("BALANCE_REFRESH_SECONDS", 30)) * time.Second,
		JournalDir:          getStr("JOURNAL_DIR", "logs/trades"),

		ArbDebounce: time.Duration(getInt("ARB_DEBOUNCE_MS", 750)) * time.Millisecond,

		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID: os.Getenv("TELEGRAM_CHAT_ID"),
	}

	cfg.BlacklistedSymbols = splitCSV(os.Getenv("BLACKLISTED_SYMBOLS"))
	for _, v := range splitCSV(os.Getenv("BLACKLISTED_EXCHANGES")) {
		cfg.BlacklistedExchanges = append(cfg.BlacklistedExchanges, model.Venue(strings.ToLower(v)))
	}

	cfg.Venues = map[model.Venue]VenueCreds{
		model.VenueBinance: {
			APIKey:    os.Getenv("BINANCE_API_KEY"),
			APISecret: os.Getenv("BINANCE_API_SECRET"),
		},
		model.VenueCoinbase: {
			APIKey:     os.Getenv("COINBASE_API_KEY"),
			APISecret:  os.Getenv("COINBASE_API_SECRET"),
			Passphrase: os.Getenv("COINBASE_API_PASSPHRASE"),
		},
		model.VenueKraken: {
			APIKey:    os.Getenv("KRAKEN_API_KEY"),
			APISecret: os.Getenv("KRAKEN_API_SECRET"),
		},
		model.VenueBybit: {
			APIKey:    os.Getenv("BYBIT_API_KEY"),
			APISecret: os.Getenv("BYBIT_API_SECRET"),
		},
	}

	for v, c := range cfg.Venues {
		if c.APIKey == "" || c.APISecret == "" {
			log.Printf("⚠️ %s credentials missing — adapter will run market-data only", v)
		}
	}

	return cfg
}

func getStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getDecimal(key, def string) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		v = def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		d, _ = decimal.NewFromString(def)
	}
	return d
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
