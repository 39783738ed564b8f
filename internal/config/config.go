package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Env                 string
	LogLevel            string
	Port                string
	AllowedOrigin       string
	BackendURL          string
	DeviceSerial        string
	BackendTimeout      time.Duration
	BaseCurrency        string
	DefaultExchangeRate decimal.Decimal
	DatabaseURL         string
	SQLitePath          string
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	DraftTTL            time.Duration
	CatalogTTL          time.Duration
	HistoryLimit        int
}

// Load reads configuration from the environment, optionally backed by a
// .env or config file in the working directory. Environment variables win.
func Load() Config {
	v := viper.New()

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig()

	v.SetConfigName("config")
	v.AddConfigPath("./config")
	_ = v.MergeInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	rate, err := decimal.NewFromString(getString(v, "DEFAULT_EXCHANGE_RATE", "2800"))
	if err != nil || !rate.IsPositive() {
		rate = decimal.NewFromInt(2800)
	}

	return Config{
		Env:                 getString(v, "APP_ENV", "development"),
		LogLevel:            getString(v, "LOG_LEVEL", "info"),
		Port:                getString(v, "PORT", "8090"),
		AllowedOrigin:       getString(v, "ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		BackendURL:          strings.TrimRight(getString(v, "BACKEND_URL", "http://127.0.0.1:8080/api"), "/"),
		DeviceSerial:        strings.TrimSpace(getString(v, "DEVICE_SERIAL", "")),
		BackendTimeout:      time.Duration(getPositiveInt(v, "BACKEND_TIMEOUT_SECONDS", 15)) * time.Second,
		BaseCurrency:        strings.ToUpper(getString(v, "BASE_CURRENCY", "CDF")),
		DefaultExchangeRate: rate,
		DatabaseURL:         getString(v, "DATABASE_URL", ""),
		SQLitePath:          getString(v, "SQLITE_PATH", "terminal.db"),
		RedisAddr:           getString(v, "REDIS_ADDR", ""),
		RedisPassword:       getString(v, "REDIS_PASSWORD", ""),
		RedisDB:             getInt(v, "REDIS_DB", 0),
		DraftTTL:            time.Duration(getInt(v, "DRAFT_TTL_HOURS", 72)) * time.Hour,
		CatalogTTL:          time.Duration(getPositiveInt(v, "CATALOG_TTL_SECONDS", 300)) * time.Second,
		HistoryLimit:        getPositiveInt(v, "HISTORY_LIMIT", 50),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf("127.0.0.1:%s", c.Port)
}

func getString(v *viper.Viper, key string, fallback string) string {
	if v.IsSet(key) {
		if val := strings.TrimSpace(v.GetString(key)); val != "" {
			return val
		}
	}
	return fallback
}

func getInt(v *viper.Viper, key string, fallback int) int {
	if !v.IsSet(key) {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v.GetString(key)))
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func getPositiveInt(v *viper.Viper, key string, fallback int) int {
	n := getInt(v, key, fallback)
	if n < 1 {
		return fallback
	}
	return n
}
