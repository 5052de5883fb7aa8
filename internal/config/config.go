// Package config содержит логику чтения конфигурации биржи заданий.
package config

import (
	"flag"
	"fmt"
	"reflect"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/testermarket/internal/model"
)

// Типы хранилища.
const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
	StoreMemory   = "memory"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress     string `env:"RUN_ADDRESS"`
	DatabaseURI    string `env:"DATABASE_URI"`
	StoreType      string `env:"STORE_TYPE"`
	MongoDatabase  string `env:"MONGO_DB"`
	SystemWalletID string `env:"SYSTEM_WALLET_ID"`
	AuthSecret     string `env:"AUTH_SECRET"`
	CaptureSecret  string `env:"CAPTURE_SECRET"`

	AppRatePerTester        decimal.Decimal `env:"APP_RATE_PER_TESTER" envDefault:"500"`
	SurveyRatePerQuestion   decimal.Decimal `env:"SURVEY_RATE_PER_QUESTION" envDefault:"1"`
	YoutubeRatePerThumbnail decimal.Decimal `env:"YOUTUBE_RATE_PER_THUMBNAIL" envDefault:"2"`
	MarketingPlatformFee    decimal.Decimal `env:"MARKETING_PLATFORM_FEE" envDefault:"0.1"`
}

func parseDecimal(v string) (any, error) {
	return decimal.NewFromString(v)
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	opts := env.Options{
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(decimal.Decimal{}): parseDecimal,
		},
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	fromEnv := *cfg

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI (postgres:// or mongodb://)")
	flag.StringVar(&cfg.StoreType, "s", "", "store type: postgres, mongo or memory")
	flag.StringVar(&cfg.MongoDatabase, "m", "testermarket", "MongoDB database name")
	flag.StringVar(&cfg.SystemWalletID, "w", "", "system wallet id")

	flag.Parse()

	if fromEnv.RunAddress != "" {
		cfg.RunAddress = fromEnv.RunAddress
	}
	if fromEnv.DatabaseURI != "" {
		cfg.DatabaseURI = fromEnv.DatabaseURI
	}
	if fromEnv.StoreType != "" {
		cfg.StoreType = fromEnv.StoreType
	}
	if fromEnv.MongoDatabase != "" {
		cfg.MongoDatabase = fromEnv.MongoDatabase
	}
	if fromEnv.SystemWalletID != "" {
		cfg.SystemWalletID = fromEnv.SystemWalletID
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.StoreType == "" {
		cfg.StoreType = detectStore(cfg.DatabaseURI)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func detectStore(uri string) string {
	switch {
	case uri == "":
		return StoreMemory
	case strings.HasPrefix(uri, "mongodb://"), strings.HasPrefix(uri, "mongodb+srv://"):
		return StoreMongo
	default:
		return StorePostgres
	}
}

func (c *Config) validate() error {
	switch c.StoreType {
	case StoreMemory:
	case StorePostgres, StoreMongo:
		if c.DatabaseURI == "" {
			return fmt.Errorf("store %s requires a database URI", c.StoreType)
		}
	default:
		return fmt.Errorf("unknown store type %q", c.StoreType)
	}

	if _, err := c.SystemWallet(); err != nil {
		return err
	}

	rates := []decimal.Decimal{c.AppRatePerTester, c.SurveyRatePerQuestion, c.YoutubeRatePerThumbnail}
	for _, r := range rates {
		if !r.IsPositive() {
			return fmt.Errorf("reward rates must be positive, got %s", r)
		}
	}
	if c.MarketingPlatformFee.IsNegative() {
		return fmt.Errorf("marketing platform fee must not be negative, got %s", c.MarketingPlatformFee)
	}
	return nil
}

// SystemWallet возвращает заданный идентификатор системного кошелька
// либо uuid.Nil, если он не задан.
func (c *Config) SystemWallet() (uuid.UUID, error) {
	if c.SystemWalletID == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(c.SystemWalletID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse system wallet id: %w", err)
	}
	return id, nil
}

// Rates возвращает тарифы вознаграждений.
func (c *Config) Rates() model.Rates {
	return model.Rates{
		AppPerTester:         c.AppRatePerTester,
		SurveyPerQuestion:    c.SurveyRatePerQuestion,
		YoutubePerThumbnail:  c.YoutubeRatePerThumbnail,
		MarketingPlatformFee: c.MarketingPlatformFee,
	}
}
