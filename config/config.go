package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel    string `env:"LOG_LEVEL"`
	Postgres    Postgres
	Redis       Redis
	HTTP        HTTP
	API         API
	Cache       Cache
	Jobs        Jobs
	GoogleDrive GoogleDrive
	Analytics   Analytics
}

type Postgres struct {
	Host            string `env:"PG_HOST"`
	Port            int    `env:"PG_PORT"`
	DbName          string `env:"PG_DB_NAME"`
	Password        string `env:"PG_PASSWORD"`
	User            string `env:"PG_USER"`
	MaxOpenConns    int    `env:"PG_MAX_OPEN_CONNS"`
	ConnMaxLifetime int    `env:"PG_CONN_MAX_LIFETIME"`
	MaxIdleConns    int    `env:"PG_MAX_IDLE_CONNS"`
	ConnMaxIdleTime int    `env:"PG_CONN_MAX_IDLE_TIME"`
	MigrationDir    string `env:"PG_MIGRATION_DIR"`
}

type Redis struct {
	Host     string `env:"REDIS_HOST"`
	Port     int    `env:"REDIS_PORT"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB"`
}

type HTTP struct {
	Port            int           `env:"HTTP_PORT"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT"`
}

type API struct {
	Debug   bool          `env:"API_DEBUG"`
	Timeout time.Duration `env:"API_TIMEOUT"`
	FundApi FundApi
}

type FundApi struct {
	EstimateUrl string `env:"FUND_API_ESTIMATE_URL"`
	SearchUrl   string `env:"FUND_API_SEARCH_URL"`
	NavUrl      string `env:"FUND_API_NAV_URL"`
}

type Cache struct {
	EstimateWindow   time.Duration `env:"CACHE_ESTIMATE_WINDOW" envDefault:"30s"`
	SearchWindow     time.Duration `env:"CACHE_SEARCH_WINDOW" envDefault:"5m"`
	NavHistoryWindow time.Duration `env:"CACHE_NAV_HISTORY_WINDOW" envDefault:"60m"`
}

type Jobs struct {
	WarmEstimatesInterval time.Duration `env:"WARM_ESTIMATES_JOB_INTERVAL"`
	ReportsCleanupCrontab string        `env:"REPORTS_CLEANUP_CRONTAB"`
}

type GoogleDrive struct {
	CredentialsFile string        `env:"GOOGLE_DRIVE_CREDENTIALS_FILE"`
	FileTTL         time.Duration `env:"GOOGLE_DRIVE_FILE_TTL"`
}

type Analytics struct {
	TopHoldingsDefault int `env:"TOP_HOLDINGS_DEFAULT" envDefault:"5"`
}

func MustLoad() *Config {
	_ = godotenv.Load(".env")

	cfg := &Config{}

	opts := env.Options{RequiredIfNoDef: true}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		log.Fatalf("parse config error: %s", err)
	}

	return cfg
}
