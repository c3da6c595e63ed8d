package config

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	NodeID     int64  `mapstructure:"NODE_ID"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Otel struct {
		Addr     string `mapstructure:"ADDR"`
		Protocol string `mapstructure:"PROTOCOL"`
	} `mapstructure:"OTEL"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Grpc struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"GRPC_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		AutoMigrate    bool   `mapstructure:"AUTO_MIGRATE"`
		Metrics        bool   `mapstructure:"METRICS"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Vault struct {
		Addr  string `mapstructure:"ADDR"`
		Mount string `mapstructure:"MOUNT"`
		Path  string `mapstructure:"PATH"`
	} `mapstructure:"VAULT"`
	AccessControl struct {
		Model  string `mapstructure:"MODEL"`
		Policy string `mapstructure:"POLICY"`
	} `mapstructure:"ACCESS_CONTROL"`
	Flagsmith struct {
		Addr   string `mapstructure:"ADDR"`
		ApiKey string `mapstructure:"API_KEY"`
	} `mapstructure:"FLAGSMITH"`
	Minio struct {
		Endpoint   string `mapstructure:"ENDPOINT"`
		AccessKey  string `mapstructure:"ACCESS_KEY"`
		SecretKey  string `mapstructure:"SECRET_KEY"`
		Secure     bool   `mapstructure:"SECURE"`
		BucketName string `mapstructure:"BUCKET_NAME"`
	} `mapstructure:"MINIO"`

	Treasury Treasury `mapstructure:"TREASURY"`
	Mining   Mining   `mapstructure:"MINING"`
	Checkin  Checkin  `mapstructure:"CHECKIN"`
	Rewards  Rewards  `mapstructure:"REWARDS"`
	Faucet   Faucet   `mapstructure:"FAUCET"`
	Cashout  Cashout  `mapstructure:"CASHOUT"`
	Risk     Risk     `mapstructure:"RISK"`
	Pricing  Pricing  `mapstructure:"PRICING"`
	Solana   Solana   `mapstructure:"SOLANA"`
	Webhook  Webhook  `mapstructure:"WEBHOOK"`

	RateLimit struct {
		RPS   float64 `mapstructure:"RPS"`
		Burst int     `mapstructure:"BURST"`
	} `mapstructure:"RATE_LIMIT"`
}

type Treasury struct {
	Key           string  `mapstructure:"KEY"`
	WarningRatio  float64 `mapstructure:"WARNING_RATIO"`
	CriticalRatio float64 `mapstructure:"CRITICAL_RATIO"`
	StatementDir  string  `mapstructure:"STATEMENT_DIR"`

	HealthInterval time.Duration `mapstructure:"HEALTH_INTERVAL"`
}

type Mining struct {
	RatePerSecond  float64       `mapstructure:"RATE_PER_SECOND"`
	MaxPerCycle    float64       `mapstructure:"MAX_PER_CYCLE"`
	Cycle          time.Duration `mapstructure:"CYCLE"`
	StreakBonus    float64       `mapstructure:"STREAK_BONUS"`
	MaxBonusStreak int           `mapstructure:"MAX_BONUS_STREAK"`
	DefaultSpeed   float64       `mapstructure:"DEFAULT_SPEED"`
}

type Checkin struct {
	BaseReward   float64 `mapstructure:"BASE_REWARD"`
	StreakBonus  float64 `mapstructure:"STREAK_BONUS"`
	MaxBonusDays int     `mapstructure:"MAX_BONUS_DAYS"`
	Timezone     string  `mapstructure:"TIMEZONE"`
}

type Rewards struct {
	SignupBonus   float64 `mapstructure:"SIGNUP_BONUS"`
	ReferralBonus float64 `mapstructure:"REFERRAL_BONUS"`
}

type FaucetCurrency struct {
	Enabled  bool          `mapstructure:"ENABLED"`
	Amount   float64       `mapstructure:"AMOUNT"`
	Interval time.Duration `mapstructure:"INTERVAL"`
}

type Faucet struct {
	RequireVerifiedAd bool                      `mapstructure:"REQUIRE_VERIFIED_AD"`
	Currencies        map[string]FaucetCurrency `mapstructure:"CURRENCIES"`
}

type Cashout struct {
	MinTokens  float64       `mapstructure:"MIN_TOKENS"`
	Queue      string        `mapstructure:"QUEUE"`
	StaleAfter time.Duration `mapstructure:"STALE_AFTER"`
}

type RiskRule struct {
	Name   string `mapstructure:"NAME"`
	Expr   string `mapstructure:"EXPR"`
	Score  int    `mapstructure:"SCORE"`
	Reason string `mapstructure:"REASON"`
}

type Risk struct {
	FlagThreshold  int        `mapstructure:"FLAG_THRESHOLD"`
	BlockThreshold int        `mapstructure:"BLOCK_THRESHOLD"`
	Rules          []RiskRule `mapstructure:"RULES"`
}

type Pricing struct {
	URL           string        `mapstructure:"URL"`
	Path          string        `mapstructure:"PATH"`
	FallbackPrice float64       `mapstructure:"FALLBACK_PRICE"`
	CacheTTL      time.Duration `mapstructure:"CACHE_TTL"`
	Timeout       time.Duration `mapstructure:"TIMEOUT"`
}

type Solana struct {
	RPCURL         string        `mapstructure:"RPC_URL"`
	ReserveAccount string        `mapstructure:"RESERVE_ACCOUNT"`
	Timeout        time.Duration `mapstructure:"TIMEOUT"`
}

type Webhook struct {
	AdNetworkSecret string        `mapstructure:"AD_NETWORK_SECRET"`
	PaymentSecret   string        `mapstructure:"PAYMENT_SECRET"`
	MaxSkew         time.Duration `mapstructure:"MAX_SKEW"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "bizops-incentives")
	v.SetDefault("NODE_ID", 1)
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("GRPC_SERVER.ADDR", "9090")
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("VAULT.MOUNT", "secret")

	v.SetDefault("TREASURY.KEY", "primary")
	v.SetDefault("TREASURY.WARNING_RATIO", 0.75)
	v.SetDefault("TREASURY.CRITICAL_RATIO", 0.90)
	v.SetDefault("TREASURY.STATEMENT_DIR", "statements")
	v.SetDefault("TREASURY.HEALTH_INTERVAL", time.Minute)

	v.SetDefault("MINING.RATE_PER_SECOND", 0.02)
	v.SetDefault("MINING.MAX_PER_CYCLE", 1728)
	v.SetDefault("MINING.CYCLE", 24*time.Hour)
	v.SetDefault("MINING.STREAK_BONUS", 0.05)
	v.SetDefault("MINING.MAX_BONUS_STREAK", 10)
	v.SetDefault("MINING.DEFAULT_SPEED", 1)

	v.SetDefault("CHECKIN.BASE_REWARD", 10)
	v.SetDefault("CHECKIN.STREAK_BONUS", 1)
	v.SetDefault("CHECKIN.MAX_BONUS_DAYS", 6)
	v.SetDefault("CHECKIN.TIMEZONE", "UTC")

	v.SetDefault("REWARDS.SIGNUP_BONUS", 50)
	v.SetDefault("REWARDS.REFERRAL_BONUS", 25)

	v.SetDefault("CASHOUT.MIN_TOKENS", 100)
	v.SetDefault("CASHOUT.QUEUE", "critical")
	v.SetDefault("CASHOUT.STALE_AFTER", 10*time.Minute)

	v.SetDefault("RISK.FLAG_THRESHOLD", 40)
	v.SetDefault("RISK.BLOCK_THRESHOLD", 80)

	v.SetDefault("PRICING.PATH", "price")
	v.SetDefault("PRICING.CACHE_TTL", time.Minute)
	v.SetDefault("PRICING.TIMEOUT", 5*time.Second)
	v.SetDefault("SOLANA.TIMEOUT", 5*time.Second)
	v.SetDefault("WEBHOOK.MAX_SKEW", 5*time.Minute)

	v.SetDefault("RATE_LIMIT.RPS", 5)
	v.SetDefault("RATE_LIMIT.BURST", 10)
}

func LoadConfig(p Params) (*Config, error) {
	// .env is optional and only fills variables that are not already set.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		zap.L().Warn("config.yaml not found, using defaults and environment")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if p.Vault != nil && cfg.Vault.Path != "" {
		if err := applyVaultSecrets(context.Background(), p.Vault, &cfg); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func applyVaultSecrets(ctx context.Context, client *vault.Client, cfg *Config) error {
	zap.L().Info("reading secrets from vault", zap.String("path", cfg.Vault.Path))
	secret, err := client.Secrets.KvV2Read(ctx, cfg.Vault.Path, vault.WithMountPath(cfg.Vault.Mount))
	if err != nil {
		zap.L().Error("failed get secret from vault", zap.Error(err))
		return err
	}

	set := func(key string, dst *string) {
		if val, ok := secret.Data.Data[key].(string); ok && val != "" {
			*dst = val
		}
	}

	set("database_user", &cfg.Database.User)
	set("database_password", &cfg.Database.Password)
	set("redis_password", &cfg.Redis.Password)
	set("flagsmith_api_key", &cfg.Flagsmith.ApiKey)
	set("minio_secret_key", &cfg.Minio.SecretKey)
	set("ad_network_webhook_secret", &cfg.Webhook.AdNetworkSecret)
	set("payment_webhook_secret", &cfg.Webhook.PaymentSecret)

	return nil
}

// Currency looks up a currency case-insensitively; viper lower-cases map keys.
func (f Faucet) Currency(code string) (FaucetCurrency, bool) {
	for k, v := range f.Currencies {
		if strings.EqualFold(k, code) {
			return v, true
		}
	}
	return FaucetCurrency{}, false
}
