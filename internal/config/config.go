package config

import (
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	Auth      AuthConfig
	API       APIConfig
	Market    MarketConfig
	Billing   BillingConfig
	RateLimit RateLimitConfig
	Usage     UsageConfig
}

type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"readTimeout"`
	WriteTimeout   time.Duration `mapstructure:"writeTimeout"`
	IdleTimeout    time.Duration `mapstructure:"idleTimeout"`
	ShutdownPeriod time.Duration `mapstructure:"shutdownPeriod"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"maxOpenConns"`
	MaxIdleConns    int           `mapstructure:"maxIdleConns"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwtSecret"`
	SessionTTL time.Duration `mapstructure:"sessionTTL"`
}

// APIConfig carries the statically configured bootstrap keys. They are seeded
// into the credential store under the system account on startup and whenever
// the store has to be re-initialized mid-request.
type APIConfig struct {
	MasterKey string `mapstructure:"masterKey"`
	ValidKeys string `mapstructure:"validKeys"`
}

type MarketConfig struct {
	CacheTTL        time.Duration `mapstructure:"cacheTTL"`
	StaleWindow     time.Duration `mapstructure:"staleWindow"`
	UpstreamBaseURL string        `mapstructure:"upstreamBaseURL"`
	UpstreamTimeout time.Duration `mapstructure:"upstreamTimeout"`
}

type BillingConfig struct {
	StripeSecretKey      string `mapstructure:"stripeSecretKey"`
	StripeWebhookSecret  string `mapstructure:"stripeWebhookSecret"`
	StripePriceIDMonthly string `mapstructure:"stripePriceIDMonthly"`
	AllowedRedirectHosts string `mapstructure:"allowedRedirectHosts"`

	PlanID          string  `mapstructure:"planID"`
	PlanName        string  `mapstructure:"planName"`
	PlanPriceUSD    float64 `mapstructure:"planPriceUSD"`
	PlanInterval    string  `mapstructure:"planInterval"`
	PlanDescription string  `mapstructure:"planDescription"`
}

type RateLimitConfig struct {
	RequestsPerSecond int           `mapstructure:"requestsPerSecond"`
	Window            time.Duration `mapstructure:"window"`
}

type UsageConfig struct {
	RetentionDays int `mapstructure:"retentionDays"`
}

func LoadConfig(configPath string) (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found or error loading it, relying on environment variables and config file")
	}

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.readTimeout", 5*time.Second)
	viper.SetDefault("server.writeTimeout", 10*time.Second)
	viper.SetDefault("server.idleTimeout", 120*time.Second)
	viper.SetDefault("server.shutdownPeriod", 15*time.Second)

	viper.SetDefault("database.maxOpenConns", 25)
	viper.SetDefault("database.maxIdleConns", 25)
	viper.SetDefault("database.connMaxLifetime", 5*time.Minute)

	viper.SetDefault("redis.db", "0")

	viper.SetDefault("log.level", "info")

	viper.SetDefault("auth.sessionTTL", 24*time.Hour)

	viper.SetDefault("market.cacheTTL", 30*time.Second)
	viper.SetDefault("market.staleWindow", 300*time.Second)
	viper.SetDefault("market.upstreamBaseURL", "https://query1.finance.yahoo.com")
	viper.SetDefault("market.upstreamTimeout", 10*time.Second)

	viper.SetDefault("billing.planID", "starter-monthly")
	viper.SetDefault("billing.planName", "Starter")
	viper.SetDefault("billing.planPriceUSD", 19.0)
	viper.SetDefault("billing.planInterval", "month")
	viper.SetDefault("billing.planDescription", "Quotes, history and fundamentals with a monthly request allowance")

	viper.SetDefault("ratelimit.requestsPerSecond", 10)
	viper.SetDefault("ratelimit.window", time.Second)

	viper.SetDefault("usage.retentionDays", 90)

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AllowEmptyEnv(true)

	if configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			log.Printf("Warning: could not read config file: %s. Error: %v\n", configPath, err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// BootstrapKeys returns the deduplicated list of statically configured raw
// keys, master key first.
func (c *APIConfig) BootstrapKeys() []string {
	raw := []string{c.MasterKey}
	for _, k := range strings.Split(c.ValidKeys, ",") {
		raw = append(raw, strings.TrimSpace(k))
	}

	seen := make(map[string]struct{}, len(raw))
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}
