package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Redis      RedisConfig      `mapstructure:"redis"`
	MySQL      MySQLConfig      `mapstructure:"mysql"`
	Iamport    IamportConfig    `mapstructure:"iamport"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Leader     LeaderConfig     `mapstructure:"leader"`
	Instance   InstanceConfig   `mapstructure:"instance"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MySQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type IamportConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	// Timeout bounds every gateway call; a timed-out charge is treated as a
	// charge failure, not an infrastructure error.
	Timeout time.Duration `mapstructure:"timeout"`
}

type SettlementConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
	// RetryErrored opts in to re-settling 'error' auctions up to MaxAttempts.
	// Off by default: error and failed are terminal states.
	RetryErrored bool `mapstructure:"retry_errored"`
	MaxAttempts  int  `mapstructure:"max_attempts"`
}

type LeaderConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type InstanceConfig struct {
	ID string `mapstructure:"id"`
}

func Load() (*Config, error) {
	// Set default values
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("mysql.dsn", "auction_user:auction_pass@tcp(localhost:3306)/auction_db?parseTime=true")
	viper.SetDefault("mysql.max_open_conns", 25)
	viper.SetDefault("mysql.max_idle_conns", 10)
	viper.SetDefault("mysql.conn_max_lifetime", 5*time.Minute)
	viper.SetDefault("iamport.base_url", "https://api.iamport.kr")
	viper.SetDefault("iamport.api_key", "")
	viper.SetDefault("iamport.api_secret", "")
	viper.SetDefault("iamport.timeout", 15*time.Second)
	viper.SetDefault("settlement.interval", time.Minute)
	viper.SetDefault("settlement.lock_ttl", 2*time.Minute)
	viper.SetDefault("settlement.retry_errored", false)
	viper.SetDefault("settlement.max_attempts", 3)
	viper.SetDefault("leader.ttl", 30*time.Second)
	viper.SetDefault("instance.id", "settlement-service-1")

	// Configuration file settings
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/auction-settlement/")

	// Environment variable support
	viper.AutomaticEnv()

	// Environment variable mappings
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.host", "SERVER_HOST")
	viper.BindEnv("redis.address", "REDIS_ADDRESS")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")
	viper.BindEnv("mysql.dsn", "MYSQL_DSN")
	viper.BindEnv("mysql.max_open_conns", "MYSQL_MAX_OPEN_CONNS")
	viper.BindEnv("mysql.max_idle_conns", "MYSQL_MAX_IDLE_CONNS")
	viper.BindEnv("mysql.conn_max_lifetime", "MYSQL_CONN_MAX_LIFETIME")
	viper.BindEnv("iamport.base_url", "IAMPORT_BASE_URL")
	viper.BindEnv("iamport.api_key", "IAMPORT_API_KEY")
	viper.BindEnv("iamport.api_secret", "IAMPORT_API_SECRET")
	viper.BindEnv("iamport.timeout", "IAMPORT_TIMEOUT")
	viper.BindEnv("settlement.interval", "SETTLEMENT_INTERVAL")
	viper.BindEnv("settlement.lock_ttl", "SETTLEMENT_LOCK_TTL")
	viper.BindEnv("settlement.retry_errored", "SETTLEMENT_RETRY_ERRORED")
	viper.BindEnv("settlement.max_attempts", "SETTLEMENT_MAX_ATTEMPTS")
	viper.BindEnv("leader.ttl", "LEADER_TTL")
	viper.BindEnv("instance.id", "INSTANCE_ID")

	// Read configuration file (optional - will use defaults/env vars if not found)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// Config file not found, continue with defaults and environment variables
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// GetConfigString returns a formatted string representation of the config
func (c *Config) GetConfigString() string {
	return fmt.Sprintf(
		"Server: %s:%d, Redis: %s, MySQL: %s, Instance: %s, Interval: %s",
		c.Server.Host,
		c.Server.Port,
		c.Redis.Address,
		c.MySQL.DSN,
		c.Instance.ID,
		c.Settlement.Interval,
	)
}
