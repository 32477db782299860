package config

import "time"

type Config struct {
	Service  *ServiceConfig  `yaml:"service"`
	Logger   *LoggerConfig   `yaml:"logger"`
	Tracer   *TracerConfig   `yaml:"tracer"`
	Store    *StoreConfig    `yaml:"store"`
	Redis    *RedisConfig    `yaml:"redis"`
	Postgres *PostgresConfig `yaml:"postgres"`
	Sync     *SyncConfig     `yaml:"sync"`
	Server   *ServerConfig   `yaml:"server"`
}

type ServiceConfig struct {
	Name string `yaml:"name"`
	Env  string `yaml:"env"`
}

type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// StoreConfig selects the DocumentStore driver: memory, redis or postgres.
type StoreConfig struct {
	Driver       string `yaml:"driver"`
	MaxBatchSize int    `yaml:"max_batch_size"`
}

type RedisConfig struct {
	URL          string        `yaml:"url"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	PingTimeout  time.Duration `yaml:"ping_timeout"`
	KeyPrefix    string        `yaml:"key_prefix"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	PingTimeout     time.Duration `yaml:"ping_timeout"`
	Migrate         bool          `yaml:"migrate"`
}

type SyncConfig struct {
	TxMaxRetries     int           `yaml:"tx_max_retries"`
	RetryAttempts    int           `yaml:"retry_attempts"`
	RetryInitialWait time.Duration `yaml:"retry_initial_wait"`
	RetryMaxWait     time.Duration `yaml:"retry_max_wait"`
	RetryMultiplier  float64       `yaml:"retry_multiplier"`
	PublisherBuffer  int           `yaml:"publisher_buffer"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RateLimit       float64       `yaml:"rate_limit"` // requests per second per client, 0 disables
	RateBurst       int           `yaml:"rate_burst"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}
