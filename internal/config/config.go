package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Sales     SalesConfig     `yaml:"sales"`
	Messaging MessagingConfig `yaml:"messaging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // mysql, postgres or memory
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

type RedisConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Addr           string        `yaml:"addr"`
	PoolSize       int           `yaml:"pool_size"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
}

type SalesConfig struct {
	StrictTotals   bool          `yaml:"strict_totals"`
	IDGenerator    string        `yaml:"id_generator"` // uuid or snowflake
	SnowflakeNode  int64         `yaml:"snowflake_node"`
	RequestTimeout time.Duration `yaml:"request_timeout"` // 0 disables
	// Products seeded into the memory store at startup.
	SeedProducts []SeedProduct `yaml:"seed_products"`
}

type SeedProduct struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Stock int    `yaml:"stock"`
}

type MessagingConfig struct {
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Kafka    KafkaConfig    `yaml:"kafka"`
}

type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type TracingConfig struct {
	ServiceName    string `yaml:"service_name"`
	JaegerEndpoint string `yaml:"jaeger_endpoint"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			GRPCAddr:        ":50051",
			ShutdownTimeout: 5 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "mysql",
			DSN:             "root:root@tcp(localhost:3306)/sales?parseTime=true",
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			PoolSize:       100,
			IdempotencyTTL: 24 * time.Hour,
		},
		Sales: SalesConfig{
			IDGenerator:    "uuid",
			RequestTimeout: 10 * time.Second,
		},
		Tracing: TracingConfig{
			ServiceName: "sales-ledger",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path (if non-empty) over the defaults, then
// applies environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Server.HTTPAddr = getEnv("SALES_HTTP_ADDR", c.Server.HTTPAddr)
	c.Server.GRPCAddr = getEnv("SALES_GRPC_ADDR", c.Server.GRPCAddr)
	c.Database.Driver = getEnv("SALES_DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("MYSQL_DSN", c.Database.DSN)
	c.Database.DSN = getEnv("SALES_DB_DSN", c.Database.DSN)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Messaging.RabbitMQ.URL = getEnv("RABBIT_URL", c.Messaging.RabbitMQ.URL)
	c.Tracing.JaegerEndpoint = getEnv("JAEGER_ENDPOINT", c.Tracing.JaegerEndpoint)
	c.Log.Level = getEnv("SALES_LOG_LEVEL", c.Log.Level)
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		c.Messaging.Kafka.Brokers = strings.Split(brokers, ",")
	}

	var err error
	if c.Redis.Enabled, err = getEnvBool("SALES_REDIS_ENABLED", c.Redis.Enabled); err != nil {
		return err
	}
	if c.Sales.StrictTotals, err = getEnvBool("SALES_STRICT_TOTALS", c.Sales.StrictTotals); err != nil {
		return err
	}
	if c.Database.AutoMigrate, err = getEnvBool("SALES_AUTO_MIGRATE", c.Database.AutoMigrate); err != nil {
		return err
	}
	if c.Sales.RequestTimeout, err = getEnvDuration("SALES_REQUEST_TIMEOUT", c.Sales.RequestTimeout); err != nil {
		return err
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "mysql", "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q must be mysql, postgres or memory", c.Database.Driver))
	}
	switch c.Sales.IDGenerator {
	case "uuid":
	case "snowflake":
		if c.Sales.SnowflakeNode < 0 || c.Sales.SnowflakeNode > 1023 {
			errs = append(errs, fmt.Errorf("sales.snowflake_node %d out of range 0-1023", c.Sales.SnowflakeNode))
		}
	default:
		errs = append(errs, fmt.Errorf("sales.id_generator %q must be uuid or snowflake", c.Sales.IDGenerator))
	}
	if c.Sales.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("sales.request_timeout %s must not be negative", c.Sales.RequestTimeout))
	}
	if c.Server.HTTPAddr == "" && c.Server.GRPCAddr == "" {
		errs = append(errs, errors.New("at least one of server.http_addr and server.grpc_addr is required"))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}
	for i, p := range c.Sales.SeedProducts {
		if p.ID == "" || p.Stock < 0 {
			errs = append(errs, fmt.Errorf("sales.seed_products[%d] needs an id and non-negative stock", i))
		}
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) (bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
