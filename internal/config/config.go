package config

import (
	"os"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/nimasrn/webhook-inbox/pkg/logger"
	"github.com/nimasrn/webhook-inbox/pkg/pg"
	"github.com/pkg/errors"
)

var config *Config

// Config holds every setting of the inbox binaries. Values come from the
// process environment, optionally seeded from a .env file; nothing else
// should read the environment directly.
type Config struct {
	AppEnv              string `env:"APP_ENV,default=dev"`
	AppName             string `env:"APP_NAME,default=webhook_inbox"`
	AppDebugMetricsAddr string `env:"APP_DEBUG_METRIC_ADDR,default=:9100"`
	AppDebugMetricsURI  string `env:"APP_DEBUG_METRIC_URI,default=/metrics"`

	HttpListenAddr            string        `env:"HTTP_LISTEN_ADDR,default=:5000"`
	HttpBaseRequestUrl        string        `env:"HTTP_BASE_REQUEST_URI,default=/api"`
	HttpServerReadTimeout     time.Duration `env:"HTTP_SERVER_READ_TIMEOUT"`
	HttpServerWriteTimeout    time.Duration `env:"HTTP_SERVER_WRITE_TIMEOUT"`
	HttpServerRequestTimeout  time.Duration `env:"HTTP_SERVER_REQUEST_TIMEOUT,default=5s"`
	HttpServerReadBufferSize  int           `env:"HTTP_SERVER_READ_BUFFER_SIZE"`
	HttpServerWriteBufferSize int           `env:"HTTP_SERVER_WRITE_BUFFER_SIZE"`
	HttpPrefork               bool          `env:"HTTP_PREFORK"`
	CorsAllowOrigin           string        `env:"CORS_ALLOW_ORIGIN,default=*"`

	DBDriver string `env:"DB_DRIVER,default=postgres"`
	DBDSN    string `env:"DB_DSN"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	RedisAddr               string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX,default=inbox:"`

	PromNamespace string `env:"PROM_NAMESPACE,default=webhook_inbox"`

	WebhookAsync bool `env:"WEBHOOK_ASYNC"`

	QueueName              string        `env:"QUEUE_NAME,default=webhooks"`
	QueueConsumerGroup     string        `env:"QUEUE_CONSUMER_GROUP,default=inbox"`
	QueueConsumerName      string        `env:"QUEUE_CONSUMER_NAME"`
	QueueMaxRetries        int           `env:"QUEUE_MAX_RETRIES,default=3"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT,default=30s"`
	QueuePollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL,default=1s"`
	QueueBatchSize         int64         `env:"QUEUE_BATCH_SIZE,default=10"`
	QueueMaxLen            int64         `env:"QUEUE_MAX_LEN,default=100000"`
	QueueEnableDLQ         bool          `env:"QUEUE_ENABLE_DLQ,default=true"`

	ProcessorConsumers int `env:"PROCESSOR_CONSUMERS,default=2"`
	ProcessorWorkers   int `env:"PROCESSOR_WORKERS,default=8"`

	RealtimeListenAddr string `env:"REALTIME_LISTEN_ADDR"`

	SimulatorListenAddr string        `env:"SIMULATOR_LISTEN_ADDR,default=:8090"`
	SimulatorWebhookUrl string        `env:"SIMULATOR_WEBHOOK_URL,default=http://localhost:5000/api/webhook"`
	SimulatorMinDelay   time.Duration `env:"SIMULATOR_MIN_DELAY,default=500ms"`
	SimulatorMaxDelay   time.Duration `env:"SIMULATOR_MAX_DELAY,default=2s"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		err = godotenv.Load(path)
		if err != nil {
			return errors.Wrap(err, "failed to load configuration file "+path)
		}
	}

	_, err = env.UnmarshalFromEnviron(c)
	if err != nil {
		return errors.Wrap(err, "failed to map env variables to Configuration object")
	}

	if err = c.validate(); err != nil {
		return err
	}

	config = c
	return nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case pg.DriverPostgres:
	case pg.DriverMySQL, pg.DriverSQLite:
		if c.DBDSN == "" {
			return errors.Errorf("DB_DSN is required for driver %s", c.DBDriver)
		}
	default:
		return errors.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.ProcessorWorkers <= 0 || c.ProcessorConsumers <= 0 {
		return errors.New("PROCESSOR_WORKERS and PROCESSOR_CONSUMERS must be positive")
	}
	return nil
}

// ReadDB returns the connection settings of the read replica.
func (c *Config) ReadDB() pg.Config {
	return pg.Config{
		Driver:   c.DBDriver,
		DSN:      c.DBDSN,
		User:     c.PostgresReadUser,
		Host:     c.PostgresReadHost,
		Port:     c.PostgresReadPort,
		Password: c.PostgresReadPassword,
		Database: c.PostgresReadDatabase,
	}
}

func (c *Config) WriteDB() pg.Config {
	return pg.Config{
		Driver:   c.DBDriver,
		DSN:      c.DBDSN,
		User:     c.PostgresWriteUser,
		Host:     c.PostgresWriteHost,
		Port:     c.PostgresWritePort,
		Password: c.PostgresWritePassword,
		Database: c.PostgresWriteDatabase,
	}
}

func (c *Config) IsDev() bool {
	return c.AppEnv == "dev"
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}

// EnvPath returns the value of a --env=path argument, falling back to
// ./.env when it exists.
func EnvPath(args []string) string {
	if v, ok := Arg(args, "env"); ok {
		if _, err := os.Stat(v); err != nil {
			logger.Error("failed to open the passed env file", "path", v, "error", err)
			return ""
		}
		return v
	}
	if _, err := os.Stat(".env"); err == nil {
		return ".env"
	}
	return ""
}

// Arg looks up a --name=value argument.
func Arg(args []string, name string) (string, bool) {
	prefix := "--" + name + "="
	for _, a := range args {
		if strings.HasPrefix(a, prefix) {
			return strings.TrimPrefix(a, prefix), true
		}
	}
	return "", false
}
