package pg

import (
	"database/sql"
	"fmt"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

// Config describes one database connection. Driver defaults to postgres,
// which is assembled from the host fields; mysql and sqlite take DSN as is.
type Config struct {
	Driver   string `env:"DRIVER"`
	DSN      string `env:"DSN"`
	User     string `env:"USER"`
	Host     string `env:"HOST"`
	Port     string `env:"PORT"`
	Password string `env:"PASSWORD"`
	Database string `env:"DBNAME"`
}

func (c Config) driver() string {
	if c.Driver == "" {
		return DriverPostgres
	}
	return c.Driver
}

func (c Config) dsn() string {
	if c.DSN != "" || c.driver() != DriverPostgres {
		return c.DSN
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable", c.Host, c.User, c.Password, c.Database, c.Port)
}

// sqlDriverName maps the configured driver to its database/sql name.
func (c Config) sqlDriverName() (string, error) {
	switch c.driver() {
	case DriverPostgres:
		return "postgres", nil
	case DriverMySQL:
		return "mysql", nil
	case DriverSQLite:
		return "sqlite3", nil
	}
	return "", fmt.Errorf("pg: unsupported driver %q", c.Driver)
}

func newSqlConnection(config Config) (*sql.DB, error) {
	name, err := config.sqlDriverName()
	if err != nil {
		return nil, err
	}
	return sql.Open(name, config.dsn())
}
