package storage

import (
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
)

// Config defines connection parameters parsed from environment variables
type Config struct {
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     uint16 `env:"DB_PORT" envDefault:"5432"`
	DBName   string `env:"DB_NAME" envDefault:"chat"`
}

// DSN renders the config as a keyword/value connection string.
func (c Config) DSN() string {
	var b strings.Builder
	b.WriteString("user=" + c.User)
	b.WriteString(" password=" + c.Password)
	b.WriteString(" host=" + c.Host)
	b.WriteString(" port=" + strconv.FormatUint(uint64(c.Port), 10))
	b.WriteString(" dbname=" + c.DBName)
	b.WriteString(" sslmode=disable")
	return b.String()
}

// Option alters the default configuration of the pgxpool.Config used during new Store construction
type Option interface {
	apply(*pgxpool.Config)
}

type optionFunc func(c *pgxpool.Config)

func (f optionFunc) apply(c *pgxpool.Config) { f(c) }

// ConnectionTimeout sets timeout for connection to be established
func ConnectionTimeout(d time.Duration) Option {
	return optionFunc(func(c *pgxpool.Config) {
		c.ConnConfig.ConnectTimeout = d
	})
}
