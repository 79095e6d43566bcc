package database

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// Supported driver names. They double as sqlx driver names and migration subdirectories.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite3"
)

// Config holds database connection settings.
type Config struct {
	Driver         string `yaml:"driver" envconfig:"DB_DRIVER"`
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	Path           string `yaml:"path" envconfig:"DB_PATH"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
}

// Normalize applies defaults and validates driver specific fields.
func (c *Config) Normalize() error {
	c.Driver = strings.ToLower(strings.TrimSpace(c.Driver))
	switch c.Driver {
	case "", "postgresql", "pg":
		c.Driver = DriverPostgres
	case "sqlite":
		c.Driver = DriverSQLite
	}
	switch c.Driver {
	case DriverPostgres, DriverMySQL:
		if strings.TrimSpace(c.Host) == "" || strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("database.host and database.name are required for %s", c.Driver)
		}
		if c.Port == "" {
			c.Port = map[string]string{DriverPostgres: "5432", DriverMySQL: "3306"}[c.Driver]
		}
		if c.Driver == DriverPostgres && c.SSLMode == "" {
			c.SSLMode = "disable"
		}
	case DriverSQLite:
		if strings.TrimSpace(c.Path) == "" {
			return fmt.Errorf("database.path is required for sqlite3")
		}
		// sqlite has a single writer; more connections only produce SQLITE_BUSY.
		c.MaxConnections = 1
	default:
		return fmt.Errorf("unsupported database.driver %q; allowed: postgres, mysql, sqlite3", c.Driver)
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 10
	}
	return nil
}

// DSN returns the data source name understood by the sqlx driver.
func (c Config) DSN() string {
	switch c.Driver {
	case DriverMySQL:
		return c.mysqlConfig().FormatDSN()
	case DriverSQLite:
		return c.Path + "?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on"
	default:
		return fmt.Sprintf(
			"user=%s password=%s host=%s port=%s dbname=%s sslmode=%s",
			c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
		)
	}
}

// MigrateURL returns the database URL understood by golang-migrate.
func (c Config) MigrateURL() string {
	switch c.Driver {
	case DriverMySQL:
		return "mysql://" + c.mysqlConfig().FormatDSN()
	case DriverSQLite:
		return "sqlite3://" + c.Path + "?_foreign_keys=on"
	default:
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(c.User, c.Password),
			Host:     net.JoinHostPort(c.Host, c.Port),
			Path:     "/" + c.Name,
			RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
		}
		return u.String()
	}
}

func (c Config) mysqlConfig() *mysql.Config {
	mc := mysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.Host, c.Port)
	mc.DBName = c.Name
	mc.ParseTime = true
	mc.MultiStatements = true
	return mc
}

// Target describes where the connection points without credentials, for logs.
func (c Config) Target() string {
	if c.Driver == DriverSQLite {
		return c.Path
	}
	return net.JoinHostPort(c.Host, c.Port) + "/" + c.Name
}
