package database

import (
	"fmt"
	"net/url"
	"time"
)

// Config - параметры подключения к журналу задач в PostgreSQL.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int32
	MaxConnIdleTime time.Duration
}

// ConnectionString возвращает DSN в формате key=value для pgxpool.
func (c Config) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// MaskedConnectionString - то же, но без пароля, для логов.
func (c Config) MaskedConnectionString() string {
	masked := c
	if masked.Password != "" {
		masked.Password = "********"
	}
	return masked.ConnectionString()
}

// URL возвращает DSN в виде postgres://, который понимает мигратор.
func (c Config) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}
