package db

import "time"

type Config struct {
	// Dialect is postgres or sqlite; common aliases are accepted.
	Dialect         string        `conf:"dialect" yaml:"dialect" json:"dialect"`
	DSN             string        `conf:"dsn" yaml:"-" json:"-"`
	Debug           bool          `conf:"debug" yaml:"debug" json:"debug"`
	MaxOpenConns    int           `conf:"max_open_conns" yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `conf:"max_idle_conns" yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `conf:"conn_max_lifetime" yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	SlowThreshold   time.Duration `conf:"slow_threshold" yaml:"slow_threshold" json:"slow_threshold"`
}
