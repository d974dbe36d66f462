// Package config provides Viper-based configuration loading for the game core.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the TCP listener settings for player connections.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// ReadTimeout bounds how long a connection may sit idle between
	// commands. Zero disables the deadline.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout bounds a single outbound write.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds PostgreSQL connection settings for the character store.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// GameConfig holds the tunables of the combat, routing, and movement core.
type GameConfig struct {
	// TurnTimeout is how long the engine waits for a player action each turn
	// before substituting DefaultAction.
	TurnTimeout time.Duration `mapstructure:"turn_timeout"`
	// DefaultAction is substituted when the turn deadline expires: "attack",
	// "defend", or "flee".
	DefaultAction string `mapstructure:"default_action"`
	// DisconnectAction names the policy applied to a disconnecting player's
	// pending encounters before they are force-ended: "attack" submits one
	// final default attack per waiting encounter, "flee" (or "defend") ends
	// them immediately.
	DisconnectAction string `mapstructure:"disconnect_action"`
	// FleeChance is the probability in [0,1] that a flee action succeeds.
	FleeChance float64 `mapstructure:"flee_chance"`
	// PlayerDamage is the dice expression rolled for a player attack.
	PlayerDamage string `mapstructure:"player_damage"`
	// MonsterDamage is the fallback dice expression for monsters whose
	// template does not define one.
	MonsterDamage string `mapstructure:"monster_damage"`
	// ThrottleInterval is the minimum interval between events of a throttled
	// kind per room. Zero disables throttling.
	ThrottleInterval time.Duration `mapstructure:"throttle_interval"`
	// ThrottledKinds lists the event kinds subject to ThrottleInterval.
	ThrottledKinds []string `mapstructure:"throttled_kinds"`
	// FollowDepthLimit bounds nested follower relocation; propagation deeper
	// than this aborts with a recursion-guard error.
	FollowDepthLimit int `mapstructure:"follow_depth_limit"`
	// EventBuffer is the per-session outbound event channel capacity.
	EventBuffer int `mapstructure:"event_buffer"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Game     GameConfig     `mapstructure:"game"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateDatabase(c.Database); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateGame(c.Game); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.Host == "" {
		errs = append(errs, "server.host must not be empty")
	}
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", s.Port))
	}
	if s.ReadTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.read_timeout must be >= 0, got %s", s.ReadTimeout))
	}
	if s.WriteTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.write_timeout must be >= 0, got %s", s.WriteTimeout))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateGame(g GameConfig) error {
	var errs []string
	if g.TurnTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("game.turn_timeout must be > 0, got %s", g.TurnTimeout))
	}
	validActions := map[string]bool{"attack": true, "defend": true, "flee": true}
	if !validActions[g.DefaultAction] {
		errs = append(errs, fmt.Sprintf("game.default_action must be one of [attack, defend, flee], got %q", g.DefaultAction))
	}
	if !validActions[g.DisconnectAction] {
		errs = append(errs, fmt.Sprintf("game.disconnect_action must be one of [attack, defend, flee], got %q", g.DisconnectAction))
	}
	if g.FleeChance < 0 || g.FleeChance > 1 {
		errs = append(errs, fmt.Sprintf("game.flee_chance must be in [0,1], got %g", g.FleeChance))
	}
	if g.PlayerDamage == "" {
		errs = append(errs, "game.player_damage must not be empty")
	}
	if g.MonsterDamage == "" {
		errs = append(errs, "game.monster_damage must not be empty")
	}
	if g.ThrottleInterval < 0 {
		errs = append(errs, fmt.Sprintf("game.throttle_interval must be >= 0, got %s", g.ThrottleInterval))
	}
	if g.FollowDepthLimit < 1 {
		errs = append(errs, fmt.Sprintf("game.follow_depth_limit must be >= 1, got %d", g.FollowDepthLimit))
	}
	if g.EventBuffer < 1 {
		errs = append(errs, fmt.Sprintf("game.event_buffer must be >= 1, got %d", g.EventBuffer))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with EMBERWAKE_ prefix
	v.SetEnvPrefix("EMBERWAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 4000)
	v.SetDefault("server.read_timeout", "10m")
	v.SetDefault("server.write_timeout", "10s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "emberwake")
	v.SetDefault("database.password", "emberwake")
	v.SetDefault("database.name", "emberwake")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("game.turn_timeout", "30s")
	v.SetDefault("game.default_action", "attack")
	v.SetDefault("game.disconnect_action", "flee")
	v.SetDefault("game.flee_chance", 0.5)
	v.SetDefault("game.player_damage", "1d6+2")
	v.SetDefault("game.monster_damage", "1d4")
	v.SetDefault("game.throttle_interval", "0s")
	v.SetDefault("game.throttled_kinds", []string{"combat_status"})
	v.SetDefault("game.follow_depth_limit", 1)
	v.SetDefault("game.event_buffer", 64)
}
