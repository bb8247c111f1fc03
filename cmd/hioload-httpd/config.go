// File: cmd/hioload-httpd/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/momentics/hioload-httpd/credentials"
	"github.com/momentics/hioload-httpd/server"
)

type logConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`     // json or console
	WriteMode int    `mapstructure:"write_mode"` // 0 synchronous, 1 buffered
	Close     bool   `mapstructure:"close"`
}

type metricsConfig struct {
	Interval time.Duration `mapstructure:"interval"` // 0 disables the stdout exporter
}

type appConfig struct {
	Server      server.Config      `mapstructure:"server"`
	Credentials credentials.Config `mapstructure:"credentials"`
	Log         logConfig          `mapstructure:"log"`
	Metrics     metricsConfig      `mapstructure:"metrics"`
}

func defaultAppConfig() appConfig {
	return appConfig{
		Server:      server.DefaultConfig(),
		Credentials: credentials.DefaultConfig(),
		Log:         logConfig{Level: "info", Format: "json"},
	}
}

// bindFlags declares the command line and binds every flag to its config key.
// Short flags follow the classic TinyWebServer switches.
func bindFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	d := defaultAppConfig()

	fs.String("config", "", "config file (yaml, json or toml)")

	fs.IntP("port", "p", d.Server.Port, "listen port")
	fs.String("addr", d.Server.Addr, "IPv4 listen address, empty for any")
	fs.String("doc-root", d.Server.DocRoot, "directory to serve")
	fs.StringP("trig-mode", "m", "0", "trigger mode: 0 LT+LT, 1 LT+ET, 2 ET+LT, 3 ET+ET")
	fs.StringP("actor-model", "a", d.Server.ActorModel.String(), "proactor (0) or reactor (1)")
	fs.IntP("linger", "o", 0, "graceful close of the listening socket: 0 off, 1 on")
	fs.IntP("thread-num", "t", d.Server.Workers, "worker goroutines")
	fs.Int("queue-capacity", d.Server.QueueCapacity, "bounded work queue size")
	fs.Int("max-connections", d.Server.MaxConnections, "live connection limit")
	fs.Duration("tick", d.Server.TickInterval, "timer tick; idle connections close after three ticks")
	fs.Int("loop-cpu", d.Server.LoopCPU, "pin the event loop thread to this CPU, -1 to disable")

	fs.String("db-driver", d.Credentials.Driver, "credential store: mysql or memory")
	fs.String("db-endpoint", d.Credentials.Endpoint, "MySQL host:port")
	fs.String("db-user", d.Credentials.User, "MySQL user")
	fs.String("db-password", d.Credentials.Password, "MySQL password")
	fs.String("db-name", d.Credentials.Database, "MySQL database")
	fs.IntP("sql-num", "s", d.Credentials.PoolSize, "credential store connections")

	fs.String("log-level", d.Log.Level, "debug, info, warn or error")
	fs.String("log-format", d.Log.Format, "json or console")
	fs.IntP("log-write", "l", d.Log.WriteMode, "log write mode: 0 synchronous, 1 buffered")
	fs.IntP("close-log", "c", 0, "1 disables logging")
	fs.Duration("metrics-interval", 0, "print metrics to stdout at this interval, 0 disables")

	keys := map[string]string{
		"server.port":            "port",
		"server.addr":            "addr",
		"server.doc_root":        "doc-root",
		"server.trigger_mode":    "trig-mode",
		"server.actor_model":     "actor-model",
		"server.linger":          "linger",
		"server.workers":         "thread-num",
		"server.queue_capacity":  "queue-capacity",
		"server.max_connections": "max-connections",
		"server.tick_interval":   "tick",
		"server.loop_cpu":        "loop-cpu",
		"credentials.driver":     "db-driver",
		"credentials.endpoint":   "db-endpoint",
		"credentials.user":       "db-user",
		"credentials.password":   "db-password",
		"credentials.database":   "db-name",
		"credentials.pool_size":  "sql-num",
		"log.level":              "log-level",
		"log.format":             "log-format",
		"log.write_mode":         "log-write",
		"log.close":              "close-log",
		"metrics.interval":       "metrics-interval",
	}
	for key, name := range keys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	v.SetEnvPrefix("HIOLOAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return nil
}

// loadConfig reads the optional config file and decodes flags, environment
// and file values over the defaults.
func loadConfig(v *viper.Viper, file string) (appConfig, error) {
	cfg := defaultAppConfig()
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	)))
	if err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
