package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ConfigFileName is the JSON config file looked up in the config directory.
const ConfigFileName = "livemap_relay.cfg.json"

// EnvPrefix prefixes environment overrides, e.g. LIVEMAP_SERVER_PORT.
const EnvPrefix = "LIVEMAP"

// ServerConfig holds listener and per-connection settings
type ServerConfig struct {
	Host            string        `json:"host" mapstructure:"host"`
	Port            int           `json:"port" mapstructure:"port"`
	Path            string        `json:"path" mapstructure:"path"`
	AllowedOrigins  []string      `json:"allowedOrigins" mapstructure:"allowedOrigins"`
	WriteWait       time.Duration `json:"writeWait" mapstructure:"writeWait"`
	PongWait        time.Duration `json:"pongWait" mapstructure:"pongWait"`
	MaxMessageSize  int64         `json:"maxMessageSize" mapstructure:"maxMessageSize"`
	SendBuffer      int           `json:"sendBuffer" mapstructure:"sendBuffer"`
	ShutdownTimeout time.Duration `json:"shutdownTimeout" mapstructure:"shutdownTimeout"`
}

// MemoryConfig holds in-memory/JSON recorder backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds SQLite recorder backend settings
type SQLiteConfig struct {
	Path         string        `json:"path" mapstructure:"path"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
}

// PostgresConfig holds Postgres recorder backend settings
type PostgresConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// RecorderConfig selects and configures the session recorder
type RecorderConfig struct {
	Type          string         `json:"type" mapstructure:"type"`
	FlushInterval time.Duration  `json:"flushInterval" mapstructure:"flushInterval"`
	BatchSize     int            `json:"batchSize" mapstructure:"batchSize"`
	Memory        MemoryConfig   `json:"memory" mapstructure:"memory"`
	SQLite        SQLiteConfig   `json:"sqlite" mapstructure:"sqlite"`
	Postgres      PostgresConfig `json:"postgres" mapstructure:"postgres"`
}

// InfluxConfig holds InfluxDB stats sink settings
type InfluxConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	Host       string `json:"host" mapstructure:"host"`
	Port       string `json:"port" mapstructure:"port"`
	Protocol   string `json:"protocol" mapstructure:"protocol"`
	Token      string `json:"token" mapstructure:"token"`
	Org        string `json:"org" mapstructure:"org"`
	Bucket     string `json:"bucket" mapstructure:"bucket"`
	BackupPath string `json:"backupPath" mapstructure:"backupPath"`
}

// GraylogConfig holds GELF log sink settings
type GraylogConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// MonitorConfig holds status monitor settings
type MonitorConfig struct {
	Interval   time.Duration `json:"interval" mapstructure:"interval"`
	StatusFile string        `json:"statusFile" mapstructure:"statusFile"`
}

// SetDefaults registers every default value with viper.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8765)
	viper.SetDefault("server.path", "/")
	viper.SetDefault("server.allowedOrigins", []string{})
	viper.SetDefault("server.writeWait", "10s")
	viper.SetDefault("server.pongWait", "60s")
	viper.SetDefault("server.maxMessageSize", 65536)
	viper.SetDefault("server.sendBuffer", 256)
	viper.SetDefault("server.shutdownTimeout", "10s")

	viper.SetDefault("recorder.type", "none")
	viper.SetDefault("recorder.flushInterval", "2s")
	viper.SetDefault("recorder.batchSize", 500)
	viper.SetDefault("recorder.memory.outputDir", "./recordings")
	viper.SetDefault("recorder.memory.compressOutput", true)
	viper.SetDefault("recorder.sqlite.path", "./recordings/relay.db")
	viper.SetDefault("recorder.sqlite.dumpInterval", "3m")
	viper.SetDefault("recorder.postgres.host", "localhost")
	viper.SetDefault("recorder.postgres.port", "5432")
	viper.SetDefault("recorder.postgres.username", "postgres")
	viper.SetDefault("recorder.postgres.password", "postgres")
	viper.SetDefault("recorder.postgres.database", "livemap")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "livemap")
	viper.SetDefault("influx.bucket", "relay_metrics")
	viper.SetDefault("influx.backupPath", "./logs/influx_backup.lp.gz")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "livemap-relay")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("monitor.interval", "30s")
	viper.SetDefault("monitor.statusFile", "")
}

// Flags returns the command-line flags understood by the relay. Parse them,
// then pass the set to BindFlags.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("livemap-relay", pflag.ContinueOnError)
	fs.String("config-dir", ".", "directory containing "+ConfigFileName)
	fs.String("host", "0.0.0.0", "interface to bind")
	fs.Int("port", 8765, "port to listen on")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	return fs
}

// BindFlags makes explicitly set flags override file and environment values.
func BindFlags(fs *pflag.FlagSet) error {
	bindings := map[string]string{
		"server.host": "host",
		"server.port": "port",
		"logLevel":    "log-level",
	}
	for key, name := range bindings {
		f := fs.Lookup(name)
		if f == nil {
			return fmt.Errorf("flag %q not defined", name)
		}
		if err := viper.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding flag %q: %w", name, err)
		}
	}
	return nil
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file. Environment
// variables prefixed with LIVEMAP_ override file values. Defaults are in
// place even when an error is returned.
func Load(configDir string) error {
	SetDefaults()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(ConfigFileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// GetServerConfig returns the listener settings
func GetServerConfig() ServerConfig {
	return ServerConfig{
		Host:            viper.GetString("server.host"),
		Port:            viper.GetInt("server.port"),
		Path:            viper.GetString("server.path"),
		AllowedOrigins:  viper.GetStringSlice("server.allowedOrigins"),
		WriteWait:       viper.GetDuration("server.writeWait"),
		PongWait:        viper.GetDuration("server.pongWait"),
		MaxMessageSize:  viper.GetInt64("server.maxMessageSize"),
		SendBuffer:      viper.GetInt("server.sendBuffer"),
		ShutdownTimeout: viper.GetDuration("server.shutdownTimeout"),
	}
}

// GetRecorderConfig returns the recorder settings
func GetRecorderConfig() RecorderConfig {
	return RecorderConfig{
		Type:          viper.GetString("recorder.type"),
		FlushInterval: viper.GetDuration("recorder.flushInterval"),
		BatchSize:     viper.GetInt("recorder.batchSize"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("recorder.memory.outputDir"),
			CompressOutput: viper.GetBool("recorder.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			Path:         viper.GetString("recorder.sqlite.path"),
			DumpInterval: viper.GetDuration("recorder.sqlite.dumpInterval"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("recorder.postgres.host"),
			Port:     viper.GetString("recorder.postgres.port"),
			Username: viper.GetString("recorder.postgres.username"),
			Password: viper.GetString("recorder.postgres.password"),
			Database: viper.GetString("recorder.postgres.database"),
		},
	}
}

// GetInfluxConfig returns the InfluxDB settings
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:    viper.GetBool("influx.enabled"),
		Host:       viper.GetString("influx.host"),
		Port:       viper.GetString("influx.port"),
		Protocol:   viper.GetString("influx.protocol"),
		Token:      viper.GetString("influx.token"),
		Org:        viper.GetString("influx.org"),
		Bucket:     viper.GetString("influx.bucket"),
		BackupPath: viper.GetString("influx.backupPath"),
	}
}

// GetGraylogConfig returns the Graylog settings
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetMonitorConfig returns the status monitor settings
func GetMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:   viper.GetDuration("monitor.interval"),
		StatusFile: viper.GetString("monitor.statusFile"),
	}
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}
