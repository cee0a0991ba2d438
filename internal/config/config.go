// Package config загружает конфигурацию узла из TOML, JSON или YAML
// и следит за изменениями файла.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/iudanet/peersync/internal/models"
	"github.com/iudanet/peersync/internal/validation"
)

// EnvPrefix префикс переменных окружения
const EnvPrefix = "PEERSYNC_"

// Значения storage.documents
const (
	DocumentsSQLite = "sqlite"
	DocumentsBolt   = "bolt"
)

// Config конфигурация узла
type Config struct {
	Device    DeviceConfig    `toml:"device" json:"device" yaml:"device"`
	Identity  IdentityConfig  `toml:"identity" json:"identity" yaml:"identity"`
	Storage   StorageConfig   `toml:"storage" json:"storage" yaml:"storage"`
	Log       LogConfig       `toml:"log" json:"log" yaml:"log"`
	DataDir   string          `toml:"data_dir" json:"data_dir" yaml:"data_dir"`
	Discovery DiscoveryConfig `toml:"discovery" json:"discovery" yaml:"discovery"`
	Control   ControlConfig   `toml:"control" json:"control" yaml:"control"`
	Sync      SyncConfig      `toml:"sync" json:"sync" yaml:"sync"`
}

// DeviceConfig описание устройства для других узлов
type DeviceConfig struct {
	Name         string   `toml:"name" json:"name" yaml:"name"`
	Type         string   `toml:"type" json:"type" yaml:"type"`
	Capabilities []string `toml:"capabilities" json:"capabilities" yaml:"capabilities"`
}

// IdentityConfig хранение ключей устройства
type IdentityConfig struct {
	// PassphraseFile файл с passphrase для шифрования приватных ключей
	PassphraseFile string `toml:"passphrase_file" json:"passphrase_file" yaml:"passphrase_file"`
}

// StorageConfig выбор хранилища документов
type StorageConfig struct {
	Documents string `toml:"documents" json:"documents" yaml:"documents"` // sqlite | bolt
}

// SyncConfig транспорт и протокол синхронизации
type SyncConfig struct {
	Listen        string   `toml:"listen" json:"listen" yaml:"listen"`
	Port          int      `toml:"port" json:"port" yaml:"port"`
	OutboxSize    int      `toml:"outbox_size" json:"outbox_size" yaml:"outbox_size"`
	SendTimeout   Duration `toml:"send_timeout" json:"send_timeout" yaml:"send_timeout"`
	DeviceTimeout Duration `toml:"device_timeout" json:"device_timeout" yaml:"device_timeout"`
	BackoffBase   Duration `toml:"backoff_base" json:"backoff_base" yaml:"backoff_base"`
	BackoffMax    Duration `toml:"backoff_max" json:"backoff_max" yaml:"backoff_max"`
	RateLimit     int      `toml:"rate_limit" json:"rate_limit" yaml:"rate_limit"` // подключений с одного IP в минуту
}

// DiscoveryConfig mDNS
type DiscoveryConfig struct {
	Service string `toml:"service" json:"service" yaml:"service"`
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
}

// ControlConfig локальный API управления
type ControlConfig struct {
	Listen     string   `toml:"listen" json:"listen" yaml:"listen"`
	Token      string   `toml:"token" json:"token" yaml:"token"`
	RateLimit  int      `toml:"rate_limit" json:"rate_limit" yaml:"rate_limit"`
	RateWindow Duration `toml:"rate_window" json:"rate_window" yaml:"rate_window"`
}

// LogConfig логирование
type LogConfig struct {
	Level  string `toml:"level" json:"level" yaml:"level"`   // debug | info | warn | error
	Format string `toml:"format" json:"format" yaml:"format"` // text | json
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "peersync"
	}

	return &Config{
		Device: DeviceConfig{
			Name:         name,
			Type:         string(models.DeviceTypeDesktop),
			Capabilities: []string{"sync"},
		},
		DataDir: defaultDataDir(),
		Storage: StorageConfig{Documents: DocumentsSQLite},
		Sync: SyncConfig{
			Listen:        "0.0.0.0",
			Port:          8001,
			OutboxSize:    256,
			SendTimeout:   Duration{5 * time.Second},
			DeviceTimeout: Duration{300 * time.Second},
			BackoffBase:   Duration{time.Second},
			BackoffMax:    Duration{time.Minute},
			RateLimit:     60,
		},
		Discovery: DiscoveryConfig{Enabled: true, Service: "_peersync._tcp"},
		Control: ControlConfig{
			Listen:     "127.0.0.1:8002",
			RateLimit:  100,
			RateWindow: Duration{time.Minute},
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

func defaultDataDir() string {
	if dir := os.Getenv(EnvPrefix + "DATA_DIR"); dir != "" {
		return dir
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "peersync")
	}
	return ".peersync"
}

// ApplyEnvOverrides переопределяет значения из переменных окружения PEERSYNC_*
func (c *Config) ApplyEnvOverrides() error {
	str := map[string]*string{
		"DEVICE_NAME":              &c.Device.Name,
		"DEVICE_TYPE":              &c.Device.Type,
		"DATA_DIR":                 &c.DataDir,
		"IDENTITY_PASSPHRASE_FILE": &c.Identity.PassphraseFile,
		"STORAGE_DOCUMENTS":        &c.Storage.Documents,
		"SYNC_LISTEN":              &c.Sync.Listen,
		"DISCOVERY_SERVICE":        &c.Discovery.Service,
		"CONTROL_LISTEN":           &c.Control.Listen,
		"CONTROL_TOKEN":            &c.Control.Token,
		"LOG_LEVEL":                &c.Log.Level,
		"LOG_FORMAT":               &c.Log.Format,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SYNC_PORT":          &c.Sync.Port,
		"SYNC_OUTBOX_SIZE":   &c.Sync.OutboxSize,
		"SYNC_RATE_LIMIT":    &c.Sync.RateLimit,
		"CONTROL_RATE_LIMIT": &c.Control.RateLimit,
	}
	for key, dst := range ints {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*Duration{
		"SYNC_SEND_TIMEOUT":   &c.Sync.SendTimeout,
		"SYNC_DEVICE_TIMEOUT": &c.Sync.DeviceTimeout,
		"SYNC_BACKOFF_BASE":   &c.Sync.BackoffBase,
		"SYNC_BACKOFF_MAX":    &c.Sync.BackoffMax,
		"CONTROL_RATE_WINDOW": &c.Control.RateWindow,
	}
	for key, dst := range durations {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
			}
		}
	}

	if v, ok := os.LookupEnv(EnvPrefix + "DISCOVERY_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sDISCOVERY_ENABLED: %w", EnvPrefix, err)
		}
		c.Discovery.Enabled = b
	}

	return nil
}

// Validate проверяет конфигурацию
func (c *Config) Validate() error {
	if err := validation.ValidateDeviceName(c.Device.Name); err != nil {
		return fmt.Errorf("device.name: %w", err)
	}
	if _, err := models.ParseDeviceType(c.Device.Type); err != nil {
		return fmt.Errorf("device.type: %w", err)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}

	switch c.Storage.Documents {
	case DocumentsSQLite, DocumentsBolt:
	default:
		return fmt.Errorf("storage.documents must be %q or %q, got %q", DocumentsSQLite, DocumentsBolt, c.Storage.Documents)
	}

	if c.Sync.Port <= 0 || c.Sync.Port > 65535 {
		return fmt.Errorf("sync.port must be in 1..65535, got %d", c.Sync.Port)
	}
	if c.Sync.OutboxSize <= 0 {
		return fmt.Errorf("sync.outbox_size must be positive")
	}
	for name, d := range map[string]Duration{
		"sync.send_timeout":   c.Sync.SendTimeout,
		"sync.device_timeout": c.Sync.DeviceTimeout,
		"sync.backoff_base":   c.Sync.BackoffBase,
		"sync.backoff_max":    c.Sync.BackoffMax,
		"control.rate_window": c.Control.RateWindow,
	} {
		if d.Duration <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Sync.BackoffMax.Duration < c.Sync.BackoffBase.Duration {
		return fmt.Errorf("sync.backoff_max must not be less than sync.backoff_base")
	}

	if c.Discovery.Enabled && !strings.HasSuffix(c.Discovery.Service, "._tcp") {
		return fmt.Errorf("discovery.service must look like _name._tcp, got %q", c.Discovery.Service)
	}

	if _, _, err := net.SplitHostPort(c.Control.Listen); err != nil {
		return fmt.Errorf("control.listen: %w", err)
	}
	if c.Sync.RateLimit <= 0 || c.Control.RateLimit <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

// SyncAddr адрес listener синхронизации
func (c *Config) SyncAddr() string {
	return net.JoinHostPort(c.Sync.Listen, strconv.Itoa(c.Sync.Port))
}

// ParseLevel переводит log.level в slog.Level
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// Duration time.Duration, записанная строкой ("5s", "1m30s")
type Duration struct {
	time.Duration
}

// UnmarshalText разбирает строку через time.ParseDuration
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText записывает длительность строкой
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
