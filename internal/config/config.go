package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"chargewatch/internal/registry"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	LogFormat string          `json:"log_format" yaml:"log_format"`
	Timezone  string          `json:"timezone" yaml:"timezone"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Influx    InfluxConfig    `json:"influx" yaml:"influx"`
	Alerts    AlertsConfig    `json:"alerts" yaml:"alerts"`
	Evolution EvolutionConfig `json:"evolution" yaml:"evolution"`
	Voltage   VoltageConfig   `json:"voltage" yaml:"voltage"`
	Devices   DevicesConfig   `json:"devices" yaml:"devices"`
	Faults    FaultsConfig    `json:"faults" yaml:"faults"`
	Registry  RegistryConfig  `json:"registry" yaml:"registry"`
	Schedule  ScheduleConfig  `json:"schedule" yaml:"schedule"`
	API       APIConfig       `json:"api" yaml:"api"`
	Cache     CacheConfig     `json:"cache" yaml:"cache"`
	Kafka     KafkaConfig     `json:"kafka" yaml:"kafka"`
}

type StorageConfig struct {
	Driver        string `json:"driver" yaml:"driver"`
	DSN           string `json:"dsn" yaml:"dsn"`
	SessionsTable string `json:"sessions_table" yaml:"sessions_table"`
	MaxOpenConns  int    `json:"max_open_conns" yaml:"max_open_conns"`
}

type InfluxConfig struct {
	Addr               string        `json:"addr" yaml:"addr"`
	Username           string        `json:"username" yaml:"username"`
	Password           string        `json:"password" yaml:"password"`
	Database           string        `json:"database" yaml:"database"`
	Measurement        string        `json:"measurement" yaml:"measurement"`
	ProjectTag         string        `json:"project_tag" yaml:"project_tag"`
	Timeout            time.Duration `json:"timeout" yaml:"timeout"`
	InsecureSkipVerify bool          `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

type AlertsConfig struct {
	Window         time.Duration `json:"window" yaml:"window"`
	MinOccurrences int           `json:"min_occurrences" yaml:"min_occurrences"`
	FullRescan     bool          `json:"full_rescan" yaml:"full_rescan"`
}

type EvolutionConfig struct {
	Scope         string `json:"scope" yaml:"scope"`
	SuccessMoment string `json:"success_moment" yaml:"success_moment"`
	BatchSize     int    `json:"batch_size" yaml:"batch_size"`
}

type VoltageConfig struct {
	ErrorCode       int           `json:"error_code" yaml:"error_code"`
	ErrorStep       int           `json:"error_step" yaml:"error_step"`
	Workers         int           `json:"workers" yaml:"workers"`
	Padding         time.Duration `json:"padding" yaml:"padding"`
	DefaultDuration time.Duration `json:"default_duration" yaml:"default_duration"`
	FlatMaxVolts    float64       `json:"flat_max_volts" yaml:"flat_max_volts"`
	PeakMinVolts    float64       `json:"peak_min_volts" yaml:"peak_min_volts"`
	ValleyMaxVolts  float64       `json:"valley_max_volts" yaml:"valley_max_volts"`
	MinDropPercent  float64       `json:"min_drop_percent" yaml:"min_drop_percent"`
	Start           string        `json:"start" yaml:"start"`
	End             string        `json:"end" yaml:"end"`
	Output          string        `json:"output" yaml:"output"`
}

type DevicesConfig struct {
	PrefixLength int `json:"prefix_length" yaml:"prefix_length"`
	TopN         int `json:"top_n" yaml:"top_n"`
}

type FaultsConfig struct {
	Lookback time.Duration `json:"lookback" yaml:"lookback"`
	Workers  int           `json:"workers" yaml:"workers"`
}

// RegistryConfig overrides the built-in site registry. Empty fields keep the
// defaults.
type RegistryConfig struct {
	Sites    map[string]string `json:"sites" yaml:"sites"`
	Projects []string          `json:"projects" yaml:"projects"`
	Signals  map[int]string    `json:"signals" yaml:"signals"`
}

type ScheduleConfig struct {
	Alerts       time.Duration `json:"alerts" yaml:"alerts"`
	Evolution    time.Duration `json:"evolution" yaml:"evolution"`
	Devices      time.Duration `json:"devices" yaml:"devices"`
	Faults       time.Duration `json:"faults" yaml:"faults"`
	Voltage      time.Duration `json:"voltage" yaml:"voltage"`
	ReloadConfig time.Duration `json:"reload_config" yaml:"reload_config"`
}

type APIConfig struct {
	Enabled         bool          `json:"enabled" yaml:"enabled"`
	Addr            string        `json:"addr" yaml:"addr"`
	Token           string        `json:"token" yaml:"token"`
	DefaultPageSize int           `json:"default_page_size" yaml:"default_page_size"`
	MaxPageSize     int           `json:"max_page_size" yaml:"max_page_size"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type CacheConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	Addr         string        `json:"addr" yaml:"addr"`
	Password     string        `json:"password" yaml:"password"`
	DB           int           `json:"db" yaml:"db"`
	Prefix       string        `json:"prefix" yaml:"prefix"`
	AlertsTTL    time.Duration `json:"alerts_ttl" yaml:"alerts_ttl"`
	EvolutionTTL time.Duration `json:"evolution_ttl" yaml:"evolution_ttl"`
	DevicesTTL   time.Duration `json:"devices_ttl" yaml:"devices_ttl"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Timezone:  "UTC",
		Storage: StorageConfig{
			Driver:        "sqlite",
			DSN:           "file:chargewatch.db?_pragma=busy_timeout(5000)",
			SessionsTable: "charge_sessions",
			MaxOpenConns:  5,
		},
		Influx: InfluxConfig{
			Addr:        "http://localhost:8086",
			Database:    "signals",
			Measurement: "fastcharge",
			ProjectTag:  "project",
			Timeout:     30 * time.Second,
		},
		Alerts: AlertsConfig{
			Window:         12 * time.Hour,
			MinOccurrences: 3,
		},
		Evolution: EvolutionConfig{
			Scope:         "Global",
			SuccessMoment: "fin de charge",
			BatchSize:     500,
		},
		Voltage: VoltageConfig{
			ErrorCode:       84,
			ErrorStep:       7,
			Workers:         10,
			Padding:         5 * time.Second,
			DefaultDuration: time.Hour,
			FlatMaxVolts:    10,
			PeakMinVolts:    100,
			ValleyMaxVolts:  70,
			MinDropPercent:  40,
			Start:           "2025-06-02",
			Output:          "exports/evi_voltage_report.xlsx",
		},
		Devices: DevicesConfig{PrefixLength: 8, TopN: 10},
		Faults:  FaultsConfig{Lookback: 30 * 24 * time.Hour, Workers: 10},
		Schedule: ScheduleConfig{
			Alerts:       time.Hour,
			Evolution:    24 * time.Hour,
			Devices:      24 * time.Hour,
			ReloadConfig: 30 * time.Second,
		},
		API: APIConfig{
			Enabled:         true,
			Addr:            ":8080",
			DefaultPageSize: 50,
			MaxPageSize:     500,
			ShutdownTimeout: 5 * time.Second,
		},
		Cache: CacheConfig{
			Addr:         "localhost:6379",
			Prefix:       "chargewatch",
			AlertsTTL:    5 * time.Minute,
			EvolutionTTL: 30 * time.Minute,
			DevicesTTL:   30 * time.Minute,
		},
		Kafka: KafkaConfig{Topic: "chargewatch.runs", GroupID: "chargewatch-api"},
	}
}

// Load reads a YAML or JSON config file, then applies .env and process
// environment overrides. An empty path yields the defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		content, err := io.ReadAll(f)
		if err != nil {
			return nil, err
		}
		trimmed := strings.TrimSpace(string(content))
		if len(trimmed) == 0 {
			return nil, errors.New("config file is empty")
		}
		var decodeErr error
		if looksLikeJSON(trimmed) {
			decodeErr = json.Unmarshal([]byte(trimmed), cfg)
		} else {
			decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
		}
		if decodeErr != nil {
			return nil, decodeErr
		}
	}
	// A missing .env is normal outside development.
	_ = godotenv.Load()
	applyEnv(cfg, os.Getenv)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SiteRegistry returns the site registry with config overrides applied.
func (c *Config) SiteRegistry() registry.Registry {
	reg := registry.Default()
	if len(c.Registry.Sites) > 0 {
		// Map order is lost in the file; overridden codes match lexically.
		reg.Sites = c.Registry.Sites
		reg.Order = nil
	}
	if len(c.Registry.Projects) > 0 {
		reg.Projects = c.Registry.Projects
	}
	if len(c.Registry.Signals) > 0 {
		reg.Signals = c.Registry.Signals
	}
	return reg
}

// Location returns the zone naive database timestamps are read in.
func (c *Config) Location() *time.Location {
	if c.Timezone != "" {
		if loc, err := time.LoadLocation(c.Timezone); err == nil {
			return loc
		}
	}
	return time.UTC
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("DB_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DSN = v
	}
	host, port := getenv("INFLUX_HOST"), getenv("INFLUX_PORT")
	if host != "" {
		if port == "" {
			port = "8086"
		}
		scheme := "http"
		if port == "443" {
			scheme = "https"
		}
		cfg.Influx.Addr = scheme + "://" + net.JoinHostPort(host, port)
	}
	if v := getenv("INFLUX_USER"); v != "" {
		cfg.Influx.Username = v
	}
	if v := getenv("INFLUX_PW"); v != "" {
		cfg.Influx.Password = v
	}
	if v := getenv("INFLUX_DB"); v != "" {
		cfg.Influx.Database = v
	}
	if v := getenv("INFLUX_MEAS"); v != "" {
		cfg.Influx.Measurement = v
	}
	if v := getenv("INFLUX_TAG_PROJECT"); v != "" {
		cfg.Influx.ProjectTag = v
	}
	if v := getenv("REDIS_URL"); v != "" {
		cfg.Cache.Enabled = true
		cfg.Cache.Addr = strings.TrimPrefix(v, "redis://")
	}
	if v := getenv("API_TOKEN"); v != "" {
		cfg.API.Token = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Enabled = true
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Storage.SessionsTable == "" {
		cfg.Storage.SessionsTable = def.Storage.SessionsTable
	}
	if cfg.Alerts.Window <= 0 {
		cfg.Alerts.Window = def.Alerts.Window
	}
	if cfg.Alerts.MinOccurrences <= 0 {
		cfg.Alerts.MinOccurrences = def.Alerts.MinOccurrences
	}
	if cfg.Evolution.BatchSize <= 0 {
		cfg.Evolution.BatchSize = def.Evolution.BatchSize
	}
	if cfg.Evolution.Scope == "" {
		cfg.Evolution.Scope = def.Evolution.Scope
	}
	if cfg.Voltage.Workers <= 0 {
		cfg.Voltage.Workers = def.Voltage.Workers
	}
	if cfg.Voltage.DefaultDuration <= 0 {
		cfg.Voltage.DefaultDuration = def.Voltage.DefaultDuration
	}
	if cfg.Devices.PrefixLength <= 0 {
		cfg.Devices.PrefixLength = def.Devices.PrefixLength
	}
	if cfg.Devices.TopN <= 0 {
		cfg.Devices.TopN = def.Devices.TopN
	}
	if cfg.Faults.Workers <= 0 {
		cfg.Faults.Workers = def.Faults.Workers
	}
	if cfg.Faults.Lookback <= 0 {
		cfg.Faults.Lookback = def.Faults.Lookback
	}
	if cfg.Influx.Timeout <= 0 {
		cfg.Influx.Timeout = def.Influx.Timeout
	}
	if cfg.API.DefaultPageSize <= 0 {
		cfg.API.DefaultPageSize = def.API.DefaultPageSize
	}
	if cfg.API.MaxPageSize <= 0 {
		cfg.API.MaxPageSize = def.API.MaxPageSize
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = def.Kafka.GroupID
	}
}

func Validate(cfg *Config) error {
	switch strings.ToLower(cfg.Storage.Driver) {
	case "sqlite", "mysql", "postgres", "postgresql":
	default:
		return fmt.Errorf("storage.driver %q not supported", cfg.Storage.Driver)
	}
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
		}
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Kafka.Enabled && (len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "") {
		return errors.New("kafka requires brokers and topic")
	}
	if cfg.Cache.Enabled && cfg.Cache.Addr == "" {
		return errors.New("cache.addr required when cache.enabled is true")
	}
	if cfg.Voltage.MinDropPercent <= 0 || cfg.Voltage.MinDropPercent >= 100 {
		return errors.New("voltage.min_drop_percent must be in (0, 100)")
	}
	if cfg.Voltage.PeakMinVolts <= cfg.Voltage.FlatMaxVolts {
		return errors.New("voltage.peak_min_volts must exceed voltage.flat_max_volts")
	}
	for _, d := range []string{cfg.Voltage.Start, cfg.Voltage.End} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			return fmt.Errorf("voltage date %q: %w", d, err)
		}
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	if path != "" {
		if info, err := os.Stat(path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	return m, nil
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
