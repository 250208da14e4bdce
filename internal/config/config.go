package config

import (
	"flag"
	"log/slog"
	"strings"
	"time"

	"github.com/pv/scada-bridge/internal/historian"
)

type AdapterType string

const (
	AdapterSimulation AdapterType = "simulation"
	AdapterREST       AdapterType = "rest"
	AdapterMQTT       AdapterType = "mqtt"
	AdapterWebSocket  AdapterType = "websocket"
)

// AdapterConfig описывает подключение к источнику данных PLC/SCADA
type AdapterConfig struct {
	Type AdapterType `yaml:"type"`
	// rest: базовый URL HTTP API; websocket: базовый URL (http:// конвертируется в ws://)
	URL string `yaml:"url,omitempty"`
	// mqtt
	Broker    string `yaml:"broker,omitempty"`
	ClientID  string `yaml:"clientId,omitempty"`
	Username  string `yaml:"username,omitempty"`
	Password  string `yaml:"password,omitempty"`
	TopicBase string `yaml:"topicBase,omitempty"` // default: scada

	PollInterval  time.Duration `yaml:"pollInterval,omitempty"`  // rest (default: 1s)
	MaxReconnects int           `yaml:"maxReconnects,omitempty"` // default: 10
}

// GetType возвращает тип адаптера с учётом default (simulation)
func (a *AdapterConfig) GetType() AdapterType {
	if a == nil || a.Type == "" {
		return AdapterSimulation
	}
	return a.Type
}

// GetPollInterval возвращает интервал опроса с default
func (a *AdapterConfig) GetPollInterval() time.Duration {
	if a == nil || a.PollInterval <= 0 {
		return time.Second
	}
	return a.PollInterval
}

// GetMaxReconnects возвращает лимит переподключений с default
func (a *AdapterConfig) GetMaxReconnects() int {
	if a == nil || a.MaxReconnects <= 0 {
		return 10
	}
	return a.MaxReconnects
}

// GetTopicBase возвращает базовый MQTT топик с default
func (a *AdapterConfig) GetTopicBase() string {
	if a == nil || a.TopicBase == "" {
		return "scada"
	}
	return a.TopicBase
}

// HistoryConfig описывает настройки локального архива
type HistoryConfig struct {
	SQLitePath     string        `yaml:"sqlitePath,omitempty"`     // default: ./history.db
	ChangeDeadband float64       `yaml:"changeDeadband,omitempty"` // default: 0.5
	FlushInterval  time.Duration `yaml:"flushInterval,omitempty"`  // default: 1s
	BufferLimit    int           `yaml:"bufferLimit,omitempty"`    // default: 2000
	TagRetention   time.Duration `yaml:"tagRetention,omitempty"`   // default: 24h
	AlarmRetention time.Duration `yaml:"alarmRetention,omitempty"` // default: 168h
}

// GetSQLitePath возвращает путь к базе с default
func (h *HistoryConfig) GetSQLitePath() string {
	if h == nil || h.SQLitePath == "" {
		return "./history.db"
	}
	return h.SQLitePath
}

// GetTagRetention возвращает срок хранения значений с default
func (h *HistoryConfig) GetTagRetention() time.Duration {
	if h == nil || h.TagRetention <= 0 {
		return 24 * time.Hour
	}
	return h.TagRetention
}

// GetAlarmRetention возвращает срок хранения аварий с default
func (h *HistoryConfig) GetAlarmRetention() time.Duration {
	if h == nil || h.AlarmRetention <= 0 {
		return 7 * 24 * time.Hour
	}
	return h.AlarmRetention
}

type Config struct {
	// Подключение к источнику данных
	Adapter *AdapterConfig

	// Локальный архив
	History *HistoryConfig

	// Удалённый историан (pi/wonderware), пусто = только локальный архив
	Historian *historian.RemoteConfig

	Addr        string // адрес для прослушивания (формат: :port или host:port)
	CatalogFile string // путь к YAML каталогу тегов
	LogFormat   string
	LogLevel    string
	ConfigFile  string // путь к YAML конфигу
}

func Parse() *Config {
	cfg := &Config{}

	var adapterStr string
	flag.StringVar(&adapterStr, "adapter", "", "Adapter type: simulation, rest, mqtt or websocket")

	var adapterURL string
	flag.StringVar(&adapterURL, "adapter-url", "", "REST/WebSocket adapter base URL")

	var broker string
	flag.StringVar(&broker, "mqtt-broker", "", "MQTT broker URL (e.g. tcp://localhost:1883)")

	flag.StringVar(&cfg.Addr, "addr", ":8181", "Listen address (e.g. :8181 or 127.0.0.1:8181)")
	flag.StringVar(&cfg.CatalogFile, "catalog", "", "YAML tag catalog file")
	flag.StringVar(&cfg.LogFormat, "log-format", "text", "Log format: text or json")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&cfg.ConfigFile, "config", "", "YAML configuration file")

	var sqlitePath string
	flag.StringVar(&sqlitePath, "sqlite-path", "", "SQLite database path for local history")

	var tagRetention time.Duration
	flag.DurationVar(&tagRetention, "history-ttl", 0, "Local tag history retention time")

	flag.Parse()

	// Загрузка конфига из YAML (если указан)
	if cfg.ConfigFile != "" {
		yamlConfig, err := LoadFromYAML(cfg.ConfigFile)
		if err != nil {
			slog.Error("Failed to load config file", "path", cfg.ConfigFile, "error", err)
		} else {
			cfg.Adapter = yamlConfig.Adapter
			cfg.History = yamlConfig.History
			cfg.Historian = yamlConfig.Historian
			if yamlConfig.CatalogFile != "" && cfg.CatalogFile == "" {
				cfg.CatalogFile = yamlConfig.CatalogFile
			}
			if yamlConfig.Addr != "" {
				cfg.Addr = yamlConfig.Addr
			}
		}
	}

	// CLI флаги имеют приоритет над YAML
	if adapterStr != "" || adapterURL != "" || broker != "" {
		if cfg.Adapter == nil {
			cfg.Adapter = &AdapterConfig{}
		}
		if adapterStr != "" {
			cfg.Adapter.Type = AdapterType(adapterStr)
		}
		if adapterURL != "" {
			cfg.Adapter.URL = adapterURL
		}
		if broker != "" {
			cfg.Adapter.Broker = broker
		}
	}
	if sqlitePath != "" || tagRetention > 0 {
		if cfg.History == nil {
			cfg.History = &HistoryConfig{}
		}
		if sqlitePath != "" {
			cfg.History.SQLitePath = sqlitePath
		}
		if tagRetention > 0 {
			cfg.History.TagRetention = tagRetention
		}
	}

	switch cfg.Adapter.GetType() {
	case AdapterSimulation, AdapterREST, AdapterMQTT, AdapterWebSocket:
	default:
		slog.Warn("Unknown adapter type, falling back to simulation", "type", cfg.Adapter.Type)
		cfg.Adapter.Type = AdapterSimulation
	}

	return cfg
}

// ParseLogLevel converts string log level to slog.Level
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
