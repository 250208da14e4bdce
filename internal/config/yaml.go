package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pv/scada-bridge/internal/historian"
)

// ConfigFile представляет структуру YAML файла конфигурации
type ConfigFile struct {
	Addr        string                  `yaml:"addr,omitempty"`
	CatalogFile string                  `yaml:"catalog,omitempty"`
	Adapter     *AdapterConfig          `yaml:"adapter,omitempty"`
	History     *HistoryConfig          `yaml:"history,omitempty"`
	Historian   *historian.RemoteConfig `yaml:"historian,omitempty"`
}

// LoadFromYAML загружает полную конфигурацию из YAML файла
func LoadFromYAML(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var configFile ConfigFile
	if err := yaml.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Валидация: сетевые адаптеры обязаны иметь адрес подключения
	if configFile.Adapter != nil {
		switch configFile.Adapter.Type {
		case AdapterREST, AdapterWebSocket:
			if configFile.Adapter.URL == "" {
				return nil, fmt.Errorf("adapter type %q requires a url", configFile.Adapter.Type)
			}
		case AdapterMQTT:
			if configFile.Adapter.Broker == "" {
				return nil, fmt.Errorf("adapter type %q requires a broker", configFile.Adapter.Type)
			}
		}
	}

	return &configFile, nil
}
