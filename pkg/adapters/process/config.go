package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// HandlerConfig binds a handler reference to an external command.
type HandlerConfig struct {
	Ref         string            `yaml:"ref" json:"ref"`
	Command     string            `yaml:"command" json:"command"`
	Args        []string          `yaml:"args" json:"args"`
	Environment map[string]string `yaml:"env" json:"env"`
	Timeout     time.Duration     `yaml:"timeout" json:"timeout"`
}

// ConfigFile represents the structure of handlers.yaml
type ConfigFile struct {
	Handlers []HandlerConfig `yaml:"handlers" json:"handlers"`
}

// LoadHandlers reads a configuration file (YAML or JSON) and returns the
// handlers keyed by reference. A missing file yields no handlers.
func LoadHandlers(path string) (map[string]HandlerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]HandlerConfig{}, nil
		}
		return nil, fmt.Errorf("failed to read handlers config: %w", err)
	}

	var cfg ConfigFile
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	handlers := make(map[string]HandlerConfig)
	for _, h := range cfg.Handlers {
		if h.Ref == "" {
			continue
		}
		if h.Command == "" {
			return nil, fmt.Errorf("handler %s has no command", h.Ref)
		}
		if _, dup := handlers[h.Ref]; dup {
			return nil, fmt.Errorf("handler %s is defined twice", h.Ref)
		}
		handlers[h.Ref] = h
	}
	return handlers, nil
}
