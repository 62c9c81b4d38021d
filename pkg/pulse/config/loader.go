package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FromFile loads a dispatcher or heartbeat configuration document from
// disk, choosing the parser by file extension (.yaml, .yml, or .json).
// The document must be a mapping at the top level; see FromConfig and
// HeartbeatFromConfig in the pulse package for the recognized keys.
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	parse, ok := parsers[ext]
	if !ok {
		return Config{}, fmt.Errorf("config %s: unsupported extension %q (want .yaml, .yml, or .json)", path, ext)
	}

	cfg, err := parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

var parsers = map[string]func([]byte) (Config, error){
	".yaml": FromYAML,
	".yml":  FromYAML,
	".json": FromJSON,
}

// FromYAML parses a YAML mapping into a Config.
func FromYAML(data []byte) (Config, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return New(m), nil
}

// FromJSON parses a JSON object into a Config.
func FromJSON(data []byte) (Config, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse json: %w", err)
	}
	return New(m), nil
}
