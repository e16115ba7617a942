package responder

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default_menu.yaml
var defaultMenuYAML []byte

// DefaultMenuYAML returns the built-in menu source, e.g. to seed a custom file.
func DefaultMenuYAML() []byte {
	out := make([]byte, len(defaultMenuYAML))
	copy(out, defaultMenuYAML)
	return out
}

// LoadMenu parses the menu at path, or the built-in menu when path is empty.
func LoadMenu(path string) (*Menu, error) {
	data := defaultMenuYAML
	source := "built-in menu"
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read menu file: %w", err)
		}
		data, source = raw, path
	}
	return ParseMenu(data, source)
}

// ParseMenu decodes and compiles a YAML menu.
func ParseMenu(data []byte, source string) (*Menu, error) {
	var m Menu
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", source, err)
	}
	if m.Scripts == nil {
		m.Scripts = make(map[string]Script)
	}
	if err := m.compile(); err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	return &m, nil
}
