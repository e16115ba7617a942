package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// tree is the JSON object view of a config, keyed by the json tags.
type tree = map[string]any

func toTree(cfg *Config) (tree, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var t tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return t, nil
}

// parentOf walks every segment but the last and returns the object holding it.
func parentOf(t tree, path string) (tree, string, error) {
	if path == "" {
		return nil, "", fmt.Errorf("empty path")
	}
	parts := strings.Split(path, ".")
	node := t
	for i, key := range parts[:len(parts)-1] {
		child, ok := node[key].(tree)
		if !ok {
			return nil, "", fmt.Errorf("unknown config section %q", strings.Join(parts[:i+1], "."))
		}
		node = child
	}
	return node, parts[len(parts)-1], nil
}

// GetByPath retrieves a config value by dot-notation path (e.g. "session.clientId").
func GetByPath(cfg *Config, path string) (any, error) {
	t, err := toTree(cfg)
	if err != nil {
		return nil, err
	}
	parent, key, err := parentOf(t, path)
	if err != nil {
		return nil, err
	}
	val, ok := parent[key]
	if !ok {
		return nil, fmt.Errorf("key not found: %s", path)
	}
	return val, nil
}

// SetByPath parses raw according to the current type of the field at path
// and stores it. Lists take comma-separated values. Keys the config does not
// know are rejected.
func SetByPath(cfg *Config, path, raw string) error {
	t, err := toTree(cfg)
	if err != nil {
		return err
	}
	parent, key, err := parentOf(t, path)
	if err != nil {
		return err
	}

	val, err := coerce(parent[key], raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	parent[key] = val

	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var updated Config
	if err := dec.Decode(&updated); err != nil {
		return fmt.Errorf("unknown config key %q", path)
	}
	*cfg = updated
	return nil
}

// coerce converts raw to the JSON kind of current. A missing field (omitted
// because empty) is treated as a string.
func coerce(current any, raw string) (any, error) {
	switch current.(type) {
	case bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("expected true or false, got %q", raw)
		}
		return b, nil
	case float64:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("expected a number, got %q", raw)
		}
		return f, nil
	case []any:
		var items []string
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
		return items, nil
	case tree:
		return nil, fmt.Errorf("is a section, set one of its keys instead")
	default:
		return raw, nil
	}
}

// Sanitize returns a copy of the config with secrets masked.
func Sanitize(cfg *Config) *Config {
	clean := *cfg
	clean.HTTP.CORSOrigins = slices.Clone(cfg.HTTP.CORSOrigins)
	clean.Notify.Telegram.ChatIDs = slices.Clone(cfg.Notify.Telegram.ChatIDs)
	if tok := clean.Notify.Telegram.Token; tok != "" {
		clean.Notify.Telegram.Token = maskSecret(tok)
	}
	return &clean
}

// maskSecret keeps the first and last four characters of long secrets.
func maskSecret(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// PathValue is one settable leaf of the config.
type PathValue struct {
	Path  string
	Value any
}

// ListPaths returns every leaf of the config with its value, sorted by path.
func ListPaths(cfg *Config) []PathValue {
	t, err := toTree(cfg)
	if err != nil {
		return nil
	}
	var out []PathValue
	var walk func(prefix string, node tree)
	walk = func(prefix string, node tree) {
		for k, v := range node {
			p := k
			if prefix != "" {
				p = prefix + "." + k
			}
			if child, ok := v.(tree); ok {
				walk(p, child)
				continue
			}
			out = append(out, PathValue{Path: p, Value: v})
		}
	}
	walk("", t)
	slices.SortFunc(out, func(a, b PathValue) int { return strings.Compare(a.Path, b.Path) })
	return out
}
