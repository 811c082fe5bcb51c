// Package commands implements the file-backed config subcommands of
// the tty-web CLI.
//
// Values are addressed by dot-notation paths so nested keys stay
// reachable, and are parsed as JSON with a fallback to plain strings.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Alviner/tty-web/internal/config"
)

// ConfigGet reads one value from the config file and returns it as
// indented JSON.
func ConfigGet(keyPath string) (string, error) {
	root, err := loadConfigFile()
	if err != nil {
		return "", err
	}

	value := any(root)
	for _, key := range splitPath(keyPath) {
		obj, ok := value.(map[string]any)
		if !ok {
			return "", fmt.Errorf("key %q not found in path %q", key, keyPath)
		}
		if value, ok = obj[key]; !ok {
			return "", fmt.Errorf("key %q not found in path %q", key, keyPath)
		}
	}

	out, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", fmt.Errorf("could not serialize value: %w", err)
	}
	return string(out), nil
}

// ConfigSet writes one value into the config file, creating it and any
// intermediate objects as needed. value is parsed as JSON first, so
// numbers, booleans, and arrays round-trip; anything unparseable is
// stored as a string.
func ConfigSet(keyPath, value string) error {
	root, err := loadConfigFile()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		root = make(map[string]any)
	}

	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}

	keys := splitPath(keyPath)
	if len(keys) == 0 {
		return fmt.Errorf("empty key path")
	}

	current := root
	for _, key := range keys[:len(keys)-1] {
		next, ok := current[key]
		if !ok {
			child := make(map[string]any)
			current[key] = child
			current = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("key %q is not an object", key)
		}
		current = child
	}
	current[keys[len(keys)-1]] = parsed

	return saveConfigFile(root)
}

// ConfigUnset removes one key from the config file.
func ConfigUnset(keyPath string) error {
	root, err := loadConfigFile()
	if err != nil {
		return err
	}

	keys := splitPath(keyPath)
	if len(keys) == 0 {
		return fmt.Errorf("empty key path")
	}

	current := root
	for _, key := range keys[:len(keys)-1] {
		child, ok := current[key].(map[string]any)
		if !ok {
			return fmt.Errorf("key %q not found", key)
		}
		current = child
	}

	last := keys[len(keys)-1]
	if _, ok := current[last]; !ok {
		return fmt.Errorf("key %q not found", last)
	}
	delete(current, last)

	return saveConfigFile(root)
}

func loadConfigFile() (map[string]any, error) {
	path, err := config.ConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %w", err)
		}
		return nil, fmt.Errorf("could not read %s: %w", path, err)
	}

	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("could not parse %s: %w", path, err)
	}
	return root, nil
}

func saveConfigFile(root map[string]any) error {
	path, err := config.ConfigPath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// splitPath breaks a dot path into keys, dropping empty segments.
func splitPath(keyPath string) []string {
	var keys []string
	for _, k := range strings.Split(keyPath, ".") {
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
