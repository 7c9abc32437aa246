package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is the config file as written, before defaults and environment
// overrides. The config get/set/unset commands edit it in place so that
// untouched keys and ${VAR} references survive a rewrite.
type Document map[string]any

// KeyPath addresses one value in a Document, written "tools.rag.k".
type KeyPath []string

// sections lists the top-level keys a config file may contain.
var sections = func() []string {
	t := reflect.TypeOf(Config{})
	keys := make([]string, 0, t.NumField())
	for i := range t.NumField() {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		keys = append(keys, name)
	}
	slices.Sort(keys)
	return keys
}()

// ParseKeyPath splits a dotted key. The first segment must name a config
// section; deeper segments are checked when the document is decoded.
func ParseKeyPath(raw string) (KeyPath, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty key"}
	}
	parts := strings.Split(raw, ".")
	if slices.Contains(parts, "") {
		return nil, &ConfigError{Key: raw, Message: "empty segment"}
	}
	if !slices.Contains(sections, parts[0]) {
		return nil, &ConfigError{
			Key:     raw,
			Message: fmt.Sprintf("unknown section %q (one of %s)", parts[0], strings.Join(sections, ", ")),
		}
	}
	return KeyPath(parts), nil
}

func (k KeyPath) String() string {
	return strings.Join(k, ".")
}

// LoadDocument reads path. A missing or empty file is an empty document.
func LoadDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Document{}, nil
	}
	if err != nil {
		return nil, err
	}

	// Decoding into Document itself would make yaml.v3 build every nested
	// section as a Document too, which the walkers below do not descend into.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		return Document{}, nil
	}
	return Document(raw), nil
}

// Save writes the document to path through a temporary file, so a failed
// write never leaves a truncated config behind.
func (d Document) Save(path string) error {
	data, err := yaml.Marshal(map[string]any(d))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Lookup returns the value at key.
func (d Document) Lookup(key KeyPath) (any, bool) {
	var cur any = map[string]any(d)
	for _, seg := range key {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[seg]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set stores value at key, replacing any scalar that sits where a section
// is needed.
func (d Document) Set(key KeyPath, value any) {
	m := map[string]any(d)
	for _, seg := range key[:len(key)-1] {
		child, ok := m[seg].(map[string]any)
		if !ok {
			child = map[string]any{}
			m[seg] = child
		}
		m = child
	}
	m[key[len(key)-1]] = value
}

// Unset removes the value at key and any sections it leaves empty. It
// reports whether anything was removed.
func (d Document) Unset(key KeyPath) bool {
	return unset(map[string]any(d), key)
}

func unset(m map[string]any, key KeyPath) bool {
	if len(key) == 1 {
		if _, ok := m[key[0]]; !ok {
			return false
		}
		delete(m, key[0])
		return true
	}
	child, ok := m[key[0]].(map[string]any)
	if !ok || !unset(child, key[1:]) {
		return false
	}
	if len(child) == 0 {
		delete(m, key[0])
	}
	return true
}

// Decode converts the document into a Config with defaults applied. Keys
// that do not belong to the config schema are errors.
func (d Document) Decode() (Config, error) {
	data, err := yaml.Marshal(map[string]any(d))
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, &ConfigError{Message: err.Error()}
	}
	applyDefaults(&cfg)
	return cfg, nil
}

// ParseScalar types a command-line value the way YAML would: "true" is a
// bool, "8080" an int, "[a, b]" a list. Anything else stays a string.
func ParseScalar(s string) any {
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil || v == nil {
		return s
	}
	return v
}
