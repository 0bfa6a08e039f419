// Package config loads YAML configuration files. ${VAR} references are
// expanded from the environment before parsing and unknown keys are rejected.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Validator is implemented by configurations that check themselves once loaded.
type Validator interface {
	Validate() error
}

// Load decodes filename over the preset values of target and validates the result.
func Load[T any](filename string, target *T) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", filename, err)
	}
	return decode(filename, data, target)
}

// LoadWithDefaults loads filename, or defaultFile when filename is empty.
// A missing defaultFile leaves target at its preset values, which are still
// validated; a missing filename is an error.
func LoadWithDefaults[T any](filename, defaultFile string, target *T) error {
	if filename != "" {
		return Load(filename, target)
	}
	if defaultFile == "" {
		return validate(target)
	}
	data, err := os.ReadFile(defaultFile)
	if errors.Is(err, fs.ErrNotExist) {
		return validate(target)
	}
	if err != nil {
		return fmt.Errorf("config: read %s: %w", defaultFile, err)
	}
	return decode(defaultFile, data, target)
}

func decode[T any](filename string, data []byte, target *T) error {
	expanded := os.ExpandEnv(string(data))

	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parse %s: %w", filename, err)
	}
	return validate(target)
}

func validate[T any](target *T) error {
	if v, ok := any(target).(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("config: invalid: %w", err)
		}
	}
	return nil
}
