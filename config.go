package multiplexer

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// EnvPrefix is the prefix of environment variables overriding config keys
// The key "storage:path" is overridden by MULTIPLEXER_STORAGE_PATH
const EnvPrefix = "MULTIPLEXER_"

// A Config is a parsed YAML configuration file
type Config struct {
	m map[interface{}]interface{}
}

// LoadConfig loads the configuration file at path
// A missing file results in an empty configuration
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Config{m: make(map[interface{}]interface{})}, nil
		}
		return nil, err
	}

	return ParseConfig(data)
}

// ParseConfig parses a YAML configuration
func ParseConfig(data []byte) (*Config, error) {
	m := make(map[interface{}]interface{})
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}

	return &Config{m: m}, nil
}

// LoadEnv loads environment variables from a .env file if there is one
func LoadEnv() error {
	err := godotenv.Load()
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return err
}

func envKey(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ":", "_"))
}

// Key returns a key in the configuration
// Nested keys are separated by colons
func (c *Config) Key(key string) interface{} {
	if v, ok := os.LookupEnv(envKey(key)); ok {
		return v
	}

	keys := strings.Split(key, ":")
	m := c.m
	for i := 0; i < len(keys)-1; i++ {
		sub, ok := m[keys[i]].(map[interface{}]interface{})
		if !ok {
			return nil
		}
		m = sub
	}

	return m[keys[len(keys)-1]]
}

// String returns a string key or def
func (c *Config) String(key, def string) string {
	switch v := c.Key(key).(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	}

	return def
}

// Int returns an integer key or def
func (c *Config) Int(key string, def int) int {
	switch v := c.Key(key).(type) {
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}

	return def
}

// Bool returns a boolean key or def
func (c *Config) Bool(key string, def bool) bool {
	switch v := c.Key(key).(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}

	return def
}

// Duration returns a duration key or def
// Numbers are interpreted as seconds, strings as Go durations
func (c *Config) Duration(key string, def time.Duration) time.Duration {
	switch v := c.Key(key).(type) {
	case int:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(f * float64(time.Second))
		}
	}

	return def
}
