package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/gematik/zero-pop/pkg/nonce"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	BaseDir      string      `yaml:"-"`
	Address      string      `yaml:"address" validate:"required,hostname_port"`
	MaxTokenSize int         `yaml:"max_token_size" validate:"gte=0"`
	Nonce        NonceConfig `yaml:"nonce"`
}

type NonceConfig struct {
	Backend nonce.Backend `yaml:"backend" validate:"omitempty,oneof=memory hashicorp valkey"`
	Expiry  time.Duration `yaml:"expiry" validate:"gte=0"`
	Valkey  ValkeyConfig  `yaml:"valkey"`
}

type ValkeyConfig struct {
	Address string `yaml:"address" validate:"omitempty,hostname_port"`
}

func Default() *Config {
	return &Config{
		Address:      ":8080",
		MaxTokenSize: 8 * 1024,
		Nonce: NonceConfig{
			Backend: nonce.BackendMemory,
		},
	}
}

// LoadConfigFile reads a YAML file on top of Default. Environment variables
// in the file are expanded.
func LoadConfigFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	expanded := os.ExpandEnv(string(content))

	cfg := Default()
	cfg.BaseDir = filepath.Dir(path)

	err = yaml.Unmarshal([]byte(expanded), cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("yaml")
	})

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if c.Nonce.Backend == nonce.BackendValkey && c.Nonce.Valkey.Address == "" {
		return errors.New("validate config: nonce.valkey.address is required for the valkey backend")
	}
	return nil
}

func (c *Config) NonceOptions() nonce.Options {
	return nonce.Options{
		Backend:       c.Nonce.Backend,
		Expiry:        c.Nonce.Expiry,
		ValkeyAddress: c.Nonce.Valkey.Address,
	}
}

// Expand ~ to $HOME
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		path = strings.Replace(path, "~", home, 1)
	}
	return path
}
