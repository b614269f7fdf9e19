// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/oidc-credentials/oidc"
	"github.com/hashicorp/oidc-credentials/oidc/callback"
	"github.com/hashicorp/oidc-credentials/store"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	driverMemory = "memory"
	driverRedis  = "redis"
)

// Environment variables which override the config file. Secrets are best
// passed this way.
const (
	envRedisAddr     = "OIDC_CREDENTIALS_REDIS_ADDR"
	envRedisPassword = "OIDC_CREDENTIALS_REDIS_PASSWORD"
	envRedisDB       = "OIDC_CREDENTIALS_REDIS_DB"
	envProviderCA    = "OIDC_CREDENTIALS_PROVIDER_CA_FILE"
)

type config struct {
	Listen         string        `yaml:"listen"`
	BasePath       string        `yaml:"base_path"`
	LogLevel       string        `yaml:"log_level"`
	ProviderCAFile string        `yaml:"provider_ca_file"`
	PendingTTL     time.Duration `yaml:"pending_ttl"`
	DiscoveryTTL   time.Duration `yaml:"discovery_ttl"`
	CookieCheck    bool          `yaml:"cookie_check"`
	Store          storeConfig   `yaml:"store"`
}

type storeConfig struct {
	Driver string      `yaml:"driver"`
	Redis  redisConfig `yaml:"redis"`
}

type redisConfig struct {
	Addr      string `yaml:"addr"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

func defaultConfig() config {
	return config{
		Listen:     ":8080",
		BasePath:   callback.DefaultBasePath,
		LogLevel:   "info",
		PendingTTL: oidc.DefaultPendingTTL,
		Store: storeConfig{
			Driver: driverMemory,
			Redis: redisConfig{
				KeyPrefix: store.DefaultKeyPrefix,
			},
		},
	}
}

// loadConfig reads the yaml file at path over the defaults, then applies
// environment overrides. An empty path uses the defaults only.
func loadConfig(path string) (config, error) {
	const op = "loadConfig"
	cfg := defaultConfig()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return config{}, fmt.Errorf("%s: %w", op, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return config{}, fmt.Errorf("%s: unable to parse %s: %w", op, path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return config{}, fmt.Errorf("%s: %w", op, err)
	}
	return cfg, nil
}

func (c *config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(envRedisAddr); ok {
		c.Store.Redis.Addr = v
	}
	if v, ok := lookup(envRedisPassword); ok {
		c.Store.Redis.Password = v
	}
	if v, ok := lookup(envRedisDB); ok {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s is not a number: %w", envRedisDB, err)
		}
		c.Store.Redis.DB = db
	}
	if v, ok := lookup(envProviderCA); ok {
		c.ProviderCAFile = v
	}
	return nil
}

func (c config) validate() error {
	var result *multierror.Error
	if c.Listen == "" {
		result = multierror.Append(result, errors.New("listen address is empty"))
	}
	if c.BasePath == "" || c.BasePath[0] != '/' {
		result = multierror.Append(result, fmt.Errorf("base path %q must start with /", c.BasePath))
	}
	if hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		result = multierror.Append(result, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	if c.PendingTTL <= 0 {
		result = multierror.Append(result, errors.New("pending ttl must be greater than zero"))
	}
	switch c.Store.Driver {
	case driverMemory:
	case driverRedis:
		if c.Store.Redis.Addr == "" {
			result = multierror.Append(result, errors.New("redis store requires an address"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	return result.ErrorOrNil()
}

// providerCA returns the pem contents of the configured CA file.
func (c config) providerCA() (string, error) {
	if c.ProviderCAFile == "" {
		return "", nil
	}
	b, err := os.ReadFile(c.ProviderCAFile)
	if err != nil {
		return "", fmt.Errorf("unable to read provider CA: %w", err)
	}
	return string(b), nil
}
