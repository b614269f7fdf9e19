// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidc-credentials/oidc"
	"github.com/hashicorp/oidc-credentials/store"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "oidc-credentials",
		Short: "Manage OpenID Connect credentials on behalf of owners",
		Long: `oidc-credentials runs the authorization code flow against an OpenID Connect
provider for each owner, stores the resulting tokens and keeps their access
tokens fresh.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a yaml config file")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")

	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newTokenCmd(flags))
	return cmd
}

// load reads the config and applies the root flag overrides.
func (f *rootFlags) load() (config, error) {
	cfg, err := loadConfig(f.configPath)
	if err != nil {
		return config{}, err
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	return cfg, nil
}

func newLogger(cfg config, out io.Writer) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "oidc-credentials",
		Level:  hclog.LevelFromString(cfg.LogLevel),
		Output: out,
	})
}

// credentialStore is a store which may hold resources to release.
type credentialStore interface {
	oidc.CredentialStore
	Close() error
}

type memoryStore struct{ *store.Memory }

func (s memoryStore) Close() error {
	s.Stop()
	return nil
}

func openStore(ctx context.Context, cfg config, logger hclog.Logger) (credentialStore, error) {
	opts := []oidc.Option{
		store.WithLogger(logger.Named("store")),
		store.WithPendingTTL(cfg.PendingTTL),
	}
	switch cfg.Store.Driver {
	case driverRedis:
		s, err := store.NewRedis(ctx, store.RedisConfig{
			Addr:     cfg.Store.Redis.Addr,
			Username: cfg.Store.Redis.Username,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		}, append(opts, store.WithKeyPrefix(cfg.Store.Redis.KeyPrefix))...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case driverMemory:
		return memoryStore{store.NewMemory(opts...)}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func newManager(cfg config, s oidc.CredentialStore, logger hclog.Logger) (*oidc.Manager, error) {
	ca, err := cfg.providerCA()
	if err != nil {
		return nil, err
	}
	return oidc.NewManager(s,
		oidc.WithLogger(logger.Named("oidc")),
		oidc.WithProviderCA(ca),
		oidc.WithPendingTTL(cfg.PendingTTL),
		oidc.WithDiscoveryTTL(cfg.DiscoveryTTL),
	)
}
