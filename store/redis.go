// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidc-credentials/oidc"
	"github.com/redis/go-redis/v9"
)

// Default timeouts for redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// RedisConfig holds the redis connection configuration.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Redis is an oidc.CredentialStore backed by redis. Each owner's record is
// one JSON value; pending authorizations are written with the pending TTL
// so redis removes the ones never completed.
type Redis struct {
	client     redis.UniversalClient
	keyPrefix  string
	pendingTTL time.Duration
	logger     hclog.Logger
}

var _ oidc.CredentialStore = (*Redis)(nil)

// storedRecord is the persisted form of an oidc.CredentialRecord. The secret
// types redact themselves when marshaled, so they are stored as plain
// strings here.
type storedRecord struct {
	DiscoveryURL string `json:"discovery_url"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURI  string `json:"redirect_uri"`
	CSRFToken    string `json:"csrf_token"`
	IdToken      string `json:"id_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	AccessToken  string `json:"access_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	DisplayName  string `json:"display_name,omitempty"`
	InitiatedAt  int64  `json:"initiated_at,omitempty"`
	CompletedAt  int64  `json:"completed_at,omitempty"`
}

func toStored(r *oidc.CredentialRecord) storedRecord {
	return storedRecord{
		DiscoveryURL: r.DiscoveryURL,
		ClientID:     r.ClientID,
		ClientSecret: string(r.ClientSecret),
		RedirectURI:  r.RedirectURI,
		CSRFToken:    r.CSRFToken,
		IdToken:      string(r.IdToken),
		RefreshToken: string(r.RefreshToken),
		AccessToken:  string(r.AccessToken),
		ExpiresAt:    r.ExpiresAt,
		DisplayName:  r.DisplayName,
		InitiatedAt:  r.InitiatedAt,
		CompletedAt:  r.CompletedAt,
	}
}

func (s storedRecord) record() *oidc.CredentialRecord {
	return &oidc.CredentialRecord{
		DiscoveryURL: s.DiscoveryURL,
		ClientID:     s.ClientID,
		ClientSecret: oidc.ClientSecret(s.ClientSecret),
		RedirectURI:  s.RedirectURI,
		CSRFToken:    s.CSRFToken,
		IdToken:      oidc.IdToken(s.IdToken),
		RefreshToken: oidc.RefreshToken(s.RefreshToken),
		AccessToken:  oidc.AccessToken(s.AccessToken),
		ExpiresAt:    s.ExpiresAt,
		DisplayName:  s.DisplayName,
		InitiatedAt:  s.InitiatedAt,
		CompletedAt:  s.CompletedAt,
	}
}

// NewRedis connects to redis and verifies the connection.
//
// Supported options: WithLogger, WithPendingTTL, WithKeyPrefix
func NewRedis(ctx context.Context, cfg RedisConfig, opt ...oidc.Option) (*Redis, error) {
	const op = "NewRedis"
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%s: redis address is empty: %w", op, oidc.ErrInvalidParameter)
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%s: unable to connect to redis: %w", op, err)
	}
	return NewRedisWithClient(client, opt...), nil
}

// NewRedisWithClient creates a Redis store with a pre-configured client.
//
// Supported options: WithLogger, WithPendingTTL, WithKeyPrefix
func NewRedisWithClient(client redis.UniversalClient, opt ...oidc.Option) *Redis {
	opts := getOpts(opt...)
	return &Redis{
		client:     client,
		keyPrefix:  opts.withKeyPrefix,
		pendingTTL: opts.withPendingTTL,
		logger:     opts.withLogger,
	}
}

func (s *Redis) key(ownerID string) string { return s.keyPrefix + ownerID }

// Get returns the owner's record.
func (s *Redis) Get(ctx context.Context, ownerID string) (*oidc.CredentialRecord, error) {
	const op = "Redis.Get"
	b, err := s.client.Get(ctx, s.key(ownerID)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("%s: %s: %w", op, ownerID, oidc.ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var stored storedRecord
	if err := json.Unmarshal(b, &stored); err != nil {
		return nil, fmt.Errorf("%s: unable to decode record for %s: %w", op, ownerID, err)
	}
	return stored.record(), nil
}

// Put writes the record. A pending record expires after the pending TTL;
// any other record is kept until deleted.
func (s *Redis) Put(ctx context.Context, ownerID string, r *oidc.CredentialRecord) error {
	const op = "Redis.Put"
	switch {
	case ownerID == "":
		return fmt.Errorf("%s: owner id is empty: %w", op, oidc.ErrInvalidParameter)
	case r == nil:
		return fmt.Errorf("%s: record is nil: %w", op, oidc.ErrNilParameter)
	}
	b, err := json.Marshal(toStored(r))
	if err != nil {
		return fmt.Errorf("%s: unable to encode record: %w", op, err)
	}
	var ttl time.Duration
	if r.IsPending() && r.RefreshToken == "" {
		ttl = s.pendingTTL
	}
	if err := s.client.Set(ctx, s.key(ownerID), b, ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.logger.Trace("stored credential record", "owner_id", ownerID, "ttl", ttl)
	return nil
}

// Delete removes the owner's record.
func (s *Redis) Delete(ctx context.Context, ownerID string) error {
	const op = "Redis.Delete"
	if err := s.client.Del(ctx, s.key(ownerID)).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Close closes the redis client.
func (s *Redis) Close() error {
	return s.client.Close()
}
