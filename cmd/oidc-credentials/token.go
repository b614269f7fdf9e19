// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hashicorp/oidc-credentials/oidc"
	"github.com/spf13/cobra"
)

func newTokenCmd(root *rootFlags) *cobra.Command {
	var (
		ownerID string
		reveal  bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a valid access token for an owner",
		Long: `Print a valid access token for an owner, refreshing it first when it is
expired or about to expire. The token is redacted unless --reveal is set.
Only meaningful with a persistent store such as redis.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if err := cfg.validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runToken(cmd.Context(), cfg, ownerID, reveal, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&ownerID, "owner", "", "owner id the credentials are stored under")
	cmd.Flags().BoolVar(&reveal, "reveal", false, "print the access token instead of redacting it")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

// tokenOutput is printed by the token command.
type tokenOutput struct {
	OwnerID   string     `json:"owner_id"`
	State     string     `json:"state"`
	Token     string     `json:"access_token"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func runToken(ctx context.Context, cfg config, ownerID string, reveal bool, out io.Writer) error {
	logger := newLogger(cfg, os.Stderr)
	s, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("unable to open credential store: %w", err)
	}
	defer s.Close()

	m, err := newManager(cfg, s, logger)
	if err != nil {
		return fmt.Errorf("unable to create manager: %w", err)
	}
	defer m.Done()

	res, err := m.Token(ctx, ownerID)
	if err != nil {
		return err
	}
	return writeToken(out, ownerID, res, reveal)
}

func writeToken(out io.Writer, ownerID string, res *oidc.GuardResult, reveal bool) error {
	o := tokenOutput{
		OwnerID: ownerID,
		State:   res.State.String(),
		Token:   res.AccessToken.String(),
	}
	if reveal {
		o.Token = string(res.AccessToken)
	}
	if res.ExpiresAt != 0 {
		t := time.Unix(res.ExpiresAt, 0).UTC()
		o.ExpiresAt = &t
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(o)
}
