// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidc-credentials/oidc"
)

// Memory is an in-memory oidc.CredentialStore. Records are copied on the way
// in and out so callers never share state with the store.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*oidc.CredentialRecord

	logger     hclog.Logger
	now        func() time.Time
	pendingTTL time.Duration

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

var _ oidc.CredentialStore = (*Memory)(nil)

// NewMemory creates an in-memory store. Unless the pending TTL is zero it
// starts a background goroutine removing expired pending authorizations;
// see Memory.Stop.
//
// Supported options: WithLogger, WithNow, WithPendingTTL,
// WithCleanupInterval
func NewMemory(opt ...oidc.Option) *Memory {
	opts := getOpts(opt...)
	m := &Memory{
		records:         map[string]*oidc.CredentialRecord{},
		logger:          opts.withLogger,
		now:             opts.withNowFunc,
		pendingTTL:      opts.withPendingTTL,
		cleanupInterval: opts.withCleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
	if m.pendingTTL > 0 && m.cleanupInterval > 0 {
		go m.cleanupLoop()
	}
	return m
}

// Get returns a copy of the owner's record.
func (m *Memory) Get(_ context.Context, ownerID string) (*oidc.CredentialRecord, error) {
	const op = "Memory.Get"
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[ownerID]
	if !ok {
		return nil, fmt.Errorf("%s: %s: %w", op, ownerID, oidc.ErrNotFound)
	}
	return r.Clone(), nil
}

// Put stores a copy of the record, replacing any record for the owner.
func (m *Memory) Put(_ context.Context, ownerID string, r *oidc.CredentialRecord) error {
	const op = "Memory.Put"
	switch {
	case ownerID == "":
		return fmt.Errorf("%s: owner id is empty: %w", op, oidc.ErrInvalidParameter)
	case r == nil:
		return fmt.Errorf("%s: record is nil: %w", op, oidc.ErrNilParameter)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[ownerID] = r.Clone()
	return nil
}

// Delete removes the owner's record. Deleting a missing record is not an
// error.
func (m *Memory) Delete(_ context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, ownerID)
	return nil
}

// Len returns the number of records in the store.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Stop stops the background cleanup goroutine. It is safe to call more than
// once.
func (m *Memory) Stop() {
	m.stopOnce.Do(func() { close(m.stopCleanup) })
}

func (m *Memory) cleanupLoop() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stopCleanup:
			return
		}
	}
}

// cleanup removes pending records initiated more than the pending TTL ago.
// Records which ever received tokens are kept.
func (m *Memory) cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.pendingTTL).Unix()
	count := 0
	for ownerID, r := range m.records {
		if r.IsPending() && r.RefreshToken == "" && r.InitiatedAt != 0 && r.InitiatedAt < cutoff {
			delete(m.records, ownerID)
			count++
		}
	}
	if count > 0 {
		m.logger.Debug("removed expired pending authorizations", "count", count)
	}
	return count
}
