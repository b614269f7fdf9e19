// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// testStore is an in-memory CredentialStore which counts calls and can be
// told to fail.
type testStore struct {
	mu      sync.Mutex
	records map[string]*CredentialRecord
	gets    int
	puts    int
	getErr  error
	putErr  error
	// onGet runs before each Get with the number of the call, starting at 1.
	onGet func(n int)
}

var _ CredentialStore = (*testStore)(nil)

func newTestStore() *testStore {
	return &testStore{records: map[string]*CredentialRecord{}}
}

func (s *testStore) Get(_ context.Context, ownerID string) (*CredentialRecord, error) {
	s.mu.Lock()
	s.gets++
	n, onGet := s.gets, s.onGet
	s.mu.Unlock()
	if onGet != nil {
		onGet(n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	r, ok := s.records[ownerID]
	if !ok {
		return nil, fmt.Errorf("testStore.Get: %s: %w", ownerID, ErrNotFound)
	}
	return r.Clone(), nil
}

func (s *testStore) Put(_ context.Context, ownerID string, r *CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.putErr != nil {
		return s.putErr
	}
	s.records[ownerID] = r.Clone()
	return nil
}

func (s *testStore) Delete(_ context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, ownerID)
	return nil
}

func (s *testStore) record(ownerID string) *CredentialRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[ownerID].Clone()
}

func (s *testStore) set(ownerID string, r *CredentialRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[ownerID] = r.Clone()
}

func (s *testStore) counts() (gets, puts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets, s.puts
}

var errTestStore = errors.New("test store failure")
