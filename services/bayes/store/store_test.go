// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/bnlearn/services/bayes/internal/bntest"
	"github.com/AleutianAI/bnlearn/services/bayes/params"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fitted(t *testing.T) *params.Network {
	t.Helper()
	net, err := params.Fit(context.Background(), bntest.DiamondGraph(), bntest.Diamond(400, 9), nil)
	require.NoError(t, err)
	return net
}

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestStore_SaveLoad verifies a saved network decodes to the same model.
func TestStore_SaveLoad(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	net := fitted(t)

	m, err := s.Save(ctx, "diamond", 400, net)
	require.NoError(t, err)
	_, err = uuid.Parse(m.ID)
	require.NoError(t, err)

	got, err := s.Load(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "diamond", got.Name)
	assert.Equal(t, 400, got.Rows)
	assert.True(t, net.Graph().Equal(got.Network.Graph()))
	x := []int{0, 1, 1, 0}
	assert.InDelta(t, net.Prob(x), got.Network.Prob(x), 1e-15)

	// raw key layout
	err = s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("network/" + m.ID))
		return err
	})
	assert.NoError(t, err)
}

func TestStore_ListAndDelete(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	net := fitted(t)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	first, err := s.Save(ctx, "first", 1, net)
	require.NoError(t, err)
	second, err := s.Save(ctx, "second", 2, net)
	require.NoError(t, err)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest first")
	assert.Equal(t, first.ID, list[1].ID)

	require.NoError(t, s.Delete(ctx, first.ID))
	_, err = s.Load(ctx, first.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, first.ID), ErrNotFound)

	list, err = s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStore_ConcurrentLoads(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	m, err := s.Save(ctx, "", 400, fitted(t))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.Load(ctx, m.ID)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestStore_Rejects(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	_, err := s.Load(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrInvalidID)
	_, err = s.Load(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Save(ctx, "", 0, nil)
	assert.Error(t, err)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Save(cctx, "x", 1, fitted(t))
	assert.ErrorIs(t, err, context.Canceled)

	_, err = Open(Config{})
	assert.Error(t, err, "persistent store needs a path")
}

// TestStore_Persistent verifies models survive a reopen.
func TestStore_Persistent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	m, err := s.Save(ctx, "kept", 400, fitted(t))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Load(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "kept", got.Name)
}
