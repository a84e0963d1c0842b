// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists fitted networks in an embedded BadgerDB.
//
// Each model lives under the key "network/<uuid>" as a JSON document holding
// its metadata and the encoded params.Network. Decoding validates the
// network again, so a corrupted record is reported instead of served.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/AleutianAI/bnlearn/services/bayes/params"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// KeyPrefix prefixes every model key.
const KeyPrefix = "network/"

var (
	// ErrNotFound indicates no model has the requested id.
	ErrNotFound = errors.New("model not found")

	// ErrInvalidID indicates an id that is not a UUID.
	ErrInvalidID = errors.New("invalid model id")

	// ErrClosed indicates use of a closed store.
	ErrClosed = errors.New("model store closed")
)

// Model is a stored network with its metadata.
type Model struct {
	ID        string          `json:"id"`
	Name      string          `json:"name,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Rows      int             `json:"rows"`
	Network   *params.Network `json:"network"`
}

// Summary is the metadata of a stored model.
type Summary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Rows      int       `json:"rows"`
}

// Store is a BadgerDB-backed model repository.
//
// Thread Safety: Safe for concurrent use. Concurrent loads of the same id
// share one read and decode.
type Store struct {
	db     *badger.DB
	gc     *gcRunner
	flight singleflight.Group
	logger *slog.Logger
	now    func() time.Time
}

// Open opens or creates a model store.
//
// Inputs:
//
//	cfg - Database configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*Store - The store. Call Close when done.
//	error - Non-nil if the database cannot be opened.
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger, now: time.Now}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = startGC(db, cfg.GCInterval, cfg.GCDiscardRatio, logger)
	}
	return s, nil
}

// Close stops garbage collection and closes the database.
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
		s.gc = nil
	}
	return s.db.Close()
}

// Save stores net under a fresh id and returns the stored model.
func (s *Store) Save(ctx context.Context, name string, rows int, net *params.Network) (*Model, error) {
	if net == nil {
		return nil, errors.New("nil network")
	}
	m := &Model{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: s.now().UTC(),
		Rows:      rows,
		Network:   net,
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode model: %w", err)
	}
	err = s.withTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(key(m.ID), data)
	})
	if err != nil {
		return nil, fmt.Errorf("save model %s: %w", m.ID, err)
	}
	s.logger.Debug("model saved", slog.String("id", m.ID), slog.Int("bytes", len(data)))
	return m, nil
}

// Load returns the model with the given id.
//
// Outputs:
//
//	*Model - The decoded model. Callers share it and MUST NOT modify it.
//	error - ErrInvalidID, ErrNotFound, or a read or decode failure.
func (s *Store) Load(ctx context.Context, id string) (*Model, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	v, err, shared := s.flight.Do(id, func() (interface{}, error) {
		var m Model
		err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
			item, err := txn.Get(key(id))
			if err != nil {
				return err
			}
			return item.Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			})
		})
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return nil, fmt.Errorf("load model %s: %w", id, err)
		}
		return &m, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("model load shared", slog.String("id", id))
	}
	return v.(*Model), nil
}

// Delete removes the model with the given id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return s.withTxn(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(key(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return err
		}
		return txn.Delete(key(id))
	})
}

// List returns the metadata of every stored model, newest first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	var out []Summary
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(KeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var sum Summary
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sum)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, sum)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) withTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if s.db.IsClosed() {
		return ErrClosed
	}
	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

func (s *Store) withReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if s.db.IsClosed() {
		return ErrClosed
	}
	txn := s.db.NewTransaction(false)
	defer txn.Discard()

	return fn(txn)
}

func key(id string) []byte {
	return []byte(KeyPrefix + id)
}
