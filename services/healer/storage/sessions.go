// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/codeheal/services/healer/datatypes"
)

// ErrNotFound is returned when no session exists for an ID.
var ErrNotFound = errors.New("session not found")

const sessionKeyPrefix = "session:"

// storedSession is the on-disk record for one session.
type storedSession struct {
	CreatedAt int64                     `json:"created_at"`
	Response  datatypes.HealingResponse `json:"response"`
}

// BadgerStore stores completed healing sessions keyed by session ID.
//
// Thread Safety:
//
//	Safe for concurrent use; badger transactions serialize conflicting
//	writes.
type BadgerStore struct {
	db  *badger.DB
	gc  *gcRunner
	ttl time.Duration
	now func() time.Time
}

// Open opens (or creates) a session store.
//
// Inputs:
//
//	cfg - Store configuration. cfg.Path is required; InMemoryPath gives a
//	      throwaway in-memory store.
//
// Outputs:
//
//	*BadgerStore - The store. Caller must Close it.
//	error - Non-nil if the database could not be opened.
func Open(cfg Config) (*BadgerStore, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	store := &BadgerStore{db: db, ttl: cfg.TTL, now: time.Now}
	if cfg.GCInterval > 0 && !cfg.InMemory() {
		runner, err := newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		store.gc = runner
		runner.start()
	}
	return store, nil
}

// OpenInMemory opens an in-memory store, for tests and one-shot runs.
func OpenInMemory() (*BadgerStore, error) {
	return Open(Config{Path: InMemoryPath})
}

// Close stops background GC and closes the database.
func (s *BadgerStore) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

// Save stores resp under resp.SessionID, replacing any previous record.
func (s *BadgerStore) Save(ctx context.Context, resp *datatypes.HealingResponse) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if resp == nil || resp.SessionID == "" {
		return errors.New("session ID is required")
	}

	data, err := json.Marshal(storedSession{CreatedAt: s.now().UnixMilli(), Response: *resp})
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", resp.SessionID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(sessionKey(resp.SessionID), data)
		if s.ttl > 0 {
			entry = entry.WithTTL(s.ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("save session %s: %w", resp.SessionID, err)
	}
	return nil
}

// Get returns the stored response for id, or ErrNotFound.
func (s *BadgerStore) Get(ctx context.Context, id string) (*datatypes.HealingResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var record storedSession
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return &record.Response, nil
}

// List returns summaries of stored sessions, newest first. A limit <= 0
// returns all of them.
func (s *BadgerStore) List(ctx context.Context, limit int) ([]datatypes.SessionSummary, error) {
	summaries := make([]datatypes.SessionSummary, 0)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(sessionKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var record storedSession
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			summaries = append(summaries, datatypes.SessionSummary{
				SessionID:       record.Response.SessionID,
				FinalStatus:     record.Response.FinalStatus,
				TotalIterations: record.Response.TotalIterations,
				CreatedAt:       record.CreatedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt > summaries[j].CreatedAt
	})
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

func sessionKey(id string) []byte {
	return []byte(sessionKeyPrefix + id)
}
