// Copyright 2024 Washington University in St. Louis
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package persist durably records each participant's own published
// sequence number, so a restarted process resumes from where it left
// off instead of rejoining at sequence zero and confusing peers whose
// tables only move forward.
package persist

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var seqBucket = []byte("seq")

// Store is a bbolt-backed sequence-number journal. Safe for use from
// any goroutine; bbolt serializes writers internally.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the journal file at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "persist: open")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(seqBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "persist: create bucket")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func key(dataPrefix string, sessionID uint32) []byte {
	return []byte(fmt.Sprintf("%s|%d", dataPrefix, sessionID))
}

// LoadSequenceNo returns the last saved sequence number for
// (dataPrefix, sessionID), reporting ok=false when none was ever
// saved.
func (s *Store) LoadSequenceNo(dataPrefix string, sessionID uint32) (seq uint32, ok bool) {
	_ = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(seqBucket).Get(key(dataPrefix, sessionID))
		if len(v) == 4 {
			seq = binary.BigEndian.Uint32(v)
			ok = true
		}
		return nil
	})
	return seq, ok
}

// SaveSequenceNo records seq for (dataPrefix, sessionID), overwriting
// any previous record.
func (s *Store) SaveSequenceNo(dataPrefix string, sessionID uint32, seq uint32) error {
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], seq)
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(seqBucket).Put(key(dataPrefix, sessionID), v[:])
	})
	return errors.Wrap(err, "persist: save")
}
