// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package store persists the coordinator's operation journal and
// processed-message set over a key-value database. Records are
// append-only: transitions overwrite the value under the operation id,
// entries are never deleted.
package store

import (
	"github.com/luxfi/database"
	"github.com/luxfi/ids"
)

var (
	opPrefix        = []byte("op:")
	processedPrefix = []byte("msg:")
)

// Journal is the durable audit trail behind the coordinator.
type Journal struct {
	db database.Database
}

// New wraps db in a journal.
func New(db database.Database) *Journal {
	return &Journal{db: db}
}

// PutOperation writes the encoded operation record under its id,
// replacing any earlier revision.
func (j *Journal) PutOperation(id ids.ID, record []byte) error {
	return j.db.Put(opKey(id), record)
}

// GetOperation reads the latest revision of an operation record.
func (j *Journal) GetOperation(id ids.ID) ([]byte, error) {
	return j.db.Get(opKey(id))
}

// Operations streams every stored operation record.
func (j *Journal) Operations() ([][]byte, error) {
	iter := j.db.NewIteratorWithPrefix(opPrefix)
	defer iter.Release()

	var records [][]byte
	for iter.Next() {
		records = append(records, append([]byte(nil), iter.Value()...))
	}
	return records, iter.Error()
}

// MarkProcessed records an applied inbound message id.
func (j *Journal) MarkProcessed(id ids.ID) error {
	return j.db.Put(processedKey(id), nil)
}

// WasProcessed reports whether the message id was already applied.
func (j *Journal) WasProcessed(id ids.ID) (bool, error) {
	return j.db.Has(processedKey(id))
}

// ProcessedIDs lists every applied message id.
func (j *Journal) ProcessedIDs() ([]ids.ID, error) {
	iter := j.db.NewIteratorWithPrefix(processedPrefix)
	defer iter.Release()

	var out []ids.ID
	for iter.Next() {
		key := iter.Key()
		if len(key) != len(processedPrefix)+ids.IDLen {
			continue
		}
		var id ids.ID
		copy(id[:], key[len(processedPrefix):])
		out = append(out, id)
	}
	return out, iter.Error()
}

func opKey(id ids.ID) []byte {
	return append(append([]byte(nil), opPrefix...), id[:]...)
}

func processedKey(id ids.ID) []byte {
	return append(append([]byte(nil), processedPrefix...), id[:]...)
}
