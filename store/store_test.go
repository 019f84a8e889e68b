// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"bytes"
	"testing"

	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
)

func testID(b byte) ids.ID {
	var id ids.ID
	id[0] = b
	return id
}

func TestJournal_OperationRoundTrip(t *testing.T) {
	j := New(memdb.New())
	id := testID(1)
	record := []byte("record-v1")

	if err := j.PutOperation(id, record); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	got, err := j.GetOperation(id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !bytes.Equal(got, record) {
		t.Fatalf("got %q, want %q", got, record)
	}

	// Revisions overwrite in place.
	if err := j.PutOperation(id, []byte("record-v2")); err != nil {
		t.Fatalf("put revision failed: %v", err)
	}
	got, err = j.GetOperation(id)
	if err != nil {
		t.Fatalf("get revision failed: %v", err)
	}
	if !bytes.Equal(got, []byte("record-v2")) {
		t.Fatalf("got %q after overwrite", got)
	}
}

func TestJournal_GetMissing(t *testing.T) {
	j := New(memdb.New())
	if _, err := j.GetOperation(testID(9)); err != database.ErrNotFound {
		t.Fatalf("expected database.ErrNotFound, got %v", err)
	}
}

func TestJournal_OperationsEnumeratesAll(t *testing.T) {
	j := New(memdb.New())
	for b := byte(1); b <= 3; b++ {
		if err := j.PutOperation(testID(b), []byte{b}); err != nil {
			t.Fatalf("put %d failed: %v", b, err)
		}
	}
	// Processed entries must not leak into the operation scan.
	if err := j.MarkProcessed(testID(50)); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	records, err := j.Operations()
	if err != nil {
		t.Fatalf("operations failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
}

func TestJournal_ProcessedSet(t *testing.T) {
	j := New(memdb.New())
	id := testID(7)

	ok, err := j.WasProcessed(id)
	if err != nil {
		t.Fatalf("has failed: %v", err)
	}
	if ok {
		t.Fatal("unmarked id reported processed")
	}

	if err := j.MarkProcessed(id); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	ok, err = j.WasProcessed(id)
	if err != nil {
		t.Fatalf("has failed: %v", err)
	}
	if !ok {
		t.Fatal("marked id not reported processed")
	}

	listed, err := j.ProcessedIDs()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(listed) != 1 || listed[0] != id {
		t.Fatalf("unexpected processed set: %v", listed)
	}
}
