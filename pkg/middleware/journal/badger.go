// Package journal provides BadgerJournal, a durable implementation of
// pipelinekit.JournalStorage backed by an embedded BadgerDB instance so
// a journaling middleware can checkpoint command execution across
// process restarts.
package journal

import (
	"bytes"
	"encoding/gob"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/pipelinekit/pipelinekit"
)

// BadgerJournal implements pipelinekit.JournalStorage over an embedded
// BadgerDB. Entries are stored gob-encoded under their ID; ReadIncomplete
// scans the whole keyspace decoding each entry and filtering on status,
// which is acceptable for a journal sized to in-flight commands rather
// than a general-purpose index.
//
// Grounded on the teacher's examples/memory/badger.Store (badger.Open,
// View/Update transaction shape, key iteration), swapped from a
// conversation-memory store to a journal of command-execution entries.
type BadgerJournal struct {
	db *badger.DB
}

// NewBadgerJournal opens (creating if absent) a BadgerDB at path.
func NewBadgerJournal(path string) (*BadgerJournal, error) {
	db, err := badger.Open(badger.DefaultOptions(path))
	if err != nil {
		return nil, pipelinekit.WrapError(pipelinekit.KindInternal, err, "failed to open journal store", nil)
	}
	return &BadgerJournal{db: db}, nil
}

// Close releases the underlying BadgerDB.
func (j *BadgerJournal) Close() error {
	return j.db.Close()
}

// Write implements pipelinekit.JournalStorage.
func (j *BadgerJournal) Write(entry pipelinekit.JournalEntry) error {
	encoded, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(entry.ID), encoded)
	})
}

// Update overwrites an existing entry; semantically identical to Write
// since Badger keys are simply last-write-wins.
func (j *BadgerJournal) Update(entry pipelinekit.JournalEntry) error {
	return j.Write(entry)
}

// ReadIncomplete returns every entry whose Status is JournalPending, for
// resuming work interrupted by a process restart.
func (j *BadgerJournal) ReadIncomplete() ([]pipelinekit.JournalEntry, error) {
	var pending []pipelinekit.JournalEntry
	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var entry pipelinekit.JournalEntry
			if decodeErr := item.Value(func(val []byte) error {
				decoded, err := decodeEntry(val)
				if err != nil {
					return err
				}
				entry = decoded
				return nil
			}); decodeErr != nil {
				return decodeErr
			}
			if entry.Status == pipelinekit.JournalPending {
				pending = append(pending, entry)
			}
		}
		return nil
	})
	if err != nil {
		return nil, pipelinekit.WrapError(pipelinekit.KindInternal, err, "failed to read incomplete journal entries", nil)
	}
	return pending, nil
}

// DeleteCompleted removes every JournalCompleted entry whose UpdatedAt
// is strictly before the given time.
func (j *BadgerJournal) DeleteCompleted(before time.Time) error {
	var toDelete [][]byte
	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := append([]byte(nil), item.Key()...)
			if decodeErr := item.Value(func(val []byte) error {
				entry, err := decodeEntry(val)
				if err != nil {
					return err
				}
				if entry.Status == pipelinekit.JournalCompleted && entry.UpdatedAt.Before(before) {
					toDelete = append(toDelete, key)
				}
				return nil
			}); decodeErr != nil {
				return decodeErr
			}
		}
		return nil
	})
	if err != nil {
		return pipelinekit.WrapError(pipelinekit.KindInternal, err, "failed to scan journal entries for deletion", nil)
	}

	return j.db.Update(func(txn *badger.Txn) error {
		for _, key := range toDelete {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func encodeEntry(entry pipelinekit.JournalEntry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entry); err != nil {
		return nil, pipelinekit.WrapError(pipelinekit.KindInternal, err, "failed to encode journal entry", nil)
	}
	return buf.Bytes(), nil
}

func decodeEntry(raw []byte) (pipelinekit.JournalEntry, error) {
	var entry pipelinekit.JournalEntry
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&entry); err != nil {
		return pipelinekit.JournalEntry{}, pipelinekit.WrapError(pipelinekit.KindInternal, err, "failed to decode journal entry", nil)
	}
	return entry, nil
}
