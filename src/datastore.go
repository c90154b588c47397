package pcopy

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
)

const journalPrefix = "copied-"

// JournalRecord describes one file as it was written to the destination.
type JournalRecord struct {
	Size     int64  `json:"size"`
	Checksum uint64 `json:"checksum"`
	ModTime  int64  `json:"mod_time"`
}

// Journal is a badger database of copied files keyed by destination-relative
// path. It is safe for concurrent use.
type Journal struct {
	db *badger.DB
}

func OpenJournal(path string) (*Journal, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return &Journal{db: db}, nil
}

// Reset drops every record left by an earlier run.
func (j *Journal) Reset() error {
	return j.db.DropPrefix([]byte(journalPrefix))
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func journalKey(rel string) []byte {
	return []byte(journalPrefix + filepath.ToSlash(rel))
}

func (j *Journal) Record(rel string, rec JournalRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(journalKey(rel), value)
	})
}

// get returns the record for rel, or badger.ErrKeyNotFound.
func (j *Journal) get(rel string) (JournalRecord, error) {
	var rec JournalRecord
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(journalKey(rel))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	return rec, err
}

// Each calls fn for every record in key order. The slash-separated relative
// path is passed to fn.
func (j *Journal) Each(fn func(rel string, rec JournalRecord) error) error {
	return j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 10
		it := txn.NewIterator(opts)
		defer it.Close()
		prefixKey := []byte(journalPrefix)
		for it.Seek(prefixKey); it.ValidForPrefix(prefixKey); it.Next() {
			item := it.Item()
			rel := string(item.Key()[len(journalPrefix):])
			var rec JournalRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode journal record %s: %w", rel, err)
			}
			if err := fn(rel, rec); err != nil {
				return err
			}
		}
		return nil
	})
}
