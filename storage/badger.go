package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/zonebnation/ebizimba-content/common"
	"github.com/zonebnation/ebizimba-content/interfaces"
)

// BadgerStorage implements interfaces.DurableStorage on an embedded Badger
// database. Paths are keys; directories are implicit. Entries written through
// WriteFileTTL expire natively.
type BadgerStorage struct {
	db  *badgerdb.DB
	log *slog.Logger
}

// NewBadgerStorage opens (or creates) a Badger database in dir. An empty dir
// opens an in-memory database.
func NewBadgerStorage(dir string, log *slog.Logger) (*BadgerStorage, error) {
	opts := badgerdb.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return &BadgerStorage{
		db:  db,
		log: common.OrDefault(log),
	}, nil
}

// Close closes the database.
func (s *BadgerStorage) Close() error {
	return s.db.Close()
}

func badgerKey(p string) ([]byte, error) {
	clean := strings.TrimPrefix(path.Clean("/"+p), "/")
	if clean == "" {
		return nil, fmt.Errorf("invalid storage path %q", p)
	}
	return []byte(clean), nil
}

// ReadFile returns the value stored at p, or ErrContentNotFound.
func (s *BadgerStorage) ReadFile(ctx context.Context, p string) ([]byte, error) {
	key, err := badgerKey(p)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, interfaces.ErrContentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	return data, nil
}

// WriteFile stores data at p without expiry.
func (s *BadgerStorage) WriteFile(ctx context.Context, p string, data []byte) error {
	return s.WriteFileTTL(ctx, p, data, 0)
}

// WriteFileTTL stores data at p; a positive ttl makes Badger drop the entry
// once it elapses.
func (s *BadgerStorage) WriteFileTTL(ctx context.Context, p string, data []byte, ttl time.Duration) error {
	key, err := badgerKey(p)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badgerdb.Txn) error {
		entry := badgerdb.NewEntry(key, data)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}

	s.log.Debug("Stored entry in badger",
		slog.String("path", p),
		slog.Int("size", len(data)),
		slog.Duration("ttl", ttl))
	return nil
}

// Stat reports whether p exists.
func (s *BadgerStorage) Stat(ctx context.Context, p string) (bool, error) {
	key, err := badgerKey(p)
	if err != nil {
		return false, err
	}

	err = s.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Mkdir is a no-op; Badger has no directories.
func (s *BadgerStorage) Mkdir(ctx context.Context, p string) error {
	return nil
}

// Remove deletes p and every key below it.
func (s *BadgerStorage) Remove(ctx context.Context, p string) error {
	key, err := badgerKey(p)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Delete(key); err != nil {
			return err
		}

		prefix := append(append([]byte(nil), key...), '/')
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		var children [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			children = append(children, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, child := range children {
			if err := txn.Delete(child); err != nil {
				return err
			}
		}
		return nil
	})
}
