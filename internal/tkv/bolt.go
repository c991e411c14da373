package tkv

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	boltFileName = "fleet.bolt"
	boltOpenWait = 2 * time.Second
)

var boltBucket = []byte("values")

// boltStore keeps every key in a single bucket. bbolt serializes writers
// itself, so there is no extra locking here.
type boltStore struct {
	logger *slog.Logger
	db     *bolt.DB
}

var _ TKV = &boltStore{}

func newBolt(config Config) (TKV, error) {
	if config.InMemory {
		return nil, &ErrInternal{Err: errors.New("bolt engine has no in-memory mode")}
	}
	if err := os.MkdirAll(config.Directory, 0755); err != nil {
		return nil, &ErrInternal{Err: err}
	}

	path := filepath.Join(config.Directory, boltFileName)
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: boltOpenWait})
	if err != nil {
		return nil, &ErrInternal{Err: err}
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, &ErrInternal{Err: err}
	}

	logger := config.Logger.WithGroup("tkv")
	logger.Info("bolt store opened", "path", path)

	return &boltStore{logger: logger, db: db}, nil
}

func (b *boltStore) Close() error {
	if err := b.db.Close(); err != nil {
		b.logger.Error("error closing bolt db", "error", err)
		return &ErrInternal{Err: err}
	}
	return nil
}

func (b *boltStore) Get(key string) (string, error) {
	var value []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boltBucket).Get([]byte(key))
		if v == nil {
			return &ErrKeyNotFound{Key: key}
		}
		// v is only valid for the life of the transaction
		value = bytes.Clone(v)
		return nil
	})
	if err != nil {
		return "", err
	}
	return string(value), nil
}

func (b *boltStore) Set(key string, value string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(key), []byte(value))
	})
	if err != nil {
		return &ErrInternal{Err: err}
	}
	return nil
}

func (b *boltStore) Delete(key string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Delete([]byte(key))
	})
	if err != nil {
		return &ErrInternal{Err: err}
	}
	return nil
}

func (b *boltStore) Scan(prefix string) ([]Entry, error) {
	entries := []Entry{}
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(boltBucket).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			entries = append(entries, Entry{Key: string(k), Value: string(v)})
		}
		return nil
	})
	if err != nil {
		return nil, &ErrInternal{Err: err}
	}
	return entries, nil
}
