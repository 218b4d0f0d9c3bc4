package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	leveldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// 键空间：a:<url> 保存正文，m:<url> 保存 Entry 元信息。两者在同一个 Batch 中写入。
var (
	payloadPrefix = []byte("a:")
	metaPrefix    = []byte("m:")
)

type levelDBStore struct {
	db *leveldb.DB
}

// NewLevelDBStore 在 path 下打开（或创建）LevelDB 数据库；数据库损坏时尝试恢复。
func NewLevelDBStore(path string) (Store, error) {
	if path == "" {
		return nil, errors.New("storage path required")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	db, err := leveldb.OpenFile(path, nil)
	if leveldberrors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &levelDBStore{db: db}, nil
}

func (s *levelDBStore) Has(ctx context.Context, key string) bool {
	if key == "" || checkContext(ctx) != nil {
		return false
	}
	ok, err := s.db.Has(payloadKey(key), nil)
	return err == nil && ok
}

func (s *levelDBStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	payload, err := s.db.Get(payloadKey(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return payload, nil
}

func (s *levelDBStore) Put(ctx context.Context, key string, payload []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := checkContext(ctx); err != nil {
		return err
	}
	meta, err := json.Marshal(Entry{
		Key:       key,
		SizeBytes: int64(len(payload)),
		StoredAt:  time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	batch.Put(payloadKey(key), payload)
	batch.Put(metaKey(key), meta)
	return s.db.Write(batch, nil)
}

func (s *levelDBStore) Remove(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := checkContext(ctx); err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Delete(payloadKey(key))
	batch.Delete(metaKey(key))
	return s.db.Write(batch, nil)
}

func (s *levelDBStore) ClearAll(ctx context.Context) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	for _, prefix := range [][]byte{payloadPrefix, metaPrefix} {
		it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
		for it.Next() {
			batch.Delete(append([]byte(nil), it.Key()...))
		}
		it.Release()
		if err := it.Error(); err != nil {
			return err
		}
	}
	return s.db.Write(batch, nil)
}

func (s *levelDBStore) ListKeys(ctx context.Context) ([]string, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	it := s.db.NewIterator(util.BytesPrefix(metaPrefix), nil)
	defer it.Release()

	var keys []string
	for it.Next() {
		keys = append(keys, string(bytes.TrimPrefix(it.Key(), metaPrefix)))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *levelDBStore) Close() error {
	return s.db.Close()
}

func payloadKey(key string) []byte {
	return append(append([]byte(nil), payloadPrefix...), key...)
}

func metaKey(key string) []byte {
	return append(append([]byte(nil), metaPrefix...), key...)
}
