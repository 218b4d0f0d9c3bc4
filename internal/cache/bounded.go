package cache

import (
	"context"
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/model-hub/internal/logging"
)

// BoundedStore 在任意 Store 之上维护 LRU 索引，条目数超过上限时删除最久未访问的键。
// 读写语义与内层 Store 保持一致。
type BoundedStore struct {
	inner Store
	log   *logrus.Entry

	mu      sync.Mutex
	index   *lru.Cache
	evicted []string
}

// NewBoundedStore 构造 LRU 包装层，并以内层已有的键初始化索引（字典序，视为同等冷）。
func NewBoundedStore(ctx context.Context, inner Store, maxEntries int, logger *logrus.Logger) (*BoundedStore, error) {
	if inner == nil {
		return nil, errors.New("inner store required")
	}
	s := &BoundedStore{inner: inner, log: logging.Component(logger, "cache")}
	index, err := lru.NewWithEvict(maxEntries, func(key interface{}, _ interface{}) {
		if k, ok := key.(string); ok {
			s.evicted = append(s.evicted, k)
		}
	})
	if err != nil {
		return nil, err
	}
	s.index = index

	keys, err := inner.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		s.track(ctx, key)
	}
	return s, nil
}

func (s *BoundedStore) Has(ctx context.Context, key string) bool {
	return s.inner.Has(ctx, key)
}

func (s *BoundedStore) Get(ctx context.Context, key string) ([]byte, error) {
	payload, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	_, known := s.index.Get(key)
	s.mu.Unlock()
	if !known {
		s.track(ctx, key)
	}
	return payload, nil
}

func (s *BoundedStore) Put(ctx context.Context, key string, payload []byte) error {
	if err := s.inner.Put(ctx, key, payload); err != nil {
		return err
	}
	s.track(ctx, key)
	return nil
}

func (s *BoundedStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	s.index.Remove(key)
	s.evicted = nil
	s.mu.Unlock()
	return s.inner.Remove(ctx, key)
}

func (s *BoundedStore) ClearAll(ctx context.Context) error {
	if err := s.inner.ClearAll(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.index.Purge()
	s.evicted = nil
	s.mu.Unlock()
	return nil
}

func (s *BoundedStore) ListKeys(ctx context.Context) ([]string, error) {
	return s.inner.ListKeys(ctx)
}

func (s *BoundedStore) Close() error {
	return s.inner.Close()
}

// Len 返回索引中的条目数。
func (s *BoundedStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Len()
}

// track 记录一次访问；Add 触发的淘汰在锁外同步删除内层条目。
func (s *BoundedStore) track(ctx context.Context, key string) {
	s.mu.Lock()
	s.index.Add(key, struct{}{})
	victims := s.evicted
	s.evicted = nil
	s.mu.Unlock()

	for _, victim := range victims {
		if err := s.inner.Remove(ctx, victim); err != nil {
			s.log.WithError(err).WithField("key", victim).Warn("cache_evict_failed")
		}
	}
}
