package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Store 以资源 URL 为键持久化模型文件字节，进程重启后依然可读。
// 同一个键的 payload 视为不可变：写入要么完整成功，要么该键不存在。
type Store interface {
	// Has 判断条目是否存在。任何底层 I/O 错误都视为不存在，从而回退到网络下载。
	Has(ctx context.Context, key string) bool

	// Get 返回完整 payload；不存在时返回 ErrNotFound。
	Get(ctx context.Context, key string) ([]byte, error)

	// Put 原子写入 payload。并发写同一个键时以最后一次写入为准。
	Put(ctx context.Context, key string, payload []byte) error

	// Remove 删除单个条目，条目不存在不视为错误。
	Remove(ctx context.Context, key string) error

	// ClearAll 删除全部条目，用于手动失效缓存。
	ClearAll(ctx context.Context) error

	// ListKeys 按字典序列出已缓存的键，用于诊断。
	ListKeys(ctx context.Context) ([]string, error)

	// Close 释放底层句柄。
	Close() error
}

// Entry 描述一个已持久化条目的元信息。
type Entry struct {
	Key       string    `json:"key"`
	SizeBytes int64     `json:"size_bytes"`
	StoredAt  time.Time `json:"stored_at"`
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// ErrEmptyKey 表示调用方传入了空键。
var ErrEmptyKey = errors.New("cache key required")

// Options 控制 Open 构建的存储实例。
type Options struct {
	// Backend 取值 leveldb 或 fs。
	Backend string
	// BasePath 为数据目录。
	BasePath string
	// MaxEntries 大于 0 时启用 LRU 淘汰，否则不限制。
	MaxEntries int
	// Logger 用于记录淘汰失败等非致命错误，可为空。
	Logger *logrus.Logger
}

// Open 根据配置构建存储实例，整个进程复用一份。
func Open(ctx context.Context, opts Options) (Store, error) {
	var (
		store Store
		err   error
	)
	switch opts.Backend {
	case "", "leveldb":
		store, err = NewLevelDBStore(opts.BasePath)
	case "fs":
		store, err = NewFileStore(opts.BasePath)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	if opts.MaxEntries <= 0 {
		return store, nil
	}
	bounded, err := NewBoundedStore(ctx, store, opts.MaxEntries, opts.Logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return bounded, nil
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
