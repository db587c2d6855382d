// Package store 持久化：扁平的 key/value 区域，上层的记录列表和 API token 都存在这里
package store

import (
	"context"
	"errors"
	"fmt"
)

const (
	RecordsKey  = "bg_compare_tests"
	APITokenKey = "replicate_api_key"
)

var (
	ErrNotFound = errors.New("not found")
	ErrStorage  = errors.New("storage unavailable")
)

// KeyValueStore 持久化 key/value 能力
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	ListAll(ctx context.Context) (map[string][]byte, error)
	Close() error
}

// StorageError 后端失败，errors.Is(err, ErrStorage) 为 true
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func storageErr(op, key string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return &StorageError{Op: op, Key: key, Err: err}
}

// Open 按 driver 打开存储，memory 时忽略 path
func Open(driver, path string) (KeyValueStore, error) {
	switch driver {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "":
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
