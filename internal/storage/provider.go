// Package storage persists tracked targets as one JSON record per URL.
// Record encoding and key derivation live here; the backends under this
// package (local filesystem, memory, Google Cloud Storage, Postgres, Redis)
// only move opaque bytes.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by backends when a key does not exist.
var ErrNotFound = errors.New("record not found")

// Object is one stored record.
type Object struct {
	Key  string
	Data []byte
}

// Provider defines the common interface for a record backend. Put fully
// replaces any existing object under key.
type Provider interface {
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]Object, error)
}
