package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagewatch/internal/hash/sha256"
	"github.com/JakeFAU/pagewatch/internal/tracker"
)

// Store implements tracker.RecordStore on top of a Provider.
type Store struct {
	provider Provider
	logger   *zap.Logger
}

// NewStore wraps provider with record encoding.
func NewStore(provider Provider, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{provider: provider, logger: logger}
}

// Key returns the record key for url.
func Key(url string) string {
	return sha256.RecordKey(url)
}

// Save overwrites the full record for target.
func (s *Store) Save(ctx context.Context, target tracker.TrackedTarget) error {
	data, err := Encode(target)
	if err != nil {
		return err
	}
	if err := s.provider.Put(ctx, Key(target.URL), data); err != nil {
		return fmt.Errorf("put record %s: %w", target.URL, err)
	}
	return nil
}

// Delete removes the record for url. Missing records are not an error.
func (s *Store) Delete(ctx context.Context, url string) error {
	if err := s.provider.Delete(ctx, Key(url)); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete record %s: %w", url, err)
	}
	return nil
}

// LoadAll decodes every stored record, logging and skipping malformed ones.
func (s *Store) LoadAll(ctx context.Context) ([]tracker.TrackedTarget, error) {
	objects, err := s.provider.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	targets := make([]tracker.TrackedTarget, 0, len(objects))
	for _, obj := range objects {
		target, err := Decode(obj.Data)
		if err != nil {
			s.logger.Warn("skipping malformed record", zap.String("key", obj.Key), zap.Error(err))
			continue
		}
		targets = append(targets, target)
	}
	return targets, nil
}
