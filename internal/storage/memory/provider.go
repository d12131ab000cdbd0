// Package memory keeps tracked-target records and job state in memory for
// development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/pagewatch/internal/storage"
)

// Provider stores encoded records in a map.
type Provider struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewProvider creates an empty in-memory provider.
func NewProvider() *Provider {
	return &Provider{data: make(map[string][]byte)}
}

// Put stores a private copy of data under key.
func (p *Provider) Put(_ context.Context, key string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data[key] = append([]byte(nil), data...)
	return nil
}

// Delete removes key.
func (p *Provider) Delete(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.data[key]; !ok {
		return storage.ErrNotFound
	}
	delete(p.data, key)
	return nil
}

// List returns copies of every stored record ordered by key.
func (p *Provider) List(_ context.Context) ([]storage.Object, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	objects := make([]storage.Object, 0, len(p.data))
	for key, data := range p.data {
		objects = append(objects, storage.Object{Key: key, Data: append([]byte(nil), data...)})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}
