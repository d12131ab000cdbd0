// Package gcs provides a record provider backed by Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/JakeFAU/pagewatch/internal/storage"
)

const recordExt = ".json"

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string `mapstructure:"bucket" yaml:"bucket"`
	// Prefix is prepended to every object name, e.g. "pagewatch/targets".
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

// Provider writes records to a configured GCS bucket.
type Provider struct {
	client *gcs.Client
	bucket string
	prefix string
}

// New creates a GCS-backed record provider.
func New(client *gcs.Client, cfg Config) (*Provider, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Provider{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Put uploads data as the object for key, replacing any previous version.
func (p *Provider) Put(ctx context.Context, key string, data []byte) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("key is required")
	}
	writer := p.client.Bucket(p.bucket).Object(p.objectName(key)).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// Delete removes the object for key.
func (p *Provider) Delete(ctx context.Context, key string) error {
	err := p.client.Bucket(p.bucket).Object(p.objectName(key)).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// List downloads every record object under the configured prefix.
func (p *Provider) List(ctx context.Context) ([]storage.Object, error) {
	bucket := p.client.Bucket(p.bucket)
	query := &gcs.Query{}
	if p.prefix != "" {
		query.Prefix = p.prefix + "/"
	}
	it := bucket.Objects(ctx, query)
	var objects []storage.Object
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		if !strings.HasSuffix(attrs.Name, recordExt) {
			continue
		}
		data, err := p.read(ctx, bucket, attrs.Name)
		if err != nil {
			return nil, err
		}
		objects = append(objects, storage.Object{
			Key:  strings.TrimSuffix(path.Base(attrs.Name), recordExt),
			Data: data,
		})
	}
	return objects, nil
}

func (p *Provider) read(ctx context.Context, bucket *gcs.BucketHandle, name string) ([]byte, error) {
	reader, err := bucket.Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", name, err)
	}
	defer func() {
		_ = reader.Close()
	}()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", name, err)
	}
	return data, nil
}

func (p *Provider) objectName(key string) string {
	if p.prefix == "" {
		return key + recordExt
	}
	return p.prefix + "/" + key + recordExt
}
