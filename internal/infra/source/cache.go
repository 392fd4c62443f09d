package source

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"mcpreg/internal/domain"
)

const cacheFileName = "sources.db"

// Cache is the scraper-private working area under the sources directory,
// backed by one bbolt file with a bucket per source slug.
type Cache struct {
	db *bolt.DB
}

// OpenCache opens (or creates) <dir>/sources.db.
func OpenCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sources dir: %w", err)
	}
	db, err := bolt.Open(filepath.Join(dir, cacheFileName), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open source cache: %w", err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// ForSource returns the per-source scratch view handed to a producer.
func (c *Cache) ForSource(src domain.SourceType) domain.SourceCache {
	return &bucketCache{db: c.db, bucket: []byte(src)}
}

type bucketCache struct {
	db     *bolt.DB
	bucket []byte
}

func (b *bucketCache) Get(key string) ([]byte, error) {
	var value []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(b.bucket)
		if bucket == nil {
			return nil
		}
		if raw := bucket.Get([]byte(key)); raw != nil {
			value = append([]byte(nil), raw...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("source cache get %q: %w", key, err)
	}
	return value, nil
}

func (b *bucketCache) Put(key string, value []byte) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(b.bucket)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("source cache put %q: %w", key, err)
	}
	return nil
}

// NopCache satisfies domain.SourceCache without persistence, for tests and
// producers that keep no state.
type NopCache struct{}

func (NopCache) Get(string) ([]byte, error) { return nil, nil }
func (NopCache) Put(string, []byte) error   { return nil }
