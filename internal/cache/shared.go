package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCompressionMin is the completion size above which shared entries
// are gzipped.
const DefaultCompressionMin = 1024

// SharedTier stores completions in Redis so that gateway replicas share
// results. It backs a ResponseCache on local misses.
type SharedTier struct {
	client         redis.UniversalClient
	ttl            time.Duration
	compressionMin int
	keyPrefix      string
	opTimeout      time.Duration

	hits   int64
	misses int64
	errors int64
}

// sharedItem is the Redis value layout.
type sharedItem struct {
	Data       []byte    `json:"data"`
	Compressed bool      `json:"compressed"`
	CreatedAt  time.Time `json:"created_at"`
}

type sharedStats struct {
	Hits   int64
	Misses int64
	Errors int64
}

// NewSharedTier creates a Redis tier. Keys are stored under prefix.
func NewSharedTier(client redis.UniversalClient, ttl time.Duration, prefix string) *SharedTier {
	if prefix == "" {
		prefix = "optigate:cache:"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &SharedTier{
		client:         client,
		ttl:            ttl,
		compressionMin: DefaultCompressionMin,
		keyPrefix:      prefix,
		opTimeout:      250 * time.Millisecond,
	}
}

// Get returns the completion stored under key. A missing key is not an error.
func (t *SharedTier) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.opTimeout)
	defer cancel()

	raw, err := t.client.Get(ctx, t.keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			atomic.AddInt64(&t.misses, 1)
			return "", false, nil
		}
		atomic.AddInt64(&t.errors, 1)
		return "", false, fmt.Errorf("shared cache get: %w", err)
	}

	var item sharedItem
	if err := json.Unmarshal(raw, &item); err != nil {
		atomic.AddInt64(&t.errors, 1)
		return "", false, fmt.Errorf("shared cache decode: %w", err)
	}
	data := item.Data
	if item.Compressed {
		if data, err = decompress(item.Data); err != nil {
			atomic.AddInt64(&t.errors, 1)
			return "", false, fmt.Errorf("shared cache decompress: %w", err)
		}
	}
	atomic.AddInt64(&t.hits, 1)
	return string(data), true, nil
}

// Set stores completion under key with the tier's TTL.
func (t *SharedTier) Set(ctx context.Context, key, completion string) error {
	ctx, cancel := context.WithTimeout(ctx, t.opTimeout)
	defer cancel()

	item := sharedItem{Data: []byte(completion), CreatedAt: time.Now()}
	if len(completion) >= t.compressionMin {
		data, err := compress(item.Data)
		if err != nil {
			atomic.AddInt64(&t.errors, 1)
			return fmt.Errorf("shared cache compress: %w", err)
		}
		item.Data, item.Compressed = data, true
	}

	raw, err := json.Marshal(item)
	if err != nil {
		atomic.AddInt64(&t.errors, 1)
		return fmt.Errorf("shared cache encode: %w", err)
	}
	if err := t.client.Set(ctx, t.keyPrefix+key, raw, t.ttl).Err(); err != nil {
		atomic.AddInt64(&t.errors, 1)
		return fmt.Errorf("shared cache set: %w", err)
	}
	return nil
}

func (t *SharedTier) stats() sharedStats {
	return sharedStats{
		Hits:   atomic.LoadInt64(&t.hits),
		Misses: atomic.LoadInt64(&t.misses),
		Errors: atomic.LoadInt64(&t.errors),
	}
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
