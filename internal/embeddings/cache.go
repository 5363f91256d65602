package embeddings

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores embeddings by key.
// Misses and backend failures both report ok=false.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, v []float32, ttl time.Duration)
}

// MakeKey derives the cache key for text embedded by model.
func MakeKey(model, text string) string {
	h := sha256.Sum256([]byte(model + "|" + text))
	return "emb:" + hex.EncodeToString(h[:])
}

// LocalLRU is an in-process LRU with per-entry TTL.
type LocalLRU struct {
	mu   sync.Mutex
	cap  int
	list *list.List // front = most recent
	m    map[string]*list.Element
	now  func() time.Time
}

type lruEntry struct {
	key string
	vec []float32
	exp time.Time
}

// NewLocalLRU creates an LRU holding at most capacity entries (default 1024).
func NewLocalLRU(capacity int) *LocalLRU {
	if capacity <= 0 {
		capacity = 1024
	}
	return &LocalLRU{
		cap:  capacity,
		list: list.New(),
		m:    make(map[string]*list.Element, capacity),
		now:  time.Now,
	}
}

// Get implements Cache.
func (l *LocalLRU) Get(_ context.Context, key string) ([]float32, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	el, ok := l.m[key]
	if !ok {
		return nil, false
	}
	ent := el.Value.(lruEntry)
	if !ent.exp.After(l.now()) {
		l.list.Remove(el)
		delete(l.m, key)
		return nil, false
	}
	l.list.MoveToFront(el)
	return ent.vec, true
}

// Set implements Cache.
func (l *LocalLRU) Set(_ context.Context, key string, v []float32, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ent := lruEntry{key: key, vec: v, exp: l.now().Add(ttl)}
	if el, ok := l.m[key]; ok {
		el.Value = ent
		l.list.MoveToFront(el)
		return
	}
	l.m[key] = l.list.PushFront(ent)
	if l.list.Len() > l.cap {
		if oldest := l.list.Back(); oldest != nil {
			delete(l.m, oldest.Value.(lruEntry).key)
			l.list.Remove(oldest)
		}
	}
}

// Len returns the number of entries, expired ones included.
func (l *LocalLRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.list.Len()
}

// RedisCache stores embeddings in Redis as little-endian float32 bytes.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache connects to the Redis server at url (redis://host:port/db)
// and pings it once.
func NewRedisCache(ctx context.Context, url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

// Get implements Cache.
func (r *RedisCache) Get(ctx context.Context, key string) ([]float32, bool) {
	b, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	v, err := decodeVector(b)
	if err != nil {
		return nil, false
	}
	return v, true
}

// Set implements Cache.
func (r *RedisCache) Set(ctx context.Context, key string, v []float32, ttl time.Duration) {
	_ = r.client.Set(ctx, key, encodeVector(v), ttl).Err()
}

// Close closes the underlying client.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

func encodeVector(v []float32) []byte {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

var errBadVector = errors.New("cached vector length is not a multiple of 4")

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, errBadVector
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}
