// Package imagecache keeps recent image lookups so repeated views of the same
// mare do not hit the image board every time.
package imagecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nitkach/mares/pkg/imagelookup"
)

// Cache stores lookup results by mare name.
type Cache interface {
	Get(ctx context.Context, name string) (imagelookup.Image, bool, error)
	Set(ctx context.Context, name string, img imagelookup.Image, ttl time.Duration) error
}

// Redis is a Cache on a Redis server.
type Redis struct {
	client *redis.Client
	prefix string
}

// OpenRedis connects using a redis:// URL and verifies the server answers.
func OpenRedis(ctx context.Context, redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client, prefix: "mares:image:"}, nil
}

// Close releases the connection pool.
func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) key(name string) string { return r.prefix + strings.ToLower(name) }

func (r *Redis) Get(ctx context.Context, name string) (imagelookup.Image, bool, error) {
	b, err := r.client.Get(ctx, r.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return imagelookup.Image{}, false, nil
	}
	if err != nil {
		return imagelookup.Image{}, false, err
	}
	var img imagelookup.Image
	if err := json.Unmarshal(b, &img); err != nil {
		return imagelookup.Image{}, false, fmt.Errorf("decode cached image: %w", err)
	}
	return img, true, nil
}

func (r *Redis) Set(ctx context.Context, name string, img imagelookup.Image, ttl time.Duration) error {
	b, err := json.Marshal(img)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(name), b, ttl).Err()
}

// Finder serves lookups from the cache and fills it on a miss. Cache
// failures are logged and fall through to the wrapped finder.
type Finder struct {
	next  imagelookup.Finder
	cache Cache
	ttl   time.Duration
	log   zerolog.Logger
}

// NewFinder wraps next with cache.
func NewFinder(next imagelookup.Finder, cache Cache, ttl time.Duration, log zerolog.Logger) *Finder {
	return &Finder{next: next, cache: cache, ttl: ttl, log: log}
}

func (f *Finder) Find(ctx context.Context, name string) (imagelookup.Image, bool, error) {
	img, ok, err := f.cache.Get(ctx, name)
	if err != nil {
		f.log.Warn().Err(err).Str("name", name).Msg("image cache read failed")
	} else if ok {
		return img, true, nil
	}

	img, ok, err = f.next.Find(ctx, name)
	if err != nil || !ok {
		return img, ok, err
	}
	if err := f.cache.Set(ctx, name, img, f.ttl); err != nil {
		f.log.Warn().Err(err).Str("name", name).Msg("image cache write failed")
	}
	return img, true, nil
}
