package artifact

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisSource reads artifacts stored as redis string values. Clients are
// opened lazily, one per server URL, and reused.
type RedisSource struct {
	maxSize int64

	mu      sync.Mutex
	clients map[string]*redis.Client
}

// NewRedisSource creates a redis source.
func NewRedisSource(maxSize int64) *RedisSource {
	return &RedisSource{maxSize: maxSize, clients: map[string]*redis.Client{}}
}

// ParseRedisRef splits redis://host:port/db?key=name into a server URL
// accepted by redis.ParseURL and the key.
func ParseRedisRef(ref string) (serverURL, key string, err error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return "", "", fmt.Errorf("not a redis reference: %q", ref)
	}
	q := u.Query()
	key = q.Get("key")
	if key == "" {
		return "", "", errors.New("redis reference needs a key parameter")
	}
	q.Del("key")
	u.RawQuery = q.Encode()
	return u.String(), key, nil
}

func (s *RedisSource) client(serverURL string) (*redis.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[serverURL]; ok {
		return c, nil
	}
	opts, err := redis.ParseURL(serverURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opts)
	s.clients[serverURL] = c
	return c, nil
}

// Fetch implements Source.
func (s *RedisSource) Fetch(ctx context.Context, ref string) ([]byte, error) {
	serverURL, key, err := ParseRedisRef(ref)
	if err != nil {
		return nil, &FetchError{Kind: ErrUnsupported, Source: "redis", Ref: ref, Err: err}
	}
	c, err := s.client(serverURL)
	if err != nil {
		return nil, &FetchError{Kind: ErrUnsupported, Source: "redis", Ref: ref, Err: err}
	}

	max := s.maxSize
	if max <= 0 {
		max = DefaultMaxSize
	}
	n, err := c.StrLen(ctx, key).Result()
	if err != nil {
		return nil, wrapFetchError("redis", ref, err)
	}
	if n > max {
		return nil, &FetchError{Kind: ErrTooLarge, Source: "redis", Ref: ref,
			Err: fmt.Errorf("value is %d bytes, limit %d", n, max)}
	}

	data, err := c.Get(ctx, key).Bytes()
	if err != nil {
		return nil, wrapFetchError("redis", ref, err)
	}
	return data, nil
}

// Close closes every opened client.
func (s *RedisSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for k, c := range s.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(s.clients, k)
	}
	return errors.Join(errs...)
}
