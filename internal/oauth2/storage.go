package oauth2

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// TokenStorage is the key-value cache holding the access token
type TokenStorage interface {
	// Get returns the value at key and whether it was present and unexpired
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value at key for ttl
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete evicts key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// MemoryTokenStorage implements TokenStorage in process memory. Entries
// expire on their own TTL and are swept every ten minutes.
type MemoryTokenStorage struct {
	cache *gocache.Cache
}

// NewMemoryTokenStorage creates an empty in-memory token storage
func NewMemoryTokenStorage() *MemoryTokenStorage {
	return &MemoryTokenStorage{
		cache: gocache.New(gocache.NoExpiration, 10*time.Minute),
	}
}

// Get implements TokenStorage
func (s *MemoryTokenStorage) Get(_ context.Context, key string) (string, bool, error) {
	value, found := s.cache.Get(key)
	if !found {
		return "", false, nil
	}
	token, ok := value.(string)
	if !ok || token == "" {
		return "", false, nil
	}
	return token, true, nil
}

// Set implements TokenStorage. A zero ttl keeps the entry until deleted.
func (s *MemoryTokenStorage) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	s.cache.Set(key, value, ttl)
	return nil
}

// Delete implements TokenStorage
func (s *MemoryTokenStorage) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}
