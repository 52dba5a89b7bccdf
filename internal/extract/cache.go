package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"bookcal/internal/config"
	"bookcal/internal/model"
)

// cacheEntry is the on-disk record for one extraction.
type cacheEntry struct {
	Model     string            `json:"model"`
	Events    model.ParseResult `json:"events"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Cache stores extraction results on disk keyed by a hash of the request,
// so re-scanning the same confirmation page does not spend another call.
type Cache struct {
	dir string
	ttl time.Duration
}

// NewCache returns a cache rooted at dir. Entries older than ttl are ignored;
// ttl <= 0 keeps entries forever.
func NewCache(dir string, ttl time.Duration) *Cache {
	return &Cache{dir: dir, ttl: ttl}
}

// Key derives the cache key for a request.
func (c *Cache) Key(modelName, text string, page model.PageContext) string {
	h := sha256.New()
	for _, part := range []string{modelName, page.URL, page.Title, text} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	// First 16 hex chars are plenty for a local cache.
	return hex.EncodeToString(sum[:8])
}

// Get returns the cached events for key. A miss is (nil, false, nil).
func (c *Cache) Get(key string) (model.ParseResult, bool, error) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, err
	}
	if c.ttl > 0 && time.Since(entry.UpdatedAt) > c.ttl {
		return nil, false, nil
	}
	return entry.Events, true, nil
}

// Put stores events under key.
func (c *Cache) Put(key, modelName string, events model.ParseResult) error {
	data, err := json.MarshalIndent(cacheEntry{
		Model:     modelName,
		Events:    events,
		UpdatedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return err
	}
	return config.WriteFileAtomic(c.path(key), data)
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}
