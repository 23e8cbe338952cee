// internal/source/cache.go
package source

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Corphon/StoryReel/internal/models"
)

var corpusCache = NewCache(16, 10*time.Minute)

// Cache keeps parsed corpora in memory, keyed by absolute path. An entry is
// served while the corpus fingerprint is unchanged and younger than the
// expiration.
type Cache struct {
	mutex      sync.RWMutex
	entries    map[string]*cacheEntry
	maxSize    int
	expiration time.Duration
	now        func() time.Time
}

type cacheEntry struct {
	chapters    []models.SourceChapter
	fingerprint uint64
	createdAt   time.Time
	lastRead    time.Time
}

func NewCache(maxSize int, expiration time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = 16
	}
	if expiration <= 0 {
		expiration = 5 * time.Minute
	}
	return &Cache{
		entries:    make(map[string]*cacheEntry),
		maxSize:    maxSize,
		expiration: expiration,
		now:        time.Now,
	}
}

// Load returns the chapters of path, calling parse on a miss.
func (c *Cache) Load(path string, parse func(string) ([]models.SourceChapter, error)) ([]models.SourceChapter, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	// A path that cannot be fingerprinted is parsed so the caller sees the real error.
	fp, fpErr := fingerprint(absPath)
	if fpErr == nil {
		c.mutex.Lock()
		entry, ok := c.entries[absPath]
		if ok && entry.fingerprint == fp && c.now().Sub(entry.createdAt) <= c.expiration {
			entry.lastRead = c.now()
			chapters := append([]models.SourceChapter(nil), entry.chapters...)
			c.mutex.Unlock()
			return chapters, nil
		}
		c.mutex.Unlock()
	}

	chapters, err := parse(path)
	if err != nil || fpErr != nil {
		return chapters, err
	}

	now := c.now()
	c.mutex.Lock()
	c.entries[absPath] = &cacheEntry{
		chapters:    append([]models.SourceChapter(nil), chapters...),
		fingerprint: fp,
		createdAt:   now,
		lastRead:    now,
	}
	if len(c.entries) > c.maxSize {
		c.evict(max(1, c.maxSize/5))
	}
	c.mutex.Unlock()
	return chapters, nil
}

// Invalidate drops path from the cache.
func (c *Cache) Invalidate(path string) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return
	}
	c.mutex.Lock()
	delete(c.entries, absPath)
	c.mutex.Unlock()
}

// evict removes the count least recently read entries. Callers hold the lock.
func (c *Cache) evict(count int) {
	type keyAge struct {
		key  string
		read time.Time
	}
	ages := make([]keyAge, 0, len(c.entries))
	for k, v := range c.entries {
		ages = append(ages, keyAge{k, v.lastRead})
	}
	sort.Slice(ages, func(i, j int) bool { return ages[i].read.Before(ages[j].read) })
	for i := 0; i < min(count, len(ages)); i++ {
		delete(c.entries, ages[i].key)
	}
}

// fingerprint hashes name, size and modification time of path, or of every
// file directly inside it when path is a directory.
func fingerprint(path string) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	h := fnv.New64a()
	if !info.IsDir() {
		fmt.Fprintf(h, "%d:%d", info.Size(), info.ModTime().UnixNano())
		return h.Sum64(), nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			return 0, err
		}
		fmt.Fprintf(h, "%s:%d:%d;", e.Name(), fi.Size(), fi.ModTime().UnixNano())
	}
	return h.Sum64(), nil
}
