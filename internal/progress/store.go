// internal/progress/store.go
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/Corphon/StoryReel/internal/models"
	"github.com/Corphon/StoryReel/internal/storage"
)

// Store persists one checkpoint per chapter. Put must be durable when it returns.
type Store interface {
	LoadAll(ctx context.Context) (map[int]models.ChapterProgress, error)
	Put(ctx context.Context, chapterIndex int, cp models.ChapterProgress) error
}

const progressDir = "progress"

// FileStore keeps chapter-NNNN.json files under the data dir. Each Put is an
// atomic replace, so a crash leaves either the old or the new checkpoint.
type FileStore struct {
	fs *storage.FileStorage
}

func NewFileStore(fs *storage.FileStorage) *FileStore {
	return &FileStore{fs: fs}
}

func chapterFile(index int) string {
	return fmt.Sprintf("chapter-%04d.json", index)
}

func (s *FileStore) LoadAll(ctx context.Context) (map[int]models.ChapterProgress, error) {
	files, err := s.fs.ListFiles(progressDir, ".json")
	if err != nil {
		return nil, err
	}
	out := make(map[int]models.ChapterProgress, len(files))
	for _, name := range files {
		index, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "chapter-"), ".json"))
		if err != nil {
			continue
		}
		var cp models.ChapterProgress
		if err := s.fs.LoadJSONFile(progressDir, name, &cp); err != nil {
			return nil, fmt.Errorf("load %s: %w", name, err)
		}
		out[index] = cp
	}
	return out, nil
}

func (s *FileStore) Put(ctx context.Context, chapterIndex int, cp models.ChapterProgress) error {
	return s.fs.SaveJSONFile(progressDir, chapterFile(chapterIndex), cp)
}

// RedisStore keeps the checkpoints in one hash, field = chapter index, so
// several workers can share a corpus.
type RedisStore struct {
	rdb *redis.Client
	key string
}

func NewRedisStore(rdb *redis.Client, key string) *RedisStore {
	if key == "" {
		key = "storyreel:progress"
	}
	return &RedisStore{rdb: rdb, key: key}
}

func (s *RedisStore) LoadAll(ctx context.Context) (map[int]models.ChapterProgress, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[int]models.ChapterProgress, len(fields))
	for field, value := range fields {
		index, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		var cp models.ChapterProgress
		if err := json.Unmarshal([]byte(value), &cp); err != nil {
			return nil, fmt.Errorf("decode chapter %d: %w", index, err)
		}
		out[index] = cp
	}
	return out, nil
}

func (s *RedisStore) Put(ctx context.Context, chapterIndex int, cp models.ChapterProgress) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, s.key, strconv.Itoa(chapterIndex), data).Err()
}
