// internal/continuity/store.go
package continuity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	apperrors "github.com/Corphon/StoryReel/internal/errors"
	"github.com/Corphon/StoryReel/internal/lock"
	"github.com/Corphon/StoryReel/internal/models"
	"github.com/Corphon/StoryReel/internal/storage"
)

// Store persists characters keyed by normalized name.
type Store interface {
	// Get returns a NotFoundError when key is unknown.
	Get(ctx context.Context, key string) (*models.Character, error)
	// Insert returns a ConflictError when key already exists.
	Insert(ctx context.Context, character *models.Character) error
	// AddAppearances adds delta to the appearance counter and returns the updated record.
	AddAppearances(ctx context.Context, key string, delta int) (*models.Character, error)
	List(ctx context.Context) ([]*models.Character, error)
}

const charactersDir = "characters"

// FileStore keeps one JSON document per character. Writes to the same key
// are serialized by a keyed lock; the document itself is replaced atomically.
type FileStore struct {
	fs    *storage.FileStorage
	locks *lock.LockManager
}

func NewFileStore(fs *storage.FileStorage) *FileStore {
	return &FileStore{fs: fs, locks: lock.NewLockManager()}
}

// fileName maps a normalized key to a filesystem safe, collision free name.
func fileName(key string) string {
	slug := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return '-'
	}, key)
	if runes := []rune(slug); len(runes) > 48 {
		slug = string(runes[:48])
	}
	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%s-%s.json", slug, hex.EncodeToString(sum[:4]))
}

func (s *FileStore) load(key string) (*models.Character, error) {
	var c models.Character
	if err := s.fs.LoadJSONFile(charactersDir, fileName(key), &c); err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, apperrors.NewNotFoundError("character "+key, nil)
		}
		return nil, apperrors.NewPersistenceError("load character "+key, err)
	}
	return &c, nil
}

func (s *FileStore) Get(ctx context.Context, key string) (*models.Character, error) {
	var out *models.Character
	err := s.locks.ExecuteWithReadLock(key, func() error {
		c, err := s.load(key)
		out = c
		return err
	})
	return out, err
}

func (s *FileStore) Insert(ctx context.Context, character *models.Character) error {
	return s.locks.ExecuteWithLock(character.Key, func() error {
		if s.fs.FileExists(charactersDir, fileName(character.Key)) {
			return apperrors.NewConflictError("character "+character.Key+" already exists", nil)
		}
		if err := s.fs.SaveJSONFile(charactersDir, fileName(character.Key), character); err != nil {
			return apperrors.NewPersistenceError("save character "+character.Key, err)
		}
		return nil
	})
}

func (s *FileStore) AddAppearances(ctx context.Context, key string, delta int) (*models.Character, error) {
	var out *models.Character
	err := s.locks.ExecuteWithLock(key, func() error {
		c, err := s.load(key)
		if err != nil {
			return err
		}
		c.Appearances += delta
		c.UpdatedAt = time.Now()
		if err := s.fs.SaveJSONFile(charactersDir, fileName(key), c); err != nil {
			return apperrors.NewPersistenceError("update character "+key, err)
		}
		out = c
		return nil
	})
	return out, err
}

func (s *FileStore) List(ctx context.Context) ([]*models.Character, error) {
	names, err := s.fs.ListFiles(charactersDir, ".json")
	if err != nil {
		return nil, apperrors.NewPersistenceError("list characters", err)
	}
	characters := make([]*models.Character, 0, len(names))
	for _, name := range names {
		var c models.Character
		if err := s.fs.LoadJSONFile(charactersDir, name, &c); err != nil {
			return nil, apperrors.NewPersistenceError("load "+name, err)
		}
		characters = append(characters, &c)
	}
	return characters, nil
}
