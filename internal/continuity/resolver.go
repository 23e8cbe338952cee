// internal/continuity/resolver.go
package continuity

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/Corphon/StoryReel/internal/errors"
	"github.com/Corphon/StoryReel/internal/models"
	"github.com/Corphon/StoryReel/internal/utils"
)

// Describer writes the canonical visual descriptor of a new character.
type Describer interface {
	Describe(ctx context.Context, name string, script *models.VideoScript) (string, error)
}

// ReferenceImager produces the one reference image of a new character and
// returns where it was stored.
type ReferenceImager interface {
	GenerateReference(ctx context.Context, key, descriptor string) (string, error)
}

// Resolution maps normalized names to their stored characters.
type Resolution struct {
	Characters map[string]models.Character
}

// Descriptor returns the stored descriptor for name, or "" if it was not resolved.
func (r Resolution) Descriptor(name string) string {
	return r.Characters[models.NormalizeName(name)].Descriptor
}

// ReferenceImages returns the reference images of names in order, skipping empty ones.
func (r Resolution) ReferenceImages(names []string) []string {
	var images []string
	for _, name := range names {
		if img := r.Characters[models.NormalizeName(name)].ReferenceImage; img != "" {
			images = append(images, img)
		}
	}
	return images
}

// Resolver looks up or creates every character a script references.
type Resolver struct {
	store     Store
	describer Describer
	imager    ReferenceImager
	flight    singleflight.Group
	logger    *utils.Logger
	limit     int

	// flightTimeout bounds one shared creation, which outlives any single caller.
	flightTimeout time.Duration
}

func NewResolver(store Store, describer Describer, imager ReferenceImager) *Resolver {
	return &Resolver{
		store:     store,
		describer: describer,
		imager:    imager,
		logger:    utils.GetLogger().With(map[string]interface{}{"component": "continuity"}),
		limit:     4,

		flightTimeout: 10 * time.Minute,
	}
}

// Resolve returns only once every referenced character is resolved.
// Each scene reference counts as one appearance.
func (r *Resolver) Resolve(ctx context.Context, script *models.VideoScript) (Resolution, error) {
	refs := make(map[string]int)
	names := make(map[string]string)
	for _, scene := range script.Scenes {
		for _, name := range scene.Characters {
			key := models.NormalizeName(name)
			if key == "" {
				continue
			}
			refs[key]++
			if _, ok := names[key]; !ok {
				names[key] = name
			}
		}
	}

	resolved := make(map[string]models.Character, len(refs))
	results := make(chan *models.Character, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limit)
	for key, count := range refs {
		key, count := key, count
		g.Go(func() error {
			c, err := r.resolveOne(gctx, key, names[key], count, script)
			if err != nil {
				return err
			}
			results <- c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Resolution{}, err
	}
	close(results)
	for c := range results {
		resolved[c.Key] = *c
	}

	r.logger.Info("characters resolved", map[string]interface{}{
		"chapter":    script.ChapterIndex,
		"characters": len(resolved),
	})
	return Resolution{Characters: resolved}, nil
}

// resolveOne creates key at most once across concurrent callers; everyone
// else, including callers that joined an in-flight creation, adds appearances.
func (r *Resolver) resolveOne(ctx context.Context, key, name string, count int, script *models.VideoScript) (*models.Character, error) {
	if _, err := r.store.Get(ctx, key); err == nil {
		return r.store.AddAppearances(ctx, key, count)
	} else if !apperrors.IsNotFoundError(err) {
		return nil, err
	}

	created := false
	ch := r.flight.DoChan(key, func() (interface{}, error) {
		// Callers from other chapters may join this flight, so one caller's
		// cancellation must not end it. Each caller still stops on its own ctx below.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.flightTimeout)
		defer cancel()

		// Re-check: a previous flight may have finished between Get and DoChan.
		if c, err := r.store.Get(ctx, key); err == nil {
			return c, nil
		} else if !apperrors.IsNotFoundError(err) {
			return nil, err
		}

		c, err := r.create(ctx, key, name, count, script)
		if apperrors.IsConflictError(err) {
			// Another process won the insert.
			return r.store.Get(ctx, key)
		}
		if err != nil {
			return nil, err
		}
		created = true
		return c, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("resolve character %q: %w", name, res.Err)
		}
		if created {
			return res.Val.(*models.Character), nil
		}
		return r.store.AddAppearances(ctx, key, count)
	}
}

func (r *Resolver) create(ctx context.Context, key, name string, count int, script *models.VideoScript) (*models.Character, error) {
	descriptor, err := r.describer.Describe(ctx, name, script)
	if err != nil {
		return nil, err
	}

	image, err := r.imager.GenerateReference(ctx, key, descriptor)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// The descriptor alone still keeps clips consistent; the character is stored without an image.
		r.logger.Warn("reference image failed, storing descriptor only", map[string]interface{}{
			"character": key,
			"error":     err.Error(),
		})
		image = ""
	}

	now := time.Now()
	c := &models.Character{
		Key:            key,
		Name:           name,
		Descriptor:     descriptor,
		ReferenceImage: image,
		Appearances:    count,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.store.Insert(ctx, c); err != nil {
		return nil, err
	}

	r.logger.Info("character created", map[string]interface{}{
		"character": key,
		"image":     image != "",
	})
	return c, nil
}
