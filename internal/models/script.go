// internal/models/script.go
package models

import (
	"fmt"
	"strings"
	"time"
)

type ScriptStatus string

const (
	ScriptDraft    ScriptStatus = "draft"
	ScriptApproved ScriptStatus = "approved"
	ScriptRejected ScriptStatus = "rejected"
)

type NarrationStyle string

const (
	NarrationNarrated      NarrationStyle = "narrated"
	NarrationDirectAddress NarrationStyle = "direct_address"
)

// VideoScript is the reviewed plan for one chapter's video.
// Time period and setting live here and are never re-derived per scene.
type VideoScript struct {
	ChapterIndex   int            `json:"chapter_index"`
	Title          string         `json:"title"`
	TimePeriod     string         `json:"time_period"`
	Setting        string         `json:"setting"`
	VisualStyle    string         `json:"visual_style"`
	NarrationStyle NarrationStyle `json:"narration_style"`
	Status         ScriptStatus   `json:"status"`
	ReviewNote     string         `json:"review_note,omitempty"`
	Scenes         []Scene        `json:"scenes"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TotalDuration sums the planned scene durations in seconds.
func (s *VideoScript) TotalDuration() float64 {
	var total float64
	for _, scene := range s.Scenes {
		total += scene.DurationSeconds
	}
	return total
}

// CharacterNames returns every referenced name once, in first-appearance order.
func (s *VideoScript) CharacterNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, scene := range s.Scenes {
		for _, name := range scene.Characters {
			key := NormalizeName(name)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			names = append(names, name)
		}
	}
	return names
}

// Clone returns a deep copy so stages never share scene slices.
func (s *VideoScript) Clone() *VideoScript {
	c := *s
	c.Scenes = make([]Scene, len(s.Scenes))
	for i, scene := range s.Scenes {
		scene.Characters = append([]string(nil), scene.Characters...)
		c.Scenes[i] = scene
	}
	return &c
}

// Validate checks the continuity rules every script must satisfy:
// at least one scene, script-level time period and setting, non-empty
// continuity fields per scene, and a transition on every scene after the first.
func (s *VideoScript) Validate() error {
	var problems []string

	if strings.TrimSpace(s.TimePeriod) == "" {
		problems = append(problems, "time_period is empty")
	}
	if strings.TrimSpace(s.Setting) == "" {
		problems = append(problems, "setting is empty")
	}
	if len(s.Scenes) == 0 {
		problems = append(problems, "script has no scenes")
	}

	for i, scene := range s.Scenes {
		label := fmt.Sprintf("scene %d", i+1)
		if scene.Number != i+1 {
			problems = append(problems, fmt.Sprintf("%s: number is %d", label, scene.Number))
		}
		if strings.TrimSpace(scene.Narration) == "" {
			problems = append(problems, label+": narration is empty")
		}
		if strings.TrimSpace(scene.VisualDescription) == "" {
			problems = append(problems, label+": visual_description is empty")
		}
		if strings.TrimSpace(scene.Mood) == "" {
			problems = append(problems, label+": mood is empty")
		}
		if strings.TrimSpace(scene.CameraAngle) == "" {
			problems = append(problems, label+": camera_angle is empty")
		}
		if scene.DurationSeconds <= 0 {
			problems = append(problems, label+": duration must be positive")
		}
		if i > 0 && strings.TrimSpace(scene.Transition) == "" {
			problems = append(problems, label+": transition from previous scene is empty")
		}
		for _, name := range scene.Characters {
			if NormalizeName(name) == "" {
				problems = append(problems, label+": blank character name")
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid script: %s", strings.Join(problems, "; "))
	}
	return nil
}
