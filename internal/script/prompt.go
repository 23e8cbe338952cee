// internal/script/prompt.go
package script

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Corphon/StoryReel/internal/models"
)

const systemPrompt = `You adapt book chapters into short narrated videos.
Keep the story faithful to the source. The time period and setting are stated once
for the whole video and must not be repeated or changed per scene. Every scene after
the first must say in "transition" how it follows from the previous scene.
Every scene must name a mood and a camera angle.`

func buildPrompt(chapter models.SourceChapter, text string, opts Options) string {
	voice := "a third-person narrator telling the story"
	if opts.Style == models.NarrationDirectAddress {
		voice = "a narrator speaking directly to the viewer in second person"
	}

	prompt := fmt.Sprintf(`Chapter %d: %s

Source text:
%s

Write exactly %d scenes for a video of about %.0f seconds in total.
Narration is spoken by %s; keep each scene's narration short enough to be read
aloud within its duration (about 2.5 words per second).
Visual style: %s.`,
		chapter.Index, chapter.Title, text, opts.SceneCount, opts.TargetDuration, voice, opts.VisualStyle)

	if fb := strings.TrimSpace(opts.Feedback); fb != "" {
		prompt += "\n\nA reviewer rejected the previous script for this chapter. Address this feedback:\n" + fb
	}
	return prompt
}

// truncateWords cuts text to at most limit bytes without splitting a word,
// or at least a rune when the text has no nearby whitespace.
func truncateWords(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	end := limit
	for end > 0 && !utf8.RuneStart(text[end]) {
		end--
	}
	cut := text[:end]
	if i := strings.LastIndexAny(cut, " \n\t"); i > limit/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + " ..."
}

// DescriptorLookup returns the canonical descriptor of a character name, or "".
type DescriptorLookup func(name string) string

// ComposeVisualPrompt builds the text-to-video prompt of a scene from the
// script-level style, period and setting plus the scene's own fields and
// each visible character's canonical descriptor.
func ComposeVisualPrompt(s *models.VideoScript, scene models.Scene, aspectRatio string, lookup DescriptorLookup) string {
	parts := []string{
		fmt.Sprintf("Professional cinematic %s style", orDefault(s.VisualStyle, "realistic")),
		strings.TrimSuffix(strings.TrimSpace(scene.VisualDescription), "."),
		fmt.Sprintf("%s, %s mood", scene.CameraAngle, scene.Mood),
	}

	for _, name := range scene.Characters {
		descriptor := ""
		if lookup != nil {
			descriptor = lookup(name)
		}
		if descriptor == "" {
			descriptor = strings.TrimSpace(name)
		}
		parts = append(parts, descriptor)
	}

	parts = append(parts,
		fmt.Sprintf("%s, %s, with period-accurate costumes and props", s.TimePeriod, s.Setting),
		fmt.Sprintf("High quality, %s format", orDefault(aspectRatio, "9:16")),
	)
	return strings.Join(parts, ". ") + "."
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
