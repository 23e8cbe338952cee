// internal/api/preview.go
package api

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/Corphon/StoryReel/internal/models"
)

var previewMarkdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// scriptMarkdown lays a script out for reviewers: header facts, then one
// section per scene with its narration quoted.
func scriptMarkdown(s *models.VideoScript) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Chapter %d: %s\n\n", s.ChapterIndex, s.Title)
	b.WriteString("| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Status | %s |\n", s.Status)
	fmt.Fprintf(&b, "| Time period | %s |\n", cell(s.TimePeriod))
	fmt.Fprintf(&b, "| Setting | %s |\n", cell(s.Setting))
	fmt.Fprintf(&b, "| Visual style | %s |\n", cell(s.VisualStyle))
	fmt.Fprintf(&b, "| Narration | %s |\n", s.NarrationStyle)
	fmt.Fprintf(&b, "| Duration | %.1fs |\n\n", s.TotalDuration())
	if s.ReviewNote != "" {
		fmt.Fprintf(&b, "**Review note:** %s\n\n", s.ReviewNote)
	}

	for _, scene := range s.Scenes {
		fmt.Fprintf(&b, "## Scene %d (%.1fs)\n\n", scene.Number, scene.DurationSeconds)
		if scene.Transition != "" {
			fmt.Fprintf(&b, "*Transition:* %s\n\n", scene.Transition)
		}
		for _, line := range strings.Split(strings.TrimSpace(scene.Narration), "\n") {
			fmt.Fprintf(&b, "> %s\n", line)
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "- **Visual:** %s\n", scene.VisualDescription)
		fmt.Fprintf(&b, "- **Camera:** %s\n", scene.CameraAngle)
		fmt.Fprintf(&b, "- **Mood:** %s\n", scene.Mood)
		if len(scene.Characters) > 0 {
			fmt.Fprintf(&b, "- **Characters:** %s\n", strings.Join(scene.Characters, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func cell(v string) string {
	return strings.ReplaceAll(v, "|", "\\|")
}

// renderPreview turns a script into an HTML page.
func renderPreview(s *models.VideoScript) ([]byte, error) {
	var body bytes.Buffer
	if err := previewMarkdown.Convert([]byte(scriptMarkdown(s)), &body); err != nil {
		return nil, err
	}

	var page bytes.Buffer
	fmt.Fprintf(&page, "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>Chapter %d script</title></head><body>\n", s.ChapterIndex)
	page.Write(body.Bytes())
	page.WriteString("</body></html>\n")
	return page.Bytes(), nil
}
