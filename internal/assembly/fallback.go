// internal/assembly/fallback.go
package assembly

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Corphon/StoryReel/internal/media"
	"github.com/Corphon/StoryReel/internal/video"
)

const fallbackLineWidth = 28

// RenderFallback draws the scene narration on a black canvas of the canonical
// size for exactly the scene duration. It needs nothing but ffmpeg, so it is
// the clip of last resort when every provider failed.
func (a *Assembler) RenderFallback(ctx context.Context, req video.ClipRequest) (video.Clip, error) {
	if req.DurationSeconds <= 0 {
		return video.Clip{}, fmt.Errorf("fallback clip needs a positive duration")
	}
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0755); err != nil {
		return video.Clip{}, err
	}

	textFile := strings.TrimSuffix(req.OutputPath, filepath.Ext(req.OutputPath)) + ".txt"
	if err := os.WriteFile(textFile, []byte(wrapText(req.Narration, fallbackLineWidth)), 0644); err != nil {
		return video.Clip{}, err
	}
	defer os.Remove(textFile)

	_, err := a.runner.Run(ctx, a.out.FFmpegPath, a.fallbackArgs(textFile, req.DurationSeconds, req.OutputPath)...)
	if err != nil {
		return video.Clip{}, err
	}
	a.logger.Info("rendered fallback clip", map[string]interface{}{
		"chapter": req.ChapterIndex,
		"scene":   req.SceneNumber,
		"path":    req.OutputPath,
	})
	return video.Clip{Path: req.OutputPath, DurationSeconds: req.DurationSeconds}, nil
}

func (a *Assembler) fallbackArgs(textFile string, seconds float64, out string) []string {
	dur := media.FormatSeconds(seconds)
	fontSize := a.out.Width / 18
	if fontSize < 16 {
		fontSize = 16
	}

	draw := []string{
		"textfile=" + escapeFilterPath(textFile),
		"fontcolor=white",
		fmt.Sprintf("fontsize=%d", fontSize),
		"line_spacing=12",
		"box=1",
		"boxcolor=black@0.5",
		"boxborderw=20",
		"x=(w-text_w)/2",
		"y=(h-text_h)/2",
	}
	if a.out.FontFile != "" {
		draw = append(draw, "fontfile="+escapeFilterPath(a.out.FontFile))
	}

	return []string{
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=black:s=%dx%d:d=%s:r=%d", a.out.Width, a.out.Height, dur, a.out.FPS),
		"-vf", "drawtext=" + strings.Join(draw, ":"),
		"-t", dur,
		"-c:v", "libx264", "-preset", "fast",
		"-pix_fmt", a.out.PixelFormat,
		"-an",
		out,
	}
}

// RenderSilence writes a silent stereo track of the given length.
func (a *Assembler) RenderSilence(ctx context.Context, seconds float64, path string) error {
	if seconds <= 0 {
		return fmt.Errorf("silence needs a positive duration")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	_, err := a.runner.Run(ctx, a.out.FFmpegPath,
		"-y",
		"-f", "lavfi",
		"-i", "anullsrc=channel_layout=stereo:sample_rate=44100",
		"-t", media.FormatSeconds(seconds),
		"-c:a", "libmp3lame", "-q:a", "4",
		path,
	)
	return err
}

// escapeFilterPath escapes a path used as a filter option value.
func escapeFilterPath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.ReplaceAll(path, ":", "\\:")
	path = strings.ReplaceAll(path, "'", "\\'")
	return path
}

// wrapText breaks narration into lines of at most width runes.
func wrapText(text string, width int) string {
	var lines []string
	var line []rune
	for _, word := range strings.Fields(text) {
		w := []rune(word)
		if len(line) > 0 && len(line)+1+len(w) > width {
			lines = append(lines, string(line))
			line = nil
		}
		if len(line) > 0 {
			line = append(line, ' ')
		}
		line = append(line, w...)
	}
	if len(line) > 0 {
		lines = append(lines, string(line))
	}
	return strings.Join(lines, "\n")
}
