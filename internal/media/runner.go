// internal/media/runner.go
package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/Corphon/StoryReel/internal/models"
)

// Runner executes an external media tool and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec. Stderr is attached to the error.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s: %w: %s", name, err, tail(stderr.String(), 500))
	}
	return stdout.Bytes(), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return "..." + s[len(s)-n:]
	}
	return s
}

// Probe reads duration and video size with ffprobe. Width and height are zero
// for audio-only files.
func Probe(ctx context.Context, r Runner, ffprobe, path string) (models.MediaInfo, error) {
	out, err := r.Run(ctx, ffprobe,
		"-v", "error",
		"-show_entries", "format=duration:stream=width,height",
		"-of", "default=noprint_wrappers=1",
		path,
	)
	if err != nil {
		return models.MediaInfo{}, err
	}
	return parseProbe(string(out))
}

func parseProbe(out string) (models.MediaInfo, error) {
	var info models.MediaInfo
	seenDuration := false
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok || value == "N/A" {
			continue
		}
		switch key {
		case "duration":
			d, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return info, fmt.Errorf("parse duration %q: %w", value, err)
			}
			info.Duration = d
			seenDuration = true
		case "width":
			if info.Width == 0 {
				info.Width, _ = strconv.Atoi(value)
			}
		case "height":
			if info.Height == 0 {
				info.Height, _ = strconv.Atoi(value)
			}
		}
	}
	if !seenDuration {
		return info, fmt.Errorf("ffprobe reported no duration")
	}
	return info, nil
}

// FormatSeconds renders a duration for ffmpeg arguments.
func FormatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
