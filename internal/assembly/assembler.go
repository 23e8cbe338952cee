// internal/assembly/assembler.go
package assembly

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Corphon/StoryReel/internal/config"
	apperrors "github.com/Corphon/StoryReel/internal/errors"
	"github.com/Corphon/StoryReel/internal/media"
	"github.com/Corphon/StoryReel/internal/models"
	"github.com/Corphon/StoryReel/internal/utils"
)

// DurationTolerance is the allowed drift between the artifact and the sum of its scenes.
const DurationTolerance = 0.5

// SceneMedia is the clip and narration track of one scene.
type SceneMedia struct {
	Number   int
	ClipPath string
	// AudioPath may be empty; the segment then gets a silent track.
	AudioPath string
	Duration  float64
}

// Request is everything Assemble needs for one chapter.
type Request struct {
	ChapterIndex int
	Scenes       []SceneMedia
	WorkDir      string
	OutputDir    string
}

// Result describes the written artifact.
type Result struct {
	Path     string
	Duration float64
	Width    int
	Height   int
}

// Assembler normalizes, aligns and concatenates scene media with ffmpeg.
type Assembler struct {
	runner media.Runner
	out    config.OutputConfig
	logger *utils.Logger
	now    func() time.Time
}

func NewAssembler(runner media.Runner, out config.OutputConfig) *Assembler {
	if runner == nil {
		runner = media.ExecRunner{}
	}
	return &Assembler{
		runner: runner,
		out:    out,
		logger: utils.GetLogger().With(map[string]interface{}{"component": "assembly"}),
		now:    time.Now,
	}
}

// OutputName is the timestamped artifact file name of a chapter.
func OutputName(chapterIndex int, at time.Time) string {
	return fmt.Sprintf("chapter-%03d-%s.mp4", chapterIndex, at.UTC().Format("20060102T150405Z"))
}

// videoFilter scales every input onto the canonical canvas.
func (a *Assembler) videoFilter() string {
	w, h := a.out.Width, a.out.Height
	var fit string
	if a.out.Fit == config.FitCrop {
		fit = fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d", w, h, w, h)
	} else {
		fit = fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:black", w, h, w, h)
	}
	return fmt.Sprintf("%s,setsar=1,fps=%d,format=%s", fit, a.out.FPS, a.out.PixelFormat)
}

// segmentArgs renders one scene at exactly its duration: the clip is trimmed or
// extended by cloning its last frame, the audio is padded with silence or trimmed.
func (a *Assembler) segmentArgs(s SceneMedia, out string) []string {
	dur := media.FormatSeconds(s.Duration)
	args := []string{"-y", "-i", s.ClipPath}
	if s.AudioPath != "" {
		args = append(args, "-i", s.AudioPath)
	} else {
		args = append(args, "-f", "lavfi", "-i", "anullsrc=channel_layout=stereo:sample_rate=44100")
	}

	vf := fmt.Sprintf("[0:v]%s,tpad=stop_mode=clone:stop_duration=%s,trim=duration=%s,setpts=PTS-STARTPTS[v]",
		a.videoFilter(), dur, dur)
	af := fmt.Sprintf("[1:a]aresample=44100,apad,atrim=duration=%s,asetpts=PTS-STARTPTS[a]", dur)

	return append(args,
		"-filter_complex", vf+";"+af,
		"-map", "[v]", "-map", "[a]",
		"-t", dur,
		"-c:v", "libx264", "-preset", "fast", "-crf", "22",
		"-pix_fmt", a.out.PixelFormat,
		"-r", fmt.Sprint(a.out.FPS),
		"-c:a", "aac", "-b:a", "192k", "-ar", "44100", "-ac", "2",
		out,
	)
}

// Assemble writes the chapter artifact. Scenes are ordered by number regardless
// of the order they finished in.
func (a *Assembler) Assemble(ctx context.Context, req Request) (Result, error) {
	if len(req.Scenes) == 0 {
		return Result{}, apperrors.NewValidationError("nothing to assemble", nil)
	}
	scenes := append([]SceneMedia(nil), req.Scenes...)
	sort.Slice(scenes, func(i, j int) bool { return scenes[i].Number < scenes[j].Number })

	if err := os.MkdirAll(req.WorkDir, 0755); err != nil {
		return Result{}, apperrors.NewProcessingError("create work dir", err)
	}
	if err := os.MkdirAll(req.OutputDir, 0755); err != nil {
		return Result{}, apperrors.NewProcessingError("create output dir", err)
	}

	log := a.logger.With(map[string]interface{}{"chapter": req.ChapterIndex})
	log.Info("assembling chapter", map[string]interface{}{"scenes": len(scenes)})

	var expected float64
	var list strings.Builder
	for _, s := range scenes {
		if s.Duration <= 0 {
			return Result{}, apperrors.NewValidationError(fmt.Sprintf("scene %d has no duration", s.Number), nil)
		}
		seg := filepath.Join(req.WorkDir, fmt.Sprintf("segment-%03d.mp4", s.Number))
		if _, err := a.runner.Run(ctx, a.out.FFmpegPath, a.segmentArgs(s, seg)...); err != nil {
			return Result{}, a.wrap(ctx, fmt.Sprintf("normalize scene %d", s.Number), err)
		}
		expected += s.Duration
		fmt.Fprintf(&list, "file '%s'\n", concatPath(seg))
	}

	listFile := filepath.Join(req.WorkDir, "concat.txt")
	if err := os.WriteFile(listFile, []byte(list.String()), 0644); err != nil {
		return Result{}, apperrors.NewProcessingError("write concat list", err)
	}

	final := filepath.Join(req.OutputDir, OutputName(req.ChapterIndex, a.now()))
	partial := final + ".part.mp4"
	_, err := a.runner.Run(ctx, a.out.FFmpegPath,
		"-y",
		"-f", "concat", "-safe", "0",
		"-i", listFile,
		"-c", "copy",
		"-movflags", "+faststart",
		partial,
	)
	if err != nil {
		os.Remove(partial)
		return Result{}, a.wrap(ctx, "concatenate segments", err)
	}

	info, err := media.Probe(ctx, a.runner, a.out.FFprobePath, partial)
	if err != nil {
		os.Remove(partial)
		return Result{}, a.wrap(ctx, "probe artifact", err)
	}
	if err := a.check(info, expected); err != nil {
		os.Remove(partial)
		return Result{}, err
	}
	if err := os.Rename(partial, final); err != nil {
		return Result{}, apperrors.NewProcessingError("publish artifact", err)
	}

	log.Info("chapter assembled", map[string]interface{}{
		"path":     final,
		"duration": info.Duration,
		"expected": expected,
	})
	return Result{Path: final, Duration: info.Duration, Width: info.Width, Height: info.Height}, nil
}

// check enforces the artifact invariants: canonical size and summed duration.
func (a *Assembler) check(info models.MediaInfo, expected float64) error {
	if info.Width != a.out.Width || info.Height != a.out.Height {
		return apperrors.NewProcessingError(
			fmt.Sprintf("artifact is %dx%d, want %dx%d", info.Width, info.Height, a.out.Width, a.out.Height), nil)
	}
	if math.Abs(info.Duration-expected) > DurationTolerance {
		return apperrors.NewProcessingError(
			fmt.Sprintf("artifact lasts %.2fs, scenes sum to %.2fs", info.Duration, expected), nil)
	}
	return nil
}

func (a *Assembler) wrap(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return apperrors.NewProcessingError(op, err)
}

// concatPath quotes a path for the concat demuxer list.
func concatPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return strings.ReplaceAll(p, "'", `'\''`)
}
