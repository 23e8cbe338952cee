// internal/video/providers/pika/pika.go
package pika

import (
	"context"
	"math"
	"time"

	"github.com/Corphon/StoryReel/internal/config"
	"github.com/Corphon/StoryReel/internal/video"
	"github.com/Corphon/StoryReel/internal/video/providers/taskapi"
)

const defaultBaseURL = "https://api.pika.art"

func init() {
	video.Register("pika", New)
}

// Provider generates clips through the Pika job API.
type Provider struct {
	client        *taskapi.Client
	costPerSecond float64
}

func New(cfg config.ProviderConfig) (video.Provider, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Provider{
		client:        taskapi.New("pika", baseURL, cfg.APIKey(), cfg.PollInterval),
		costPerSecond: cfg.CostPerSecond,
	}, nil
}

func (p *Provider) Name() string                  { return "pika" }
func (p *Provider) CostPerSecond() float64        { return p.costPerSecond }
func (p *Provider) TypicalLatency() time.Duration { return 2 * time.Minute }

type generateRequest struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio"`
	Duration    int    `json:"duration"`
	FPS         int    `json:"fps"`
	Motion      int    `json:"motion"`
}

type job struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Error  string `json:"error"`
	Result struct {
		VideoURL string `json:"video_url"`
	} `json:"result"`
}

// orientation converts a ratio into the vendor's vertical/horizontal vocabulary.
func orientation(aspectRatio string) string {
	if aspectRatio == "9:16" {
		return "vertical"
	}
	return "horizontal"
}

func (p *Provider) Submit(ctx context.Context, req video.ClipRequest) video.Result {
	if p.client.APIKey == "" {
		return video.FatalFailure("pika api key not configured")
	}

	body := generateRequest{
		Prompt:      req.Prompt,
		AspectRatio: orientation(req.AspectRatio),
		Duration:    int(math.Ceil(req.DurationSeconds)),
		FPS:         24,
		Motion:      1,
	}

	var created job
	if err := p.client.PostJSON(ctx, "/generate/video", body, &created); err != nil {
		return video.ResultFromError(err)
	}
	if created.JobID == "" {
		return video.TransientFailure("pika returned no job id")
	}

	url, err := p.client.Poll(ctx, func(ctx context.Context) (taskapi.Status, error) {
		var j job
		if err := p.client.GetJSON(ctx, "/jobs/"+created.JobID, &j); err != nil {
			return taskapi.Status{}, err
		}
		switch j.Status {
		case "completed":
			return taskapi.Status{Done: true, VideoURL: j.Result.VideoURL}, nil
		case "failed":
			return taskapi.Status{Failed: true, Reason: j.Error}, nil
		default:
			return taskapi.Status{}, nil
		}
	})
	if err != nil {
		return video.ResultFromError(err)
	}
	return p.client.Fetch(ctx, url, req)
}
