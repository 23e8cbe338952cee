// internal/video/providers/stability/stability.go
package stability

import (
	"context"
	"math"
	"time"

	"github.com/Corphon/StoryReel/internal/config"
	"github.com/Corphon/StoryReel/internal/video"
	"github.com/Corphon/StoryReel/internal/video/providers/taskapi"
)

const defaultBaseURL = "https://api.stability.ai"

func init() {
	video.Register("stability", New)
}

// Provider generates clips through the Stability video endpoint.
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
		client:        taskapi.New("stability", baseURL, cfg.APIKey(), cfg.PollInterval),
		costPerSecond: cfg.CostPerSecond,
	}, nil
}

func (p *Provider) Name() string                  { return "stability" }
func (p *Provider) CostPerSecond() float64        { return p.costPerSecond }
func (p *Provider) TypicalLatency() time.Duration { return 60 * time.Second }

type generateRequest struct {
	Prompt         string `json:"prompt"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Duration       int    `json:"duration"`
	FPS            int    `json:"fps"`
	MotionBucketID int    `json:"motion_bucket_id"`
}

type generation struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
	Video  string `json:"video"`
}

// dimensions returns the render size the endpoint accepts for a ratio.
func dimensions(aspectRatio string) (int, int) {
	switch aspectRatio {
	case "9:16":
		return 576, 1024
	case "16:9":
		return 1024, 576
	default:
		return 1024, 1024
	}
}

const generatePath = "/v2beta/video/generate"

func (p *Provider) Submit(ctx context.Context, req video.ClipRequest) video.Result {
	if p.client.APIKey == "" {
		return video.FatalFailure("stability api key not configured")
	}

	w, h := dimensions(req.AspectRatio)
	body := generateRequest{
		Prompt:         req.Prompt,
		Width:          w,
		Height:         h,
		Duration:       int(math.Ceil(req.DurationSeconds)),
		FPS:            24,
		MotionBucketID: 127,
	}

	var created generation
	if err := p.client.PostJSON(ctx, generatePath, body, &created); err != nil {
		return video.ResultFromError(err)
	}
	if created.ID == "" {
		return video.TransientFailure("stability returned no generation id")
	}

	url, err := p.client.Poll(ctx, func(ctx context.Context) (taskapi.Status, error) {
		var g generation
		if err := p.client.GetJSON(ctx, generatePath+"/"+created.ID, &g); err != nil {
			return taskapi.Status{}, err
		}
		switch g.Status {
		case "complete":
			return taskapi.Status{Done: true, VideoURL: g.Video}, nil
		case "failed":
			return taskapi.Status{Failed: true, Reason: g.Error}, nil
		default:
			return taskapi.Status{}, nil
		}
	})
	if err != nil {
		return video.ResultFromError(err)
	}
	return p.client.Fetch(ctx, url, req)
}
