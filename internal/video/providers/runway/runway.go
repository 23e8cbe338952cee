// internal/video/providers/runway/runway.go
package runway

import (
	"context"
	"encoding/base64"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Corphon/StoryReel/internal/config"
	"github.com/Corphon/StoryReel/internal/video"
	"github.com/Corphon/StoryReel/internal/video/providers/taskapi"
)

const (
	defaultBaseURL = "https://api.runwayml.com"
	defaultModel   = "gen3a_turbo"
)

func init() {
	video.Register("runway", New)
}

// Provider generates clips through the RunwayML generations API.
type Provider struct {
	client        *taskapi.Client
	model         string
	costPerSecond float64
}

func New(cfg config.ProviderConfig) (video.Provider, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &Provider{
		client:        taskapi.New("runway", baseURL, cfg.APIKey(), cfg.PollInterval),
		model:         model,
		costPerSecond: cfg.CostPerSecond,
	}, nil
}

func (p *Provider) Name() string                  { return "runway" }
func (p *Provider) CostPerSecond() float64        { return p.costPerSecond }
func (p *Provider) TypicalLatency() time.Duration { return 90 * time.Second }

type generationRequest struct {
	Prompt      string `json:"prompt"`
	Model       string `json:"model"`
	AspectRatio string `json:"aspect_ratio"`
	Duration    int    `json:"duration"`
	Resolution  string `json:"resolution"`
	PromptImage string `json:"prompt_image,omitempty"`
}

type generation struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
	Output []struct {
		URL string `json:"url"`
	} `json:"output"`
}

// promptImage returns the first reference image as a URL runway accepts.
// Local files are inlined as data URIs; an unreadable file sends the text prompt alone.
func promptImage(refs []string) string {
	if len(refs) == 0 || refs[0] == "" {
		return ""
	}
	ref := refs[0]
	if strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "data:") {
		return ref
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return ""
	}
	return "data:" + http.DetectContentType(data) + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// clipLength maps a scene duration onto the 5 or 10 second lengths the model renders.
func clipLength(seconds float64) int {
	if seconds > 5 {
		return 10
	}
	return 5
}

func (p *Provider) Submit(ctx context.Context, req video.ClipRequest) video.Result {
	if p.client.APIKey == "" {
		return video.FatalFailure("runway api key not configured")
	}

	body := generationRequest{
		Prompt:      req.Prompt,
		Model:       p.model,
		AspectRatio: req.AspectRatio,
		Duration:    clipLength(req.DurationSeconds),
		Resolution:  "720p",
		PromptImage: promptImage(req.ReferenceImages),
	}

	var created generation
	if err := p.client.PostJSON(ctx, "/v1/generations", body, &created); err != nil {
		return video.ResultFromError(err)
	}
	if created.ID == "" {
		return video.TransientFailure("runway returned no generation id")
	}

	url, err := p.client.Poll(ctx, func(ctx context.Context) (taskapi.Status, error) {
		var g generation
		if err := p.client.GetJSON(ctx, "/v1/generations/"+created.ID, &g); err != nil {
			return taskapi.Status{}, err
		}
		switch g.Status {
		case "SUCCEEDED":
			st := taskapi.Status{Done: true}
			if len(g.Output) > 0 {
				st.VideoURL = g.Output[0].URL
			}
			return st, nil
		case "FAILED":
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
