package pika

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/Corphon/StoryReel/internal/config"
	"github.com/Corphon/StoryReel/internal/video"
)

func TestSubmit(t *testing.T) {
	tests := []struct {
		name      string
		jobStatus string
		want      video.ResultKind
	}{
		{"completed", "completed", video.ResultSuccess},
		{"failed", "failed", video.ResultFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got generateRequest
			var srv *httptest.Server
			srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/generate/video":
					json.NewDecoder(r.Body).Decode(&got)
					json.NewEncoder(w).Encode(map[string]string{"job_id": "j1"})
				case "/jobs/j1":
					json.NewEncoder(w).Encode(map[string]interface{}{
						"status": tt.jobStatus,
						"result": map[string]string{"video_url": srv.URL + "/out.mp4"},
					})
				case "/out.mp4":
					w.Write([]byte("pika"))
				}
			}))
			defer srv.Close()

			t.Setenv("TEST_PIKA_KEY", "k")
			p, _ := New(config.ProviderConfig{APIKeyEnv: "TEST_PIKA_KEY", BaseURL: srv.URL, PollInterval: time.Millisecond})
			res := p.Submit(t.Context(), video.ClipRequest{
				DurationSeconds: 10,
				AspectRatio:     "9:16",
				OutputPath:      filepath.Join(t.TempDir(), "clip.mp4"),
			})
			if res.Kind != tt.want {
				t.Fatalf("Expected %v, got %v (%s)", tt.want, res.Kind, res.Reason)
			}
			if got.AspectRatio != "vertical" || got.FPS != 24 {
				t.Errorf("Unexpected request %+v", got)
			}
		})
	}
}
