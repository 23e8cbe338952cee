package runway

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Corphon/StoryReel/internal/config"
	"github.com/Corphon/StoryReel/internal/video"
)

func newTestProvider(t *testing.T, baseURL string) video.Provider {
	t.Helper()
	t.Setenv("TEST_RUNWAY_KEY", "secret")
	p, err := New(config.ProviderConfig{
		Name:         "runway",
		APIKeyEnv:    "TEST_RUNWAY_KEY",
		BaseURL:      baseURL,
		PollInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestSubmitPollsAndDownloads(t *testing.T) {
	var polls atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/generations":
			var body generationRequest
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Duration != 10 || body.AspectRatio != "9:16" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"id": "gen-1"})
		case r.URL.Path == "/v1/generations/gen-1":
			if polls.Add(1) < 2 {
				json.NewEncoder(w).Encode(map[string]string{"status": "RUNNING"})
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status": "SUCCEEDED",
				"output": []map[string]string{{"url": srv.URL + "/files/clip.mp4"}},
			})
		case r.URL.Path == "/files/clip.mp4":
			w.Write([]byte("mp4-bytes"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "scene-1.mp4")
	res := newTestProvider(t, srv.URL).Submit(t.Context(), video.ClipRequest{
		Prompt:          "A crowded platform",
		DurationSeconds: 8,
		AspectRatio:     "9:16",
		OutputPath:      out,
	})
	if res.Kind != video.ResultSuccess {
		t.Fatalf("Expected success, got %v: %s", res.Kind, res.Reason)
	}
	data, err := os.ReadFile(out)
	if err != nil || string(data) != "mp4-bytes" {
		t.Errorf("Clip not downloaded: %q %v", data, err)
	}
	if polls.Load() != 2 {
		t.Errorf("Expected 2 polls, got %d", polls.Load())
	}
}

func TestSubmitClassifiesFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    video.ResultKind
	}{
		{
			name:    "rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) },
			want:    video.ResultTransient,
		},
		{
			name:    "server error",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
			want:    video.ResultTransient,
		},
		{
			name:    "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusUnauthorized) },
			want:    video.ResultFatal,
		},
		{
			name: "generation failed",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.Method == http.MethodPost {
					json.NewEncoder(w).Encode(map[string]string{"id": "gen-2"})
					return
				}
				json.NewEncoder(w).Encode(map[string]string{"status": "FAILED", "error": "content policy"})
			},
			want: video.ResultFatal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			res := newTestProvider(t, srv.URL).Submit(t.Context(), video.ClipRequest{
				DurationSeconds: 5,
				OutputPath:      filepath.Join(t.TempDir(), "clip.mp4"),
			})
			if res.Kind != tt.want {
				t.Errorf("Expected %v, got %v (%s)", tt.want, res.Kind, res.Reason)
			}
		})
	}
}

func TestSubmitSendsReferenceImage(t *testing.T) {
	ref := filepath.Join(t.TempDir(), "anna.png")
	png := []byte("\x89PNG\r\n\x1a\n-image")
	if err := os.WriteFile(ref, png, 0644); err != nil {
		t.Fatal(err)
	}

	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			var body generationRequest
			json.NewDecoder(r.Body).Decode(&body)
			got.Store(body.PromptImage)
		}
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	newTestProvider(t, srv.URL).Submit(t.Context(), video.ClipRequest{
		DurationSeconds: 5,
		ReferenceImages: []string{ref, "/refs/other.png"},
		OutputPath:      filepath.Join(t.TempDir(), "clip.mp4"),
	})
	want := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	if v, _ := got.Load().(string); v != want {
		t.Errorf("Expected prompt_image %q, got %q", want, v)
	}

	if img := promptImage([]string{"https://cdn.example.com/anna.png"}); img != "https://cdn.example.com/anna.png" {
		t.Errorf("Expected remote image passed through, got %q", img)
	}
	if img := promptImage([]string{filepath.Join(t.TempDir(), "missing.png")}); img != "" {
		t.Errorf("Expected unreadable image to be omitted, got %q", img)
	}
}

func TestSubmitWithoutKeyIsFatal(t *testing.T) {
	p, _ := New(config.ProviderConfig{Name: "runway", APIKeyEnv: "TEST_RUNWAY_UNSET"})
	if res := p.Submit(t.Context(), video.ClipRequest{}); res.Kind != video.ResultFatal {
		t.Errorf("Expected fatal result, got %v", res.Kind)
	}
}
