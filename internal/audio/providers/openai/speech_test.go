package openai

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/openai/openai-go/option"

	"github.com/Corphon/StoryReel/internal/config"
	apperrors "github.com/Corphon/StoryReel/internal/errors"
)

func TestSynthesizeWritesTrack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3-mp3"))
	}))
	defer srv.Close()

	s := New(config.AudioConfig{Model: "tts-1", Voice: "alloy"},
		option.WithAPIKey("k"), option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	path := filepath.Join(t.TempDir(), "a", "scene-1.mp3")

	track, err := s.Synthesize(t.Context(), "Steam rolls across the platform.", 8, path)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "ID3-mp3" || track.Silent || track.DurationSeconds != 8 {
		t.Errorf("Unexpected track %+v data %q", track, data)
	}
}

func TestSynthesizeClassifiesErrors(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tt.status)
			w.Write([]byte(`{"error":{"message":"nope","type":"x","code":"y"}}`))
		}))

		s := New(config.AudioConfig{Model: "tts-1", Voice: "alloy"},
			option.WithAPIKey("k"), option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
		_, err := s.Synthesize(t.Context(), "text", 3, filepath.Join(t.TempDir(), "x.mp3"))
		srv.Close()

		if apperrors.IsTransientProviderError(err) != tt.transient {
			t.Errorf("status %d: unexpected classification %v", tt.status, err)
		}
		if !tt.transient && !apperrors.IsFatalProviderError(err) {
			t.Errorf("status %d: expected fatal error, got %v", tt.status, err)
		}
	}
}
