package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "github.com/Corphon/StoryReel/internal/errors"
	"github.com/Corphon/StoryReel/internal/llm"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p := &Provider{apiVersion: "2023-06-01", defaultModel: "test-model"}
	if err := p.Initialize(map[string]string{"api_key": "k", "base_url": server.URL}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return p
}

func TestCompleteTextEmbedsSchema(t *testing.T) {
	var gotSystem string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "k" {
			t.Errorf("Missing api key header")
		}
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		gotSystem, _ = body["system"].(string)
		w.Write([]byte(`{"model":"test-model","stop_reason":"end_turn","content":[{"type":"text","text":"{\"ok\":true}"}],"usage":{"input_tokens":3,"output_tokens":4}}`))
	})

	resp, err := p.CompleteText(context.Background(), llm.CompletionRequest{
		Prompt:       "hi",
		SystemPrompt: "be brief",
		Schema:       &llm.ResponseSchema{Name: "x", Schema: map[string]interface{}{"type": "object"}},
	})
	if err != nil {
		t.Fatalf("CompleteText: %v", err)
	}
	if resp.Text != `{"ok":true}` || resp.OutputTokens != 4 {
		t.Errorf("Unexpected response %+v", resp)
	}
	if !strings.Contains(gotSystem, `"type":"object"`) || !strings.HasPrefix(gotSystem, "be brief") {
		t.Errorf("Schema not embedded in system prompt: %q", gotSystem)
	}
}

func TestCompleteTextClassifiesStatus(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{529, true},
		{http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":{"type":"x"}}`))
			})
			_, err := p.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "hi"})
			if apperrors.IsTransientProviderError(err) != tt.transient {
				t.Errorf("status %d: got %v", tt.status, err)
			}
		})
	}
}

func TestInitializeRequiresKey(t *testing.T) {
	p := &Provider{}
	if err := p.Initialize(map[string]string{}); err == nil {
		t.Errorf("Expected error without api key")
	}
}
