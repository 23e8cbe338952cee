// internal/video/providers/taskapi/client.go
package taskapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/Corphon/StoryReel/internal/errors"
	"github.com/Corphon/StoryReel/internal/video"
)

// Client talks to an asynchronous "create task, poll, download" video API.
// Every error it returns is typed as transient or fatal.
type Client struct {
	Vendor       string
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	HTTP         *http.Client
}

func New(vendor, baseURL, apiKey string, pollInterval time.Duration) *Client {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Client{
		Vendor:       vendor,
		BaseURL:      baseURL,
		APIKey:       apiKey,
		PollInterval: pollInterval,
		HTTP:         &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *Client) do(ctx context.Context, method, url string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return apperrors.NewFatalProviderError(c.Vendor+": encode request", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return apperrors.NewFatalProviderError(c.Vendor+": build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return apperrors.ClassifyTransportError(c.Vendor, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apperrors.ClassifyHTTPStatus(c.Vendor, resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NewTransientProviderError(c.Vendor+": undecodable response", err)
	}
	return nil
}

// PostJSON sends in to BaseURL+path and decodes the answer into out.
func (c *Client) PostJSON(ctx context.Context, path string, in, out interface{}) error {
	return c.do(ctx, http.MethodPost, c.BaseURL+path, in, out)
}

// GetJSON fetches BaseURL+path into out.
func (c *Client) GetJSON(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, c.BaseURL+path, nil, out)
}

// Status is one poll answer, already mapped from the vendor's vocabulary.
type Status struct {
	Done     bool
	Failed   bool
	VideoURL string
	Reason   string
}

// Poll calls check every PollInterval until the task is done, has failed, or
// ctx expires. A failed task is fatal: the vendor rejected the content.
func (c *Client) Poll(ctx context.Context, check func(ctx context.Context) (Status, error)) (string, error) {
	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()

	for {
		st, err := check(ctx)
		if err != nil {
			return "", err
		}
		switch {
		case st.Failed:
			reason := st.Reason
			if reason == "" {
				reason = "task failed"
			}
			return "", apperrors.NewFatalProviderError(fmt.Sprintf("%s: %s", c.Vendor, reason), nil)
		case st.Done:
			if st.VideoURL == "" {
				return "", apperrors.NewTransientProviderError(c.Vendor+": task finished without a video url", nil)
			}
			return st.VideoURL, nil
		}

		select {
		case <-ctx.Done():
			return "", apperrors.ClassifyTransportError(c.Vendor, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Download streams url into path through a temp file so a partial download
// never looks like a finished clip.
func (c *Client) Download(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return apperrors.NewFatalProviderError(c.Vendor+": build download request", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return apperrors.ClassifyTransportError(c.Vendor, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return apperrors.ClassifyHTTPStatus(c.Vendor, resp.StatusCode, string(data))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return apperrors.NewFatalProviderError(c.Vendor+": create clip directory", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*.tmp")
	if err != nil {
		return apperrors.NewFatalProviderError(c.Vendor+": create temp file", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return apperrors.ClassifyTransportError(c.Vendor, err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.NewTransientProviderError(c.Vendor+": close temp file", err)
	}
	return os.Rename(tmp.Name(), path)
}

// Fetch downloads the finished video and turns err into a Result.
func (c *Client) Fetch(ctx context.Context, url string, req video.ClipRequest) video.Result {
	if err := c.Download(ctx, url, req.OutputPath); err != nil {
		return video.ResultFromError(err)
	}
	return video.Success(video.Clip{Path: req.OutputPath, DurationSeconds: req.DurationSeconds})
}
