// internal/continuity/openai_imager.go
package continuity

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	apperrors "github.com/Corphon/StoryReel/internal/errors"
	"github.com/Corphon/StoryReel/internal/storage"
)

const referenceDir = "references"

// OpenAIImager renders a reference portrait with the Images API and stores it under the data dir.
type OpenAIImager struct {
	client     openai.Client
	model      string
	fs         *storage.FileStorage
	httpClient *http.Client
}

func NewOpenAIImager(apiKey, model string, fs *storage.FileStorage, opts ...option.RequestOption) *OpenAIImager {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIImager{
		client:     openai.NewClient(opts...),
		model:      model,
		fs:         fs,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

func (im *OpenAIImager) GenerateReference(ctx context.Context, key, descriptor string) (string, error) {
	prompt := "Full-body character reference sheet, neutral pose, plain background. " + descriptor

	resp, err := im.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          openai.ImageModel(im.model),
		N:              openai.Int(1),
		Size:           openai.ImageGenerateParamsSize1024x1024,
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", apperrors.ClassifyHTTPStatus("openai images", apiErr.StatusCode, apiErr.Message)
		}
		return "", apperrors.ClassifyTransportError("openai images", err)
	}
	if len(resp.Data) == 0 {
		return "", apperrors.NewTransientProviderError("openai images returned no data", nil)
	}

	var data []byte
	switch image := resp.Data[0]; {
	case image.B64JSON != "":
		data, err = base64.StdEncoding.DecodeString(image.B64JSON)
	case image.URL != "":
		data, err = im.download(ctx, image.URL)
	default:
		err = errors.New("image has neither data nor url")
	}
	if err != nil {
		return "", fmt.Errorf("read reference image: %w", err)
	}

	filename := fileName(key)
	filename = filename[:len(filename)-len(".json")] + ".png"
	if err := im.fs.SaveTextFile(referenceDir, filename, data); err != nil {
		return "", apperrors.NewPersistenceError("save reference image", err)
	}
	return im.fs.Path(referenceDir, filename), nil
}

func (im *OpenAIImager) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := im.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download image: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
