// internal/script/schema.go
package script

import (
	"encoding/json"
	"strings"

	"github.com/invopop/jsonschema"
)

// GenerateSchema reflects T into a strict JSON schema for structured outputs.
func GenerateSchema[T any]() interface{} {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

// scriptResponse is the structured output requested from the text model.
type scriptResponse struct {
	Title       string          `json:"title" jsonschema_description:"Short title of the video for this chapter."`
	TimePeriod  string          `json:"time_period" jsonschema_description:"The historical period or era of the chapter, declared once for the whole video."`
	Setting     string          `json:"setting" jsonschema_description:"The main location of the chapter, declared once for the whole video."`
	VisualStyle string          `json:"visual_style" jsonschema_description:"Overall visual style shared by every scene."`
	Scenes      []sceneResponse `json:"scenes" jsonschema_description:"The scenes of the video in order."`
}

type sceneResponse struct {
	Narration         string   `json:"narration" jsonschema_description:"Narration spoken over the scene."`
	VisualDescription string   `json:"visual_description" jsonschema_description:"What the camera shows, without naming the time period or setting again."`
	DurationSeconds   float64  `json:"duration_seconds" jsonschema_description:"Approximate duration of the scene in seconds."`
	Characters        []string `json:"characters" jsonschema_description:"Full names of the characters visible in the scene."`
	Transition        string   `json:"transition" jsonschema_description:"How this scene follows from the previous one. Empty only for the first scene."`
	Mood              string   `json:"mood" jsonschema_description:"Emotional tone of the scene."`
	CameraAngle       string   `json:"camera_angle" jsonschema_description:"Camera angle or movement, e.g. wide shot, close-up, tracking shot."`
}

var scriptResponseSchema = GenerateSchema[scriptResponse]()

// decodeResponse parses model output, tolerating markdown code fences around the JSON.
func decodeResponse(text string) (*scriptResponse, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		text = text[start : end+1]
	}

	var resp scriptResponse
	decoder := json.NewDecoder(strings.NewReader(text))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
