// internal/models/scene.go
package models

// Scene is one segment of a VideoScript, producing one clip and one narration track.
type Scene struct {
	Number            int      `json:"number"`
	Narration         string   `json:"narration"`
	VisualDescription string   `json:"visual_description"`
	VisualPrompt      string   `json:"visual_prompt,omitempty"`
	DurationSeconds   float64  `json:"duration_seconds"`
	Characters        []string `json:"characters"`
	Transition        string   `json:"transition,omitempty"`
	Mood              string   `json:"mood"`
	CameraAngle       string   `json:"camera_angle"`
}

// SceneOutput is what the generation stages produced for one scene.
type SceneOutput struct {
	SceneNumber int     `json:"scene_number"`
	ClipPath    string  `json:"clip_path"`
	AudioPath   string  `json:"audio_path"`
	Duration    float64 `json:"duration"`
	Provider    string  `json:"provider"`
	Fallback    bool    `json:"fallback"`
	SilentAudio bool    `json:"silent_audio"`
	Cost        float64 `json:"cost"`
}
