package workflow

import (
	"fmt"
	"time"

	"mediagen_back/generations"
	"mediagen_back/inference"
)

// Inputs is everything a caller supplies before a run. Which fields matter
// depends on the media type.
type Inputs struct {
	ProjectName       string `json:"project_name"`
	Model             string `json:"model"`
	Prompt            string `json:"prompt"`
	ImageURL          string `json:"image_url"`
	SourceVideoURL    string `json:"source_video_url"`
	SourceAudioURL    string `json:"source_audio_url"`
	ReferenceAudioURL string `json:"reference_audio_url"`
}

// assetField describes one uploadable input slot of a media type.
type assetField struct {
	// Name is the multipart form field and JSON key for the slot.
	Name string
	// Prefix and Kind build the interim object name for the upload.
	Prefix string
	Kind   string
	assign func(*Inputs, string)
	value  func(Inputs) string
}

// MediaType is the static description of one generator surface: its model
// catalog, required inputs, request payload shape and output handling.
type MediaType struct {
	Name        string
	Models      []string
	ResultKind  string
	Extension   string
	NeedsPrompt bool
	Keywords    bool

	AssetFields []assetField

	payload      func(Inputs) map[string]any
	requiredKeys []string
	objectName   func(jobID string, now time.Time) string
}

var mediaTypes = map[string]*MediaType{
	generations.TypeBroll: {
		Name:        generations.TypeBroll,
		Models:      []string{"fal-ai/minimax/video-01-live", "fal-ai/flux-pro/v1.1-ultra"},
		ResultKind:  "video",
		Extension:   ".mp4",
		NeedsPrompt: true,
		Keywords:    true,
		payload: func(in Inputs) map[string]any {
			return map[string]any{"prompt": in.Prompt}
		},
		requiredKeys: []string{"prompt"},
		objectName: func(jobID string, _ time.Time) string {
			return fmt.Sprintf("broll/%s.mp4", jobID)
		},
	},
	generations.TypeAudio: {
		Name:        generations.TypeAudio,
		Models:      []string{"fal-ai/f5-tts"},
		ResultKind:  "audio",
		Extension:   ".wav",
		NeedsPrompt: true,
		AssetFields: []assetField{
			{
				Name:   "reference_audio",
				Prefix: "reference-audio",
				assign: func(in *Inputs, url string) { in.ReferenceAudioURL = url },
				value:  func(in Inputs) string { return in.ReferenceAudioURL },
			},
		},
		payload: func(in Inputs) map[string]any {
			return map[string]any{"gen_text": in.Prompt, "ref_audio_url": in.ReferenceAudioURL}
		},
		requiredKeys: []string{"gen_text", "ref_audio_url"},
		objectName: func(jobID string, _ time.Time) string {
			return fmt.Sprintf("audio/%s.wav", jobID)
		},
	},
	generations.TypeLipsync: {
		Name:       generations.TypeLipsync,
		Models:     []string{"fal-ai/sync-lipsync"},
		ResultKind: "video",
		Extension:  ".mp4",
		AssetFields: []assetField{
			{
				Name:   "source_video",
				Prefix: "temp",
				Kind:   "video",
				assign: func(in *Inputs, url string) { in.SourceVideoURL = url },
				value:  func(in Inputs) string { return in.SourceVideoURL },
			},
			{
				Name:   "source_audio",
				Prefix: "temp",
				Kind:   "audio",
				assign: func(in *Inputs, url string) { in.SourceAudioURL = url },
				value:  func(in Inputs) string { return in.SourceAudioURL },
			},
		},
		payload: func(in Inputs) map[string]any {
			return map[string]any{"video_url": in.SourceVideoURL, "audio_url": in.SourceAudioURL}
		},
		requiredKeys: []string{"video_url", "audio_url"},
		objectName: func(_ string, now time.Time) string {
			return fmt.Sprintf("lipsync/output-%d.mp4", now.UnixMilli())
		},
	},
	generations.TypeImageToVideo: {
		Name:        generations.TypeImageToVideo,
		Models:      []string{"fal-ai/minimax/video-01-live/image-to-video"},
		ResultKind:  "video",
		Extension:   ".mp4",
		NeedsPrompt: true,
		AssetFields: []assetField{
			{
				Name:   "image",
				Prefix: "temp",
				Kind:   "image",
				assign: func(in *Inputs, url string) { in.ImageURL = url },
				value:  func(in Inputs) string { return in.ImageURL },
			},
		},
		payload: func(in Inputs) map[string]any {
			return map[string]any{"prompt": in.Prompt, "image_url": in.ImageURL}
		},
		requiredKeys: []string{"prompt", "image_url"},
		objectName: func(jobID string, _ time.Time) string {
			return fmt.Sprintf("image-to-video/%s.mp4", jobID)
		},
	},
}

// LookupType resolves a media type by name.
func LookupType(name string) (*MediaType, bool) {
	mt, ok := mediaTypes[name]
	return mt, ok
}

// TypeNames lists the supported media types in a stable order.
func TypeNames() []string {
	return []string{
		generations.TypeBroll,
		generations.TypeAudio,
		generations.TypeLipsync,
		generations.TypeImageToVideo,
	}
}

func (t *MediaType) field(name string) (*assetField, bool) {
	for i := range t.AssetFields {
		if t.AssetFields[i].Name == name {
			return &t.AssetFields[i], true
		}
	}
	return nil, false
}

// tempObjectName builds the interim storage path for an uploaded input file.
func (f *assetField) tempObjectName(filename string, now time.Time) string {
	if f.Kind == "" {
		return fmt.Sprintf("%s/%d-%s", f.Prefix, now.UnixMilli(), filename)
	}
	return fmt.Sprintf("%s/%s-%d-%s", f.Prefix, f.Kind, now.UnixMilli(), filename)
}

// missingInputs lists the human-readable names of inputs the run still needs.
func (t *MediaType) missingInputs(in Inputs) []string {
	var missing []string
	if in.Model == "" {
		missing = append(missing, "model")
	}
	if t.NeedsPrompt && in.Prompt == "" {
		missing = append(missing, "prompt")
	}
	for _, f := range t.AssetFields {
		if f.value(in) == "" {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

// outputURL extracts the type's output location from an inference result.
func (t *MediaType) outputURL(result inference.Result) string {
	if t.ResultKind == "audio" {
		return result.AudioURL()
	}
	return result.VideoURL()
}
