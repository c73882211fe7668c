package workflow

import (
	"testing"
	"time"

	"mediagen_back/generations"
	"mediagen_back/inference"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupTypeCoversEveryName(t *testing.T) {
	for _, name := range TypeNames() {
		mediaType, ok := LookupType(name)
		require.True(t, ok, name)
		assert.Equal(t, name, mediaType.Name)
		assert.NotEmpty(t, mediaType.Models)
	}

	_, ok := LookupType("hologram")
	assert.False(t, ok)
}

func TestMissingInputsPerType(t *testing.T) {
	full := Inputs{
		Model:             "m",
		Prompt:            "p",
		ImageURL:          "i",
		SourceVideoURL:    "v",
		SourceAudioURL:    "a",
		ReferenceAudioURL: "r",
	}

	tests := []struct {
		typeName string
		inputs   Inputs
		missing  []string
	}{
		{generations.TypeBroll, Inputs{}, []string{"model", "prompt"}},
		{generations.TypeBroll, full, nil},
		{generations.TypeAudio, Inputs{Model: "m", Prompt: "p"}, []string{"reference_audio"}},
		{generations.TypeLipsync, Inputs{Model: "m"}, []string{"source_video", "source_audio"}},
		{generations.TypeLipsync, Inputs{Model: "m", SourceVideoURL: "v", SourceAudioURL: "a"}, nil},
		{generations.TypeImageToVideo, Inputs{Model: "m", Prompt: "p"}, []string{"image"}},
	}

	for _, tt := range tests {
		mediaType := mustType(t, tt.typeName)
		assert.Equal(t, tt.missing, mediaType.missingInputs(tt.inputs), tt.typeName)
	}
}

func TestLipsyncRequiresNoPrompt(t *testing.T) {
	mediaType := mustType(t, generations.TypeLipsync)
	assert.False(t, mediaType.NeedsPrompt)
}

func TestPayloadShapes(t *testing.T) {
	in := Inputs{
		Prompt:            "a cat",
		ImageURL:          "https://s/img.png",
		SourceVideoURL:    "https://s/v.mp4",
		SourceAudioURL:    "https://s/a.wav",
		ReferenceAudioURL: "https://s/ref.wav",
	}

	assert.Equal(t, map[string]any{"prompt": "a cat"},
		mustType(t, generations.TypeBroll).payload(in))
	assert.Equal(t, map[string]any{"gen_text": "a cat", "ref_audio_url": "https://s/ref.wav"},
		mustType(t, generations.TypeAudio).payload(in))
	assert.Equal(t, map[string]any{"video_url": "https://s/v.mp4", "audio_url": "https://s/a.wav"},
		mustType(t, generations.TypeLipsync).payload(in))
	assert.Equal(t, map[string]any{"prompt": "a cat", "image_url": "https://s/img.png"},
		mustType(t, generations.TypeImageToVideo).payload(in))
}

func TestDurableObjectNames(t *testing.T) {
	now := time.UnixMilli(1700000000000)

	assert.Equal(t, "broll/job-1.mp4", mustType(t, generations.TypeBroll).objectName("job-1", now))
	assert.Equal(t, "audio/job-1.wav", mustType(t, generations.TypeAudio).objectName("job-1", now))
	assert.Equal(t, "lipsync/output-1700000000000.mp4", mustType(t, generations.TypeLipsync).objectName("job-1", now))
	assert.Equal(t, "image-to-video/job-1.mp4", mustType(t, generations.TypeImageToVideo).objectName("job-1", now))
}

func TestOutputURLSelectsResultKind(t *testing.T) {
	result := inference.Result{
		"video":     map[string]any{"url": "https://i/out.mp4"},
		"audio_url": map[string]any{"url": "https://i/out.wav"},
	}

	assert.Equal(t, "https://i/out.mp4", mustType(t, generations.TypeBroll).outputURL(result))
	assert.Equal(t, "https://i/out.wav", mustType(t, generations.TypeAudio).outputURL(result))
}

func TestOnlyBrollWantsKeywords(t *testing.T) {
	for _, name := range TypeNames() {
		mediaType := mustType(t, name)
		assert.Equal(t, name == generations.TypeBroll, mediaType.Keywords, name)
	}
}
