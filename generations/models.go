package generations

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Record types, one per generator surface.
const (
	TypeBroll        = "broll"
	TypeAudio        = "audio"
	TypeLipsync      = "lipsync"
	TypeImageToVideo = "image-to-video"
)

// KnownType reports whether value names one of the persisted record types.
func KnownType(value string) bool {
	switch strings.TrimSpace(value) {
	case TypeBroll, TypeAudio, TypeLipsync, TypeImageToVideo:
		return true
	default:
		return false
	}
}

// Record is one completed and confirmed generation. Records are append-only:
// they are written once by the workflow save step and never updated.
type Record struct {
	DocID       uint    `gorm:"primaryKey" json:"doc_id"`
	JobID       string  `gorm:"size:128;not null;index" json:"id"`
	Type        string  `gorm:"size:32;not null;index" json:"type"`
	ProjectName *string `gorm:"size:128" json:"project_name,omitempty"`
	Model       string  `gorm:"size:128;not null" json:"model"`
	Prompt      *string `gorm:"type:text" json:"prompt,omitempty"`

	ImageURL          *string `gorm:"size:512" json:"image_url,omitempty"`
	SourceVideoURL    *string `gorm:"size:512" json:"source_video_url,omitempty"`
	SourceAudioURL    *string `gorm:"size:512" json:"source_audio_url,omitempty"`
	ReferenceAudioURL *string `gorm:"size:512" json:"reference_audio_url,omitempty"`

	// OutputURL always points at the durable media store, never at the
	// temporary inference-API URL.
	OutputURL string `gorm:"size:512;not null" json:"output_url"`

	Keywords datatypes.JSON `gorm:"type:json" json:"keywords,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// TableName pins the Record model to the generations collection.
func (Record) TableName() string {
	return "generations"
}

// SetKeywords encodes the keyword list into the JSON column. A nil or empty
// list is stored as an empty JSON array, not NULL.
func (r *Record) SetKeywords(keywords []string) {
	if r == nil {
		return
	}
	if keywords == nil {
		keywords = []string{}
	}
	encoded, err := json.Marshal(keywords)
	if err != nil {
		encoded = []byte("[]")
	}
	r.Keywords = datatypes.JSON(encoded)
}

// KeywordList decodes the keyword column. Missing or malformed data yields nil.
func (r *Record) KeywordList() []string {
	if r == nil || len(r.Keywords) == 0 {
		return nil
	}
	var keywords []string
	if err := json.Unmarshal(r.Keywords, &keywords); err != nil {
		return nil
	}
	return keywords
}

// Project returns the trimmed project name, or "" when unset.
func (r *Record) Project() string {
	if r == nil || r.ProjectName == nil {
		return ""
	}
	return strings.TrimSpace(*r.ProjectName)
}
