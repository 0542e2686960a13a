package entities

import (
	"github.com/google/uuid"
	"time"
)

type AudioAsset struct {
	ID              uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	FileName        string    `json:"file_name" gorm:"type:varchar(255);not null"`
	ContentType     string    `json:"content_type" gorm:"type:varchar(100)"`
	SizeBytes       int64     `json:"size_bytes" gorm:"type:bigint;not null"`
	DurationSeconds float64   `json:"duration_seconds" gorm:"not null"`
	SampleRate      int       `json:"sample_rate" gorm:"type:integer"`
	Channels        int       `json:"channels" gorm:"type:integer"`
	ObjectName      string    `json:"object_name" gorm:"type:varchar(500);not null"`
	CreatedAt       time.Time `json:"created_at" gorm:"not null"`
}

func (AudioAsset) TableName() string {
	return "audio_assets"
}
