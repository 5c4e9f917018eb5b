// internal/model/message.go
package model

import "time"

// MediaType is the kind of media attachment the transport supports.
type MediaType string

const (
	MediaImage    MediaType = "image"
	MediaVideo    MediaType = "video"
	MediaDocument MediaType = "document"
	MediaAudio    MediaType = "audio"
)

func (m MediaType) Valid() bool {
	switch m {
	case MediaImage, MediaVideo, MediaDocument, MediaAudio:
		return true
	}
	return false
}

// Message is a template body plus an optional media reference.
// Immutable once its campaign is processing.
type Message struct {
	ID        int       `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Body      string    `db:"body" json:"body"`
	MediaType MediaType `db:"media_type" json:"media_type,omitempty"`
	MediaURL  string    `db:"media_url" json:"media_url,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// HasMedia reports whether the message carries a media attachment.
func (m *Message) HasMedia() bool {
	return m.MediaURL != ""
}
