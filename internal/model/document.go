package model

import (
	"strings"
	"time"
)

// Document represents one uploaded file belonging to a user.
// StorageKey locates the bytes in object storage and is never serialised to clients;
// all client access goes through signed, time-limited URLs.
type Document struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	DisplayName string    `json:"display_name"`
	StorageKey  string    `json:"-"`
	Category    Category  `json:"category"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// Category classifies a document. Informational only, except for upload validation.
type Category string

const (
	CategoryPassport   Category = "passport"
	CategoryTranscript Category = "transcript"
	CategoryResume     Category = "resume"
	CategoryOther      Category = "other"
)

// Categories lists every accepted category.
var Categories = []Category{CategoryPassport, CategoryTranscript, CategoryResume, CategoryOther}

// ParseCategory normalises s and reports whether it names a known category.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, true
		}
	}
	return "", false
}
