package service

import (
	"fmt"
	"mime"
	"strings"

	"studentdocs/internal/config"
	"studentdocs/internal/model"
)

// UploadPolicy is the boundary check applied to every upload before anything is stored.
type UploadPolicy struct {
	MaxSizeBytes int64
	AllowedTypes map[model.Category][]string
}

// NewUploadPolicy converts the configured allow-list. Unknown categories are ignored.
func NewUploadPolicy(cfg config.UploadConfig) UploadPolicy {
	p := UploadPolicy{
		MaxSizeBytes: cfg.MaxSizeBytes,
		AllowedTypes: make(map[model.Category][]string, len(cfg.AllowedTypes)),
	}
	for name, types := range cfg.AllowedTypes {
		cat, ok := model.ParseCategory(name)
		if !ok {
			continue
		}
		for _, t := range types {
			if mt := normalizeMediaType(t); mt != "" {
				p.AllowedTypes[cat] = append(p.AllowedTypes[cat], mt)
			}
		}
	}
	return p
}

// Validate checks the declared category, then the content type against that category's
// allow-list, then the size. It returns the normalised category and media type.
func (p UploadPolicy) Validate(category, contentType string, size int64) (model.Category, string, error) {
	cat, ok := model.ParseCategory(category)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}

	mt := normalizeMediaType(contentType)
	if mt == "" || !p.allows(cat, mt) {
		return "", "", fmt.Errorf("%w: %q for %s", ErrUnsupportedContentType, contentType, cat)
	}

	if size <= 0 {
		return "", "", invalid("file is empty")
	}
	if p.MaxSizeBytes > 0 && size > p.MaxSizeBytes {
		return "", "", fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, size, p.MaxSizeBytes)
	}
	return cat, mt, nil
}

func (p UploadPolicy) allows(cat model.Category, mediaType string) bool {
	for _, t := range p.AllowedTypes[cat] {
		if t == mediaType {
			return true
		}
	}
	return false
}

// normalizeMediaType drops parameters and lowercases; "" when unparsable.
func normalizeMediaType(v string) string {
	mt, _, err := mime.ParseMediaType(strings.TrimSpace(v))
	if err != nil {
		return ""
	}
	return strings.ToLower(mt)
}
