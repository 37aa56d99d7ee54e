package utils

import (
	"fmt"
	"math"
)

// MaxUploadBytes caps accepted file uploads at 10MB.
const MaxUploadBytes = 10 * 1024 * 1024

var allowedUploadTypes = map[string]bool{
	"image/jpeg":         true,
	"image/png":          true,
	"image/gif":          true,
	"application/pdf":    true,
	"text/plain":         true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	"text/csv":        true,
	"application/csv": true,
}

// ValidateUpload rejects files that are too large or of an unsupported type.
func ValidateUpload(size int64, mimeType string) error {
	if size > MaxUploadBytes {
		return fmt.Errorf("file size exceeds 10MB limit")
	}
	if !allowedUploadTypes[mimeType] {
		return fmt.Errorf("file type %q not supported", mimeType)
	}
	return nil
}

// FormatFileSize renders a byte count for display, e.g. "1.5 MB".
func FormatFileSize(bytes int64) string {
	if bytes == 0 {
		return "0 Bytes"
	}

	const unit = 1024
	sizes := []string{"Bytes", "KB", "MB", "GB"}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(unit)))
	if i >= len(sizes) {
		i = len(sizes) - 1
	}

	value := float64(bytes) / math.Pow(unit, float64(i))
	return fmt.Sprintf("%g %s", math.Round(value*100)/100, sizes[i])
}
