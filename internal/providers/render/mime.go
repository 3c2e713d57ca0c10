package render

import (
	"path/filepath"
	"strings"
)

const defaultContentType = "application/octet-stream"

var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".zip":  "application/zip",
}

// ContentTypeFor derives an upload content type from the file extension.
func ContentTypeFor(fileName string) string {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(fileName)))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	return defaultContentType
}

// resourceKind is the provider's coarse file category for an upload.
func resourceKind(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	case strings.HasPrefix(contentType, "video/"):
		return "video"
	case strings.HasPrefix(contentType, "audio/"):
		return "audio"
	default:
		return "input"
	}
}

// IsVideo reports whether an output kind names a video, either as the coarse
// "video" category or as a file extension such as "mp4".
func IsVideo(kind string) bool {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "video" {
		return true
	}
	return strings.HasPrefix(ContentTypeFor("output."+strings.TrimPrefix(kind, ".")), "video/")
}
