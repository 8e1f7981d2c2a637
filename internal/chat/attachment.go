package chat

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/lalith-99/chatline/internal/models"
)

// commonTypes covers what chat users actually send, so the answer does
// not depend on the host's mime.types files.
var commonTypes = map[string]string{
	".txt":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".wav":  "audio/wav",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
}

// MimeTypeFor guesses a MIME type from the filename extension. Returns ""
// when the extension is missing or unknown.
func MimeTypeFor(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" || ext == "." {
		return ""
	}
	if t, ok := commonTypes[ext]; ok {
		return t
	}
	t := mime.TypeByExtension(ext)
	if t == "" {
		return ""
	}
	// Drop parameters such as "; charset=utf-8".
	if mediaType, _, err := mime.ParseMediaType(t); err == nil {
		return mediaType
	}
	return t
}

// AttachmentCategory collapses a filename to a coarse category. It is
// total: unknown or missing extensions yield models.CategoryUnknown.
func AttachmentCategory(filename string) string {
	return CategoryForMime(MimeTypeFor(filename))
}

// CategoryForMime maps a MIME type to its coarse category.
func CategoryForMime(mimeType string) string {
	if mimeType == "" {
		return models.CategoryUnknown
	}
	major, _, _ := strings.Cut(mimeType, "/")
	switch major {
	case "image":
		return models.CategoryImage
	case "video":
		return models.CategoryVideo
	case "audio":
		return models.CategoryAudio
	case "text":
		return models.CategoryText
	}
	return models.CategoryFile
}

// AttachmentSizeLabel renders a size for display ("1.2 MB").
func AttachmentSizeLabel(size int64) string {
	if size < 0 {
		return "Unknown Size"
	}
	return humanize.Bytes(uint64(size))
}
