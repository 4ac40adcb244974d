package storage

import (
	"path/filepath"
	"strings"

	domain "github.com/bryanwahyu/xray-analyzer/internal/domain/uploads"
)

// contentType prefers what the client declared, then falls back to the extension.
func contentType(f domain.File) string {
	if f.ContentType != "" {
		return f.ContentType
	}
	switch strings.ToLower(filepath.Ext(f.Name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".dcm":
		return "application/dicom"
	}
	return "application/octet-stream"
}

func extension(f domain.File) string {
	return strings.ToLower(filepath.Ext(f.Name))
}
