package storage

import (
	"context"
	"io"
	"path"
	"strings"
)

const ContentTypeJSON = "application/json"

// UploadResult описывает сохранённый объект. Location - публичный URL.
type UploadResult struct {
	Key      string
	Location string
	ETag     string
}

// FileUploader - объектное хранилище для экспортов истории.
type FileUploader interface {
	Upload(ctx context.Context, key string, contentType string, reader io.Reader) (*UploadResult, error)
	Delete(ctx context.Context, key string) error
	GetPublicURL(key string) string
}

// ObjectKey joins prefix and parts into a bucket key. Slashes and dot segments inside
// a part are replaced, so user-supplied ids cannot leave the prefix.
func ObjectKey(prefix string, parts ...string) string {
	segments := make([]string, 0, len(parts)+1)
	segments = append(segments, strings.Trim(prefix, "/"))
	for _, p := range parts {
		p = strings.ReplaceAll(p, "/", "_")
		if p == "" || p == "." || p == ".." {
			p = "_"
		}
		segments = append(segments, p)
	}
	return path.Join(segments...)
}
