// Package files stores work-order attachments on the local filesystem and renders
// thumbnails for images.
package files

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"workorders/internal/domain"
)

const (
	DefaultMaxBytes = 5 << 20
	thumbnailWidth  = 200
)

// Upload is a file received from a client.
type Upload struct {
	FileName    string
	ContentType string
	Body        io.Reader
}

// Stored describes a persisted upload. Key is relative to the store root.
type Stored struct {
	Key          string
	URL          string
	ThumbnailKey string
	ThumbnailURL string
	ContentType  string
	Size         int64
}

type Local struct {
	Dir           string
	PublicBaseURL string
	MaxBytes      int64
}

func (s Local) maxBytes() int64 {
	if s.MaxBytes > 0 {
		return s.MaxBytes
	}
	return DefaultMaxBytes
}

// Save writes the upload under <org>/<workOrder>/<uuid><ext>. Images also get a
// JPEG thumbnail next to it; a thumbnail failure does not fail the upload.
func (s Local) Save(ctx context.Context, orgID, workOrderID string, up Upload) (Stored, error) {
	limit := s.maxBytes()
	data, err := io.ReadAll(io.LimitReader(up.Body, limit+1))
	if err != nil {
		return Stored{}, err
	}
	if len(data) == 0 {
		return Stored{}, domain.ErrNoFile
	}
	if int64(len(data)) > limit {
		return Stored{}, fmt.Errorf("%w: file exceeds %d bytes", domain.ErrInvalidInput, limit)
	}
	contentType := normalizeContentType(up.ContentType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = normalizeContentType(http.DetectContentType(data))
	}
	ext := extensionFromContentType(contentType)
	if ext == "" {
		return Stored{}, fmt.Errorf("%w: unsupported content type %s", domain.ErrInvalidInput, contentType)
	}
	if err := ctx.Err(); err != nil {
		return Stored{}, err
	}

	key := path.Join(sanitizeSegment(orgID), sanitizeSegment(workOrderID), uuid.NewString()+ext)
	if err := s.write(key, data); err != nil {
		return Stored{}, err
	}
	out := Stored{Key: key, URL: s.url(key), ContentType: contentType, Size: int64(len(data))}
	if strings.HasPrefix(contentType, "image/") {
		if thumbKey, err := s.thumbnail(key, data); err == nil {
			out.ThumbnailKey = thumbKey
			out.ThumbnailURL = s.url(thumbKey)
		}
	}
	return out, nil
}

// Remove deletes a stored object and its thumbnail, ignoring missing files.
func (s Local) Remove(st Stored) error {
	for _, key := range []string{st.Key, st.ThumbnailKey} {
		if key == "" {
			continue
		}
		if err := os.Remove(filepath.Join(s.Dir, filepath.FromSlash(key))); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Handler serves stored objects under the public base path.
func (s Local) Handler() http.Handler {
	return http.FileServer(http.Dir(s.Dir))
}

func (s Local) write(key string, data []byte) error {
	full := filepath.Join(s.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}

func (s Local) thumbnail(key string, data []byte) (string, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	thumb := imaging.Resize(img, thumbnailWidth, 0, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG); err != nil {
		return "", err
	}
	base := strings.TrimSuffix(path.Base(key), path.Ext(key)) + ".jpg"
	thumbKey := path.Join(path.Dir(key), "thumbnails", base)
	if err := s.write(thumbKey, buf.Bytes()); err != nil {
		return "", err
	}
	return thumbKey, nil
}

func (s Local) url(key string) string {
	base := strings.TrimRight(s.PublicBaseURL, "/")
	if base == "" {
		base = "/files"
	}
	return base + "/" + key
}

func normalizeContentType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}

func sanitizeSegment(input string) string {
	var out strings.Builder
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			out.WriteRune(r)
		}
	}
	if out.Len() == 0 {
		return "_"
	}
	return out.String()
}

func extensionFromContentType(ct string) string {
	switch ct {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "application/pdf":
		return ".pdf"
	case "text/plain":
		return ".txt"
	case "application/msword":
		return ".doc"
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return ".docx"
	case "application/vnd.ms-excel":
		return ".xls"
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return ".xlsx"
	default:
		return ""
	}
}
