package files

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"workorders/internal/domain"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 400, 300))
	for x := 0; x < 400; x++ {
		img.Set(x, x%300, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestSaveImageWritesThumbnail(t *testing.T) {
	s := Local{Dir: t.TempDir(), PublicBaseURL: "http://cdn.local/files/"}
	st, err := s.Save(context.Background(), "o1", "w1", Upload{FileName: "a.png", Body: bytes.NewReader(pngBytes(t))})
	require.NoError(t, err)
	require.Equal(t, "image/png", st.ContentType)
	require.True(t, strings.HasPrefix(st.Key, "o1/w1/"))
	require.True(t, strings.HasSuffix(st.Key, ".png"))
	require.Equal(t, "http://cdn.local/files/"+st.Key, st.URL)
	require.NotEmpty(t, st.ThumbnailKey)
	require.FileExists(t, filepath.Join(s.Dir, st.ThumbnailKey))

	require.NoError(t, s.Remove(st))
	_, err = os.Stat(filepath.Join(s.Dir, st.Key))
	require.True(t, os.IsNotExist(err))
}

func TestSaveRejectsOversizedAndEmpty(t *testing.T) {
	s := Local{Dir: t.TempDir(), MaxBytes: 10}
	_, err := s.Save(context.Background(), "o1", "w1", Upload{ContentType: "text/plain", Body: strings.NewReader("01234567890")})
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = s.Save(context.Background(), "o1", "w1", Upload{ContentType: "text/plain", Body: strings.NewReader("")})
	require.ErrorIs(t, err, domain.ErrNoFile)
}

func TestSaveRejectsUnknownType(t *testing.T) {
	s := Local{Dir: t.TempDir()}
	_, err := s.Save(context.Background(), "o1", "w1", Upload{ContentType: "application/x-msdownload", Body: strings.NewReader("MZ")})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSavePlainTextHasNoThumbnail(t *testing.T) {
	s := Local{Dir: t.TempDir()}
	st, err := s.Save(context.Background(), "o1", "w1", Upload{ContentType: "text/plain; charset=utf-8", Body: strings.NewReader("notes")})
	require.NoError(t, err)
	require.Empty(t, st.ThumbnailKey)
	require.Equal(t, int64(5), st.Size)
	require.True(t, strings.HasPrefix(st.URL, "/files/o1/w1/"))
}
