package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"job-lifecycle-service/internal/models"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 40, B: 40, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestLocalStorageRoundTrip(t *testing.T) {
	st := NewLocalStorage(t.TempDir(), "/media/")
	ctx := context.Background()

	url, err := st.Put(ctx, "../photos/chat-1/a.png", []byte("data"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "/media/photos/chat-1/a.png", url)

	got, err := st.Get(ctx, "photos/chat-1/a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), got)

	assert.Equal(t, url, st.URL("photos/chat-1/a.png"))

	_, err = st.Get(ctx, "photos/missing.png")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestSniff(t *testing.T) {
	ct, ext, err := Sniff(testPNG(t, 4, 4))
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)
	assert.Equal(t, "png", ext)

	_, _, err = Sniff([]byte("hello there, not an image"))
	assert.True(t, errors.Is(err, models.ErrInvalidInput))

	_, _, err = Sniff(nil)
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
}

func TestThumbnailScalesDown(t *testing.T) {
	out, ct, err := Thumbnail(testPNG(t, 640, 320), 160, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)

	img, _, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 160, img.Bounds().Dx())
	assert.Equal(t, 80, img.Bounds().Dy())
}

func TestThumbnailKeepsSmallImages(t *testing.T) {
	out, ct, err := Thumbnail(testPNG(t, 100, 50), 320, "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", ct)

	img, _, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
}

func TestThumbnailRejectsGarbage(t *testing.T) {
	_, _, err := Thumbnail([]byte("nope"), 100, "image/png")
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "photos/c1/t1.jpg", OriginalKey("c1", "t1", "jpg"))
	assert.Equal(t, "photos/c1/thumb_t1.png", ThumbnailKey("c1", "t1", "png"))
}
