package media

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"

	"job-lifecycle-service/internal/models"
)

// Photo formats accepted for upload.
var allowedTypes = map[string]imaging.Format{
	"image/jpeg": imaging.JPEG,
	"image/png":  imaging.PNG,
	"image/gif":  imaging.GIF,
}

// Sniff detects the content type of an uploaded photo and rejects anything that is not an image.
func Sniff(data []byte) (contentType string, ext string, err error) {
	if len(data) == 0 {
		return "", "", models.Invalid("photo is empty")
	}
	ct := http.DetectContentType(data)
	format, ok := allowedTypes[ct]
	if !ok {
		return "", "", models.Invalid("unsupported photo type %s", ct)
	}
	return ct, formatExtension(format), nil
}

// Thumbnail decodes data, honours EXIF orientation and scales it to width keeping the aspect ratio.
func Thumbnail(data []byte, width int, contentType string) ([]byte, string, error) {
	if width <= 0 {
		width = 320
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", models.Invalid("decode image: %v", err)
	}
	if img.Bounds().Dx() > width {
		img = imaging.Resize(img, width, 0, imaging.Lanczos)
	}

	format := chooseFormat(contentType)
	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, img, format, imaging.JPEGQuality(85)); err != nil {
		return nil, "", fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), mimeForFormat(format), nil
}

// ExtensionFor returns the file extension used for a content type.
func ExtensionFor(contentType string) string {
	return formatExtension(chooseFormat(contentType))
}

func chooseFormat(contentType string) imaging.Format {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "png"):
		return imaging.PNG
	case strings.Contains(ct, "gif"):
		return imaging.GIF
	}
	return imaging.JPEG
}

func formatExtension(format imaging.Format) string {
	switch format {
	case imaging.PNG:
		return "png"
	case imaging.GIF:
		return "gif"
	default:
		return "jpg"
	}
}

func mimeForFormat(format imaging.Format) string {
	switch format {
	case imaging.PNG:
		return "image/png"
	case imaging.GIF:
		return "image/gif"
	default:
		return "image/jpeg"
	}
}
