package conversation

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"strings"

	"github.com/nfnt/resize"
)

const defaultPreviewSize = 256

// isImageType reports whether a declared content type is an image type.
func isImageType(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = contentType
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mt)), "image/")
}

// decodePreview turns raw image bytes into a displayable thumbnail no larger
// than max on either side. It returns the original dimensions as well; a nil
// image means the bytes could not be decoded.
func decodePreview(data []byte, max uint) (image.Image, int, int) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if max > 0 && (uint(w) > max || uint(h) > max) {
		img = resize.Thumbnail(max, max, img, resize.Lanczos3)
	}
	return img, w, h
}
