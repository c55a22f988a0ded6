package objectstore

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/disintegration/imaging"
)

const (
	// MaxDimension bounds the longest edge of stored label photos.
	MaxDimension = 2048
	jpegQuality  = 85
)

var ErrUndecodableImage = errors.New("image could not be decoded")

// NormalizeImage decodes raw (JPEG, PNG, GIF, TIFF or BMP), applies the EXIF
// orientation, fits it within MaxDimension and re-encodes it as JPEG.
func NormalizeImage(raw []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodableImage, err)
	}

	b := img.Bounds()
	if b.Dx() > MaxDimension || b.Dy() > MaxDimension {
		img = imaging.Fit(img, MaxDimension, MaxDimension, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
