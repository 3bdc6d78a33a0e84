// Package media prepares user-picked images for multipart upload: decode,
// bound the dimensions, and re-encode as JPEG the way the original client
// uploaded photos.
package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"
	"strings"

	"github.com/chai2010/webp"
	"golang.org/x/image/draw"
)

// MaxDimension is the long-edge bound applied before upload.
const MaxDimension = 1600

// jpegQuality matches the compression the original client used.
const jpegQuality = 80

// Upload is an image ready to be attached to a multipart request.
type Upload struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Prepare decodes a JPEG, PNG, or WebP image, downscales anything above
// MaxDimension on its long edge, and re-encodes it as JPEG. Non-image input is
// rejected.
func Prepare(name string, data []byte) (Upload, error) {
	img, err := decode(data)
	if err != nil {
		return Upload{}, err
	}

	img = bound(img, MaxDimension)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return Upload{}, fmt.Errorf("encode image: %w", err)
	}

	return Upload{
		FileName:    jpegName(name),
		ContentType: "image/jpeg",
		Data:        buf.Bytes(),
	}, nil
}

// PrepareAll prepares a batch, naming unnamed entries by index.
func PrepareAll(images [][]byte) ([]Upload, error) {
	uploads := make([]Upload, 0, len(images))
	for i, data := range images {
		up, err := Prepare(fmt.Sprintf("image%d.jpg", i), data)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		uploads = append(uploads, up)
	}
	return uploads, nil
}

func decode(data []byte) (image.Image, error) {
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return jpeg.Decode(bytes.NewReader(data))
	case "image/png":
		return png.Decode(bytes.NewReader(data))
	case "image/webp":
		return webp.Decode(bytes.NewReader(data))
	}
	return nil, fmt.Errorf("unsupported image format")
}

// bound scales img down so its long edge is at most maxDim, preserving aspect
// ratio. Images already within the bound pass through untouched.
func bound(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}

	var nw, nh int
	if w >= h {
		nw = maxDim
		nh = h * maxDim / w
	} else {
		nh = maxDim
		nw = w * maxDim / h
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func jpegName(name string) string {
	if name == "" {
		return "image.jpg"
	}
	if idx := strings.LastIndex(name, "."); idx > 0 {
		name = name[:idx]
	}
	return name + ".jpg"
}
