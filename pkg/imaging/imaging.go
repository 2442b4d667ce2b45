// Package imaging prepares source images for job payloads: decode,
// downscale to a short-edge bound, and base64-encode.
package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"os"

	"golang.org/x/image/draw"

	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/webp"
)

// DefaultShortEdge matches the production resize bound.
const DefaultShortEdge = 1536

// EncodeBase64 loads the image at path, downscales it so its short edge
// is at most shortEdge (never upscaling), and returns the PNG bytes
// base64-encoded for embedding in a job payload.
func EncodeBase64(path string, shortEdge int) (string, error) {
	if shortEdge <= 0 {
		shortEdge = DefaultShortEdge
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open image %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return "", fmt.Errorf("decode image %s: %w", path, err)
	}

	img = resizeShortEdge(img, shortEdge)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode image %s: %w", path, err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// resizeShortEdge scales the image down so min(width, height) equals
// shortEdge, preserving aspect ratio. Images already within bounds are
// returned unchanged.
func resizeShortEdge(img image.Image, shortEdge int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	short := w
	if h < w {
		short = h
	}
	if short <= shortEdge {
		return img
	}

	scale := float64(shortEdge) / float64(short)
	dst := image.NewRGBA(image.Rect(0, 0, int(float64(w)*scale+0.5), int(float64(h)*scale+0.5)))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
