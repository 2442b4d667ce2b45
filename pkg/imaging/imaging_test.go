package imaging

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writeTestPNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "test.png")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func decode(t *testing.T, encoded string) image.Image {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	return img
}

func TestEncodeSmallImageUnchanged(t *testing.T) {
	path := writeTestPNG(t, 100, 50)
	encoded, err := EncodeBase64(path, 1536)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	img := decode(t, encoded)
	if img.Bounds().Dx() != 100 || img.Bounds().Dy() != 50 {
		t.Errorf("small image should not be resized, got %v", img.Bounds())
	}
}

func TestEncodeDownscalesShortEdge(t *testing.T) {
	path := writeTestPNG(t, 400, 200)
	encoded, err := EncodeBase64(path, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	img := decode(t, encoded)
	if img.Bounds().Dy() != 100 {
		t.Errorf("expected short edge 100, got %d", img.Bounds().Dy())
	}
	if img.Bounds().Dx() != 200 {
		t.Errorf("expected aspect preserved width 200, got %d", img.Bounds().Dx())
	}
}

func TestEncodeMissingFile(t *testing.T) {
	if _, err := EncodeBase64(filepath.Join(t.TempDir(), "absent.png"), 100); err == nil {
		t.Fatal("expected error for missing file")
	}
}
