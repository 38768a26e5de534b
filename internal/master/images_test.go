package master

import (
	"bytes"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/argos-vision/argos/internal/frame"
)

func writeNPYFile(t *testing.T, dir, name, dtype string, shape []int, data []byte) {
	t.Helper()

	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("Failed to create %s: %v", name, err)
	}
	defer f.Close()
	if err := frame.WriteNPY(f, dtype, shape, data); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
}

func TestListRawImages_SortedNpyOnly(t *testing.T) {
	dir := t.TempDir()

	writeNPYFile(t, dir, "b.npy", frame.DTypeUint8, []int{1, 1}, []byte{0})
	writeNPYFile(t, dir, "a.npy", frame.DTypeUint8, []int{1, 1}, []byte{0})
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	files, err := ListRawImages(dir)
	if err != nil {
		t.Fatalf("ListRawImages failed: %v", err)
	}
	if len(files) != 2 || files[0] != "a.npy" || files[1] != "b.npy" {
		t.Errorf("ListRawImages = %v", files)
	}
}

func TestRenderRawImage_ColorToPNG(t *testing.T) {
	dir := t.TempDir()

	// 2x2 RGB: red, green / blue, white.
	data := []byte{
		255, 0, 0, 0, 255, 0,
		0, 0, 255, 255, 255, 255,
	}
	writeNPYFile(t, dir, "c.npy", frame.DTypeUint8, []int{2, 2, 3}, data)

	contentType, out, err := RenderRawImage(dir, "c.npy")
	if err != nil {
		t.Fatalf("RenderRawImage failed: %v", err)
	}
	if contentType != "image/png" {
		t.Errorf("Content type = %s, want image/png", contentType)
	}

	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("Output is not valid PNG: %v", err)
	}
	if img.Bounds().Dx() != 2 || img.Bounds().Dy() != 2 {
		t.Errorf("Decoded bounds = %v", img.Bounds())
	}
	r, g, b, _ := img.At(0, 0).RGBA()
	if r>>8 != 255 || g>>8 != 0 || b>>8 != 0 {
		t.Errorf("Pixel (0,0) = %d,%d,%d, want red", r>>8, g>>8, b>>8)
	}
}

func TestRenderRawImage_DepthToJPEG(t *testing.T) {
	dir := t.TempDir()

	// 2x2 z16, little endian, with one no-return pixel.
	data := []byte{
		0x00, 0x00, 0xE8, 0x03,
		0xD0, 0x07, 0xB8, 0x0B,
	}
	writeNPYFile(t, dir, "d.npy", frame.DTypeUint16LE, []int{2, 2}, data)

	contentType, out, err := RenderRawImage(dir, "d.npy")
	if err != nil {
		t.Fatalf("RenderRawImage failed: %v", err)
	}
	if contentType != "image/jpeg" {
		t.Errorf("Content type = %s, want image/jpeg", contentType)
	}

	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("Output is not valid JPEG: %v", err)
	}
	if img.Bounds().Dx() != 2 || img.Bounds().Dy() != 2 {
		t.Errorf("Decoded bounds = %v", img.Bounds())
	}
}

func TestRenderRawImage_GrayToPNG(t *testing.T) {
	dir := t.TempDir()

	writeNPYFile(t, dir, "g.npy", frame.DTypeUint8, []int{2, 3}, []byte{0, 64, 128, 160, 192, 255})

	contentType, out, err := RenderRawImage(dir, "g.npy")
	if err != nil {
		t.Fatalf("RenderRawImage failed: %v", err)
	}
	if contentType != "image/png" {
		t.Errorf("Content type = %s, want image/png", contentType)
	}
	if _, err := png.Decode(bytes.NewReader(out)); err != nil {
		t.Fatalf("Output is not valid PNG: %v", err)
	}
}

func TestRenderRawImage_RejectsBadNames(t *testing.T) {
	dir := t.TempDir()

	if _, _, err := RenderRawImage(dir, "../escape.npy"); err == nil {
		t.Error("Path traversal must be rejected")
	}
	if _, _, err := RenderRawImage(dir, "plain.txt"); err == nil {
		t.Error("Non-npy files must be rejected")
	}
	if _, _, err := RenderRawImage(dir, "missing.npy"); !os.IsNotExist(err) {
		t.Errorf("Missing file: got %v, want not-exist", err)
	}
}
