package master

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/stat"

	"github.com/argos-vision/argos/internal/frame"
)

// ListRawImages returns the .npy files of a dataset's raw directory,
// sorted by name. Name order equals write order for a single camera
// because stored names embed the capture timestamp.
func ListRawImages(rawDir string) ([]string, error) {
	entries, err := os.ReadDir(rawDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read raw directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".npy") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	return files, nil
}

// RenderRawImage decodes one stored frame file into a browser-viewable
// image. Color arrays become PNG; depth arrays are percentile-normalized,
// colormapped, and encoded as JPEG.
func RenderRawImage(rawDir, file string) (contentType string, data []byte, err error) {
	if file != filepath.Base(file) || !strings.HasSuffix(file, ".npy") {
		return "", nil, fmt.Errorf("invalid image file name %q", file)
	}

	f, err := os.Open(filepath.Join(rawDir, file))
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	dtype, shape, raw, err := frame.ReadNPY(f)
	if err != nil {
		return "", nil, fmt.Errorf("failed to parse %s: %w", file, err)
	}

	switch {
	case dtype == frame.DTypeUint8 && len(shape) == 3:
		return renderColor(shape, raw)
	case dtype == frame.DTypeUint8 && len(shape) == 2:
		return renderGray(shape, raw)
	case dtype == frame.DTypeUint16LE && len(shape) == 2:
		return renderDepth(shape, raw)
	default:
		return "", nil, fmt.Errorf("no image rendering for dtype %s shape %v", dtype, shape)
	}
}

func renderColor(shape []int, raw []byte) (string, []byte, error) {
	h, w, c := shape[0], shape[1], shape[2]
	if c != 3 && c != 4 {
		return "", nil, fmt.Errorf("unsupported channel count %d", c)
	}

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * c
			px := color.NRGBA{R: raw[i], G: raw[i+1], B: raw[i+2], A: 255}
			if c == 4 {
				px.A = raw[i+3]
			}
			img.SetNRGBA(x, y, px)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return "image/png", buf.Bytes(), nil
}

func renderGray(shape []int, raw []byte) (string, []byte, error) {
	h, w := shape[0], shape[1]
	img := &image.Gray{Pix: raw, Stride: w, Rect: image.Rect(0, 0, w, h)}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return "image/png", buf.Bytes(), nil
}

// depthGradient is the colormap applied to normalized depth, near to far.
var depthGradient = []struct {
	pos float64
	col colorful.Color
}{
	{0.0, colorful.Color{R: 0.07, G: 0.04, B: 0.28}},
	{0.35, colorful.Color{R: 0.05, G: 0.42, B: 0.72}},
	{0.65, colorful.Color{R: 0.10, G: 0.80, B: 0.55}},
	{0.85, colorful.Color{R: 0.95, G: 0.85, B: 0.15}},
	{1.0, colorful.Color{R: 0.90, G: 0.12, B: 0.08}},
}

func gradientAt(t float64) colorful.Color {
	for i := 0; i < len(depthGradient)-1; i++ {
		lo, hi := depthGradient[i], depthGradient[i+1]
		if t >= lo.pos && t <= hi.pos {
			span := hi.pos - lo.pos
			return lo.col.BlendLuv(hi.col, (t-lo.pos)/span).Clamped()
		}
	}
	return depthGradient[len(depthGradient)-1].col
}

// renderDepth maps 16-bit depth onto the gradient. The scale is clamped to
// the 2nd..98th percentile of the nonzero pixels so a single outlier does
// not flatten the image; zero depth means no return and renders black.
func renderDepth(shape []int, raw []byte) (string, []byte, error) {
	h, w := shape[0], shape[1]
	values := make([]uint16, h*w)
	for i := range values {
		values[i] = binary.LittleEndian.Uint16(raw[i*2:])
	}

	valid := make([]float64, 0, len(values))
	for _, v := range values {
		if v != 0 {
			valid = append(valid, float64(v))
		}
	}

	lo, hi := 0.0, 1.0
	if len(valid) > 0 {
		sort.Float64s(valid)
		lo = stat.Quantile(0.02, stat.Empirical, valid, nil)
		hi = stat.Quantile(0.98, stat.Empirical, valid, nil)
		if hi <= lo {
			hi = lo + 1
		}
	}

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := values[y*w+x]
			if v == 0 {
				img.SetNRGBA(x, y, color.NRGBA{A: 255})
				continue
			}
			t := (float64(v) - lo) / (hi - lo)
			if t < 0 {
				t = 0
			}
			if t > 1 {
				t = 1
			}
			c := gradientAt(t)
			r8, g8, b8 := c.RGB255()
			img.SetNRGBA(x, y, color.NRGBA{R: r8, G: g8, B: b8, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return "", nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return "image/jpeg", buf.Bytes(), nil
}
